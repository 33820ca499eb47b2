package config

// Default file names and thresholds shared by the pipeline and CLI.
const (
	// DBName is the default store file name inside the root.
	DBName = ".nefaxer"

	// ResultsFilename receives the diff path list when it is too long
	// for stdout.
	ResultsFilename = "nefaxer.results"

	// ListThreshold is the largest diff listed on stdout; anything
	// bigger goes to ResultsFilename.
	ListThreshold = 100

	// EnvKeyVar is the environment variable holding the store
	// passphrase.
	EnvKeyVar = "NEFAXER_DB_KEY"
)

// osJunkNames are OS metadata files always excluded from the walk.
var osJunkNames = []string{
	".DS_Store", ".AppleDouble", ".LSOverride",
	"Thumbs.db", "ehthumbs.db", "Desktop.ini", "$RECYCLE.BIN",
	".directory",
}

// IsOSJunk reports whether name is an OS metadata file that should
// never be indexed. macOS resource forks (._*) are included.
func IsOSJunk(name string) bool {
	for _, junk := range osJunkNames {
		if name == junk {
			return true
		}
	}
	return len(name) > 2 && name[0] == '.' && name[1] == '_'
}

// DefaultExcludes are names excluded in addition to user patterns: the
// tool's own artifacts.
func DefaultExcludes() []string {
	return []string{ResultsFilename}
}
