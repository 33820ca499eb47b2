package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"golang.org/x/term"

	"github.com/jamesainslie/nefaxer/pkg/nefax/config"
	"github.com/jamesainslie/nefaxer/pkg/nefax/logging"
)

// passphraseProvider resolves the store passphrase on demand:
// NEFAXER_DB_KEY from the environment, then a .env file in the root,
// then an interactive no-echo prompt. isNew changes the prompt wording
// when a fresh encrypted snapshot is being created.
func passphraseProvider(root string, isNew bool) config.KeyProvider {
	return func() (string, error) {
		logger := logging.Get("cli")

		if key := strings.TrimSpace(os.Getenv(config.EnvKeyVar)); key != "" {
			logger.Info("passphrase found in environment")
			return key, nil
		}

		envPath := filepath.Join(root, ".env")
		if vals, err := godotenv.Read(envPath); err == nil {
			if key := strings.TrimSpace(vals[config.EnvKeyVar]); key != "" {
				logger.Info("passphrase found in .env", "path", envPath)
				return key, nil
			}
		}

		return promptPassphrase(isNew)
	}
}

// promptPassphrase reads the passphrase from the terminal without echo.
func promptPassphrase(isNew bool) (string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", errors.New("no passphrase in environment and stdin is not a terminal")
	}

	prompt := "Enter passphrase: "
	if isNew {
		prompt = "Create new passphrase: "
	}
	fmt.Fprintf(os.Stderr, "[nefaxer] %s", prompt)

	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	if isNew {
		logging.Get("cli").Warn("lost passphrase = lost access")
	}
	return strings.TrimSpace(string(raw)), nil
}
