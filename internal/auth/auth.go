// Package auth locates the Gemini API key for local runs (CLI and the API
// outside Lambda). Lambda functions read the key from SSM instead.
package auth

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

const (
	credentialDir  = ".photo-editor"
	credentialFile = "credentials.gpg"
	passphraseFile = ".gpg-passphrase"
)

// ErrNoKey is returned when no key source is configured.
var ErrNoKey = errors.New("gemini API key not found: set GEMINI_API_KEY or store it in ~/" + credentialDir + "/" + credentialFile)

// GetAPIKey returns the Gemini API key from, in order, the GEMINI_API_KEY
// environment variable and the GPG-encrypted credentials file.
func GetAPIKey(ctx context.Context) (key, source string, err error) {
	if key := strings.TrimSpace(os.Getenv("GEMINI_API_KEY")); key != "" {
		return key, "env", nil
	}
	credPath, err := credentialPath()
	if err != nil {
		return "", "", err
	}
	key, err = decryptGPG(ctx, credPath)
	if errors.Is(err, fs.ErrNotExist) {
		return "", "", ErrNoKey
	}
	if err != nil {
		return "", "", err
	}
	log.Debug().Str("file", credPath).Msg("Using API key from GPG encrypted file")
	return key, credPath, nil
}

// decryptGPG runs gpg on path. A passphrase file with owner-only
// permissions, next to the executable or in the working directory, enables
// non-interactive decryption.
func decryptGPG(ctx context.Context, path string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", err
	}

	args := []string{"--decrypt", "--quiet"}
	if pp := findPassphraseFile(); pp != "" {
		args = append(args, "--pinentry-mode", "loopback", "--passphrase-file", pp)
	}
	args = append(args, path)

	out, err := exec.CommandContext(ctx, "gpg", args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("gpg decryption failed: %s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("gpg decryption failed: %w", err)
	}
	key := strings.TrimSpace(string(out))
	if key == "" {
		return "", fmt.Errorf("%s decrypted to an empty key", path)
	}
	return key, nil
}

func credentialPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, credentialDir, credentialFile), nil
}

func findPassphraseFile() string {
	var dirs []string
	if exe, err := os.Executable(); err == nil {
		dirs = append(dirs, filepath.Dir(exe))
	}
	if cwd, err := os.Getwd(); err == nil {
		dirs = append(dirs, cwd)
	}
	for _, dir := range dirs {
		p := filepath.Join(dir, passphraseFile)
		fi, err := os.Stat(p)
		if err != nil {
			continue
		}
		if fi.Mode().Perm()&0077 != 0 {
			log.Warn().Str("passphrase_file", p).Str("permissions", fmt.Sprintf("%04o", fi.Mode().Perm())).
				Msg("Passphrase file has insecure permissions (should be 0600); skipping")
			continue
		}
		return p
	}
	return ""
}
