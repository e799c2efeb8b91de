package auth

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetAPIKey_Env(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "  test-api-key-12345\n")

	key, source, err := GetAPIKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test-api-key-12345", key)
	assert.Equal(t, "env", source)
}

func TestGetAPIKey_NoSource(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("HOME", t.TempDir())

	_, _, err := GetAPIKey(context.Background())
	assert.ErrorIs(t, err, ErrNoKey)
}

func TestCredentialPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	path, err := credentialPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".photo-editor", "credentials.gpg"), path)
}

func TestFindPassphraseFile_SkipsInsecurePermissions(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	p := filepath.Join(dir, passphraseFile)

	require.NoError(t, os.WriteFile(p, []byte("pw"), 0644))
	assert.NotEqual(t, p, findPassphraseFile())

	require.NoError(t, os.Chmod(p, 0600))
	assert.Equal(t, p, findPassphraseFile())
}
