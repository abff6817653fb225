package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func setBaseEnv(t *testing.T) {
	t.Setenv("FILESTORE_JWT_SECRET", testSecret)
	t.Setenv("FILESTORE_LOCAL_BASE_DIR", t.TempDir())
}

func TestLoadConfigDefaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "local", cfg.Backend)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 120, cfg.RateLimitPerMin)
}

func TestLoadConfigRequiresJWTSecret(t *testing.T) {
	t.Setenv("FILESTORE_LOCAL_BASE_DIR", t.TempDir())
	t.Setenv("FILESTORE_JWT_SECRET", "")

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestLoadConfigRejectsShortJWTSecret(t *testing.T) {
	t.Setenv("FILESTORE_LOCAL_BASE_DIR", t.TempDir())
	t.Setenv("FILESTORE_JWT_SECRET", "too-short")

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestLoadConfigRemoteRequiresCredentials(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("FILESTORE_BACKEND", "remote")
	t.Setenv("FILESTORE_REMOTE_ENDPOINT", "https://api.example.com")
	t.Setenv("FILESTORE_REMOTE_BUCKET", "bucket")

	_, err := LoadConfig()
	require.Error(t, err)

	t.Setenv("FILESTORE_REMOTE_KEY_ID", "key-id")
	t.Setenv("FILESTORE_REMOTE_KEY", "key-secret")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "remote", cfg.Backend)
	assert.Equal(t, "bucket", cfg.RemoteBucket)
}

func TestLoadConfigUnknownBackend(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("FILESTORE_BACKEND", "tape")

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestLoadConfigSecretFromFile(t *testing.T) {
	t.Setenv("FILESTORE_LOCAL_BASE_DIR", t.TempDir())

	secretFile := filepath.Join(t.TempDir(), "jwt-secret")
	require.NoError(t, os.WriteFile(secretFile, []byte(testSecret+"\n"), 0o600))
	t.Setenv("FILESTORE_JWT_SECRET_FILE", secretFile)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, testSecret, cfg.JWTSecret)
}

func TestReadSecretFromFileRejectsEmpty(t *testing.T) {
	empty := filepath.Join(t.TempDir(), "empty")
	require.NoError(t, os.WriteFile(empty, []byte("  \n"), 0o600))

	_, err := readSecretFromFile(empty)
	assert.Error(t, err)
}
