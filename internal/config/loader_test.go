package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

// noDotenv points EnvFile at an empty file so a stray ./.env cannot leak in.
func noDotenv(t *testing.T) string {
	return writeFile(t, ".env", "")
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(Options{EnvFile: noDotenv(t)})
	require.NoError(t, err)

	assert.Equal(t, 8787, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Session.Store)
	assert.Equal(t, 10, cfg.Session.MaxHistory)
	assert.Equal(t, "chromem", cfg.VectorStore.Provider)
	assert.True(t, cfg.VectorStore.ChromemCompress)
	assert.Equal(t, 384, cfg.VectorStore.VectorSize)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout.Duration())
}

func TestLoad_YAMLFile(t *testing.T) {
	path := writeFile(t, "config.yaml", `
server:
  port: 9000
session:
  store: sqlite
  dsn: /tmp/sessions.db
  max_history: 4
  ttl: 2h
vectorstore:
  provider: qdrant
  qdrant_host: qdrant.internal
  chromem_compress: false
generation:
  provider: anthropic
  api_key: sk-test
`)

	cfg, err := Load(Options{File: path, EnvFile: noDotenv(t)})
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Session.Store)
	assert.Equal(t, "/tmp/sessions.db", cfg.Session.DSN.Value())
	assert.Equal(t, 4, cfg.Session.MaxHistory)
	assert.Equal(t, 2*time.Hour, cfg.Session.TTL.Duration())
	assert.Equal(t, "qdrant", cfg.VectorStore.Provider)
	assert.Equal(t, "qdrant.internal", cfg.VectorStore.QdrantHost)
	assert.False(t, cfg.VectorStore.ChromemCompress)
	assert.Equal(t, 6334, cfg.VectorStore.QdrantPort, "unset keys keep defaults")
	assert.Equal(t, "sk-test", cfg.Generation.APIKey.Value())
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "config.yaml", "server:\n  port: 9000\n")
	t.Setenv("LOREMASTER_SERVER_PORT", "9100")
	t.Setenv("LOREMASTER_SESSION_MAX_HISTORY", "3")
	t.Setenv("LOREMASTER_VECTORSTORE_QDRANT_HOST", "remote")

	cfg, err := Load(Options{File: path, EnvFile: noDotenv(t)})
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Session.MaxHistory)
	assert.Equal(t, "remote", cfg.VectorStore.QdrantHost)
}

func TestLoad_DotenvDoesNotOverrideEnvironment(t *testing.T) {
	envFile := writeFile(t, ".env", "LOREMASTER_SERVER_PORT=1111\nLOREMASTER_GENERATION_MODEL=from-dotenv\n")
	t.Setenv("LOREMASTER_SERVER_PORT", "9200")
	t.Cleanup(func() { os.Unsetenv("LOREMASTER_GENERATION_MODEL") })

	cfg, err := Load(Options{EnvFile: envFile})
	require.NoError(t, err)

	assert.Equal(t, 9200, cfg.Server.Port)
	assert.Equal(t, "from-dotenv", cfg.Generation.Model)
}

func TestLoad_MissingFiles(t *testing.T) {
	_, err := Load(Options{File: filepath.Join(t.TempDir(), "absent.yaml"), EnvFile: noDotenv(t)})
	assert.Error(t, err)

	_, err = Load(Options{EnvFile: filepath.Join(t.TempDir(), "absent.env")})
	assert.Error(t, err)
}

func TestLoad_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown session store", map[string]string{"LOREMASTER_SESSION_STORE": "etcd"}},
		{"sqlite without dsn", map[string]string{"LOREMASTER_SESSION_STORE": "sqlite"}},
		{"unknown vector provider", map[string]string{"LOREMASTER_VECTORSTORE_PROVIDER": "faiss"}},
		{"gemini without key", map[string]string{"LOREMASTER_GENERATION_PROVIDER": "gemini"}},
		{"zero history", map[string]string{"LOREMASTER_SESSION_MAX_HISTORY": "0"}},
		{"bad log format", map[string]string{"LOREMASTER_LOGGING_FORMAT": "xml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(Options{EnvFile: noDotenv(t)})
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "server.port", envKey("LOREMASTER_SERVER_PORT"))
	assert.Equal(t, "session.max_history", envKey("LOREMASTER_SESSION_MAX_HISTORY"))
	assert.Equal(t, "debug", envKey("LOREMASTER_DEBUG"))
}

func TestSecret_Redaction(t *testing.T) {
	s := Secret("hunter2")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.Equal(t, "Secret([REDACTED])", fmt.Sprintf("%#v", s))
	assert.Equal(t, "hunter2", s.Value())

	data, err := json.Marshal(struct{ Key Secret }{s})
	require.NoError(t, err)
	assert.JSONEq(t, `{"Key":"[REDACTED]"}`, string(data))

	assert.Equal(t, "", Secret("").String())
	assert.False(t, Secret("").IsSet())
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-1s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}
