package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/medconsult/pkg/consult/toolset"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "medconsult.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Consult.MaxQuestions)
	assert.Equal(t, 3, cfg.Consult.DecisionAttempts)
	assert.True(t, cfg.Consult.SessionLocking)

	assert.Equal(t, 60*time.Second, cfg.Models.Questioner.Timeout)
	assert.Equal(t, 2, cfg.Models.Questioner.MaxRetries)
	assert.Equal(t, "amazon/nova-2-lite-v1:free", cfg.Models.Fallback.Model)
	require.NotNil(t, cfg.Models.Medical.Temperature)
	assert.InDelta(t, 0.9, *cfg.Models.Medical.Temperature, 1e-9)
	assert.Equal(t, cfg.Models.Questioner, cfg.Models.SummarizerConfig())

	assert.Equal(t, 10, cfg.Tools.MaxSteps)
	assert.Equal(t, 3, cfg.Tools.MaxRetries)
	assert.Equal(t, time.Second, cfg.Tools.InitialDelay)
	assert.InDelta(t, 2.0, cfg.Tools.BackoffFactor, 1e-9)

	assert.Equal(t, StoreSQLite, cfg.Store.Driver)
	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr())
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Tracing.Enabled)
	assert.InDelta(t, 1.0, cfg.Tracing.SampleRatio, 1e-9)
}

func TestLoad_FromFile(t *testing.T) {
	path := writeConfig(t, `
models:
  questioner:
    model: local-questioner
    base_url: http://localhost:9000/v1
  summarizer:
    model: local-summarizer
consult:
  max_questions: 5
tools:
  max_retries: 1
  initial_delay: 250ms
  mcp_servers:
    - name: medical_query
      transport: stdio
      command: node
      args: ["build/index.js"]
    - name: guidelines
      transport: http
      url: http://localhost:7000/mcp
store:
  driver: memory
log:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "local-questioner", cfg.Models.Questioner.Model)
	assert.Equal(t, 60*time.Second, cfg.Models.Questioner.Timeout, "unset keys keep defaults")
	assert.Equal(t, "local-summarizer", cfg.Models.SummarizerConfig().Model)
	assert.Equal(t, 5, cfg.Consult.MaxQuestions)
	assert.Equal(t, 250*time.Millisecond, cfg.Tools.InitialDelay)
	assert.Equal(t, []toolset.ServerConfig{
		{Name: "medical_query", Transport: toolset.TransportStdio, Command: "node", Args: []string{"build/index.js"}},
		{Name: "guidelines", Transport: toolset.TransportHTTP, URL: "http://localhost:7000/mcp"},
	}, cfg.Tools.MCPServers)
	assert.Equal(t, StoreMemory, cfg.Store.Driver)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("MEDCONSULT_CONSULT_MAX_QUESTIONS", "4")
	t.Setenv("MEDCONSULT_MODELS_QUESTIONER_API_KEY", "sk-test")
	t.Setenv("MEDCONSULT_SERVER_PORT", "9090")

	path := writeConfig(t, "consult:\n  max_questions: 7\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Consult.MaxQuestions, "environment wins over the file")
	assert.Equal(t, "sk-test", cfg.Models.Questioner.APIKey)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Consult.MaxQuestions)
}

func TestLoad_ParseError(t *testing.T) {
	path := writeConfig(t, "consult: [unclosed\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_InvalidValues(t *testing.T) {
	path := writeConfig(t, `
consult:
  max_questions: 0
tools:
  backoff_factor: 0.5
  mcp_servers:
    - name: broken
      transport: http
store:
  driver: redis
tracing:
  enabled: true
`)
	_, err := Load(path)
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "consult.max_questions")
	assert.Contains(t, msg, "tools.backoff_factor")
	assert.Contains(t, msg, "tools.mcp_servers[0]")
	assert.Contains(t, msg, "store.driver")
	assert.Contains(t, msg, "tracing: endpoint is required")
}

func TestValidate_EmptyModel(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Models.Medical.Model = ""
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "models.medical")
}
