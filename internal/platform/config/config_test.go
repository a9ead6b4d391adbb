package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsFromEnv(t *testing.T) {
	t.Setenv("JWT_SIGNING_KEY", "test-key")
	t.Setenv("AUDIT_SINK", "memory")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 4, cfg.Audit.Workers)
	assert.Equal(t, 100, cfg.Audit.QueueSize)
	assert.Equal(t, 5*time.Second, cfg.Workflow.BackendTimeout)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
}

func TestLoad_YAMLWithEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9090"
audit:
  sink: sqlite
  workers: 2
workflow:
  backend_timeout: 2s
`), 0o600))
	t.Setenv("JWT_SIGNING_KEY", "test-key")
	t.Setenv("AUDIT_WORKERS", "3")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, SinkSQLite, cfg.Audit.Sink)
	assert.Equal(t, 3, cfg.Audit.Workers)
	assert.Equal(t, 2*time.Second, cfg.Workflow.BackendTimeout)
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		Audit:    AuditConfig{Sink: SinkPostgres, Workers: 40, QueueSize: 0},
		Workflow: WorkflowConfig{BackendTimeout: time.Second},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SIGNING_KEY")
	assert.Contains(t, err.Error(), "DATABASE_URL")
	assert.Contains(t, err.Error(), "AUDIT_WORKERS")
	assert.Contains(t, err.Error(), "AUDIT_QUEUE_SIZE")
}
