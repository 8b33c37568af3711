package actorcell_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gokit/actorcell"
	"github.com/stretchr/testify/assert"
)

func TestDefaultDispatcherConfig(t *testing.T) {
	config := actorcell.DefaultDispatcherConfig()
	assert.NoError(t, config.Validate())
	assert.Equal(t, actorcell.DefaultDispatcherID, config.ID)
	assert.Equal(t, -1, config.MailboxCapacity)
}

func TestDispatcherConfigValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*actorcell.DispatcherConfig)
	}{
		{"empty id", func(c *actorcell.DispatcherConfig) { c.ID = "" }},
		{"zero throughput", func(c *actorcell.DispatcherConfig) { c.Throughput = 0 }},
		{"negative deadline", func(c *actorcell.DispatcherConfig) { c.ThroughputDeadline = -time.Second }},
		{"zero shutdown timeout", func(c *actorcell.DispatcherConfig) { c.ShutdownTimeout = 0 }},
		{"zero capacity", func(c *actorcell.DispatcherConfig) { c.MailboxCapacity = 0 }},
		{"capacity below -1", func(c *actorcell.DispatcherConfig) { c.MailboxCapacity = -2 }},
		{"unknown executor", func(c *actorcell.DispatcherConfig) { c.Executor = "fibers" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			config := actorcell.DefaultDispatcherConfig()
			tc.mutate(&config)
			assert.Error(t, config.Validate())
		})
	}
}

func TestDispatcherConfigPoolSizeDefaulted(t *testing.T) {
	config := actorcell.DefaultDispatcherConfig()
	config.PoolSize = 0
	assert.NoError(t, config.Validate())
	assert.True(t, config.PoolSize > 0)
}

func TestParseDispatcherConfigJSON(t *testing.T) {
	raw := []byte(`{"id": "fast", "throughput": 50, "shutdown-timeout": "2s", "executor": "goroutine"}`)

	config, err := actorcell.ParseDispatcherConfig(raw, "json")
	assert.NoError(t, err)
	assert.Equal(t, "fast", config.ID)
	assert.Equal(t, 50, config.Throughput)
	assert.Equal(t, 2*time.Second, config.ShutdownTimeout)
	assert.Equal(t, actorcell.ExecutorGoroutine, config.Executor)

	// absent fields keep their defaults.
	assert.Equal(t, -1, config.MailboxCapacity)
}

func TestParseDispatcherConfigYAML(t *testing.T) {
	raw := []byte("id: slow\nthroughput: 5\nmailbox-capacity: 1000\n")

	config, err := actorcell.ParseDispatcherConfig(raw, "yaml")
	assert.NoError(t, err)
	assert.Equal(t, "slow", config.ID)
	assert.Equal(t, 5, config.Throughput)
	assert.Equal(t, 1000, config.MailboxCapacity)
}

func TestParseDispatcherConfigRejectsInvalid(t *testing.T) {
	_, err := actorcell.ParseDispatcherConfig([]byte(`{"id": ""}`), "json")
	assert.Error(t, err)

	_, err = actorcell.ParseDispatcherConfig([]byte(`{}`), "toml")
	assert.Error(t, err)

	_, err = actorcell.ParseDispatcherConfig([]byte(`{"throughput": -5}`), "json")
	assert.Error(t, err)
}

func TestLoadDispatcherConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dispatcher.yaml")
	assert.NoError(t, os.WriteFile(path, []byte("id: filed\nthroughput: 25\n"), 0600))

	config, err := actorcell.LoadDispatcherConfig(path)
	assert.NoError(t, err)
	assert.Equal(t, "filed", config.ID)
	assert.Equal(t, 25, config.Throughput)

	_, err = actorcell.LoadDispatcherConfig(filepath.Join(dir, "dispatcher.toml"))
	assert.Error(t, err)

	_, err = actorcell.LoadDispatcherConfig(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
