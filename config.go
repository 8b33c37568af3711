package actorcell

import (
	"path/filepath"
	"runtime"
	"time"

	"github.com/gokit/errors"
	kjson "github.com/knadh/koanf/parsers/json"
	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// DefaultDispatcherID is the id resolved for cells spawned without an
// explicit dispatcher.
const DefaultDispatcherID = "default"

// ErrInvalidConfig is returned for dispatcher configuration which fails
// validation; configuration errors are fatal at construction.
var ErrInvalidConfig = errors.New("invalid dispatcher configuration")

// ExecutorKind selects the executor service implementation of a dispatcher.
type ExecutorKind string

// executor kinds.
const (
	// ExecutorPool runs mailboxes on a fixed worker pool.
	ExecutorPool ExecutorKind = "pool"

	// ExecutorGoroutine runs every mailbox run on a fresh goroutine.
	ExecutorGoroutine ExecutorKind = "goroutine"
)

// DispatcherConfig is the configuration record read by a dispatcher.
type DispatcherConfig struct {
	ID                 string        `koanf:"id"`
	Throughput         int           `koanf:"throughput"`
	ThroughputDeadline time.Duration `koanf:"throughput-deadline"`
	ShutdownTimeout    time.Duration `koanf:"shutdown-timeout"`
	MailboxCapacity    int           `koanf:"mailbox-capacity"`
	Executor           ExecutorKind  `koanf:"executor"`
	PoolSize           int           `koanf:"pool-size"`
}

// DefaultDispatcherConfig returns the configuration used when nothing was
// registered for a dispatcher id.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		ID:              DefaultDispatcherID,
		Throughput:      300,
		ShutdownTimeout: time.Second,
		MailboxCapacity: -1,
		Executor:        ExecutorPool,
		PoolSize:        runtime.NumCPU(),
	}
}

// Validate fails fast on invalid configuration.
func (dc *DispatcherConfig) Validate() error {
	if dc.ID == "" {
		return errors.Wrap(ErrInvalidConfig, "id must not be empty")
	}
	if dc.Throughput <= 0 {
		return errors.Wrap(ErrInvalidConfig, "throughput must be positive, got %d", dc.Throughput)
	}
	if dc.ThroughputDeadline < 0 {
		return errors.Wrap(ErrInvalidConfig, "throughput-deadline must not be negative")
	}
	if dc.ShutdownTimeout <= 0 {
		return errors.Wrap(ErrInvalidConfig, "shutdown-timeout must be positive")
	}
	if dc.MailboxCapacity < -1 || dc.MailboxCapacity == 0 {
		return errors.Wrap(ErrInvalidConfig, "mailbox-capacity must be positive or -1 for unbounded, got %d", dc.MailboxCapacity)
	}

	switch dc.Executor {
	case ExecutorPool:
		if dc.PoolSize <= 0 {
			dc.PoolSize = runtime.NumCPU()
		}
	case ExecutorGoroutine:
	default:
		return errors.Wrap(ErrInvalidConfig, "unknown executor kind %q", dc.Executor)
	}
	return nil
}

// ParseDispatcherConfig decodes a dispatcher configuration record from
// raw json or yaml content, applying defaults for absent fields.
func ParseDispatcherConfig(raw []byte, format string) (DispatcherConfig, error) {
	config := DefaultDispatcherConfig()

	var parser koanf.Parser
	switch format {
	case "json":
		parser = kjson.Parser()
	case "yaml", "yml":
		parser = kyaml.Parser()
	default:
		return config, errors.Wrap(ErrInvalidConfig, "unsupported config format %q", format)
	}

	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(raw), parser); err != nil {
		return config, errors.Wrap(err, "parsing dispatcher config")
	}
	if err := k.Unmarshal("", &config); err != nil {
		return config, errors.Wrap(err, "decoding dispatcher config")
	}

	if err := config.Validate(); err != nil {
		return config, err
	}
	return config, nil
}

// LoadDispatcherConfig reads a dispatcher configuration record from the
// giving json or yaml file, applying defaults for absent fields.
func LoadDispatcherConfig(path string) (DispatcherConfig, error) {
	config := DefaultDispatcherConfig()

	var parser koanf.Parser
	switch filepath.Ext(path) {
	case ".json":
		parser = kjson.Parser()
	case ".yaml", ".yml":
		parser = kyaml.Parser()
	default:
		return config, errors.Wrap(ErrInvalidConfig, "unsupported config file %q", path)
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), parser); err != nil {
		return config, errors.Wrap(err, "loading dispatcher config %q", path)
	}
	if err := k.Unmarshal("", &config); err != nil {
		return config, errors.Wrap(err, "decoding dispatcher config %q", path)
	}

	if err := config.Validate(); err != nil {
		return config, err
	}
	return config, nil
}
