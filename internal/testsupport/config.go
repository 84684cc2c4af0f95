package testsupport

import (
	"path/filepath"
	"testing"

	"tether/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.SocketDir = filepath.Join(base, "run")
	cfgVal.Paths.LockDir = filepath.Join(base, "locks")
	cfgVal.Agent.CompanionPath = filepath.Join(base, "bin", "tether-desktop")

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure test directories: %v", err)
	}
	return builder.cfg
}

// WithInstanceID sets the installation instance on the test config.
func WithInstanceID(id string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Agent.InstanceID = id
	}
}

// WithChunkSize overrides the streaming chunk cap on the test config.
func WithChunkSize(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Streaming.MaxChunkBytes = n
	}
}

// WithDevelopmentDir enables development mode rooted at a temp directory.
func WithDevelopmentDir() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Agent.Development = true
		b.cfg.Agent.DevelopmentDir = filepath.Join(b.baseDir, "dev")
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
