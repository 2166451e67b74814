package testsupport

import (
	"path/filepath"
	"testing"

	"github.com/abrahamrini7-jpg/catalogIQ/internal/config"
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
	cfgVal.Paths.PhotoDir = filepath.Join(base, "photos")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Vision.APIKey = "test"
	cfgVal.Workflow.FeedPollInterval = 1
	cfgVal.Workflow.RetryBaseSeconds = 1
	cfgVal.Workflow.RetryMaxSeconds = 2

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithVisionEndpoint points the vision client at a test server.
func WithVisionEndpoint(baseURL string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Vision.BaseURL = baseURL
	}
}

// WithWordPress sets publish credentials on the test config.
func WithWordPress(url, username, password string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.WordPress.URL = url
		b.cfg.WordPress.Username = username
		b.cfg.WordPress.Password = password
	}
}

// WithRetryMax overrides the dispatch retry ceiling.
func WithRetryMax(max int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workflow.RetryMax = max
	}
}
