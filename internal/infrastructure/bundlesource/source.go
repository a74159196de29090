package bundlesource

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/mrajeshsfdc/sfdoc/internal/ports"
)

// Config selects where bundle archives are downloaded from.
type Config struct {
	// Type is "http" for the authoring tool API or "dir" for a local folder of archives.
	Type     string `yaml:"type" toml:"type"`
	URL      string `yaml:"url" toml:"url"`
	Username string `yaml:"username" toml:"username"`
	Password string `yaml:"password" toml:"password"`
	Dir      string `yaml:"dir" toml:"dir"`
	// MaxBytes caps the archive size, 0 means unlimited.
	MaxBytes int64 `yaml:"max_bytes" toml:"max_bytes"`
}

// New builds the source named by cfg.Type.
func New(cfg Config, client *http.Client, logger *slog.Logger) (ports.BundleSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "bundle_source")

	switch cfg.Type {
	case "", "http":
		if cfg.URL == "" {
			return nil, fmt.Errorf("bundle source url is required")
		}
		return NewHTTP(cfg, client, logger), nil
	case "dir":
		return NewDir(cfg.Dir, cfg.MaxBytes)
	default:
		return nil, fmt.Errorf("unknown bundle source type %q", cfg.Type)
	}
}
