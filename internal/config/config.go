package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/mrajeshsfdc/sfdoc/internal/infrastructure/bundlesource"
	"github.com/mrajeshsfdc/sfdoc/internal/infrastructure/knowledge"
	"github.com/mrajeshsfdc/sfdoc/internal/infrastructure/storage"
)

const (
	configPathEnv           = "SFDOC_CONFIG"
	databasePasswordEnv     = "SFDOC_DATABASE_PASSWORD"
	databasePathEnv         = "SFDOC_DATABASE_PATH"
	knowledgePrivateKeyEnv  = "SFDOC_KNOWLEDGE_PRIVATE_KEY"
	bundleSourcePasswordEnv = "SFDOC_BUNDLE_SOURCE_PASSWORD"
	adminTokenEnv           = "SFDOC_ADMIN_TOKEN"
)

// Config holds every setting of the sync service.
type Config struct {
	Log          LogConfig           `yaml:"log" toml:"log"`
	Server       ServerConfig        `yaml:"server" toml:"server"`
	Database     storage.Config      `yaml:"database" toml:"database"`
	Knowledge    knowledge.Config    `yaml:"knowledge" toml:"knowledge"`
	ObjectStore  ObjectStoreConfig   `yaml:"object_store" toml:"object_store"`
	BundleSource bundlesource.Config `yaml:"bundle_source" toml:"bundle_source"`
	Links        LinksConfig         `yaml:"links" toml:"links"`
	Pipeline     PipelineConfig      `yaml:"pipeline" toml:"pipeline"`
	Otel         OtelConfig          `yaml:"otel" toml:"otel"`
}

func (c Config) String() string {
	return fmt.Sprintf("Log: %s\nServer: %s\nDatabase: %s\nKnowledge: %s\nObjectStore: %s\nBundleSource: %s\nLinks: %s\nPipeline: %s\nOtel: %s",
		c.Log,
		c.Server,
		c.Database,
		knowledgeString(c.Knowledge),
		c.ObjectStore,
		bundleSourceString(c.BundleSource),
		c.Links,
		c.Pipeline,
		c.Otel,
	)
}

type LogFormat string

const (
	LogFormatJSON LogFormat = "json"
	LogFormatText LogFormat = "text"
)

type LogConfig struct {
	Level     slog.Level `yaml:"level" toml:"level"`
	Format    LogFormat  `yaml:"format" toml:"format"`
	AddSource bool       `yaml:"add_source" toml:"add_source"`
	NoColor   bool       `yaml:"no_color" toml:"no_color"`
}

func (c LogConfig) String() string {
	return fmt.Sprintf("\n  Level: %s\n  Format: %s\n  AddSource: %t\n  NoColor: %t",
		c.Level,
		c.Format,
		c.AddSource,
		c.NoColor,
	)
}

// ServerConfig is the webhook and admin HTTP API.
type ServerConfig struct {
	ListenAddr  string   `yaml:"listen_addr" toml:"listen_addr"`
	HTTPTimeout Duration `yaml:"http_timeout" toml:"http_timeout"`
	// AdminToken guards the admin routes with a bearer token when set.
	AdminToken     string `yaml:"admin_token" toml:"admin_token"`
	MaxWebhookSize int64  `yaml:"max_webhook_size" toml:"max_webhook_size"`
}

func (c ServerConfig) String() string {
	return fmt.Sprintf("\n  ListenAddr: %s\n  HTTPTimeout: %s\n  AdminToken: %s\n  MaxWebhookSize: %d",
		c.ListenAddr,
		c.HTTPTimeout,
		strings.Repeat("*", len(c.AdminToken)),
		c.MaxWebhookSize,
	)
}

// ObjectStoreConfig points at the directory the CDN serves.
type ObjectStoreConfig struct {
	Root string `yaml:"root" toml:"root"`
}

func (c ObjectStoreConfig) String() string {
	return fmt.Sprintf("\n  Root: %s", c.Root)
}

// LinksConfig describes the public addresses articles and images are linked under.
type LinksConfig struct {
	DraftBaseURL      string `yaml:"draft_base_url" toml:"draft_base_url"`
	ProductionBaseURL string `yaml:"production_base_url" toml:"production_base_url"`
	ArticlePath       string `yaml:"article_path" toml:"article_path"`
	ImageBaseURL      string `yaml:"image_base_url" toml:"image_base_url"`
	DraftPrefix       string `yaml:"draft_prefix" toml:"draft_prefix"`
	PreviewBaseURL    string `yaml:"preview_base_url" toml:"preview_base_url"`
}

func (c LinksConfig) String() string {
	return fmt.Sprintf("\n  DraftBaseURL: %s\n  ProductionBaseURL: %s\n  ArticlePath: %s\n  ImageBaseURL: %s\n  DraftPrefix: %s\n  PreviewBaseURL: %s",
		c.DraftBaseURL,
		c.ProductionBaseURL,
		c.ArticlePath,
		c.ImageBaseURL,
		c.DraftPrefix,
		c.PreviewBaseURL,
	)
}

// PipelineConfig tunes processing and publishing.
type PipelineConfig struct {
	WorkDir        string   `yaml:"work_dir" toml:"work_dir"`
	Workers        int      `yaml:"workers" toml:"workers"`
	Concurrency    int      `yaml:"concurrency" toml:"concurrency"`
	ProcessTimeout Duration `yaml:"process_timeout" toml:"process_timeout"`
	PublishTimeout Duration `yaml:"publish_timeout" toml:"publish_timeout"`
	AdmitInterval  Duration `yaml:"admit_interval" toml:"admit_interval"`
	// AdmitRetry delays the next admission after a claim failed.
	AdmitRetry Duration `yaml:"admit_retry" toml:"admit_retry"`
	// MaxUnpackSize bounds the decompressed size of a bundle, nested archives included.
	MaxUnpackSize ByteSize `yaml:"max_unpack_size" toml:"max_unpack_size"`
	SkipPatterns  []string `yaml:"skip_patterns" toml:"skip_patterns"`
}

func (c PipelineConfig) String() string {
	return fmt.Sprintf("\n  WorkDir: %s\n  Workers: %d\n  Concurrency: %d\n  ProcessTimeout: %s\n  PublishTimeout: %s\n  AdmitInterval: %s\n  AdmitRetry: %s\n  MaxUnpackSize: %s\n  SkipPatterns: %v",
		c.WorkDir,
		c.Workers,
		c.Concurrency,
		c.ProcessTimeout,
		c.PublishTimeout,
		c.AdmitInterval,
		c.AdmitRetry,
		c.MaxUnpackSize,
		c.SkipPatterns,
	)
}

type OtelConfig struct {
	InstanceID string        `yaml:"instance_id" toml:"instance_id"`
	Trace      TraceConfig   `yaml:"trace" toml:"trace"`
	Metrics    MetricsConfig `yaml:"metrics" toml:"metrics"`
}

func (c OtelConfig) String() string {
	return fmt.Sprintf("\n  InstanceID: %s\n  Trace: %s\n  Metrics: %s",
		c.InstanceID,
		c.Trace,
		c.Metrics,
	)
}

type TraceConfig struct {
	Enabled  bool   `yaml:"enabled" toml:"enabled"`
	Endpoint string `yaml:"endpoint" toml:"endpoint"`
	Insecure bool   `yaml:"insecure" toml:"insecure"`
}

func (c TraceConfig) String() string {
	return fmt.Sprintf("\n   Enabled: %t\n   Endpoint: %s\n   Insecure: %t",
		c.Enabled,
		c.Endpoint,
		c.Insecure,
	)
}

type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled" toml:"enabled"`
	ListenAddr string `yaml:"listen_addr" toml:"listen_addr"`
}

func (c MetricsConfig) String() string {
	return fmt.Sprintf("\n   Enabled: %t\n   ListenAddr: %s",
		c.Enabled,
		c.ListenAddr,
	)
}

func knowledgeString(c knowledge.Config) string {
	return fmt.Sprintf("\n  LoginURL: %s\n  Sandbox: %t\n  ClientID: %s\n  Username: %s\n  PrivateKeyFile: %s\n  PrivateKey: %s\n  APIVersion: %s\n  Language: %s\n  ArticleType: %s",
		c.LoginURL,
		c.Sandbox,
		c.ClientID,
		c.Username,
		c.PrivateKeyFile,
		strings.Repeat("*", min(len(c.PrivateKey), 8)),
		c.APIVersion,
		c.Language,
		c.ArticleType,
	)
}

func bundleSourceString(c bundlesource.Config) string {
	return fmt.Sprintf("\n  Type: %s\n  URL: %s\n  Username: %s\n  Password: %s\n  Dir: %s\n  MaxBytes: %d",
		c.Type,
		c.URL,
		c.Username,
		strings.Repeat("*", len(c.Password)),
		c.Dir,
		c.MaxBytes,
	)
}

// Path returns the explicit path, or the one named by SFDOC_CONFIG.
func Path(explicit string) string {
	if explicit != "" {
		return explicit
	}
	return os.Getenv(configPathEnv)
}

// Load reads the config file at path on top of the defaults and applies
// environment overrides. An empty path loads defaults and environment only.
// Files ending in .toml are TOML, everything else is YAML.
func Load(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if strings.EqualFold(filepath.Ext(path), ".toml") {
			err = toml.Unmarshal(raw, &cfg)
		} else {
			err = yaml.Unmarshal(raw, &cfg)
		}
		if err != nil {
			return Config{}, fmt.Errorf("failed to decode config file %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(databasePasswordEnv); v != "" {
		c.Database.Password = v
	}

	if v := os.Getenv(databasePathEnv); v != "" {
		c.Database.Path = v
	}

	if v := os.Getenv(knowledgePrivateKeyEnv); v != "" {
		c.Knowledge.PrivateKey = v
	}

	if v := os.Getenv(bundleSourcePasswordEnv); v != "" {
		c.BundleSource.Password = v
	}

	if v := os.Getenv(adminTokenEnv); v != "" {
		c.Server.AdminToken = v
	}
}

// Validate reports every setting that would stop the service from working.
func (c Config) Validate() error {
	var errs []error
	switch c.Database.Type {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("database.type must be sqlite or postgres, got %q", c.Database.Type))
	}
	switch c.Log.Format {
	case LogFormatJSON, LogFormatText:
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or text, got %q", c.Log.Format))
	}
	if c.Links.DraftPrefix == "" || !strings.HasSuffix(c.Links.DraftPrefix, "/") {
		errs = append(errs, fmt.Errorf("links.draft_prefix must be a non-empty prefix ending in /, got %q", c.Links.DraftPrefix))
	}
	if c.Pipeline.Workers < 1 {
		errs = append(errs, errors.New("pipeline.workers must be at least 1"))
	}
	if c.Pipeline.Concurrency < 1 {
		errs = append(errs, errors.New("pipeline.concurrency must be at least 1"))
	}
	if c.Pipeline.MaxUnpackSize == 0 {
		errs = append(errs, errors.New("pipeline.max_unpack_size must be positive"))
	}
	return errors.Join(errs...)
}

func defaultConfig() Config {
	return Config{
		Log: LogConfig{
			Level:     slog.LevelInfo,
			Format:    LogFormatText,
			AddSource: false,
			NoColor:   false,
		},
		Server: ServerConfig{
			ListenAddr:     ":8080",
			HTTPTimeout:    Duration(30 * time.Second),
			MaxWebhookSize: 1 << 20,
		},
		Database: storage.Config{
			Type:     "sqlite",
			Path:     "sfdoc.db",
			Host:     "localhost",
			Port:     5432,
			Username: "sfdoc",
			Database: "sfdoc",
			SSLMode:  "disable",
		},
		Knowledge: knowledge.Config{
			LoginURL:    "https://login.salesforce.com",
			APIVersion:  "v59.0",
			Language:    "en_US",
			ArticleType: "Knowledge__kav",
			BodyField:   "Body__c",
		},
		ObjectStore: ObjectStoreConfig{
			Root: "cdn",
		},
		BundleSource: bundlesource.Config{
			Type:     "http",
			MaxBytes: 512 << 20,
		},
		Links: LinksConfig{
			ArticlePath: "/articles",
			DraftPrefix: "draft/",
		},
		Pipeline: PipelineConfig{
			WorkDir:        os.TempDir(),
			Workers:        2,
			Concurrency:    4,
			ProcessTimeout: Duration(30 * time.Minute),
			PublishTimeout: Duration(30 * time.Minute),
			AdmitInterval:  Duration(time.Minute),
			AdmitRetry:     Duration(30 * time.Second),
			MaxUnpackSize:  ByteSize(1 << 30),
			SkipPatterns:   []string{"**/index.html", "**/toc.html"},
		},
		Otel: OtelConfig{
			InstanceID: "1",
			Trace: TraceConfig{
				Enabled:  false,
				Endpoint: "localhost:4318",
				Insecure: false,
			},
			Metrics: MetricsConfig{
				Enabled:    false,
				ListenAddr: ":9100",
			},
		},
	}
}
