// Package config loads MediaGit's TOML configuration: every table
// spec.md §6 names, with documented defaults so a missing config.toml
// (or a partial one) is never an error.
package config

import (
	"os"
	"runtime"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/mediagit/mediagit/mgerr"
)

// App holds process-identity and listen-address settings.
type App struct {
	Name        string `toml:"name"`
	Port        int    `toml:"port"`
	Host        string `toml:"host"`
	Environment string `toml:"environment"`
	Debug       bool   `toml:"debug"`
}

// Storage selects and configures the object storage backend.
type Storage struct {
	Backend    string           `toml:"backend"` // filesystem, s3, azure, gcs, multi
	Filesystem FilesystemConfig `toml:"filesystem"`
	S3         S3Config         `toml:"s3"`
	Azure      AzureConfig      `toml:"azure"`
	GCS        GCSConfig        `toml:"gcs"`
}

type FilesystemConfig struct {
	RootDir string `toml:"root_dir"`
}

type S3Config struct {
	Bucket   string `toml:"bucket"`
	Region   string `toml:"region"`
	Endpoint string `toml:"endpoint"`
	Prefix   string `toml:"prefix"`
}

type AzureConfig struct {
	Container string `toml:"container"`
	Account   string `toml:"account"`
}

type GCSConfig struct {
	Bucket string `toml:"bucket"`
}

// Compression configures the adaptive per-object compressor selector.
type Compression struct {
	Enabled   bool   `toml:"enabled"`
	Algorithm string `toml:"algorithm"` // zstd, brotli, none
	Level     int    `toml:"level"`
	MinSize   int    `toml:"min_size"`
}

// Timeouts bounds each phase of a network operation, in seconds.
type Timeouts struct {
	RequestSeconds    int `toml:"request"`
	ReadSeconds       int `toml:"read"`
	WriteSeconds      int `toml:"write"`
	ConnectionSeconds int `toml:"connection"`
}

func (t Timeouts) Request() time.Duration    { return time.Duration(t.RequestSeconds) * time.Second }
func (t Timeouts) Read() time.Duration       { return time.Duration(t.ReadSeconds) * time.Second }
func (t Timeouts) Write() time.Duration      { return time.Duration(t.WriteSeconds) * time.Second }
func (t Timeouts) Connection() time.Duration { return time.Duration(t.ConnectionSeconds) * time.Second }

// Cache bounds the ODB's in-memory decompressed-object cache.
type Cache struct {
	BudgetBytes int `toml:"budget_bytes"`
}

// ConnectionPool bounds outbound HTTP connection reuse for the transfer
// client.
type ConnectionPool struct {
	MaxIdleConns        int `toml:"max_idle_conns"`
	MaxIdleConnsPerHost int `toml:"max_idle_conns_per_host"`
}

// Performance configures concurrency, buffering, caching, and timeouts.
type Performance struct {
	MaxConcurrency int            `toml:"max_concurrency"`
	BufferSize     int            `toml:"buffer_size"`
	Cache          Cache          `toml:"cache"`
	ConnectionPool ConnectionPool `toml:"connection_pool"`
	Timeouts       Timeouts       `toml:"timeouts"`
}

// Metrics configures metrics emission. The settings are loaded, but no
// package in this module emits metrics.
type Metrics struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

// Observability configures logging, tracing, and metrics.
type Observability struct {
	LogLevel       string  `toml:"log_level"`
	LogFormat      string  `toml:"log_format"` // json, console
	TracingEnabled bool    `toml:"tracing_enabled"`
	SampleRate     float64 `toml:"sample_rate"`
	Metrics        Metrics `toml:"metrics"`
}

// RateLimiting configures the transfer server's request throttling.
type RateLimiting struct {
	Enabled           bool `toml:"enabled"`
	RequestsPerMinute int  `toml:"requests_per_minute"`
}

// Security configures TLS, auth, and rate limiting for the transfer server.
type Security struct {
	HTTPSEnabled     bool         `toml:"https_enabled"`
	TLSCertPath      string       `toml:"tls_cert_path"`
	TLSKeyPath       string       `toml:"tls_key_path"`
	APIKey           string       `toml:"api_key"`
	AuthEnabled      bool         `toml:"auth_enabled"`
	CORSOrigins      []string     `toml:"cors_origins"`
	EncryptionAtRest bool         `toml:"encryption_at_rest"`
	RateLimiting     RateLimiting `toml:"rate_limiting"`
}

// Remote names a configured remote's URL and default ref specs.
type Remote struct {
	URL   string `toml:"url"`
	Fetch string `toml:"fetch"`
	Push  string `toml:"push"`
}

// Branch configures a local branch's upstream tracking.
type Branch struct {
	Remote string `toml:"remote"`
	Merge  string `toml:"merge"`
}

// ProtectedBranch configures push/deletion restrictions for one branch
// pattern.
type ProtectedBranch struct {
	PreventForcePush bool `toml:"prevent_force_push"`
	PreventDeletion  bool `toml:"prevent_deletion"`
	RequireReviews   bool `toml:"require_reviews"`
	MinApprovals     int  `toml:"min_approvals"`
}

// Config is the fully-typed config.toml contract.
type Config struct {
	App               App                        `toml:"app"`
	Storage           Storage                    `toml:"storage"`
	Compression       Compression                `toml:"compression"`
	Performance       Performance                `toml:"performance"`
	Observability     Observability              `toml:"observability"`
	Security          Security                   `toml:"security"`
	Remotes           map[string]Remote          `toml:"remotes"`
	Branches          map[string]Branch          `toml:"branches"`
	ProtectedBranches map[string]ProtectedBranch `toml:"protected_branches"`
}

// Default returns the configuration spec.md §6 describes as the
// zero-config defaults.
func Default() Config {
	return Config{
		App: App{
			Name:        "mediagit",
			Port:        8080,
			Host:        "127.0.0.1",
			Environment: "development",
		},
		Storage: Storage{Backend: "filesystem", Filesystem: FilesystemConfig{RootDir: ".mediagit"}},
		Compression: Compression{
			Enabled:   true,
			Algorithm: "zstd",
			Level:     3,
			MinSize:   1024,
		},
		Performance: Performance{
			MaxConcurrency: runtime.NumCPU(),
			BufferSize:     65536,
			Cache:          Cache{BudgetBytes: 128 << 20},
			ConnectionPool: ConnectionPool{MaxIdleConns: 100, MaxIdleConnsPerHost: 8},
			Timeouts:       Timeouts{RequestSeconds: 60, ReadSeconds: 30, WriteSeconds: 30, ConnectionSeconds: 30},
		},
		Observability: Observability{LogLevel: "info", LogFormat: "json"},
	}
}

// Load reads and parses path, layering its values over Default(): any
// table or key path omits simply keeps its default. A missing file is
// not an error — it returns Default() unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return Config{}, mgerr.Wrap(mgerr.Corrupt, err, "parse config file "+path)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, mgerr.Newf(mgerr.Corrupt, "config file %s: unrecognized keys %v", path, undecoded)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field invariants Load can't express structurally.
func (c Config) Validate() error {
	switch c.Storage.Backend {
	case "filesystem", "s3", "azure", "gcs", "multi":
	default:
		return mgerr.Newf(mgerr.Corrupt, "storage.backend: unknown backend %q", c.Storage.Backend)
	}
	if c.App.Port < 0 || c.App.Port > 65535 {
		return mgerr.Newf(mgerr.Corrupt, "app.port: %d out of range", c.App.Port)
	}
	if c.Security.HTTPSEnabled && (c.Security.TLSCertPath == "" || c.Security.TLSKeyPath == "") {
		return mgerr.New(mgerr.Corrupt, "security.https_enabled requires tls_cert_path and tls_key_path")
	}
	for name, pb := range c.ProtectedBranches {
		if pb.RequireReviews && pb.MinApprovals < 1 {
			return mgerr.Newf(mgerr.Corrupt, "protected_branches.%s: require_reviews needs min_approvals >= 1", name)
		}
	}
	return nil
}
