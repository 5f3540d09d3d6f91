// config.go: settings struct for the clinsync migration engine and the viper
// machinery to load them from file, environment and command-line flags.
package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// LogConfig contains settings for a rotated log file.
type LogConfig struct {
	Enabled    bool   // true to enable file logging
	Path       string // path to the log file
	MaxSizeMB  int    // rotate when the file exceeds this size
	MaxBackups int    // number of rotated files to keep
	MaxAgeDays int    // days to retain rotated files
}

// MainSettings contains top-level run settings.
type MainSettings struct {
	Name string    // label attached to runs and log lines
	Log  LogConfig // migration log file settings
}

// DatabaseConnection describes one database endpoint. Driver selects between
// a file-backed sqlite database and a mysql server.
type DatabaseConnection struct {
	Driver   string // "sqlite" or "mysql"
	Path     string // sqlite database path
	Host     string // mysql host
	Port     string // mysql port
	Username string // mysql username
	Password string // mysql password
	Database string // mysql database name
}

// SourceSettings contains the legacy store connection. Read-only access;
// the source is assumed to be under concurrent production write load.
type SourceSettings struct {
	Connection DatabaseConnection
}

// TargetSettings contains the target store connection.
type TargetSettings struct {
	Connection DatabaseConnection
	// RelaxForeignKeys disables referential enforcement in the target during
	// bulk load and re-enables it when the run finishes.
	RelaxForeignKeys bool
}

// CheckpointSettings contains the durable checkpoint store location.
type CheckpointSettings struct {
	Path string // sqlite database holding runs, batches and quarantine rows
}

// RetrySettings is the single retry policy applied by the reader and loader.
type RetrySettings struct {
	MaxAttempts    int           // attempts per operation, including the first
	InitialBackoff time.Duration // backoff before the first retry
	MaxBackoff     time.Duration // backoff ceiling
	Multiplier     float64       // exponential backoff multiplier
}

// MigrationSettings controls batch processing behaviour.
type MigrationSettings struct {
	BatchSize         int           // records per batch, the unit of checkpointing
	Workers           int           // parallel workers for transform and load within a batch
	DryRun            bool          // execute every phase except final target writes
	ContinueOnError   bool          // keep processing entity types after a non-fatal phase failure
	MaxQuarantineRate float64       // abort a batch when quarantined/total exceeds this ratio
	StoreTimeout      time.Duration // deadline applied to every store call
	SkipPhases        []string      // phase names to skip, e.g. "enrich"
	SkipEntities      []string      // entity types to skip, e.g. "order"
	Retry             RetrySettings // shared retry policy
}

// DedupSettings controls patient identity deduplication. The fuzzy thresholds
// are a business decision and deliberately not hard-coded.
type DedupSettings struct {
	Enabled         bool    // true to run the dedup phase
	FuzzyConfidence float64 // confidence assigned to strong fuzzy matches
	AmbiguousLow    float64 // lower bound of the manual-review band
	MaxEditDistance int     // maximum first-name edit distance for fuzzy matches
	CrossOffice     bool    // also deduplicate across offices
}

// EnrichmentSettings controls the optional post-load enrichment phase.
type EnrichmentSettings struct {
	Enabled           bool   // true to run enrichment after a successful load
	RetryFailures     bool   // retry failed documents in-run instead of deferring
	KnowledgeBasePath string // sqlite-vec database path
	Dimensions        int    // embedding vector dimensions
	Provider          string // embedding provider, "none" disables embedding calls
	Endpoint          string // embedding service endpoint
	APIKey            string // embedding service API key
}

// ObservabilitySettings controls the optional prometheus endpoint.
type ObservabilitySettings struct {
	Enabled bool   // true to expose metrics during a run
	Listen  string // listen address, e.g. "localhost:9090"
}

// Settings is the top-level configuration aggregate.
type Settings struct {
	Debug bool // true to enable debug logging

	Main          MainSettings
	Source        SourceSettings
	Target        TargetSettings
	Checkpoint    CheckpointSettings
	Migration     MigrationSettings
	Dedup         DedupSettings
	Enrichment    EnrichmentSettings
	Observability ObservabilitySettings
}

var (
	settingsInstance *Settings
	once             sync.Once
	settingsMutex    sync.RWMutex
)

// Load reads settings from the config file (if present), environment and
// defaults, in ascending precedence of defaults < file < env < flags.
func Load() (*Settings, error) {
	setDefaults()

	viper.SetConfigName("clinsync")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	if dir, err := os.UserConfigDir(); err == nil {
		viper.AddConfigPath(filepath.Join(dir, "clinsync"))
	}
	viper.SetEnvPrefix("clinsync")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !asConfigFileNotFound(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file is fine, defaults and environment apply.
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, err
	}

	settingsMutex.Lock()
	settingsInstance = settings
	settingsMutex.Unlock()

	return settings, nil
}

// asConfigFileNotFound reports whether err is viper's missing-config error.
func asConfigFileNotFound(err error, target *viper.ConfigFileNotFoundError) bool {
	if e, ok := err.(viper.ConfigFileNotFoundError); ok {
		*target = e
		return true
	}
	return false
}

// Setting returns the loaded settings, loading them on first use.
func Setting() *Settings {
	once.Do(func() {
		settingsMutex.RLock()
		loaded := settingsInstance != nil
		settingsMutex.RUnlock()
		if !loaded {
			if _, err := Load(); err != nil {
				panic(fmt.Sprintf("failed to load settings: %v", err))
			}
		}
	})
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// SaveAs writes the settings to a YAML file, used by `clinsync migrate
// --write-config` to bootstrap a config file with current values.
func (s *Settings) SaveAs(path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GetBasePath expands a possibly relative directory against the working
// directory and ensures it exists.
func GetBasePath(dir string) string {
	if dir == "" {
		dir = "."
	}
	if !filepath.IsAbs(dir) {
		if wd, err := os.Getwd(); err == nil {
			dir = filepath.Join(wd, dir)
		}
	}
	_ = os.MkdirAll(dir, 0o755)
	return dir
}
