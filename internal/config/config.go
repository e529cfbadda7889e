package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// StateDirName is the per-repo state directory holding the database,
// config, staging area, and logs.
const StateDirName = ".ckg"

// Config represents the complete CKG configuration (v2 schema)
type Config struct {
	Version  int    `json:"version" mapstructure:"version"`
	RepoRoot string `json:"repoRoot" mapstructure:"repoRoot"`

	Ingest     IngestConfig     `json:"ingest" mapstructure:"ingest"`
	Analysis   AnalysisConfig   `json:"analysis" mapstructure:"analysis"`
	Embedding  EmbeddingConfig  `json:"embedding" mapstructure:"embedding"`
	Categories CategoriesConfig `json:"categories" mapstructure:"categories"`
	Logging    LoggingConfig    `json:"logging" mapstructure:"logging"`
}

// IngestConfig contains source ingestion configuration
type IngestConfig struct {
	Workers          int      `json:"workers" mapstructure:"workers"`
	MaxFileSizeBytes int      `json:"maxFileSizeBytes" mapstructure:"maxFileSizeBytes"`
	Ignore           []string `json:"ignore" mapstructure:"ignore"`
	ScipIndexPath    string   `json:"scipIndexPath" mapstructure:"scipIndexPath"`
	WatchDebounceMs  int      `json:"watchDebounceMs" mapstructure:"watchDebounceMs"`
}

// AnalysisConfig contains refactoring and impact analysis thresholds
type AnalysisConfig struct {
	SplitLineThreshold int     `json:"splitLineThreshold" mapstructure:"splitLineThreshold"`
	SplitDebtThreshold float64 `json:"splitDebtThreshold" mapstructure:"splitDebtThreshold"`
	GroupMinLines      int     `json:"groupMinLines" mapstructure:"groupMinLines"`
	GroupMaxLines      int     `json:"groupMaxLines" mapstructure:"groupMaxLines"`
	ComplexityCeiling  int     `json:"complexityCeiling" mapstructure:"complexityCeiling"`
	ImpactMaxDepth     int     `json:"impactMaxDepth" mapstructure:"impactMaxDepth"`
}

// EmbeddingConfig contains embedding backend and indexer configuration
type EmbeddingConfig struct {
	Provider            string  `json:"provider" mapstructure:"provider"`
	Endpoint            string  `json:"endpoint" mapstructure:"endpoint"`
	Model               string  `json:"model" mapstructure:"model"`
	Dimension           int     `json:"dimension" mapstructure:"dimension"`
	TimeoutMs           int     `json:"timeoutMs" mapstructure:"timeoutMs"`
	Workers             int     `json:"workers" mapstructure:"workers"`
	QueueSize           int     `json:"queueSize" mapstructure:"queueSize"`
	MaxRetries          int     `json:"maxRetries" mapstructure:"maxRetries"`
	RequestsPerSecond   float64 `json:"requestsPerSecond" mapstructure:"requestsPerSecond"`
	StalenessSLASeconds int     `json:"stalenessSlaSeconds" mapstructure:"stalenessSlaSeconds"`
	QueryCacheSize      int     `json:"queryCacheSize" mapstructure:"queryCacheSize"`
	SourceTextMaxChars  int     `json:"sourceTextMaxChars" mapstructure:"sourceTextMaxChars"`
}

// CategoriesConfig contains architectural category mapping configuration
type CategoriesConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	FilePath string `json:"filePath" mapstructure:"filePath"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Format string `json:"format" mapstructure:"format"`
	Level  string `json:"level" mapstructure:"level"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Version:  2,
		RepoRoot: ".",
		Ingest: IngestConfig{
			Workers:          4,
			MaxFileSizeBytes: 1000000,
			Ignore:           []string{"node_modules", "vendor", "build", "dist", ".git", StateDirName},
			ScipIndexPath:    "index.scip",
			WatchDebounceMs:  300,
		},
		Analysis: AnalysisConfig{
			SplitLineThreshold: 1000,
			SplitDebtThreshold: 0.6,
			GroupMinLines:      150,
			GroupMaxLines:      800,
			ComplexityCeiling:  120,
			ImpactMaxDepth:     0,
		},
		Embedding: EmbeddingConfig{
			Provider:            "hash",
			Endpoint:            "http://localhost:8756",
			Model:               "minilm-l6-v2",
			Dimension:           384,
			TimeoutMs:           10000,
			Workers:             2,
			QueueSize:           1024,
			MaxRetries:          5,
			RequestsPerSecond:   8,
			StalenessSLASeconds: 300,
			QueryCacheSize:      512,
			SourceTextMaxChars:  2048,
		},
		Categories: CategoriesConfig{
			Enabled:  true,
			FilePath: "CATEGORIES.toml",
		},
		Logging: LoggingConfig{
			Format: "human",
			Level:  "info",
		},
	}
}

// LoadConfig loads configuration from .ckg/config.json
func LoadConfig(repoRoot string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("version", 2)
	v.SetDefault("repoRoot", ".")

	// Configure viper
	v.SetConfigName("config")
	v.SetConfigType("json")
	v.AddConfigPath(filepath.Join(repoRoot, StateDirName))

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		// If config doesn't exist, return default config
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			cfg := DefaultConfig()
			cfg.RepoRoot = repoRoot
			return cfg, nil
		}
		return nil, err
	}

	// Unmarshal into config struct, filling gaps from defaults
	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	cfg.RepoRoot = repoRoot

	return cfg, nil
}

// Save writes the configuration to .ckg/config.json
func (c *Config) Save(repoRoot string) error {
	if err := os.MkdirAll(StateDir(repoRoot), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(ConfigPath(repoRoot), data, 0644)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Version != 2 {
		return &ConfigError{Field: "version", Message: "unsupported config version"}
	}
	if c.Analysis.SplitLineThreshold <= 0 {
		return &ConfigError{Field: "analysis.splitLineThreshold", Message: "must be positive"}
	}
	if c.Analysis.SplitDebtThreshold <= 0 || c.Analysis.SplitDebtThreshold > 1 {
		return &ConfigError{Field: "analysis.splitDebtThreshold", Message: "must be in (0, 1]"}
	}
	if c.Analysis.GroupMinLines >= c.Analysis.GroupMaxLines {
		return &ConfigError{Field: "analysis.groupMinLines", Message: "must be below groupMaxLines"}
	}
	if c.Embedding.Dimension <= 0 {
		return &ConfigError{Field: "embedding.dimension", Message: "must be positive"}
	}
	switch c.Embedding.Provider {
	case "hash", "http":
	default:
		return &ConfigError{Field: "embedding.provider", Message: "must be 'hash' or 'http'"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}

// StateDir returns the .ckg state directory for a repo root.
func StateDir(repoRoot string) string {
	return filepath.Join(repoRoot, StateDirName)
}

// ConfigPath returns the config file path for a repo root.
func ConfigPath(repoRoot string) string {
	return filepath.Join(StateDir(repoRoot), "config.json")
}

// DBPath returns the SQLite database path for a repo root.
func DBPath(repoRoot string) string {
	return filepath.Join(StateDir(repoRoot), "ckg.db")
}

// StageDir returns the split-apply staging directory for a plan.
func StageDir(repoRoot, planID string) string {
	return filepath.Join(StateDir(repoRoot), "stage", planID)
}
