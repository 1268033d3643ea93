package core

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Database struct {
	Type             string `yaml:"type"`
	ConnectionString string `yaml:"connectionString"`
}

type Cache struct {
	// Address of the redis instance, e.g. "localhost:6379".
	// Leave empty to run without a record cache.
	Address    string `yaml:"address"`
	DB         int    `yaml:"db"`
	TTLSeconds int    `yaml:"ttlSeconds"`
}

// OptimizationConfig holds every knob of the conversion pipeline.
type OptimizationConfig struct {
	Enabled     bool `yaml:"enabled"`
	AutoConvert bool `yaml:"autoConvert"`

	EnableAvif  bool `yaml:"enableAvif"`
	EnableWebp  bool `yaml:"enableWebp"`
	AvifQuality int  `yaml:"avifQuality"`
	WebpQuality int  `yaml:"webpQuality"`

	// AvifSpeed and WebpMethod are encoder tuning knobs, passed through
	// to whichever backend handles the format.
	AvifSpeed  int `yaml:"avifSpeed"`
	WebpMethod int `yaml:"webpMethod"`

	// MinSavingsPercent is the minimum size reduction required before a
	// generated variant is kept.
	MinSavingsPercent float64 `yaml:"minSavingsPercent"`
	// MinSourceSizeBytes skips sources already smaller than this.
	MinSourceSizeBytes int64 `yaml:"minSourceSizeBytes"`
	// MaxDimension skips sources wider or taller than this.
	MaxDimension int `yaml:"maxDimension"`
	// TimeoutSeconds bounds one asset's conversion work.
	TimeoutSeconds int `yaml:"timeoutSeconds"`
}

type ServiceConfig struct {
	Port int `yaml:"port"`
	// MediaRoot is the directory uploaded files are stored under.
	MediaRoot string `yaml:"mediaRoot"`
	// MediaBaseURL is the public URL prefix the media root is served at.
	MediaBaseURL string             `yaml:"mediaBaseUrl"`
	Database     Database           `yaml:"database"`
	Cache        Cache              `yaml:"cache"`
	Optimization OptimizationConfig `yaml:"optimization"`

	ThumbnailWidth int `yaml:"thumbnailWidth"`
}

// DefaultOptimizationConfig returns the settings used when the config
// file leaves the optimization section out.
func DefaultOptimizationConfig() OptimizationConfig {
	return OptimizationConfig{
		Enabled:            true,
		AutoConvert:        true,
		EnableAvif:         true,
		EnableWebp:         true,
		AvifQuality:        50,
		WebpQuality:        85,
		AvifSpeed:          6,
		WebpMethod:         4,
		MinSavingsPercent:  25,
		MinSourceSizeBytes: 50000,
		MaxDimension:       4000,
		TimeoutSeconds:     30,
	}
}

// LoadConfig loads configuration from the specified YAML file
func LoadConfig(configPath string) (*ServiceConfig, error) {
	// Read the config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	config := ServiceConfig{
		Optimization: DefaultOptimizationConfig(),
	}
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	applyDefaults(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func applyDefaults(config *ServiceConfig) {
	if config.Port == 0 {
		config.Port = 8080
	}
	if config.MediaRoot == "" {
		config.MediaRoot = "media"
	}
	if config.MediaBaseURL == "" {
		config.MediaBaseURL = "/media"
	}
	if config.Database.Type == "" {
		config.Database.Type = "sqlite"
	}
	if config.Database.ConnectionString == "" {
		config.Database.ConnectionString = "gopix.db"
	}
	if config.Cache.TTLSeconds == 0 {
		config.Cache.TTLSeconds = 3600
	}
	if config.ThumbnailWidth == 0 {
		config.ThumbnailWidth = 480
	}
}

// validateConfig ensures the loaded configuration is internally consistent
func validateConfig(config *ServiceConfig) error {
	if config.Port < 0 || config.Port > 65535 {
		return fmt.Errorf("port out of range: %d", config.Port)
	}

	opt := config.Optimization
	if opt.AvifQuality < 1 || opt.AvifQuality > 100 {
		return fmt.Errorf("avifQuality must be between 1 and 100, got %d", opt.AvifQuality)
	}
	if opt.WebpQuality < 1 || opt.WebpQuality > 100 {
		return fmt.Errorf("webpQuality must be between 1 and 100, got %d", opt.WebpQuality)
	}
	if opt.MinSavingsPercent < 0 || opt.MinSavingsPercent > 100 {
		return fmt.Errorf("minSavingsPercent must be between 0 and 100, got %v", opt.MinSavingsPercent)
	}
	if opt.MinSourceSizeBytes < 0 {
		return fmt.Errorf("minSourceSizeBytes must not be negative, got %d", opt.MinSourceSizeBytes)
	}
	if opt.MaxDimension <= 0 {
		return fmt.Errorf("maxDimension must be positive, got %d", opt.MaxDimension)
	}
	if opt.TimeoutSeconds <= 0 {
		return fmt.Errorf("timeoutSeconds must be positive, got %d", opt.TimeoutSeconds)
	}

	return nil
}
