package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds application configuration.
type Config struct {
	// DataDir is the root under which annotation_projects lives.
	DataDir string `yaml:"data_dir"`

	Detector struct {
		Endpoint     string        `yaml:"endpoint"`
		Model        string        `yaml:"model"`
		Confidence   float64       `yaml:"confidence"`
		IoUThreshold float64       `yaml:"iou_threshold"`
		MaxImageDim  int           `yaml:"max_image_dim"`
		JPEGQuality  int           `yaml:"jpeg_quality"`
		Timeout      time.Duration `yaml:"timeout"`
	} `yaml:"detector"`

	// DefaultClasses seeds projects that have never saved a class list.
	DefaultClasses []string `yaml:"default_classes"`
}

// LoadConfig loads configuration from a YAML file and applies defaults.
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}

	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	config.applyDefaults()
	return config, nil
}

// Default returns a configuration with all defaults applied, used when
// no config file is present.
func Default() *Config {
	config := &Config{}
	config.applyDefaults()
	return config
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.Detector.Endpoint == "" {
		c.Detector.Endpoint = "http://localhost:11434"
	}
	if c.Detector.Model == "" {
		c.Detector.Model = "qwen2.5vl"
	}
	if c.Detector.Confidence == 0 {
		c.Detector.Confidence = 0.25
	}
	if c.Detector.IoUThreshold == 0 {
		c.Detector.IoUThreshold = 0.45
	}
	if c.Detector.MaxImageDim == 0 {
		c.Detector.MaxImageDim = 1024
	}
	if c.Detector.JPEGQuality == 0 {
		c.Detector.JPEGQuality = 85
	}
	if c.Detector.Timeout == 0 {
		c.Detector.Timeout = 5 * time.Minute
	}

	// Expand environment variables in the endpoint.
	c.Detector.Endpoint = os.ExpandEnv(c.Detector.Endpoint)
}
