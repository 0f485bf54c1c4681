package extract

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultFPS   = 30.0
	DefaultCodec = "mp4v"
)

// Config describes a single extraction.
type Config struct {
	Topic  string
	Output string // Empty means the default output path.
	FPS    float64
	Codec  string
}

// Settings is a partial configuration; nil fields are unset.
type Settings struct {
	Topic  *string
	Output *string
	FPS    *float64
	Codec  *string
}

// apply copies every set field onto the config.
func (s Settings) apply(config *Config) {
	if s.Topic != nil {
		config.Topic = *s.Topic
	}
	if s.Output != nil {
		config.Output = *s.Output
	}
	if s.FPS != nil {
		config.FPS = *s.FPS
	}
	if s.Codec != nil {
		config.Codec = *s.Codec
	}
}

// fileSettings is the layout of a configuration file.
type fileSettings struct {
	Topic      *string  `yaml:"topic"`
	FPS        *float64 `yaml:"fps"`
	Codec      *string  `yaml:"codec"`
	Output     *string  `yaml:"output"`
	OutputPath *string  `yaml:"output_path"`
}

// ParseConfig parses a YAML configuration document.
//
// Unknown keys are ignored; `output_path` is accepted in place of `output`.
func ParseConfig(data []byte) (Settings, error) {
	var file fileSettings
	err := yaml.Unmarshal(data, &file)
	if err != nil {
		return Settings{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	settings := Settings{
		Topic:  file.Topic,
		FPS:    file.FPS,
		Codec:  file.Codec,
		Output: file.Output,
	}
	if settings.Output == nil {
		settings.Output = file.OutputPath
	}
	return settings, nil
}

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(filename string) (Settings, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return Settings{}, fmt.Errorf("%w: could not read config file: %v", ErrInvalidConfig, err)
	}
	settings, err := ParseConfig(data)
	if err != nil {
		return Settings{}, fmt.Errorf("%s: %w", filename, err)
	}
	return settings, nil
}

// ResolveConfig merges the explicit settings over the config file (if any) over the
// defaults, and validates the result.
func ResolveConfig(explicit Settings, configFilename string) (Config, error) {
	config := Config{
		FPS:   DefaultFPS,
		Codec: DefaultCodec,
	}
	if configFilename != "" {
		file, err := LoadConfigFile(configFilename)
		if err != nil {
			return Config{}, err
		}
		file.apply(&config)
	}
	explicit.apply(&config)

	err := config.Validate()
	if err != nil {
		return Config{}, err
	}
	return config, nil
}

// Validate checks the fields that do not depend on the system.
func (c Config) Validate() error {
	if c.Topic == "" {
		return fmt.Errorf("%w: missing topic", ErrInvalidConfig)
	}
	if c.FPS <= 0 {
		return fmt.Errorf("%w: fps must be positive (got %v)", ErrInvalidConfig, c.FPS)
	}
	if c.Codec == "" {
		return fmt.Errorf("%w: missing codec", ErrInvalidConfig)
	}
	return nil
}
