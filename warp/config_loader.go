package warp

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the warpmesh configuration file.
type Config struct {
	Dimensions int           `yaml:"dimensions" json:"dimensions"`
	Model      Model         `yaml:"model" json:"model"`
	Landmarks  string        `yaml:"landmarks,omitempty" json:"landmarks,omitempty"`
	Inverse    InverseConfig `yaml:"inverse" json:"inverse"`
	Mask       *MaskConfig   `yaml:"mask,omitempty" json:"mask,omitempty"`
	Grid       GridConfig    `yaml:"grid,omitempty" json:"grid,omitempty"`
	MQTT       MQTTConfig    `yaml:"mqtt" json:"mqtt"`
	HTTP       HTTPConfig    `yaml:"http" json:"http"`
}

// InverseConfig holds the two iterative inverse parameter sets. They are
// kept apart on purpose: previews trade accuracy for latency.
type InverseConfig struct {
	Transform InverseOptions `yaml:"transform" json:"transform"`
	Preview   InverseOptions `yaml:"preview" json:"preview"`
}

// MaskConfig describes a masked solve: a Local model blended into the
// global one inside a radial falloff.
type MaskConfig struct {
	Local  Model     `yaml:"local" json:"local"`
	Center []float64 `yaml:"center" json:"center"`
	Radius float64   `yaml:"radius" json:"radius"`
	Width  float64   `yaml:"width" json:"width"`
	Kind   string    `yaml:"kind,omitempty" json:"kind,omitempty"`
}

// GridConfig is the default spacing for the grid command.
type GridConfig struct {
	Step float64 `yaml:"step,omitempty" json:"step,omitempty"`
}

// MQTTConfig holds MQTT connection settings. An empty Broker disables MQTT.
type MQTTConfig struct {
	Broker        string `yaml:"broker" json:"broker"`
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix"`
	ClientID      string `yaml:"clientId" json:"clientId"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"-"`
}

// HTTPConfig holds the API listener settings.
type HTTPConfig struct {
	Port int `yaml:"port" json:"port"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Dimensions: 2,
		Model:      ModelTPS,
		Inverse: InverseConfig{
			Transform: DefaultTransformInverse(),
			Preview:   DefaultPreviewInverse(),
		},
		Grid: GridConfig{Step: 10},
		MQTT: MQTTConfig{PublishPrefix: "warpmesh", ClientID: "warpmesh"},
		HTTP: HTTPConfig{Port: 8080},
	}
}

// LoadConfig loads a YAML configuration on top of DefaultConfig, applies the
// MQTT environment overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	config.ApplyEnv()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// ApplyEnv overrides MQTT settings from MQTT_BROKER, MQTT_CLIENT_ID,
// MQTT_USERNAME, MQTT_PASSWORD and MQTT_PUBLISH_PREFIX when they are set.
func (c *Config) ApplyEnv() {
	overrides := []struct {
		env string
		dst *string
	}{
		{"MQTT_BROKER", &c.MQTT.Broker},
		{"MQTT_CLIENT_ID", &c.MQTT.ClientID},
		{"MQTT_USERNAME", &c.MQTT.Username},
		{"MQTT_PASSWORD", &c.MQTT.Password},
		{"MQTT_PUBLISH_PREFIX", &c.MQTT.PublishPrefix},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.dst = v
		}
	}
}

// Validate checks field ranges.
func (c *Config) Validate() error {
	if c.Dimensions != 2 && c.Dimensions != 3 {
		return fmt.Errorf("dimensions must be 2 or 3, got %d", c.Dimensions)
	}
	for name, o := range map[string]InverseOptions{
		"inverse.transform": c.Inverse.Transform,
		"inverse.preview":   c.Inverse.Preview,
	} {
		if o.Tolerance <= 0 {
			return fmt.Errorf("%s.tolerance must be positive", name)
		}
		if o.MaxIterations <= 0 {
			return fmt.Errorf("%s.maxIterations must be positive", name)
		}
		if o.ReliableError < 0 {
			return fmt.Errorf("%s.reliableError must not be negative", name)
		}
	}
	if m := c.Mask; m != nil {
		if len(m.Center) != c.Dimensions {
			return fmt.Errorf("mask.center has %d coordinates, want %d", len(m.Center), c.Dimensions)
		}
		if m.Radius < 0 || m.Width < 0 {
			return fmt.Errorf("mask.radius and mask.width must not be negative")
		}
		if _, err := ParseFalloffKind(m.Kind); err != nil {
			return fmt.Errorf("mask.kind: %w", err)
		}
	}
	if c.Grid.Step < 0 {
		return fmt.Errorf("grid.step must not be negative")
	}
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port %d out of range", c.HTTP.Port)
	}
	if c.MQTT.Broker != "" && c.MQTT.PublishPrefix == "" {
		return fmt.Errorf("mqtt.publishPrefix is required when mqtt.broker is set")
	}
	return nil
}

// WeightField returns the radial falloff described by the mask.
func (m *MaskConfig) WeightField() (RadialFalloff, error) {
	kind, err := ParseFalloffKind(m.Kind)
	if err != nil {
		return RadialFalloff{}, err
	}
	return RadialFalloff{Center: Point(m.Center).Clone(), Radius: m.Radius, Width: m.Width, Kind: kind}, nil
}

// SolveOptions returns the solver options implied by the configuration.
func (c *Config) SolveOptions() SolveOptions {
	return SolveOptions{Inverse: c.Inverse.Transform}
}

// TableOptions returns the table options implied by the configuration.
func (c *Config) TableOptions() []TableOption {
	return []TableOption{
		WithPreviewInverse(c.Inverse.Preview),
		WithSolveOptions(c.SolveOptions()),
	}
}
