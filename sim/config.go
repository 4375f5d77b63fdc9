package sim

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

// Default simulation parameters
const (
	DefaultParticles      = 100
	DefaultDT             = 0.1
	DefaultSteps          = 500
	DefaultSeed           = 1
	DefaultVelocity       = 1.0
	DefaultYawRate        = 0.1
	DefaultInputNoiseV    = 1.0
	DefaultInputNoiseYaw  = 30.0 * math.Pi / 180.0
	DefaultRangeNoise     = 0.2
	DefaultRangeVariance  = 0.04
	DefaultFilterNoiseV   = 2.0
	DefaultFilterNoiseYaw = 40.0 * math.Pi / 180.0
	DefaultMaxRange       = 20.0
)

// Particle resampling schemes
const (
	ResamplerSystematic  = "systematic"
	ResamplerMultinomial = "multinomial"
)

// DefaultLandmarks is the landmark field used when the config names none
var DefaultLandmarks = Landmarks{
	{X: 10.0, Y: 0.0},
	{X: 10.0, Y: 10.0},
	{X: 0.0, Y: 15.0},
	{X: -5.0, Y: 20.0},
}

// Config is simulation configuration. Fields omitted from a config file
// fall back to their defaults through the Get* methods.
type Config struct {
	// Filter params
	Particles      *int     `json:"particles,omitempty"`
	RangeVariance  *float64 `json:"range_variance,omitempty"`
	FilterNoiseV   *float64 `json:"filter_noise_v,omitempty"`
	FilterNoiseYaw *float64 `json:"filter_noise_yaw,omitempty"`
	Resampler      *string  `json:"resampler,omitempty"` // "systematic" or "multinomial"

	// Simulation params
	DT            *float64  `json:"dt,omitempty"`
	Steps         *int      `json:"steps,omitempty"`
	Seed          *uint64   `json:"seed,omitempty"`
	Velocity      *float64  `json:"velocity,omitempty"`
	YawRate       *float64  `json:"yaw_rate,omitempty"`
	InputNoiseV   *float64  `json:"input_noise_v,omitempty"`
	InputNoiseYaw *float64  `json:"input_noise_yaw,omitempty"`
	RangeNoise    *float64  `json:"range_noise,omitempty"`
	MaxRange      *float64  `json:"max_range,omitempty"`
	Landmarks     Landmarks `json:"landmarks,omitempty"`
}

// DefaultConfig returns a Config with all fields unset
func DefaultConfig() *Config {
	return &Config{}
}

// LoadConfig loads a Config from a JSON file and validates it.
func LoadConfig(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all set fields hold usable values.
func (c *Config) Validate() error {
	if c.Particles != nil && *c.Particles <= 0 {
		return fmt.Errorf("particles must be positive, got %d", *c.Particles)
	}
	if c.Steps != nil && *c.Steps <= 0 {
		return fmt.Errorf("steps must be positive, got %d", *c.Steps)
	}

	if c.Resampler != nil {
		switch *c.Resampler {
		case ResamplerSystematic, ResamplerMultinomial:
		default:
			return fmt.Errorf("unknown resampler %q", *c.Resampler)
		}
	}

	positive := []struct {
		name string
		v    *float64
	}{
		{"range_variance", c.RangeVariance},
		{"dt", c.DT},
		{"max_range", c.MaxRange},
	}
	for _, p := range positive {
		if p.v != nil && !(*p.v > 0) {
			return fmt.Errorf("%s must be positive, got %f", p.name, *p.v)
		}
	}

	nonNegative := []struct {
		name string
		v    *float64
	}{
		{"filter_noise_v", c.FilterNoiseV},
		{"filter_noise_yaw", c.FilterNoiseYaw},
		{"input_noise_v", c.InputNoiseV},
		{"input_noise_yaw", c.InputNoiseYaw},
		{"range_noise", c.RangeNoise},
	}
	for _, p := range nonNegative {
		if p.v != nil && !(*p.v >= 0) {
			return fmt.Errorf("%s must not be negative, got %f", p.name, *p.v)
		}
	}

	return nil
}

// GetParticles returns the number of filter particles
func (c *Config) GetParticles() int {
	if c.Particles == nil {
		return DefaultParticles
	}
	return *c.Particles
}

// GetRangeVariance returns the range error variance assumed by the filter
func (c *Config) GetRangeVariance() float64 {
	if c.RangeVariance == nil {
		return DefaultRangeVariance
	}
	return *c.RangeVariance
}

// GetFilterNoiseV returns the velocity noise scale used by the filter
func (c *Config) GetFilterNoiseV() float64 {
	if c.FilterNoiseV == nil {
		return DefaultFilterNoiseV
	}
	return *c.FilterNoiseV
}

// GetFilterNoiseYaw returns the yaw rate noise scale used by the filter
func (c *Config) GetFilterNoiseYaw() float64 {
	if c.FilterNoiseYaw == nil {
		return DefaultFilterNoiseYaw
	}
	return *c.FilterNoiseYaw
}

// GetResampler returns the particle resampling scheme
func (c *Config) GetResampler() string {
	if c.Resampler == nil {
		return ResamplerSystematic
	}
	return *c.Resampler
}

// GetDT returns the simulation time step
func (c *Config) GetDT() float64 {
	if c.DT == nil {
		return DefaultDT
	}
	return *c.DT
}

// GetSteps returns the number of simulation steps
func (c *Config) GetSteps() int {
	if c.Steps == nil {
		return DefaultSteps
	}
	return *c.Steps
}

// GetSeed returns the seed all random streams are derived from
func (c *Config) GetSeed() uint64 {
	if c.Seed == nil {
		return DefaultSeed
	}
	return *c.Seed
}

// GetVelocity returns the commanded velocity
func (c *Config) GetVelocity() float64 {
	if c.Velocity == nil {
		return DefaultVelocity
	}
	return *c.Velocity
}

// GetYawRate returns the commanded yaw rate
func (c *Config) GetYawRate() float64 {
	if c.YawRate == nil {
		return DefaultYawRate
	}
	return *c.YawRate
}

// GetInputNoiseV returns the standard deviation of the simulated velocity input noise
func (c *Config) GetInputNoiseV() float64 {
	if c.InputNoiseV == nil {
		return DefaultInputNoiseV
	}
	return *c.InputNoiseV
}

// GetInputNoiseYaw returns the standard deviation of the simulated yaw rate input noise
func (c *Config) GetInputNoiseYaw() float64 {
	if c.InputNoiseYaw == nil {
		return DefaultInputNoiseYaw
	}
	return *c.InputNoiseYaw
}

// GetRangeNoise returns the standard deviation of the simulated range noise
func (c *Config) GetRangeNoise() float64 {
	if c.RangeNoise == nil {
		return DefaultRangeNoise
	}
	return *c.RangeNoise
}

// GetMaxRange returns the sensing range
func (c *Config) GetMaxRange() float64 {
	if c.MaxRange == nil {
		return DefaultMaxRange
	}
	return *c.MaxRange
}

// GetLandmarks returns the landmark field
func (c *Config) GetLandmarks() Landmarks {
	if len(c.Landmarks) == 0 {
		return DefaultLandmarks
	}
	return c.Landmarks
}
