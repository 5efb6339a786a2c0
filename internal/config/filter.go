package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/trackfilter/internal/models"
)

// DefaultConfigPath is the path to the canonical filter defaults file.
const DefaultConfigPath = "config/filter.defaults.json"

// Fallbacks used by the Get* methods when a field is omitted.
const (
	defaultModel                       = "velocity"
	defaultDims                        = 1
	defaultProcessVariance             = 1.0
	defaultInitialVelocityVariance     = 100.0
	defaultInitialAccelerationVariance = 10.0
	defaultResetDt                     = 5 * time.Second
	defaultLinearDt                    = time.Second
)

// FilterConfig is the tuning of a filter session and its kinematic model.
// Every field is optional; the Get* methods supply defaults.
type FilterConfig struct {
	// Model
	Model                       *string  `json:"model,omitempty"` // position, velocity or acceleration
	Dims                        *int     `json:"dims,omitempty"`
	ProcessVariance             *float64 `json:"process_variance,omitempty"`
	InitialVelocityVariance     *float64 `json:"initial_velocity_variance,omitempty"`
	InitialAccelerationVariance *float64 `json:"initial_acceleration_variance,omitempty"`

	// Session cadence
	ResetDt  *string `json:"reset_dt,omitempty"`  // duration string like "5s"
	LinearDt *string `json:"linear_dt,omitempty"` // duration string like "1s"

	// Update options. Gate and GateProbability are mutually exclusive.
	Gate            *float64 `json:"gate,omitempty"`
	GateProbability *float64 `json:"gate_probability,omitempty"`
	Theta           *float64 `json:"theta,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// DefaultFilterConfig returns a config with every field set to its fallback.
func DefaultFilterConfig() *FilterConfig {
	return &FilterConfig{
		Model:                       ptrString(defaultModel),
		Dims:                        ptrInt(defaultDims),
		ProcessVariance:             ptrFloat64(defaultProcessVariance),
		InitialVelocityVariance:     ptrFloat64(defaultInitialVelocityVariance),
		InitialAccelerationVariance: ptrFloat64(defaultInitialAccelerationVariance),
		ResetDt:                     ptrString(defaultResetDt.String()),
		LinearDt:                    ptrString(defaultLinearDt.String()),
	}
}

// LoadFilterConfig loads a FilterConfig from a JSON file.
// The file must have a .json extension and be under 1MB. Fields omitted from
// the file fall back to defaults, so partial configs are safe.
func LoadFilterConfig(path string) (*FilterConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &FilterConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents. Panics if the file cannot be loaded; intended
// for test setup.
func MustLoadDefaultConfig() *FilterConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadFilterConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configured values are usable.
func (c *FilterConfig) Validate() error {
	if c.Model != nil {
		if _, err := models.ParseOrder(*c.Model); err != nil {
			return err
		}
	}
	if c.Dims != nil && *c.Dims <= 0 {
		return fmt.Errorf("dims must be positive, got %d", *c.Dims)
	}
	for name, v := range map[string]*float64{
		"process_variance":              c.ProcessVariance,
		"initial_velocity_variance":     c.InitialVelocityVariance,
		"initial_acceleration_variance": c.InitialAccelerationVariance,
	} {
		if v != nil && !(*v > 0) {
			return fmt.Errorf("%s must be positive, got %v", name, *v)
		}
	}
	for name, v := range map[string]*string{"reset_dt": c.ResetDt, "linear_dt": c.LinearDt} {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.Gate != nil && c.GateProbability != nil {
		return fmt.Errorf("gate and gate_probability are mutually exclusive")
	}
	if c.Gate != nil && !(*c.Gate >= 0) {
		return fmt.Errorf("gate must be non-negative, got %v", *c.Gate)
	}
	if c.GateProbability != nil && !(*c.GateProbability > 0 && *c.GateProbability < 1) {
		return fmt.Errorf("gate_probability must be in (0, 1), got %v", *c.GateProbability)
	}
	if c.Theta != nil && !(*c.Theta >= 0) {
		return fmt.Errorf("theta must be non-negative, got %v", *c.Theta)
	}
	return nil
}

// GetModel returns the model name or the default.
func (c *FilterConfig) GetModel() string {
	if c.Model == nil || *c.Model == "" {
		return defaultModel
	}
	return *c.Model
}

// GetOrder parses the model name, falling back to constant velocity.
func (c *FilterConfig) GetOrder() models.Order {
	o, err := models.ParseOrder(c.GetModel())
	if err != nil {
		return models.OrderVelocity
	}
	return o
}

// GetDims returns the number of spatial dimensions or the default.
func (c *FilterConfig) GetDims() int {
	if c.Dims == nil {
		return defaultDims
	}
	return *c.Dims
}

// GetProcessVariance returns the process noise spectral density or the default.
func (c *FilterConfig) GetProcessVariance() float64 {
	if c.ProcessVariance == nil {
		return defaultProcessVariance
	}
	return *c.ProcessVariance
}

// GetInitialVelocityVariance returns the initial velocity variance or the default.
func (c *FilterConfig) GetInitialVelocityVariance() float64 {
	if c.InitialVelocityVariance == nil {
		return defaultInitialVelocityVariance
	}
	return *c.InitialVelocityVariance
}

// GetInitialAccelerationVariance returns the initial acceleration variance or the default.
func (c *FilterConfig) GetInitialAccelerationVariance() float64 {
	if c.InitialAccelerationVariance == nil {
		return defaultInitialAccelerationVariance
	}
	return *c.InitialAccelerationVariance
}

// GetResetDt returns reset_dt as a time.Duration.
func (c *FilterConfig) GetResetDt() time.Duration {
	return parseDurationOr(c.ResetDt, defaultResetDt)
}

// GetLinearDt returns linear_dt as a time.Duration.
func (c *FilterConfig) GetLinearDt() time.Duration {
	return parseDurationOr(c.LinearDt, defaultLinearDt)
}

// GetGate returns the squared Mahalanobis gate. A gate_probability is turned
// into the chi-square quantile at the measurement dof. Zero disables gating.
func (c *FilterConfig) GetGate() float64 {
	if c.Gate != nil {
		return *c.Gate
	}
	if c.GateProbability != nil {
		return GateFromProbability(*c.GateProbability, c.GetDims())
	}
	return 0
}

// GetTheta returns the H-infinity risk parameter; zero selects the standard gain.
func (c *FilterConfig) GetTheta() float64 {
	if c.Theta == nil {
		return 0
	}
	return *c.Theta
}

// KinematicConfig returns the model noise parameters.
func (c *FilterConfig) KinematicConfig() models.KinematicConfig {
	return models.KinematicConfig{
		ProcessVariance:             c.GetProcessVariance(),
		InitialVelocityVariance:     c.GetInitialVelocityVariance(),
		InitialAccelerationVariance: c.GetInitialAccelerationVariance(),
	}
}

// GateFromProbability returns the squared distance below which a consistent
// measurement with dof degrees of freedom falls with probability p.
func GateFromProbability(p float64, dof int) float64 {
	return distuv.ChiSquared{K: float64(dof)}.Quantile(p)
}

func parseDurationOr(s *string, fallback time.Duration) time.Duration {
	if s == nil || *s == "" {
		return fallback
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return fallback
	}
	return d
}
