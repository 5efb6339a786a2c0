package config

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/trackfilter/internal/models"
)

func TestDefaultFilterConfig(t *testing.T) {
	cfg := DefaultFilterConfig()

	if cfg.GetModel() != "velocity" {
		t.Errorf("GetModel() = %q, want velocity", cfg.GetModel())
	}
	if cfg.GetOrder() != models.OrderVelocity {
		t.Errorf("GetOrder() = %v, want velocity", cfg.GetOrder())
	}
	if cfg.GetDims() != 1 {
		t.Errorf("GetDims() = %d, want 1", cfg.GetDims())
	}
	if cfg.GetResetDt() != 5*time.Second {
		t.Errorf("GetResetDt() = %v, want 5s", cfg.GetResetDt())
	}
	if cfg.GetLinearDt() != time.Second {
		t.Errorf("GetLinearDt() = %v, want 1s", cfg.GetLinearDt())
	}
	if cfg.GetGate() != 0 {
		t.Errorf("GetGate() = %v, want 0", cfg.GetGate())
	}
	if cfg.GetTheta() != 0 {
		t.Errorf("GetTheta() = %v, want 0", cfg.GetTheta())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestEmptyConfigFallsBack(t *testing.T) {
	cfg := &FilterConfig{}
	def := DefaultFilterConfig()

	if cfg.KinematicConfig() != def.KinematicConfig() {
		t.Errorf("KinematicConfig() = %+v, want %+v", cfg.KinematicConfig(), def.KinematicConfig())
	}
	if cfg.GetResetDt() != def.GetResetDt() || cfg.GetLinearDt() != def.GetLinearDt() {
		t.Errorf("durations do not fall back to defaults")
	}
}

func TestLoadFilterConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "filter.json")

	testJSON := `{
  "model": "acceleration",
  "dims": 2,
  "process_variance": 0.25,
  "reset_dt": "10s",
  "linear_dt": "500ms",
  "gate": 9.21,
  "theta": 0.01
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadFilterConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.GetOrder() != models.OrderAcceleration {
		t.Errorf("GetOrder() = %v, want acceleration", cfg.GetOrder())
	}
	if cfg.GetDims() != 2 {
		t.Errorf("GetDims() = %d, want 2", cfg.GetDims())
	}
	if cfg.GetProcessVariance() != 0.25 {
		t.Errorf("GetProcessVariance() = %v, want 0.25", cfg.GetProcessVariance())
	}
	if cfg.GetInitialVelocityVariance() != 100 {
		t.Errorf("omitted initial_velocity_variance should fall back, got %v", cfg.GetInitialVelocityVariance())
	}
	if cfg.GetResetDt() != 10*time.Second {
		t.Errorf("GetResetDt() = %v, want 10s", cfg.GetResetDt())
	}
	if cfg.GetLinearDt() != 500*time.Millisecond {
		t.Errorf("GetLinearDt() = %v, want 500ms", cfg.GetLinearDt())
	}
	if cfg.GetGate() != 9.21 {
		t.Errorf("GetGate() = %v, want 9.21", cfg.GetGate())
	}
	if cfg.GetTheta() != 0.01 {
		t.Errorf("GetTheta() = %v, want 0.01", cfg.GetTheta())
	}
}

func TestLoadFilterConfigErrors(t *testing.T) {
	tmpDir := t.TempDir()

	write := func(name, body string) string {
		p := filepath.Join(tmpDir, name)
		if err := os.WriteFile(p, []byte(body), 0644); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
		return p
	}

	tests := []struct {
		name    string
		path    string
		wantErr string
	}{
		{"missing", "/nonexistent/path/filter.json", "failed to stat"},
		{"extension", write("filter.yaml", "{}"), ".json extension"},
		{"syntax", write("broken.json", `{"dims": `), "failed to parse"},
		{"invalid", write("invalid.json", `{"dims": 0}`), "invalid configuration"},
		{"too large", write("large.json", `{"model": "`+strings.Repeat("x", 2*1024*1024)+`"}`), "too large"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFilterConfig(tt.path)
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *FilterConfig
		wantErr bool
	}{
		{"empty", &FilterConfig{}, false},
		{"defaults", DefaultFilterConfig(), false},
		{"unknown model", &FilterConfig{Model: ptrString("jerk")}, true},
		{"negative dims", &FilterConfig{Dims: ptrInt(-1)}, true},
		{"zero process variance", &FilterConfig{ProcessVariance: ptrFloat64(0)}, true},
		{"NaN velocity variance", &FilterConfig{InitialVelocityVariance: ptrFloat64(math.NaN())}, true},
		{"bad duration", &FilterConfig{ResetDt: ptrString("soon")}, true},
		{"negative duration", &FilterConfig{LinearDt: ptrString("-1s")}, true},
		{"both gates", &FilterConfig{Gate: ptrFloat64(9), GateProbability: ptrFloat64(0.99)}, true},
		{"negative gate", &FilterConfig{Gate: ptrFloat64(-1)}, true},
		{"probability out of range", &FilterConfig{GateProbability: ptrFloat64(1)}, true},
		{"negative theta", &FilterConfig{Theta: ptrFloat64(-0.1)}, true},
		{"gate disabled", &FilterConfig{Gate: ptrFloat64(0)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGateFromProbability(t *testing.T) {
	tests := []struct {
		p    float64
		dof  int
		want float64
	}{
		{0.99, 1, 6.634897},
		{0.99, 2, 9.210340},
		{0.999, 1, 10.827566},
	}
	for _, tt := range tests {
		got := GateFromProbability(tt.p, tt.dof)
		if math.Abs(got-tt.want) > 1e-5 {
			t.Errorf("GateFromProbability(%v, %d) = %v, want %v", tt.p, tt.dof, got, tt.want)
		}
	}

	cfg := &FilterConfig{Dims: ptrInt(2), GateProbability: ptrFloat64(0.99)}
	if math.Abs(cfg.GetGate()-9.210340) > 1e-5 {
		t.Errorf("GetGate() = %v, want chi-square 2-dof 99%% quantile", cfg.GetGate())
	}
}

func TestMustLoadDefaultConfig(t *testing.T) {
	cfg := MustLoadDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.GateProbability == nil {
		t.Fatalf("default config should set gate_probability")
	}
	if cfg.GetGate() <= 0 {
		t.Errorf("default gate should be enabled, got %v", cfg.GetGate())
	}
}
