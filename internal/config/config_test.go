package config

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/signalsfoundry/smallsat-twin/model"
	"github.com/signalsfoundry/smallsat-twin/timectrl"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Simulation.Step != time.Second || cfg.Simulation.TimeFactor != 1 {
		t.Fatalf("simulation step/factor = %s/%v, want 1s/1", cfg.Simulation.Step, cfg.Simulation.TimeFactor)
	}
	if cfg.Orbit.SemiMajorAxisKm != 6878.137 || cfg.Orbit.InclinationDeg != 97.4 || cfg.Orbit.RAANDeg != 22.5 {
		t.Fatalf("orbit defaults = %+v", cfg.Orbit)
	}
	if cfg.Network.TMPort != 10015 || cfg.Network.TCPort != 10025 {
		t.Fatalf("ports = %d/%d, want 10015/10025", cfg.Network.TMPort, cfg.Network.TCPort)
	}
	if cfg.CCSDS.APID != 100 || !cfg.CCSDS.SecondaryHeader {
		t.Fatalf("ccsds = %+v, want APID 100 with secondary header", cfg.CCSDS)
	}
	if cfg.GroundStation.Name != "Goonhilly" || cfg.GroundStation.MinElevationDeg != 10 {
		t.Fatalf("ground station = %+v", cfg.GroundStation)
	}
	if cfg.Subsystems.Power.BatteryVoltage != 7.4 || cfg.Subsystems.Power.Housekeeping.PowerDraw != 0.5 {
		t.Fatalf("power defaults = %+v", cfg.Subsystems.Power)
	}
	if cfg.Subsystems.Comms.TMBitrate != 115200 || cfg.Subsystems.Comms.Housekeeping.State != 1 {
		t.Fatalf("comms defaults = %+v", cfg.Subsystems.Comms)
	}
	if cfg.Observability.Tracing.Enabled || cfg.Observability.Tracing.ServiceName != "smallsat-twin" {
		t.Fatalf("tracing defaults = %+v", cfg.Observability.Tracing)
	}
}

func TestToSimConvertsUnits(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	sc, err := cfg.ToSim()
	if err != nil {
		t.Fatalf("ToSim: %v", err)
	}

	wantStart := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	if !sc.MissionStart.Equal(wantStart) || !sc.Orbit.Epoch.Equal(wantStart) {
		t.Fatalf("mission start = %s, epoch = %s, want %s", sc.MissionStart, sc.Orbit.Epoch, wantStart)
	}
	if math.Abs(sc.Orbit.Inclination-97.4*math.Pi/180) > 1e-12 {
		t.Fatalf("inclination = %v rad", sc.Orbit.Inclination)
	}
	if math.Abs(sc.Orbit.RAAN-22.5*math.Pi/180) > 1e-12 {
		t.Fatalf("raan = %v rad", sc.Orbit.RAAN)
	}
	if sc.ClockMode != timectrl.RealTime {
		t.Fatalf("clock mode = %s, want realtime", sc.ClockMode)
	}
	if sc.ADCS.Mode != model.ModeNadir || sc.ADCS.Quaternion != model.IdentityQuaternion {
		t.Fatalf("adcs = mode %s quaternion %v", sc.ADCS.Mode, sc.ADCS.Quaternion)
	}
	if sc.ADCS.TimeStep != time.Second {
		t.Fatalf("adcs time step = %s, want 1s", sc.ADCS.TimeStep)
	}
	if sc.GroundStation.LatitudeDeg != 50.0472 {
		t.Fatalf("ground station latitude = %v", sc.GroundStation.LatitudeDeg)
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("SIM_ORBIT_ECCENTRICITY", "0.01")
	t.Setenv("SIM_SIMULATION_STEP", "2s")
	t.Setenv("SIM_SIMULATION_CLOCK_MODE", "accelerated")
	t.Setenv("SIM_SUBSYSTEMS_COMMS_TM_BITRATE", "9600")
	t.Setenv("SIM_OBSERVABILITY_TRACING_ENABLED", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Orbit.Eccentricity != 0.01 {
		t.Fatalf("eccentricity = %v, want 0.01", cfg.Orbit.Eccentricity)
	}
	if cfg.Simulation.Step != 2*time.Second {
		t.Fatalf("step = %s, want 2s", cfg.Simulation.Step)
	}
	if cfg.Subsystems.Comms.TMBitrate != 9600 {
		t.Fatalf("tm bitrate = %d, want 9600", cfg.Subsystems.Comms.TMBitrate)
	}
	if !cfg.Observability.Tracing.Enabled {
		t.Fatalf("tracing not enabled by environment")
	}
	sc, err := cfg.ToSim()
	if err != nil {
		t.Fatalf("ToSim: %v", err)
	}
	if sc.ClockMode != timectrl.Accelerated {
		t.Fatalf("clock mode = %s, want accelerated", sc.ClockMode)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "twin.yaml")
	doc := `
orbit:
  inclination_deg: 51.6
  true_anomaly_deg: 90
ccsds:
  apid: 200
  secondary_header: false
adcs:
  mode: 2
  quaternion: [0, 0, 0.7071067811865476, 0.7071067811865476]
sinks:
  redis:
    enabled: true
    addr: redis:6379
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.CCSDS.APID != 200 || cfg.CCSDS.SecondaryHeader {
		t.Fatalf("ccsds = %+v", cfg.CCSDS)
	}
	if !cfg.Sinks.Redis.Enabled || cfg.Sinks.Redis.Transport().Addr != "redis:6379" {
		t.Fatalf("redis sink = %+v", cfg.Sinks.Redis)
	}
	if cfg.Sinks.Redis.KeyPrefix != "smallsat" {
		t.Fatalf("unset key prefix should keep default, got %q", cfg.Sinks.Redis.KeyPrefix)
	}
	// Keys absent from the file keep their defaults.
	if cfg.Orbit.SemiMajorAxisKm != 6878.137 {
		t.Fatalf("semi-major axis = %v, want default", cfg.Orbit.SemiMajorAxisKm)
	}

	sc, err := cfg.ToSim()
	if err != nil {
		t.Fatalf("ToSim: %v", err)
	}
	if math.Abs(sc.Orbit.TrueAnomaly-math.Pi/2) > 1e-12 {
		t.Fatalf("true anomaly = %v rad, want π/2", sc.Orbit.TrueAnomaly)
	}
	if sc.ADCS.Mode != model.ModeSunPointing {
		t.Fatalf("adcs mode = %s, want SUNPOINTING", sc.ADCS.Mode)
	}
	if math.Abs(sc.ADCS.Quaternion[2]-0.7071067811865476) > 1e-12 {
		t.Fatalf("quaternion = %v", sc.ADCS.Quaternion)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestLoadRejectsInvalidEnvironment(t *testing.T) {
	t.Setenv("SIM_CCSDS_APID", "4096")
	_, err := Load("")
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("Load error = %v, want ErrInvalid", err)
	}
	if !strings.Contains(err.Error(), "ccsds.apid") {
		t.Fatalf("error %q does not name ccsds.apid", err)
	}
}

func TestValidateRejects(t *testing.T) {
	base, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	cases := []struct {
		key    string
		mutate func(*Config)
	}{
		{"orbit.eccentricity", func(c *Config) { c.Orbit.Eccentricity = 1 }},
		{"orbit.eccentricity", func(c *Config) { c.Orbit.Eccentricity = -0.1 }},
		{"orbit.semi_major_axis_km", func(c *Config) { c.Orbit.SemiMajorAxisKm = 6000 }},
		{"simulation.step", func(c *Config) { c.Simulation.Step = 0 }},
		{"simulation.time_factor", func(c *Config) { c.Simulation.TimeFactor = 0 }},
		{"simulation.clock_mode", func(c *Config) { c.Simulation.ClockMode = "warp" }},
		{"simulation.mission_start", func(c *Config) { c.Simulation.MissionStart = "yesterday" }},
		{"ccsds.apid", func(c *Config) { c.CCSDS.APID = 2048 }},
		{"network.tm_port", func(c *Config) { c.Network.TMPort = 0 }},
		{"network.tc_port", func(c *Config) { c.Network.TCPort = 70000 }},
		{"adcs.mode", func(c *Config) { c.ADCS.Mode = 5 }},
		{"adcs.nominal_slew_rate_deg_s", func(c *Config) { c.ADCS.NominalSlewRateDegS = 0 }},
		{"adcs.accuracy_threshold_deg", func(c *Config) { c.ADCS.AccuracyThresholdDeg = -1 }},
		{"adcs.quaternion", func(c *Config) { c.ADCS.Quaternion = []float64{1, 0} }},
		{"environment.ephemeris", func(c *Config) { c.Environment.Ephemeris = "jpl" }},
	}
	for _, tc := range cases {
		cfg := base
		cfg.ADCS.Quaternion = append([]float64(nil), base.ADCS.Quaternion...)
		tc.mutate(&cfg)
		err := cfg.Validate()
		if !errors.Is(err, ErrInvalid) {
			t.Errorf("%s: Validate() = %v, want ErrInvalid", tc.key, err)
			continue
		}
		if !strings.Contains(err.Error(), tc.key) {
			t.Errorf("%s: error %q does not name the key", tc.key, err)
		}
	}
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.Orbit.Eccentricity = 2
	cfg.CCSDS.APID = 4000
	err = cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, key := range []string{"orbit.eccentricity", "ccsds.apid"} {
		if !strings.Contains(err.Error(), key) {
			t.Fatalf("error %q missing %s", err, key)
		}
	}
}
