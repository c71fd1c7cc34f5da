// Package config loads simulator settings from defaults, an optional config
// file and SIM_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/soniakeys/unit"
	"github.com/spf13/viper"

	"github.com/signalsfoundry/smallsat-twin/core"
	"github.com/signalsfoundry/smallsat-twin/internal/adcs"
	"github.com/signalsfoundry/smallsat-twin/internal/housekeeping"
	"github.com/signalsfoundry/smallsat-twin/internal/observability"
	"github.com/signalsfoundry/smallsat-twin/internal/sim"
	"github.com/signalsfoundry/smallsat-twin/internal/subsystems"
	"github.com/signalsfoundry/smallsat-twin/internal/transport"
	"github.com/signalsfoundry/smallsat-twin/model"
	"github.com/signalsfoundry/smallsat-twin/timectrl"
)

// EnvPrefix is prepended to every environment override, e.g.
// SIM_ORBIT_ECCENTRICITY for orbit.eccentricity.
const EnvPrefix = "SIM"

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the complete simulator configuration.
type Config struct {
	Simulation    SimulationConfig    `mapstructure:"simulation"`
	Orbit         OrbitConfig         `mapstructure:"orbit"`
	Environment   EnvironmentConfig   `mapstructure:"environment"`
	GroundStation GroundStationConfig `mapstructure:"ground_station"`
	ADCS          ADCSConfig          `mapstructure:"adcs"`
	Subsystems    SubsystemsConfig    `mapstructure:"subsystems"`
	CCSDS         CCSDSConfig         `mapstructure:"ccsds"`
	Network       NetworkConfig       `mapstructure:"network"`
	Sinks         SinksConfig         `mapstructure:"sinks"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Logging       LoggingConfig       `mapstructure:"logging"`
}

type SimulationConfig struct {
	MissionStart  string        `mapstructure:"mission_start"` // RFC3339
	Step          time.Duration `mapstructure:"step"`
	TimeFactor    float64       `mapstructure:"time_factor"`
	ClockMode     string        `mapstructure:"clock_mode"` // realtime | accelerated
	QueueCapacity int           `mapstructure:"queue_capacity"`
	Duration      time.Duration `mapstructure:"duration"` // 0 runs until stopped
}

// OrbitConfig holds the initial element set. Angles are in degrees.
type OrbitConfig struct {
	SemiMajorAxisKm float64       `mapstructure:"semi_major_axis_km"`
	Eccentricity    float64       `mapstructure:"eccentricity"`
	InclinationDeg  float64       `mapstructure:"inclination_deg"`
	RAANDeg         float64       `mapstructure:"raan_deg"`
	ArgPerigeeDeg   float64       `mapstructure:"arg_perigee_deg"`
	TrueAnomalyDeg  float64       `mapstructure:"true_anomaly_deg"`
	J2Step          time.Duration `mapstructure:"j2_step"`
}

type EnvironmentConfig struct {
	Ephemeris string `mapstructure:"ephemeris"` // circular | meeus
}

type GroundStationConfig struct {
	Name            string  `mapstructure:"name"`
	LatitudeDeg     float64 `mapstructure:"latitude_deg"`
	LongitudeDeg    float64 `mapstructure:"longitude_deg"`
	AltitudeKm      float64 `mapstructure:"altitude_km"`
	MinElevationDeg float64 `mapstructure:"min_elevation_deg"`
}

type ADCSConfig struct {
	Housekeeping housekeeping.Config `mapstructure:",squash"`

	Mode                 uint8     `mapstructure:"mode"`
	Quaternion           []float64 `mapstructure:"quaternion"` // x, y, z, w
	AccuracyThresholdDeg float64   `mapstructure:"accuracy_threshold_deg"`
	NominalSlewRateDegS  float64   `mapstructure:"nominal_slew_rate_deg_s"`
	MaxSlewRateDegS      float64   `mapstructure:"max_slew_rate_deg_s"`
}

type CDHConfig struct {
	Housekeeping housekeeping.Config `mapstructure:",squash"`
	Mode         uint8               `mapstructure:"mode"`
}

type SubsystemsConfig struct {
	OBC       subsystems.OBCConfig       `mapstructure:"obc"`
	CDH       CDHConfig                  `mapstructure:"cdh"`
	Power     subsystems.PowerConfig     `mapstructure:"power"`
	Comms     subsystems.CommsConfig     `mapstructure:"comms"`
	Payload   subsystems.PayloadConfig   `mapstructure:"payload"`
	Datastore subsystems.DatastoreConfig `mapstructure:"datastore"`
}

type CCSDSConfig struct {
	APID            uint16 `mapstructure:"apid"`
	SecondaryHeader bool   `mapstructure:"secondary_header"`
}

// NetworkConfig is the UDP link to the ground segment.
type NetworkConfig struct {
	Host   string `mapstructure:"host"`
	TMPort int    `mapstructure:"tm_port"`
	TCPort int    `mapstructure:"tc_port"`
}

// UDP returns the transport settings for the link.
func (n NetworkConfig) UDP() transport.UDPConfig {
	return transport.UDPConfig{Host: n.Host, TMPort: n.TMPort, TCPort: n.TCPort}
}

type SinksConfig struct {
	NATS      NATSConfig      `mapstructure:"nats"`
	Redis     RedisConfig     `mapstructure:"redis"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
}

type NATSConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

type RedisConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Addr       string `mapstructure:"addr"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	KeyPrefix  string `mapstructure:"key_prefix"`
	ArchiveLen int64  `mapstructure:"archive_len"`
}

// Transport returns the sink settings for the Redis client.
func (r RedisConfig) Transport() transport.RedisConfig {
	return transport.RedisConfig{
		Addr:       r.Addr,
		Password:   r.Password,
		DB:         r.DB,
		KeyPrefix:  r.KeyPrefix,
		ArchiveLen: r.ArchiveLen,
	}
}

type WebSocketConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	Path    string `mapstructure:"path"`
}

type ObservabilityConfig struct {
	MetricsAddr string                      `mapstructure:"metrics_addr"`
	HealthAddr  string                      `mapstructure:"health_addr"`
	Tracing     observability.TracingConfig `mapstructure:"tracing"`
}

type LoggingConfig struct {
	Level     string `mapstructure:"level"`
	Format    string `mapstructure:"format"`
	AddSource bool   `mapstructure:"add_source"`
}

// SetDefaults registers a default for every key so that environment
// overrides resolve through Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("simulation.mission_start", "2025-01-01T00:00:00Z")
	v.SetDefault("simulation.step", "1s")
	v.SetDefault("simulation.time_factor", 1.0)
	v.SetDefault("simulation.clock_mode", "realtime")
	v.SetDefault("simulation.queue_capacity", 64)
	v.SetDefault("simulation.duration", "0s")

	v.SetDefault("orbit.semi_major_axis_km", 6878.137)
	v.SetDefault("orbit.eccentricity", 0.0001)
	v.SetDefault("orbit.inclination_deg", 97.4)
	v.SetDefault("orbit.raan_deg", 22.5)
	v.SetDefault("orbit.arg_perigee_deg", 0.0)
	v.SetDefault("orbit.true_anomaly_deg", 0.0)
	v.SetDefault("orbit.j2_step", "1s")

	v.SetDefault("environment.ephemeris", core.EphemerisCircular)

	v.SetDefault("ground_station.name", "Goonhilly")
	v.SetDefault("ground_station.latitude_deg", 50.0472)
	v.SetDefault("ground_station.longitude_deg", -5.1831)
	v.SetDefault("ground_station.altitude_km", 0.114)
	v.SetDefault("ground_station.min_elevation_deg", 10.0)

	setHousekeepingDefaults(v, "adcs", 0.3)
	v.SetDefault("adcs.mode", uint8(model.ModeNadir))
	v.SetDefault("adcs.quaternion", []float64{0, 0, 0, 1})
	v.SetDefault("adcs.accuracy_threshold_deg", 0.5)
	v.SetDefault("adcs.nominal_slew_rate_deg_s", 1.0)
	v.SetDefault("adcs.max_slew_rate_deg_s", 3.0)

	setHousekeepingDefaults(v, "subsystems.obc", 0.3)
	v.SetDefault("subsystems.obc.mode", subsystems.OBCModeNominal)

	setHousekeepingDefaults(v, "subsystems.cdh", 0.3)
	v.SetDefault("subsystems.cdh.mode", 1)

	setHousekeepingDefaults(v, "subsystems.power", 0.5)
	v.SetDefault("subsystems.power.battery_voltage", 7.4)
	v.SetDefault("subsystems.power.battery_capacity_ah", 10.0)
	v.SetDefault("subsystems.power.battery_charge", 100.0)
	v.SetDefault("subsystems.power.charge_efficiency", 0.95)
	v.SetDefault("subsystems.power.discharge_efficiency", 0.95)
	v.SetDefault("subsystems.power.panel_area_x", 0.03)
	v.SetDefault("subsystems.power.panel_area_y", 0.1)
	v.SetDefault("subsystems.power.panel_efficiency", 0.3)

	setHousekeepingDefaults(v, "subsystems.comms", 0.4)
	v.SetDefault("subsystems.comms.mode", subsystems.CommsModeTXRX)
	v.SetDefault("subsystems.comms.tm_bitrate", 115200)
	v.SetDefault("subsystems.comms.tc_bitrate", 9600)

	setHousekeepingDefaults(v, "subsystems.payload", 0.6)
	v.SetDefault("subsystems.payload.data_rate_bps", 1024.0)

	setHousekeepingDefaults(v, "subsystems.datastore", 0.2)
	v.SetDefault("subsystems.datastore.storage_total_mb", 1024.0)
	v.SetDefault("subsystems.datastore.read_speed_mbps", 5.0)

	v.SetDefault("ccsds.apid", 100)
	v.SetDefault("ccsds.secondary_header", true)

	v.SetDefault("network.host", "localhost")
	v.SetDefault("network.tm_port", 10015)
	v.SetDefault("network.tc_port", 10025)

	v.SetDefault("sinks.nats.enabled", false)
	v.SetDefault("sinks.nats.url", "nats://localhost:4222")
	v.SetDefault("sinks.nats.subject", "smallsat")
	v.SetDefault("sinks.redis.enabled", false)
	v.SetDefault("sinks.redis.addr", "localhost:6379")
	v.SetDefault("sinks.redis.password", "")
	v.SetDefault("sinks.redis.db", 0)
	v.SetDefault("sinks.redis.key_prefix", "smallsat")
	v.SetDefault("sinks.redis.archive_len", 3600)
	v.SetDefault("sinks.websocket.enabled", false)
	v.SetDefault("sinks.websocket.addr", ":8081")
	v.SetDefault("sinks.websocket.path", "/ws")

	v.SetDefault("observability.metrics_addr", ":9090")
	v.SetDefault("observability.health_addr", ":50051")
	v.SetDefault("observability.tracing.enabled", false)
	v.SetDefault("observability.tracing.service_name", "smallsat-twin")
	v.SetDefault("observability.tracing.exporter", "stdout")
	v.SetDefault("observability.tracing.endpoint", "")
	v.SetDefault("observability.tracing.sample_ratio", 1.0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.add_source", false)
}

func setHousekeepingDefaults(v *viper.Viper, prefix string, powerDraw float64) {
	v.SetDefault(prefix+".state", 1)
	v.SetDefault(prefix+".temperature", 20.0)
	v.SetDefault(prefix+".heater_on", false)
	v.SetDefault(prefix+".heater_setpoint", 20.0)
	v.SetDefault(prefix+".power_draw", powerDraw)
}

// Load reads defaults, then the file at path when non-empty, then SIM_*
// environment overrides, and validates the result.
func Load(path string) (Config, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every out-of-range setting at once.
func (c Config) Validate() error {
	var errs []error
	bad := func(key, format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s: %s", ErrInvalid, key, fmt.Sprintf(format, args...)))
	}

	if _, err := c.MissionStart(); err != nil {
		bad("simulation.mission_start", "%v", err)
	}
	if c.Simulation.Step <= 0 {
		bad("simulation.step", "must be positive, got %s", c.Simulation.Step)
	}
	if !(c.Simulation.TimeFactor > 0) {
		bad("simulation.time_factor", "must be positive, got %v", c.Simulation.TimeFactor)
	}
	switch c.Simulation.ClockMode {
	case timectrl.RealTime.String(), timectrl.Accelerated.String():
	default:
		bad("simulation.clock_mode", "unknown mode %q", c.Simulation.ClockMode)
	}
	if c.Simulation.QueueCapacity <= 0 {
		bad("simulation.queue_capacity", "must be positive, got %d", c.Simulation.QueueCapacity)
	}
	if c.Simulation.Duration < 0 {
		bad("simulation.duration", "must not be negative")
	}

	if !(c.Orbit.Eccentricity >= 0 && c.Orbit.Eccentricity < 1) {
		bad("orbit.eccentricity", "%v outside [0, 1)", c.Orbit.Eccentricity)
	}
	if !(c.Orbit.SemiMajorAxisKm > core.EarthRadiusKm) {
		bad("orbit.semi_major_axis_km", "%v km is not above the Earth radius", c.Orbit.SemiMajorAxisKm)
	}
	if _, err := core.NewEphemerides(c.Environment.Ephemeris); err != nil {
		bad("environment.ephemeris", "%v", err)
	}
	if c.GroundStation.LatitudeDeg < -90 || c.GroundStation.LatitudeDeg > 90 {
		bad("ground_station.latitude_deg", "%v outside [-90, 90]", c.GroundStation.LatitudeDeg)
	}

	if !model.ADCSMode(c.ADCS.Mode).Valid() {
		bad("adcs.mode", "%d > %d", c.ADCS.Mode, model.MaxADCSMode)
	}
	if !(c.ADCS.NominalSlewRateDegS > 0) {
		bad("adcs.nominal_slew_rate_deg_s", "must be positive, got %v", c.ADCS.NominalSlewRateDegS)
	}
	if !(c.ADCS.AccuracyThresholdDeg > 0) {
		bad("adcs.accuracy_threshold_deg", "must be positive, got %v", c.ADCS.AccuracyThresholdDeg)
	}
	if n := len(c.ADCS.Quaternion); n != 0 && n != 4 {
		bad("adcs.quaternion", "want 4 components, got %d", n)
	}

	if c.CCSDS.APID > 0x7FF {
		bad("ccsds.apid", "%d exceeds 11 bits", c.CCSDS.APID)
	}
	for key, port := range map[string]int{"network.tm_port": c.Network.TMPort, "network.tc_port": c.Network.TCPort} {
		if port < 1 || port > 65535 {
			bad(key, "%d outside 1..65535", port)
		}
	}
	if c.Subsystems.Datastore.StorageTotalMB < 0 {
		bad("subsystems.datastore.storage_total_mb", "must not be negative")
	}
	if c.Sinks.NATS.Enabled && c.Sinks.NATS.Subject == "" {
		bad("sinks.nats.subject", "required when the NATS sink is enabled")
	}

	return errors.Join(errs...)
}

// MissionStart parses simulation.mission_start.
func (c Config) MissionStart() (time.Time, error) {
	t, err := time.Parse(time.RFC3339, c.Simulation.MissionStart)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// ToSim maps the configuration onto the simulation's own settings,
// converting angles to radians.
func (c Config) ToSim() (sim.Config, error) {
	start, err := c.MissionStart()
	if err != nil {
		return sim.Config{}, fmt.Errorf("%w: simulation.mission_start: %v", ErrInvalid, err)
	}

	q := model.IdentityQuaternion
	if len(c.ADCS.Quaternion) == 4 {
		copy(q[:], c.ADCS.Quaternion)
	}

	return sim.Config{
		MissionStart:  start,
		Step:          c.Simulation.Step,
		TimeFactor:    c.Simulation.TimeFactor,
		ClockMode:     timectrl.ParseMode(c.Simulation.ClockMode),
		QueueCapacity: c.Simulation.QueueCapacity,
		Orbit: model.OrbitalElements{
			SemiMajorAxisKm: c.Orbit.SemiMajorAxisKm,
			Eccentricity:    c.Orbit.Eccentricity,
			Inclination:     radians(c.Orbit.InclinationDeg),
			RAAN:            radians(c.Orbit.RAANDeg),
			ArgOfPerigee:    radians(c.Orbit.ArgPerigeeDeg),
			TrueAnomaly:     radians(c.Orbit.TrueAnomalyDeg),
			Epoch:           start,
		},
		J2Step:    c.Orbit.J2Step,
		Ephemeris: c.Environment.Ephemeris,
		GroundStation: core.GroundStation{
			Name:            c.GroundStation.Name,
			LatitudeDeg:     c.GroundStation.LatitudeDeg,
			LongitudeDeg:    c.GroundStation.LongitudeDeg,
			AltitudeKm:      c.GroundStation.AltitudeKm,
			MinElevationDeg: c.GroundStation.MinElevationDeg,
		},
		APID:            c.CCSDS.APID,
		SecondaryHeader: c.CCSDS.SecondaryHeader,
		OBC:             c.Subsystems.OBC,
		CDH:             c.Subsystems.CDH.Housekeeping,
		CDHMode:         c.Subsystems.CDH.Mode,
		Power:           c.Subsystems.Power,
		ADCS: adcs.Config{
			Housekeeping:         c.ADCS.Housekeeping,
			Mode:                 model.ADCSMode(c.ADCS.Mode),
			Quaternion:           q,
			AccuracyThresholdDeg: c.ADCS.AccuracyThresholdDeg,
			NominalSlewRateDegS:  c.ADCS.NominalSlewRateDegS,
			MaxSlewRateDegS:      c.ADCS.MaxSlewRateDegS,
			TimeStep:             c.Simulation.Step,
		},
		Comms:     c.Subsystems.Comms,
		Payload:   c.Subsystems.Payload,
		Datastore: c.Subsystems.Datastore,
	}, nil
}

func radians(deg float64) float64 { return unit.AngleFromDeg(deg).Rad() }
