package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rock-drivers/drivers-mb500/internal/gnss"
	"github.com/rock-drivers/drivers-mb500/internal/nmea"
)

// Daemon modes.
const (
	ModeMonitor = "monitor"
	ModeRover   = "rover"
	ModeBase    = "base"
)

type Config struct {
	Device     DeviceConfig     `yaml:"device"`
	Mode       string           `yaml:"mode"`
	Periodic   PeriodicConfig   `yaml:"periodic"`
	Rover      RoverConfig      `yaml:"rover"`
	Base       BaseConfig       `yaml:"base"`
	Satellites SatellitesConfig `yaml:"satellites"`
	NTP        NTPConfig        `yaml:"ntp"`
	PPS        PPSConfig        `yaml:"pps"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Web        WebConfig        `yaml:"web"`
	Store      StoreConfig      `yaml:"store"`
	Capture    CaptureConfig    `yaml:"capture"`
	Replay     ReplayConfig     `yaml:"replay"`
}

type DeviceConfig struct {
	// Port is a transport spec: a device path, serial://, tcp://, udp:// or auto.
	Port           string        `yaml:"port"`
	Baud           int           `yaml:"baud"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	AckTimeout     time.Duration `yaml:"ack_timeout"`
	VerifyChecksum bool          `yaml:"verify_checksum"`
	// ProcessingRate is the position rate in Hz; 0 leaves the board setting.
	ProcessingRate int `yaml:"processing_rate"`
}

type PeriodicConfig struct {
	Port   string        `yaml:"port"`
	Period time.Duration `yaml:"period"`
}

type RoverConfig struct {
	FastRTK bool `yaml:"fast_rtk"`
	// CorrectionSource is a board port letter (corrections arrive on that
	// port directly) or a UDP listen address / port number.
	CorrectionSource string `yaml:"correction_source"`
	Dynamics         string `yaml:"dynamics"`
	FixThreshold     string `yaml:"fix_threshold"`
}

type FixedPosition struct {
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
	Height    float64 `yaml:"height"`
}

type BaseConfig struct {
	SurveyWindow time.Duration  `yaml:"survey_window"`
	Position     *FixedPosition `yaml:"position"`
	// Dest is a UDP host:port for the correction stream, or "-" for stdout.
	Dest      string `yaml:"dest"`
	VerifyCRC bool   `yaml:"verify_crc"`
}

type SatellitesConfig struct {
	PromoteOn string `yaml:"promote_on"`
}

type NTPConfig struct {
	Enable bool `yaml:"enable"`
	Unit   int  `yaml:"unit"`
}

type PPSConfig struct {
	Enable bool   `yaml:"enable"`
	Chip   string `yaml:"chip"`
	Line   string `yaml:"line"`
	// Offset is the pulse offset from the UTC second programmed on the board.
	Offset time.Duration `yaml:"offset"`
}

type MQTTConfig struct {
	Enable   bool          `yaml:"enable"`
	Broker   string        `yaml:"broker"`
	ClientID string        `yaml:"client_id"`
	Topic    string        `yaml:"topic"`
	QoS      int           `yaml:"qos"`
	Timeout  time.Duration `yaml:"timeout"`
}

type WebConfig struct {
	Enable bool   `yaml:"enable"`
	Listen string `yaml:"listen"`
}

type StoreConfig struct {
	Enable bool          `yaml:"enable"`
	Path   string        `yaml:"path"`
	Retain time.Duration `yaml:"retain"`
}

type CaptureConfig struct {
	Enable bool   `yaml:"enable"`
	Dir    string `yaml:"dir"`
}

type ReplayConfig struct {
	Enable bool    `yaml:"enable"`
	Path   string  `yaml:"path"`
	Speed  float64 `yaml:"speed"`
	Loop   bool    `yaml:"loop"`
}

var dynamicsByName = map[string]gnss.DynamicsModel{
	"static":       gnss.Static,
	"quasi_static": gnss.QuasiStatic,
	"walking":      gnss.Walking,
	"ship":         gnss.Ship,
	"automobile":   gnss.Automobile,
	"aircraft":     gnss.Aircraft,
	"unlimited":    gnss.UnlimitedDynamics,
	"adaptive":     gnss.Adaptive,
}

var thresholdByName = map[string]gnss.AmbiguityThreshold{
	"none": gnss.NoFix,
	"95.0": gnss.Fix95_0,
	"99.0": gnss.Fix99_0,
	"99.9": gnss.Fix99_9,
}

// IsBoardPort reports whether s names one of the board's serial ports.
func IsBoardPort(s string) bool {
	return s == "A" || s == "B" || s == "C"
}

// DynamicsModel returns the configured rover dynamics model.
func (r RoverConfig) DynamicsModel() gnss.DynamicsModel {
	return dynamicsByName[r.Dynamics]
}

func (r RoverConfig) Threshold() gnss.AmbiguityThreshold {
	return thresholdByName[r.FixThreshold]
}

// CorrectionPort returns the board port corrections are fed to, and
// whether they arrive over UDP and must be relayed through the command
// port.
func (c Config) CorrectionPort() (port string, relay bool) {
	if IsBoardPort(c.Rover.CorrectionSource) {
		return c.Rover.CorrectionSource, false
	}
	return c.Periodic.Port, c.Rover.CorrectionSource != ""
}

// CorrectionListen is the UDP listen address for relayed corrections; a
// bare port number listens on all interfaces.
func (r RoverConfig) CorrectionListen() string {
	if _, err := strconv.Atoi(r.CorrectionSource); err == nil {
		return ":" + r.CorrectionSource
	}
	return r.CorrectionSource
}

func (c Config) Promotion() nmea.PromotionPolicy {
	p, _ := nmea.ParsePromotionPolicy(c.Satellites.PromoteOn)
	return p
}

// decodeStrict rejects keys that do not map to a field.
func decodeStrict(b []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	err := dec.Decode(cfg)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	var te *yaml.TypeError
	if errors.As(err, &te) {
		msgs := make([]string, 0, len(te.Errors))
		for _, e := range te.Errors {
			if strings.HasPrefix(e, "line ") {
				if i := strings.Index(e, ": "); i >= 0 {
					e = e[i+2:]
				}
			}
			msgs = append(msgs, e)
		}
		return fmt.Errorf("config contains unknown fields: %s", strings.Join(msgs, "; "))
	}
	return err
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := decodeStrict(b, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.applyDefaults(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) applyDefaults() error {
	if cfg.Replay.Enable {
		if cfg.Replay.Path == "" {
			return fmt.Errorf("replay.path is required when replay.enable is true")
		}
		if cfg.Replay.Speed == 0 {
			cfg.Replay.Speed = 1
		}
		if cfg.Replay.Speed < 0 {
			return fmt.Errorf("replay.speed must be > 0")
		}
		if cfg.Capture.Enable {
			return fmt.Errorf("capture and replay cannot both be enabled")
		}
	} else if strings.TrimSpace(cfg.Device.Port) == "" {
		return fmt.Errorf("device.port is required")
	}
	if cfg.Device.Baud < 0 {
		return fmt.Errorf("device.baud must be > 0")
	}
	if cfg.Device.ReadTimeout <= 0 {
		cfg.Device.ReadTimeout = 2 * time.Second
	}
	if cfg.Device.AckTimeout <= 0 {
		cfg.Device.AckTimeout = 5 * time.Second
	}
	if cfg.Device.ProcessingRate < 0 || cfg.Device.ProcessingRate > 20 {
		return fmt.Errorf("device.processing_rate must be in [0,20]")
	}

	if cfg.Mode == "" {
		cfg.Mode = ModeMonitor
	}
	switch cfg.Mode {
	case ModeMonitor, ModeRover, ModeBase:
	default:
		return fmt.Errorf("mode must be one of monitor, rover, base")
	}

	if cfg.Periodic.Port == "" {
		cfg.Periodic.Port = "A"
	}
	if !IsBoardPort(cfg.Periodic.Port) {
		return fmt.Errorf("periodic.port must be A, B or C")
	}
	if cfg.Periodic.Period <= 0 {
		cfg.Periodic.Period = time.Second
	}

	if cfg.Rover.Dynamics == "" {
		cfg.Rover.Dynamics = "adaptive"
	}
	if _, ok := dynamicsByName[cfg.Rover.Dynamics]; !ok {
		return fmt.Errorf("rover.dynamics %q is not supported", cfg.Rover.Dynamics)
	}
	if cfg.Rover.FixThreshold == "" {
		cfg.Rover.FixThreshold = "99.0"
	}
	if _, ok := thresholdByName[cfg.Rover.FixThreshold]; !ok {
		return fmt.Errorf("rover.fix_threshold must be one of none, 95.0, 99.0, 99.9")
	}
	if cfg.Rover.CorrectionSource == cfg.Periodic.Port {
		return fmt.Errorf("rover.correction_source must differ from periodic.port")
	}

	if cfg.Base.SurveyWindow <= 0 {
		cfg.Base.SurveyWindow = 10 * time.Second
	}
	if cfg.Mode == ModeBase && cfg.Base.Dest == "" {
		return fmt.Errorf("base.dest is required when mode is 'base'")
	}
	if p := cfg.Base.Position; p != nil {
		if p.Latitude < -90 || p.Latitude > 90 || p.Longitude < -180 || p.Longitude > 180 {
			return fmt.Errorf("base.position is out of range")
		}
	}

	if _, err := nmea.ParsePromotionPolicy(cfg.Satellites.PromoteOn); err != nil {
		return fmt.Errorf("satellites.promote_on must be 'secondary' or 'any'")
	}
	if cfg.Satellites.PromoteOn == "" {
		cfg.Satellites.PromoteOn = "secondary"
	}

	if cfg.NTP.Unit < 0 || cfg.NTP.Unit > 3 {
		return fmt.Errorf("ntp.unit must be in [0,3]")
	}

	if cfg.PPS.Enable {
		if cfg.PPS.Line == "" {
			return fmt.Errorf("pps.line is required when pps.enable is true")
		}
		if cfg.PPS.Chip == "" {
			cfg.PPS.Chip = "gpiochip0"
		}
	}

	if cfg.MQTT.Enable && cfg.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt.enable is true")
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "mb500d"
	}
	if cfg.MQTT.Topic == "" {
		cfg.MQTT.Topic = "mb500/fix"
	}
	if cfg.MQTT.QoS < 0 || cfg.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
	}
	if cfg.MQTT.Timeout <= 0 {
		cfg.MQTT.Timeout = 5 * time.Second
	}

	if cfg.Web.Listen == "" {
		cfg.Web.Listen = ":8080"
	}

	if cfg.Store.Enable && cfg.Store.Path == "" {
		return fmt.Errorf("store.path is required when store.enable is true")
	}
	if cfg.Capture.Enable && cfg.Capture.Dir == "" {
		return fmt.Errorf("capture.dir is required when capture.enable is true")
	}
	return nil
}
