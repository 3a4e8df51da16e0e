package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Mode selects the acquisition behavior. It is read once at boot and never
// changes for the lifetime of the process.
type Mode string

const (
	// ModeSniff passively records every frame observed on the bus.
	ModeSniff Mode = "sniff"
	// ModePoll actively queries the fixed OBD-II PID sequence.
	ModePoll Mode = "poll"
)

// Config holds the full daemon configuration.
type Config struct {
	Mode        Mode              `yaml:"mode"`
	Controller  ControllerConfig  `yaml:"controller"`
	Mirror      MirrorConfig      `yaml:"mirror"`
	Logging     LoggingConfig     `yaml:"logging"`
	Acquisition AcquisitionConfig `yaml:"acquisition"`
	Monitor     MonitorConfig     `yaml:"monitor"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

type ControllerConfig struct {
	Driver    string `yaml:"driver"`    // "socketcan", "serial" or "sim"
	Interface string `yaml:"interface"` // socketcan interface, e.g. can0
	PortPath  string `yaml:"port_path"` // serial adapter port
	BaudRate  int    `yaml:"baud_rate"` // serial adapter baud
	RxBuffer  int    `yaml:"rx_buffer"` // inbound frame buffer depth
}

// MirrorConfig describes the human-readable mirror channel. An empty
// port_path mirrors to stdout.
type MirrorConfig struct {
	PortPath string `yaml:"port_path"`
	BaudRate int    `yaml:"baud_rate"`
}

type LoggingConfig struct {
	Path     string `yaml:"path"`
	RotateMB int    `yaml:"rotate_mb"` // 0 disables rotation
}

type AcquisitionConfig struct {
	// StrictMatch requires a poll-mode response to carry an identifier in
	// the OBD-II response range and echo the requested PID. Disabling it
	// restores the legacy behavior of accepting any next available frame.
	StrictMatch bool `yaml:"strict_match"`
}

type MonitorConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

type MQTTConfig struct {
	Enabled   bool   `yaml:"enabled"`
	BrokerURL string `yaml:"broker_url"`
	ClientID  string `yaml:"client_id"`
	Topic     string `yaml:"topic"`
}

type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	URL         string `yaml:"url"`
	Token       string `yaml:"token"` // usually supplied via INFLUX_TOKEN
	Org         string `yaml:"org"`
	Bucket      string `yaml:"bucket"`
	Measurement string `yaml:"measurement"`
}

// Default returns a config with sensible defaults.
func Default() *Config {
	return &Config{
		Mode: ModeSniff,
		Controller: ControllerConfig{
			Driver:    "socketcan",
			Interface: "can0",
			PortPath:  "/dev/ttyUSB0",
			BaudRate:  115200,
			RxBuffer:  256,
		},
		Mirror: MirrorConfig{
			PortPath: "",
			BaudRate: 115200,
		},
		Logging: LoggingConfig{
			Path:     "CANLOG.CSV",
			RotateMB: 0,
		},
		Acquisition: AcquisitionConfig{
			StrictMatch: true,
		},
		Monitor: MonitorConfig{
			Enabled:    false,
			ListenAddr: ":8090",
		},
		MQTT: MQTTConfig{
			Enabled:  false,
			ClientID: "canb0t",
			Topic:    "canb0t/frames",
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			Measurement: "obd",
		},
	}
}

// Load reads config from a YAML file, then applies .env and environment
// variable overrides. Falls back to defaults if the file is missing.
func Load(path string) *Config {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[config] no config at %s, using defaults", path)
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Printf("[config] error parsing %s: %v, using defaults", path, err)
		cfg = Default()
	} else {
		log.Printf("[config] loaded from %s", path)
	}

	// .env next to the config file, then the working directory. Real
	// environment variables win over .env entries.
	for _, ep := range []string{filepath.Join(filepath.Dir(path), ".env"), ".env"} {
		if err := godotenv.Load(ep); err == nil {
			log.Printf("[config] loaded .env from %s", ep)
		}
	}

	cfg.applyEnvOverrides()
	return cfg
}

// Validate rejects values the acquisition loop cannot run with.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeSniff, ModePoll:
	default:
		return fmt.Errorf("config: unknown mode %q", c.Mode)
	}
	switch c.Controller.Driver {
	case "socketcan", "serial", "sim":
	default:
		return fmt.Errorf("config: unknown controller driver %q", c.Controller.Driver)
	}
	if c.Logging.Path == "" {
		return fmt.Errorf("config: logging.path must not be empty")
	}
	return nil
}

// applyEnvOverrides reads environment variables and overrides config values.
// Supported: CANBOT_MODE, CANBOT_DRIVER, CANBOT_IFACE, CANBOT_PORT,
// CANBOT_BAUD, CANBOT_LOG, CANBOT_MIRROR_PORT, MONITOR_ADDR, MQTT_BROKER,
// INFLUX_HOST, INFLUX_TOKEN, INFLUX_ORG, INFLUX_BUCKET.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CANBOT_MODE"); v != "" {
		c.Mode = Mode(v)
	}
	if v := os.Getenv("CANBOT_DRIVER"); v != "" {
		c.Controller.Driver = v
	}
	if v := os.Getenv("CANBOT_IFACE"); v != "" {
		c.Controller.Interface = v
	}
	if v := os.Getenv("CANBOT_PORT"); v != "" {
		c.Controller.PortPath = v
	}
	if v := os.Getenv("CANBOT_BAUD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Controller.BaudRate = n
		}
	}
	if v := os.Getenv("CANBOT_LOG"); v != "" {
		c.Logging.Path = v
	}
	if v := os.Getenv("CANBOT_MIRROR_PORT"); v != "" {
		c.Mirror.PortPath = v
	}
	if v := os.Getenv("MONITOR_ADDR"); v != "" {
		c.Monitor.ListenAddr = v
	}
	if v := os.Getenv("MQTT_BROKER"); v != "" {
		c.MQTT.BrokerURL = v
	}
	if v := os.Getenv("INFLUX_HOST"); v != "" {
		c.Telemetry.URL = v
	}
	if v := os.Getenv("INFLUX_TOKEN"); v != "" {
		c.Telemetry.Token = v
	}
	if v := os.Getenv("INFLUX_ORG"); v != "" {
		c.Telemetry.Org = v
	}
	if v := os.Getenv("INFLUX_BUCKET"); v != "" {
		c.Telemetry.Bucket = v
	}
}
