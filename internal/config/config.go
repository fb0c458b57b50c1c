package config

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/gommon/log"
	"gopkg.in/yaml.v3"

	"github.com/jeffypooo/iotemitter/internal/scenario"
)

const envPrefix = "EMITTER_"

type Config struct {
	DeviceID        string        `yaml:"device_id"`
	Room            string        `yaml:"room"`
	ListenAddr      string        `yaml:"listen_addr"`
	IntervalSeconds int           `yaml:"interval_seconds"`
	Mode            scenario.Mode `yaml:"mode"`
	LogLevel        string        `yaml:"log_level"`
	// Seed feeds the entropy source; 0 seeds from the clock.
	Seed uint64 `yaml:"seed"`
}

func Default() Config {
	return Config{
		DeviceID:        "ubi-secure-node-01",
		Room:            "kitchen",
		ListenAddr:      ":8000",
		IntervalSeconds: 5,
		Mode:            scenario.ModeTime,
		LogLevel:        "info",
	}
}

func (c Config) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.DeviceID) == "" {
		errs = append(errs, errors.New("device_id must not be empty"))
	}
	if strings.TrimSpace(c.Room) == "" {
		errs = append(errs, errors.New("room must not be empty"))
	}
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listen_addr must not be empty"))
	}
	if c.IntervalSeconds < 1 {
		errs = append(errs, fmt.Errorf("interval_seconds must be at least 1, got %d", c.IntervalSeconds))
	}
	if _, err := scenario.NewSelector(c.Mode); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// LoadFile overlays the YAML document at path onto c. Unknown keys are rejected.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays EMITTER_* variables found through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(envPrefix + "DEVICE_ID"); ok {
		c.DeviceID = v
	}
	if v, ok := lookup(envPrefix + "ROOM"); ok {
		c.Room = v
	}
	if v, ok := lookup(envPrefix + "LISTEN_ADDR"); ok {
		c.ListenAddr = v
	}
	if v, ok := lookup(envPrefix + "MODE"); ok {
		c.Mode = scenario.Mode(v)
	}
	if v, ok := lookup(envPrefix + "LOG_LEVEL"); ok {
		c.LogLevel = v
	}
	if v, ok := lookup(envPrefix + "INTERVAL_SECONDS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sINTERVAL_SECONDS: %w", envPrefix, err)
		}
		c.IntervalSeconds = n
	}
	if v, ok := lookup(envPrefix + "SEED"); ok {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%sSEED: %w", envPrefix, err)
		}
		c.Seed = n
	}
	return nil
}

// BindFlags registers command line overrides. Flag defaults are the values
// already in c, so unset flags leave c untouched.
func (c *Config) BindFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.DeviceID, "device-id", c.DeviceID, "device identity label")
	fs.StringVar(&c.Room, "room", c.Room, "room label for the CO2 sensor")
	fs.StringVar(&c.ListenAddr, "listen", c.ListenAddr, "metrics listen address")
	fs.IntVar(&c.IntervalSeconds, "interval", c.IntervalSeconds, "seconds between collection cycles")
	fs.Func("mode", "scenario selection: time or random", func(v string) error {
		c.Mode = scenario.Mode(v)
		return nil
	})
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "debug, info, warn, error or off")
	fs.Uint64Var(&c.Seed, "seed", c.Seed, "entropy seed, 0 seeds from the clock")
}

// Load resolves defaults, the optional config file, the environment and args.
// The file path comes from -config or EMITTER_CONFIG.
func Load(args []string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()

	envPath, _ := lookup(envPrefix + "CONFIG")
	path := configPath(args, envPath)

	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet("iot-emitter", flag.ContinueOnError)
	fs.String("config", path, "path to a YAML config file")
	cfg.BindFlags(fs)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ParseLevel maps a level name to a gommon log level.
func ParseLevel(level string) (log.Lvl, error) {
	switch strings.ToLower(level) {
	case "debug":
		return log.DEBUG, nil
	case "info", "":
		return log.INFO, nil
	case "warn", "warning":
		return log.WARN, nil
	case "error":
		return log.ERROR, nil
	case "off":
		return log.OFF, nil
	}
	return log.INFO, fmt.Errorf("unknown log level %q", level)
}

// configPath finds -config ahead of the full flag parse, since the file has
// to be applied before flags override it.
func configPath(args []string, fallback string) string {
	for i, a := range args {
		if !strings.HasPrefix(a, "-") {
			continue
		}
		name, value, hasValue := strings.Cut(strings.TrimLeft(a, "-"), "=")
		if name != "config" {
			continue
		}
		if hasValue {
			return value
		}
		if i+1 < len(args) {
			return args[i+1]
		}
	}
	return fallback
}
