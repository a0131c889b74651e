package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/BurntSushi/toml"
	"github.com/NotCoffee418/p1_logger/pkg/clock"
	"github.com/NotCoffee418/p1_logger/pkg/pathing"
	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid config")

func Default() Config {
	return Config{
		Source:   SourceMQTT,
		Timezone: clock.DefaultTimezone,
		LogLevel: "info",
		MQTT: MQTTConfig{
			Broker:                "tcp://mqtt.sendlab.nl:11883",
			Topic:                 "smartmeter/raw",
			Username:              "smartmeter_readonly",
			PasswordBase64:        "RjRARDdUUn1oSg==",
			QoS:                   0,
			ConnectTimeoutSeconds: 10,
		},
		Output: OutputConfig{
			Dir:       pathing.GetDataDir(),
			Extension: "csv",
			Delimiter: ",",
		},
		Serial: SerialConfig{
			Device:   "/dev/ttyUSB0",
			Baudrate: 115200,
		},
	}
}

// Load reads the config at path. When the file does not exist a default
// one is written there first so it can be edited.
// Keys missing from the file keep their default value.
func Load(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeDefault(path, &cfg); err != nil {
			return nil, fmt.Errorf("write default config: %w", err)
		}
		return &cfg, nil
	}

	if isYAML(path) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		return &cfg, nil
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

func writeDefault(path string, cfg *Config) error {
	if err := pathing.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	cfgFile, err := os.Create(path)
	if err != nil {
		return err
	}
	defer cfgFile.Close()

	if isYAML(path) {
		enc := yaml.NewEncoder(cfgFile)
		defer enc.Close()
		return enc.Encode(cfg)
	}
	return toml.NewEncoder(cfgFile).Encode(cfg)
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func (c *Config) Validate() error {
	var errs []error

	switch c.Source {
	case SourceMQTT:
		if c.Signature == "" {
			errs = append(errs, errors.New("signature must be set"))
		}
		if c.MQTT.Broker == "" {
			errs = append(errs, errors.New("mqtt.broker must be set"))
		}
		if c.MQTT.Topic == "" {
			errs = append(errs, errors.New("mqtt.topic must be set"))
		}
		if c.MQTT.QoS > 2 {
			errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS))
		}
		if c.MQTT.PasswordBase64 != "" {
			if _, err := base64.StdEncoding.DecodeString(c.MQTT.PasswordBase64); err != nil {
				errs = append(errs, fmt.Errorf("mqtt.password_base64: %w", err))
			}
		}
	case SourceSerial:
		if c.Serial.Device == "" {
			errs = append(errs, errors.New("serial.device must be set"))
		}
		if c.Serial.Baudrate == 0 {
			errs = append(errs, errors.New("serial.baudrate must be set"))
		}
	default:
		errs = append(errs, fmt.Errorf("source must be %q or %q, got %q", SourceMQTT, SourceSerial, c.Source))
	}

	if _, err := c.DelimiterRune(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, fmt.Errorf("timezone: %w", err))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func (c *Config) DelimiterRune() (rune, error) {
	if c.Output.Delimiter == "" {
		return ',', nil
	}
	if c.Output.Delimiter == `\t` {
		return '\t', nil
	}
	if utf8.RuneCountInString(c.Output.Delimiter) != 1 {
		return 0, fmt.Errorf("output.delimiter must be a single character, got %q", c.Output.Delimiter)
	}
	r, _ := utf8.DecodeRuneInString(c.Output.Delimiter)
	if r == '\r' || r == '\n' || r == '"' {
		return 0, fmt.Errorf("output.delimiter %q is not allowed", c.Output.Delimiter)
	}
	return r, nil
}

func (c *Config) Location() (*time.Location, error) {
	name := c.Timezone
	if name == "" {
		name = clock.DefaultTimezone
	}
	return time.LoadLocation(name)
}

func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}

// MQTTPassword resolves the plain or base64 encoded password.
func (c *MQTTConfig) MQTTPassword() (string, error) {
	if c.PasswordBase64 == "" {
		return c.Password, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(c.PasswordBase64)
	if err != nil {
		return "", fmt.Errorf("decode mqtt password: %w", err)
	}
	return string(decoded), nil
}

func (c *MQTTConfig) ConnectTimeout() time.Duration {
	if c.ConnectTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.ConnectTimeoutSeconds) * time.Second
}
