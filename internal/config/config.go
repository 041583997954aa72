// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads the amplistat YAML configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/Thermoquad/amplistat/pkg/calibration"
	"github.com/Thermoquad/amplistat/pkg/r4850"
	"gopkg.in/yaml.v3"
)

// DefaultPath is used when no --config flag is given
const DefaultPath = "amplistat.yaml"

type Config struct {
	Bus         BusConfig         `yaml:"bus"`
	Session     SessionConfig     `yaml:"session"`
	Calibration calibration.Table `yaml:"calibration"`
	ADC         ADCConfig         `yaml:"adc"`
	Sampling    SamplingConfig    `yaml:"sampling"`
	Log         LogConfig         `yaml:"log"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Publish     PublishConfig     `yaml:"publish"`
}

// BusConfig selects the CAN adapter connection
type BusConfig struct {
	Port        string `yaml:"port"`
	Baud        int    `yaml:"baud"`
	Bitrate     int    `yaml:"bitrate"`
	URL         string `yaml:"url"`
	Username    string `yaml:"username"`
	NoSSLVerify bool   `yaml:"no_ssl_verify"`
}

type SessionConfig struct {
	Timeout        time.Duration `yaml:"timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	ExpectedFields []string      `yaml:"expected_fields"`
}

type ADCConfig struct {
	SPIPort string  `yaml:"spi_port"`
	VrefMv  float64 `yaml:"vref_mv"`
	SpeedHz int64   `yaml:"speed_hz"`
}

type SamplingConfig struct {
	Interval time.Duration `yaml:"interval"`
	SWRTrip  float64       `yaml:"swr_trip"`
}

type LogConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type PublishConfig struct {
	MQTT  MQTTConfig  `yaml:"mqtt"`
	Redis RedisConfig `yaml:"redis"`
}

// MQTTConfig is disabled when Broker is empty
type MQTTConfig struct {
	Broker string `yaml:"broker"`
	Topic  string `yaml:"topic"`
}

// RedisConfig is disabled when Addr is empty
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Bus: BusConfig{
			Baud:    115200,
			Bitrate: 125000,
		},
		Session: SessionConfig{
			Timeout:      r4850.DefaultTimeout,
			PollInterval: 2 * time.Second,
		},
		Calibration: calibration.Default(),
		ADC: ADCConfig{
			SPIPort: "",
			VrefMv:  3300,
			SpeedHz: 1000000,
		},
		Sampling: SamplingConfig{
			Interval: 100 * time.Millisecond,
			SWRTrip:  3.0,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
		},
		Publish: PublishConfig{
			MQTT:  MQTTConfig{Topic: "amplistat/snapshot"},
			Redis: RedisConfig{Channel: "amplistat"},
		},
	}
}

// Parse decodes YAML on top of the defaults, so omitted keys keep their
// default values
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads and validates a config file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Validate checks values that would otherwise fail deep inside a component
func (c *Config) Validate() error {
	if err := c.Calibration.Validate(); err != nil {
		return err
	}
	if c.Session.Timeout <= 0 {
		return fmt.Errorf("session.timeout must be positive, got %v", c.Session.Timeout)
	}
	if c.Session.PollInterval <= 0 {
		return fmt.Errorf("session.poll_interval must be positive, got %v", c.Session.PollInterval)
	}
	if c.Sampling.Interval <= 0 {
		return fmt.Errorf("sampling.interval must be positive, got %v", c.Sampling.Interval)
	}
	if c.Sampling.SWRTrip < 1 {
		return fmt.Errorf("sampling.swr_trip must be at least 1.0, got %.2f", c.Sampling.SWRTrip)
	}
	if c.ADC.VrefMv <= 0 {
		return fmt.Errorf("adc.vref_mv must be positive, got %.1f", c.ADC.VrefMv)
	}
	if _, err := c.ExpectedFields(); err != nil {
		return err
	}
	return nil
}

// ExpectedFields resolves session.expected_fields. An empty list means every
// telemetry field.
func (c *Config) ExpectedFields() ([]r4850.Field, error) {
	if len(c.Session.ExpectedFields) == 0 {
		return append([]r4850.Field(nil), r4850.Fields...), nil
	}
	fields := make([]r4850.Field, 0, len(c.Session.ExpectedFields))
	for _, name := range c.Session.ExpectedFields {
		f, err := r4850.ParseField(name)
		if err != nil {
			return nil, fmt.Errorf("session.expected_fields: %w", err)
		}
		fields = append(fields, f)
	}
	return fields, nil
}
