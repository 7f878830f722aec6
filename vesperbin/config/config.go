// Package config loads the YAML run configuration of the decoder.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flaneur2020/vesper-bin/vesperbin"
	"github.com/flaneur2020/vesper-bin/vesperbin/audio"
	"github.com/flaneur2020/vesper-bin/vesperbin/container"
	vesperrors "github.com/flaneur2020/vesper-bin/vesperbin/errors"
	"github.com/flaneur2020/vesper-bin/vesperbin/format"
	"github.com/flaneur2020/vesper-bin/vesperbin/logger"
	"github.com/flaneur2020/vesper-bin/vesperbin/publish"
)

// DefaultPath is the config file looked up when none is given.
const DefaultPath = "config.yaml"

// Config is the on-disk configuration.
type Config struct {
	RawDataFolder   string `yaml:"raw_data_folder"`
	ProcessedFolder string `yaml:"processed_folder"`
	Concurrency     int    `yaml:"concurrency"`
	LogLevel        string `yaml:"log_level"`
	Compress        string `yaml:"compress"`
	CatalogPath     string `yaml:"catalog_path"`

	MQTT  MQTTConfig  `yaml:"mqtt"`
	Audio AudioConfig `yaml:"audio"`
	Drift DriftConfig `yaml:"drift"`

	// BCDCorrection overrides the timestamp defect table, keyed by firmware.
	BCDCorrection map[uint16]CorrectionConfig `yaml:"bcd_correction"`
}

type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	QoS      byte   `yaml:"qos"`
}

type AudioConfig struct {
	DiscontinuityTolerance int `yaml:"discontinuity_tolerance"`
	// StartupTrimMS of nil keeps the firmware default, 0 disables the trim.
	StartupTrimMS *int `yaml:"startup_trim_ms"`
	DCLevel       int  `yaml:"dc_level"`
}

type DriftConfig struct {
	ToleranceMS    int `yaml:"tolerance_ms"`
	GapToleranceMS int `yaml:"gap_tolerance_ms"`
}

type CorrectionConfig struct {
	Field  string `yaml:"field"`
	Offset int    `yaml:"offset"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		RawDataFolder:   "./data/raw",
		ProcessedFolder: "./data/processed",
		Concurrency:     4,
		LogLevel:        "warn",
		Compress:        string(container.CompressionNone),
		MQTT: MQTTConfig{
			Topic:    publish.DefaultTopic,
			ClientID: publish.DefaultClientID,
		},
		Audio: AudioConfig{
			DiscontinuityTolerance: audio.DefaultTolerance,
		},
		Drift: DriftConfig{
			GapToleranceMS: 1000,
		},
	}
}

// Load reads path over the defaults. A missing file at DefaultPath is not
// an error; a missing file named explicitly is.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			logger.Debug("no %s, using defaults", path)
			return Default(), nil
		}
		return nil, vesperrors.ErrConfig.WithCause(err).WithDetail("path", path)
	}
	cfg, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	logger.Info("configuration loaded from %s", path)
	return cfg, nil
}

// Parse decodes YAML from r over the defaults and validates the result.
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, vesperrors.ErrConfig.WithCause(err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.RawDataFolder == "" {
		return configError("raw_data_folder", "must not be empty")
	}
	if c.ProcessedFolder == "" {
		return configError("processed_folder", "must not be empty")
	}
	if c.Concurrency < 1 {
		return configError("concurrency", fmt.Sprintf("must be at least 1, got %d", c.Concurrency))
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return configError("log_level", err.Error())
	}
	switch container.Compression(c.Compress) {
	case container.CompressionNone, container.CompressionGzip, container.CompressionZstd:
	default:
		return configError("compress", fmt.Sprintf("unknown compression %q", c.Compress))
	}
	if c.MQTT.QoS > 2 {
		return configError("mqtt.qos", fmt.Sprintf("must be 0, 1 or 2, got %d", c.MQTT.QoS))
	}
	if c.Audio.DiscontinuityTolerance < 0 {
		return configError("audio.discontinuity_tolerance", "must not be negative")
	}
	if c.Audio.StartupTrimMS != nil && *c.Audio.StartupTrimMS < 0 {
		return configError("audio.startup_trim_ms", "must not be negative")
	}
	if c.Drift.ToleranceMS < 0 || c.Drift.GapToleranceMS < 0 {
		return configError("drift", "tolerances must not be negative")
	}
	for fw, corr := range c.BCDCorrection {
		if _, err := format.ParseTimeField(corr.Field); err != nil {
			return configError(fmt.Sprintf("bcd_correction.%d.field", fw), err.Error())
		}
	}
	return nil
}

func configError(key, msg string) error {
	return vesperrors.ErrConfig.WithMessage(key + ": " + msg).WithDetail("key", key)
}

// Level returns the configured log level.
func (c *Config) Level() logger.LogLevel {
	level, _ := logger.ParseLevel(c.LogLevel)
	return level
}

// Compression returns the configured CSV compression.
func (c *Config) Compression() container.Compression {
	return container.Compression(c.Compress)
}

// DecodeOptions builds the pipeline options, applying the correction
// overrides to a fresh profile registry.
func (c *Config) DecodeOptions() (*vesperbin.Options, error) {
	opts := vesperbin.DefaultOptions()
	opts.DiscontinuityTolerance = c.Audio.DiscontinuityTolerance
	opts.DCLevel = c.Audio.DCLevel
	if c.Audio.StartupTrimMS != nil {
		opts.StartupTrim = time.Duration(*c.Audio.StartupTrimMS) * time.Millisecond
		if opts.StartupTrim == 0 {
			opts.StartupTrim = -1
		}
	}
	opts.DriftTolerance = time.Duration(c.Drift.ToleranceMS) * time.Millisecond
	opts.GapTolerance = time.Duration(c.Drift.GapToleranceMS) * time.Millisecond

	for fw, cc := range c.BCDCorrection {
		field, err := format.ParseTimeField(cc.Field)
		if err != nil {
			return nil, configError(fmt.Sprintf("bcd_correction.%d.field", fw), err.Error())
		}
		if err := opts.Registry.OverrideCorrection(fw, format.BCDCorrection{Field: field, Offset: cc.Offset}); err != nil {
			return nil, vesperrors.ErrConfig.WithCause(err).WithDetail("key", fmt.Sprintf("bcd_correction.%d", fw))
		}
	}
	return opts, nil
}

// PublishOptions returns the MQTT publisher settings; ok is false when no
// broker is configured.
func (c *Config) PublishOptions() (opts publish.Options, ok bool) {
	return publish.Options{
		Broker:   c.MQTT.Broker,
		Topic:    c.MQTT.Topic,
		ClientID: c.MQTT.ClientID,
		QoS:      c.MQTT.QoS,
	}, c.MQTT.Broker != ""
}
