// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the service configuration from an optional YAML file
// and environment variables. Environment variables win.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/united-manufacturing-hub/umh-utils/env"
	"gopkg.in/yaml.v3"

	"github.com/united-manufacturing-hub/tank-scada/pkg/acquisition"
	"github.com/united-manufacturing-hub/tank-scada/pkg/constants"
	"github.com/united-manufacturing-hub/tank-scada/pkg/persistence/dial"
	"github.com/united-manufacturing-hub/tank-scada/pkg/plc"
)

// PLC modes.
const (
	ModeSequence = "sequence"
	ModeRandom   = "random"
	ModeProcess  = "process"
	ModeS7       = "s7"
)

type Config struct {
	PrimaryStoreURI   string `yaml:"primaryStoreUri"`
	SecondaryStoreURI string `yaml:"secondaryStoreUri,omitempty"`

	Port        int `yaml:"port"`
	MetricsPort int `yaml:"metricsPort"`
	HealthPort  int `yaml:"healthPort"`

	TickInterval time.Duration `yaml:"tickInterval"`
	// CycleTimeout bounds one acquisition or reconciliation cycle. 0 means
	// the larger of TickInterval and PLC.Timeout.
	CycleTimeout            time.Duration `yaml:"cycleTimeout,omitempty"`
	ButtonReconcileInterval time.Duration `yaml:"buttonReconcileInterval"`
	PruneEvery              uint64        `yaml:"pruneEvery"`
	PruneBatch              int           `yaml:"pruneBatch"`
	PruneSetpoints          bool          `yaml:"pruneSetpoints"`
	FallbackSetpoint        float64       `yaml:"fallbackSetpoint"`

	PLC   PLCConfig   `yaml:"plc"`
	Redis RedisConfig `yaml:"redis"`
	MQTT  MQTTConfig  `yaml:"mqtt"`

	SentryDSN string `yaml:"sentryDsn,omitempty"`
}

type PLCConfig struct {
	Mode    string `yaml:"mode"`
	Address string `yaml:"address"`
	Rack    int    `yaml:"rack"`
	Slot    int    `yaml:"slot"`
	// Seed feeds the random source.
	Seed uint64 `yaml:"seed"`

	ReadCommand          Command       `yaml:"readCommand,omitempty"`
	WriteSetpointCommand Command       `yaml:"writeSetpointCommand,omitempty"`
	WriteButtonsCommand  Command       `yaml:"writeButtonsCommand,omitempty"`
	Timeout              time.Duration `yaml:"timeout"`
	// ScriptsDir holds the snap7 helpers run in s7 mode.
	ScriptsDir string `yaml:"scriptsDir"`
}

// RedisConfig is disabled when URI is empty.
type RedisConfig struct {
	URI      string `yaml:"uri,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// MQTTConfig is disabled when BrokerURL is empty.
type MQTTConfig struct {
	BrokerURL string `yaml:"brokerUrl,omitempty"`
	Topic     string `yaml:"topic"`
	ClientID  string `yaml:"clientId"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		PrimaryStoreURI:         "sqlite://scada.db",
		Port:                    constants.DefaultAPIPort,
		MetricsPort:             constants.DefaultMetricsPort,
		HealthPort:              constants.DefaultHealthPort,
		TickInterval:            constants.DefaultTickInterval,
		ButtonReconcileInterval: constants.DefaultButtonReconcileInterval,
		PruneEvery:              constants.PruneEvery,
		PruneBatch:              constants.PruneBatch,
		FallbackSetpoint:        constants.FallbackSetpoint,
		PLC: PLCConfig{
			Mode:       ModeSequence,
			Address:    "192.168.4.10",
			Rack:       0,
			Slot:       1,
			Seed:       uint64(time.Now().UnixNano()),
			Timeout:    5 * time.Second,
			ScriptsDir: "scripts/s7",
		},
		MQTT: MQTTConfig{
			Topic:    "tank/readings",
			ClientID: "tank-scada",
		},
	}
}

// Load reads the file named by CONFIG_PATH, if any, then applies the
// environment and validates the result.
func Load() (Config, error) {
	cfg := Default()

	path, _ := env.GetAsString("CONFIG_PATH", false, "")
	if path != "" {
		var err error

		cfg, err = LoadFile(path)
		if err != nil {
			return Config{}, err
		}
	}

	if err := ApplyEnv(&cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadFile decodes path over the defaults.
func LoadFile(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return cfg, nil
}

// ApplyEnv overrides cfg with every variable that is set. All malformed
// variables are reported together.
func ApplyEnv(cfg *Config) error {
	var errs []error

	str := func(key string, target *string) {
		if value, err := env.GetAsString(key, false, *target); err == nil {
			*target = value
		}
	}

	integer := func(key string, target *int) {
		value, err := env.GetAsInt(key, false, *target)
		if err != nil {
			errs = append(errs, err)

			return
		}

		*target = value
	}

	// Commands from the environment are split on whitespace.
	command := func(key string, target *Command) {
		if raw, _ := env.GetAsString(key, false, ""); raw != "" {
			*target = plc.SplitCommand(raw)
		}
	}

	duration := func(key string, target *time.Duration) {
		raw, _ := env.GetAsString(key, false, "")
		if raw == "" {
			return
		}

		value, err := time.ParseDuration(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("environment variable %s is not a duration: %w", key, err))

			return
		}

		*target = value
	}

	if _, set := os.LookupEnv("PRIMARY_STORE_URI"); set {
		str("PRIMARY_STORE_URI", &cfg.PrimaryStoreURI)
	} else {
		str("MONGODB_URI", &cfg.PrimaryStoreURI)
	}

	str("SECONDARY_STORE_URI", &cfg.SecondaryStoreURI)
	integer("PORT", &cfg.Port)
	integer("METRICS_PORT", &cfg.MetricsPort)
	integer("HEALTH_PORT", &cfg.HealthPort)
	duration("TICK_INTERVAL", &cfg.TickInterval)
	duration("CYCLE_TIMEOUT", &cfg.CycleTimeout)
	duration("BUTTON_RECONCILE_INTERVAL", &cfg.ButtonReconcileInterval)
	integer("PRUNE_BATCH", &cfg.PruneBatch)

	pruneEvery, err := env.GetAsUint64("PRUNE_EVERY", false, cfg.PruneEvery)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.PruneEvery = pruneEvery
	}

	pruneSetpoints, err := env.GetAsBool("PRUNE_SETPOINTS", false, cfg.PruneSetpoints)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.PruneSetpoints = pruneSetpoints
	}

	fallback, err := env.GetAsFloat64("FALLBACK_SETPOINT", false, cfg.FallbackSetpoint)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.FallbackSetpoint = fallback
	}

	str("PLC_MODE", &cfg.PLC.Mode)
	str("PLC_ADDRESS", &cfg.PLC.Address)
	integer("PLC_RACK", &cfg.PLC.Rack)
	integer("PLC_SLOT", &cfg.PLC.Slot)
	command("PLC_READ_COMMAND", &cfg.PLC.ReadCommand)
	command("PLC_WRITE_SETPOINT_COMMAND", &cfg.PLC.WriteSetpointCommand)
	command("PLC_WRITE_BUTTONS_COMMAND", &cfg.PLC.WriteButtonsCommand)
	duration("PLC_TIMEOUT", &cfg.PLC.Timeout)
	str("PLC_SCRIPTS_DIR", &cfg.PLC.ScriptsDir)

	seed, err := env.GetAsUint64("PLC_SEED", false, cfg.PLC.Seed)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.PLC.Seed = seed
	}

	str("REDIS_URI", &cfg.Redis.URI)
	str("REDIS_PASSWORD", &cfg.Redis.Password)
	str("MQTT_BROKER_URL", &cfg.MQTT.BrokerURL)
	str("MQTT_TOPIC", &cfg.MQTT.Topic)
	str("MQTT_CLIENT_ID", &cfg.MQTT.ClientID)
	str("SENTRY_DSN", &cfg.SentryDSN)

	return errors.Join(errs...)
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error

	if _, _, err := dial.Parse(c.PrimaryStoreURI); err != nil {
		errs = append(errs, fmt.Errorf("primary store: %w", err))
	}

	if c.SecondaryStoreURI != "" {
		if _, _, err := dial.Parse(c.SecondaryStoreURI); err != nil {
			errs = append(errs, fmt.Errorf("secondary store: %w", err))
		}
	}

	for name, port := range map[string]int{"port": c.Port, "metrics port": c.MetricsPort, "health port": c.HealthPort} {
		if port < 1 || port > 65535 {
			errs = append(errs, fmt.Errorf("%s %d is out of range", name, port))
		}
	}

	if c.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("tick interval must be positive, got %s", c.TickInterval))
	}

	if c.ButtonReconcileInterval < 0 {
		errs = append(errs, fmt.Errorf("button reconcile interval must not be negative, got %s", c.ButtonReconcileInterval))
	}

	if c.PruneBatch < 0 {
		errs = append(errs, fmt.Errorf("prune batch must not be negative, got %d", c.PruneBatch))
	}

	if err := c.PLC.validate(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (p PLCConfig) validate() error {
	switch p.Mode {
	case ModeSequence, ModeRandom, ModeS7:
		return nil
	case ModeProcess:
		if len(p.ReadCommand) == 0 || len(p.WriteSetpointCommand) == 0 || len(p.WriteButtonsCommand) == 0 {
			return errors.New("plc mode process needs read, setpoint write and button write commands")
		}

		return nil
	default:
		return fmt.Errorf("unknown plc mode %q", p.Mode)
	}
}

// EffectiveCycleTimeout returns CycleTimeout, or the larger of the tick
// interval and the PLC timeout when it is unset.
func (c Config) EffectiveCycleTimeout() time.Duration {
	if c.CycleTimeout > 0 {
		return c.CycleTimeout
	}

	return max(c.TickInterval, c.PLC.Timeout)
}

// Acquisition returns the loop settings.
func (c Config) Acquisition() acquisition.Config {
	return acquisition.Config{
		TickInterval:     c.TickInterval,
		CycleTimeout:     c.EffectiveCycleTimeout(),
		PruneEvery:       c.PruneEvery,
		PruneBatch:       c.PruneBatch,
		PruneSetpoints:   c.PruneSetpoints,
		FallbackSetpoint: c.FallbackSetpoint,
	}
}

// S7Env is the environment handed to the snap7 programs.
func (p PLCConfig) S7Env() []string {
	return []string{
		"PLC_ADDRESS=" + p.Address,
		"PLC_RACK=" + strconv.Itoa(p.Rack),
		"PLC_SLOT=" + strconv.Itoa(p.Slot),
	}
}
