package main

import (
	"os"

	"github.com/BurntSushi/toml"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

// Config is the service configuration, read from a TOML file.
type Config struct {
	// ListenAddr is the HTTP API bind address.
	ListenAddr string `toml:"listen_addr"`
	// DataDir is the importer root; locators resolve relative to it and inline
	// uploads land inside it.
	DataDir string `toml:"data_dir"`
	// CombinedMode runs generation and archival as one opaque activity instead
	// of two recorded ones.
	CombinedMode bool `toml:"combined_mode"`
	// Concurrency bounds the batch fan-out. Zero uses the engine default.
	Concurrency int `toml:"concurrency"`
	// Workers is the engine's activation worker count.
	Workers int `toml:"workers"`
	// Debug enables debug logging.
	Debug bool `toml:"debug"`

	// MySQL is the history and instance store DSN. Empty runs on the in-memory
	// store, losing durability across restarts.
	MySQL string `toml:"mysql"`

	Kafka KafkaConfig `toml:"kafka"`

	// CronSpec, when set, starts a recurring batch for CronSource on the given
	// standard cron schedule.
	CronSpec   string `toml:"cron_spec"`
	CronSource string `toml:"cron_source"`
}

// KafkaConfig enables the data file announcement listener when Brokers is
// non-empty.
type KafkaConfig struct {
	Brokers []string `toml:"brokers"`
	Topic   string   `toml:"topic"`
	Group   string   `toml:"group"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr: "localhost:8080",
		DataDir:    "data",
	}
}

// loadConfig reads path. A missing path returns defaults so the service can
// run with zero configuration.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	_, err := os.Stat(path)
	if os.IsNotExist(err) {
		return cfg, nil
	} else if err != nil {
		return Config{}, errors.Wrap(err, "stat config file", j.KV("path", path))
	}

	_, err = toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, errors.Wrap(err, "parse config file", j.KV("path", path))
	}

	return cfg, nil
}
