package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Sync     SyncConfig     `yaml:"sync"`
	Settings SettingsConfig `yaml:"settings"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

type SyncConfig struct {
	IntervalSeconds          int `yaml:"interval_seconds"`
	IncrementalWindowMinutes int `yaml:"incremental_window_minutes"`
	PageSize                 int `yaml:"page_size"`
}

type SettingsConfig struct {
	KeyPath string `yaml:"key_path"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 2929,
		},
		Database: DatabaseConfig{
			DSN: "./borealis.db",
		},
		Sync: SyncConfig{
			IntervalSeconds:          1800,
			IncrementalWindowMinutes: 30,
			PageSize:                 500,
		},
		Settings: SettingsConfig{
			KeyPath: "./secret.key",
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
