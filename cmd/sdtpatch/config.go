package main

import (
	"fmt"

	"github.com/creasty/defaults"
	"github.com/spf13/viper"

	"github.com/sdtpatch/sdtpatch/internal/driver"
)

func loadConfig(path string) (*driver.Config, error) {
	cfg := &driver.Config{}

	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("failed to set config defaults: %w", err)
	}

	if path == "" {
		return cfg, nil
	}

	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config from '%s': %w", path, err)
	}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}
