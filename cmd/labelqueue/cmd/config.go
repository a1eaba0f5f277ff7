package cmd

import (
	"github.com/klabs/labelqueue/internal/config"
)

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadConfig(configPath)
	}
	return config.LoadConfigFromEnv()
}
