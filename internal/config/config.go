// Package config loads daemon configuration via viper, grounded on the
// teacher's cmd/config/config.go setViperDefaults/LoadConfig shape.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/viper"
)

// Config holds the daemon's resolved settings after LoadConfig runs.
type Config struct {
	LogLevel string
	LogFile  string

	SocketDir      string
	AudFilePattern string
	AudioGroup     string

	ConnectTimeout     time.Duration
	HotwordDefaultWake time.Duration
	DSPConfigPath      string
}

func setViperDefaults() {
	viper.SetDefault("loglevel", "info")
	viper.SetDefault("logfile", "")
	viper.SetDefault("socket_dir", "/run/crasd")
	viper.SetDefault("aud_file_pattern", "crasd-audio")
	viper.SetDefault("audio_group", "audio")
	viper.SetDefault("connect_timeout_ms", 500)
	viper.SetDefault("hotword_default_wake_s", 20)
	viper.SetDefault("dsp_config_path", "")
}

// LoadConfig reads configFilePath (if it exists) over the defaults above
// and returns the resolved Config. A missing config file is not an
// error — the daemon runs on defaults, same as the teacher's
// viper.ConfigFileNotFoundError handling.
func LoadConfig(configFilePath string) (*Config, error) {
	setViperDefaults()

	viper.SetConfigFile(configFilePath)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			slog.Info("no config file found, using defaults", "configFilePath", configFilePath)
		} else {
			return nil, fmt.Errorf("config: reading %s: %w", configFilePath, err)
		}
	}

	cfg := &Config{
		LogLevel:           viper.GetString("loglevel"),
		LogFile:            viper.GetString("logfile"),
		SocketDir:          viper.GetString("socket_dir"),
		AudFilePattern:     viper.GetString("aud_file_pattern"),
		AudioGroup:         viper.GetString("audio_group"),
		ConnectTimeout:     time.Duration(viper.GetInt("connect_timeout_ms")) * time.Millisecond,
		HotwordDefaultWake: time.Duration(viper.GetInt("hotword_default_wake_s")) * time.Second,
		DSPConfigPath:      viper.GetString("dsp_config_path"),
	}

	if cfg.SocketDir == "" {
		return nil, fmt.Errorf("config: socket_dir must not be empty")
	}
	return cfg, nil
}
