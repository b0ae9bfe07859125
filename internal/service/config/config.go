package config

import "time"

type Config struct {
	Gateway GatewayConfig `yaml:"gateway"`
	// PollInterval is the cadence suggested to clients polling an unresolved payment.
	PollInterval time.Duration `yaml:"poll_interval"`
}

type GatewayConfig struct {
	ServerKey string        `yaml:"server_key"`
	BaseURL   string        `yaml:"base_url"`
	SnapURL   string        `yaml:"snap_url"`
	Timeout   time.Duration `yaml:"timeout"`
}
