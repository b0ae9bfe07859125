package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	authConfig "github.com/iurnickita/laundry/internal/auth/config"
	handlerConfig "github.com/iurnickita/laundry/internal/handler/config"
	loggerConfig "github.com/iurnickita/laundry/internal/logger/config"
	serviceConfig "github.com/iurnickita/laundry/internal/service/config"
	storeConfig "github.com/iurnickita/laundry/internal/store/config"
)

type Config struct {
	Handler handlerConfig.Config `yaml:"handler"`
	Service serviceConfig.Config `yaml:"service"`
	Store   storeConfig.Config   `yaml:"store"`
	Logger  loggerConfig.Config  `yaml:"logger"`
	Auth    authConfig.Config    `yaml:"auth"`
}

const (
	defaultServerAddr     = ":8080"
	defaultLogLevel       = "info"
	defaultGatewayBaseURL = "https://api.sandbox.midtrans.com"
	defaultGatewaySnapURL = "https://app.sandbox.midtrans.com"
	defaultGatewayTimeout = 10 * time.Second
	defaultPollInterval   = 30 * time.Second
	defaultTokenTTL       = 24 * time.Hour
)

func Default() Config {
	return Config{
		Handler: handlerConfig.Config{
			ServerAddr:      defaultServerAddr,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Service: serviceConfig.Config{
			Gateway: serviceConfig.GatewayConfig{
				BaseURL: defaultGatewayBaseURL,
				SnapURL: defaultGatewaySnapURL,
				Timeout: defaultGatewayTimeout,
			},
			PollInterval: defaultPollInterval,
		},
		Logger: loggerConfig.Config{LogLevel: defaultLogLevel},
		Auth:   authConfig.Config{TokenTTL: defaultTokenTTL},
	}
}

// GetConfig reads the process command line and environment.
func GetConfig() (Config, error) {
	return Load(os.Args[1:], os.LookupEnv)
}

// Load applies, in increasing priority: defaults, YAML file, flags, environment.
func Load(args []string, lookupEnv func(string) (string, bool)) (Config, error) {
	cfg := Default()

	fs := flag.NewFlagSet("laundry", flag.ContinueOnError)
	configFile := fs.String("c", "", "path to YAML config file")
	addr := fs.String("a", "", "server address")
	dsn := fs.String("d", "", "database DSN")
	logLevel := fs.String("l", "", "log level")
	serverKey := fs.String("k", "", "payment gateway server key")
	gatewayURL := fs.String("g", "", "payment gateway API base URL")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	path := *configFile
	if v, ok := lookupEnv("CONFIG_FILE"); ok && v != "" {
		path = v
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "a":
			cfg.Handler.ServerAddr = *addr
		case "d":
			cfg.Store.DBDsn = *dsn
		case "l":
			cfg.Logger.LogLevel = *logLevel
		case "k":
			cfg.Service.Gateway.ServerKey = *serverKey
		case "g":
			cfg.Service.Gateway.BaseURL = *gatewayURL
		}
	})

	env := func(key string, dst *string) {
		if v, ok := lookupEnv(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	env("RUN_ADDRESS", &cfg.Handler.ServerAddr)
	env("DATABASE_URI", &cfg.Store.DBDsn)
	env("LOG_LEVEL", &cfg.Logger.LogLevel)
	env("GATEWAY_SERVER_KEY", &cfg.Service.Gateway.ServerKey)
	env("GATEWAY_BASE_URL", &cfg.Service.Gateway.BaseURL)
	env("GATEWAY_SNAP_URL", &cfg.Service.Gateway.SnapURL)
	env("AUTH_SECRET", &cfg.Auth.TokenSecret)

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"GATEWAY_TIMEOUT", &cfg.Service.Gateway.Timeout},
		{"POLL_INTERVAL", &cfg.Service.PollInterval},
		{"TOKEN_TTL", &cfg.Auth.TokenTTL},
	}
	for _, d := range durations {
		v, ok := lookupEnv(d.key)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		parsed, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return Config{}, fmt.Errorf("config: %s: %w", d.key, err)
		}
		*d.dst = parsed
	}

	if cfg.Service.Gateway.Timeout <= 0 {
		cfg.Service.Gateway.Timeout = defaultGatewayTimeout
	}
	if cfg.Auth.TokenSecret == "" {
		return Config{}, fmt.Errorf("config: AUTH_SECRET is required")
	}

	return cfg, nil
}
