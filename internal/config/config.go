package config

import "time"

// Config holds client and dev server configuration values.
type Config struct {
	// APIBaseURL is the HTTP(S) base of the chat backend. The websocket
	// endpoint is derived from it (https -> wss, http -> ws).
	APIBaseURL string `mapstructure:"api_base_url" yaml:"api_base_url"`
	LogLevel   string `mapstructure:"log_level" yaml:"log_level"`
	// HTTPTimeout bounds individual REST calls.
	HTTPTimeout time.Duration `mapstructure:"http_timeout" yaml:"http_timeout"`

	DevServer DevServer `mapstructure:"devserver" yaml:"devserver"`
}

// DevServer configures the bundled development server.
type DevServer struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	DatabasePath      string        `mapstructure:"database_path" yaml:"database_path"`
	JWTSecret         string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		APIBaseURL:  "http://localhost:8080",
		LogLevel:    "info",
		HTTPTimeout: 10 * time.Second,
		DevServer: DevServer{
			Addr:              ":8080",
			DatabasePath:      "coopchat.db",
			JWTSecret:         "dev-secret-change-me",
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   5 * time.Second,
		},
	}
}
