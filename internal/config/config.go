// Package config provides Viper-based configuration loading for the lobby server.
package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"
)

// ServerConfig holds the identity the lobby presents to clients.
type ServerConfig struct {
	// Name is sent in the handshake reply and the post-login server info message.
	Name string `mapstructure:"name"`
	// WelcomeMessage is the chat message sent after a successful login.
	WelcomeMessage string `mapstructure:"welcome_message"`
}

// LobbyConfig holds the binary protocol acceptor settings.
type LobbyConfig struct {
	// Host is the bind address for the lobby listener.
	Host string `mapstructure:"host"`
	// Port is the TCP port for the lobby listener.
	Port int `mapstructure:"port"`
	// MaxFrameSize is the largest inbound frame payload accepted, in bytes.
	MaxFrameSize uint32 `mapstructure:"max_frame_size"`
	// ReadTimeout is the per-frame read timeout. Zero disables it.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the per-frame write timeout. Zero disables it.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// PasswordCost is the bcrypt cost used to hash room passwords.
	PasswordCost int `mapstructure:"password_cost"`
	// SeedRooms is an optional path to a YAML file of rooms created at startup.
	SeedRooms string `mapstructure:"seed_rooms"`
	// MaxRooms caps the number of rooms. Zero selects the largest count a
	// room list frame can carry.
	MaxRooms int `mapstructure:"max_rooms"`
}

// Addr returns the "host:port" listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (l LobbyConfig) Addr() string {
	return fmt.Sprintf("%s:%d", l.Host, l.Port)
}

// AdminConfig holds the HTTP admin endpoint settings.
type AdminConfig struct {
	// Enabled turns the admin HTTP server on.
	Enabled bool `mapstructure:"enabled"`
	// Host is the bind address for the admin listener.
	Host string `mapstructure:"host"`
	// Port is the TCP port for the admin listener.
	Port int `mapstructure:"port"`
}

// Addr returns the "host:port" admin listen address.
func (a AdminConfig) Addr() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
	// OutputPaths are zap sink URLs or file paths. Empty means stderr.
	OutputPaths []string `mapstructure:"output_paths"`
	// Sampling rate-limits repeated entries, such as per-frame warnings from
	// a misbehaving client.
	Sampling bool `mapstructure:"sampling"`
}

// Config is the top-level application configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Lobby   LobbyConfig   `mapstructure:"lobby"`
	Admin   AdminConfig   `mapstructure:"admin"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateServer(c.Server); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateLobby(c.Lobby); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateAdmin(c.Admin); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateServer(s ServerConfig) error {
	if s.Name == "" {
		return errors.New("server.name must not be empty")
	}
	var errs []string
	if err := validateWireText("server.name", s.Name); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateWireText("server.welcome_message", s.WelcomeMessage); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// validateWireText rejects values that cannot be sent as a NUL-terminated string.
func validateWireText(key, value string) error {
	if !utf8.ValidString(value) {
		return fmt.Errorf("%s must be valid UTF-8", key)
	}
	if strings.IndexByte(value, 0) >= 0 {
		return fmt.Errorf("%s must not contain NUL bytes", key)
	}
	return nil
}

func validateLobby(l LobbyConfig) error {
	var errs []string
	if l.Port < 0 || l.Port > 65535 {
		errs = append(errs, fmt.Sprintf("lobby.port must be 0-65535, got %d", l.Port))
	}
	if l.MaxFrameSize < 16 {
		errs = append(errs, fmt.Sprintf("lobby.max_frame_size must be >= 16, got %d", l.MaxFrameSize))
	}
	if l.ReadTimeout < 0 {
		errs = append(errs, "lobby.read_timeout must not be negative")
	}
	if l.WriteTimeout < 0 {
		errs = append(errs, "lobby.write_timeout must not be negative")
	}
	if l.PasswordCost < bcrypt.MinCost || l.PasswordCost > bcrypt.MaxCost {
		errs = append(errs, fmt.Sprintf("lobby.password_cost must be %d-%d, got %d", bcrypt.MinCost, bcrypt.MaxCost, l.PasswordCost))
	}
	if l.MaxRooms < 0 || l.MaxRooms > math.MaxUint16 {
		errs = append(errs, fmt.Sprintf("lobby.max_rooms must be 0-%d, got %d", math.MaxUint16, l.MaxRooms))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateAdmin(a AdminConfig) error {
	if !a.Enabled {
		return nil
	}
	if a.Port < 0 || a.Port > 65535 {
		return fmt.Errorf("admin.port must be 0-65535, got %d", a.Port)
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Environment variable overrides with LOBBY_ prefix
	v.SetEnvPrefix("LOBBY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	return LoadFromViper(v)
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// SetDefaults registers the default value of every configuration key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.name", "Lobby Server")
	v.SetDefault("server.welcome_message", "Welcome to the lobby")

	v.SetDefault("lobby.host", "127.0.0.1")
	v.SetDefault("lobby.port", 8765)
	v.SetDefault("lobby.max_frame_size", 64*1024)
	v.SetDefault("lobby.read_timeout", "0s")
	v.SetDefault("lobby.write_timeout", "10s")
	v.SetDefault("lobby.password_cost", 10)
	v.SetDefault("lobby.seed_rooms", "")
	v.SetDefault("lobby.max_rooms", math.MaxUint16)

	v.SetDefault("admin.enabled", false)
	v.SetDefault("admin.host", "127.0.0.1")
	v.SetDefault("admin.port", 9100)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.sampling", false)
}
