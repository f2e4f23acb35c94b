package adapter

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/ini.v1"
)

const (
	// DefaultLandingURL is shown when no scenario can be played
	DefaultLandingURL = "https://www.admed.kr"

	// DeviceSection is the ini section holding the device serial
	DeviceSection = "ADMed"

	deviceFileName = "device_config.ini"
)

// ErrMissingSetting indicates a required setting is empty
var ErrMissingSetting = errors.New("required setting is missing")

// Config holds all application configuration
type Config struct {
	Scenario ScenarioConfig `mapstructure:"scenario"`
	Clinic   ClinicConfig   `mapstructure:"clinic"`
	Device   DeviceConfig   `mapstructure:"device"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Server   ServerConfig   `mapstructure:"server"`
	Refresh  RefreshConfig  `mapstructure:"refresh"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ScenarioConfig holds the scenario API endpoints
type ScenarioConfig struct {
	APIURL          string `mapstructure:"api_url"`
	TemplateBaseURL string `mapstructure:"template_base_url"`
	LandingURL      string `mapstructure:"landing_url"`
}

// ClinicConfig holds the realtime queue endpoints
type ClinicConfig struct {
	APIOrigin string `mapstructure:"api_origin"`
	WSOrigin  string `mapstructure:"ws_origin"`
}

// DeviceConfig identifies this kiosk
type DeviceConfig struct {
	Serial string `mapstructure:"serial"`
	File   string `mapstructure:"file"` // ini file holding [ADMed] device_serial
}

// CacheConfig holds cache locations and download limits
type CacheConfig struct {
	Dir         string `mapstructure:"dir"`
	DataDir     string `mapstructure:"data_dir"` // bbolt index; must not live inside Dir
	Concurrency int    `mapstructure:"concurrency"`
}

// ServerConfig holds the local asset server settings
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// RefreshConfig controls the scenario refresh loop
type RefreshConfig struct {
	Interval   time.Duration `mapstructure:"interval"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	File  string `mapstructure:"file"`
	Level string `mapstructure:"level"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Scenario: ScenarioConfig{
			LandingURL: DefaultLandingURL,
		},
		Device: DeviceConfig{
			File: filepath.Join(defaultConfigPath(), deviceFileName),
		},
		Cache: CacheConfig{
			Dir:         defaultCachePath(),
			DataDir:     defaultDataPath(),
			Concurrency: 3,
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:0",
		},
		Refresh: RefreshConfig{
			Interval:   10 * time.Minute,
			RetryDelay: 5 * time.Second,
		},
		Logging: LoggingConfig{
			File:  filepath.Join(defaultDataPath(), "marquee.log"),
			Level: "INFO",
		},
	}
}

// legacyEnv maps config keys to the environment names older deployments use
var legacyEnv = map[string]string{
	"scenario.api_url":           "SCENARIO_API_URL",
	"scenario.template_base_url": "TEMPLATE_BASE_URL",
	"scenario.landing_url":       "LANDING_URL",
	"clinic.api_origin":          "CLINIC_API_ORIGIN",
	"clinic.ws_origin":           "CLINIC_WS_ORIGIN",
}

// defaultDataPath returns the directory for the index and logs
func defaultDataPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "marquee")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "marquee")
	}
}

// defaultConfigPath returns the default config file path for the current OS
func defaultConfigPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "marquee")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "marquee")
	}
}

// defaultCachePath returns the default cache directory path for the current OS
func defaultCachePath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("LOCALAPPDATA"), "marquee", "cache")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".cache", "marquee")
	}
}

// LoadConfig loads configuration from the default locations
func LoadConfig() (*Config, error) {
	return LoadConfigFrom(defaultConfigPath(), ".")
}

// LoadConfigFrom loads config.yaml and .env from the given directories (first
// match wins for the yaml file), then applies environment overrides. A device
// serial not set by config or environment is read from the device ini file.
func LoadConfigFrom(dirs ...string) (*Config, error) {
	cfg := DefaultConfig()

	for _, dir := range dirs {
		if err := loadDotEnv(filepath.Join(dir, ".env")); err != nil {
			return nil, err
		}
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, dir := range dirs {
		v.AddConfigPath(dir)
	}

	// Environment variable overrides
	v.SetEnvPrefix("MARQUEE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, cfg)
	for key, env := range legacyEnv {
		if err := v.BindEnv(key, "MARQUEE_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("error binding %s: %w", env, err)
		}
	}

	// Read config file if it exists
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, use defaults
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	if cfg.Device.Serial == "" {
		serial, err := ReadDeviceSerial(cfg.Device.File)
		if err != nil {
			return nil, err
		}
		cfg.Device.Serial = serial
	}

	return cfg, nil
}

// setDefaults registers every key so environment overrides apply on Unmarshal
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("scenario.api_url", cfg.Scenario.APIURL)
	v.SetDefault("scenario.template_base_url", cfg.Scenario.TemplateBaseURL)
	v.SetDefault("scenario.landing_url", cfg.Scenario.LandingURL)
	v.SetDefault("clinic.api_origin", cfg.Clinic.APIOrigin)
	v.SetDefault("clinic.ws_origin", cfg.Clinic.WSOrigin)
	v.SetDefault("device.serial", cfg.Device.Serial)
	v.SetDefault("device.file", cfg.Device.File)
	v.SetDefault("cache.dir", cfg.Cache.Dir)
	v.SetDefault("cache.data_dir", cfg.Cache.DataDir)
	v.SetDefault("cache.concurrency", cfg.Cache.Concurrency)
	v.SetDefault("server.addr", cfg.Server.Addr)
	v.SetDefault("refresh.interval", cfg.Refresh.Interval)
	v.SetDefault("refresh.retry_delay", cfg.Refresh.RetryDelay)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.level", cfg.Logging.Level)
}

// loadDotEnv loads a .env file without overriding variables already set
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("error reading %s: %w", path, err)
	}
	return nil
}

// ReadDeviceSerial reads [ADMed] device_serial (or deviceSerial) from an ini
// file. A missing file yields an empty serial.
func ReadDeviceSerial(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return "", nil
	}

	file, err := ini.Load(path)
	if err != nil {
		return "", fmt.Errorf("error reading device file: %w", err)
	}
	section := file.Section(DeviceSection)
	for _, key := range []string{"device_serial", "deviceSerial"} {
		if v := strings.TrimSpace(section.Key(key).String()); v != "" {
			return v, nil
		}
	}
	return "", nil
}

// SaveDeviceSerial writes the serial into the device ini file, keeping other keys
func SaveDeviceSerial(path, serial string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file := ini.Empty()
	if _, err := os.Stat(path); err == nil {
		if file, err = ini.Load(path); err != nil {
			return fmt.Errorf("error reading device file: %w", err)
		}
	}
	file.Section(DeviceSection).Key("device_serial").SetValue(serial)

	if err := file.SaveTo(path); err != nil {
		return fmt.Errorf("failed to write device file: %w", err)
	}
	return nil
}

// Validate reports missing required settings
func (c *Config) Validate() error {
	var missing []string
	if c.Scenario.APIURL == "" {
		missing = append(missing, "SCENARIO_API_URL")
	}
	if c.Scenario.TemplateBaseURL == "" {
		missing = append(missing, "TEMPLATE_BASE_URL")
	}
	if c.Device.Serial == "" {
		missing = append(missing, "device serial")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingSetting, strings.Join(missing, ", "))
	}
	return nil
}

// RealtimeConfigured returns true if both clinic origins are set
func (c *Config) RealtimeConfigured() bool {
	return c.Clinic.APIOrigin != "" && c.Clinic.WSOrigin != ""
}
