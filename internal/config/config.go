package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// FileName is the config file looked up in the config directory.
const FileName = "fieldsync.cfg.json"

// StorageConfig selects and configures the anchor store.
type StorageConfig struct {
	Type      string          `json:"type" mapstructure:"type" validate:"oneof=memory sqlite postgres websocket"`
	SQLite    SQLiteConfig    `json:"sqlite" mapstructure:"sqlite"`
	WebSocket WebSocketConfig `json:"websocket" mapstructure:"websocket"`
}

// SQLiteConfig holds SQLite backend settings. An empty Path keeps the
// database in memory: it is restored from DumpPath on start and dumped back
// every DumpInterval and on close.
type SQLiteConfig struct {
	Path         string        `json:"path" mapstructure:"path"`
	DumpPath     string        `json:"dumpPath" mapstructure:"dumpPath"`
	DumpInterval time.Duration `json:"dumpInterval" mapstructure:"dumpInterval" validate:"gte=0"`
}

// WebSocketConfig holds the remote anchor store settings.
type WebSocketConfig struct {
	URL     string        `json:"url" mapstructure:"url" validate:"omitempty,url"`
	Secret  string        `json:"secret" mapstructure:"secret"`
	Timeout time.Duration `json:"timeout" mapstructure:"timeout" validate:"gte=0"`
	Listen  string        `json:"listen" mapstructure:"listen"`
}

// LocateConfig holds the position source and the acquisition tiers.
type LocateConfig struct {
	Source  string      `json:"source" mapstructure:"source" validate:"oneof=none http fixed"`
	HTTP    HTTPSource  `json:"http" mapstructure:"http"`
	Fixed   FixedSource `json:"fixed" mapstructure:"fixed"`
	High    TierConfig  `json:"high" mapstructure:"high"`
	Relaxed TierConfig  `json:"relaxed" mapstructure:"relaxed"`
}

// HTTPSource configures the companion positioning endpoint.
type HTTPSource struct {
	URL    string `json:"url" mapstructure:"url" validate:"omitempty,url"`
	APIKey string `json:"apiKey" mapstructure:"apiKey"`
}

// FixedSource is a configured position used instead of a live fix.
type FixedSource struct {
	Latitude  float64 `json:"latitude" mapstructure:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" mapstructure:"longitude" validate:"gte=-180,lte=180"`
	Accuracy  float64 `json:"accuracy" mapstructure:"accuracy" validate:"gte=0"`
	Set       bool    `json:"set" mapstructure:"set"`
}

// TierConfig overrides one acquisition tier.
type TierConfig struct {
	Timeout     time.Duration `json:"timeout" mapstructure:"timeout" validate:"gt=0"`
	MaxCacheAge time.Duration `json:"maxCacheAge" mapstructure:"maxCacheAge" validate:"gte=0"`
}

// OTelConfig holds OpenTelemetry settings.
type OTelConfig struct {
	Enabled      bool          `json:"enabled" mapstructure:"enabled"`
	ServiceName  string        `json:"serviceName" mapstructure:"serviceName" validate:"required"`
	BatchTimeout time.Duration `json:"batchTimeout" mapstructure:"batchTimeout" validate:"gt=0"`
	Endpoint     string        `json:"endpoint" mapstructure:"endpoint"`
	Insecure     bool          `json:"insecure" mapstructure:"insecure"`
}

// InfluxConfig holds InfluxDB settings for capture telemetry.
type InfluxConfig struct {
	Enabled    bool   `json:"enabled" mapstructure:"enabled"`
	Host       string `json:"host" mapstructure:"host" validate:"required_if=Enabled true"`
	Port       string `json:"port" mapstructure:"port"`
	Protocol   string `json:"protocol" mapstructure:"protocol" validate:"oneof=http https"`
	Token      string `json:"token" mapstructure:"token"`
	Org        string `json:"org" mapstructure:"org"`
	Bucket     string `json:"bucket" mapstructure:"bucket" validate:"required"`
	BackupPath string `json:"backupPath" mapstructure:"backupPath"`
}

// GraylogConfig holds the GELF log sink settings.
type GraylogConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Address string `json:"address" mapstructure:"address" validate:"required_if=Enabled true"`
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file.
func Load(configDir string) error {
	setDefaults()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
}

func setDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./fieldsynclogs")
	viper.SetDefault("owner", "")
	viper.SetDefault("prefsPath", ".")

	viper.SetDefault("storage.type", "sqlite")
	viper.SetDefault("storage.sqlite.path", "./fieldsync.db")
	viper.SetDefault("storage.sqlite.dumpPath", "./fieldsync.db")
	viper.SetDefault("storage.sqlite.dumpInterval", "3m")
	viper.SetDefault("storage.websocket.url", "")
	viper.SetDefault("storage.websocket.secret", "")
	viper.SetDefault("storage.websocket.timeout", "10s")
	viper.SetDefault("storage.websocket.listen", "localhost:8765")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "fieldsync")
	viper.SetDefault("db.sslmode", "disable")

	viper.SetDefault("locate.source", "none")
	viper.SetDefault("locate.http.url", "http://localhost:5000")
	viper.SetDefault("locate.http.apiKey", "")
	viper.SetDefault("locate.fixed.latitude", 0.0)
	viper.SetDefault("locate.fixed.longitude", 0.0)
	viper.SetDefault("locate.fixed.accuracy", 0.0)
	viper.SetDefault("locate.fixed.set", false)
	viper.SetDefault("locate.high.timeout", "20s")
	viper.SetDefault("locate.high.maxCacheAge", "5s")
	viper.SetDefault("locate.relaxed.timeout", "20s")
	viper.SetDefault("locate.relaxed.maxCacheAge", "10m")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "fieldsync")
	viper.SetDefault("influx.bucket", "captures")
	viper.SetDefault("influx.backupPath", "./fieldsync_influx_backup.log.gzip")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "fieldsync")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetStorageConfig returns the anchor store settings.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type: viper.GetString("storage.type"),
		SQLite: SQLiteConfig{
			Path:         viper.GetString("storage.sqlite.path"),
			DumpPath:     viper.GetString("storage.sqlite.dumpPath"),
			DumpInterval: viper.GetDuration("storage.sqlite.dumpInterval"),
		},
		WebSocket: WebSocketConfig{
			URL:     viper.GetString("storage.websocket.url"),
			Secret:  viper.GetString("storage.websocket.secret"),
			Timeout: viper.GetDuration("storage.websocket.timeout"),
			Listen:  viper.GetString("storage.websocket.listen"),
		},
	}
}

// GetLocateConfig returns the position source settings.
func GetLocateConfig() LocateConfig {
	return LocateConfig{
		Source: viper.GetString("locate.source"),
		HTTP: HTTPSource{
			URL:    viper.GetString("locate.http.url"),
			APIKey: viper.GetString("locate.http.apiKey"),
		},
		Fixed: FixedSource{
			Latitude:  viper.GetFloat64("locate.fixed.latitude"),
			Longitude: viper.GetFloat64("locate.fixed.longitude"),
			Accuracy:  viper.GetFloat64("locate.fixed.accuracy"),
			Set:       viper.GetBool("locate.fixed.set"),
		},
		High: TierConfig{
			Timeout:     viper.GetDuration("locate.high.timeout"),
			MaxCacheAge: viper.GetDuration("locate.high.maxCacheAge"),
		},
		Relaxed: TierConfig{
			Timeout:     viper.GetDuration("locate.relaxed.timeout"),
			MaxCacheAge: viper.GetDuration("locate.relaxed.maxCacheAge"),
		},
	}
}

// GetOTelConfig returns the OpenTelemetry settings.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

// GetInfluxConfig returns the InfluxDB settings.
func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled:    viper.GetBool("influx.enabled"),
		Host:       viper.GetString("influx.host"),
		Port:       viper.GetString("influx.port"),
		Protocol:   viper.GetString("influx.protocol"),
		Token:      viper.GetString("influx.token"),
		Org:        viper.GetString("influx.org"),
		Bucket:     viper.GetString("influx.bucket"),
		BackupPath: viper.GetString("influx.backupPath"),
	}
}

// GetGraylogConfig returns the Graylog settings.
func GetGraylogConfig() GraylogConfig {
	return GraylogConfig{
		Enabled: viper.GetBool("graylog.enabled"),
		Address: viper.GetString("graylog.address"),
	}
}

// Validate checks every config section against its constraints.
func Validate() error {
	v := validator.New()
	sections := []any{
		GetStorageConfig(),
		GetLocateConfig(),
		GetOTelConfig(),
		GetInfluxConfig(),
		GetGraylogConfig(),
	}
	for _, s := range sections {
		if err := v.Struct(s); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
	}

	storage := GetStorageConfig()
	if storage.Type == "websocket" && storage.WebSocket.URL == "" {
		return fmt.Errorf("invalid config: storage.websocket.url is required for the websocket store")
	}
	return nil
}
