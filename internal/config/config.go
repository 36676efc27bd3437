package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// FileName is the config file looked up in the config directory.
const FileName = "neurallap.cfg.json"

// EngineConfig holds acquisition loop settings
type EngineConfig struct {
	TickRate          int           `json:"tickRate" mapstructure:"tickRate"`
	ProbeInterval     time.Duration `json:"probeInterval" mapstructure:"probeInterval"`
	SyntheticFallback bool          `json:"syntheticFallback" mapstructure:"syntheticFallback"`
}

// SourcesConfig holds telemetry source selection
type SourcesConfig struct {
	Priority []string `json:"priority" mapstructure:"priority"`
}

// NormalizeConfig holds derived-signal thresholds
type NormalizeConfig struct {
	RadarLateral      float64 `json:"radarLateral" mapstructure:"radarLateral"`
	RadarLongitudinal float64 `json:"radarLongitudinal" mapstructure:"radarLongitudinal"`
	SteeringMax       float64 `json:"steeringMax" mapstructure:"steeringMax"` // radians
}

// ServerConfig holds the websocket/status HTTP server settings
type ServerConfig struct {
	Addr          string `json:"addr" mapstructure:"addr"`
	PublishBuffer int    `json:"publishBuffer" mapstructure:"publishBuffer"`
}

// SQLiteConfig holds SQLite storage backend settings
type SQLiteConfig struct {
	Path           string        `json:"path" mapstructure:"path"`
	BackupPath     string        `json:"backupPath" mapstructure:"backupPath"`
	BackupInterval time.Duration `json:"backupInterval" mapstructure:"backupInterval"`
}

// MemoryConfig holds in-memory storage backend settings
type MemoryConfig struct {
	OutputDir      string `json:"outputDir" mapstructure:"outputDir"`
	CompressOutput bool   `json:"compressOutput" mapstructure:"compressOutput"`
}

// PostgresConfig holds Postgres storage backend settings
type PostgresConfig struct {
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	Database string `json:"database" mapstructure:"database"`
}

// APIConfig holds the remote league service settings
type APIConfig struct {
	ServerURL string `json:"serverUrl" mapstructure:"serverUrl"`
	APIKey    string `json:"apiKey" mapstructure:"apiKey"`
}

// StorageConfig holds lap persistence settings
type StorageConfig struct {
	Type          string         `json:"type" mapstructure:"type"`
	FlushInterval time.Duration  `json:"flushInterval" mapstructure:"flushInterval"`
	SQLite        SQLiteConfig   `json:"sqlite" mapstructure:"sqlite"`
	Postgres      PostgresConfig `json:"postgres" mapstructure:"postgres"`
	Memory        MemoryConfig   `json:"memory" mapstructure:"memory"`
	API           APIConfig      `json:"api" mapstructure:"api"`
}

// SessionConfig identifies the driver for lap submissions
type SessionConfig struct {
	Driver   string `json:"driver" mapstructure:"driver"`
	Track    string `json:"track" mapstructure:"track"`
	Car      string `json:"car" mapstructure:"car"`
	LeagueID uint   `json:"leagueId" mapstructure:"leagueId"`
}

// ReportConfig holds lap report settings
type ReportConfig struct {
	ChartDir string `json:"chartDir" mapstructure:"chartDir"`
}

// HardwareConfig holds feedback device settings
type HardwareConfig struct {
	MaxRPM      float64       `json:"maxRpm" mapstructure:"maxRpm"`
	SerialPort  string        `json:"serialPort" mapstructure:"serialPort"`
	SerialBaud  int           `json:"serialBaud" mapstructure:"serialBaud"`
	MQTTBroker  string        `json:"mqttBroker" mapstructure:"mqttBroker"`
	MQTTTopic   string        `json:"mqttTopic" mapstructure:"mqttTopic"`
	MQTTTimeout time.Duration `json:"mqttTimeout" mapstructure:"mqttTimeout"`
}

// BioConfig holds heart-rate source settings
type BioConfig struct {
	MQTTBroker string `json:"mqttBroker" mapstructure:"mqttBroker"`
	MQTTTopic  string `json:"mqttTopic" mapstructure:"mqttTopic"`
}

// InfluxConfig holds InfluxDB frame recorder settings
type InfluxConfig struct {
	Enabled    bool   `json:"enabled" mapstructure:"enabled"`
	URL        string `json:"url" mapstructure:"url"`
	Token      string `json:"token" mapstructure:"token"`
	Org        string `json:"org" mapstructure:"org"`
	Bucket     string `json:"bucket" mapstructure:"bucket"`
	Decimate   int    `json:"decimate" mapstructure:"decimate"`
	BackupPath string `json:"backupPath" mapstructure:"backupPath"`
}

// GraylogConfig holds GELF log shipping settings
type GraylogConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Address string `json:"address" mapstructure:"address"`
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled         bool          `json:"enabled" mapstructure:"enabled"`
	ServiceName     string        `json:"serviceName" mapstructure:"serviceName"`
	BatchTimeout    time.Duration `json:"batchTimeout" mapstructure:"batchTimeout"`
	MetricsInterval time.Duration `json:"metricsInterval" mapstructure:"metricsInterval"`
	Endpoint        string        `json:"endpoint" mapstructure:"endpoint"`
	Insecure        bool          `json:"insecure" mapstructure:"insecure"`
}

// MonitorConfig holds the status file writer settings
type MonitorConfig struct {
	StatusFile string        `json:"statusFile" mapstructure:"statusFile"`
	Interval   time.Duration `json:"interval" mapstructure:"interval"`
}

func setDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./logs")

	viper.SetDefault("engine.tickRate", 60)
	viper.SetDefault("engine.probeInterval", "1s")
	viper.SetDefault("engine.syntheticFallback", true)

	viper.SetDefault("sources.priority", []string{"iracing", "lmu"})

	viper.SetDefault("normalize.radarLateral", 20.0)
	viper.SetDefault("normalize.radarLongitudinal", 50.0)
	viper.SetDefault("normalize.steeringMax", math.Pi/2)

	viper.SetDefault("server.addr", "127.0.0.1:8000")
	viper.SetDefault("server.publishBuffer", 256)

	viper.SetDefault("storage.type", "sqlite")
	viper.SetDefault("storage.flushInterval", "2s")
	viper.SetDefault("storage.sqlite.path", "./neurallap.db")
	viper.SetDefault("storage.sqlite.backupPath", "")
	viper.SetDefault("storage.sqlite.backupInterval", "5m")
	viper.SetDefault("storage.postgres.host", "localhost")
	viper.SetDefault("storage.postgres.port", "5432")
	viper.SetDefault("storage.postgres.username", "postgres")
	viper.SetDefault("storage.postgres.password", "postgres")
	viper.SetDefault("storage.postgres.database", "neurallap")
	viper.SetDefault("storage.memory.outputDir", "")
	viper.SetDefault("storage.memory.compressOutput", true)
	viper.SetDefault("storage.api.serverUrl", "http://localhost:8000/api/v1")
	viper.SetDefault("storage.api.apiKey", "")

	viper.SetDefault("session.driver", "Driver")
	viper.SetDefault("session.track", "")
	viper.SetDefault("session.car", "")
	viper.SetDefault("session.leagueId", 1)

	viper.SetDefault("report.chartDir", "")

	viper.SetDefault("hardware.maxRpm", 12000.0)
	viper.SetDefault("hardware.serialPort", "")
	viper.SetDefault("hardware.serialBaud", 115200)
	viper.SetDefault("hardware.mqttBroker", "")
	viper.SetDefault("hardware.mqttTopic", "neurallap/hardware")
	viper.SetDefault("hardware.mqttTimeout", "2s")

	viper.SetDefault("bio.mqttBroker", "")
	viper.SetDefault("bio.mqttTopic", "neurallap/bio/hr")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.url", "http://localhost:8086")
	viper.SetDefault("influx.token", "")
	viper.SetDefault("influx.org", "neurallap")
	viper.SetDefault("influx.bucket", "telemetry")
	viper.SetDefault("influx.decimate", 6)
	viper.SetDefault("influx.backupPath", "")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "neurallap")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.metricsInterval", "30s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetDefault("monitor.statusFile", "")
	viper.SetDefault("monitor.interval", "1s")
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file. A missing file is
// not an error; the defaults apply.
func Load(configDir string) error {
	setDefaults()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("error reading config file: %w", err)
	}

	return nil
}

// Flags returns the command-line flags that override config keys.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("neurallap", pflag.ContinueOnError)
	fs.String("config-dir", ".", "directory containing "+FileName)
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.String("addr", "127.0.0.1:8000", "websocket/status listen address")
	fs.StringSlice("sources", []string{"iracing", "lmu"}, "source priority order")
	fs.Bool("synthetic", true, "publish synthetic frames while no simulator is connected")
	fs.String("storage", "sqlite", "lap storage backend (sqlite, postgres, memory, api, none)")
	fs.String("driver", "Driver", "driver name for lap submissions")
	fs.String("chart-dir", "", "write lap report charts to this directory")
	return fs
}

var flagKeys = map[string]string{
	"log-level": "logLevel",
	"addr":      "server.addr",
	"sources":   "sources.priority",
	"synthetic": "engine.syntheticFallback",
	"storage":   "storage.type",
	"driver":    "session.driver",
	"chart-dir": "report.chartDir",
}

// BindFlags binds the flags from Flags to their config keys. Only flags set
// on the command line override the file.
func BindFlags(fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := viper.BindPFlag(key, f); err != nil {
			return fmt.Errorf("binding flag %s: %w", name, err)
		}
	}
	return nil
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

// GetEngineConfig returns the acquisition loop configuration.
func GetEngineConfig() EngineConfig {
	return EngineConfig{
		TickRate:          viper.GetInt("engine.tickRate"),
		ProbeInterval:     viper.GetDuration("engine.probeInterval"),
		SyntheticFallback: viper.GetBool("engine.syntheticFallback"),
	}
}

// GetSourcesConfig returns the source priority list, lower-cased.
func GetSourcesConfig() SourcesConfig {
	raw := viper.GetStringSlice("sources.priority")
	priority := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			priority = append(priority, s)
		}
	}
	return SourcesConfig{Priority: priority}
}

// GetNormalizeConfig returns the derived-signal thresholds.
func GetNormalizeConfig() NormalizeConfig {
	return NormalizeConfig{
		RadarLateral:      viper.GetFloat64("normalize.radarLateral"),
		RadarLongitudinal: viper.GetFloat64("normalize.radarLongitudinal"),
		SteeringMax:       viper.GetFloat64("normalize.steeringMax"),
	}
}

// GetServerConfig returns the HTTP server configuration.
func GetServerConfig() ServerConfig {
	return ServerConfig{
		Addr:          viper.GetString("server.addr"),
		PublishBuffer: viper.GetInt("server.publishBuffer"),
	}
}

// GetStorageConfig returns the lap persistence configuration.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type:          viper.GetString("storage.type"),
		FlushInterval: viper.GetDuration("storage.flushInterval"),
		SQLite: SQLiteConfig{
			Path:           viper.GetString("storage.sqlite.path"),
			BackupPath:     viper.GetString("storage.sqlite.backupPath"),
			BackupInterval: viper.GetDuration("storage.sqlite.backupInterval"),
		},
		Postgres: PostgresConfig{
			Host:     viper.GetString("storage.postgres.host"),
			Port:     viper.GetString("storage.postgres.port"),
			Username: viper.GetString("storage.postgres.username"),
			Password: viper.GetString("storage.postgres.password"),
			Database: viper.GetString("storage.postgres.database"),
		},
		Memory: MemoryConfig{
			OutputDir:      viper.GetString("storage.memory.outputDir"),
			CompressOutput: viper.GetBool("storage.memory.compressOutput"),
		},
		API: APIConfig{
			ServerURL: viper.GetString("storage.api.serverUrl"),
			APIKey:    viper.GetString("storage.api.apiKey"),
		},
	}
}

// GetSessionConfig returns the driver/session identity.
func GetSessionConfig() SessionConfig {
	return SessionConfig{
		Driver:   viper.GetString("session.driver"),
		Track:    viper.GetString("session.track"),
		Car:      viper.GetString("session.car"),
		LeagueID: viper.GetUint("session.leagueId"),
	}
}

// GetReportConfig returns the lap report configuration.
func GetReportConfig() ReportConfig {
	return ReportConfig{ChartDir: viper.GetString("report.chartDir")}
}

// GetHardwareConfig returns the feedback device configuration.
func GetHardwareConfig() HardwareConfig {
	return HardwareConfig{
		MaxRPM:      viper.GetFloat64("hardware.maxRpm"),
		SerialPort:  viper.GetString("hardware.serialPort"),
		SerialBaud:  viper.GetInt("hardware.serialBaud"),
		MQTTBroker:  viper.GetString("hardware.mqttBroker"),
		MQTTTopic:   viper.GetString("hardware.mqttTopic"),
		MQTTTimeout: viper.GetDuration("hardware.mqttTimeout"),
	}
}

// GetBioConfig returns the heart-rate source configuration.
func GetBioConfig() BioConfig {
	return BioConfig{
		MQTTBroker: viper.GetString("bio.mqttBroker"),
		MQTTTopic:  viper.GetString("bio.mqttTopic"),
	}
}

// GetInfluxConfig returns the InfluxDB recorder configuration.
func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled:    viper.GetBool("influx.enabled"),
		URL:        viper.GetString("influx.url"),
		Token:      viper.GetString("influx.token"),
		Org:        viper.GetString("influx.org"),
		Bucket:     viper.GetString("influx.bucket"),
		Decimate:   viper.GetInt("influx.decimate"),
		BackupPath: viper.GetString("influx.backupPath"),
	}
}

// GetGraylogConfig returns the GELF log shipping configuration.
func GetGraylogConfig() GraylogConfig {
	return GraylogConfig{
		Enabled: viper.GetBool("graylog.enabled"),
		Address: viper.GetString("graylog.address"),
	}
}

// GetOTelConfig returns the OpenTelemetry configuration.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:         viper.GetBool("otel.enabled"),
		ServiceName:     viper.GetString("otel.serviceName"),
		BatchTimeout:    viper.GetDuration("otel.batchTimeout"),
		MetricsInterval: viper.GetDuration("otel.metricsInterval"),
		Endpoint:        viper.GetString("otel.endpoint"),
		Insecure:        viper.GetBool("otel.insecure"),
	}
}

// GetMonitorConfig returns the status file configuration.
func GetMonitorConfig() MonitorConfig {
	return MonitorConfig{
		StatusFile: viper.GetString("monitor.statusFile"),
		Interval:   viper.GetDuration("monitor.interval"),
	}
}
