// Package conf handles monitord configuration loading and access.
// Settings come from a YAML config file with environment variable
// overrides (MONITORD_ prefix), loaded once at startup via viper.
package conf

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Settings is the root configuration for monitord.
type Settings struct {
	Main         MainSettings         `mapstructure:"main"`
	Database     DatabaseSettings     `mapstructure:"database"`
	Scanner      ScannerSettings      `mapstructure:"scanner"`
	Poller       PollerSettings       `mapstructure:"poller"`
	Alerting     AlertingSettings     `mapstructure:"alerting"`
	Notification NotificationSettings `mapstructure:"notification"`
	Sysmon       SysmonSettings       `mapstructure:"sysmon"`
	Session      SessionSettings      `mapstructure:"session"`
	WebServer    WebServerSettings    `mapstructure:"webserver"`
}

// SysmonSettings configures local system metric sampling.
type SysmonSettings struct {
	Enabled  bool     `mapstructure:"enabled"`
	Interval Duration `mapstructure:"interval"`
}

// MainSettings holds process-wide options.
type MainSettings struct {
	LogLevel string `mapstructure:"loglevel"` // debug, info, warn, error
}

// DatabaseSettings selects and configures the backing store.
type DatabaseSettings struct {
	Type string `mapstructure:"type"` // "sqlite" or "mysql"
	Path string `mapstructure:"path"` // sqlite file path
	DSN  string `mapstructure:"dsn"`  // mysql DSN
}

// ScannerSettings configures subnet discovery sweeps.
type ScannerSettings struct {
	Subnet       string   `mapstructure:"subnet"` // CIDR; empty = derive from host interfaces
	AgentPort    int      `mapstructure:"agentport"`
	HandshakeKey string   `mapstructure:"handshakekey"`
	ProbeTimeout Duration `mapstructure:"probetimeout"`
	Concurrency  int      `mapstructure:"concurrency"`
}

// PollerSettings configures the device status polling cycle.
type PollerSettings struct {
	Interval Duration `mapstructure:"interval"`
	// QueryTimeout bounds each per-device status query.
	QueryTimeout Duration `mapstructure:"querytimeout"`
	// OfflineThreshold is the number of consecutive failed queries
	// required before a device is marked offline.
	OfflineThreshold int `mapstructure:"offlinethreshold"`
	// RelocateOnOffline re-scans the subnet for a device's agent key
	// before declaring it offline, to follow DHCP address changes.
	RelocateOnOffline bool `mapstructure:"relocateonoffline"`
	Concurrency       int  `mapstructure:"concurrency"`
}

// AlertingSettings configures the rule evaluation engine.
type AlertingSettings struct {
	Interval             Duration `mapstructure:"interval"`
	HistoryRetentionDays int      `mapstructure:"historyretentiondays"`
}

// NotificationSettings configures alert delivery channels.
type NotificationSettings struct {
	// MaxRetries is the per-channel delivery attempt limit.
	MaxRetries int `mapstructure:"maxretries"`
	// RetryBackoff is the initial backoff between attempts; it doubles
	// after each failure.
	RetryBackoff Duration `mapstructure:"retrybackoff"`
	// DedupWindow suppresses duplicate (rule, device, status) deliveries
	// arriving within this window.
	DedupWindow Duration `mapstructure:"dedupwindow"`
	// MaxPerDevicePerHour rate-limits notifications per device.
	MaxPerDevicePerHour int `mapstructure:"maxperdeviceperhour"`

	Telegram TelegramSettings `mapstructure:"telegram"`
	Email    EmailSettings    `mapstructure:"email"`
	Webhook  WebhookSettings  `mapstructure:"webhook"`
}

// TelegramSettings configures the chat-bot channel.
type TelegramSettings struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bottoken"`
	ChatID   string `mapstructure:"chatid"`
}

// EmailSettings configures the SMTP channel.
type EmailSettings struct {
	Enabled  bool     `mapstructure:"enabled"`
	Host     string   `mapstructure:"host"`
	Port     int      `mapstructure:"port"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	From     string   `mapstructure:"from"`
	To       []string `mapstructure:"to"`
}

// WebhookSettings configures the generic webhook channel.
type WebhookSettings struct {
	Enabled bool              `mapstructure:"enabled"`
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
}

// SessionSettings configures the redis-backed session store.
type SessionSettings struct {
	Address  string   `mapstructure:"address"`
	Password string   `mapstructure:"password"`
	DB       int      `mapstructure:"db"`
	TTL      Duration `mapstructure:"ttl"`
}

// WebServerSettings configures the HTTP API.
type WebServerSettings struct {
	Port int `mapstructure:"port"`
}

var (
	settings   *Settings
	settingsMu sync.RWMutex
)

// Load reads configuration from the given file path (optional) plus
// environment overrides, and stores the result as the package settings.
func Load(configPath string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("MONITORD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", configPath, err)
		}
	}

	s := &Settings{}
	if err := v.Unmarshal(s, viper.DecodeHook(DurationDecodeHook())); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}

	settingsMu.Lock()
	settings = s
	settingsMu.Unlock()
	return s, nil
}

// GetSettings returns the loaded settings, or nil before Load.
func GetSettings() *Settings {
	settingsMu.RLock()
	defer settingsMu.RUnlock()
	return settings
}

// SetSettingsForTesting replaces the package settings. Tests only.
func SetSettingsForTesting(s *Settings) {
	settingsMu.Lock()
	settings = s
	settingsMu.Unlock()
}

// Validate rejects configurations that cannot work.
func (s *Settings) Validate() error {
	if s.Scanner.Concurrency <= 0 {
		return fmt.Errorf("scanner.concurrency must be positive, got %d", s.Scanner.Concurrency)
	}
	if s.Scanner.AgentPort <= 0 || s.Scanner.AgentPort > 65535 {
		return fmt.Errorf("scanner.agentport out of range: %d", s.Scanner.AgentPort)
	}
	if s.Poller.OfflineThreshold <= 0 {
		return fmt.Errorf("poller.offlinethreshold must be positive, got %d", s.Poller.OfflineThreshold)
	}
	if s.Notification.MaxRetries < 0 {
		return fmt.Errorf("notification.maxretries must not be negative, got %d", s.Notification.MaxRetries)
	}
	switch s.Database.Type {
	case "sqlite", "mysql":
	default:
		return fmt.Errorf("database.type must be sqlite or mysql, got %q", s.Database.Type)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("main.loglevel", "info")

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.path", "monitord.db")

	v.SetDefault("scanner.agentport", 9182)
	v.SetDefault("scanner.probetimeout", "5s")
	v.SetDefault("scanner.concurrency", 25)

	v.SetDefault("poller.interval", "1m")
	v.SetDefault("poller.querytimeout", "5s")
	v.SetDefault("poller.offlinethreshold", 3)
	v.SetDefault("poller.relocateonoffline", true)
	v.SetDefault("poller.concurrency", 10)

	v.SetDefault("alerting.interval", "30s")
	v.SetDefault("alerting.historyretentiondays", 30)

	v.SetDefault("notification.maxretries", 3)
	v.SetDefault("notification.retrybackoff", "2s")
	v.SetDefault("notification.dedupwindow", "5m")
	v.SetDefault("notification.maxperdeviceperhour", 12)
	v.SetDefault("notification.email.port", 587)

	v.SetDefault("sysmon.enabled", true)
	v.SetDefault("sysmon.interval", "30s")

	v.SetDefault("session.address", "localhost:6379")
	v.SetDefault("session.ttl", "24h")

	v.SetDefault("webserver.port", 8080)
}

// Default returns settings with all defaults applied and no file input.
// Used by tests and by callers that configure programmatically.
func Default() *Settings {
	v := viper.New()
	setDefaults(v)
	s := &Settings{}
	// Defaults are all well-formed; decode cannot fail.
	_ = v.Unmarshal(s, viper.DecodeHook(DurationDecodeHook()))
	return s
}

// PollInterval returns the poller interval with a floor to protect
// against zero values from hand-written configs.
func (s *Settings) PollInterval() time.Duration {
	d := s.Poller.Interval.Std()
	if d <= 0 {
		return time.Minute
	}
	return d
}
