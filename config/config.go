package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"feedwatch/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	StatusSourceHTTP     = "http"
	StatusSourceFirebase = "firebase"

	PushTransportMQTT = "mqtt"
	PushTransportAMQP = "amqp"
	PushTransportNone = "none"

	DriverLog    = "log"
	DriverEPaper = "epaper"
	DriverGPIO   = "gpio"
	DriverHTTP   = "http"

	PowerTimer = "timer"
	PowerRTC   = "rtc"
)

type Config struct {
	Location      string `yaml:"location"`
	MorningWindow string `yaml:"morningWindow"`
	EveningWindow string `yaml:"eveningWindow"`

	WakeMargin     time.Duration `yaml:"wakeMargin"`
	MinDeepSleep   time.Duration `yaml:"minDeepSleep"`
	PollInterval   time.Duration `yaml:"pollInterval"`
	MaxCycleBudget time.Duration `yaml:"maxCycleBudget"`

	// Status endpoint
	StatusSource       string        `yaml:"statusSource"`
	DogFeedStatusURL   string        `yaml:"dogFeedStatusUrl"`
	HTTPTimeout        time.Duration `yaml:"httpTimeout"`
	BreakerFailures    int           `yaml:"breakerFailures"`
	BreakerOpenTimeout time.Duration `yaml:"breakerOpenTimeout"`

	FirebaseDbUrl              string `yaml:"firebaseDbUrl"`
	FirebaseServiceAccountJSON string `yaml:"-"`
	FirebaseStatusPath         string `yaml:"firebaseStatusPath"`

	// Push channel
	PushTransport string `yaml:"pushTransport"`
	MQTTBroker    string `yaml:"mqttBroker"`
	MQTTPort      int    `yaml:"mqttPort"`
	MQTTUsername  string `yaml:"mqttUsername"`
	MQTTPassword  string `yaml:"-"`
	MQTTClientID  string `yaml:"mqttClientId"`
	RabbitMQURL   string `yaml:"-"`

	// Link resilience
	LinkProbeAddr    string        `yaml:"linkProbeAddr"`
	ConnectTimeout   time.Duration `yaml:"connectTimeout"`
	BackoffBase      time.Duration `yaml:"backoffBase"`
	BackoffMax       time.Duration `yaml:"backoffMax"`
	FailureThreshold int           `yaml:"failureThreshold"`

	// Time sync
	TimeURL          string        `yaml:"timeUrl"`
	TimeSyncInterval time.Duration `yaml:"timeSyncInterval"`
	TimeSyncTimeout  time.Duration `yaml:"timeSyncTimeout"`

	// Collaborators
	DisplayDriver     string        `yaml:"displayDriver"`
	DisplayMinRefresh time.Duration `yaml:"displayMinRefresh"`
	LEDDriver         string        `yaml:"ledDriver"`
	LEDMorningPin     string        `yaml:"ledMorningPin"`
	LEDEveningPin     string        `yaml:"ledEveningPin"`
	HardwareAPIURL    string        `yaml:"hardwareApiUrl"`
	PowerMode         string        `yaml:"powerMode"`
	RTCWakeAlarmPath  string        `yaml:"rtcWakeAlarmPath"`
	PowerStatePath    string        `yaml:"powerStatePath"`

	// Diagnostics
	TelegramBotToken string `yaml:"-"`
	TelegramChatID   string `yaml:"telegramChatId"`
}

func defaultConfig() *Config {
	return &Config{
		Location:           "America/New_York",
		MorningWindow:      "07:00-11:00",
		EveningWindow:      "16:00-21:00",
		WakeMargin:         60 * time.Second,
		MinDeepSleep:       60 * time.Second,
		PollInterval:       5 * time.Minute,
		MaxCycleBudget:     30 * time.Second,
		StatusSource:       StatusSourceHTTP,
		DogFeedStatusURL:   "http://192.168.1.85:1880/dog-feed-status",
		HTTPTimeout:        5 * time.Second,
		BreakerFailures:    3,
		BreakerOpenTimeout: 30 * time.Second,
		FirebaseStatusPath: "dog_feed_status",
		PushTransport:      PushTransportMQTT,
		MQTTBroker:         "192.168.1.85",
		MQTTPort:           1883,
		MQTTClientID:       "feedwatch",
		ConnectTimeout:     12 * time.Second,
		BackoffBase:        2 * time.Second,
		BackoffMax:         60 * time.Second,
		FailureThreshold:   5,
		TimeURL:            "http://worldtimeapi.org/api/timezone/America/New_York",
		TimeSyncInterval:   24 * time.Hour,
		TimeSyncTimeout:    10 * time.Second,
		DisplayDriver:      DriverLog,
		DisplayMinRefresh:  10 * time.Second,
		LEDDriver:          DriverLog,
		LEDMorningPin:      "GPIO17",
		LEDEveningPin:      "GPIO27",
		PowerMode:          PowerTimer,
		RTCWakeAlarmPath:   "/sys/class/rtc/rtc0/wakealarm",
		PowerStatePath:     "/sys/power/state",
	}
}

// LoadConfig builds the immutable device configuration: defaults, then the
// optional YAML file at CONFIG_PATH, then .env and environment overrides.
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	config := defaultConfig()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := hydrateFromFile(config, path); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func hydrateFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func applyEnvOverrides(c *Config) {
	c.Location = getEnv("LOCATION", c.Location)
	c.MorningWindow = getEnv("MORNING_WINDOW", c.MorningWindow)
	c.EveningWindow = getEnv("EVENING_WINDOW", c.EveningWindow)
	c.WakeMargin = getEnvDuration("WAKE_MARGIN", c.WakeMargin)
	c.MinDeepSleep = getEnvDuration("MIN_DEEP_SLEEP", c.MinDeepSleep)
	c.PollInterval = getEnvDuration("STATUS_FETCH_INTERVAL", c.PollInterval)
	c.MaxCycleBudget = getEnvDuration("MAX_CYCLE_BUDGET", c.MaxCycleBudget)

	c.StatusSource = strings.ToLower(getEnv("STATUS_SOURCE", c.StatusSource))
	c.DogFeedStatusURL = getEnv("DOG_FEED_API", c.DogFeedStatusURL)
	c.HTTPTimeout = getEnvDuration("HTTP_TIMEOUT", c.HTTPTimeout)
	c.BreakerFailures = getEnvInt("BREAKER_FAILURES", c.BreakerFailures)
	c.BreakerOpenTimeout = getEnvDuration("BREAKER_OPEN_TIMEOUT", c.BreakerOpenTimeout)
	c.FirebaseDbUrl = getEnv("FIREBASE_DB_URL", c.FirebaseDbUrl)
	c.FirebaseServiceAccountJSON = getEnv("FIREBASE_SERVICE_ACCOUNT_JSON", c.FirebaseServiceAccountJSON)
	c.FirebaseStatusPath = getEnv("FIREBASE_STATUS_PATH", c.FirebaseStatusPath)

	c.PushTransport = strings.ToLower(getEnv("PUSH_TRANSPORT", c.PushTransport))
	c.MQTTBroker = getEnv("MQTT_BROKER", c.MQTTBroker)
	c.MQTTPort = getEnvInt("MQTT_PORT", c.MQTTPort)
	c.MQTTUsername = getEnv("MQTT_USERNAME", c.MQTTUsername)
	c.MQTTPassword = getEnv("MQTT_PASSWORD", c.MQTTPassword)
	c.MQTTClientID = getEnv("MQTT_CLIENT_ID", c.MQTTClientID)
	c.RabbitMQURL = getEnv("RABBITMQ_URL", c.RabbitMQURL)

	c.LinkProbeAddr = getEnv("LINK_PROBE_ADDR", c.LinkProbeAddr)
	c.ConnectTimeout = getEnvDuration("CONNECT_TIMEOUT", c.ConnectTimeout)
	c.BackoffBase = getEnvDuration("BACKOFF_BASE", c.BackoffBase)
	c.BackoffMax = getEnvDuration("BACKOFF_MAX", c.BackoffMax)
	c.FailureThreshold = getEnvInt("CONNECTION_FAILURE_THRESHOLD", c.FailureThreshold)

	c.TimeURL = getEnv("TIME_URL", c.TimeURL)
	c.TimeSyncInterval = getEnvDuration("TIME_SYNC_INTERVAL", c.TimeSyncInterval)
	c.TimeSyncTimeout = getEnvDuration("TIME_SYNC_TIMEOUT", c.TimeSyncTimeout)

	c.DisplayDriver = strings.ToLower(getEnv("DISPLAY_DRIVER", c.DisplayDriver))
	c.DisplayMinRefresh = getEnvDuration("DISPLAY_REFRESH_MIN_INTERVAL", c.DisplayMinRefresh)
	c.LEDDriver = strings.ToLower(getEnv("LED_DRIVER", c.LEDDriver))
	c.LEDMorningPin = getEnv("LED_MORNING_PIN", c.LEDMorningPin)
	c.LEDEveningPin = getEnv("LED_EVENING_PIN", c.LEDEveningPin)
	c.HardwareAPIURL = getEnv("HARDWARE_API_URL", c.HardwareAPIURL)
	c.PowerMode = strings.ToLower(getEnv("POWER_MODE", c.PowerMode))
	c.RTCWakeAlarmPath = getEnv("RTC_WAKEALARM_PATH", c.RTCWakeAlarmPath)
	c.PowerStatePath = getEnv("POWER_STATE_PATH", c.PowerStatePath)

	c.TelegramBotToken = getEnv("TELEGRAM_BOT_TOKEN", c.TelegramBotToken)
	c.TelegramChatID = getEnv("TELEGRAM_CHAT_ID", c.TelegramChatID)
}

// Validate returns a *models.ConfigError for the first invalid setting.
func (c *Config) Validate() error {
	if _, err := c.TimeLocation(); err != nil {
		return err
	}
	windows, err := c.Windows()
	if err != nil {
		return err
	}
	if err := models.ValidateWindows(windows); err != nil {
		return err
	}

	positive := map[string]time.Duration{
		"STATUS_FETCH_INTERVAL": c.PollInterval,
		"MAX_CYCLE_BUDGET":      c.MaxCycleBudget,
		"HTTP_TIMEOUT":          c.HTTPTimeout,
		"CONNECT_TIMEOUT":       c.ConnectTimeout,
		"BACKOFF_BASE":          c.BackoffBase,
		"TIME_SYNC_INTERVAL":    c.TimeSyncInterval,
		"TIME_SYNC_TIMEOUT":     c.TimeSyncTimeout,
	}
	for field, d := range positive {
		if d <= 0 {
			return &models.ConfigError{Field: field, Reason: "must be positive"}
		}
	}
	if c.WakeMargin < 0 || c.MinDeepSleep < 0 || c.DisplayMinRefresh < 0 {
		return &models.ConfigError{Field: "WAKE_MARGIN/MIN_DEEP_SLEEP/DISPLAY_REFRESH_MIN_INTERVAL", Reason: "must not be negative"}
	}
	if c.BackoffMax < c.BackoffBase {
		return &models.ConfigError{Field: "BACKOFF_MAX", Reason: "must be at least BACKOFF_BASE"}
	}
	if c.FailureThreshold < 1 {
		return &models.ConfigError{Field: "CONNECTION_FAILURE_THRESHOLD", Reason: "must be at least 1"}
	}

	switch c.StatusSource {
	case StatusSourceHTTP:
		if err := requireURL("DOG_FEED_API", c.DogFeedStatusURL); err != nil {
			return err
		}
	case StatusSourceFirebase:
		if c.FirebaseDbUrl == "" || c.FirebaseServiceAccountJSON == "" {
			return &models.ConfigError{Field: "FIREBASE_DB_URL", Reason: "firebase status source requires database url and service account"}
		}
	default:
		return &models.ConfigError{Field: "STATUS_SOURCE", Reason: fmt.Sprintf("unknown source %q", c.StatusSource)}
	}

	switch c.PushTransport {
	case PushTransportMQTT:
		if c.MQTTBroker == "" || c.MQTTPort <= 0 {
			return &models.ConfigError{Field: "MQTT_BROKER", Reason: "broker host and port are required"}
		}
	case PushTransportAMQP:
		if c.RabbitMQURL == "" {
			return &models.ConfigError{Field: "RABBITMQ_URL", Reason: "required for amqp push transport"}
		}
	case PushTransportNone:
	default:
		return &models.ConfigError{Field: "PUSH_TRANSPORT", Reason: fmt.Sprintf("unknown transport %q", c.PushTransport)}
	}

	if err := requireURL("TIME_URL", c.TimeURL); err != nil {
		return err
	}

	switch c.DisplayDriver {
	case DriverLog, DriverEPaper:
	default:
		return &models.ConfigError{Field: "DISPLAY_DRIVER", Reason: fmt.Sprintf("unknown driver %q", c.DisplayDriver)}
	}
	switch c.LEDDriver {
	case DriverLog, DriverGPIO:
	case DriverHTTP:
		if err := requireURL("HARDWARE_API_URL", c.HardwareAPIURL); err != nil {
			return err
		}
	default:
		return &models.ConfigError{Field: "LED_DRIVER", Reason: fmt.Sprintf("unknown driver %q", c.LEDDriver)}
	}
	switch c.PowerMode {
	case PowerTimer, PowerRTC:
	default:
		return &models.ConfigError{Field: "POWER_MODE", Reason: fmt.Sprintf("unknown mode %q", c.PowerMode)}
	}
	return nil
}

// TimeLocation resolves the zone the feeding windows are expressed in
func (c *Config) TimeLocation() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Location)
	if err != nil {
		return nil, &models.ConfigError{Field: "LOCATION", Reason: err.Error()}
	}
	return loc, nil
}

// Windows parses the morning and evening window settings
func (c *Config) Windows() ([]models.WindowDefinition, error) {
	morning, err := ParseWindow(models.Morning, c.MorningWindow)
	if err != nil {
		return nil, err
	}
	evening, err := ParseWindow(models.Evening, c.EveningWindow)
	if err != nil {
		return nil, err
	}
	return []models.WindowDefinition{morning, evening}, nil
}

// LinkProbeTarget is the host:port used to check that the network is up.
// Defaults to the MQTT broker, then the status endpoint host.
func (c *Config) LinkProbeTarget() string {
	if c.LinkProbeAddr != "" {
		return c.LinkProbeAddr
	}
	if c.PushTransport == PushTransportMQTT {
		return fmt.Sprintf("%s:%d", c.MQTTBroker, c.MQTTPort)
	}
	if u, err := url.Parse(c.DogFeedStatusURL); err == nil && u.Host != "" {
		if u.Port() != "" {
			return u.Host
		}
		if u.Scheme == "https" {
			return u.Hostname() + ":443"
		}
		return u.Hostname() + ":80"
	}
	return ""
}

// ParseWindow parses "HH:MM-HH:MM"
func ParseWindow(name models.WindowName, spec string) (models.WindowDefinition, error) {
	field := strings.ToUpper(string(name)) + "_WINDOW"
	parts := strings.Split(strings.TrimSpace(spec), "-")
	if len(parts) != 2 {
		return models.WindowDefinition{}, &models.ConfigError{Field: field, Reason: fmt.Sprintf("expected HH:MM-HH:MM, got %q", spec)}
	}
	start, err := parseTimeOfDay(parts[0])
	if err != nil {
		return models.WindowDefinition{}, &models.ConfigError{Field: field, Reason: err.Error()}
	}
	end, err := parseTimeOfDay(parts[1])
	if err != nil {
		return models.WindowDefinition{}, &models.ConfigError{Field: field, Reason: err.Error()}
	}
	return models.WindowDefinition{Name: name, Start: start, End: end}, nil
}

func parseTimeOfDay(s string) (models.TimeOfDay, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return models.TimeOfDay{}, fmt.Errorf("invalid time of day %q", s)
	}
	return models.TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func requireURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return &models.ConfigError{Field: field, Reason: fmt.Sprintf("invalid url %q", raw)}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s") or plain seconds ("300")
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return defaultValue
}
