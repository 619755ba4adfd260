package conf

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rescuewatch/rescue-monitor/internal/biz/domain"
	"github.com/rescuewatch/rescue-monitor/internal/biz/usecase"
	"github.com/rescuewatch/rescue-monitor/internal/data"
)

const (
	defaultBrokerURL = "ssl://hedwig.zomato.com:443"
	defaultAPIPort   = 9876
)

// Config represents application configuration
type Config struct {
	// Storage and process
	DBPath   string
	LockPath string
	APIPort  int

	Broker   BrokerConfig
	API      APIConfig
	Claim    ClaimConfig
	Feishu   FeishuConfig
	Location *domain.Location

	Heartbeat time.Duration
	DedupTTL  time.Duration

	// Debug mode
	Debug bool
}

// BrokerConfig selects the transport. Username/Topic set means static
// credentials instead of the home feed lookup.
type BrokerConfig struct {
	Kind        string // mqtt | nats
	URL         string
	InsecureTLS bool
	Username    string
	Password    string
	Topic       string
	QoS         int
	KeepAlive   int
	ValidUntil  int64
	CityID      int
}

// APIConfig contains the rescue HTTP API settings
type APIConfig struct {
	BaseURL     string
	AccessToken string
	CustomerID  string
	Headers     map[string]string
}

// ClaimConfig contains claim race tuning
type ClaimConfig struct {
	FetchTimeout  time.Duration
	CommitTimeout time.Duration
	MaxInFlight   int
	NotifyOnLoss  bool
}

// FeishuConfig contains Feishu alert configuration
type FeishuConfig struct {
	AppID     string
	AppSecret string
	ChatID    string
	BaseURL   string
}

// LoadFromEnv loads configuration from environment variables. The YAML
// file named by RESCUE_CONFIG_PATH, if any, is applied first so the
// environment always wins.
func LoadFromEnv() (*Config, error) {
	homeDir, _ := os.UserHomeDir()
	stateDir := filepath.Join(homeDir, ".rescue-monitor")

	cfg := &Config{
		DBPath:   filepath.Join(stateDir, "rescue.db"),
		LockPath: filepath.Join(stateDir, "rescue.lock"),
		APIPort:  defaultAPIPort,
		Broker: BrokerConfig{
			Kind: "mqtt",
			URL:  defaultBrokerURL,
			QoS:  1,
		},
		API: APIConfig{
			Headers: map[string]string{},
		},
		Claim: ClaimConfig{
			FetchTimeout:  10 * time.Second,
			CommitTimeout: 10 * time.Second,
			MaxInFlight:   8,
		},
		Heartbeat: 30 * time.Second,
		DedupTTL:  usecase.DefaultDedupTTL,
	}

	if path := os.Getenv("RESCUE_CONFIG_PATH"); path != "" {
		file, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		file.apply(cfg)
	}

	setString(&cfg.DBPath, "RESCUE_DB_PATH")
	setString(&cfg.LockPath, "RESCUE_LOCK_PATH")
	setInt(&cfg.APIPort, "RESCUE_API_PORT")

	setString(&cfg.Broker.Kind, "BROKER_KIND")
	setString(&cfg.Broker.URL, "BROKER_URL")
	setBool(&cfg.Broker.InsecureTLS, "BROKER_INSECURE_TLS")
	setString(&cfg.Broker.Username, "BROKER_USERNAME")
	setString(&cfg.Broker.Password, "BROKER_PASSWORD")
	setString(&cfg.Broker.Topic, "BROKER_TOPIC")
	setInt(&cfg.Broker.QoS, "BROKER_QOS")
	setInt(&cfg.Broker.KeepAlive, "BROKER_KEEPALIVE")
	setInt(&cfg.Broker.CityID, "BROKER_CITY_ID")
	if val := os.Getenv("BROKER_VALID_UNTIL"); val != "" {
		if parsed, err := strconv.ParseInt(val, 10, 64); err == nil {
			cfg.Broker.ValidUntil = parsed
		}
	}

	setString(&cfg.API.BaseURL, "API_BASE_URL")
	setString(&cfg.API.AccessToken, "ACCESS_TOKEN")
	setString(&cfg.API.CustomerID, "CUSTOMER_ID")

	setSeconds(&cfg.Heartbeat, "HEARTBEAT_SECONDS")
	setSeconds(&cfg.DedupTTL, "DEDUP_TTL_SECONDS")
	setSeconds(&cfg.Claim.FetchTimeout, "CLAIM_FETCH_TIMEOUT_SECONDS")
	setSeconds(&cfg.Claim.CommitTimeout, "CLAIM_COMMIT_TIMEOUT_SECONDS")
	setInt(&cfg.Claim.MaxInFlight, "MAX_INFLIGHT_CLAIMS")
	setBool(&cfg.Claim.NotifyOnLoss, "NOTIFY_ON_LOSS")

	setString(&cfg.Feishu.AppID, "FEISHU_APP_ID")
	setString(&cfg.Feishu.AppSecret, "FEISHU_APP_SECRET")
	setString(&cfg.Feishu.ChatID, "FEISHU_CHAT_ID")
	setString(&cfg.Feishu.BaseURL, "FEISHU_BASE_URL")

	if loc := locationFromEnv(cfg.Location); loc != nil {
		cfg.Location = loc
	}

	cfg.Debug = os.Getenv("DEBUG") == "true"
	return cfg, nil
}

// locationFromEnv overlays LOCATION_* variables on base. It returns nil
// when neither base nor any variable is set.
func locationFromEnv(base *domain.Location) *domain.Location {
	var loc domain.Location
	if base != nil {
		loc = *base
	}
	found := base != nil

	if v := os.Getenv("LOCATION_NAME"); v != "" {
		loc.Name, found = v, true
	}
	if v := os.Getenv("LOCATION_ADDRESS"); v != "" {
		loc.FullAddress, found = v, true
	}
	if v := os.Getenv("LOCATION_CELL_ID"); v != "" {
		loc.CellID, found = v, true
	}
	if v := os.Getenv("LOCATION_ENTITY_TYPE"); v != "" {
		loc.EntityType, found = v, true
	}
	if v := os.Getenv("LOCATION_PLACE_TYPE"); v != "" {
		loc.PlaceType, found = v, true
	}
	if v := os.Getenv("LOCATION_PLACE_ID"); v != "" {
		loc.PlaceID, found = v, true
	}
	if n, ok := envInt("LOCATION_ADDRESS_ID"); ok {
		loc.AddressID, found = n, true
	}
	if n, ok := envInt("LOCATION_ENTITY_ID"); ok {
		loc.EntityID, found = &n, true
	}
	if f, ok := envFloat("LOCATION_LAT"); ok {
		loc.Lat, found = &f, true
	}
	if f, ok := envFloat("LOCATION_LNG"); ok {
		loc.Lng, found = &f, true
	}
	if !found {
		return nil
	}
	return &loc
}

// StaticCredentials returns the broker credentials configured through the
// environment, or nil when the home feed should issue them.
func (c *Config) StaticCredentials() *domain.RescueCredentials {
	if c.Broker.Username == "" || c.Broker.Topic == "" {
		return nil
	}
	creds := &domain.RescueCredentials{
		BrokerHost:       c.Broker.URL,
		Username:         c.Broker.Username,
		Password:         c.Broker.Password,
		KeepAliveSeconds: c.Broker.KeepAlive,
		Topic:            c.Broker.Topic,
		QoS:              byte(c.Broker.QoS),
		CityID:           c.Broker.CityID,
	}
	if c.Broker.ValidUntil > 0 {
		creds.ValidUntil = time.Unix(c.Broker.ValidUntil, 0)
	}
	return creds
}

// ToDataOptions converts to repository options
func (c *Config) ToDataOptions() data.Options {
	return data.Options{
		DBPath: c.DBPath,
		API: data.APIConfig{
			BaseURL:    c.API.BaseURL,
			Headers:    c.API.Headers,
			CustomerID: c.API.CustomerID,
		},
		AccessToken:       c.API.AccessToken,
		BrokerHost:        c.Broker.URL,
		StaticCredentials: c.StaticCredentials(),
		FeishuAppID:       c.Feishu.AppID,
		FeishuAppSecret:   c.Feishu.AppSecret,
		FeishuChatID:      c.Feishu.ChatID,
		FeishuBaseURL:     c.Feishu.BaseURL,
	}
}

// ToClaimConfig converts to claim usecase configuration
func (c *Config) ToClaimConfig() usecase.ClaimConfig {
	cfg := usecase.DefaultClaimConfig()
	cfg.FetchTimeout = c.Claim.FetchTimeout
	cfg.CommitTimeout = c.Claim.CommitTimeout
	cfg.MaxInFlight = c.Claim.MaxInFlight
	cfg.NotifyOnLoss = c.Claim.NotifyOnLoss
	return cfg
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch strings.ToLower(c.Broker.Kind) {
	case "mqtt", "nats":
	default:
		return &ConfigError{Field: "BROKER_KIND", Message: "must be mqtt or nats"}
	}
	if c.Broker.URL == "" {
		return &ConfigError{Field: "BROKER_URL", Message: "required"}
	}
	if c.Broker.QoS < 0 || c.Broker.QoS > 2 {
		return &ConfigError{Field: "BROKER_QOS", Message: "must be 0, 1 or 2"}
	}
	if c.StaticCredentials() == nil && c.API.AccessToken == "" {
		return &ConfigError{Field: "ACCESS_TOKEN", Message: "required unless BROKER_USERNAME/BROKER_TOPIC are set"}
	}
	if c.APIPort <= 0 || c.APIPort > 65535 {
		return &ConfigError{Field: "RESCUE_API_PORT", Message: "out of range"}
	}
	if c.Heartbeat <= 0 {
		return &ConfigError{Field: "HEARTBEAT_SECONDS", Message: "must be positive"}
	}
	if c.DedupTTL <= 0 {
		return &ConfigError{Field: "DEDUP_TTL_SECONDS", Message: "must be positive"}
	}
	if c.Claim.MaxInFlight <= 0 {
		return &ConfigError{Field: "MAX_INFLIGHT_CLAIMS", Message: "must be positive"}
	}
	if (c.Feishu.ChatID != "") != (c.Feishu.AppID != "") {
		return &ConfigError{Field: "FEISHU_APP_ID/FEISHU_CHAT_ID", Message: "must be set together"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}

func setString(dst *string, key string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}

func setInt(dst *int, key string) {
	if n, ok := envInt(key); ok {
		*dst = n
	}
}

func setBool(dst *bool, key string) {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			*dst = parsed
		}
	}
}

func setSeconds(dst *time.Duration, key string) {
	if n, ok := envInt(key); ok {
		*dst = secondsOf(n)
	}
}

func envInt(key string) (int, bool) {
	val := os.Getenv(key)
	if val == "" {
		return 0, false
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return 0, false
	}
	return parsed, true
}

func envFloat(key string) (float64, bool) {
	val := os.Getenv(key)
	if val == "" {
		return 0, false
	}
	parsed, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, false
	}
	return parsed, true
}

func secondsOf(n int) time.Duration {
	return time.Duration(n) * time.Second
}
