package conf

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rescuewatch/rescue-monitor/internal/biz/domain"
)

// FileConfig is the optional YAML configuration. It carries what is awkward
// to express as environment variables: request headers and the location.
type FileConfig struct {
	Broker struct {
		Kind string `yaml:"kind"`
		URL  string `yaml:"url"`
	} `yaml:"broker"`
	API struct {
		BaseURL    string            `yaml:"base_url"`
		CustomerID string            `yaml:"customer_id"`
		Headers    map[string]string `yaml:"headers"`
	} `yaml:"api"`
	Location *domain.Location `yaml:"location"`
	Feishu   struct {
		ChatID  string `yaml:"chat_id"`
		BaseURL string `yaml:"base_url"`
	} `yaml:"feishu"`
	HeartbeatSeconds int  `yaml:"heartbeat_seconds"`
	NotifyOnLoss     bool `yaml:"notify_on_loss"`
}

// LoadFile reads a YAML configuration file
func LoadFile(path string) (*FileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	var fc FileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return &fc, nil
}

func (fc *FileConfig) apply(cfg *Config) {
	if fc.Broker.Kind != "" {
		cfg.Broker.Kind = fc.Broker.Kind
	}
	if fc.Broker.URL != "" {
		cfg.Broker.URL = fc.Broker.URL
	}
	if fc.API.BaseURL != "" {
		cfg.API.BaseURL = fc.API.BaseURL
	}
	if fc.API.CustomerID != "" {
		cfg.API.CustomerID = fc.API.CustomerID
	}
	for k, v := range fc.API.Headers {
		cfg.API.Headers[k] = v
	}
	if fc.Location != nil {
		loc := *fc.Location
		cfg.Location = &loc
	}
	if fc.Feishu.ChatID != "" {
		cfg.Feishu.ChatID = fc.Feishu.ChatID
	}
	if fc.Feishu.BaseURL != "" {
		cfg.Feishu.BaseURL = fc.Feishu.BaseURL
	}
	if fc.HeartbeatSeconds > 0 {
		cfg.Heartbeat = secondsOf(fc.HeartbeatSeconds)
	}
	if fc.NotifyOnLoss {
		cfg.Claim.NotifyOnLoss = true
	}
}
