package installstore

import (
	"encoding/json"
	"errors"
)

var ErrConfigCorrupt = errors.New("installation config corrupt")

const (
	DefaultAppName      = "OurLibrary"
	DefaultDatabasePath = "./database/OurLibrary.db"
	DefaultCacheDir     = "./cache"
	DefaultDownloadsDir = "./downloads"
)

// Config 安装配置，对应 user_data/config.json。未识别的字段原样保留
type Config struct {
	AppName              string                 `json:"app_name"`
	Version              string                 `json:"version"`
	AppDirectory         string                 `json:"app_directory"`
	DatabasePath         string                 `json:"database_path"`
	DownloadsDir         string                 `json:"downloads_dir"`
	CacheDir             string                 `json:"cache_dir"`
	DistributionToken    string                 `json:"distribution_token,omitempty"`
	InstallationDate     string                 `json:"installation_date"`
	InstallationVersion  string                 `json:"installation_version,omitempty"`
	InstallationComplete bool                   `json:"installation_complete"`
	UserPreferences      map[string]interface{} `json:"user_preferences"`

	extra map[string]json.RawMessage
}

var knownKeys = []string{
	"app_name", "version", "app_directory", "database_path", "downloads_dir", "cache_dir",
	"distribution_token", "installation_date", "installation_version", "installation_complete",
	"user_preferences",
}

type configAlias Config

func (c *Config) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var alias configAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	*c = Config(alias)
	for _, k := range knownKeys {
		delete(raw, k)
	}
	if len(raw) > 0 {
		c.extra = raw
	}
	return nil
}

func (c Config) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(configAlias(c))
	if err != nil {
		return nil, err
	}
	if len(c.extra) == 0 {
		return known, nil
	}
	merged := make(map[string]json.RawMessage, len(c.extra)+len(knownKeys))
	for k, v := range c.extra {
		merged[k] = v
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(known, &fields); err != nil {
		return nil, err
	}
	for k, v := range fields {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// Extra 返回未识别字段的原始 JSON
func (c *Config) Extra(key string) (json.RawMessage, bool) {
	v, ok := c.extra[key]
	return v, ok
}

func defaultPreferences() map[string]interface{} {
	return map[string]interface{}{
		"theme":    "light",
		"language": "en",
	}
}

func (c *Config) clone() Config {
	cp := *c
	if c.UserPreferences != nil {
		cp.UserPreferences = make(map[string]interface{}, len(c.UserPreferences))
		for k, v := range c.UserPreferences {
			cp.UserPreferences[k] = v
		}
	}
	if c.extra != nil {
		cp.extra = make(map[string]json.RawMessage, len(c.extra))
		for k, v := range c.extra {
			cp.extra[k] = v
		}
	}
	return cp
}
