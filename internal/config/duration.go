package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// parseDurations 将 "30s"、"24h" 形式的字符串写入对应字段，空字符串保持不变。
func parseDurations(fields map[string]durationField) error {
	for name, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("invalid %s format: %w", name, err)
		}
		*f.dst = d
	}
	return nil
}

type durationField = struct {
	raw string
	dst *time.Duration
}

// UnmarshalJSON 自定义 JSON 解析，支持时间Duration字符串。
func (a *AppConfig) UnmarshalJSON(data []byte) error {
	type Alias AppConfig
	aux := &struct {
		SupplierCacheMaxAge string `json:"supplier_cache_max_age"`
		RunInterval         string `json:"run_interval"`
		*Alias
	}{Alias: (*Alias)(a)}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}
	return parseDurations(map[string]durationField{
		"supplier_cache_max_age": {aux.SupplierCacheMaxAge, &a.SupplierCacheMaxAge},
		"run_interval":           {aux.RunInterval, &a.RunInterval},
	})
}

// UnmarshalJSON 自定义 JSON 解析，支持时间Duration字符串。
func (b *BrowserConfig) UnmarshalJSON(data []byte) error {
	type Alias BrowserConfig
	aux := &struct {
		PageTimeout      string `json:"page_timeout"`
		ReconnectBackoff string `json:"reconnect_backoff"`
		HealthInterval   string `json:"health_interval"`
		*Alias
	}{Alias: (*Alias)(b)}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}
	return parseDurations(map[string]durationField{
		"page_timeout":      {aux.PageTimeout, &b.PageTimeout},
		"reconnect_backoff": {aux.ReconnectBackoff, &b.ReconnectBackoff},
		"health_interval":   {aux.HealthInterval, &b.HealthInterval},
	})
}

// UnmarshalJSON 自定义 JSON 解析，支持时间Duration字符串。
func (s *SupplierConfig) UnmarshalJSON(data []byte) error {
	type Alias SupplierConfig
	aux := &struct {
		AuthCooldown string `json:"auth_cooldown"`
		*Alias
	}{Alias: (*Alias)(s)}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}
	return parseDurations(map[string]durationField{
		"auth_cooldown": {aux.AuthCooldown, &s.AuthCooldown},
	})
}

// UnmarshalJSON 自定义 JSON 解析，支持时间Duration字符串。
func (m *MatcherConfig) UnmarshalJSON(data []byte) error {
	type Alias MatcherConfig
	aux := &struct {
		InitialBackoff string `json:"initial_backoff"`
		MaxBackoff     string `json:"max_backoff"`
		ListingTTL     string `json:"listing_ttl"`
		*Alias
	}{Alias: (*Alias)(m)}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}
	return parseDurations(map[string]durationField{
		"initial_backoff": {aux.InitialBackoff, &m.InitialBackoff},
		"max_backoff":     {aux.MaxBackoff, &m.MaxBackoff},
		"listing_ttl":     {aux.ListingTTL, &m.ListingTTL},
	})
}
