package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Low-balance threshold modes.
const (
	ModePercent  = "percent"
	ModeAbsolute = "absolute"
	// ModeGB is the legacy spelling of ModeAbsolute still found in stored settings.
	ModeGB = "gb"
)

// Settings is the per-user monitoring configuration.
type Settings struct {
	Monitor       MonitorSettings          `json:"monitor" yaml:"monitor"`
	Alerts        AlertSettings            `json:"alerts" yaml:"alerts"`
	Notifications map[string]ChannelConfig `json:"notifications" yaml:"notifications"`
}

// MonitorSettings controls how often a user's accounts are scanned.
type MonitorSettings struct {
	FrequencySeconds int `json:"frequencySeconds" yaml:"frequencySeconds"`
}

// AlertSettings holds the per-category alert rules.
type AlertSettings struct {
	Low  map[Category]LowBalanceRule `json:"low" yaml:"low"`
	Jump map[Category]JumpRule       `json:"jump" yaml:"jump"`
}

// LowBalanceRule fires once when remaining allowance drops to Value.
type LowBalanceRule struct {
	Enabled bool    `json:"enabled" yaml:"enabled"`
	Mode    string  `json:"mode" yaml:"mode"`
	Value   float64 `json:"value" yaml:"value"`
}

// NormalizedMode returns percent for an empty or percent mode; every other
// mode, including the legacy "gb", compares absolute megabytes.
func (r LowBalanceRule) NormalizedMode() string {
	switch strings.ToLower(strings.TrimSpace(r.Mode)) {
	case "", ModePercent:
		return ModePercent
	default:
		return ModeAbsolute
	}
}

// Signature identifies the exact rule configuration for deduplication.
func (r LowBalanceRule) Signature() string {
	return r.NormalizedMode() + "_" + strconv.FormatFloat(r.Value, 'f', -1, 64)
}

// JumpRule fires whenever usage grows by ThresholdMB since the baseline.
type JumpRule struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	ThresholdMB float64 `json:"thresholdMB" yaml:"thresholdMB"`
}

// ChannelConfig is a loosely typed notification channel configuration.
type ChannelConfig map[string]any

// Enabled reports whether the channel is switched on.
func (c ChannelConfig) Enabled() bool {
	return c.Bool("enabled")
}

// String returns the value at key as a trimmed string.
func (c ChannelConfig) String(key string) string {
	v, ok := c[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

// Int returns the value at key as an int, or def when absent or unparseable.
func (c ChannelConfig) Int(key string, def int) int {
	switch t := c[key].(type) {
	case float64:
		return int(t)
	case int:
		return t
	case int64:
		return int(t)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			return n
		}
	}
	return def
}

// Bool returns the value at key as a bool. Strings like "true" and "1" count.
func (c ChannelConfig) Bool(key string) bool {
	switch t := c[key].(type) {
	case bool:
		return t
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		return err == nil && b
	case float64:
		return t != 0
	case int:
		return t != 0
	}
	return false
}

// StringMap returns the object at key with values rendered as strings.
func (c ChannelConfig) StringMap(key string) map[string]string {
	out := make(map[string]string)
	switch t := c[key].(type) {
	case map[string]any:
		for k, v := range t {
			out[k] = ChannelConfig{"v": v}.String("v")
		}
	case map[string]string:
		for k, v := range t {
			out[k] = v
		}
	case string:
		if strings.TrimSpace(t) != "" {
			var m map[string]any
			if err := json.Unmarshal([]byte(t), &m); err == nil {
				return ChannelConfig{"m": m}.StringMap("m")
			}
		}
	}
	return out
}

// ChannelNames lists the notification channels a user can configure.
var ChannelNames = []string{"wxpusher", "bark", "email", "wechat", "dingtalk", "webhook", "slack", "telegram", "amqp"}

// DefaultSettings returns the built-in settings every user starts from.
func DefaultSettings() Settings {
	notifications := make(map[string]ChannelConfig, len(ChannelNames))
	for _, name := range ChannelNames {
		notifications[name] = ChannelConfig{"enabled": false}
	}
	notifications["webhook"]["method"] = "POST"

	return Settings{
		Monitor: MonitorSettings{FrequencySeconds: 300},
		Alerts: AlertSettings{
			Low: map[Category]LowBalanceRule{
				CategoryGeneral: {Enabled: true, Mode: ModeGB, Value: 1},
				CategorySpecial: {Enabled: true, Mode: ModeGB, Value: 1},
			},
			Jump: map[Category]JumpRule{
				CategoryGeneral: {Enabled: true, ThresholdMB: 3},
				CategorySpecial: {Enabled: true, ThresholdMB: 3},
			},
		},
		Notifications: notifications,
	}
}

// ParseSettings overlays stored settings JSON on the defaults. Nested
// objects are merged key by key, so a partial document only overrides
// the fields it names.
func ParseSettings(data []byte) (Settings, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return DefaultSettings(), nil
	}

	var stored map[string]any
	if err := json.Unmarshal(data, &stored); err != nil {
		return DefaultSettings(), fmt.Errorf("decode settings: %w", err)
	}

	base, err := toTree(DefaultSettings())
	if err != nil {
		return DefaultSettings(), err
	}
	merged := mergeTree(base, stored)

	raw, err := json.Marshal(merged)
	if err != nil {
		return DefaultSettings(), fmt.Errorf("encode merged settings: %w", err)
	}
	var s Settings
	if err := json.Unmarshal(raw, &s); err != nil {
		return DefaultSettings(), fmt.Errorf("decode merged settings: %w", err)
	}
	return s, nil
}

// Channel returns the configuration for a notification channel.
func (s Settings) Channel(name string) ChannelConfig {
	if c, ok := s.Notifications[name]; ok && c != nil {
		return c
	}
	return ChannelConfig{}
}

func toTree(s Settings) (map[string]any, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode default settings: %w", err)
	}
	var tree map[string]any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("decode default settings: %w", err)
	}
	return tree, nil
}

func mergeTree(base, over map[string]any) map[string]any {
	for k, v := range over {
		bv, ok := base[k].(map[string]any)
		ov, isMap := v.(map[string]any)
		if ok && isMap {
			base[k] = mergeTree(bv, ov)
			continue
		}
		base[k] = v
	}
	return base
}
