package model

import (
	"encoding/json"
	"strconv"
	"time"
)

// Category is a provider-defined partition of the data allowance.
type Category string

const (
	CategoryGeneral Category = "general" // Shared general-purpose pool
	CategorySpecial Category = "special" // Bonus / zero-rated allocation
	CategoryOther   Category = "other"
)

// Categories lists every category in upstream type-code order.
var Categories = []Category{CategoryGeneral, CategorySpecial, CategoryOther}

// CategoryFromCode maps an upstream flow type code to a category.
func CategoryFromCode(code string) (Category, bool) {
	switch code {
	case "1":
		return CategoryGeneral, true
	case "2":
		return CategorySpecial, true
	case "3":
		return CategoryOther, true
	default:
		return "", false
	}
}

// Credentials is the opaque session material for an upstream account.
type Credentials struct {
	AppID       string            `json:"app_id,omitempty"`
	TokenOnline string            `json:"token_online,omitempty"`
	ECSToken    string            `json:"ecs_token,omitempty"`
	Cookies     map[string]string `json:"cookies,omitempty"`
}

// MonitoredAccount is an upstream account watched on behalf of a user.
type MonitoredAccount struct {
	ID             int64       `json:"id" db:"id"`
	UserID         int64       `json:"user_id" db:"user_id"`
	Provider       string      `json:"provider" db:"provider"`
	Phone          string      `json:"phone" db:"phone"`
	MonitorEnabled bool        `json:"monitor_enabled" db:"monitor_enabled"`
	AuthValid      bool        `json:"auth_valid" db:"auth_valid"`
	Credentials    Credentials `json:"-" db:"credentials"`
	UpdatedAt      time.Time   `json:"updated_at" db:"updated_at"`
}

// Label returns a human-readable identifier for logs and messages.
func (a MonitoredAccount) Label() string {
	if a.Phone != "" {
		return a.Phone
	}
	return "account-" + strconv.FormatInt(a.ID, 10)
}

// QueryResult is what an upstream provider returns for a flow query.
type QueryResult struct {
	Success   bool            `json:"success"`
	Code      string          `json:"code,omitempty"`
	Message   string          `json:"message,omitempty"`
	AuthError bool            `json:"auth_error,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	IsCached  bool            `json:"is_cached"`
	QueryTime float64         `json:"query_time"`
}

// Measure is a megabyte amount that may be absent from the upstream payload.
// An invalid measure reads as zero.
type Measure struct {
	MB    float64 `json:"mb"`
	Valid bool    `json:"valid"`
}

// Known returns a valid measure.
func Known(mb float64) Measure {
	return Measure{MB: mb, Valid: true}
}

// Positive reports whether the measure is present and greater than zero.
func (m Measure) Positive() bool {
	return m.Valid && m.MB > 0
}

// CategoryUsage holds the readings for a single allowance category.
type CategoryUsage struct {
	Total     Measure `json:"total"`
	Used      Measure `json:"used"`
	Remaining Measure `json:"remaining"`
}

// UnlimitedReason explains why a package was classified as unlimited.
type UnlimitedReason string

const (
	UnlimitedNone          UnlimitedReason = ""
	UnlimitedZeroTotalUsed UnlimitedReason = "zero_total_with_usage"
	UnlimitedNegativeLeft  UnlimitedReason = "negative_remaining"
	UnlimitedKeyword       UnlimitedReason = "bundled_keyword"
)

// PackageDetail is one data package from the upstream itemized containers.
type PackageDetail struct {
	Name            string          `json:"name"`
	Total           float64         `json:"total"`
	Used            float64         `json:"used"`
	Remaining       float64         `json:"remaining"`
	Unit            string          `json:"unit"`
	Category        Category        `json:"category"`
	EndDate         string          `json:"end_date,omitempty"`
	UsedPercent     float64         `json:"used_percent"`
	IsUnlimited     bool            `json:"is_unlimited"`
	UnlimitedReason UnlimitedReason `json:"unlimited_reason,omitempty"`
	Source          string          `json:"source"`
	Extra           bool            `json:"extra,omitempty"`
}

// FlowSnapshot is one normalized usage reading for an account.
type FlowSnapshot struct {
	ID           string                     `json:"id"`
	AccountID    int64                      `json:"account_id"`
	Total        Measure                    `json:"total"`
	Used         Measure                    `json:"used"`
	Remaining    Measure                    `json:"remaining"`
	Categories   map[Category]CategoryUsage `json:"categories"`
	PackageName  string                     `json:"package_name"`
	UsagePercent float64                    `json:"usage_percent"`
	Packages     []PackageDetail            `json:"packages"`
	Raw          json.RawMessage            `json:"-"`
	IsCached     bool                       `json:"is_cached"`
	QueryTime    float64                    `json:"query_time"`
	CapturedAt   time.Time                  `json:"captured_at"`
}

// Category returns the readings for c, zero-valued when absent.
func (s *FlowSnapshot) Category(c Category) CategoryUsage {
	if s.Categories == nil {
		return CategoryUsage{}
	}
	return s.Categories[c]
}
