// Package authretry recovers from expired upstream sessions with a single
// refresh-then-retry cycle.
package authretry

import (
	"strings"

	"github.com/ogulcanaydogan/flow-guardian/pkg/model"
)

// Reason records which signal classified a failure as auth-class.
type Reason int

const (
	ReasonNone   Reason = iota // Not an auth failure
	ReasonFlag                 // Provider set the explicit auth-error flag
	ReasonCode                 // Error code is a known auth code
	ReasonPhrase               // Message matched a known phrase
)

func (r Reason) String() string {
	switch r {
	case ReasonFlag:
		return "flag"
	case ReasonCode:
		return "code"
	case ReasonPhrase:
		return "phrase"
	default:
		return "none"
	}
}

// DefaultAuthCodes are provider error codes that mean the session is invalid.
var DefaultAuthCodes = []string{
	"999999", "999998", "1",
	"AUTH_FAILED", "TOKEN_EXPIRED", "INVALID_TOKEN", "LOGIN_REQUIRED",
}

// DefaultAuthPhrases are message fragments providers use for expired sessions.
var DefaultAuthPhrases = []string{
	"认证失败", "认证失效", "登录失效", "token过期", "请重新登录",
	"身份验证失败", "需要重新登录", "别处登录", "在别处登录",
}

// Classifier decides whether a failed query result is auth-class.
type Classifier struct {
	codes   map[string]struct{}
	phrases []string
}

// NewClassifier builds a classifier with the default codes. Phrase matching
// is only used when phraseFallback is true.
func NewClassifier(phraseFallback bool) *Classifier {
	c := &Classifier{codes: make(map[string]struct{}, len(DefaultAuthCodes))}
	for _, code := range DefaultAuthCodes {
		c.codes[strings.ToUpper(code)] = struct{}{}
	}
	if phraseFallback {
		for _, p := range DefaultAuthPhrases {
			c.phrases = append(c.phrases, strings.ToLower(p))
		}
	}
	return c
}

// Classify checks the explicit flag first, then the code, then the message.
func (c *Classifier) Classify(res *model.QueryResult) Reason {
	if res == nil || res.Success {
		return ReasonNone
	}
	if res.AuthError {
		return ReasonFlag
	}
	if code := strings.ToUpper(strings.TrimSpace(res.Code)); code != "" {
		if _, ok := c.codes[code]; ok {
			return ReasonCode
		}
	}
	msg := strings.ToLower(res.Message)
	for _, p := range c.phrases {
		if strings.Contains(msg, p) {
			return ReasonPhrase
		}
	}
	return ReasonNone
}
