package logging

import (
	"regexp"
	"strings"
	"sync"
)

// Placeholder replaces every redacted secret.
const Placeholder = "***REDACTED***"

// secretKeyPattern matches map keys that likely hold secrets.
var secretKeyPattern = regexp.MustCompile(`(?i)(secret|token|password|pass|api_key|access_key)`)

// Redactor replaces secrets in strings and maps. It knows the key formats of
// the model providers and accepts literal values loaded at runtime.
// All methods are safe for concurrent use.
type Redactor struct {
	mu       sync.RWMutex
	patterns []*regexp.Regexp
	literals []string
}

// NewRedactor creates a Redactor with DefaultPatterns.
func NewRedactor() *Redactor {
	return &Redactor{patterns: DefaultPatterns()}
}

// AddLiteral adds a secret value to redact on sight. Values shorter than
// four characters are ignored so that common substrings survive.
func (r *Redactor) AddLiteral(secret string) {
	if len(secret) < 4 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.literals = append(r.literals, secret)
}

// Redact replaces known patterns and literals in s.
func (r *Redactor) Redact(s string) string {
	if s == "" {
		return s
	}

	r.mu.RLock()
	patterns := r.patterns
	literals := r.literals
	r.mu.RUnlock()

	for _, p := range patterns {
		s = p.ReplaceAllString(s, Placeholder)
	}
	for _, lit := range literals {
		if strings.Contains(s, lit) {
			s = strings.ReplaceAll(s, lit, Placeholder)
		}
	}
	return s
}

// RedactMap walks m in place. Non-empty string values under secret-looking
// keys are replaced, and every other string is passed through Redact.
// Used when printing the effective configuration.
func (r *Redactor) RedactMap(m map[string]any) {
	for k, v := range m {
		if secretKeyPattern.MatchString(k) {
			if s, ok := v.(string); ok && s != "" {
				m[k] = Placeholder
				continue
			}
		}
		switch val := v.(type) {
		case map[string]any:
			r.RedactMap(val)
		case []any:
			for _, item := range val {
				if sub, ok := item.(map[string]any); ok {
					r.RedactMap(sub)
				}
			}
		case string:
			if redacted := r.Redact(val); redacted != val {
				m[k] = redacted
			}
		}
	}
}

// DefaultPatterns returns patterns for provider API keys and bearer
// credentials.
func DefaultPatterns() []*regexp.Regexp {
	return []*regexp.Regexp{
		// Anthropic before OpenAI so the longer prefix wins.
		regexp.MustCompile(`sk-ant-[a-zA-Z0-9\-_]{20,}`),
		regexp.MustCompile(`sk-(proj-)?[a-zA-Z0-9\-_]{20,}`),
		// AWS / S3-compatible access key id.
		regexp.MustCompile(`AKIA[A-Z0-9]{16}`),
		regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9\-._~+/]{16,}=*`),
	}
}
