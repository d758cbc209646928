package domain

import (
	"net/url"
	"strings"
)

type Kind string

const (
	KindText Kind = "text"
	KindURL  Kind = "url"
	KindFile Kind = "file"
)

// Paste is the sole stored entity. Timestamps are epoch seconds;
// ExpiresAt == 0 means the paste never expires.
type Paste struct {
	ID        uint64 `json:"id"`
	Content   string `json:"content"`
	FileName  string `json:"file_name"`
	CreatedAt int64  `json:"created_at"`
	Kind      Kind   `json:"kind"`
	ExpiresAt int64  `json:"expires_at"`
}

func (p *Paste) HasFile() bool {
	return p.FileName != ""
}

// Expired reports whether the paste's deadline has passed. A paste is
// expired from the exact deadline second onward.
func (p *Paste) Expired(now int64) bool {
	return p.ExpiresAt != 0 && now >= p.ExpiresAt
}

func (p *Paste) Clone() *Paste {
	c := *p
	return &c
}

type CreateParams struct {
	Content    string
	FileName   string
	Expiration string
}

var expirationOffsets = map[string]int64{
	"1min":   60,
	"10min":  60 * 10,
	"1hour":  60 * 60,
	"24hour": 60 * 60 * 24,
	"1week":  60 * 60 * 24 * 7,
}

// ExpiresAt resolves a named expiration choice against the creation
// time. "never" maps to the zero sentinel.
func ExpiresAt(choice string, createdAt int64) (int64, error) {
	if choice == "never" {
		return 0, nil
	}
	offset, ok := expirationOffsets[choice]
	if !ok {
		return 0, ErrInvalidExpiration
	}
	return createdAt + offset, nil
}

// ExpirationChoices lists the accepted expiration keywords.
func ExpirationChoices() []string {
	return []string{"1min", "10min", "1hour", "24hour", "1week", "never"}
}

// ClassifyKind derives the paste kind. A nonempty filename wins; content
// that is a single well-formed http(s) URL spanning the whole input is a
// url paste; everything else is text.
func ClassifyKind(content, fileName string) Kind {
	if fileName != "" {
		return KindFile
	}
	if isWholeURL(content) {
		return KindURL
	}
	return KindText
}

func isWholeURL(s string) bool {
	if s == "" || strings.ContainsAny(s, " \t\r\n") {
		return false
	}
	u, err := url.ParseRequestURI(s)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Host != ""
}
