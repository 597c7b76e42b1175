package domain

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// EmbedMode is a feed's rendering override. Inherit falls back to the
// destination's ambient preference.
type EmbedMode int

const (
	EmbedInherit EmbedMode = iota
	EmbedForceOn
	EmbedForceOff
)

// Resolve applies the destination default when the mode is Inherit.
func (m EmbedMode) Resolve(destinationDefault bool) bool {
	switch m {
	case EmbedForceOn:
		return true
	case EmbedForceOff:
		return false
	default:
		return destinationDefault
	}
}

func (m EmbedMode) String() string {
	switch m {
	case EmbedForceOn:
		return "on"
	case EmbedForceOff:
		return "off"
	default:
		return "inherit"
	}
}

// ParseEmbedMode accepts the operator-facing spellings of the three modes.
func ParseEmbedMode(s string) (EmbedMode, error) {
	switch strings.ToLower(s) {
	case "on", "true", "yes":
		return EmbedForceOn, nil
	case "off", "false", "no":
		return EmbedForceOff, nil
	case "inherit", "default", "null":
		return EmbedInherit, nil
	}
	return EmbedInherit, fmt.Errorf("invalid embed mode %q", s)
}

// NullBool maps the mode onto the nullable boolean column used by the
// storage backends.
func (m EmbedMode) NullBool() sql.NullBool {
	switch m {
	case EmbedForceOn:
		return sql.NullBool{Bool: true, Valid: true}
	case EmbedForceOff:
		return sql.NullBool{Bool: false, Valid: true}
	default:
		return sql.NullBool{}
	}
}

// EmbedModeFromNullBool is the inverse of NullBool.
func EmbedModeFromNullBool(b sql.NullBool) EmbedMode {
	switch {
	case !b.Valid:
		return EmbedInherit
	case b.Bool:
		return EmbedForceOn
	default:
		return EmbedForceOff
	}
}

// FeedRecord is the persisted state of one feed: its subscription settings
// plus the cursor describing the last successfully delivered post. The
// cursor fields only ever advance after the sink has accepted a post.
type FeedRecord struct {
	URL           string
	EmbedOverride EmbedMode
	LastPostID    int64
	ReplyCount    int
	LastDelivered time.Time // source-reported timestamp, UTC
	ImageCount    int
	IsArchived    bool
	IsSticky      bool
	IsAtBumpLimit bool
}

// NamedRecord pairs a record with its feed name for listings.
type NamedRecord struct {
	Name   string
	Record FeedRecord
}
