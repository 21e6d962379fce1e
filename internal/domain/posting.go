package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// RawPosting is what a source adapter returns before persistence.
// ExternalID is the board's own stable identifier and may be empty.
type RawPosting struct {
	Source      string
	ExternalID  string
	Title       string
	Company     string
	Location    string
	Description string
	URL         string
}

// JobPosting is a deduplicated posting. Immutable after discovery
// except for the last-seen touch.
type JobPosting struct {
	Fingerprint string
	Source      string
	ExternalID  string

	Title       string
	Company     string
	Location    string
	Description string
	URL         string

	DiscoveredAt time.Time
	LastSeenAt   time.Time
}

// Fingerprint derives the posting's identity. A stable external id
// from the source wins; otherwise the normalized content fields are
// hashed, which conflates reposts that share title, company, and
// location on the same board.
func (p RawPosting) Fingerprint() string {
	var data string
	if p.ExternalID != "" {
		data = normalize(p.Source) + ":" + normalize(p.ExternalID)
	} else {
		data = strings.Join([]string{
			normalize(p.Source),
			normalize(p.Title),
			normalize(p.Company),
			normalize(p.Location),
		}, "|")
	}
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(s))), " ")
}
