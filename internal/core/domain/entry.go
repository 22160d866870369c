package domain

import (
	"fmt"
	"strings"
	"time"
)

// OwnerSystem marks uploads performed by the service itself, e.g. URL
// ingestion on behalf of anonymous callers.
const OwnerSystem = "system"

const maxIDLength = 128

// CacheEntry is the metadata record for one logical image. Exactly one
// entry exists per id; OriginalKey never changes after creation.
type CacheEntry struct {
	ID          string     `json:"id"`
	Owner       string     `json:"owner"`
	SourceURL   string     `json:"sourceUrl,omitempty"`
	OriginalKey string     `json:"originalKey"`
	CreatedAt   time.Time  `json:"createdAt"`
	IsPublic    bool       `json:"isPublic"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

// Expired reports whether a URL-cache entry has passed its expiry.
// Entries without an expiry never expire.
func (e *CacheEntry) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && now.After(*e.ExpiresAt)
}

// ReadableBy reports whether the caller may read renditions of this
// entry. An empty caller is anonymous.
func (e *CacheEntry) ReadableBy(caller string) bool {
	if e.IsPublic {
		return true
	}
	return caller != "" && caller == e.Owner
}

// OwnedBy reports whether the caller may mutate this entry.
func (e *CacheEntry) OwnedBy(caller string) bool {
	return caller != "" && caller == e.Owner
}

// ValidateID rejects ids that would break the key layout. Ids become
// path segments of storage keys, so the key separators are forbidden.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("empty id")
	}
	if len(id) > maxIDLength {
		return fmt.Errorf("id longer than %d characters", maxIDLength)
	}
	if strings.ContainsAny(id, "/_") {
		return fmt.Errorf("id must not contain '/' or '_'")
	}
	return nil
}

// ValidateOwner rejects owner identifiers that would break the
// owner-scoped key prefix.
func ValidateOwner(owner string) error {
	if owner == "" {
		return fmt.Errorf("empty owner")
	}
	if strings.Contains(owner, "/") {
		return fmt.Errorf("owner must not contain '/'")
	}
	return nil
}
