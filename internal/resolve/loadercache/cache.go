// Package loadercache provides the cross-request cache for the conditional
// loader. Entries map a context hash to the rule ids the loader admitted for
// that context, so identical contexts skip re-evaluating load conditions.
package loadercache

import (
	"context"
	"time"
)

// Entry records the loaded rule ids for one context hash.
type Entry struct {
	RuleIDs   []string  `json:"ruleIds"`
	StoredAt  time.Time `json:"storedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Cache is the pluggable backend contract. Implementations must be safe for
// concurrent use.
type Cache interface {
	Lookup(ctx context.Context, key string) (Entry, bool, error)
	Store(ctx context.Context, key string, entry Entry) error
	DeletePrefix(ctx context.Context, prefix string) error
	Size(ctx context.Context) (int64, error)
	Close(ctx context.Context) error
}
