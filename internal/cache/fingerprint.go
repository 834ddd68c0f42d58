package cache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

const fingerprintPrefix = "fp:"

// Fingerprinter decides whether a freshly fetched document is semantically
// identical to the one last processed for the same key. Volatile fields
// (server timestamps, per-request IDs) are stripped before hashing so that
// payloads which only differ in noise compare equal.
type Fingerprinter struct {
	store    Store
	volatile map[string]struct{}
	ttl      time.Duration
	logger   *zap.Logger
}

// NewFingerprinter creates a Fingerprinter ignoring the given field names.
// store may be nil, in which case nothing is ever a duplicate.
func NewFingerprinter(store Store, volatileFields []string, ttl time.Duration, logger *zap.Logger) *Fingerprinter {
	volatile := make(map[string]struct{}, len(volatileFields))
	for _, f := range volatileFields {
		volatile[f] = struct{}{}
	}
	return &Fingerprinter{store: store, volatile: volatile, ttl: ttl, logger: logger}
}

// Fingerprint computes the stable hash of doc with volatile fields removed.
// Documents that fail to parse as JSON are hashed as-is.
func (f *Fingerprinter) Fingerprint(doc []byte) string {
	var parsed any
	if err := json.Unmarshal(doc, &parsed); err == nil {
		stripped := f.strip(parsed)
		// json.Marshal sorts map keys, giving a canonical byte form.
		if canonical, err := json.Marshal(stripped); err == nil {
			doc = canonical
		}
	}
	sum := sha256.Sum256(doc)
	return hex.EncodeToString(sum[:])
}

// IsDuplicate reports whether doc fingerprints identically to the last
// document recorded for key, and records doc's fingerprint either way.
func (f *Fingerprinter) IsDuplicate(ctx context.Context, key string, doc []byte) bool {
	if f.store == nil {
		return false
	}

	fp := f.Fingerprint(doc)
	storeKey := fingerprintPrefix + key

	prev, err := f.store.Get(ctx, storeKey)
	dup := err == nil && bytes.Equal(prev, []byte(fp))

	if !dup {
		if err := f.store.Set(ctx, storeKey, []byte(fp), f.ttl); err != nil {
			f.logger.Warn("fingerprint write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return dup
}

func (f *Fingerprinter) strip(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, val := range typed {
			if _, skip := f.volatile[key]; skip {
				continue
			}
			out[key] = f.strip(val)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, val := range typed {
			out[i] = f.strip(val)
		}
		return out
	default:
		return v
	}
}
