package intercept

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const dedupTTL = 5 * time.Minute

// Deduper guarantees one ingestion per turn even when multiple hooks fire
// for the same exchange. Identity is the provider response ID when present,
// otherwise a hash of (session, timestamp bucket, user input).
type Deduper struct {
	seen *gocache.Cache
}

func NewDeduper() *Deduper {
	return &Deduper{seen: gocache.New(dedupTTL, dedupTTL)}
}

// FirstSighting records the capture identity and reports whether this is
// the first time it was seen.
func (d *Deduper) FirstSighting(cap *Capture) bool {
	key := cap.ResponseID
	if key == "" {
		bucket := cap.Timestamp.Truncate(time.Second).Unix()
		sum := sha256.Sum256(fmt.Appendf(nil, "%s|%d|%s", cap.SessionID, bucket, cap.UserInput))
		key = hex.EncodeToString(sum[:])
	}
	if _, exists := d.seen.Get(key); exists {
		return false
	}
	d.seen.Set(key, struct{}{}, dedupTTL)
	return true
}
