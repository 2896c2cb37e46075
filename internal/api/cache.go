package api

import (
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"
)

// RelatedCache holds related-tree responses per app id. A related tree lists
// features of other apps, so any feature or app write flushes every entry.
// Failures are never stored.
type RelatedCache struct {
	c *cache.Cache
}

type cachedResponse struct {
	contentType string
	body        []byte
}

// NewRelatedCache creates a cache with the given TTL. A non-positive TTL
// disables caching.
func NewRelatedCache(ttl time.Duration) *RelatedCache {
	if ttl <= 0 {
		return &RelatedCache{}
	}
	return &RelatedCache{c: cache.New(ttl, 2*ttl)}
}

func (rc *RelatedCache) get(appID int64) (cachedResponse, bool) {
	if rc == nil || rc.c == nil {
		return cachedResponse{}, false
	}
	v, ok := rc.c.Get(relatedKey(appID))
	if !ok {
		return cachedResponse{}, false
	}
	return v.(cachedResponse), true
}

func (rc *RelatedCache) set(appID int64, resp cachedResponse) {
	if rc == nil || rc.c == nil {
		return
	}
	rc.c.SetDefault(relatedKey(appID), resp)
}

// Flush drops every entry.
func (rc *RelatedCache) Flush() {
	if rc == nil || rc.c == nil {
		return
	}
	rc.c.Flush()
}

func relatedKey(appID int64) string {
	return "related:" + strconv.FormatInt(appID, 10)
}
