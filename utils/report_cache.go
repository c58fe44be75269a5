package utils

import (
	"crypto/md5"
	"encoding/hex"

	"github.com/nci/gomemcache/memcache"
)

// ReportCache keeps rendered flood reports in memcache keyed by a hash of
// the request that produced them. A nil *ReportCache is a valid no-op
// cache.
type ReportCache struct {
	mc *memcache.Client
}

// NewReportCache returns nil when uri is empty. The connection is lazy;
// errors surface on Get.
func NewReportCache(uri string) *ReportCache {
	if len(uri) == 0 {
		return nil
	}
	return &ReportCache{mc: memcache.New(uri)}
}

// CacheKey hashes the request parts into a memcache-safe key.
func CacheKey(parts ...[]byte) string {
	h := md5.New()
	for _, p := range parts {
		h.Write(p)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (c *ReportCache) Get(key string) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	item, err := c.mc.Get(key)
	if err != nil {
		return nil, false
	}
	return item.Value, true
}

// Put stores value. Errors are ignored: memcache may not retain the item
// anyway.
func (c *ReportCache) Put(key string, value []byte) {
	if c == nil {
		return
	}
	c.mc.Set(&memcache.Item{Key: key, Value: value})
}
