package capability

import (
	"sync"
)

// PropertyChecksumType is the cache property holding the negotiated
// checksum encoding.
const PropertyChecksumType = "checksumType"

// Key addresses one negotiated property of one server zone.
type Key struct {
	Host     string
	Zone     string
	Property string
}

// Cache is a thread-safe map of negotiated server properties. Entries are
// written once: the first writer for a key wins and later writes are
// no-ops. There is no expiry; a Cache lives as long as the client that
// owns it.
type Cache struct {
	mu      sync.RWMutex
	entries map[Key]string
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[Key]string)}
}

// Get returns the cached value and true, or "" and false.
func (c *Cache) Get(host, zone, property string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v, ok := c.entries[Key{Host: host, Zone: zone, Property: property}]
	return v, ok
}

// Put stores value unless the key is already present, and returns whatever
// is stored afterwards.
func (c *Cache) Put(host, zone, property, value string) string {
	k := Key{Host: host, Zone: zone, Property: property}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[k]; ok {
		return existing
	}
	c.entries[k] = value
	return value
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
