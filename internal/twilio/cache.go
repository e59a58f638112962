package twilio

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// Cache hands out one Client per set of credentials.
type Cache struct {
	mu      sync.Mutex
	clients map[string]*Client
	opts    []Option
}

// NewCache creates a cache whose clients are built with opts.
func NewCache(opts ...Option) *Cache {
	return &Cache{clients: make(map[string]*Client), opts: opts}
}

// Get returns the client for the credentials, creating it on first use.
func (c *Cache) Get(accountSID, authToken string) *Client {
	key := cacheKey(accountSID, authToken)
	c.mu.Lock()
	defer c.mu.Unlock()
	if cl, ok := c.clients[key]; ok {
		return cl
	}
	cl := NewClient(accountSID, authToken, c.opts...)
	c.clients[key] = cl
	return cl
}

// Len returns the number of cached clients.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.clients)
}

func cacheKey(accountSID, authToken string) string {
	sum := sha256.Sum256([]byte(accountSID + ":" + authToken))
	return hex.EncodeToString(sum[:])
}
