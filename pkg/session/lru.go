// lru.go records request ids a room has already applied.
//
// Delivery is at least once: a client that loses its connection after
// publishing cannot tell whether the hub applied the request, so it sends it
// again after reconnecting. The room looks each id up here first and answers
// a redelivery with the acknowledgement it gave the first time.

package session

import "github.com/hashicorp/golang-lru/v2/simplelru"

// DefaultSeenRequests bounds how many request ids a room remembers.
const DefaultSeenRequests = 1024

// seenRequests is an LRU of applied request ids. It is owned by the room
// goroutine and is not safe for concurrent use.
type seenRequests struct {
	cache *simplelru.LRU[string, Ack]
}

func newSeenRequests(size int) *seenRequests {
	if size <= 0 {
		size = DefaultSeenRequests
	}
	// NewLRU only fails for a non-positive size.
	cache, _ := simplelru.NewLRU[string, Ack](size, nil)
	return &seenRequests{cache: cache}
}

// Add records the acknowledgement for id, evicting the least recently used
// entry when the cache is full.
func (c *seenRequests) Add(id string, ack Ack) {
	c.cache.Add(id, ack)
}

// Get returns the acknowledgement recorded for id and marks it recently used.
func (c *seenRequests) Get(id string) (Ack, bool) {
	return c.cache.Get(id)
}

// Len returns the number of remembered ids.
func (c *seenRequests) Len() int {
	return c.cache.Len()
}
