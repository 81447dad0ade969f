package scheduler

import (
	"slices"
	"sync"
)

// MediaCatalog maps tape names onto the configured media types.
type MediaCatalog struct {
	mutex sync.RWMutex
	types []*MediaType
}

func NewMediaCatalog(types ...*MediaType) *MediaCatalog {
	return &MediaCatalog{types: types}
}

// Set replaces the known media types. Match keeps their order.
func (c *MediaCatalog) Set(types []*MediaType) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.types = slices.Clone(types)
}

// Match returns the first media type whose pattern matches the tape, or nil.
func (c *MediaCatalog) Match(tape string) *MediaType {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	for _, mt := range c.types {
		if mt.Matches(tape) {
			return mt
		}
	}
	return nil
}

func (c *MediaCatalog) Types() []*MediaType {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return slices.Clone(c.types)
}

// Drives returns the drive count summed over every media type.
func (c *MediaCatalog) Drives() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	total := 0
	for _, mt := range c.types {
		total += mt.Drives
	}
	return total
}
