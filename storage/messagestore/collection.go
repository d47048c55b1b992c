package messagestore

import (
	"github.com/c360/v2xstreams/message"
)

// collection holds the live entities of one type in insertion order
type collection struct {
	keys  []string
	items map[string]message.Message
}

func newCollection() *collection {
	return &collection{items: make(map[string]message.Message)}
}

func (c *collection) len() int { return len(c.keys) }

func (c *collection) get(key string) (message.Message, bool) {
	m, ok := c.items[key]
	return m, ok
}

// put replaces an entity with the same key in place, or appends it
func (c *collection) put(m message.Message) (replaced bool) {
	key := m.Key()
	if _, ok := c.items[key]; ok {
		c.items[key] = m
		return true
	}
	c.items[key] = m
	c.keys = append(c.keys, key)
	return false
}

func (c *collection) remove(key string) (message.Message, bool) {
	m, ok := c.items[key]
	if !ok {
		return nil, false
	}
	delete(c.items, key)
	for i, k := range c.keys {
		if k == key {
			c.keys = append(c.keys[:i], c.keys[i+1:]...)
			break
		}
	}
	return m, true
}

// each visits entities in insertion order until fn returns false
func (c *collection) each(fn func(message.Message) bool) {
	for _, key := range c.keys {
		if !fn(c.items[key]) {
			return
		}
	}
}

// retain keeps the entities keep accepts and returns the rest in order
func (c *collection) retain(keep func(message.Message) bool) []message.Message {
	var removed []message.Message
	kept := c.keys[:0]
	for _, key := range c.keys {
		m := c.items[key]
		if keep(m) {
			kept = append(kept, key)
			continue
		}
		delete(c.items, key)
		removed = append(removed, m)
	}
	c.keys = kept
	return removed
}

func (c *collection) clear() []message.Message {
	removed := make([]message.Message, 0, len(c.keys))
	for _, key := range c.keys {
		removed = append(removed, c.items[key])
	}
	c.keys = nil
	c.items = make(map[string]message.Message)
	return removed
}
