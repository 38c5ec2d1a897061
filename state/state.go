// Package state holds per profile motion settings the camera does not store itself.
package state

import (
	"sync"
	"unicode/utf8"
)

// Defaults.
const (
	DefaultRelativeDistance = 0.1
	MaxPresetNameLength     = 64
)

// Entry is the state of one profile.
type Entry struct {
	RelativeDistance float64  `json:"relative_distance"`
	RelativeSpeed    *float64 `json:"relative_speed,omitempty"`
	AbsolutePan      float64  `json:"absolute_pan"`
	AbsoluteTilt     float64  `json:"absolute_tilt"`
	AbsoluteSpeed    *float64 `json:"absolute_speed,omitempty"`
	SelectedPreset   string   `json:"selected_preset,omitempty"`
	PresetName       string   `json:"preset_name,omitempty"`
}

func defaultEntry() Entry {
	return Entry{RelativeDistance: DefaultRelativeDistance}
}

// Cache is a profile token keyed store of Entry values. Entries are copied in and out, so
// profiles never share state.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{entries: map[string]Entry{}}
}

// Get returns the entry of a profile, or the defaults when it was never set.
func (c *Cache) Get(profile string) Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[profile]
	if !ok {
		return defaultEntry()
	}
	return e.clone()
}

// Update applies fn to the profile's entry and stores the result.
func (c *Cache) Update(profile string, fn func(*Entry)) Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[profile]
	if !ok {
		e = defaultEntry()
	} else {
		e = e.clone()
	}
	fn(&e)
	e.PresetName = truncate(e.PresetName, MaxPresetNameLength)
	c.entries[profile] = e
	return e.clone()
}

// Reset drops every entry.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = map[string]Entry{}
}

// Snapshot returns a copy of every entry, for diagnostics.
func (c *Cache) Snapshot() map[string]Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Entry, len(c.entries))
	for k, v := range c.entries {
		out[k] = v.clone()
	}
	return out
}

func (e Entry) clone() Entry {
	if e.RelativeSpeed != nil {
		v := *e.RelativeSpeed
		e.RelativeSpeed = &v
	}
	if e.AbsoluteSpeed != nil {
		v := *e.AbsoluteSpeed
		e.AbsoluteSpeed = &v
	}
	return e
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
