package pipeline

import (
	"sort"
	"sync"

	"marketpulse/internal/features"
)

// IngestionContext owns the per-symbol state shared by quote ingestion and
// news ingestion. Work on one symbol is serialized by that symbol's mutex;
// different symbols proceed in parallel.
type IngestionContext struct {
	extractor *features.Extractor

	mu      sync.Mutex
	entries map[string]*symbolEntry
}

type symbolEntry struct {
	mu      sync.Mutex
	history *features.History
}

func NewIngestionContext(extractor *features.Extractor) *IngestionContext {
	return &IngestionContext{
		extractor: extractor,
		entries:   make(map[string]*symbolEntry),
	}
}

func (c *IngestionContext) entry(symbol string) *symbolEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[symbol]
	if !ok {
		e = &symbolEntry{history: c.extractor.NewHistory()}
		c.entries[symbol] = e
	}
	return e
}

// With runs fn with exclusive access to symbol's history
func (c *IngestionContext) With(symbol string, fn func(h *features.History)) {
	e := c.entry(symbol)
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.history)
}

// Symbols lists the symbols seen so far, sorted
func (c *IngestionContext) Symbols() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, 0, len(c.entries))
	for s := range c.entries {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
