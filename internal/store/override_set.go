package store

import "sync"

// OverrideSet holds the exact URLs the user chose to trust for this process lifetime.
type OverrideSet struct {
	mu   sync.RWMutex
	urls map[string]struct{}
}

func NewOverrideSet() *OverrideSet {
	return &OverrideSet{urls: make(map[string]struct{})}
}

func (o *OverrideSet) Add(url string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.urls[url] = struct{}{}
}

// Contains uses exact string equality on the full URL.
func (o *OverrideSet) Contains(url string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, ok := o.urls[url]
	return ok
}

// Reset forgets every override, as a restart would.
func (o *OverrideSet) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.urls = make(map[string]struct{})
}
