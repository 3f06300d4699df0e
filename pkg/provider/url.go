package provider

import (
	"net/url"
	"sync"
	"time"

	statesync "github.com/goliatone/go-statesync"
)

// Location exposes the query parameters of the application's current URL.
type Location interface {
	Param(name string) (string, bool)
	// OnChange registers fn to run after every navigation and returns a
	// function removing it.
	OnChange(fn func()) (cancel func())
}

// URL adapts a Location. It is a source-only kind.
type URL struct {
	store    Store
	location Location
	cfg      config

	mu      sync.Mutex
	watched map[string]func()
}

// NewURL returns the url adapter.
func NewURL(store Store, location Location, opts ...Option) *URL {
	return &URL{
		store:    store,
		location: location,
		cfg:      applyOptions(store, opts),
		watched:  make(map[string]func()),
	}
}

// Label returns the adapter's context tag.
func (u *URL) Label() string { return LabelURL }

// Source returns a source provider reading the query parameter param. The
// first fetch also re-reads the parameter after every navigation.
func (u *URL) Source(param string) statesync.Source {
	var fetch statesync.SourceFunc
	fetch = func(variableID, _ string) {
		u.watch(variableID, func() { fetch(variableID, LabelURL) })
		start := time.Now()
		value, ok := u.location.Param(param)
		u.cfg.report(LabelURL, "read", param, variableID, start, nil)
		if !ok {
			return
		}
		u.cfg.mutateBack(u.store, LabelURL, param, variableID, value)
	}
	return statesync.Source{Label: LabelURL, Path: param, Fetch: fetch}
}

func (u *URL) watch(variableID string, fn func()) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, ok := u.watched[variableID]; ok {
		return
	}
	u.watched[variableID] = u.location.OnChange(fn)
}

// Close removes every navigation listener.
func (u *URL) Close() error {
	u.mu.Lock()
	watched := u.watched
	u.watched = make(map[string]func())
	u.mu.Unlock()
	for _, cancel := range watched {
		cancel()
	}
	return nil
}

// MemoryLocation is an in-process Location driven by Navigate.
type MemoryLocation struct {
	mu        sync.RWMutex
	current   *url.URL
	listeners map[int]func()
	next      int
}

// NewMemoryLocation parses raw as the initial URL.
func NewMemoryLocation(raw string) (*MemoryLocation, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	return &MemoryLocation{current: parsed, listeners: make(map[int]func())}, nil
}

// Param implements Location.
func (l *MemoryLocation) Param(name string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	values := l.current.Query()
	if !values.Has(name) {
		return "", false
	}
	return values.Get(name), true
}

// String returns the current URL.
func (l *MemoryLocation) String() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current.String()
}

// Navigate replaces the current URL and notifies listeners.
func (l *MemoryLocation) Navigate(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.current = parsed
	listeners := make([]func(), 0, len(l.listeners))
	for _, fn := range l.listeners {
		listeners = append(listeners, fn)
	}
	l.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
	return nil
}

// SetParam sets one query parameter and notifies listeners.
func (l *MemoryLocation) SetParam(name, value string) error {
	l.mu.RLock()
	next := *l.current
	l.mu.RUnlock()
	query := next.Query()
	query.Set(name, value)
	next.RawQuery = query.Encode()
	return l.Navigate(next.String())
}

// OnChange implements Location.
func (l *MemoryLocation) OnChange(fn func()) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.next
	l.next++
	l.listeners[id] = fn
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.listeners, id)
	}
}
