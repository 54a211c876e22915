// Package selector decides which model the next send in a thread uses.
//
// Each thread key is Unresolved until a model is picked for it, then
// Resolved for the rest of the session. A draft (no thread yet) resolves to
// the first available model as soon as the list is known. A concrete thread
// waits for its last-used model to settle and takes it when still
// available, otherwise the first available model. A resolved key is never
// re-resolved; only an explicit Select changes it.
package selector

import "sync"

// Draft is the key of the composer before a thread exists.
const Draft = "draft"

type lastUsed struct {
	model   string
	settled bool
}

// Machine tracks model resolution for every thread key seen this session.
// It is safe for concurrent use.
type Machine struct {
	mu        sync.Mutex
	available []string
	current   string
	resolved  map[string]string
	last      map[string]lastUsed

	// per-view state, reset on every key switch
	initialLoaded bool
	pinnedBottom  bool

	onResolve func(key, model string)
}

func New() *Machine {
	return &Machine{
		current:      Draft,
		resolved:     map[string]string{},
		last:         map[string]lastUsed{},
		pinnedBottom: true,
	}
}

// OnResolve registers fn to be called, outside the lock, each time a key
// resolves automatically.
func (m *Machine) OnResolve(fn func(key, model string)) {
	m.mu.Lock()
	m.onResolve = fn
	m.mu.Unlock()
}

// SetAvailable replaces the enabled model list and retries resolution of the
// current key.
func (m *Machine) SetAvailable(models []string) {
	m.mu.Lock()
	m.available = append([]string(nil), models...)
	fire := m.tryResolveLocked(m.current)
	m.mu.Unlock()
	fire()
}

// Enter switches to key. Empty means Draft. View tracking resets whether or
// not the key is already resolved.
func (m *Machine) Enter(key string) {
	if key == "" {
		key = Draft
	}
	m.mu.Lock()
	if key != m.current {
		m.current = key
		m.initialLoaded = false
		m.pinnedBottom = true
	}
	fire := m.tryResolveLocked(key)
	m.mu.Unlock()
	fire()
}

// LastUsedSettled records the last-used model reported for a thread; ""
// means the thread has no assistant message yet. Reports for a key that is
// already resolved are ignored.
func (m *Machine) LastUsedSettled(key, model string) {
	if key == "" || key == Draft {
		return
	}
	m.mu.Lock()
	if _, done := m.resolved[key]; done {
		m.mu.Unlock()
		return
	}
	m.last[key] = lastUsed{model: model, settled: true}
	var fire func()
	if key == m.current {
		fire = m.tryResolveLocked(key)
	}
	m.mu.Unlock()
	if fire != nil {
		fire()
	}
}

// Select pins key to model by explicit user choice.
func (m *Machine) Select(key, model string) {
	if key == "" {
		key = Draft
	}
	m.mu.Lock()
	m.resolved[key] = model
	m.mu.Unlock()
}

// Promote moves the draft's model to a newly created thread and makes the
// thread current. The draft becomes unresolved again.
func (m *Machine) Promote(threadID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if model, ok := m.resolved[Draft]; ok {
		if _, taken := m.resolved[threadID]; !taken {
			m.resolved[threadID] = model
		}
		delete(m.resolved, Draft)
	}
	if m.current == Draft {
		m.current = threadID
	}
}

// Model returns the resolved model for key.
func (m *Machine) Model(key string) (string, bool) {
	if key == "" {
		key = Draft
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	model, ok := m.resolved[key]
	return model, ok
}

// Current returns the current key and its model, if resolved.
func (m *Machine) Current() (key, model string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	model, ok = m.resolved[m.current]
	return m.current, model, ok
}

// Available returns a copy of the enabled model list.
func (m *Machine) Available() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.available...)
}

// MarkInitialLoad records that the current view finished its first load.
// It returns true only for the first call after a key switch.
func (m *Machine) MarkInitialLoad() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	first := !m.initialLoaded
	m.initialLoaded = true
	return first
}

// SetPinned records whether the view follows the newest message.
func (m *Machine) SetPinned(pinned bool) {
	m.mu.Lock()
	m.pinnedBottom = pinned
	m.mu.Unlock()
}

func (m *Machine) Pinned() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pinnedBottom
}

func (m *Machine) tryResolveLocked(key string) func() {
	noop := func() {}
	if _, done := m.resolved[key]; done || len(m.available) == 0 {
		return noop
	}
	var model string
	if key == Draft {
		model = m.available[0]
	} else {
		lu, ok := m.last[key]
		if !ok || !lu.settled {
			return noop
		}
		model = m.available[0]
		for _, id := range m.available {
			if id == lu.model {
				model = id
				break
			}
		}
	}
	m.resolved[key] = model
	fn := m.onResolve
	if fn == nil {
		return noop
	}
	return func() { fn(key, model) }
}
