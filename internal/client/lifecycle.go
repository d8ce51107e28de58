package client

import "sync"

// Lifecycle stands in for the page's beforeunload and unload signals.
// Each signal fires its callbacks at most once.
type Lifecycle struct {
	mu           sync.Mutex
	beforeUnload []func()
	unload       []func()
	firedBefore  bool
	firedUnload  bool
}

// NewLifecycle creates a lifecycle with no callbacks.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{}
}

// OnBeforeUnload runs fn when BeforeUnload fires, or immediately if it
// already has.
func (l *Lifecycle) OnBeforeUnload(fn func()) {
	l.mu.Lock()
	if l.firedBefore {
		l.mu.Unlock()
		fn()
		return
	}
	l.beforeUnload = append(l.beforeUnload, fn)
	l.mu.Unlock()
}

// OnUnload runs fn when Unload fires, or immediately if it already has.
func (l *Lifecycle) OnUnload(fn func()) {
	l.mu.Lock()
	if l.firedUnload {
		l.mu.Unlock()
		fn()
		return
	}
	l.unload = append(l.unload, fn)
	l.mu.Unlock()
}

// BeforeUnload fires the beforeunload signal.
func (l *Lifecycle) BeforeUnload() {
	l.mu.Lock()
	if l.firedBefore {
		l.mu.Unlock()
		return
	}
	l.firedBefore = true
	fns := l.beforeUnload
	l.beforeUnload = nil
	l.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Unload fires the unload signal.
func (l *Lifecycle) Unload() {
	l.mu.Lock()
	if l.firedUnload {
		l.mu.Unlock()
		return
	}
	l.firedUnload = true
	fns := l.unload
	l.unload = nil
	l.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Disposer releases a subscription. Calling it more than once is a no-op.
type Disposer func()

// once makes fn idempotent and ties it to both unload signals of lc.
func once(lc *Lifecycle, fn func()) Disposer {
	var o sync.Once
	d := Disposer(func() { o.Do(fn) })
	if lc != nil {
		lc.OnBeforeUnload(d)
		lc.OnUnload(d)
	}
	return d
}
