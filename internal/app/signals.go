package app

import (
	"sync"

	"quiz-client/internal/domain"
)

// Signals is a source of anti-cheat signals. A session attaches while an attempt
// is in progress and calls the returned detach func on every exit.
type Signals interface {
	Attach(fn func(domain.CheatSignal)) (detach func())
}

// SignalRelay forwards signals from a front-end (terminal, websocket) to whoever
// is attached. Signals emitted while detached are dropped.
type SignalRelay struct {
	mu       sync.Mutex
	handler  func(domain.CheatSignal)
	attaches int
	detaches int
}

func NewSignalRelay() *SignalRelay {
	return &SignalRelay{}
}

func (r *SignalRelay) Attach(fn func(domain.CheatSignal)) func() {
	r.mu.Lock()
	r.handler = fn
	r.attaches++
	gen := r.attaches
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.detaches++
			if r.attaches == gen {
				r.handler = nil
			}
		})
	}
}

// Emit delivers the signal and reports whether a listener was attached.
func (r *SignalRelay) Emit(signal domain.CheatSignal) bool {
	r.mu.Lock()
	fn := r.handler
	r.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(signal)
	return true
}

// Attached reports whether a listener is currently registered.
func (r *SignalRelay) Attached() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handler != nil
}

// Balance returns attach and detach counts; equal counts mean no leaked listener.
func (r *SignalRelay) Balance() (attaches, detaches int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attaches, r.detaches
}
