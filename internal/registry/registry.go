// Package registry tracks how many viewing sessions are live and decides admission.
package registry

import "sync/atomic"

// Registry counts active sessions against a fixed capacity. Admission is a
// compare-and-swap check-and-increment, so two callers racing for the last slot
// can never both win.
type Registry struct {
	current atomic.Int64
	max     int64
}

func New(max int64) *Registry {
	return &Registry{max: max}
}

// TryAdmit claims a slot. It returns the new count and true, or the unchanged
// count and false when the registry is already full.
func (r *Registry) TryAdmit() (int64, bool) {
	for {
		current := r.current.Load()
		if current >= r.max {
			return current, false
		}
		if r.current.CompareAndSwap(current, current+1) {
			return current + 1, true
		}
	}
}

// Release gives a slot back and returns the new count. The count never drops below zero.
func (r *Registry) Release() int64 {
	for {
		current := r.current.Load()
		if current <= 0 {
			return 0
		}
		if r.current.CompareAndSwap(current, current-1) {
			return current - 1
		}
	}
}

func (r *Registry) Current() int64 {
	return r.current.Load()
}

func (r *Registry) Max() int64 {
	return r.max
}

// CapacityPct returns utilisation as a percentage.
func (r *Registry) CapacityPct() float64 {
	if r.max == 0 {
		return 0
	}
	return float64(r.Current()) / float64(r.max) * 100
}
