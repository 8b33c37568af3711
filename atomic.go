package actorcell

import (
	"sync/atomic"
)

const (
	on  uint64 = 1
	off uint64 = 0
)

// AtomicBool implements a safe atomic boolean.
type AtomicBool struct {
	flag int32
}

// IsTrue returns true/false if giving atomic bool is in true state.
func (a *AtomicBool) IsTrue() bool {
	return atomic.LoadInt32(&a.flag) == 1
}

// Off sets the atomic bool as false.
func (a *AtomicBool) Off() {
	atomic.StoreInt32(&a.flag, 0)
}

// On sets the atomic bool as true.
func (a *AtomicBool) On() {
	atomic.StoreInt32(&a.flag, 1)
}

// AtomicCounter implements a wrapper around a int64.
type AtomicCounter struct {
	count int64
}

// Add increments counter by provided value, returning the new value.
func (a *AtomicCounter) Add(c int64) int64 {
	return atomic.AddInt64(&a.count, c)
}

// Set sets counter to value.
func (a *AtomicCounter) Set(n int64) {
	atomic.StoreInt64(&a.count, n)
}

// Get returns giving counter count value.
func (a *AtomicCounter) Get() int64 {
	return atomic.LoadInt64(&a.count)
}

// Inc increments counter by one, returning the new value.
func (a *AtomicCounter) Inc() int64 {
	return atomic.AddInt64(&a.count, 1)
}

//***********************************
//  SwitchImpl
//***********************************

// SwitchImpl implements a thread-safe switching mechanism, which
// swaps between a on and off state.
type SwitchImpl struct {
	state uint64
}

// IsOn returns true/false if giving switch is on.
func (s *SwitchImpl) IsOn() bool {
	return atomic.LoadUint64(&s.state) == on
}

// Off flips switch into off state.
func (s *SwitchImpl) Off() {
	atomic.CompareAndSwapUint64(&s.state, on, off)
}

// On flips switch into on state, returning true if this
// call performed the flip.
func (s *SwitchImpl) On() bool {
	return atomic.CompareAndSwapUint64(&s.state, off, on)
}
