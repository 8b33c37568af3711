package actorcell

import (
	"sync/atomic"

	"github.com/gokit/errors"
)

// errors returned by registry operations.
var (
	// ErrNameAlreadyReserved is returned when a child name maps to an
	// existing reservation or live child.
	ErrNameAlreadyReserved = errors.New("child name already reserved")

	// ErrRegistryTerminating is returned when new children are requested
	// from a registry which has begun termination.
	ErrRegistryTerminating = errors.New("registry is terminating")
)

// ContainerState represents the lifecycle of a cell's child registry.
// A registry only ever transitions Normal -> Terminating -> Terminated
// and never re-opens once Terminated.
type ContainerState int

// registry states.
const (
	ContainerNormal ContainerState = iota
	ContainerTerminating
	ContainerTerminated
)

// String implements the Stringer interface.
func (c ContainerState) String() string {
	switch c {
	case ContainerNormal:
		return "Normal"
	case ContainerTerminating:
		return "Terminating"
	case ContainerTerminated:
		return "Terminated"
	}
	return "Unknown"
}

// childSlot is a single entry within a registry snapshot: either a name
// reservation placeholder or a live child with its restart statistics.
type childSlot struct {
	reserved bool
	cell     *Cell
	stats    *ChildStats
}

// childrenSnapshot is the immutable value swapped wholesale on every
// registry mutation. Snapshots are never mutated in place.
type childrenSnapshot struct {
	state  ContainerState
	reason interface{}
	slots  map[string]childSlot
}

func (cs *childrenSnapshot) clone() *childrenSnapshot {
	next := &childrenSnapshot{
		state:  cs.state,
		reason: cs.reason,
		slots:  make(map[string]childSlot, len(cs.slots)),
	}
	for k, v := range cs.slots {
		next.slots[k] = v
	}
	return next
}

// ChildRegistry tracks the children of a single cell as an immutable
// snapshot replaced through compare-and-swap retry loops. No operation
// blocks, conflicts retry unconditionally; contention is proportional to
// concurrent child creation and removal on the same parent which is rare
// in steady state.
type ChildRegistry struct {
	snap atomic.Pointer[childrenSnapshot]
}

// NewChildRegistry returns a new ChildRegistry in the Normal state.
func NewChildRegistry() *ChildRegistry {
	cr := &ChildRegistry{}
	cr.snap.Store(&childrenSnapshot{slots: map[string]childSlot{}})
	return cr
}

// State returns the current registry state.
func (cr *ChildRegistry) State() ContainerState {
	return cr.snap.Load().state
}

// Reason returns the termination reason recorded when the registry
// entered the Terminating state.
func (cr *ChildRegistry) Reason() interface{} {
	return cr.snap.Load().reason
}

// Count returns the number of entries, reservations included.
func (cr *ChildRegistry) Count() int {
	return len(cr.snap.Load().slots)
}

// Reserve claims the giving name ahead of child construction, preventing
// two concurrent spawns from occupying the same name. It fails with
// ErrNameAlreadyReserved if the name maps to a reservation or live child
// and with ErrRegistryTerminating once termination has begun.
func (cr *ChildRegistry) Reserve(name string) error {
	for {
		cur := cr.snap.Load()
		if cur.state != ContainerNormal {
			return errors.Wrap(ErrRegistryTerminating, "reserving %q", name)
		}
		if _, ok := cur.slots[name]; ok {
			return errors.Wrap(ErrNameAlreadyReserved, "reserving %q", name)
		}

		next := cur.clone()
		next.slots[name] = childSlot{reserved: true}
		if cr.snap.CompareAndSwap(cur, next) {
			return nil
		}
	}
}

// Unreserve releases a name claim placed by Reserve, it reports whether a
// reservation was actually released. Live children are never removed by
// Unreserve.
func (cr *ChildRegistry) Unreserve(name string) bool {
	for {
		cur := cr.snap.Load()
		slot, ok := cur.slots[name]
		if !ok || !slot.reserved {
			return false
		}

		next := cur.clone()
		delete(next.slots, name)
		if cr.snap.CompareAndSwap(cur, next) {
			return true
		}
	}
}

// Initialize replaces the reservation for the giving cell's name with a
// live entry carrying fresh restart statistics. It is idempotent: when
// called twice for the same cell the existing statistics are returned
// rather than a duplicate entry created.
func (cr *ChildRegistry) Initialize(c *Cell) *ChildStats {
	for {
		cur := cr.snap.Load()
		if slot, ok := cur.slots[c.Name()]; ok && !slot.reserved && slot.cell == c {
			return slot.stats
		}

		stats := new(ChildStats)
		next := cur.clone()
		next.slots[c.Name()] = childSlot{cell: c, stats: stats}
		if cr.snap.CompareAndSwap(cur, next) {
			return stats
		}
	}
}

// Remove deletes the entry for the giving cell, reporting the registry
// state, the termination reason and the count of live children remaining
// as observed by the successful swap. The reason is captured together
// with the removal as a single observation so callers can decide whether
// this removal completes a termination sequence. Unknown cells are a
// safe no-op.
func (cr *ChildRegistry) Remove(c *Cell) (ContainerState, interface{}, int) {
	for {
		cur := cr.snap.Load()
		reason := cur.reason

		slot, ok := cur.slots[c.Name()]
		if !ok || slot.cell != c {
			return cur.state, reason, liveChildren(cur)
		}

		next := cur.clone()
		delete(next.slots, c.Name())
		if cr.snap.CompareAndSwap(cur, next) {
			return next.state, reason, liveChildren(next)
		}
	}
}

func liveChildren(cs *childrenSnapshot) int {
	live := 0
	for _, slot := range cs.slots {
		if !slot.reserved {
			live++
		}
	}
	return live
}

// Stats returns the restart statistics for the giving cell, nil when the
// cell is not a live child of this registry.
func (cr *ChildRegistry) Stats(c *Cell) *ChildStats {
	slot, ok := cr.snap.Load().slots[c.Name()]
	if !ok || slot.reserved || slot.cell != c {
		return nil
	}
	return slot.stats
}

// Children returns all live children, reservations excluded.
func (cr *ChildRegistry) Children() []*Cell {
	cur := cr.snap.Load()
	kids := make([]*Cell, 0, len(cur.slots))
	for _, slot := range cur.slots {
		if !slot.reserved {
			kids = append(kids, slot.cell)
		}
	}
	return kids
}

// MarkTerminating moves the registry into the Terminating state with the
// giving reason. It is a no-op once the registry has Terminated and keeps
// the first recorded reason on repeated calls.
func (cr *ChildRegistry) MarkTerminating(reason interface{}) {
	for {
		cur := cr.snap.Load()
		if cur.state != ContainerNormal {
			return
		}

		next := cur.clone()
		next.state = ContainerTerminating
		next.reason = reason
		if cr.snap.CompareAndSwap(cur, next) {
			return
		}
	}
}

// MarkTerminated moves the registry into its terminal state. Once
// Terminated the registry never re-opens.
func (cr *ChildRegistry) MarkTerminated() {
	for {
		cur := cr.snap.Load()
		if cur.state == ContainerTerminated {
			return
		}

		next := cur.clone()
		next.state = ContainerTerminated
		next.slots = map[string]childSlot{}
		if cr.snap.CompareAndSwap(cur, next) {
			return
		}
	}
}
