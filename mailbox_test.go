package actorcell

import (
	"sync"
	"testing"

	"github.com/gokit/errors"
	"github.com/stretchr/testify/assert"
)

func TestMailboxSuspendNesting(t *testing.T) {
	mb := NewMailbox(-1, nil)
	assert.False(t, mb.IsSuspended())

	assert.True(t, mb.Suspend())
	assert.True(t, mb.Suspend())
	assert.Equal(t, int64(2), mb.SuspendCount())

	// only the one-to-zero transition reports true.
	assert.False(t, mb.Resume())
	assert.True(t, mb.Resume())
	assert.False(t, mb.IsSuspended())

	// resuming an already open mailbox stays open.
	assert.False(t, mb.Resume())
	assert.Equal(t, int64(0), mb.SuspendCount())
}

func TestMailboxClose(t *testing.T) {
	mb := NewMailbox(-1, nil)
	mb.attachTo(&Cell{name: "basic"}, nil)

	assert.True(t, mb.BecomeClosed())
	assert.False(t, mb.BecomeClosed())
	assert.True(t, mb.IsClosed())

	// closed is terminal, no suspend or resume applies.
	assert.False(t, mb.Suspend())
	assert.False(t, mb.Resume())

	err := mb.Enqueue(CreateEnvelope(nil, Header{}, "late"))
	assert.Error(t, err)
	assert.True(t, errors.IsAny(err, ErrMailboxClosed))

	// system messages are still accepted after close.
	assert.NoError(t, mb.SystemEnqueue(TerminateCell{}))
	assert.True(t, mb.HasSystemMessages())
}

func TestMailboxScheduledBit(t *testing.T) {
	mb := NewMailbox(-1, nil)

	assert.True(t, mb.setAsScheduled())
	assert.False(t, mb.setAsScheduled())
	assert.True(t, mb.IsScheduled())

	assert.True(t, mb.setAsIdle())
	assert.False(t, mb.setAsIdle())
	assert.False(t, mb.IsScheduled())

	// the scheduled bit composes with suspension without losing either.
	assert.True(t, mb.Suspend())
	assert.True(t, mb.setAsScheduled())
	assert.True(t, mb.IsSuspended())
	assert.True(t, mb.IsScheduled())
	assert.True(t, mb.setAsIdle())
	assert.Equal(t, int64(1), mb.SuspendCount())
}

func TestMailboxSchedulingHints(t *testing.T) {
	mb := NewMailbox(-1, nil)
	mb.attachTo(&Cell{name: "basic"}, nil)

	// open and empty: only a hint or a queued message warrants scheduling.
	assert.False(t, mb.canBeScheduledForExecution(false, false))
	assert.True(t, mb.canBeScheduledForExecution(true, false))
	assert.True(t, mb.canBeScheduledForExecution(false, true))

	assert.NoError(t, mb.Enqueue(CreateEnvelope(nil, Header{}, "pending")))
	assert.True(t, mb.canBeScheduledForExecution(false, false))

	// suspended: only system messages can make progress.
	mb.Suspend()
	assert.False(t, mb.canBeScheduledForExecution(true, false))
	assert.True(t, mb.canBeScheduledForExecution(false, true))
	mb.SystemEnqueue(ResumeCell{})
	assert.True(t, mb.canBeScheduledForExecution(false, false))
	mb.Resume()

	// closed: user messages no longer warrant scheduling, pending system
	// messages still do until the queue drains.
	mb.BecomeClosed()
	assert.True(t, mb.canBeScheduledForExecution(false, false))
	mb.systemDrain()
	assert.False(t, mb.canBeScheduledForExecution(true, false))
	assert.True(t, mb.canBeScheduledForExecution(false, true))
}

func TestMailboxClosedStillDrainsSystemMessages(t *testing.T) {
	mb := NewMailbox(-1, nil)
	mb.attachTo(&Cell{name: "basic"}, nil)

	assert.True(t, mb.BecomeClosed())
	assert.NoError(t, mb.SystemEnqueue(ChildTerminated{}))

	// a closed mailbox keeps scheduling while system messages are pending,
	// a terminating parent depends on it to learn its children stopped.
	assert.True(t, mb.canBeScheduledForExecution(false, true))
	assert.True(t, mb.setAsScheduled())
	assert.True(t, mb.IsScheduled())
	assert.True(t, mb.IsClosed())

	var drained []SystemMessage
	for n := mb.systemDrain(); n != nil; n = n.next {
		drained = append(drained, n.msg)
	}
	assert.Len(t, drained, 1)

	assert.True(t, mb.setAsIdle())
	assert.False(t, mb.canBeScheduledForExecution(false, false))
}

func TestMailboxCloseKeepsScheduledBit(t *testing.T) {
	mb := NewMailbox(-1, nil)

	assert.True(t, mb.setAsScheduled())
	assert.True(t, mb.BecomeClosed())

	// closing mid-run must not break the run's mutual exclusion.
	assert.True(t, mb.IsScheduled())
	assert.True(t, mb.IsClosed())
	assert.False(t, mb.setAsScheduled())

	assert.True(t, mb.setAsIdle())
	assert.False(t, mb.IsScheduled())
	assert.True(t, mb.IsClosed())
}

func TestMailboxBoundHoldsUnderContention(t *testing.T) {
	mb := NewMailbox(4, nil)
	mb.attachTo(&Cell{name: "basic"}, nil)

	var w sync.WaitGroup
	var accepted AtomicCounter
	for i := 0; i < 64; i++ {
		w.Add(1)
		go func() {
			defer w.Done()
			if mb.Enqueue(CreateEnvelope(nil, Header{}, "data")) == nil {
				accepted.Inc()
			}
		}()
	}
	w.Wait()

	assert.Equal(t, int64(4), accepted.Get())
	assert.Equal(t, 4, mb.TotalUserMessages())
}

func TestMailboxBoundedCapacity(t *testing.T) {
	mb := NewMailbox(2, nil)
	mb.attachTo(&Cell{name: "basic"}, nil)
	assert.Equal(t, 2, mb.Cap())

	assert.NoError(t, mb.Enqueue(CreateEnvelope(nil, Header{}, 1)))
	assert.NoError(t, mb.Enqueue(CreateEnvelope(nil, Header{}, 2)))

	err := mb.Enqueue(CreateEnvelope(nil, Header{}, 3))
	assert.Error(t, err)
	assert.True(t, errors.IsAny(err, ErrMailboxFull))
	assert.Equal(t, 2, mb.TotalUserMessages())

	// draining frees capacity again.
	_, popErr := mb.userq.pop()
	assert.NoError(t, popErr)
	assert.NoError(t, mb.Enqueue(CreateEnvelope(nil, Header{}, 3)))
}

func TestMailboxUserQueueOrdering(t *testing.T) {
	mb := NewMailbox(-1, nil)
	mb.attachTo(&Cell{name: "basic"}, nil)

	for i := 0; i < 10; i++ {
		assert.NoError(t, mb.Enqueue(CreateEnvelope(nil, Header{}, i)))
	}

	for i := 0; i < 10; i++ {
		env, err := mb.userq.pop()
		assert.NoError(t, err)
		assert.Equal(t, i, env.Data)
	}

	_, err := mb.userq.pop()
	assert.True(t, errors.IsAny(err, ErrMailboxEmpty))
}

func TestMailboxSystemDrainFIFO(t *testing.T) {
	mb := NewMailbox(-1, nil)
	mb.attachTo(&Cell{name: "basic"}, nil)

	mb.SystemEnqueue(SuspendCell{})
	mb.SystemEnqueue(ResumeCell{})
	mb.SystemEnqueue(TerminateCell{})

	var drained []SystemMessage
	for n := mb.systemDrain(); n != nil; n = n.next {
		drained = append(drained, n.msg)
	}

	// the push stack reverses into enqueue order on drain.
	assert.Len(t, drained, 3)
	assert.IsType(t, SuspendCell{}, drained[0])
	assert.IsType(t, ResumeCell{}, drained[1])
	assert.IsType(t, TerminateCell{}, drained[2])

	assert.Nil(t, mb.systemDrain())
	assert.False(t, mb.HasSystemMessages())
}

func TestMailboxConcurrentEnqueues(t *testing.T) {
	mb := NewMailbox(-1, nil)
	mb.attachTo(&Cell{name: "basic"}, nil)

	var w sync.WaitGroup
	for i := 0; i < 10; i++ {
		w.Add(2)
		go func() {
			defer w.Done()
			mb.SystemEnqueue(SuspendCell{})
		}()
		go func() {
			defer w.Done()
			mb.Enqueue(CreateEnvelope(nil, Header{}, "data"))
		}()
	}
	w.Wait()

	total := 0
	for {
		drained := mb.systemDrain()
		if drained == nil {
			break
		}
		for n := drained; n != nil; n = n.next {
			total++
		}
	}

	assert.Equal(t, 10, total)
	assert.Equal(t, 10, mb.TotalUserMessages())
}

type countingMailInvoker struct {
	full       AtomicCounter
	received   AtomicCounter
	dispatched AtomicCounter
	dropped    AtomicCounter
}

func (c *countingMailInvoker) InvokedFull(Envelope)       { c.full.Inc() }
func (c *countingMailInvoker) InvokedReceived(Envelope)   { c.received.Inc() }
func (c *countingMailInvoker) InvokedDispatched(Envelope) { c.dispatched.Inc() }
func (c *countingMailInvoker) InvokedDropped(Envelope)    { c.dropped.Inc() }

func TestMailboxInvokerSignals(t *testing.T) {
	var invoker countingMailInvoker
	mb := NewMailbox(1, &invoker)
	mb.attachTo(&Cell{name: "basic"}, nil)

	assert.NoError(t, mb.Enqueue(CreateEnvelope(nil, Header{}, 1)))
	assert.Error(t, mb.Enqueue(CreateEnvelope(nil, Header{}, 2)))

	assert.Equal(t, int64(1), invoker.received.Get())
	assert.Equal(t, int64(1), invoker.full.Get())
}
