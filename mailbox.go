package actorcell

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gokit/errors"
)

// errors returned by mailbox operations.
var (
	// ErrMailboxFull is returned when a bounded mailbox has reached capacity.
	ErrMailboxFull = errors.New("mailbox has reached capacity")

	// ErrMailboxClosed is returned when user messages are offered to a
	// closed mailbox.
	ErrMailboxClosed = errors.New("mailbox is closed")

	// ErrMailboxEmpty is returned when the mailbox holds no pending envelopes.
	ErrMailboxEmpty = errors.New("mailbox is empty")
)

// mailbox status word layout. The two low bits hold the closed value and
// the scheduled bit, everything above counts suspension nesting. The whole
// word is only ever moved by compare-and-swap.
const (
	mailboxOpen      int64 = 0
	mailboxClosed    int64 = 1
	mailboxScheduled int64 = 2

	shouldNotProcessMask int64 = ^mailboxScheduled
	suspendUnit          int64 = 4
)

//***************************************************************************
// system queue
//***************************************************************************

// sysNode forms a lock-free linked stack of pending system messages. The
// stack is pushed by CAS on the head from arbitrary goroutines and
// reversed into FIFO order when drained by the single active run.
type sysNode struct {
	msg  SystemMessage
	next *sysNode
}

//***************************************************************************
// user queue
//***************************************************************************

var nodePool = sync.Pool{New: func() interface{} {
	return new(userNode)
}}

type userNode struct {
	env  Envelope
	next *userNode
}

// userQueue is a linked-list queue for user envelopes with an optional
// bound. A capacity of -1 means unbounded.
type userQueue struct {
	mu     sync.Mutex
	head   *userNode
	tail   *userNode
	total  int64
	capped int
}

func (uq *userQueue) push(env Envelope) error {
	// reserve the slot before linking, the add-then-check keeps the bound
	// exact under concurrent pushes where a plain load-then-add would not.
	if total := atomic.AddInt64(&uq.total, 1); uq.capped != -1 && total > int64(uq.capped) {
		atomic.AddInt64(&uq.total, -1)
		return errors.WrapOnly(ErrMailboxFull)
	}

	n := nodePool.Get().(*userNode)
	n.env = env

	uq.mu.Lock()
	if uq.tail == nil {
		uq.head, uq.tail = n, n
		uq.mu.Unlock()
		return nil
	}

	uq.tail.next = n
	uq.tail = n
	uq.mu.Unlock()
	return nil
}

func (uq *userQueue) pop() (Envelope, error) {
	uq.mu.Lock()
	head := uq.head
	if head == nil {
		uq.mu.Unlock()
		return Envelope{}, errors.WrapOnly(ErrMailboxEmpty)
	}

	atomic.AddInt64(&uq.total, -1)
	uq.head = head.next
	if uq.tail == head {
		uq.tail = uq.head
	}
	uq.mu.Unlock()

	env := head.env
	head.next = nil
	head.env = Envelope{}
	nodePool.Put(head)
	return env, nil
}

func (uq *userQueue) count() int {
	return int(atomic.LoadInt64(&uq.total))
}

//***************************************************************************
// Mailbox
//***************************************************************************

// Mailbox pairs the system and user message queues of a single cell with
// the status word which encodes open, suspended and closed alongside the
// scheduled-for-execution bit. Mutual exclusion of runs is enforced purely
// by the scheduled bit, never by a held lock: concurrent enqueues always
// interleave safely with an in-progress run.
type Mailbox struct {
	status  int64
	sysHead atomic.Pointer[sysNode]
	userq   userQueue

	// discarded marks a mailbox whose post-close cleanup completed. Any
	// later message goes straight to dead letters, nothing drops silently.
	discarded AtomicBool

	cell       *Cell
	dispatcher *Dispatcher
	invoker    MailInvoker

	// sink receives redirected messages when the mailbox has no owning
	// cell, as with the shared dead-letter mailbox.
	sink func(addr string, env Envelope, reason string)
	addr string
}

// NewMailbox returns a new Mailbox with the giving user-message capacity,
// a capacity of -1 creates an unbounded mailbox.
func NewMailbox(capacity int, invoker MailInvoker) *Mailbox {
	mb := &Mailbox{invoker: invoker}
	mb.userq.capped = capacity
	return mb
}

// attachTo wires the mailbox to its owning cell and scheduling dispatcher.
func (mb *Mailbox) attachTo(c *Cell, d *Dispatcher) {
	mb.cell = c
	mb.dispatcher = d
}

//***************************************************************************
// status word transitions
//***************************************************************************

func (mb *Mailbox) currentStatus() int64 {
	return atomic.LoadInt64(&mb.status)
}

// IsClosed returns true once the mailbox has permanently closed.
func (mb *Mailbox) IsClosed() bool {
	return mb.currentStatus()&mailboxClosed != 0
}

// IsSuspended returns true while the suspension nesting count is nonzero.
func (mb *Mailbox) IsSuspended() bool {
	return mb.currentStatus()/suspendUnit > 0
}

// IsScheduled returns true while a run of this mailbox is submitted or active.
func (mb *Mailbox) IsScheduled() bool {
	return mb.currentStatus()&mailboxScheduled != 0
}

// SuspendCount returns the current suspension nesting count.
func (mb *Mailbox) SuspendCount() int64 {
	return mb.currentStatus() / suspendUnit
}

func (mb *Mailbox) shouldProcessMessage() bool {
	return mb.currentStatus()&shouldNotProcessMask == 0
}

// Suspend increments the suspension nesting count so paired suspend and
// resume calls compose correctly under concurrent failures. It reports
// false when the mailbox has closed.
func (mb *Mailbox) Suspend() bool {
	for {
		s := mb.currentStatus()
		if s&mailboxClosed != 0 {
			return false
		}
		if atomic.CompareAndSwapInt64(&mb.status, s, s+suspendUnit) {
			return true
		}
	}
}

// Resume decrements the suspension nesting count, reporting true only on
// the one-to-zero transition after which the caller must re-register the
// mailbox for execution.
func (mb *Mailbox) Resume() bool {
	for {
		s := mb.currentStatus()
		if s&mailboxClosed != 0 {
			return false
		}

		next := s
		if s >= suspendUnit {
			next = s - suspendUnit
		}
		if atomic.CompareAndSwapInt64(&mb.status, s, next) {
			return s >= suspendUnit && next < suspendUnit
		}
	}
}

// BecomeClosed permanently closes the mailbox, it reports whether this
// call performed the transition. The scheduled bit is preserved so an
// in-progress run keeps its mutual exclusion; suspension nesting is
// dropped, closed is stronger.
func (mb *Mailbox) BecomeClosed() bool {
	for {
		s := mb.currentStatus()
		if s&mailboxClosed != 0 {
			return false
		}
		if atomic.CompareAndSwapInt64(&mb.status, s, (s&mailboxScheduled)|mailboxClosed) {
			return true
		}
	}
}

// setAsScheduled attempts the not-scheduled to scheduled transition,
// reporting whether this call won it. Closed and suspended mailboxes
// remain schedulable, their runs drain system messages only.
func (mb *Mailbox) setAsScheduled() bool {
	for {
		s := mb.currentStatus()
		if s&mailboxScheduled != 0 {
			return false
		}
		if atomic.CompareAndSwapInt64(&mb.status, s, s|mailboxScheduled) {
			return true
		}
	}
}

// setAsIdle clears the scheduled bit.
func (mb *Mailbox) setAsIdle() bool {
	for {
		s := mb.currentStatus()
		if s&mailboxScheduled == 0 {
			return false
		}
		if atomic.CompareAndSwapInt64(&mb.status, s, s&^mailboxScheduled) {
			return true
		}
	}
}

// canBeScheduledForExecution reports whether submitting this mailbox for
// execution can make progress given the hints and current status. A
// closed mailbox stays schedulable while system messages are pending:
// a terminating parent must still process the ChildTerminated messages
// its children send after the close.
func (mb *Mailbox) canBeScheduledForExecution(hasMessageHint, hasSystemMessageHint bool) bool {
	s := mb.currentStatus()
	switch {
	case mb.discarded.IsTrue():
		return false
	case s&mailboxClosed != 0:
		return hasSystemMessageHint || mb.HasSystemMessages()
	case s == mailboxOpen || s == mailboxScheduled:
		return hasMessageHint || hasSystemMessageHint || mb.HasUserMessages() || mb.HasSystemMessages()
	default:
		return hasSystemMessageHint || mb.HasSystemMessages()
	}
}

//***************************************************************************
// enqueue / dequeue
//***************************************************************************

// SystemEnqueue appends the giving system message. System messages are
// accepted even when the mailbox is closed so termination messages are
// never lost; only a fully discarded mailbox redirects to dead letters.
func (mb *Mailbox) SystemEnqueue(msg SystemMessage) error {
	if mb.cell == nil || mb.discarded.IsTrue() {
		mb.redirectSystem(msg)
		return nil
	}

	for {
		head := mb.sysHead.Load()
		n := &sysNode{msg: msg, next: head}
		if mb.sysHead.CompareAndSwap(head, n) {
			return nil
		}
	}
}

// Enqueue appends the giving user envelope. It fails once the mailbox is
// closed or a bounded capacity is exceeded, in which case the caller must
// redirect the envelope to dead letters.
func (mb *Mailbox) Enqueue(env Envelope) error {
	if mb.cell == nil || mb.discarded.IsTrue() {
		mb.redirectUser(env, "mailbox discarded")
		return nil
	}

	if mb.IsClosed() {
		return errors.WrapOnly(ErrMailboxClosed)
	}

	if err := mb.userq.push(env); err != nil {
		if mb.invoker != nil {
			mb.invoker.InvokedFull(env)
		}
		return err
	}

	if mb.invoker != nil {
		mb.invoker.InvokedReceived(env)
	}
	return nil
}

// HasSystemMessages returns true while system messages are pending.
func (mb *Mailbox) HasSystemMessages() bool {
	return mb.sysHead.Load() != nil
}

// HasUserMessages returns true while user envelopes are pending.
func (mb *Mailbox) HasUserMessages() bool {
	return mb.userq.count() > 0
}

// TotalUserMessages returns the count of pending user envelopes.
func (mb *Mailbox) TotalUserMessages() int {
	return mb.userq.count()
}

// Cap returns the user-message capacity, -1 when unbounded.
func (mb *Mailbox) Cap() int {
	return mb.userq.capped
}

// systemDrain atomically takes the whole pending system stack and returns
// it reversed into FIFO order.
func (mb *Mailbox) systemDrain() *sysNode {
	for {
		head := mb.sysHead.Load()
		if head == nil {
			return nil
		}
		if !mb.sysHead.CompareAndSwap(head, nil) {
			continue
		}

		var fifo *sysNode
		for head != nil {
			next := head.next
			head.next = fifo
			fifo = head
			head = next
		}
		return fifo
	}
}

//***************************************************************************
// execution
//***************************************************************************

// run is the discrete task submitted to a dispatcher worker. It drains all
// pending system messages in FIFO order first, then processes up to the
// dispatcher's throughput quota of user messages honoring the optional
// deadline, and finally re-registers itself when messages remain.
func (mb *Mailbox) run() {
	defer func() {
		mb.setAsIdle()
		mb.dispatcher.RegisterForExecution(mb, false, false)
	}()

	mb.processAllSystemMessages()

	if mb.cell == nil || !mb.shouldProcessMessage() {
		return
	}

	throughput := mb.dispatcher.Throughput()
	deadline := mb.dispatcher.ThroughputDeadline()

	var start time.Time
	if deadline > 0 {
		start = time.Now()
	}

	for i := 0; i < throughput; i++ {
		mb.processAllSystemMessages()
		if !mb.shouldProcessMessage() {
			return
		}

		env, err := mb.userq.pop()
		if err != nil {
			return
		}

		if mb.invoker != nil {
			mb.invoker.InvokedDispatched(env)
		}
		mb.cell.invokeUserMessage(env)

		if deadline > 0 && time.Since(start) >= deadline {
			return
		}
	}
}

// processAllSystemMessages applies every queued system message in FIFO
// order, repeating until no more arrive during processing. Messages which
// surface after the cell discarded its mailbox are redirected to dead
// letters instead of being applied.
func (mb *Mailbox) processAllSystemMessages() {
	for {
		drained := mb.systemDrain()
		if drained == nil {
			return
		}

		for n := drained; n != nil; n = n.next {
			if mb.cell == nil || mb.discarded.IsTrue() {
				mb.redirectSystem(n.msg)
				continue
			}
			mb.cell.invokeSystemMessage(n.msg)
		}
	}
}

// cleanUp drains the system queue one final time and redirects every
// remaining message to dead letters. It runs once after the mailbox has
// been swapped out by Dispatcher.Detach.
func (mb *Mailbox) cleanUp() {
	mb.discarded.On()

	for n := mb.systemDrain(); n != nil; n = n.next {
		mb.redirectSystem(n.msg)
	}

	for {
		env, err := mb.userq.pop()
		if err != nil {
			return
		}
		mb.redirectUser(env, "mailbox cleaned up")
	}
}

func (mb *Mailbox) redirectUser(env Envelope, reason string) {
	if mb.invoker != nil {
		mb.invoker.InvokedDropped(env)
	}

	switch {
	case mb.cell != nil:
		mb.cell.system.publishDeadLetter(mb.cell.Addr(), env, reason)
	case mb.sink != nil:
		mb.sink(mb.addr, env, reason)
	}
}

func (mb *Mailbox) redirectSystem(msg SystemMessage) {
	env := Envelope{Data: msg}
	switch {
	case mb.cell != nil:
		mb.cell.system.publishDeadLetter(mb.cell.Addr(), env, "system message after cleanup")
	case mb.sink != nil:
		mb.sink(mb.addr, env, "system message after cleanup")
	}
}
