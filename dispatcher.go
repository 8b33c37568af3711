package actorcell

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gokit/errors"
)

// ErrExecutorShutdown is returned when tasks are submitted to an executor
// which has shut down.
var ErrExecutorShutdown = errors.New("executor has shut down")

//***************************************************************************
// ExecutorService
//***************************************************************************

// ExecutorService runs mailbox tasks on behalf of a dispatcher. Execute
// never blocks the caller.
type ExecutorService interface {
	Execute(func()) error
	Shutdown()
}

//***************************************************************************
// goExecutor
//***************************************************************************

// goExecutor runs each task on a fresh goroutine.
type goExecutor struct {
	closed AtomicBool
}

func newGoExecutor() *goExecutor {
	return &goExecutor{}
}

// Execute implements the ExecutorService interface.
func (g *goExecutor) Execute(fn func()) error {
	if g.closed.IsTrue() {
		return errors.WrapOnly(ErrExecutorShutdown)
	}
	go fn()
	return nil
}

// Shutdown implements the ExecutorService interface.
func (g *goExecutor) Shutdown() {
	g.closed.On()
}

//***************************************************************************
// poolExecutor
//***************************************************************************

// poolExecutor runs tasks on a fixed set of worker goroutines shared by
// all mailboxes of a dispatcher. Submission never blocks: when every
// worker is busy the task overflows onto a fresh goroutine, keeping the
// no-blocking guarantee ahead of worker reuse.
type poolExecutor struct {
	tasks  chan func()
	stop   chan struct{}
	closed AtomicBool
	once   sync.Once
	wg     sync.WaitGroup
}

func newPoolExecutor(size int) *poolExecutor {
	pe := &poolExecutor{
		tasks: make(chan func(), size*2),
		stop:  make(chan struct{}),
	}

	pe.wg.Add(size)
	for i := 0; i < size; i++ {
		go pe.work()
	}
	return pe
}

func (pe *poolExecutor) work() {
	defer pe.wg.Done()
	for {
		select {
		case <-pe.stop:
			return
		case fn := <-pe.tasks:
			fn()
		}
	}
}

// Execute implements the ExecutorService interface.
func (pe *poolExecutor) Execute(fn func()) error {
	if pe.closed.IsTrue() {
		return errors.WrapOnly(ErrExecutorShutdown)
	}

	select {
	case pe.tasks <- fn:
	default:
		go fn()
	}
	return nil
}

// Shutdown implements the ExecutorService interface.
func (pe *poolExecutor) Shutdown() {
	pe.once.Do(func() {
		pe.closed.On()
		close(pe.stop)
	})
}

//***************************************************************************
// Dispatcher
//***************************************************************************

// idle-shutdown handshake states.
const (
	shutdownUnscheduled int32 = iota
	shutdownScheduled
	shutdownRescheduled
)

// Dispatcher multiplexes the mailboxes of its attached cells onto a
// shared executor. It tracks attached cells through the inhabitant
// counter and shuts its executor down through a coalescing three-state
// handshake once the last cell detaches.
type Dispatcher struct {
	id     string
	config DispatcherConfig
	logs   Logs

	inhabitants      AtomicCounter
	shutdownSchedule int32

	mu   sync.Mutex
	exec ExecutorService
}

// NewDispatcher returns a new Dispatcher from the giving validated config.
func NewDispatcher(config DispatcherConfig, logs Logs) (*Dispatcher, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "dispatcher %q", config.ID)
	}
	if logs == nil {
		logs = &DrainLog{}
	}
	return &Dispatcher{id: config.ID, config: config, logs: logs}, nil
}

// ID returns the dispatcher id.
func (d *Dispatcher) ID() string {
	return d.id
}

// Throughput returns the maximum user messages processed per mailbox run.
func (d *Dispatcher) Throughput() int {
	return d.config.Throughput
}

// ThroughputDeadline returns the optional per-run time deadline, zero
// when disabled.
func (d *Dispatcher) ThroughputDeadline() time.Duration {
	return d.config.ThroughputDeadline
}

// MailboxCapacity returns the configured user-message capacity for
// mailboxes of attached cells, -1 when unbounded.
func (d *Dispatcher) MailboxCapacity() int {
	return d.config.MailboxCapacity
}

// Inhabitants returns the current count of attached cells.
func (d *Dispatcher) Inhabitants() int64 {
	return d.inhabitants.Get()
}

// Attach registers the giving cell and schedules its mailbox for a first
// execution.
func (d *Dispatcher) Attach(c *Cell) {
	d.addInhabitants(1)
	d.RegisterForExecution(c.mailboxLoad(), false, true)
}

// Detach swaps the cell's mailbox for the permanently closed dead-letter
// mailbox, cleans the old mailbox up into dead letters and decrements the
// inhabitant counter.
func (d *Dispatcher) Detach(c *Cell) {
	mb := c.swapMailbox(c.system.deadLetterMailbox())
	mb.BecomeClosed()
	mb.cleanUp()
	d.addInhabitants(-1)
}

// addInhabitants moves the inhabitant counter. A negative count is a bug
// in attach/detach accounting and aborts the dispatcher rather than being
// clamped.
func (d *Dispatcher) addInhabitants(delta int64) {
	n := d.inhabitants.Add(delta)
	if n < 0 {
		msg := fmt.Sprintf("dispatcher %q inhabitants went negative (%d)", d.id, n)
		d.logs.Emit(PANIC, Message(msg))
		panic(msg)
	}

	if n == 0 {
		d.ifSensibleToDoSoThenScheduleShutdown()
	}
}

// ifSensibleToDoSoThenScheduleShutdown arms the idle-shutdown timer when
// the dispatcher has no inhabitants. Rapid attach/detach cycles coalesce
// into the RESCHEDULED state instead of arming fresh timers.
func (d *Dispatcher) ifSensibleToDoSoThenScheduleShutdown() {
	for {
		if d.inhabitants.Get() != 0 {
			return
		}

		switch atomic.LoadInt32(&d.shutdownSchedule) {
		case shutdownUnscheduled:
			if atomic.CompareAndSwapInt32(&d.shutdownSchedule, shutdownUnscheduled, shutdownScheduled) {
				d.scheduleShutdownAction()
				return
			}
		case shutdownScheduled:
			if atomic.CompareAndSwapInt32(&d.shutdownSchedule, shutdownScheduled, shutdownRescheduled) {
				return
			}
		default:
			return
		}
	}
}

func (d *Dispatcher) scheduleShutdownAction() {
	time.AfterFunc(d.config.ShutdownTimeout, d.shutdownAction)
}

// shutdownAction is the timer task of the idle-shutdown handshake: a
// SCHEDULED timer shuts the executor down only when the dispatcher is
// still empty, a RESCHEDULED timer re-arms once instead of shutting down.
func (d *Dispatcher) shutdownAction() {
	switch atomic.LoadInt32(&d.shutdownSchedule) {
	case shutdownScheduled:
		if d.inhabitants.Get() == 0 {
			d.shutdownExecutor()
		}
		atomic.CompareAndSwapInt32(&d.shutdownSchedule, shutdownScheduled, shutdownUnscheduled)
	case shutdownRescheduled:
		if atomic.CompareAndSwapInt32(&d.shutdownSchedule, shutdownRescheduled, shutdownScheduled) {
			d.scheduleShutdownAction()
		}
	}
}

// RegisterForExecution submits the mailbox to the executor if it wins the
// not-scheduled to scheduled transition, reporting whether scheduling
// actually occurred so callers avoid redundant submissions.
func (d *Dispatcher) RegisterForExecution(mb *Mailbox, hasMessageHint, hasSystemMessageHint bool) bool {
	if !mb.canBeScheduledForExecution(hasMessageHint, hasSystemMessageHint) {
		return false
	}
	if !mb.setAsScheduled() {
		return false
	}

	if err := d.executor().Execute(mb.run); err != nil {
		// executor raced into shutdown between lookup and submission,
		// recreate it once and resubmit.
		d.mu.Lock()
		d.exec = nil
		d.mu.Unlock()

		if err = d.executor().Execute(mb.run); err != nil {
			d.logs.Emit(ERROR, LogMsg("mailbox submission failed").
				String("dispatcher", d.id).
				String("error", err.Error()).Write())
			mb.setAsIdle()
			return false
		}
	}
	return true
}

// executor returns the current executor service, lazily recreating it
// after an idle shutdown.
func (d *Dispatcher) executor() ExecutorService {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.exec == nil {
		d.exec = newExecutor(d.config)
	}
	return d.exec
}

func (d *Dispatcher) shutdownExecutor() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.exec != nil {
		d.exec.Shutdown()
		d.exec = nil
	}
}

// Shutdown immediately shuts the underlying executor down, used when the
// owning system stops.
func (d *Dispatcher) Shutdown() {
	d.shutdownExecutor()
}

func newExecutor(config DispatcherConfig) ExecutorService {
	switch config.Executor {
	case ExecutorGoroutine:
		return newGoExecutor()
	default:
		return newPoolExecutor(config.PoolSize)
	}
}

//***************************************************************************
// Dispatchers
//***************************************************************************

// Dispatchers is the process-wide dispatcher table of one system, keyed
// by id with lazy at-most-once creation per id. It is created at system
// start and torn down at system stop.
type Dispatchers struct {
	mu       sync.Mutex
	logs     Logs
	defaults DispatcherConfig
	configs  map[string]DispatcherConfig
	entries  map[string]*Dispatcher
}

// NewDispatchers returns a new dispatcher table using the giving defaults
// for unregistered ids.
func NewDispatchers(defaults DispatcherConfig, logs Logs) (*Dispatchers, error) {
	if err := defaults.Validate(); err != nil {
		return nil, errors.Wrap(err, "default dispatcher config")
	}
	if logs == nil {
		logs = &DrainLog{}
	}
	return &Dispatchers{
		logs:     logs,
		defaults: defaults,
		configs:  map[string]DispatcherConfig{},
		entries:  map[string]*Dispatcher{},
	}, nil
}

// RegisterConfig records the giving config for its id, failing once a
// dispatcher for that id has already materialized.
func (ds *Dispatchers) RegisterConfig(config DispatcherConfig) error {
	if err := config.Validate(); err != nil {
		return err
	}

	ds.mu.Lock()
	defer ds.mu.Unlock()
	if _, ok := ds.entries[config.ID]; ok {
		return errors.New("dispatcher %q already created", config.ID)
	}
	ds.configs[config.ID] = config
	return nil
}

// Get returns the dispatcher for the giving id, creating it at most once
// from its registered config or the defaults. An empty id resolves to the
// default dispatcher.
func (ds *Dispatchers) Get(id string) *Dispatcher {
	if id == "" {
		id = DefaultDispatcherID
	}

	ds.mu.Lock()
	defer ds.mu.Unlock()

	if d, ok := ds.entries[id]; ok {
		return d
	}

	config, ok := ds.configs[id]
	if !ok {
		config = ds.defaults
		config.ID = id
	}

	d, err := NewDispatcher(config, ds.logs)
	if err != nil {
		// configs are validated on registration, defaults at table
		// construction; reaching this is an invariant violation.
		panic(err)
	}

	ds.entries[id] = d
	return d
}

// ShutdownAll shuts every materialized dispatcher down.
func (ds *Dispatchers) ShutdownAll() {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	for _, d := range ds.entries {
		d.Shutdown()
	}
	ds.entries = map[string]*Dispatcher{}
}
