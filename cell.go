package actorcell

import (
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/gokit/errors"
	"github.com/gokit/xid"
)

// errors returned by spawn operations.
var (
	// ErrInvalidSpawn is returned for spawn requests with missing name or factory.
	ErrInvalidSpawn = errors.New("spawn requires a name and a behaviour factory")

	// ErrBehaviourConstruction is returned when a behaviour factory fails.
	ErrBehaviourConstruction = errors.New("behaviour construction failed")
)

// cellUIDs produces the monotonically increasing instantiation ids which
// disambiguate cells occupying the same name across time.
var cellUIDs AtomicCounter

//***************************************************************************
// SpawnOption
//***************************************************************************

type spawnSettings struct {
	dispatcherID string
	strategy     SupervisorStrategy
	mailInvoker  MailInvoker
	msgInvoker   MessageInvoker
	capacity     int
	hasCapacity  bool
}

// SpawnOption configures a single spawn request.
type SpawnOption func(*spawnSettings)

// WithDispatcher places the spawned cell on the dispatcher with giving id.
func WithDispatcher(id string) SpawnOption {
	return func(s *spawnSettings) {
		s.dispatcherID = id
	}
}

// WithStrategy sets the supervisor strategy the spawned cell applies to
// failures of its own children.
func WithStrategy(strategy SupervisorStrategy) SpawnOption {
	return func(s *spawnSettings) {
		s.strategy = strategy
	}
}

// WithMailInvoker attaches a MailInvoker to the spawned cell's mailbox.
func WithMailInvoker(in MailInvoker) SpawnOption {
	return func(s *spawnSettings) {
		s.mailInvoker = in
	}
}

// WithMessageInvoker attaches a MessageInvoker to the spawned cell.
func WithMessageInvoker(in MessageInvoker) SpawnOption {
	return func(s *spawnSettings) {
		s.msgInvoker = in
	}
}

// WithMailboxCapacity bounds the spawned cell's user-message queue,
// overriding the dispatcher's configured capacity. Use -1 for unbounded.
func WithMailboxCapacity(capacity int) SpawnOption {
	return func(s *spawnSettings) {
		s.capacity = capacity
		s.hasCapacity = true
	}
}

//***************************************************************************
// Cell
//***************************************************************************

// Cell is the runtime identity of one live actor: it owns exactly one
// mailbox, one child registry, a parent reference and the behaviour
// instance user messages are applied to. All lifecycle operations are
// expressed as system-message sends against its mailbox.
type Cell struct {
	id   xid.ID
	name string
	path string
	uid  int64

	system     *System
	parent     *Cell
	dispatcher *Dispatcher
	strategy   SupervisorStrategy
	msgInvoker MessageInvoker

	factory     BehaviourFactory
	behaviour   Behaviour
	incarnation AtomicCounter

	mailbox  atomic.Pointer[Mailbox]
	children *ChildRegistry
	watchers *Watchers

	tl    sync.RWMutex
	temps map[string]*TempRef

	stopping SwitchImpl
	doneOnce sync.Once
	done     chan struct{}
}

func newCell(system *System, parent *Cell, name string, factory BehaviourFactory, opts ...SpawnOption) (*Cell, error) {
	var settings spawnSettings
	for _, opt := range opts {
		opt(&settings)
	}

	dispatcher := system.dispatchers.Get(settings.dispatcherID)

	capacity := dispatcher.MailboxCapacity()
	if settings.hasCapacity {
		capacity = settings.capacity
	}

	strategy := settings.strategy
	if strategy == nil {
		strategy = system.strategy
	}

	behaviour, err := constructBehaviour(factory)
	if err != nil {
		return nil, err
	}

	path := "/" + name
	if parent != nil {
		path = parent.path + "/" + name
	}

	c := &Cell{
		id:         xid.New(),
		name:       name,
		path:       path,
		uid:        cellUIDs.Inc(),
		system:     system,
		parent:     parent,
		dispatcher: dispatcher,
		strategy:   strategy,
		msgInvoker: settings.msgInvoker,
		factory:    factory,
		behaviour:  behaviour,
		children:   NewChildRegistry(),
		watchers:   NewWatchers(),
		temps:      map[string]*TempRef{},
		done:       make(chan struct{}),
	}

	mb := NewMailbox(capacity, settings.mailInvoker)
	mb.attachTo(c, dispatcher)
	c.mailbox.Store(mb)
	return c, nil
}

// constructBehaviour runs the factory, converting a construction panic
// into an error so reservations can be released by the spawn path.
func constructBehaviour(factory BehaviourFactory) (b Behaviour, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Wrap(ErrBehaviourConstruction, "factory panicked: %+v", r)
		}
	}()

	if b = factory(); b == nil {
		return nil, errors.Wrap(ErrBehaviourConstruction, "factory returned nil behaviour")
	}
	return b, nil
}

//***************************************************************************
// identity
//***************************************************************************

// ID returns the unique id string of this cell instance.
func (c *Cell) ID() string {
	return c.id.String()
}

// Name returns the name this cell occupies within its parent registry.
func (c *Cell) Name() string {
	return c.name
}

// Addr returns the stable path of this cell within its system tree.
func (c *Cell) Addr() string {
	return c.path
}

// UID returns the monotonically increasing instantiation id which
// disambiguates this cell from a predecessor that occupied the same name.
func (c *Cell) UID() int64 {
	return c.uid
}

// Incarnation returns how many restarts this cell's behaviour has seen.
func (c *Cell) Incarnation() int64 {
	return c.incarnation.Get()
}

// Parent returns the parent cell, nil for the system guardian.
func (c *Cell) Parent() *Cell {
	return c.parent
}

// Children returns the live children of this cell.
func (c *Cell) Children() []*Cell {
	return c.children.Children()
}

// Mailbox returns the cell's current mailbox.
func (c *Cell) Mailbox() *Mailbox {
	return c.mailboxLoad()
}

// Done returns a channel closed once the cell has fully terminated.
func (c *Cell) Done() <-chan struct{} {
	return c.done
}

// Stopped returns true once the cell has fully terminated.
func (c *Cell) Stopped() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Watch registers giving function to be informed of this cell's lifecycle
// transitions, returning a Subscription used to remove it.
func (c *Cell) Watch(fn func(interface{})) Subscription {
	return c.watchers.Add(fn)
}

func (c *Cell) mailboxLoad() *Mailbox {
	return c.mailbox.Load()
}

func (c *Cell) swapMailbox(mb *Mailbox) *Mailbox {
	return c.mailbox.Swap(mb)
}

//***************************************************************************
// sending
//***************************************************************************

// Send delivers a message to this cell's mailbox with provided header and
// sender. Messages refused by a closed or full mailbox are redirected to
// dead letters and the error returned.
func (c *Cell) Send(data interface{}, header Header, sender Ref) error {
	return c.Forward(CreateEnvelope(sender, header, data))
}

// Forward delivers giving envelope to this cell's mailbox.
func (c *Cell) Forward(env Envelope) error {
	mb := c.mailboxLoad()
	if err := mb.Enqueue(env); err != nil {
		c.system.publishDeadLetter(c.path, env, err.Error())
		return err
	}

	c.dispatcher.RegisterForExecution(mb, true, false)
	return nil
}

// sendSystem enqueues giving system message and asks the dispatcher to
// schedule the mailbox.
func (c *Cell) sendSystem(msg SystemMessage) {
	mb := c.mailboxLoad()
	if err := mb.SystemEnqueue(msg); err != nil {
		return
	}
	c.dispatcher.RegisterForExecution(mb, false, true)
}

//***************************************************************************
// lifecycle operations
//***************************************************************************

// Suspend pauses user-message processing of this cell.
func (c *Cell) Suspend() {
	c.sendSystem(SuspendCell{})
}

// Resume unpauses user-message processing of this cell.
func (c *Cell) Resume() {
	c.sendSystem(ResumeCell{})
}

// Restart discards the cell's behaviour instance and constructs a fresh
// one, retaining mailbox and identity.
func (c *Cell) Restart(cause interface{}) {
	c.sendSystem(SuspendCell{})
	c.sendSystem(RecreateCell{Cause: cause})
}

// Stop begins cooperative termination: a terminate message is enqueued
// and processed in order, in-flight user handling is never preempted.
func (c *Cell) Stop() {
	c.sendSystem(TerminateCell{})
}

//***************************************************************************
// spawning
//***************************************************************************

// Spawn creates a child cell under this cell with giving name and
// behaviour factory. The name is reserved ahead of construction so two
// concurrent spawns can never occupy the same name; the reservation is
// released when construction fails. The child's CreateCell message is
// enqueued before the mailbox is attached to its dispatcher, making it
// the first message the mailbox processes.
func (c *Cell) Spawn(name string, factory BehaviourFactory, opts ...SpawnOption) (*Cell, error) {
	if name == "" || factory == nil {
		return nil, errors.WrapOnly(ErrInvalidSpawn)
	}

	if err := c.children.Reserve(name); err != nil {
		return nil, err
	}

	child, err := newCell(c.system, c, name, factory, opts...)
	if err != nil {
		c.children.Unreserve(name)
		return nil, err
	}

	child.mailboxLoad().SystemEnqueue(CreateCell{})
	c.children.Initialize(child)
	child.dispatcher.Attach(child)

	// the registry may have begun terminating while this spawn was in
	// flight; such a child is stopped immediately instead of leaking.
	if c.children.State() != ContainerNormal {
		child.Stop()
		return nil, errors.WrapOnly(ErrRegistryTerminating)
	}
	return child, nil
}

// SpawnTemp registers an ephemeral function handler scoped to this cell,
// keyed by a generated name. Temp handlers are not cells: they own no
// mailbox or children and run on the sender's goroutine.
func (c *Cell) SpawnTemp(fn func(Ref, Envelope)) *TempRef {
	ref := &TempRef{
		id:   xid.New().String(),
		cell: c,
		fn:   fn,
	}

	c.tl.Lock()
	c.temps[ref.id] = ref
	c.tl.Unlock()
	return ref
}

func (c *Cell) removeTemp(id string) {
	c.tl.Lock()
	delete(c.temps, id)
	c.tl.Unlock()
}

func (c *Cell) clearTemps() {
	c.tl.Lock()
	c.temps = map[string]*TempRef{}
	c.tl.Unlock()
}

//***************************************************************************
// message invocation
//***************************************************************************

// invokeUserMessage applies one user envelope to the behaviour. A panic
// escaping the behaviour is caught at this boundary and surfaced as a
// failure notification to the parent, it never crashes the worker.
func (c *Cell) invokeUserMessage(env Envelope) {
	defer func() {
		if r := recover(); r != nil {
			c.handleInvokeFailure(r, env)
		}
	}()

	if c.msgInvoker != nil {
		c.msgInvoker.InvokedProcessing(env)
	}

	c.behaviour.Action(c, env)

	if c.msgInvoker != nil {
		c.msgInvoker.InvokedProcessed(env)
	}
}

// handleInvokeFailure suspends this cell and notifies the parent's
// supervisor of the failure. The guardian has no parent: its failures
// terminate it, stopping the whole system.
func (c *Cell) handleInvokeFailure(cause interface{}, env Envelope) {
	c.system.events.Publish(CellPanic{
		Addr:     c.path,
		UID:      c.uid,
		Cause:    cause,
		Stack:    debug.Stack(),
		Envelope: env,
	})

	c.mailboxLoad().Suspend()

	if c.parent == nil {
		c.system.logs.Emit(ERROR, LogMsg("guardian failure, stopping system").
			String("addr", c.path).
			ObjectJSON("cause", cause).Write())
		c.terminate()
		return
	}

	c.parent.sendSystem(FailedChild{Child: c, Cause: cause})
}

// invokeSystemMessage applies one system message. Failures here are fatal
// to the actor: lifecycle state may be corrupt, so the cell terminates
// unconditionally instead of consulting supervision.
func (c *Cell) invokeSystemMessage(msg SystemMessage) {
	defer func() {
		if r := recover(); r != nil {
			c.systemFailure(r, msg)
		}
	}()

	switch m := msg.(type) {
	case CreateCell:
		c.create()
	case SuspendCell:
		c.mailboxLoad().Suspend()
	case ResumeCell:
		if c.mailboxLoad().Resume() {
			c.dispatcher.RegisterForExecution(c.mailboxLoad(), false, false)
		}
	case RecreateCell:
		c.faultRecreate(m.Cause)
	case TerminateCell:
		c.terminate()
	case FailedChild:
		c.handleChildFailure(m)
	case ChildTerminated:
		c.handleChildTerminated(m)
	}
}

func (c *Cell) systemFailure(cause interface{}, msg SystemMessage) {
	c.system.logs.Emit(ERROR, LogMsg("system message handling failed, terminating").
		String("addr", c.path).
		Int64("uid", c.uid).
		ObjectJSON("message", msg).
		ObjectJSON("cause", cause).Write())
	c.terminate()
}

func (c *Cell) create() {
	if hook, ok := c.behaviour.(StartHook); ok {
		hook.PreStart(c)
	}

	c.system.events.Publish(CellStarted{Addr: c.path, UID: c.uid})
}

// faultRecreate discards the failed behaviour instance and constructs a
// fresh one in its place, retaining the same mailbox and identity. The
// incarnation counter disambiguates the new instance from the old.
func (c *Cell) faultRecreate(cause interface{}) {
	if c.stopping.IsOn() {
		return
	}

	if hook, ok := c.behaviour.(RestartHook); ok {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.system.logs.Emit(WARN, LogMsg("PreRestart hook panicked").
						String("addr", c.path).
						ObjectJSON("cause", r).Write())
				}
			}()
			hook.PreRestart(c, cause)
		}()
	}

	behaviour, err := constructBehaviour(c.factory)
	if err != nil {
		panic(err)
	}
	c.behaviour = behaviour

	c.system.events.Publish(CellRestarted{
		Addr:        c.path,
		UID:         c.uid,
		Incarnation: c.incarnation.Inc(),
		Cause:       cause,
	})

	if c.mailboxLoad().Resume() {
		c.dispatcher.RegisterForExecution(c.mailboxLoad(), false, false)
	}

	// children are recreated with their parent: a failure resolved at
	// this level must never leave a child suspended below it, as happens
	// when the failure escalated from a grandchild.
	for _, kid := range c.children.Children() {
		kid.sendSystem(RecreateCell{Cause: cause})
	}
}

//***************************************************************************
// supervision
//***************************************************************************

func (c *Cell) handleChildFailure(m FailedChild) {
	stats := c.children.Stats(m.Child)
	if stats == nil {
		c.system.logs.Emit(WARN, LogMsg("failure notification from unknown child").
			String("addr", c.path).
			String("child", m.Child.Addr()).Write())
		return
	}

	if c.strategy.HandleFailure(c, m.Cause, m.Child, stats, c.children.Children()) {
		return
	}

	// not handled: this cell itself fails with the same cause and the
	// question moves one level up the supervision tree.
	c.mailboxLoad().Suspend()

	if c.parent == nil {
		c.system.logs.Emit(ERROR, LogMsg("failure escalated past guardian, stopping system").
			String("addr", c.path).
			ObjectJSON("cause", m.Cause).Write())
		c.terminate()
		return
	}

	c.parent.sendSystem(FailedChild{Child: c, Cause: m.Cause})
}

func (c *Cell) handleChildTerminated(m ChildTerminated) {
	state, _, remaining := c.children.Remove(m.Child)
	if state == ContainerTerminating && remaining == 0 {
		c.finishTerminate()
	}
}

//***************************************************************************
// termination
//***************************************************************************

// terminate begins the termination sequence: the registry moves to
// Terminating, the mailbox closes against further user messages and every
// child is asked to stop. The sequence completes once the registry drains.
func (c *Cell) terminate() {
	if !c.stopping.On() {
		return
	}

	c.children.MarkTerminating("stopped")
	c.mailboxLoad().BecomeClosed()

	kids := c.children.Children()
	if len(kids) == 0 {
		c.finishTerminate()
		return
	}

	for _, kid := range kids {
		kid.sendSystem(TerminateCell{})
	}
}

func (c *Cell) finishTerminate() {
	reason := c.children.Reason()

	if hook, ok := c.behaviour.(StopHook); ok {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.system.logs.Emit(WARN, LogMsg("PostStop hook panicked").
						String("addr", c.path).
						ObjectJSON("cause", r).Write())
				}
			}()
			hook.PostStop(c)
		}()
	}

	c.children.MarkTerminated()
	c.dispatcher.Detach(c)

	stopped := CellStopped{Addr: c.path, UID: c.uid, Reason: reason}
	c.system.events.Publish(stopped)
	c.watchers.Inform(stopped)
	c.watchers.Clear()
	c.clearTemps()

	if c.parent != nil {
		c.parent.sendSystem(ChildTerminated{Child: c})
	}

	c.doneOnce.Do(func() {
		close(c.done)
	})
}

//***************************************************************************
// TempRef
//***************************************************************************

// TempRef is an ephemeral, closure-like recipient scoped to a cell. It
// implements Ref without owning a mailbox or children; its function runs
// directly on the sender's goroutine.
type TempRef struct {
	id   string
	cell *Cell
	fn   func(Ref, Envelope)
}

// ID returns the generated name of this handler.
func (t *TempRef) ID() string {
	return t.id
}

// Addr returns the handler path below its owning cell.
func (t *TempRef) Addr() string {
	return t.cell.Addr() + "/tmp/" + t.id
}

// Send delivers a message directly to the handler function.
func (t *TempRef) Send(data interface{}, header Header, sender Ref) error {
	return t.Forward(CreateEnvelope(sender, header, data))
}

// Forward delivers giving envelope directly to the handler function.
func (t *TempRef) Forward(env Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("temp handler %q panicked: %+v", t.id, r)
			t.cell.system.events.Publish(CellPanic{
				Addr:     t.Addr(),
				Cause:    r,
				Stack:    debug.Stack(),
				Envelope: env,
			})
		}
	}()

	t.fn(t, env)
	return nil
}

// Stop removes this handler from its owning cell.
func (t *TempRef) Stop() {
	t.cell.removeTemp(t.id)
}
