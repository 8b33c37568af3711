package actorcell

import (
	"time"

	"github.com/gokit/xid"
)

//***************************************************************************
// Header
//***************************************************************************

// Header defines a map type to hold meta information associated with a Envelope.
type Header map[string]string

// Get returns the associated value from the map within the map.
func (m Header) Get(n string) string {
	return m[n]
}

// Map returns a map with contents of header.
func (m Header) Map() map[string]string {
	mv := make(map[string]string, len(m))
	for k, v := range m {
		mv[k] = v
	}
	return mv
}

// Len returns the length of records within the meta.
func (m Header) Len() int {
	return len(m)
}

// Has returns true/false value if key is present.
func (m Header) Has(n string) bool {
	_, ok := m[n]
	return ok
}

//***************************************************************************
// Envelope
//***************************************************************************

// Envelope defines a message to be delivered to a giving
// target destination from another giving source with headers
// and data specific to giving message.
type Envelope struct {
	Header
	Sender Ref
	Ref    xid.ID
	Data   interface{}
}

// CreateEnvelope returns a new instance of an envelope with provided arguments.
func CreateEnvelope(sender Ref, header Header, data interface{}) Envelope {
	return Envelope{
		Data:   data,
		Ref:    xid.New(),
		Header: header,
		Sender: sender,
	}
}

//***********************************
//  Identity
//***********************************

// Identity provides a method to return the ID of an implementer.
type Identity interface {
	ID() string
}

//***********************************
//  Addressable
//***********************************

// Addressable defines an interface which exposes a method for retrieving
// associated address of implementer.
type Addressable interface {
	Addr() string
}

//***********************************
//  Sender
//***********************************

// Sender defines an interface that exposes methods
// for sending messages to an underline target.
type Sender interface {
	// Forward forwards giving envelope to the underline target.
	Forward(Envelope) error

	// Send will deliver a message to the underline target with
	// provided header and sender.
	Send(interface{}, Header, Ref) error
}

//***********************************
//  Ref
//***********************************

// Ref represents a reference handle by which a message recipient is
// communicated with. A Ref may point at a live Cell, at an ephemeral
// function handler scoped to a Cell, or at the dead-letter sink; senders
// never need to know which.
type Ref interface {
	Sender
	Identity
	Addressable
}

//***********************************
//  Behaviour
//***********************************

// Behaviour defines an interface that exposes a method
// which embodies the user supplied message handling logic
// of an actor. The execution core calls Action with the
// cell's own Ref and the received envelope and expects either
// a normal return or a panic which is treated as a failure
// for supervision. Message content is never interpreted by
// the core.
type Behaviour interface {
	Action(Ref, Envelope)
}

// BehaviourFunc defines a function type which implements the Behaviour interface.
type BehaviourFunc func(Ref, Envelope)

// Action implements the Behaviour interface.
func (b BehaviourFunc) Action(r Ref, env Envelope) {
	b(r, env)
}

// BehaviourFactory defines a function which constructs a fresh Behaviour
// instance. A cell retains its factory so a restart can discard the failed
// instance and construct a new one in its place.
type BehaviourFactory func() Behaviour

// FromFunc returns a BehaviourFactory which always produces the
// provided function as a Behaviour.
func FromFunc(fn BehaviourFunc) BehaviourFactory {
	return func() Behaviour {
		return fn
	}
}

//***********************************
//  Behaviour lifecycle hooks
//***********************************

// StartHook defines an optional interface a Behaviour may implement
// to be called before its first message.
type StartHook interface {
	PreStart(Ref)
}

// StopHook defines an optional interface a Behaviour may implement
// to be called after its cell has terminated.
type StopHook interface {
	PostStop(Ref)
}

// RestartHook defines an optional interface a Behaviour may implement
// to be called on the failed instance before it is discarded for a
// fresh instance during restart.
type RestartHook interface {
	PreRestart(Ref, interface{})
}

//***********************************
//  Subscription
//***********************************

// Subscription defines a method which exposes a single method
// to remove giving subscription.
type Subscription interface {
	Stop()
}

//***********************************
//  System messages
//***********************************

// SystemMessage identifies control-plane messages which always preempt
// queued user messages within a mailbox run.
type SystemMessage interface {
	sysMessage()
}

// CreateCell initializes a freshly spawned cell. It is guaranteed to be
// the first message any mailbox processes.
type CreateCell struct{}

// SuspendCell increments the suspension nesting of the target mailbox.
type SuspendCell struct{}

// ResumeCell decrements the suspension nesting of the target mailbox,
// re-registering the mailbox for execution on the 1 to 0 transition.
type ResumeCell struct{}

// RecreateCell discards the target cell's behaviour instance and
// constructs a fresh one in its place, retaining mailbox and identity.
type RecreateCell struct {
	Cause interface{}
}

// TerminateCell begins cooperative termination of the target cell.
type TerminateCell struct{}

// FailedChild notifies a parent cell that one of its children failed
// while processing a user message.
type FailedChild struct {
	Child *Cell
	Cause interface{}
}

// ChildTerminated notifies a parent cell that a child finished its
// termination sequence.
type ChildTerminated struct {
	Child *Cell
}

func (CreateCell) sysMessage()      {}
func (SuspendCell) sysMessage()     {}
func (ResumeCell) sysMessage()      {}
func (RecreateCell) sysMessage()    {}
func (TerminateCell) sysMessage()   {}
func (FailedChild) sysMessage()     {}
func (ChildTerminated) sysMessage() {}

//***********************************
//  Cell lifecycle events
//***********************************

// CellStarted is published when a cell has processed its CreateCell message.
type CellStarted struct {
	Addr string
	UID  int64
}

// CellRestarted is published after a cell swapped in a fresh behaviour
// instance due to a restart directive.
type CellRestarted struct {
	Addr        string
	UID         int64
	Incarnation int64
	Cause       interface{}
}

// CellStopped is published when a cell has completed its termination
// sequence, it is also delivered to registered watchers.
type CellStopped struct {
	Addr   string
	UID    int64
	Reason interface{}
}

// CellPanic is published when user message handling panics within a cell.
type CellPanic struct {
	Addr     string
	UID      int64
	Cause    interface{}
	Stack    []byte
	Envelope Envelope
}

// DeadLetter is published for every message redirected to the dead-letter
// sink, it is never silently dropped.
type DeadLetter struct {
	Addr     string
	Reason   string
	Time     time.Time
	Envelope Envelope
}

//***********************************
//  Invokers
//***********************************

// MailInvoker defines an interface that exposes methods
// to signal status of a mailbox.
type MailInvoker interface {
	InvokedFull(Envelope)
	InvokedReceived(Envelope)
	InvokedDispatched(Envelope)
	InvokedDropped(Envelope)
}

// MessageInvoker defines a interface that exposes
// methods to signal different processing states of a message
// for external systems to plugin.
type MessageInvoker interface {
	InvokedProcessing(Envelope)
	InvokedProcessed(Envelope)
}

// Stat holds the restart budget observed for a supervision decision.
type Stat struct {
	Max   int
	Count int
}

// SupervisionInvoker defines an interface which exposes methods invoked
// for every applied supervision directive, for external systems to plugin.
type SupervisionInvoker interface {
	InvokedResume(cause interface{}, target Ref)
	InvokedRestart(cause interface{}, stat Stat, target Ref)
	InvokedStop(cause interface{}, target Ref)
	InvokedEscalate(cause interface{}, target Ref)
}
