package actorcell

import (
	"time"

	"github.com/gokit/errors"
)

// ErrSystemStopped is returned when cells are requested from a system
// which has stopped.
var ErrSystemStopped = errors.New("system has stopped")

//***************************************************************************
// SystemOption
//***************************************************************************

type systemSettings struct {
	logs       Logs
	events     EventStream
	strategy   SupervisorStrategy
	defaults   DispatcherConfig
	configs    []DispatcherConfig
	invoker    SupervisionInvoker
	hasInvoker bool
}

// SystemOption configures a System at construction.
type SystemOption func(*systemSettings)

// WithLogs sets the log sink used by the system and its dispatchers.
func WithLogs(logs Logs) SystemOption {
	return func(s *systemSettings) {
		s.logs = logs
	}
}

// WithEventStream sets the event stream lifecycle and dead-letter events
// are published on.
func WithEventStream(events EventStream) SystemOption {
	return func(s *systemSettings) {
		s.events = events
	}
}

// WithDefaultStrategy sets the supervisor strategy applied by cells
// spawned without an explicit one.
func WithDefaultStrategy(strategy SupervisorStrategy) SystemOption {
	return func(s *systemSettings) {
		s.strategy = strategy
	}
}

// WithDispatcherDefaults sets the configuration used for dispatcher ids
// without a registered config.
func WithDispatcherDefaults(config DispatcherConfig) SystemOption {
	return func(s *systemSettings) {
		s.defaults = config
	}
}

// WithDispatcherConfig registers the giving config with the system's
// dispatcher table ahead of any spawn.
func WithDispatcherConfig(config DispatcherConfig) SystemOption {
	return func(s *systemSettings) {
		s.configs = append(s.configs, config)
	}
}

// WithSupervisionInvoker sets the invoker attached to the system's
// default supervisor strategy.
func WithSupervisionInvoker(invoker SupervisionInvoker) SystemOption {
	return func(s *systemSettings) {
		s.invoker = invoker
		s.hasInvoker = true
	}
}

//***************************************************************************
// System
//***************************************************************************

// System owns everything the cells of one actor tree share: the guardian
// root cell, the dispatcher table, the event stream and the dead-letter
// sink. Cells are spawned below the guardian and failures which escalate
// past it stop the whole system.
type System struct {
	name        string
	logs        Logs
	events      EventStream
	strategy    SupervisorStrategy
	dispatchers *Dispatchers

	guardian *Cell
	deadMail *Mailbox
	deadRef  *deadLetterRef
	stopped  SwitchImpl
}

// NewSystem returns a started System with giving name. The guardian cell
// materializes immediately so spawns can proceed without further setup.
func NewSystem(name string, opts ...SystemOption) (*System, error) {
	settings := systemSettings{
		logs:     &DrainLog{},
		defaults: DefaultDispatcherConfig(),
	}
	for _, opt := range opts {
		opt(&settings)
	}

	if settings.events == nil {
		settings.events = NewEventer()
	}

	if settings.strategy == nil {
		var invoker SupervisionInvoker
		if settings.hasInvoker {
			invoker = settings.invoker
		} else {
			invoker = &EventSupervisingInvoker{Event: settings.events}
		}

		settings.strategy = &OneForOneStrategy{
			MaxRetries: 5,
			Window:     5 * time.Second,
			Decider:    RestartDecider,
			Invoker:    invoker,
			Logs:       settings.logs,
		}
	}

	dispatchers, err := NewDispatchers(settings.defaults, settings.logs)
	if err != nil {
		return nil, err
	}
	for _, config := range settings.configs {
		if err := dispatchers.RegisterConfig(config); err != nil {
			dispatchers.ShutdownAll()
			return nil, err
		}
	}

	sys := &System{
		name:        name,
		logs:        settings.logs,
		events:      settings.events,
		strategy:    settings.strategy,
		dispatchers: dispatchers,
	}

	sys.deadMail = newDeadLetterMailbox(sys)
	sys.deadRef = &deadLetterRef{system: sys}

	guardian, err := newCell(sys, nil, name, FromFunc(guardianBehaviour(sys)))
	if err != nil {
		dispatchers.ShutdownAll()
		return nil, errors.Wrap(err, "creating guardian for system %q", name)
	}

	sys.guardian = guardian
	guardian.mailboxLoad().SystemEnqueue(CreateCell{})
	guardian.dispatcher.Attach(guardian)
	return sys, nil
}

// guardianBehaviour drops user messages into dead letters: the guardian
// exists to anchor supervision, not to process application traffic.
func guardianBehaviour(sys *System) func(Ref, Envelope) {
	return func(_ Ref, env Envelope) {
		sys.publishDeadLetter("/"+sys.name, env, "guardian does not process user messages")
	}
}

// Name returns the system name.
func (sys *System) Name() string {
	return sys.name
}

// Guardian returns the root cell of the system tree.
func (sys *System) Guardian() *Cell {
	return sys.guardian
}

// Events returns the system event stream.
func (sys *System) Events() EventStream {
	return sys.events
}

// Logs returns the system log sink.
func (sys *System) Logs() Logs {
	return sys.logs
}

// Dispatchers returns the system dispatcher table.
func (sys *System) Dispatchers() *Dispatchers {
	return sys.dispatchers
}

// DeadLetters returns a Ref whose deliveries all go to dead letters.
func (sys *System) DeadLetters() Ref {
	return sys.deadRef
}

// Spawn creates a top-level cell directly below the guardian.
func (sys *System) Spawn(name string, factory BehaviourFactory, opts ...SpawnOption) (*Cell, error) {
	if sys.stopped.IsOn() {
		return nil, errors.WrapOnly(ErrSystemStopped)
	}
	return sys.guardian.Spawn(name, factory, opts...)
}

// Stop begins termination of the whole tree, guardian last, and blocks
// until the guardian has fully stopped or the giving timeout elapses.
func (sys *System) Stop(timeout time.Duration) error {
	if sys.stopped.On() {
		sys.guardian.Stop()
	}

	if timeout <= 0 {
		<-sys.guardian.Done()
		sys.dispatchers.ShutdownAll()
		return nil
	}

	select {
	case <-sys.guardian.Done():
		sys.dispatchers.ShutdownAll()
		return nil
	case <-time.After(timeout):
		return errors.New("system %q stop timed out after %s", sys.name, timeout)
	}
}

// Done returns a channel closed once the guardian has fully terminated.
func (sys *System) Done() <-chan struct{} {
	return sys.guardian.Done()
}

// publishDeadLetter records one undeliverable envelope on the event
// stream. Dead letters are observable facts, never errors: the sender
// already received any error it is owed.
func (sys *System) publishDeadLetter(addr string, env Envelope, reason string) {
	sys.events.Publish(DeadLetter{
		Addr:     addr,
		Reason:   reason,
		Time:     time.Now(),
		Envelope: env,
	})

	sys.logs.Emit(DEBUG, LogMsg("dead letter").
		String("addr", addr).
		String("reason", reason).Write())
}

// deadLetterMailbox returns the shared, permanently closed mailbox that
// detached cells swap in so late sends have a live target.
func (sys *System) deadLetterMailbox() *Mailbox {
	return sys.deadMail
}
