package actorcell

import (
	"time"

	"github.com/gokit/es"
)

//***********************************
//  EventStream
//***********************************

// Handler defines a function type for the reception of published events.
type Handler func(interface{})

// Predicate defines a function type for filtering published events.
type Predicate func(interface{}) bool

// EventStream defines an interface for the publish and subscription
// of events within a system.
type EventStream interface {
	Publish(interface{})
	Subscribe(Handler, Predicate) Subscription
}

//***********************************
//  Eventer
//***********************************

// Eventer implements the EventStream interface by decorating
// the gokit es event implementation.
type Eventer struct {
	es es.EventStream
}

// NewEventer returns a instance of a Eventer.
func NewEventer() *Eventer {
	return &Eventer{es: es.New()}
}

// EventerWith returns a instance of a Eventer using provided es.EventStream.
func EventerWith(em es.EventStream) *Eventer {
	return &Eventer{es: em}
}

// Publish publishes a giving message.
func (e Eventer) Publish(m interface{}) {
	e.es.Publish(m)
}

// Subscribe adds a giving subscription using the provided handler and predicate.
func (e Eventer) Subscribe(handler Handler, predicate Predicate) Subscription {
	return e.es.Subscribe(func(m interface{}) {
		handler(m)
	}).WithPredicate(func(m interface{}) bool {
		if predicate == nil {
			return true
		}
		return predicate(m)
	})
}

//***********************************
//  Supervisor Events
//***********************************

// SupervisorEvent defines an event type which is published by the
// EventSupervisingInvoker for every applied supervision directive.
type SupervisorEvent struct {
	Stat      Stat
	Target    string
	Time      time.Time
	Directive Directive
	Cause     interface{}
}

//****************************************
// EventSupervisingInvoker
//****************************************

// EventSupervisingInvoker implements the SupervisionInvoker interface and
// simply publishes events for all invocation received.
type EventSupervisingInvoker struct {
	Event EventStream
}

// InvokedResume emits event containing resume details.
func (es *EventSupervisingInvoker) InvokedResume(cause interface{}, target Ref) {
	es.Event.Publish(SupervisorEvent{
		Cause:     cause,
		Time:      time.Now(),
		Target:    target.Addr(),
		Directive: ResumeDirective,
	})
}

// InvokedRestart emits event containing restart details.
func (es *EventSupervisingInvoker) InvokedRestart(cause interface{}, stat Stat, target Ref) {
	es.Event.Publish(SupervisorEvent{
		Stat:      stat,
		Cause:     cause,
		Time:      time.Now(),
		Target:    target.Addr(),
		Directive: RestartDirective,
	})
}

// InvokedStop emits event containing stop details.
func (es *EventSupervisingInvoker) InvokedStop(cause interface{}, target Ref) {
	es.Event.Publish(SupervisorEvent{
		Cause:     cause,
		Time:      time.Now(),
		Target:    target.Addr(),
		Directive: StopDirective,
	})
}

// InvokedEscalate emits event containing escalation details.
func (es *EventSupervisingInvoker) InvokedEscalate(cause interface{}, target Ref) {
	es.Event.Publish(SupervisorEvent{
		Cause:     cause,
		Time:      time.Now(),
		Target:    target.Addr(),
		Directive: EscalateDirective,
	})
}
