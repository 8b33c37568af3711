// Package mocks provides in-memory Ref and invoker implementations for
// testing code built on actorcell without running real cells.
package mocks

import (
	"sync"

	"github.com/gokit/actorcell"
	"github.com/gokit/xid"
)

//****************************************
// Test Ref Implementation
//****************************************

// RecordingRef implements the actorcell.Ref interface, capturing every
// delivered envelope for later inspection.
type RecordingRef struct {
	Address string

	id xid.ID

	ml       sync.Mutex
	received []actorcell.Envelope
}

// NewRecordingRef returns a new RecordingRef using the giving address.
func NewRecordingRef(addr string) *RecordingRef {
	return &RecordingRef{Address: addr, id: xid.New()}
}

// ID implements the actorcell.Identity interface.
func (rf *RecordingRef) ID() string {
	return rf.id.String()
}

// Addr implements the actorcell.Addressable interface.
func (rf *RecordingRef) Addr() string {
	return rf.Address
}

// Send implements the actorcell.Sender interface.
func (rf *RecordingRef) Send(data interface{}, header actorcell.Header, sender actorcell.Ref) error {
	return rf.Forward(actorcell.CreateEnvelope(sender, header, data))
}

// Forward implements the actorcell.Sender interface.
func (rf *RecordingRef) Forward(env actorcell.Envelope) error {
	rf.ml.Lock()
	rf.received = append(rf.received, env)
	rf.ml.Unlock()
	return nil
}

// Received returns all envelopes delivered so far.
func (rf *RecordingRef) Received() []actorcell.Envelope {
	rf.ml.Lock()
	defer rf.ml.Unlock()
	return append([]actorcell.Envelope(nil), rf.received...)
}

//****************************************
// Test Invoker Implementations
//****************************************

// CountingMessageInvoker implements the actorcell.MessageInvoker interface
// with atomic counters per signal.
type CountingMessageInvoker struct {
	Processing actorcell.AtomicCounter
	Processed  actorcell.AtomicCounter
}

// InvokedProcessing implements the actorcell.MessageInvoker interface.
func (c *CountingMessageInvoker) InvokedProcessing(actorcell.Envelope) {
	c.Processing.Inc()
}

// InvokedProcessed implements the actorcell.MessageInvoker interface.
func (c *CountingMessageInvoker) InvokedProcessed(actorcell.Envelope) {
	c.Processed.Inc()
}

// CountingSupervisionInvoker implements the actorcell.SupervisionInvoker
// interface with atomic counters per directive.
type CountingSupervisionInvoker struct {
	Resumes   actorcell.AtomicCounter
	Restarts  actorcell.AtomicCounter
	Stops     actorcell.AtomicCounter
	Escalates actorcell.AtomicCounter
}

// InvokedResume implements the actorcell.SupervisionInvoker interface.
func (c *CountingSupervisionInvoker) InvokedResume(interface{}, actorcell.Ref) {
	c.Resumes.Inc()
}

// InvokedRestart implements the actorcell.SupervisionInvoker interface.
func (c *CountingSupervisionInvoker) InvokedRestart(interface{}, actorcell.Stat, actorcell.Ref) {
	c.Restarts.Inc()
}

// InvokedStop implements the actorcell.SupervisionInvoker interface.
func (c *CountingSupervisionInvoker) InvokedStop(interface{}, actorcell.Ref) {
	c.Stops.Inc()
}

// InvokedEscalate implements the actorcell.SupervisionInvoker interface.
func (c *CountingSupervisionInvoker) InvokedEscalate(interface{}, actorcell.Ref) {
	c.Escalates.Inc()
}
