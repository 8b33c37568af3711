package actorcell

//***************************************************************************
// dead letters
//***************************************************************************

// newDeadLetterMailbox returns the permanently closed mailbox a system
// hands to detached cells. It carries no owning cell, every message which
// reaches it is redirected through the system's dead-letter sink.
func newDeadLetterMailbox(sys *System) *Mailbox {
	mb := NewMailbox(-1, nil)
	mb.addr = "/" + sys.name + "/deadletters"
	mb.sink = sys.publishDeadLetter
	mb.BecomeClosed()
	mb.discarded.On()
	return mb
}

// deadLetterRef implements the Ref interface with a recipient whose every
// delivery becomes a dead letter. Useful as an explicit sender for
// messages which expect no reply.
type deadLetterRef struct {
	system *System
}

// ID implements the Identity interface.
func (d *deadLetterRef) ID() string {
	return "deadletters"
}

// Addr implements the Addressable interface.
func (d *deadLetterRef) Addr() string {
	return "/" + d.system.name + "/deadletters"
}

// Send implements the Sender interface.
func (d *deadLetterRef) Send(data interface{}, header Header, sender Ref) error {
	return d.Forward(CreateEnvelope(sender, header, data))
}

// Forward implements the Sender interface.
func (d *deadLetterRef) Forward(env Envelope) error {
	d.system.publishDeadLetter(d.Addr(), env, "addressed to dead letters")
	return nil
}
