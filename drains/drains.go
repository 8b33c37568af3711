// Package drains exports dead letters of a running system onto external
// brokers so undelivered traffic can be inspected, replayed or audited
// outside the process. A drain never feeds back into the system: records
// flow one way, from the event stream out.
package drains

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gokit/actorcell"
	"github.com/gokit/errors"
)

// ErrDrainClosed is returned when records are published to a closed drain.
var ErrDrainClosed = errors.New("drain has closed")

// Drain defines an interface implemented by dead-letter sinks for
// different brokers.
type Drain interface {
	Publish(Record) error
	Close() error
}

// Record is the serialized form of one dead letter as written to a
// broker. The payload is rendered through json, values which fail
// serialization fall back to fmt formatting.
type Record struct {
	Addr   string          `json:"addr"`
	Reason string          `json:"reason"`
	Time   time.Time       `json:"time"`
	Sender string          `json:"sender,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// MakeRecord transforms a giving dead letter into its wire record.
func MakeRecord(dl actorcell.DeadLetter) Record {
	rec := Record{
		Addr:   dl.Addr,
		Reason: dl.Reason,
		Time:   dl.Time,
	}

	if dl.Envelope.Sender != nil {
		rec.Sender = dl.Envelope.Sender.Addr()
	}

	data, err := json.Marshal(dl.Envelope.Data)
	if err != nil {
		data, _ = json.Marshal(fmt.Sprintf("%+v", dl.Envelope.Data))
	}
	rec.Data = data
	return rec
}

// Attach subscribes the giving drain to the system's dead letters,
// returning the subscription used to detach it. Publish failures are
// logged and dropped, a struggling broker must never stall the system.
func Attach(sys *actorcell.System, drain Drain) actorcell.Subscription {
	logs := sys.Logs()
	return sys.Events().Subscribe(func(event interface{}) {
		dl, ok := event.(actorcell.DeadLetter)
		if !ok {
			return
		}

		if err := drain.Publish(MakeRecord(dl)); err != nil {
			logs.Emit(actorcell.WARN, actorcell.LogMsg("dead-letter drain publish failed").
				String("addr", dl.Addr).
				String("error", err.Error()).Write())
		}
	}, func(event interface{}) bool {
		_, ok := event.(actorcell.DeadLetter)
		return ok
	})
}
