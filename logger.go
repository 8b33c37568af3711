package actorcell

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
)

//***************************************************************************
// Logs
//***************************************************************************

// Level defines different level warnings for giving
// log events.
type Level uint8

// constants of log levels this package respect.
// They are capitalize to ensure no naming conflict.
const (
	INFO Level = 1 << iota
	DEBUG
	WARN
	ERROR
	PANIC
)

// String implements the Stringer interface.
func (l Level) String() string {
	switch l {
	case INFO:
		return "INFO"
	case ERROR:
		return "ERROR"
	case DEBUG:
		return "DEBUG"
	case WARN:
		return "WARN"
	case PANIC:
		return "PANIC"
	}
	return "UNKNOWN"
}

// LogMessage defines an interface which exposes a method for retrieving
// log details for giving log item.
type LogMessage interface {
	Message() string
}

// Message implements the LogMessage interface for a plain string.
type Message string

// Message returns the string content of the message.
func (m Message) Message() string {
	return string(m)
}

// Logs defines a acceptable logging interface which all elements of this
// package respect and use to deliver logs for different parts and ops, this
// frees this package from specifying or locking a giving implementation and
// contaminating import paths. Implement this and pass in to elements that
// provide for it.
type Logs interface {
	Emit(Level, LogMessage)
}

//*****************************************************************
// DrainLog
//*****************************************************************

// DrainLog implements the actorcell.Logs interface.
type DrainLog struct{}

// Emit does nothing with provided arguments, it implements
// actorcell.Logs Emit method.
func (DrainLog) Emit(_ Level, _ LogMessage) {}

//*****************************************************************
// LogEvent
//*****************************************************************

var (
	comma        = []byte(", ")
	colon        = []byte(": ")
	openBlock    = []byte("{")
	closingBlock = []byte("}")
	doubleQuote  = []byte("\"")
	logEventPool = sync.Pool{
		New: func() interface{} {
			return &logEventImpl{content: make([]byte, 0, 512), r: 1}
		},
	}
)

// LogEvent exposes set methods for generating a safe low-allocation json log
// based on a set of messages and key-value pairs.
type LogEvent interface {
	Write() LogMessage

	Int(string, int) LogEvent
	Bool(string, bool) LogEvent
	Int64(string, int64) LogEvent
	String(string, string) LogEvent
	ObjectJSON(string, interface{}) LogEvent
}

// LogMsg requests allocation for a LogEvent from the internal pool returning a LogEvent for use
// which must be have it's Write() method called once done.
func LogMsg(message string) LogEvent {
	event := logEventPool.Get().(*logEventImpl)
	event.reset()
	event.addQuoted("message", message)
	return event
}

// logEventImpl implements a near zero-allocation log builder, using a
// underline non-strict json format to transform log key-value pairs into
// a LogMessage.
//
// Each logEventImpl is retrieved from a pool and will panic if used after
// release/write.
type logEventImpl struct {
	r       uint32
	content []byte
}

// String adds a field name with string value.
func (l *logEventImpl) String(name string, value string) LogEvent {
	l.addQuoted(name, value)
	return l
}

// Bool adds a field name with bool value.
func (l *logEventImpl) Bool(name string, value bool) LogEvent {
	l.addRaw(name, strconv.FormatBool(value))
	return l
}

// Int adds a field name with int value.
func (l *logEventImpl) Int(name string, value int) LogEvent {
	l.addRaw(name, strconv.Itoa(value))
	return l
}

// Int64 adds a field name with int64 value.
func (l *logEventImpl) Int64(name string, value int64) LogEvent {
	l.addRaw(name, strconv.FormatInt(value, 10))
	return l
}

// ObjectJSON adds a field name with a json serialized object value.
// Values which fail serialization are represented with fmt formatting.
func (l *logEventImpl) ObjectJSON(name string, value interface{}) LogEvent {
	data, err := json.Marshal(value)
	if err != nil {
		l.addQuoted(name, fmt.Sprintf("%+v", value))
		return l
	}

	if l.released() {
		panic("Re-using released logEventImpl")
	}

	l.beginField(name)
	l.content = append(l.content, data...)
	return l
}

// Write delivers giving log event as a generated message.
func (l *logEventImpl) Write() LogMessage {
	if l.released() {
		panic("Re-using released logEventImpl")
	}

	l.content = append(l.content, closingBlock...)
	content := string(l.content)

	l.content = l.content[:0]
	atomic.StoreUint32(&l.r, 0)
	logEventPool.Put(l)

	return Message(content)
}

func (l *logEventImpl) reset() {
	atomic.StoreUint32(&l.r, 1)
	l.content = append(l.content, openBlock...)
}

func (l *logEventImpl) released() bool {
	return atomic.LoadUint32(&l.r) == 0
}

func (l *logEventImpl) beginField(k string) {
	if len(l.content) > len(openBlock) {
		l.content = append(l.content, comma...)
	}
	l.content = append(l.content, doubleQuote...)
	l.content = append(l.content, k...)
	l.content = append(l.content, doubleQuote...)
	l.content = append(l.content, colon...)
}

func (l *logEventImpl) addQuoted(k string, v string) {
	if l.released() {
		panic("Re-using released logEventImpl")
	}

	l.beginField(k)
	l.content = append(l.content, doubleQuote...)
	l.content = append(l.content, v...)
	l.content = append(l.content, doubleQuote...)
}

func (l *logEventImpl) addRaw(k string, v string) {
	if l.released() {
		panic("Re-using released logEventImpl")
	}

	l.beginField(k)
	l.content = append(l.content, v...)
}
