package actorcell

import (
	"math/rand"
	"time"
)

//*****************************************************************
// Directive
//*****************************************************************

// Directive defines the reaction a supervisor applies to a child failure.
type Directive int

// directives.
const (
	ResumeDirective Directive = iota
	RestartDirective
	StopDirective
	EscalateDirective
)

// String implements the Stringer interface.
func (d Directive) String() string {
	switch d {
	case ResumeDirective:
		return "Resume"
	case RestartDirective:
		return "Restart"
	case StopDirective:
		return "Stop"
	case EscalateDirective:
		return "Escalate"
	}
	return "Unknown"
}

//*****************************************************************
// Decider
//*****************************************************************

// Decision pairs a failure-cause predicate with the directive applied
// when the predicate matches.
type Decision struct {
	When func(interface{}) bool
	Then Directive
}

// Decider is an ordered list of decisions evaluated top to bottom,
// most specific first. Unmatched causes escalate.
type Decider []Decision

// Decide returns the directive for the giving failure cause.
func (d Decider) Decide(cause interface{}) Directive {
	for _, dec := range d {
		if dec.When(cause) {
			return dec.Then
		}
	}
	return EscalateDirective
}

// DecideOn returns a single Decision from the provided predicate and directive.
func DecideOn(when func(interface{}) bool, then Directive) Decision {
	return Decision{When: when, Then: then}
}

// anyCause matches every failure cause.
func anyCause(interface{}) bool { return true }

// RestartDecider restarts on any failure cause.
var RestartDecider = Decider{DecideOn(anyCause, RestartDirective)}

// StopDecider stops on any failure cause.
var StopDecider = Decider{DecideOn(anyCause, StopDirective)}

// ResumeDecider resumes on any failure cause.
var ResumeDecider = Decider{DecideOn(anyCause, ResumeDirective)}

//*****************************************************************
// ChildStats
//*****************************************************************

// ChildStats carries the restart retry count and window start timestamp
// for a single child. It lives on the child's registry entry; the window
// counters are only touched from its parent's message processing, so
// they need no locking.
type ChildStats struct {
	restartCount int
	windowStart  time.Time

	// backoffAttempts is bumped by the backoff strategy across failures.
	// Unlike the window counters it is atomic: backoff restarts fire from
	// timer goroutines.
	backoffAttempts AtomicCounter
}

// RestartCount returns the retry count observed so far.
func (cs *ChildStats) RestartCount() int {
	return cs.restartCount
}

// requestRestartPermission reports whether another restart fits the
// giving retry budget.
//
// Three cases: a negative maxRetries never limits; a zero window permits
// while the monotonically increasing counter stays within maxRetries and
// then permanently denies; a positive window uses a single-window
// approximation where a failure inside the window increments and compares
// the counter, while a failure after the window elapsed closes it, resets
// the counter to one and permits. The approximation trades precision for
// O(1) memory per child and is part of the observable contract.
func (cs *ChildStats) requestRestartPermission(maxRetries int, window time.Duration, now time.Time) bool {
	if maxRetries < 0 {
		return true
	}

	if window <= 0 {
		cs.restartCount++
		return cs.restartCount <= maxRetries
	}

	if cs.restartCount == 0 || now.Sub(cs.windowStart) > window {
		cs.windowStart = now
		cs.restartCount = 1
		return maxRetries >= 1
	}

	cs.restartCount++
	return cs.restartCount <= maxRetries
}

//*****************************************************************
// SupervisorStrategy
//*****************************************************************

// SupervisorStrategy converts a child's failure cause into system-message
// sends against the failed child and, depending on policy, its siblings.
// HandleFailure reports false when the failure escalates, in which case
// the parent's own supervisor is asked the same question for the parent.
type SupervisorStrategy interface {
	HandleFailure(parent *Cell, cause interface{}, child *Cell, stats *ChildStats, siblings []*Cell) bool
}

// sendDirectives groups the system-message sends shared by strategies.

func resumeChild(child *Cell) {
	child.sendSystem(ResumeCell{})
}

func restartChild(child *Cell, cause interface{}, suspendFirst bool) {
	if suspendFirst {
		child.sendSystem(SuspendCell{})
	}
	child.sendSystem(RecreateCell{Cause: cause})
}

func stopChild(child *Cell) {
	child.sendSystem(TerminateCell{})
}

//*****************************************************************
// OneForOneStrategy
//*****************************************************************

// OneForOneStrategy applies the decided directive to the failed child
// alone, leaving its siblings untouched.
type OneForOneStrategy struct {
	MaxRetries     int
	Window         time.Duration
	Decider        Decider
	Invoker        SupervisionInvoker
	Logs           Logs
	DisableLogging bool

	// Clock overrides time.Now for restart-window decisions.
	Clock func() time.Time
}

// HandleFailure implements the SupervisorStrategy interface.
func (on *OneForOneStrategy) HandleFailure(parent *Cell, cause interface{}, child *Cell, stats *ChildStats, siblings []*Cell) bool {
	directive := on.Decider.Decide(cause)
	logFailureDecision(on.Logs, on.DisableLogging, directive, cause, child)

	switch directive {
	case ResumeDirective:
		if on.Invoker != nil {
			on.Invoker.InvokedResume(cause, child)
		}
		resumeChild(child)
	case RestartDirective, StopDirective:
		on.processFailure(directive == RestartDirective, cause, child, stats)
	case EscalateDirective:
		if on.Invoker != nil {
			on.Invoker.InvokedEscalate(cause, child)
		}
		return false
	}
	return true
}

func (on *OneForOneStrategy) processFailure(restart bool, cause interface{}, child *Cell, stats *ChildStats) {
	if restart && stats != nil && stats.requestRestartPermission(on.MaxRetries, on.Window, on.now()) {
		if on.Invoker != nil {
			on.Invoker.InvokedRestart(cause, Stat{Max: on.MaxRetries, Count: stats.RestartCount()}, child)
		}
		restartChild(child, cause, false)
		return
	}

	if on.Invoker != nil {
		on.Invoker.InvokedStop(cause, child)
	}
	stopChild(child)
}

func (on *OneForOneStrategy) now() time.Time {
	if on.Clock != nil {
		return on.Clock()
	}
	return time.Now()
}

//*****************************************************************
// AllForOneStrategy
//*****************************************************************

// AllForOneStrategy applies the decided directive to the failed child and
// all of its siblings. A restart only proceeds when every sibling
// individually passes its own restart-permission check, each consuming
// its own budget; when any sibling fails the check all siblings are
// stopped instead.
type AllForOneStrategy struct {
	MaxRetries     int
	Window         time.Duration
	Decider        Decider
	Invoker        SupervisionInvoker
	Logs           Logs
	DisableLogging bool

	// Clock overrides time.Now for restart-window decisions.
	Clock func() time.Time
}

// HandleFailure implements the SupervisorStrategy interface.
func (an *AllForOneStrategy) HandleFailure(parent *Cell, cause interface{}, child *Cell, stats *ChildStats, siblings []*Cell) bool {
	directive := an.Decider.Decide(cause)
	logFailureDecision(an.Logs, an.DisableLogging, directive, cause, child)

	switch directive {
	case ResumeDirective:
		if an.Invoker != nil {
			an.Invoker.InvokedResume(cause, child)
		}
		resumeChild(child)
	case RestartDirective, StopDirective:
		an.processFailure(directive == RestartDirective, parent, cause, child, siblings)
	case EscalateDirective:
		if an.Invoker != nil {
			an.Invoker.InvokedEscalate(cause, child)
		}
		return false
	}
	return true
}

func (an *AllForOneStrategy) processFailure(restart bool, parent *Cell, cause interface{}, child *Cell, siblings []*Cell) {
	if len(siblings) == 0 {
		return
	}

	if restart {
		// every sibling consumes its own budget, no short-circuit.
		permitted := true
		for _, sib := range siblings {
			stats := parent.children.Stats(sib)
			if stats == nil || !stats.requestRestartPermission(an.MaxRetries, an.Window, an.now()) {
				permitted = false
			}
		}

		if permitted {
			for _, sib := range siblings {
				if an.Invoker != nil {
					stat := Stat{Max: an.MaxRetries}
					if stats := parent.children.Stats(sib); stats != nil {
						stat.Count = stats.RestartCount()
					}
					an.Invoker.InvokedRestart(cause, stat, sib)
				}
				// the failed child is already suspended by the failure
				// path, siblings are suspended ahead of their restart.
				restartChild(sib, cause, sib != child)
			}
			return
		}
	}

	for _, sib := range siblings {
		if an.Invoker != nil {
			an.Invoker.InvokedStop(cause, sib)
		}
		stopChild(sib)
	}
}

func (an *AllForOneStrategy) now() time.Time {
	if an.Clock != nil {
		return an.Clock()
	}
	return time.Now()
}

//*****************************************************************
// ExponentialBackoffStrategy
//*****************************************************************

// ExponentialBackoffStrategy restarts a failed child after jittered,
// exponentially increasing delays up to a maximum number of attempts,
// after which the child is stopped. Attempts accumulate on the child's
// ChildStats, so repeated failures keep climbing the backoff curve
// instead of replaying the first delay.
type ExponentialBackoffStrategy struct {
	Max     int
	Backoff time.Duration
	Invoker SupervisionInvoker
	Logs    Logs
}

// HandleFailure implements the SupervisorStrategy interface.
func (sp *ExponentialBackoffStrategy) HandleFailure(parent *Cell, cause interface{}, child *Cell, stats *ChildStats, siblings []*Cell) bool {
	if stats == nil {
		stats = new(ChildStats)
	}

	attempt := int(stats.backoffAttempts.Inc())
	if attempt >= sp.Max {
		if sp.Invoker != nil {
			sp.Invoker.InvokedStop(cause, child)
		}
		stopChild(child)
		return true
	}

	time.AfterFunc(jitteredBackoff(attempt, sp.Backoff), func() {
		if sp.Invoker != nil {
			sp.Invoker.InvokedRestart(cause, Stat{Max: sp.Max, Count: attempt}, child)
		}
		// the child was already suspended by the failure path, the
		// recreate resumes it.
		restartChild(child, cause, false)
	})
	return true
}

// jitteredBackoff returns the backoff duration for the giving attempt,
// doubling per attempt with up to 33% random jitter to prevent
// synchronized restarts.
func jitteredBackoff(attempt int, base time.Duration) time.Duration {
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	backoff := int64(1<<uint(attempt-1)) * int64(base)
	jitter := backoff / 3
	if jitter > 0 {
		backoff += rand.Int63n(2*jitter) - jitter
	}
	if backoff <= 0 {
		backoff = int64(time.Millisecond)
	}
	return time.Duration(backoff)
}

//*****************************************************************
// failure logging
//*****************************************************************

func logFailureDecision(logs Logs, disabled bool, directive Directive, cause interface{}, child *Cell) {
	if disabled || logs == nil {
		return
	}

	level := WARN
	if directive == EscalateDirective {
		level = ERROR
	}

	logs.Emit(level, LogMsg("child failure").
		String("addr", child.Addr()).
		Int64("uid", child.UID()).
		String("directive", directive.String()).
		ObjectJSON("cause", cause).Write())
}
