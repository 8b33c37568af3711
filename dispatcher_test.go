package actorcell

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gokit/errors"
	"github.com/stretchr/testify/assert"
)

func TestNewDispatcherValidation(t *testing.T) {
	config := DefaultDispatcherConfig()
	config.Throughput = 0

	_, err := NewDispatcher(config, nil)
	assert.Error(t, err)
	assert.True(t, errors.IsAny(err, ErrInvalidConfig))
}

func TestDispatcherNegativeInhabitants(t *testing.T) {
	d, err := NewDispatcher(DefaultDispatcherConfig(), nil)
	assert.NoError(t, err)

	assert.Panics(t, func() {
		d.addInhabitants(-1)
	})
}

func TestDispatcherIdleShutdownHandshake(t *testing.T) {
	config := DefaultDispatcherConfig()
	config.ShutdownTimeout = 20 * time.Millisecond

	d, err := NewDispatcher(config, nil)
	assert.NoError(t, err)

	d.addInhabitants(1)
	assert.Equal(t, int64(1), d.Inhabitants())
	assert.Equal(t, shutdownUnscheduled, atomic.LoadInt32(&d.shutdownSchedule))

	// the count reaching zero arms the timer.
	d.addInhabitants(-1)
	assert.Equal(t, shutdownScheduled, atomic.LoadInt32(&d.shutdownSchedule))

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&d.shutdownSchedule) == shutdownUnscheduled
	}, time.Second, 5*time.Millisecond)
}

func TestDispatcherIdleShutdownCoalesces(t *testing.T) {
	config := DefaultDispatcherConfig()
	config.ShutdownTimeout = 20 * time.Millisecond

	d, err := NewDispatcher(config, nil)
	assert.NoError(t, err)

	// a second empty transition while a timer is armed coalesces into
	// RESCHEDULED rather than arming a fresh timer.
	d.addInhabitants(1)
	d.addInhabitants(-1)
	d.addInhabitants(1)
	d.addInhabitants(-1)
	assert.Equal(t, shutdownRescheduled, atomic.LoadInt32(&d.shutdownSchedule))

	// the rescheduled timer re-arms once, then unschedules.
	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&d.shutdownSchedule) == shutdownUnscheduled
	}, time.Second, 5*time.Millisecond)
}

func TestDispatcherExecutorRecreatedAfterShutdown(t *testing.T) {
	config := DefaultDispatcherConfig()
	config.PoolSize = 1

	d, err := NewDispatcher(config, nil)
	assert.NoError(t, err)

	var w sync.WaitGroup
	w.Add(1)
	assert.NoError(t, d.executor().Execute(func() { w.Done() }))
	w.Wait()

	d.Shutdown()

	// submission after shutdown lazily materializes a fresh executor.
	w.Add(1)
	assert.NoError(t, d.executor().Execute(func() { w.Done() }))
	w.Wait()
}

func TestGoExecutor(t *testing.T) {
	ge := newGoExecutor()

	var w sync.WaitGroup
	w.Add(1)
	assert.NoError(t, ge.Execute(func() { w.Done() }))
	w.Wait()

	ge.Shutdown()
	err := ge.Execute(func() {})
	assert.Error(t, err)
	assert.True(t, errors.IsAny(err, ErrExecutorShutdown))
}

func TestPoolExecutorOverflow(t *testing.T) {
	pe := newPoolExecutor(1)
	defer pe.Shutdown()

	// more tasks than workers and buffer still all run, overflow spills
	// onto fresh goroutines instead of blocking the caller.
	var w sync.WaitGroup
	for i := 0; i < 20; i++ {
		w.Add(1)
		assert.NoError(t, pe.Execute(func() { w.Done() }))
	}
	w.Wait()

	pe.Shutdown()
	err := pe.Execute(func() {})
	assert.Error(t, err)
	assert.True(t, errors.IsAny(err, ErrExecutorShutdown))
}

func TestDispatchersTable(t *testing.T) {
	table, err := NewDispatchers(DefaultDispatcherConfig(), nil)
	assert.NoError(t, err)
	defer table.ShutdownAll()

	// an empty id resolves to the default dispatcher.
	assert.Same(t, table.Get(""), table.Get(DefaultDispatcherID))

	fast := DefaultDispatcherConfig()
	fast.ID = "fast"
	fast.Throughput = 10
	assert.NoError(t, table.RegisterConfig(fast))

	d := table.Get("fast")
	assert.Equal(t, 10, d.Throughput())
	assert.Same(t, d, table.Get("fast"))

	// registration after materialization is refused.
	assert.Error(t, table.RegisterConfig(fast))

	// unregistered ids materialize from the defaults.
	other := table.Get("other")
	assert.Equal(t, DefaultDispatcherConfig().Throughput, other.Throughput())
	assert.Equal(t, "other", other.ID())
}
