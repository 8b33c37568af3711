package drains_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/gokit/actorcell"
	"github.com/gokit/actorcell/drains"
	"github.com/gokit/errors"
	"github.com/stretchr/testify/assert"
)

func TestMakeRecord(t *testing.T) {
	now := time.Now()
	rec := drains.MakeRecord(actorcell.DeadLetter{
		Addr:     "/kit/echo",
		Reason:   "mailbox discarded",
		Time:     now,
		Envelope: actorcell.CreateEnvelope(nil, actorcell.Header{}, map[string]string{"k": "v"}),
	})

	assert.Equal(t, "/kit/echo", rec.Addr)
	assert.Equal(t, "mailbox discarded", rec.Reason)
	assert.Equal(t, now, rec.Time)
	assert.Empty(t, rec.Sender)

	var data map[string]string
	assert.NoError(t, json.Unmarshal(rec.Data, &data))
	assert.Equal(t, "v", data["k"])
}

func TestMakeRecordUnserializablePayload(t *testing.T) {
	rec := drains.MakeRecord(actorcell.DeadLetter{
		Addr:     "/kit/echo",
		Envelope: actorcell.CreateEnvelope(nil, actorcell.Header{}, make(chan int)),
	})

	// payloads which json cannot serialize fall back to fmt rendering.
	var data string
	assert.NoError(t, json.Unmarshal(rec.Data, &data))
	assert.NotEmpty(t, data)
}

func TestDrainReceivesDeadLetters(t *testing.T) {
	sys, err := actorcell.NewSystem("kit")
	assert.NoError(t, err)
	defer sys.Stop(time.Second)

	records := make(chan drains.Record, 4)
	sub := drains.Attach(sys, recordingDrain{records: records})
	defer sub.Stop()

	cell, err := sys.Spawn("gone", actorcell.FromFunc(func(actorcell.Ref, actorcell.Envelope) {}))
	assert.NoError(t, err)

	cell.Stop()
	<-cell.Done()
	cell.Send("late", actorcell.Header{}, nil)

	select {
	case rec := <-records:
		var data string
		assert.NoError(t, json.Unmarshal(rec.Data, &data))
		assert.Equal(t, "late", data)
	case <-time.After(time.Second):
		t.Fatal("drain never received the dead letter")
	}
}

type recordingDrain struct {
	records chan drains.Record
}

func (r recordingDrain) Publish(rec drains.Record) error {
	r.records <- rec
	return nil
}

func (r recordingDrain) Close() error { return nil }

func TestRedisDrainRequiresHost(t *testing.T) {
	_, err := drains.NewRedisDrain(drains.RedisConfig{})
	assert.Error(t, err)
}

func TestNATSDrainRequiresAddr(t *testing.T) {
	_, err := drains.NewNATSDrain(drains.NATSConfig{})
	assert.Error(t, err)
}

func TestKafkaDrainRequiresBrokers(t *testing.T) {
	_, err := drains.NewKafkaDrain(context.Background(), drains.KafkaConfig{})
	assert.Error(t, err)
}

func TestKafkaDrainClosedPublish(t *testing.T) {
	kd, err := drains.NewKafkaDrain(context.Background(), drains.KafkaConfig{
		Brokers: []string{"localhost:9092"},
		Topic:   "deadletters",
	})
	assert.NoError(t, err)
	assert.NoError(t, kd.Close())

	err = kd.Publish(drains.Record{Addr: "/kit/echo"})
	assert.Error(t, err)
	assert.True(t, errors.IsAny(err, drains.ErrDrainClosed))
}
