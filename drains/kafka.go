package drains

import (
	"context"
	"encoding/json"

	"github.com/gokit/actorcell"
	"github.com/gokit/errors"
	segment "github.com/segmentio/kafka-go"
)

// KafkaConfig provides a config struct for instantiating a KafkaDrain.
type KafkaConfig struct {
	Topic   string
	Brokers []string
	Log     actorcell.Logs

	// WriterConfigOverride can be provided to set default writer config
	// to be used to create underline kafka writer.
	WriterConfigOverride *segment.WriterConfig
}

func (c *KafkaConfig) init() error {
	if c.Log == nil {
		c.Log = &actorcell.DrainLog{}
	}
	if len(c.Brokers) == 0 && c.WriterConfigOverride == nil {
		return errors.New("KafkaConfig.Brokers must be provided")
	}
	if c.Topic == "" {
		c.Topic = "deadletters"
	}
	return nil
}

// KafkaDrain publishes dead-letter records onto a kafka topic.
type KafkaDrain struct {
	config KafkaConfig
	ctx    context.Context
	cancel func()
	writer *segment.Writer
	closed actorcell.SwitchImpl
}

// NewKafkaDrain returns a new KafkaDrain writing to the giving brokers.
func NewKafkaDrain(ctx context.Context, config KafkaConfig) (*KafkaDrain, error) {
	if err := config.init(); err != nil {
		return nil, err
	}

	var wconfig segment.WriterConfig
	if config.WriterConfigOverride != nil {
		wconfig = *config.WriterConfigOverride
	}
	if len(wconfig.Brokers) == 0 {
		wconfig.Brokers = config.Brokers
	}
	if wconfig.Topic == "" {
		wconfig.Topic = config.Topic
	}

	config.Log.Emit(actorcell.DEBUG, actorcell.LogMsg("Creating kafka writer").
		String("topic", wconfig.Topic).Write())

	kd := &KafkaDrain{
		config: config,
		writer: segment.NewWriter(wconfig),
	}
	kd.ctx, kd.cancel = context.WithCancel(ctx)
	return kd, nil
}

// Publish implements the Drain interface.
func (k *KafkaDrain) Publish(rec Record) error {
	if k.closed.IsOn() {
		return errors.WrapOnly(ErrDrainClosed)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "marshaling dead-letter record")
	}

	if err := k.writer.WriteMessages(k.ctx, segment.Message{
		Key:   []byte(rec.Addr),
		Value: data,
	}); err != nil {
		return errors.Wrap(err, "writing to kafka topic %q", k.config.Topic)
	}
	return nil
}

// Close implements the Drain interface.
func (k *KafkaDrain) Close() error {
	if !k.closed.On() {
		return nil
	}
	k.cancel()
	return k.writer.Close()
}
