package drains

import (
	"encoding/json"

	"github.com/gokit/actorcell"
	"github.com/gokit/errors"
	pubsub "github.com/nats-io/go-nats"
)

// NATSConfig provides a config struct for instantiating a NATSDrain.
type NATSConfig struct {
	Topic   string
	Addr    string
	Log     actorcell.Logs
	Options []pubsub.Option
}

func (c *NATSConfig) init() error {
	if c.Log == nil {
		c.Log = &actorcell.DrainLog{}
	}
	if c.Addr == "" {
		return errors.New("NATSConfig.Addr must be provided")
	}
	if c.Topic == "" {
		c.Topic = "deadletters"
	}
	return nil
}

// NATSDrain publishes dead-letter records onto a nats subject.
type NATSDrain struct {
	config NATSConfig
	conn   *pubsub.Conn
	closed actorcell.SwitchImpl
}

// NewNATSDrain returns a new NATSDrain connected to the giving address.
func NewNATSDrain(config NATSConfig) (*NATSDrain, error) {
	if err := config.init(); err != nil {
		return nil, err
	}

	config.Log.Emit(actorcell.DEBUG, actorcell.LogMsg("Creating nats connection").
		String("url", config.Addr).Write())

	conn, err := pubsub.Connect(config.Addr, config.Options...)
	if err != nil {
		return nil, errors.Wrap(err, "Failed to connect to nats server %q", config.Addr)
	}

	return &NATSDrain{config: config, conn: conn}, nil
}

// Publish implements the Drain interface.
func (n *NATSDrain) Publish(rec Record) error {
	if n.closed.IsOn() {
		return errors.WrapOnly(ErrDrainClosed)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "marshaling dead-letter record")
	}

	if err := n.conn.Publish(n.config.Topic, data); err != nil {
		return errors.Wrap(err, "publishing to nats subject %q", n.config.Topic)
	}
	return nil
}

// Close implements the Drain interface.
func (n *NATSDrain) Close() error {
	if !n.closed.On() {
		return nil
	}
	n.conn.Close()
	return nil
}
