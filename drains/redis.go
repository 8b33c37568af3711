package drains

import (
	"encoding/json"

	redis "github.com/go-redis/redis"
	"github.com/gokit/actorcell"
	"github.com/gokit/errors"
)

// RedisConfig provides a config struct for instantiating a RedisDrain.
type RedisConfig struct {
	Topic string
	Host  *redis.Options
	Log   actorcell.Logs
}

func (c *RedisConfig) init() error {
	if c.Log == nil {
		c.Log = &actorcell.DrainLog{}
	}
	if c.Host == nil {
		return errors.New("RedisConfig.Host must be provided")
	}
	if c.Topic == "" {
		c.Topic = "deadletters"
	}
	return nil
}

// RedisDrain publishes dead-letter records onto a redis channel.
type RedisDrain struct {
	config RedisConfig
	client *redis.Client
	closed actorcell.SwitchImpl
}

// NewRedisDrain returns a new RedisDrain, verifying connectivity with a
// ping before returning.
func NewRedisDrain(config RedisConfig) (*RedisDrain, error) {
	if err := config.init(); err != nil {
		return nil, err
	}

	client := redis.NewClient(config.Host)

	config.Log.Emit(actorcell.DEBUG, actorcell.LogMsg("Creating redis connection").
		String("url", config.Host.Addr).Write())

	if err := client.Ping().Err(); err != nil {
		return nil, errors.Wrap(err, "Failed to connect successfully redis client")
	}

	return &RedisDrain{config: config, client: client}, nil
}

// Publish implements the Drain interface.
func (r *RedisDrain) Publish(rec Record) error {
	if r.closed.IsOn() {
		return errors.WrapOnly(ErrDrainClosed)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "marshaling dead-letter record")
	}

	if err := r.client.Publish(r.config.Topic, data).Err(); err != nil {
		return errors.Wrap(err, "publishing to redis channel %q", r.config.Topic)
	}
	return nil
}

// Close implements the Drain interface.
func (r *RedisDrain) Close() error {
	if !r.closed.On() {
		return nil
	}
	return r.client.Close()
}
