package consumer

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iowanobos/mq-source/broker"
)

const (
	DefaultWorkerCount      = 1
	DefaultReconnectTimeout = 30 * time.Second
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the immutable description of what the group consumes. It is
// shared read-only by every worker.
type Config struct {
	destination         string
	username            string
	password            string
	workerCount         int
	properties          map[string]string
	reconnectTimeout    time.Duration
	transportProperties []string
}

func NewConfig(options Options) (*Config, error) {
	if options.Destination == "" {
		return nil, fmt.Errorf("%w: %s is required", ErrInvalidConfig, ParamDestination)
	}
	if (options.Username == "") != (options.Password == "") {
		return nil, fmt.Errorf("%w: %s and %s must be given together", ErrInvalidConfig, ParamUsername, ParamPassword)
	}

	workerCount := options.WorkerCount
	switch {
	case workerCount == 0:
		workerCount = DefaultWorkerCount
	case workerCount < 0:
		return nil, fmt.Errorf("%w: %s must be at least 1, got %d", ErrInvalidConfig, ParamWorkerCount, workerCount)
	}

	reconnectTimeout := time.Duration(options.ReconnectTimeout) * time.Second
	switch {
	case options.ReconnectTimeout == 0:
		reconnectTimeout = DefaultReconnectTimeout
	case options.ReconnectTimeout < 0:
		return nil, fmt.Errorf("%w: %s must not be negative", ErrInvalidConfig, ParamReconnectTimeout)
	}

	properties, err := ParseProperties(options.Properties)
	if err != nil {
		return nil, err
	}

	return &Config{
		destination:         options.Destination,
		username:            options.Username,
		password:            options.Password,
		workerCount:         workerCount,
		properties:          properties,
		reconnectTimeout:    reconnectTimeout,
		transportProperties: append([]string(nil), options.TransportProperties...),
	}, nil
}

// ParseProperties parses "KEY1:VAL1,KEY2:VAL2". Every entry must hold exactly
// one colon with a non-empty key and value; on any malformed entry no map is
// returned.
func ParseProperties(s string) (map[string]string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	entries := strings.Split(s, ",")
	// a trailing separator is tolerated
	for len(entries) > 0 && strings.TrimSpace(entries[len(entries)-1]) == "" {
		entries = entries[:len(entries)-1]
	}

	properties := make(map[string]string, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		parts := strings.Split(entry, ":")
		if len(parts) != 2 {
			return nil, fmt.Errorf("%w: %s entry %q is not a key:value pair", ErrInvalidConfig, ParamProperties, entry)
		}
		key, value := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
		if key == "" || value == "" {
			return nil, fmt.Errorf("%w: %s entry %q has an empty key or value", ErrInvalidConfig, ParamProperties, entry)
		}
		properties[key] = value
	}
	return properties, nil
}

func (c *Config) Destination() string {
	return c.destination
}

func (c *Config) WorkerCount() int {
	return c.workerCount
}

func (c *Config) ReconnectTimeout() time.Duration {
	return c.reconnectTimeout
}

func (c *Config) Secured() bool {
	return c.username != "" && c.password != ""
}

// Properties returns a copy of the broker property map.
func (c *Config) Properties() map[string]string {
	if c.properties == nil {
		return nil
	}
	properties := make(map[string]string, len(c.properties))
	for k, v := range c.properties {
		properties[k] = v
	}
	return properties
}

func (c *Config) TransportProperties() []string {
	return append([]string(nil), c.transportProperties...)
}

// Subscription is what every worker hands to the connection factory.
// Credentials are only passed on in secured mode.
func (c *Config) Subscription() broker.Subscription {
	sub := broker.Subscription{
		Destination: c.destination,
		Properties:  c.Properties(),
	}
	if c.Secured() {
		sub.Username = c.username
		sub.Password = c.password
	}
	return sub
}
