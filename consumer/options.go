package consumer

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/iowanobos/mq-source/broker"
)

// Options is the raw option set handed over by the host. Field tags let it
// be filled from the environment (envconfig) or a YAML file.
type Options struct {
	Destination         string   `envconfig:"DESTINATION_NAME" yaml:"destination.name"`
	Host                string   `envconfig:"HOST" yaml:"host"`
	Port                int      `envconfig:"PORT" yaml:"port"`
	Channel             string   `envconfig:"CHANNEL" yaml:"channel"`
	QueueManager        string   `envconfig:"QUEUE_MANAGER" yaml:"queue.manager"`
	Username            string   `envconfig:"USERNAME" yaml:"username"`
	Password            string   `envconfig:"PASSWORD" yaml:"password"`
	WorkerCount         int      `envconfig:"WORKER_COUNT" yaml:"worker.count" default:"1"`
	Properties          string   `envconfig:"PROPERTIES" yaml:"properties"`
	ReconnectTimeout    int      `envconfig:"CLIENT_RECONNECT_TIMEOUT" yaml:"client.reconnect.timeout" default:"30"`
	TransportProperties []string `envconfig:"TRANSPORT_PROPERTIES" yaml:"transport.properties"`
}

// Validate checks every required parameter of the schema is set.
func (o Options) Validate() error {
	var missing []string
	for _, param := range Parameters {
		if !param.Optional && o.value(param.Name) == "" {
			missing = append(missing, param.Name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidConfig, strings.Join(missing, ", "))
	}
	if o.Port <= 0 || o.Port > 65535 {
		return fmt.Errorf("%w: %s %d out of range", ErrInvalidConfig, ParamPort, o.Port)
	}
	return nil
}

func (o Options) Descriptor() broker.ConnectionDescriptor {
	timeout := DefaultReconnectTimeout
	if o.ReconnectTimeout > 0 {
		timeout = time.Duration(o.ReconnectTimeout) * time.Second
	}
	return broker.ConnectionDescriptor{
		Host:             o.Host,
		Port:             o.Port,
		Channel:          o.Channel,
		QueueManager:     o.QueueManager,
		TransportMode:    broker.TransportClient,
		ReconnectTimeout: timeout,
	}
}

func (o Options) value(name string) string {
	switch name {
	case ParamDestination:
		return o.Destination
	case ParamHost:
		return o.Host
	case ParamPort:
		if o.Port == 0 {
			return ""
		}
		return strconv.Itoa(o.Port)
	case ParamChannel:
		return o.Channel
	case ParamQueueManager:
		return o.QueueManager
	case ParamUsername:
		return o.Username
	case ParamPassword:
		return o.Password
	case ParamWorkerCount:
		return strconv.Itoa(o.WorkerCount)
	case ParamProperties:
		return o.Properties
	case ParamReconnectTimeout:
		return strconv.Itoa(o.ReconnectTimeout)
	case ParamTransportProperties:
		return strings.Join(o.TransportProperties, ",")
	}
	return ""
}
