package kafka

import (
	"strconv"

	"github.com/iowanobos/mq-source/broker"
	"github.com/segmentio/kafka-go"
)

// Transport properties derived from the record itself rather than its headers.
const (
	HeaderTopic     = "kafka.topic"
	HeaderPartition = "kafka.partition"
	HeaderOffset    = "kafka.offset"
	HeaderKey       = "kafka.key"
)

func headersToMap(message kafka.Message) broker.Headers {
	m := make(broker.Headers, len(message.Headers)+4)
	for _, header := range message.Headers {
		m[header.Key] = header.Value
	}

	m.Set(HeaderTopic, message.Topic)
	m.Set(HeaderPartition, strconv.Itoa(message.Partition))
	m.Set(HeaderOffset, strconv.FormatInt(message.Offset, 10))
	if message.Key != nil {
		m[HeaderKey] = message.Key
	}
	return m
}
