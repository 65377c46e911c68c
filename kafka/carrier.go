package kafka

import (
	"github.com/IBM/sarama"
	kafkago "github.com/segmentio/kafka-go"
)

// saramaHeaderCarrier implements the TextMapCarrier interface for outgoing
// sarama messages.
type saramaHeaderCarrier []sarama.RecordHeader

func (c saramaHeaderCarrier) Get(key string) string {
	for _, h := range c {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *saramaHeaderCarrier) Set(key, value string) {
	*c = append(*c, sarama.RecordHeader{
		Key:   []byte(key),
		Value: []byte(value),
	})
}

func (c saramaHeaderCarrier) Keys() []string {
	keys := make([]string, len(c))
	for i, h := range c {
		keys[i] = string(h.Key)
	}
	return keys
}

// readerHeaderCarrier does the same for messages fetched by the worker.
type readerHeaderCarrier []kafkago.Header

func (c readerHeaderCarrier) Get(key string) string {
	for _, h := range c {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c readerHeaderCarrier) Set(key, value string) {
	// Not needed for extraction
}

func (c readerHeaderCarrier) Keys() []string {
	keys := make([]string, len(c))
	for i, h := range c {
		keys[i] = h.Key
	}
	return keys
}
