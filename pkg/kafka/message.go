package kafka

import (
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	HeaderTraceParent = "traceparent"
	HeaderEventType   = "event_type"
	HeaderSchema      = "schema_version"

	schemaVersion = "1.0"
)

// IncomingMessage is a fetched message with its headers flattened.
type IncomingMessage struct {
	Key       string
	Value     []byte
	Headers   map[string]string
	Partition int
	Offset    int64
	Timestamp time.Time
	Topic     string
}

func newIncomingMessage(msg kafka.Message) *IncomingMessage {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	return &IncomingMessage{
		Key:       string(msg.Key),
		Value:     msg.Value,
		Headers:   headers,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Timestamp: msg.Time,
		Topic:     msg.Topic,
	}
}

func (m *IncomingMessage) TraceParent() string {
	return m.Headers[HeaderTraceParent]
}

// PermanentError marks a message that can never be processed. The consumer commits it instead of
// retrying.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return "permanent: " + e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}
