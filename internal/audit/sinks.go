package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// mqttQoS is the delivery level for audit events: at least once.
const mqttQoS = 1

// Publisher is the subset of the MQTT client used by MQTTSink.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// MQTTSink publishes each entry as JSON to {prefix}/{action}.
type MQTTSink struct {
	pub    Publisher
	prefix string
}

// NewMQTTSink creates a sink publishing under the given topic prefix.
func NewMQTTSink(pub Publisher, prefix string) *MQTTSink {
	return &MQTTSink{pub: pub, prefix: prefix}
}

// Write publishes e.
func (s *MQTTSink) Write(_ context.Context, e Entry) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshalling audit entry: %w", err)
	}
	topic := s.prefix + "/" + string(e.Action)
	if err := s.pub.Publish(topic, payload, mqttQoS, false); err != nil {
		return fmt.Errorf("publishing audit entry: %w", err)
	}
	return nil
}

// EventWriter is the subset of the InfluxDB client used by PointSink.
type EventWriter interface {
	WriteAuthEvent(action, outcome, source string, ts time.Time)
}

// PointSink records each entry as a time-series point.
type PointSink struct {
	w EventWriter
}

// NewPointSink creates a sink writing through w.
func NewPointSink(w EventWriter) *PointSink {
	return &PointSink{w: w}
}

// Write records e. The underlying write is batched and never fails here.
func (s *PointSink) Write(_ context.Context, e Entry) error {
	s.w.WriteAuthEvent(string(e.Action), string(e.Outcome), e.Source, e.Timestamp)
	return nil
}

// EventCounter is the subset of the metrics registry used by CounterSink.
type EventCounter interface {
	IncAuthEvent(action, outcome string)
}

// CounterSink increments a counter per action and outcome.
type CounterSink struct {
	c EventCounter
}

// NewCounterSink creates a sink incrementing c.
func NewCounterSink(c EventCounter) *CounterSink {
	return &CounterSink{c: c}
}

// Write increments the counter for e.
func (s *CounterSink) Write(_ context.Context, e Entry) error {
	s.c.IncAuthEvent(string(e.Action), string(e.Outcome))
	return nil
}
