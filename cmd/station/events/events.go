// Package events publishes assembly actions for dashboards and audit.
//
// Each event goes to the pub/sub channel assembly:events:<station> for live
// consumers and to the capped stream assembly:audit for later inspection.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	redisWrapper "github.com/lyzr/assembly/common/redis"
)

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Type names an assembly action
type Type string

const (
	TypeScan       Type = "assembly.scan"
	TypeCompleted  Type = "assembly.completed"
	TypeFallback   Type = "assembly.fallback"
	TypeRework     Type = "assembly.rework"
	TypeReconciled Type = "assembly.reconciled"
)

const (
	// AuditStream receives every event from every station
	AuditStream = "assembly:audit"

	// DefaultStreamMaxLen caps AuditStream
	DefaultStreamMaxLen int64 = 10000
)

// Event is one published assembly action
type Event struct {
	ID         string                 `json:"id"`
	Type       Type                   `json:"type"`
	StationID  string                 `json:"station_id,omitempty"`
	SessionID  string                 `json:"session_id,omitempty"`
	AssemblyID string                 `json:"assembly_id,omitempty"`
	VariantID  string                 `json:"variant_id,omitempty"`
	At         time.Time              `json:"at"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

// Publisher sends events. Publishing never fails the caller; errors are
// logged by the implementation.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

const (
	channelPrefix = "assembly:events:"

	// AllStations is the channel suffix of events not tied to a station
	AllStations = "all"

	// ChannelPattern matches the channel of every station
	ChannelPattern = channelPrefix + "*"
)

// Channel returns the pub/sub channel for a station
func Channel(stationID string) string {
	if stationID == "" {
		stationID = AllStations
	}
	return fmt.Sprintf("%s%s", channelPrefix, stationID)
}

// StationFromChannel is the inverse of Channel. It returns false for
// channels that are not assembly event channels.
func StationFromChannel(channel string) (string, bool) {
	stationID, ok := strings.CutPrefix(channel, channelPrefix)
	if !ok || stationID == "" {
		return "", false
	}
	return stationID, true
}

// Stamp fills in the id and time of an event when unset
func Stamp(event Event) Event {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	return event
}

// NopPublisher drops every event
type NopPublisher struct{}

// Publish implements Publisher
func (NopPublisher) Publish(context.Context, Event) {}

// RedisPublisher publishes events through Redis pub/sub and streams
type RedisPublisher struct {
	redis        *redisWrapper.Client
	streamMaxLen int64
	logger       Logger
}

// NewRedisPublisher creates a new Redis event publisher
func NewRedisPublisher(redis *redisWrapper.Client, streamMaxLen int64, logger Logger) *RedisPublisher {
	if streamMaxLen <= 0 {
		streamMaxLen = DefaultStreamMaxLen
	}
	return &RedisPublisher{
		redis:        redis,
		streamMaxLen: streamMaxLen,
		logger:       logger,
	}
}

// Publish implements Publisher
func (p *RedisPublisher) Publish(ctx context.Context, event Event) {
	event = Stamp(event)

	channel := Channel(event.StationID)
	if err := p.redis.PublishJSON(ctx, channel, event); err != nil {
		p.logger.Error("failed to publish assembly event",
			"channel", channel,
			"type", event.Type,
			"error", err)
	}

	values, err := StreamValues(event)
	if err != nil {
		p.logger.Error("failed to encode assembly event", "type", event.Type, "error", err)
		return
	}
	if _, err := p.redis.AddToStream(ctx, AuditStream, p.streamMaxLen, values); err != nil {
		p.logger.Error("failed to append assembly event to audit stream",
			"type", event.Type,
			"error", err)
		return
	}

	p.logger.Debug("published assembly event",
		"channel", channel,
		"type", event.Type,
		"assembly_id", event.AssemblyID)
}

// StreamValues flattens an event into stream fields
func StreamValues(event Event) (map[string]interface{}, error) {
	values := map[string]interface{}{
		"id":          event.ID,
		"type":        string(event.Type),
		"station_id":  event.StationID,
		"session_id":  event.SessionID,
		"assembly_id": event.AssemblyID,
		"variant_id":  event.VariantID,
		"at":          event.At.Format(time.RFC3339Nano),
	}
	if len(event.Data) > 0 {
		data, err := json.Marshal(event.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal event data: %w", err)
		}
		values["data"] = string(data)
	}
	return values, nil
}

// Recorder keeps published events in memory
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish implements Publisher
func (r *Recorder) Publish(_ context.Context, event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Stamp(event))
}

// Events returns a copy of the recorded events
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns the recorded events of type t
func (r *Recorder) OfType(t Type) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
