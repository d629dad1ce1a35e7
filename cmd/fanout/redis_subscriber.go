package main

import (
	"context"
	"fmt"

	"github.com/lyzr/assembly/cmd/station/events"
	"github.com/redis/go-redis/v9"
)

// RedisSubscriber listens to the station event channels and forwards
// messages to the Hub
type RedisSubscriber struct {
	redis  *redis.Client
	hub    *Hub
	logger Logger
}

// NewRedisSubscriber creates a new RedisSubscriber instance
func NewRedisSubscriber(redisClient *redis.Client, hub *Hub, logger Logger) *RedisSubscriber {
	return &RedisSubscriber{
		redis:  redisClient,
		hub:    hub,
		logger: logger,
	}
}

// Start listens until ctx is cancelled. It fails only when the
// subscription cannot be set up.
func (s *RedisSubscriber) Start(ctx context.Context) error {
	pubsub := s.redis.PSubscribe(ctx, events.ChannelPattern)
	defer pubsub.Close()

	// Wait for confirmation that subscription was successful
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", events.ChannelPattern, err)
	}

	s.logger.Info("redis subscription confirmed", "pattern", events.ChannelPattern)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("redis subscriber stopping")
			return nil

		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			s.forward(ctx, msg.Channel, msg.Payload)
		}
	}
}

// forward hands one pub/sub payload to the hub
func (s *RedisSubscriber) forward(ctx context.Context, channel, payload string) {
	stationID, ok := events.StationFromChannel(channel)
	if !ok {
		s.logger.Warn("ignoring message on unexpected channel", "channel", channel)
		return
	}

	s.logger.Debug("received station event", "station_id", stationID, "size", len(payload))

	s.hub.Broadcast(ctx, &Message{
		StationID: stationID,
		Data:      []byte(payload),
	})
}
