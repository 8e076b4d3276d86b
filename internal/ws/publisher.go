// Package ws publishes private trading events to Redis.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

const privateUserEventChannelTemplate = "private:user:{userId}:events"

// Publisher publishes private events.
type Publisher struct {
	client        *redis.Client
	channelFormat string
	hasUserID     bool
}

// NewPublisher creates a publisher.
func NewPublisher(client *redis.Client, channel string) *Publisher {
	if channel == "" {
		channel = privateUserEventChannelTemplate
	}
	format, hasUserID := normalizeUserChannelFormat(channel)
	return &Publisher{
		client:        client,
		channelFormat: format,
		hasUserID:     hasUserID,
	}
}

// PublishOrderOpened publishes an order opened event for the user.
func (p *Publisher) PublishOrderOpened(ctx context.Context, userID int64, order interface{}) error {
	return p.publish(ctx, userID, "order", "opened", order)
}

// PublishOrderClosed publishes an order closed event for the user.
func (p *Publisher) PublishOrderClosed(ctx context.Context, userID int64, order interface{}) error {
	return p.publish(ctx, userID, "order", "closed", order)
}

// PublishOrderSettled publishes a settlement event for the user.
func (p *Publisher) PublishOrderSettled(ctx context.Context, userID int64, order interface{}) error {
	return p.publish(ctx, userID, "settlement", "settled", order)
}

func (p *Publisher) publish(ctx context.Context, userID int64, channel string, event string, data interface{}) error {
	payload := map[string]interface{}{
		"channel": channel,
		"data":    data,
	}
	if event != "" {
		payload["event"] = event
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	targetChannel := p.channelFormat
	if p.hasUserID {
		targetChannel = fmt.Sprintf(p.channelFormat, userID)
	}
	return p.client.Publish(ctx, targetChannel, raw).Err()
}

func normalizeUserChannelFormat(channel string) (string, bool) {
	if strings.Contains(channel, "{userId}") {
		return strings.ReplaceAll(channel, "{userId}", "%d"), true
	}
	return channel, false
}
