package events

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"
)

// RedisStream appends events to a Redis stream with XADD.
type RedisStream struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisStream returns a publisher writing to stream. A positive maxLen
// caps the stream length approximately.
func NewRedisStream(client *redis.Client, stream string, maxLen int64) *RedisStream {
	return &RedisStream{client: client, stream: stream, maxLen: maxLen}
}

// DialRedis parses a redis:// URL and verifies the server answers PING.
func DialRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (r *RedisStream) Publish(ctx context.Context, ev Event) error {
	args := &redis.XAddArgs{
		Stream: r.stream,
		Values: map[string]interface{}{
			"kind":       ev.Kind,
			"actor":      ev.Actor,
			"patient_id": ev.PatientID,
			"data_hash":  ev.DataHash,
			"detail":     ev.Detail,
			"at":         strconv.FormatInt(ev.At, 10),
		},
	}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}
	if err := r.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", r.stream, err)
	}
	return nil
}

// EventFromValues rebuilds an Event from stream message values.
func EventFromValues(values map[string]interface{}) Event {
	str := func(k string) string {
		s, _ := values[k].(string)
		return s
	}
	at, _ := strconv.ParseInt(str("at"), 10, 64)
	return Event{
		Kind:      str("kind"),
		Actor:     str("actor"),
		PatientID: str("patient_id"),
		DataHash:  str("data_hash"),
		Detail:    str("detail"),
		At:        at,
	}
}
