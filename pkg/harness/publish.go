package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/newtron-network/echobench/pkg/source"
	"github.com/newtron-network/echobench/pkg/trace"
	"github.com/newtron-network/echobench/pkg/util"
)

// Message is one JSON payload on the publish channel.
type Message struct {
	Type     string       `json:"type"` // start, event, result
	Run      string       `json:"run"`
	Schedule []string     `json:"schedule,omitempty"`
	Event    *trace.Event `json:"event,omitempty"`
	Result   *ResultView  `json:"result,omitempty"`
}

// ResultView is the published form of a Result.
type ResultView struct {
	Outcome    Outcome `json:"outcome"`
	Reason     string  `json:"reason,omitempty"`
	Error      string  `json:"error,omitempty"`
	Count      uint64  `json:"count"`
	Rotations  int     `json:"rotations"`
	Tolerated  int     `json:"tolerated"`
	Ticks      uint64  `json:"ticks"`
	DurationMS int64   `json:"duration_ms"`
	LastSource string  `json:"last_source,omitempty"`
	Pending    [2]int  `json:"pending"`
}

// RedisPublisher is a Reporter that publishes the run live on a Redis
// pub/sub channel. Nothing is stored in Redis.
type RedisPublisher struct {
	client  *redis.Client
	channel string
	run     string
	timeout time.Duration
}

// NewRedisPublisher connects to Redis and verifies the server answers.
func NewRedisPublisher(ctx context.Context, spec PublishSpec) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{Addr: spec.Addr, DB: spec.DB})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis %s: %w", spec.Addr, err)
	}
	return &RedisPublisher{client: client, channel: spec.Channel, timeout: 2 * time.Second}, nil
}

// Channel returns the pub/sub channel name.
func (p *RedisPublisher) Channel() string {
	return p.channel
}

// RunStart publishes a start message with the schedule's source names.
func (p *RedisPublisher) RunStart(cfg *Config, schedule source.Schedule) {
	p.run = cfg.Name
	p.publish(Message{Type: "start", Run: p.run, Schedule: schedule.Names()})
}

// Event publishes one trace event.
func (p *RedisPublisher) Event(e *trace.Event) {
	p.publish(Message{Type: "event", Run: p.run, Event: e})
}

// RunEnd publishes the run's result.
func (p *RedisPublisher) RunEnd(res *Result) {
	view := &ResultView{
		Outcome:    res.Outcome,
		Reason:     res.Reason(),
		Count:      res.Count,
		Rotations:  res.Rotations,
		Tolerated:  res.Tolerated,
		Ticks:      res.Ticks,
		DurationMS: res.Duration.Milliseconds(),
		LastSource: res.LastSource,
		Pending:    [2]int{res.PendingReceived, res.PendingEmitted},
	}
	if res.Err != nil {
		view.Error = res.Err.Error()
	}
	p.publish(Message{Type: "result", Run: p.run, Result: view})
}

// publish never fails the run; a lost message is logged.
func (p *RedisPublisher) publish(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		util.Warnf("publish: encoding %s message: %v", msg.Type, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		util.Warnf("publish: %s: %v", p.channel, err)
	}
}

// Close closes the Redis client.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
