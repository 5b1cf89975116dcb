package control

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"

	"github.com/newtron-network/echobench/pkg/source"
)

// ControlTable is the Redis table that holds DUT control registers. A
// bench named "udp0" keeps its registers in the hash "DUT_CONTROL|udp0",
// one field per register, decimal values.
const ControlTable = "DUT_CONTROL"

// RedisOptions locates the register hash. When SSHHost is set, Addr is
// resolved on that host and reached through an SSH tunnel.
type RedisOptions struct {
	Addr string
	DB   int
	Key  string

	SSHHost     string
	SSHUser     string
	SSHPassword string
}

// RedisSurface is a control surface shared with a co-simulation bridge
// through Redis.
type RedisSurface struct {
	client *redis.Client
	key    string
	owned  bool
	tunnel *SSHTunnel
}

// NewRedisSurface connects to Redis and verifies the server answers.
func NewRedisSurface(ctx context.Context, opts RedisOptions) (*RedisSurface, error) {
	if opts.Key == "" {
		return nil, fmt.Errorf("control: redis key is required")
	}
	addr := opts.Addr
	var tunnel *SSHTunnel
	if opts.SSHHost != "" {
		var err error
		tunnel, err = NewSSHTunnel(opts.SSHHost, opts.SSHUser, opts.SSHPassword, opts.Addr)
		if err != nil {
			return nil, fmt.Errorf("control: tunnel to %s: %w", opts.SSHHost, err)
		}
		addr = tunnel.LocalAddr()
	}

	client := redis.NewClient(&redis.Options{Addr: addr, DB: opts.DB})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		if tunnel != nil {
			tunnel.Close()
		}
		return nil, fmt.Errorf("control: redis %s: %w", opts.Addr, err)
	}
	s := NewRedisSurfaceFromClient(client, opts.Key)
	s.owned = true
	s.tunnel = tunnel
	return s, nil
}

// NewRedisSurfaceFromClient wraps an existing client. Close leaves the
// client open.
func NewRedisSurfaceFromClient(client *redis.Client, key string) *RedisSurface {
	return &RedisSurface{client: client, key: ControlTable + "|" + key}
}

// Key returns the full Redis key of the register hash.
func (s *RedisSurface) Key() string {
	return s.key
}

// Read implements Surface. A missing field reads as 0.
func (s *RedisSurface) Read(ctx context.Context, reg source.Register) (uint32, error) {
	val, err := s.client.HGet(ctx, s.key, string(reg)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("control: reading %s %s: %w", s.key, reg, err)
	}
	v, err := strconv.ParseUint(val, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("control: %s %s holds %q: %w", s.key, reg, val, err)
	}
	return uint32(v), nil
}

// Write implements Surface.
func (s *RedisSurface) Write(ctx context.Context, reg source.Register, value uint32) error {
	if err := s.client.HSet(ctx, s.key, string(reg), strconv.FormatUint(uint64(value), 10)).Err(); err != nil {
		return fmt.Errorf("control: writing %s %s: %w", s.key, reg, err)
	}
	return nil
}

// Reset clears every register.
func (s *RedisSurface) Reset(ctx context.Context) error {
	return s.client.Del(ctx, s.key).Err()
}

// Close releases the client and tunnel if the surface created them.
func (s *RedisSurface) Close() error {
	if !s.owned {
		return nil
	}
	err := s.client.Close()
	if s.tunnel != nil {
		if terr := s.tunnel.Close(); err == nil {
			err = terr
		}
	}
	return err
}
