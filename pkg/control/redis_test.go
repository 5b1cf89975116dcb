//go:build integration

package control

import (
	"context"
	"net/netip"
	"testing"

	"github.com/newtron-network/echobench/internal/testutil"
	"github.com/newtron-network/echobench/pkg/source"
)

func TestRedisSurface(t *testing.T) {
	testutil.SkipIfNoRedis(t)
	addr := testutil.RedisAddr()
	testutil.FlushDB(t, addr, 15)

	ctx := context.Background()
	s, err := NewRedisSurface(ctx, RedisOptions{Addr: addr, DB: 15, Key: "udp0"})
	if err != nil {
		t.Fatalf("NewRedisSurface: %v", err)
	}
	defer s.Close()

	if s.Key() != "DUT_CONTROL|udp0" {
		t.Errorf("Key() = %q", s.Key())
	}

	v, err := s.Read(ctx, source.RegisterAddress)
	if err != nil || v != 0 {
		t.Fatalf("missing field = %d, %v; want 0", v, err)
	}

	s1 := source.Address("server1", netip.MustParseAddr("192.168.2.11"))
	if err := Command(ctx, s, s1); err != nil {
		t.Fatalf("Command: %v", err)
	}

	fields := testutil.ReadEntry(t, addr, 15, ControlTable, "udp0")
	if fields["remote_ip_addr"] != "184723648" {
		t.Errorf("remote_ip_addr = %q, want 184723648", fields["remote_ip_addr"])
	}
	if ok, err := Selected(ctx, s, s1); err != nil || !ok {
		t.Errorf("Selected = %v, %v", ok, err)
	}

	testutil.WriteSingleEntry(t, addr, 15, ControlTable, "udp0", map[string]string{"t_dest": "bogus"})
	if _, err := s.Read(ctx, source.RegisterClass); err == nil {
		t.Error("non-numeric register should fail to read")
	}

	if err := s.Reset(ctx); err != nil {
		t.Fatal(err)
	}
	if testutil.EntryExists(t, addr, 15, ControlTable, "udp0") {
		t.Error("Reset should delete the hash")
	}
}

func TestNewRedisSurfaceRequiresKey(t *testing.T) {
	if _, err := NewRedisSurface(context.Background(), RedisOptions{Addr: "127.0.0.1:1"}); err == nil {
		t.Error("expected error for empty key")
	}
}
