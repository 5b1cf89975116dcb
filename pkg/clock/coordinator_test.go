package clock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestRunOrdersMembersWithinTick(t *testing.T) {
	c := New()
	names := []string{"bench", "sampler", "arbiter"}
	members := make([]*Member, len(names))
	for i, n := range names {
		members[i] = c.Join(n)
	}

	var mu sync.Mutex
	var trace []string

	var wg sync.WaitGroup
	for _, m := range members {
		wg.Add(1)
		go func(m *Member) {
			defer wg.Done()
			for {
				tick, err := m.Next(context.Background())
				if err != nil {
					return
				}
				mu.Lock()
				trace = append(trace, fmt.Sprintf("%d:%s", tick, m.Name()))
				mu.Unlock()
			}
		}(m)
	}

	err := c.Run(context.Background(), 3)
	if !errors.Is(err, ErrTickLimit) {
		t.Fatalf("Run() = %v, want ErrTickLimit", err)
	}
	wg.Wait()

	want := []string{
		"1:bench", "1:sampler", "1:arbiter",
		"2:bench", "2:sampler", "2:arbiter",
		"3:bench", "3:sampler", "3:arbiter",
	}
	if len(trace) != len(want) {
		t.Fatalf("trace = %v, want %v", trace, want)
	}
	for i := range want {
		if trace[i] != want[i] {
			t.Errorf("trace[%d] = %s, want %s", i, trace[i], want[i])
		}
	}
}

func TestRunReturnsWhenAllMembersLeave(t *testing.T) {
	c := New()
	m := c.Join("arbiter")

	go func() {
		for {
			tick, err := m.Next(context.Background())
			if err != nil {
				return
			}
			if tick == 5 {
				m.Leave()
				return
			}
		}
	}()

	if err := c.Run(context.Background(), 0); err != nil {
		t.Fatalf("Run() = %v, want nil", err)
	}
	if got := c.Tick(); got != 5 {
		t.Errorf("Tick() = %d, want 5", got)
	}
}

func TestLeaveSkipsMemberOnLaterTicks(t *testing.T) {
	c := New()
	early := c.Join("early")
	late := c.Join("late")

	var lateTicks int
	go func() {
		if _, err := early.Next(context.Background()); err == nil {
			early.Leave()
		}
	}()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, err := late.Next(context.Background()); err != nil {
				return
			}
			lateTicks++
		}
	}()

	err := c.Run(context.Background(), 4)
	if !errors.Is(err, ErrTickLimit) {
		t.Fatalf("Run() = %v, want ErrTickLimit", err)
	}
	<-done
	if lateTicks != 4 {
		t.Errorf("late member ran %d ticks, want 4", lateTicks)
	}
}

func TestRunHonorsContextCancel(t *testing.T) {
	c := New()
	m := c.Join("spinner")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		for {
			if _, err := m.Next(ctx); err != nil {
				errc <- err
				return
			}
		}
	}()

	err := c.Run(ctx, 0)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run() = %v, want DeadlineExceeded", err)
	}
	select {
	case merr := <-errc:
		if merr == nil {
			t.Error("member should see an error after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("member still blocked after cancel")
	}
}

func TestStopReleasesWaiters(t *testing.T) {
	c := New()
	m := c.Join("waiter")

	errc := make(chan error, 1)
	go func() {
		_, err := m.Next(context.Background())
		errc <- err
	}()

	time.Sleep(10 * time.Millisecond)
	c.Stop()

	select {
	case err := <-errc:
		if !errors.Is(err, ErrStopped) {
			t.Errorf("Next() = %v, want ErrStopped", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Next still blocked after Stop")
	}
}
