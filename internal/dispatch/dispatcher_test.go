package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDispatch_RunsTask(t *testing.T) {
	d := New(0)
	defer d.Close(context.Background())

	done := make(chan struct{})
	handle, err := d.Dispatch(func(ctx context.Context) error {
		close(done)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if handle == (Handle{}) {
		t.Error("expected a non-zero handle")
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task never ran")
	}
}

func TestDispatch_RespectsConcurrencyLimit(t *testing.T) {
	const limit = 2
	d := New(limit)
	defer d.Close(context.Background())

	var running, peak int32
	var mu sync.Mutex
	release := make(chan struct{})

	for i := 0; i < 6; i++ {
		_, err := d.Dispatch(func(ctx context.Context) error {
			n := atomic.AddInt32(&running, 1)
			mu.Lock()
			if n > peak {
				peak = n
			}
			mu.Unlock()
			<-release
			atomic.AddInt32(&running, -1)
			return nil
		})
		if err != nil {
			t.Fatalf("dispatch %d failed: %v", i, err)
		}
	}

	time.Sleep(50 * time.Millisecond)
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := d.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if peak > limit {
		t.Errorf("observed %d concurrent tasks, limit is %d", peak, limit)
	}
}

func TestCancel_SignalsTaskContext(t *testing.T) {
	d := New(0)
	defer d.Close(context.Background())

	started := make(chan struct{})
	observed := make(chan error, 1)

	handle, err := d.Dispatch(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		observed <- ctx.Err()
		return ctx.Err()
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	<-started
	if !d.Cancel(handle) {
		t.Error("Cancel should report the unit as live")
	}

	select {
	case err := <-observed:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("task never observed cancellation")
	}
}

func TestCancel_UnknownHandle(t *testing.T) {
	d := New(0)
	defer d.Close(context.Background())

	var handle Handle
	if d.Cancel(handle) {
		t.Error("Cancel of an unknown handle should report false")
	}
}

func TestDispatchGroup_JoinReturnsSubmissionOrder(t *testing.T) {
	d := New(0)
	defer d.Close(context.Background())

	// Tasks complete in reverse submission order; results must still
	// come back in submission order.
	const n = 5
	tasks := make([]Task, n)
	for i := 0; i < n; i++ {
		i := i
		tasks[i] = func(ctx context.Context) error {
			time.Sleep(time.Duration(n-i) * 10 * time.Millisecond)
			if i%2 == 1 {
				return fmt.Errorf("task %d failed", i)
			}
			return nil
		}
	}

	group, err := d.DispatchGroup(context.Background(), tasks)
	if err != nil {
		t.Fatalf("dispatch group: %v", err)
	}

	results, err := group.Join(context.Background())
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if len(results) != n {
		t.Fatalf("expected %d results, got %d", n, len(results))
	}
	for i, res := range results {
		if i%2 == 1 {
			want := fmt.Sprintf("task %d failed", i)
			if res == nil || res.Error() != want {
				t.Errorf("result %d = %v, want %q", i, res, want)
			}
		} else if res != nil {
			t.Errorf("result %d = %v, want nil", i, res)
		}
	}
}

func TestDispatchGroup_MembersInheritCallerContext(t *testing.T) {
	d := New(0)
	defer d.Close(context.Background())

	callerCtx, cancelCaller := context.WithCancel(context.Background())

	started := make(chan struct{})
	group, err := d.DispatchGroup(callerCtx, []Task{
		func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		},
	})
	if err != nil {
		t.Fatalf("dispatch group: %v", err)
	}

	<-started
	cancelCaller()

	results, err := group.Join(context.Background())
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if !errors.Is(results[0], context.Canceled) {
		t.Errorf("member should observe caller cancellation, got %v", results[0])
	}
}

func TestJoin_ReturnsEarlyOnContextCancel(t *testing.T) {
	d := New(0)
	defer d.Close(context.Background())

	release := make(chan struct{})
	defer close(release)

	group, err := d.DispatchGroup(context.Background(), []Task{
		func(ctx context.Context) error {
			<-release
			return nil
		},
	})
	if err != nil {
		t.Fatalf("dispatch group: %v", err)
	}

	joinCtx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := group.Join(joinCtx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled from Join, got %v", err)
	}
}

func TestGroup_BypassesGlobalLimit(t *testing.T) {
	// A coordinating unit holding the only slot must still be able to
	// run its group members.
	d := New(1)
	defer d.Close(context.Background())

	done := make(chan error, 1)
	_, err := d.Dispatch(func(ctx context.Context) error {
		group, err := d.DispatchGroup(ctx, []Task{
			func(ctx context.Context) error { return nil },
			func(ctx context.Context) error { return nil },
		})
		if err != nil {
			done <- err
			return err
		}
		_, err = group.Join(ctx)
		done <- err
		return err
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("coordinating unit failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("deadlock: group members starved by the coordinating unit's slot")
	}
}

func TestClose_RejectsNewWork(t *testing.T) {
	d := New(0)
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, err := d.Dispatch(func(ctx context.Context) error { return nil }); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if _, err := d.DispatchGroup(context.Background(), nil); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed from DispatchGroup, got %v", err)
	}
}

func TestClose_CancelsInFlightOnExpiry(t *testing.T) {
	d := New(0)

	observed := make(chan struct{})
	_, err := d.Dispatch(func(ctx context.Context) error {
		<-ctx.Done()
		close(observed)
		return ctx.Err()
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := d.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline error, got %v", err)
	}

	select {
	case <-observed:
	case <-time.After(time.Second):
		t.Fatal("in-flight unit never saw the close cancellation")
	}
}

func TestLive_TracksUnits(t *testing.T) {
	d := New(0)
	defer d.Close(context.Background())

	release := make(chan struct{})
	for i := 0; i < 3; i++ {
		if _, err := d.Dispatch(func(ctx context.Context) error {
			<-release
			return nil
		}); err != nil {
			t.Fatalf("dispatch: %v", err)
		}
	}

	if live := d.Live(); live != 3 {
		t.Errorf("Live() = %d, want 3", live)
	}
	close(release)

	deadline := time.Now().Add(time.Second)
	for d.Live() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("Live() never drained, still %d", d.Live())
		}
		time.Sleep(5 * time.Millisecond)
	}
}
