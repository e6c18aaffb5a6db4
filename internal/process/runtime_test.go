package process

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/beacon-fence-core/internal/beacon"
	"github.com/nerrad567/beacon-fence-core/internal/dispatch"
)

// TestHelperProcess is the callback runtime used by these tests. It is only
// active when launched by helperRuntime.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("BEACONFENCE_WANT_HELPER") != "1" {
		return
	}
	defer os.Exit(0)

	mode := os.Getenv("BEACONFENCE_HELPER_MODE")
	if mode == "silent" {
		_, _ = io.Copy(io.Discard, os.Stdin)
		return
	}

	out := json.NewEncoder(os.Stdout)
	os.Stdout.WriteString("callback runtime starting\n")
	_ = out.Encode(reply{Type: msgReady})

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		var req request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			continue
		}
		switch req.Item.RegionID {
		case "hang":
			continue
		case "crash":
			os.Exit(3)
		case "fail":
			_ = out.Encode(reply{Type: msgDone, ID: req.ID, Error: "boom"})
		default:
			ok := mode != "handle" || os.Getenv(HandleEnv) == "4242"
			_ = out.Encode(reply{Type: msgDone, ID: req.ID, OK: ok, Error: "wrong handle"})
		}
	}
}

type fakeHandles struct {
	handle int64
	ok     bool
	err    error
}

func (f fakeHandles) DispatcherHandle(context.Context) (int64, bool, error) {
	return f.handle, f.ok, f.err
}

func helperRuntime(mode string, handles HandleSource) *Runtime {
	return NewRuntime(RuntimeConfig{
		Binary: os.Args[0],
		Args:   []string{"-test.run=TestHelperProcess", "--"},
		Env: []string{
			"BEACONFENCE_WANT_HELPER=1",
			"BEACONFENCE_HELPER_MODE=" + mode,
		},
		ReadyTimeout:    5 * time.Second,
		DeliveryTimeout: 5 * time.Second,
		GracefulTimeout: time.Second,
	}, handles)
}

// startContext creates a context and waits until it reports ready.
func startContext(t *testing.T, rt *Runtime) dispatch.ExecutionContext {
	t.Helper()
	ready := make(chan struct{})
	var once sync.Once
	ectx, err := rt.CreateContext(func() { once.Do(func() { close(ready) }) })
	if err != nil {
		t.Fatalf("CreateContext() error = %v", err)
	}
	t.Cleanup(ectx.Destroy)

	select {
	case <-ready:
	case <-time.After(10 * time.Second):
		t.Fatal("runtime never became ready")
	}
	if !ectx.IsReady() {
		t.Error("IsReady() = false after onReady")
	}
	return ectx
}

func deliver(t *testing.T, ectx dispatch.ExecutionContext, regionID string) error {
	t.Helper()
	result := make(chan error, 1)
	ectx.Deliver(beacon.DispatchItem{RegionID: regionID, Kind: beacon.EventEnter, RSSI: beacon.Int(-60)}, func(err error) {
		result <- err
	})
	select {
	case err := <-result:
		return err
	case <-time.After(10 * time.Second):
		t.Fatalf("delivery to %q never completed", regionID)
		return nil
	}
}

func TestRuntime_Deliver(t *testing.T) {
	ectx := startContext(t, helperRuntime("echo", fakeHandles{handle: 1, ok: true}))

	for _, id := range []string{"b1", "b2", "b3"} {
		if err := deliver(t, ectx, id); err != nil {
			t.Errorf("deliver(%s) error = %v", id, err)
		}
	}
	if err := deliver(t, ectx, "fail"); !errors.Is(err, ErrCallbackFailed) {
		t.Errorf("deliver(fail) error = %v, want ErrCallbackFailed", err)
	}
}

func TestRuntime_PassesDispatcherHandle(t *testing.T) {
	ectx := startContext(t, helperRuntime("handle", fakeHandles{handle: 4242, ok: true}))
	if err := deliver(t, ectx, "b1"); err != nil {
		t.Errorf("deliver() error = %v, want runtime to see handle 4242", err)
	}
}

func TestRuntime_MissingHandle(t *testing.T) {
	rt := helperRuntime("echo", fakeHandles{})
	if _, err := rt.CreateContext(func() {}); !errors.Is(err, ErrNoDispatcherHandle) {
		t.Errorf("CreateContext() error = %v, want ErrNoDispatcherHandle", err)
	}

	boom := errors.New("store down")
	rt = helperRuntime("echo", fakeHandles{err: boom})
	if _, err := rt.CreateContext(func() {}); !errors.Is(err, boom) {
		t.Errorf("CreateContext() error = %v, want wrapped store error", err)
	}

	rt = NewRuntime(RuntimeConfig{}, fakeHandles{handle: 1, ok: true})
	if _, err := rt.CreateContext(func() {}); !errors.Is(err, ErrNoBinary) {
		t.Errorf("CreateContext() error = %v, want ErrNoBinary", err)
	}
}

func TestRuntime_DeliveryTimeout(t *testing.T) {
	rt := helperRuntime("echo", fakeHandles{handle: 1, ok: true})
	rt.cfg.DeliveryTimeout = 200 * time.Millisecond
	ectx := startContext(t, rt)

	if err := deliver(t, ectx, "hang"); !errors.Is(err, ErrDeliveryTimeout) {
		t.Errorf("deliver(hang) error = %v, want ErrDeliveryTimeout", err)
	}
	// The runtime keeps serving after a timeout.
	if err := deliver(t, ectx, "b1"); err != nil {
		t.Errorf("deliver after timeout error = %v", err)
	}
}

func TestRuntime_ExitDuringDelivery(t *testing.T) {
	ectx := startContext(t, helperRuntime("echo", fakeHandles{handle: 1, ok: true}))

	if err := deliver(t, ectx, "crash"); !errors.Is(err, ErrProcessExited) {
		t.Fatalf("deliver(crash) error = %v, want ErrProcessExited", err)
	}
	if err := deliver(t, ectx, "b1"); !errors.Is(err, ErrProcessExited) {
		t.Errorf("deliver after exit error = %v, want ErrProcessExited", err)
	}
}

func TestRuntime_NeverReady(t *testing.T) {
	rt := helperRuntime("silent", fakeHandles{handle: 1, ok: true})
	rt.cfg.ReadyTimeout = 200 * time.Millisecond
	ectx := startContext(t, rt)

	if err := deliver(t, ectx, "b1"); !errors.Is(err, ErrNotReady) {
		t.Errorf("deliver() error = %v, want ErrNotReady", err)
	}
}

func TestRuntime_DestroyStopsProcess(t *testing.T) {
	rt := helperRuntime("echo", fakeHandles{handle: 1, ok: true})
	ectx := startContext(t, rt)
	c := ectx.(*callbackContext)

	ectx.Destroy()
	if c.mgr.IsRunning() {
		t.Error("runtime process still running after Destroy")
	}
}

func TestRuntime_WithDispatcher(t *testing.T) {
	rt := helperRuntime("echo", fakeHandles{handle: 1, ok: true})
	d := dispatch.New(rt)

	for _, id := range []string{"a", "fail", "b", "c"} {
		if err := d.Enqueue(beacon.DispatchItem{RegionID: id, Kind: beacon.EventExit}); err != nil {
			t.Fatalf("Enqueue(%s) error = %v", id, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := d.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	stats := d.Stats()
	if stats.Delivered != 3 || stats.Failed != 1 || stats.ContextsCreated != 1 {
		t.Errorf("Stats() = %+v, want 3 delivered, 1 failed, 1 context", stats)
	}
}

func TestRuntime_DispatcherDropsWithoutHandle(t *testing.T) {
	d := dispatch.New(helperRuntime("echo", fakeHandles{}))

	var (
		mu      sync.Mutex
		dropped []error
	)
	d.SetDropHandler(func(_ beacon.DispatchItem, err error) {
		mu.Lock()
		dropped = append(dropped, err)
		mu.Unlock()
	})

	_ = d.Enqueue(beacon.DispatchItem{RegionID: "b1", Kind: beacon.EventEnter})

	mu.Lock()
	defer mu.Unlock()
	if len(dropped) != 1 || !errors.Is(dropped[0], dispatch.ErrDeliveryDropped) || !errors.Is(dropped[0], ErrNoDispatcherHandle) {
		t.Errorf("dropped = %v, want one ErrDeliveryDropped wrapping ErrNoDispatcherHandle", dropped)
	}
}

func TestRuntime_DispatcherDropsWhenNeverReady(t *testing.T) {
	rt := helperRuntime("silent", fakeHandles{handle: 1, ok: true})
	rt.cfg.ReadyTimeout = 200 * time.Millisecond
	d := dispatch.New(rt)

	var (
		mu      sync.Mutex
		dropped []error
	)
	d.SetDropHandler(func(_ beacon.DispatchItem, err error) {
		mu.Lock()
		dropped = append(dropped, err)
		mu.Unlock()
	})

	_ = d.Enqueue(beacon.DispatchItem{RegionID: "b1", Kind: beacon.EventEnter})
	_ = d.Enqueue(beacon.DispatchItem{RegionID: "b2", Kind: beacon.EventExit})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(dropped) != 2 {
		t.Fatalf("dropped %d items, want 2", len(dropped))
	}
	for _, err := range dropped {
		if !errors.Is(err, dispatch.ErrDeliveryDropped) || !errors.Is(err, ErrNotReady) {
			t.Errorf("drop error = %v, want ErrDeliveryDropped wrapping ErrNotReady", err)
		}
	}
}
