package bootstrap

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"
)

func TestListen_BindsPreferredPort(t *testing.T) {
	ln, port, err := Listen(0, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer ln.Close()
	if port == 0 {
		t.Errorf("expected a bound port, got 0")
	}
}

func TestListen_FallsBackWhenPortTaken(t *testing.T) {
	blocker, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("failed to reserve a port: %v", err)
	}
	defer blocker.Close()

	preferred := blocker.Addr().(*net.TCPAddr).Port

	ln, port, err := Listen(preferred, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer ln.Close()
	if port == preferred {
		t.Errorf("expected fallback to a different port than %d", preferred)
	}
}

func TestListen_NoPortAvailable(t *testing.T) {
	blocker, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("failed to reserve a port: %v", err)
	}
	defer blocker.Close()
	preferred := blocker.Addr().(*net.TCPAddr).Port

	_, _, err = Listen(preferred, 0)
	if err != ErrNoPortAvailable {
		t.Errorf("expected ErrNoPortAvailable, got %v", err)
	}
}

func TestServe_ShutsDownOnContextCancel(t *testing.T) {
	ln, _, err := Listen(0, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	srv := &http.Server{Handler: http.NewServeMux()}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, srv, ln, 1*time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected clean shutdown, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after context cancellation")
	}
}

func TestReadCapacity(t *testing.T) {
	cap, err := ReadCapacity(context.Background())
	if err != nil {
		t.Skipf("capacity metrics unavailable on this host: %v", err)
	}
	if cap.MemTotalBytes == 0 {
		t.Errorf("expected non-zero total memory")
	}
}
