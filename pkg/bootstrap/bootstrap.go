// Package bootstrap binds the process's listening port with sequential
// fallback and runs an http.Server with signal-driven graceful shutdown.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// ErrNoPortAvailable is terminal: the whole sweep range was in use.
var ErrNoPortAvailable = errors.New("bootstrap: no port available in sweep range")

// Listen binds to preferredPort; on address-in-use it tries
// preferredPort+1 .. preferredPort+fallbackCount in order and returns the
// first listener that binds. It does not wrap around. Any error other than
// address-in-use aborts the sweep immediately.
func Listen(preferredPort, fallbackCount int) (net.Listener, int, error) {
	for port := preferredPort; port <= preferredPort+fallbackCount; port++ {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err == nil {
			return ln, ln.Addr().(*net.TCPAddr).Port, nil
		}
		if !isAddrInUse(err) {
			return nil, 0, fmt.Errorf("bootstrap: bind port %d: %w", port, err)
		}
	}
	return nil, 0, ErrNoPortAvailable
}

func isAddrInUse(err error) bool {
	var sysErr *os.SyscallError
	if errors.As(err, &sysErr) {
		return errors.Is(sysErr.Err, syscall.EADDRINUSE)
	}
	return errors.Is(err, syscall.EADDRINUSE)
}

// Serve runs srv on ln until the process receives SIGINT/SIGTERM or ctx is
// cancelled, then stops accepting new connections and waits up to
// drainTimeout for in-flight requests before forcing the server closed.
// It mirrors the goroutine+signal-channel+select idiom the rest of the
// codebase uses for its own process lifecycle.
func Serve(ctx context.Context, srv *http.Server, ln net.Listener, drainTimeout time.Duration) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("bootstrap: graceful shutdown: %w", err)
	}
	return <-errCh
}
