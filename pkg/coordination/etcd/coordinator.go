// Package etcd implements coordination.Coordinator on top of etcd's
// concurrency primitives: a session-scoped concurrency.Mutex per
// repository path, and a worker registry under a well-known prefix.
package etcd

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"

	"alephauto/pkg/coordination"
	"alephauto/pkg/metrics"
)

const (
	lockPrefix   = "/alephauto/repo-locks/"
	workerPrefix = "/alephauto/workers/"
)

// Coordinator holds one etcd session and a live mutex per currently locked
// repository path.
type Coordinator struct {
	client  *clientv3.Client
	session *concurrency.Session

	mu      sync.Mutex
	mutexes map[string]*concurrency.Mutex

	workerID string
}

// New dials etcd and opens a keepalive session with the given TTL (seconds).
func New(endpoints []string, ttl int) (*Coordinator, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("coordination: connect to etcd: %w", err)
	}

	sess, err := concurrency.NewSession(cli, concurrency.WithTTL(ttl))
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("coordination: create session: %w", err)
	}

	return &Coordinator{
		client:  cli,
		session: sess,
		mutexes: make(map[string]*concurrency.Mutex),
	}, nil
}

func (c *Coordinator) Close() error {
	c.mu.Lock()
	for path, m := range c.mutexes {
		_ = m.Unlock(context.Background())
		delete(c.mutexes, path)
	}
	c.mu.Unlock()

	if c.session != nil {
		_ = c.session.Close()
	}
	return c.client.Close()
}

// Lock acquires a distributed mutex scoped to repoPath, serializing every
// pipeline worker in the cluster that touches the same working tree.
func (c *Coordinator) Lock(ctx context.Context, repoPath string) error {
	// Trailing slash is required: concurrency.Mutex appends the lease's
	// hex id directly to the prefix with no separator of its own, and
	// repoPath itself may contain slashes — HeldLocks relies on the lease
	// id always being the final "/"-delimited segment to recover repoPath.
	m := concurrency.NewMutex(c.session, lockPrefix+repoPath+"/")
	if err := m.Lock(ctx); err != nil {
		return fmt.Errorf("coordination: lock %s: %w", repoPath, err)
	}
	c.mu.Lock()
	c.mutexes[repoPath] = m
	held := len(c.mutexes)
	c.mu.Unlock()
	metrics.HeldRepoLocks.Set(float64(held))
	return nil
}

// Unlock releases the mutex for repoPath. A missing entry (already
// released, or the session expired and the lease was reaped) is not an
// error.
func (c *Coordinator) Unlock(ctx context.Context, repoPath string) error {
	c.mu.Lock()
	m, ok := c.mutexes[repoPath]
	if ok {
		delete(c.mutexes, repoPath)
	}
	c.mu.Unlock()
	if !ok {
		return nil
	}
	if err := m.Unlock(ctx); err != nil {
		return fmt.Errorf("coordination: unlock %s: %w", repoPath, err)
	}
	c.mu.Lock()
	held := len(c.mutexes)
	c.mu.Unlock()
	metrics.HeldRepoLocks.Set(float64(held))
	return nil
}

// RegisterWorker publishes id under the worker registry, tied to this
// Coordinator's session lease so it disappears automatically on crash.
func (c *Coordinator) RegisterWorker(ctx context.Context, id string) error {
	c.workerID = id
	_, err := c.client.Put(ctx, workerPrefix+id, time.Now().UTC().Format(time.RFC3339), clientv3.WithLease(c.session.Lease()))
	if err != nil {
		return fmt.Errorf("coordination: register worker %s: %w", id, err)
	}
	return nil
}

// ActiveWorkers lists every currently registered worker id.
func (c *Coordinator) ActiveWorkers(ctx context.Context) ([]string, error) {
	resp, err := c.client.Get(ctx, workerPrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("coordination: list workers: %w", err)
	}
	ids := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		ids = append(ids, strings.TrimPrefix(string(kv.Key), workerPrefix))
	}
	metrics.ActiveWorkers.Set(float64(len(ids)))
	return ids, nil
}

// HeldLocks lists every repository path with an active lock, naming its
// holder: the key under that path with the lowest create revision. The
// holder is reported as the worker id registered under the same session
// lease, or as the hex lease id when no registered worker shares that
// lease. This reflects cluster-wide state (via the lock prefix), not just
// this process's own mutexes.
func (c *Coordinator) HeldLocks(ctx context.Context) (map[string]string, error) {
	resp, err := c.client.Get(ctx, lockPrefix, clientv3.WithPrefix(), clientv3.WithSort(clientv3.SortByCreateRevision, clientv3.SortAscend))
	if err != nil {
		return nil, fmt.Errorf("coordination: list locks: %w", err)
	}
	workers, err := c.client.Get(ctx, workerPrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("coordination: list workers: %w", err)
	}
	byLease := make(map[int64]string, len(workers.Kvs))
	for _, kv := range workers.Kvs {
		byLease[kv.Lease] = strings.TrimPrefix(string(kv.Key), workerPrefix)
	}

	held := make(map[string]string)
	for _, kv := range resp.Kvs {
		key := strings.TrimPrefix(string(kv.Key), lockPrefix)
		idx := strings.LastIndex(key, "/")
		if idx < 0 {
			continue
		}
		repoPath := key[:idx]
		if _, exists := held[repoPath]; !exists {
			holder, ok := byLease[kv.Lease]
			if !ok {
				holder = key[idx+1:]
			}
			held[repoPath] = holder
		}
	}
	return held, nil
}

var _ coordination.Coordinator = (*Coordinator)(nil)
