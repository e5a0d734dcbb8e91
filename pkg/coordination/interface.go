// Package coordination provides cross-process serialization for the Git
// Workflow Manager: concurrent jobs against the same repository path must
// be serialized, since the working tree is exclusively owned by whichever
// job holds it.
package coordination

import "context"

// RepoLock serializes access to one repository path across every worker
// process in the cluster.
type RepoLock interface {
	// Lock blocks until the named repository path is exclusively held by
	// this process, or ctx is cancelled.
	Lock(ctx context.Context, repoPath string) error

	// Unlock releases a previously acquired lock. Safe to call even if the
	// underlying session has already expired.
	Unlock(ctx context.Context, repoPath string) error
}

// Coordinator issues RepoLocks and reports the set of worker processes
// currently registered in the cluster.
type Coordinator interface {
	RepoLock

	// RegisterWorker announces this process's presence under id, refreshed
	// by the underlying session's keepalive until Close.
	RegisterWorker(ctx context.Context, id string) error

	// ActiveWorkers lists the ids of currently registered workers.
	ActiveWorkers(ctx context.Context) ([]string, error)

	// HeldLocks lists repository paths currently locked, each with the
	// worker id that holds it.
	HeldLocks(ctx context.Context) (map[string]string, error)

	Close() error
}
