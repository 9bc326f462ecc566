// Package queue hands queued sync jobs to workers. The database backend only
// wakes the local poller; the redis backend delivers jobs through asynq.
package queue

import (
	"context"

	"github.com/pratik-mahalle/vitalsync/internal/domain/syncjob"
)

// Backend names accepted by the configuration
const (
	BackendDatabase = "database"
	BackendRedis    = "redis"
)

// Database is the queue of the database backend. The sync_jobs table is the
// queue itself, so Enqueue just nudges the poller to look early.
type Database struct {
	wake chan struct{}
}

// NewDatabase creates a database-backed queue
func NewDatabase() *Database {
	return &Database{wake: make(chan struct{}, 1)}
}

var _ syncjob.Queue = (*Database)(nil)

// Enqueue signals the poller. It never blocks.
func (d *Database) Enqueue(ctx context.Context, job *syncjob.Job) error {
	select {
	case d.wake <- struct{}{}:
	default:
	}
	return nil
}

// Wake fires after an enqueue
func (d *Database) Wake() <-chan struct{} {
	return d.wake
}
