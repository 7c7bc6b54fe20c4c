// Package workspace resets the execution workspace and container runtime
// state between pipeline runs.
//
// Clean is idempotent and never fails the run: an already-empty workspace
// or a runtime with nothing to prune is success, and unexpected errors are
// logged and absorbed. The cleaner must be the only writer of "clean"
// state; it runs once before the build stage and once on every exit path
// of a run that reached it.
package workspace

import (
	"context"
	"log"
	"os"
	"path/filepath"
)

// RuntimePruner tears down container runtime state for the environment
// namespace: stopped containers, unused images, volumes.
type RuntimePruner interface {
	Prune(ctx context.Context) error
}

// MetricsSink records cleanup observability signals.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	CleanupCompleted(failed bool)
}

type Cleaner struct {
	dir     string
	pruner  RuntimePruner // optional, nil = filesystem only
	metrics MetricsSink   // optional, nil = disabled
}

func New(dir string) *Cleaner {
	return &Cleaner{dir: dir}
}

// WithPruner attaches a container runtime pruner.
func (c *Cleaner) WithPruner(p RuntimePruner) *Cleaner {
	c.pruner = p
	return c
}

// WithMetrics attaches a metrics sink to the cleaner.
func (c *Cleaner) WithMetrics(sink MetricsSink) *Cleaner {
	c.metrics = sink
	return c
}

// Clean removes every entry of the workspace including hidden files and
// prunes container runtime state. Failures are logged, counted and
// absorbed; Clean never propagates an error to the run.
func (c *Cleaner) Clean(ctx context.Context) {
	failed := false

	if err := c.cleanDir(); err != nil {
		log.Printf("workspace: clean %s: %v", c.dir, err)
		failed = true
	}

	if c.pruner != nil {
		if err := c.pruner.Prune(ctx); err != nil {
			log.Printf("workspace: prune runtime: %v", err)
			failed = true
		}
	}

	if c.metrics != nil {
		c.metrics.CleanupCompleted(failed)
	}
}

func (c *Cleaner) cleanDir() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			// Nothing was ever checked out here. Recreate the root so the
			// next run has a workspace to clone into.
			return os.MkdirAll(c.dir, 0o755)
		}
		return err
	}

	var firstErr error
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(c.dir, entry.Name())); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
