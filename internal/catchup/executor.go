package catchup

import (
	"golang.org/x/sync/errgroup"
)

// Executor runs submitted jobs. Submit must not block on the job.
type Executor interface {
	Submit(job func())
}

// GoExecutor runs each job on its own goroutine.
type GoExecutor struct {
	g errgroup.Group
}

// NewGoExecutor creates a GoExecutor.
func NewGoExecutor() *GoExecutor {
	return &GoExecutor{}
}

// Submit implements Executor.
func (e *GoExecutor) Submit(job func()) {
	e.g.Go(func() error {
		job()
		return nil
	})
}

// Wait blocks until every submitted job has finished.
func (e *GoExecutor) Wait() {
	_ = e.g.Wait()
}

// InlineExecutor runs jobs synchronously on the caller's goroutine.
type InlineExecutor struct{}

// Submit implements Executor.
func (InlineExecutor) Submit(job func()) {
	job()
}
