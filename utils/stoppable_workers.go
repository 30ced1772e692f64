// Package utils contains goroutine and queue helpers shared by the relay and the controller.
package utils

import (
	"context"
	"sync"

	goutils "go.viam.com/utils"
)

// StoppableWorkers runs goroutines that share one cancellable context. The relay hub, its peer
// writers and the client connection loop all live in one.
type StoppableWorkers struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

// NewStoppableWorkers starts funcs with a context derived from parent. The workers stop when
// parent is done or Stop is called.
func NewStoppableWorkers(parent context.Context, funcs ...func(context.Context)) *StoppableWorkers {
	ctx, cancel := context.WithCancel(parent)
	sw := &StoppableWorkers{ctx: ctx, cancel: cancel}
	sw.AddWorkers(funcs...)
	return sw
}

// AddWorkers starts more workers. It does nothing once Stop was called, so a worker racing with
// shutdown is never left running.
func (sw *StoppableWorkers) AddWorkers(funcs ...func(context.Context)) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.stopped {
		return
	}
	sw.wg.Add(len(funcs))
	for _, f := range funcs {
		goutils.PanicCapturingGo(func() {
			defer sw.wg.Done()
			f(sw.ctx)
		})
	}
}

// Stop cancels the workers and waits for them to return. Workers may call AddWorkers while Stop
// waits; those calls are ignored.
func (sw *StoppableWorkers) Stop() {
	sw.mu.Lock()
	sw.stopped = true
	sw.mu.Unlock()

	sw.cancel()
	sw.wg.Wait()
}

// Context is cancelled once Stop is called or the parent is done.
func (sw *StoppableWorkers) Context() context.Context {
	return sw.ctx
}
