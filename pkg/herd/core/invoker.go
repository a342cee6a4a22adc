package core

import "sync"

// Interface that handles spawning goroutines for the driver, so a
// shutdown can wait for everything it started.
type Invoker interface {
	// Spawn the function on its own goroutine.
	Spawn(f func())

	// Stop blocks until all spawned goroutines returned.
	Stop()
}

type defaultInvoker struct {
	group *sync.WaitGroup
}

func (i *defaultInvoker) Spawn(f func()) {
	i.group.Add(1)
	go func() {
		defer i.group.Done()
		f()
	}()
}

func (i *defaultInvoker) Stop() {
	i.group.Wait()
}

func NewInvoker() Invoker {
	return &defaultInvoker{group: &sync.WaitGroup{}}
}
