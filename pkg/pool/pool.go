// Package pool runs batches of independent curve operations on a fixed set of workers.
package pool

import (
	"runtime"
	"sync"
)

// task asks a worker to evaluate f at index i.
type task struct {
	i  int
	f  func(int)
	wg *sync.WaitGroup
}

// worker runs tasks until the pool is torn down.
func worker(tasks <-chan task) {
	for t := range tasks {
		t.f(t.i)
		t.wg.Done()
	}
}

// Pool represents a pool of workers, used for parallelizing functions.
//
// Functions needing a *Pool will work with a nil receiver, doing the equivalent
// work on the current goroutine instead.
//
// By creating a pool, you avoid the overhead of spinning up goroutines for
// each new operation.
type Pool struct {
	// tasks is shared by all workers, which makes this a work stealing pool.
	tasks chan task
	once  sync.Once
}

// NewPool creates a new pool, with a certain number of workers.
//
// If count <= 0, this will use the number of available CPUs instead.
func NewPool(count int) *Pool {
	if count <= 0 {
		count = runtime.NumCPU()
	}
	p := &Pool{tasks: make(chan task)}
	for i := 0; i < count; i++ {
		go worker(p.tasks)
	}
	return p
}

// TearDown stops the workers. It is safe to call more than once.
func (p *Pool) TearDown() {
	if p == nil {
		return
	}
	p.once.Do(func() { close(p.tasks) })
}

// Parallelize calls f count times, passing in indices from 0..count-1,
// and returns once every call has returned.
//
// f must not call back into the same pool.
func (p *Pool) Parallelize(count int, f func(int)) {
	if p == nil {
		for i := 0; i < count; i++ {
			f(i)
		}
		return
	}
	var wg sync.WaitGroup
	wg.Add(count)
	for i := 0; i < count; i++ {
		p.tasks <- task{i: i, f: f, wg: &wg}
	}
	wg.Wait()
}

// Map evaluates f at 0..count-1 on p and collects the results in order.
//
// If any call fails, the error of the lowest failing index is returned.
func Map[T any](p *Pool, count int, f func(int) (T, error)) ([]T, error) {
	results := make([]T, count)
	errs := make([]error, count)
	p.Parallelize(count, func(i int) {
		results[i], errs[i] = f(i)
	})
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}
