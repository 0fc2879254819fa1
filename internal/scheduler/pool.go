package scheduler

import (
	"errors"
	"fmt"
	"log"
	"runtime"
	"runtime/debug"
	"sync"
)

// ErrPoolClosed is returned when work is submitted after Shutdown.
var ErrPoolClosed = errors.New("scheduler: pool is shut down")

// fallbackWorkers is used when the host's CPU count cannot be determined.
const fallbackWorkers = 4

// Pool is a fixed set of workers draining one FIFO queue.
// It is meant to be created for a single batch of work and shut down after.
type Pool struct {
	mu       sync.Mutex
	cond     *sync.Cond
	queue    []func()
	shutdown bool

	workers int
	wg      sync.WaitGroup
	once    sync.Once
}

// New starts a pool with the given number of workers. A non-positive count
// sizes the pool to the host's CPU count.
func New(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers <= 0 {
		workers = fallbackWorkers
	}

	p := &Pool{workers: workers}
	p.cond = sync.NewCond(&p.mu)
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

// Workers returns the number of worker goroutines.
func (p *Pool) Workers() int { return p.workers }

// Submit queues task for execution.
func (p *Pool) Submit(task func()) error {
	if task == nil {
		return errors.New("scheduler: nil task")
	}
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.queue = append(p.queue, task)
	p.mu.Unlock()
	p.cond.Signal()
	return nil
}

// Shutdown stops accepting work, lets workers drain everything already
// queued and waits for them to exit. It is safe to call more than once.
func (p *Pool) Shutdown() {
	p.once.Do(func() {
		p.mu.Lock()
		p.shutdown = true
		p.mu.Unlock()
		p.cond.Broadcast()
	})
	p.wg.Wait()
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		task, ok := p.next()
		if !ok {
			return
		}
		runTask(task)
	}
}

// next blocks until a task is available or the pool is shut down with an
// empty queue.
func (p *Pool) next() (func(), bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.queue) == 0 && !p.shutdown {
		p.cond.Wait()
	}
	if len(p.queue) == 0 {
		return nil, false
	}
	task := p.queue[0]
	p.queue[0] = nil
	p.queue = p.queue[1:]
	return task, true
}

func runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("scheduler: task panicked: %v\n%s", r, debug.Stack())
		}
	}()
	task()
}

// Future is a handle to the eventual result of a task submitted with Go.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Go submits fn to p and returns a handle to its result. A panic inside fn
// is recovered and reported as the future's error.
func Go[T any](p *Pool, fn func() (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	err := p.Submit(func() {
		defer close(f.done)
		defer func() {
			if r := recover(); r != nil {
				f.err = fmt.Errorf("scheduler: task panicked: %v", r)
			}
		}()
		f.val, f.err = fn()
	})
	if err != nil {
		f.err = err
		close(f.done)
	}
	return f
}

// Wait blocks until the task has finished and returns its result.
func (f *Future[T]) Wait() (T, error) {
	<-f.done
	return f.val, f.err
}

// Done is closed once the result is available.
func (f *Future[T]) Done() <-chan struct{} { return f.done }
