// Package syncgroup wraps sync.WaitGroup for background task groups: tasks
// are registered first, started together, and waited on as a unit, so Add
// and Done can never go out of step.
package syncgroup

import "sync"

type taskFunc func()

type SyncGroup struct {
	wg sync.WaitGroup

	mu      sync.Mutex
	tasks   []taskFunc
	running int
}

func New() *SyncGroup {
	return &SyncGroup{}
}

// Add registers a task for the next Run. Adding while a previous Run is
// still in flight is ignored; call Wait first.
func (g *SyncGroup) Add(fn taskFunc) {
	if fn == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running > 0 {
		return
	}
	g.tasks = append(g.tasks, fn)
}

// Run starts every registered task in its own goroutine and clears the
// registration list. A second Run while tasks are still running is a no-op.
func (g *SyncGroup) Run() {
	g.mu.Lock()
	if g.running > 0 {
		g.mu.Unlock()
		return
	}
	tasks := g.tasks
	g.tasks = nil
	g.running = len(tasks)
	g.mu.Unlock()

	for _, fn := range tasks {
		g.wg.Add(1)
		go func(do taskFunc) {
			defer func() {
				g.wg.Done()
				g.mu.Lock()
				g.running--
				g.mu.Unlock()
			}()
			do()
		}(fn)
	}
}

// Wait blocks until every started task returns.
func (g *SyncGroup) Wait() {
	g.wg.Wait()
}
