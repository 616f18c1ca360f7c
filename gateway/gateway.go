// Package gateway is the only path from the relay to persistent state. Work
// is submitted as Task values and executed by dedicated storage workers;
// whatever a task returns is queued back for the owning loop to apply.
package gateway

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"wizz/handoff"
	"wizz/models"
)

// Store is the persistent store together with the friend graph.
type Store interface {
	CreateUser(login, password string) error
	AuthenticateUser(login, password string) (bool, error)
	UserExists(login string) (bool, error)

	FetchPendingMessages(recipient string) ([]models.PendingMessage, error)
	MarkAsDelivered(id int64) error
	// FlushPendingMessages fetches and marks delivered in one operation.
	FlushPendingMessages(recipient string) ([]models.PendingMessage, error)
	StoreMessage(sender, recipient, body string, delivered bool) error

	UpdateUserAvatar(login, path string) error
	GetUserAvatar(login string) (string, error)

	GetFriends(login string) ([]string, error)
	AddFriend(login, friend string) error
	RemoveFriend(login, friend string) error
}

// Blobs is the filesystem side of storage.
type Blobs interface {
	Write(dir, filename string, data []byte) (string, error)
	Read(path string) []byte
}

// Task is a unit of storage work. Run executes on a storage worker; a non-nil
// return value is posted to the response queue. Tasks carry copies of the
// values they need and must not reach into relay state.
type Task interface {
	Run(store Store, blobs Blobs) any
}

// TaskFunc adapts a function to Task.
type TaskFunc func(store Store, blobs Blobs) any

func (f TaskFunc) Run(store Store, blobs Blobs) any { return f(store, blobs) }

// Observer receives per-task outcomes. It may be nil.
type Observer interface {
	ObserveTask(d time.Duration)
}

type Gateway struct {
	store     Store
	blobs     Blobs
	logger    *zap.Logger
	observer  Observer
	tasks     *handoff.Queue[Task]
	responses *handoff.Queue[any]
	workers   int
	wg        sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once
}

// New creates a gateway with the given number of workers. One worker runs
// tasks strictly in submission order; more give no ordering guarantee
// between tasks.
func New(store Store, blobs Blobs, workers int, logger *zap.Logger, observer Observer) *Gateway {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		store:     store,
		blobs:     blobs,
		logger:    logger,
		observer:  observer,
		tasks:     handoff.New[Task](),
		responses: handoff.New[any](),
		workers:   workers,
	}
}

// Start launches the storage workers. Calling it more than once is a no-op.
func (g *Gateway) Start() {
	g.startOnce.Do(func() {
		for i := 0; i < g.workers; i++ {
			g.wg.Add(1)
			go g.worker(i)
		}
	})
}

// PostTask enqueues t. It returns false once the gateway is closed.
func (g *Gateway) PostTask(t Task) bool {
	if !g.tasks.Push(t) {
		g.logger.Warn("storage task rejected after close")
		return false
	}
	return true
}

// PostResponse enqueues a value for the owning loop.
func (g *Gateway) PostResponse(r any) bool {
	return g.responses.Push(r)
}

// Responses is consumed by the owning loop only.
func (g *Gateway) Responses() *handoff.Queue[any] {
	return g.responses
}

// Pending returns the number of tasks not yet picked up by a worker.
func (g *Gateway) Pending() int {
	return g.tasks.Len()
}

// Close stops accepting tasks and waits until every queued task has run.
// Responses produced while draining are still queued.
func (g *Gateway) Close() {
	g.closeOnce.Do(func() {
		g.Start()
		g.tasks.Close()
		g.wg.Wait()
	})
}

func (g *Gateway) worker(id int) {
	defer g.wg.Done()
	for {
		if t, ok := g.tasks.TryPop(); ok {
			g.run(id, t)
			continue
		}
		select {
		case <-g.tasks.Notify():
		case <-g.tasks.Done():
			if g.tasks.Len() == 0 {
				return
			}
		}
	}
}

func (g *Gateway) run(id int, t Task) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("storage task panicked", zap.Int("worker", id), zap.Any("panic", r))
		}
		if g.observer != nil {
			g.observer.ObserveTask(time.Since(start))
		}
	}()

	if res := t.Run(g.store, g.blobs); res != nil {
		g.responses.Push(res)
	}
}
