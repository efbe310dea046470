// Package devsync maintains the development channel: a WebSocket session
// with the backend gateway over which the browser inspects local state and
// drives runs. The gateway sends tasks; the client answers from the local
// store and registry, streaming run results as they happen.
package devsync

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/weavel-fastllm/fastllm/errors"
	"github.com/weavel-fastllm/fastllm/registry"
	"github.com/weavel-fastllm/fastllm/run"
	"github.com/weavel-fastllm/fastllm/store"
)

const (
	// Reconnection runs on a fixed cadence with a bounded budget: one
	// attempt every five minutes for roughly two days, then give up.
	reconnectDelay       = 5 * time.Minute
	maxReconnectAttempts = 12 * 24
)

// Channel is one gateway session plus its reconnect loop. Handlers run on
// the receive goroutine, so one task is served at a time; a run streams to
// completion before the next task is read. Concurrent runs on one channel
// are not supported.
type Channel struct {
	dial     Dialer
	store    *store.Store
	executor *run.Executor
	logger   *zap.SugaredLogger

	mu       sync.RWMutex
	registry *registry.Registry

	connMu sync.Mutex
	conn   Conn

	onOnline  func(online bool)
	onFatal   func(err error)
	fatalOnce sync.Once

	reconnectDelay time.Duration
	maxAttempts    int
}

// New creates a channel. The registry is the initial snapshot; reloads swap
// in replacements through SwapRegistry.
func New(dial Dialer, st *store.Store, executor *run.Executor, reg *registry.Registry, logger *zap.SugaredLogger) *Channel {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Channel{
		dial:           dial,
		store:          st,
		executor:       executor,
		registry:       reg,
		logger:         logger,
		reconnectDelay: reconnectDelay,
		maxAttempts:    maxReconnectAttempts,
	}
}

// SetOnlineHook registers a callback for connectivity transitions, fired
// with true after a successful dial and false when the session ends.
func (c *Channel) SetOnlineHook(fn func(online bool)) {
	c.onOnline = fn
}

// SetFatalHook registers a callback fired at most once, when the reconnect
// budget is exhausted.
func (c *Channel) SetFatalHook(fn func(err error)) {
	c.onFatal = fn
}

// SwapRegistry replaces the module catalog after a successful reload and
// alerts the gateway when connected.
func (c *Channel) SwapRegistry(reg *registry.Registry) {
	c.mu.Lock()
	c.registry = reg
	c.mu.Unlock()

	if err := c.send(map[string]any{"type": MsgLocalUpdateAlert}); err != nil {
		c.logger.Debugw("Skipped local update alert", "error", err)
		return
	}
	c.logger.Debugw("Sent local update alert")
}

// snapshot returns the current registry. Handlers hold the snapshot for the
// task's duration; a swap mid-task affects only later tasks.
func (c *Channel) snapshot() *registry.Registry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.registry
}

// Run dials the gateway and serves tasks until ctx ends or the reconnect
// budget is spent. Each dial, successful or not, consumes one attempt.
func (c *Channel) Run(ctx context.Context) error {
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		conn, err := c.dial(ctx)
		if err != nil {
			c.logger.Warnw("Gateway dial failed",
				"attempt", attempt, "max_attempts", c.maxAttempts, "error", err)
		} else {
			c.logger.Infow("Connected to gateway")
			err = c.serve(ctx, conn)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			c.logger.Warnw("Gateway connection lost", "attempt", attempt, "error", err)
		}

		if attempt == c.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.reconnectDelay):
		}
	}

	err := errors.Wrap(errors.ErrTransport, "gateway reconnect attempts exhausted")
	c.fatalOnce.Do(func() {
		c.logger.Errorw("Giving up on gateway connection", "attempts", c.maxAttempts)
		if c.onFatal != nil {
			c.onFatal(err)
		}
	})
	return err
}

// serve runs one connected session to its end.
func (c *Channel) serve(ctx context.Context, conn Conn) error {
	c.setConn(conn)
	c.setOnline(true)
	defer func() {
		c.setConn(nil)
		conn.Close()
		c.setOnline(false)
	}()

	// ReadJSON only unblocks on connection close, so cancellation closes
	// the connection out from under it.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		var task Task
		if err := conn.ReadJSON(&task); err != nil {
			return errors.WrapTransport(err, "gateway read failed")
		}
		c.routeTask(ctx, &task)
	}
}

// routeTask dispatches one inbound task. Handler failures become an error
// reply; the connection stays up.
func (c *Channel) routeTask(ctx context.Context, task *Task) {
	c.logger.Debugw("Task received", "type", task.Type)

	var err error
	switch task.Type {
	case TaskListModules:
		err = c.handleListModules(task)
	case TaskListVersions:
		err = c.handleListVersions(task)
	case TaskListSamples:
		err = c.handleListSamples(task)
	case TaskGetPrompts:
		err = c.handleGetPrompts(task)
	case TaskGetRunLogs:
		err = c.handleGetRunLogs(task)
	case TaskChangeVersionStatus:
		err = c.handleChangeVersionStatus(task)
	case TaskGetVersionToSave:
		err = c.handleGetVersionToSave(task)
	case TaskGetVersionsToSave:
		err = c.handleGetVersionsToSave(task)
	case TaskUpdateCandidateVersions:
		err = c.handleUpdateCandidates(task)
	case TaskRunModule:
		err = c.handleRun(ctx, task)
	case TaskEvalModule:
		err = c.handleEval(ctx, task)
	default:
		c.logger.Debugw("Unknown task type", "type", task.Type)
		return
	}

	if err != nil {
		c.logger.Warnw("Task failed", "type", task.Type, "error", err)
		c.sendError(task, err)
	}
}

func (c *Channel) setConn(conn Conn) {
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
}

func (c *Channel) setOnline(online bool) {
	if c.onOnline != nil {
		c.onOnline(online)
	}
}

// send writes one frame. The mutex covers both the nil check and the write:
// the run relay and the reload goroutine can push concurrently.
func (c *Channel) send(payload map[string]any) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return errors.Wrap(errors.ErrTransport, "not connected")
	}
	return c.conn.WriteJSON(payload)
}

func (c *Channel) reply(task *Task, payload map[string]any) error {
	return c.send(echo(task, payload))
}

func (c *Channel) sendError(task *Task, err error) {
	if sendErr := c.reply(task, map[string]any{"error": err.Error()}); sendErr != nil {
		c.logger.Debugw("Failed to send error reply", "error", sendErr)
	}
}
