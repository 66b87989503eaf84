package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"canvas-sync/internal/protocol"
)

// DefaultValidateTimeout bounds a path validation round trip.
const DefaultValidateTimeout = 3 * time.Second

// ErrClosed is returned by calls made after Run has exited.
var ErrClosed = errors.New("client closed")

// Client binds a Session to a Transport. Inbound messages and calls made via
// Do are serialized onto one loop goroutine, so the Session never sees
// concurrent access.
type Client struct {
	transport       Transport
	session         *Session
	log             *slog.Logger
	validateTimeout time.Duration
	onError         func(error)
	onUpdate        func()
	onMessage       func(protocol.Message)

	out  chan protocol.Message
	ops  chan op
	done chan struct{}

	waitMu   sync.Mutex
	waiters  map[string]chan protocol.ValidateResult
	barriers map[string]chan struct{}

	ready     chan struct{}
	readyOnce sync.Once
	errOnce   sync.Once
	doneOnce  sync.Once
}

type op struct {
	fn  func(*Session) error
	res chan error
}

type Opts struct {
	UndoCapacity    int
	ConfirmWindow   time.Duration
	ValidateTimeout time.Duration
	Logger          *slog.Logger
	// OnError is called at most once, with the error that ended Run.
	OnError func(error)
	// OnUpdate is called on the loop goroutine after the merged view may
	// have changed.
	OnUpdate func()
	// OnMessage sees every inbound message after the Session handled it.
	OnMessage func(protocol.Message)
}

func New(t Transport, opts Opts) *Client {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	timeout := opts.ValidateTimeout
	if timeout <= 0 {
		timeout = DefaultValidateTimeout
	}
	c := &Client{
		transport:       t,
		log:             log,
		validateTimeout: timeout,
		onError:         opts.OnError,
		onUpdate:        opts.OnUpdate,
		onMessage:       opts.OnMessage,
		out:             make(chan protocol.Message, 256),
		ops:             make(chan op),
		done:            make(chan struct{}),
		waiters:         map[string]chan protocol.ValidateResult{},
		barriers:        map[string]chan struct{}{},
		ready:           make(chan struct{}),
	}
	c.session = NewSession(SessionOpts{
		UndoCapacity:  opts.UndoCapacity,
		ConfirmWindow: opts.ConfirmWindow,
		Logger:        log,
		Send:          c.enqueue,
		OnConfirmChange: func() {
			// Fires from a timer goroutine; hop onto the loop.
			go func() { _ = c.Do(context.Background(), func(*Session) error { return nil }) }()
		},
	})
	return c
}

// Run requests a full sync and then pumps messages until ctx is cancelled or
// the transport fails. Socket errors are reported once through OnError and
// are not retried.
func (c *Client) Run(ctx context.Context) error {
	defer c.doneOnce.Do(func() { close(c.done) })
	defer c.session.Close()

	g, ctx := errgroup.WithContext(ctx)
	in := make(chan protocol.Message, 64)

	g.Go(func() error {
		defer close(in)
		for {
			m, err := c.transport.Read(ctx)
			if err != nil {
				return err
			}
			if m.Type == protocol.TypeValidateResult && c.deliver(m) {
				continue
			}
			select {
			case in <- m:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case m := <-c.out:
				if err := c.transport.Write(ctx, m); err != nil {
					return fmt.Errorf("write %s: %w", m.Type, err)
				}
			}
		}
	})

	g.Go(func() error {
		defer c.transport.Close()
		c.session.RequestSync()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case m, ok := <-in:
				if !ok {
					return nil
				}
				if err := c.session.Handle(m); err != nil {
					c.log.Warn("bad message from server", "type", string(m.Type), "error", err)
					continue
				}
				if c.session.Synced() {
					c.readyOnce.Do(func() { close(c.ready) })
				}
				if m.Type == protocol.TypeNodeSyncResponse {
					c.releaseBarrier(m.RequestID)
				}
				if c.onMessage != nil {
					c.onMessage(m)
				}
				c.changed()
			case o := <-c.ops:
				o.res <- o.fn(c.session)
				c.changed()
			}
		}
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	if err != nil {
		c.errOnce.Do(func() {
			c.log.Error("connection lost", "error", err)
			if c.onError != nil {
				c.onError(err)
			}
		})
	}
	return err
}

func (c *Client) changed() {
	if c.onUpdate != nil {
		c.onUpdate()
	}
}

// Ready is closed once the first full sync has been applied.
func (c *Client) Ready() <-chan struct{} { return c.ready }

// Do runs fn on the loop goroutine and returns its error.
func (c *Client) Do(ctx context.Context, fn func(*Session) error) error {
	o := op{fn: fn, res: make(chan error, 1)}
	select {
	case c.ops <- o:
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-o.res:
		return err
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Barrier requests a full resync and waits for it. The server handles a
// connection's messages in order, so once it returns every earlier message
// has been applied (or dropped) and its push events delivered. Like any
// resync it discards outstanding overrides.
func (c *Client) Barrier(ctx context.Context) error {
	ch := make(chan struct{})
	var reqID string
	err := c.Do(ctx, func(s *Session) error {
		reqID = s.RequestSync()
		c.waitMu.Lock()
		c.barriers[reqID] = ch
		c.waitMu.Unlock()
		return nil
	})
	if err != nil {
		return err
	}
	defer func() {
		c.waitMu.Lock()
		delete(c.barriers, reqID)
		c.waitMu.Unlock()
	}()
	select {
	case <-ch:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) releaseBarrier(reqID string) {
	c.waitMu.Lock()
	defer c.waitMu.Unlock()
	if ch, ok := c.barriers[reqID]; ok {
		close(ch)
		delete(c.barriers, reqID)
	}
}

// Send queues a raw message, bypassing the Session. Automation callers use
// it to issue the same shapes the UI does.
func (c *Client) Send(ctx context.Context, m protocol.Message) error {
	select {
	case c.out <- m:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) enqueue(m protocol.Message) {
	select {
	case c.out <- m:
	case <-c.done:
	}
}

// ValidateDirectory asks the server whether path is an existing directory.
// A timeout or a closed connection counts as invalid.
func (c *Client) ValidateDirectory(ctx context.Context, path string) protocol.ValidateResult {
	return c.validate(ctx, protocol.TypeValidateDirectory, path)
}

// ValidateFile asks the server whether path is an existing regular file.
func (c *Client) ValidateFile(ctx context.Context, path string) protocol.ValidateResult {
	return c.validate(ctx, protocol.TypeValidateFile, path)
}

func (c *Client) validate(ctx context.Context, t protocol.Type, path string) protocol.ValidateResult {
	reqID := uuid.NewString()
	ch := make(chan protocol.ValidateResult, 1)
	c.waitMu.Lock()
	c.waiters[reqID] = ch
	c.waitMu.Unlock()
	defer func() {
		c.waitMu.Lock()
		delete(c.waiters, reqID)
		c.waitMu.Unlock()
	}()

	m, err := protocol.New(t, reqID, protocol.ValidatePath{Path: path})
	if err != nil {
		return protocol.ValidateResult{Error: err.Error()}
	}
	ctx, cancel := context.WithTimeout(ctx, c.validateTimeout)
	defer cancel()
	if err := c.Send(ctx, m); err != nil {
		return protocol.ValidateResult{Error: err.Error()}
	}
	select {
	case res := <-ch:
		return res
	case <-ctx.Done():
		return protocol.ValidateResult{Error: "validation timed out"}
	case <-c.done:
		return protocol.ValidateResult{Error: ErrClosed.Error()}
	}
}

// deliver hands a validate-result to its waiter. It reports false when no
// one is waiting for it.
func (c *Client) deliver(m protocol.Message) bool {
	c.waitMu.Lock()
	ch, ok := c.waiters[m.RequestID]
	c.waitMu.Unlock()
	if !ok {
		return false
	}
	res := protocol.ValidateResult{}
	if p, err := protocol.DecodePayload(m); err != nil {
		res.Error = err.Error()
	} else {
		res = p.(protocol.ValidateResult)
	}
	select {
	case ch <- res:
	default:
	}
	return true
}
