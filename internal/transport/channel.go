package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/keshucs12345/voicematch/internal/domain"
)

var (
	ErrClosed    = errors.New("channel closed")
	ErrQueueFull = errors.New("send queue full")
)

// ChannelConfig names the channel in logs and metrics and bounds the send queue.
type ChannelConfig struct {
	Name       string
	QueueDepth int
}

// Handlers receive inbound messages and the final close. Both run on the
// channel's goroutines.
type Handlers struct {
	OnMessage func(data []byte)
	OnClose   func(err error)
}

// Channel pumps a Conn with one read loop and one write loop. Send never
// blocks and Close never waits for the loops.
type Channel struct {
	name   string
	conn   Conn
	logger *zap.Logger

	send     chan []byte
	done     chan struct{}
	finished chan struct{}
	wg       sync.WaitGroup

	errMu sync.Mutex
	err   error

	closeOnce sync.Once
}

// Open starts the loops over conn.
func Open(conn Conn, cfg ChannelConfig, h Handlers, logger *zap.Logger) *Channel {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Channel{
		name:     cfg.Name,
		conn:     conn,
		logger:   logger,
		send:     make(chan []byte, cfg.QueueDepth),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}

	c.wg.Add(2)
	go c.readLoop(h.OnMessage)
	go c.writeLoop()
	go func() {
		c.wg.Wait()
		_ = conn.Close()
		close(c.finished)
		if h.OnClose != nil {
			h.OnClose(c.Err())
		}
	}()
	return c
}

// Send marshals v and queues it for writing.
func (c *Channel) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", c.name, err)
	}

	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		return ErrQueueFull
	}
}

// Close shuts the channel down. It is idempotent and returns immediately;
// OnClose fires once the loops have exited.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// Done is closed after both loops have exited and the connection is closed.
func (c *Channel) Done() <-chan struct{} {
	return c.finished
}

// Err returns the first transport failure, or nil after a clean or local close.
func (c *Channel) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Channel) closing() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Channel) setErr(op string, err error) {
	if err == nil || c.closing() || IsNormalClose(err) {
		return
	}

	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = domain.TransportError(c.name+" "+op, err)
	}
}

func (c *Channel) writeLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			if err := c.conn.WriteMessage(data); err != nil {
				c.setErr("write", err)
				c.logger.Warn("write failed", zap.Error(err))
				c.Close()
				return
			}
		}
	}
}

func (c *Channel) readLoop(onMessage func([]byte)) {
	defer c.wg.Done()

	for {
		data, err := c.conn.ReadMessage()
		if err != nil {
			c.setErr("read", err)
			c.Close()
			return
		}
		if onMessage != nil {
			onMessage(data)
		}
	}
}
