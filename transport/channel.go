// Package transport maintains the persistent duplex channel that
// delivers encrypted envelopes from the message relay. Each delivery is
// surfaced as a Request whose Respond must be called exactly once; the
// channel owns keep-alive and connection lifecycle.
package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"gowhisper/protocol"
)

const (
	// DefaultKeepAliveInterval sends ping on idle connections.
	DefaultKeepAliveInterval = 60 * time.Second
	// DefaultKeepAliveTimeout waits this long for pong after ping.
	DefaultKeepAliveTimeout = 15 * time.Second
	// DefaultFrameReadTimeout bounds each frame read.
	DefaultFrameReadTimeout = 30 * time.Second
)

var (
	// ErrPongTimeout indicates keep-alive timed out waiting for pong.
	ErrPongTimeout = errors.New("transport: pong timeout")
	// ErrAlreadyResponded indicates a second Respond call for one request.
	ErrAlreadyResponded = errors.New("transport: request already responded")
)

// Request is one delivered envelope plus its one-shot response callback.
type Request struct {
	Body       []byte
	ReceivedAt int64

	respondOnce *sync.Once
	respondFn   func(status int, message string) error
}

// NewRequest builds a request around a response callback. Respond
// invokes the callback at most once regardless of callers.
func NewRequest(body []byte, receivedAt int64, respond func(status int, message string) error) Request {
	return Request{
		Body:        body,
		ReceivedAt:  receivedAt,
		respondOnce: &sync.Once{},
		respondFn:   respond,
	}
}

// Respond sends the acknowledgment for this request. It must be called
// exactly once; later calls fail with ErrAlreadyResponded.
func (r *Request) Respond(status int, message string) error {
	err := ErrAlreadyResponded
	r.respondOnce.Do(func() {
		err = r.respondFn(status, message)
	})
	return err
}

// ChannelOptions controls runtime behavior of Channel.
type ChannelOptions struct {
	KeepAliveInterval time.Duration
	KeepAliveTimeout  time.Duration
	FrameReadTimeout  time.Duration
	AutoRespondPing   bool
}

func (o ChannelOptions) withDefaults() ChannelOptions {
	out := o
	if out.KeepAliveInterval <= 0 {
		out.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if out.KeepAliveTimeout <= 0 {
		out.KeepAliveTimeout = DefaultKeepAliveTimeout
	}
	if out.FrameReadTimeout <= 0 {
		out.FrameReadTimeout = DefaultFrameReadTimeout
	}
	return out
}

// Channel manages a stateful framed session with the relay.
type Channel struct {
	conn net.Conn

	options ChannelOptions

	sendMu sync.Mutex

	waitMu       sync.Mutex
	waitingPong  bool
	pongDeadline time.Time

	lastActivity atomic.Int64

	requests chan Request

	closeOnce sync.Once
	closed    chan struct{}

	errMu    sync.RWMutex
	closeErr error
}

// NewChannel wraps an established connection and starts its read and
// keep-alive loops.
func NewChannel(conn net.Conn, options ChannelOptions) *Channel {
	c := &Channel{
		conn:     conn,
		options:  options.withDefaults(),
		requests: make(chan Request, 64),
		closed:   make(chan struct{}),
	}

	c.touchActivity()
	go c.readLoop()
	go c.keepAliveLoop()

	return c
}

// Dial connects to the relay and returns the channel.
func Dial(address string, options ChannelOptions) (*Channel, error) {
	if address == "" {
		return nil, errors.New("relay address is required")
	}

	conn, err := net.Dial("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial relay %q: %w", address, err)
	}

	return NewChannel(conn, options), nil
}

// Requests returns delivered envelope requests.
func (c *Channel) Requests() <-chan Request {
	return c.requests
}

// Receive waits for the next delivered request.
func (c *Channel) Receive(ctx context.Context) (Request, error) {
	select {
	case request := <-c.requests:
		return request, nil
	case <-c.closed:
		if err := c.LastError(); err != nil {
			return Request{}, err
		}
		return Request{}, io.EOF
	case <-ctx.Done():
		return Request{}, ctx.Err()
	}
}

// Done is closed when the channel is fully disconnected.
func (c *Channel) Done() <-chan struct{} {
	return c.closed
}

// LastError returns the terminal channel error, if any.
func (c *Channel) LastError() error {
	c.errMu.RLock()
	defer c.errMu.RUnlock()
	return c.closeErr
}

// SendDelivery writes one opaque encrypted envelope as a delivery
// frame. Used by the relay side of the channel and by tooling.
func (c *Channel) SendDelivery(body []byte) error {
	return c.sendMessage(protocol.Delivery{
		Type:      protocol.TypeDelivery,
		Body:      base64.StdEncoding.EncodeToString(body),
		Timestamp: time.Now().UnixMilli(),
	})
}

// Close terminates the channel.
func (c *Channel) Close() error {
	c.closeWithError(nil)
	return nil
}

func (c *Channel) sendMessage(message any) error {
	payload, err := protocol.EncodeJSON(message)
	if err != nil {
		return err
	}

	select {
	case <-c.closed:
		if err := c.LastError(); err != nil {
			return err
		}
		return io.EOF
	default:
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := protocol.WriteFrame(c.conn, payload); err != nil {
		c.closeWithError(fmt.Errorf("write frame: %w", err))
		return err
	}

	c.touchActivity()
	return nil
}

func (c *Channel) readLoop() {
	for {
		select {
		case <-c.closed:
			return
		default:
		}

		payload, err := protocol.ReadFrameWithTimeout(c.conn, c.options.FrameReadTimeout)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				c.closeWithError(nil)
				return
			}

			c.closeWithError(fmt.Errorf("read frame: %w", err))
			return
		}

		c.touchActivity()
		if len(payload) == 0 {
			continue
		}

		msgType, err := protocol.DecodeMessageType(payload)
		if err != nil {
			continue
		}

		switch msgType {
		case protocol.TypePing:
			if c.options.AutoRespondPing {
				_ = c.sendMessage(protocol.PongMessage{
					Type:      protocol.TypePong,
					Timestamp: time.Now().UnixMilli(),
				})
			}
		case protocol.TypePong:
			c.ackPong()
		case protocol.TypeDelivery:
			c.handleDelivery(payload)
		}
	}
}

func (c *Channel) handleDelivery(payload []byte) {
	var delivery protocol.Delivery
	if err := json.Unmarshal(payload, &delivery); err != nil {
		return
	}
	body, err := base64.StdEncoding.DecodeString(delivery.Body)
	if err != nil {
		return
	}

	request := NewRequest(body, time.Now().UnixMilli(), func(status int, message string) error {
		return c.sendMessage(protocol.DeliveryAck{
			Type:      protocol.TypeDeliveryAck,
			Status:    status,
			Message:   message,
			Timestamp: time.Now().UnixMilli(),
		})
	})

	select {
	case c.requests <- request:
	case <-c.closed:
	}
}

func (c *Channel) keepAliveLoop() {
	checkEvery := c.options.KeepAliveInterval / 2
	if checkEvery <= 0 {
		checkEvery = c.options.KeepAliveInterval
	}
	ticker := time.NewTicker(checkEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if c.waitingPongExpired() {
				c.closeWithError(ErrPongTimeout)
				return
			}

			idleFor := time.Since(time.Unix(0, c.lastActivity.Load()))
			if idleFor < c.options.KeepAliveInterval {
				continue
			}

			if c.isWaitingPong() {
				continue
			}

			if err := c.sendMessage(protocol.PingMessage{
				Type:      protocol.TypePing,
				Timestamp: time.Now().UnixMilli(),
			}); err != nil {
				return
			}
			c.setWaitingPong(time.Now().Add(c.options.KeepAliveTimeout))
		case <-c.closed:
			return
		}
	}
}

func (c *Channel) touchActivity() {
	c.lastActivity.Store(time.Now().UnixNano())
}

func (c *Channel) setWaitingPong(deadline time.Time) {
	c.waitMu.Lock()
	defer c.waitMu.Unlock()
	c.waitingPong = true
	c.pongDeadline = deadline
}

func (c *Channel) ackPong() {
	c.waitMu.Lock()
	defer c.waitMu.Unlock()
	c.waitingPong = false
	c.pongDeadline = time.Time{}
}

func (c *Channel) isWaitingPong() bool {
	c.waitMu.Lock()
	defer c.waitMu.Unlock()
	return c.waitingPong
}

func (c *Channel) waitingPongExpired() bool {
	c.waitMu.Lock()
	defer c.waitMu.Unlock()
	return c.waitingPong && time.Now().After(c.pongDeadline)
}

func (c *Channel) closeWithError(err error) {
	c.closeOnce.Do(func() {
		c.errMu.Lock()
		c.closeErr = err
		c.errMu.Unlock()

		_ = c.conn.Close()
		close(c.closed)
	})
}
