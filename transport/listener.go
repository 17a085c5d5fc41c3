package transport

import (
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
)

// Listener accepts inbound connections and wraps each one in a
// Channel. It serves the relay side of the delivery channel, and in
// tests it stands in for the relay.
type Listener struct {
	listener net.Listener
	options  ChannelOptions

	channels chan *Channel

	closeOnce sync.Once
	closed    chan struct{}
}

// Listen binds the given address and begins accepting channels.
func Listen(address string, options ChannelOptions) (*Listener, error) {
	if address == "" {
		return nil, errors.New("listen address is required")
	}

	netListener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("listen on %q: %w", address, err)
	}

	l := &Listener{
		listener: netListener,
		options:  options,
		channels: make(chan *Channel, 16),
		closed:   make(chan struct{}),
	}

	go l.acceptLoop()

	return l, nil
}

// Addr reports the bound address.
func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}

// Channels returns accepted channels ready for use.
func (l *Listener) Channels() <-chan *Channel {
	return l.channels
}

// Close stops accepting and releases the listener.
func (l *Listener) Close() error {
	l.closeOnce.Do(func() {
		close(l.closed)
		_ = l.listener.Close()
	})
	return nil
}

func (l *Listener) acceptLoop() {
	for {
		conn, err := l.listener.Accept()
		if err != nil {
			select {
			case <-l.closed:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Printf("transport: accept failed: %v", err)
			continue
		}

		channel := NewChannel(conn, l.options)
		select {
		case l.channels <- channel:
		case <-l.closed:
			channel.Close()
			return
		}
	}
}
