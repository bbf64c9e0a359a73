package cmsg

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	"k8s.io/klog/v2"
)

const (
	DefaultMaxMessageSize = 9216
	frameLenSize          = 4
)

// ConnChannel frames control messages over a stream connection, each one
// prefixed with its big endian length.
type ConnChannel struct {
	mu      sync.Mutex
	conn    net.Conn
	maxSize int
	down    bool
}

// DialChannel connects to the firmware proxy, typically a unix socket.
func DialChannel(ctx context.Context, network, addr string, maxSize int) (*ConnChannel, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChannelDown, err)
	}
	return NewConnChannel(conn, maxSize), nil
}

func NewConnChannel(conn net.Conn, maxSize int) *ConnChannel {
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}
	return &ConnChannel{conn: conn, maxSize: maxSize}
}

func (c *ConnChannel) MaxMessageSize() int {
	return c.maxSize
}

func (c *ConnChannel) Send(ctx context.Context, msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.down {
		return ErrChannelDown
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	deadline, _ := ctx.Deadline()
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("%w: %v", ErrChannelDown, err)
	}

	frame := make([]byte, frameLenSize, frameLenSize+len(msg))
	binary.BigEndian.PutUint32(frame, uint32(len(msg)))
	frame = append(frame, msg...)
	if _, err := c.conn.Write(frame); err != nil {
		c.down = true
		return fmt.Errorf("%w: %v", ErrChannelDown, err)
	}
	return nil
}

// Run reads messages until the connection fails or ctx is done, handing
// each one to deliver.
func (c *ConnChannel) Run(ctx context.Context, deliver func(msg []byte)) error {
	defer utilruntime.HandleCrash()

	stop := context.AfterFunc(ctx, func() { c.conn.Close() })
	defer stop()

	var head [frameLenSize]byte
	for {
		if _, err := io.ReadFull(c.conn, head[:]); err != nil {
			return c.readFailed(ctx, err)
		}
		n := binary.BigEndian.Uint32(head[:])
		if int(n) > c.maxSize {
			c.markDown()
			return fmt.Errorf("%w: inbound message of %d bytes", ErrChannelDown, n)
		}
		msg := make([]byte, n)
		if _, err := io.ReadFull(c.conn, msg); err != nil {
			return c.readFailed(ctx, err)
		}
		deliver(msg)
	}
}

func (c *ConnChannel) readFailed(ctx context.Context, err error) error {
	c.markDown()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, io.EOF) {
		klog.Warningf("control channel closed by peer")
	}
	return fmt.Errorf("%w: %v", ErrChannelDown, err)
}

func (c *ConnChannel) markDown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.down = true
}

func (c *ConnChannel) Close() error {
	c.markDown()
	return c.conn.Close()
}
