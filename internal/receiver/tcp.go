package receiver

import (
	"fmt"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const writeTimeout = 5 * time.Second

type tcpChannel struct {
	addr        string
	dialTimeout time.Duration

	mu   sync.Mutex
	conn net.Conn
	open bool

	lines lineBuffer
}

func newTCPChannel(cfg Config) *tcpChannel {
	return &tcpChannel{
		addr:        net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port)),
		dialTimeout: cfg.DialTimeout,
	}
}

func (c *tcpChannel) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open {
		return nil
	}

	conn, err := net.DialTimeout("tcp", c.addr, c.dialTimeout)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", ErrUnavailable, c.addr, err)
	}
	c.conn = conn
	c.open = true
	c.lines.reset()
	log.WithField("addr", c.addr).Info("receiver: tcp channel open")
	return nil
}

func (c *tcpChannel) ReadLine(timeout time.Duration) (string, error) {
	if line, ok := c.lines.pop(); ok {
		return line, nil
	}

	conn, err := c.current()
	if err != nil {
		return "", err
	}

	deadline := time.Now().Add(timeout)
	_ = conn.SetReadDeadline(deadline)
	tmp := make([]byte, 1024)
	for {
		n, err := conn.Read(tmp)
		if n > 0 {
			c.lines.push(tmp[:n])
			if line, ok := c.lines.pop(); ok {
				return line, nil
			}
		}
		if err != nil {
			if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
				return "", ErrNoData
			}
			c.markClosed()
			return "", fmt.Errorf("receiver: tcp read: %w", err)
		}
		if !time.Now().Before(deadline) {
			return "", ErrNoData
		}
	}
}

func (c *tcpChannel) WriteFrame(p []byte) error {
	conn, err := c.current()
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := conn.Write(p); err != nil {
		c.markClosed()
		return fmt.Errorf("receiver: tcp write: %w", err)
	}
	return nil
}

func (c *tcpChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return nil
	}
	c.open = false
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *tcpChannel) current() (net.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open || c.conn == nil {
		return nil, ErrClosed
	}
	return c.conn, nil
}

func (c *tcpChannel) markClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.open = false
}
