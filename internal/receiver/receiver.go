// Package receiver moves bytes to and from the navigation receiver over one
// of two transports: a local serial device or a TCP endpoint (typically a
// receiver exposed by a terminal server or a simulator).
package receiver

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNoData signals a bounded read that timed out; it is not a failure.
	ErrNoData = errors.New("receiver: no data")

	// ErrClosed is returned when the channel is not open. The coordinator
	// reacts by reopening on a later cycle.
	ErrClosed = errors.New("receiver: channel closed")

	// ErrUnavailable wraps transport open failures.
	ErrUnavailable = errors.New("receiver: unavailable")
)

// Config selects and parameterizes the transport. A non-empty Host selects
// TCP; otherwise Device selects serial. Exactly one must be set.
type Config struct {
	Device string
	Baud   int

	Host string
	Port int

	// DialTimeout bounds the TCP connect.
	DialTimeout time.Duration
}

// Channel is the single interface the coordinator uses regardless of
// transport. ReadLine and WriteFrame may be called from different
// goroutines; ReadLine must only be called from one.
type Channel interface {
	Open() error
	ReadLine(timeout time.Duration) (string, error)
	WriteFrame(p []byte) error
	Close() error
}

// New builds the channel for cfg without opening it.
func New(cfg Config) (Channel, error) {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	switch {
	case cfg.Host != "" && cfg.Device != "":
		return nil, fmt.Errorf("receiver: both host and device configured; pick one transport")
	case cfg.Host != "":
		if cfg.Port <= 0 {
			return nil, fmt.Errorf("receiver: tcp transport requires a port")
		}
		return newTCPChannel(cfg), nil
	case cfg.Device != "":
		if cfg.Baud == 0 {
			cfg.Baud = 115200
		}
		return newSerialChannel(cfg)
	default:
		return nil, fmt.Errorf("receiver: neither host nor device configured")
	}
}

// lineBuffer carries partial reads across ReadLine calls. It is only touched
// by the reading goroutine, so it needs no lock.
type lineBuffer struct {
	buf []byte
}

// maxLineBytes bounds the carry buffer; a receiver that emits this much
// without a newline is producing garbage.
const maxLineBytes = 16 * 1024

func (b *lineBuffer) push(p []byte) {
	b.buf = append(b.buf, p...)
	if len(b.buf) > maxLineBytes {
		b.buf = b.buf[:0]
	}
}

func (b *lineBuffer) pop() (string, bool) {
	i := bytes.IndexByte(b.buf, '\n')
	if i < 0 {
		return "", false
	}
	line := strings.TrimSpace(string(b.buf[:i]))
	b.buf = append(b.buf[:0], b.buf[i+1:]...)
	return line, true
}

func (b *lineBuffer) reset() {
	b.buf = b.buf[:0]
}
