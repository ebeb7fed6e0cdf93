//go:build linux

package receiver

import (
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// serialChannel talks to the receiver over a local serial device. The port
// is opened in raw mode with VMIN=0/VTIME so every read is bounded; the
// ReadLine deadline loop builds on that.
type serialChannel struct {
	device string
	baud   int

	mu   sync.Mutex
	fd   int
	open bool

	lines lineBuffer
}

func newSerialChannel(cfg Config) (Channel, error) {
	return &serialChannel{device: cfg.Device, baud: cfg.Baud, fd: -1}, nil
}

func (c *serialChannel) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open {
		return nil
	}

	fd, err := openSerialPort(c.device, c.baud)
	if err != nil {
		return fmt.Errorf("%w: open %s baud=%d: %v", ErrUnavailable, c.device, c.baud, err)
	}
	c.fd = fd
	c.open = true
	c.lines.reset()
	log.WithFields(log.Fields{"device": c.device, "baud": c.baud}).Info("receiver: serial channel open")
	return nil
}

func (c *serialChannel) ReadLine(timeout time.Duration) (string, error) {
	if line, ok := c.lines.pop(); ok {
		return line, nil
	}

	fd, err := c.currentFD()
	if err != nil {
		return "", err
	}

	deadline := time.Now().Add(timeout)
	tmp := make([]byte, 1024)
	for {
		// Each read returns within VTIME (100ms) even with no data.
		n, err := unix.Read(fd, tmp)
		if n > 0 {
			c.lines.push(tmp[:n])
			if line, ok := c.lines.pop(); ok {
				return line, nil
			}
		}
		if err != nil && err != unix.EINTR && err != unix.EAGAIN {
			c.markClosed()
			return "", fmt.Errorf("receiver: serial read: %w", err)
		}
		if !time.Now().Before(deadline) {
			return "", ErrNoData
		}
	}
}

func (c *serialChannel) WriteFrame(p []byte) error {
	fd, err := c.currentFD()
	if err != nil {
		return err
	}
	for len(p) > 0 {
		n, err := unix.Write(fd, p)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			c.markClosed()
			return fmt.Errorf("receiver: serial write: %w", err)
		}
		p = p[n:]
	}
	return nil
}

func (c *serialChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return nil
	}
	c.open = false
	err := unix.Close(c.fd)
	c.fd = -1
	return err
}

func (c *serialChannel) currentFD() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open || c.fd < 0 {
		return -1, ErrClosed
	}
	return c.fd, nil
}

func (c *serialChannel) markClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fd >= 0 {
		_ = unix.Close(c.fd)
		c.fd = -1
	}
	c.open = false
}

// openSerialPort opens the device in raw mode at the given baud rate.
func openSerialPort(path string, baud int) (int, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return -1, err
	}

	ok := false
	defer func() {
		if !ok {
			_ = unix.Close(fd)
		}
	}()

	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return -1, err
	}

	spd, err := baudToUnix(baud)
	if err != nil {
		return -1, err
	}

	// Raw mode: no line editing, no CR/LF translation, 8N1.
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB
	t.Cflag |= unix.CS8

	// Bounded reads: return after 100ms even if no byte arrived, so the
	// ReadLine deadline loop (and with it cooperative shutdown) never hangs.
	t.Cc[unix.VMIN] = 0
	t.Cc[unix.VTIME] = 1

	t.Cflag &^= unix.CBAUD
	t.Cflag |= spd
	t.Ispeed = spd
	t.Ospeed = spd

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		return -1, err
	}

	ok = true
	return fd, nil
}

func baudToUnix(baud int) (uint32, error) {
	switch baud {
	case 4800:
		return unix.B4800, nil
	case 9600:
		return unix.B9600, nil
	case 19200:
		return unix.B19200, nil
	case 38400:
		return unix.B38400, nil
	case 57600:
		return unix.B57600, nil
	case 115200:
		return unix.B115200, nil
	case 230400:
		return unix.B230400, nil
	default:
		return 0, fmt.Errorf("unsupported baud %d", baud)
	}
}
