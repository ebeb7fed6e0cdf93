// Package ntrip implements the client side of the correction session: an
// authenticated GET against a caster mountpoint over a persistent TCP
// connection, a binary correction stream downstream, and periodic GGA
// heartbeats upstream.
//
// The caster speaks a raw status line ("ICY 200 OK" for NTRIP 1.0,
// "HTTP/1.1 200 OK" for 2.x), not full HTTP, which is why this package
// drives a plain net.Conn instead of net/http.
package ntrip

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/a869320750/rtk-gnss-worker/internal/nmea"
)

var (
	// ErrUnauthorized means the caster rejected the credentials.
	ErrUnauthorized = errors.New("ntrip: unauthorized")

	// ErrMountpointNotFound means the caster answered with a sourcetable
	// instead of a stream: the requested mountpoint does not exist.
	ErrMountpointNotFound = errors.New("ntrip: mountpoint not found")

	// ErrNoData signals a bounded receive that timed out.
	ErrNoData = errors.New("ntrip: no data")

	// ErrNotConnected is returned by stream operations while disconnected.
	ErrNotConnected = errors.New("ntrip: not connected")
)

// failureWrap bounds the consecutive-failure count so the retry delay stays
// bounded on an unattended host; past it the count wraps back to 1.
const failureWrap = 10

type Config struct {
	Server     string
	Port       int
	Username   string
	Password   string
	Mountpoint string
	UserAgent  string

	// DialTimeout bounds the TCP connect; ResponseTimeout bounds the wait
	// for the caster's status line.
	DialTimeout     time.Duration
	ResponseTimeout time.Duration

	// ReconnectInterval is the backoff base: the retry delay after n
	// consecutive failures is ReconnectInterval * (1 + n).
	ReconnectInterval time.Duration

	// HeartbeatInterval is the minimum spacing between GGA heartbeats.
	HeartbeatInterval time.Duration
}

// Client manages the correction session. Connect/Receive are meant to be
// driven from a single loop; SendHeartbeat and the snapshot accessors are
// safe from other goroutines.
type Client struct {
	cfg Config

	mu            sync.Mutex
	conn          net.Conn
	br            *bufio.Reader
	connected     bool
	failures      int
	lastHeartbeat time.Time
	bytesReceived uint64
	heartbeats    uint64
}

// Snapshot is a point-in-time view of the session for status queries.
type Snapshot struct {
	Connected        bool      `json:"connected"`
	Failures         int       `json:"failures"`
	BytesReceived    uint64    `json:"bytes_received"`
	Heartbeats       uint64    `json:"heartbeats"`
	LastHeartbeatUTC time.Time `json:"last_heartbeat_utc,omitempty"`
}

func New(cfg Config) *Client {
	if cfg.UserAgent == "" {
		cfg.UserAgent = "NTRIP rtk-gnss-worker"
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 15 * time.Second
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = 10 * time.Second
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 5 * time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	return &Client{cfg: cfg}
}

// Connect dials the caster, requests the mountpoint and reads the status
// line. On success the correction stream is live and the failure count
// resets. Every failure mode increments the failure count; none is fatal to
// the caller, which is expected to retry after RetryDelay.
func (c *Client) Connect(ctx context.Context) error {
	c.Disconnect()

	addr := net.JoinHostPort(c.cfg.Server, fmt.Sprintf("%d", c.cfg.Port))
	dialer := &net.Dialer{Timeout: c.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		c.fail()
		return fmt.Errorf("ntrip: dial %s: %w", addr, err)
	}

	auth := base64.StdEncoding.EncodeToString([]byte(c.cfg.Username + ":" + c.cfg.Password))
	req := fmt.Sprintf("GET /%s HTTP/1.1\r\nUser-Agent: %s\r\nAuthorization: Basic %s\r\nConnection: close\r\n\r\n",
		c.cfg.Mountpoint, c.cfg.UserAgent, auth)

	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.ResponseTimeout))
	if _, err := conn.Write([]byte(req)); err != nil {
		_ = conn.Close()
		c.fail()
		return fmt.Errorf("ntrip: send request: %w", err)
	}

	// The reader stays attached to the connection: anything it buffers past
	// the status line is the start of the correction stream.
	br := bufio.NewReader(conn)
	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ResponseTimeout))
	status, err := br.ReadString('\n')
	if err != nil {
		_ = conn.Close()
		c.fail()
		return fmt.Errorf("ntrip: read status line: %w", err)
	}
	status = strings.TrimSpace(status)

	if err := classifyStatus(status); err != nil {
		_ = conn.Close()
		c.fail()
		log.WithFields(log.Fields{"mountpoint": c.cfg.Mountpoint, "status": status}).Error("ntrip: caster refused stream")
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.br = br
	c.connected = true
	c.failures = 0
	c.mu.Unlock()

	log.WithFields(log.Fields{"addr": addr, "mountpoint": c.cfg.Mountpoint}).Info("ntrip: connected")
	return nil
}

func classifyStatus(status string) error {
	switch {
	case strings.Contains(status, "ICY 200 OK"):
		return nil
	case strings.HasPrefix(status, "HTTP/") && strings.Contains(status, " 200 "):
		return nil
	case strings.Contains(status, "SOURCETABLE"):
		return fmt.Errorf("%w: caster returned a sourcetable", ErrMountpointNotFound)
	case strings.Contains(status, "401"), strings.Contains(status, "403"):
		return fmt.Errorf("%w: %s", ErrUnauthorized, status)
	default:
		return fmt.Errorf("ntrip: unexpected status %q", status)
	}
}

// SendHeartbeat writes a GGA sentence built from fix if one is present and
// the heartbeat interval has elapsed; otherwise it is a no-op. A write
// failure marks the session disconnected.
func (c *Client) SendHeartbeat(fix *nmea.Fix) error {
	if fix == nil {
		return nil
	}

	c.mu.Lock()
	if !c.connected || c.conn == nil {
		c.mu.Unlock()
		return nil
	}
	now := time.Now()
	if !c.lastHeartbeat.IsZero() && now.Sub(c.lastHeartbeat) < c.cfg.HeartbeatInterval {
		c.mu.Unlock()
		return nil
	}
	conn := c.conn
	c.mu.Unlock()

	sentence := nmea.EncodeGGA(*fix, now)
	_ = conn.SetWriteDeadline(now.Add(5 * time.Second))
	if _, err := conn.Write([]byte(sentence)); err != nil {
		c.markDisconnected()
		return fmt.Errorf("ntrip: send heartbeat: %w", err)
	}

	c.mu.Lock()
	c.lastHeartbeat = now
	c.heartbeats++
	c.mu.Unlock()
	return nil
}

// Receive returns the next chunk of correction bytes, or ErrNoData if none
// arrived within timeout. It never blocks past timeout. A stream error marks
// the session disconnected.
func (c *Client) Receive(timeout time.Duration) ([]byte, error) {
	c.mu.Lock()
	conn, br, connected := c.conn, c.br, c.connected
	c.mu.Unlock()
	if !connected || conn == nil {
		return nil, ErrNotConnected
	}

	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	buf := make([]byte, 4096)
	n, err := br.Read(buf)
	if n > 0 {
		c.mu.Lock()
		c.bytesReceived += uint64(n)
		c.mu.Unlock()
		return buf[:n], nil
	}
	if err != nil {
		if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
			return nil, ErrNoData
		}
		c.markDisconnected()
		return nil, fmt.Errorf("ntrip: receive: %w", err)
	}
	return nil, ErrNoData
}

// Disconnect closes the session. It is idempotent.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.br = nil
	c.connected = false
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// RetryDelay is the backoff before the next connect attempt:
// ReconnectInterval * (1 + consecutive failures). The failure count wraps at
// failureWrap, so the delay is bounded but retries never stop.
func (c *Client) RetryDelay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.ReconnectInterval * time.Duration(1+c.failures)
}

func (c *Client) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Connected:        c.connected,
		Failures:         c.failures,
		BytesReceived:    c.bytesReceived,
		Heartbeats:       c.heartbeats,
		LastHeartbeatUTC: c.lastHeartbeat.UTC(),
	}
}

func (c *Client) fail() {
	c.mu.Lock()
	c.failures++
	if c.failures > failureWrap {
		c.failures = 1
	}
	c.mu.Unlock()
}

func (c *Client) markDisconnected() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.br = nil
	c.connected = false
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}
