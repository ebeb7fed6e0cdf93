// Package publish serializes fixes for consumption by other local processes.
// The file sink is the reference implementation; anything else (sockets,
// brokers) plugs in behind the Sink interface.
package publish

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/a869320750/rtk-gnss-worker/internal/nmea"
)

// Sink receives decoded fixes. Publish must be safe to call at the decode
// rate; implementations throttle internally.
type Sink interface {
	Publish(fix nmea.Fix) error
}

// FileSink writes the latest fix as a JSON document, atomically: a temp file
// in the target directory is written, synced and renamed over the target, so
// a concurrent reader sees either the previous or the new complete document,
// never a partial one.
type FileSink struct {
	path        string
	minInterval time.Duration

	mu        sync.Mutex
	lastWrite time.Time
	written   uint64
}

func NewFileSink(path string, minInterval time.Duration) *FileSink {
	if minInterval <= 0 {
		minInterval = time.Second
	}
	return &FileSink{path: path, minInterval: minInterval}
}

// Publish writes fix to the target path. Calls arriving faster than the
// minimum interval are silently skipped; that is success, not an error. A
// write failure is logged and returned, and the caller keeps operating.
func (s *FileSink) Publish(fix nmea.Fix) error {
	s.mu.Lock()
	now := time.Now()
	if !s.lastWrite.IsZero() && now.Sub(s.lastWrite) < s.minInterval {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.write(fix); err != nil {
		log.WithError(err).WithField("path", s.path).Error("publish: write failed")
		return fmt.Errorf("publish: %w", err)
	}

	s.mu.Lock()
	s.lastWrite = now
	s.written++
	s.mu.Unlock()
	return nil
}

// Written returns the number of successful writes.
func (s *FileSink) Written() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

func (s *FileSink) write(fix nmea.Fix) error {
	b, err := json.MarshalIndent(fix, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, s.path)
}
