// Package rtcm validates the binary correction stream. Transport reads may
// split or merge frames arbitrarily, so the splitter accumulates bytes across
// calls and only releases complete, CRC-verified frames.
package rtcm

import (
	"bytes"
	"sync"

	log "github.com/sirupsen/logrus"
)

const (
	preamble  = 0xD3
	leaderLen = 3 // preamble + 2 bytes holding the 10-bit payload length
	crcLen    = 3

	// maxBuffer bounds memory on the embedded host. A frame can never be
	// larger than leader + 1023-byte payload + CRC, so a buffer this large
	// that still holds no complete frame is garbage.
	maxBuffer = 32 * 1024
)

// Splitter scans the correction byte stream for RTCM3 frames and verifies
// their CRC-24Q trailer. Feed is meant to be called from a single goroutine;
// the counters may be read concurrently.
type Splitter struct {
	buf []byte

	mu      sync.Mutex
	frames  uint64
	corrupt uint64
}

// Feed appends p to the internal buffer and returns every complete validated
// frame now available, trailer stripped. A CRC mismatch drops a single byte
// and rescans so the stream resynchronizes on the next preamble.
func (s *Splitter) Feed(p []byte) [][]byte {
	s.buf = append(s.buf, p...)

	var out [][]byte
	for {
		start := bytes.IndexByte(s.buf, preamble)
		if start < 0 {
			s.buf = s.buf[:0]
			break
		}
		if start > 0 {
			s.shift(start)
		}
		if len(s.buf) < leaderLen {
			break
		}

		payloadLen := int(s.buf[1]&0x03)<<8 | int(s.buf[2])
		total := leaderLen + payloadLen + crcLen
		if len(s.buf) < total {
			if len(s.buf) > maxBuffer {
				log.WithField("buffered", len(s.buf)).Warn("rtcm: buffer overflow without a complete frame, resetting")
				s.buf = s.buf[:0]
				s.addCorrupt()
			}
			break
		}

		body := s.buf[:total-crcLen]
		want := uint32(s.buf[total-3])<<16 | uint32(s.buf[total-2])<<8 | uint32(s.buf[total-1])
		if crc24q(body) != want {
			log.WithField("payload_len", payloadLen).Debug("rtcm: CRC mismatch, resynchronizing")
			s.addCorrupt()
			s.shift(1)
			continue
		}

		out = append(out, append([]byte(nil), body...))
		s.shift(total)
		s.mu.Lock()
		s.frames++
		s.mu.Unlock()
	}
	return out
}

// Frames returns the count of validated frames released so far.
func (s *Splitter) Frames() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Corrupt returns the count of corruption events (CRC mismatches and buffer
// resets).
func (s *Splitter) Corrupt() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.corrupt
}

func (s *Splitter) addCorrupt() {
	s.mu.Lock()
	s.corrupt++
	s.mu.Unlock()
}

func (s *Splitter) shift(n int) {
	s.buf = append(s.buf[:0], s.buf[n:]...)
}
