package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"canb0t/internal/canbus"
)

// Observer receives every frame that reaches the durable log. Observers are
// best-effort side channels (live monitor, MQTT, telemetry); their failures
// never affect the record path.
type Observer interface {
	Observe(f canbus.Frame)
}

// DualSink owns the two output streams: the human-readable mirror and the
// durable append-only capture file. Every Record call writes both and
// synchronously flushes the durable stream before returning, so power loss
// immediately after a call loses at most the frame being written.
type DualSink struct {
	mu        sync.Mutex
	mirror    io.Writer
	path      string
	rotateAt  int64 // bytes; 0 disables rotation
	file      *os.File
	size      int64
	observers []Observer
}

// Open opens (create-or-append) the durable log at path and binds the
// mirror writer. The header line is written only when the file is newly
// created, so restarts appending to an existing capture never duplicate it.
func Open(mirror io.Writer, path string, rotateMB int) (*DualSink, error) {
	s := &DualSink{
		mirror:   mirror,
		path:     path,
		rotateAt: int64(rotateMB) * 1024 * 1024,
	}
	if err := s.openFile(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *DualSink) openFile() error {
	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("logger: open %s: %w", s.path, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("logger: stat %s: %w", s.path, err)
	}
	s.file = f
	s.size = st.Size()
	if s.size == 0 {
		n, err := fmt.Fprintln(f, canbus.LogHeader)
		if err != nil {
			f.Close()
			return fmt.Errorf("logger: write header: %w", err)
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return fmt.Errorf("logger: sync header: %w", err)
		}
		s.size = int64(n)
	}
	return nil
}

// Attach registers an observer. Not safe to call once recording has begun.
func (s *DualSink) Attach(o Observer) {
	s.observers = append(s.observers, o)
}

// Record writes the frame to both sinks in its two encodings, flushing the
// durable stream before returning. Mirror failures are reported but do not
// fail the record.
func (s *DualSink) Record(f canbus.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := fmt.Fprintln(s.mirror, f.MirrorLine()); err != nil {
		log.Printf("[logger] mirror write failed: %v", err)
	}

	n, err := fmt.Fprintln(s.file, f.LogLine())
	if err != nil {
		return fmt.Errorf("logger: write record: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("logger: sync record: %w", err)
	}
	s.size += int64(n)

	if s.rotateAt > 0 && s.size >= s.rotateAt {
		if err := s.rotate(); err != nil {
			log.Printf("[logger] rotate failed: %v", err)
		}
	}

	for _, o := range s.observers {
		o.Observe(f)
	}
	return nil
}

// Diag writes a mirror-only diagnostic line ("No response",
// "PID send failed"). Nothing reaches the durable log.
func (s *DualSink) Diag(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintln(s.mirror, msg); err != nil {
		log.Printf("[logger] mirror write failed: %v", err)
	}
}

// rotate renames the full capture to a timestamped sibling and reopens the
// base path, which gets a fresh header.
func (s *DualSink) rotate() error {
	if err := s.file.Close(); err != nil {
		return err
	}
	ext := filepath.Ext(s.path)
	base := strings.TrimSuffix(s.path, ext)
	rotated := fmt.Sprintf("%s_%s%s", base, time.Now().Format("20060102_150405"), ext)
	if err := os.Rename(s.path, rotated); err != nil {
		return err
	}
	log.Printf("[logger] rotated capture to %s", rotated)
	return s.openFile()
}

// Close flushes and closes the durable stream.
func (s *DualSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	if err := s.file.Sync(); err != nil {
		s.file.Close()
		return err
	}
	err := s.file.Close()
	s.file = nil
	return err
}
