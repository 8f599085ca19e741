// Copyright (c) 2026 Nlaak Studios (https://nlaak.com)
// Author: Andrew Donelson (https://www.linkedin.com/in/andrew-donelson/)
//
// rewind.go — bounded in-memory ring of compressed binary captures for
// emulator rewind; identical consecutive states are stored once.

package amber

import (
	"fmt"
	"time"

	"github.com/AndrewDonelson/amber/internal/clock"
	"github.com/AndrewDonelson/amber/internal/metrics"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/xxh3"
)

// RewindConfig contains all Rewind configuration.
type RewindConfig struct {
	// Capacity bounds the ring; the oldest capture is dropped on overflow.
	// Zero means 120 captures.
	Capacity int

	// Registry resolves polymorphic type discriminators. Nil uses the
	// process-wide DefaultRegistry.
	Registry *Registry

	// Optional overrideable components
	Clock   clock.Clock
	Metrics metrics.MetricsRecorder
	Logger  Logger
}

func (c *RewindConfig) defaults() {
	if c.Capacity == 0 {
		c.Capacity = 120
	}
	if c.Clock == nil {
		c.Clock = clock.Real{}
	}
	if c.Metrics == nil {
		c.Metrics = metrics.Noop{}
	}
	if c.Logger == nil {
		c.Logger = noopLogger{}
	}
}

type rewindEntry struct {
	comp    []byte
	rawSize int
	hash    uint64
	stamp   time.Time
}

// RewindStats is the snapshot returned by Rewind.Stats().
type RewindStats struct {
	Entries         int
	RawBytes        int64
	CompressedBytes int64
	Dedups          int64
	Evictions       int64
}

// Rewind keeps a bounded chronological ring of machine captures so an
// emulator loop can step back to a recent state. Captures use the binary
// encoding and are zstd-compressed per entry. Rewind is single-threaded;
// it belongs to the loop that owns the machine.
type Rewind struct {
	cfg       RewindConfig
	entries   []rewindEntry
	enc       *zstd.Encoder
	dec       *zstd.Decoder
	metrics   metrics.MetricsRecorder
	logger    Logger
	dedups    int64
	evictions int64
	closed    bool
}

// NewRewind creates a rewind ring from the provided config.
func NewRewind(cfg RewindConfig) (*Rewind, error) {
	cfg.defaults()
	if cfg.Capacity < 1 {
		return nil, fmt.Errorf("%w: rewind capacity %d", ErrInvalidConfig, cfg.Capacity)
	}

	// Captures happen on the emulation thread, so favor speed and keep the
	// codec single-goroutine.
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedFastest),
		zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("amber: rewind compressor: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("amber: rewind decompressor: %w", err)
	}

	return &Rewind{
		cfg:     cfg,
		enc:     enc,
		dec:     dec,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
	}, nil
}

// Capture serializes root and appends it to the ring. When the new state
// is identical to the previous capture nothing is stored and Capture
// returns false.
func (r *Rewind) Capture(root Serializable) (bool, error) {
	if r.closed {
		return false, ErrClosed
	}

	a := NewBinarySaver(archiveOptions(r.logger, r.cfg.Registry)...)
	a.Serialize(snapshotRootTag, root)
	raw, err := a.Bytes()
	_ = a.Close()
	if err != nil {
		return false, err
	}

	h := xxh3.Hash(raw)
	if n := len(r.entries); n > 0 && r.entries[n-1].hash == h {
		r.dedups++
		r.metrics.RecordCapture(len(raw), true)
		return false, nil
	}

	if len(r.entries) >= r.cfg.Capacity {
		r.entries = append(r.entries[:0], r.entries[1:]...)
		r.evictions++
		r.metrics.RecordEviction(1)
		r.logger.Debug("rewind capture evicted", "capacity", r.cfg.Capacity)
	}
	r.entries = append(r.entries, rewindEntry{
		comp:    r.enc.EncodeAll(raw, nil),
		rawSize: len(raw),
		hash:    h,
		stamp:   r.cfg.Clock.Now(),
	})
	r.metrics.RecordCapture(len(raw), false)
	return true, nil
}

// Len returns the number of captures in the ring.
func (r *Rewind) Len() int { return len(r.entries) }

// Seek restores capture i into root; 0 is the oldest capture.
func (r *Rewind) Seek(i int, root Serializable) error {
	if r.closed {
		return ErrClosed
	}
	if i < 0 || i >= len(r.entries) {
		return fmt.Errorf("%w: rewind capture %d of %d", ErrNotFound, i, len(r.entries))
	}
	raw, err := r.dec.DecodeAll(r.entries[i].comp, nil)
	if err != nil {
		return fmt.Errorf("%w: rewind capture %d: %v", ErrTruncated, i, err)
	}
	a := NewBinaryLoader(raw, archiveOptions(r.logger, r.cfg.Registry)...)
	a.Serialize(snapshotRootTag, root)
	return a.Close()
}

// Latest restores the most recent capture into root.
func (r *Rewind) Latest(root Serializable) error {
	return r.Seek(len(r.entries)-1, root)
}

// Stamp returns the wall-clock time capture i was taken; 0 is the oldest.
func (r *Rewind) Stamp(i int) (time.Time, error) {
	if i < 0 || i >= len(r.entries) {
		return time.Time{}, fmt.Errorf("%w: rewind capture %d of %d", ErrNotFound, i, len(r.entries))
	}
	return r.entries[i].stamp, nil
}

// Clear drops all captures, for example on machine reset.
func (r *Rewind) Clear() {
	r.entries = nil
}

// Stats returns a snapshot of ring usage counters.
func (r *Rewind) Stats() RewindStats {
	s := RewindStats{
		Entries:   len(r.entries),
		Dedups:    r.dedups,
		Evictions: r.evictions,
	}
	for _, e := range r.entries {
		s.RawBytes += int64(e.rawSize)
		s.CompressedBytes += int64(len(e.comp))
	}
	return s
}

// Close releases the ring and its compression codecs. Close is idempotent.
func (r *Rewind) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.entries = nil
	r.dec.Close()
	return r.enc.Close()
}
