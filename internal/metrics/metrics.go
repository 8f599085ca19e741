// Package metrics provides the MetricsRecorder interface and a noop implementation.
package metrics

import "time"

// MetricsRecorder is the interface for recording operational metrics.
type MetricsRecorder interface {
	RecordSave(format string, d time.Duration, size int)
	RecordLoad(format string, d time.Duration, size int)
	RecordStoreOp(backend, op string, d time.Duration)
	RecordError(op string)
	RecordCapture(size int, deduped bool)
	RecordEviction(count int)
}

// Noop is a MetricsRecorder that discards all data.
type Noop struct{}

func (Noop) RecordSave(format string, d time.Duration, size int) {}
func (Noop) RecordLoad(format string, d time.Duration, size int) {}
func (Noop) RecordStoreOp(backend, op string, d time.Duration)   {}
func (Noop) RecordError(op string)                               {}
func (Noop) RecordCapture(size int, deduped bool)                {}
func (Noop) RecordEviction(count int)                            {}
