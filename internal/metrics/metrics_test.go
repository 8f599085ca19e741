package metrics_test

import (
	"testing"
	"time"

	"github.com/AndrewDonelson/amber/internal/metrics"
)

func TestNoop_AllMethods(t *testing.T) {
	n := metrics.Noop{}
	n.RecordSave("portable", 100*time.Millisecond, 4096)
	n.RecordLoad("binary", 2*time.Millisecond, 4096)
	n.RecordStoreOp("redis", "put", time.Millisecond)
	n.RecordError("save")
	n.RecordCapture(1024, true)
	n.RecordEviction(1)
}
