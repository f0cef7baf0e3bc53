package metrics

import (
	"fmt"
	"net/http"

	"go.uber.org/atomic"
)

var (
	PointsReceived  atomic.Int64
	PointsFlushed   atomic.Int64
	FlushSuccess    atomic.Int64
	FlushFailures   atomic.Int64
	FallbackWrites  atomic.Int64
	EventsDetected  atomic.Int64
	BroadcastDrops  atomic.Int64
	RejectedPoints  atomic.Int64
	LiveSubscribers atomic.Int64
)

func HandleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprintf(w, "tracking_points_received_total %d\n", PointsReceived.Load())
	fmt.Fprintf(w, "tracking_points_flushed_total %d\n", PointsFlushed.Load())
	fmt.Fprintf(w, "tracking_flush_success_total %d\n", FlushSuccess.Load())
	fmt.Fprintf(w, "tracking_flush_failures_total %d\n", FlushFailures.Load())
	fmt.Fprintf(w, "tracking_fallback_writes_total %d\n", FallbackWrites.Load())
	fmt.Fprintf(w, "tracking_events_detected_total %d\n", EventsDetected.Load())
	fmt.Fprintf(w, "tracking_broadcast_drops_total %d\n", BroadcastDrops.Load())
	fmt.Fprintf(w, "tracking_rejected_points_total %d\n", RejectedPoints.Load())
	fmt.Fprintf(w, "tracking_live_subscribers %d\n", LiveSubscribers.Load())
}
