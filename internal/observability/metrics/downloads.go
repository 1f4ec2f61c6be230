// Package metrics provides standardized metric emission helpers for the
// download pipeline.
package metrics

import (
	"time"

	obserrors "github.com/clipper-dl/clipper/internal/observability/errors"
	"github.com/clipper-dl/clipper/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// DownloadMetric captures details about a download lifecycle event.
type DownloadMetric struct {
	Platform   string
	Transition string
	Result     string
	Duration   time.Duration
	Err        error
}

// EmitDownloadLifecycle emits standardized download lifecycle metrics.
func EmitDownloadLifecycle(sink statsd.Sink, in DownloadMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"platform":   in.Platform,
		"transition": in.Transition,
		"result":     in.Result,
	}

	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("download.transition", 1, tags)

	if in.Duration > 0 {
		sink.Timing("download.duration", in.Duration, CloneTags(tags))
	}
}

// CloneTags creates a shallow copy of a tag map.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
