package metrics

import (
	"time"

	obserrors "github.com/merrymaker/scanner/internal/observability/errors"
	"github.com/merrymaker/scanner/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// JobMetric captures details about a job lifecycle event for metric emission.
// TaskName mirrors model.Job.TaskName (e.g. "scan", "rule-job"), the queue
// name a worker reserved against, rather than a generic job classification.
type JobMetric struct {
	TaskName   string
	Transition string
	Result     string
	Duration   time.Duration
	Err        error
}

// EmitJobLifecycle emits standardised job lifecycle metrics.
func EmitJobLifecycle(sink statsd.Sink, in JobMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		statsd.TagTaskName:   in.TaskName,
		statsd.TagTransition: in.Transition,
		statsd.TagResult:     in.Result,
	}

	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags[statsd.TagErrorClass] = class
		}
	}

	sink.Count(statsd.MetricJobTransition, 1, tags)

	if in.Duration > 0 {
		sink.Timing(statsd.MetricJobDuration, in.Duration, CloneTags(tags))
	}
}

// CloneTags creates a shallow copy of a tag map, filtering out empty keys.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		if k == "" {
			continue
		}
		out[k] = v
	}
	return out
}
