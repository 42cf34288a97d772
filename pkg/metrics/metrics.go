// Package metrics adapts the scheduler's metrics contract to go-metrics.
package metrics

import (
	"sort"
	"strings"
	"time"

	gometrics "github.com/hashicorp/go-metrics"

	"github.com/ludia8888/arrakis-scheduler/pkg/core"
)

// GoMetricsSink emits through the process-global go-metrics instance, so
// whatever sink the host process configured (statsd, prometheus, in-memory)
// receives the scheduler's measurements.
type GoMetricsSink struct{}

var _ core.MetricsSink = GoMetricsSink{}

// NewGoMetricsSink returns a sink backed by the global go-metrics instance.
func NewGoMetricsSink() GoMetricsSink { return GoMetricsSink{} }

func (GoMetricsSink) IncrCounter(name string, labels map[string]string) {
	gometrics.IncrCounterWithLabels(splitKey(name), 1, toLabels(labels))
}

func (GoMetricsSink) SetGauge(name string, value float64, labels map[string]string) {
	gometrics.SetGaugeWithLabels(splitKey(name), float32(value), toLabels(labels))
}

func (GoMetricsSink) ObserveDuration(name string, d time.Duration, labels map[string]string) {
	gometrics.AddSampleWithLabels(splitKey(name), float32(d.Milliseconds()), toLabels(labels))
}

func splitKey(name string) []string {
	return strings.Split(name, ".")
}

func toLabels(labels map[string]string) []gometrics.Label {
	if len(labels) == 0 {
		return nil
	}
	out := make([]gometrics.Label, 0, len(labels))
	for k, v := range labels {
		out = append(out, gometrics.Label{Name: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
