// Package aggregate keeps running statistics about ingestion: how many
// batches were accepted, how many trials they carried, and how long merges
// and snapshot writes took. The statistics are observational only and never
// feed back into the stored counters.
package aggregate

import (
	"math"
	"sync"

	"github.com/DataDog/sketches-go/ddsketch"
)

// DefaultAccuracy is the relative accuracy of percentile sketches.
const DefaultAccuracy = 0.01

// StreamingAggregate maintains running statistics for one series of
// observations. It supports optional percentile calculation using DDSketch.
type StreamingAggregate struct {
	mu sync.Mutex

	name string

	// Running statistics
	count   int64
	sum     float64
	min     float64
	max     float64
	firstTs int64
	lastTs  int64

	// DDSketch for percentiles (nil if disabled)
	sketch *ddsketch.DDSketch
}

// Result is a point-in-time view of a StreamingAggregate.
type Result struct {
	Name string `json:"name"`

	Count int64   `json:"count"`
	Sum   float64 `json:"sum"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`

	// Percentiles (nil if not enabled or empty)
	P50 *float64 `json:"p50,omitempty"`
	P90 *float64 `json:"p90,omitempty"`
	P95 *float64 `json:"p95,omitempty"`
	P99 *float64 `json:"p99,omitempty"`

	// Unix milliseconds of the first and last observation
	FirstTs int64 `json:"first_ts,omitempty"`
	LastTs  int64 `json:"last_ts,omitempty"`
}

// HasPercentiles returns true if percentile data is available.
func (r Result) HasPercentiles() bool {
	return r.P50 != nil
}

// SetPercentiles sets all percentile values.
func (r *Result) SetPercentiles(p50, p90, p95, p99 float64) {
	r.P50 = &p50
	r.P90 = &p90
	r.P95 = &p95
	r.P99 = &p99
}

// newAggregate creates a StreamingAggregate. A positive accuracy also
// tracks values in a DDSketch of that relative accuracy.
func newAggregate(name string, accuracy float64) *StreamingAggregate {
	agg := &StreamingAggregate{
		name: name,
		min:  math.MaxFloat64,
		max:  -math.MaxFloat64,
	}
	if accuracy > 0 {
		agg.sketch = newSketch(accuracy)
	}
	return agg
}

func newSketch(accuracy float64) *ddsketch.DDSketch {
	sketch, err := ddsketch.NewDefaultDDSketch(accuracy)
	if err != nil {
		return nil
	}
	return sketch
}

// Add adds a value observed at timestampMs.
func (a *StreamingAggregate) Add(value float64, timestampMs int64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.count++
	a.sum += value

	if value < a.min {
		a.min = value
	}
	if value > a.max {
		a.max = value
	}

	if a.firstTs == 0 || timestampMs < a.firstTs {
		a.firstTs = timestampMs
	}
	if timestampMs > a.lastTs {
		a.lastTs = timestampMs
	}

	if a.sketch != nil {
		a.sketch.Add(value)
	}
}

// Result returns the current statistics.
func (a *StreamingAggregate) Result() Result {
	a.mu.Lock()
	defer a.mu.Unlock()

	result := Result{
		Name:    a.name,
		Count:   a.count,
		Sum:     a.sum,
		FirstTs: a.firstTs,
		LastTs:  a.lastTs,
	}

	if a.count > 0 {
		result.Avg = a.sum / float64(a.count)
		result.Min = a.min
		result.Max = a.max
	}

	if a.sketch != nil && a.count > 0 {
		p50, _ := a.sketch.GetValueAtQuantile(0.50)
		p90, _ := a.sketch.GetValueAtQuantile(0.90)
		p95, _ := a.sketch.GetValueAtQuantile(0.95)
		p99, _ := a.sketch.GetValueAtQuantile(0.99)
		result.SetPercentiles(p50, p90, p95, p99)
	}

	return result
}
