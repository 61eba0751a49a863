package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"senseflow/internal/model"
	"senseflow/pkg/interfaces"
)

// memStore in-memory time-series store keyed like the influx store
type memStore struct {
	mu       sync.Mutex
	points   []interfaces.Point
	queries  int32
	writeErr error
	queryErr error
	deletes  []string
	// deleteErr fails Delete for the named measurement
	deleteErr map[string]error
}

func (s *memStore) Write(_ context.Context, points []interfaces.Point) error {
	if s.writeErr != nil {
		return s.writeErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.points = append(s.points, points...)
	return nil
}

func (s *memStore) Query(_ context.Context, q interfaces.Query) ([]interfaces.Sample, error) {
	atomic.AddInt32(&s.queries, 1)
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	series := make(map[string][]interfaces.Sample)
	var keys []string
	for _, p := range s.points {
		if p.Measurement != q.Measurement || !tagsMatch(p.Tags, q.Tags) {
			continue
		}
		if !q.Start.IsZero() && p.Time.Before(q.Start) {
			continue
		}
		if !q.Stop.IsZero() && !p.Time.Before(q.Stop) {
			continue
		}
		for field, v := range p.Fields {
			if q.Field != "" && field != q.Field {
				continue
			}
			key := seriesKey(p.Tags, field)
			if _, ok := series[key]; !ok {
				keys = append(keys, key)
			}
			series[key] = append(series[key], interfaces.Sample{
				Measurement: p.Measurement, Tags: p.Tags, Field: field, Value: v, Time: p.Time,
			})
		}
	}
	sort.Strings(keys)

	var out []interfaces.Sample
	for _, key := range keys {
		samples := series[key]
		sort.SliceStable(samples, func(i, j int) bool { return samples[i].Time.Before(samples[j].Time) })
		if q.Limit > 0 && len(samples) > q.Limit {
			samples = samples[:q.Limit]
		}
		out = append(out, samples...)
	}
	return out, nil
}

func (s *memStore) Delete(_ context.Context, measurement string, tags map[string]string, _, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes = append(s.deletes, measurement)
	if err := s.deleteErr[measurement]; err != nil {
		return err
	}
	kept := s.points[:0]
	for _, p := range s.points {
		if p.Measurement == measurement && tagsMatch(p.Tags, tags) {
			continue
		}
		kept = append(kept, p)
	}
	s.points = kept
	return nil
}

func (s *memStore) count(measurement string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.points {
		if p.Measurement == measurement {
			n++
		}
	}
	return n
}

func tagsMatch(have, want map[string]string) bool {
	for k, v := range want {
		if v != "" && have[k] != v {
			return false
		}
	}
	return true
}

func seriesKey(tags map[string]string, field string) string {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s,", k, tags[k])
	}
	b.WriteString(field)
	return b.String()
}

// staticRegistry fixed descriptor list
type staticRegistry struct {
	models []model.ModelDescriptor
	err    error
}

func (r *staticRegistry) ListModels(context.Context) ([]model.ModelDescriptor, error) {
	return r.models, r.err
}

// memQueue records enqueued payloads
type memQueue struct {
	mu       sync.Mutex
	payloads [][]byte
	err      error
}

func (q *memQueue) Enqueue(_ context.Context, payload []byte) (int64, error) {
	if q.err != nil {
		return 0, q.err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.payloads = append(q.payloads, payload)
	return int64(len(q.payloads)), nil
}

func (q *memQueue) Dequeue(context.Context, int) ([]model.QueueEntry, error) { return nil, nil }
func (q *memQueue) QueueLength(context.Context) (int64, error)               { return 0, nil }
func (q *memQueue) Stats(context.Context) (*model.QueueStats, error)         { return &model.QueueStats{}, nil }
func (q *memQueue) PurgeClaimed(context.Context, time.Time) (int64, error)   { return 0, nil }
func (q *memQueue) Close() error                                             { return nil }

// pathFetcher maps refs to themselves, failing for refs listed in fail
type pathFetcher struct {
	fail map[string]bool
}

func (f *pathFetcher) Fetch(_ context.Context, name, ref string) (string, error) {
	if f.fail[ref] {
		return "", fmt.Errorf("download of %s failed", name)
	}
	return ref, nil
}

// scaleRuntime loads handles that multiply their input by a per-path factor
type scaleRuntime struct {
	factors map[string]float32
	runErr  map[string]error
	loaded  int32
	closed  int32
}

func (r *scaleRuntime) Load(_ context.Context, path string) (interfaces.ModelHandle, error) {
	atomic.AddInt32(&r.loaded, 1)
	factor, ok := r.factors[path]
	if !ok {
		factor = 1
	}
	return &scaleHandle{runtime: r, factor: factor, err: r.runErr[path]}, nil
}

type scaleHandle struct {
	runtime *scaleRuntime
	factor  float32
	err     error
}

func (h *scaleHandle) InputShape() []int { return nil }

func (h *scaleHandle) Run(_ context.Context, input *interfaces.Tensor) (*interfaces.Tensor, error) {
	if h.err != nil {
		return nil, h.err
	}
	out := make([]float32, len(input.Data))
	for i, v := range input.Data {
		out[i] = v * h.factor
	}
	return &interfaces.Tensor{Shape: append([]int(nil), input.Shape...), Data: out}, nil
}

func (h *scaleHandle) Close(context.Context) error {
	atomic.AddInt32(&h.runtime.closed, 1)
	return nil
}

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }

// series builds a batch with n samples per (sensor, feature) pair; values are 1..n
func series(n int, pairs ...string) *model.Batch {
	b := &model.Batch{BaseTime: 1700000000}
	for p := 0; p+1 < len(pairs); p += 2 {
		for i := 0; i < n; i++ {
			ts := &model.Timestamp{Time: time.Unix(1700000000+int64(i), 0).UTC()}
			b.Records = append(b.Records, model.Record{
				SensorID: pairs[p],
				Features: []string{pairs[p+1]},
				Value:    floatPtr(float64(i + 1)),
				Time:     ts,
			})
		}
	}
	return b
}
