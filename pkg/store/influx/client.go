package influx

import (
	"context"
	"fmt"
	"strings"
	"time"

	"senseflow/pkg/config"
	"senseflow/pkg/interfaces"
	"senseflow/pkg/logger"
	"senseflow/pkg/retry"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Store InfluxDB-backed time-series store
// Raw telemetry lives in the data bucket, model output in the results bucket.
type Store struct {
	client        influxdb2.Client
	org           string
	dataBucket    string
	resultsBucket string
	timeout       time.Duration
	lookback      time.Duration
	now           func() time.Time
}

var _ interfaces.TimeSeriesStore = (*Store)(nil)

// NewStore creates a new InfluxDB store
func NewStore(cfg config.InfluxConfig) (*Store, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("influx url is required")
	}
	opts := influxdb2.DefaultOptions().
		SetHTTPRequestTimeout(uint(cfg.Timeout / time.Second)).
		SetPrecision(time.Nanosecond)
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	return &Store{
		client:        client,
		org:           cfg.Org,
		dataBucket:    cfg.DataBucket,
		resultsBucket: cfg.ResultsBucket,
		timeout:       cfg.Timeout,
		lookback:      cfg.Lookback,
		now:           time.Now,
	}, nil
}

// bucketFor routes a measurement to its bucket
func (s *Store) bucketFor(measurement string) string {
	if measurement == interfaces.MeasurementModelOutput {
		return s.resultsBucket
	}
	return s.dataBucket
}

// Write persists points grouped by bucket; each group is retried with retry.WritePolicy
func (s *Store) Write(ctx context.Context, points []interfaces.Point) error {
	if len(points) == 0 {
		return nil
	}

	grouped := make(map[string][]*write.Point)
	for _, p := range points {
		fields := make(map[string]interface{}, len(p.Fields))
		for k, v := range p.Fields {
			fields[k] = v
		}
		bucket := s.bucketFor(p.Measurement)
		grouped[bucket] = append(grouped[bucket], influxdb2.NewPoint(p.Measurement, p.Tags, fields, p.Time))
	}

	for bucket, pts := range grouped {
		writeAPI := s.client.WriteAPIBlocking(s.org, bucket)
		_, err := retry.Write(ctx, "influx write "+bucket, func() (struct{}, error) {
			return struct{}{}, writeAPI.WritePoint(ctx, pts...)
		})
		if err != nil {
			return fmt.Errorf("failed to write %d points to %s: %w", len(pts), bucket, err)
		}
		logger.DebugCtx(ctx, "saved %d points to influx (bucket=%s)", len(pts), bucket)
	}
	return nil
}

// Query returns samples for q; range defaults to [now-lookback, now]
func (s *Store) Query(ctx context.Context, q interfaces.Query) ([]interfaces.Sample, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	stop := q.Stop
	if stop.IsZero() {
		stop = s.now().Add(time.Second)
	}
	start := q.Start
	if start.IsZero() {
		start = stop.Add(-s.lookback)
	}

	flux := buildFlux(s.bucketFor(q.Measurement), q, start, stop)
	result, err := s.client.QueryAPI(s.org).Query(ctx, flux)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", q.Measurement, err)
	}
	defer result.Close()

	var samples []interfaces.Sample
	for result.Next() {
		rec := result.Record()
		value, ok := toFloat(rec.Value())
		if !ok {
			continue
		}
		tags := make(map[string]string)
		for k, v := range rec.Values() {
			if strings.HasPrefix(k, "_") || k == "result" || k == "table" {
				continue
			}
			if sv, ok := v.(string); ok {
				tags[k] = sv
			}
		}
		samples = append(samples, interfaces.Sample{
			Measurement: rec.Measurement(),
			Tags:        tags,
			Field:       rec.Field(),
			Value:       value,
			Time:        rec.Time(),
		})
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s query result: %w", q.Measurement, err)
	}
	return samples, nil
}

// Delete removes samples of measurement matching tags in [start, stop]; a zero start means the epoch
func (s *Store) Delete(ctx context.Context, measurement string, tags map[string]string, start, stop time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if start.IsZero() {
		start = time.Unix(0, 0)
	}
	if stop.IsZero() {
		stop = s.now()
	}
	bucket := s.bucketFor(measurement)
	predicate := buildPredicate(measurement, tags)
	if err := s.client.DeleteAPI().DeleteWithName(ctx, s.org, bucket, start.UTC(), stop.UTC(), predicate); err != nil {
		return fmt.Errorf("failed to delete from %s where %s: %w", bucket, predicate, err)
	}
	logger.InfoCtx(ctx, "deleted from bucket %s where %s", bucket, predicate)
	return nil
}

// Ping checks the server is reachable
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	ok, err := s.client.Ping(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("influx ping failed")
	}
	return nil
}

// Close closes the client
func (s *Store) Close() {
	s.client.Close()
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
