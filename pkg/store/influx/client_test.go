package influx

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"senseflow/pkg/config"
	"senseflow/pkg/interfaces"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	path  string
	query string
	body  string
}

type fakeInflux struct {
	mu       sync.Mutex
	requests []recordedRequest
	csv      string
}

func (f *fakeInflux) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{path: r.URL.Path, query: r.URL.RawQuery, body: string(body)})
	f.mu.Unlock()

	switch r.URL.Path {
	case "/api/v2/write", "/api/v2/delete":
		w.WriteHeader(http.StatusNoContent)
	case "/api/v2/query":
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, f.csv)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestStore(t *testing.T, fake *fakeInflux) *Store {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(fake.handler))
	t.Cleanup(srv.Close)

	store, err := NewStore(config.InfluxConfig{
		URL:           srv.URL,
		Token:         "token",
		Org:           "org",
		DataBucket:    "healthconnect",
		ResultsBucket: "model_results",
		Timeout:       5 * time.Second,
		Lookback:      time.Hour,
	})
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return store
}

func TestStore_WriteRoutesByMeasurement(t *testing.T) {
	fake := &fakeInflux{}
	store := newTestStore(t, fake)
	ts := time.Unix(1700000000, 0)

	err := store.Write(context.Background(), []interfaces.Point{
		{
			Measurement: interfaces.MeasurementSensorData,
			Tags:        map[string]string{"sensor": "wrist", "user_id": "u1", "execution_id": "e1"},
			Fields:      map[string]float64{"acc_x": 1.5},
			Time:        ts,
		},
		{
			Measurement: interfaces.MeasurementModelOutput,
			Tags:        map[string]string{"model_name": "har", "user_id": "u1", "execution_id": "e1", "time_idx": "0"},
			Fields:      map[string]float64{"output": 0.75},
			Time:        ts,
		},
	})
	require.NoError(t, err)

	require.Len(t, fake.requests, 2)
	byBucket := map[string]string{}
	for _, r := range fake.requests {
		assert.Equal(t, "/api/v2/write", r.path)
		if strings.Contains(r.query, "bucket=healthconnect") {
			byBucket["data"] = r.body
		}
		if strings.Contains(r.query, "bucket=model_results") {
			byBucket["results"] = r.body
		}
	}
	assert.Contains(t, byBucket["data"], "sensor_data,execution_id=e1,sensor=wrist,user_id=u1 acc_x=1.5")
	assert.Contains(t, byBucket["results"], "model_output,")
	assert.Contains(t, byBucket["results"], "output=0.75")
}

func TestStore_WriteEmptyIsNoop(t *testing.T) {
	fake := &fakeInflux{}
	store := newTestStore(t, fake)
	require.NoError(t, store.Write(context.Background(), nil))
	assert.Empty(t, fake.requests)
}

const queryCSV = `#datatype,string,long,dateTime:RFC3339,dateTime:RFC3339,dateTime:RFC3339,double,string,string,string,string,string
#group,false,false,true,true,false,false,true,true,true,true,true
#default,_result,,,,,,,,,,
,result,table,_start,_stop,_time,_value,_field,_measurement,execution_id,sensor,user_id
,,0,2024-01-01T00:00:00Z,2024-01-02T00:00:00Z,2024-01-01T00:00:01Z,1.5,acc_x,sensor_data,e1,wrist,u1
,,0,2024-01-01T00:00:00Z,2024-01-02T00:00:00Z,2024-01-01T00:00:02Z,2.5,acc_x,sensor_data,e1,wrist,u1

`

func TestStore_Query(t *testing.T) {
	fake := &fakeInflux{csv: queryCSV}
	store := newTestStore(t, fake)

	samples, err := store.Query(context.Background(), interfaces.Query{
		Measurement: interfaces.MeasurementSensorData,
		Tags:        map[string]string{"sensor": "wrist", "user_id": "u1", "execution_id": "e1"},
		Field:       "acc_x",
		Limit:       6,
	})
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, 1.5, samples[0].Value)
	assert.Equal(t, "acc_x", samples[0].Field)
	assert.Equal(t, "wrist", samples[0].Tags["sensor"])
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 2, 0, time.UTC), samples[1].Time.UTC())

	require.Len(t, fake.requests, 1)
	var body struct {
		Query string `json:"query"`
	}
	require.NoError(t, json.Unmarshal([]byte(fake.requests[0].body), &body))
	assert.Contains(t, body.Query, `from(bucket: "healthconnect")`)
	assert.Contains(t, body.Query, `r._field == "acc_x"`)
	assert.Contains(t, body.Query, `limit(n: 6)`)
}

func TestStore_Delete(t *testing.T) {
	fake := &fakeInflux{}
	store := newTestStore(t, fake)

	err := store.Delete(context.Background(), interfaces.MeasurementModelOutput,
		map[string]string{"user_id": "u1", "execution_id": "e1"}, time.Time{}, time.Time{})
	require.NoError(t, err)

	require.Len(t, fake.requests, 1)
	r := fake.requests[0]
	assert.Equal(t, "/api/v2/delete", r.path)
	assert.Contains(t, r.query, "bucket=model_results")

	var body struct {
		Predicate string `json:"predicate"`
	}
	require.NoError(t, json.Unmarshal([]byte(r.body), &body))
	assert.Equal(t, `_measurement="model_output" AND execution_id="e1" AND user_id="u1"`, body.Predicate)
}
