package mltrack

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMLflow struct {
	mu          sync.Mutex
	experiments map[string]string
	lookups     int
	calls       []string
	batches     []map[string]interface{}
	failCreate  bool
}

func newFakeMLflow() *fakeMLflow {
	return &fakeMLflow{experiments: map[string]string{}}
}

func (f *fakeMLflow) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, r.URL.Path)
	body, _ := io.ReadAll(r.Body)
	var in map[string]interface{}
	if len(body) > 0 {
		_ = json.Unmarshal(body, &in)
	}

	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case mlflowAPI + "/experiments/get-by-name":
		f.lookups++
		id, ok := f.experiments[r.URL.Query().Get("experiment_name")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error_code":"RESOURCE_DOES_NOT_EXIST","message":"not found"}`))
			return
		}
		_, _ = w.Write([]byte(`{"experiment":{"experiment_id":"` + id + `"}}`))
	case mlflowAPI + "/experiments/create":
		name, _ := in["name"].(string)
		f.experiments[name] = "7"
		_, _ = w.Write([]byte(`{"experiment_id":"7"}`))
	case mlflowAPI + "/runs/create":
		if f.failCreate {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error_code":"TEMPORARILY_UNAVAILABLE","message":"try later"}`))
			return
		}
		_, _ = w.Write([]byte(`{"run":{"info":{"run_id":"run-1"}}}`))
	case mlflowAPI + "/runs/log-batch":
		f.batches = append(f.batches, in)
		_, _ = w.Write([]byte(`{}`))
	case mlflowAPI + "/runs/update":
		_, _ = w.Write([]byte(`{}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func TestMLflowCreatesExperimentOnce(t *testing.T) {
	fake := newFakeMLflow()
	srv := httptest.NewServer(fake)
	defer srv.Close()

	m := NewMLflow(srv.URL+"/", "")
	ev := Event{
		RunName:   "inference",
		Metrics:   map[string]float64{"latency_ms": 12.5, "n_boxes": 1, "class_Stop_count": 1},
		Params:    map[string]string{"conf": "0.25", "imgsz": "320"},
		Timestamp: time.Now(),
	}

	require.NoError(t, m.LogRun(context.Background(), ev))
	require.NoError(t, m.LogRun(context.Background(), ev))

	fake.mu.Lock()
	defer fake.mu.Unlock()

	assert.Equal(t, 1, fake.lookups)
	assert.Equal(t, "7", fake.experiments["default"])
	require.Len(t, fake.batches, 2)

	metrics, ok := fake.batches[0]["metrics"].([]interface{})
	require.True(t, ok)
	require.Len(t, metrics, 3)
	first := metrics[0].(map[string]interface{})
	assert.Equal(t, "class_Stop_count", first["key"])
	assert.Equal(t, "run-1", fake.batches[0]["run_id"])

	params, ok := fake.batches[0]["params"].([]interface{})
	require.True(t, ok)
	assert.Len(t, params, 2)
}

func TestMLflowReusesExistingExperiment(t *testing.T) {
	fake := newFakeMLflow()
	fake.experiments["signs"] = "3"
	srv := httptest.NewServer(fake)
	defer srv.Close()

	m := NewMLflow(srv.URL, "signs")
	require.NoError(t, m.LogRun(context.Background(), Event{RunName: "batch_inference", Timestamp: time.Now()}))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.NotContains(t, fake.calls, mlflowAPI+"/experiments/create")
	assert.Equal(t, "3", m.experimentID)
}

func TestMLflowReportsServerErrors(t *testing.T) {
	fake := newFakeMLflow()
	fake.failCreate = true
	srv := httptest.NewServer(fake)
	defer srv.Close()

	m := NewMLflow(srv.URL, "default")
	err := m.LogRun(context.Background(), Event{RunName: "inference", Timestamp: time.Now()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "TEMPORARILY_UNAVAILABLE")
}

func TestMLflowHonoursExpiredContext(t *testing.T) {
	m := NewMLflow("http://127.0.0.1:1", "default")
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	assert.Error(t, m.LogRun(ctx, Event{RunName: "inference"}))
}

func TestSanitizeKey(t *testing.T) {
	assert.Equal(t, "class_Speed Limit 50_count", sanitizeKey("class_Speed Limit 50_count"))
	assert.Equal(t, "class_Road_Work_count", sanitizeKey("class_Road:Work_count"))
	assert.Equal(t, "latency_ms", sanitizeKey("latency_ms"))
}
