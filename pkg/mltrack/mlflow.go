package mltrack

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const mlflowAPI = "/api/2.0/mlflow"

type mlflowMetric struct {
	Key       string  `json:"key"`
	Value     float64 `json:"value"`
	Timestamp int64   `json:"timestamp"`
	Step      int64   `json:"step"`
}

type mlflowParam struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type mlflowError struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

// MLflow logs every event as its own run through the MLflow tracking REST
// API. The experiment is looked up, or created, on first use.
type MLflow struct {
	baseURL    string
	experiment string
	timeout    time.Duration

	mu           sync.Mutex
	experimentID string
}

func NewMLflow(trackingURI, experiment string) *MLflow {
	if experiment == "" {
		experiment = "default"
	}
	return &MLflow{
		baseURL:    strings.TrimRight(trackingURI, "/"),
		experiment: experiment,
		timeout:    10 * time.Second,
	}
}

func (m *MLflow) Name() string { return "mlflow" }

func (m *MLflow) Close() error { return nil }

func (m *MLflow) LogRun(ctx context.Context, ev Event) error {
	expID, err := m.ensureExperiment(ctx)
	if err != nil {
		return err
	}

	var created struct {
		Run struct {
			Info struct {
				RunID string `json:"run_id"`
			} `json:"info"`
		} `json:"run"`
	}
	ts := ev.Timestamp.UnixMilli()
	if err := m.post(ctx, "/runs/create", fiber.Map{
		"experiment_id": expID,
		"run_name":      ev.RunName,
		"start_time":    ts,
	}, &created); err != nil {
		return err
	}
	runID := created.Run.Info.RunID
	if runID == "" {
		return fmt.Errorf("mlflow: runs/create returned no run id")
	}

	batch := fiber.Map{
		"run_id":  runID,
		"metrics": mlflowMetrics(ev.Metrics, ts),
		"params":  mlflowParams(ev.Params),
	}
	if err := m.post(ctx, "/runs/log-batch", batch, nil); err != nil {
		return err
	}

	return m.post(ctx, "/runs/update", fiber.Map{
		"run_id":   runID,
		"status":   "FINISHED",
		"end_time": time.Now().UnixMilli(),
	}, nil)
}

func (m *MLflow) ensureExperiment(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.experimentID != "" {
		return m.experimentID, nil
	}

	var found struct {
		Experiment struct {
			ExperimentID string `json:"experiment_id"`
		} `json:"experiment"`
	}
	code, err := m.do(ctx, fiber.MethodGet,
		"/experiments/get-by-name?experiment_name="+url.QueryEscape(m.experiment), nil, &found)
	switch {
	case err == nil:
		m.experimentID = found.Experiment.ExperimentID
		return m.experimentID, nil
	case code != fiber.StatusNotFound:
		return "", err
	}

	var created struct {
		ExperimentID string `json:"experiment_id"`
	}
	if err := m.post(ctx, "/experiments/create", fiber.Map{"name": m.experiment}, &created); err != nil {
		return "", err
	}
	m.experimentID = created.ExperimentID
	return m.experimentID, nil
}

func (m *MLflow) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	_, err := m.do(ctx, fiber.MethodPost, path, body, out)
	return err
}

func (m *MLflow) do(ctx context.Context, method, path string, body interface{}, out interface{}) (int, error) {
	timeout := m.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 {
		return 0, ctx.Err()
	}

	var agent *fiber.Agent
	if method == fiber.MethodGet {
		agent = fiber.Get(m.baseURL + mlflowAPI + path)
	} else {
		agent = fiber.Post(m.baseURL + mlflowAPI + path)
		agent.JSONEncoder(json.Marshal).JSON(body)
	}
	agent.Timeout(timeout)

	code, resp, errs := agent.Bytes()
	if len(errs) > 0 {
		return code, fmt.Errorf("mlflow %s: %w", path, errs[0])
	}
	if code < 200 || code >= 300 {
		var apiErr mlflowError
		_ = json.Unmarshal(resp, &apiErr)
		return code, fmt.Errorf("mlflow %s: status %d %s %s", path, code, apiErr.ErrorCode, apiErr.Message)
	}
	if out != nil && len(resp) > 0 {
		if err := json.Unmarshal(resp, out); err != nil {
			return code, fmt.Errorf("mlflow %s: decode response: %w", path, err)
		}
	}
	return code, nil
}

func mlflowMetrics(metrics map[string]float64, ts int64) []mlflowMetric {
	keys := sortedKeys(metrics)
	out := make([]mlflowMetric, 0, len(keys))
	for _, k := range keys {
		out = append(out, mlflowMetric{Key: sanitizeKey(k), Value: metrics[k], Timestamp: ts})
	}
	return out
}

func mlflowParams(params map[string]string) []mlflowParam {
	keys := sortedKeys(params)
	out := make([]mlflowParam, 0, len(keys))
	for _, k := range keys {
		out = append(out, mlflowParam{Key: sanitizeKey(k), Value: params[k]})
	}
	return out
}

// sanitizeKey maps characters MLflow rejects in keys to underscores. Class
// names such as "Speed Limit 50" keep their spaces.
func sanitizeKey(k string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case strings.ContainsRune("_-. /", r):
			return r
		default:
			return '_'
		}
	}, k)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
