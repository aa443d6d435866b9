package mltrack

import (
	"context"
	"path"
	"time"

	"TrafficSignAPI/pkg/s3"

	"github.com/google/uuid"
)

type runDocument struct {
	RunID      string             `json:"run_id"`
	Experiment string             `json:"experiment"`
	RunName    string             `json:"run_name"`
	Timestamp  time.Time          `json:"timestamp"`
	Metrics    map[string]float64 `json:"metrics"`
	Params     map[string]string  `json:"params"`
}

// S3Archive writes each run as a JSON document under
// <prefix>/<experiment>/<yyyy-mm-dd>/<run id>.json.
type S3Archive struct {
	client     s3.ItfS3
	prefix     string
	experiment string
}

func NewS3Archive(client s3.ItfS3, prefix, experiment string) *S3Archive {
	if prefix == "" {
		prefix = "mltrack"
	}
	return &S3Archive{
		client:     client,
		prefix:     prefix,
		experiment: experiment,
	}
}

func (a *S3Archive) Name() string { return "s3" }

func (a *S3Archive) LogRun(ctx context.Context, ev Event) error {
	doc := runDocument{
		RunID:      uuid.NewString(),
		Experiment: a.experiment,
		RunName:    ev.RunName,
		Timestamp:  ev.Timestamp.UTC(),
		Metrics:    ev.Metrics,
		Params:     ev.Params,
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	key := path.Join(a.prefix, a.experiment, doc.Timestamp.Format("2006-01-02"), doc.RunID+".json")
	return a.client.PutObject(ctx, key, body, "application/json")
}

func (a *S3Archive) Close() error { return nil }
