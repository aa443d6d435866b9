package mltrack

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStream appends every event to a capped Redis stream, for consumers
// that replay runs into their own tracking system.
type RedisStream struct {
	client     redis.UniversalClient
	stream     string
	experiment string
	maxLen     int64
}

func NewRedisStream(client redis.UniversalClient, stream, experiment string, maxLen int64) *RedisStream {
	if stream == "" {
		stream = "mltrack:runs"
	}
	return &RedisStream{
		client:     client,
		stream:     stream,
		experiment: experiment,
		maxLen:     maxLen,
	}
}

func (r *RedisStream) Name() string { return "redis" }

func (r *RedisStream) LogRun(ctx context.Context, ev Event) error {
	values, err := streamValues(r.experiment, ev)
	if err != nil {
		return err
	}

	args := &redis.XAddArgs{
		Stream: r.stream,
		Values: values,
	}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}

	if err := r.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis xadd %s: %w", r.stream, err)
	}
	return nil
}

func (r *RedisStream) Close() error {
	return r.client.Close()
}

func streamValues(experiment string, ev Event) (map[string]interface{}, error) {
	metrics, err := json.Marshal(ev.Metrics)
	if err != nil {
		return nil, err
	}
	params, err := json.Marshal(ev.Params)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"experiment": experiment,
		"run_name":   ev.RunName,
		"timestamp":  ev.Timestamp.UnixMilli(),
		"metrics":    string(metrics),
		"params":     string(params),
	}, nil
}
