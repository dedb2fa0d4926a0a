package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"creative-matrix/internal/config"
	"creative-matrix/internal/render"
)

// Dispatch coordinates the ready and in-flight render request queues in
// Redis. Requests are leased with a visibility timeout; a dispatcher crash
// puts the request back on the ready list, giving at-least-once delivery.
type Dispatch struct {
	client      *redis.Client
	readyKey    string
	inflightKey string
	reqPrefix   string
	leaseTTL    time.Duration
}

// NewDispatch builds a dispatch queue client from config.
func NewDispatch(cfg config.Config) *Dispatch {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	lease := cfg.DispatchLease
	if lease == 0 {
		lease = 30 * time.Second
	}
	return &Dispatch{
		client:      client,
		readyKey:    "dispatch:ready",
		inflightKey: "dispatch:inflight",
		reqPrefix:   "dispatch:req:",
		leaseTTL:    lease,
	}
}

func (d *Dispatch) reqKey(id string) string {
	return d.reqPrefix + id
}

// Enqueue stores the render request payload and pushes its id onto the
// ready list.
func (d *Dispatch) Enqueue(ctx context.Context, req render.Request) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal dispatch payload: %w", err)
	}
	pipe := d.client.TxPipeline()
	pipe.Set(ctx, d.reqKey(req.CombinationID), body, 0)
	pipe.RPush(ctx, d.readyKey, req.CombinationID)
	_, err = pipe.Exec(ctx)
	return err
}

// DequeueWithLease pops the next ready request and places it in-flight with
// a visibility deadline. The second return is false when the queue is empty.
func (d *Dispatch) DequeueWithLease(ctx context.Context) (render.Request, bool, error) {
	var req render.Request
	res, err := dequeueScript.Run(ctx, d.client,
		[]string{d.readyKey, d.inflightKey},
		time.Now().Add(d.leaseTTL).UnixMilli(),
	).Result()
	if err == redis.Nil {
		return req, false, nil
	}
	if err != nil {
		return req, false, err
	}
	id, ok := res.(string)
	if !ok {
		return req, false, fmt.Errorf("unexpected type from dequeue script: %T", res)
	}

	body, err := d.client.Get(ctx, d.reqKey(id)).Bytes()
	if err == redis.Nil {
		// Payload already acked or expired out from under the id; drop the lease.
		_ = d.Ack(ctx, id)
		return req, false, nil
	}
	if err != nil {
		return req, false, err
	}
	if err := json.Unmarshal(body, &req); err != nil {
		_ = d.Ack(ctx, id)
		return req, false, fmt.Errorf("decode dispatch payload: %w", err)
	}
	return req, true, nil
}

// ExtendLease pushes the visibility deadline forward for an in-flight request.
func (d *Dispatch) ExtendLease(ctx context.Context, id string, extension time.Duration) error {
	return d.client.ZAdd(ctx, d.inflightKey, redis.Z{
		Score:  float64(time.Now().Add(extension).UnixMilli()),
		Member: id,
	}).Err()
}

// Ack removes a request from in-flight tracking and deletes its payload.
func (d *Dispatch) Ack(ctx context.Context, id string) error {
	pipe := d.client.TxPipeline()
	pipe.ZRem(ctx, d.inflightKey, id)
	pipe.Del(ctx, d.reqKey(id))
	_, err := pipe.Exec(ctx)
	return err
}

// RequeueExpired reclaims leases that timed out, pushing the ids back onto
// the ready list.
func (d *Dispatch) RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	ids, err := d.client.ZRangeByScore(ctx, d.inflightKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := d.client.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, d.inflightKey, id)
		pipe.RPush(ctx, d.readyKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

// Depth returns the ready list length.
func (d *Dispatch) Depth(ctx context.Context) (int64, error) {
	return d.client.LLen(ctx, d.readyKey).Result()
}

var dequeueScript = redis.NewScript(`
local id = redis.call('LPOP', KEYS[1])
if id then
  redis.call('ZADD', KEYS[2], ARGV[1], id)
  return id
end
return nil
`)
