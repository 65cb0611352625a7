package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// Verify interface compliance at compile time.
var _ Recorder = (*RedisRecorder)(nil)

const (
	callKeyPrefix = "call:"
	// Records of completed calls are kept for a day by default.
	defaultRecordTTL = 24 * time.Hour
)

// RedisRecorder persists call records in Redis. Call metadata lives in a
// JSON value per call; transcripts and adaptation changes are appended to
// per-call lists. All keys share one TTL so abandoned calls age out.
type RedisRecorder struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisRecorder creates a Redis-backed recorder.
func NewRedisRecorder(client *redis.Client, ttl time.Duration) *RedisRecorder {
	if ttl <= 0 {
		ttl = defaultRecordTTL
	}
	return &RedisRecorder{
		client: client,
		ttl:    ttl,
	}
}

// CallStarted implements Recorder.
func (r *RedisRecorder) CallStarted(ctx context.Context, rec CallRecord) error {
	val, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.callKey(rec.CallID), val, r.ttl).Err()
}

// Transcript implements Recorder.
func (r *RedisRecorder) Transcript(ctx context.Context, rec TranscriptRecord) error {
	val, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	key := r.callKey(rec.CallID) + ":transcript"
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, val)
		pipe.Expire(ctx, key, r.ttl)
		return nil
	})
	return err
}

// AdaptationChanged implements Recorder.
func (r *RedisRecorder) AdaptationChanged(ctx context.Context, rec AdaptationRecord) error {
	val, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	key := r.callKey(rec.CallID) + ":adaptations"
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, val)
		pipe.Expire(ctx, key, r.ttl)
		return nil
	})
	return err
}

// CallEnded implements Recorder.
func (r *RedisRecorder) CallEnded(ctx context.Context, rec CallRecord) error {
	val, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.callKey(rec.CallID), val, r.ttl).Err()
}

// Get returns the stored call metadata.
func (r *RedisRecorder) Get(ctx context.Context, callID string) (*CallRecord, error) {
	val, err := r.client.Get(ctx, r.callKey(callID)).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec CallRecord
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Close implements Recorder.
func (r *RedisRecorder) Close() error {
	return r.client.Close()
}

func (r *RedisRecorder) callKey(callID string) string {
	return callKeyPrefix + callID
}
