package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisRecords keeps session records as Redis hashes with a sliding TTL.
type RedisRecords struct {
	client *redis.Client
	keyNS  string
	ttl    time.Duration
}

// NewRedisRecords connects to redisURL. ttl <= 0 keeps records forever.
func NewRedisRecords(redisURL string, ttl time.Duration) (*RedisRecords, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	c := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisRecords{client: c, keyNS: "pagepicker:session", ttl: ttl}, nil
}

func (s *RedisRecords) key(id string) string { return fmt.Sprintf("%s:%s", s.keyNS, id) }

func (s *RedisRecords) Save(ctx context.Context, r Record) error {
	m := map[string]interface{}{
		"file_name":    r.FileName,
		"page_count":   r.PageCount,
		"generation":   strconv.FormatUint(r.Generation, 10),
		"spec":         r.Spec,
		"spec_seq":     strconv.FormatUint(r.SpecSeq, 10),
		"source_key":   r.SourceKey,
		"artifact_key": r.ArtifactKey,
		"booklet":      r.Booklet,
		"updated_at":   r.UpdatedAt.Format(time.RFC3339Nano),
	}
	pages, _ := json.Marshal(r.ArtifactPages)
	m["artifact_pages"] = string(pages)

	pipe := s.client.TxPipeline()
	k := s.key(r.ID)
	pipe.Del(ctx, k)
	pipe.HSet(ctx, k, m)
	if s.ttl > 0 {
		pipe.Expire(ctx, k, s.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisRecords) Load(ctx context.Context, id string) (Record, bool, error) {
	res, err := s.client.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return Record{}, false, err
	}
	if len(res) == 0 {
		return Record{}, false, nil
	}
	r := Record{
		ID:          id,
		FileName:    res["file_name"],
		Spec:        res["spec"],
		SourceKey:   res["source_key"],
		ArtifactKey: res["artifact_key"],
		Booklet:     res["booklet"] == "1" || res["booklet"] == "true",
	}
	// ignore parse errors; zero values are safe defaults
	r.PageCount, _ = strconv.Atoi(res["page_count"])
	r.Generation, _ = strconv.ParseUint(res["generation"], 10, 64)
	r.SpecSeq, _ = strconv.ParseUint(res["spec_seq"], 10, 64)
	if v := res["updated_at"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			r.UpdatedAt = t
		}
	}
	if v := res["artifact_pages"]; v != "" {
		_ = json.Unmarshal([]byte(v), &r.ArtifactPages)
	}
	return r, true, nil
}

func (s *RedisRecords) Delete(ctx context.Context, id string) error {
	return s.client.Del(ctx, s.key(id)).Err()
}

// Ping checks redis connectivity.
func (s *RedisRecords) Ping(ctx context.Context) error { return s.client.Ping(ctx).Err() }

func (s *RedisRecords) Close() error { return s.client.Close() }
