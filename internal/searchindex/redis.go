package searchindex

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisIndex keeps one JSON document per recording, a sorted set of
// recordings by start time and one set of recording ids per search term.
type RedisIndex struct {
	Client redis.Cmdable
	Prefix string
}

func NewRedisIndex(opt *redis.Options, prefix string) *RedisIndex {
	return &RedisIndex{Client: redis.NewClient(opt), Prefix: prefix}
}

func (r *RedisIndex) IndexRecording(ctx context.Context, doc Document) error {
	if r == nil || r.Client == nil {
		return errors.New("redis index not configured")
	}
	if doc.RecordingID == 0 {
		return errors.New("document has no recording id")
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	member := strconv.FormatUint(doc.RecordingID, 10)
	termsKey := r.key("recording", member, "terms")

	previous, err := r.Client.SMembers(ctx, termsKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	terms := doc.Terms()

	pipe := r.Client.TxPipeline()
	pipe.Set(ctx, r.key("recording", member), payload, 0)
	pipe.ZAdd(ctx, r.key("recordings", "by_start"), redis.Z{Score: startScore(doc), Member: member})
	for _, t := range staleTerms(previous, terms) {
		pipe.SRem(ctx, r.key("term", t), member)
	}
	for _, t := range terms {
		pipe.SAdd(ctx, r.key("term", t), member)
	}
	pipe.Del(ctx, termsKey)
	if len(terms) > 0 {
		args := make([]any, len(terms))
		for i, t := range terms {
			args[i] = t
		}
		pipe.SAdd(ctx, termsKey, args...)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Get returns the stored document, or nil when the recording is not indexed.
func (r *RedisIndex) Get(ctx context.Context, recordingID uint64) (*Document, error) {
	b, err := r.Client.Get(ctx, r.key("recording", strconv.FormatUint(recordingID, 10))).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *RedisIndex) Ping(ctx context.Context) error {
	return r.Client.Ping(ctx).Err()
}

// staleTerms returns the terms in previous that current no longer carries.
func staleTerms(previous, current []string) []string {
	keep := make(map[string]struct{}, len(current))
	for _, t := range current {
		keep[t] = struct{}{}
	}
	var out []string
	for _, t := range previous {
		if _, ok := keep[t]; !ok {
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}

func (r *RedisIndex) key(parts ...string) string {
	prefix := strings.TrimSpace(r.Prefix)
	if prefix == "" {
		prefix = "callsync"
	}
	return prefix + ":" + strings.Join(parts, ":")
}

func startScore(doc Document) float64 {
	switch {
	case doc.StartTime != nil:
		return float64(doc.StartTime.Unix())
	case doc.EndTime != nil:
		return float64(doc.EndTime.Unix())
	default:
		return float64(time.Time{}.Unix())
	}
}
