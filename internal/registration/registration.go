// Package registration hands committed allocations to the external
// registration collaborator. Registration is best-effort: the ledger stays
// authoritative and a failed registration can be retried.
package registration

import (
	"context"
	"encoding/json"
	"fmt"

	"contribledger/internal/errs"
	"contribledger/internal/ledger"

	"github.com/redis/go-redis/v9"
)

const DefaultStream = "contribution_registrations"

type Request struct {
	SubmissionID string                    `json:"submission_id"`
	Contributor  string                    `json:"contributor"`
	Allocations  []ledger.AllocationRecord `json:"allocations"`
}

// Registrar returns an opaque certificate reference for a registered
// allocation set.
type Registrar interface {
	Register(ctx context.Context, req Request) (string, error)
}

// Noop issues a local reference without contacting anything.
type Noop struct{}

func (Noop) Register(_ context.Context, req Request) (string, error) {
	return "local:" + req.SubmissionID, nil
}

// streamClient is the subset of the redis client used here.
type streamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisStream appends each registration to a Redis stream. The stream
// entry id is the certificate reference; a downstream consumer group mints
// the actual certificate.
type RedisStream struct {
	client streamClient
	stream string
}

func ConnectRedis(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

func NewRedisStream(client *redis.Client, stream string) *RedisStream {
	return newRedisStream(client, stream)
}

func newRedisStream(client streamClient, stream string) *RedisStream {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisStream{client: client, stream: stream}
}

func (r *RedisStream) Register(ctx context.Context, req Request) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode registration: %w", err)
	}
	total := "0"
	if len(req.Allocations) > 0 {
		sum := req.Allocations[0].Reward
		for _, a := range req.Allocations[1:] {
			sum = sum.Add(a.Reward)
		}
		total = sum.String()
	}
	id, err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		Values: map[string]any{
			"submission_id": req.SubmissionID,
			"contributor":   req.Contributor,
			"allocations":   len(req.Allocations),
			"total_reward":  total,
			"payload":       string(payload),
		},
	}).Result()
	if err != nil {
		return "", errs.Wrap(errs.KindCollaboratorUnavailable, "register", req.SubmissionID, err)
	}
	return "redis:" + r.stream + ":" + id, nil
}
