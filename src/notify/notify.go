// Package notify publishes lifecycle events for downstream consumers (push,
// email, search indexers). Delivery is best effort: callers log failures and
// move on.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stake-plus/nexvote/src/config"
	"github.com/stake-plus/nexvote/src/data"
)

const (
	ProposalCreated       = "proposal.created"
	ProposalFinalized     = "proposal.finalized"
	ProposalStatusUpdated = "proposal.status_updated"
)

type Event struct {
	Type        string         `json:"type"`
	ProposalID  string         `json:"proposalId"`
	CommunityID string         `json:"communityId,omitempty"`
	RegionCode  string         `json:"regionCode,omitempty"`
	Status      string         `json:"status,omitempty"`
	ActorID     string         `json:"actorId,omitempty"`
	TxHash      string         `json:"txHash,omitempty"`
	At          time.Time      `json:"at"`
	Data        map[string]any `json:"data,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// New picks the backend from cfg. Redis falls back to none when no client is
// available.
func New(cfg config.Events, rdb *redis.Client, log zerolog.Logger) (Publisher, error) {
	switch cfg.Backend {
	case "nats":
		if cfg.NATSURL == "" {
			return nil, fmt.Errorf("events backend nats requires NATS_URL")
		}
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("nexvote"), nats.MaxReconnects(-1))
		if err != nil {
			return nil, fmt.Errorf("connect to NATS: %w", err)
		}
		log.Info().Str("url", cfg.NATSURL).Msg("publishing events to NATS")
		return &natsPublisher{conn: nc, subject: cfg.Stream}, nil
	case "redis", "":
		if rdb == nil {
			log.Warn().Msg("events backend redis selected without REDIS_URL; events disabled")
			return Noop(), nil
		}
		return &redisPublisher{rdb: rdb, stream: cfg.Stream}, nil
	case "none":
		return Noop(), nil
	}
	return nil, fmt.Errorf("unknown events backend %q", cfg.Backend)
}

type redisPublisher struct {
	rdb    *redis.Client
	stream string
}

func (p *redisPublisher) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return data.PublishEvent(ctx, p.rdb, p.stream, map[string]interface{}{
		"type":        ev.Type,
		"proposal_id": ev.ProposalID,
		"payload":     string(body),
	})
}

// the redis client is owned by the caller
func (p *redisPublisher) Close() error { return nil }

type natsPublisher struct {
	conn    *nats.Conn
	subject string
}

func (p *natsPublisher) Publish(_ context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.conn.Publish(p.subject+"."+ev.Type, body)
}

func (p *natsPublisher) Close() error {
	return p.conn.Drain()
}

type noop struct{}

func Noop() Publisher { return noop{} }

func (noop) Publish(context.Context, Event) error { return nil }
func (noop) Close() error                         { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	Err    error
}

func (r *Recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *Recorder) Close() error { return nil }

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}
