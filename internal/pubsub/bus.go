package pubsub

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"esic/internal/textutil"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	solicitacaoPrefix = "solicitacao:"
	// AdminChannel carries every lifecycle event for the back office.
	AdminChannel = "admin:solicitacoes"

	publishTimeout = 3 * time.Second
)

// SolicitacaoChannel is the public channel that tracks one protocol.
func SolicitacaoChannel(protocolo string) string {
	return solicitacaoPrefix + textutil.NormalizeProtocolo(protocolo)
}

// IsSolicitacaoChannel reports whether channel tracks a single protocol.
func IsSolicitacaoChannel(channel string) bool {
	return len(channel) > len(solicitacaoPrefix) && strings.HasPrefix(channel, solicitacaoPrefix)
}

// WSHub receives events for local websocket delivery.
type WSHub interface {
	Publish(channel string, message map[string]interface{})
}

// Bus publishes lifecycle events to redis pub/sub, records them in a
// per-channel stream for replay, and hands them to the local hub.
type Bus struct {
	rdb     redis.Cmdable
	log     *zap.Logger
	hub     WSHub
	streams *Streams
}

func New(rdb redis.Cmdable, log *zap.Logger) *Bus {
	return &Bus{
		rdb:     rdb,
		log:     log,
		streams: NewStreams(rdb, log),
	}
}

// SetWSHub must be called before the first Publish.
func (b *Bus) SetWSHub(hub WSHub) {
	b.hub = hub
}

func (b *Bus) GetStreams() *Streams {
	return b.streams
}

func (b *Bus) PublishSolicitacao(protocolo string, event map[string]interface{}) error {
	return b.Publish(SolicitacaoChannel(protocolo), event)
}

func (b *Bus) PublishAdmin(event map[string]interface{}) error {
	return b.Publish(AdminChannel, event)
}

// Publish fails only when the pub/sub publish fails. A stream write error
// is logged and the event goes out without a sequence number.
func (b *Bus) Publish(channel string, event map[string]interface{}) error {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := b.rdb.Publish(ctx, channel, data).Err(); err != nil {
		b.log.Error("Failed to publish event", zap.String("channel", channel), zap.Error(err))
		return err
	}

	seq, err := b.streams.PublishEvent(ctx, channel, event)
	if err != nil {
		b.log.Warn("Failed to append event to stream", zap.String("channel", channel), zap.Error(err))
	}

	if b.hub != nil {
		b.hub.Publish(channel, stamped(event, seq))
	}
	b.log.Debug("Published event", zap.String("channel", channel), zap.Int64("seq", seq))
	return nil
}

// stamped copies event with its stream sequence so callers keep their map.
func stamped(event map[string]interface{}, seq int64) map[string]interface{} {
	out := make(map[string]interface{}, len(event)+1)
	for k, v := range event {
		out[k] = v
	}
	if seq > 0 {
		out["seq"] = seq
	}
	return out
}
