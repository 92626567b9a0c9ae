package ws

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"esic/internal/auth"
	"esic/internal/pubsub"

	"go.uber.org/zap"
)

const (
	replayLimit   = 100
	publishBuffer = 256
)

// StreamsProvider replays and acknowledges sequenced channel events.
// *pubsub.Streams satisfies it.
type StreamsProvider interface {
	AcknowledgeSequence(ctx context.Context, channel, sessionID string, sequence int64) error
	GetLastSequence(ctx context.Context, channel, sessionID string) (int64, error)
	ReplayEvents(ctx context.Context, channel string, sinceSeq int64, limit int64) ([]pubsub.StreamEvent, error)
}

// Hub fans lifecycle events out to websocket clients. Protocol channels
// are open to anyone; every other channel needs the admin role.
type Hub struct {
	mu       sync.RWMutex
	conns    map[*Conn]struct{}
	channels map[string]map[*Conn]struct{}
	events   chan channelEvent
	commands *CommandHandler
	streams  StreamsProvider
	log      *zap.Logger
}

type channelEvent struct {
	channel string
	payload map[string]interface{}
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		conns:    make(map[*Conn]struct{}),
		channels: make(map[string]map[*Conn]struct{}),
		events:   make(chan channelEvent, publishBuffer),
		log:      log,
	}
}

func (h *Hub) SetCommandHandler(handler *CommandHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commands = handler
}

func (h *Hub) SetStreamsProvider(provider StreamsProvider) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.streams = provider
}

func (h *Hub) commandHandler() *CommandHandler {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.commands
}

func (h *Hub) streamsProvider() StreamsProvider {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.streams
}

// Run delivers published events until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-h.events:
			h.deliver(ev)
		}
	}
}

// Publish queues an event for channel subscribers. It never blocks; when
// the queue is full the event is dropped and clients recover via resume.
func (h *Hub) Publish(channel string, payload map[string]interface{}) {
	select {
	case h.events <- channelEvent{channel: channel, payload: payload}:
	default:
		h.log.Warn("Hub queue full, dropping event", zap.String("channel", channel))
	}
}

func (h *Hub) deliver(ev channelEvent) {
	frame, err := json.Marshal(outbound{
		Type:    frameEvent,
		Channel: ev.channel,
		Seq:     seqOf(ev.payload),
		Data:    ev.payload,
	})
	if err != nil {
		h.log.Warn("Failed to marshal event", zap.String("channel", ev.channel), zap.Error(err))
		return
	}

	h.mu.RLock()
	targets := make([]*Conn, 0, len(h.channels[ev.channel]))
	for conn := range h.channels[ev.channel] {
		targets = append(targets, conn)
	}
	h.mu.RUnlock()

	for _, conn := range targets {
		if !conn.enqueue(frame) {
			h.log.Warn("Dropping slow websocket client", zap.String("conn", conn.id))
			h.drop(conn)
		}
	}
}

func (h *Hub) Register(conn *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[conn] = struct{}{}
}

// drop forgets conn and closes its outbound queue. Safe to call twice.
func (h *Hub) drop(conn *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[conn]; !ok {
		return
	}
	delete(h.conns, conn)
	for channel := range conn.channels {
		h.leaveLocked(conn, channel)
	}
	conn.closeQueue()
}

func (h *Hub) leaveLocked(conn *Conn, channel string) {
	if members := h.channels[channel]; members != nil {
		delete(members, conn)
		if len(members) == 0 {
			delete(h.channels, channel)
		}
	}
	delete(conn.channels, channel)
}

func allowed(conn *Conn, channel string) bool {
	return pubsub.IsSolicitacaoChannel(channel) || conn.role == auth.RoleAdmin
}

// canonicalChannel upper-cases the protocol part of solicitacao channels so
// "solicitacao:esic-2025-000001" and the published name match.
func canonicalChannel(channel string) string {
	channel = strings.TrimSpace(channel)
	if pubsub.IsSolicitacaoChannel(channel) {
		return pubsub.SolicitacaoChannel(channel[strings.IndexByte(channel, ':')+1:])
	}
	return channel
}

// Subscribe joins conn to channel. It reports false when the role forbids it.
func (h *Hub) Subscribe(conn *Conn, channel string) bool {
	if !allowed(conn, channel) {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.channels[channel] == nil {
		h.channels[channel] = make(map[*Conn]struct{})
	}
	h.channels[channel][conn] = struct{}{}
	conn.channels[channel] = struct{}{}
	return true
}

func (h *Hub) Unsubscribe(conn *Conn, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(conn, channel)
}

// Subscribers returns how many connections listen on channel.
func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

// Acknowledge stores the last sequence session has processed on channel.
func (h *Hub) Acknowledge(conn *Conn, channel, session string, sequence int64) {
	streams := h.streamsProvider()
	if streams == nil {
		conn.send(errorFrame("", "replay_unavailable", "event replay is not configured"))
		return
	}
	if err := streams.AcknowledgeSequence(conn.ctx, channel, session, sequence); err != nil {
		h.log.Warn("Failed to acknowledge sequence",
			zap.String("channel", channel),
			zap.String("session", session),
			zap.Int64("sequence", sequence),
			zap.Error(err),
		)
		conn.send(errorFrame("", "ack_failed", "failed to store ack"))
		return
	}
	conn.send(ackFrame("acked", channel))
}

// Resume sends conn the events of channel after sinceSeq, oldest first.
// A zero sinceSeq with a session resumes from that session's last ack.
func (h *Hub) Resume(conn *Conn, channel, session string, sinceSeq int64) {
	streams := h.streamsProvider()
	if streams == nil {
		conn.send(errorFrame("", "replay_unavailable", "event replay is not configured"))
		return
	}

	if sinceSeq == 0 && session != "" {
		last, err := streams.GetLastSequence(conn.ctx, channel, session)
		if err != nil {
			h.log.Warn("Failed to read last ack, replaying from start",
				zap.String("channel", channel),
				zap.String("session", session),
				zap.Error(err),
			)
		}
		sinceSeq = last
	}

	events, err := streams.ReplayEvents(conn.ctx, channel, sinceSeq, replayLimit)
	if err != nil {
		h.log.Error("Failed to replay events",
			zap.String("channel", channel),
			zap.Int64("since", sinceSeq),
			zap.Error(err),
		)
		conn.send(errorFrame("", "replay_failed", "failed to replay events"))
		return
	}

	for _, ev := range events {
		if !conn.send(outbound{Type: frameEvent, Channel: ev.Channel, Seq: ev.Sequence, Data: ev.Event}) {
			h.log.Warn("Replay interrupted, connection buffer full", zap.String("conn", conn.id))
			return
		}
	}
	conn.send(ackFrame("resumed", channel))

	h.log.Debug("Resumed events",
		zap.String("channel", channel),
		zap.String("conn", conn.id),
		zap.Int64("since", sinceSeq),
		zap.Int("count", len(events)),
	)
}
