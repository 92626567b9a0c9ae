package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// streamMaxLen bounds each replay stream; older events are trimmed.
const streamMaxLen = 500

// StreamEvent represents an event stored in Redis Streams
type StreamEvent struct {
	Channel   string
	Sequence  int64
	Event     map[string]interface{}
	Timestamp time.Time
}

// Streams keeps a bounded, sequenced replay log per channel so websocket
// clients can resume after a reconnect.
type Streams struct {
	rdb redis.Cmdable
	log *zap.Logger
	now func() time.Time
}

func NewStreams(rdb redis.Cmdable, log *zap.Logger) *Streams {
	return &Streams{rdb: rdb, log: log, now: time.Now}
}

func streamKey(channel string) string { return "esic:stream:" + channel }
func seqKey(channel string) string    { return "esic:seq:" + channel }
func ackKey(channel, sessionID string) string {
	return fmt.Sprintf("esic:ack:%s:%s", channel, sessionID)
}

// PublishEvent appends event to the channel stream and returns its sequence.
func (s *Streams) PublishEvent(ctx context.Context, channel string, event map[string]interface{}) (int64, error) {
	seq, err := s.rdb.Incr(ctx, seqKey(channel)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment sequence: %w", err)
	}

	eventData, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal event: %w", err)
	}

	id, err := s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey(channel),
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"seq":  seq,
			"ts":   s.now().UTC().Format(time.RFC3339),
			"data": string(eventData),
		},
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to add to stream: %w", err)
	}

	s.log.Debug("Published event to stream",
		zap.String("channel", channel),
		zap.Int64("sequence", seq),
		zap.String("stream_id", id),
	)
	return seq, nil
}

// GetLastSequence returns the last sequence acknowledged by a client
// session, 0 if none.
func (s *Streams) GetLastSequence(ctx context.Context, channel, sessionID string) (int64, error) {
	seqStr, err := s.rdb.Get(ctx, ackKey(channel, sessionID)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get last sequence: %w", err)
	}
	seq, err := strconv.ParseInt(seqStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse sequence: %w", err)
	}
	return seq, nil
}

// AcknowledgeSequence records an acknowledgment. Acks expire after a day.
func (s *Streams) AcknowledgeSequence(ctx context.Context, channel, sessionID string, sequence int64) error {
	if err := s.rdb.Set(ctx, ackKey(channel, sessionID), sequence, 24*time.Hour).Err(); err != nil {
		return fmt.Errorf("failed to acknowledge sequence: %w", err)
	}
	return nil
}

// ReplayEvents returns up to limit events with a sequence above sinceSeq, oldest first.
func (s *Streams) ReplayEvents(ctx context.Context, channel string, sinceSeq int64, limit int64) ([]StreamEvent, error) {
	msgs, err := s.rdb.XRange(ctx, streamKey(channel), "-", "+").Result()
	if err == redis.Nil {
		return []StreamEvent{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read stream: %w", err)
	}

	events := make([]StreamEvent, 0)
	for _, msg := range msgs {
		ev, ok := s.decode(channel, msg)
		if !ok || ev.Sequence <= sinceSeq {
			continue
		}
		events = append(events, ev)
		if limit > 0 && int64(len(events)) >= limit {
			break
		}
	}
	return events, nil
}

func (s *Streams) decode(channel string, msg redis.XMessage) (StreamEvent, bool) {
	data, ok := msg.Values["data"].(string)
	if !ok {
		return StreamEvent{}, false
	}
	var event map[string]interface{}
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		s.log.Warn("Failed to unmarshal event", zap.String("stream_id", msg.ID), zap.Error(err))
		return StreamEvent{}, false
	}

	seqStr, _ := msg.Values["seq"].(string)
	seq, err := strconv.ParseInt(seqStr, 10, 64)
	if err != nil {
		return StreamEvent{}, false
	}

	ts := s.now()
	if tsStr, ok := msg.Values["ts"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339, tsStr); err == nil {
			ts = parsed
		}
	}

	return StreamEvent{Channel: channel, Sequence: seq, Event: event, Timestamp: ts}, true
}
