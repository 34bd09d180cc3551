package store

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/agentloom/orchestrator/internal/domain"
	"github.com/agentloom/orchestrator/internal/errs"
)

// historyMaxLen caps the per-session history list so a long-lived session
// cannot grow it without bound; oldest entries are trimmed on append (spec
// §4.6 default maxLines).
const historyMaxLen = 1000

// AppendHistory appends a StreamEvent to the session's history list (spec
// §4.3's History Buffer) and refreshes its TTL. Events are stored
// JSON-encoded so readers see exactly the wire shape they'd receive over
// pub/sub.
func (s *Store) AppendHistory(ctx context.Context, event domain.StreamEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return errs.Wrap(errs.StoreError, "marshal history event", err)
	}
	key := historyKey(event.SessionID)
	return s.retry(ctx, func() error {
		pipe := s.rdb.TxPipeline()
		pipe.RPush(ctx, key, payload)
		pipe.LTrim(ctx, key, -historyMaxLen, -1)
		pipe.Expire(ctx, key, s.ttl)
		_, err := pipe.Exec(ctx)
		if err != nil {
			return errs.Wrap(errs.StoreError, "append history", err)
		}
		return nil
	})
}

// ReadHistory returns up to limit of the most recent events for a session,
// in chronological order (oldest first). limit <= 0 returns the full
// (bounded) list.
func (s *Store) ReadHistory(ctx context.Context, sessionID string, limit int) ([]domain.StreamEvent, error) {
	key := historyKey(sessionID)
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}
	var raw []string
	err := s.retry(ctx, func() error {
		var err error
		raw, err = s.rdb.LRange(ctx, key, start, -1).Result()
		return err
	})
	if err != nil {
		return nil, errs.Wrap(errs.StoreError, "read history", err)
	}
	events := make([]domain.StreamEvent, 0, len(raw))
	for _, r := range raw {
		var ev domain.StreamEvent
		if err := json.Unmarshal([]byte(r), &ev); err != nil {
			// A single corrupt entry should not fail the whole read; skip it
			// and let callers see the rest of the history.
			s.logger.Warn("skipping unparseable history entry", "sessionId", sessionID, "error", err)
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// ReadHistorySafe swallows all errors, returning an empty slice instead —
// the "safe" read variant spec §4.6 calls for, for callers (e.g. late-join
// replay) that would rather show nothing than fail.
func (s *Store) ReadHistorySafe(ctx context.Context, sessionID string, limit int) []domain.StreamEvent {
	events, err := s.ReadHistory(ctx, sessionID, limit)
	if err != nil {
		s.logger.Warn("safe history read failed, returning empty", "sessionId", sessionID, "error", err)
		return nil
	}
	return events
}

// HistoryLength reports the current length of a session's history list.
func (s *Store) HistoryLength(ctx context.Context, sessionID string) (int, error) {
	var n int64
	err := s.retry(ctx, func() error {
		var err error
		n, err = s.rdb.LLen(ctx, historyKey(sessionID)).Result()
		return err
	})
	if err != nil {
		return 0, errs.Wrap(errs.StoreError, "history length", err)
	}
	return int(n), nil
}

// ClearHistory deletes a session's history list independently of the
// session record itself.
func (s *Store) ClearHistory(ctx context.Context, sessionID string) error {
	return s.retry(ctx, func() error {
		if err := s.rdb.Del(ctx, historyKey(sessionID)).Err(); err != nil {
			return errs.Wrap(errs.StoreError, "clear history", err)
		}
		return nil
	})
}

// Publish publishes a StreamEvent to the workspace's pub/sub channel (spec
// §4.5, §6). Shares the Store's Redis connection rather than opening a
// second one, per the Stream Publisher's design note.
func (s *Store) Publish(ctx context.Context, workspaceID string, event domain.StreamEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return errs.Wrap(errs.StoreError, "marshal stream event", err)
	}
	return s.retry(ctx, func() error {
		if err := s.rdb.Publish(ctx, ChannelName(workspaceID), payload).Err(); err != nil {
			return errs.Wrap(errs.PublishTimeout, "publish stream event", err)
		}
		return nil
	})
}

// Subscribe opens a subscription to a workspace's channel. Callers are
// responsible for closing the returned PubSub.
func (s *Store) Subscribe(ctx context.Context, workspaceID string) *redis.PubSub {
	return s.rdb.Subscribe(ctx, ChannelName(workspaceID))
}
