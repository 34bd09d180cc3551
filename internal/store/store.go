// Package store is the Session Store (spec §4.2): a keyed index over a
// shared Redis instance, giving session metadata, per-workspace and
// per-agent indexes, and per-session history a durable-ish, cross-replica
// home. All key names are fixed strings for wire compatibility — see
// keys.go.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agentloom/orchestrator/internal/domain"
	"github.com/agentloom/orchestrator/internal/errs"
)

const (
	// DefaultTTL is the expiry on session and history keys, refreshed on
	// every heartbeat / history append.
	DefaultTTL = 24 * time.Hour

	scanPageSize  = 100
	maxScanResults = 10_000

	retryMaxAttempts = 3
	retryBaseDelay   = 50 * time.Millisecond
)

// Store is the Redis-backed Session Store.
type Store struct {
	rdb    *redis.Client
	logger *slog.Logger
	ttl    time.Duration
}

// New wraps an existing Redis client. The caller owns the client's
// lifecycle (Close).
func New(rdb *redis.Client, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{rdb: rdb, logger: logger, ttl: DefaultTTL}
}

// Client returns the underlying Redis client. The Stream Publisher and the
// History Buffer do not call it: they share this connection through the
// Store's own Publish and history methods rather than opening their own.
func (s *Store) Client() *redis.Client { return s.rdb }

// Close closes the underlying Redis connection.
func (s *Store) Close() error { return s.rdb.Close() }

func (s *Store) retry(ctx context.Context, fn func() error) error {
	return withRetry(ctx, retryMaxAttempts, retryBaseDelay, fn)
}

// sessionFields serializes a Session into the string-valued field map
// stored under cli:session:{sessionId}. Integer and time fields are
// explicitly formatted, matching spec §4.2's "all values serialized as
// strings; integer fields explicitly formatted/parsed".
func sessionFields(sess domain.Session) map[string]any {
	f := map[string]any{
		"sessionId":     sess.SessionID,
		"workspaceId":   sess.WorkspaceID,
		"projectId":     sess.ProjectID,
		"agentId":       sess.AgentID,
		"pid":           strconv.Itoa(sess.PID),
		"status":        string(sess.Status),
		"task":          sess.Task,
		"startedAt":     sess.StartedAt.UTC().Format(time.RFC3339Nano),
		"lastHeartbeat": sess.LastHeartbeat.UTC().Format(time.RFC3339Nano),
		"workingDir":    sess.WorkingDir,
	}
	if sess.TerminatedAt != nil {
		f["terminatedAt"] = sess.TerminatedAt.UTC().Format(time.RFC3339Nano)
	}
	return f
}

func parseSessionFields(m map[string]string) (domain.Session, error) {
	if len(m) == 0 {
		return domain.Session{}, errs.New(errs.NotFound, "session record empty")
	}
	pid, err := strconv.Atoi(m["pid"])
	if err != nil {
		return domain.Session{}, errs.Wrap(errs.StoreError, "parse pid", err)
	}
	startedAt, err := time.Parse(time.RFC3339Nano, m["startedAt"])
	if err != nil {
		return domain.Session{}, errs.Wrap(errs.StoreError, "parse startedAt", err)
	}
	lastHeartbeat, err := time.Parse(time.RFC3339Nano, m["lastHeartbeat"])
	if err != nil {
		return domain.Session{}, errs.Wrap(errs.StoreError, "parse lastHeartbeat", err)
	}
	sess := domain.Session{
		SessionID:     m["sessionId"],
		WorkspaceID:   m["workspaceId"],
		ProjectID:     m["projectId"],
		AgentID:       m["agentId"],
		PID:           pid,
		Status:        domain.SessionStatus(m["status"]),
		Task:          m["task"],
		StartedAt:     startedAt,
		LastHeartbeat: lastHeartbeat,
		WorkingDir:    m["workingDir"],
	}
	if v, ok := m["terminatedAt"]; ok && v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return domain.Session{}, errs.Wrap(errs.StoreError, "parse terminatedAt", err)
		}
		sess.TerminatedAt = &t
	}
	return sess, nil
}

// StoreSession persists session metadata and updates the workspace and
// agent indexes. TTL is set on the session record; the workspace set and
// agent pointer do not expire on their own (deleteSession removes them
// explicitly).
func (s *Store) StoreSession(ctx context.Context, sess domain.Session) error {
	key := sessionKey(sess.SessionID)
	return s.retry(ctx, func() error {
		pipe := s.rdb.TxPipeline()
		pipe.HSet(ctx, key, sessionFields(sess))
		pipe.Expire(ctx, key, s.ttl)
		pipe.SAdd(ctx, workspaceKey(sess.WorkspaceID), sess.SessionID)
		pipe.Set(ctx, agentKey(sess.AgentID), sess.SessionID, 0)
		_, err := pipe.Exec(ctx)
		if err != nil {
			return errs.Wrap(errs.StoreError, "store session", err)
		}
		return nil
	})
}

// GetSession returns the session record, or (zero, false, nil) if it does
// not exist.
func (s *Store) GetSession(ctx context.Context, sessionID string) (domain.Session, bool, error) {
	var m map[string]string
	err := s.retry(ctx, func() error {
		var err error
		m, err = s.rdb.HGetAll(ctx, sessionKey(sessionID)).Result()
		return err
	})
	if err != nil {
		return domain.Session{}, false, errs.Wrap(errs.StoreError, "get session", err)
	}
	if len(m) == 0 {
		return domain.Session{}, false, nil
	}
	sess, err := parseSessionFields(m)
	if err != nil {
		return domain.Session{}, false, err
	}
	return sess, true, nil
}

// SessionExists reports whether a session record exists, without parsing it.
func (s *Store) SessionExists(ctx context.Context, sessionID string) (bool, error) {
	var n int64
	err := s.retry(ctx, func() error {
		var err error
		n, err = s.rdb.Exists(ctx, sessionKey(sessionID)).Result()
		return err
	})
	if err != nil {
		return false, errs.Wrap(errs.StoreError, "session exists", err)
	}
	return n > 0, nil
}

// DeleteSession removes the session record plus its workspace-set
// membership and agent pointer. Reads metadata before deleting (spec §5)
// so the indexes can be cleaned even though this is not transactional
// across the three keys; the Health Monitor's periodic sweep reconciles any
// partial failure. Idempotent: deleting an unknown session succeeds.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	sess, ok, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	return s.retry(ctx, func() error {
		pipe := s.rdb.TxPipeline()
		pipe.Del(ctx, sessionKey(sessionID))
		pipe.Del(ctx, historyKey(sessionID))
		pipe.SRem(ctx, workspaceKey(sess.WorkspaceID), sessionID)
		// Only clear the agent pointer if it still points at this session —
		// a newer session for the same agent may already have overwritten it.
		current, err := s.rdb.Get(ctx, agentKey(sess.AgentID)).Result()
		if err == nil && current == sessionID {
			pipe.Del(ctx, agentKey(sess.AgentID))
		}
		_, err = pipe.Exec(ctx)
		if err != nil {
			return errs.Wrap(errs.StoreError, "delete session", err)
		}
		return nil
	})
}

// UpdateHeartbeat writes lastHeartbeat and refreshes the record's TTL.
func (s *Store) UpdateHeartbeat(ctx context.Context, sessionID string, at time.Time) error {
	key := sessionKey(sessionID)
	return s.retry(ctx, func() error {
		pipe := s.rdb.TxPipeline()
		pipe.HSet(ctx, key, "lastHeartbeat", at.UTC().Format(time.RFC3339Nano))
		pipe.Expire(ctx, key, s.ttl)
		_, err := pipe.Exec(ctx)
		if err != nil {
			return errs.Wrap(errs.StoreError, "update heartbeat", err)
		}
		return nil
	})
}

// UpdateStatus writes status, and terminatedAt when status is terminated.
func (s *Store) UpdateStatus(ctx context.Context, sessionID string, status domain.SessionStatus, terminatedAt *time.Time) error {
	key := sessionKey(sessionID)
	fields := map[string]any{"status": string(status)}
	if status == domain.SessionTerminated {
		ts := time.Now().UTC()
		if terminatedAt != nil {
			ts = terminatedAt.UTC()
		}
		fields["terminatedAt"] = ts.Format(time.RFC3339Nano)
	}
	return s.retry(ctx, func() error {
		if err := s.rdb.HSet(ctx, key, fields).Err(); err != nil {
			return errs.Wrap(errs.StoreError, "update status", err)
		}
		return nil
	})
}

// GetWorkspaceSessions returns all session ids in a workspace's index.
func (s *Store) GetWorkspaceSessions(ctx context.Context, workspaceID string) ([]string, error) {
	var ids []string
	err := s.retry(ctx, func() error {
		var err error
		ids, err = s.rdb.SMembers(ctx, workspaceKey(workspaceID)).Result()
		return err
	})
	if err != nil {
		return nil, errs.Wrap(errs.StoreError, "get workspace sessions", err)
	}
	return ids, nil
}

// GetWorkspaceSessionCount is the admission-check primitive: cheaper than
// fetching the full member set.
func (s *Store) GetWorkspaceSessionCount(ctx context.Context, workspaceID string) (int, error) {
	var n int64
	err := s.retry(ctx, func() error {
		var err error
		n, err = s.rdb.SCard(ctx, workspaceKey(workspaceID)).Result()
		return err
	})
	if err != nil {
		return 0, errs.Wrap(errs.StoreError, "get workspace session count", err)
	}
	return int(n), nil
}

// GetSessionByAgent resolves the agent pointer and then loads that session.
func (s *Store) GetSessionByAgent(ctx context.Context, agentID string) (domain.Session, bool, error) {
	var sessionID string
	err := s.retry(ctx, func() error {
		v, err := s.rdb.Get(ctx, agentKey(agentID)).Result()
		if err == redis.Nil {
			sessionID = ""
			return nil
		}
		if err != nil {
			return err
		}
		sessionID = v
		return nil
	})
	if err != nil {
		return domain.Session{}, false, errs.Wrap(errs.StoreError, "get session by agent", err)
	}
	if sessionID == "" {
		return domain.Session{}, false, nil
	}
	return s.GetSession(ctx, sessionID)
}

// GetAllSessionIds enumerates session ids via iterative SCAN, bounded by
// maxResults (spec §4.2's "hard cap to prevent unbounded traversal"). A
// maxResults <= 0 uses the package default.
func (s *Store) GetAllSessionIds(ctx context.Context, maxResults int) ([]string, error) {
	if maxResults <= 0 {
		maxResults = maxScanResults
	}
	if maxResults > maxScanResults {
		maxResults = maxScanResults
	}

	var ids []string
	var cursor uint64
	for {
		var keys []string
		var next uint64
		err := s.retry(ctx, func() error {
			var err error
			keys, next, err = s.rdb.Scan(ctx, cursor, sessionScanPattern, scanPageSize).Result()
			return err
		})
		if err != nil {
			return nil, errs.Wrap(errs.StoreError, "scan sessions", err)
		}
		for _, k := range keys {
			id := k[len("cli:session:"):]
			ids = append(ids, id)
			if len(ids) >= maxResults {
				return ids, nil
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return ids, nil
}

// NewClient constructs a Redis client from discrete connection settings
// (REDIS_HOST/PORT/PASSWORD/DB, spec §6).
func NewClient(host string, port int, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})
}
