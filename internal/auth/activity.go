package auth

import (
	"context"
	"time"

	"github.com/ecozone/authcore/internal/infrastructure/logging"
)

// DefaultActivityQueueSize bounds pending activity updates.
const DefaultActivityQueueSize = 1024

type activity struct {
	userID    string
	sessionID string
	at        time.Time
}

// ActivityTracker updates session.lastActivity and user.lastActiveAt off
// the request path. Updates are best-effort: when the queue is full they
// are dropped.
type ActivityTracker struct {
	users    UserRepository
	sessions SessionRepository
	logger   *logging.Logger
	queue    chan activity
	timeout  time.Duration
}

// NewActivityTracker creates an ActivityTracker.
func NewActivityTracker(users UserRepository, sessions SessionRepository, logger *logging.Logger, queueSize int, timeout time.Duration) *ActivityTracker {
	if queueSize <= 0 {
		queueSize = DefaultActivityQueueSize
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &ActivityTracker{
		users:    users,
		sessions: sessions,
		logger:   logger.With("component", "activity"),
		queue:    make(chan activity, queueSize),
		timeout:  timeout,
	}
}

// Track queues an activity update. It never blocks; it reports whether
// the update was queued.
func (t *ActivityTracker) Track(userID, sessionID string, at time.Time) bool {
	select {
	case t.queue <- activity{userID: userID, sessionID: sessionID, at: at}:
		return true
	default:
		return false
	}
}

// Run applies queued updates until ctx is cancelled.
func (t *ActivityTracker) Run(ctx context.Context) {
	for {
		select {
		case a := <-t.queue:
			t.apply(ctx, a)
		case <-ctx.Done():
			return
		}
	}
}

func (t *ActivityTracker) apply(ctx context.Context, a activity) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	if err := t.sessions.Touch(ctx, a.sessionID, a.at); err != nil {
		t.logger.Debug("session touch failed", "session_id", a.sessionID, "error", err)
	}
	if err := t.users.TouchActivity(ctx, a.userID, a.at); err != nil {
		t.logger.Debug("user activity update failed", "user_id", a.userID, "error", err)
	}
}
