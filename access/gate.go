// Package access gates every presence action behind the combined
// session-validity and course-enrollment check. The gate never returns
// an error: any failure along the way is a denial.
package access

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const defaultAuthorizeTimeout = 5 * time.Second

// Gate answers "may this user act within this room?".
type Gate interface {
	Authorize(ctx context.Context, userID, roomID string) bool
}

// SessionChecker is the session-validity half of the gate.
type SessionChecker interface {
	VerifySession(address string) bool
}

type Checker struct {
	sessions SessionChecker
	ledger   EntitlementLedger
	timeout  time.Duration
	logger   zerolog.Logger
}

type Config struct {
	Sessions SessionChecker
	Ledger   EntitlementLedger
	Timeout  time.Duration
	Logger   *zerolog.Logger
}

func NewChecker(cfg Config) *Checker {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultAuthorizeTimeout
	}
	return &Checker{
		sessions: cfg.Sessions,
		ledger:   cfg.Ledger,
		timeout:  timeout,
		logger:   cfg.Logger.With().Str("component", "access-gate").Logger(),
	}
}

// Authorize requires a parseable numeric room id, a live session and a
// confirmed enrollment. The ledger round trip is bounded; a timeout is
// a denial, not an error.
func (c *Checker) Authorize(ctx context.Context, userID, roomID string) bool {
	courseID, err := strconv.ParseInt(roomID, 10, 64)
	if err != nil {
		c.logger.Debug().
			Str("roomID", roomID).
			Msg("room id is not a course id")
		return false
	}

	if !c.sessions.VerifySession(userID) {
		c.logger.Debug().
			Str("userID", userID).
			Msg("no valid session")
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	enrolled, err := c.ledger.CheckEnrollment(ctx, userID, courseID)
	if err != nil {
		c.logger.Warn().Err(err).
			Str("userID", userID).
			Int64("courseID", courseID).
			Msg("enrollment check failed, denying")
		return false
	}
	return enrolled
}

// Cached wraps a Gate with a small TTL cache of grants. Denials are
// never cached so session expiry and revocation bite on the very next
// message; the per-message ledger round trip is only amortized for the
// common allowed case.
type Cached struct {
	gate Gate
	ttl  time.Duration

	mx     sync.Mutex
	grants map[cacheKey]time.Time
	now    func() time.Time
}

type cacheKey struct {
	userID string
	roomID string
}

func NewCached(gate Gate, ttl time.Duration) *Cached {
	return &Cached{
		gate:   gate,
		ttl:    ttl,
		grants: make(map[cacheKey]time.Time),
		now:    time.Now,
	}
}

func (cg *Cached) Authorize(ctx context.Context, userID, roomID string) bool {
	key := cacheKey{userID: userID, roomID: roomID}

	cg.mx.Lock()
	granted, ok := cg.grants[key]
	if ok && cg.now().Sub(granted) <= cg.ttl {
		cg.mx.Unlock()
		return true
	}
	delete(cg.grants, key)
	cg.mx.Unlock()

	if !cg.gate.Authorize(ctx, userID, roomID) {
		return false
	}

	cg.mx.Lock()
	cg.grants[key] = cg.now()
	cg.mx.Unlock()
	return true
}
