package server

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/scottdavis/mathagent/pkg/agents"
	"github.com/scottdavis/mathagent/pkg/errors"
)

// DefaultMaxSessions bounds the cache when no size is configured.
const DefaultMaxSessions = 1024

// SessionFactory creates the agent for a session id. An empty id asks the
// factory to pick one.
type SessionFactory func(ctx context.Context, sessionID string) (*agents.MathAgent, error)

// SessionCache keeps the most recently used agents. Evicted sessions lose
// their in-process window; persistent stores reload it on the next request.
type SessionCache struct {
	cache   *lru.Cache[string, *agents.MathAgent]
	factory SessionFactory
}

// NewSessionCache creates a cache holding up to size agents.
func NewSessionCache(size int, factory SessionFactory) (*SessionCache, error) {
	if factory == nil {
		return nil, errors.New(errors.ConfigurationError, "session factory is required")
	}
	if size <= 0 {
		size = DefaultMaxSessions
	}
	cache, err := lru.New[string, *agents.MathAgent](size)
	if err != nil {
		return nil, errors.Wrap(err, errors.ConfigurationError, "failed to create session cache")
	}
	return &SessionCache{cache: cache, factory: factory}, nil
}

// Get returns the agent for sessionID, creating it on a miss. The factory
// runs outside the cache lock; when two requests build the same session the
// first one cached wins.
func (s *SessionCache) Get(ctx context.Context, sessionID string) (*agents.MathAgent, error) {
	if sessionID != "" {
		if agent, ok := s.cache.Get(sessionID); ok {
			return agent, nil
		}
	}

	agent, err := s.factory(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if existing, found, _ := s.cache.PeekOrAdd(agent.SessionID(), agent); found {
		return existing, nil
	}
	return agent, nil
}

// Peek returns a cached agent without creating one.
func (s *SessionCache) Peek(sessionID string) (*agents.MathAgent, bool) {
	return s.cache.Peek(sessionID)
}

// Remove drops a session from the cache.
func (s *SessionCache) Remove(sessionID string) bool {
	return s.cache.Remove(sessionID)
}

func (s *SessionCache) Len() int {
	return s.cache.Len()
}
