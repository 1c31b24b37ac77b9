// Package authtest provides in-memory introspectors for tests of code that
// consumes auth.Introspector.
package authtest

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ggoodman/mcp-resource-gate/auth"
)

// StaticIntrospector answers from a fixed token table. Unknown tokens are
// rejected with auth.ErrInvalidCredential.
type StaticIntrospector struct {
	mu     sync.RWMutex
	tokens map[string]auth.IntrospectionResult
	calls  atomic.Int64
}

// NewStaticIntrospector returns an introspector seeded with tokens.
func NewStaticIntrospector(tokens map[string]auth.IntrospectionResult) *StaticIntrospector {
	if tokens == nil {
		tokens = map[string]auth.IntrospectionResult{}
	}
	return &StaticIntrospector{tokens: maps.Clone(tokens)}
}

// Set adds or replaces a token.
func (s *StaticIntrospector) Set(token string, res auth.IntrospectionResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = res
}

// Delete removes a token so later introspections reject it.
func (s *StaticIntrospector) Delete(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, token)
}

// Calls returns how many times Introspect has been invoked.
func (s *StaticIntrospector) Calls() int { return int(s.calls.Load()) }

func (s *StaticIntrospector) Introspect(ctx context.Context, token string) (*auth.IntrospectionResult, error) {
	s.calls.Add(1)
	s.mu.RLock()
	res, ok := s.tokens[token]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown token", auth.ErrInvalidCredential)
	}
	return &res, nil
}

// ErrorIntrospector fails every call with Err.
type ErrorIntrospector struct {
	Err error
}

func (e ErrorIntrospector) Introspect(context.Context, string) (*auth.IntrospectionResult, error) {
	return nil, e.Err
}

// SlowIntrospector waits Delay (or until the context ends) before delegating
// to Next. It models an upstream that does not answer in time.
type SlowIntrospector struct {
	Delay time.Duration
	Next  auth.Introspector
}

func (s SlowIntrospector) Introspect(ctx context.Context, token string) (*auth.IntrospectionResult, error) {
	t := time.NewTimer(s.Delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.C:
	}
	if s.Next == nil {
		return nil, fmt.Errorf("%w: no delegate", auth.ErrInvalidCredential)
	}
	return s.Next.Introspect(ctx, token)
}

var (
	_ auth.Introspector = (*StaticIntrospector)(nil)
	_ auth.Introspector = ErrorIntrospector{}
	_ auth.Introspector = SlowIntrospector{}
)
