// Package filetoken implements a development introspector backed by a JSON
// file of known tokens. The file is re-read whenever it changes on disk.
//
// File format:
//
//	{
//	  "tokens": {
//	    "dev-token": {
//	      "sub": "user-1",
//	      "client_id": "local-client",
//	      "scopes": ["openid", "email"],
//	      "expires_at": "2030-01-01T00:00:00Z",
//	      "claims": {"email": "dev@example.com"}
//	    }
//	  }
//	}
package filetoken

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ggoodman/mcp-resource-gate/auth"
)

// Entry describes one accepted token.
type Entry struct {
	Subject   string         `json:"sub"`
	ClientID  string         `json:"client_id"`
	Issuer    string         `json:"iss,omitempty"`
	Scopes    []string       `json:"scopes"`
	ExpiresAt time.Time      `json:"expires_at,omitempty"`
	TokenID   string         `json:"jti,omitempty"`
	Claims    map[string]any `json:"claims,omitempty"`
}

type file struct {
	Tokens map[string]Entry `json:"tokens"`
}

// Introspector answers from the token file. It is safe for concurrent use.
type Introspector struct {
	path string
	log  *slog.Logger

	mu     sync.RWMutex
	tokens map[string]Entry
}

// Option configures an Introspector.
type Option func(*Introspector)

// WithLogger sets the logger used for reload events.
func WithLogger(l *slog.Logger) Option {
	return func(i *Introspector) {
		if l != nil {
			i.log = l
		}
	}
}

// Load reads path and returns an Introspector serving its tokens.
func Load(path string, opts ...Option) (*Introspector, error) {
	i := &Introspector{path: path, log: slog.Default()}
	for _, opt := range opts {
		opt(i)
	}
	if err := i.Reload(); err != nil {
		return nil, err
	}
	return i, nil
}

// Reload re-reads the token file. On failure the previous table is kept.
func (i *Introspector) Reload() error {
	b, err := os.ReadFile(i.path)
	if err != nil {
		return fmt.Errorf("read token file: %w", err)
	}
	var f file
	if err := json.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("parse token file %s: %w", i.path, err)
	}
	if f.Tokens == nil {
		f.Tokens = map[string]Entry{}
	}
	i.mu.Lock()
	i.tokens = f.Tokens
	i.mu.Unlock()
	return nil
}

// Watch reloads the file on change until ctx is done. It watches the parent
// directory so editors that replace the file atomically are handled.
func (i *Introspector) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	dir := filepath.Dir(i.path)
	name := filepath.Base(i.path)
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	go func() {
		defer w.Close()

		var debounce *time.Timer
		const delay = 50 * time.Millisecond

		for {
			select {
			case <-ctx.Done():
				if debounce != nil {
					debounce.Stop()
				}
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != name {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(delay, func() {
					if err := i.Reload(); err != nil {
						i.log.Warn("filetoken.reload.fail", slog.String("path", i.path), slog.String("err", err.Error()))
						return
					}
					i.log.Info("filetoken.reload", slog.String("path", i.path), slog.Int("tokens", i.Len()))
				})
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				i.log.Warn("filetoken.watch.error", slog.String("err", err.Error()))
			}
		}
	}()
	return nil
}

// Len reports how many tokens are loaded.
func (i *Introspector) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.tokens)
}

// Introspect implements auth.Introspector.
func (i *Introspector) Introspect(ctx context.Context, token string) (*auth.IntrospectionResult, error) {
	i.mu.RLock()
	e, ok := i.tokens[token]
	i.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown token", auth.ErrInvalidCredential)
	}

	res := &auth.IntrospectionResult{
		Subject:      e.Subject,
		Issuer:       e.Issuer,
		Scopes:       slices.Clone(e.Scopes),
		ExpiresAt:    e.ExpiresAt,
		TokenID:      e.TokenID,
		CustomClaims: map[string]any{},
	}
	if e.ClientID != "" {
		res.Audience = []string{e.ClientID}
	}
	for k, v := range e.Claims {
		res.CustomClaims[k] = v
	}
	return res, nil
}

var _ auth.Introspector = (*Introspector)(nil)
