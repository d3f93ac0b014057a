package cache

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/TGOO-Worldwide/siliviat-app/internal/client"

	"go.uber.org/zap"
)

const keyPrefix = "http_cache:"

// ErrOffline means the upstream could not be reached and no cached copy
// exists.
var ErrOffline = errors.New("upstream unreachable and nothing cached")

type Upstream interface {
	Get(ctx context.Context, path string) (*client.Response, error)
}

type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
}

type Entry struct {
	StatusCode  int       `json:"status"`
	ContentType string    `json:"contentType"`
	Body        []byte    `json:"body"`
	StoredAt    time.Time `json:"storedAt"`
}

// Layer serves shell routes cache-first and API reads network-first, keeping
// the last good copy of each in the local store.
type Layer struct {
	shell  Upstream
	api    Upstream
	store  Store
	routes map[string]struct{}
	order  []string
	logger *zap.Logger
	now    func() time.Time
}

func NewLayer(shell, api Upstream, store Store, shellRoutes []string, logger *zap.Logger) *Layer {
	l := &Layer{
		shell:  shell,
		api:    api,
		store:  store,
		routes: make(map[string]struct{}, len(shellRoutes)),
		logger: logger,
		now:    time.Now,
	}
	for _, r := range shellRoutes {
		if _, dup := l.routes[r]; dup {
			continue
		}
		l.routes[r] = struct{}{}
		l.order = append(l.order, r)
	}
	return l
}

func (l *Layer) IsShellRoute(path string) bool {
	_, ok := l.routes[path]
	return ok
}

// Precache fetches every shell route. Failures are logged and counted but
// do not stop the remaining routes.
func (l *Layer) Precache(ctx context.Context) int {
	stored := 0
	for _, route := range l.order {
		resp, err := l.shell.Get(ctx, route)
		if err != nil {
			l.logger.Warn("Precache failed", zap.String("route", route), zap.Error(err))
			continue
		}
		if resp.StatusCode != http.StatusOK {
			l.logger.Warn("Precache skipped non-200 response",
				zap.String("route", route),
				zap.Int("status", resp.StatusCode),
			)
			continue
		}
		if l.put(ctx, route, resp) {
			stored++
		}
	}

	l.logger.Info("Shell precached", zap.Int("stored", stored), zap.Int("routes", len(l.order)))
	return stored
}

// ServeShell answers from the cache, then the network, then the cached "/".
func (l *Layer) ServeShell(ctx context.Context, path string) (*Entry, error) {
	if e, ok := l.lookup(ctx, path); ok {
		return e, nil
	}

	resp, err := l.shell.Get(ctx, path)
	if err == nil {
		if resp.StatusCode == http.StatusOK {
			l.put(ctx, path, resp)
		}
		return fromResponse(resp, l.now()), nil
	}

	l.logger.Debug("Shell fetch failed", zap.String("path", path), zap.Error(err))
	if e, ok := l.lookup(ctx, "/"); ok {
		return e, nil
	}
	return nil, ErrOffline
}

// ServeAPI answers from the network and falls back to the last 200 seen for
// the same path and query.
func (l *Layer) ServeAPI(ctx context.Context, path string) (*Entry, error) {
	resp, err := l.api.Get(ctx, path)
	if err == nil {
		if resp.StatusCode == http.StatusOK {
			l.put(ctx, path, resp)
		}
		return fromResponse(resp, l.now()), nil
	}

	l.logger.Debug("API fetch failed, trying cache", zap.String("path", path), zap.Error(err))
	if e, ok := l.lookup(ctx, path); ok {
		return e, nil
	}
	return nil, ErrOffline
}

// Handler serves GET requests for /api/* and the shell routes.
func (l *Layer) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		if strings.HasPrefix(r.URL.Path, "/api/") {
			e, err := l.ServeAPI(r.Context(), r.URL.RequestURI())
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				json.NewEncoder(w).Encode(map[string]string{"error": "Sem conexão"})
				return
			}
			writeEntry(w, e)
			return
		}

		e, err := l.ServeShell(r.Context(), r.URL.Path)
		if err != nil {
			http.Error(w, "offline", http.StatusServiceUnavailable)
			return
		}
		writeEntry(w, e)
	})
}

func (l *Layer) lookup(ctx context.Context, path string) (*Entry, bool) {
	raw, ok, err := l.store.Get(ctx, keyPrefix+path)
	if err != nil {
		l.logger.Warn("Cache read failed", zap.String("path", path), zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}

	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		l.logger.Warn("Discarding unreadable cache entry", zap.String("path", path), zap.Error(err))
		return nil, false
	}
	return &e, true
}

func (l *Layer) put(ctx context.Context, path string, resp *client.Response) bool {
	raw, err := json.Marshal(fromResponse(resp, l.now()))
	if err != nil {
		return false
	}
	if err := l.store.Put(ctx, keyPrefix+path, raw); err != nil {
		l.logger.Warn("Cache write failed", zap.String("path", path), zap.Error(err))
		return false
	}
	return true
}

func fromResponse(resp *client.Response, at time.Time) *Entry {
	return &Entry{
		StatusCode:  resp.StatusCode,
		ContentType: resp.ContentType,
		Body:        resp.Body,
		StoredAt:    at,
	}
}

func writeEntry(w http.ResponseWriter, e *Entry) {
	if e.ContentType != "" {
		w.Header().Set("Content-Type", e.ContentType)
	}
	w.WriteHeader(e.StatusCode)
	w.Write(e.Body)
}
