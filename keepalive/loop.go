// Package keepalive implements the background ping loop described in
// spec.md §4.7: providers that declare a keep_alive duration get an empty
// chat request sent to them periodically so the upstream inference server
// doesn't evict the model from memory between real requests.
//
// The schedule lives in the coordination store (store.KeepAliveWakeupKey,
// a sorted set of "model\x1fhost" members scored by next-ping unix time),
// so multiple gateway replicas share one schedule instead of each pinging
// independently.
package keepalive

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/modelgateway/llmrouter/apitype"
	"github.com/modelgateway/llmrouter/catalog"
	"github.com/modelgateway/llmrouter/duration"
	"github.com/modelgateway/llmrouter/hooks"
	"github.com/modelgateway/llmrouter/internal/store"
	"github.com/modelgateway/llmrouter/upstream"
)

// memberSep joins model and host into one sorted-set member. Neither model
// names nor host:port strings contain it in practice, so this is simpler
// than a JSON-encoded member.
const memberSep = "\x1f"

// keepAliveMessage is the minimal chat payload spec.md §4.7 calls for: a
// single user turn that costs the upstream as little work as possible.
const keepAliveMessage = "Send an empty message."

// Loop owns the keep-alive schedule and the background goroutine that
// drains it.
type Loop struct {
	store    *store.Store
	catalog  *catalog.ModelCatalog
	upstream *upstream.Client
	logger   *zap.Logger
	interval time.Duration
}

// NewLoop constructs a Loop. interval is how often the background goroutine
// polls the wakeup schedule for due providers; spec.md §4.7 defaults this
// to one second.
func NewLoop(st *store.Store, cat *catalog.ModelCatalog, client *upstream.Client, logger *zap.Logger, interval time.Duration) *Loop {
	if interval <= 0 {
		interval = time.Second
	}
	return &Loop{
		store:    st,
		catalog:  cat,
		upstream: client,
		logger:   logger.With(zap.String("component", "keepalive")),
		interval: interval,
	}
}

// Run polls the wakeup schedule every interval until ctx is cancelled. It
// is meant to run in its own goroutine for the lifetime of the process.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

// tick pings every provider whose wakeup score has passed, then reschedules
// it whether or not the ping succeeded, so a failing provider doesn't fall
// out of the schedule. Entries whose provider has left the catalog, whose
// keep_alive does not parse, or whose api_type has no route table are
// dropped instead.
func (l *Loop) tick(ctx context.Context) {
	due, err := l.store.ZRangeByScore(ctx, store.KeepAliveWakeupKey(), "-inf", strconv.FormatInt(nowUnix(), 10))
	if err != nil {
		l.logger.Warn("failed to read keep-alive schedule", zap.Error(err))
		return
	}

	for _, raw := range due {
		model, host, ok := splitMember(raw)
		if !ok {
			l.logger.Warn("malformed keep-alive schedule member, dropping", zap.String("member", raw))
			if err := l.store.ZRem(ctx, store.KeepAliveWakeupKey(), raw); err != nil {
				l.logger.Warn("failed to drop malformed keep-alive schedule member", zap.Error(err))
			}
			continue
		}
		l.pingOne(ctx, model, host)
	}
}

func (l *Loop) pingOne(ctx context.Context, model, host string) {
	logger := l.logger.With(zap.String("model", model), zap.String("host", host))

	provider, ok := l.findProvider(model, host)
	if !ok {
		logger.Info("provider no longer in catalog, dropping keep-alive schedule entry")
		l.dropSchedule(ctx, model, host)
		return
	}

	interval, err := duration.Parse(provider.KeepAlive)
	if err != nil {
		logger.Warn("provider has unparsable keep_alive, dropping schedule entry", zap.Error(err))
		l.dropSchedule(ctx, model, host)
		return
	}

	if busy, err := l.isHostOccupied(ctx, host, model); err != nil {
		logger.Warn("failed to check host occupancy, skipping this tick", zap.Error(err))
		l.reschedule(ctx, model, host, interval)
		return
	} else if busy {
		logger.Debug("host is serving a real request, skipping ping")
		l.reschedule(ctx, model, host, interval)
		return
	}

	routes, err := apitype.Resolve(provider.APIType)
	if err != nil {
		logger.Warn("provider api_type has no route table, dropping schedule entry", zap.Error(err))
		l.dropSchedule(ctx, model, host)
		return
	}

	envelope := hooks.Envelope{
		"model": model,
		"messages": []any{
			map[string]any{"role": "user", "content": keepAliveMessage},
		},
		"stream": false,
	}

	url := strings.TrimRight(provider.APIHost, "/") + routes.ChatPath
	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	_, err = l.upstream.Call(pingCtx, routes.ChatMethod, url, provider, envelope)
	cancel()
	if err != nil {
		logger.Warn("keep-alive ping failed", zap.Error(err))
	} else {
		logger.Debug("keep-alive ping sent")
	}

	l.reschedule(ctx, model, host, interval)
}

// findProvider searches every active model's provider list for one whose
// (model, host) pair matches. Sleeping providers are included: spec.md
// §4.7 keeps pinging a provider regardless of whether it's currently
// eligible for selection.
func (l *Loop) findProvider(model, host string) (catalog.ProviderSpec, bool) {
	entry, ok := l.catalog.Lookup(model)
	if !ok {
		return catalog.ProviderSpec{}, false
	}
	for _, p := range entry.Providers {
		if p.Host() == host {
			return p, true
		}
	}
	for _, p := range entry.ProvidersSleep {
		if p.Host() == host {
			return p, true
		}
	}
	return catalog.ProviderSpec{}, false
}

// isHostOccupied reports whether the host is currently serving a real
// request for model, per the occupancy hash first_available_optim
// maintains (spec.md §4.3.5).
func (l *Loop) isHostOccupied(ctx context.Context, host, model string) (bool, error) {
	val, err := l.store.HGet(ctx, store.HostOccupancyKey(host), model)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return false, nil
	}
	return n > 0, nil
}

func (l *Loop) dropSchedule(ctx context.Context, model, host string) {
	if err := l.store.ZRem(ctx, store.KeepAliveWakeupKey(), member(model, host)); err != nil {
		l.logger.Warn("failed to drop keep-alive schedule entry", zap.Error(err),
			zap.String("model", model), zap.String("host", host))
	}
}

func (l *Loop) reschedule(ctx context.Context, model, host string, interval time.Duration) {
	nextScore := float64(nowUnix() + int64(interval.Seconds()))
	if err := l.store.ZAdd(ctx, store.KeepAliveWakeupKey(), nextScore, member(model, host)); err != nil {
		l.logger.Warn("failed to reschedule keep-alive ping", zap.Error(err),
			zap.String("model", model), zap.String("host", host))
	}
}

// RecordUsage registers (model, host) for keep-alive scheduling the first
// time a strategy hands that provider out, per spec.md §4.7's
// record_usage hook. Subsequent calls are cheap no-ops that just push the
// next wakeup out by interval again, which is harmless since ZAdd
// overwrites the existing score.
func (l *Loop) RecordUsage(ctx context.Context, model, host, keepAlive string) error {
	if keepAlive == "" {
		return nil
	}
	interval, err := duration.Parse(keepAlive)
	if err != nil {
		return err
	}
	nextScore := float64(nowUnix() + int64(interval.Seconds()))
	return l.store.ZAdd(ctx, store.KeepAliveWakeupKey(), nextScore, member(model, host))
}

// ClearBuffers wipes the wakeup schedule, per spec.md §4.7's purge-on-start
// semantics: a schedule computed by a previous process instance, possibly
// with a different catalog, should not carry over.
func (l *Loop) ClearBuffers(ctx context.Context) error {
	return l.store.Del(ctx, store.KeepAliveWakeupKey())
}

// Seed schedules every catalog provider that declares a keep_alive, so
// pings start flowing immediately at boot rather than waiting for the
// first real request to reach each provider via RecordUsage. Call this
// once at startup, after ClearBuffers.
func (l *Loop) Seed(ctx context.Context) {
	for _, group := range l.catalog.ActiveGroups() {
		for _, model := range group {
			entry, ok := l.catalog.Lookup(model)
			if !ok {
				continue
			}
			for _, p := range append(append([]catalog.ProviderSpec{}, entry.Providers...), entry.ProvidersSleep...) {
				if p.KeepAlive == "" {
					continue
				}
				if err := l.RecordUsage(ctx, model, p.Host(), p.KeepAlive); err != nil {
					l.logger.Warn("failed to seed keep-alive schedule entry", zap.Error(err),
						zap.String("model", model), zap.String("host", p.Host()))
				}
			}
		}
	}
}

func member(model, host string) string {
	return model + memberSep + host
}

func splitMember(m string) (model, host string, ok bool) {
	parts := strings.SplitN(m, memberSep, 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

var nowUnix = func() int64 {
	return time.Now().Unix()
}
