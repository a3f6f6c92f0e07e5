package services

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"marketmesh/internal/config"
	"marketmesh/internal/logger"
)

// Области, в которых считаются попытки работы с промокодами.
const (
	AttemptScopeValidate = "validate"
	AttemptScopeRedeem   = "redeem"
)

// AttemptDecision описывает решение лимитера по одной попытке.
type AttemptDecision struct {
	Allowed   bool
	Used      int64
	Remaining int64
	ResetAt   time.Time
}

// AttemptLimiter ограничивает число попыток проверки и погашения промокодов с одного клиента
// в фиксированном окне. Счётчики живут в Redis: INCR + EXPIRE на первом обращении.
type AttemptLimiter struct {
	store   attemptStore
	log     *logger.Logger
	enabled bool
	limit   int64
	window  time.Duration
	prefix  string
	now     func() time.Time
}

type attemptStore interface {
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	TTL(ctx context.Context, key string) (time.Duration, error)
	GetInt(ctx context.Context, key string) (int64, error)
}

// NewAttemptLimiter создаёт лимитер. Без хранилища или при выключенном конфиге лимитер пропускает всё.
func NewAttemptLimiter(store attemptStore, log *logger.Logger, cfg *config.RateLimitConfig) *AttemptLimiter {
	if store == nil || cfg == nil || !cfg.Enabled || cfg.Requests <= 0 || cfg.WindowSeconds <= 0 {
		return &AttemptLimiter{enabled: false, now: time.Now}
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "promo_attempts"
	}

	return &AttemptLimiter{
		store:   store,
		log:     log,
		enabled: true,
		limit:   int64(cfg.Requests),
		window:  time.Duration(cfg.WindowSeconds) * time.Second,
		prefix:  prefix,
		now:     time.Now,
	}
}

// Allow засчитывает попытку клиента в области scope.
func (l *AttemptLimiter) Allow(ctx context.Context, scope, client string) (AttemptDecision, error) {
	now := l.now()
	if !l.enabled {
		return AttemptDecision{Allowed: true, Remaining: l.limit}, nil
	}

	key := l.key(scope, client)
	count, err := l.store.Incr(ctx, key)
	if err != nil {
		return AttemptDecision{}, fmt.Errorf("attempt limiter incr failed: %w", err)
	}

	if count == 1 {
		if err := l.store.Expire(ctx, key, l.window); err != nil {
			l.log.WithError(err).WithField("key", key).Warn("Failed to set attempt window ttl")
		}
	}

	ttl, err := l.store.TTL(ctx, key)
	if err != nil || ttl <= 0 {
		ttl = l.window
	}

	return AttemptDecision{
		Allowed:   count <= l.limit,
		Used:      count,
		Remaining: remainingAttempts(l.limit, count),
		ResetAt:   now.Add(ttl),
	}, nil
}

// Usage возвращает состояние окна клиента без засчитывания попытки.
func (l *AttemptLimiter) Usage(ctx context.Context, scope, client string) (AttemptDecision, error) {
	if !l.enabled {
		return AttemptDecision{Allowed: true, Remaining: l.limit}, nil
	}

	key := l.key(scope, client)
	count, err := l.store.GetInt(ctx, key)
	if err != nil {
		// ключа нет — окно ещё не открыто
		return AttemptDecision{Allowed: true, Remaining: l.limit}, nil
	}

	decision := AttemptDecision{
		Allowed:   count < l.limit,
		Used:      count,
		Remaining: remainingAttempts(l.limit, count),
	}
	if ttl, err := l.store.TTL(ctx, key); err == nil && ttl > 0 {
		decision.ResetAt = l.now().Add(ttl)
	}
	return decision, nil
}

// Limit возвращает лимит попыток в окне.
func (l *AttemptLimiter) Limit() int64 {
	return l.limit
}

// Window возвращает длину окна.
func (l *AttemptLimiter) Window() time.Duration {
	return l.window
}

// Enabled сообщает, включён ли лимитер.
func (l *AttemptLimiter) Enabled() bool {
	return l.enabled
}

func (l *AttemptLimiter) key(scope, client string) string {
	safe := strings.ReplaceAll(client, ":", "_")
	return fmt.Sprintf("%s:%s:%s", l.prefix, scope, safe)
}

func remainingAttempts(limit, used int64) int64 {
	if used >= limit {
		return 0
	}
	return limit - used
}

// ExtractClientIP получает IP из заголовков/RemoteAddr.
func ExtractClientIP(r *http.Request) string {
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first := strings.TrimSpace(strings.Split(fwd, ",")[0]); first != "" {
			return first
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
