package api

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-chi/httprate"
	httprateredis "github.com/go-chi/httprate-redis"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/snarg/transcribe-api/internal/auth"
	"github.com/snarg/transcribe-api/internal/metrics"
)

type ctxKey int

// randRead is swapped in tests.
var randRead = rand.Read

const (
	requestIDKey ctxKey = iota
	identityKey
)

func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = newRequestID()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// newRequestID returns 16 hex characters. If the system random source fails,
// it falls back to the clock.
func newRequestID() string {
	b := make([]byte, 8)
	if _, err := randRead(b); err != nil {
		binary.BigEndian.PutUint64(b, uint64(time.Now().UnixNano()))
	}
	return hex.EncodeToString(b)
}

// RequestIDFrom returns the request id set by RequestID, or "".
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func Logger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		h := hlog.NewHandler(log)
		withID := func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if id := RequestIDFrom(r.Context()); id != "" {
					l := zerolog.Ctx(r.Context())
					l.UpdateContext(func(c zerolog.Context) zerolog.Context {
						return c.Str("request_id", id)
					})
				}
				next.ServeHTTP(w, r)
			})
		}
		accessLog := hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
			hlog.FromRequest(r).Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("size", size).
				Dur("duration_ms", dur).
				Msg("request")
		})
		return h(withID(accessLog(next)))
	}
}

// Recoverer turns a panic into a 500 JSON response and reports it to Sentry
// when a client is configured.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rv := recover(); rv != nil {
				if rv == http.ErrAbortHandler {
					panic(rv)
				}
				log := hlog.FromRequest(r)
				log.Error().Interface("panic", rv).Msg("recovered from panic")

				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetRequest(r)
				hub.RecoverWithContext(r.Context(), rv)

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				fmt.Fprintf(w, `{"error":"internal server error"}`)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// CORSWithOrigins allows every origin when origins is empty; otherwise only
// the listed origins get CORS headers and foreign preflights are refused.
func CORSWithOrigins(origins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o = strings.TrimSpace(o); o != "" {
			allowed[o] = true
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(allowed) == 0 {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else {
				origin := r.Header.Get("Origin")
				if !allowed[origin] {
					if r.Method == http.MethodOptions {
						w.WriteHeader(http.StatusForbidden)
						return
					}
					next.ServeHTTP(w, r)
					return
				}
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID, X-RateLimit-Limit, X-RateLimit-Remaining, X-RateLimit-Reset")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// TokenLookup resolves a bearer token to the caller's identity.
type TokenLookup interface {
	Lookup(token string) (auth.Identity, bool)
}

// BearerAuth rejects requests without a known bearer token and stores the
// caller's identity in the request context.
func BearerAuth(tokens TokenLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				rejectAuth(w, r, "missing", "No authorization header")
				return
			}

			scheme, token, _ := strings.Cut(strings.TrimSpace(header), " ")
			if !strings.EqualFold(scheme, "bearer") {
				rejectAuth(w, r, "type", "Invalid authorization type")
				return
			}
			token = strings.TrimSpace(token)
			if token == "" || strings.ContainsAny(token, " \t") {
				rejectAuth(w, r, "format", "Invalid authorization format")
				return
			}

			id, ok := tokens.Lookup(token)
			if !ok {
				rejectAuth(w, r, "token", "Invalid token")
				return
			}

			hlog.FromRequest(r).UpdateContext(func(c zerolog.Context) zerolog.Context {
				return c.Str("identity", id.Name)
			})
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, id)))
		})
	}
}

func rejectAuth(w http.ResponseWriter, r *http.Request, reason, msg string) {
	metrics.AuthFailuresTotal.WithLabelValues(reason).Inc()
	hlog.FromRequest(r).Debug().Str("reason", reason).Msg("auth rejected")
	WriteError(w, http.StatusUnauthorized, msg)
}

// IdentityFrom returns the identity BearerAuth attached to ctx.
func IdentityFrom(ctx context.Context) (auth.Identity, bool) {
	id, ok := ctx.Value(identityKey).(auth.Identity)
	return id, ok
}

const rateLimitMessage = "Too many requests from this IP, please try again later"

// RateLimitOptions configures RateLimit.
type RateLimitOptions struct {
	Requests int
	Window   time.Duration
	// RedisURL, when set, moves the counters to Redis so replicas share one
	// budget per client IP.
	RedisURL string
}

// RateLimit caps requests per client IP over a sliding window.
func RateLimit(opts RateLimitOptions, log zerolog.Logger) (func(http.Handler) http.Handler, error) {
	options := []httprate.Option{
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			metrics.RateLimitedTotal.Inc()
			log.Warn().
				Str("ip", clientIP(r)).
				Str("path", r.URL.Path).
				Str("method", r.Method).
				Msg("rate limit exceeded")
			WriteError(w, http.StatusTooManyRequests, rateLimitMessage)
		}),
	}

	if opts.RedisURL != "" {
		cfg, err := redisCounterConfig(opts.RedisURL)
		if err != nil {
			return nil, err
		}
		options = append(options, httprateredis.WithRedisLimitCounter(cfg))
		log.Info().Str("redis", cfg.Host+":"+strconv.Itoa(int(cfg.Port))).Msg("rate limiter using redis counters")
	}

	return httprate.Limit(opts.Requests, opts.Window, options...), nil
}

// redisCounterConfig maps a redis:// URL onto the counter's settings.
func redisCounterConfig(rawURL string) (*httprateredis.Config, error) {
	ropts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	host, portStr, err := net.SplitHostPort(ropts.Addr)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL address: %w", err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL port: %w", err)
	}
	return &httprateredis.Config{
		Host:      host,
		Port:      uint16(port),
		Password:  ropts.Password,
		DBIndex:   ropts.DB,
		PrefixKey: "transcribe-api:ratelimit",
	}, nil
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
