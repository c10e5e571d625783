package api

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"meal-plan-service/internal/app"
	"meal-plan-service/internal/auth"
	"meal-plan-service/internal/logging"
	"meal-plan-service/internal/mealplan"
	"meal-plan-service/internal/metrics"
)

// RequestIDWithLogging adds request and correlation ids to the request
// context and echoes the request id in the X-Request-ID header.
func RequestIDWithLogging() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = logging.GenerateRequestID()
			}
			w.Header().Set("X-Request-ID", requestID)

			ctx := logging.ContextWithRequestID(r.Context(), requestID)
			ctx = logging.ContextWithNewCorrelationID(ctx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Instrument records Prometheus metrics and an access log line per request.
// Routes are labelled by chi pattern to keep label cardinality bounded.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		duration := time.Since(start)

		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(duration.Seconds())

		logging.Ctx(r.Context()).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", duration).
			Msg("HTTP request")
	})
}

// Authenticate requires a valid bearer token. A nil verifier disables the check.
func Authenticate(v *auth.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if v == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := auth.BearerToken(r)
			if err != nil {
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeDetail(w, http.StatusUnauthorized, "Authorization header required")
				return
			}
			claims, err := v.Verify(token)
			if err != nil {
				logging.Ctx(r.Context()).Warn().Err(err).Msg("Rejected bearer token")
				w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
				writeDetail(w, http.StatusUnauthorized, "Invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.ContextWithClaims(r.Context(), claims)))
		})
	}
}

// RateLimitByIP allows requests per minute for each client IP. Zero or
// negative disables limiting. The client IP is the TCP peer unless
// trustedHops proxies sit in front of the service, in which case it is the
// address the outermost trusted proxy appended to X-Forwarded-For.
func RateLimitByIP(requests, trustedHops int) func(http.Handler) http.Handler {
	if requests <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(
		requests,
		time.Minute,
		httprate.WithKeyFuncs(clientIPKey(trustedHops)),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeDetail(w, http.StatusTooManyRequests, "Too many requests")
		}),
	)
}

// clientIPKey never trusts client-supplied entries: each proxy appends the
// peer it saw, so only the last trustedHops entries are reliable.
func clientIPKey(trustedHops int) httprate.KeyFunc {
	if trustedHops <= 0 {
		return httprate.KeyByIP
	}
	return func(r *http.Request) (string, error) {
		var chain []string
		for _, header := range r.Header.Values("X-Forwarded-For") {
			for _, part := range strings.Split(header, ",") {
				if p := strings.TrimSpace(part); p != "" {
					chain = append(chain, p)
				}
			}
		}
		if i := len(chain) - trustedHops; i >= 0 {
			if ip := net.ParseIP(chain[i]); ip != nil {
				return ip.String(), nil
			}
		}
		return httprate.KeyByIP(r)
	}
}

// validPlanID rejects malformed {id} path parameters before any lookup.
func validPlanID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !mealplan.ValidID(app.NormalizeID(chi.URLParam(r, "id"))) {
			writeDetail(w, http.StatusBadRequest, "Invalid meal plan id")
			return
		}
		next.ServeHTTP(w, r)
	})
}
