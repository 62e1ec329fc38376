package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/lektoria/auth-service/internal/health"
	"github.com/lektoria/auth-service/internal/http/handler"
	"github.com/lektoria/auth-service/internal/http/middleware"
	"github.com/lektoria/auth-service/internal/http/response"
	"github.com/lektoria/auth-service/internal/repository"
	"github.com/lektoria/auth-service/internal/security"
)

type Dependencies struct {
	AuthHandler       *handler.AuthHandler
	SessionHandler    *handler.SessionHandler
	AccountHandler    *handler.AccountHandler
	CookieCodec       *security.SessionCookieCodec
	Sessions          repository.SessionRepository
	Users             repository.UserRepository
	APIRateLimitRPM   int
	AuthRateLimitRPM  int
	GlobalRateLimiter RateLimiterFunc
	AuthRateLimiter   RateLimiterFunc
	Readiness         *health.ProbeRunner
	EnableOTelHTTP    bool
}

type RateLimiterFunc func(http.Handler) http.Handler

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.StructuredRequestLogger)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.BodyLimit(1 << 20))
	if dep.GlobalRateLimiter != nil {
		r.Use(dep.GlobalRateLimiter)
	} else {
		r.Use(middleware.NewRateLimiter(dep.APIRateLimitRPM, time.Minute).Middleware())
	}
	r.Use(middleware.SessionLoader(dep.CookieCodec, dep.Sessions, dep.Users))

	authLimiter := dep.AuthRateLimiter
	if authLimiter == nil {
		authLimiter = middleware.NewRateLimiter(dep.AuthRateLimitRPM, time.Minute).Middleware()
	}

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if dep.Readiness == nil {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": []any{}})
			return
		}
		ready, results := dep.Readiness.Ready(r.Context())
		if ready {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": results})
			return
		}
		response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "dependencies are not ready", map[string]any{"checks": results})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(authLimiter).Post("/signin", dep.AuthHandler.SignIn)
			r.With(authLimiter).Post("/authorize", dep.AuthHandler.Authorize)
			r.With(authLimiter).Post("/deny", dep.AuthHandler.Deny)
			r.With(authLimiter).Get("/session", dep.AuthHandler.UnauthorizedSession)
			r.Post("/signout", dep.AuthHandler.SignOut)
		})

		r.Route("/me", func(r chi.Router) {
			r.Use(middleware.RequireAuth)
			r.Get("/sessions", dep.SessionHandler.ListSessions)
			r.Delete("/sessions/{sessionID}", dep.SessionHandler.ClearSession)
			r.Delete("/sessions", dep.SessionHandler.ClearSessions)
			r.Route("/2fa", func(r chi.Router) {
				r.With(authLimiter).Post("/secret", dep.AccountHandler.InitSharedSecret)
				r.With(authLimiter).Post("/validate", dep.AccountHandler.ValidateSharedSecret)
				r.Post("/", dep.AccountHandler.UpdateTwoFactor)
			})
			r.Patch("/email", dep.AccountHandler.UpdateEmail)
		})
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
