/*
Package handler provides the HTTP handlers and routing setup for the LF Chat Server.

This file defines the main Router, applying necessary middleware like logging, CORS,
and IP-based rate limiting before delegating requests to specific handlers (API and WebSocket).
*/
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"lfchat/internal/pkg/auth/jwt"
	"lfchat/internal/pkg/limiter"
	"lfchat/internal/pkg/logx"
	"lfchat/internal/pkg/resp"
)

const (
	LoginRate  = 0.2
	LoginBurst = 5
	JoinRate   = 0.5
	JoinBurst  = 10
)

// Router sets up the main HTTP routing table (chi.Router) for the application.
// It initializes IP-based rate limiters, configures CORS, and applies global and per-route middleware.
func Router(deps *AppDeps) http.Handler {
	loginLimiter := limiter.NewIPRateLimiter(rate.Limit(LoginRate), LoginBurst)
	joinLimiter := limiter.NewIPRateLimiter(rate.Limit(JoinRate), JoinBurst)

	r := chi.NewRouter()

	allowedOrigins := make(map[string]struct{})
	for _, origin := range deps.Config.AllowedOrigins {
		allowedOrigins[origin] = struct{}{}
	}

	var wsUpgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if deps.Config.IsDevelopment() {
				return true
			}

			origin := r.Header.Get("Origin")
			if _, ok := allowedOrigins[origin]; ok {
				return true
			}

			logx.Warn("WebSocket connection rejected: Origin not allowed.", "origin", origin)
			return false
		},
	}

	corsAllowedOrigins := []string{}
	if deps.Config.IsDevelopment() {
		corsAllowedOrigins = []string{"*"}
	} else if len(deps.Config.AllowedOrigins) > 0 {
		corsAllowedOrigins = deps.Config.AllowedOrigins
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   corsAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{},
		AllowCredentials: true,
		MaxAge:           300,
	})
	r.Use(c.Handler)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logx.RequestLogger())
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		data := map[string]any{
			"status":  "ok",
			"service": "LF Chat Server",
			"online":  deps.Coordinator.Registry().Len(),
		}
		resp.RespondSuccess(w, r, data)
	})

	identity := jwt.IdentityExtractorMiddleware(deps.Config.JWTSecret)

	r.Route("/api", func(api chi.Router) {
		api.Use(identity)

		api.Route("/auth", func(auth chi.Router) {
			auth.With(loginLimiter.Middleware).Post("/guest-login", HandleGuestLogin(deps))
			auth.Post("/logout", HandleLogout(deps))
			auth.Get("/me", HandleMe(deps))
		})

		api.Route("/users", func(users chi.Router) {
			users.Get("/online", HandleOnlineUsers(deps))
			users.Get("/profile/{userID}", HandleUserProfile(deps))
		})

		api.Route("/messages", func(messages chi.Router) {
			messages.Get("/room/{roomID}", HandleRoomHistory(deps))
			messages.Get("/private/{otherID}", HandlePrivateHistory(deps))
			messages.Get("/unread-counts", HandleUnreadCounts(deps))
			messages.Post("/mark-read", HandleMarkRead(deps))

			messages.Post("/image/presign", HandlePresignUploadURL(deps))
			messages.Get("/image", HandlePresignDownloadURL(deps))
			messages.Delete("/image", HandleDeleteImage(deps))
		})
	})

	r.With(identity).Get("/ws", HandleWebSocket(deps, wsUpgrader, joinLimiter))

	return r
}
