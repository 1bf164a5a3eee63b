/*
Package handler provides the HTTP handler function for WebSocket connection upgrading and initialization.

This file contains the HandleWebSocket function, which is responsible for rate limiting, checking
the caller's token, upgrading the HTTP connection to WebSocket, and initiating the client lifecycle.
*/
package handler

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"

	"lfchat/internal/app/chat"
	"lfchat/internal/pkg/auth/jwt"
	"lfchat/internal/pkg/errs"
	"lfchat/internal/pkg/limiter"
	"lfchat/internal/pkg/logx"
	"lfchat/internal/pkg/resp"
)

// HandleWebSocket creates an HTTP HandlerFunc to process WebSocket connection requests.
// The token arrives as the token query parameter and was verified by IdentityExtractorMiddleware.
func HandleWebSocket(deps *AppDeps, upgrader websocket.Upgrader, rateLimiter *limiter.IPRateLimiter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !rateLimiter.Allow(r) {
			logx.Warn("WebSocket connection rejected: Rate limit exceeded.", "ip", limiter.ClientIP(r))
			resp.RespondError(w, r, errs.NewError(errs.ErrRateLimitExceeded))
			return
		}

		claims := claimsFromPayload(jwt.GetPayloadFromContext(r))
		if claims == nil {
			logx.Warn("WebSocket request rejected: Missing or invalid token")
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthenticated))
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade connection to WebSocket")
			return
		}

		client := chat.NewClient(conn, deps.Coordinator)

		go client.WritePump()

		// the request context ends with the handler; teardown must outlive it
		ctx := context.WithoutCancel(r.Context())

		if err := client.Attach(ctx, claims); err != nil {
			logx.Info("WebSocket connection rejected", "user_id", claims.ID, "error", err)
			client.Reject(err)
			return
		}

		logx.Info("WebSocket connection established and client registered", "client_id", client.ID(), "user_id", claims.ID)

		client.ReadPump(ctx)
	}
}
