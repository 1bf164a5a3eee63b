/*
Package handler provides HTTP handler functions for looking up chat users.
*/
package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"lfchat/internal/app/store"
	"lfchat/internal/pkg/auth/jwt"
	"lfchat/internal/pkg/errs"
	"lfchat/internal/pkg/logx"
	"lfchat/internal/pkg/resp"
)

// HandleOnlineUsers returns the same list online_users_updated carries.
func HandleOnlineUsers(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jwt.GetPayloadFromContext(r) == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthenticated))
			return
		}

		users, err := deps.Coordinator.Presence().Snapshot(r.Context())
		if err != nil {
			logx.Error(err, "online_users: snapshot failed")
			resp.RespondError(w, r, errs.NewError(errs.ErrPersistenceFailure))
			return
		}

		resp.RespondSuccess(w, r, map[string]any{
			"users": users,
		})
	}
}

// HandleUserProfile returns the public profile of one identity.
func HandleUserProfile(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jwt.GetPayloadFromContext(r) == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthenticated))
			return
		}

		userID := chi.URLParam(r, "userID")

		ident, err := deps.Store.GetIdentity(r.Context(), userID)
		if errors.Is(err, store.ErrNotFound) {
			resp.RespondError(w, r, errs.NewError(errs.ErrUserNotFound))
			return
		}
		if err != nil {
			logx.Error(err, "user_profile: query failed", "user_id", userID)
			resp.RespondError(w, r, errs.NewError(errs.ErrPersistenceFailure))
			return
		}

		resp.RespondSuccess(w, r, map[string]any{
			"user": userView(ident.ID, ident.Nickname, ident.Gender, deps.Coordinator.Registry().IsOnline(ident.ID)),
		})
	}
}
