/*
Package handler provides HTTP handler functions for guest authentication.
*/
package handler

import (
	"errors"
	"net/http"

	"lfchat/internal/app/chat"
	"lfchat/internal/app/identity"
	"lfchat/internal/app/store"
	"lfchat/internal/pkg/auth/jwt"
	"lfchat/internal/pkg/errs"
	"lfchat/internal/pkg/logx"
	"lfchat/internal/pkg/req"
	"lfchat/internal/pkg/resp"
)

type GuestLoginInput struct {
	Nickname string `json:"nickname"`
	Gender   string `json:"gender"`
}

// userView is the identity shape returned by the auth endpoints.
func userView(id, nickname string, gender identity.Gender, online bool) map[string]any {
	return map[string]any{
		"id":       id,
		"nickname": nickname,
		"gender":   gender,
		"isOnline": online,
	}
}

// HandleGuestLogin issues a token for a nickname nobody online holds. An
// offline identity with that nickname is taken over with its id.
func HandleGuestLogin(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input GuestLoginInput
		if customErr := req.BindJSON(r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		nickname := identity.NormalizeNickname(input.Nickname)
		if !identity.IsValidNickname(nickname) {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidNickname))
			return
		}

		gender, ok := identity.ParseGender(input.Gender)
		if !ok {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidGender))
			return
		}

		claims, err := deps.Coordinator.ResolveGuest(r.Context(), nickname, gender)
		if err != nil {
			if !errs.HasCode(err, errs.ErrNicknameTaken) {
				logx.Error(err, "guest_login: failed to resolve nickname", "nickname", nickname)
			}
			resp.RespondErr(w, r, err)
			return
		}

		token, err := jwt.GenerateToken(&jwt.Payload{
			ID:       claims.ID,
			Nickname: claims.Nickname,
			Gender:   string(claims.Gender),
		}, deps.Config.JWTSecret, jwt.GuestIdentityExpiration)
		if err != nil {
			logx.Error(err, "guest_login: jwt generation failed")
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
			return
		}

		logx.Info("Guest login", "user_id", claims.ID, "nickname", claims.Nickname)

		resp.RespondSuccess(w, r, map[string]any{
			"token": token,
			"user":  userView(claims.ID, claims.Nickname, claims.Gender, false),
		})
	}
}

// HandleLogout retires the caller's identity. A live connection is closed first.
func HandleLogout(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload := jwt.GetPayloadFromContext(r)
		if payload == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthenticated))
			return
		}

		if err := deps.Coordinator.Logout(r.Context(), payload.ID); err != nil {
			logx.Error(err, "logout: failed to retire identity", "user_id", payload.ID)
			resp.RespondErr(w, r, err)
			return
		}

		resp.RespondSuccess(w, r, nil)
	}
}

// HandleMe returns the caller's identity. A token whose identity was never
// stored (or was cleaned up) still describes the caller.
func HandleMe(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload := jwt.GetPayloadFromContext(r)
		if payload == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthenticated))
			return
		}

		online := deps.Coordinator.Registry().IsOnline(payload.ID)

		ident, err := deps.Store.GetIdentity(r.Context(), payload.ID)
		switch {
		case err == nil:
			resp.RespondSuccess(w, r, map[string]any{
				"user": userView(ident.ID, ident.Nickname, ident.Gender, online),
			})
		case errors.Is(err, store.ErrNotFound):
			resp.RespondSuccess(w, r, map[string]any{
				"user": userView(payload.ID, payload.Nickname, identity.Gender(payload.Gender), online),
			})
		default:
			logx.Error(err, "me: failed to load identity", "user_id", payload.ID)
			resp.RespondError(w, r, errs.NewError(errs.ErrPersistenceFailure))
		}
	}
}

// claimsFromPayload converts a verified token into connection claims.
func claimsFromPayload(p *jwt.Payload) *chat.Claims {
	if p == nil {
		return nil
	}

	gender, _ := identity.ParseGender(p.Gender)
	return &chat.Claims{ID: p.ID, Nickname: p.Nickname, Gender: gender}
}
