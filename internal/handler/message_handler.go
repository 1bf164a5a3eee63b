/*
Package handler provides HTTP handler functions for reading stored chat history
and the caller's read state.
*/
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"lfchat/internal/app/store"
	"lfchat/internal/pkg/auth/jwt"
	"lfchat/internal/pkg/errs"
	"lfchat/internal/pkg/logx"
	"lfchat/internal/pkg/req"
	"lfchat/internal/pkg/resp"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 100

	// MaxHistoryOffset is above every configured retention limit.
	MaxHistoryOffset = 100000
)

// bindPage reads limit and offset from the query string.
func bindPage(r *http.Request) (store.Page, *errs.CustomError) {
	limit, customErr := req.QueryInt(r, "limit", DefaultHistoryLimit, 1, MaxHistoryLimit)
	if customErr != nil {
		return store.Page{}, customErr
	}

	offset, customErr := req.QueryInt(r, "offset", 0, 0, MaxHistoryOffset)
	if customErr != nil {
		return store.Page{}, customErr
	}

	return store.Page{Limit: limit, Offset: offset}, nil
}

// HandleRoomHistory returns a page of a room's messages, oldest first.
func HandleRoomHistory(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jwt.GetPayloadFromContext(r) == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthenticated))
			return
		}

		roomID := chi.URLParam(r, "roomID")
		if !deps.Coordinator.Rooms().Exists(roomID) {
			resp.RespondError(w, r, errs.NewError(errs.ErrRoomNotFound))
			return
		}

		page, customErr := bindPage(r)
		if customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		messages, err := deps.Store.RoomMessages(r.Context(), roomID, page)
		if err != nil {
			logx.Error(err, "room_history: query failed", "room_id", roomID)
			resp.RespondError(w, r, errs.NewError(errs.ErrPersistenceFailure))
			return
		}

		resp.RespondSuccess(w, r, map[string]any{
			"messages": messages,
		})
	}
}

// HandlePrivateHistory returns a page of the caller's conversation with otherID.
func HandlePrivateHistory(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload := jwt.GetPayloadFromContext(r)
		if payload == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthenticated))
			return
		}

		otherID := chi.URLParam(r, "otherID")
		if otherID == "" || otherID == payload.ID {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		page, customErr := bindPage(r)
		if customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		messages, err := deps.Store.PrivateMessages(r.Context(), store.NewPair(payload.ID, otherID), page)
		if err != nil {
			logx.Error(err, "private_history: query failed", "user_id", payload.ID, "other_id", otherID)
			resp.RespondError(w, r, errs.NewError(errs.ErrPersistenceFailure))
			return
		}

		resp.RespondSuccess(w, r, map[string]any{
			"messages": messages,
		})
	}
}

// HandleUnreadCounts returns the caller's unread counts per room and per private peer.
func HandleUnreadCounts(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload := jwt.GetPayloadFromContext(r)
		if payload == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthenticated))
			return
		}

		counts, err := deps.Store.UnreadCounts(r.Context(), payload.ID)
		if err != nil {
			logx.Error(err, "unread_counts: query failed", "user_id", payload.ID)
			resp.RespondError(w, r, errs.NewError(errs.ErrPersistenceFailure))
			return
		}

		resp.RespondSuccess(w, r, map[string]any{
			"unreadCounts": counts,
		})
	}
}

// HandleMarkRead marks a room or a private conversation read for the caller.
// The body names exactly one of roomId and otherUserId.
func HandleMarkRead(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload := jwt.GetPayloadFromContext(r)
		if payload == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthenticated))
			return
		}

		var target store.ReadTarget
		if customErr := req.BindJSON(r, &target); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		switch {
		case (target.RoomID == "") == (target.OtherUserID == ""):
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		case target.RoomID != "" && !deps.Coordinator.Rooms().Exists(target.RoomID):
			resp.RespondError(w, r, errs.NewError(errs.ErrRoomNotFound))
			return
		case target.OtherUserID == payload.ID:
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		marked, err := deps.Store.MarkRead(r.Context(), payload.ID, target)
		if err != nil {
			logx.Error(err, "mark_read: update failed", "user_id", payload.ID)
			resp.RespondError(w, r, errs.NewError(errs.ErrPersistenceFailure))
			return
		}

		resp.RespondSuccess(w, r, map[string]any{
			"marked": marked,
		})
	}
}
