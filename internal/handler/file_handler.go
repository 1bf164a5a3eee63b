package handler

import (
	"errors"
	"net/http"

	"lfchat/internal/app/chat"
	"lfchat/internal/app/storage"
	"lfchat/internal/pkg/auth/jwt"
	"lfchat/internal/pkg/errs"
	"lfchat/internal/pkg/logx"
	"lfchat/internal/pkg/req"
	"lfchat/internal/pkg/resp"
)

// PresignUploadInput defines the JSON input structure for generating upload URL.
type PresignUploadInput struct {
	FileName string `json:"fileName"`
	MimeType string `json:"mimeType"`
	FileSize int64  `json:"fileSize"`
}

// requireStorage answers ErrFileStorageFailed when no bucket is configured.
func requireStorage(w http.ResponseWriter, r *http.Request, deps *AppDeps) bool {
	if deps.StorageService == nil {
		resp.RespondError(w, r, errs.NewError(errs.ErrFileStorageFailed))
		return false
	}
	return true
}

// HandlePresignUploadURL creates an HTTP HandlerFunc to generate a time-limited,
// pre-signed URL for an image upload under the caller's own key prefix. The
// returned key is what the client sends as the content of an image message.
func HandlePresignUploadURL(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload := jwt.GetPayloadFromContext(r)
		if payload == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthenticated))
			return
		}
		if !requireStorage(w, r, deps) {
			return
		}

		var input PresignUploadInput
		if customErr := req.BindJSON(r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		if err := chat.ValidateFileSize(input.FileSize); err != nil {
			resp.RespondError(w, r, err)
			return
		}

		if err := chat.ValidateFileType(input.FileName, input.MimeType); err != nil {
			resp.RespondError(w, r, err)
			return
		}

		fileKey := chat.NewImageKey(payload.ID, input.FileName)

		url, err := deps.StorageService.PresignUpload(
			r.Context(),
			fileKey,
			input.MimeType,
			input.FileSize,
			chat.PresignedURLDuration,
		)
		if err != nil {
			logx.Error(err, "presign_upload: failed to sign URL", "user_id", payload.ID)
			resp.RespondError(w, r, errs.NewError(errs.ErrFileStorageFailed))
			return
		}

		resp.RespondSuccess(w, r, map[string]any{
			"presignedUrl": url,
			"fileKey":      fileKey,
			"fileName":     input.FileName,
		})
	}
}

// HandlePresignDownloadURL redirects to a time-limited, pre-signed URL for an
// uploaded image.
func HandlePresignDownloadURL(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jwt.GetPayloadFromContext(r) == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthenticated))
			return
		}
		if !requireStorage(w, r, deps) {
			return
		}

		fileKey := r.URL.Query().Get("key")
		if !chat.IsImageKey(fileKey) {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		url, err := deps.StorageService.PresignDownload(r.Context(), fileKey, chat.PresignedURLDuration)
		if err != nil {
			logx.Error(err, "presign_download: failed to sign URL", "key", fileKey)
			resp.RespondError(w, r, errs.NewError(errs.ErrFileStorageFailed))
			return
		}

		http.Redirect(w, r, url, http.StatusFound)
	}
}

// HandleDeleteImage removes one of the caller's own uploads.
func HandleDeleteImage(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload := jwt.GetPayloadFromContext(r)
		if payload == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthenticated))
			return
		}
		if !requireStorage(w, r, deps) {
			return
		}

		fileKey := r.URL.Query().Get("key")
		if !chat.IsImageKey(fileKey) {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}
		if !chat.OwnsImageKey(payload.ID, fileKey) {
			resp.RespondError(w, r, errs.NewError(errs.ErrForbidden))
			return
		}

		if err := deps.StorageService.Delete(r.Context(), fileKey); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
			logx.Error(err, "delete_image: failed to delete object", "key", fileKey)
			resp.RespondError(w, r, errs.NewError(errs.ErrFileStorageFailed))
			return
		}

		resp.RespondSuccess(w, r, nil)
	}
}
