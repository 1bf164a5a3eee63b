/*
Package chat contains the real-time presence and session engine.

This file holds the upload constraints for image messages and the per-identity
object key layout used by the presign endpoints and the MessageRouter.
*/
package chat

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"lfchat/internal/pkg/errs"
)

const (
	// MaxImageSizeMB is the maximum allowed image size in megabytes.
	MaxImageSizeMB = 5

	// MaxImageSize is the maximum allowed image size in bytes.
	MaxImageSize = MaxImageSizeMB * 1024 * 1024

	// PresignedURLDuration is how long an upload or download URL stays valid.
	PresignedURLDuration = 5 * time.Minute

	imageKeyRoot = "images"
)

// AllowedMIMETypes defines the set of permitted MIME types for image messages.
var AllowedMIMETypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
	"image/webp": {},
	"image/gif":  {},
}

// ExtToMIME maps file extensions to their corresponding MIME types.
var ExtToMIME = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".gif":  "image/gif",
}

// ValidateFileSize checks if the provided file size is within acceptable limits.
func ValidateFileSize(fileSize int64) *errs.CustomError {
	if fileSize <= 0 {
		return errs.NewError(errs.ErrInvalidParams)
	}

	if fileSize > MaxImageSize {
		return errs.NewError(errs.ErrFileSizeTooLarge)
	}

	return nil
}

// ValidateFileType checks that the extension of fileName agrees with an allowed mimeType.
func ValidateFileType(fileName string, mimeType string) *errs.CustomError {
	lowerMimeType := strings.ToLower(mimeType)

	if _, ok := AllowedMIMETypes[lowerMimeType]; !ok {
		return errs.NewError(errs.ErrFileTypeInvalid)
	}

	ext := strings.ToLower(filepath.Ext(fileName))
	expectedMIME, ok := ExtToMIME[ext]
	if !ok || expectedMIME != lowerMimeType {
		return errs.NewError(errs.ErrFileTypeInvalid)
	}

	return nil
}

// ImageKeyPrefix is the storage prefix every upload of userID lives under.
func ImageKeyPrefix(userID string) string {
	return imageKeyRoot + "/" + userID + "/"
}

// NewImageKey returns a fresh storage key for an upload of fileName by userID.
func NewImageKey(userID, fileName string) string {
	return ImageKeyPrefix(userID) + uuid.NewString() + strings.ToLower(filepath.Ext(fileName))
}

// OwnsImageKey reports whether key is a well-formed upload key of userID.
func OwnsImageKey(userID, key string) bool {
	prefix := ImageKeyPrefix(userID)
	if userID == "" || !strings.HasPrefix(key, prefix) {
		return false
	}

	name := strings.TrimPrefix(key, prefix)
	if name == "" || strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		return false
	}
	_, ok := ExtToMIME[strings.ToLower(filepath.Ext(name))]
	return ok
}

// IsImageKey reports whether key is an upload key of any user.
func IsImageKey(key string) bool {
	rest, ok := strings.CutPrefix(key, imageKeyRoot+"/")
	if !ok {
		return false
	}
	userID, _, found := strings.Cut(rest, "/")
	return found && OwnsImageKey(userID, key)
}
