package handler

import (
	"lfchat/internal/app/chat"
	"lfchat/internal/app/storage"
	"lfchat/internal/app/store"
	"lfchat/internal/configs"
)

// AppDeps bundles what the HTTP handlers need. StorageService is nil when S3
// is not configured.
type AppDeps struct {
	Coordinator    *chat.Coordinator
	Config         *configs.AppConfig
	StorageService storage.StorageService
	Store          store.Store
}
