package handler

import (
	"roomchat/internal/app/chat"
	"roomchat/internal/app/storage"
	"roomchat/internal/app/store"
	"roomchat/internal/configs"
)

// AppDeps bundles the explicitly constructed collaborators handlers need.
// Everything is built once in main and injected; there are no package-level
// singletons.
type AppDeps struct {
	Config   *configs.AppConfig
	Gateway  store.Gateway
	Registry *chat.Registry
	Presence *chat.PresenceTracker
	Seen     *chat.SeenTracker
	Storage  storage.Service
}
