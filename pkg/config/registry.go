package config

// Persistent UI state keys, stored through store.StateStore.
const (
	KeyLastRequest = "last_request"
	KeyVolume      = "volume"
)
