package auth

// Scopes accepted by the health API.
const (
	ScopeHealthRead = "health:read"
	ScopeHealthSync = "health:sync"
)
