package domain

import "time"

// ActorToken maps an API token to the audited actor identity. Authentication
// itself lives outside this service; the engine only consumes the resolved
// actor id and role.
type ActorToken struct {
	ID        int64
	TokenHash string
	ActorID   string
	ActorRole string
	ExpiresAt *time.Time
}
