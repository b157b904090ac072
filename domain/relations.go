package domain

import (
	"time"

	"github.com/google/uuid"
)

// BoxEntry indexes an activity into an actor's inbox or outbox.
type BoxEntry struct {
	Owner     string
	Activity  string
	CreatedAt time.Time
}

// Delivery records the outcome of one POST to one inbox. Failed deliveries
// are kept for inspection and never retried.
type Delivery struct {
	Id          uuid.UUID
	InboxURI    string
	ActivityURI string
	Success     bool
	AttemptedAt time.Time
}
