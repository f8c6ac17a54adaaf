package users

import (
	"time"

	"github.com/google/uuid"
)

// UserCreated is emitted once per new user, in the same transaction as the
// insert. The type name becomes the user_created event type on the wire.
type UserCreated struct {
	UserID    uuid.UUID `json:"user_id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	CreatedAt time.Time `json:"created_at"`
}
