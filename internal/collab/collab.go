// Package collab answers capability questions for topic collaborators.
// Collaborators hold view or edit capability; ownership never transfers.
package collab

import (
	"fmt"

	"studytrail/internal/domain"
)

// ForbiddenError indicates the actor lacks the required capability.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// CanView reports whether the actor may read the topic.
func CanView(t domain.Topic, actorID string) bool {
	if t.OwnerID == actorID {
		return true
	}
	for _, c := range t.Collaborators {
		if c.UserID == actorID {
			return true
		}
	}
	return false
}

// CanEdit reports whether the actor may mutate the topic or its descendants.
func CanEdit(t domain.Topic, actorID string) bool {
	if t.OwnerID == actorID {
		return true
	}
	for _, c := range t.Collaborators {
		if c.UserID == actorID && c.Permission == "edit" {
			return true
		}
	}
	return false
}

// RequireEdit returns a ForbiddenError unless the actor may edit.
func RequireEdit(t domain.Topic, actorID string) error {
	if !CanEdit(t, actorID) {
		return ForbiddenError{Permission: "edit"}
	}
	return nil
}
