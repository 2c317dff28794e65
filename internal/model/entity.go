package model

import "time"

// EntityType identifies which durable table an entity or queue item
// refers to.
type EntityType string

const (
	// EntityTask is the reminder table.
	EntityTask EntityType = "task"
	// EntityUser is the cached user reference table.
	EntityUser EntityType = "user"
	// EntityGroup is the cached group reference table.
	EntityGroup EntityType = "group"
)

// Valid reports whether e is one of the known entity types.
func (e EntityType) Valid() bool {
	switch e {
	case EntityTask, EntityUser, EntityGroup:
		return true
	}
	return false
}

// EntityTypes lists all entity types in pull order. Tasks are pulled last
// so that user/group references they point at are already cached.
func EntityTypes() []EntityType {
	return []EntityType{EntityUser, EntityGroup, EntityTask}
}

// User is a lightweight read-mostly reference entity cached for display
// and assignment lookups.
type User struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the user's invariants.
func (u *User) Validate() error {
	if u.Name == "" {
		return &ValidationError{Field: "name", Reason: "name is required"}
	}
	return nil
}

// Group is a cached membership entity. Member order is irrelevant.
type Group struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	MemberIDs []int64   `json:"member_ids,omitempty"`
	CreatedBy int64     `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the group's invariants.
func (g *Group) Validate() error {
	if g.Name == "" {
		return &ValidationError{Field: "name", Reason: "name is required"}
	}
	return nil
}
