package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/avlloyd/remindd/internal/model"
)

// Users and groups are read-mostly reference entities: they are merged in
// from pull cycles and read for display, but the engine rarely mutates
// them locally. Both use the same last-write-wins rule as tasks.

// EstimateUserSize returns the approximate byte cost of caching a user.
func EstimateUserSize(u *model.User) int64 {
	return int64(rowOverheadBytes + len(u.Name))
}

// EstimateGroupSize returns the approximate byte cost of caching a group.
func EstimateGroupSize(g *model.Group) int64 {
	return int64(rowOverheadBytes + len(g.Name) + 8*len(g.MemberIDs))
}

// UpsertUsers inserts or updates users, last-write-wins by UpdatedAt.
func (s *Store) UpsertUsers(ctx context.Context, users []*model.User) error {
	if len(users) == 0 {
		return nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return &model.StorageError{Op: "upsert users", Err: err}
	}
	defer tx.Rollback()

	query := `
	INSERT INTO users (id, name, created_at, updated_at, size_estimate)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		updated_at = excluded.updated_at,
		size_estimate = excluded.size_estimate
	WHERE excluded.updated_at >= users.updated_at
	`

	for _, user := range users {
		if err := user.Validate(); err != nil {
			return fmt.Errorf("invalid user %d: %w", user.ID, err)
		}
		_, err := tx.ExecContext(ctx, query,
			user.ID,
			user.Name,
			timeToMillis(user.CreatedAt),
			timeToMillis(user.UpdatedAt),
			EstimateUserSize(user),
		)
		if err != nil {
			return &model.StorageError{Op: "upsert users", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &model.StorageError{Op: "upsert users", Err: err}
	}
	return nil
}

// GetUser retrieves a cached user. Returns (nil, nil) if not cached.
func (s *Store) GetUser(ctx context.Context, id int64) (*model.User, error) {
	var user model.User
	var created, updated int64
	err := s.conn.QueryRowContext(ctx,
		`SELECT id, name, created_at, updated_at FROM users WHERE id = ?`, id).
		Scan(&user.ID, &user.Name, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &model.StorageError{Op: "get user", Err: err}
	}
	user.CreatedAt = millisToTime(created)
	user.UpdatedAt = millisToTime(updated)
	return &user, nil
}

// ListUsers retrieves all cached users ordered by name.
func (s *Store) ListUsers(ctx context.Context) ([]*model.User, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, name, created_at, updated_at FROM users ORDER BY name ASC, id ASC`)
	if err != nil {
		return nil, &model.StorageError{Op: "list users", Err: err}
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		var user model.User
		var created, updated int64
		if err := rows.Scan(&user.ID, &user.Name, &created, &updated); err != nil {
			return nil, &model.StorageError{Op: "list users", Err: err}
		}
		user.CreatedAt = millisToTime(created)
		user.UpdatedAt = millisToTime(updated)
		users = append(users, &user)
	}
	if err := rows.Err(); err != nil {
		return nil, &model.StorageError{Op: "list users", Err: err}
	}
	return users, nil
}

// UpsertGroups inserts or updates groups, last-write-wins by UpdatedAt.
func (s *Store) UpsertGroups(ctx context.Context, groups []*model.Group) error {
	if len(groups) == 0 {
		return nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return &model.StorageError{Op: "upsert groups", Err: err}
	}
	defer tx.Rollback()

	query := `
	INSERT INTO groups (id, name, member_ids, created_by, created_at, updated_at, size_estimate)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		member_ids = excluded.member_ids,
		created_by = excluded.created_by,
		updated_at = excluded.updated_at,
		size_estimate = excluded.size_estimate
	WHERE excluded.updated_at >= groups.updated_at
	`

	for _, group := range groups {
		if err := group.Validate(); err != nil {
			return fmt.Errorf("invalid group %d: %w", group.ID, err)
		}
		membersJSON, err := json.Marshal(group.MemberIDs)
		if err != nil {
			return &model.StorageError{Op: "upsert groups", Err: err}
		}
		_, err = tx.ExecContext(ctx, query,
			group.ID,
			group.Name,
			string(membersJSON),
			group.CreatedBy,
			timeToMillis(group.CreatedAt),
			timeToMillis(group.UpdatedAt),
			EstimateGroupSize(group),
		)
		if err != nil {
			return &model.StorageError{Op: "upsert groups", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &model.StorageError{Op: "upsert groups", Err: err}
	}
	return nil
}

// GetGroup retrieves a cached group. Returns (nil, nil) if not cached.
func (s *Store) GetGroup(ctx context.Context, id int64) (*model.Group, error) {
	var group model.Group
	var membersJSON string
	var created, updated int64
	err := s.conn.QueryRowContext(ctx,
		`SELECT id, name, member_ids, created_by, created_at, updated_at FROM groups WHERE id = ?`, id).
		Scan(&group.ID, &group.Name, &membersJSON, &group.CreatedBy, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &model.StorageError{Op: "get group", Err: err}
	}
	if membersJSON != "" && membersJSON != "null" {
		if err := json.Unmarshal([]byte(membersJSON), &group.MemberIDs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal group members: %w", err)
		}
	}
	group.CreatedAt = millisToTime(created)
	group.UpdatedAt = millisToTime(updated)
	return &group, nil
}

// ListGroups retrieves all cached groups ordered by name.
func (s *Store) ListGroups(ctx context.Context) ([]*model.Group, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, name, member_ids, created_by, created_at, updated_at FROM groups ORDER BY name ASC, id ASC`)
	if err != nil {
		return nil, &model.StorageError{Op: "list groups", Err: err}
	}
	defer rows.Close()

	var groups []*model.Group
	for rows.Next() {
		var group model.Group
		var membersJSON string
		var created, updated int64
		if err := rows.Scan(&group.ID, &group.Name, &membersJSON, &group.CreatedBy, &created, &updated); err != nil {
			return nil, &model.StorageError{Op: "list groups", Err: err}
		}
		if membersJSON != "" && membersJSON != "null" {
			if err := json.Unmarshal([]byte(membersJSON), &group.MemberIDs); err != nil {
				return nil, fmt.Errorf("failed to unmarshal group members: %w", err)
			}
		}
		group.CreatedAt = millisToTime(created)
		group.UpdatedAt = millisToTime(updated)
		groups = append(groups, &group)
	}
	if err := rows.Err(); err != nil {
		return nil, &model.StorageError{Op: "list groups", Err: err}
	}
	return groups, nil
}
