package sync

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/avlloyd/remindd/internal/model"
)

// Content hashes detect whether server-confirmed state actually changed
// between pulls. Entities are string-encoded deterministically (sorted by
// id, fixed field order, millisecond timestamps) so that equal state always
// produces an equal digest; when the digest matches the persisted one, the
// merge is skipped entirely.

// HashTasks digests a fetched task set.
func HashTasks(tasks []*model.Task) string {
	lines := make([]string, 0, len(tasks))
	for _, t := range tasks {
		sortedUsers := append([]int64(nil), t.AssignedUserIDs...)
		sort.Slice(sortedUsers, func(i, j int) bool { return sortedUsers[i] < sortedUsers[j] })
		lines = append(lines, fmt.Sprintf("%d|%s|%s|%s|%s|%d|%d|%d|%d|%t|%t|%v|%d",
			t.ID, t.Title, t.Description, t.Type, t.RecurrenceType,
			t.RecurrenceInterval, t.IntervalDays, t.ReminderTime.UnixMilli(),
			t.GroupID, t.Enabled, t.Completed, sortedUsers, t.UpdatedAt.UnixMilli()))
	}
	return digest(lines)
}

// HashUsers digests a fetched user set.
func HashUsers(users []*model.User) string {
	lines := make([]string, 0, len(users))
	for _, u := range users {
		lines = append(lines, fmt.Sprintf("%d|%s|%d", u.ID, u.Name, u.UpdatedAt.UnixMilli()))
	}
	return digest(lines)
}

// HashGroups digests a fetched group set.
func HashGroups(groups []*model.Group) string {
	lines := make([]string, 0, len(groups))
	for _, g := range groups {
		sortedMembers := append([]int64(nil), g.MemberIDs...)
		sort.Slice(sortedMembers, func(i, j int) bool { return sortedMembers[i] < sortedMembers[j] })
		lines = append(lines, fmt.Sprintf("%d|%s|%v|%d|%d",
			g.ID, g.Name, sortedMembers, g.CreatedBy, g.UpdatedAt.UnixMilli()))
	}
	return digest(lines)
}

func digest(lines []string) string {
	sort.Strings(lines)
	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])
}
