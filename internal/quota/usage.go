package quota

import (
	"context"

	"github.com/google/uuid"

	"github.com/campuskit-io/campuskit-backend/internal/users"
	"github.com/campuskit-io/campuskit-backend/pkg/enums"
)

// UserSeatReader counts teacher seats from the local user store. Counts for
// academic resources (students, classes, schools) live in the school-data
// service; supply its client as the fallback reader, or leave it nil to
// treat those counts as zero.
type UserSeatReader struct {
	users    users.Repository
	fallback UsageReader
}

// NewUserSeatReader builds the default usage reader.
func NewUserSeatReader(repo users.Repository, fallback UsageReader) *UserSeatReader {
	return &UserSeatReader{users: repo, fallback: fallback}
}

// ActiveCount implements UsageReader.
func (r *UserSeatReader) ActiveCount(ctx context.Context, accountID uuid.UUID, kind enums.QuotaKind) (int64, error) {
	if kind == enums.QuotaKindTeacher {
		return r.users.CountActiveByRole(ctx, accountID, enums.UserRoleTeacher)
	}
	if r.fallback != nil {
		return r.fallback.ActiveCount(ctx, accountID, kind)
	}
	return 0, nil
}
