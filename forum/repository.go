package forum

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// ErrGroupNotFound is returned when a course has no forum group yet.
var ErrGroupNotFound = errors.New("forum group not found")

// Repository stores forum groups and memberships. The Save methods write
// the whole slice in one transaction.
type Repository interface {
	SaveGroups(ctx context.Context, groups []CourseForumGroup) error
	SaveMemberships(ctx context.Context, memberships []Membership) error
	FindGroupByCourseID(ctx context.Context, courseID uuid.UUID) (CourseForumGroup, error)
	IsMember(ctx context.Context, userID, groupID uuid.UUID) (bool, error)
}

// PostgresRepository is the PostgreSQL implementation of Repository.
type PostgresRepository struct {
	db *sqlx.DB
}

func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const (
	insertGroupQuery = `INSERT INTO course_forum_groups (id, course_id, group_id, start_time, end_time, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	insertMembershipQuery = `INSERT INTO forum_user_group_memberships (id, user_id, group_id, joined_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, group_id) DO NOTHING`

	selectGroupByCourseQuery = `SELECT id, course_id, group_id, start_time, end_time, created_at
		FROM course_forum_groups WHERE course_id = $1
		ORDER BY created_at DESC LIMIT 1`

	memberExistsQuery = `SELECT EXISTS (SELECT 1 FROM forum_user_group_memberships WHERE user_id = $1 AND group_id = $2)`
)

// SaveGroups inserts all groups in one transaction.
func (r *PostgresRepository) SaveGroups(ctx context.Context, groups []CourseForumGroup) error {
	return r.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, g := range groups {
			if _, err := tx.ExecContext(ctx, insertGroupQuery,
				g.ID, g.CourseID, g.GroupID, g.StartTime, g.EndTime, g.CreatedAt,
			); err != nil {
				return fmt.Errorf("failed to insert forum group for course %s: %w", g.CourseID, err)
			}
		}
		return nil
	})
}

// SaveMemberships inserts all memberships in one transaction. A membership
// that already exists is left untouched.
func (r *PostgresRepository) SaveMemberships(ctx context.Context, memberships []Membership) error {
	return r.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, m := range memberships {
			if _, err := tx.ExecContext(ctx, insertMembershipQuery,
				m.ID, m.UserID, m.GroupID, m.JoinedAt,
			); err != nil {
				return fmt.Errorf("failed to insert membership of user %s: %w", m.UserID, err)
			}
		}
		return nil
	})
}

func (r *PostgresRepository) FindGroupByCourseID(ctx context.Context, courseID uuid.UUID) (CourseForumGroup, error) {
	var g CourseForumGroup
	if err := r.db.GetContext(ctx, &g, selectGroupByCourseQuery, courseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CourseForumGroup{}, ErrGroupNotFound
		}
		return CourseForumGroup{}, fmt.Errorf("failed to query forum group: %w", err)
	}
	return g, nil
}

func (r *PostgresRepository) IsMember(ctx context.Context, userID, groupID uuid.UUID) (bool, error) {
	var exists bool
	if err := r.db.GetContext(ctx, &exists, memberExistsQuery, userID, groupID); err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return exists, nil
}

func (r *PostgresRepository) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
