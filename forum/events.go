// Package forum turns course events into forum groups and memberships.
package forum

import (
	"time"

	"github.com/google/uuid"
)

// CourseForumGroupCreated says a forum group was opened for a course.
type CourseForumGroupCreated struct {
	MessageID uuid.UUID  `json:"messageId" validate:"required"`
	CourseID  uuid.UUID  `json:"courseId" validate:"required"`
	GroupID   uuid.UUID  `json:"groupId" validate:"required"`
	StartTime *time.Time `json:"startTime,omitempty"`
	EndTime   *time.Time `json:"endTime,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// CoursePurchased says a user bought a course.
type CoursePurchased struct {
	MessageID   uuid.UUID `json:"messageId" validate:"required"`
	UserID      uuid.UUID `json:"userId" validate:"required"`
	CourseID    uuid.UUID `json:"courseId" validate:"required"`
	PurchasedAt time.Time `json:"purchasedAt"`
}

// CourseForumGroup links a course to its forum group.
type CourseForumGroup struct {
	ID        uuid.UUID  `db:"id"`
	CourseID  uuid.UUID  `db:"course_id"`
	GroupID   uuid.UUID  `db:"group_id"`
	StartTime *time.Time `db:"start_time"`
	EndTime   *time.Time `db:"end_time"`
	CreatedAt time.Time  `db:"created_at"`
}

// Membership places a user in a forum group.
type Membership struct {
	ID       uuid.UUID `db:"id"`
	UserID   uuid.UUID `db:"user_id"`
	GroupID  uuid.UUID `db:"group_id"`
	JoinedAt time.Time `db:"joined_at"`
}
