package resourcesaga

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind names a family of remote resources owned by another service.
type Kind string

const (
	KindCourse Kind = "course"
	KindVideo  Kind = "video"
	KindImage  Kind = "image"
	KindPdf    Kind = "pdf"
	KindOrder  Kind = "order"
)

// ParentKind tells which remote entity a resource hangs off.
type ParentKind string

const (
	ParentNone   ParentKind = ""
	ParentLesson ParentKind = "lesson"
	ParentCourse ParentKind = "course"
	ParentOrder  ParentKind = "order"
)

// Handle identifies one remote resource produced by a create call. It is
// consumed by the side-effect plan and, on failure, by compensation.
type Handle struct {
	ResourceID string     `json:"resource_id"`
	ParentID   string     `json:"parent_id,omitempty"`
	ParentKind ParentKind `json:"parent_kind,omitempty"`
	// Label is a human readable name carried along for side effects,
	// such as a course title or an uploaded file name.
	Label string `json:"label,omitempty"`
}

func (h Handle) String() string {
	if h.ParentID == "" {
		return h.ResourceID
	}
	return fmt.Sprintf("%s/%s:%s", h.ParentKind, h.ParentID, h.ResourceID)
}

// ActionType is the audit verb recorded for a mentor action.
type ActionType string

const (
	ActionCourseCreated ActionType = "COURSE_CREATED"
	ActionVideoUploaded ActionType = "VIDEO_UPLOADED"
	ActionImageUploaded ActionType = "IMAGE_UPLOADED"
	ActionPdfUploaded   ActionType = "PDF_UPLOADED"
)

// AuditEvent is one entry appended to the action log.
type AuditEvent struct {
	MessageID  uuid.UUID  `json:"messageId"`
	ActorID    uuid.UUID  `json:"mentorId"`
	ResourceID string     `json:"resourceId"`
	ActionType ActionType `json:"mentorActionType"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// NewAuditEvent builds an event that owns a fresh random message id.
func NewAuditEvent(actorID uuid.UUID, resourceID string, actionType ActionType) AuditEvent {
	return AuditEvent{
		MessageID:  uuid.New(),
		ActorID:    actorID,
		ResourceID: resourceID,
		ActionType: actionType,
		CreatedAt:  time.Now().UTC(),
	}
}

// CreateFunc performs the forward remote call and returns every resource it
// created. Single-resource kinds return one handle, bulk kinds return many.
type CreateFunc[In any] func(ctx context.Context, input In) ([]Handle, error)

// DeleteFunc removes one remote resource. It is the compensating action.
type DeleteFunc func(ctx context.Context, h Handle) error

// ResourceAction describes how to create, record and undo one kind of
// remote resource. Instances are stateless and shared between runs.
type ResourceAction[In any] struct {
	Kind   Kind
	Create CreateFunc[In]
	Delete DeleteFunc
	Audit  *Plan
}

// NewResourceAction validates and packages the three halves of a saga.
func NewResourceAction[In any](kind Kind, create CreateFunc[In], del DeleteFunc, audit *Plan) (*ResourceAction[In], error) {
	a := &ResourceAction[In]{
		Kind:   kind,
		Create: create,
		Delete: del,
		Audit:  audit,
	}
	if err := a.validate(); err != nil {
		return nil, err
	}
	return a, nil
}

// validate also guards actions built as struct literals.
func (a *ResourceAction[In]) validate() error {
	if a == nil {
		return fmt.Errorf("%w: nil resource action", ErrInvalidAction)
	}
	if a.Kind == "" {
		return fmt.Errorf("%w: kind is required", ErrInvalidAction)
	}
	if a.Create == nil || a.Delete == nil {
		return fmt.Errorf("%w: %s: create and delete are required", ErrInvalidAction, a.Kind)
	}
	if a.Audit.Len() == 0 {
		return fmt.Errorf("%w: %s: audit plan is empty", ErrInvalidAction, a.Kind)
	}
	return nil
}

// String implements the fmt.Stringer interface for ResourceAction.
func (a *ResourceAction[In]) String() string {
	return fmt.Sprintf("ResourceAction[%s]", a.Kind)
}
