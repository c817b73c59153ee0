package resourcesaga

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
)

// Side-effect step names used by the built-in resource kinds.
const (
	StepMentorAction      StepName = "mentor_action"
	StepCourseGroupOpened StepName = "course_group_opened"
)

// MentorActionPublisher appends mentor actions to the audit log.
type MentorActionPublisher interface {
	LogMentorAction(ctx context.Context, resourceID string, mentorID uuid.UUID, actionType ActionType) error
}

// CourseGroupOpened announces that a course forum group can be created.
type CourseGroupOpened struct {
	MessageID   uuid.UUID `json:"messageId"`
	CourseID    string    `json:"courseId"`
	OwnerID     uuid.UUID `json:"ownerId"`
	CourseTitle string    `json:"courseTitle"`
	CreatedAt   time.Time `json:"createdAt"`
}

// CourseGroupPublisher emits course group events.
type CourseGroupPublisher interface {
	PublishCourseGroupOpened(ctx context.Context, ev CourseGroupOpened) error
}

type CourseTranslation struct {
	Language    string `json:"language"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// CourseCreateRequest is forwarded as is to the course service.
type CourseCreateRequest struct {
	AuthorID     uuid.UUID           `json:"authorId"`
	Translations []CourseTranslation `json:"translations"`
	StartTime    *time.Time          `json:"startTime,omitempty"`
	EndTime      *time.Time          `json:"endTime,omitempty"`
}

// Title returns the first translated title, or "N/A".
func (r CourseCreateRequest) Title() string {
	if len(r.Translations) == 0 || r.Translations[0].Title == "" {
		return "N/A"
	}
	return r.Translations[0].Title
}

// Course is the course service's view of a created course.
type Course struct {
	ID           uuid.UUID           `json:"id"`
	AuthorID     uuid.UUID           `json:"authorId"`
	Translations []CourseTranslation `json:"translations"`
}

// CourseGateway talks to the course service.
type CourseGateway interface {
	CreateCourse(ctx context.Context, req CourseCreateRequest) (Course, error)
	DeleteCourse(ctx context.Context, courseID uuid.UUID) error
}

// CourseAction creates a course, logs COURSE_CREATED and then announces the
// course group. Either side effect failing deletes the course.
func CourseAction(courses CourseGateway, pub MentorActionPublisher, groups CourseGroupPublisher) *ResourceAction[CourseCreateRequest] {
	audit := MustPlan(
		Step{
			Name:  StepMentorAction,
			Apply: logAction(pub, ActionCourseCreated),
		},
		Step{
			Name:  StepCourseGroupOpened,
			After: []StepName{StepMentorAction},
			Apply: func(ctx context.Context, h Handle, actorID uuid.UUID) error {
				return groups.PublishCourseGroupOpened(ctx, CourseGroupOpened{
					MessageID:   uuid.New(),
					CourseID:    h.ResourceID,
					OwnerID:     actorID,
					CourseTitle: h.Label,
					CreatedAt:   time.Now().UTC(),
				})
			},
		},
	)

	return &ResourceAction[CourseCreateRequest]{
		Kind: KindCourse,
		Create: func(ctx context.Context, req CourseCreateRequest) ([]Handle, error) {
			course, err := courses.CreateCourse(ctx, req)
			if err != nil {
				return nil, err
			}
			return []Handle{{ResourceID: course.ID.String(), Label: req.Title()}}, nil
		},
		Delete: func(ctx context.Context, h Handle) error {
			id, err := uuid.Parse(h.ResourceID)
			if err != nil {
				return fmt.Errorf("invalid course id %q: %w", h.ResourceID, err)
			}
			return courses.DeleteCourse(ctx, id)
		},
		Audit: audit,
	}
}

// FileUpload is one file of a media upload.
type FileUpload struct {
	Filename    string
	ContentType string
	Content     io.Reader
}

// MediaUpload attaches one or more files to a lesson.
type MediaUpload struct {
	LessonID uuid.UUID
	Metadata json.RawMessage
	Files    []FileUpload
}

// MediaGateway talks to the lesson media endpoints of the course service.
// Upload sends one file through the single endpoint and several through the
// bulk one.
type MediaGateway interface {
	Upload(ctx context.Context, kind Kind, upload MediaUpload) ([]Handle, error)
	Delete(ctx context.Context, kind Kind, lessonID, resourceID string) error
}

var uploadActions = map[Kind]ActionType{
	KindVideo: ActionVideoUploaded,
	KindImage: ActionImageUploaded,
	KindPdf:   ActionPdfUploaded,
}

// MediaAction uploads lesson files of the given kind and logs one upload
// action per stored file. If any log entry fails every uploaded file is
// deleted again.
func MediaAction(kind Kind, media MediaGateway, pub MentorActionPublisher) (*ResourceAction[MediaUpload], error) {
	actionType, ok := uploadActions[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a media kind", ErrUnknownKind, kind)
	}

	return NewResourceAction(kind,
		func(ctx context.Context, up MediaUpload) ([]Handle, error) {
			if len(up.Files) == 0 {
				return nil, ErrNoFiles
			}
			return media.Upload(ctx, kind, up)
		},
		func(ctx context.Context, h Handle) error {
			return media.Delete(ctx, kind, h.ParentID, h.ResourceID)
		},
		MustPlan(Step{Name: StepMentorAction, Apply: logAction(pub, actionType)}),
	)
}

func VideoAction(media MediaGateway, pub MentorActionPublisher) *ResourceAction[MediaUpload] {
	return mustMediaAction(KindVideo, media, pub)
}

func ImageAction(media MediaGateway, pub MentorActionPublisher) *ResourceAction[MediaUpload] {
	return mustMediaAction(KindImage, media, pub)
}

func PdfAction(media MediaGateway, pub MentorActionPublisher) *ResourceAction[MediaUpload] {
	return mustMediaAction(KindPdf, media, pub)
}

func mustMediaAction(kind Kind, media MediaGateway, pub MentorActionPublisher) *ResourceAction[MediaUpload] {
	a, err := MediaAction(kind, media, pub)
	if err != nil {
		panic(err)
	}
	return a
}

func logAction(pub MentorActionPublisher, actionType ActionType) StepFunc {
	return func(ctx context.Context, h Handle, actorID uuid.UUID) error {
		return pub.LogMentorAction(ctx, h.ResourceID, actorID, actionType)
	}
}

// RegisterKinds binds the course and media sagas to e and registers them.
func RegisterKinds(r *Registry, e *Executor, courses CourseGateway, media MediaGateway, pub MentorActionPublisher, groups CourseGroupPublisher) error {
	runners := []Runner{
		Bind(e, CourseAction(courses, pub, groups)),
		Bind(e, VideoAction(media, pub)),
		Bind(e, ImageAction(media, pub)),
		Bind(e, PdfAction(media, pub)),
	}
	for _, runner := range runners {
		if err := r.Register(runner); err != nil {
			return err
		}
	}
	return nil
}
