package resourcesaga

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

var (
	errKafkaDown   = errors.New("kafka unavailable")
	errRemoteDown  = errors.New("remote service unavailable")
	errDeleteFails = errors.New("delete rejected")
)

// recordingPublisher remembers every logged action and fails on the
// configured call number (1-based), or never when failOn is 0.
type recordingPublisher struct {
	mu      sync.Mutex
	calls   int
	failOn  int
	logged  []string
	actions []ActionType
	groups  []CourseGroupOpened
	groupFn func() error
}

func (p *recordingPublisher) LogMentorAction(_ context.Context, resourceID string, _ uuid.UUID, actionType ActionType) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls++
	if p.failOn != 0 && p.calls == p.failOn {
		return errKafkaDown
	}
	p.logged = append(p.logged, resourceID)
	p.actions = append(p.actions, actionType)
	return nil
}

func (p *recordingPublisher) PublishCourseGroupOpened(_ context.Context, ev CourseGroupOpened) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.groupFn != nil {
		if err := p.groupFn(); err != nil {
			return err
		}
	}
	p.groups = append(p.groups, ev)
	return nil
}

type fakeCourses struct {
	createErr error
	deleteErr error
	created   []uuid.UUID
	deleted   []uuid.UUID
}

func (f *fakeCourses) CreateCourse(_ context.Context, req CourseCreateRequest) (Course, error) {
	if f.createErr != nil {
		return Course{}, f.createErr
	}
	c := Course{ID: uuid.New(), AuthorID: req.AuthorID, Translations: req.Translations}
	f.created = append(f.created, c.ID)
	return c, nil
}

func (f *fakeCourses) DeleteCourse(_ context.Context, id uuid.UUID) error {
	f.deleted = append(f.deleted, id)
	return f.deleteErr
}

// fakeMedia hands out resource ids r1..rN and fails deletes for the ids
// listed in failDelete.
type fakeMedia struct {
	uploadErr  error
	failDelete map[string]bool
	uploads    []Kind
	deleted    []string
}

func (f *fakeMedia) Upload(_ context.Context, kind Kind, up MediaUpload) ([]Handle, error) {
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	f.uploads = append(f.uploads, kind)
	handles := make([]Handle, len(up.Files))
	for i, file := range up.Files {
		handles[i] = Handle{
			ResourceID: fmt.Sprintf("r%d", i+1),
			ParentID:   up.LessonID.String(),
			ParentKind: ParentLesson,
			Label:      file.Filename,
		}
	}
	return handles, nil
}

func (f *fakeMedia) Delete(_ context.Context, _ Kind, lessonID, resourceID string) error {
	f.deleted = append(f.deleted, lessonID+"/"+resourceID)
	if f.failDelete[resourceID] {
		return fmt.Errorf("%w: %s", errDeleteFails, resourceID)
	}
	return nil
}

type failingJournal struct{}

func (failingJournal) Save(context.Context, RunRecord) error { return errors.New("disk full") }
func (failingJournal) Load(context.Context, string) (*RunRecord, error) {
	return nil, ErrRunNotFound
}
func (failingJournal) List(context.Context, ...RunStatus) ([]RunRecord, error) { return nil, nil }
func (failingJournal) Delete(context.Context, string) error                    { return nil }

func files(names ...string) []FileUpload {
	out := make([]FileUpload, len(names))
	for i, n := range names {
		out[i] = FileUpload{Filename: n, ContentType: "application/octet-stream"}
	}
	return out
}

// recordingJournal keeps a copy of every saved record in save order.
type recordingJournal struct {
	*MemoryJournal
	mu    sync.Mutex
	saves []RunRecord
}

func newRecordingJournal() *recordingJournal {
	return &recordingJournal{MemoryJournal: NewMemoryJournal()}
}

func (j *recordingJournal) Save(ctx context.Context, rec RunRecord) error {
	j.mu.Lock()
	rec.Handles = append([]Handle(nil), rec.Handles...)
	j.saves = append(j.saves, rec)
	j.mu.Unlock()
	return j.MemoryJournal.Save(ctx, rec)
}
