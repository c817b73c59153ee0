package resourcesaga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DeleteByKind deletes one resource of the given kind. It is the delete
// side of every registered saga, addressed by kind instead of by action.
type DeleteByKind func(ctx context.Context, kind Kind, h Handle) error

// GatewayDeleter routes deletes to the course or the media gateway.
func GatewayDeleter(courses CourseGateway, media MediaGateway) DeleteByKind {
	return func(ctx context.Context, kind Kind, h Handle) error {
		switch kind {
		case KindCourse:
			id, err := uuid.Parse(h.ResourceID)
			if err != nil {
				return fmt.Errorf("invalid course id %q: %w", h.ResourceID, err)
			}
			return courses.DeleteCourse(ctx, id)
		case KindVideo, KindImage, KindPdf:
			return media.Delete(ctx, kind, h.ParentID, h.ResourceID)
		default:
			return fmt.Errorf("%w: %s", ErrUnknownKind, kind)
		}
	}
}

// Reconcile retries the delete of every orphaned resource of an
// inconsistent run. The run becomes cancelled once nothing is orphaned;
// otherwise it stays inconsistent with the remaining orphans and the
// joined delete errors are returned.
func Reconcile(ctx context.Context, j Journal, runID string, del DeleteByKind, now time.Time) (*RunRecord, error) {
	rec, err := j.Load(ctx, runID)
	if err != nil {
		return nil, err
	}
	if rec.Status != RunInconsistent {
		return rec, fmt.Errorf("%w: %s is %s", ErrNotReconcilable, runID, rec.Status)
	}

	byID := make(map[string]Handle, len(rec.Handles))
	for _, h := range rec.Handles {
		byID[h.ResourceID] = h
	}

	var (
		remaining []string
		errs      []error
	)
	for _, id := range rec.Orphaned {
		h, ok := byID[id]
		if !ok {
			h = Handle{ResourceID: id}
		}
		rec.Events = append(rec.Events, HandleEvent{ResourceID: id, Type: EventCompensationStarted, At: now})
		if err := del(ctx, rec.Kind, h); err != nil {
			rec.Events = append(rec.Events, HandleEvent{ResourceID: id, Type: EventCompensationFailed, At: now})
			remaining = append(remaining, id)
			errs = append(errs, fmt.Errorf("delete %s: %w", id, err))
			continue
		}
		rec.Events = append(rec.Events, HandleEvent{ResourceID: id, Type: EventCompensated, At: now})
	}

	rec.Orphaned = remaining
	if len(remaining) == 0 {
		rec.Status = RunCancelled
	}
	if err := j.Save(ctx, *rec); err != nil {
		return rec, fmt.Errorf("save reconciled run: %w", err)
	}
	return rec, errors.Join(errs...)
}
