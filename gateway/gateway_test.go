package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortressi/resourcesaga"
)

type recordedRequest struct {
	Method      string
	Path        string
	ContentType string
	Idempotency string
	Body        []byte
}

// fakeService answers every request with the handler registered for
// "METHOD /path" and records what it received.
type fakeService struct {
	mu       sync.Mutex
	requests []recordedRequest
	routes   map[string]http.HandlerFunc
}

func newFakeService(t *testing.T) (*fakeService, *Client) {
	t.Helper()
	f := &fakeService{routes: map[string]http.HandlerFunc{}}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)

	c, err := New(Config{CourseBaseURL: srv.URL + "/", OrderBaseURL: srv.URL, Timeout: 2 * time.Second})
	require.NoError(t, err)
	return f, c
}

func (f *fakeService) handle(route string, h http.HandlerFunc) {
	f.routes[route] = h
}

func (f *fakeService) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{
		Method:      r.Method,
		Path:        r.URL.Path,
		ContentType: r.Header.Get("Content-Type"),
		Idempotency: r.Header.Get("Idempotency-Key"),
		Body:        body,
	})
	f.mu.Unlock()

	h, ok := f.routes[r.Method+" "+r.URL.Path]
	if !ok {
		http.NotFound(w, r)
		return
	}
	r.Body = io.NopCloser(strings.NewReader(string(body)))
	h(w, r)
}

func (f *fakeService) last() recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNewRejectsBadURLs(t *testing.T) {
	_, err := New(Config{CourseBaseURL: "", OrderBaseURL: "http://orders"})
	assert.Error(t, err)
	_, err = New(Config{CourseBaseURL: "http://courses", OrderBaseURL: "orders"})
	assert.Error(t, err)
}

func TestCreateCourse(t *testing.T) {
	f, c := newFakeService(t)
	id := uuid.New()
	author := uuid.New()
	f.handle("POST /api/v1/courses", func(w http.ResponseWriter, r *http.Request) {
		var req resourcesaga.CourseCreateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		writeJSON(w, http.StatusCreated, resourcesaga.Course{ID: id, AuthorID: req.AuthorID, Translations: req.Translations})
	})

	ctx := WithIdempotencyKey(context.Background(), "run-1")
	course, err := c.CreateCourse(ctx, resourcesaga.CourseCreateRequest{
		AuthorID:     author,
		Translations: []resourcesaga.CourseTranslation{{Language: "en", Title: "Go"}},
	})
	require.NoError(t, err)
	assert.Equal(t, id, course.ID)
	assert.Equal(t, author, course.AuthorID)

	req := f.last()
	assert.Equal(t, "application/json", req.ContentType)
	assert.Equal(t, "run-1", req.Idempotency)
}

func TestCreateCourseServerError(t *testing.T) {
	f, c := newFakeService(t)
	f.handle("POST /api/v1/courses", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "database down", http.StatusInternalServerError)
	})

	_, err := c.CreateCourse(context.Background(), resourcesaga.CourseCreateRequest{})

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusInternalServerError, se.StatusCode)
	assert.Contains(t, se.Body, "database down")
}

func TestDeleteCourse(t *testing.T) {
	f, c := newFakeService(t)
	id := uuid.New()
	f.handle("DELETE /api/v1/courses/"+id.String(), func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, c.DeleteCourse(WithIdempotencyKey(context.Background(), "k"), id))
	assert.Empty(t, f.last().Idempotency)
}

func TestValidatePurchase(t *testing.T) {
	f, c := newFakeService(t)
	open, closed, missing := uuid.New(), uuid.New(), uuid.New()
	f.handle("GET /api/v1/courses/"+open.String()+"/purchase-validation", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, purchaseValidation{CourseID: open, Purchasable: true})
	})
	f.handle("GET /api/v1/courses/"+closed.String()+"/purchase-validation", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, purchaseValidation{CourseID: closed, Reason: "unpublished"})
	})

	assert.NoError(t, c.ValidatePurchase(context.Background(), uuid.New(), open))

	var npErr *resourcesaga.CourseNotPurchasableError
	err := c.ValidatePurchase(context.Background(), uuid.New(), closed)
	require.ErrorAs(t, err, &npErr)
	assert.Equal(t, "unpublished", npErr.Reason)

	err = c.ValidatePurchase(context.Background(), uuid.New(), missing)
	require.ErrorAs(t, err, &npErr)
	assert.Equal(t, missing, npErr.CourseID)
}

func TestUploadSingleFile(t *testing.T) {
	f, c := newFakeService(t)
	lesson := uuid.New()
	f.handle("POST /api/v1/lessons/"+lesson.String()+"/videos", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, `{"title":"intro"}`, r.FormValue("metadata"))
		fh := r.MultipartForm.File["file"]
		require.Len(t, fh, 1)
		assert.Equal(t, "intro.mp4", fh[0].Filename)
		assert.Equal(t, "video/mp4", fh[0].Header.Get("Content-Type"))
		writeJSON(w, http.StatusCreated, mediaResponse{ResourceID: "v-1", Filename: "intro.mp4"})
	})

	handles, err := c.Upload(context.Background(), resourcesaga.KindVideo, resourcesaga.MediaUpload{
		LessonID: lesson,
		Metadata: json.RawMessage(`{"title":"intro"}`),
		Files:    []resourcesaga.FileUpload{{Filename: "intro.mp4", ContentType: "video/mp4", Content: strings.NewReader("bytes")}},
	})
	require.NoError(t, err)
	assert.Equal(t, []resourcesaga.Handle{{
		ResourceID: "v-1",
		ParentID:   lesson.String(),
		ParentKind: resourcesaga.ParentLesson,
		Label:      "intro.mp4",
	}}, handles)
	assert.True(t, strings.HasPrefix(f.last().ContentType, "multipart/form-data"))
}

func TestUploadBulk(t *testing.T) {
	f, c := newFakeService(t)
	lesson := uuid.New()
	f.handle("POST /api/v1/lessons/"+lesson.String()+"/images/bulk", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Len(t, r.MultipartForm.File["files"], 2)
		writeJSON(w, http.StatusCreated, map[string][]mediaResponse{
			"images": {{ResourceID: "i-1", Filename: "a.png"}, {ResourceID: "i-2", Filename: "b.png"}},
		})
	})

	handles, err := c.Upload(context.Background(), resourcesaga.KindImage, resourcesaga.MediaUpload{
		LessonID: lesson,
		Files: []resourcesaga.FileUpload{
			{Filename: "a.png", Content: strings.NewReader("a")},
			{Filename: "b.png", Content: strings.NewReader("b")},
		},
	})
	require.NoError(t, err)
	require.Len(t, handles, 2)
	assert.Equal(t, "i-1", handles[0].ResourceID)
	assert.Equal(t, "i-2", handles[1].ResourceID)
}

func TestUploadRejectsEmptyResourceID(t *testing.T) {
	f, c := newFakeService(t)
	lesson := uuid.New()
	f.handle("POST /api/v1/lessons/"+lesson.String()+"/pdfs", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusCreated, mediaResponse{})
	})

	_, err := c.Upload(context.Background(), resourcesaga.KindPdf, resourcesaga.MediaUpload{
		LessonID: lesson,
		Files:    []resourcesaga.FileUpload{{Filename: "notes.pdf"}},
	})
	assert.Error(t, err)
}

func TestUploadBulkRejectsShortResponse(t *testing.T) {
	f, c := newFakeService(t)
	lesson := uuid.New()
	route := "POST /api/v1/lessons/" + lesson.String() + "/images/bulk"
	up := resourcesaga.MediaUpload{
		LessonID: lesson,
		Files:    []resourcesaga.FileUpload{{Filename: "a.png"}, {Filename: "b.png"}},
	}

	f.handle(route, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusCreated, map[string][]mediaResponse{"images": {{ResourceID: "i-1"}}})
	})
	_, err := c.Upload(context.Background(), resourcesaga.KindImage, up)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stored 1 of 2 files")

	f.handle(route, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusCreated, map[string][]mediaResponse{"videos": {{ResourceID: "v-1"}, {ResourceID: "v-2"}}})
	})
	_, err = c.Upload(context.Background(), resourcesaga.KindImage, up)
	assert.Error(t, err)
}

func TestUploadRejectsUnknownKindAndNoFiles(t *testing.T) {
	_, c := newFakeService(t)

	_, err := c.Upload(context.Background(), resourcesaga.KindCourse, resourcesaga.MediaUpload{Files: []resourcesaga.FileUpload{{Filename: "x"}}})
	assert.ErrorIs(t, err, resourcesaga.ErrUnknownKind)

	_, err = c.Upload(context.Background(), resourcesaga.KindVideo, resourcesaga.MediaUpload{})
	assert.ErrorIs(t, err, resourcesaga.ErrNoFiles)
}

func TestDeleteMedia(t *testing.T) {
	f, c := newFakeService(t)
	f.handle("DELETE /api/v1/lessons/l1/pdfs/p-9", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, c.Delete(context.Background(), resourcesaga.KindPdf, "l1", "p-9"))
	assert.True(t, IsStatus(c.Delete(context.Background(), resourcesaga.KindPdf, "l1", "gone"), http.StatusNotFound))
}

func TestCreateOrder(t *testing.T) {
	f, c := newFakeService(t)
	f.handle("POST /api/v1/orders", func(w http.ResponseWriter, r *http.Request) {
		var req resourcesaga.OrderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		writeJSON(w, http.StatusCreated, resourcesaga.OrderResponse{
			OrderID:         "o-1",
			ExternalOrderID: req.ExternalOrderID,
			Status:          "PENDING",
			Amount:          req.Amount,
		})
	})

	res, err := c.CreateOrder(context.Background(), resourcesaga.OrderRequest{
		ExternalOrderID: "ext-1",
		UserID:          uuid.New(),
		ItemID:          uuid.New(),
		Amount:          decimal.RequireFromString("19.99"),
		Currency:        "EUR",
	})
	require.NoError(t, err)
	assert.Equal(t, resourcesaga.OrderCreated, res.Status)
	assert.Equal(t, "o-1", res.Response.OrderID)
	assert.True(t, decimal.RequireFromString("19.99").Equal(res.Response.Amount))
}

func TestCreateOrderAlreadyExists(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusConflict} {
		f, c := newFakeService(t)
		f.handle("POST /api/v1/orders", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, status, map[string]string{"error": "order_already_exists"})
		})

		res, err := c.CreateOrder(context.Background(), resourcesaga.OrderRequest{ExternalOrderID: "ext-1"})
		require.NoError(t, err, "status %d", status)
		assert.Equal(t, resourcesaga.OrderAlreadyExists, res.Status)
	}
}

func TestCreateOrderBadRequest(t *testing.T) {
	f, c := newFakeService(t)
	f.handle("POST /api/v1/orders", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_amount"})
	})

	_, err := c.CreateOrder(context.Background(), resourcesaga.OrderRequest{ExternalOrderID: "ext-1"})
	assert.True(t, IsStatus(err, http.StatusBadRequest))
}

func TestOrderSagaRollsBackThroughGateway(t *testing.T) {
	f, c := newFakeService(t)
	f.handle("POST /api/v1/orders", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})
	f.handle("DELETE /api/v1/orders/ext-7", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	_, err := resourcesaga.NewOrderSaga(c).Run(context.Background(), resourcesaga.OrderRequest{ExternalOrderID: "ext-7"})

	var rbErr *resourcesaga.OrderCreationRollbackError
	require.ErrorAs(t, err, &rbErr)
	assert.False(t, rbErr.RollbackFailed)
	assert.Equal(t, http.MethodDelete, f.last().Method)
}

func TestClientTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	c, err := New(Config{CourseBaseURL: srv.URL, OrderBaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	err = c.DeleteCourse(context.Background(), uuid.New())
	require.Error(t, err)
	var se *StatusError
	assert.False(t, errors.As(err, &se))
}
