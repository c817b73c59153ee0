package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"

	"github.com/fortressi/resourcesaga"
)

var _ resourcesaga.MediaGateway = (*Client)(nil)

var mediaPaths = map[resourcesaga.Kind]string{
	resourcesaga.KindVideo: "videos",
	resourcesaga.KindImage: "images",
	resourcesaga.KindPdf:   "pdfs",
}

type mediaResponse struct {
	ResourceID string `json:"resourceId"`
	Filename   string `json:"fileName,omitempty"`
}

// Upload stores the files of up. A single file goes to the plain endpoint,
// several files go to the bulk endpoint in one request.
func (c *Client) Upload(ctx context.Context, kind resourcesaga.Kind, up resourcesaga.MediaUpload) ([]resourcesaga.Handle, error) {
	path, ok := mediaPaths[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", resourcesaga.ErrUnknownKind, kind)
	}
	if len(up.Files) == 0 {
		return nil, resourcesaga.ErrNoFiles
	}

	bulk := len(up.Files) > 1
	segments := []string{"api", "v1", "lessons", up.LessonID.String(), path}
	field := "file"
	if bulk {
		segments = append(segments, "bulk")
		field = "files"
	}

	body, contentType, err := multipartBody(up, field)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint(c.courseURL, segments...), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)

	data, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var stored []mediaResponse
	if bulk {
		var res map[string][]mediaResponse
		if err := json.Unmarshal(data, &res); err != nil {
			return nil, fmt.Errorf("decode bulk %s response: %w", path, err)
		}
		stored = res[path]
	} else {
		var res mediaResponse
		if err := json.Unmarshal(data, &res); err != nil {
			return nil, fmt.Errorf("decode %s response: %w", path, err)
		}
		stored = []mediaResponse{res}
	}
	if len(stored) != len(up.Files) {
		return nil, fmt.Errorf("%s upload stored %d of %d files", kind, len(stored), len(up.Files))
	}

	handles := make([]resourcesaga.Handle, 0, len(stored))
	for _, s := range stored {
		if s.ResourceID == "" {
			return nil, fmt.Errorf("%s upload returned an empty resource id", kind)
		}
		handles = append(handles, resourcesaga.Handle{
			ResourceID: s.ResourceID,
			ParentID:   up.LessonID.String(),
			ParentKind: resourcesaga.ParentLesson,
			Label:      s.Filename,
		})
	}
	return handles, nil
}

func (c *Client) Delete(ctx context.Context, kind resourcesaga.Kind, lessonID, resourceID string) error {
	path, ok := mediaPaths[kind]
	if !ok {
		return fmt.Errorf("%w: %s", resourcesaga.ErrUnknownKind, kind)
	}
	return c.doJSON(ctx, http.MethodDelete, endpoint(c.courseURL, "api", "v1", "lessons", lessonID, path, resourceID), nil, nil)
}

func multipartBody(up resourcesaga.MediaUpload, field string) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if len(up.Metadata) > 0 {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="metadata"`)
		h.Set("Content-Type", "application/json")
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(up.Metadata); err != nil {
			return nil, "", err
		}
	}

	for _, f := range up.Files {
		contentType := f.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, f.Filename))
		h.Set("Content-Type", contentType)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if f.Content != nil {
			if _, err := io.Copy(part, f.Content); err != nil {
				return nil, "", fmt.Errorf("read %s: %w", f.Filename, err)
			}
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
