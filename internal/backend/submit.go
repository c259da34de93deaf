package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"

	"github.com/fieldwork/fieldsync/internal/types"
)

// endpoints maps each submission type to its backend path.
var endpoints = map[types.SubmissionType]string{
	types.SubmissionRegister:    "/api/v1/trees/register",
	types.SubmissionValidate:    "/api/v1/trees/validate",
	types.SubmissionGrowthCheck: "/api/v1/trees/growth-check",
	types.SubmissionIncident:    "/api/v1/incidents",
}

// Endpoint returns the backend path for a submission type.
func Endpoint(typ types.SubmissionType) string {
	return endpoints[typ]
}

// Submit posts payload as multipart form data to the endpoint for typ and
// returns the server's message.
func (c *Client) Submit(ctx context.Context, typ types.SubmissionType, payload types.Payload, idempotencyKey string) (string, error) {
	path, ok := endpoints[typ]
	if !ok {
		return "", fmt.Errorf("no endpoint for submission type %q", typ)
	}

	body, contentType, err := EncodeMultipart(payload)
	if err != nil {
		return "", fmt.Errorf("encode %s submission: %w", typ, err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentType)
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	var out struct {
		Message string `json:"message"`
	}
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}

// EncodeMultipart builds a multipart body from payload. File references
// become file parts read from their local URI; everything else becomes a
// string form field.
func EncodeMultipart(payload types.Payload) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for _, f := range payload {
		switch f.Kind {
		case types.KindFile:
			if err := writeFilePart(w, f); err != nil {
				return nil, "", err
			}
		case types.KindString, types.KindNumber, types.KindBool:
			v, err := f.FormValue()
			if err != nil {
				return nil, "", err
			}
			if err := w.WriteField(f.Name, v); err != nil {
				return nil, "", fmt.Errorf("write field %q: %w", f.Name, err)
			}
		default:
			return nil, "", fmt.Errorf("field %q has unknown kind %s", f.Name, f.Kind)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

func writeFilePart(w *multipart.Writer, f types.Field) error {
	if f.File == nil {
		return fmt.Errorf("field %q: nil file reference", f.Name)
	}

	path := localPath(f.File.URI)
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %q for field %q: %w", path, f.Name, err)
	}
	defer file.Close()

	name := f.File.FileName
	if name == "" {
		name = filepath.Base(path)
	}
	ctype := f.File.MimeType
	if ctype == "" {
		ctype = "application/octet-stream"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", mime.FormatMediaType("form-data", map[string]string{
		"name":     f.Name,
		"filename": name,
	}))
	h.Set("Content-Type", ctype)

	part, err := w.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create part %q: %w", f.Name, err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("copy %q: %w", path, err)
	}
	return nil
}

// localPath strips a file:// scheme from a captured-file URI.
func localPath(uri string) string {
	return strings.TrimPrefix(uri, "file://")
}
