package handlers

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	types "github.com/yungbote/neurobridge-ingest/internal/domain"
	"github.com/yungbote/neurobridge-ingest/internal/platform/apierr"
)

func fileRouter(t *testing.T, ingest *fakeIngest, maxUpload int64, userID string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h := NewFileHandler(newTestLogger(t), ingest, maxUpload)
	r := gin.New()
	if userID != "" {
		r.Use(asUser(userID))
	}
	r.POST("/api/files", h.Upload)
	r.GET("/api/files", h.List)
	r.GET("/api/files/:id", h.Get)
	r.GET("/api/files/:id/content", h.Content)
	r.DELETE("/api/files/:id", h.Delete)
	return r
}

func multipartBody(t *testing.T, name string, content []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	fw, err := w.CreateFormFile("file", name)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &buf, w.FormDataContentType()
}

func TestUploadMultipart(t *testing.T) {
	ingest := newFakeIngest()
	r := fileRouter(t, ingest, 0, "user-1")
	body, ct := multipartBody(t, "hello.txt", []byte("hello world"), map[string]string{"metadata": `{"course":"bio"}`})

	req := httptest.NewRequest(http.MethodPost, "/api/files", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status: want=%d got=%d body=%s", http.StatusCreated, rec.Code, rec.Body.String())
	}
	if ingest.last.UserID != "user-1" || ingest.last.FileName != "hello.txt" {
		t.Fatalf("unexpected request: %+v", ingest.last)
	}
	if string(ingest.last.Data) != "hello world" {
		t.Fatalf("data: want=%q got=%q", "hello world", ingest.last.Data)
	}
	if ingest.last.Metadata["course"] != "bio" {
		t.Fatalf("metadata: got=%v", ingest.last.Metadata)
	}
}

func TestUploadZeroByteMultipartKeepsEmptyPayload(t *testing.T) {
	ingest := newFakeIngest()
	r := fileRouter(t, ingest, 0, "user-1")
	body, ct := multipartBody(t, "empty.txt", nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/files", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status: want=%d got=%d", http.StatusCreated, rec.Code)
	}
	if ingest.last.Data == nil {
		t.Fatal("zero-byte upload must reach the service as non-nil data")
	}
}

func TestUploadJSONBase64(t *testing.T) {
	ingest := newFakeIngest()
	r := fileRouter(t, ingest, 0, "user-1")
	req := httptest.NewRequest(http.MethodPost, "/api/files", strings.NewReader(`{"file_name":"a.md","content_base64":"aGk=","origin":"channel"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status: want=%d got=%d", http.StatusCreated, rec.Code)
	}
	if ingest.last.Base64 != "aGk=" || ingest.last.Origin != "channel" {
		t.Fatalf("unexpected request: %+v", ingest.last)
	}
}

func TestUploadErrors(t *testing.T) {
	t.Run("unauthenticated", func(t *testing.T) {
		r := fileRouter(t, newFakeIngest(), 0, "")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/files", strings.NewReader(`{}`)))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status: want=%d got=%d", http.StatusUnauthorized, rec.Code)
		}
	})
	t.Run("too large", func(t *testing.T) {
		r := fileRouter(t, newFakeIngest(), 64, "user-1")
		body, ct := multipartBody(t, "big.txt", bytes.Repeat([]byte("x"), 4096), nil)
		req := httptest.NewRequest(http.MethodPost, "/api/files", body)
		req.Header.Set("Content-Type", ct)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code != http.StatusRequestEntityTooLarge && rec.Code != http.StatusBadRequest {
			t.Fatalf("status: got=%d", rec.Code)
		}
	})
	t.Run("service input error", func(t *testing.T) {
		ingest := newFakeIngest()
		ingest.err = apierr.Input("invalid_base64", nil)
		r := fileRouter(t, ingest, 0, "user-1")
		req := httptest.NewRequest(http.MethodPost, "/api/files", strings.NewReader(`{"file_name":"a","content_base64":"%%"}`))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status: want=%d got=%d", http.StatusBadRequest, rec.Code)
		}
	})
	t.Run("service infra error", func(t *testing.T) {
		ingest := newFakeIngest()
		ingest.err = apierr.Infra("object_store_unavailable", nil)
		r := fileRouter(t, ingest, 0, "user-1")
		req := httptest.NewRequest(http.MethodPost, "/api/files", strings.NewReader(`{"file_name":"a","content_base64":"aGk="}`))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("status: want=%d got=%d", http.StatusServiceUnavailable, rec.Code)
		}
	})
}

func TestFileLifecycleEndpoints(t *testing.T) {
	ingest := newFakeIngest()
	r := fileRouter(t, ingest, 0, "user-1")
	body, ct := multipartBody(t, "notes.txt", []byte("some notes"), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/files", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	var created types.FileRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/files", nil))
	var list struct {
		Files []types.FileRecord `json:"files"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil || len(list.Files) != 1 {
		t.Fatalf("list: err=%v files=%d", err, len(list.Files))
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/files/"+created.ID.String()+"/content", nil))
	if rec.Body.String() != "some notes" {
		t.Fatalf("content: want=%q got=%q", "some notes", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/files/not-a-uuid", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id: want=%d got=%d", http.StatusBadRequest, rec.Code)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/files/"+created.ID.String(), nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: want=%d got=%d", http.StatusOK, rec.Code)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/files/"+created.ID.String(), nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete: want=%d got=%d", http.StatusNotFound, rec.Code)
	}
}
