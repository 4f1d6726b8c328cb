package handlers

import (
	"bytes"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/TaskarCenterAtUW/tdei-flex-datasvc/internal/service"
	"github.com/TaskarCenterAtUW/tdei-flex-datasvc/internal/validation"
)

const testMetaJSON = `{"tdei_project_group_id":"pg-1","tdei_service_id":"svc-1","collected_by":"testuser",` +
	`"collection_date":"2023-03-02T04:22:42.493Z","collection_method":"manual",` +
	`"valid_from":"2023-03-02T04:22:42.493Z","valid_to":"2023-03-05T04:22:42.493Z",` +
	`"data_source":"TDEITools","flex_schema_version":"v2.0"}`

// multipartBody собирает форму загрузки. metaAsFile — meta передаётся файловой частью.
func multipartBody(t *testing.T, meta string, metaAsFile bool, fileName, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	if meta != "" {
		if metaAsFile {
			part, err := mw.CreateFormFile("meta", "meta.json")
			if err != nil {
				t.Fatal(err)
			}
			_, _ = io.WriteString(part, meta)
		} else if err := mw.WriteField("meta", meta); err != nil {
			t.Fatal(err)
		}
	}
	if fileName != "" {
		part, err := mw.CreateFormFile("file", fileName)
		if err != nil {
			t.Fatal(err)
		}
		_, _ = io.WriteString(part, content)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func postUpload(t *testing.T, router http.Handler, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/gtfsflex", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestUploadFlex_Success(t *testing.T) {
	for _, metaAsFile := range []bool{false, true} {
		var got *service.UploadRequest
		var gotContent string
		up := &fakeUploader{uploadFn: func(req *service.UploadRequest) (string, error) {
			got = req
			gotContent = readAll(t, req.Body)
			return "rec-new", nil
		}}
		router := newTestRouter(t, &fakeFlex{}, up)

		body, ct := multipartBody(t, testMetaJSON, metaAsFile, "flex.zip", "PK\x03\x04")
		rec := postUpload(t, router, body, ct)

		if rec.Code != http.StatusOK {
			t.Fatalf("metaAsFile=%v: статус = %d, тело: %s", metaAsFile, rec.Code, rec.Body.String())
		}
		if rec.Body.String() != "rec-new" {
			t.Errorf("тело = %q, ожидался id записи", rec.Body.String())
		}
		if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain") {
			t.Errorf("Content-Type = %q", rec.Header().Get("Content-Type"))
		}
		if got.UserID != "user-1" || got.FileName != "flex.zip" || got.Size != 4 {
			t.Errorf("req = %+v", got)
		}
		if got.Meta.CollectedBy != "testuser" || got.Meta.ProjectGroupID != "pg-1" {
			t.Errorf("meta = %+v", got.Meta)
		}
		if gotContent != "PK\x03\x04" {
			t.Errorf("содержимое файла = %q", gotContent)
		}
	}
}

func TestUploadFlex_InputErrors(t *testing.T) {
	up := &fakeUploader{uploadFn: func(*service.UploadRequest) (string, error) {
		t.Error("сервис не должен вызываться")
		return "", nil
	}}
	router := newTestRouter(t, &fakeFlex{}, up)

	t.Run("без файла", func(t *testing.T) {
		body, ct := multipartBody(t, testMetaJSON, false, "", "")
		if rec := postUpload(t, router, body, ct); rec.Code != http.StatusBadRequest {
			t.Errorf("статус = %d", rec.Code)
		}
	})
	t.Run("без meta", func(t *testing.T) {
		body, ct := multipartBody(t, "", false, "flex.zip", "x")
		if rec := postUpload(t, router, body, ct); rec.Code != http.StatusBadRequest {
			t.Errorf("статус = %d", rec.Code)
		}
	})
	t.Run("meta не JSON", func(t *testing.T) {
		body, ct := multipartBody(t, "{not json", false, "flex.zip", "x")
		rec := postUpload(t, router, body, ct)
		if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "INPUT_ERROR" {
			t.Errorf("статус = %d, тело: %s", rec.Code, rec.Body.String())
		}
	})
	t.Run("не multipart", func(t *testing.T) {
		rec := postUpload(t, router, bytes.NewBufferString("{}"), "application/json")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("статус = %d", rec.Code)
		}
	})
	t.Run("превышен размер", func(t *testing.T) {
		body, ct := multipartBody(t, testMetaJSON, false, "flex.zip", strings.Repeat("x", 2<<20))
		if rec := postUpload(t, router, body, ct); rec.Code != http.StatusBadRequest {
			t.Errorf("статус = %d", rec.Code)
		}
	})
}

func TestUploadFlex_ServiceErrors(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{&service.ValidationError{Violations: []validation.Violation{{Field: "collected_by", Message: "обязательно"}}}, 400, "VALIDATION_ERROR"},
		{errors.Join(service.ErrInput, errors.New("только .zip")), 400, "INPUT_ERROR"},
		{service.ErrStorageUnavailable, 500, "STORAGE_UNAVAILABLE"},
		{service.ErrUnknown, 500, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		up := &fakeUploader{uploadFn: func(*service.UploadRequest) (string, error) { return "", tt.err }}
		router := newTestRouter(t, &fakeFlex{}, up)
		body, ct := multipartBody(t, testMetaJSON, false, "flex.zip", "x")
		rec := postUpload(t, router, body, ct)
		if rec.Code != tt.status || errorCode(t, rec) != tt.code {
			t.Errorf("%v: статус = %d, тело: %s", tt.err, rec.Code, rec.Body.String())
		}
	}
}
