package dcquery

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestPagingParams_Defaults(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/data/subject", nil)
	limit, offset, err := pagingParams(r, 100, 0)
	if err != nil {
		t.Fatalf("pagingParams: %v", err)
	}
	if limit != 100 || offset != 0 {
		t.Errorf("got limit=%d offset=%d, want 100, 0", limit, offset)
	}
}

func TestPagingParams_Overrides(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/data/subject?limit=25&offset=50", nil)
	limit, offset, err := pagingParams(r, 100, 0)
	if err != nil {
		t.Fatalf("pagingParams: %v", err)
	}
	if limit != 25 || offset != 50 {
		t.Errorf("got limit=%d offset=%d, want 25, 50", limit, offset)
	}
}

func TestPagingParams_InvalidLimit(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/data/subject?limit=abc", nil)
	_, _, err := pagingParams(r, 100, 0)
	de, ok := AsError(err)
	if !ok || de.Kind != KindParsingError {
		t.Fatalf("expected ParsingError, got %v", err)
	}
}

func TestOptionalPagingParams_Unset(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/column_values/subject.name", nil)
	limit, offset, err := optionalPagingParams(r)
	if err != nil {
		t.Fatalf("optionalPagingParams: %v", err)
	}
	if limit != nil || offset != nil {
		t.Errorf("expected nil limit/offset, got %v, %v", limit, offset)
	}
}

func TestOptionalPagingParams_Set(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/column_values/subject.name?limit=10&offset=5", nil)
	limit, offset, err := optionalPagingParams(r)
	if err != nil {
		t.Fatalf("optionalPagingParams: %v", err)
	}
	if limit == nil || *limit != 10 {
		t.Errorf("expected limit=10, got %v", limit)
	}
	if offset == nil || *offset != 5 {
		t.Errorf("expected offset=5, got %v", offset)
	}
}

func TestRequestURLWithOffset(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "http://example.com/data/subject?limit=10&offset=0", nil)
	got := requestURLWithOffset(r, 10)
	want := "http://example.com/data/subject?limit=10&offset=10"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestNonNilDocs(t *testing.T) {
	if docs := nonNilDocs(nil); docs == nil || len(docs) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", docs)
	}
	in := []json.RawMessage{json.RawMessage(`{}`)}
	if docs := nonNilDocs(in); len(docs) != 1 {
		t.Errorf("expected passthrough of 1 doc, got %d", len(docs))
	}
}

func TestWriteError_TypedError(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, newErr(KindTableNotFound, "table %q not found", "widgets"))

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
	var body errorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.ErrorType != string(KindTableNotFound) {
		t.Errorf("expected error_type %q, got %q", KindTableNotFound, body.ErrorType)
	}
}

func TestWriteError_UntypedError(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, errors.New("boom"))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
	var body errorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.ErrorType != string(KindInternalError) {
		t.Errorf("expected error_type %q, got %q", KindInternalError, body.ErrorType)
	}
}

func TestStatusRecorder_CapturesStatus(t *testing.T) {
	w := httptest.NewRecorder()
	rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	rw.WriteHeader(http.StatusTeapot)
	if rw.status != http.StatusTeapot {
		t.Errorf("expected captured status %d, got %d", http.StatusTeapot, rw.status)
	}
	if w.Code != http.StatusTeapot {
		t.Errorf("expected underlying recorder status %d, got %d", http.StatusTeapot, w.Code)
	}
}

func TestDecodeJSONBody_EmptyBodyIsNoop(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/data/subject", nil)
	var body dataRequestBody
	if err := decodeJSONBody(r, &body); err != nil {
		t.Fatalf("expected nil error for empty body, got %v", err)
	}
}
