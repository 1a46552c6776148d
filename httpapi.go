package dcquery

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"
)

// dataRequestBody mirrors spec §6's DataRequestBody wire shape.
type dataRequestBody struct {
	MatchAll          []string `json:"MATCH_ALL"`
	MatchSome         []string `json:"MATCH_SOME"`
	AddColumns        []string `json:"ADD_COLUMNS"`
	ExcludeColumns    []string `json:"EXCLUDE_COLUMNS"`
	CollateResults    bool     `json:"COLLATE_RESULTS"`
	ExternalReference bool     `json:"EXTERNAL_REFERENCE"`
}

// summaryRequestBody mirrors spec §6's SummaryRequestBody wire shape.
type summaryRequestBody struct {
	MatchAll       []string `json:"MATCH_ALL"`
	MatchSome      []string `json:"MATCH_SOME"`
	AddColumns     []string `json:"ADD_COLUMNS"`
	ExcludeColumns []string `json:"EXCLUDE_COLUMNS"`
}

type pagedResponse struct {
	Result        []json.RawMessage `json:"result"`
	QuerySQL      string            `json:"query_sql"`
	TotalRowCount int64             `json:"total_row_count"`
	NextURL       *string           `json:"next_url"`
}

type summaryResponse struct {
	Result   json.RawMessage `json:"result"`
	QuerySQL string          `json:"query_sql"`
}

type columnsResponse struct {
	Result []ColumnDescriptor `json:"result"`
}

type errorResponse struct {
	ErrorType string `json:"error_type"`
	Message   string `json:"message"`
}

// NewHTTPHandler builds the router for the five HTTP endpoints of spec §6
// (plain net/http ServeMux, matching the teacher's serve.go which never
// pulled in a router framework for its own health-check mux).
func NewHTTPHandler(engine *Engine) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /data/{endpoint}", engine.handleData)
	mux.HandleFunc("POST /summary/{endpoint}", engine.handleSummary)
	mux.HandleFunc("POST /column_values/{column}", engine.handleColumnValues)
	mux.HandleFunc("GET /columns", engine.handleColumns)
	mux.HandleFunc("GET /release_metadata", engine.handleReleaseMetadata)
	return mux
}

func (e *Engine) handleData(w http.ResponseWriter, r *http.Request) {
	endpoint := r.PathValue("endpoint")

	var body dataRequestBody
	if err := decodeJSONBody(r, &body); err != nil {
		writeError(w, newErr(KindParsingError, "malformed request body: %v", err))
		return
	}

	limit, offset, err := pagingParams(r, 100, 0)
	if err != nil {
		writeError(w, err)
		return
	}

	filters, err := parseFilters(e.catalog, e.logger, body.MatchAll, body.MatchSome)
	if err != nil {
		writeError(w, err)
		return
	}

	spec := &RequestSpec{
		Endpoint:          endpoint,
		MatchAll:          body.MatchAll,
		MatchSome:         body.MatchSome,
		AddColumns:        body.AddColumns,
		ExcludeColumns:    body.ExcludeColumns,
		CollateResults:    body.CollateResults,
		ExternalReference: body.ExternalReference,
	}

	rows, total, sql, err := e.Data(r.Context(), spec, filters, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}

	var nextURL *string
	if next := offset + limit; next < total {
		u := requestURLWithOffset(r, next)
		nextURL = &u
	}

	writeJSON(w, http.StatusOK, pagedResponse{
		Result:        nonNilDocs(rows),
		QuerySQL:      sql,
		TotalRowCount: total,
		NextURL:       nextURL,
	})
}

func (e *Engine) handleSummary(w http.ResponseWriter, r *http.Request) {
	endpoint := r.PathValue("endpoint")

	var body summaryRequestBody
	if err := decodeJSONBody(r, &body); err != nil {
		writeError(w, newErr(KindParsingError, "malformed request body: %v", err))
		return
	}
	if len(body.MatchAll) == 0 && len(body.MatchSome) == 0 {
		writeError(w, newErr(KindEmptyQueryError, "summary requires at least one filter"))
		return
	}

	filters, err := parseFilters(e.catalog, e.logger, body.MatchAll, body.MatchSome)
	if err != nil {
		writeError(w, err)
		return
	}

	spec := &RequestSpec{
		Endpoint:       endpoint,
		MatchAll:       body.MatchAll,
		MatchSome:      body.MatchSome,
		AddColumns:     body.AddColumns,
		ExcludeColumns: body.ExcludeColumns,
	}

	doc, sql, err := e.Summary(r.Context(), spec, filters)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, summaryResponse{Result: doc, QuerySQL: sql})
}

func (e *Engine) handleColumnValues(w http.ResponseWriter, r *http.Request) {
	column := r.PathValue("column")

	q := r.URL.Query()
	var dataSources []string
	if v := q.Get("data_source"); v != "" {
		dataSources = splitCSV(v)
	}

	limit, offset, err := optionalPagingParams(r)
	if err != nil {
		writeError(w, err)
		return
	}

	rows, total, sql, err := e.ColumnValues(r.Context(), column, dataSources, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, pagedResponse{
		Result:        nonNilDocs(rows),
		QuerySQL:      sql,
		TotalRowCount: total,
	})
}

func (e *Engine) handleColumns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, columnsResponse{Result: e.catalog.Columns()})
}

func (e *Engine) handleReleaseMetadata(w http.ResponseWriter, r *http.Request) {
	doc, err := e.ReleaseMetadata(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(doc)
}

func decodeJSONBody(r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return err
	}
	return nil
}

func pagingParams(r *http.Request, defaultLimit, defaultOffset int64) (limit, offset int64, err error) {
	limit, offset = defaultLimit, defaultOffset
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		limit, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, 0, newErr(KindParsingError, "invalid limit %q", v)
		}
	}
	if v := q.Get("offset"); v != "" {
		offset, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, 0, newErr(KindParsingError, "invalid offset %q", v)
		}
	}
	return limit, offset, nil
}

func optionalPagingParams(r *http.Request) (limit, offset *int64, err error) {
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		l, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, nil, newErr(KindParsingError, "invalid limit %q", v)
		}
		limit = &l
	}
	if v := q.Get("offset"); v != "" {
		o, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, nil, newErr(KindParsingError, "invalid offset %q", v)
		}
		offset = &o
	}
	return limit, offset, nil
}

// requestURLWithOffset rebuilds the absolute request URL with its offset
// query param replaced, for PagedResponse.next_url (spec §6).
func requestURLWithOffset(r *http.Request, offset int64) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	q := r.URL.Query()
	q.Set("offset", strconv.FormatInt(offset, 10))
	u := *r.URL
	u.RawQuery = q.Encode()
	return fmt.Sprintf("%s://%s%s", scheme, r.Host, u.RequestURI())
}

func nonNilDocs(docs []json.RawMessage) []json.RawMessage {
	if docs == nil {
		return []json.RawMessage{}
	}
	return docs
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError translates a typed Error (or any other error, as InternalError)
// into the {error_type, message} envelope at the router boundary (spec §7).
func writeError(w http.ResponseWriter, err error) {
	de, ok := AsError(err)
	if !ok {
		de = wrapErr(KindInternalError, err, "unexpected error")
	}
	writeJSON(w, de.Kind.Status(), errorResponse{ErrorType: string(de.Kind), Message: de.Message})
}

// LogRequests wraps an http.Handler with structured access logging, matching
// the field-oriented style the engine's own query logging uses.
func LogRequests(logger zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rw.status).
			Msg("http request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}
