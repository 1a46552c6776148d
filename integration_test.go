//go:build integration

package dcquery_test

import (
	"context"
	"testing"

	dcquery "github.com/datacommons-io/query-compiler"
)

func TestEngine_Data_AgainstLiveSchema(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, defaultTestConfig())

	subjectTable, err := e.Catalog().GetTable("subject")
	if err != nil {
		t.Fatalf("subject table not found in catalog: %v", err)
	}

	req := &dcquery.RequestSpec{Endpoint: "subject"}
	proj, err := dcquery.Normalize(e.Catalog(), subjectTable, dcquery.ModeData, nil, nil, nil, false)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(proj.Ordered()) == 0 {
		t.Fatal("expected at least one table projection")
	}

	docs, total, sql, err := e.Data(context.Background(), req, nil, 100, 0)
	if err != nil {
		t.Fatalf("Data: %v", err)
	}
	if total < int64(len(docs)) {
		t.Errorf("total %d should be >= returned doc count %d", total, len(docs))
	}
	if sql == "" {
		t.Error("expected non-empty query_sql")
	}
}

func TestEngine_ReleaseMetadata_AgainstLiveSchema(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, defaultTestConfig())

	doc, err := e.ReleaseMetadata(context.Background())
	if err != nil {
		t.Fatalf("ReleaseMetadata: %v", err)
	}
	if len(doc) == 0 {
		t.Error("expected non-empty release metadata document")
	}
}
