package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/konard/RDmitryV-Trial-RDV/internal/events"
	"github.com/konard/RDmitryV-Trial-RDV/internal/store"
)

var _ store.Store = (*PostgresStore)(nil)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	cleanup := func() {
		_ = db.Close()
	}
	return &PostgresStore{db: db}, mock, cleanup
}

func TestNew_OpenError(t *testing.T) {
	original := openDB
	t.Cleanup(func() { openDB = original })
	openDB = func(driverName, dataSourceName string) (*sql.DB, error) {
		return nil, errors.New("open failed")
	}
	if _, err := New("postgres://nowhere"); err == nil {
		t.Fatalf("expected open error")
	}
}

func TestVerifySchema_QueryError(t *testing.T) {
	ctx := context.Background()
	pgStore, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectQuery("SELECT to_regclass").WillReturnError(errors.New("query error"))
	if err := verifySchema(ctx, pgStore.db); err == nil {
		t.Fatalf("expected schema verification error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestVerifySchema_MissingTable(t *testing.T) {
	ctx := context.Background()
	pgStore, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectQuery("SELECT to_regclass").WithArgs("public.researches").
		WillReturnRows(sqlmock.NewRows([]string{"to_regclass"}).AddRow(nil))
	err := verifySchema(ctx, pgStore.db)
	if err == nil {
		t.Fatalf("expected missing table error")
	}
	if err.Error() != "database schema missing: researches table not found (run migrations/001_init.sql)" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGetResearch_NotFound(t *testing.T) {
	ctx := context.Background()
	pgStore, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectQuery("SELECT id, title, product_description").WithArgs("missing").WillReturnError(sql.ErrNoRows)
	research, err := pgStore.GetResearch(ctx, "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if research != nil {
		t.Fatalf("expected nil research, got %+v", research)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListResearches_RowsErr(t *testing.T) {
	ctx := context.Background()
	pgStore, mock, cleanup := newMockStore(t)
	defer cleanup()

	columns := []string{"id", "title", "product_description", "industry", "region", "research_type", "status", "created_at", "updated_at"}
	rows := sqlmock.NewRows(columns).
		AddRow("r-1", "t", "p", "food", "moscow", "market", "created", time.Now(), time.Now()).
		AddRow("r-2", "t", "p", "food", "moscow", "market", "created", time.Now(), time.Now())
	rows.RowError(1, errors.New("row error"))

	mock.ExpectQuery("SELECT id, title, product_description").WillReturnRows(rows)
	if _, err := pgStore.ListResearches(ctx); err == nil {
		t.Fatalf("expected rows error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateResearch_DefaultsStatus(t *testing.T) {
	ctx := context.Background()
	pgStore, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectExec("INSERT INTO researches").
		WithArgs("r-1", "Title", "", "food", "moscow", "", store.ResearchCreated, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := pgStore.CreateResearch(ctx, store.Research{ID: "r-1", Title: "Title", Industry: "food", Region: "moscow"}); err != nil {
		t.Fatalf("create research: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetLatestAgentRun_DecodesState(t *testing.T) {
	ctx := context.Background()
	pgStore, mock, cleanup := newMockStore(t)
	defer cleanup()

	started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "research_id", "status", "steps_taken", "findings_count", "report", "error", "final_state", "started_at", "completed_at"}).
		AddRow("run-1", "r-1", store.RunCompleted, 3, 4, "# Report", nil, []byte(`{"research_id":"r-1","step_count":3,"pending_subtasks":["x"]}`), started, started.Add(time.Minute))
	mock.ExpectQuery("SELECT id, research_id, status, steps_taken").WithArgs("r-1").WillReturnRows(rows)

	run, err := pgStore.GetLatestAgentRun(ctx, "r-1")
	if err != nil {
		t.Fatalf("get latest run: %v", err)
	}
	if run.StepsTaken != 3 || run.FindingsCount != 4 || run.Report != "# Report" || run.Error != "" {
		t.Fatalf("unexpected run: %+v", run)
	}
	if run.FinalState == nil || run.FinalState.StepCount != 3 || run.FinalState.PendingSubtasks[0] != "x" {
		t.Fatalf("unexpected state: %+v", run.FinalState)
	}
	if run.CompletedAt != "2024-05-01T10:01:00Z" {
		t.Fatalf("unexpected completed_at %q", run.CompletedAt)
	}
}

func TestListFindings_ScanError(t *testing.T) {
	ctx := context.Background()
	pgStore, mock, cleanup := newMockStore(t)
	defer cleanup()

	rows := sqlmock.NewRows([]string{"id", "research_id", "run_id", "step", "category", "title", "content", "source_url", "confidence", "metadata", "created_at"}).
		AddRow("f-1", "r-1", "run-1", "not-int", "news", "t", "c", nil, nil, []byte("{}"), time.Now())
	mock.ExpectQuery("SELECT id, research_id, run_id, step").WillReturnRows(rows)
	if _, err := pgStore.ListFindings(ctx, "r-1"); err == nil {
		t.Fatalf("expected scan error")
	}
}

func TestListFindings_NullableColumns(t *testing.T) {
	ctx := context.Background()
	pgStore, mock, cleanup := newMockStore(t)
	defer cleanup()

	rows := sqlmock.NewRows([]string{"id", "research_id", "run_id", "step", "category", "title", "content", "source_url", "confidence", "metadata", "created_at"}).
		AddRow("f-1", "r-1", nil, 1, "news", "t", "c", nil, nil, []byte(`{"k":"v"}`), time.Now()).
		AddRow("f-2", "r-1", "run-1", 2, "news", "t", "c", "https://a.example", 0.8, nil, time.Now())
	mock.ExpectQuery("SELECT id, research_id, run_id, step").WillReturnRows(rows)

	findings, err := pgStore.ListFindings(ctx, "r-1")
	if err != nil {
		t.Fatalf("list findings: %v", err)
	}
	if len(findings) != 2 {
		t.Fatalf("expected 2 findings, got %d", len(findings))
	}
	if findings[0].Confidence != nil || findings[0].Metadata["k"] != "v" {
		t.Fatalf("unexpected first finding: %+v", findings[0])
	}
	if findings[1].Confidence == nil || *findings[1].Confidence != 0.8 || findings[1].SourceURL != "https://a.example" {
		t.Fatalf("unexpected second finding: %+v", findings[1])
	}
}

func TestRecordSourceFetch_PicksCounter(t *testing.T) {
	ctx := context.Background()
	pgStore, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectExec("DO UPDATE SET success_count").WithArgs("example.com", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DO UPDATE SET failure_count").WithArgs("example.com", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))

	if err := pgStore.RecordSourceFetch(ctx, "WWW.Example.com", true, "2024-01-01T00:00:00Z"); err != nil {
		t.Fatalf("record success: %v", err)
	}
	if err := pgStore.RecordSourceFetch(ctx, "example.com", false, "2024-01-01T00:00:00Z"); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestNextSeq(t *testing.T) {
	ctx := context.Background()
	pgStore, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectQuery("INSERT INTO research_event_sequences").WithArgs("r-1").
		WillReturnRows(sqlmock.NewRows([]string{"last_seq"}).AddRow(int64(7)))
	seq, err := pgStore.NextSeq(ctx, "r-1")
	if err != nil {
		t.Fatalf("next seq: %v", err)
	}
	if seq != 7 {
		t.Fatalf("expected seq 7, got %d", seq)
	}
}

func TestListEvents_DecodesPayloads(t *testing.T) {
	ctx := context.Background()
	pgStore, mock, cleanup := newMockStore(t)
	defer cleanup()

	rows := sqlmock.NewRows([]string{"research_id", "seq", "type", "timestamp", "message", "state", "results", "error"}).
		AddRow("r-1", int64(1), events.TypeProgress, time.Now(), "Step 1", []byte(`{"step_count":1}`), nil, nil).
		AddRow("r-1", int64(2), events.TypeCompleted, time.Now(), nil, nil, []byte(`{"status":"completed","steps_taken":1}`), nil)
	mock.ExpectQuery("SELECT research_id, seq, type").WithArgs("r-1", int64(0)).WillReturnRows(rows)

	list, err := pgStore.ListEvents(ctx, "r-1", 0)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 events, got %d", len(list))
	}
	if list[0].State == nil || list[0].State.StepCount != 1 || list[0].Results != nil {
		t.Fatalf("unexpected progress event: %+v", list[0])
	}
	if list[1].Results == nil || list[1].Results.Status != "completed" {
		t.Fatalf("unexpected terminal event: %+v", list[1])
	}
}

func TestListEvents_InvalidState(t *testing.T) {
	ctx := context.Background()
	pgStore, mock, cleanup := newMockStore(t)
	defer cleanup()

	rows := sqlmock.NewRows([]string{"research_id", "seq", "type", "timestamp", "message", "state", "results", "error"}).
		AddRow("r-1", int64(1), events.TypeProgress, time.Now(), nil, []byte(`{bad`), nil, nil)
	mock.ExpectQuery("SELECT research_id, seq, type").WillReturnRows(rows)
	if _, err := pgStore.ListEvents(ctx, "r-1", 0); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestAppendEvent_NormalizesType(t *testing.T) {
	ctx := context.Background()
	pgStore, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectExec("INSERT INTO research_events").
		WithArgs("r-1", int64(3), events.TypeStepError, sqlmock.AnyArg(), "boom", nil, nil, "tool failed").
		WillReturnResult(sqlmock.NewResult(0, 1))
	err := pgStore.AppendEvent(ctx, events.Event{ResearchID: "r-1", Seq: 3, Type: " STEP_ERROR ", Message: "boom", Error: "tool failed"})
	if err != nil {
		t.Fatalf("append event: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestHelpers(t *testing.T) {
	if nullString("  ") != nil {
		t.Fatalf("expected nil for blank string")
	}
	if parseTimestampNull("not-a-time") != nil {
		t.Fatalf("expected nil for invalid timestamp")
	}
	if decodeStringSlice([]byte("[]")) != nil {
		t.Fatalf("expected nil for empty slice")
	}
	if got := decodeJSONMap([]byte("{bad")); len(got) != 0 {
		t.Fatalf("expected empty map, got %v", got)
	}
	if floatPtrValue(nil) != nil {
		t.Fatalf("expected nil float")
	}
	encoded, err := encodeJSONNull[events.State](nil)
	if err != nil || encoded != nil {
		t.Fatalf("expected nil encoding, got %v %v", encoded, err)
	}
}
