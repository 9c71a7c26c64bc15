//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	testcontainers "github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/konard/RDmitryV-Trial-RDV/internal/events"
	storepkg "github.com/konard/RDmitryV-Trial-RDV/internal/store"
)

var (
	testDB   *sql.DB
	testConn string
)

func TestMain(m *testing.M) {
	ctx := context.Background()
	container, err := tcpostgres.Run(
		ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("research"),
		tcpostgres.WithUsername("research"),
		tcpostgres.WithPassword("research"),
		testcontainers.WithWaitStrategy(wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, "start postgres container:", err)
		os.Exit(1)
	}
	conn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		fmt.Fprintln(os.Stderr, "connection string:", err)
		os.Exit(1)
	}
	ldb, err := sql.Open("pgx", conn)
	if err != nil {
		_ = container.Terminate(ctx)
		fmt.Fprintln(os.Stderr, "open db:", err)
		os.Exit(1)
	}
	if err := waitForDB(ldb); err != nil {
		_ = ldb.Close()
		_ = container.Terminate(ctx)
		fmt.Fprintln(os.Stderr, "ping db:", err)
		os.Exit(1)
	}
	if err := applyMigrations(ctx, ldb); err != nil {
		_ = ldb.Close()
		_ = container.Terminate(ctx)
		fmt.Fprintln(os.Stderr, "apply migrations:", err)
		os.Exit(1)
	}
	testDB = ldb
	testConn = conn
	code := m.Run()
	_ = ldb.Close()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func applyMigrations(ctx context.Context, db *sql.DB) error {
	root, err := repoRoot()
	if err != nil {
		return err
	}
	migrationsDir := filepath.Join(root, "migrations")
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return err
	}
	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)
	for _, name := range files {
		contents, err := os.ReadFile(filepath.Join(migrationsDir, name))
		if err != nil {
			return err
		}
		if _, err := db.ExecContext(ctx, string(contents)); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func waitForDB(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	var lastErr error
	for i := 0; i < 20; i++ {
		if err := db.PingContext(ctx); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(500 * time.Millisecond)
	}
	return lastErr
}

func repoRoot() (string, error) {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("resolve repo root")
	}
	return filepath.Clean(filepath.Join(filepath.Dir(file), "..", "..", "..")), nil
}

func cleanDB(t *testing.T) {
	t.Helper()
	_, err := testDB.Exec(`TRUNCATE TABLE
		research_events,
		research_event_sequences,
		verification_records,
		findings,
		agent_runs,
		researches,
		trusted_sources,
		blocked_sources,
		source_stats
		CASCADE`)
	if err != nil {
		t.Fatalf("clean db: %v", err)
	}
}

func newStore(t *testing.T) *PostgresStore {
	t.Helper()
	cleanDB(t)
	return &PostgresStore{db: testDB}
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func TestNew_Success(t *testing.T) {
	pgStore, err := New(testConn)
	require.NoError(t, err)
	require.NotNil(t, pgStore)
	_ = pgStore.Close()
}

func TestResearchLifecycle(t *testing.T) {
	ctx := context.Background()
	pg := newStore(t)
	id := uuid.New().String()

	require.NoError(t, pg.CreateResearch(ctx, storepkg.Research{ID: id, Title: "Доставка еды", Industry: "food delivery", Region: "Москва", CreatedAt: now(), UpdatedAt: now()}))
	require.NoError(t, pg.UpdateResearchStatus(ctx, id, storepkg.ResearchRunning, now()))

	research, err := pg.GetResearch(ctx, id)
	require.NoError(t, err)
	require.Equal(t, storepkg.ResearchRunning, research.Status)
	require.Equal(t, "Москва", research.Region)

	list, err := pg.ListResearches(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	runID := uuid.New().String()
	require.NoError(t, pg.CreateAgentRun(ctx, storepkg.AgentRun{ID: runID, ResearchID: id, Status: storepkg.RunRunning, StartedAt: now()}))
	require.NoError(t, pg.UpdateAgentRun(ctx, storepkg.AgentRun{
		ID:            runID,
		ResearchID:    id,
		Status:        storepkg.RunCompleted,
		StepsTaken:    3,
		FindingsCount: 4,
		Report:        "# Report",
		FinalState:    &events.State{ResearchID: id, StepCount: 3},
		CompletedAt:   now(),
	}))
	run, err := pg.GetLatestAgentRun(ctx, id)
	require.NoError(t, err)
	require.Equal(t, storepkg.RunCompleted, run.Status)
	require.Equal(t, 3, run.FinalState.StepCount)
	require.NotEmpty(t, run.CompletedAt)
}

func TestFindingsAndVerifications(t *testing.T) {
	ctx := context.Background()
	pg := newStore(t)
	id := uuid.New().String()
	require.NoError(t, pg.CreateResearch(ctx, storepkg.Research{ID: id, CreatedAt: now(), UpdatedAt: now()}))

	confidence := 0.6
	for i := 0; i < 3; i++ {
		require.NoError(t, pg.AddFinding(ctx, storepkg.Finding{
			ID:         uuid.New().String(),
			ResearchID: id,
			Step:       i + 1,
			Category:   "news",
			Title:      fmt.Sprintf("finding %d", i),
			Confidence: &confidence,
			Metadata:   map[string]any{"index": float64(i)},
			CreatedAt:  now(),
		}))
	}
	findings, err := pg.ListFindings(ctx, id)
	require.NoError(t, err)
	require.Len(t, findings, 3)
	require.Equal(t, "finding 0", findings[0].Title)
	require.Equal(t, float64(2), findings[2].Metadata["index"])

	agreement := 75.0
	require.NoError(t, pg.AddVerificationRecord(ctx, storepkg.VerificationRecord{
		ID:                  uuid.New().String(),
		ResearchID:          id,
		FindingID:           findings[0].ID,
		ReliabilityRating:   "good",
		AgreementPercentage: &agreement,
		Reliability:         "high",
		ConfidenceLevel:     "medium",
		Status:              "verified",
		Issues:              []string{"outdated"},
		CreatedAt:           now(),
	}))
	records, err := pg.ListVerificationRecords(ctx, id)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, 75.0, *records[0].AgreementPercentage)
	require.Equal(t, []string{"outdated"}, records[0].Issues)
	require.Nil(t, records[0].Warnings)
}

func TestSources(t *testing.T) {
	ctx := context.Background()
	pg := newStore(t)

	require.NoError(t, pg.UpsertTrustedSource(ctx, storepkg.TrustedSource{Domain: "www.rosstat.gov.ru", Name: "Rosstat", TrustScore: 0.95, IsOfficial: true}))
	require.NoError(t, pg.UpsertBlockedSource(ctx, storepkg.BlockedSource{Domain: "spam.example", Reason: "spam"}))
	require.NoError(t, pg.RecordSourceFetch(ctx, "rosstat.gov.ru", true, now()))
	require.NoError(t, pg.RecordSourceFetch(ctx, "rosstat.gov.ru", false, now()))

	trusted, err := pg.GetTrustedSource(ctx, "rosstat.gov.ru")
	require.NoError(t, err)
	require.Equal(t, 0.95, trusted.TrustScore)

	blocked, err := pg.GetBlockedSource(ctx, "spam.example")
	require.NoError(t, err)
	require.Equal(t, "spam", blocked.Reason)

	stats, err := pg.GetSourceStats(ctx, "rosstat.gov.ru")
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.SuccessCount)
	require.Equal(t, int64(1), stats.FailureCount)

	missing, err := pg.GetSourceStats(ctx, "unknown.example")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestEvents_ConcurrentSeq(t *testing.T) {
	ctx := context.Background()
	pg := newStore(t)
	id := uuid.New().String()

	var wg sync.WaitGroup
	seqs := make(chan int64, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seq, err := pg.NextSeq(ctx, id)
			if err == nil {
				seqs <- seq
			}
		}()
	}
	wg.Wait()
	close(seqs)
	seen := map[int64]bool{}
	for seq := range seqs {
		seen[seq] = true
	}
	require.Len(t, seen, 20)

	require.NoError(t, pg.AppendEvent(ctx, events.Event{ResearchID: id, Seq: 1, Type: events.TypeProgress, Timestamp: now(), State: &events.State{StepCount: 1}}))
	require.NoError(t, pg.AppendEvent(ctx, events.Event{ResearchID: id, Seq: 2, Type: events.TypeCompleted, Timestamp: now(), Results: &events.Results{Status: "completed"}}))
	list, err := pg.ListEvents(ctx, id, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "completed", list[0].Results.Status)
}
