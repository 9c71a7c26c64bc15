package api

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/mock"

	"github.com/konard/RDmitryV-Trial-RDV/internal/config"
	"github.com/konard/RDmitryV-Trial-RDV/internal/events"
	"github.com/konard/RDmitryV-Trial-RDV/internal/store"
	"github.com/konard/RDmitryV-Trial-RDV/internal/store/memory"
	"github.com/konard/RDmitryV-Trial-RDV/internal/tools"
)

type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Start(ctx context.Context, researchID string) (string, error) {
	args := m.Called(ctx, researchID)
	return args.String(0), args.Error(1)
}

func (m *MockRunner) Cancel(ctx context.Context, researchID string) error {
	args := m.Called(ctx, researchID)
	return args.Error(0)
}

type MockVerifier struct {
	mock.Mock
}

func (m *MockVerifier) VerifyResearch(ctx context.Context, researchID string) ([]store.VerificationRecord, error) {
	args := m.Called(ctx, researchID)
	var result []store.VerificationRecord
	if value := args.Get(0); value != nil {
		result = value.([]store.VerificationRecord)
	}
	return result, args.Error(1)
}

type staticCatalog []tools.Descriptor

func (c staticCatalog) Schemas() []tools.Descriptor {
	return c
}

// unavailableStore fails the readiness check.
type unavailableStore struct {
	*memory.MemoryStore
}

func (unavailableStore) ListResearches(ctx context.Context) ([]store.Research, error) {
	return nil, errors.New("db unavailable")
}

type testEnv struct {
	server *httptest.Server
	store  *memory.MemoryStore
	broker *events.Broker
	api    *Server
}

func newTestEnv(t *testing.T, runner *MockRunner, opts ...Option) *testEnv {
	t.Helper()
	mem := memory.New()
	broker := events.NewBroker()
	var api *Server
	if runner == nil {
		api = NewServer(mem, broker, nil, config.Config{}, opts...)
	} else {
		api = NewServer(mem, broker, runner, config.Config{}, opts...)
	}
	server := httptest.NewServer(api.Router())
	t.Cleanup(server.Close)
	return &testEnv{server: server, store: mem, broker: broker, api: api}
}

func seedResearch(t *testing.T, mem *memory.MemoryStore, id string) {
	t.Helper()
	err := mem.CreateResearch(context.Background(), store.Research{
		ID:        id,
		Title:     "Кофейни Москвы",
		Industry:  "кофейни",
		Region:    "Москва",
		Status:    store.ResearchCreated,
		CreatedAt: "2026-01-01T00:00:00Z",
		UpdatedAt: "2026-01-01T00:00:00Z",
	})
	if err != nil {
		t.Fatalf("seed research: %v", err)
	}
}
