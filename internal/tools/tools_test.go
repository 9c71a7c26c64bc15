package tools

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/konard/RDmitryV-Trial-RDV/internal/sources"
	"github.com/konard/RDmitryV-Trial-RDV/internal/store"
)

type mockSearcher struct {
	mock.Mock
}

func (m *mockSearcher) Search(ctx context.Context, query string, maxResults int) ([]sources.SearchResult, error) {
	args := m.Called(ctx, query, maxResults)
	results, _ := args.Get(0).([]sources.SearchResult)
	return results, args.Error(1)
}

func (m *mockSearcher) SearchNews(ctx context.Context, query string, maxResults int) ([]sources.SearchResult, error) {
	args := m.Called(ctx, query, maxResults)
	results, _ := args.Get(0).([]sources.SearchResult)
	return results, args.Error(1)
}

func (m *mockSearcher) SearchCompanies(ctx context.Context, industry string, region string, maxResults int) ([]sources.Company, error) {
	args := m.Called(ctx, industry, region, maxResults)
	companies, _ := args.Get(0).([]sources.Company)
	return companies, args.Error(1)
}

type fakeFetcher struct {
	page sources.Page
	err  error
}

func (f fakeFetcher) Fetch(ctx context.Context, rawURL string) (sources.Page, error) {
	return f.page, f.err
}

type fakeStats struct {
	stats sources.Statistics
	err   error
}

func (f fakeStats) Indicator(ctx context.Context, metric string, region string) (sources.Statistics, error) {
	return f.stats, f.err
}

type recordingSaver struct {
	saved []store.Finding
	err   error
}

func (r *recordingSaver) AddFinding(ctx context.Context, finding store.Finding) error {
	if r.err != nil {
		return r.err
	}
	r.saved = append(r.saved, finding)
	return nil
}

func fiveResults() []sources.SearchResult {
	return []sources.SearchResult{
		{Title: "A", URL: "https://a.ru", Snippet: "рынок вырос"},
		{Title: "B", URL: "https://b.ru"},
		{Title: "C", URL: "https://c.ru"},
		{Title: "D", URL: "https://d.ru"},
		{Title: "E", URL: "https://e.ru"},
	}
}

func TestSearchWebGeneralProducesMarketStatsFinding(t *testing.T) {
	searcher := &mockSearcher{}
	searcher.On("Search", mock.Anything, "рынок доставки еды Москва", 10).Return(fiveResults(), nil).Once()

	result := NewSearchWebTool(searcher).Execute(context.Background(), RunContext{ResearchID: "r1"}, map[string]any{
		"query": "рынок доставки еды Москва",
	})
	require.True(t, result.Success)
	require.Equal(t, 5, result.Data["results_count"])
	require.Len(t, result.Findings, 1)
	finding := result.Findings[0]
	require.Equal(t, "market_stats", finding.Category)
	require.Equal(t, "https://a.ru", finding.SourceURL)
	require.Contains(t, finding.Content, "1. A (https://a.ru): рынок вырос")
	require.False(t, finding.Saved)
	searcher.AssertExpectations(t)
}

func TestSearchWebNewsUsesNewsSearch(t *testing.T) {
	searcher := &mockSearcher{}
	searcher.On("SearchNews", mock.Anything, "foodtech", 3).Return(fiveResults()[:3], nil).Once()

	result := NewSearchWebTool(searcher).Execute(context.Background(), RunContext{}, map[string]any{
		"query": "foodtech", "search_type": "news", "max_results": 3.0,
	})
	require.True(t, result.Success)
	require.Equal(t, "news", result.Findings[0].Category)
	searcher.AssertExpectations(t)
}

func TestSearchWebFailure(t *testing.T) {
	searcher := &mockSearcher{}
	searcher.On("Search", mock.Anything, "q", 10).Return(nil, context.DeadlineExceeded).Once()

	result := NewSearchWebTool(searcher).Execute(context.Background(), RunContext{}, map[string]any{"query": "q"})
	require.False(t, result.Success)
	require.Equal(t, context.DeadlineExceeded.Error(), result.Error)
	require.Empty(t, result.Findings)
}

func TestSearchWebEmptyResultsHasNoFinding(t *testing.T) {
	searcher := &mockSearcher{}
	searcher.On("Search", mock.Anything, "q", 10).Return([]sources.SearchResult{}, nil).Once()

	result := NewSearchWebTool(searcher).Execute(context.Background(), RunContext{}, map[string]any{"query": "q"})
	require.True(t, result.Success)
	require.Empty(t, result.Findings)
}

func TestSearchCompaniesOneFindingPerCompany(t *testing.T) {
	searcher := &mockSearcher{}
	searcher.On("SearchCompanies", mock.Anything, "доставка", "Москва", 15).Return([]sources.Company{
		{Name: "Самокат", URL: "https://samokat.ru", Domain: "samokat.ru", Snippet: "доставка за 15 минут"},
		{Name: "Лавка", URL: "https://lavka.ru", Domain: "lavka.ru"},
	}, nil).Once()

	result := NewSearchCompaniesTool(searcher).Execute(context.Background(), RunContext{}, map[string]any{
		"industry": "доставка", "region": "Москва",
	})
	require.True(t, result.Success)
	require.Equal(t, 2, result.Data["companies_found"])
	require.Len(t, result.Findings, 2)
	require.Equal(t, "competitor", result.Findings[0].Category)
	require.Equal(t, "Самокат: доставка за 15 минут", result.Findings[0].Content)
	require.Equal(t, "Лавка", result.Findings[1].Content)
}

func TestSearchCompaniesEmptyIsSuccess(t *testing.T) {
	searcher := &mockSearcher{}
	searcher.On("SearchCompanies", mock.Anything, "x", "y", 15).Return(nil, nil).Once()

	result := NewSearchCompaniesTool(searcher).Execute(context.Background(), RunContext{}, map[string]any{"industry": "x", "region": "y"})
	require.True(t, result.Success)
	require.Equal(t, 0, result.Data["companies_found"])
	require.Empty(t, result.Findings)
}

func TestSearchCompaniesRegionOptional(t *testing.T) {
	searcher := &mockSearcher{}
	searcher.On("SearchCompanies", mock.Anything, "кофейни", "", 15).Return([]sources.Company{
		{Name: "Шоколадница", URL: "https://shoko.ru", Domain: "shoko.ru"},
	}, nil).Once()

	registry, err := NewRegistry(NewSearchCompaniesTool(searcher))
	require.NoError(t, err)
	result := registry.Execute(context.Background(), RunContext{ResearchID: "r-1"}, SearchCompanies, map[string]any{"industry": "кофейни"})
	require.True(t, result.Success, result.Error)
	require.Len(t, result.Findings, 1)
	searcher.AssertExpectations(t)
}

func TestParseURLTruncatesContent(t *testing.T) {
	page := sources.Page{URL: "https://rbc.ru/a", Title: "Статья", Text: "абвгдежзик", FetchedAt: "2024-01-01T00:00:00Z"}
	result := NewParseURLTool(fakeFetcher{page: page}, 4).Execute(context.Background(), RunContext{}, map[string]any{"url": page.URL})
	require.True(t, result.Success)
	require.Equal(t, "абвг", result.Data["content"])
	require.Equal(t, 10, result.Data["full_content_length"])
	require.Equal(t, "web_content", result.Findings[0].Category)
	require.Equal(t, "https://rbc.ru/a", result.Findings[0].SourceURL)
}

func TestParseURLFailure(t *testing.T) {
	result := NewParseURLTool(fakeFetcher{err: errors.New("fetch http 500")}, 0).Execute(context.Background(), RunContext{}, map[string]any{"url": "https://x"})
	require.False(t, result.Success)
	require.Equal(t, "fetch http 500", result.Error)
}

func TestGetStatistics(t *testing.T) {
	stats := sources.Statistics{
		Metric: "population", Region: "russia", Country: "Russian Federation", Indicator: "SP.POP.TOTL",
		Name: "Population, total", Source: "World Bank Open Data",
		Values: []sources.DataPoint{{Year: "2022", Value: 143555736}, {Year: "2021", Value: 144746762}},
	}
	result := NewGetStatisticsTool(fakeStats{stats: stats}).Execute(context.Background(), RunContext{}, map[string]any{"metric": "population", "region": "russia"})
	require.True(t, result.Success)
	require.Equal(t, "SP.POP.TOTL", result.Data["indicator"])
	finding := result.Findings[0]
	require.Equal(t, "statistics", finding.Category)
	require.Equal(t, "2022-12-31", finding.Metadata["date"])
	require.Contains(t, finding.Content, "2022: 143555736")
}

func TestGetStatisticsUnsupportedMetric(t *testing.T) {
	result := NewGetStatisticsTool(fakeStats{err: sources.UnsupportedMetricError{Metric: "vibes"}}).Execute(context.Background(), RunContext{}, map[string]any{"metric": "vibes", "region": "ru"})
	require.False(t, result.Success)
	require.Contains(t, result.Error, "vibes")
	require.Contains(t, result.Data["message"], "web search")
}

func TestAnalyzeSentimentTool(t *testing.T) {
	tool := NewAnalyzeSentimentTool()
	result := tool.Execute(context.Background(), RunContext{}, map[string]any{"text": "Рынок показывает рост и успех"})
	require.True(t, result.Success)
	require.Equal(t, "positive", result.Data["sentiment"])
	require.Equal(t, "sentiment", result.Findings[0].Category)

	empty := tool.Execute(context.Background(), RunContext{}, map[string]any{"text": ""})
	require.False(t, empty.Success)
	require.Equal(t, "text is empty", empty.Error)
}

func TestSaveFindingPersistsWithRunContext(t *testing.T) {
	saver := &recordingSaver{}
	tool := NewSaveFindingTool(saver, 5)
	tool.newID = func() string { return "finding-1" }
	tool.now = func() time.Time { return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC) }

	result := tool.Execute(context.Background(), RunContext{ResearchID: "r1", RunID: "run-1", Step: 4}, map[string]any{
		"finding_type": "trend",
		"title":        "Рост рынка",
		"content":      "рынок растёт на 20%",
		"confidence":   0.8,
		"metadata":     map[string]any{"region": "Москва"},
		"research_id":  "ignored",
	})
	require.True(t, result.Success)
	require.Equal(t, "finding-1", result.Data["finding_id"])
	require.Len(t, saver.saved, 1)
	saved := saver.saved[0]
	require.Equal(t, "r1", saved.ResearchID)
	require.Equal(t, "run-1", saved.RunID)
	require.Equal(t, 4, saved.Step)
	require.Equal(t, "рынок", saved.Content)
	require.Equal(t, "2024-03-01T00:00:00Z", saved.CreatedAt)
	require.Equal(t, 0.8, *saved.Confidence)
	require.Equal(t, true, saved.Metadata["agent_generated"])
	require.Equal(t, "Москва", saved.Metadata["region"])
	require.True(t, result.Findings[0].Saved)
}

func TestSaveFindingStorageFailure(t *testing.T) {
	tool := NewSaveFindingTool(&recordingSaver{err: errors.New("db down")}, 0)
	result := tool.Execute(context.Background(), RunContext{ResearchID: "r1"}, map[string]any{
		"finding_type": "trend", "title": "t", "content": "c",
	})
	require.False(t, result.Success)
	require.Equal(t, "save finding: db down", result.Error)
}

func TestSaveFindingRequiresResearch(t *testing.T) {
	result := NewSaveFindingTool(&recordingSaver{}, 0).Execute(context.Background(), RunContext{}, map[string]any{
		"finding_type": "trend", "title": "t", "content": "c",
	})
	require.False(t, result.Success)
}

func TestRegistryValidatesSaveFindingConfidence(t *testing.T) {
	registry, err := NewRegistry(NewSaveFindingTool(&recordingSaver{}, 0))
	require.NoError(t, err)
	result := registry.Execute(context.Background(), RunContext{ResearchID: "r1"}, SaveFinding, map[string]any{
		"finding_type": "trend", "title": "t", "content": "c", "confidence": 1.5,
	})
	require.False(t, result.Success)
	require.Contains(t, result.Error, "invalid arguments")
}
