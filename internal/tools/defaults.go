package tools

type Dependencies struct {
	Search          WebSearcher
	Companies       CompanySearcher
	Fetcher         PageFetcher
	Statistics      StatisticsSource
	Findings        FindingSaver
	MaxContentChars int
}

// NewDefaultRegistry registers the six research tools.
func NewDefaultRegistry(deps Dependencies) (*Registry, error) {
	return NewRegistry(
		NewSearchWebTool(deps.Search),
		NewParseURLTool(deps.Fetcher, deps.MaxContentChars),
		NewSearchCompaniesTool(deps.Companies),
		NewGetStatisticsTool(deps.Statistics),
		NewAnalyzeSentimentTool(),
		NewSaveFindingTool(deps.Findings, deps.MaxContentChars),
	)
}
