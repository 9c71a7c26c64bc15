package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

const worldBankURL = "https://api.worldbank.org/v2"

var worldBankIndicators = map[string]string{
	"population":       "SP.POP.TOTL",
	"gdp":              "NY.GDP.MKTP.CD",
	"gdp_growth":       "NY.GDP.MKTP.KD.ZG",
	"growth_rate":      "NY.GDP.MKTP.KD.ZG",
	"gdp_per_capita":   "NY.GDP.PCAP.CD",
	"inflation":        "FP.CPI.TOTL.ZG",
	"unemployment":     "SL.UEM.TOTL.ZS",
	"internet_users":   "IT.NET.USER.ZS",
	"retail_sales":     "NE.CON.PRVT.CD",
	"household_income": "NE.CON.PRVT.PC.KD",
}

var worldBankRegions = map[string]string{
	"russia":          "RUS",
	"россия":          "RUS",
	"рф":              "RUS",
	"ru":              "RUS",
	"rus":             "RUS",
	"москва":          "RUS",
	"moscow":          "RUS",
	"санкт-петербург": "RUS",
	"kazakhstan":      "KAZ",
	"казахстан":       "KAZ",
	"kz":              "KAZ",
	"belarus":         "BLR",
	"беларусь":        "BLR",
	"by":              "BLR",
	"usa":             "USA",
	"us":              "USA",
	"сша":             "USA",
	"china":           "CHN",
	"китай":           "CHN",
	"cn":              "CHN",
	"germany":         "DEU",
	"германия":        "DEU",
	"de":              "DEU",
	"world":           "WLD",
	"мир":             "WLD",
}

type UnsupportedMetricError struct {
	Metric string
}

func (e UnsupportedMetricError) Error() string {
	return fmt.Sprintf("metric %q is not supported; available: %s", e.Metric, strings.Join(SupportedMetrics(), ", "))
}

type UnsupportedRegionError struct {
	Region string
}

func (e UnsupportedRegionError) Error() string {
	return fmt.Sprintf("no statistics available for region %q", e.Region)
}

type DataPoint struct {
	Year  string  `json:"year"`
	Value float64 `json:"value"`
}

type Statistics struct {
	Metric    string      `json:"metric"`
	Region    string      `json:"region"`
	Country   string      `json:"country"`
	Indicator string      `json:"indicator"`
	Name      string      `json:"name"`
	Values    []DataPoint `json:"values"`
	Source    string      `json:"source"`
}

// WorldBank reads indicators from the public World Bank API.
type WorldBank struct {
	limitedClient
}

func NewWorldBank(rps float64, opts ...Option) *WorldBank {
	return &WorldBank{limitedClient: newLimitedClient(worldBankURL, rps, opts...)}
}

func SupportedMetrics() []string {
	metrics := make([]string, 0, len(worldBankIndicators))
	for metric := range worldBankIndicators {
		metrics = append(metrics, metric)
	}
	sort.Strings(metrics)
	return metrics
}

func ResolveRegion(region string) (string, bool) {
	code, ok := worldBankRegions[strings.ToLower(strings.TrimSpace(region))]
	return code, ok
}

func (w *WorldBank) Indicator(ctx context.Context, metric string, region string) (Statistics, error) {
	metricKey := strings.ToLower(strings.TrimSpace(metric))
	indicator, ok := worldBankIndicators[metricKey]
	if !ok {
		return Statistics{}, UnsupportedMetricError{Metric: metric}
	}
	country, ok := ResolveRegion(region)
	if !ok {
		return Statistics{}, UnsupportedRegionError{Region: region}
	}

	key := fmt.Sprintf("worldbank:%s:%s", country, indicator)
	var stats Statistics
	if w.loadCached(ctx, key, &stats) {
		stats.Metric = metricKey
		stats.Region = region
		return stats, nil
	}

	endpoint := fmt.Sprintf("%s/country/%s/indicator/%s?%s", strings.TrimRight(w.endpoint, "/"), country, indicator, url.Values{
		"format":   {"json"},
		"per_page": {"10"},
		"mrv":      {"10"},
	}.Encode())
	resp, err := w.do(ctx, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	})
	if err != nil {
		return Statistics{}, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return Statistics{}, fmt.Errorf("world bank http %d", resp.StatusCode)
	}
	body, err := readBody(resp, 1<<20)
	if err != nil {
		return Statistics{}, err
	}
	stats, err = parseWorldBank(body)
	if err != nil {
		return Statistics{}, err
	}
	stats.Indicator = indicator
	stats.Source = "World Bank Open Data"
	if stats.Country == "" {
		stats.Country = country
	}
	w.storeCached(ctx, key, stats)
	stats.Metric = metricKey
	stats.Region = region
	return stats, nil
}

type worldBankRow struct {
	Indicator struct {
		ID    string `json:"id"`
		Value string `json:"value"`
	} `json:"indicator"`
	Country struct {
		ID    string `json:"id"`
		Value string `json:"value"`
	} `json:"country"`
	Date  string   `json:"date"`
	Value *float64 `json:"value"`
}

// parseWorldBank decodes the two-element [meta, rows] payload and drops null values.
func parseWorldBank(body []byte) (Statistics, error) {
	var envelope []json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return Statistics{}, fmt.Errorf("decode world bank response: %w", err)
	}
	if len(envelope) < 2 {
		var message []struct {
			Message []struct {
				Value string `json:"value"`
			} `json:"message"`
		}
		if json.Unmarshal(body, &message) == nil && len(message) > 0 && len(message[0].Message) > 0 {
			return Statistics{}, fmt.Errorf("world bank: %s", message[0].Message[0].Value)
		}
		return Statistics{}, fmt.Errorf("world bank returned no data")
	}
	var rows []worldBankRow
	if err := json.Unmarshal(envelope[1], &rows); err != nil {
		return Statistics{}, fmt.Errorf("decode world bank rows: %w", err)
	}
	stats := Statistics{}
	for _, row := range rows {
		if stats.Name == "" {
			stats.Name = row.Indicator.Value
			stats.Country = row.Country.Value
		}
		if row.Value == nil {
			continue
		}
		stats.Values = append(stats.Values, DataPoint{Year: row.Date, Value: *row.Value})
	}
	if len(stats.Values) == 0 {
		return Statistics{}, fmt.Errorf("world bank returned no values")
	}
	return stats, nil
}
