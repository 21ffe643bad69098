package persist

import "fmt"

// DayTotals are the aggregate fields tracked per day, provider, and model.
type DayTotals struct {
	Requests        int64   `json:"requests"`
	InputTokens     int64   `json:"input_tokens"`
	OutputTokens    int64   `json:"output_tokens"`
	CacheReadTokens int64   `json:"cache_read_tokens"`
	CacheWriteToks  int64   `json:"cache_write_tokens"`
	Cost            float64 `json:"cost"`
	Errors          int64   `json:"errors"`
}

func (t *DayTotals) add(o DayTotals) {
	t.Requests += o.Requests
	t.InputTokens += o.InputTokens
	t.OutputTokens += o.OutputTokens
	t.CacheReadTokens += o.CacheReadTokens
	t.CacheWriteToks += o.CacheWriteToks
	t.Cost += o.Cost
	t.Errors += o.Errors
}

// DayReport is one day's totals with per-provider and per-model breakdowns.
type DayReport struct {
	Day        string               `json:"day"`
	Totals     DayTotals            `json:"totals"`
	ByProvider map[string]DayTotals `json:"by_provider"`
	ByModel    map[string]DayTotals `json:"by_model"`
}

// DailyUsage reads persisted aggregates for the inclusive day range
// (YYYY-MM-DD strings), newest day first.
func (s *Sink) DailyUsage(from, to string) ([]DayReport, error) {
	const query = `
		SELECT day, provider, model, requests, input_tokens, output_tokens,
		       cache_read_tokens, cache_write_tokens, cost, errors
		FROM daily_usage
		WHERE day >= ? AND day <= ?
		ORDER BY day DESC`
	rows, err := s.db.Query(query, from, to)
	if err != nil {
		return nil, fmt.Errorf("query daily_usage: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var order []string
	byDay := make(map[string]*DayReport)
	for rows.Next() {
		var day, provider, model string
		var t DayTotals
		if err := rows.Scan(&day, &provider, &model, &t.Requests, &t.InputTokens,
			&t.OutputTokens, &t.CacheReadTokens, &t.CacheWriteToks, &t.Cost, &t.Errors); err != nil {
			return nil, err
		}
		rep, ok := byDay[day]
		if !ok {
			rep = &DayReport{
				Day:        day,
				ByProvider: make(map[string]DayTotals),
				ByModel:    make(map[string]DayTotals),
			}
			byDay[day] = rep
			order = append(order, day)
		}
		rep.Totals.add(t)
		pt := rep.ByProvider[provider]
		pt.add(t)
		rep.ByProvider[provider] = pt
		mt := rep.ByModel[model]
		mt.add(t)
		rep.ByModel[model] = mt
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	reports := make([]DayReport, 0, len(order))
	for _, day := range order {
		reports = append(reports, *byDay[day])
	}
	return reports, nil
}
