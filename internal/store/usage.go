package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// DailyUsage is a row in the daily_usage_stats table: the per-day counters
// for one provider.
type DailyUsage struct {
	Date          string  `json:"date"`
	Provider      string  `json:"provider"`
	RequestCount  int64   `json:"request_count"`
	CharCount     int64   `json:"char_count"`
	TokensIn      int64   `json:"token_input"`
	TokensOut     int64   `json:"token_output"`
	CostEstimated float64 `json:"cost_estimated"`
}

// UsageDelta is one record-usage increment. RequestCount is implicit: every
// increment counts as one request.
type UsageDelta struct {
	CharCount     int64
	TokensIn      int64
	TokensOut     int64
	CostEstimated float64
}

// GetDailyUsage retrieves the counters for (date, provider). Returns
// (nil, nil) when no usage has been recorded yet.
func (s *Store) GetDailyUsage(ctx context.Context, date, provider string) (*DailyUsage, error) {
	u := &DailyUsage{}
	err := s.reader.QueryRowContext(ctx, `
		SELECT date, provider, request_count, char_count, token_input, token_output, cost_estimated
		FROM daily_usage_stats
		WHERE date = ? AND provider = ?`, date, provider,
	).Scan(&u.Date, &u.Provider, &u.RequestCount, &u.CharCount, &u.TokensIn, &u.TokensOut, &u.CostEstimated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get daily usage (%s, %s): %w", date, provider, err)
	}
	return u, nil
}

// IncrementUsage adds the delta to the (date, provider) counters as a single
// atomic upsert: a missing row is created with request_count=1, an existing
// row has its counters added to and request_count bumped by one.
func (s *Store) IncrementUsage(ctx context.Context, date, provider string, d UsageDelta) error {
	_, err := s.writer.ExecContext(ctx, `
		INSERT INTO daily_usage_stats (
			date, provider, request_count, char_count, token_input, token_output, cost_estimated
		) VALUES (?, ?, 1, ?, ?, ?, ?)
		ON CONFLICT(date, provider) DO UPDATE SET
			request_count = request_count + 1,
			char_count = char_count + excluded.char_count,
			token_input = token_input + excluded.token_input,
			token_output = token_output + excluded.token_output,
			cost_estimated = cost_estimated + excluded.cost_estimated`,
		date, provider, d.CharCount, d.TokensIn, d.TokensOut, d.CostEstimated,
	)
	if err != nil {
		return fmt.Errorf("store: increment usage (%s, %s): %w", date, provider, err)
	}
	return nil
}

// ListDailyUsage returns all provider rows for a date.
func (s *Store) ListDailyUsage(ctx context.Context, date string) ([]*DailyUsage, error) {
	rows, err := s.reader.QueryContext(ctx, `
		SELECT date, provider, request_count, char_count, token_input, token_output, cost_estimated
		FROM daily_usage_stats
		WHERE date = ?
		ORDER BY provider`, date,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list daily usage: %w", err)
	}
	defer rows.Close()

	var results []*DailyUsage
	for rows.Next() {
		u := &DailyUsage{}
		if err := rows.Scan(&u.Date, &u.Provider, &u.RequestCount, &u.CharCount,
			&u.TokensIn, &u.TokensOut, &u.CostEstimated); err != nil {
			return nil, fmt.Errorf("store: scan usage row: %w", err)
		}
		results = append(results, u)
	}
	return results, rows.Err()
}

// TrendPoint is one day in the dashboard trend series.
type TrendPoint struct {
	Date     string  `json:"date"`
	Requests int64   `json:"requests"`
	Chars    int64   `json:"chars"`
	Cost     float64 `json:"cost"`
}

// DashboardStats aggregates usage for the dashboard endpoint.
type DashboardStats struct {
	Days          int                    `json:"days"`
	ByProvider    map[string]*DailyUsage `json:"by_provider"` // summed over the window; Date left empty
	Trend         []TrendPoint           `json:"trend"`
	MonthByChars  map[string]int64       `json:"month_chars"` // current-month char counts per provider
	MonthCost     float64                `json:"month_cost"`
	TotalRequests int64                  `json:"total_requests"`
	TotalCost     float64                `json:"total_cost"`
}

// GetDashboardStats aggregates the last `days` days (including today) per
// provider, the daily trend over that window, and current-calendar-month
// totals. Dates use the server's local timezone, like the counters
// themselves.
func (s *Store) GetDashboardStats(ctx context.Context, days int) (*DashboardStats, error) {
	if days < 1 {
		days = 1
	}
	now := time.Now()
	since := now.AddDate(0, 0, -(days - 1)).Format(dateFormat)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).Format(dateFormat)

	stats := &DashboardStats{
		Days:         days,
		ByProvider:   make(map[string]*DailyUsage),
		MonthByChars: make(map[string]int64),
	}

	rows, err := s.reader.QueryContext(ctx, `
		SELECT provider,
		       COALESCE(SUM(request_count), 0),
		       COALESCE(SUM(char_count), 0),
		       COALESCE(SUM(token_input), 0),
		       COALESCE(SUM(token_output), 0),
		       COALESCE(SUM(cost_estimated), 0.0)
		FROM daily_usage_stats
		WHERE date >= ?
		GROUP BY provider`, since,
	)
	if err != nil {
		return nil, fmt.Errorf("store: dashboard provider aggregates: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		u := &DailyUsage{}
		if err := rows.Scan(&u.Provider, &u.RequestCount, &u.CharCount,
			&u.TokensIn, &u.TokensOut, &u.CostEstimated); err != nil {
			return nil, fmt.Errorf("store: scan dashboard aggregate: %w", err)
		}
		stats.ByProvider[u.Provider] = u
		stats.TotalRequests += u.RequestCount
		stats.TotalCost += u.CostEstimated
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: dashboard aggregates iteration: %w", err)
	}

	trendRows, err := s.reader.QueryContext(ctx, `
		SELECT date,
		       COALESCE(SUM(request_count), 0),
		       COALESCE(SUM(char_count), 0),
		       COALESCE(SUM(cost_estimated), 0.0)
		FROM daily_usage_stats
		WHERE date >= ?
		GROUP BY date
		ORDER BY date ASC`, since,
	)
	if err != nil {
		return nil, fmt.Errorf("store: dashboard trend: %w", err)
	}
	defer trendRows.Close()

	for trendRows.Next() {
		var p TrendPoint
		if err := trendRows.Scan(&p.Date, &p.Requests, &p.Chars, &p.Cost); err != nil {
			return nil, fmt.Errorf("store: scan trend row: %w", err)
		}
		stats.Trend = append(stats.Trend, p)
	}
	if err := trendRows.Err(); err != nil {
		return nil, fmt.Errorf("store: dashboard trend iteration: %w", err)
	}

	monthRows, err := s.reader.QueryContext(ctx, `
		SELECT provider,
		       COALESCE(SUM(char_count), 0),
		       COALESCE(SUM(cost_estimated), 0.0)
		FROM daily_usage_stats
		WHERE date >= ?
		GROUP BY provider`, monthStart,
	)
	if err != nil {
		return nil, fmt.Errorf("store: dashboard month aggregates: %w", err)
	}
	defer monthRows.Close()

	for monthRows.Next() {
		var provider string
		var chars int64
		var cost float64
		if err := monthRows.Scan(&provider, &chars, &cost); err != nil {
			return nil, fmt.Errorf("store: scan month aggregate: %w", err)
		}
		stats.MonthByChars[provider] = chars
		stats.MonthCost += cost
	}
	return stats, monthRows.Err()
}
