package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Translation is a row in the translations table: one cached translation,
// keyed by the request fingerprint.
type Translation struct {
	CacheKey        string
	SourceLang      string
	TargetLang      string
	OriginalText    string
	TranslatedText  string
	RefinedText     string // empty when the row was never refined
	Provider        string
	IsRefined       bool
	RefinementModel string
	CharCount       int64
	CreatedAt       time.Time
	LastAccessedAt  time.Time
	ExpiresAt       *time.Time // nil = no expiry
}

const translationColumns = `cache_key, source_lang, target_lang, original_text,
	translated_text, refined_text, provider, is_refined, refinement_model,
	char_count, created_at, last_accessed_at, expires_at`

// GetTranslation retrieves a cached translation by its fingerprint. It
// returns (nil, nil) when the row is absent or past its expires_at; it never
// mutates the row.
func (s *Store) GetTranslation(ctx context.Context, cacheKey string) (*Translation, error) {
	row := s.reader.QueryRowContext(ctx, `
		SELECT `+translationColumns+`
		FROM translations
		WHERE cache_key = ?
		  AND (expires_at IS NULL OR expires_at > ?)`,
		cacheKey, nowUTC(),
	)

	t, err := scanTranslation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get translation %s: %w", cacheKey, err)
	}
	return t, nil
}

// UpsertTranslation inserts a translation or, on key collision, overwrites
// the translated text, refined text, provider, refined flag, and refinement
// model, bumping last_accessed_at. created_at of an existing row is
// preserved. char_count is always recomputed from the original text.
func (s *Store) UpsertTranslation(ctx context.Context, t *Translation) error {
	now := nowUTC()
	_, err := s.writer.ExecContext(ctx, `
		INSERT INTO translations (
			cache_key, source_lang, target_lang, original_text,
			translated_text, refined_text, provider, is_refined,
			refinement_model, char_count, created_at, last_accessed_at, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			translated_text = excluded.translated_text,
			refined_text = excluded.refined_text,
			provider = excluded.provider,
			is_refined = excluded.is_refined,
			refinement_model = excluded.refinement_model,
			last_accessed_at = excluded.last_accessed_at`,
		t.CacheKey, t.SourceLang, t.TargetLang, t.OriginalText,
		t.TranslatedText, nullIfEmpty(t.RefinedText), t.Provider, boolToInt(t.IsRefined),
		nullIfEmpty(t.RefinementModel), utf8.RuneCountInString(t.OriginalText),
		now, now, formatExpiry(t.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("store: upsert translation: %w", err)
	}
	return nil
}

// InsertTranslationIfAbsent is the insert-only variant: an existing row is
// left untouched, including its created_at.
func (s *Store) InsertTranslationIfAbsent(ctx context.Context, t *Translation) error {
	now := nowUTC()
	_, err := s.writer.ExecContext(ctx, `
		INSERT OR IGNORE INTO translations (
			cache_key, source_lang, target_lang, original_text,
			translated_text, refined_text, provider, is_refined,
			refinement_model, char_count, created_at, last_accessed_at, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.CacheKey, t.SourceLang, t.TargetLang, t.OriginalText,
		t.TranslatedText, nullIfEmpty(t.RefinedText), t.Provider, boolToInt(t.IsRefined),
		nullIfEmpty(t.RefinementModel), utf8.RuneCountInString(t.OriginalText),
		now, now, formatExpiry(t.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("store: insert translation: %w", err)
	}
	return nil
}

// TouchTranslation bumps last_accessed_at for cache-hit tracking. It is
// silent when the row is absent.
func (s *Store) TouchTranslation(ctx context.Context, cacheKey string) error {
	_, err := s.writer.ExecContext(ctx,
		"UPDATE translations SET last_accessed_at = ? WHERE cache_key = ?",
		nowUTC(), cacheKey,
	)
	if err != nil {
		return fmt.Errorf("store: touch translation: %w", err)
	}
	return nil
}

// DeleteExpired removes rows whose last_accessed_at is older than now−days
// and returns the number deleted. days must be non-negative; zero deletes
// every row.
func (s *Store) DeleteExpired(ctx context.Context, days int) (int64, error) {
	if days < 0 {
		return 0, fmt.Errorf("store: delete expired: negative days %d", days)
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days).Format(timeFormat)
	result, err := s.writer.ExecContext(ctx,
		"DELETE FROM translations WHERE last_accessed_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: delete expired: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: delete expired rows affected: %w", err)
	}
	return n, nil
}

// CountExpired reports how many rows DeleteExpired(days) would remove.
func (s *Store) CountExpired(ctx context.Context, days int) (int64, error) {
	if days < 0 {
		return 0, fmt.Errorf("store: count expired: negative days %d", days)
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days).Format(timeFormat)
	var n int64
	err := s.reader.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM translations WHERE last_accessed_at < ?", cutoff,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count expired: %w", err)
	}
	return n, nil
}

// TranslationFilter selects and pages the cache listing. Zero values mean
// "no constraint".
type TranslationFilter struct {
	Search     string   // substring match on original OR translated text
	Providers  []string // exact match against any of these
	SourceLang string
	TargetLang string
	Refined    *bool
	Page       int // 1-based; values < 1 clamp to 1
	PageSize   int // clamped to [1, 100]
}

// ListTranslations returns one page of cache rows matching the filter,
// ordered by created_at descending, together with the total match count
// (which is independent of paging).
func (s *Store) ListTranslations(ctx context.Context, f TranslationFilter) ([]*Translation, int64, error) {
	where, args := buildTranslationFilter(f)

	var total int64
	err := s.reader.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM translations"+where, args...,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("store: count translations: %w", err)
	}

	page := f.Page
	if page < 1 {
		page = 1
	}
	pageSize := f.PageSize
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	rows, err := s.reader.QueryContext(ctx, `
		SELECT `+translationColumns+`
		FROM translations`+where+`
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`,
		append(args, pageSize, offset)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("store: list translations: %w", err)
	}
	defer rows.Close()

	var results []*Translation
	for rows.Next() {
		t, err := scanTranslation(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("store: scan translation row: %w", err)
		}
		results = append(results, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("store: list translations iteration: %w", err)
	}
	return results, total, nil
}

// Languages returns the distinct source and target language codes present
// in the cache, each sorted ascending.
func (s *Store) Languages(ctx context.Context) (sources, targets []string, err error) {
	sources, err = s.distinctColumn(ctx, "source_lang")
	if err != nil {
		return nil, nil, err
	}
	targets, err = s.distinctColumn(ctx, "target_lang")
	if err != nil {
		return nil, nil, err
	}
	return sources, targets, nil
}

func (s *Store) distinctColumn(ctx context.Context, column string) ([]string, error) {
	// column is one of two compile-time constants, never user input.
	rows, err := s.reader.QueryContext(ctx,
		"SELECT DISTINCT "+column+" FROM translations ORDER BY "+column+" ASC")
	if err != nil {
		return nil, fmt.Errorf("store: distinct %s: %w", column, err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("store: scan %s: %w", column, err)
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

func buildTranslationFilter(f TranslationFilter) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	if f.Search != "" {
		clauses = append(clauses, "(original_text LIKE ? OR translated_text LIKE ?)")
		pattern := "%" + f.Search + "%"
		args = append(args, pattern, pattern)
	}
	if len(f.Providers) > 0 {
		placeholders := strings.Repeat("?,", len(f.Providers))
		clauses = append(clauses, "provider IN ("+placeholders[:len(placeholders)-1]+")")
		for _, p := range f.Providers {
			args = append(args, p)
		}
	}
	if f.SourceLang != "" {
		clauses = append(clauses, "source_lang = ?")
		args = append(args, f.SourceLang)
	}
	if f.TargetLang != "" {
		clauses = append(clauses, "target_lang = ?")
		args = append(args, f.TargetLang)
	}
	if f.Refined != nil {
		clauses = append(clauses, "is_refined = ?")
		args = append(args, boolToInt(*f.Refined))
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTranslation(row rowScanner) (*Translation, error) {
	t := &Translation{}
	var (
		refinedText     sql.NullString
		refinementModel sql.NullString
		isRefined       int
		createdAt       string
		lastAccessedAt  string
		expiresAt       sql.NullString
	)
	err := row.Scan(
		&t.CacheKey, &t.SourceLang, &t.TargetLang, &t.OriginalText,
		&t.TranslatedText, &refinedText, &t.Provider, &isRefined,
		&refinementModel, &t.CharCount, &createdAt, &lastAccessedAt, &expiresAt,
	)
	if err != nil {
		return nil, err
	}
	t.RefinedText = refinedText.String
	t.RefinementModel = refinementModel.String
	t.IsRefined = isRefined != 0
	t.CreatedAt = parseTime(createdAt)
	t.LastAccessedAt = parseTime(lastAccessedAt)
	if expiresAt.Valid {
		exp := parseTime(expiresAt.String)
		t.ExpiresAt = &exp
	}
	return t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func formatExpiry(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeFormat)
}
