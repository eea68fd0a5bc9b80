package repo

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/dbpg"
)

type Repository interface {
	MigrateUp(migrationsDir string) error
	CreateLink(ctx context.Context, link LinkEntity) (int64, error)
	GetLinkByCode(ctx context.Context, code string) (*LinkEntity, error)
	GetActiveLinkByCode(ctx context.Context, code string) (*LinkEntity, error)
	UpdateLink(ctx context.Context, link LinkEntity) error
	IncrementClickCount(ctx context.Context, linkID int64) error
	BatchIncrementClickCounts(ctx context.Context, counts map[int64]int64) error
	CreateClick(ctx context.Context, click ClickEntity) error
	BulkInsertClicks(ctx context.Context, clicks []ClickEntity) error
	CountClicks(ctx context.Context, linkID int64) (int64, error)
	GetClickStatsByField(ctx context.Context, linkID int64, field string, limit int) ([]FieldStat, error)
}

type repository struct {
	db  *dbpg.DB
	log *zerolog.Logger
}

func NewRepository(db *dbpg.DB, log *zerolog.Logger) (Repository, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if err := db.Master.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping DB: %w", err)
	}

	return &repository{
		db:  db,
		log: log,
	}, nil
}

func (r *repository) MigrateUp(migrationsDir string) error {
	files, err := filepath.Glob(filepath.Join(migrationsDir, "*.up.sql"))
	if err != nil {
		return fmt.Errorf("failed to read migration files: %w", err)
	}

	for _, file := range files {
		sqlBytes, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", file, err)
		}

		if _, err := r.db.ExecContext(context.Background(), string(sqlBytes)); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", file, err)
		}
	}

	r.log.Info().Msgf("Migrations applied successfully from %s", migrationsDir)
	return nil
}

func (r *repository) CreateLink(ctx context.Context, link LinkEntity) (int64, error) {
	query := `
		INSERT INTO links (code, destination, active, expires_at, click_limit, redirect_status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	rows, err := r.db.QueryContext(ctx, query,
		link.Code,
		link.Destination,
		link.Active,
		link.ExpiresAt,
		link.ClickLimit,
		link.RedirectStatus,
		link.CreatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert link: %w", err)
	}
	defer rows.Close()

	var id int64
	if rows.Next() {
		if err := rows.Scan(&id); err != nil {
			return 0, fmt.Errorf("failed to scan returned id: %w", err)
		}
	} else {
		return 0, fmt.Errorf("no id returned after insert")
	}

	return id, nil
}

const linkColumns = `id, code, destination, active, expires_at, click_limit, click_count, redirect_status, created_at`

func (r *repository) scanLink(rows *sql.Rows) (*LinkEntity, error) {
	var link LinkEntity
	if err := rows.Scan(
		&link.ID,
		&link.Code,
		&link.Destination,
		&link.Active,
		&link.ExpiresAt,
		&link.ClickLimit,
		&link.ClickCount,
		&link.RedirectStatus,
		&link.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to scan link: %w", err)
	}
	return &link, nil
}

func (r *repository) GetLinkByCode(ctx context.Context, code string) (*LinkEntity, error) {
	query := `SELECT ` + linkColumns + ` FROM links WHERE code = $1 LIMIT 1`

	rows, err := r.db.QueryContext(ctx, query, code)
	if err != nil {
		return nil, fmt.Errorf("failed to query link by code: %w", err)
	}
	defer rows.Close()

	if rows.Next() {
		return r.scanLink(rows)
	}
	return nil, nil
}

// GetActiveLinkByCode only returns links that are active and not yet
// expired. The link cache is populated exclusively from this query so a
// cached entry can never resurrect an inactive or expired link.
func (r *repository) GetActiveLinkByCode(ctx context.Context, code string) (*LinkEntity, error) {
	query := `
		SELECT ` + linkColumns + `
		FROM links
		WHERE code = $1
		  AND active = TRUE
		  AND (expires_at IS NULL OR expires_at > NOW())
		LIMIT 1
	`

	rows, err := r.db.QueryContext(ctx, query, code)
	if err != nil {
		return nil, fmt.Errorf("failed to query active link by code: %w", err)
	}
	defer rows.Close()

	if rows.Next() {
		return r.scanLink(rows)
	}
	return nil, nil
}

func (r *repository) UpdateLink(ctx context.Context, link LinkEntity) error {
	query := `
		UPDATE links
		SET destination = $2,
		    active = $3,
		    expires_at = $4,
		    click_limit = $5,
		    redirect_status = $6
		WHERE id = $1
	`
	if _, err := r.db.ExecContext(ctx, query,
		link.ID,
		link.Destination,
		link.Active,
		link.ExpiresAt,
		link.ClickLimit,
		link.RedirectStatus,
	); err != nil {
		return fmt.Errorf("failed to update link: %w", err)
	}
	return nil
}

// IncrementClickCount is a single-row atomic increment issued at the
// storage layer. Click-limited links rely on this being exact, so there is
// no read-modify-write variant.
func (r *repository) IncrementClickCount(ctx context.Context, linkID int64) error {
	query := `UPDATE links SET click_count = click_count + 1 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, linkID); err != nil {
		return fmt.Errorf("failed to increment click count for link %d: %w", linkID, err)
	}
	return nil
}

// BatchIncrementClickCounts applies coalesced increments aggregated by the
// batch processor. Callers must exclude click-limited links.
func (r *repository) BatchIncrementClickCounts(ctx context.Context, counts map[int64]int64) error {
	query := `UPDATE links SET click_count = click_count + $2 WHERE id = $1`
	for linkID, count := range counts {
		if count <= 0 {
			continue
		}
		if _, err := r.db.ExecContext(ctx, query, linkID, count); err != nil {
			return fmt.Errorf("failed to batch increment link %d by %d: %w", linkID, count, err)
		}
	}
	return nil
}

func (r *repository) CreateClick(ctx context.Context, click ClickEntity) error {
	query := `
		INSERT INTO clicks (link_id, created_at, ip, raw_ua, browser, os, device, referer,
		                    country, city, utm_source, utm_medium, utm_campaign, utm_term, utm_content)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err := r.db.ExecContext(ctx, query, clickArgs(click)...)
	if err != nil {
		return fmt.Errorf("failed to insert click: %w", err)
	}
	return nil
}

// BulkInsertClicks persists a drained batch in a single statement.
func (r *repository) BulkInsertClicks(ctx context.Context, clicks []ClickEntity) error {
	if len(clicks) == 0 {
		return nil
	}

	const cols = 15
	placeholders := make([]string, 0, len(clicks))
	args := make([]interface{}, 0, len(clicks)*cols)
	for i, click := range clicks {
		base := i * cols
		marks := make([]string, cols)
		for j := range marks {
			marks[j] = fmt.Sprintf("$%d", base+j+1)
		}
		placeholders = append(placeholders, "("+strings.Join(marks, ", ")+")")
		args = append(args, clickArgs(click)...)
	}

	query := `
		INSERT INTO clicks (link_id, created_at, ip, raw_ua, browser, os, device, referer,
		                    country, city, utm_source, utm_medium, utm_campaign, utm_term, utm_content)
		VALUES ` + strings.Join(placeholders, ", ")

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to bulk insert %d clicks: %w", len(clicks), err)
	}
	return nil
}

func clickArgs(click ClickEntity) []interface{} {
	return []interface{}{
		click.LinkID,
		click.CreatedAt,
		click.IP,
		click.RawUA,
		click.Browser,
		click.OS,
		click.Device,
		click.Referer,
		click.Country,
		click.City,
		click.UTMSource,
		click.UTMMedium,
		click.UTMCampaign,
		click.UTMTerm,
		click.UTMContent,
	}
}

func (r *repository) CountClicks(ctx context.Context, linkID int64) (int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT COUNT(*) FROM clicks WHERE link_id = $1`, linkID)
	if err != nil {
		return 0, fmt.Errorf("failed to count clicks: %w", err)
	}
	defer rows.Close()

	var total int64
	if rows.Next() {
		if err := rows.Scan(&total); err != nil {
			return 0, fmt.Errorf("failed to scan click count: %w", err)
		}
	}
	return total, nil
}

// GetClickStatsByField aggregates persisted clicks by a single column
// (country, city, browser, os or device).
func (r *repository) GetClickStatsByField(ctx context.Context, linkID int64, field string, limit int) ([]FieldStat, error) {
	switch field {
	case "country", "city", "browser", "os", "device":
	default:
		err := fmt.Errorf("unsupported field for aggregation: %s", field)
		r.log.Error().Msgf("%v", err)
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT COALESCE(%s, 'Unknown'), COUNT(*) FROM clicks WHERE link_id = $1 GROUP BY %s ORDER BY COUNT(*) DESC LIMIT $2`, field, field),
		linkID, limit)
	if err != nil {
		r.log.Error().Msgf("failed to get field stats for link=%d, field=%s: %v", linkID, field, err)
		return nil, err
	}
	defer rows.Close()

	var stats []FieldStat
	for rows.Next() {
		var s FieldStat
		if err := rows.Scan(&s.Value, &s.Count); err != nil {
			r.log.Error().Msgf("failed to scan field stat for link=%d, field=%s: %v", linkID, field, err)
			return nil, err
		}
		stats = append(stats, s)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}

	return stats, nil
}
