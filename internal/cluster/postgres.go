package cluster

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/togo-health/epiwatch/internal/diagnosis"
	"github.com/togo-health/epiwatch/internal/shared/errors"
	"github.com/togo-health/epiwatch/internal/shared/metrics"
)

// Repository is the postgres-backed cluster store
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new cluster repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const clusterColumns = `id, region, prefecture, disease, case_count, alert_level,
	status, start_date, created_at, updated_at`

// GetActive returns the active cluster for the key, or nil when none exists
func (r *Repository) GetActive(ctx context.Context, region string, disease diagnosis.Disease) (*Cluster, error) {
	start := time.Now()
	defer func() { metrics.RecordEventStoreQuery("cluster_get_active", time.Since(start)) }()

	query := fmt.Sprintf(`
		SELECT %s
		FROM surveillance.epidemics
		WHERE region = $1 AND disease = $2 AND status = 'active'`, clusterColumns)

	c, err := r.scanOne(r.pool.QueryRow(ctx, query, region, disease))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Upstream(err, "cluster store")
	}
	return c, nil
}

// Create inserts a new cluster
func (r *Repository) Create(ctx context.Context, c *Cluster) error {
	start := time.Now()
	defer func() { metrics.RecordEventStoreQuery("cluster_create", time.Since(start)) }()

	_, err := r.pool.Exec(ctx, `
		INSERT INTO surveillance.epidemics
			(id, region, prefecture, disease, case_count, alert_level, status, start_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		c.ID, c.Region, nullable(c.Prefecture), c.Disease, c.CaseCount,
		c.AlertLevel, c.Status, c.StartDate, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return errors.Upstream(err, "cluster store")
	}
	return nil
}

// Update persists a changed case count, alert level or status
func (r *Repository) Update(ctx context.Context, c *Cluster) error {
	start := time.Now()
	defer func() { metrics.RecordEventStoreQuery("cluster_update", time.Since(start)) }()

	tag, err := r.pool.Exec(ctx, `
		UPDATE surveillance.epidemics
		SET case_count = $2, alert_level = $3, status = $4, updated_at = $5
		WHERE id = $1`,
		c.ID, c.CaseCount, c.AlertLevel, c.Status, c.UpdatedAt,
	)
	if err != nil {
		return errors.Upstream(err, "cluster store")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("cluster", c.ID)
	}
	return nil
}

// Get returns a cluster by id
func (r *Repository) Get(ctx context.Context, id string) (*Cluster, error) {
	start := time.Now()
	defer func() { metrics.RecordEventStoreQuery("cluster_get", time.Since(start)) }()

	query := fmt.Sprintf(`
		SELECT %s
		FROM surveillance.epidemics
		WHERE id = $1`, clusterColumns)

	c, err := r.scanOne(r.pool.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("cluster", id)
	}
	if err != nil {
		return nil, errors.Upstream(err, "cluster store")
	}
	return c, nil
}

// List returns clusters matching the filter, newest first
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Cluster, error) {
	start := time.Now()
	defer func() { metrics.RecordEventStoreQuery("cluster_list", time.Since(start)) }()

	var conditions []string
	var args []interface{}
	argNum := 1

	if filter.Region != "" {
		conditions = append(conditions, fmt.Sprintf("region = $%d", argNum))
		args = append(args, filter.Region)
		argNum++
	}
	if filter.Disease != "" {
		conditions = append(conditions, fmt.Sprintf("disease = $%d", argNum))
		args = append(args, filter.Disease)
		argNum++
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argNum))
		args = append(args, filter.Status)
		argNum++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM surveillance.epidemics
		%s
		ORDER BY created_at DESC`, clusterColumns, whereClause)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Upstream(err, "cluster store")
	}
	defer rows.Close()

	var clusters []Cluster
	for rows.Next() {
		c, err := r.scanOne(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan cluster")
		}
		clusters = append(clusters, *c)
	}

	return clusters, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *Repository) scanOne(row rowScanner) (*Cluster, error) {
	c := &Cluster{}
	var prefecture *string
	err := row.Scan(
		&c.ID, &c.Region, &prefecture, &c.Disease, &c.CaseCount,
		&c.AlertLevel, &c.Status, &c.StartDate, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if prefecture != nil {
		c.Prefecture = *prefecture
	}
	return c, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
