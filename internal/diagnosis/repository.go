package diagnosis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/togo-health/epiwatch/internal/shared/errors"
	"github.com/togo-health/epiwatch/internal/shared/metrics"
)

// Repository is the postgres-backed diagnosis event store
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new diagnosis repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const eventColumns = `id, patient_id, disease, status, latitude, longitude,
	region, prefecture, confidence, quality_score, reported_by, reported_at`

// QueryEvents returns events matching the filter, ascending by timestamp
func (r *Repository) QueryEvents(ctx context.Context, filter Filter) ([]Event, error) {
	start := time.Now()
	defer func() { metrics.RecordEventStoreQuery("query_events", time.Since(start)) }()

	var conditions []string
	var args []interface{}
	argNum := 1

	if len(filter.Statuses) > 0 {
		placeholders := make([]string, 0, len(filter.Statuses))
		for _, s := range filter.Statuses {
			placeholders = append(placeholders, fmt.Sprintf("$%d", argNum))
			args = append(args, s)
			argNum++
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ", ")))
	}

	if filter.Disease != "" {
		conditions = append(conditions, fmt.Sprintf("disease = $%d", argNum))
		args = append(args, filter.Disease)
		argNum++
	}

	if filter.Region != "" {
		conditions = append(conditions, fmt.Sprintf("region = $%d", argNum))
		args = append(args, filter.Region)
		argNum++
	}

	if filter.PatientID != "" {
		conditions = append(conditions, fmt.Sprintf("patient_id = $%d", argNum))
		args = append(args, filter.PatientID)
		argNum++
	}

	if !filter.From.IsZero() {
		conditions = append(conditions, fmt.Sprintf("reported_at >= $%d", argNum))
		args = append(args, filter.From)
		argNum++
	}

	if !filter.To.IsZero() {
		conditions = append(conditions, fmt.Sprintf("reported_at <= $%d", argNum))
		args = append(args, filter.To)
		argNum++
	}

	if filter.RequireLocation {
		conditions = append(conditions, "latitude IS NOT NULL AND longitude IS NOT NULL")
	}

	if filter.ExcludeID != "" {
		conditions = append(conditions, fmt.Sprintf("id != $%d", argNum))
		args = append(args, filter.ExcludeID)
		argNum++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM surveillance.diagnostics
		%s
		ORDER BY reported_at ASC`, eventColumns, whereClause)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Upstream(err, "diagnosis event store")
	}
	defer rows.Close()

	return scanEvents(rows)
}

// GetEventsForPatient returns all events for a patient, ascending by timestamp
func (r *Repository) GetEventsForPatient(ctx context.Context, patientID string) ([]Event, error) {
	start := time.Now()
	defer func() { metrics.RecordEventStoreQuery("events_for_patient", time.Since(start)) }()

	query := fmt.Sprintf(`
		SELECT %s
		FROM surveillance.diagnostics
		WHERE patient_id = $1
		ORDER BY reported_at ASC`, eventColumns)

	rows, err := r.pool.Query(ctx, query, patientID)
	if err != nil {
		return nil, errors.Upstream(err, "diagnosis event store")
	}
	defer rows.Close()

	return scanEvents(rows)
}

// GetEvent returns a single event by id
func (r *Repository) GetEvent(ctx context.Context, id string) (*Event, error) {
	start := time.Now()
	defer func() { metrics.RecordEventStoreQuery("get_event", time.Since(start)) }()

	query := fmt.Sprintf(`
		SELECT %s
		FROM surveillance.diagnostics
		WHERE id = $1`, eventColumns)

	event := &Event{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&event.ID, &event.PatientID, &event.Disease, &event.Status,
		&event.Latitude, &event.Longitude,
		&event.Region, &event.Prefecture,
		&event.Confidence, &event.QualityScore, &event.ReportedBy, &event.Timestamp,
	)

	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("diagnosis event", id)
	}
	if err != nil {
		return nil, errors.Upstream(err, "diagnosis event store")
	}

	return event, nil
}

func scanEvents(rows pgx.Rows) ([]Event, error) {
	var events []Event
	for rows.Next() {
		var event Event
		err := rows.Scan(
			&event.ID, &event.PatientID, &event.Disease, &event.Status,
			&event.Latitude, &event.Longitude,
			&event.Region, &event.Prefecture,
			&event.Confidence, &event.QualityScore, &event.ReportedBy, &event.Timestamp,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan diagnosis event")
		}
		events = append(events, event)
	}

	return events, nil
}
