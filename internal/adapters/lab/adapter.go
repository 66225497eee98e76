package lab

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/denisenkom/go-mssqldb" // SQL Server driver

	"github.com/togo-health/epiwatch/internal/diagnosis"
	"github.com/togo-health/epiwatch/internal/shared/config"
	"github.com/togo-health/epiwatch/internal/shared/metrics"
)

// ResultHandler is called for each confirmed lab result, converted to a
// diagnosis event.
type ResultHandler func(event diagnosis.Event)

// Adapter polls a hospital lab system (SQL Server) for newly confirmed
// malaria and typhoid results. Confirmed results become diagnosis events so
// lab-confirmed cases feed the same cluster checks as field reports.
type Adapter struct {
	db     *sql.DB
	config config.LabConfig

	eventChan chan diagnosis.Event

	running  bool
	mu       sync.RWMutex
	cancel   context.CancelFunc
	lastPoll time.Time
	wg       sync.WaitGroup
}

const eventBufferSize = 1000

// New creates a lab adapter
func New(cfg config.LabConfig) *Adapter {
	return &Adapter{
		config:    cfg,
		eventChan: make(chan diagnosis.Event, eventBufferSize),
	}
}

// Start opens the lab database connection and starts polling
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return fmt.Errorf("lab adapter already running")
	}

	db, err := sql.Open("sqlserver", a.config.DSN)
	if err != nil {
		return fmt.Errorf("open lab database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("ping lab database: %w", err)
	}

	a.db = db
	a.running = true
	a.lastPoll = time.Now().Add(-a.config.PollInterval)

	pollCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.wg.Add(1)
	go a.pollLoop(pollCtx)

	return nil
}

// Stop stops polling and closes the connection
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running {
		return nil
	}

	if a.cancel != nil {
		a.cancel()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	close(a.eventChan)

	if a.db != nil {
		a.db.Close()
	}

	a.running = false
	return nil
}

// Health checks lab database connectivity
func (a *Adapter) Health(ctx context.Context) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if !a.running {
		return fmt.Errorf("lab adapter not running")
	}

	return a.db.PingContext(ctx)
}

// IsConnected returns connection status
func (a *Adapter) IsConnected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.running && a.db != nil
}

// Subscribe registers a handler for converted lab results
func (a *Adapter) Subscribe(ctx context.Context, handler ResultHandler) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-a.eventChan:
				if !ok {
					return
				}
				handler(event)
			}
		}
	}()
}

// pollLoop polls for newly confirmed results
func (a *Adapter) pollLoop(ctx context.Context) {
	defer a.wg.Done()

	ticker := time.NewTicker(a.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.mu.Lock()
			lastPoll := a.lastPoll
			a.lastPoll = time.Now()
			a.mu.Unlock()

			if err := a.pollResults(ctx, lastPoll); err != nil {
				log.Printf("lab: polling results: %v", err)
			}
		}
	}
}

// pollResults reads results confirmed since the last poll
func (a *Adapter) pollResults(ctx context.Context, since time.Time) error {
	query := fmt.Sprintf(`
		SELECT
			r.ResultID,
			r.PatientRef,
			r.Disease,
			r.Outcome,
			r.Region,
			r.Prefecture,
			r.Latitude,
			r.Longitude,
			r.ConfirmedBy,
			r.ConfirmedAt
		FROM %s r
		WHERE r.ConfirmedAt > @since
		ORDER BY r.ConfirmedAt ASC
	`, a.config.ResultTable)

	rows, err := a.db.QueryContext(ctx, query, sql.Named("since", since))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			resultID, patientRef, disease, outcome, region string
			prefecture, confirmedBy                        sql.NullString
			latitude, longitude                            sql.NullFloat64
			confirmedAt                                    time.Time
		)

		err := rows.Scan(
			&resultID,
			&patientRef,
			&disease,
			&outcome,
			&region,
			&prefecture,
			&latitude,
			&longitude,
			&confirmedBy,
			&confirmedAt,
		)
		if err != nil {
			log.Printf("lab: scanning result row: %v", err)
			metrics.RecordEventIngested("lab", "scan_error")
			continue
		}

		event := diagnosis.Event{
			ID:        "lab-" + resultID,
			PatientID: patientRef,
			Disease:   mapDisease(disease),
			Status:    mapOutcome(outcome),
			Region:    region,
			Timestamp: confirmedAt,
		}
		if prefecture.Valid {
			event.Prefecture = prefecture.String
		}
		if confirmedBy.Valid {
			event.ReportedBy = confirmedBy.String
		}
		if latitude.Valid && longitude.Valid {
			event.Latitude = &latitude.Float64
			event.Longitude = &longitude.Float64
		}

		select {
		case a.eventChan <- event:
			metrics.RecordEventIngested("lab", "ok")
		default:
			log.Printf("lab: event buffer full, dropping result %s", resultID)
			metrics.RecordEventIngested("lab", "dropped")
		}
	}

	return rows.Err()
}

// mapDisease maps lab system disease codes to diagnosis diseases
func mapDisease(code string) diagnosis.Disease {
	switch code {
	case "MAL", "malaria":
		return diagnosis.DiseaseMalaria
	case "TYP", "typhoid":
		return diagnosis.DiseaseTyphoid
	default:
		return diagnosis.DiseaseMixed
	}
}

// mapOutcome maps lab result outcomes to diagnosis statuses
func mapOutcome(outcome string) diagnosis.Status {
	switch outcome {
	case "POS", "positive", "confirmed":
		return diagnosis.StatusPositive
	case "NEG", "negative":
		return diagnosis.StatusNegative
	default:
		return diagnosis.StatusUncertain
	}
}
