package cluster

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/togo-health/epiwatch/internal/alert"
	"github.com/togo-health/epiwatch/internal/diagnosis"
	"github.com/togo-health/epiwatch/internal/shared/config"
	"github.com/togo-health/epiwatch/internal/shared/metrics"
)

// Engine maintains rolling per-region/disease case counts and the cluster
// lifecycle. Cluster read-modify-write is serialized per (region, disease)
// key; different keys proceed concurrently.
type Engine struct {
	events     diagnosis.Store
	clusters   Store
	sink       alert.Sink
	windowDays int

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEngine creates a cluster detection engine
func NewEngine(events diagnosis.Store, clusters Store, sink alert.Sink, cfg config.SurveillanceConfig) *Engine {
	return &Engine{
		events:     events,
		clusters:   clusters,
		sink:       sink,
		windowDays: cfg.ClusterWindowDays,
		locks:      make(map[string]*sync.Mutex),
	}
}

// HandlePositiveEvent recounts the rolling window for the event's
// (region, disease) key and creates or updates the active cluster. It
// returns the affected cluster, or nil when the count stays below the
// warning tier.
func (e *Engine) HandlePositiveEvent(ctx context.Context, event diagnosis.Event) (*Cluster, error) {
	if event.Status != diagnosis.StatusPositive {
		return nil, nil
	}
	return e.checkKey(ctx, event.Region, event.Prefecture, event.Disease)
}

// Sweep recounts every (region, disease) key that produced positive events
// within the rolling window. Used by the periodic pass and after bulk
// ingestion.
func (e *Engine) Sweep(ctx context.Context) error {
	from := time.Now().UTC().AddDate(0, 0, -e.windowDays)
	positives, err := e.events.QueryEvents(ctx, diagnosis.Filter{
		Statuses: []diagnosis.Status{diagnosis.StatusPositive},
		From:     from,
	})
	if err != nil {
		return err
	}

	type key struct {
		region  string
		disease diagnosis.Disease
	}
	seen := make(map[key]string)
	for _, ev := range positives {
		k := key{region: ev.Region, disease: ev.Disease}
		if _, ok := seen[k]; !ok {
			seen[k] = ev.Prefecture
		}
	}

	for k, prefecture := range seen {
		if _, err := e.checkKey(ctx, k.region, prefecture, k.disease); err != nil {
			log.Printf("cluster: sweep failed for %s/%s: %v", k.region, k.disease, err)
		}
	}

	return nil
}

// checkKey recounts one (region, disease) key and applies the result to the
// cluster record. The event store count runs without holding the key lock;
// only the cluster read-modify-write is inside the single-writer section.
func (e *Engine) checkKey(ctx context.Context, region, prefecture string, disease diagnosis.Disease) (*Cluster, error) {
	count, err := e.countWindow(ctx, region, disease)
	if err != nil {
		return nil, err
	}

	level := LevelForCount(count)
	if level == LevelNone {
		return nil, nil
	}

	lock := e.keyLock(region, disease)
	lock.Lock()
	defer lock.Unlock()

	existing, err := e.clusters.GetActive(ctx, region, disease)
	if err != nil {
		return nil, err
	}

	if existing != nil {
		existing.CaseCount = count
		existing.AlertLevel = level
		existing.UpdatedAt = time.Now().UTC()
		if err := e.clusters.Update(ctx, existing); err != nil {
			return nil, err
		}
		return existing, nil
	}

	now := time.Now().UTC()
	created := &Cluster{
		ID:         uuid.NewString(),
		Region:     region,
		Prefecture: prefecture,
		Disease:    disease,
		CaseCount:  count,
		AlertLevel: level,
		Status:     StatusActive,
		StartDate:  now.Truncate(24 * time.Hour),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := e.clusters.Create(ctx, created); err != nil {
		return nil, err
	}

	metrics.RecordClusterDetected(string(disease), string(level))
	e.notifyCreated(ctx, created)

	return created, nil
}

// notifyCreated emits the cluster-detected alert. Notification happens on
// creation only, never on updates; a sink failure is logged, not propagated,
// so a flaky delivery channel cannot roll back detection.
func (e *Engine) notifyCreated(ctx context.Context, c *Cluster) {
	payload := alert.Payload{
		Type:       alert.TypeEpidemic,
		Region:     c.Region,
		Disease:    c.Disease,
		Severity:   string(c.AlertLevel),
		Message:    fmt.Sprintf("Epidemic cluster detected: %s in %s (%d cases)", c.Disease, c.Region, c.CaseCount),
		CaseCount:  c.CaseCount,
		Recipients: alert.SupervisorsOf(c.Region),
	}
	if err := e.sink.Notify(ctx, payload); err != nil {
		log.Printf("cluster: alert notification failed for %s/%s: %v", c.Region, c.Disease, err)
	}
}

func (e *Engine) countWindow(ctx context.Context, region string, disease diagnosis.Disease) (int, error) {
	from := time.Now().UTC().AddDate(0, 0, -e.windowDays)
	events, err := e.events.QueryEvents(ctx, diagnosis.Filter{
		Statuses: []diagnosis.Status{diagnosis.StatusPositive},
		Region:   region,
		Disease:  disease,
		From:     from,
	})
	if err != nil {
		return 0, err
	}
	return len(events), nil
}

func (e *Engine) keyLock(region string, disease diagnosis.Disease) *sync.Mutex {
	key := region + "|" + string(disease)
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[key] = lock
	}
	return lock
}
