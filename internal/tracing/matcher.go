package tracing

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/togo-health/epiwatch/internal/diagnosis"
	"github.com/togo-health/epiwatch/internal/shared/config"
	"github.com/togo-health/epiwatch/internal/shared/errors"
	"github.com/togo-health/epiwatch/internal/shared/metrics"
)

// earthRadiusMeters is the mean Earth radius used for great-circle distances
const earthRadiusMeters = 6371000.0

// Contact is a candidate contact event together with its distance from the
// index event.
type Contact struct {
	Event          diagnosis.Event `json:"event"`
	DistanceMeters float64         `json:"distance_meters"`
}

// Matcher finds candidate contact events near an index event in space and
// time. It is read-only and safe to call concurrently.
type Matcher struct {
	store        diagnosis.Store
	radiusMeters float64
	windowDays   int
}

// NewMatcher creates a matcher with the configured radius and time window
func NewMatcher(store diagnosis.Store, cfg config.SurveillanceConfig) *Matcher {
	return &Matcher{
		store:        store,
		radiusMeters: cfg.ContactRadiusMeters,
		windowDays:   cfg.ContactWindowDays,
	}
}

// FindContacts returns all positive or uncertain events within the contact
// radius and time window of the index event, most recent first. An index
// event without coordinates yields an empty result, not an error.
func (m *Matcher) FindContacts(ctx context.Context, index diagnosis.Event) ([]Contact, error) {
	start := time.Now()
	defer func() { metrics.RecordContactSearch(time.Since(start)) }()

	if !index.HasLocation() {
		return nil, nil
	}

	window := time.Duration(m.windowDays) * 24 * time.Hour
	candidates, err := m.store.QueryEvents(ctx, diagnosis.Filter{
		Statuses:        []diagnosis.Status{diagnosis.StatusPositive, diagnosis.StatusUncertain},
		From:            index.Timestamp.Add(-window),
		To:              index.Timestamp,
		RequireLocation: true,
		ExcludeID:       index.ID,
	})
	if err != nil {
		return nil, err
	}

	contacts := make([]Contact, 0, len(candidates))
	for _, c := range candidates {
		d := Haversine(*index.Latitude, *index.Longitude, *c.Latitude, *c.Longitude)
		if d <= m.radiusMeters {
			contacts = append(contacts, Contact{Event: c, DistanceMeters: d})
		}
	}

	// Most recent contact first; graph construction treats earlier entries
	// as primary transmission suspects.
	sort.SliceStable(contacts, func(i, j int) bool {
		return contacts[i].Event.Timestamp.After(contacts[j].Event.Timestamp)
	})

	return contacts, nil
}

// FindContactsByID resolves the index event by id and returns it together
// with its contacts.
func (m *Matcher) FindContactsByID(ctx context.Context, eventID string) (*diagnosis.Event, []Contact, error) {
	if eventID == "" {
		return nil, nil, errors.Validation("event id is required", nil)
	}

	index, err := m.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, nil, err
	}
	if index.Status != diagnosis.StatusPositive {
		return nil, nil, errors.Validation("index event is not a positive diagnosis", nil)
	}

	contacts, err := m.FindContacts(ctx, *index)
	if err != nil {
		return nil, nil, err
	}

	return index, contacts, nil
}

// Haversine returns the great-circle distance in meters between two
// coordinate pairs.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLon := toRadians(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
