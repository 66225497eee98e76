package alert

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// DeliveryStatus tracks a delivery through its lifecycle
type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
)

// Delivery is one alert payload addressed to one resolved recipient
type Delivery struct {
	ID           string         `json:"id"`
	Payload      Payload        `json:"payload"`
	Recipient    Recipient      `json:"recipient"`
	Status       DeliveryStatus `json:"status"`
	RetryCount   int            `json:"retry_count"`
	ErrorMessage string         `json:"error_message,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	SentAt       *time.Time     `json:"sent_at,omitempty"`
}

// Provider delivers one alert over a concrete channel (push, SMS, console)
type Provider interface {
	Send(ctx context.Context, delivery *Delivery) error
}

// Resolver expands abstract recipients (a role scoped to a region) into
// concrete ones. Resolution lives outside the surveillance core; the
// delivery service only calls it.
type Resolver interface {
	Resolve(ctx context.Context, recipients []Recipient) ([]Recipient, error)
}

// BroadcastResolver passes recipients through unchanged, treating an empty
// list as a single broadcast recipient.
type BroadcastResolver struct{}

func (BroadcastResolver) Resolve(ctx context.Context, recipients []Recipient) ([]Recipient, error) {
	if len(recipients) == 0 {
		return []Recipient{{Type: "broadcast"}}, nil
	}
	return recipients, nil
}

// DeliveryStats summarizes delivery outcomes
type DeliveryStats struct {
	TotalQueued  int64   `json:"total_queued"`
	TotalSent    int64   `json:"total_sent"`
	TotalFailed  int64   `json:"total_failed"`
	DeliveryRate float64 `json:"delivery_rate"`
}

// DeliveryConfig holds delivery service configuration
type DeliveryConfig struct {
	Workers       int
	BufferSize    int
	RetryAttempts int
	RetryDelay    time.Duration
}

// DefaultDeliveryConfig returns default configuration
func DefaultDeliveryConfig() DeliveryConfig {
	return DeliveryConfig{
		Workers:       4,
		BufferSize:    1000,
		RetryAttempts: 3,
		RetryDelay:    30 * time.Second,
	}
}

// DeliveryService fans alert payloads out to resolved recipients through a
// bounded worker pool. It also implements Sink, so components can hand it
// payloads directly in deployments without an event bus.
type DeliveryService struct {
	provider Provider
	resolver Resolver

	mu    sync.RWMutex
	stats DeliveryStats

	deliveryCh chan *Delivery
	workers    int

	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	config DeliveryConfig
}

// NewDeliveryService creates a delivery service
func NewDeliveryService(provider Provider, resolver Resolver, config DeliveryConfig) *DeliveryService {
	if resolver == nil {
		resolver = BroadcastResolver{}
	}
	return &DeliveryService{
		provider:   provider,
		resolver:   resolver,
		deliveryCh: make(chan *Delivery, config.BufferSize),
		workers:    config.Workers,
		stopCh:     make(chan struct{}),
		config:     config,
	}
}

// Start starts the delivery workers
func (s *DeliveryService) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("delivery service already started")
	}
	s.started = true
	s.mu.Unlock()

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}

	return nil
}

// Stop stops the delivery workers and waits for them to drain
func (s *DeliveryService) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return fmt.Errorf("delivery service not started")
	}
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	return nil
}

// Notify implements Sink: the payload is resolved and queued per recipient
func (s *DeliveryService) Notify(ctx context.Context, payload Payload) error {
	if payload.EmittedAt.IsZero() {
		payload.EmittedAt = time.Now().UTC()
	}

	recipients, err := s.resolver.Resolve(ctx, payload.Recipients)
	if err != nil {
		return fmt.Errorf("resolve recipients: %w", err)
	}

	for _, recipient := range recipients {
		delivery := &Delivery{
			ID:        generateDeliveryID(),
			Payload:   payload,
			Recipient: recipient,
			Status:    DeliveryPending,
			CreatedAt: time.Now().UTC(),
		}

		select {
		case s.deliveryCh <- delivery:
			s.mu.Lock()
			s.stats.TotalQueued++
			s.mu.Unlock()
		default:
			return fmt.Errorf("delivery buffer full")
		}
	}

	return nil
}

// worker processes deliveries from the channel
func (s *DeliveryService) worker(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case delivery := <-s.deliveryCh:
			s.process(ctx, delivery)
		}
	}
}

// process attempts one delivery, re-queueing on failure until the retry
// budget is spent.
func (s *DeliveryService) process(ctx context.Context, delivery *Delivery) {
	err := s.provider.Send(ctx, delivery)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		delivery.ErrorMessage = err.Error()
		delivery.RetryCount++

		if delivery.RetryCount >= s.config.RetryAttempts {
			delivery.Status = DeliveryFailed
			s.stats.TotalFailed++
			s.updateRate()
			log.Printf("alert: delivery %s failed permanently: %v", delivery.ID, err)
			return
		}

		go func() {
			time.Sleep(s.config.RetryDelay)
			select {
			case s.deliveryCh <- delivery:
			case <-s.stopCh:
			}
		}()
		return
	}

	now := time.Now().UTC()
	delivery.SentAt = &now
	delivery.Status = DeliverySent
	s.stats.TotalSent++
	s.updateRate()
}

func (s *DeliveryService) updateRate() {
	done := s.stats.TotalSent + s.stats.TotalFailed
	if done > 0 {
		s.stats.DeliveryRate = float64(s.stats.TotalSent) / float64(done)
	}
}

// Stats returns a snapshot of delivery statistics
func (s *DeliveryService) Stats() DeliveryStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

func generateDeliveryID() string {
	return fmt.Sprintf("dlv-%d", time.Now().UnixNano())
}
