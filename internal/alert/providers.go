package alert

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ConsoleProvider writes deliveries to stdout, for local development
type ConsoleProvider struct {
	prefix string
}

// NewConsoleProvider creates a console provider
func NewConsoleProvider(prefix string) *ConsoleProvider {
	return &ConsoleProvider{prefix: prefix}
}

// Send prints the delivery
func (p *ConsoleProvider) Send(ctx context.Context, delivery *Delivery) error {
	fmt.Printf("[%s] %s -> %s/%s: %s\n",
		p.prefix, delivery.Payload.Type,
		delivery.Recipient.Type, delivery.Recipient.ID,
		delivery.Payload.Message)
	return nil
}

// MockProvider records deliveries for tests
type MockProvider struct {
	mu         sync.RWMutex
	sent       []*Delivery
	failOnSend bool
	sendDelay  time.Duration
}

// NewMockProvider creates a mock provider
func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

// Send records the delivery, or fails when configured to
func (p *MockProvider) Send(ctx context.Context, delivery *Delivery) error {
	if p.sendDelay > 0 {
		time.Sleep(p.sendDelay)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failOnSend {
		return fmt.Errorf("mock send failure")
	}

	p.sent = append(p.sent, delivery)
	return nil
}

// SetFailOnSend sets whether Send should fail
func (p *MockProvider) SetFailOnSend(fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failOnSend = fail
}

// Sent returns all recorded deliveries
func (p *MockProvider) Sent() []*Delivery {
	p.mu.RLock()
	defer p.mu.RUnlock()
	result := make([]*Delivery, len(p.sent))
	copy(result, p.sent)
	return result
}
