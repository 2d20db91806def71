package notification

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while the provider is considered unhealthy.
var ErrCircuitOpen = errors.New("sender circuit breaker open")

type circuitState string

const (
	stateClosed   circuitState = "closed"
	stateOpen     circuitState = "open"
	stateHalfOpen circuitState = "half_open"
)

// ProtectedSenderConfig tunes the timeout and circuit breaker.
type ProtectedSenderConfig struct {
	Timeout          time.Duration // hard timeout per send
	FailureThreshold int           // consecutive failures to open circuit
	Cooldown         time.Duration // how long to stay open before half-open
	HalfOpenMaxCalls int           // trial calls allowed in half-open
}

// ProtectedSender bounds each send with a timeout and stops calling a failing
// provider for a cooldown period. Unreachable recipients are not provider
// failures and do not trip the breaker.
type ProtectedSender struct {
	inner Sender
	cfg   ProtectedSenderConfig
	now   func() time.Time

	mu                  sync.Mutex
	state               circuitState
	consecutiveFailures int
	openedAt            time.Time
	halfOpenInFlight    int
}

// NewProtectedSender wraps inner with timeout and circuit breaking.
func NewProtectedSender(inner Sender, cfg ProtectedSenderConfig) *ProtectedSender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 15 * time.Second
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = 1
	}
	return &ProtectedSender{inner: inner, cfg: cfg, now: time.Now, state: stateClosed}
}

// Send delivers message through the wrapped sender unless the circuit is open.
func (p *ProtectedSender) Send(ctx context.Context, message Message) error {
	if !p.allowRequest() {
		return ErrCircuitOpen
	}

	sendCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	err := p.inner.Send(sendCtx, message)
	p.afterRequest(err)
	return err
}

func (p *ProtectedSender) allowRequest() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case stateOpen:
		if p.now().Sub(p.openedAt) < p.cfg.Cooldown {
			return false
		}
		p.state = stateHalfOpen
		p.halfOpenInFlight = 1
		return true
	case stateHalfOpen:
		if p.halfOpenInFlight >= p.cfg.HalfOpenMaxCalls {
			return false
		}
		p.halfOpenInFlight++
		return true
	default:
		return true
	}
}

func (p *ProtectedSender) afterRequest(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == stateHalfOpen && p.halfOpenInFlight > 0 {
		p.halfOpenInFlight--
	}

	if err == nil || errors.Is(err, ErrRecipientUnreachable) {
		p.consecutiveFailures = 0
		p.state = stateClosed
		return
	}

	p.consecutiveFailures++
	if p.state == stateHalfOpen || p.consecutiveFailures >= p.cfg.FailureThreshold {
		p.state = stateOpen
		p.openedAt = p.now()
	}
}
