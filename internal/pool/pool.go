package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lmoretti/voicedesk/internal/observability"
	"github.com/lmoretti/voicedesk/internal/voice"
)

var (
	// ErrQueueTimeout means queued demand could not be served before its
	// deadline. Callers treat it as "voice unavailable now", not retryable.
	ErrQueueTimeout = errors.New("queued voice request timed out")
	// ErrRequestCanceled means the owning session went away before its
	// queued request was served.
	ErrRequestCanceled = errors.New("queued voice request canceled")
	ErrPoolClosed      = errors.New("connection pool is closed")
)

// ConnectError reports that link establishment exhausted its retry budget.
type ConnectError struct {
	Attempts int
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("voice link establishment failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Config bounds the pool. The queue timeout and the per-attempt connect
// timeout (enforced by the opener) are deliberately separate timers.
type Config struct {
	MaxLinks          int
	QueueTimeout      time.Duration
	ConnectRetries    int
	ConnectRetryDelay time.Duration
}

type acquireResult struct {
	link *voice.Link
	err  error
}

// pendingRequest is queued demand for a link. Each entry owns a single-fire
// result channel and its own expiry timer; a timed-out entry is removed from
// the queue and failed, never silently dropped.
type pendingRequest struct {
	sessionID  string
	language   string
	selection  voice.Selection
	enqueuedAt time.Time
	timer      *time.Timer
	done       chan acquireResult
	fired      bool // guarded by Pool.mu
}

// Pool bounds the number of concurrent upstream voice links, reuses the link
// a session already holds and queues excess demand in strict FIFO order.
//
// The links map, the reserved set and the pending queue form one critical
// section: capacity checks and queue admission never race.
type Pool struct {
	opener  voice.Opener
	cfg     Config
	metrics *observability.Metrics

	mu       sync.Mutex
	links    map[string]*voice.Link
	reserved map[string]struct{} // sessions with an establishment in flight
	pending  []*pendingRequest
	closed   bool
}

// Stats is a point-in-time snapshot of pool occupancy.
type Stats struct {
	ActiveLinks int `json:"active_links"`
	Opening     int `json:"opening"`
	Queued      int `json:"queued"`
	MaxLinks    int `json:"max_links"`
}

func New(cfg Config, opener voice.Opener, metrics *observability.Metrics) *Pool {
	if cfg.MaxLinks < 1 {
		cfg.MaxLinks = 1
	}
	if cfg.ConnectRetries < 1 {
		cfg.ConnectRetries = 1
	}
	if cfg.QueueTimeout <= 0 {
		cfg.QueueTimeout = 30 * time.Second
	}
	return &Pool{
		opener:   opener,
		cfg:      cfg,
		metrics:  metrics,
		links:    make(map[string]*voice.Link),
		reserved: make(map[string]struct{}),
	}
}

// Acquire returns the session's open link, establishes a new one when
// capacity allows, or queues the demand. Queued requests fail with
// ErrQueueTimeout after the queue deadline.
func (p *Pool) Acquire(ctx context.Context, sessionID, language string, sel voice.Selection) (*voice.Link, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if l, ok := p.links[sessionID]; ok && l.State() == voice.StateOpen {
		p.mu.Unlock()
		return l, nil
	}

	_, dialing := p.reserved[sessionID]
	if !dialing && p.occupiedLocked() < p.cfg.MaxLinks {
		p.reserved[sessionID] = struct{}{}
		p.mu.Unlock()
		return p.establish(ctx, sessionID, language, sel)
	}

	// At capacity (or this session is already being dialed): queue.
	req := &pendingRequest{
		sessionID:  sessionID,
		language:   language,
		selection:  sel,
		enqueuedAt: time.Now(),
		done:       make(chan acquireResult, 1),
	}
	req.timer = time.AfterFunc(p.cfg.QueueTimeout, func() { p.expire(req) })
	p.pending = append(p.pending, req)
	p.setQueueGaugeLocked()
	p.mu.Unlock()

	select {
	case res := <-req.done:
		if p.metrics != nil && res.err == nil {
			p.metrics.QueueWait.Observe(time.Since(req.enqueuedAt).Seconds())
		}
		return res.link, res.err
	case <-ctx.Done():
		return p.abandon(req, ctx.Err())
	}
}

// abandon withdraws a queued request whose caller gave up. If the request was
// served concurrently, the delivered link is released so capacity returns.
func (p *Pool) abandon(req *pendingRequest, cause error) (*voice.Link, error) {
	p.mu.Lock()
	if !req.fired {
		req.fired = true
		req.timer.Stop()
		p.removePendingLocked(req)
		p.setQueueGaugeLocked()
		p.mu.Unlock()
		return nil, cause
	}
	p.mu.Unlock()

	res := <-req.done
	if res.link != nil {
		p.Release(req.sessionID)
	}
	return nil, cause
}

func (p *Pool) expire(req *pendingRequest) {
	p.mu.Lock()
	if req.fired {
		p.mu.Unlock()
		return
	}
	req.fired = true
	p.removePendingLocked(req)
	p.setQueueGaugeLocked()
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.LinkEvents.WithLabelValues("queue_timeout").Inc()
	}
	req.done <- acquireResult{err: ErrQueueTimeout}
}

// establish dials with a bounded retry loop. The fixed inter-attempt delay
// never counts against other pending requests' queue deadlines because the
// pool lock is not held while dialing.
func (p *Pool) establish(ctx context.Context, sessionID, language string, sel voice.Selection) (*voice.Link, error) {
	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= p.cfg.ConnectRetries; attempt++ {
		attempts = attempt
		l, err := p.opener.Open(ctx, sessionID, language, sel)
		if err == nil {
			p.register(sessionID, l)
			return l, nil
		}
		lastErr = err
		if p.metrics != nil {
			p.metrics.LinkEvents.WithLabelValues("connect_attempt_failed").Inc()
		}
		if attempt == p.cfg.ConnectRetries {
			break
		}
		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
		case <-time.After(p.cfg.ConnectRetryDelay):
		}
		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			break
		}
	}

	p.mu.Lock()
	delete(p.reserved, sessionID)
	p.serveQueueLocked()
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.LinkEvents.WithLabelValues("connect_failed").Inc()
	}
	return nil, &ConnectError{Attempts: attempts, Err: lastErr}
}

func (p *Pool) register(sessionID string, l *voice.Link) {
	p.mu.Lock()
	delete(p.reserved, sessionID)
	p.links[sessionID] = l
	p.setLinkGaugeLocked()
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.LinkEvents.WithLabelValues("opened").Inc()
	}
}

// Release closes and removes the session's link, fails any of its queued
// demand, then serves the queue head if capacity allows.
func (p *Pool) Release(sessionID string) bool {
	p.mu.Lock()
	l, had := p.links[sessionID]
	delete(p.links, sessionID)
	for _, req := range p.pendingForLocked(sessionID) {
		req.fired = true
		req.timer.Stop()
		p.removePendingLocked(req)
		req.done <- acquireResult{err: ErrRequestCanceled}
	}
	p.serveQueueLocked()
	p.setLinkGaugeLocked()
	p.setQueueGaugeLocked()
	p.mu.Unlock()

	if had {
		l.Close()
		if p.metrics != nil {
			p.metrics.LinkEvents.WithLabelValues("released").Inc()
		}
	}
	return had
}

// HandleLinkClosed is the teardown hook links fire when the upstream closes
// from its side; it reclaims capacity and serves queued demand.
func (p *Pool) HandleLinkClosed(l *voice.Link, cause error) {
	p.mu.Lock()
	if current, ok := p.links[l.SessionID()]; !ok || current != l {
		p.mu.Unlock()
		return
	}
	delete(p.links, l.SessionID())
	p.serveQueueLocked()
	p.setLinkGaugeLocked()
	p.mu.Unlock()

	if p.metrics != nil {
		label := "closed"
		if cause != nil {
			label = "closed_error"
		}
		p.metrics.LinkEvents.WithLabelValues(label).Inc()
	}
}

// SendText delegates to the session's open link.
func (p *Pool) SendText(sessionID, text string) error {
	p.mu.Lock()
	l, ok := p.links[sessionID]
	p.mu.Unlock()
	if !ok {
		return voice.ErrNotOpen
	}
	return l.SendText(text)
}

// ReapIdle releases links unused for longer than olderThan and reports how
// many were reclaimed. Reclamation goes through the normal Release path.
func (p *Pool) ReapIdle(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)

	p.mu.Lock()
	var stale []string
	for sessionID, l := range p.links {
		if l.LastUsed().Before(cutoff) {
			stale = append(stale, sessionID)
		}
	}
	p.mu.Unlock()

	for _, sessionID := range stale {
		if p.Release(sessionID) && p.metrics != nil {
			p.metrics.LinkEvents.WithLabelValues("reaped").Inc()
		}
	}
	return len(stale)
}

// Stats snapshots pool occupancy for introspection endpoints.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		ActiveLinks: len(p.links),
		Opening:     len(p.reserved),
		Queued:      len(p.pending),
		MaxLinks:    p.cfg.MaxLinks,
	}
}

// Close releases every link and fails all queued demand.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	links := make([]*voice.Link, 0, len(p.links))
	for _, l := range p.links {
		links = append(links, l)
	}
	p.links = make(map[string]*voice.Link)
	pending := p.pending
	p.pending = nil
	for _, req := range pending {
		if !req.fired {
			req.fired = true
			req.timer.Stop()
			req.done <- acquireResult{err: ErrPoolClosed}
		}
	}
	p.setLinkGaugeLocked()
	p.setQueueGaugeLocked()
	p.mu.Unlock()

	for _, l := range links {
		l.Close()
	}
}

// occupiedLocked counts both open links and in-flight establishments so two
// concurrent acquires can never both claim the last slot.
func (p *Pool) occupiedLocked() int {
	return len(p.links) + len(p.reserved)
}

// serveQueueLocked admits queued demand in strict FIFO order while capacity
// allows. Establishment for a dequeued entry runs outside the lock.
func (p *Pool) serveQueueLocked() {
	for len(p.pending) > 0 && !p.closed && p.occupiedLocked() < p.cfg.MaxLinks {
		req := p.pending[0]
		p.pending = p.pending[1:]
		if req.fired {
			continue
		}
		req.fired = true
		req.timer.Stop()

		if l, ok := p.links[req.sessionID]; ok && l.State() == voice.StateOpen {
			req.done <- acquireResult{link: l}
			continue
		}

		p.reserved[req.sessionID] = struct{}{}
		go p.establishForPending(req)
	}
	p.setQueueGaugeLocked()
}

func (p *Pool) establishForPending(req *pendingRequest) {
	l, err := p.establish(context.Background(), req.sessionID, req.language, req.selection)
	req.done <- acquireResult{link: l, err: err}
}

func (p *Pool) pendingForLocked(sessionID string) []*pendingRequest {
	var out []*pendingRequest
	for _, req := range p.pending {
		if req.sessionID == sessionID && !req.fired {
			out = append(out, req)
		}
	}
	return out
}

func (p *Pool) removePendingLocked(target *pendingRequest) {
	for i, req := range p.pending {
		if req == target {
			p.pending = append(p.pending[:i], p.pending[i+1:]...)
			return
		}
	}
}

func (p *Pool) setLinkGaugeLocked() {
	if p.metrics != nil {
		p.metrics.ActiveLinks.Set(float64(len(p.links)))
	}
}

func (p *Pool) setQueueGaugeLocked() {
	if p.metrics != nil {
		p.metrics.QueuedRequests.Set(float64(len(p.pending)))
	}
}
