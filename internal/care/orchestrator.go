package care

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lmoretti/voicedesk/internal/broadcast"
	"github.com/lmoretti/voicedesk/internal/observability"
	"github.com/lmoretti/voicedesk/internal/policy"
	"github.com/lmoretti/voicedesk/internal/pool"
	"github.com/lmoretti/voicedesk/internal/protocol"
	"github.com/lmoretti/voicedesk/internal/reply"
	"github.com/lmoretti/voicedesk/internal/sentiment"
	"github.com/lmoretti/voicedesk/internal/store"
	"github.com/lmoretti/voicedesk/internal/voice"
)

const (
	TagEscalated     = "escalated"
	TagVoiceDegraded = "voice_degraded"

	EndReasonCustomer = "customer_request"
	EndReasonTimeout  = "idle_timeout"
)

const welcomeText = "Hello! You're connected with our support assistant. How can I help you today?"

const repeatText = "Sorry, I didn't catch that. Could you say it again?"

const apologyText = "I'm having trouble answering right now. Please give me a moment and try again."

// Config tunes the orchestrator. Zero values fall back to the defaults
// recommended for production.
type Config struct {
	EscalationThreshold float64
	IdleLinkTimeout     time.Duration
	IdleSessionTimeout  time.Duration
	DefaultSelection    voice.Selection
}

// Orchestrator owns the per-session conversation state machine: inbound
// customer messages, generated replies and voice delivery. It is the pool's
// only caller and the single place where text-only degradation is decided.
//
// Sessions are owned exclusively by the orchestrator; the pool and links are
// referenced by session identifier only.
type Orchestrator struct {
	cfg        Config
	pool       *pool.Pool
	broker     broadcast.Publisher
	classifier sentiment.Classifier
	generator  reply.Generator
	store      store.Store
	metrics    *observability.Metrics

	mu        sync.Mutex
	sessions  map[string]*session
	summaries map[string]Summary
}

func New(cfg Config, p *pool.Pool, broker broadcast.Publisher, classifier sentiment.Classifier, generator reply.Generator, st store.Store, metrics *observability.Metrics) *Orchestrator {
	if cfg.EscalationThreshold <= 0 {
		cfg.EscalationThreshold = 0.7
	}
	if cfg.IdleLinkTimeout <= 0 {
		cfg.IdleLinkTimeout = 30 * time.Minute
	}
	if cfg.IdleSessionTimeout <= 0 {
		cfg.IdleSessionTimeout = 30 * time.Minute
	}
	return &Orchestrator{
		cfg:        cfg,
		pool:       p,
		broker:     broker,
		classifier: classifier,
		generator:  generator,
		store:      st,
		metrics:    metrics,
		sessions:   make(map[string]*session),
		summaries:  make(map[string]Summary),
	}
}

// StartSession creates a session and tries to attach a voice link. A failed
// acquire is never fatal: the session proceeds text-only and listeners get a
// voice_unavailable event.
func (o *Orchestrator) StartSession(ctx context.Context, customerID, projectID, language string) (*Session, error) {
	now := time.Now().UTC()
	s := &session{Session: Session{
		ID:             uuid.NewString(),
		CustomerID:     customerID,
		ProjectID:      projectID,
		Language:       language,
		Status:         StatusInitializing,
		Priority:       PriorityNormal,
		CreatedAt:      now,
		LastActivityAt: now,
	}}

	o.mu.Lock()
	o.sessions[s.ID] = s
	o.mu.Unlock()

	if _, err := o.pool.Acquire(ctx, s.ID, language, o.cfg.DefaultSelection); err != nil {
		log.Printf("care: session %s starting text-only: %v", s.ID, err)
		o.publishSystem(ctx, s.ID, protocol.CodeVoiceUnavailable, "voice could not be attached; continuing in text mode")
	} else {
		o.mu.Lock()
		s.VoiceEnabled = true
		o.mu.Unlock()
	}

	o.mu.Lock()
	s.Status = StatusActive
	snapshot := clone(s)
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.SessionEvents.WithLabelValues("created").Inc()
		o.setSessionGauge()
	}

	o.deliverReply(ctx, s.ID, welcomeText)
	return snapshot, nil
}

// HandleInboundMessage runs one conversational turn. Voice failures degrade
// the session; the text reply is always published. A second call for the
// same session while one is running fails with ErrTurnInFlight.
func (o *Orchestrator) HandleInboundMessage(ctx context.Context, sessionID, text string) (*TurnOutcome, error) {
	started := time.Now()

	o.mu.Lock()
	s, ok := o.sessions[sessionID]
	if !ok {
		o.mu.Unlock()
		if _, ended := o.summaryFor(sessionID); ended {
			return nil, ErrSessionEnded
		}
		return nil, ErrNotFound
	}
	if s.Status == StatusEnded {
		o.mu.Unlock()
		return nil, ErrSessionEnded
	}
	if s.inFlight {
		o.mu.Unlock()
		return nil, ErrTurnInFlight
	}
	s.inFlight = true
	s.LastActivityAt = time.Now().UTC()
	s.MessageCount++
	language := s.Language
	projectID := s.ProjectID
	voiceEnabled := s.VoiceEnabled
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		s.inFlight = false
		o.mu.Unlock()
	}()

	outcome := &TurnOutcome{SessionID: sessionID, Sentiment: string(sentiment.LabelNeutral)}

	if isBlank(text) {
		outcome.ReplyText = repeatText
		outcome.VoiceDelivered = o.deliverReply(ctx, sessionID, repeatText)
		o.finishTurn(s, outcome, started)
		return outcome, nil
	}

	res, err := o.classifier.Classify(ctx, text)
	if err != nil {
		log.Printf("care: sentiment for session %s failed: %v", sessionID, err)
		res = sentiment.Result{Label: sentiment.LabelNeutral}
	}
	outcome.Sentiment = string(res.Label)
	outcome.Confidence = res.Confidence

	if res.Label == sentiment.LabelNegative && res.Confidence >= o.cfg.EscalationThreshold {
		outcome.Escalated = o.escalate(ctx, s)
	}

	// The generator may call out to an external model; never hand it raw PII.
	safeText, _ := policy.RedactPII(trimmed(text))
	replyText, err := o.generator.Generate(ctx, reply.Request{
		SessionID: sessionID,
		ProjectID: projectID,
		Language:  language,
		Text:      safeText,
		Sentiment: string(res.Label),
		Escalated: outcome.Escalated,
	})
	if err != nil || isBlank(replyText) {
		// A dead reply backend still must not fail the customer's turn.
		log.Printf("care: reply generation for session %s failed: %v", sessionID, err)
		replyText = apologyText
	}
	outcome.ReplyText = replyText

	if voiceEnabled {
		outcome.VoiceDelivered = o.sendVoice(ctx, sessionID, replyText)
	}
	o.publishReply(ctx, sessionID, replyText, outcome.VoiceDelivered)
	o.finishTurn(s, outcome, started)
	return outcome, nil
}

// deliverReply pushes assistant text through the normal outbound path:
// voice first when the session still has it, then the text broadcast.
func (o *Orchestrator) deliverReply(ctx context.Context, sessionID, text string) bool {
	o.mu.Lock()
	s, ok := o.sessions[sessionID]
	voiceEnabled := ok && s.VoiceEnabled
	o.mu.Unlock()

	delivered := false
	if voiceEnabled {
		delivered = o.sendVoice(ctx, sessionID, text)
	}
	o.publishReply(ctx, sessionID, text, delivered)
	return delivered
}

// sendVoice attempts synthesis and applies the one-way degradation rule on
// failure. Returns whether the utterance reached the upstream.
func (o *Orchestrator) sendVoice(ctx context.Context, sessionID, text string) bool {
	err := o.pool.SendText(sessionID, text)
	if err == nil {
		return true
	}

	log.Printf("care: session %s degrading to text-only: %v", sessionID, err)
	o.mu.Lock()
	if s, ok := o.sessions[sessionID]; ok {
		s.VoiceEnabled = false
		s.addTag(TagVoiceDegraded)
	}
	o.mu.Unlock()
	o.pool.Release(sessionID)

	if o.metrics != nil {
		o.metrics.SessionEvents.WithLabelValues("voice_degraded").Inc()
	}
	o.publishSystem(ctx, sessionID, protocol.CodeVoiceUnavailable, "voice delivery failed; continuing in text mode")
	return false
}

func (o *Orchestrator) escalate(ctx context.Context, s *session) bool {
	o.mu.Lock()
	if s.hasTag(TagEscalated) {
		o.mu.Unlock()
		return true
	}
	s.Priority = PriorityHigh
	s.addTag(TagEscalated)
	sessionID := s.ID
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.SessionEvents.WithLabelValues("escalated").Inc()
	}
	o.publishSystem(ctx, sessionID, protocol.CodeEscalated, "negative sentiment above threshold; flagged for human routing")
	return true
}

// EndSession tears a session down and returns its aggregates. Idempotent:
// ending an ended session returns the retained summary.
func (o *Orchestrator) EndSession(ctx context.Context, sessionID string, rating int, feedback string) (Summary, error) {
	return o.endWithReason(ctx, sessionID, rating, feedback, EndReasonCustomer)
}

func (o *Orchestrator) endWithReason(ctx context.Context, sessionID string, rating int, feedback, reason string) (Summary, error) {
	o.mu.Lock()
	if summary, ok := o.summaries[sessionID]; ok {
		o.mu.Unlock()
		return summary, nil
	}
	s, ok := o.sessions[sessionID]
	if !ok {
		o.mu.Unlock()
		return Summary{}, ErrNotFound
	}
	s.Status = StatusEnded
	now := time.Now().UTC()
	s.LastActivityAt = now
	feedback, _ = policy.RedactPII(feedback)
	summary := Summary{
		SessionID:      s.ID,
		CustomerID:     s.CustomerID,
		ProjectID:      s.ProjectID,
		Status:         StatusEnded,
		EndReason:      reason,
		Rating:         rating,
		Feedback:       feedback,
		Escalated:      s.hasTag(TagEscalated),
		VoiceDegraded:  s.hasTag(TagVoiceDegraded),
		MessageCount:   s.MessageCount,
		AvgReplyMillis: s.AvgReplyMillis,
		StartedAt:      s.CreatedAt,
		EndedAt:        now,
	}
	language := s.Language
	delete(o.sessions, sessionID)
	o.summaries[sessionID] = summary
	o.mu.Unlock()

	o.pool.Release(sessionID)

	code := protocol.CodeSessionEnded
	if reason == EndReasonTimeout {
		code = protocol.CodeSessionTimeout
	}
	o.publishSystem(ctx, sessionID, code, "")

	if o.store != nil {
		record := store.SummaryRecord{
			SessionID:      summary.SessionID,
			CustomerID:     summary.CustomerID,
			ProjectID:      summary.ProjectID,
			Language:       language,
			EndReason:      summary.EndReason,
			Escalated:      summary.Escalated,
			MessageCount:   summary.MessageCount,
			AvgReplyMillis: summary.AvgReplyMillis,
			VoiceDegraded:  summary.VoiceDegraded,
			StartedAt:      summary.StartedAt,
			EndedAt:        summary.EndedAt,
		}
		if err := o.store.SaveSummary(ctx, record); err != nil {
			log.Printf("care: persist summary for session %s failed: %v", sessionID, err)
		}
	}

	if o.metrics != nil {
		o.metrics.SessionEvents.WithLabelValues("ended").Inc()
		o.setSessionGauge()
	}
	return summary, nil
}

// Get returns a snapshot of an active session.
func (o *Orchestrator) Get(sessionID string) (*Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

// Summary returns the retained summary of an ended session.
func (o *Orchestrator) Summary(sessionID string) (Summary, bool) {
	return o.summaryFor(sessionID)
}

func (o *Orchestrator) summaryFor(sessionID string) (Summary, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	summary, ok := o.summaries[sessionID]
	return summary, ok
}

func (o *Orchestrator) ActiveCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	count := 0
	for _, s := range o.sessions {
		if s.Status != StatusEnded {
			count++
		}
	}
	return count
}

// PoolStats exposes pool occupancy for the stats endpoint.
func (o *Orchestrator) PoolStats() pool.Stats {
	return o.pool.Stats()
}

func (o *Orchestrator) finishTurn(s *session, outcome *TurnOutcome, started time.Time) {
	elapsed := time.Since(started)
	outcome.LatencyMillis = elapsed.Milliseconds()

	o.mu.Lock()
	s.recordReply(elapsed)
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.ObserveTurnLatency(elapsed)
	}
}

func (o *Orchestrator) publishReply(ctx context.Context, sessionID, text string, voiceDelivered bool) {
	msg := protocol.AssistantReply{
		Type:           protocol.TypeAssistantReply,
		SessionID:      sessionID,
		Text:           text,
		VoiceDelivered: voiceDelivered,
		TSMs:           time.Now().UnixMilli(),
	}
	if err := o.broker.Publish(ctx, sessionID, string(protocol.TypeAssistantReply), msg); err != nil {
		log.Printf("care: publish reply for session %s failed: %v", sessionID, err)
	}
}

func (o *Orchestrator) publishSystem(ctx context.Context, sessionID, code, detail string) {
	evt := protocol.SystemEvent{
		Type:      protocol.TypeSystemEvent,
		SessionID: sessionID,
		Code:      code,
		Detail:    detail,
	}
	if err := o.broker.Publish(ctx, sessionID, string(protocol.TypeSystemEvent), evt); err != nil {
		log.Printf("care: publish system event for session %s failed: %v", sessionID, err)
	}
}

func isBlank(s string) bool { return strings.TrimSpace(s) == "" }

func trimmed(s string) string { return strings.TrimSpace(s) }

func (o *Orchestrator) setSessionGauge() {
	if o.metrics != nil {
		o.metrics.ActiveSessions.Set(float64(o.ActiveCount()))
	}
}
