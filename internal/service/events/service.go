// Package events owns the write path: it turns validated payloads into
// envelopes, appends them to the log, and projects them synchronously in
// the same request. There is deliberately no transaction spanning
// append-then-project - projection is idempotent and replayable, so a crash
// between the two is repaired by replay, not by two-phase commit.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"loom/internal/domain"
	"loom/internal/domain/models"
	"loom/internal/domain/repositories"
	"loom/internal/service/projector"
)

// Service records domain events.
type Service struct {
	store     repositories.EventStore
	projector *projector.Projector
	origin    string
	logger    *slog.Logger

	mu      sync.Mutex
	entropy *rand.Rand
}

// NewService creates the event recording service. origin tags every
// envelope minted by this instance.
func NewService(store repositories.EventStore, proj *projector.Projector, origin string, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		projector: proj,
		origin:    origin,
		logger:    logger,
		entropy:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// RecordRequest describes one event to append. EventID is optional: when a
// caller supplies one (for idempotent retries) a collision surfaces as
// domain.ErrDuplicate; when empty the service mints a fresh ULID.
type RecordRequest struct {
	TreeID  string
	ActorID *string
	EventID string
	Type    models.EventType
	Payload models.Payload
}

// Record validates, appends, and projects one event, returning the
// envelope with its assigned sequence number.
func (s *Service) Record(ctx context.Context, req RecordRequest) (*models.Envelope, error) {
	if !req.Type.Known() {
		return nil, &domain.ValidationError{Message: fmt.Sprintf("unknown event type %q", req.Type)}
	}
	if err := req.Payload.Validate(); err != nil {
		return nil, &domain.ValidationError{Message: err.Error()}
	}

	raw, err := json.Marshal(req.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	now := time.Now().UTC()
	eventID := req.EventID
	if eventID == "" {
		eventID = s.newEventID(now)
	}

	env := &models.Envelope{
		EventID:   eventID,
		TreeID:    req.TreeID,
		Timestamp: now,
		Origin:    s.origin,
		ActorID:   req.ActorID,
		Type:      req.Type,
		Payload:   raw,
	}

	if _, err := s.store.Append(ctx, env); err != nil {
		return nil, err
	}

	// The event is durable at this point. A projection failure leaves a
	// logged-but-unprojected window that replay repairs.
	if err := s.projector.Project(ctx, []models.Envelope{*env}); err != nil {
		s.logger.Error("projection failed for appended event; replay will repair",
			"event_id", env.EventID,
			"seq", env.Seq,
			"error", err,
		)
		return nil, fmt.Errorf("project event %s: %w", env.EventID, err)
	}

	return env, nil
}

// RecordRaw decodes and validates a raw payload against its event type's
// schema, then records it. Unknown types are rejected on the write path
// even though the projector would skip them on read: this instance cannot
// validate what it does not know.
func (s *Service) RecordRaw(ctx context.Context, treeID string, actorID *string, eventID string, t models.EventType, raw json.RawMessage) (*models.Envelope, error) {
	payload, err := models.DecodePayload(t, raw)
	if err != nil {
		return nil, &domain.ValidationError{Message: err.Error()}
	}
	if payload == nil {
		return nil, &domain.ValidationError{Message: fmt.Sprintf("unknown event type %q", t)}
	}
	return s.Record(ctx, RecordRequest{
		TreeID:  treeID,
		ActorID: actorID,
		EventID: eventID,
		Type:    t,
		Payload: payload,
	})
}

// RecordBatch appends and projects a pre-built envelope sequence (used by
// imports). Envelopes keep their own event ids; a duplicate fails the
// batch at that point.
func (s *Service) RecordBatch(ctx context.Context, envelopes []models.Envelope) error {
	for i := range envelopes {
		if _, err := s.store.Append(ctx, &envelopes[i]); err != nil {
			return fmt.Errorf("append %d of %d: %w", i+1, len(envelopes), err)
		}
	}
	if err := s.projector.Project(ctx, envelopes); err != nil {
		return fmt.Errorf("project batch: %w", err)
	}
	return nil
}

// Tail returns all events with sequence strictly greater than seq.
func (s *Service) Tail(ctx context.Context, seq int64) ([]models.Envelope, error) {
	return s.store.GetEventsSince(ctx, seq)
}

// History returns a tree's full event history.
func (s *Service) History(ctx context.Context, treeID string) ([]models.Envelope, error) {
	return s.store.GetEvents(ctx, treeID)
}

func (s *Service) newEventID(now time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), s.entropy).String()
}
