package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for story events. Append-only.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

// WithClock overrides the timestamp source.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s == nil || s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" || e.ActorID == "" || e.Message == "" {
		return ErrInvalidEvent
	}
	if e.Type.needsLead() && e.LeadID <= 0 {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// LeadFetched records "<agent> fetched this lead".
func (s *Service) LeadFetched(ctx context.Context, leadID int64, actorID, actorLabel string, recycled bool) error {
	msg := fmt.Sprintf("%s fetched this lead", actorLabel)
	if recycled {
		msg = fmt.Sprintf("%s fetched this lead from the recycled pool", actorLabel)
	}
	return s.Append(ctx, Event{LeadID: leadID, Type: EventLeadFetched, ActorID: actorID, Message: msg})
}

// LeadReleased records "<agent> released this lead".
func (s *Service) LeadReleased(ctx context.Context, leadID int64, actorID, actorLabel string) error {
	return s.Append(ctx, Event{
		LeadID:  leadID,
		Type:    EventLeadReleased,
		ActorID: actorID,
		Message: fmt.Sprintf("%s released this lead", actorLabel),
	})
}

// LeadRecycled records a response change that moved the lead onto the recycled track.
func (s *Service) LeadRecycled(ctx context.Context, leadID int64, actorID, actorLabel string, responseID int64, deadline time.Time) error {
	return s.Append(ctx, Event{
		LeadID:   leadID,
		Type:     EventLeadRecycled,
		ActorID:  actorID,
		Message:  fmt.Sprintf("%s changed response; lead moved to recycled until %s", actorLabel, deadline.Format("2006-01-02")),
		Metadata: fmt.Sprintf(`{"lead_response_id":%d}`, responseID),
	})
}

// LogAdminAction records configuration or maintenance actions.
func (s *Service) LogAdminAction(ctx context.Context, actorID, actorRole, message, metadata string) error {
	return s.Append(ctx, Event{
		Type:      EventAdminAction,
		ActorID:   actorID,
		ActorRole: actorRole,
		Message:   message,
		Metadata:  metadata,
	})
}
