package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"library-circulation-backend/internal/domain"
	"library-circulation-backend/internal/logger"
	"library-circulation-backend/internal/repository"
)

// unit is one running unit of work: the repositories bound to it, the
// instant it started, and the audit events and notifications produced by
// its transitions. Events are written inside the unit; notifications go
// out only after it commits.
type unit struct {
	repository.Repositories
	now     time.Time
	actor   domain.Actor
	events  []domain.AuditEvent
	notices []notice
}

type notice struct {
	kind string
	send func(ctx context.Context) error
}

func (u *unit) record(entity domain.AuditEntity, id int32, action, from, to string, metadata map[string]string) {
	u.events = append(u.events, domain.AuditEvent{
		ID:         uuid.NewString(),
		EntityType: entity,
		EntityID:   id,
		Action:     action,
		FromState:  from,
		ToState:    to,
		Actor:      u.actor,
		OccurredAt: u.now,
		Metadata:   metadata,
	})
}

func (u *unit) notify(kind string, send func(ctx context.Context) error) {
	u.notices = append(u.notices, notice{kind: kind, send: send})
}

// runner executes units of work against a store.
type runner struct {
	store repository.Store
	clock Clock
}

func (r *runner) run(ctx context.Context, method string, actor domain.Actor, fn func(ctx context.Context, u *unit) error) error {
	logger.EnterMethod(method, "actor_id", actor.ID, "actor_kind", actor.Kind)

	var u *unit
	err := r.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		u = &unit{Repositories: repos, now: r.clock.Now(), actor: actor}
		if err := fn(ctx, u); err != nil {
			return err
		}
		for i := range u.events {
			if err := repos.Audit.Append(ctx, &u.events[i]); err != nil {
				return fmt.Errorf("append audit event: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		logger.ExitMethodWithError(method, err)
		return err
	}

	for _, e := range u.events {
		logger.Audit(ctx, string(e.EntityType), e.EntityID, e.Action, e.FromState, e.ToState,
			"actor_id", e.Actor.ID, "actor_kind", e.Actor.Kind, "event_id", e.ID)
	}
	for _, n := range u.notices {
		if err := n.send(ctx); err != nil {
			logger.WarnContext(ctx, "Notification not delivered", "method", method, "kind", n.kind, "error", err)
		}
	}
	logger.ExitMethod(method)
	return nil
}

// storeErr turns a unique-index collision on a loan write into a
// consistency violation: another unit bound the copy first.
func storeErr(err error) error {
	if errors.Is(err, domain.ErrConflict) {
		return fmt.Errorf("%w: %v", domain.ErrConsistency, err)
	}
	return err
}

func requireStaff(actor domain.Actor) error {
	if actor.Kind != domain.ActorStaff {
		return domain.Guard(domain.CodeForbidden, "staff only operation")
	}
	return nil
}

func idString(id int32) string {
	return fmt.Sprintf("%d", id)
}
