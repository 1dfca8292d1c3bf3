package postgres

import (
	"context"

	jsoniter "github.com/json-iterator/go"

	"library-circulation-backend/internal/domain"
	"library-circulation-backend/internal/repository"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type auditRepository struct {
	db DBTX
}

func NewAuditRepository(db DBTX) repository.AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) Append(ctx context.Context, e *domain.AuditEvent) error {
	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		return err
	}
	if e.Metadata == nil {
		metadata = []byte("{}")
	}
	query := `INSERT INTO audit_events (id, entity_type, entity_id, action, from_state, to_state, actor_id, actor_kind, occurred_at, metadata)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err = r.db.ExecContext(ctx, query, e.ID, e.EntityType, e.EntityID, e.Action, e.FromState, e.ToState,
		e.Actor.ID, e.Actor.Kind, e.OccurredAt, string(metadata))
	return err
}

func (r *auditRepository) ListByEntity(ctx context.Context, entity domain.AuditEntity, entityID int32) ([]domain.AuditEvent, error) {
	query := `SELECT id, entity_type, entity_id, action, from_state, to_state, actor_id, actor_kind, occurred_at, metadata
	          FROM audit_events WHERE entity_type = $1 AND entity_id = $2 ORDER BY occurred_at, id`
	rows, err := r.db.QueryContext(ctx, query, entity, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.AuditEvent
	for rows.Next() {
		var (
			e        domain.AuditEvent
			metadata []byte
		)
		if err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &e.Action, &e.FromState, &e.ToState,
			&e.Actor.ID, &e.Actor.Kind, &e.OccurredAt, &metadata); err != nil {
			return nil, err
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, err
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
