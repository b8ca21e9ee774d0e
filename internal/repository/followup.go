package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/hray3182/followup/internal/database"
	"github.com/hray3182/followup/internal/models"
)

type FollowUpRepository struct {
	db  *database.DB
	log zerolog.Logger
}

func NewFollowUpRepository(db *database.DB, log zerolog.Logger) *FollowUpRepository {
	return &FollowUpRepository{db: db, log: log.With().Str("component", "followup_repository").Logger()}
}

// Add inserts the follow-ups in a single transaction and returns the ones
// stored. Follow-ups of generators deleted since they were loaded are
// skipped: their generator rows are locked first so a concurrent delete
// either finishes before the insert or waits for it.
func (r *FollowUpRepository) Add(ctx context.Context, followups []*models.FollowUp) ([]*models.FollowUp, error) {
	if len(followups) == 0 {
		return nil, nil
	}
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`SELECT id FROM fup_generator WHERE id = ANY($1) FOR KEY SHARE`,
		generatorIDs(followups),
	)
	if err != nil {
		return nil, fmt.Errorf("lock generators: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("lock generators: %w", err)
	}

	stored := r.keepLive(followups, ids)
	if len(stored) > 0 {
		if err := tx.SendBatch(ctx, queueFollowUps(stored)).Close(); err != nil {
			return nil, fmt.Errorf("insert followups: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return stored, nil
}

func generatorIDs(followups []*models.FollowUp) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, f := range followups {
		if !seen[f.GeneratorID] {
			seen[f.GeneratorID] = true
			ids = append(ids, f.GeneratorID)
		}
	}
	return ids
}

// keepLive drops the follow-ups whose generator is not in live.
func (r *FollowUpRepository) keepLive(followups []*models.FollowUp, live []string) []*models.FollowUp {
	ok := make(map[string]bool, len(live))
	for _, id := range live {
		ok[id] = true
	}
	out := make([]*models.FollowUp, 0, len(followups))
	for _, f := range followups {
		if !ok[f.GeneratorID] {
			r.log.Debug().Str("generator_id", f.GeneratorID).Str("followup_id", f.ID).
				Msg("skipping followup of missing generator")
			continue
		}
		out = append(out, f)
	}
	return out
}

func queueFollowUps(followups []*models.FollowUp) *pgx.Batch {
	batch := &pgx.Batch{}
	for _, f := range followups {
		batch.Queue(
			`INSERT INTO followup (id, generator_id, owner_id, occurred_at, message_id, data_id)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			f.ID, f.GeneratorID, f.OwnerID, f.Date, f.MessageID, f.DataID,
		)
	}
	return batch
}

// SaveResponses upserts every channel response recorded on the follow-ups.
// Responses of follow-ups removed in the meantime are dropped.
func (r *FollowUpRepository) SaveResponses(ctx context.Context, followups []*models.FollowUp) error {
	batch := &pgx.Batch{}
	for _, f := range followups {
		for _, resp := range f.Responses() {
			batch.Queue(
				`INSERT INTO followup_response (followup_id, channel_id, channel_type, status, code, body, error, responded_at)
				 SELECT $1::text, $2::text, $3::text, $4::text, $5::int, $6::text, $7::text, $8::timestamptz
				 WHERE EXISTS (SELECT 1 FROM followup WHERE id = $1::text)
				 ON CONFLICT (followup_id, channel_id) DO UPDATE SET
					status = EXCLUDED.status, code = EXCLUDED.code, body = EXCLUDED.body,
					error = EXCLUDED.error, responded_at = EXCLUDED.responded_at`,
				f.ID, resp.ChannelID, resp.ChannelType, resp.Status, resp.Code, resp.Body, resp.Error, resp.At,
			)
		}
	}
	if batch.Len() == 0 {
		return nil
	}
	if err := r.db.Pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("save responses: %w", err)
	}
	return nil
}

// History returns the latest follow-ups of a generator with their responses.
func (r *FollowUpRepository) History(ctx context.Context, generatorID string, limit int) ([]*models.FollowUp, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT f.id, f.generator_id, f.owner_id, f.occurred_at, f.message_id, m.body, f.data_id
		 FROM followup f LEFT JOIN fup_message m ON m.id = f.message_id
		 WHERE f.generator_id = $1
		 ORDER BY f.occurred_at DESC
		 LIMIT $2`,
		generatorID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.FollowUp
	byID := make(map[string]*models.FollowUp)
	for rows.Next() {
		f := &models.FollowUp{}
		var body *string
		if err := rows.Scan(&f.ID, &f.GeneratorID, &f.OwnerID, &f.Date, &f.MessageID, &body, &f.DataID); err != nil {
			return nil, err
		}
		if body != nil {
			f.Message = *body
		}
		out = append(out, f)
		byID[f.ID] = f
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(out))
	for _, f := range out {
		ids = append(ids, f.ID)
	}
	respRows, err := r.db.Pool.Query(ctx,
		`SELECT followup_id, channel_id, channel_type, status, code, body, error, responded_at
		 FROM followup_response WHERE followup_id = ANY($1)`,
		ids,
	)
	if err != nil {
		return nil, err
	}
	defer respRows.Close()

	for respRows.Next() {
		var id string
		var resp models.Response
		if err := respRows.Scan(&id, &resp.ChannelID, &resp.ChannelType, &resp.Status, &resp.Code,
			&resp.Body, &resp.Error, &resp.At); err != nil {
			return nil, err
		}
		if f, ok := byID[id]; ok {
			f.SetResponse(resp)
		}
	}
	return out, respRows.Err()
}
