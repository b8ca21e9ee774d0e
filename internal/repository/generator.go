package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/hray3182/followup/internal/database"
	"github.com/hray3182/followup/internal/models"
	"github.com/hray3182/followup/internal/rrule"
	"github.com/hray3182/followup/internal/schedule"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

const generatorColumns = `g.id, g.owner_id, g.hook_id, g.name, g.description, g.created_at,
	m.id, m.body, d.id, d.payload,
	r.freq, r.dtstart, r.timezone, r.freq_interval, r.max_count, r.until_at, r.byweekday, r.bymonthday,
	r.allow_infinite, r.last_run, r.next_run, r.remaining, r.is_exhausted, r.past_events`

const generatorFrom = `FROM fup_generator g
	JOIN fup_recurrence r ON r.generator_id = g.id
	JOIN fup_message m ON m.id = g.message_id
	JOIN fup_data d ON d.id = g.data_id`

type GeneratorRepository struct {
	db  *database.DB
	log zerolog.Logger
}

func NewGeneratorRepository(db *database.DB, log zerolog.Logger) *GeneratorRepository {
	return &GeneratorRepository{db: db, log: log.With().Str("component", "generator_repository").Logger()}
}

// Create stores g with its message, data, rule, state and channels in one
// transaction. A duplicate (owner, name) yields models.ErrConflict.
func (r *GeneratorRepository) Create(ctx context.Context, g *models.FollowupGenerator) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `INSERT INTO fup_message (id, body) VALUES ($1, $2)`,
		g.Message.ID, g.Message.Body); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO fup_data (id, payload) VALUES ($1, $2)`,
		g.Data.ID, payloadOrEmpty(g.Data.Payload)); err != nil {
		return fmt.Errorf("insert data: %w", err)
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO fup_generator (id, owner_id, hook_id, name, description, message_id, data_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING created_at`,
		g.ID, g.OwnerID, g.HookID, g.Name, g.Description, g.Message.ID, g.Data.ID,
	).Scan(&g.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: generator %q already exists for owner %q", models.ErrConflict, g.Name, g.OwnerID)
		}
		return fmt.Errorf("insert generator: %w", err)
	}

	rule, st := g.Rule, g.State
	_, err = tx.Exec(ctx,
		`INSERT INTO fup_recurrence (generator_id, freq, dtstart, timezone, freq_interval, max_count, until_at,
			byweekday, bymonthday, allow_infinite, last_run, next_run, remaining, is_exhausted, past_events)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		g.ID, string(rule.Freq), rule.Dtstart, rule.Timezone, rule.Interval, rule.Count, rule.Until,
		weekdayStrings(rule.ByWeekday), monthDays32(rule.ByMonthDay), rule.AllowInfinite,
		st.LastRun, st.NextRun, st.Remaining, g.Exhausted, string(st.PastEvents),
	)
	if err != nil {
		return fmt.Errorf("insert recurrence: %w", err)
	}

	for i, ch := range g.Channels {
		if _, err := tx.Exec(ctx,
			`INSERT INTO fup_channel (id, generator_id, position, type, config) VALUES ($1, $2, $3, $4, $5)`,
			ch.ID, g.ID, i, ch.Type, payloadOrEmpty(ch.Config),
		); err != nil {
			return fmt.Errorf("insert channel: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// List returns the owner's generators. active selects non-exhausted ones,
// otherwise exhausted ones are returned.
func (r *GeneratorRepository) List(ctx context.Context, ownerID string, active bool) ([]*models.FollowupGenerator, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT `+generatorColumns+` `+generatorFrom+`
		 WHERE g.owner_id = $1 AND r.is_exhausted = $2
		 ORDER BY r.next_run ASC NULLS LAST, g.name`,
		ownerID, !active,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var gens []*models.FollowupGenerator
	for rows.Next() {
		g, err := scanGenerator(rows)
		if err != nil {
			return nil, err
		}
		gens = append(gens, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.loadChannels(ctx, r.db.Pool, gens); err != nil {
		return nil, err
	}
	return gens, nil
}

func (r *GeneratorRepository) GetByID(ctx context.Context, id string) (*models.FollowupGenerator, error) {
	return r.getByID(ctx, r.db.Pool, id, false)
}

func (r *GeneratorRepository) getByID(ctx context.Context, q querier, id string, forUpdate bool) (*models.FollowupGenerator, error) {
	sql := `SELECT ` + generatorColumns + ` ` + generatorFrom + ` WHERE g.id = $1`
	if forUpdate {
		sql += ` FOR UPDATE OF r`
	}
	g, err := scanGenerator(q.QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: generator %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	if err := r.loadChannels(ctx, q, []*models.FollowupGenerator{g}); err != nil {
		return nil, err
	}
	return g, nil
}

func (r *GeneratorRepository) FindID(ctx context.Context, ownerID, name string) (string, bool, error) {
	var id string
	err := r.db.Pool.QueryRow(ctx,
		`SELECT id FROM fup_generator WHERE owner_id = $1 AND name = $2`,
		ownerID, name,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

// BatchUpdateState writes run state for every update in one transaction.
// Updates for generators that no longer exist are skipped.
func (r *GeneratorRepository) BatchUpdateState(ctx context.Context, updates []models.StateUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, u := range updates {
		tag, err := tx.Exec(ctx,
			`UPDATE fup_recurrence SET is_exhausted = $1, remaining = $2, last_run = $3, next_run = $4
			 WHERE generator_id = $5`,
			u.Exhausted, u.Remaining, u.LastRun, u.NextRun, u.GeneratorID,
		)
		if err != nil {
			return fmt.Errorf("update state of %s: %w", u.GeneratorID, err)
		}
		if tag.RowsAffected() == 0 {
			r.log.Debug().Str("generator_id", u.GeneratorID).Msg("skipping state update for missing generator")
		}
	}
	return tx.Commit(ctx)
}

// UpdateExhaustionRule locks the generator, lets apply change its rule, state
// and exhaustion flag, and writes the result back in the same transaction.
func (r *GeneratorRepository) UpdateExhaustionRule(ctx context.Context, id string, apply func(*models.FollowupGenerator) error) (*models.FollowupGenerator, error) {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	g, err := r.getByID(ctx, tx, id, true)
	if err != nil {
		return nil, err
	}
	if err := apply(g); err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx,
		`UPDATE fup_recurrence SET max_count = $1, until_at = $2, remaining = $3, next_run = $4, is_exhausted = $5
		 WHERE generator_id = $6`,
		g.Rule.Count, g.Rule.Until, g.State.Remaining, g.State.NextRun, g.Exhausted, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update recurrence: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return g, nil
}

// Delete removes the generator with its rule, channels, follow-ups, message
// and data.
func (r *GeneratorRepository) Delete(ctx context.Context, id string) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var messageID, dataID string
	err = tx.QueryRow(ctx,
		`DELETE FROM fup_generator WHERE id = $1 RETURNING message_id, data_id`, id,
	).Scan(&messageID, &dataID)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: generator %s", models.ErrNotFound, id)
	}
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM fup_message WHERE id = $1`, messageID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM fup_data WHERE id = $1`, dataID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ActiveOwners returns every owner with a pending next_run, with the
// earliest one.
func (r *GeneratorRepository) ActiveOwners(ctx context.Context) ([]models.OwnerWake, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT g.owner_id, MIN(r.next_run)
		 FROM fup_generator g JOIN fup_recurrence r ON r.generator_id = g.id
		 WHERE r.is_exhausted = FALSE AND r.next_run IS NOT NULL
		 GROUP BY g.owner_id
		 ORDER BY 2`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var wakes []models.OwnerWake
	for rows.Next() {
		var w models.OwnerWake
		if err := rows.Scan(&w.OwnerID, &w.NextRun); err != nil {
			return nil, err
		}
		wakes = append(wakes, w)
	}
	return wakes, rows.Err()
}

func (r *GeneratorRepository) loadChannels(ctx context.Context, q querier, gens []*models.FollowupGenerator) error {
	if len(gens) == 0 {
		return nil
	}
	ids := make([]string, len(gens))
	byID := make(map[string]*models.FollowupGenerator, len(gens))
	for i, g := range gens {
		ids[i] = g.ID
		byID[g.ID] = g
	}

	rows, err := q.Query(ctx,
		`SELECT generator_id, id, type, config FROM fup_channel
		 WHERE generator_id = ANY($1) ORDER BY generator_id, position`,
		ids,
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var genID string
		var ch models.Channel
		if err := rows.Scan(&genID, &ch.ID, &ch.Type, &ch.Config); err != nil {
			return err
		}
		if g, ok := byID[genID]; ok {
			g.Channels = append(g.Channels, ch)
		}
	}
	return rows.Err()
}

func scanGenerator(row rowScanner) (*models.FollowupGenerator, error) {
	g := &models.FollowupGenerator{}
	var (
		freq       string
		byweekday  []string
		bymonthday []int32
		pastEvents string
		dtstart    time.Time
	)
	err := row.Scan(&g.ID, &g.OwnerID, &g.HookID, &g.Name, &g.Description, &g.CreatedAt,
		&g.Message.ID, &g.Message.Body, &g.Data.ID, &g.Data.Payload,
		&freq, &dtstart, &g.Rule.Timezone, &g.Rule.Interval, &g.Rule.Count, &g.Rule.Until, &byweekday, &bymonthday,
		&g.Rule.AllowInfinite, &g.State.LastRun, &g.State.NextRun, &g.State.Remaining, &g.Exhausted, &pastEvents,
	)
	if err != nil {
		return nil, err
	}
	g.Rule.Freq = rrule.Frequency(freq)
	g.Rule.Dtstart = dtstart
	g.State.PastEvents = schedule.PastEvents(pastEvents)
	for _, d := range byweekday {
		g.Rule.ByWeekday = append(g.Rule.ByWeekday, rrule.Weekday(d))
	}
	for _, d := range bymonthday {
		g.Rule.ByMonthDay = append(g.Rule.ByMonthDay, int(d))
	}
	return g, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func weekdayStrings(days []rrule.Weekday) []string {
	out := make([]string, len(days))
	for i, d := range days {
		out[i] = string(d)
	}
	return out
}

func monthDays32(days []int) []int32 {
	out := make([]int32, len(days))
	for i, d := range days {
		out[i] = int32(d)
	}
	return out
}

func payloadOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
