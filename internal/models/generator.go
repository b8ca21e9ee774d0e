package models

import (
	"time"

	"github.com/hray3182/followup/internal/rrule"
	"github.com/hray3182/followup/internal/schedule"
)

// Channel is a delivery target attached to a generator. Config holds
// channel specific settings such as a url or chat id.
type Channel struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Config map[string]any `json:"config,omitempty"`
}

type Message struct {
	ID   string `json:"id"`
	Body string `json:"body"`
}

type Data struct {
	ID      string         `json:"id"`
	Payload map[string]any `json:"payload,omitempty"`
}

type GeneratorInput struct {
	OwnerID     string              `json:"owner_id"`
	HookID      string              `json:"hook_id,omitempty"`
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Channels    []Channel           `json:"channels"`
	Message     string              `json:"message"`
	Data        map[string]any      `json:"data,omitempty"`
	Rule        rrule.Rule          `json:"rule"`
	PastEvents  schedule.PastEvents `json:"past_events"`
}

type FollowupGenerator struct {
	ID          string            `json:"id"`
	OwnerID     string            `json:"owner_id"`
	HookID      string            `json:"hook_id,omitempty"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Channels    []Channel         `json:"channels"`
	Message     Message           `json:"message"`
	Data        Data              `json:"data"`
	Rule        rrule.Rule        `json:"rule"`
	State       schedule.RunState `json:"state"`
	Exhausted   bool              `json:"exhausted"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Tracker builds a schedule tracker over the generator's rule and state.
func (g *FollowupGenerator) Tracker() (*schedule.Tracker, error) {
	return schedule.New(g.Rule, g.State)
}

// StateUpdate is one row of a batched run state write.
type StateUpdate struct {
	GeneratorID string     `json:"generator_id"`
	Exhausted   bool       `json:"exhausted"`
	Remaining   *int       `json:"remaining,omitempty"`
	LastRun     *time.Time `json:"last_run,omitempty"`
	NextRun     *time.Time `json:"next_run,omitempty"`
}

type Created struct {
	ID        string     `json:"id"`
	NextRun   *time.Time `json:"next_run,omitempty"`
	Exhausted bool       `json:"exhausted"`
	CreatedAt time.Time  `json:"created_at"`
}

// OwnerWake is the earliest pending next_run of an owner's active generators.
type OwnerWake struct {
	OwnerID string    `json:"owner_id"`
	NextRun time.Time `json:"next_run"`
}
