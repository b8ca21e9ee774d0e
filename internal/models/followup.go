package models

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	ResponseSent   = "sent"
	ResponseFailed = "failed"
)

// Response is what a channel reported for one follow-up.
type Response struct {
	ChannelID   string    `json:"channel_id"`
	ChannelType string    `json:"channel_type"`
	Status      string    `json:"status"`
	Code        int       `json:"code,omitempty"`
	Body        string    `json:"body,omitempty"`
	Error       string    `json:"error,omitempty"`
	At          time.Time `json:"at"`
}

// FollowUp is one materialized occurrence of a generator.
type FollowUp struct {
	ID          string         `json:"id"`
	GeneratorID string         `json:"generator_id"`
	OwnerID     string         `json:"owner_id"`
	Date        time.Time      `json:"date"`
	MessageID   string         `json:"message_id"`
	Message     string         `json:"message"`
	DataID      string         `json:"data_id"`
	Data        map[string]any `json:"data,omitempty"`
	Channels    []Channel      `json:"channels"`

	mu        sync.Mutex
	responses map[string]Response
}

func NewFollowUp(g *FollowupGenerator, date time.Time) *FollowUp {
	return &FollowUp{
		ID:          uuid.NewString(),
		GeneratorID: g.ID,
		OwnerID:     g.OwnerID,
		Date:        date,
		MessageID:   g.Message.ID,
		Message:     g.Message.Body,
		DataID:      g.Data.ID,
		Data:        g.Data.Payload,
		Channels:    g.Channels,
	}
}

// ChannelsOfType returns the follow-up's channels with the given type.
func (f *FollowUp) ChannelsOfType(typ string) []Channel {
	var out []Channel
	for _, ch := range f.Channels {
		if ch.Type == typ {
			out = append(out, ch)
		}
	}
	return out
}

// SetResponse stores the response for its channel. Senders may call it
// concurrently.
func (f *FollowUp) SetResponse(r Response) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.responses == nil {
		f.responses = make(map[string]Response)
	}
	f.responses[r.ChannelID] = r
}

func (f *FollowUp) Response(channelID string) (Response, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.responses[channelID]
	return r, ok
}

// Responses returns a copy of all recorded responses keyed by channel id.
func (f *FollowUp) Responses() map[string]Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]Response, len(f.responses))
	for k, v := range f.responses {
		out[k] = v
	}
	return out
}
