package followup

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hray3182/followup/internal/models"
)

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (c *callLog) add(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, name)
}

func (c *callLog) list() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

type memGenerators struct {
	log *callLog

	mu        sync.Mutex
	byID      map[string]*models.FollowupGenerator
	updates   []models.StateUpdate
	createErr error
	wakes     int
	afterList func()
}

func newMemGenerators(log *callLog) *memGenerators {
	return &memGenerators{log: log, byID: make(map[string]*models.FollowupGenerator)}
}

func (m *memGenerators) Create(_ context.Context, g *models.FollowupGenerator) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	for _, other := range m.byID {
		if other.OwnerID == g.OwnerID && other.Name == g.Name {
			return models.ErrConflict
		}
	}
	g.CreatedAt = time.Now()
	cp := *g
	m.byID[g.ID] = &cp
	return nil
}

func (m *memGenerators) List(_ context.Context, ownerID string, active bool) ([]*models.FollowupGenerator, error) {
	m.log.add("list")
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.FollowupGenerator
	for _, g := range m.byID {
		if g.OwnerID != ownerID || g.Exhausted == active {
			continue
		}
		cp := *g
		out = append(out, &cp)
	}
	if m.afterList != nil {
		m.mu.Unlock()
		m.afterList()
		m.mu.Lock()
	}
	return out, nil
}

func (m *memGenerators) GetByID(_ context.Context, id string) (*models.FollowupGenerator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.byID[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (m *memGenerators) FindID(_ context.Context, ownerID, name string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, g := range m.byID {
		if g.OwnerID == ownerID && g.Name == name {
			return id, true, nil
		}
	}
	return "", false, nil
}

func (m *memGenerators) BatchUpdateState(_ context.Context, updates []models.StateUpdate) error {
	m.log.add("update_state")
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range updates {
		m.updates = append(m.updates, u)
		g, ok := m.byID[u.GeneratorID]
		if !ok {
			continue
		}
		g.Exhausted = u.Exhausted
		g.State.Remaining = u.Remaining
		g.State.LastRun = u.LastRun
		g.State.NextRun = u.NextRun
	}
	return nil
}

func (m *memGenerators) UpdateExhaustionRule(_ context.Context, id string, apply func(*models.FollowupGenerator) error) (*models.FollowupGenerator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.byID[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *g
	if err := apply(&cp); err != nil {
		return nil, err
	}
	m.byID[id] = &cp
	out := cp
	return &out, nil
}

func (m *memGenerators) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[id]; !ok {
		return models.ErrNotFound
	}
	delete(m.byID, id)
	return nil
}

func (m *memGenerators) ActiveOwners(context.Context) ([]models.OwnerWake, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wakes++
	earliest := make(map[string]time.Time)
	for _, g := range m.byID {
		if g.Exhausted || g.State.NextRun == nil {
			continue
		}
		if at, ok := earliest[g.OwnerID]; !ok || g.State.NextRun.Before(at) {
			earliest[g.OwnerID] = *g.State.NextRun
		}
	}
	out := make([]models.OwnerWake, 0, len(earliest))
	for owner, at := range earliest {
		out = append(out, models.OwnerWake{OwnerID: owner, NextRun: at})
	}
	return out, nil
}

func (m *memGenerators) wakeCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wakes
}

func (m *memGenerators) get(id string) *models.FollowupGenerator {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byID[id]
}

type memFollowUps struct {
	log   *callLog
	gens  *memGenerators
	added []*models.FollowUp
	saved []*models.FollowUp
}

func (m *memFollowUps) Add(_ context.Context, fups []*models.FollowUp) ([]*models.FollowUp, error) {
	m.log.add("add")
	var stored []*models.FollowUp
	for _, f := range fups {
		if m.gens.get(f.GeneratorID) != nil {
			stored = append(stored, f)
		}
	}
	m.added = append(m.added, stored...)
	return stored, nil
}

func (m *memFollowUps) SaveResponses(_ context.Context, fups []*models.FollowUp) error {
	m.log.add("save_responses")
	m.saved = append(m.saved, fups...)
	return nil
}

type recordingSender struct {
	log  *callLog
	sent []*models.FollowUp
	err  error
}

func (s *recordingSender) Send(_ context.Context, fups []*models.FollowUp) error {
	s.log.add("send")
	if s.err != nil {
		return s.err
	}
	for _, f := range fups {
		for _, ch := range f.Channels {
			f.SetResponse(models.Response{ChannelID: ch.ID, ChannelType: ch.Type, Status: models.ResponseSent})
		}
	}
	s.sent = append(s.sent, fups...)
	return nil
}

type ensureCall struct {
	owner string
	at    time.Time
}

type fakeArmer struct {
	mu    sync.Mutex
	calls []ensureCall
	err   error
}

func (a *fakeArmer) Ensure(owner string, at time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.calls = append(a.calls, ensureCall{owner: owner, at: at})
	return nil
}

func (a *fakeArmer) list() []ensureCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]ensureCall(nil), a.calls...)
}

var errSend = errors.New("send failed")
