package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"fleet_server/internal/domain"
	"fleet_server/internal/infra/repository"
)

var errStoreDown = errors.New("store unavailable")

type sentEvent struct {
	Event   string
	ConnID  string
	Payload any
}

// recordingGateway captures broadcasts and unicasts in order.
type recordingGateway struct {
	mu        sync.Mutex
	events    []sentEvent
	unicasts  []sentEvent
	unicastOK bool
}

func newRecordingGateway() *recordingGateway {
	return &recordingGateway{unicastOK: true}
}

func (g *recordingGateway) BroadcastAll(event string, payload any) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.events = append(g.events, sentEvent{Event: event, Payload: payload})
}

func (g *recordingGateway) Unicast(connID, event string, payload any) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.unicasts = append(g.unicasts, sentEvent{Event: event, ConnID: connID, Payload: payload})
	return g.unicastOK
}

func (g *recordingGateway) Events() []sentEvent {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]sentEvent(nil), g.events...)
}

func (g *recordingGateway) Names() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.events))
	for _, ev := range g.events {
		out = append(out, ev.Event)
	}
	return out
}

func (g *recordingGateway) Unicasts() []sentEvent {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]sentEvent(nil), g.unicasts...)
}

func (g *recordingGateway) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.events = nil
	g.unicasts = nil
}

// failingRepository fails writes while failSaves is set and can park the
// next write until released.
type failingRepository struct {
	*repository.MemoryClientRepository
	mu        sync.Mutex
	failSaves bool
	hold      chan struct{}
	entered   chan struct{}
}

func (r *failingRepository) HoldNextSave() (<-chan struct{}, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hold = make(chan struct{})
	r.entered = make(chan struct{})
	hold := r.hold
	return r.entered, func() { close(hold) }
}

func (r *failingRepository) SetFailSaves(v bool) {
	r.mu.Lock()
	r.failSaves = v
	r.mu.Unlock()
}

func (r *failingRepository) SaveClient(ctx context.Context, record domain.ClientRecord) error {
	r.mu.Lock()
	fail := r.failSaves
	hold, entered := r.hold, r.entered
	r.hold, r.entered = nil, nil
	r.mu.Unlock()
	if hold != nil {
		close(entered)
		<-hold
	}
	if fail {
		return errStoreDown
	}
	return r.MemoryClientRepository.SaveClient(ctx, record)
}

type goalRecorder struct {
	mu    sync.Mutex
	names []string
	done  chan struct{}
}

func newGoalRecorder() *goalRecorder {
	return &goalRecorder{done: make(chan struct{}, 8)}
}

func (g *goalRecorder) NotifyGoalAchieved(_ context.Context, record domain.ClientRecord) error {
	g.mu.Lock()
	g.names = append(g.names, record.Identity)
	g.mu.Unlock()
	g.done <- struct{}{}
	return nil
}

type fixture struct {
	repo     *failingRepository
	gateway  *recordingGateway
	registry *Registry
	locks    *IdentityLocks
	sync     *SyncService
	commands *CommandService
	goals    *goalRecorder
}

var fixedNow = time.Date(2024, 5, 1, 12, 30, 45, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		repo:     &failingRepository{MemoryClientRepository: repository.NewMemoryClientRepository()},
		gateway:  newRecordingGateway(),
		registry: NewRegistry(),
		locks:    NewIdentityLocks(),
		goals:    newGoalRecorder(),
	}

	var err error
	f.sync, err = NewSyncService(f.repo, f.registry, f.gateway, f.locks, f.goals, SyncOptions{
		GoalMessage: "Goal achieved",
		Logger:      zerolog.Nop(),
		Clock:       func() time.Time { return fixedNow },
	})
	require.NoError(t, err)

	f.commands, err = NewCommandService(f.repo, f.registry, f.gateway, f.locks, zerolog.Nop())
	require.NoError(t, err)
	f.commands.now = func() time.Time { return fixedNow }

	return f
}

func (f *fixture) introduce(t *testing.T, connID, name string) domain.ClientRecord {
	t.Helper()
	rec, err := f.sync.Introduce(context.Background(), connID, domain.Introduction{
		Name:         name,
		Address:      "10.0.0.1",
		ServerStatus: "Running",
	})
	require.NoError(t, err)
	return rec
}

func (f *fixture) stored(t *testing.T, name string) domain.ClientRecord {
	t.Helper()
	rec, err := f.repo.GetClient(context.Background(), name)
	require.NoError(t, err)
	return rec
}
