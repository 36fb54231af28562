package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"fleet_server/internal/domain"
)

const notifyTimeout = 10 * time.Second

type SyncOptions struct {
	DefaultTarget float64
	GoalMessage   string
	Logger        zerolog.Logger
	Clock         func() time.Time
}

// SyncService applies bot events to the client store and publishes the results.
// Every read-modify-write runs under the identity's lock.
type SyncService struct {
	repo     domain.ClientRepository
	registry *Registry
	gateway  domain.Broadcaster
	notifier domain.GoalNotifier
	locks    *IdentityLocks

	defaultTarget float64
	goalMessage   string
	logger        zerolog.Logger
	now           func() time.Time
}

func NewSyncService(repo domain.ClientRepository, registry *Registry, gateway domain.Broadcaster, locks *IdentityLocks, notifier domain.GoalNotifier, opts SyncOptions) (*SyncService, error) {
	if repo == nil {
		return nil, errors.New("client repository required")
	}
	if registry == nil {
		return nil, errors.New("connection registry required")
	}
	if gateway == nil {
		return nil, errors.New("broadcaster required")
	}
	if locks == nil {
		return nil, errors.New("identity locks required")
	}
	if opts.DefaultTarget <= 0 {
		opts.DefaultTarget = domain.DefaultTargetProfit
	}
	if opts.GoalMessage == "" {
		opts.GoalMessage = "Goal achieved"
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &SyncService{
		repo:          repo,
		registry:      registry,
		gateway:       gateway,
		notifier:      notifier,
		locks:         locks,
		defaultTarget: opts.DefaultTarget,
		goalMessage:   opts.GoalMessage,
		logger:        opts.Logger,
		now:           opts.Clock,
	}, nil
}

// Introduce handles user_info_update: it creates or refreshes the record and
// claims the identity for connID.
func (s *SyncService) Introduce(ctx context.Context, connID string, in domain.Introduction) (domain.ClientRecord, error) {
	identity := domain.NormalizeIdentity(in.Name)
	if identity == "" {
		return domain.ClientRecord{}, domain.ErrIdentityRequired
	}

	unlock := s.locks.Lock(identity)
	record, prevIdentity, err := s.introduceLocked(ctx, identity, connID, func(rec *domain.ClientRecord) {
		if in.Address != "" {
			rec.NetworkAddress = in.Address
		}
		if in.ServerStatus != "" {
			rec.ReportedStatus = in.ServerStatus
		}
	})
	if err == nil {
		s.gateway.BroadcastAll(EventUpdateUserInfo, userInfoPayload(record, record.LastUpdatedAt))
	}
	unlock()
	if err != nil {
		return domain.ClientRecord{}, err
	}

	s.releaseAbandoned(ctx, prevIdentity, connID)
	return record, nil
}

// ReportMetrics handles update_data. Only reported metrics overwrite stored ones.
func (s *SyncService) ReportMetrics(ctx context.Context, connID string, report domain.MetricsReport) (domain.ClientRecord, error) {
	identity := domain.NormalizeIdentity(report.Name)
	if identity == "" {
		return domain.ClientRecord{}, domain.ErrIdentityRequired
	}

	unlock := s.locks.Lock(identity)
	record, prevIdentity, err := s.introduceLocked(ctx, identity, connID, func(rec *domain.ClientRecord) {
		if report.Address != "" {
			rec.NetworkAddress = report.Address
		}
		if report.ServerStatus != "" {
			rec.ReportedStatus = report.ServerStatus
		}
		rec.Metrics = domain.MergeMetrics(rec.Metrics, report.Metrics)
		if len(report.RawPayload) > 0 {
			rec.LastPayload = report.RawPayload
		}
	})
	if err == nil {
		s.gateway.BroadcastAll(EventUpdateData, metricsPayload(record, report))
	}
	unlock()
	if err != nil {
		return domain.ClientRecord{}, err
	}

	s.releaseAbandoned(ctx, prevIdentity, connID)
	return record, nil
}

// introduceLocked loads or creates the record, applies mutate, marks it online
// under connID and persists it. The caller holds the identity lock.
func (s *SyncService) introduceLocked(ctx context.Context, identity, connID string, mutate func(*domain.ClientRecord)) (domain.ClientRecord, string, error) {
	record, err := s.loadOrCreate(ctx, identity)
	if err != nil {
		return domain.ClientRecord{}, "", err
	}

	mutate(&record)
	record.ConnectionStatus = domain.ConnectionOnline
	record.LiveConnectionID = connID
	record.LastUpdatedAt = s.now().UTC()

	if err := s.repo.SaveClient(ctx, record); err != nil {
		return domain.ClientRecord{}, "", fmt.Errorf("save client %s: %w", identity, err)
	}

	prevConn, prevIdentity := s.registry.Bind(identity, connID)
	if prevConn != "" {
		s.logger.Info().Str("client", identity).Str("conn", connID).Str("previous_conn", prevConn).Msg("client reclaimed by new connection")
	}
	return record, prevIdentity, nil
}

func (s *SyncService) loadOrCreate(ctx context.Context, identity string) (domain.ClientRecord, error) {
	record, err := s.repo.GetClient(ctx, identity)
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, domain.ErrClientNotFound) {
		return domain.ClientRecord{}, fmt.Errorf("load client %s: %w", identity, err)
	}

	fresh := domain.NewClientRecord(identity, s.defaultTarget)
	fresh.LastUpdatedAt = s.now().UTC()
	created, err := s.repo.CreateClient(ctx, fresh)
	if err != nil {
		return domain.ClientRecord{}, fmt.Errorf("create client %s: %w", identity, err)
	}
	if created {
		s.logger.Info().Str("client", identity).Msg("client registered")
		return fresh, nil
	}

	// Lost a create race against another writer; use the stored row.
	record, err = s.repo.GetClient(ctx, identity)
	if err != nil {
		return domain.ClientRecord{}, fmt.Errorf("reload client %s: %w", identity, err)
	}
	return record, nil
}

// releaseAbandoned marks an identity disconnected when its connection switched
// to announcing a different identity.
func (s *SyncService) releaseAbandoned(ctx context.Context, identity, connID string) {
	if identity == "" {
		return
	}
	s.logger.Warn().Str("client", identity).Str("conn", connID).Msg("connection switched identity")
	if err := s.disconnectIdentity(ctx, identity, connID, false); err != nil {
		s.logger.Error().Err(err).Str("client", identity).Msg("release abandoned identity")
	}
}

// AddProfit handles cumulative_profit. The delta is added to the stored total
// and the goal is evaluated against the updated value.
func (s *SyncService) AddProfit(ctx context.Context, connID string, delta float64) (domain.ClientRecord, error) {
	if err := domain.ValidateProfitDelta(delta); err != nil {
		return domain.ClientRecord{}, err
	}

	identity, ok := s.registry.IdentityOf(connID)
	if !ok {
		return domain.ClientRecord{}, domain.ErrConnectionUnbound
	}

	unlock := s.locks.Lock(identity)
	defer unlock()

	record, err := s.repo.GetClient(ctx, identity)
	if err != nil {
		return domain.ClientRecord{}, fmt.Errorf("load client %s: %w", identity, err)
	}
	if record.LiveConnectionID != connID {
		return domain.ClientRecord{}, domain.ErrConnectionUnbound
	}

	before := record.CumulativeProfit
	record.CumulativeProfit = before + delta
	crossed := domain.GoalCrossed(record.GoalAchieved, before, record.CumulativeProfit, record.TargetProfit)
	if crossed {
		record.GoalAchieved = true
	}
	record.LastUpdatedAt = s.now().UTC()

	if err := s.repo.SaveClient(ctx, record); err != nil {
		return domain.ClientRecord{}, fmt.Errorf("save client %s: %w", identity, err)
	}

	s.logger.Info().
		Str("client", identity).
		Float64("delta", delta).
		Float64("cumulative_profit", record.CumulativeProfit).
		Msg("profit recorded")

	s.gateway.BroadcastAll(EventUpdateCumulativeProfit, CumulativeProfitPayload{
		Name:             identity,
		CumulativeProfit: record.CumulativeProfit,
	})

	if crossed {
		s.logger.Info().Str("client", identity).Float64("target", record.TargetProfit).Msg("goal achieved")
		s.gateway.BroadcastAll(EventGoalAchieved, GoalPayload{Name: identity})
		s.gateway.BroadcastAll(EventShowGoalMessage, GoalMessagePayload{Name: identity, Message: s.goalMessage})
		s.notifyGoal(record)
	}

	return record, nil
}

func (s *SyncService) notifyGoal(record domain.ClientRecord) {
	if s.notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := s.notifier.NotifyGoalAchieved(ctx, record); err != nil {
			s.logger.Warn().Err(err).Str("client", record.Identity).Msg("goal notification failed")
		}
	}()
}

// HandleDisconnect marks the identity bound to connID as disconnected. A
// connection that lost its identity to a newer one changes nothing.
func (s *SyncService) HandleDisconnect(ctx context.Context, connID string) error {
	identity, ok := s.registry.IdentityOf(connID)
	if !ok {
		return nil
	}
	return s.disconnectIdentity(ctx, identity, connID, true)
}

func (s *SyncService) disconnectIdentity(ctx context.Context, identity, connID string, releaseBinding bool) error {
	unlock := s.locks.Lock(identity)
	defer unlock()

	record, err := s.repo.GetClient(ctx, identity)
	if err != nil {
		if errors.Is(err, domain.ErrClientNotFound) {
			s.registry.Release(identity, connID)
			return nil
		}
		return fmt.Errorf("load client %s: %w", identity, err)
	}
	if record.LiveConnectionID != connID {
		return nil
	}

	record.ConnectionStatus = domain.ConnectionDisconnected
	record.LiveConnectionID = ""
	record.LastUpdatedAt = s.now().UTC()
	err = s.repo.SaveClient(ctx, record)
	if releaseBinding {
		// The transport is gone whether or not the write landed.
		s.registry.Release(identity, connID)
	}
	if err != nil {
		return fmt.Errorf("save client %s: %w", identity, err)
	}

	s.logger.Info().Str("client", identity).Str("conn", connID).Msg("client disconnected")
	s.gateway.BroadcastAll(EventUpdateUserInfo, userInfoPayload(record, record.LastUpdatedAt))
	return nil
}

// Snapshot returns every known client for seeding a dashboard.
func (s *SyncService) Snapshot(ctx context.Context) ([]ClientProjection, error) {
	records, err := s.repo.ListClients(ctx)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	out := make([]ClientProjection, 0, len(records))
	for _, record := range records {
		out = append(out, Project(record))
	}
	return out, nil
}

// ResetConnections clears stale online markers left by a previous process.
func (s *SyncService) ResetConnections(ctx context.Context) (int64, error) {
	return s.repo.MarkAllDisconnected(ctx)
}
