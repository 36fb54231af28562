package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"fleet_server/internal/domain"
)

// CommandService applies operator commands to a named client and forwards the
// resulting directive to the client's live connection when there is one.
type CommandService struct {
	repo     domain.ClientRepository
	registry *Registry
	gateway  domain.Broadcaster
	locks    *IdentityLocks
	logger   zerolog.Logger
	now      func() time.Time
}

func NewCommandService(repo domain.ClientRepository, registry *Registry, gateway domain.Broadcaster, locks *IdentityLocks, logger zerolog.Logger) (*CommandService, error) {
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
	return &CommandService{
		repo:     repo,
		registry: registry,
		gateway:  gateway,
		locks:    locks,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// SetTarget replaces the client's profit target and clears any achieved goal.
func (s *CommandService) SetTarget(ctx context.Context, name string, target float64) (domain.ClientRecord, error) {
	if err := domain.ValidateTarget(target); err != nil {
		return domain.ClientRecord{}, err
	}
	identity := domain.NormalizeIdentity(name)
	if identity == "" {
		return domain.ClientRecord{}, domain.ErrIdentityRequired
	}

	unlock := s.locks.Lock(identity)
	defer unlock()

	record, err := s.load(ctx, identity)
	if err != nil {
		return domain.ClientRecord{}, err
	}

	record.TargetProfit = target
	record.GoalAchieved = false
	record.LastUpdatedAt = s.now().UTC()
	if err := s.repo.SaveClient(ctx, record); err != nil {
		return domain.ClientRecord{}, fmt.Errorf("save client %s: %w", identity, err)
	}

	s.logger.Info().Str("client", identity).Float64("target", target).Msg("target profit updated")
	s.gateway.BroadcastAll(EventUpdateTargetProfit, TargetProfitPayload{Name: identity, TargetProfit: target})
	return record, nil
}

// ApplyCommand handles the dashboard's send_command strings.
func (s *CommandService) ApplyCommand(ctx context.Context, command, name string) (domain.ClientRecord, error) {
	cmd, err := domain.ParseApprovalCommand(command)
	if err != nil {
		return domain.ClientRecord{}, fmt.Errorf("%w: %q", err, command)
	}
	return s.SetApproval(ctx, name, cmd.Approves())
}

// SetApproval grants or revokes approval. Revoking also clears an achieved goal.
// The directive is dropped when the client has no live connection.
func (s *CommandService) SetApproval(ctx context.Context, name string, approve bool) (domain.ClientRecord, error) {
	identity := domain.NormalizeIdentity(name)
	if identity == "" {
		return domain.ClientRecord{}, domain.ErrIdentityRequired
	}

	unlock := s.locks.Lock(identity)
	defer unlock()

	record, err := s.load(ctx, identity)
	if err != nil {
		return domain.ClientRecord{}, err
	}

	record.IsApproved = approve
	if !approve {
		record.GoalAchieved = false
	}
	record.LastUpdatedAt = s.now().UTC()
	if err := s.repo.SaveClient(ctx, record); err != nil {
		return domain.ClientRecord{}, fmt.Errorf("save client %s: %w", identity, err)
	}

	command := domain.CommandFor(approve)
	s.sendDirective(identity, command)

	s.logger.Info().Str("client", identity).Bool("approved", approve).Msg("approval updated")
	s.gateway.BroadcastAll(EventUpdateApprovalStatus, ApprovalPayload{Name: identity, IsApproved: approve})
	return record, nil
}

func (s *CommandService) sendDirective(identity string, command domain.ApprovalCommand) {
	connID, ok := s.registry.ConnectionOf(identity)
	if !ok {
		s.logger.Debug().Str("client", identity).Str("command", string(command)).Msg("client offline, directive dropped")
		return
	}
	payload := DirectivePayload{Message: fmt.Sprintf("%s command sent from server", command)}
	if !s.gateway.Unicast(connID, string(command), payload) {
		s.logger.Warn().Str("client", identity).Str("conn", connID).Str("command", string(command)).Msg("directive undeliverable")
		return
	}
	s.logger.Info().Str("client", identity).Str("command", string(command)).Msg("directive sent")
}

func (s *CommandService) load(ctx context.Context, identity string) (domain.ClientRecord, error) {
	record, err := s.repo.GetClient(ctx, identity)
	if err != nil {
		if errors.Is(err, domain.ErrClientNotFound) {
			return domain.ClientRecord{}, fmt.Errorf("%w: %s", domain.ErrClientNotFound, identity)
		}
		return domain.ClientRecord{}, fmt.Errorf("load client %s: %w", identity, err)
	}
	return record, nil
}
