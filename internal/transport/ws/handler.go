package ws

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"fleet_server/internal/domain"
	"fleet_server/internal/usecase"
)

type SyncService interface {
	Introduce(ctx context.Context, connID string, in domain.Introduction) (domain.ClientRecord, error)
	ReportMetrics(ctx context.Context, connID string, report domain.MetricsReport) (domain.ClientRecord, error)
	AddProfit(ctx context.Context, connID string, delta float64) (domain.ClientRecord, error)
	HandleDisconnect(ctx context.Context, connID string) error
	Snapshot(ctx context.Context) ([]usecase.ClientProjection, error)
}

type CommandService interface {
	SetTarget(ctx context.Context, name string, target float64) (domain.ClientRecord, error)
	ApplyCommand(ctx context.Context, command, name string) (domain.ClientRecord, error)
}

type Options struct {
	OutboundQueue int
	InboundRate   float64
	InboundBurst  int
	EventTimeout  time.Duration
}

// Handler runs the read loop of each connection and dispatches its events.
// Events from one connection are handled one at a time, in arrival order.
type Handler struct {
	hub      *Hub
	sync     SyncService
	commands CommandService
	opts     Options
	logger   zerolog.Logger
}

func NewHandler(hub *Hub, syncService SyncService, commands CommandService, opts Options, logger zerolog.Logger) (*Handler, error) {
	if hub == nil {
		return nil, errors.New("hub required")
	}
	if syncService == nil {
		return nil, errors.New("sync service required")
	}
	if commands == nil {
		return nil, errors.New("command service required")
	}
	if opts.OutboundQueue <= 0 {
		opts.OutboundQueue = 256
	}
	if opts.EventTimeout <= 0 {
		opts.EventTimeout = 10 * time.Second
	}
	return &Handler{
		hub:      hub,
		sync:     syncService,
		commands: commands,
		opts:     opts,
		logger:   logger,
	}, nil
}

// Serve owns conn until it closes. It returns only after the session's writer
// has stopped, so the caller may release conn afterwards.
func (h *Handler) Serve(conn Conn, role Role, remoteIP string) {
	session := newSession(uuid.NewString(), role, remoteIP, conn, h.opts.OutboundQueue, h.newLimiter())
	log := h.logger.With().Str("conn", session.id).Str("role", string(role)).Logger()

	h.hub.Add(session)
	go session.writeLoop()
	log.Info().Str("remote_ip", remoteIP).Msg("connection opened")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		session.touch(time.Now())
		if !session.allow() {
			log.Warn().Msg("inbound rate exceeded, event dropped")
			continue
		}
		h.dispatch(session, data)
	}

	h.hub.Remove(session.id)
	session.Close()
	<-session.writerDone
	log.Info().Msg("connection closed")

	if role != RoleBot {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.opts.EventTimeout)
	defer cancel()
	if err := h.sync.HandleDisconnect(ctx, session.id); err != nil {
		log.Error().Err(err).Msg("mark client disconnected")
	}
}

func (h *Handler) newLimiter() *rate.Limiter {
	if h.opts.InboundRate <= 0 {
		return nil
	}
	burst := h.opts.InboundBurst
	if burst <= 0 {
		burst = int(h.opts.InboundRate) + 1
	}
	return rate.NewLimiter(rate.Limit(h.opts.InboundRate), burst)
}

func (h *Handler) dispatch(s *Session, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		h.logger.Warn().Err(err).Str("conn", s.id).Msg("malformed frame")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.opts.EventTimeout)
	defer cancel()

	switch env.Event {
	case EventUserInfoUpdate:
		if h.requireRole(s, env.Event, RoleBot) {
			h.handleUserInfo(ctx, s, env.Data)
		}
	case EventUpdateData:
		if h.requireRole(s, env.Event, RoleBot) {
			h.handleUpdateData(ctx, s, env.Data)
		}
	case EventCumulativeProfit:
		if h.requireRole(s, env.Event, RoleBot) {
			h.handleProfit(ctx, s, env.Data)
		}
	case EventKeepAlive:
		var req keepAliveRequest
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &req); err != nil {
				h.logger.Debug().Err(err).Str("conn", s.id).Msg("invalid keep_alive payload")
			}
		}
		h.logger.Debug().Str("conn", s.id).Str("client", req.Name).Msg("keep_alive")
	case EventRequestInitialData:
		h.handleInitialData(ctx, s)
	case EventSendCommand:
		if h.requireRole(s, env.Event, RoleDashboard) {
			h.handleCommand(ctx, s, env)
		}
	case EventSetTargetProfit:
		if h.requireRole(s, env.Event, RoleDashboard) {
			h.handleSetTarget(ctx, s, env)
		}
	default:
		h.logger.Debug().Str("conn", s.id).Str("event", env.Event).Msg("unknown event ignored")
	}
}

func (h *Handler) requireRole(s *Session, event string, role Role) bool {
	if s.role == role {
		return true
	}
	h.logger.Warn().Str("conn", s.id).Str("event", event).Str("role", string(s.role)).Msg("event not allowed for role")
	return false
}

func (h *Handler) handleUserInfo(ctx context.Context, s *Session, data json.RawMessage) {
	var req userInfoRequest
	if err := json.Unmarshal(data, &req); err != nil {
		h.logger.Warn().Err(err).Str("conn", s.id).Msg("invalid user_info_update payload")
		return
	}

	_, err := h.sync.Introduce(ctx, s.id, domain.Introduction{
		Name:         req.Name,
		Address:      req.UserIP,
		ServerStatus: req.ServerStatus,
	})
	if err != nil {
		h.rejected(err).Str("conn", s.id).Str("client", req.Name).Msg("user_info_update rejected")
	}
}

func (h *Handler) handleUpdateData(ctx context.Context, s *Session, data json.RawMessage) {
	var req updateDataRequest
	if err := json.Unmarshal(data, &req); err != nil {
		h.logger.Warn().Err(err).Str("conn", s.id).Msg("invalid update_data payload")
		return
	}

	_, err := h.sync.ReportMetrics(ctx, s.id, domain.MetricsReport{
		Name:         req.Name,
		Address:      req.UserIP,
		ServerStatus: req.ServerStatus,
		Metrics: domain.ClientMetrics{
			TotalBalance:      decodeOptionalNumber(req.TotalBalance),
			CurrentProfitRate: decodeOptionalNumber(req.CurrentProfitRate),
			UnrealizedPnl:     decodeOptionalNumber(req.UnrealizedPnl),
			CurrentTotalAsset: decodeOptionalNumber(req.CurrentTotalAsset),
		},
		RawPayload: append([]byte(nil), data...),
	})
	if err != nil {
		h.rejected(err).Str("conn", s.id).Str("client", req.Name).Msg("update_data rejected")
	}
}

func (h *Handler) handleProfit(ctx context.Context, s *Session, data json.RawMessage) {
	var req profitRequest
	if err := json.Unmarshal(data, &req); err != nil {
		h.logger.Warn().Err(err).Str("conn", s.id).Msg("invalid cumulative_profit payload")
		return
	}
	delta, ok := decodeNumber(req.CumulativeProfit)
	if !ok {
		h.logger.Warn().Str("conn", s.id).Str("payload", string(data)).Msg("cumulative_profit is not a number")
		return
	}

	if _, err := h.sync.AddProfit(ctx, s.id, delta); err != nil {
		h.rejected(err).Str("conn", s.id).Float64("delta", delta).Msg("cumulative_profit rejected")
	}
}

func (h *Handler) handleInitialData(ctx context.Context, s *Session) {
	clients, err := h.sync.Snapshot(ctx)
	if err != nil {
		h.logger.Error().Err(err).Str("conn", s.id).Msg("load initial data")
		return
	}
	if !h.hub.Unicast(s.id, usecase.EventInitialData, clients) {
		h.logger.Warn().Str("conn", s.id).Msg("initial data undeliverable")
	}
}

func (h *Handler) handleCommand(ctx context.Context, s *Session, env Envelope) {
	var req commandRequest
	if err := json.Unmarshal(env.Data, &req); err != nil {
		h.logger.Warn().Err(err).Str("conn", s.id).Msg("invalid send_command payload")
		h.ack(s, env.Ack, errorAck("invalid payload"))
		return
	}

	if _, err := h.commands.ApplyCommand(ctx, req.Command, req.Name); err != nil {
		h.rejected(err).Str("client", req.Name).Str("command", req.Command).Msg("send_command rejected")
		h.ack(s, env.Ack, errorAck(err.Error()))
		return
	}
	h.ack(s, env.Ack, AckResponse{Status: "success"})
}

func (h *Handler) handleSetTarget(ctx context.Context, s *Session, env Envelope) {
	var req targetRequest
	if err := json.Unmarshal(env.Data, &req); err != nil {
		h.logger.Warn().Err(err).Str("conn", s.id).Msg("invalid set_target_profit payload")
		h.ack(s, env.Ack, errorAck(domain.ErrInvalidTarget.Error()))
		return
	}
	target, ok := decodeNumber(req.TargetProfit)
	if !ok {
		h.logger.Warn().Str("client", req.Name).Msg("targetProfit is not a number")
		h.ack(s, env.Ack, errorAck(domain.ErrInvalidTarget.Error()))
		return
	}

	if _, err := h.commands.SetTarget(ctx, req.Name, target); err != nil {
		h.rejected(err).Str("client", req.Name).Float64("target", target).Msg("set_target_profit rejected")
		h.ack(s, env.Ack, errorAck(err.Error()))
		return
	}
	h.ack(s, env.Ack, AckResponse{Status: "success"})
}

func (h *Handler) ack(s *Session, id *int64, resp AckResponse) {
	if id == nil {
		return
	}
	if !h.hub.Reply(s, *id, resp) {
		h.logger.Warn().Str("conn", s.id).Int64("ack", *id).Msg("ack undeliverable")
	}
}

// rejected logs input and state problems as warnings and everything else,
// store failures included, as errors.
func (h *Handler) rejected(err error) *zerolog.Event {
	if domain.IsValidation(err) ||
		errors.Is(err, domain.ErrClientNotFound) ||
		errors.Is(err, domain.ErrConnectionUnbound) {
		return h.logger.Warn().Err(err)
	}
	return h.logger.Error().Err(err)
}

func errorAck(message string) AckResponse {
	return AckResponse{Status: "error", Message: message}
}
