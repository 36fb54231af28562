package http

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/contrib/websocket"
	fiber "github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"fleet_server/internal/domain"
	"fleet_server/internal/transport/ws"
	"fleet_server/internal/usecase"
)

const localRemoteIP = "remote_ip"

type SnapshotService interface {
	Snapshot(ctx context.Context) ([]usecase.ClientProjection, error)
}

type CommandService interface {
	SetTarget(ctx context.Context, name string, target float64) (domain.ClientRecord, error)
	SetApproval(ctx context.Context, name string, approve bool) (domain.ClientRecord, error)
}

type Router struct {
	app      *fiber.App
	snapshot SnapshotService
	commands CommandService
	sockets  *ws.Handler
	hub      *ws.Hub
}

func New(snapshot SnapshotService, commands CommandService, sockets *ws.Handler, hub *ws.Hub) *Router {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	r := &Router{
		app:      app,
		snapshot: snapshot,
		commands: commands,
		sockets:  sockets,
		hub:      hub,
	}

	app.Use("/ws", r.requireUpgrade)
	app.Get("/ws/bot", websocket.New(r.serveSocket(ws.RoleBot)))
	app.Get("/ws/dashboard", websocket.New(r.serveSocket(ws.RoleDashboard)))

	api := app.Group("/api")
	v1 := api.Group("/v1")

	v1.Get("/clients", r.listClients)
	v1.Post("/clients/:name/target", r.setTarget)
	v1.Post("/clients/:name/approval", r.setApproval)

	app.Get("/health", r.health)

	return r
}

func (r *Router) App() *fiber.App {
	return r.app
}

func (r *Router) requireUpgrade(c *fiber.Ctx) error {
	if r.sockets == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "socket handler unavailable")
	}
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	c.Locals(localRemoteIP, c.IP())
	return c.Next()
}

func (r *Router) serveSocket(role ws.Role) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		remoteIP, _ := c.Locals(localRemoteIP).(string)
		r.sockets.Serve(c, role, remoteIP)
	}
}

func (r *Router) health(c *fiber.Ctx) error {
	body := fiber.Map{"status": "ok"}
	if r.hub != nil {
		body["connections"] = r.hub.Stats()
	}
	return c.JSON(body)
}

func (r *Router) listClients(c *fiber.Ctx) error {
	if r.snapshot == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "snapshot service unavailable")
	}

	ctx, cancel := context.WithTimeout(userContext(c), 5*time.Second)
	defer cancel()

	clients, err := r.snapshot.Snapshot(ctx)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	return c.JSON(clients)
}

type TargetRequest struct {
	TargetProfit *float64 `json:"targetProfit"`
}

type ApprovalRequest struct {
	Approve *bool `json:"approve"`
}

func (r *Router) setTarget(c *fiber.Ctx) error {
	if r.commands == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "command service unavailable")
	}

	var req TargetRequest
	if err := c.BodyParser(&req); err != nil || req.TargetProfit == nil {
		return errorResponse(c, fiber.StatusBadRequest, domain.ErrInvalidTarget.Error())
	}

	ctx, cancel := context.WithTimeout(userContext(c), 10*time.Second)
	defer cancel()

	if _, err := r.commands.SetTarget(ctx, clientName(c), *req.TargetProfit); err != nil {
		return errorResponse(c, statusFor(err), err.Error())
	}

	return c.JSON(fiber.Map{"status": "success"})
}

func (r *Router) setApproval(c *fiber.Ctx) error {
	if r.commands == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "command service unavailable")
	}

	var req ApprovalRequest
	if err := c.BodyParser(&req); err != nil || req.Approve == nil {
		return errorResponse(c, fiber.StatusBadRequest, "approve flag required")
	}

	ctx, cancel := context.WithTimeout(userContext(c), 10*time.Second)
	defer cancel()

	record, err := r.commands.SetApproval(ctx, clientName(c), *req.Approve)
	if err != nil {
		return errorResponse(c, statusFor(err), err.Error())
	}

	return c.JSON(fiber.Map{"status": "success", "isApproved": record.IsApproved})
}

// clientName copies the route param; fiber reuses its buffer after the handler returns.
func clientName(c *fiber.Ctx) string {
	return utils.CopyString(c.Params("name"))
}

func userContext(c *fiber.Ctx) context.Context {
	if ctx := c.UserContext(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrClientNotFound):
		return fiber.StatusNotFound
	case domain.IsValidation(err):
		return fiber.StatusBadRequest
	default:
		return fiber.StatusInternalServerError
	}
}

func errorResponse(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{"status": "error", "message": message})
}
