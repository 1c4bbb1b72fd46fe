package httpserver

import (
	"context"
	"errors"
	"strconv"

	"github.com/cristianortiz/auctioncoord/internal/auction/domain"
	"github.com/cristianortiz/auctioncoord/internal/shared/logger"
	ws "github.com/cristianortiz/auctioncoord/internal/shared/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

var log = logger.GetLogger()

// AuctionReader is the read side of the auction service.
type AuctionReader interface {
	ListActive(ctx context.Context) []domain.AuctionSnapshot
	GetAuction(ctx context.Context, auctionID string) (domain.AuctionSnapshot, error)
	ReadEvents(ctx context.Context, from int64, limit int) ([]domain.Event, error)
}

// PeerHandler serves an upgraded replication connection until it ends.
type PeerHandler interface {
	Serve(ctx context.Context, conn ws.Conn)
}

type Server struct {
	app *fiber.App
}

// NewServer builds the HTTP surface: health, audit reads, counters and the
// peer websocket endpoint. ctx bounds the lifetime of peer connections.
// stats may be nil.
func NewServer(ctx context.Context, auctions AuctionReader, peers PeerHandler, stats func() any) *Server {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})

	app.Use(func(c *fiber.Ctx) error {
		log.Debug("HTTP request",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.String("remote_addr", c.IP()),
		)
		return c.Next()
	})

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.SendString("OK")
	})

	h := &handlers{auctions: auctions}
	app.Get("/auctions", h.listAuctions)
	app.Get("/auctions/:id", h.getAuction)
	app.Get("/events", h.readEvents)

	if stats != nil {
		app.Get("/stats", func(c *fiber.Ctx) error {
			return c.JSON(stats())
		})
	}

	if peers != nil {
		app.Use("/ws", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})
		app.Get("/ws/peers", websocket.New(func(c *websocket.Conn) {
			peers.Serve(ctx, c)
		}))
	}

	return &Server{app: app}
}

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	log.Info("HTTP server started", zap.String("addr", addr))
	return s.app.Listen(addr)
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info("Shutting down HTTP server...")
	return s.app.ShutdownWithContext(ctx)
}

// App exposes the fiber app, mainly for app.Test.
func (s *Server) App() *fiber.App {
	return s.app
}

type handlers struct {
	auctions AuctionReader
}

func (h *handlers) listAuctions(c *fiber.Ctx) error {
	return c.JSON(h.auctions.ListActive(c.UserContext()))
}

func (h *handlers) getAuction(c *fiber.Ctx) error {
	snap, err := h.auctions.GetAuction(c.UserContext(), c.Params("id"))
	if errors.Is(err, domain.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}
	if err != nil {
		log.Error("Failed to read auction", zap.String("auctionID", c.Params("id")), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}
	return c.JSON(snap)
}

func (h *handlers) readEvents(c *fiber.Ctx) error {
	from, err := strconv.ParseInt(c.Query("from", "0"), 10, 64)
	if err != nil || from < 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "from must be a non-negative integer"})
	}
	limit := c.QueryInt("limit", defaultEventLimit)
	if limit <= 0 || limit > maxEventLimit {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "limit must be between 1 and 1000"})
	}

	events, err := h.auctions.ReadEvents(c.UserContext(), from, limit)
	if err != nil {
		log.Error("Failed to read events", zap.Int64("from", from), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}
	return c.JSON(events)
}
