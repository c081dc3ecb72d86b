package web

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/pion/webrtc/v3"

	"github.com/teslashibe/amber-eyes/pkg/expression"
	"github.com/teslashibe/amber-eyes/pkg/hub"
)

// handleState returns the current render state
func (s *Server) handleState(c *fiber.Ctx) error {
	return c.JSON(s.State())
}

// handleStatus returns session statistics
func (s *Server) handleStatus(c *fiber.Ctx) error {
	if s.deps.Session == nil {
		return fail(c, fiber.StatusServiceUnavailable, errNotConfigured)
	}
	return c.JSON(s.deps.Session.Status())
}

// handleConnect opens a conversation session
func (s *Server) handleConnect(c *fiber.Ctx) error {
	if s.deps.Session == nil {
		return fail(c, fiber.StatusServiceUnavailable, errNotConfigured)
	}
	if err := s.deps.Session.Connect(s.context()); err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error":  err.Error(),
			"status": s.deps.Session.Status(),
		})
	}
	return c.JSON(s.deps.Session.Status())
}

// handleDisconnect closes the conversation session
func (s *Server) handleDisconnect(c *fiber.Ctx) error {
	if s.deps.Session == nil {
		return fail(c, fiber.StatusServiceUnavailable, errNotConfigured)
	}
	if err := s.deps.Session.Disconnect(); err != nil {
		return fail(c, fiber.StatusInternalServerError, err)
	}
	return c.JSON(s.deps.Session.Status())
}

// handleListExpressions returns every expression tag
func (s *Server) handleListExpressions(c *fiber.Ctx) error {
	return c.JSON(expression.Names())
}

// ExpressionRequest is the request body for a manual expression change
type ExpressionRequest struct {
	Left  string `json:"left"`
	Right string `json:"right"`
}

// handleSetExpression applies an expression pair by hand
func (s *Server) handleSetExpression(c *fiber.Ctx) error {
	if s.deps.Eyes == nil {
		return fail(c, fiber.StatusServiceUnavailable, errNotConfigured)
	}

	var req ExpressionRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, err)
	}
	left, okL := expression.Parse(req.Left)
	right, okR := expression.Parse(req.Right)
	if !okL || !okR {
		return fail(c, fiber.StatusBadRequest, expression.ErrInvalidExpression)
	}

	s.deps.Eyes.Apply(left, right)
	return c.JSON(s.deps.Eyes.Pair())
}

// handleOffer answers a WebRTC offer with an audio-only peer
func (s *Server) handleOffer(c *fiber.Ctx) error {
	if s.deps.Peers == nil {
		return fail(c, fiber.StatusNotFound, errors.New("webrtc output disabled"))
	}

	var offer webrtc.SessionDescription
	if err := c.BodyParser(&offer); err != nil {
		return fail(c, fiber.StatusBadRequest, err)
	}
	if offer.Type != webrtc.SDPTypeOffer || offer.SDP == "" {
		return fail(c, fiber.StatusBadRequest, errors.New("expected an sdp offer"))
	}

	answer, err := s.deps.Peers.Answer(c.UserContext(), offer)
	if err != nil {
		s.logger.Warn("webrtc offer failed", "err", err)
		return fail(c, fiber.StatusBadRequest, err)
	}
	return c.JSON(answer)
}

// handleStateWS streams render state, starting with the current one
func (s *Server) handleStateWS(c *websocket.Conn) {
	var opts []hub.ClientOption
	if msg, err := stateMessage(s.State()); err == nil {
		opts = append(opts, hub.WithInitial(msg))
	}
	hub.NewClient(s.stateHub, c, opts...).Run()
}

func fail(c *fiber.Ctx, status int, err error) error {
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}
