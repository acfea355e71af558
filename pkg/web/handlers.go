package web

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/pion/webrtc/v3"

	"github.com/teslashibe/go-steno/pkg/hub"
)

const offerTimeout = 10 * time.Second

func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.Status())
}

func (s *Server) handleCameras(c *fiber.Ctx) error {
	if s.status == nil {
		return c.JSON([]any{})
	}
	return c.JSON(s.status.Cameras())
}

func (s *Server) handleDisplayWS(c *websocket.Conn) {
	client := hub.NewClient(s.displayHub, c)
	if client == nil {
		return
	}
	client.Run()
}

func (s *Server) handleStatusWS(c *websocket.Conn) {
	// The write pump is not running yet, so this write cannot race it.
	if err := c.WriteJSON(s.Status()); err != nil {
		return
	}
	client := hub.NewClient(s.statusHub, c)
	if client == nil {
		return
	}
	client.Run()
}

// signal is a WebRTC signalling message.
type signal struct {
	Type  string `json:"type"`
	SDP   string `json:"sdp,omitempty"`
	Peer  string `json:"peer,omitempty"`
	Error string `json:"error,omitempty"`
}

// handleWebRTCWS reads one offer, replies with the answer and keeps the
// socket open for the lifetime of the peer.
func (s *Server) handleWebRTCWS(c *websocket.Conn) {
	var req signal
	if err := c.ReadJSON(&req); err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(s.baseContext(), offerTimeout)
	resp := s.answer(ctx, req)
	cancel()
	if err := c.WriteJSON(resp); err != nil || resp.Type == "error" {
		return
	}
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) answer(ctx context.Context, req signal) signal {
	if s.offers == nil {
		return signal{Type: "error", Error: "webrtc output is disabled"}
	}
	if req.Type != "offer" || req.SDP == "" {
		return signal{Type: "error", Error: "expected an offer"}
	}
	id, answer, err := s.offers.HandleOffer(ctx, webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  req.SDP,
	})
	if err != nil {
		s.logger.Warn("webrtc offer failed", "error", err)
		return signal{Type: "error", Error: err.Error()}
	}
	return signal{Type: "answer", SDP: answer.SDP, Peer: id}
}
