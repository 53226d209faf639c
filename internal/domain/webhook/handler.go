package webhook

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinicpay/clinicpay/internal/platform/audit"
)

// Handler terminates the provider's webhook endpoint. It is the only
// unauthenticated write path in the system, which is why the signature
// check comes before everything else, including JSON decoding.
type Handler struct {
	verifier   *Verifier
	reconciler *Reconciler
	auditLog   *audit.Logger
	logger     zerolog.Logger

	signatureHeader string
	// ackOnWriteFailure trades redelivery for availability: when the
	// database is down we still return 200 and rely on the audit trail
	// to find the lost events. Off by default.
	ackOnWriteFailure bool
}

type HandlerConfig struct {
	SignatureHeader   string
	AckOnWriteFailure bool
}

func NewHandler(verifier *Verifier, reconciler *Reconciler, auditLog *audit.Logger, logger zerolog.Logger, cfg HandlerConfig) *Handler {
	if cfg.SignatureHeader == "" {
		cfg.SignatureHeader = "Clinic-Signature"
	}
	return &Handler{
		verifier:          verifier,
		reconciler:        reconciler,
		auditLog:          auditLog,
		logger:            logger,
		signatureHeader:   cfg.SignatureHeader,
		ackOnWriteFailure: cfg.AckOnWriteFailure,
	}
}

func (h *Handler) Register(g *echo.Group) {
	g.POST("/webhooks/payments", h.Receive)
}

type receiveResponse struct {
	Received bool    `json:"received"`
	Outcome  Outcome `json:"outcome,omitempty"`
}

func (h *Handler) Receive(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read body")
	}

	// Verify against the raw bytes. Decoding first would let attackers
	// probe the parser with unsigned input.
	sig := c.Request().Header.Get(h.signatureHeader)
	if err := h.verifier.Verify(body, sig); err != nil {
		h.logger.Warn().Str("remote_ip", c.RealIP()).Msg("webhook signature rejected")
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid signature")
	}

	ev, err := ParseEvent(body)
	if err != nil {
		// Authenticated but malformed. A 400 tells the provider the
		// payload itself is the problem.
		h.logger.Warn().Err(err).Msg("malformed webhook payload")
		return echo.NewHTTPError(http.StatusBadRequest, "malformed event")
	}

	outcome, err := h.reconciler.Process(c.Request().Context(), ev)
	if err != nil {
		h.logger.Error().Err(err).Str("event_id", ev.ID).Msg("reconciliation failed")
		h.auditLog.Record(&audit.Entry{
			ActorID:      "webhook",
			Action:       audit.ActionWriteFailure,
			ResourceType: "webhook_event",
			ResourceID:   ev.ID,
			Details:      map[string]string{"type": ev.Type, "error": err.Error()},
		})
		if h.ackOnWriteFailure {
			return c.JSON(http.StatusOK, receiveResponse{Received: true})
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "reconciliation failed")
	}

	return c.JSON(http.StatusOK, receiveResponse{Received: true, Outcome: outcome})
}
