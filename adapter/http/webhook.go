package http

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/membranehq/ai-agent-example/adapter/mcp"
	"github.com/membranehq/ai-agent-example/genai/exposure"
	"github.com/membranehq/ai-agent-example/internal/chaterr"
	"github.com/sirupsen/logrus"
)

// Connection event types delivered by the tool platform.
const (
	EventConnectionCreated      = "connection.created"
	EventConnectionDeleted      = "connection.deleted"
	EventConnectionDisconnected = "connection.disconnected"
)

// ClientEvictor invalidates cached per-user MCP clients; implemented by
// mcp.Factory.
type ClientEvictor interface {
	Evict(userID string)
}

// connectionEvent is the webhook payload after JWT verification.
type connectionEvent struct {
	Type           string `json:"type"`
	UserID         string `json:"userId"`
	IntegrationKey string `json:"integrationKey"`
}

// ConnectionWebhook keeps the connection registry and the per-user tool index
// in sync with the tool platform. Events arrive as HS256-signed JWTs whose
// claims carry the event payload.
type ConnectionWebhook struct {
	secret      []byte
	connections *mcp.ConnectionRegistry
	broker      *mcp.Broker
	clients     ClientEvictor
	log         *logrus.Logger
}

// NewConnectionWebhook creates the webhook handler; a missing secret is a
// configuration error surfaced at startup, not per request. clients may be
// nil when the MCP client provider does not cache per user.
func NewConnectionWebhook(secret string, connections *mcp.ConnectionRegistry, broker *mcp.Broker, clients ClientEvictor, log *logrus.Logger) (*ConnectionWebhook, error) {
	if secret == "" {
		return nil, fmt.Errorf("webhook secret is required")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &ConnectionWebhook{secret: []byte(secret), connections: connections, broker: broker, clients: clients, log: log}, nil
}

// Handle verifies the signed event and applies it.
func (h *ConnectionWebhook) Handle(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, chaterr.New(chaterr.CodeUnauthorized, chaterr.SurfaceAuth))
		return
	}
	event, err := h.verify(token)
	if err != nil {
		writeError(w, chaterr.Wrap(chaterr.CodeUnauthorized, chaterr.SurfaceAuth, err))
		return
	}
	if err := h.apply(r.Context(), event); err != nil {
		writeError(w, err)
		return
	}
	encode(w, http.StatusOK, map[string]string{"status": "ok"})
}

// verify checks the HS256 signature and extracts the event claims.
func (h *ConnectionWebhook) verify(raw string) (*connectionEvent, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return h.secret, nil
	})
	if err != nil {
		return nil, err
	}
	event := &connectionEvent{}
	if value, ok := claims["type"].(string); ok {
		event.Type = value
	}
	if value, ok := claims["userId"].(string); ok {
		event.UserID = value
	}
	if value, ok := claims["integrationKey"].(string); ok {
		event.IntegrationKey = value
	}
	if event.Type == "" || event.UserID == "" || event.IntegrationKey == "" {
		return nil, fmt.Errorf("incomplete connection event")
	}
	return event, nil
}

func (h *ConnectionWebhook) apply(ctx context.Context, event *connectionEvent) error {
	log := h.log.WithFields(logrus.Fields{
		"event": event.Type,
		"user":  event.UserID,
		"app":   event.IntegrationKey,
	})
	switch event.Type {
	case EventConnectionCreated:
		h.connections.Mark(event.UserID, event.IntegrationKey, exposure.ConnectionLive)
		if err := h.broker.IndexAll(ctx, event.UserID); err != nil {
			log.WithError(err).Warn("re-index after connect failed")
		}
	case EventConnectionDeleted:
		h.connections.Mark(event.UserID, event.IntegrationKey, exposure.ConnectionNone)
		if h.clients != nil {
			// The cached client may hold a session scoped to the deleted
			// connection; force a rebuild on next use.
			h.clients.Evict(event.UserID)
		}
		if err := h.broker.PurgeIntegration(ctx, event.UserID, event.IntegrationKey); err != nil {
			log.WithError(err).Warn("index purge after delete failed")
		}
	case EventConnectionDisconnected:
		h.connections.Mark(event.UserID, event.IntegrationKey, exposure.ConnectionDisconnected)
	default:
		return chaterr.New(chaterr.CodeBadRequest, chaterr.SurfaceAPI)
	}
	log.Info("connection event applied")
	return nil
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}
