// Package http exposes the chat orchestration core over REST:
//
//	POST   /v1/api/chat                  -> run one turn, SSE frame stream
//	GET    /v1/api/chat/{id}/stream      -> resume the most recent stream
//	GET    /v1/api/chat/{id}/live        -> attach to the live frame feed
//	GET    /v1/api/chat/{id}/messages    -> persisted history
//	DELETE /v1/api/chat/{id}             -> delete chat (owner only)
//	POST   /v1/api/webhooks/connection   -> JWT-verified connection events
//
// Session issuance is out of scope; callers identify themselves with the
// X-User-Id and X-User-Type headers set by the fronting gateway.
package http

import (
	"encoding/json"
	"net/http"

	"github.com/membranehq/ai-agent-example/genai/memory"
	"github.com/membranehq/ai-agent-example/internal/chaterr"
	"github.com/membranehq/ai-agent-example/service"
	"github.com/sirupsen/logrus"
)

const (
	headerUserID   = "X-User-Id"
	headerUserType = "X-User-Type"
)

// Server binds the chat service and the connection webhook to routes.
type Server struct {
	chat    *service.ChatService
	webhook *ConnectionWebhook
	log     *logrus.Logger
}

// ServerOption customises HTTP server behaviour.
type ServerOption func(*Server)

// WithWebhook mounts the connection-event webhook.
func WithWebhook(webhook *ConnectionWebhook) ServerOption {
	return func(s *Server) { s.webhook = webhook }
}

// WithServerLogger attaches a structured logger.
func WithServerLogger(log *logrus.Logger) ServerOption {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// NewServer returns an http.Handler with routes bound.
func NewServer(chat *service.ChatService, opts ...ServerOption) http.Handler {
	s := &Server{chat: chat, log: logrus.StandardLogger()}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/api/chat", s.handleChat)
	mux.HandleFunc("GET /v1/api/chat/{id}/stream", func(w http.ResponseWriter, r *http.Request) {
		s.handleResume(w, r, r.PathValue("id"))
	})
	mux.HandleFunc("GET /v1/api/chat/{id}/live", func(w http.ResponseWriter, r *http.Request) {
		s.handleLive(w, r, r.PathValue("id"))
	})
	mux.HandleFunc("GET /v1/api/chat/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		s.handleMessages(w, r, r.PathValue("id"))
	})
	mux.HandleFunc("DELETE /v1/api/chat/{id}", func(w http.ResponseWriter, r *http.Request) {
		s.handleDelete(w, r, r.PathValue("id"))
	})
	if s.webhook != nil {
		mux.HandleFunc("POST /v1/api/webhooks/connection", s.webhook.Handle)
	}
	return WithCORS(mux)
}

// errorBody is the JSON shape of every non-2xx response.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError maps a chaterr error onto status, code tag and safe message.
func writeError(w http.ResponseWriter, err error) {
	chatErr := chaterr.FromError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(chatErr.Status())
	_ = json.NewEncoder(w).Encode(errorBody{Code: chatErr.Tag(), Message: chatErr.Message()})
}

func encode(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// identity extracts the caller from gateway headers.
func identity(r *http.Request) (userID, userType string, err error) {
	userID = r.Header.Get(headerUserID)
	if userID == "" {
		return "", "", chaterr.New(chaterr.CodeUnauthorized, chaterr.SurfaceAuth)
	}
	userType = r.Header.Get(headerUserType)
	if userType == "" {
		userType = service.UserTypeGuest
	}
	return userID, userType, nil
}

// handleChat runs one turn, streaming frames to the caller as SSE.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	userID, userType, err := identity(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var request service.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, chaterr.Wrap(chaterr.CodeBadRequest, chaterr.SurfaceAPI, err))
		return
	}
	request.UserID = userID
	request.UserType = userType

	sink, err := newSSESink(w)
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := s.chat.Accept(r.Context(), &request, sink)
	if err != nil {
		// Headers may already be out; degrade to an error frame.
		if sink.started() {
			_ = sink.writeError(err)
			return
		}
		writeError(w, err)
		return
	}
	s.log.WithField("chat", request.ChatID).Info(service.Describe(result))
}

// handleResume replays or tails the most recent stream of a chat.
func (s *Server) handleResume(w http.ResponseWriter, r *http.Request, chatID string) {
	userID, _, err := identity(r)
	if err != nil {
		writeError(w, err)
		return
	}
	sink, err := newSSESink(w)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.chat.Resume(r.Context(), chatID, userID, sink); err != nil {
		if sink.started() {
			_ = sink.writeError(err)
			return
		}
		writeError(w, err)
	}
}

// handleLive attaches the caller to the live frame feed without replay.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request, chatID string) {
	userID, _, err := identity(r)
	if err != nil {
		writeError(w, err)
		return
	}
	sink, err := newSSESink(w)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.chat.Watch(r.Context(), chatID, userID, sink); err != nil {
		if sink.started() {
			_ = sink.writeError(err)
			return
		}
		writeError(w, err)
	}
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request, chatID string) {
	userID, _, err := identity(r)
	if err != nil {
		writeError(w, err)
		return
	}
	msgs, err := s.chat.History(r.Context(), chatID, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	if msgs == nil {
		msgs = []memory.Message{}
	}
	encode(w, http.StatusOK, msgs)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, chatID string) {
	userID, _, err := identity(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.chat.Delete(r.Context(), chatID, userID); err != nil {
		writeError(w, err)
		return
	}
	encode(w, http.StatusOK, map[string]string{"id": chatID, "status": "deleted"})
}
