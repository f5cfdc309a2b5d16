// Package api exposes the agent over HTTP+JSON.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/kokoro-agent/kokoro/pkg/agent"
	kerrors "github.com/kokoro-agent/kokoro/pkg/errors"
)

const maxMessageBytes = 1 << 20

// Server is the HTTP+JSON binding for the dispatcher. Name and
// Version, when set, are reported by the health endpoint.
type Server struct {
	dispatcher *agent.Dispatcher
	logger     *slog.Logger

	Name    string
	Version string
}

// New creates an HTTP server wrapper over the dispatcher.
func New(dispatcher *agent.Dispatcher, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{dispatcher: dispatcher, logger: logger}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /message", s.handleMessage)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

// Serve runs the HTTP server on bind until ctx is cancelled, then
// shuts down gracefully.
func (s *Server) Serve(ctx context.Context, bind string) error {
	srv := &http.Server{
		Addr:              bind,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", slog.String("bind", bind))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type messageRequest struct {
	Text string `json:"text"`
}

// errorResponse still carries a text field so callers that only look
// at text get an answer they can show the user.
type errorResponse struct {
	Text  string      `json:"text"`
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxMessageBytes))
	if err != nil {
		s.writeError(w, kerrors.Wrap(kerrors.CodeInvalidInput, "read request body", err))
		return
	}
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, kerrors.Wrap(kerrors.CodeInvalidInput, "request body is not valid JSON", err))
		return
	}

	resp, err := s.dispatcher.Handle(r.Context(), req.Text)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]string{"status": "ok"}
	if s.Name != "" {
		body["name"] = s.Name
	}
	if s.Version != "" {
		body["version"] = s.Version
	}
	s.writeJSON(w, http.StatusOK, body)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("write response failed", slog.Any("error", err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := kerrors.CodeOf(err)
	status := kerrors.HTTPStatus(code)
	s.logger.Warn("request failed",
		slog.String("code", string(code)),
		slog.Int("status", status),
		slog.Any("error", err))
	s.writeJSON(w, status, errorResponse{
		Text:  apologyFor(code),
		Error: errorDetail{Code: string(code), Message: err.Error()},
	})
}

// apologyFor picks the user-facing text for a failed request.
func apologyFor(code kerrors.Code) string {
	switch code {
	case kerrors.CodeModelUnavailable:
		return "I can't think right now. Please try again in a moment."
	case kerrors.CodeBusy:
		return "I'm in the middle of something. Please try again shortly."
	case kerrors.CodeStorageUnavailable:
		return "I can't reach my memory right now. Please try again later."
	default:
		return "Sorry, I could not handle that message."
	}
}
