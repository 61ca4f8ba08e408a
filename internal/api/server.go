// Package api provides HTTP handlers and the main API server logic for VITA-Care.
//
// It exposes the conversation surface used by presentation layers (create a
// conversation, inspect its snapshot, drive it with messages and selections)
// and the relay bridge surface (send a WhatsApp message, health). The API
// integrates with the flow, messaging, store, and agent modules.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/vita-care/vitacare/internal/flow"
	"github.com/vita-care/vitacare/internal/messaging"
	"github.com/vita-care/vitacare/internal/models"
	"github.com/vita-care/vitacare/internal/store"
)

// Server configuration constants
const (
	// DefaultAddr is the listen address when none is configured.
	DefaultAddr = ":8080"
	// DefaultShutdownTimeout bounds graceful shutdown on context cancellation.
	DefaultShutdownTimeout = 10 * time.Second
	// DefaultReadHeaderTimeout guards against slow-header clients.
	DefaultReadHeaderTimeout = 10 * time.Second
)

// ConnectionReporter reports whether the relay transport is linked and ready
// to deliver messages.
type ConnectionReporter interface {
	IsConnected() bool
}

// Opts holds API server configuration options.
type Opts struct {
	// Addr is the HTTP listen address.
	Addr string
	// Classifier overrides the intent classifier used by new conversations.
	Classifier flow.IntentClassifier
	// RelayStatus reports WhatsApp readiness for the health endpoint.
	RelayStatus ConnectionReporter
}

// Option defines a functional option for API server configuration.
type Option func(*Opts)

// WithAddr sets the HTTP listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithIntentClassifier sets the intent classifier attached to conversations
// created through the API.
func WithIntentClassifier(c flow.IntentClassifier) Option {
	return func(o *Opts) { o.Classifier = c }
}

// WithRelayStatus sets the reporter consulted by the health endpoint for
// WhatsApp readiness.
func WithRelayStatus(r ConnectionReporter) Option {
	return func(o *Opts) { o.RelayStatus = r }
}

// Server carries the dependencies shared by the HTTP handlers and the live
// conversation registry.
type Server struct {
	addr        string
	msgService  messaging.Service
	respHandler *messaging.ResponseHandler
	st          store.Store
	agentClient flow.SchedulingClient
	classifier  flow.IntentClassifier
	relayStatus ConnectionReporter

	mu            sync.RWMutex
	conversations map[string]*flow.Conversation
}

// NewServer creates an API server over the given messaging service, response
// handler, store, and scheduling-agent client.
func NewServer(msgService messaging.Service, respHandler *messaging.ResponseHandler, st store.Store, agentClient flow.SchedulingClient, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	addr := cfg.Addr
	if addr == "" {
		addr = DefaultAddr
	}
	slog.Debug("Server.NewServer: configured", "addr", addr, "hasClassifier", cfg.Classifier != nil)
	return &Server{
		addr:          addr,
		msgService:    msgService,
		respHandler:   respHandler,
		st:            st,
		agentClient:   agentClient,
		classifier:    cfg.Classifier,
		relayStatus:   cfg.RelayStatus,
		conversations: make(map[string]*flow.Conversation),
	}
}

// Handler returns the routed HTTP handler for the API surface.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/conversations", s.conversationsHandler)
	mux.HandleFunc("/conversations/", s.conversationsHandler)
	mux.HandleFunc("/send-message", s.sendMessageHandler)
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/receipts", s.receiptsHandler)
	mux.HandleFunc("/responses", s.responsesHandler)
	return mux
}

// Run starts the HTTP server and the receipt drain, blocking until the
// context is cancelled or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
	}

	go s.drainReceipts(ctx)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("API server shutdown failed", "error", err)
			return err
		}
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("API server listener failed", "error", err)
			return err
		}
		return nil
	}
}

// drainReceipts persists delivery receipts from the messaging service so the
// receipts endpoint survives restarts.
func (s *Server) drainReceipts(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case receipt, ok := <-s.msgService.Receipts():
			if !ok {
				return
			}
			if err := s.st.AddReceipt(receipt); err != nil {
				slog.Error("Server.drainReceipts: failed to store receipt", "error", err, "to", receipt.To)
			}
		}
	}
}

// conversation looks up a live conversation by ID.
func (s *Server) conversation(id string) (*flow.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	return conv, ok
}

// registerConversation adds a conversation to the live registry.
func (s *Server) registerConversation(conv *flow.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[conv.ID()] = conv
}

// removeConversation drops a conversation from the live registry.
func (s *Server) removeConversation(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, id)
}

// conversationOptions assembles the flow options shared by every
// API-created conversation: persistence, intent classification, and the
// booking observer that feeds the reminder cycle.
func (s *Server) conversationOptions() []flow.ConversationOption {
	var opts []flow.ConversationOption
	if s.st != nil {
		opts = append(opts, flow.WithStateManager(flow.NewStoreBasedStateManager(s.st)))
		opts = append(opts, flow.WithBookingObserver(func(rec models.BookingRecord) {
			if err := s.st.SaveBooking(rec); err != nil {
				slog.Error("Server: failed to store confirmed booking", "error", err, "scheduleID", rec.ScheduleID)
			}
		}))
	}
	if s.classifier != nil {
		opts = append(opts, flow.WithClassifier(s.classifier))
	}
	return opts
}
