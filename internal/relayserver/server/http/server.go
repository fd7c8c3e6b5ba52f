package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/domrelay/domrelay/internal/orchestrator"
	"github.com/domrelay/domrelay/internal/pkg/auth"
	"github.com/domrelay/domrelay/internal/pkg/metrics"
	"github.com/domrelay/domrelay/internal/relayserver/core"
	"github.com/domrelay/domrelay/internal/relayserver/core/service"
	v1 "github.com/domrelay/domrelay/pkg/apis/command/v1"
	"github.com/domrelay/domrelay/pkg/log"
	"github.com/domrelay/domrelay/pkg/options"
)

// Service is the subset of the relay service exposed over HTTP.
type Service interface {
	Enqueue(ctx context.Context, p service.EnqueueParams) (*v1.Command, error)
	Get(ctx context.Context, id string) (*v1.Command, error)
	List(ctx context.Context, filter core.ListFilter) ([]v1.Command, error)
	Claim(ctx context.Context, id, agentID string) (*v1.Command, error)
	Complete(ctx context.Context, id string, result *v1.ExecutionResult) (*v1.Command, error)
	Cancel(ctx context.Context, id string) (*v1.Command, error)
	Verdict(ctx context.Context, id string) (*v1.VerifierOutput, bool, error)
	ArtifactUploadURL(ctx context.Context, commandID string) (*v1.ArtifactUploadResponse, error)
	ArtifactDownloadURL(ctx context.Context, commandID string) (*v1.ArtifactUploadResponse, error)

	RegisterDevice(ctx context.Context, userID string, req *v1.RegisterDeviceRequest) (*v1.RegisterDeviceResponse, error)
	Heartbeat(ctx context.Context, deviceID string) error
	RefreshToken(ctx context.Context, userID, deviceID string) (*v1.TokenResponse, error)
	GetDevice(ctx context.Context, deviceID string) (*v1.Device, error)
	ListDevices(ctx context.Context, userID string) ([]v1.Device, error)
}

// IntentHandler answers POST /v1/intents.
type IntentHandler interface {
	Handle(ctx context.Context, intent orchestrator.Intent) (*v1.IntentResponse, error)
}

// Authenticator validates bearer tokens.
type Authenticator interface {
	Parse(token string) (*auth.Claims, error)
}

// ReadyFunc reports whether the server's dependencies are reachable.
type ReadyFunc func(ctx context.Context) error

type Server struct {
	server  *http.Server
	options *options.HttpOptions
	logger  log.Logger
}

// Config carries the collaborators of the HTTP API. Intents and Ready may be nil.
type Config struct {
	Options *options.HttpOptions
	Service Service
	Auth    Authenticator
	Intents IntentHandler
	Ready   ReadyFunc
}

type handler struct {
	svc     Service
	intents IntentHandler
	logger  log.Logger
}

func NewServer(cfg *Config) *Server {
	logger := log.WithName("http")
	return &Server{
		server: &http.Server{
			Addr:              cfg.Options.Addr,
			Handler:           NewHandler(cfg, logger),
			ReadHeaderTimeout: cfg.Options.Timeout,
		},
		options: cfg.Options,
		logger:  logger,
	}
}

// NewHandler builds the routed API with its middleware chain.
func NewHandler(cfg *Config, logger log.Logger) http.Handler {
	h := &handler{svc: cfg.Service, intents: cfg.Intents, logger: logger}

	r := mux.NewRouter()
	r.Use(instrument(logger))

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	r.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.Ready != nil {
			if err := cfg.Ready(r.Context()); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/v1").Subrouter()
	api.Use(
		authenticate(cfg.Auth),
		rateLimit(cfg.Options.RateLimit, cfg.Options.RateBurst),
		timeout(cfg.Options.Timeout),
	)

	api.HandleFunc("/commands", h.enqueue).Methods(http.MethodPost)
	api.HandleFunc("/commands", h.listCommands).Methods(http.MethodGet)
	api.HandleFunc("/commands/{id}", h.getCommand).Methods(http.MethodGet)
	api.HandleFunc("/commands/{id}", h.updateCommand).Methods(http.MethodPatch)
	api.HandleFunc("/commands/{id}/cancel", h.cancelCommand).Methods(http.MethodPost)
	api.HandleFunc("/commands/{id}/verdict", h.verdict).Methods(http.MethodGet)
	api.HandleFunc("/commands/{id}/artifact", h.artifactUpload).Methods(http.MethodPost)
	api.HandleFunc("/commands/{id}/artifact", h.artifactDownload).Methods(http.MethodGet)

	api.HandleFunc("/devices/register", h.registerDevice).Methods(http.MethodPost)
	api.HandleFunc("/devices", h.listDevices).Methods(http.MethodGet)
	api.HandleFunc("/devices/{id}/heartbeat", h.heartbeat).Methods(http.MethodPost)
	api.HandleFunc("/devices/{id}/token", h.refreshToken).Methods(http.MethodPost)

	api.HandleFunc("/intents", h.intent).Methods(http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, v1.ErrorResponse{Code: v1.CodeNotFound, Message: "no such route"})
	})
	return r
}

func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP Server", "addr", s.server.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}
