package service

import (
	"time"

	"k8s.io/utils/clock"

	"github.com/domrelay/domrelay/internal/relayserver/core"
	"github.com/domrelay/domrelay/internal/verifier"
	"github.com/domrelay/domrelay/pkg/log"
)

const (
	defaultNotifyTimeout  = 5 * time.Second
	defaultArtifactExpiry = 15 * time.Minute
)

// Service implements the relay use cases on top of the core ports.
// It is the only caller of the repository's status transitions.
type Service struct {
	device   core.DeviceRepository
	command  core.CommandRepository
	notifier core.CommandNotifier
	storage  core.ArtifactStorage
	tokens   core.TokenIssuer

	verifier       *verifier.Verifier
	clock          clock.Clock
	logger         log.Logger
	notifyTimeout  time.Duration
	artifactExpiry time.Duration
}

type Option func(*Service)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(c clock.Clock) Option { return func(s *Service) { s.clock = c } }

func WithVerifier(v *verifier.Verifier) Option { return func(s *Service) { s.verifier = v } }

func WithLogger(l log.Logger) Option { return func(s *Service) { s.logger = l } }

// WithNotifyTimeout bounds each push notification.
func WithNotifyTimeout(d time.Duration) Option { return func(s *Service) { s.notifyTimeout = d } }

// WithArtifactExpiry sets the lifetime of presigned artifact URLs.
func WithArtifactExpiry(d time.Duration) Option { return func(s *Service) { s.artifactExpiry = d } }

// New creates the relay service. notifier, storage and tokens may be nil;
// the matching features then degrade to polling only, ErrUnavailable and
// token-less registration respectively.
func New(
	repo core.Repository,
	notifier core.CommandNotifier,
	storage core.ArtifactStorage,
	tokens core.TokenIssuer,
	opts ...Option,
) *Service {
	s := &Service{
		device:         repo.Device(),
		command:        repo.Command(),
		notifier:       notifier,
		storage:        storage,
		tokens:         tokens,
		verifier:       verifier.New(verifier.DefaultEvidenceWindow),
		clock:          clock.RealClock{},
		logger:         log.WithName("service"),
		notifyTimeout:  defaultNotifyTimeout,
		artifactExpiry: defaultArtifactExpiry,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) now() time.Time { return s.clock.Now().UTC() }
