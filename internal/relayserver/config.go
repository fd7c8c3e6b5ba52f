package relayserver

import (
	"context"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"k8s.io/utils/clock"

	"github.com/domrelay/domrelay/internal/orchestrator"
	"github.com/domrelay/domrelay/internal/pkg/auth"
	"github.com/domrelay/domrelay/internal/relayserver/core"
	"github.com/domrelay/domrelay/internal/relayserver/core/service"
	"github.com/domrelay/domrelay/internal/relayserver/notifier"
	"github.com/domrelay/domrelay/internal/relayserver/reaper"
	"github.com/domrelay/domrelay/internal/relayserver/server"
	httpserver "github.com/domrelay/domrelay/internal/relayserver/server/http"
	mqttserver "github.com/domrelay/domrelay/internal/relayserver/server/mqtt"
	"github.com/domrelay/domrelay/internal/relayserver/storage"
	"github.com/domrelay/domrelay/internal/relayserver/store"
	"github.com/domrelay/domrelay/internal/relayserver/supervisor"
	"github.com/domrelay/domrelay/internal/verifier"
	"github.com/domrelay/domrelay/pkg/log"
	pkgmqtt "github.com/domrelay/domrelay/pkg/mqtt"
	"github.com/domrelay/domrelay/pkg/mqtt/topic"
	"github.com/domrelay/domrelay/pkg/options"
)

type Config struct {
	HttpOptions       *options.HttpOptions
	DBOptions         *options.DBOptions
	MqttOptions       *options.MqttOptions
	RedisOptions      *options.RedisOptions
	S3Options         *options.S3Options
	JWTOptions        *options.JWTOptions
	GenAIOptions      *options.GenAIOptions
	ReaperOptions     *options.ReaperOptions
	SupervisorOptions *options.SupervisorOptions
}

// NewRelayServer wires the adapters into the core service and the service
// into the ingress servers.
func (cfg *Config) NewRelayServer(ctx context.Context) (*RelayServer, error) {
	db, err := store.Open(cfg.DBOptions)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(db); err != nil {
		return nil, err
	}
	repo := store.NewRepository(db)

	var (
		servers    []server.Server
		notifiers  notifier.Multi
		mqttClient pkgmqtt.Client
		builder    *topic.Builder
	)

	if cfg.MqttOptions.Enabled {
		mqttClient, err = newMQTTClient(cfg.MqttOptions)
		if err != nil {
			return nil, fmt.Errorf("failed to init mqtt client: %w", err)
		}
		builder = topic.NewBuilder(cfg.MqttOptions.TopicRoot)
		notifiers = append(notifiers, notifier.NewMQTTNotifier(mqttClient, builder))
	}

	var rdb redis.UniversalClient
	if cfg.RedisOptions.Enabled {
		rdb = redis.NewClient(cfg.RedisOptions.ToClientOptions())
		notifiers = append(notifiers, notifier.NewRedisNotifier(rdb))
	}

	var artifacts core.ArtifactStorage
	if cfg.S3Options.Enabled {
		minio, err := storage.NewMinIO(cfg.S3Options)
		if err != nil {
			return nil, err
		}
		artifacts = minio
	}

	signer := auth.NewSigner(cfg.JWTOptions)

	var push core.CommandNotifier
	switch len(notifiers) {
	case 0:
		log.Warn("No push backend enabled; agents rely on polling only")
	case 1:
		push = notifiers[0]
	default:
		push = notifiers
	}

	svc := service.New(repo, push, artifacts, signer,
		service.WithVerifier(verifier.New(cfg.SupervisorOptions.EvidenceWindow)),
		service.WithArtifactExpiry(cfg.S3Options.URLExpiry),
	)

	var intents httpserver.IntentHandler
	if cfg.GenAIOptions.Enabled {
		llm, err := orchestrator.NewGenAI(ctx, cfg.GenAIOptions)
		if err != nil {
			return nil, err
		}
		intents = orchestrator.New(llm, llm, svc)
	}

	ready := func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
		if rdb != nil {
			if err := rdb.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
		}
		return nil
	}

	// The MQTT ingress owns the shared client's connection lifecycle.
	if mqttClient != nil {
		servers = append(servers, mqttserver.NewServer(mqttClient, builder, svc))
	}

	servers = append(servers,
		httpserver.NewServer(&httpserver.Config{
			Options: cfg.HttpOptions,
			Service: svc,
			Auth:    signer,
			Intents: intents,
			Ready:   ready,
		}),
		reaper.New(svc, cfg.ReaperOptions, clock.RealClock{}),
		supervisor.New(svc, cfg.SupervisorOptions, clock.RealClock{}),
	)

	return &RelayServer{
		manager: server.NewManager(servers...),
		closers: []func() error{
			func() error {
				sqlDB, err := db.DB()
				if err != nil {
					return err
				}
				return sqlDB.Close()
			},
			func() error {
				if rdb == nil {
					return nil
				}
				return rdb.Close()
			},
		},
	}, nil
}

func newMQTTClient(opts *options.MqttOptions) (pkgmqtt.Client, error) {
	cfg := opts.ToClientConfig()
	if cfg.ClientID == "" {
		hostname, _ := os.Hostname()
		cfg.ClientID = fmt.Sprintf("relay-server-%s", hostname)
	}
	return pkgmqtt.NewClient(cfg)
}
