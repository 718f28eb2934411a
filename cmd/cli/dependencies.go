package cli

import (
	"context"
	"fmt"

	"github.com/duramation/duramation/internal/auth"
	"github.com/duramation/duramation/internal/controllers"
	"github.com/duramation/duramation/internal/credentials"
	"github.com/duramation/duramation/internal/execution"
	"github.com/duramation/duramation/internal/providers"
	"github.com/duramation/duramation/internal/realtime"
	"github.com/duramation/duramation/internal/runs"
	"github.com/duramation/duramation/internal/secrets"
	"github.com/duramation/duramation/internal/server"
	mongostorage "github.com/duramation/duramation/internal/storage/mongo"
	"github.com/duramation/duramation/pkg/domain"
	"github.com/duramation/duramation/pkg/engine"

	"github.com/redis/go-redis/v9"
)

// Container wires the whole service graph from configuration.
type Container struct {
	Config *Config

	ServerDeps server.HTTPServerDependencies
}

func NewContainer(ctx context.Context, config *Config) (*Container, error) {
	database, err := mongostorage.Connect(ctx, config.MongoURI, config.MongoDatabase)
	if err != nil {
		return nil, err
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     config.RedisAddress,
		Password: config.RedisPassword,
	})

	if err := redisClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	codec, err := secrets.NewCodec(config.CredentialMasterKey)
	if err != nil {
		return nil, err
	}

	registry := providers.NewRegistry(providers.RegistryOptions{
		Google: providers.ClientCredentials{
			ClientID:     config.GoogleClientID,
			ClientSecret: config.GoogleClientSecret,
			RedirectURL:  config.OAuthRedirectURL,
		},
		Slack: providers.ClientCredentials{
			ClientID:     config.SlackClientID,
			ClientSecret: config.SlackClientSecret,
			RedirectURL:  config.OAuthRedirectURL,
		},
		Microsoft: providers.ClientCredentials{
			ClientID:     config.MicrosoftClientID,
			ClientSecret: config.MicrosoftClientSecret,
			RedirectURL:  config.OAuthRedirectURL,
		},
	})

	credentialService := credentials.NewService(credentials.ServiceDependencies{
		CredentialRepository:         mongostorage.NewCredentialRepository(database),
		WorkflowCredentialRepository: mongostorage.NewWorkflowCredentialRepository(database),
		HandlerResolver:              registry,
		Codec:                        codec,
		KeyValidators: map[domain.Provider]credentials.KeyValidator{
			domain.ProviderFirecrawl: providers.NewFirecrawlKeyValidator(nil),
		},
	})

	bus := realtime.NewBus(redisClient)

	tokenIssuer, err := realtime.NewTokenIssuer(config.RealtimeSigningKey, realtime.DefaultTokenTTL)
	if err != nil {
		return nil, err
	}

	runTracker := runs.NewTracker(runs.TrackerDependencies{
		RunRepository: mongostorage.NewRunRepository(database),
		RealtimeBus:   bus,
	})

	builder := execution.NewBuilder(execution.BuilderDependencies{
		RunTracker:  runTracker,
		Credentials: credentialService,
		Bus:         bus,
	})

	var engineClient *engine.Client
	if config.EngineBaseURL != "" {
		options := []engine.ClientOption{
			engine.WithBaseURL(config.EngineBaseURL),
			engine.WithEventKey(config.EngineEventKey),
		}

		if config.EngineSigningPrivateKey != "" {
			signer, err := auth.NewEngineRequestSigner(config.EngineSigningPrivateKey)
			if err != nil {
				return nil, err
			}

			options = append(options, engine.WithSigner(signer))
		}

		engineClient = engine.NewClient(options...)
	}

	sessionManager, err := auth.NewSessionManager(config.SessionSigningKey, 0)
	if err != nil {
		return nil, err
	}

	engineVerifier, err := auth.NewEngineSignatureVerifier(config.EngineSigningPublicKey)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config: config,
		ServerDeps: server.HTTPServerDependencies{
			SessionManager: sessionManager,
			EngineVerifier: engineVerifier,
			CredentialController: controllers.NewCredentialController(controllers.CredentialControllerDependencies{
				CredentialService: credentialService,
			}),
			OAuthController: controllers.NewOAuthController(controllers.OAuthControllerDependencies{
				Registry:          registry,
				CredentialService: credentialService,
				DashboardURL:      config.DashboardURL,
			}),
			RealtimeController: controllers.NewRealtimeController(controllers.RealtimeControllerDependencies{
				TokenIssuer: tokenIssuer,
				Bus:         bus,
			}),
			RunController: controllers.NewRunController(controllers.RunControllerDependencies{
				Builder:      builder,
				BodyRegistry: execution.NewBodyRegistry(),
				RunTracker:   runTracker,
				EngineClient: engineClient,
			}),
		},
	}, nil
}
