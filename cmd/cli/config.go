package cli

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config holds all service configuration.
type Config struct {
	HTTPAddress  string
	DashboardURL string

	MongoURI      string
	MongoDatabase string

	RedisAddress  string
	RedisPassword string

	// Execution engine (optional; dashboard trigger is disabled without it)
	EngineBaseURL           string
	EngineEventKey          string
	EngineSigningPrivateKey string

	// Cryptographic material
	CredentialMasterKey    string // base64, 32 bytes, encrypts credential secrets
	SessionSigningKey      string
	RealtimeSigningKey     string
	EngineSigningPublicKey string // Ed25519 public key of the execution engine

	// OAuth app credentials
	GoogleClientID        string
	GoogleClientSecret    string
	SlackClientID         string
	SlackClientSecret     string
	MicrosoftClientID     string
	MicrosoftClientSecret string
	OAuthRedirectURL      string
}

// LoadConfig loads configuration from files and environment variables.
func LoadConfig() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	envMappings := map[string]string{
		"HTTPAddress":             "HTTP_ADDRESS",
		"DashboardURL":            "DASHBOARD_URL",
		"MongoURI":                "MONGO_URI",
		"MongoDatabase":           "MONGO_DATABASE",
		"RedisAddress":            "REDIS_ADDRESS",
		"RedisPassword":           "REDIS_PASSWORD",
		"EngineBaseURL":           "ENGINE_BASE_URL",
		"EngineEventKey":          "ENGINE_EVENT_KEY",
		"EngineSigningPrivateKey": "ENGINE_SIGNING_PRIVATE_KEY",
		"CredentialMasterKey":     "CREDENTIAL_MASTER_KEY",
		"SessionSigningKey":       "SESSION_SIGNING_KEY",
		"RealtimeSigningKey":      "REALTIME_SIGNING_KEY",
		"EngineSigningPublicKey":  "ENGINE_SIGNING_PUBLIC_KEY",
		"GoogleClientID":          "GOOGLE_CLIENT_ID",
		"GoogleClientSecret":      "GOOGLE_CLIENT_SECRET",
		"SlackClientID":           "SLACK_CLIENT_ID",
		"SlackClientSecret":       "SLACK_CLIENT_SECRET",
		"MicrosoftClientID":       "MICROSOFT_CLIENT_ID",
		"MicrosoftClientSecret":   "MICROSOFT_CLIENT_SECRET",
		"OAuthRedirectURL":        "OAUTH_REDIRECT_URL",
	}

	for configKey, envVar := range envMappings {
		if err := v.BindEnv(configKey, envVar); err != nil {
			log.Warn().Err(err).Msgf("Failed to bind environment variable %s for %s", envVar, configKey)
		}
	}

	v.SetConfigName("duramation_config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("$HOME/.duramation")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}

		log.Debug().Msg("Config file not found, using environment variables and defaults")
	} else {
		log.Info().Msgf("Using config file: %s", v.ConfigFileUsed())
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("HTTPAddress", ":8080")
	v.SetDefault("DashboardURL", "http://localhost:3000")
	v.SetDefault("MongoURI", "mongodb://localhost:27017")
	v.SetDefault("MongoDatabase", "duramation")
	v.SetDefault("RedisAddress", "localhost:6379")
}

func validateConfig(config *Config) error {
	var missingVars []string

	if config.CredentialMasterKey == "" {
		missingVars = append(missingVars, "CREDENTIAL_MASTER_KEY")
	}

	if config.SessionSigningKey == "" {
		missingVars = append(missingVars, "SESSION_SIGNING_KEY")
	}

	if config.RealtimeSigningKey == "" {
		missingVars = append(missingVars, "REALTIME_SIGNING_KEY")
	}

	if config.EngineSigningPublicKey == "" {
		missingVars = append(missingVars, "ENGINE_SIGNING_PUBLIC_KEY")
	}

	if len(missingVars) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missingVars, ", "))
	}

	return nil
}
