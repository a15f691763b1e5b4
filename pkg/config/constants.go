package config

const (
	EnvPrefix = "WASESSIONS"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv      = "WASESSIONS_APP_ENV"
	EnvPort        = "WASESSIONS_APP_PORT"
	EnvServiceKind = "WASESSIONS_SERVICE_KIND"

	EnvDBDSN  = "WASESSIONS_DB_DSN"
	EnvDBHost = "WASESSIONS_DB_HOST"
	EnvDBUser = "WASESSIONS_DB_USER"
	EnvDBName = "WASESSIONS_DB_NAME"

	EnvRedisURL = "WASESSIONS_REDIS_URL"

	EnvEventsStream       = "WASESSIONS_EVENTS_STREAM"
	EnvEventsMaxAttempts  = "WASESSIONS_EVENTS_MAX_ATTEMPTS"
	EnvEventsBackoffMS    = "WASESSIONS_EVENTS_BACKOFF_MS"
	EnvEventsBackoffMaxMS = "WASESSIONS_EVENTS_BACKOFF_MAX_MS"
	EnvCommandsStream     = "WASESSIONS_COMMANDS_STREAM"
	EnvCommandsBatchSize  = "WASESSIONS_COMMANDS_BATCH_SIZE"
	EnvOutboxBatchSize    = "WASESSIONS_OUTBOX_BATCH_SIZE"

	ServiceKindAPI             = "api"
	ServiceKindOutboxPublisher = "outbox-publisher"
	ServiceKindEventConsumer   = "event-consumer"
	ServiceKindSessionWorker   = "session-worker"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
