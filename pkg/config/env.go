package config

const (
	EnvPrefix = "MARKETPLACE"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv   = "MARKETPLACE_APP_ENV"
	EnvPort     = "MARKETPLACE_APP_PORT"
	EnvLogLevel = "MARKETPLACE_LOG_LEVEL"

	EnvDBDSN  = "MARKETPLACE_DB_DSN"
	EnvDBHost = "MARKETPLACE_DB_HOST"
	EnvDBUser = "MARKETPLACE_DB_USER"
	EnvDBName = "MARKETPLACE_DB_NAME"

	EnvRedisURL = "MARKETPLACE_REDIS_URL"

	EnvJWTSecret = "MARKETPLACE_JWT_SECRET"
	EnvJWTIssuer = "MARKETPLACE_JWT_ISSUER"

	EnvBankBaseURL      = "MARKETPLACE_BANK_BASE_URL"
	EnvBankClientID     = "MARKETPLACE_BANK_CLIENT_ID"
	EnvBankClientSecret = "MARKETPLACE_BANK_CLIENT_SECRET"

	EnvSettlementDeadline = "MARKETPLACE_SETTLEMENT_DEADLINE"
	EnvCatalogChunkSize   = "MARKETPLACE_CATALOG_CHUNK_SIZE"
	EnvGCPProjectID       = "MARKETPLACE_GCP_PROJECT_ID"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
