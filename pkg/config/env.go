package config

const EnvPrefix = "ENTITLEMENT"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	TrialExpiryCanceled = "canceled"
	TrialExpiryNone     = "none"
)

const (
	EnvAppEnv            = "ENTITLEMENT_APP_ENV"
	EnvPort              = "ENTITLEMENT_APP_PORT"
	EnvDBDSN             = "ENTITLEMENT_DB_DSN"
	EnvDBHost            = "ENTITLEMENT_DB_HOST"
	EnvDBUser            = "ENTITLEMENT_DB_USER"
	EnvDBName            = "ENTITLEMENT_DB_NAME"
	EnvRedisURL          = "ENTITLEMENT_REDIS_URL"
	EnvJWTSecret         = "ENTITLEMENT_JWT_SECRET"
	EnvJWTIssuer         = "ENTITLEMENT_JWT_ISSUER"
	EnvStripeSecret      = "ENTITLEMENT_STRIPE_WEBHOOK_SECRET"
	EnvGracePeriod       = "ENTITLEMENT_BILLING_GRACE_PERIOD"
	EnvTrialExpiryPolicy = "ENTITLEMENT_BILLING_TRIAL_EXPIRY_POLICY"
	EnvSweepSchedule     = "ENTITLEMENT_BILLING_SWEEP_SCHEDULE"
	EnvCacheTTL          = "ENTITLEMENT_BILLING_CACHE_TTL"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
