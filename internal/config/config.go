package config

import "github.com/kelseyhightower/envconfig"

type APIConfig struct {
	DBDSN       string `envconfig:"DB_DSN" required:"true"`
	Port        string `envconfig:"PORT" default:"8080"`
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`

	DBPoolMaxConns          int32  `envconfig:"DB_POOL_MAX_CONNS" default:"10"`
	DBPoolMinConns          int32  `envconfig:"DB_POOL_MIN_CONNS" default:"0"`
	DBPoolMaxConnLifetime   string `envconfig:"DB_POOL_MAX_CONN_LIFETIME"`
	DBPoolMaxConnIdleTime   string `envconfig:"DB_POOL_MAX_CONN_IDLE_TIME"`
	DBPoolHealthCheckPeriod string `envconfig:"DB_POOL_HEALTH_CHECK_PERIOD"`

	// Compliance
	FooterText      string `envconfig:"FOOTER_TEXT" default:"Reply STOP to opt out."`
	OccasionalEvery int    `envconfig:"FOOTER_OCCASIONAL_EVERY" default:"3"`

	// Carrier
	CarrierProvider           string  `envconfig:"CARRIER_PROVIDER" default:"dryrun"` // twilio | dryrun
	TwilioAccountSID          string  `envconfig:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken           string  `envconfig:"TWILIO_AUTH_TOKEN"`
	TwilioMessagingServiceSID string  `envconfig:"TWILIO_MESSAGING_SERVICE_SID"`
	TwilioFromNumber          string  `envconfig:"TWILIO_FROM_NUMBER"`
	TwilioBaseURL             string  `envconfig:"TWILIO_BASE_URL" default:"https://api.twilio.com"`
	CarrierRPS                float64 `envconfig:"CARRIER_RPS" default:"5"`
	CarrierBurst              int     `envconfig:"CARRIER_BURST" default:"10"`
}

type SchedulerConfig struct {
	DBDSN       string `envconfig:"DB_DSN" required:"true"`
	Port        string `envconfig:"PORT" default:"8080"`
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`

	DBPoolMaxConns          int32  `envconfig:"DB_POOL_MAX_CONNS" default:"10"`
	DBPoolMinConns          int32  `envconfig:"DB_POOL_MIN_CONNS" default:"0"`
	DBPoolMaxConnLifetime   string `envconfig:"DB_POOL_MAX_CONN_LIFETIME"`
	DBPoolMaxConnIdleTime   string `envconfig:"DB_POOL_MAX_CONN_IDLE_TIME"`
	DBPoolHealthCheckPeriod string `envconfig:"DB_POOL_HEALTH_CHECK_PERIOD"`

	TickInterval string `envconfig:"TICK_INTERVAL" default:"2m"`
	TickLimit    int    `envconfig:"TICK_LIMIT" default:"50"`
	StaleAfter   string `envconfig:"CURSOR_STALE_AFTER" default:"10m"`

	// Draft generator
	DraftServiceURL  string `envconfig:"DRAFT_SERVICE_URL"`
	DraftMaxChars    int    `envconfig:"DRAFT_MAX_CHARS" default:"300"`
	DraftShrinkChars int    `envconfig:"DRAFT_SHRINK_CHARS" default:"60"`
	DraftTimeout     string `envconfig:"DRAFT_TIMEOUT" default:"20s"`

	FooterText      string `envconfig:"FOOTER_TEXT" default:"Reply STOP to opt out."`
	OccasionalEvery int    `envconfig:"FOOTER_OCCASIONAL_EVERY" default:"3"`

	CarrierProvider           string  `envconfig:"CARRIER_PROVIDER" default:"dryrun"`
	TwilioAccountSID          string  `envconfig:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken           string  `envconfig:"TWILIO_AUTH_TOKEN"`
	TwilioMessagingServiceSID string  `envconfig:"TWILIO_MESSAGING_SERVICE_SID"`
	TwilioFromNumber          string  `envconfig:"TWILIO_FROM_NUMBER"`
	TwilioBaseURL             string  `envconfig:"TWILIO_BASE_URL" default:"https://api.twilio.com"`
	CarrierRPS                float64 `envconfig:"CARRIER_RPS" default:"5"`
	CarrierBurst              int     `envconfig:"CARRIER_BURST" default:"10"`
}

type ReminderConfig struct {
	DBDSN       string `envconfig:"DB_DSN" required:"true"`
	Port        string `envconfig:"PORT" default:"8080"`
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`

	DBPoolMaxConns          int32  `envconfig:"DB_POOL_MAX_CONNS" default:"10"`
	DBPoolMinConns          int32  `envconfig:"DB_POOL_MIN_CONNS" default:"0"`
	DBPoolMaxConnLifetime   string `envconfig:"DB_POOL_MAX_CONN_LIFETIME"`
	DBPoolMaxConnIdleTime   string `envconfig:"DB_POOL_MAX_CONN_IDLE_TIME"`
	DBPoolHealthCheckPeriod string `envconfig:"DB_POOL_HEALTH_CHECK_PERIOD"`

	// Cron expression for the external trigger; the batch itself no-ops
	// outside the tenant's slot windows.
	CronSpec     string `envconfig:"REMINDER_CRON" default:"*/5 * * * *"`
	Slots        string `envconfig:"REMINDER_SLOTS" default:"10:00,14:00,17:30"`
	DriftMinutes int    `envconfig:"REMINDER_DRIFT_MINUTES" default:"10"`
	LookbackDays int    `envconfig:"REMINDER_LOOKBACK_DAYS" default:"14"`
	MaxIntervals int    `envconfig:"REMINDER_MAX_INTERVALS" default:"3"`
	MinGapHours  int    `envconfig:"REMINDER_MIN_GAP_HOURS" default:"20"`

	FooterText      string `envconfig:"FOOTER_TEXT" default:"Reply STOP to opt out."`
	OccasionalEvery int    `envconfig:"FOOTER_OCCASIONAL_EVERY" default:"3"`

	CarrierProvider           string  `envconfig:"CARRIER_PROVIDER" default:"dryrun"`
	TwilioAccountSID          string  `envconfig:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken           string  `envconfig:"TWILIO_AUTH_TOKEN"`
	TwilioMessagingServiceSID string  `envconfig:"TWILIO_MESSAGING_SERVICE_SID"`
	TwilioFromNumber          string  `envconfig:"TWILIO_FROM_NUMBER"`
	TwilioBaseURL             string  `envconfig:"TWILIO_BASE_URL" default:"https://api.twilio.com"`
	CarrierRPS                float64 `envconfig:"CARRIER_RPS" default:"5"`
	CarrierBurst              int     `envconfig:"CARRIER_BURST" default:"10"`
}

type WebhookConfig struct {
	Port        string `envconfig:"PORT" default:"8080"`
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`

	// Signature verification; the URL must match what the carrier is
	// configured to call, exactly.
	TwilioAuthToken  string `envconfig:"TWILIO_AUTH_TOKEN" required:"true"`
	PublicStatusURL  string `envconfig:"PUBLIC_STATUS_URL" required:"true"`
	PublicInboundURL string `envconfig:"PUBLIC_INBOUND_URL" required:"true"`

	AWSRegion          string `envconfig:"AWS_REGION" required:"true"`
	CallbackQueueURL   string `envconfig:"CALLBACK_QUEUE_URL" required:"true"`
	LocalstackEndpoint string `envconfig:"LOCALSTACK_ENDPOINT"`
}

type WebhookProcessorConfig struct {
	DBDSN       string `envconfig:"DB_DSN" required:"true"`
	Port        string `envconfig:"PORT" default:"8080"`
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`

	DBPoolMaxConns          int32  `envconfig:"DB_POOL_MAX_CONNS" default:"10"`
	DBPoolMinConns          int32  `envconfig:"DB_POOL_MIN_CONNS" default:"0"`
	DBPoolMaxConnLifetime   string `envconfig:"DB_POOL_MAX_CONN_LIFETIME"`
	DBPoolMaxConnIdleTime   string `envconfig:"DB_POOL_MAX_CONN_IDLE_TIME"`
	DBPoolHealthCheckPeriod string `envconfig:"DB_POOL_HEALTH_CHECK_PERIOD"`

	AWSRegion          string `envconfig:"AWS_REGION" required:"true"`
	CallbackQueueURL   string `envconfig:"CALLBACK_QUEUE_URL" required:"true"`
	LocalstackEndpoint string `envconfig:"LOCALSTACK_ENDPOINT"`
	SQSWaitTime        int32  `envconfig:"SQS_WAIT_TIME" default:"20"`
	SQSMaxMsgs         int32  `envconfig:"SQS_MAX_MSGS" default:"10"`
	SQSVizTimeout      int32  `envconfig:"SQS_VISIBILITY_TIMEOUT" default:"60"`
	Concurrency        int    `envconfig:"PROCESSOR_CONCURRENCY" default:"10"`
}

func LoadAPI() APIConfig {
	var cfg APIConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}

func LoadScheduler() SchedulerConfig {
	var cfg SchedulerConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}

func LoadReminder() ReminderConfig {
	var cfg ReminderConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}

func LoadWebhook() WebhookConfig {
	var cfg WebhookConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}

func LoadWebhookProcessor() WebhookProcessorConfig {
	var cfg WebhookProcessorConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}
