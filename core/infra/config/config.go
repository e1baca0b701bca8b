package config

import "os"

const (
	defaultHTTPAddr       = ":8081"
	defaultMetricsAddr    = ":9092"
	defaultRedisURL       = ""
	defaultNATSURL        = ""
	defaultPipelinePath   = "config/pipeline.yaml"
	defaultResultDBPath   = "data/results.db"
	defaultCensusEndpoint = "https://api.census.gov/data"
	envHTTPAddr           = "GATEWAY_HTTP_ADDR"
	envMetricsAddr        = "GATEWAY_METRICS_ADDR"
	envRedisURL           = "REDIS_URL"
	envNATSURL            = "NATS_URL"
	envPipelinePath       = "PIPELINE_CONFIG_PATH"
	envResultDBPath       = "RESULT_DB_PATH"
	envCensusEndpoint     = "CENSUS_API_ENDPOINT"
	envCensusAPIKey       = "CENSUS_API_KEY"
)

// Config holds runtime configuration for the gateway.
type Config struct {
	HTTPAddr       string
	MetricsAddr    string
	RedisURL       string
	NatsURL        string
	PipelinePath   string
	ResultDBPath   string
	CensusEndpoint string
	CensusAPIKey   string
}

// Load returns configuration using environment variables with sane defaults.
// RedisURL and NatsURL default to empty: without them the gateway runs with
// the embedded result store and the in-process event bus.
func Load() *Config {
	httpAddr := os.Getenv(envHTTPAddr)
	if httpAddr == "" {
		httpAddr = defaultHTTPAddr
	}
	metricsAddr := os.Getenv(envMetricsAddr)
	if metricsAddr == "" {
		metricsAddr = defaultMetricsAddr
	}
	pipelinePath := os.Getenv(envPipelinePath)
	if pipelinePath == "" {
		pipelinePath = defaultPipelinePath
	}
	resultDBPath := os.Getenv(envResultDBPath)
	if resultDBPath == "" {
		resultDBPath = defaultResultDBPath
	}
	censusEndpoint := os.Getenv(envCensusEndpoint)
	if censusEndpoint == "" {
		censusEndpoint = defaultCensusEndpoint
	}

	return &Config{
		HTTPAddr:       httpAddr,
		MetricsAddr:    metricsAddr,
		RedisURL:       os.Getenv(envRedisURL),
		NatsURL:        os.Getenv(envNATSURL),
		PipelinePath:   pipelinePath,
		ResultDBPath:   resultDBPath,
		CensusEndpoint: censusEndpoint,
		CensusAPIKey:   os.Getenv(envCensusAPIKey),
	}
}
