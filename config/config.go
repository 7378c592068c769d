/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/wacul/ptr"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5001"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL         bool   `json:"ssl" envconfig:"REPAY_SERVER_SSL"`
	Secure      bool   `json:"secure" envconfig:"REPAY_SERVER_SECURE"`
	SecretKey   string `json:"secret_key" envconfig:"REPAY_SERVER_SECRET_KEY"`
	Domain      string `json:"domain" envconfig:"REPAY_SERVER_SSL_DOMAIN"`
	Email       string `json:"ssl_email" envconfig:"REPAY_SERVER_SSL_EMAIL"`
	Port        string `json:"port" envconfig:"REPAY_SERVER_PORT"`
	CertStorage string `json:"cert_storage" envconfig:"REPAY_SERVER_CERT_STORAGE"`
}

type DataSourceConfig struct {
	Dns                string `json:"dns" envconfig:"REPAY_DATA_SOURCE_DNS"`
	MaxOpenConns       int    `json:"max_open_conns" envconfig:"REPAY_DATA_SOURCE_MAX_OPEN_CONNS"`
	MaxIdleConns       int    `json:"max_idle_conns" envconfig:"REPAY_DATA_SOURCE_MAX_IDLE_CONNS"`
	ConnMaxLifetimeSec int    `json:"conn_max_lifetime_sec" envconfig:"REPAY_DATA_SOURCE_CONN_MAX_LIFETIME_SEC"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"REPAY_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"REPAY_REDIS_SKIP_TLS_VERIFY"`
}

type TypeSenseConfig struct {
	Dns string `json:"dns" envconfig:"REPAY_TYPESENSE_DNS"`
}

type QueueConfig struct {
	SettlementQueue   string `json:"settlement_queue" envconfig:"REPAY_QUEUE_SETTLEMENT"`
	EventQueue        string `json:"event_queue" envconfig:"REPAY_QUEUE_EVENT"`
	WebhookQueue      string `json:"webhook_queue" envconfig:"REPAY_QUEUE_WEBHOOK"`
	IndexQueue        string `json:"index_queue" envconfig:"REPAY_QUEUE_INDEX"`
	ReinquiryQueue    string `json:"reinquiry_queue" envconfig:"REPAY_QUEUE_REINQUIRY"`
	NumberOfQueues    int    `json:"number_of_queues" envconfig:"REPAY_QUEUE_NUMBER_OF_QUEUES"`
	MaxRetryAttempts  int    `json:"max_retry_attempts" envconfig:"REPAY_QUEUE_MAX_RETRY_ATTEMPTS"`
	WorkerConcurrency int    `json:"worker_concurrency" envconfig:"REPAY_QUEUE_WORKER_CONCURRENCY"`
}

// SettlementConfig tunes the locker, the recovery sweeper and reinquiry.
type SettlementConfig struct {
	MaxConflictRetries  int  `json:"max_conflict_retries" envconfig:"REPAY_SETTLEMENT_MAX_CONFLICT_RETRIES"`
	ConflictBackoffMs   int  `json:"conflict_backoff_ms" envconfig:"REPAY_SETTLEMENT_CONFLICT_BACKOFF_MS"`
	RecoveryIntervalSec int  `json:"recovery_interval_sec" envconfig:"REPAY_SETTLEMENT_RECOVERY_INTERVAL_SEC"`
	StuckThresholdSec   int  `json:"stuck_threshold_sec" envconfig:"REPAY_SETTLEMENT_STUCK_THRESHOLD_SEC"`
	RecoveryBatchSize   int  `json:"recovery_batch_size" envconfig:"REPAY_SETTLEMENT_RECOVERY_BATCH_SIZE"`
	MaxRecoveryWorkers  int  `json:"max_recovery_workers" envconfig:"REPAY_SETTLEMENT_MAX_RECOVERY_WORKERS"`
	MaxRecoveryAttempts int  `json:"max_recovery_attempts" envconfig:"REPAY_SETTLEMENT_MAX_RECOVERY_ATTEMPTS"`
	ReinquiryDelaySec   int  `json:"reinquiry_delay_sec" envconfig:"REPAY_SETTLEMENT_REINQUIRY_DELAY_SEC"`
	MaxReinquiries      int  `json:"max_reinquiries" envconfig:"REPAY_SETTLEMENT_MAX_REINQUIRIES"`
	OutcomeCacheTTLSec  int  `json:"outcome_cache_ttl_sec" envconfig:"REPAY_SETTLEMENT_OUTCOME_CACHE_TTL_SEC"`
	RecoveryLockTTLSec  int  `json:"recovery_lock_ttl_sec" envconfig:"REPAY_SETTLEMENT_RECOVERY_LOCK_TTL_SEC"`
	DisableOutcomeCache bool `json:"disable_outcome_cache" envconfig:"REPAY_SETTLEMENT_DISABLE_OUTCOME_CACHE"`
}

func (s SettlementConfig) RecoveryInterval() time.Duration {
	return time.Duration(s.RecoveryIntervalSec) * time.Second
}

func (s SettlementConfig) StuckThreshold() time.Duration {
	return time.Duration(s.StuckThresholdSec) * time.Second
}

func (s SettlementConfig) ReinquiryDelay() time.Duration {
	return time.Duration(s.ReinquiryDelaySec) * time.Second
}

func (s SettlementConfig) OutcomeCacheTTL() time.Duration {
	return time.Duration(s.OutcomeCacheTTLSec) * time.Second
}

func (s SettlementConfig) RecoveryLockTTL() time.Duration {
	return time.Duration(s.RecoveryLockTTLSec) * time.Second
}

func (s SettlementConfig) ConflictBackoff() time.Duration {
	return time.Duration(s.ConflictBackoffMs) * time.Millisecond
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"REPAY_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"REPAY_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"REPAY_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url" envconfig:"REPAY_SLACK_WEBHOOK_URL"`
}

type WebhookConfig struct {
	Url     string            `json:"url" envconfig:"REPAY_WEBHOOK_URL"`
	Headers map[string]string `json:"headers"`
}

type Notification struct {
	Slack   SlackWebhook  `json:"slack"`
	Webhook WebhookConfig `json:"webhook"`
}

type OtelGrafanaCloud struct {
	OtelExporterOtlpProtocol string `json:"OTEL_EXPORTER_OTLP_PROTOCOL" envconfig:"OTEL_EXPORTER_OTLP_PROTOCOL"`
	OtelExporterOtlpEndpoint string `json:"OTEL_EXPORTER_OTLP_ENDPOINT" envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OtelExporterOtlpHeaders  string `json:"OTEL_EXPORTER_OTLP_HEADERS" envconfig:"OTEL_EXPORTER_OTLP_HEADERS"`
}

type Configuration struct {
	ProjectName         string           `json:"project_name" envconfig:"REPAY_PROJECT_NAME"`
	Server              ServerConfig     `json:"server"`
	DataSource          DataSourceConfig `json:"data_source"`
	Redis               RedisConfig      `json:"redis"`
	TypeSense           TypeSenseConfig  `json:"typesense"`
	TypeSenseKey        string           `json:"type_sense_key" envconfig:"REPAY_TYPESENSE_KEY"`
	Queue               QueueConfig      `json:"queue"`
	Settlement          SettlementConfig `json:"settlement"`
	Notification        Notification     `json:"notification"`
	RateLimit           RateLimitConfig  `json:"rate_limit"`
	EnableTelemetry     bool             `json:"enable_telemetry" envconfig:"REPAY_ENABLE_TELEMETRY"`
	EnableObservability bool             `json:"enable_observability" envconfig:"REPAY_ENABLE_OBSERVABILITY"`
	OtelGrafanaCloud    OtelGrafanaCloud `json:"otel_grafana_cloud"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("repay", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called repay.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Repay Server"
	}

	if cnf.TypeSense.Dns == "" {
		cnf.TypeSense.Dns = "http://typesense:8108"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	// Set default value for Port if it's empty
	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}
	if cnf.Server.CertStorage == "" {
		cnf.Server.CertStorage = "/var/lib/repay/certmagic"
	}

	cnf.setDataSourceDefaults()
	cnf.setQueueDefaults()
	cnf.setSettlementDefaults()

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = ptr.Int(defaultBurst)
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = ptr.Float64(defaultRPS)
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}

	// Set default cleanup interval if not specified
	if cnf.RateLimit.CleanupIntervalSec == nil {
		cnf.RateLimit.CleanupIntervalSec = ptr.Int(10800) // 3 hours in seconds
	}

	return nil
}

func (cnf *Configuration) setDataSourceDefaults() {
	if cnf.DataSource.MaxOpenConns <= 0 {
		cnf.DataSource.MaxOpenConns = 25
	}
	if cnf.DataSource.MaxIdleConns <= 0 {
		cnf.DataSource.MaxIdleConns = 10
	}
	if cnf.DataSource.ConnMaxLifetimeSec <= 0 {
		cnf.DataSource.ConnMaxLifetimeSec = 1800
	}
}

func (cnf *Configuration) setQueueDefaults() {
	q := &cnf.Queue
	if q.SettlementQueue == "" {
		q.SettlementQueue = "settlements"
	}
	if q.EventQueue == "" {
		q.EventQueue = "post_commit_events"
	}
	if q.WebhookQueue == "" {
		q.WebhookQueue = "webhook_queue"
	}
	if q.IndexQueue == "" {
		q.IndexQueue = "index_queue"
	}
	if q.ReinquiryQueue == "" {
		q.ReinquiryQueue = "reinquiry_queue"
	}
	if q.NumberOfQueues <= 0 {
		q.NumberOfQueues = 20
	}
	if q.MaxRetryAttempts <= 0 {
		q.MaxRetryAttempts = 5
	}
	if q.WorkerConcurrency <= 0 {
		q.WorkerConcurrency = 10
	}
}

func (cnf *Configuration) setSettlementDefaults() {
	s := &cnf.Settlement
	if s.MaxConflictRetries <= 0 {
		s.MaxConflictRetries = 5
	}
	if s.ConflictBackoffMs <= 0 {
		s.ConflictBackoffMs = 50
	}
	if s.RecoveryIntervalSec <= 0 {
		s.RecoveryIntervalSec = 60
	}
	if s.StuckThresholdSec <= 0 {
		s.StuckThresholdSec = 120
	}
	if s.RecoveryBatchSize <= 0 {
		s.RecoveryBatchSize = 100
	}
	if s.MaxRecoveryWorkers <= 0 {
		s.MaxRecoveryWorkers = 5
	}
	if s.MaxRecoveryAttempts <= 0 {
		s.MaxRecoveryAttempts = 10
	}
	if s.ReinquiryDelaySec <= 0 {
		s.ReinquiryDelaySec = 300
	}
	if s.MaxReinquiries <= 0 {
		s.MaxReinquiries = 3
	}
	if s.OutcomeCacheTTLSec <= 0 {
		s.OutcomeCacheTTLSec = 86400
	}
	if s.RecoveryLockTTLSec <= 0 {
		s.RecoveryLockTTLSec = 300
	}
}

// SetGrafanaExporterEnvs exports the configured OTLP settings so the
// OpenTelemetry exporters pick them up.
func SetGrafanaExporterEnvs() error {
	cnf, err := Fetch()
	if err != nil {
		return err
	}
	envs := map[string]string{
		"OTEL_EXPORTER_OTLP_PROTOCOL": cnf.OtelGrafanaCloud.OtelExporterOtlpProtocol,
		"OTEL_EXPORTER_OTLP_ENDPOINT": cnf.OtelGrafanaCloud.OtelExporterOtlpEndpoint,
		"OTEL_EXPORTER_OTLP_HEADERS":  cnf.OtelGrafanaCloud.OtelExporterOtlpHeaders,
	}
	for key, value := range envs {
		if value == "" {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return err
		}
	}
	return nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	mockConfig.setDataSourceDefaults()
	mockConfig.setQueueDefaults()
	mockConfig.setSettlementDefaults()
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
