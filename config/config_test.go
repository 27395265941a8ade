package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
database:
  host: "localhost"
  port: 5432
  username: "u"
  password: "p"
  name: "db"
kafka:
  host: "localhost"
  port: 9092
  job_progressed_topic_name: "jobs.progressed"
  shipment_synced_topic_name: "shipments.synced"
  fulfillment_order_ready_topic_name: "fulfillment-orders.ready"
redis:
  host: "localhost"
  port: 6379
shipsync:
  http_addr: ":8080"
  kafka_consumer_group: "sync-api"
  shopify_api_version: "2024-01"
  token_cache_ttl_seconds: 600
  worker_http_addr: ":8082"
  worker_sweep_interval_seconds: 5
  worker_job_limit: 5
  worker_item_limit: 100
  worker_stale_lock_seconds: 90
`), 0o600))

	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	require.Equal(t, "u", cfg.Database.Username)
	require.Equal(t, "jobs.progressed", cfg.Kafka.JobProgressedTopicName)
	require.Equal(t, 6379, cfg.Redis.Port)
	require.Equal(t, ":8080", cfg.ShipSync.HTTPAddr)
	require.Equal(t, 90, cfg.ShipSync.WorkerStaleLockSeconds)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
