//go:build integration

package kafka_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"procflow/internal/platform/config"
	"procflow/internal/platform/kafka"
	id "procflow/pkg/domain"
	audit "procflow/pkg/platform/audit"
	"procflow/pkg/platform/audit/publishers/stream"
	auditmemory "procflow/pkg/platform/audit/store/memory"
	"procflow/pkg/testutil/containers"
)

func TestProducer_PublishesAuditEntries(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	broker := containers.GetManager().GetRedpanda(t)
	cfg := config.KafkaConfig{
		Brokers:           broker.Brokers,
		AuditTopic:        "procflow.audit.test",
		ClientID:          "procflow-test",
		Partitions:        1,
		ReplicationFactor: 1,
		DeliveryTimeout:   10 * time.Second,
	}
	producer, err := kafka.NewProducer(ctx, cfg)
	require.NoError(t, err)
	require.NotNil(t, producer)
	t.Cleanup(func() { _ = producer.Close(context.Background()) })
	require.NoError(t, producer.Health(ctx))

	sink := auditmemory.NewInMemoryStore()
	pub := stream.New(sink, producer, stream.WithMetrics(stream.NewMetricsWithRegistry(prometheus.NewRegistry())))

	entry := audit.Entry{
		ID:            id.NewAuditEntryID(),
		OperationType: audit.OpApprove,
		OperationName: "approve_request",
		Module:        audit.ModuleWorkflow,
		ActorID:       "mgr-1",
		TargetID:      "req-1",
		RiskLevel:     audit.RiskMedium,
		Status:        audit.StatusSuccess,
		StartTime:     time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, pub.Append(ctx, entry))
	assert.Zero(t, pub.Pending())

	stored, err := sink.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(broker.Brokers...),
		kgo.ConsumeTopics(cfg.AuditTopic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	defer consumer.Close()

	fetches := consumer.PollFetches(ctx)
	require.NoError(t, fetches.Err())
	records := fetches.Records()
	require.Len(t, records, 1)
	assert.Equal(t, entry.ID.String(), string(records[0].Key))

	var msg map[string]any
	require.NoError(t, json.Unmarshal(records[0].Value, &msg))
	assert.Equal(t, "APPROVE", msg["operation_type"])
	assert.Equal(t, "req-1", msg["target_id"])
	assert.NotContains(t, msg, "request_params")
}

func TestNewProducer_DisabledWithoutBrokers(t *testing.T) {
	producer, err := kafka.NewProducer(context.Background(), config.KafkaConfig{})
	require.NoError(t, err)
	assert.Nil(t, producer)
}
