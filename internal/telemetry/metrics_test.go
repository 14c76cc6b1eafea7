package telemetry

import (
	"context"
	"testing"

	"github.com/IliaW/page-guard/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupMetricsDisabled(t *testing.T) {
	cfg := &config.Config{
		ServiceName:       "page-guard-test",
		TelemetrySettings: &config.TelemetryConfig{Enabled: false},
	}
	mp := SetupMetrics(context.Background(), cfg)
	require.NotNil(t, mp)
	defer mp.Close()

	assert.NotEmpty(t, mp.InstanceID)
	assert.NotPanics(t, func() {
		mp.AppMetrics.ClassificationCnt(1)
		mp.AppMetrics.WhitelistHitCnt(1)
		mp.KafkaMetrics.SuccessMsgCnt(3)
		mp.SQSMetrics.FailMsgCnt(1)
	})
}

func TestNoopMetrics(t *testing.T) {
	m := NoopAppMetrics()
	assert.NotPanics(t, func() {
		m.CacheHitCnt(1)
		m.StaleDiscardedCnt(1)
		m.FailedEventCounter(1)
		NoopKafkaMetrics().FailMsgCnt(1)
	})
}
