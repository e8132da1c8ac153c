package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	require.NotNil(t, m)

	m.BotsActive.Set(42)
	m.SpawnAttempts.WithLabelValues("success").Inc()
	m.SpawnAttempts.WithLabelValues("failure").Inc()
	m.Transitions.WithLabelValues("ACTIVE").Add(3)

	assert.Equal(t, 42.0, testutil.ToFloat64(m.BotsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SpawnAttempts.WithLabelValues("success")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Transitions.WithLabelValues("ACTIVE")))

	// a second instance on its own registry must not collide
	m2 := New(prometheus.NewRegistry())
	require.NotNil(t, m2)
}
