package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvHelpers(t *testing.T) {
	t.Setenv("X_STR", "  value ")
	t.Setenv("X_BOOL", "Yes")
	t.Setenv("X_BAD_BOOL", "maybe")
	t.Setenv("X_INT", "42")
	t.Setenv("X_BAD_INT", "4x")
	t.Setenv("X_DUR", "90s")
	t.Setenv("X_BAD_DUR", "soon")

	assert.Equal(t, "value", envStr("X_STR", "d"))
	assert.Equal(t, "d", envStr("X_UNSET", "d"))
	assert.True(t, envBool("X_BOOL", false))
	assert.True(t, envBool("X_BAD_BOOL", true))
	assert.False(t, envBool("X_UNSET", false))
	assert.Equal(t, 42, envInt("X_INT", 1))
	assert.Equal(t, 1, envInt("X_BAD_INT", 1))
	assert.Equal(t, 90*time.Second, envDur("X_DUR", time.Second))
	assert.Equal(t, time.Second, envDur("X_BAD_DUR", time.Second))
}

func TestParseCIDRs(t *testing.T) {
	nets, err := parseCIDRs("10.0.0.0/8, 192.0.2.7 ,::1")
	require.NoError(t, err)
	require.Len(t, nets, 3)
	assert.Equal(t, "10.0.0.0/8", nets[0].String())
	assert.Equal(t, "192.0.2.7/32", nets[1].String())
	assert.Equal(t, "::1/128", nets[2].String())

	nets, err = parseCIDRs("")
	require.NoError(t, err)
	assert.Empty(t, nets)

	_, err = parseCIDRs("10.0.0.0/99")
	assert.Error(t, err)
	_, err = parseCIDRs("proxy.internal")
	assert.Error(t, err)
}
