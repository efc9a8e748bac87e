package boot

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloseRunsInReverseAndCollectsErrors(t *testing.T) {
	var order []string
	rt := &Runtime{closers: []func() error{
		func() error { order = append(order, "db"); return errors.New("db close") },
		func() error { order = append(order, "redis"); return nil },
		func() error { order = append(order, "pubsub"); return errors.New("pubsub close") },
	}}

	err := rt.Close()

	require.Error(t, err)
	assert.Equal(t, []string{"pubsub", "redis", "db"}, order)
	assert.ErrorContains(t, err, "db close")
	assert.ErrorContains(t, err, "pubsub close")
	assert.NoError(t, rt.Close(), "a second close is a no-op")
}

func TestStartFailsWithoutRequiredConfig(t *testing.T) {
	for _, key := range []string{"ENTITLEMENT_APP_ENV", "ENTITLEMENT_APP_PORT"} {
		t.Setenv(key, "unset")
		require.NoError(t, os.Unsetenv(key))
	}

	rt, err := Start(t.Context(), Options{Kind: "test"})

	require.Error(t, err)
	assert.Nil(t, rt)
}
