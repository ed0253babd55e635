package actions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evantahler/bun-actionhero-sub000/internal/action"
	"github.com/evantahler/bun-actionhero-sub000/internal/connection"
)

func TestStatusActionReportsOK(t *testing.T) {
	reg := action.NewRegistry()
	require.NoError(t, RegisterStatusAction(reg))
	a, ok := reg.Lookup("status")
	require.True(t, ok)

	conn := connection.New(connection.TypeWeb, "1.2.3.4", "c1")
	result, err := a.Run(context.Background(), nil, conn)
	require.NoError(t, err)
	assert.Equal(t, "ok", result["status"])
}
