package instance

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetIDPrefersWorkerID(t *testing.T) {
	t.Setenv("WORKER_ID", "cron-1")
	t.Setenv("DYNO", "web.1")
	require.Equal(t, "cron-1", GetID())
}

func TestGetIDFallsBackToDyno(t *testing.T) {
	t.Setenv("WORKER_ID", "")
	t.Setenv("DYNO", "web.2")
	require.Equal(t, "web.2", GetID())
}

func TestGetIDNeverBlank(t *testing.T) {
	t.Setenv("WORKER_ID", "")
	t.Setenv("DYNO", "")
	require.NotEmpty(t, GetID())
}
