package migration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpFilesOrdered(t *testing.T) {
	files, err := UpFiles()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"000001_create_orders.up.sql",
		"000002_create_payment_event_ledger.up.sql",
		"000003_create_order_payment_events.up.sql",
	}, files)
}

func TestEmbeddedSourceOpens(t *testing.T) {
	src, err := newSource()
	require.NoError(t, err)
	defer src.Close()

	first, err := src.First()
	require.NoError(t, err)
	assert.Equal(t, uint(1), first)
}

func TestRunMigrationsRequiresHandle(t *testing.T) {
	if err := RunMigrations(nil); err == nil {
		t.Fatalf("expected error for nil handle")
	}
}
