package collab

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()

	t.Run("valid file", func(t *testing.T) {
		path := filepath.Join(dir, "entities.json")
		require.NoError(t, os.WriteFile(path, []byte(`[
			{"entity_id": "964-oslo", "name": "Oslo kommune", "email": "postmottak@oslo.example"},
			{"entity_id": "974-bergen", "name": "Bergen kommune", "email": "post@bergen.example"}
		]`), 0o600))

		d, err := LoadDirectory(path)
		require.NoError(t, err)

		e, ok := d.GetByID("964-oslo")
		require.True(t, ok)
		assert.Equal(t, "Oslo kommune", e.Name)

		_, ok = d.GetByID("unknown")
		assert.False(t, ok)
	})

	t.Run("missing id", func(t *testing.T) {
		path := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(path, []byte(`[{"name": "No id"}]`), 0o600))
		_, err := LoadDirectory(path)
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadDirectory(filepath.Join(dir, "nope.json"))
		assert.Error(t, err)
	})
}

func TestLogNotifier(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_notices_total"})
	n := NewLogNotifier(log, counter)

	n.NotifyOfError(context.Background(), "route failed", errors.New("boom"), logrus.Fields{"folder": "INBOX"})

	require.Len(t, hook.Entries, 1)
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
	assert.Equal(t, "route failed", hook.LastEntry().Message)
	assert.Equal(t, "INBOX", hook.LastEntry().Data["folder"])
	assert.Equal(t, float64(1), testutil.ToFloat64(counter))
}
