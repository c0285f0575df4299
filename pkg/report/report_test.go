package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clodo/orchestrate/pkg/errdefs"
	"github.com/clodo/orchestrate/pkg/storage"
	"github.com/clodo/orchestrate/pkg/types"
)

func seedDeployment(t *testing.T, store storage.Store) string {
	t.Helper()
	id := "deploy-20260825T120000Z-abcd1234"
	require.NoError(t, store.CreateDeployment(&types.Deployment{
		ID:          id,
		Domain:      "api.example.com",
		Environment: types.EnvStaging,
		Status:      types.DeploymentRunning,
		StartedAt:   time.Now().UTC(),
	}))
	require.NoError(t, store.AppendEvent(&storage.PhaseEvent{
		DeploymentID: id,
		Kind:         storage.EventStart,
		Phase:        types.PhaseValidate,
	}))
	require.NoError(t, store.RegisterRollbackAction(&types.RollbackAction{
		DeploymentID: id,
		Kind:         types.RollbackDeleteSecret,
		Target:       "api-example-com/API_KEY",
		Preimage:     []byte(`{"script":"api-example-com","name":"API_KEY"}`),
	}))
	return id
}

// TestWriteReport tests the JSON and HTML pair for one deployment
func TestWriteReport(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewBoltStore(filepath.Join(dir, "state"))
	require.NoError(t, err)
	defer store.Close()

	id := seedDeployment(t, store)
	w := NewWriter(filepath.Join(dir, "reports"), store)

	jsonPath, err := w.Write(id, nil)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "reports", id+".json"), jsonPath)

	data, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	var report Report
	require.NoError(t, json.Unmarshal(data, &report))
	require.Equal(t, id, report.Deployment.ID)
	require.Len(t, report.Events, 1)
	require.Len(t, report.Rollbacks, 1)
	require.False(t, report.GeneratedAt.IsZero())

	html, err := os.ReadFile(filepath.Join(dir, "reports", id+".html"))
	require.NoError(t, err)
	page := string(html)
	require.True(t, strings.Contains(page, id), "html page missing deployment id")
	require.True(t, strings.Contains(page, "api.example.com"), "html page missing domain")
	require.True(t, strings.Contains(page, "delete-secret"), "html page missing rollback kind")
}

// TestWriteUnknownDeployment tests the not-found pass-through
func TestWriteUnknownDeployment(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	w := NewWriter(t.TempDir(), store)
	_, err = w.Write("deploy-nope", nil)
	require.True(t, errdefs.IsNotFound(err), "error = %v, want not found", err)
}

// TestDefaultDir tests the directory fallback
func TestDefaultDir(t *testing.T) {
	w := NewWriter("", nil)
	require.Equal(t, DefaultDir, w.dir)
}
