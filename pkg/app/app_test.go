package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arnavshah/shift-optimizer/pkg/config"
	"github.com/arnavshah/shift-optimizer/pkg/database"
)

func TestNew(t *testing.T) {
	cfg := &config.Config{
		GinMode:  "test",
		Database: config.DatabaseConfig{DataPath: filepath.Join(t.TempDir(), "app.db")},
		Worker:   config.WorkerConfig{Count: 1, QueueSize: 4},
		Solver:   config.SolverConfig{SoftPenalty: 10000, DefaultRuntimeSeconds: 5},
		Auth:     config.AuthConfig{JWTSecret: "j", MasterSecret: "m", AdminUsername: "boss", AdminPassword: "pw"},
	}
	ctx := context.Background()

	a, err := New(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, a.Pool.Start(ctx))

	w := httptest.NewRecorder()
	a.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var admin database.MasterUser
	require.NoError(t, a.DB.First(&admin).Error)
	assert.Equal(t, "boss", admin.Username)

	require.NoError(t, a.Close(ctx))
}
