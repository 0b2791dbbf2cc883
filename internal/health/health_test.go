package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOverallStatus(t *testing.T) {
	c := NewChecker()
	c.RegisterFunc("registry", true, CountCheck("layouts", 1, func() int { return 6 }))
	c.RegisterFunc("store", false, PingCheck("store", func(context.Context) error { return nil }))

	assert.Equal(t, StatusUnknown, c.OverallStatus(), "critical checks not run yet")

	results := c.Check(context.Background())
	require.Len(t, results, 2)
	assert.Equal(t, StatusHealthy, results["registry"].Status)
	assert.Equal(t, "6 layouts", results["registry"].Message)
	assert.Equal(t, StatusHealthy, c.OverallStatus())
}

func TestOptionalFailureDegrades(t *testing.T) {
	c := NewChecker()
	c.RegisterFunc("registry", true, CountCheck("layouts", 1, func() int { return 1 }))
	c.RegisterFunc("store", false, PingCheck("store", func(context.Context) error {
		return errors.New("database is locked")
	}))

	results := c.Check(context.Background())
	assert.Equal(t, "database is locked", results["store"].Error)
	assert.Equal(t, StatusDegraded, c.OverallStatus())
}

func TestCriticalFailure(t *testing.T) {
	c := NewChecker()
	c.RegisterFunc("registry", true, CountCheck("layouts", 1, func() int { return 0 }))

	c.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, c.OverallStatus())
}

func TestTimeoutAndPanic(t *testing.T) {
	c := NewChecker()
	c.Register(&Component{
		Name:     "slow",
		Critical: true,
		Timeout:  20 * time.Millisecond,
		Check: func(ctx context.Context) CheckResult {
			<-ctx.Done()
			time.Sleep(10 * time.Millisecond)
			return CheckResult{Status: StatusHealthy}
		},
	})
	c.RegisterFunc("boom", false, func(context.Context) CheckResult { panic("nil map") })

	results := c.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, results["slow"].Status)
	assert.Equal(t, "check timed out", results["slow"].Message)
	assert.Equal(t, "check panicked", results["boom"].Message)
	assert.Equal(t, "nil map", results["boom"].Error)
}

func TestCheckComponentAndUnregister(t *testing.T) {
	c := NewChecker()
	c.RegisterFunc("custom", false, CustomCheck(func() error { return nil }))

	res, ok := c.CheckComponent(context.Background(), "custom")
	require.True(t, ok)
	assert.Equal(t, StatusHealthy, res.Status)
	assert.Equal(t, []string{"custom"}, c.Names())

	c.Unregister("custom")
	_, ok = c.CheckComponent(context.Background(), "custom")
	assert.False(t, ok)
	assert.Empty(t, c.GetResults())
}

func TestReadinessHandler(t *testing.T) {
	layouts := 0
	c := NewChecker()
	c.RegisterFunc("registry", true, CountCheck("layouts", 1, func() int { return layouts }))

	serve := func() (*httptest.ResponseRecorder, Response) {
		rec := httptest.NewRecorder()
		c.ReadinessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		var resp Response
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		return rec, resp
	}

	rec, resp := serve()
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.False(t, resp.Ready)

	c.SetReady(true)
	rec, resp = serve()
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, StatusUnhealthy, resp.Status)

	layouts = 6
	rec, resp = serve()
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Contains(t, resp.Components, "registry")
}

func TestLivenessHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	NewChecker().LivenessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), `"status":"alive"`)
}
