package rpc

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCaller answers methods from a canned map and records the order of
// probes.
type fakeCaller struct {
	responses map[string]map[string]interface{}
	errs      map[string]error
	calls     []string
}

func (f *fakeCaller) Call(_ context.Context, method string, _, result interface{}) error {
	f.calls = append(f.calls, method)
	if err, ok := f.errs[method]; ok {
		return err
	}
	payload, ok := f.responses[method]
	if !ok {
		return &MethodError{Method: method, Message: "unknown method " + method}
	}
	if result != nil {
		raw, _ := json.Marshal(payload)
		return json.Unmarshal(raw, result)
	}
	return nil
}

func TestCheckCompatibilityCurrentVersion(t *testing.T) {
	caller := &fakeCaller{responses: map[string]map[string]interface{}{
		MethodConfigSchema: {"version": "2026.2.4", "schema": map[string]interface{}{}},
	}}

	compat, err := CheckCompatibility(context.Background(), caller)
	require.NoError(t, err)
	assert.True(t, compat.Compatible)
	assert.Equal(t, "2026.2.4", compat.Current)
	assert.Equal(t, MinGatewayVersion, compat.Minimum)
}

func TestCheckCompatibilityTooOld(t *testing.T) {
	caller := &fakeCaller{responses: map[string]map[string]interface{}{
		MethodConfigSchema: {"version": "2026.1.0"},
	}}

	compat, err := CheckCompatibility(context.Background(), caller)
	require.NoError(t, err)
	assert.False(t, compat.Compatible)
	assert.Equal(t, "Gateway version 2026.1.0 is not supported.", compat.Message)
}

func TestCheckCompatibilityFallsBackThroughProbes(t *testing.T) {
	caller := &fakeCaller{
		errs: map[string]error{
			MethodConfigSchema: &MethodError{Method: MethodConfigSchema, Message: "unknown method config.schema"},
		},
		responses: map[string]map[string]interface{}{
			MethodStatus: {"server": map[string]interface{}{"version": "v2026.1.31 (stable)"}},
		},
	}

	compat, err := CheckCompatibility(context.Background(), caller)
	require.NoError(t, err)
	assert.True(t, compat.Compatible)
	assert.Equal(t, "2026.1.31", compat.Current)
	assert.Equal(t, []string{MethodConfigSchema, MethodStatus}, caller.calls)
}

// versionedCaller pairs probe responses with a version learned at
// connect time.
type versionedCaller struct {
	fakeCaller
	connectVersion string
}

func (v *versionedCaller) ConnectVersion() string { return v.connectVersion }

func TestCheckCompatibilityUsesConnectVersion(t *testing.T) {
	caller := &versionedCaller{
		fakeCaller: fakeCaller{responses: map[string]map[string]interface{}{
			MethodConfigSchema: {"schema": map[string]interface{}{}},
			MethodStatus:       {"uptime": "3h"},
			MethodHealth:       {"ok": true},
		}},
		connectVersion: "2026.2.1",
	}

	compat, err := CheckCompatibility(context.Background(), caller)
	require.NoError(t, err)
	assert.True(t, compat.Compatible)
	assert.Equal(t, "2026.2.1", compat.Current)
}

func TestCheckCompatibilityScopeErrorSurfaced(t *testing.T) {
	caller := &fakeCaller{
		errs: map[string]error{
			MethodConfigSchema: &MethodError{Method: MethodConfigSchema, Message: "missing scope: config.read"},
		},
	}

	_, err := CheckCompatibility(context.Background(), caller)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing scope: config.read")
	assert.Contains(t, err.Error(), "grant the scope")
}

func TestCompareVersions(t *testing.T) {
	assert.Equal(t, 0, compareVersions("1.2.3", "1.2.3"))
	assert.Equal(t, -1, compareVersions("2026.1.0", "2026.1.30"))
	assert.Equal(t, 1, compareVersions("2026.2.0", "2026.1.30"))
	assert.Equal(t, -1, compareVersions("1.2", "1.2.1"))
}
