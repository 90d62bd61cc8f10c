package rpc

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// MinGatewayVersion is the oldest gateway release whose config.patch and
// agents.files semantics match what the provisioner expects.
const MinGatewayVersion = "2026.1.30"

// Compatibility is the outcome of the version probe.
type Compatibility struct {
	Compatible bool   `json:"compatible"`
	Current    string `json:"current"`
	Minimum    string `json:"minimum"`
	Message    string `json:"message,omitempty"`
}

var semverPattern = regexp.MustCompile(`\b(\d+)\.(\d+)\.(\d+)\b`)

// ConnectVersionReporter is implemented by callers that learned the
// gateway version during the connect handshake.
type ConnectVersionReporter interface {
	ConnectVersion() string
}

// CheckCompatibility probes the gateway version by trying, in order,
// config.schema, status, and health, using the first payload that
// contains a semver string. Gateways that only announce their version
// in connect metadata are covered by the ConnectVersionReporter
// fallback. Scope errors are surfaced verbatim so admins see which
// grant is missing.
func CheckCompatibility(ctx context.Context, caller Caller) (*Compatibility, error) {
	probes := []string{MethodConfigSchema, MethodStatus, MethodHealth}

	var lastErr error
	for _, method := range probes {
		var payload map[string]interface{}
		if err := caller.Call(ctx, method, nil, &payload); err != nil {
			if strings.Contains(err.Error(), "missing scope:") {
				return nil, fmt.Errorf("%w (grant the scope to the mission-control token)", err)
			}
			lastErr = err
			continue
		}
		if version, ok := findVersion(payload); ok {
			return evaluate(version), nil
		}
	}

	if reporter, ok := caller.(ConnectVersionReporter); ok {
		if version := reporter.ConnectVersion(); version != "" {
			return evaluate(version), nil
		}
	}

	if lastErr != nil {
		return nil, fmt.Errorf("gateway version probe failed: %w", lastErr)
	}
	return nil, fmt.Errorf("gateway did not report a version")
}

func evaluate(current string) *Compatibility {
	result := &Compatibility{Current: current, Minimum: MinGatewayVersion}
	if compareVersions(current, MinGatewayVersion) >= 0 {
		result.Compatible = true
		return result
	}
	result.Message = fmt.Sprintf("Gateway version %s is not supported.", current)
	return result
}

// findVersion walks the payload looking for a semver-shaped string under
// the usual keys, then anywhere in string values.
func findVersion(payload map[string]interface{}) (string, bool) {
	for _, key := range []string{"version", "gatewayVersion", "serverVersion", "build"} {
		if v, ok := payload[key]; ok {
			if s, ok := extractSemver(v); ok {
				return s, true
			}
		}
	}
	for _, v := range payload {
		if s, ok := extractSemver(v); ok {
			return s, true
		}
	}
	return "", false
}

func extractSemver(value interface{}) (string, bool) {
	switch v := value.(type) {
	case string:
		if m := semverPattern.FindString(v); m != "" {
			return m, true
		}
	case map[string]interface{}:
		return findVersion(v)
	}
	return "", false
}

// compareVersions orders two dotted numeric versions; returns -1, 0, 1.
func compareVersions(a, b string) int {
	as := strings.SplitN(a, ".", 3)
	bs := strings.SplitN(b, ".", 3)
	for i := 0; i < 3; i++ {
		var av, bv int
		if i < len(as) {
			av, _ = strconv.Atoi(as[i])
		}
		if i < len(bs) {
			bv, _ = strconv.Atoi(bs[i])
		}
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}
	return 0
}
