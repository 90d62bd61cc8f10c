package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// EnsureSession idempotently creates a session and returns its entry.
// An "already exists" rejection from the gateway is treated as success
// and resolved with sessions.get.
func EnsureSession(ctx context.Context, caller Caller, key, label string) (*SessionEntry, error) {
	params := map[string]interface{}{"key": key}
	if label != "" {
		params["label"] = label
	}
	var entry SessionEntry
	err := caller.Call(ctx, MethodSessionsSpawn, params, &entry)
	if err == nil {
		if entry.Key == "" {
			entry.Key = key
		}
		return &entry, nil
	}
	var methodErr *MethodError
	if AsMethodError(err, &methodErr) && strings.Contains(strings.ToLower(methodErr.Message), "already exists") {
		var existing SessionEntry
		if getErr := caller.Call(ctx, MethodSessionsGet, map[string]interface{}{"key": key}, &existing); getErr == nil {
			if existing.Key == "" {
				existing.Key = key
			}
			return &existing, nil
		}
		entry = SessionEntry{Key: key, Label: label}
		return &entry, nil
	}
	return nil, err
}

// SendMessage posts text into a session. deliver=false leaves it in
// the inbox instead of pushing to the agent.
func SendMessage(ctx context.Context, caller Caller, sessionKey, text string, deliver bool) error {
	params := map[string]interface{}{
		"sessionKey": sessionKey,
		"message":    text,
		"deliver":    deliver,
	}
	return caller.Call(ctx, MethodSessionsSend, params, nil)
}

// GetHistory returns the transcript for a session.
func GetHistory(ctx context.Context, caller Caller, sessionKey string) ([]HistoryMessage, error) {
	var result struct {
		Messages []HistoryMessage `json:"messages"`
	}
	err := caller.Call(ctx, MethodSessionsHistory, map[string]interface{}{"sessionKey": sessionKey}, &result)
	if err != nil {
		return nil, err
	}
	return result.Messages, nil
}

// ListSessions returns every session on the gateway.
func ListSessions(ctx context.Context, caller Caller) ([]SessionEntry, error) {
	var result struct {
		Sessions []SessionEntry `json:"sessions"`
	}
	if err := caller.Call(ctx, MethodSessionsList, nil, &result); err != nil {
		return nil, err
	}
	return result.Sessions, nil
}

// ResetSession clears a session's transcript, keeping the key.
func ResetSession(ctx context.Context, caller Caller, key string) error {
	return caller.Call(ctx, MethodSessionsReset, map[string]interface{}{"key": key}, nil)
}

// DeleteSession removes a session entirely.
func DeleteSession(ctx context.Context, caller Caller, key string) error {
	return caller.Call(ctx, MethodSessionsDelete, map[string]interface{}{"key": key}, nil)
}

// ListAgents returns the gateway's registered agent ids.
func ListAgents(ctx context.Context, caller Caller) ([]string, error) {
	var result struct {
		Agents []struct {
			ID string `json:"id"`
		} `json:"agents"`
	}
	if err := caller.Call(ctx, MethodAgentsList, nil, &result); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(result.Agents))
	for _, a := range result.Agents {
		ids = append(ids, a.ID)
	}
	return ids, nil
}

// GetAgentFile reads one workspace file; a not-found rejection yields
// ("", false, nil).
func GetAgentFile(ctx context.Context, caller Caller, agentID, name string) (string, bool, error) {
	params := map[string]interface{}{"agentId": agentID, "name": name}
	var result struct {
		Content string `json:"content"`
	}
	err := caller.Call(ctx, MethodAgentsFileGet, params, &result)
	if err == nil {
		return result.Content, true, nil
	}
	var methodErr *MethodError
	if AsMethodError(err, &methodErr) {
		msg := strings.ToLower(methodErr.Message)
		if strings.Contains(msg, "not found") || strings.Contains(msg, "no such file") {
			return "", false, nil
		}
	}
	return "", false, err
}

// SetAgentFile writes one workspace file.
func SetAgentFile(ctx context.Context, caller Caller, agentID, name, content string) error {
	params := map[string]interface{}{"agentId": agentID, "name": name, "content": content}
	return caller.Call(ctx, MethodAgentsFileSet, params, nil)
}

// ListAgentFiles returns the file names present in an agent workspace.
func ListAgentFiles(ctx context.Context, caller Caller, agentID string) ([]string, error) {
	var result struct {
		Files []struct {
			Name string `json:"name"`
		} `json:"files"`
	}
	if err := caller.Call(ctx, MethodAgentsFileLst, map[string]interface{}{"agentId": agentID}, &result); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(result.Files))
	for _, f := range result.Files {
		names = append(names, f.Name)
	}
	return names, nil
}

// GetConfig fetches the gateway config document with its patch hash.
func GetConfig(ctx context.Context, caller Caller) (*ConfigSnapshot, error) {
	var snap ConfigSnapshot
	if err := caller.Call(ctx, MethodConfigGet, nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// PatchConfig applies a raw JSON patch against baseHash. A hash
// mismatch surfaces as a MethodError the caller retries after refetch.
func PatchConfig(ctx context.Context, caller Caller, raw []byte, baseHash string) error {
	params := map[string]interface{}{
		"raw":      json.RawMessage(raw),
		"baseHash": baseHash,
	}
	return caller.Call(ctx, MethodConfigPatch, params, nil)
}

// IsHashMismatch reports whether err is a config.patch optimistic
// concurrency rejection.
func IsHashMismatch(err error) bool {
	var methodErr *MethodError
	if !AsMethodError(err, &methodErr) {
		return false
	}
	msg := strings.ToLower(methodErr.Message)
	return strings.Contains(msg, "hash mismatch") ||
		strings.Contains(msg, "hash") && strings.Contains(msg, "stale") ||
		methodErr.Code == "conflict"
}

// UpsertAgentEntries merges entries into config.agents.list by id and
// returns the patched document as raw JSON, preserving everything
// else in the snapshot.
func UpsertAgentEntries(snap *ConfigSnapshot, entries []map[string]interface{}) ([]byte, error) {
	doc := snap.Config
	if doc == nil {
		doc = map[string]interface{}{}
	}
	agents, _ := doc["agents"].(map[string]interface{})
	if agents == nil {
		agents = map[string]interface{}{}
		doc["agents"] = agents
	}
	list, _ := agents["list"].([]interface{})

	for _, entry := range entries {
		id, _ := entry["id"].(string)
		if id == "" {
			return nil, fmt.Errorf("agent entry missing id")
		}
		replaced := false
		for i, existing := range list {
			m, ok := existing.(map[string]interface{})
			if !ok {
				continue
			}
			if m["id"] == id {
				for k, v := range entry {
					m[k] = v
				}
				list[i] = m
				replaced = true
				break
			}
		}
		if !replaced {
			list = append(list, entry)
		}
	}
	agents["list"] = list

	return json.Marshal(doc)
}

// RemoveAgentEntry drops the entry with the given id from
// config.agents.list and returns the patched document.
func RemoveAgentEntry(snap *ConfigSnapshot, id string) ([]byte, error) {
	doc := snap.Config
	if doc == nil {
		doc = map[string]interface{}{}
	}
	if agents, ok := doc["agents"].(map[string]interface{}); ok {
		if list, ok := agents["list"].([]interface{}); ok {
			kept := make([]interface{}, 0, len(list))
			for _, existing := range list {
				if m, ok := existing.(map[string]interface{}); ok && m["id"] == id {
					continue
				}
				kept = append(kept, existing)
			}
			agents["list"] = kept
		}
	}
	return json.Marshal(doc)
}
