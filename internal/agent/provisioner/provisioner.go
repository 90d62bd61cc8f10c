// Package provisioner turns an agent record into a live gateway
// workspace: a session, a set of rendered identity files, and an entry
// in the gateway's agent registry.
package provisioner

import (
	"context"
	"fmt"
	"strings"

	agentmodels "github.com/pedrohperalta/openclaw-mission-control/internal/agent/models"
	boardmodels "github.com/pedrohperalta/openclaw-mission-control/internal/board/models"
	"github.com/pedrohperalta/openclaw-mission-control/internal/common/logger"
	"github.com/pedrohperalta/openclaw-mission-control/internal/common/stringutil"
	gatewaymodels "github.com/pedrohperalta/openclaw-mission-control/internal/gateway/models"
	"github.com/pedrohperalta/openclaw-mission-control/pkg/gateway/rpc"
)

// Provision actions.
const (
	ActionCreate = "create"
	ActionUpdate = "update"
)

// Workspace files rewritten on every provision. HEARTBEAT.md is
// rendered from the lead or agent variant.
var overwriteFiles = []string{"AGENTS.md", "SOUL.md", "AUTONOMY.md", "TOOLS.md", "IDENTITY.md", "BOOT.md"}

// Files the agent or user owns at runtime; never overwritten once
// present on the gateway.
var preserveFiles = []string{"SELF.md", "USER.md", "MEMORY.md"}

const registryPatchAttempts = 3

// SessionKey returns the agent's gateway session key: the stored one,
// or agent:<slug>:main derived from the name.
func SessionKey(agent *agentmodels.Agent) string {
	if agent.OpenClawSessionID != nil && *agent.OpenClawSessionID != "" {
		return *agent.OpenClawSessionID
	}
	return "agent:" + stringutil.Slugify(agent.Name) + ":main"
}

// GatewayAgentID derives the registry id from a session key. The
// agent:<slug>:main wrapper is stripped so boards that share display
// names still collide visibly instead of silently overwriting each
// other's workspaces.
func GatewayAgentID(sessionKey string) string {
	key := strings.TrimPrefix(sessionKey, "agent:")
	key = strings.TrimSuffix(key, ":main")
	return stringutil.Slugify(key)
}

// WorkspacePath returns the agent's directory under the gateway root.
func WorkspacePath(gateway *gatewaymodels.Gateway, sessionKey string) string {
	return strings.TrimRight(gateway.WorkspaceRoot, "/") + "/workspace-" + GatewayAgentID(sessionKey)
}

// Input carries everything one provision call needs. Board is nil for
// the gateway main. Token is the plaintext agent token rendered into
// TOOLS.md.
type Input struct {
	Agent          *agentmodels.Agent
	Board          *boardmodels.Board
	Gateway        *gatewaymodels.Gateway
	Token          string
	UserName       string
	BaseURL        string
	Action         string
	ForceBootstrap bool
	ResetSession   bool
}

// Result reports what a provision call produced.
type Result struct {
	SessionKey string
	AgentID    string
	Workspace  string
}

// Provisioner renders workspaces and maintains the gateway registry.
type Provisioner struct {
	log *logger.Logger
}

// New builds a provisioner.
func New(log *logger.Logger) *Provisioner {
	return &Provisioner{log: log}
}

// Provision creates or updates a board agent's gateway workspace.
func (p *Provisioner) Provision(ctx context.Context, caller rpc.Caller, in Input) (*Result, error) {
	if !in.Gateway.Provisionable() {
		return nil, fmt.Errorf("gateway %s is missing url, main session key, or workspace root", in.Gateway.ID)
	}

	key := SessionKey(in.Agent)
	agentID := GatewayAgentID(key)
	workspace := WorkspacePath(in.Gateway, key)

	if in.ResetSession && in.Action == ActionUpdate {
		if err := rpc.ResetSession(ctx, caller, key); err != nil {
			p.log.WithError(err).WithAgentID(in.Agent.ID).Warn("session reset failed, continuing")
		}
	}
	if _, err := rpc.EnsureSession(ctx, caller, key, in.Agent.Name); err != nil {
		return nil, fmt.Errorf("ensure session %s: %w", key, err)
	}

	vars := p.boardVars(in, key, workspace)
	files, err := p.renderBoardFiles(in, vars)
	if err != nil {
		return nil, err
	}
	if err := p.writeFiles(ctx, caller, agentID, files, in.ForceBootstrap || in.Action == ActionCreate); err != nil {
		return nil, err
	}

	hb := in.Agent.Heartbeat()
	entry := map[string]interface{}{
		"id":        agentID,
		"workspace": workspace,
		"heartbeat": map[string]interface{}{"every": hb.Every, "target": hb.Target},
	}
	if err := p.patchRegistry(ctx, caller, []map[string]interface{}{entry}); err != nil {
		return nil, err
	}

	return &Result{SessionKey: key, AgentID: agentID, Workspace: workspace}, nil
}

// ProvisionMain provisions the gateway-wide main agent with the MAIN
// template set against the deployment-configured main session key.
func (p *Provisioner) ProvisionMain(ctx context.Context, caller rpc.Caller, in Input) (*Result, error) {
	if !in.Gateway.Provisionable() {
		return nil, fmt.Errorf("gateway %s is missing url, main session key, or workspace root", in.Gateway.ID)
	}

	key := in.Gateway.MainSessionKey
	agentID := GatewayAgentID(key)
	workspace := WorkspacePath(in.Gateway, key)

	if _, err := rpc.EnsureSession(ctx, caller, key, in.Agent.Name); err != nil {
		return nil, fmt.Errorf("ensure main session %s: %w", key, err)
	}

	vars := p.boardVars(in, key, workspace)
	files, err := p.renderMainFiles(in, vars)
	if err != nil {
		return nil, err
	}
	if err := p.writeFiles(ctx, caller, agentID, files, in.ForceBootstrap || in.Action == ActionCreate); err != nil {
		return nil, err
	}

	hb := in.Agent.Heartbeat()
	entry := map[string]interface{}{
		"id":        agentID,
		"workspace": workspace,
		"heartbeat": map[string]interface{}{"every": hb.Every, "target": hb.Target},
	}
	if err := p.patchRegistry(ctx, caller, []map[string]interface{}{entry}); err != nil {
		return nil, err
	}

	return &Result{SessionKey: key, AgentID: agentID, Workspace: workspace}, nil
}

// Cleanup removes the agent from the gateway registry and deletes its
// session. It returns the workspace path so the caller can log it.
func (p *Provisioner) Cleanup(ctx context.Context, caller rpc.Caller, agent *agentmodels.Agent, gateway *gatewaymodels.Gateway) (string, error) {
	key := SessionKey(agent)
	agentID := GatewayAgentID(key)
	workspace := WorkspacePath(gateway, key)

	for attempt := 0; attempt < registryPatchAttempts; attempt++ {
		snap, err := rpc.GetConfig(ctx, caller)
		if err != nil {
			return workspace, fmt.Errorf("fetch gateway config: %w", err)
		}
		raw, err := rpc.RemoveAgentEntry(snap, agentID)
		if err != nil {
			return workspace, err
		}
		err = rpc.PatchConfig(ctx, caller, raw, snap.Hash)
		if err == nil {
			break
		}
		if rpc.IsHashMismatch(err) && attempt < registryPatchAttempts-1 {
			continue
		}
		return workspace, fmt.Errorf("remove agent from registry: %w", err)
	}

	if err := rpc.DeleteSession(ctx, caller, key); err != nil {
		p.log.WithError(err).WithAgentID(agent.ID).Warn("session delete failed during cleanup")
	}
	return workspace, nil
}

// ApplyHeartbeats upserts heartbeat entries for all given agents in a
// single config.patch call.
func (p *Provisioner) ApplyHeartbeats(ctx context.Context, caller rpc.Caller, gateway *gatewaymodels.Gateway, agents []*agentmodels.Agent) error {
	entries := make([]map[string]interface{}, 0, len(agents))
	for _, agent := range agents {
		key := SessionKey(agent)
		hb := agent.Heartbeat()
		entries = append(entries, map[string]interface{}{
			"id":        GatewayAgentID(key),
			"workspace": WorkspacePath(gateway, key),
			"heartbeat": map[string]interface{}{"every": hb.Every, "target": hb.Target},
		})
	}
	if len(entries) == 0 {
		return nil
	}
	return p.patchRegistry(ctx, caller, entries)
}

func (p *Provisioner) boardVars(in Input, key, workspace string) templateVars {
	vars := templateVars{
		AgentName:      in.Agent.Name,
		Role:           in.Agent.Role(),
		BaseURL:        strings.TrimRight(in.BaseURL, "/"),
		AuthToken:      in.Token,
		SessionKey:     key,
		Workspace:      workspace,
		UserName:       in.UserName,
		GatewayName:    in.Gateway.Name,
		HeartbeatEvery: in.Agent.Heartbeat().Every,
		IsLead:         in.Agent.IsBoardLead,
	}
	if in.Board != nil {
		vars.BoardID = in.Board.ID
		vars.BoardName = in.Board.Name
		vars.Objective = in.Board.Objective
	}
	return vars
}

// renderedFile pairs a workspace file name with content and its
// overwrite policy.
type renderedFile struct {
	name        string
	content     string
	presentOnce bool
	preserve    bool
}

func (p *Provisioner) renderBoardFiles(in Input, vars templateVars) ([]renderedFile, error) {
	var files []renderedFile
	for _, name := range overwriteFiles {
		override := ""
		if name == "SOUL.md" && in.Agent.SoulTemplate != nil {
			override = *in.Agent.SoulTemplate
		}
		if name == "IDENTITY.md" && in.Agent.IdentityTemplate != nil {
			override = *in.Agent.IdentityTemplate
		}
		content, err := render(name, override, vars)
		if err != nil {
			return nil, err
		}
		files = append(files, renderedFile{name: name, content: content})
	}

	hbTemplate := "HEARTBEAT_AGENT.md"
	if in.Agent.IsBoardLead {
		hbTemplate = "HEARTBEAT_LEAD.md"
	}
	hb, err := render(hbTemplate, "", vars)
	if err != nil {
		return nil, err
	}
	files = append(files, renderedFile{name: "HEARTBEAT.md", content: hb})

	bootstrap, err := render("BOOTSTRAP.md", "", vars)
	if err != nil {
		return nil, err
	}
	files = append(files, renderedFile{name: "BOOTSTRAP.md", content: bootstrap, presentOnce: true})

	for _, name := range preserveFiles {
		content, err := render(name, "", vars)
		if err != nil {
			return nil, err
		}
		files = append(files, renderedFile{name: name, content: content, preserve: true})
	}
	return files, nil
}

func (p *Provisioner) renderMainFiles(in Input, vars templateVars) ([]renderedFile, error) {
	var files []renderedFile
	for _, name := range overwriteFiles {
		content, err := render("MAIN_"+name, "", vars)
		if err != nil {
			return nil, err
		}
		files = append(files, renderedFile{name: name, content: content})
	}
	hb, err := render("MAIN_HEARTBEAT.md", "", vars)
	if err != nil {
		return nil, err
	}
	files = append(files, renderedFile{name: "HEARTBEAT.md", content: hb})

	bootstrap, err := render("MAIN_BOOTSTRAP.md", "", vars)
	if err != nil {
		return nil, err
	}
	files = append(files, renderedFile{name: "BOOTSTRAP.md", content: bootstrap, presentOnce: true})

	for _, name := range preserveFiles {
		content, err := render(name, "", vars)
		if err != nil {
			return nil, err
		}
		files = append(files, renderedFile{name: name, content: content, preserve: true})
	}
	return files, nil
}

// writeFiles pushes rendered files to the gateway honouring the
// overwrite policy. Preserve files are skipped when already present;
// the present-once bootstrap is written only on first provision unless
// forced. Gateways that reject a file name with "unsupported file" are
// tolerated for preserve files.
func (p *Provisioner) writeFiles(ctx context.Context, caller rpc.Caller, agentID string, files []renderedFile, writeBootstrap bool) error {
	existing := map[string]bool{}
	if names, err := rpc.ListAgentFiles(ctx, caller, agentID); err == nil {
		for _, name := range names {
			existing[name] = true
		}
	} else {
		p.log.WithError(err).Debug("agent file listing unavailable, falling back to per-file reads")
		for _, f := range files {
			if !f.preserve && !f.presentOnce {
				continue
			}
			if _, found, getErr := rpc.GetAgentFile(ctx, caller, agentID, f.name); getErr == nil && found {
				existing[f.name] = true
			}
		}
	}

	for _, f := range files {
		if f.preserve && existing[f.name] {
			continue
		}
		if f.presentOnce && existing[f.name] && !writeBootstrap {
			continue
		}
		if err := rpc.SetAgentFile(ctx, caller, agentID, f.name, f.content); err != nil {
			if f.preserve && isUnsupportedFile(err) {
				p.log.WithError(err).Debugf("gateway rejected %s, skipping", f.name)
				continue
			}
			return fmt.Errorf("write %s: %w", f.name, err)
		}
	}
	return nil
}

func isUnsupportedFile(err error) bool {
	var methodErr *rpc.MethodError
	return rpc.AsMethodError(err, &methodErr) &&
		strings.Contains(strings.ToLower(methodErr.Message), "unsupported file")
}

// patchRegistry applies the upsert against the current config hash,
// refetching and retrying on optimistic concurrency rejections.
func (p *Provisioner) patchRegistry(ctx context.Context, caller rpc.Caller, entries []map[string]interface{}) error {
	var lastErr error
	for attempt := 0; attempt < registryPatchAttempts; attempt++ {
		snap, err := rpc.GetConfig(ctx, caller)
		if err != nil {
			return fmt.Errorf("fetch gateway config: %w", err)
		}
		raw, err := rpc.UpsertAgentEntries(snap, entries)
		if err != nil {
			return err
		}
		err = rpc.PatchConfig(ctx, caller, raw, snap.Hash)
		if err == nil {
			return nil
		}
		lastErr = err
		if !rpc.IsHashMismatch(err) {
			break
		}
	}
	return fmt.Errorf("patch gateway registry: %w", lastErr)
}
