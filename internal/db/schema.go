package db

import "github.com/jmoiron/sqlx"

// InitSchema creates all tables and indices if they do not exist.
func InitSchema(writer *sqlx.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS organizations (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL DEFAULT '',
		api_token_hash TEXT,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS members (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL REFERENCES organizations(id),
		user_id TEXT NOT NULL REFERENCES users(id),
		role TEXT NOT NULL DEFAULT 'member',
		board_acl TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL,
		UNIQUE (organization_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS gateways (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL REFERENCES organizations(id),
		name TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL DEFAULT '',
		token TEXT NOT NULL DEFAULT '',
		main_session_key TEXT NOT NULL DEFAULT '',
		workspace_root TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS boards (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL REFERENCES organizations(id),
		gateway_id TEXT REFERENCES gateways(id),
		name TEXT NOT NULL,
		objective TEXT NOT NULL DEFAULT '',
		target_date TIMESTAMP,
		goal_confirmed INTEGER NOT NULL DEFAULT 0,
		onboarding TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		board_id TEXT REFERENCES boards(id),
		name TEXT NOT NULL,
		is_board_lead INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'provisioning',
		openclaw_session_id TEXT,
		heartbeat_config TEXT NOT NULL DEFAULT '{}',
		identity_profile TEXT NOT NULL DEFAULT '{}',
		identity_template TEXT,
		soul_template TEXT,
		agent_token_hash TEXT,
		provision_action TEXT,
		provision_requested_at TIMESTAMP,
		last_seen_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_agents_board_name
		ON agents(board_id, lower(name)) WHERE board_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		board_id TEXT NOT NULL REFERENCES boards(id),
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'inbox',
		priority TEXT NOT NULL DEFAULT 'medium',
		assigned_agent_id TEXT REFERENCES agents(id),
		in_progress_at TIMESTAMP,
		review_at TIMESTAMP,
		done_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_board_status ON tasks(board_id, status);
	CREATE INDEX IF NOT EXISTS idx_tasks_assigned ON tasks(assigned_agent_id);

	CREATE TABLE IF NOT EXISTS task_dependencies (
		task_id TEXT NOT NULL REFERENCES tasks(id),
		depends_on_task_id TEXT NOT NULL REFERENCES tasks(id),
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (task_id, depends_on_task_id)
	);
	CREATE INDEX IF NOT EXISTS idx_task_deps_target ON task_dependencies(depends_on_task_id);

	CREATE TABLE IF NOT EXISTS activity_events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		task_id TEXT,
		agent_id TEXT,
		payload_id TEXT,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_activity_created ON activity_events(created_at);
	CREATE INDEX IF NOT EXISTS idx_activity_payload
		ON activity_events(payload_id) WHERE payload_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_activity_task_comments
		ON activity_events(task_id, created_at) WHERE event_type = 'task.comment';

	CREATE TABLE IF NOT EXISTS board_memory (
		id TEXT PRIMARY KEY,
		board_id TEXT NOT NULL REFERENCES boards(id),
		content TEXT NOT NULL,
		is_chat INTEGER NOT NULL DEFAULT 0,
		source TEXT NOT NULL DEFAULT '',
		tags TEXT NOT NULL DEFAULT '[]',
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_board_memory_lookup
		ON board_memory(board_id, is_chat, created_at);

	CREATE TABLE IF NOT EXISTS approvals (
		id TEXT PRIMARY KEY,
		board_id TEXT NOT NULL REFERENCES boards(id),
		task_id TEXT REFERENCES tasks(id),
		title TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		requested_by_agent_id TEXT REFERENCES agents(id),
		resolved_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_approvals_board ON approvals(board_id, status);

	CREATE TABLE IF NOT EXISTS board_webhooks (
		id TEXT PRIMARY KEY,
		board_id TEXT NOT NULL REFERENCES boards(id),
		name TEXT NOT NULL,
		instruction TEXT NOT NULL DEFAULT '',
		enabled INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS board_webhook_payloads (
		id TEXT PRIMARY KEY,
		webhook_id TEXT NOT NULL REFERENCES board_webhooks(id),
		board_id TEXT NOT NULL REFERENCES boards(id),
		body TEXT NOT NULL,
		content_type TEXT NOT NULL DEFAULT '',
		headers TEXT NOT NULL DEFAULT '{}',
		source_ip TEXT NOT NULL DEFAULT '',
		received_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_webhook_payloads_hook
		ON board_webhook_payloads(webhook_id, received_at);
	`
	_, err := writer.Exec(schema)
	return err
}
