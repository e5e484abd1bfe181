package postgres

import "context"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS flow_graphs (
    id         TEXT PRIMARY KEY,
    project_id TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS flow_nodes (
    id                TEXT PRIMARY KEY,
    graph_id          TEXT NOT NULL REFERENCES flow_graphs(id) ON DELETE CASCADE,
    action_type       TEXT NOT NULL,
    status            TEXT NOT NULL DEFAULT 'pending',
    label             TEXT NOT NULL DEFAULT '',
    config            JSONB NOT NULL DEFAULT '{}',
    notification_sent BOOLEAN NOT NULL DEFAULT FALSE,
    order_confirmed   BOOLEAN NOT NULL DEFAULT FALSE,
    position_x        DOUBLE PRECISION NOT NULL DEFAULT 0,
    position_y        DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
);

CREATE TABLE IF NOT EXISTS flow_edges (
    id           TEXT PRIMARY KEY,
    graph_id     TEXT NOT NULL REFERENCES flow_graphs(id) ON DELETE CASCADE,
    from_node_id TEXT NOT NULL REFERENCES flow_nodes(id) ON DELETE CASCADE,
    to_node_id   TEXT NOT NULL REFERENCES flow_nodes(id) ON DELETE CASCADE,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
);

CREATE TABLE IF NOT EXISTS projects (
    id            TEXT PRIMARY KEY,
    name          TEXT NOT NULL DEFAULT '',
    owner_id      TEXT NOT NULL DEFAULT '',
    client_name   TEXT NOT NULL DEFAULT '',
    contact_email TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS quotes (
    id         TEXT PRIMARY KEY,
    project_id TEXT NOT NULL,
    status     TEXT NOT NULL,
    created_by TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS quote_lines (
    quote_id    TEXT NOT NULL REFERENCES quotes(id) ON DELETE CASCADE,
    position    INT NOT NULL,
    article_id  TEXT NOT NULL DEFAULT '',
    quantity    DOUBLE PRECISION NOT NULL DEFAULT 0,
    description TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (quote_id, position)
);

CREATE TABLE IF NOT EXISTS invoices (
    id         TEXT PRIMARY KEY,
    project_id TEXT NOT NULL,
    status     TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS invoice_lines (
    invoice_id  TEXT NOT NULL REFERENCES invoices(id) ON DELETE CASCADE,
    position    INT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    quantity    DOUBLE PRECISION NOT NULL DEFAULT 0,
    unit_price  DOUBLE PRECISION NOT NULL DEFAULT 0,
    PRIMARY KEY (invoice_id, position)
);

CREATE TABLE IF NOT EXISTS articles (
    id    TEXT PRIMARY KEY,
    name  TEXT NOT NULL DEFAULT '',
    stock DOUBLE PRECISION NOT NULL DEFAULT 0,
    unit  TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS notifications (
    id         TEXT PRIMARY KEY,
    user_id    TEXT,
    type       TEXT NOT NULL,
    title      TEXT NOT NULL,
    message    TEXT NOT NULL,
    status     TEXT NOT NULL DEFAULT 'unread',
    data       JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
);

CREATE INDEX IF NOT EXISTS idx_flow_nodes_graph_id ON flow_nodes(graph_id);
CREATE INDEX IF NOT EXISTS idx_flow_edges_graph_id ON flow_edges(graph_id);
CREATE INDEX IF NOT EXISTS idx_flow_edges_from     ON flow_edges(from_node_id);
CREATE INDEX IF NOT EXISTS idx_flow_edges_to       ON flow_edges(to_node_id);
CREATE INDEX IF NOT EXISTS idx_quotes_project_id   ON quotes(project_id);
CREATE INDEX IF NOT EXISTS idx_invoices_project_id ON invoices(project_id);
CREATE INDEX IF NOT EXISTS idx_notifications_user  ON notifications(user_id);
`

// CreateSchema creates the graph, record and notification tables if they don't exist.
func (s *PGStore) CreateSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, schemaSQL)
	return err
}

// DropSchema drops every table created by CreateSchema.
func (s *PGStore) DropSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `DROP TABLE IF EXISTS
		flow_edges, flow_nodes, flow_graphs,
		quote_lines, quotes, invoice_lines, invoices,
		articles, projects, notifications CASCADE;`)
	return err
}
