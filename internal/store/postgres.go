package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/capitalize-ai/agent-platform/internal/model"
)

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultPostgresConfig returns default pool settings.
func DefaultPostgresConfig(dsn string) PostgresConfig {
	return PostgresConfig{
		DSN:             dsn,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// Schema creates the tables used by PostgresStore.
const Schema = `
CREATE TABLE IF NOT EXISTS tenants (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	slug       TEXT NOT NULL UNIQUE,
	plan       TEXT NOT NULL,
	settings   JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS agents (
	id          TEXT PRIMARY KEY,
	tenant_id   TEXT NOT NULL REFERENCES tenants(id),
	name        TEXT NOT NULL,
	slug        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	config      JSONB NOT NULL,
	status      TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL,
	UNIQUE (tenant_id, slug)
);
CREATE TABLE IF NOT EXISTS chats (
	id         TEXT PRIMARY KEY,
	tenant_id  TEXT NOT NULL REFERENCES tenants(id),
	agent_id   TEXT NOT NULL,
	visitor_id TEXT NOT NULL DEFAULT '',
	metadata   JSONB,
	status     TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chats_tenant_created ON chats (tenant_id, created_at);
CREATE TABLE IF NOT EXISTS messages (
	chat_id    TEXT NOT NULL REFERENCES chats(id),
	id         TEXT NOT NULL,
	position   INTEGER NOT NULL,
	role       TEXT NOT NULL,
	parts      JSONB NOT NULL,
	metadata   JSONB,
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (chat_id, id)
);
CREATE TABLE IF NOT EXISTS knowledge_chunks (
	id                  TEXT PRIMARY KEY,
	tenant_id           TEXT NOT NULL,
	knowledge_source_id TEXT NOT NULL,
	content             TEXT NOT NULL,
	embedding           REAL[] NOT NULL,
	embedding_model     TEXT NOT NULL,
	chunk_index         INTEGER NOT NULL,
	page_number         INTEGER,
	start_char          INTEGER NOT NULL,
	end_char            INTEGER NOT NULL,
	created_at          TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunks_scope ON knowledge_chunks (tenant_id, knowledge_source_id);
`

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool and ensures the schema exists.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an existing connection without touching the schema.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// DB returns the underlying connection pool.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// GetTenant retrieves a tenant by ID.
func (s *PostgresStore) GetTenant(ctx context.Context, id string) (*model.Tenant, error) {
	var t model.Tenant
	var settings []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, slug, plan, settings, created_at, updated_at FROM tenants WHERE id = $1`, id,
	).Scan(&t.ID, &t.Name, &t.Slug, &t.Plan, &settings, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	if err := json.Unmarshal(settings, &t.Settings); err != nil {
		return nil, fmt.Errorf("failed to decode tenant settings: %w", err)
	}
	return &t, nil
}

// CreateTenant stores a new tenant.
func (s *PostgresStore) CreateTenant(ctx context.Context, t *model.Tenant) error {
	settings, err := json.Marshal(t.Settings)
	if err != nil {
		return fmt.Errorf("failed to encode tenant settings: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tenants (id, name, slug, plan, settings, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.Name, t.Slug, t.Plan, settings, t.CreatedAt, t.UpdatedAt)
	return uniqueViolation(err)
}

// UpdateTenant overwrites an existing tenant.
func (s *PostgresStore) UpdateTenant(ctx context.Context, t *model.Tenant) error {
	settings, err := json.Marshal(t.Settings)
	if err != nil {
		return fmt.Errorf("failed to encode tenant settings: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE tenants SET name = $2, slug = $3, plan = $4, settings = $5, updated_at = $6 WHERE id = $1`,
		t.ID, t.Name, t.Slug, t.Plan, settings, t.UpdatedAt)
	return affectedOne(res, err)
}

const agentColumns = `id, tenant_id, name, slug, description, config, status, created_at, updated_at`

// GetAgent retrieves an agent by ID.
func (s *PostgresStore) GetAgent(ctx context.Context, id string) (*model.Agent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1`, id)
	a, err := scanAgent(row)
	if err != nil {
		return nil, notFound(err)
	}
	return a, nil
}

// ListAgentsByTenant returns the tenant's agents ordered by creation time.
func (s *PostgresStore) ListAgentsByTenant(ctx context.Context, tenantID string) ([]model.Agent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE tenant_id = $1 ORDER BY created_at, id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer rows.Close()

	var out []model.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// CreateAgent stores a new agent.
func (s *PostgresStore) CreateAgent(ctx context.Context, a *model.Agent) error {
	cfg, err := json.Marshal(a.Config)
	if err != nil {
		return fmt.Errorf("failed to encode agent config: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO agents (`+agentColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.TenantID, a.Name, a.Slug, a.Description, cfg, a.Status, a.CreatedAt, a.UpdatedAt)
	return uniqueViolation(err)
}

// UpdateAgent overwrites an existing agent. tenant_id is never updated.
func (s *PostgresStore) UpdateAgent(ctx context.Context, a *model.Agent) error {
	cfg, err := json.Marshal(a.Config)
	if err != nil {
		return fmt.Errorf("failed to encode agent config: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE agents SET name = $2, slug = $3, description = $4, config = $5, status = $6, updated_at = $7 WHERE id = $1`,
		a.ID, a.Name, a.Slug, a.Description, cfg, a.Status, a.UpdatedAt)
	return affectedOne(res, uniqueViolation(err))
}

// DeleteAgent removes an agent.
func (s *PostgresStore) DeleteAgent(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE id = $1`, id)
	return affectedOne(res, err)
}

const chatColumns = `id, tenant_id, agent_id, visitor_id, metadata, status, created_at, updated_at`

// GetChat retrieves a chat by ID.
func (s *PostgresStore) GetChat(ctx context.Context, id string) (*model.Chat, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+chatColumns+` FROM chats WHERE id = $1`, id)
	c, err := scanChat(row)
	if err != nil {
		return nil, notFound(err)
	}
	return c, nil
}

// CreateChat stores a new chat.
func (s *PostgresStore) CreateChat(ctx context.Context, c *model.Chat) error {
	md, err := marshalNullable(c.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO chats (`+chatColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.TenantID, c.AgentID, c.VisitorID, md, c.Status, c.CreatedAt, c.UpdatedAt)
	return uniqueViolation(err)
}

// ListChatsByTenant returns the tenant's chats ordered by creation time.
func (s *PostgresStore) ListChatsByTenant(ctx context.Context, tenantID string) ([]model.Chat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chatColumns+` FROM chats WHERE tenant_id = $1 ORDER BY created_at, id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	defer rows.Close()

	var out []model.Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// CountChatsSince counts the tenant's chats created at or after since.
func (s *PostgresStore) CountChatsSince(ctx context.Context, tenantID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chats WHERE tenant_id = $1 AND created_at >= $2`, tenantID, since,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count chats: %w", err)
	}
	return n, nil
}

// TouchChat sets the chat's updated_at.
func (s *PostgresStore) TouchChat(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE chats SET updated_at = $2 WHERE id = $1`, id, at)
	return affectedOne(res, err)
}

// ListMessagesByChat returns the chat's ordered history.
func (s *PostgresStore) ListMessagesByChat(ctx context.Context, chatID string) ([]model.Message, error) {
	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT 1 FROM chats WHERE id = $1`, chatID).Scan(&exists); err != nil {
		return nil, notFound(err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, parts, metadata, created_at FROM messages WHERE chat_id = $1 ORDER BY position`, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		var m model.Message
		var parts, md []byte
		if err := rows.Scan(&m.ID, &m.Role, &parts, &md, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.ChatID = chatID
		if err := json.Unmarshal(parts, &m.Parts); err != nil {
			return nil, fmt.Errorf("failed to decode message parts: %w", err)
		}
		if len(md) > 0 {
			m.Metadata = &model.MessageMetadata{}
			if err := json.Unmarshal(md, m.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode message metadata: %w", err)
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// AppendMessages inserts messages whose ids are not yet stored for the chat.
// The chat row is locked for the duration so positions stay contiguous.
func (s *PostgresStore) AppendMessages(ctx context.Context, chatID string, msgs []model.Message) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT 1 FROM chats WHERE id = $1 FOR UPDATE`, chatID).Scan(&exists); err != nil {
		return 0, notFound(err)
	}

	var pos int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(position), -1) FROM messages WHERE chat_id = $1`, chatID,
	).Scan(&pos); err != nil {
		return 0, fmt.Errorf("failed to read message position: %w", err)
	}

	added := 0
	for _, m := range msgs {
		inserted, err := insertMessage(ctx, tx, chatID, pos+1, m)
		if err != nil {
			return 0, err
		}
		if inserted {
			pos++
			added++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit messages: %w", err)
	}
	return added, nil
}

// ReplaceMessages deletes the chat's history and inserts msgs.
func (s *PostgresStore) ReplaceMessages(ctx context.Context, chatID string, msgs []model.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT 1 FROM chats WHERE id = $1 FOR UPDATE`, chatID).Scan(&exists); err != nil {
		return notFound(err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE chat_id = $1`, chatID); err != nil {
		return fmt.Errorf("failed to truncate messages: %w", err)
	}

	pos := 0
	for _, m := range msgs {
		inserted, err := insertMessage(ctx, tx, chatID, pos, m)
		if err != nil {
			return err
		}
		if inserted {
			pos++
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit messages: %w", err)
	}
	return nil
}

func insertMessage(ctx context.Context, tx *sql.Tx, chatID string, pos int, m model.Message) (bool, error) {
	parts, err := json.Marshal(m.Parts)
	if err != nil {
		return false, fmt.Errorf("failed to encode message parts: %w", err)
	}
	md, err := marshalNullable(m.Metadata)
	if err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO messages (chat_id, id, position, role, parts, metadata, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7) ON CONFLICT (chat_id, id) DO NOTHING`,
		chatID, m.ID, pos, m.Role, parts, md, m.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to insert message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

// ListChunks returns the tenant's chunks for the given sources.
func (s *PostgresStore) ListChunks(ctx context.Context, tenantID string, sourceIDs []string) ([]model.KnowledgeChunk, error) {
	if len(sourceIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, knowledge_source_id, content, embedding, embedding_model, chunk_index, page_number, start_char, end_char, created_at
		 FROM knowledge_chunks WHERE tenant_id = $1 AND knowledge_source_id = ANY($2)
		 ORDER BY knowledge_source_id, chunk_index, id`,
		tenantID, pq.Array(sourceIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	defer rows.Close()

	var out []model.KnowledgeChunk
	for rows.Next() {
		c := model.KnowledgeChunk{TenantID: tenantID}
		var emb pq.Float32Array
		var page sql.NullInt64
		if err := rows.Scan(&c.ID, &c.KnowledgeSourceID, &c.Content, &emb, &c.EmbeddingModel,
			&c.Metadata.ChunkIndex, &page, &c.Metadata.StartChar, &c.Metadata.EndChar, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		c.Embedding = []float32(emb)
		if page.Valid {
			p := int(page.Int64)
			c.Metadata.PageNumber = &p
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ReplaceChunks swaps all chunks of a source in one transaction.
func (s *PostgresStore) ReplaceChunks(ctx context.Context, tenantID, sourceID string, chunks []model.KnowledgeChunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM knowledge_chunks WHERE tenant_id = $1 AND knowledge_source_id = $2`, tenantID, sourceID); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}

	for _, c := range chunks {
		var page any
		if c.Metadata.PageNumber != nil {
			page = *c.Metadata.PageNumber
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO knowledge_chunks (id, tenant_id, knowledge_source_id, content, embedding, embedding_model, chunk_index, page_number, start_char, end_char, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			c.ID, tenantID, sourceID, c.Content, pq.Float32Array(c.Embedding), c.EmbeddingModel,
			c.Metadata.ChunkIndex, page, c.Metadata.StartChar, c.Metadata.EndChar, c.CreatedAt); err != nil {
			return fmt.Errorf("failed to insert chunk: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit chunks: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*model.Agent, error) {
	var a model.Agent
	var cfg []byte
	if err := row.Scan(&a.ID, &a.TenantID, &a.Name, &a.Slug, &a.Description, &cfg, &a.Status, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(cfg, &a.Config); err != nil {
		return nil, fmt.Errorf("failed to decode agent config: %w", err)
	}
	return &a, nil
}

func scanChat(row rowScanner) (*model.Chat, error) {
	var c model.Chat
	var md []byte
	if err := row.Scan(&c.ID, &c.TenantID, &c.AgentID, &c.VisitorID, &md, &c.Status, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	if len(md) > 0 {
		c.Metadata = &model.ChatMetadata{}
		if err := json.Unmarshal(md, c.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode chat metadata: %w", err)
		}
	}
	return &c, nil
}

// marshalNullable encodes v as JSON, or SQL NULL when v is a nil pointer.
func marshalNullable[T any](v *T) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode json column: %w", err)
	}
	return data, nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func affectedOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func uniqueViolation(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrAlreadyExists
	}
	return err
}
