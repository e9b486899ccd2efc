// Package postgres implements the interface for PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/tarancss/chatrelay/lib/store"
)

const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS identities (
	username     TEXT PRIMARY KEY,
	meta_account TEXT NOT NULL UNIQUE,
	xion_address TEXT NOT NULL UNIQUE,
	mnemonic     TEXT NOT NULL,
	sealed       BOOLEAN NOT NULL DEFAULT FALSE,
	created_at   TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS groups (
	group_name      TEXT PRIMARY KEY,
	creator_address TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS group_members (
	id           BIGSERIAL,
	group_name   TEXT NOT NULL REFERENCES groups(group_name) ON DELETE CASCADE,
	xion_address TEXT NOT NULL,
	role         TEXT NOT NULL,
	PRIMARY KEY (group_name, xion_address)
);
CREATE TABLE IF NOT EXISTS messages (
	id        TEXT PRIMARY KEY,
	sender    TEXT NOT NULL,
	recipient TEXT NOT NULL,
	body      TEXT NOT NULL,
	ts        TIMESTAMPTZ NOT NULL,
	tx_hash   TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS provisions (
	id           TEXT PRIMARY KEY,
	username     TEXT NOT NULL,
	meta_account TEXT NOT NULL,
	address      TEXT NOT NULL,
	stage        TEXT NOT NULL,
	status       TEXT NOT NULL,
	fund_tx      TEXT NOT NULL,
	register_tx  TEXT NOT NULL,
	error        TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS analytics (
	id        BIGSERIAL PRIMARY KEY,
	route     TEXT NOT NULL,
	method    TEXT NOT NULL,
	user_meta TEXT NOT NULL,
	ts        TIMESTAMPTZ NOT NULL
);`

// Postgres implements a connection to a PostgreSQL database.
type Postgres struct {
	db *sql.DB
}

// New returns a postgres client connection to the specified database in 'connection' and creates the tables.
func New(connection string) (*Postgres, error) {
	db, err := sql.Open("postgres", connection)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to DB in %s: %w", connection, err)
	}

	if _, err = db.Exec(schema); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("cannot create schema: %w", err)
	}

	return &Postgres{db: db}, nil
}

// ClosePostgres will close any database connection. Must be called at termination time.
func (p *Postgres) ClosePostgres() error {
	return p.db.Close()
}

func isDup(err error) bool {
	var pe *pq.Error

	return errors.As(err, &pe) && pe.Code == uniqueViolation
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}

	return err
}

// AddIdentity inserts a user row.
func (p *Postgres) AddIdentity(ctx context.Context, id store.Identity) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO identities (username, meta_account, xion_address, mnemonic, sealed,
		created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		id.Username, id.MetaAccount, id.Address, id.Mnemonic, id.Sealed, id.CreatedAt)
	if isDup(err) {
		return store.ErrDuplicate
	}

	return err
}

func (p *Postgres) identity(ctx context.Context, column, value string) (id store.Identity, err error) {
	row := p.db.QueryRowContext(ctx, `SELECT username, meta_account, xion_address, mnemonic, sealed, created_at
		FROM identities WHERE `+column+` = $1`, value)
	err = notFound(row.Scan(&id.Username, &id.MetaAccount, &id.Address, &id.Mnemonic, &id.Sealed, &id.CreatedAt))

	return
}

// IdentityByUsername returns the user with username.
func (p *Postgres) IdentityByUsername(ctx context.Context, username string) (store.Identity, error) {
	return p.identity(ctx, "username", username)
}

// IdentityByMetaAccount returns the user with the meta account.
func (p *Postgres) IdentityByMetaAccount(ctx context.Context, meta string) (store.Identity, error) {
	return p.identity(ctx, "meta_account", meta)
}

// IdentityByAddress returns the user owning addr.
func (p *Postgres) IdentityByAddress(ctx context.Context, addr string) (store.Identity, error) {
	return p.identity(ctx, "xion_address", addr)
}

// AddGroup inserts the group and its members in one transaction.
func (p *Postgres) AddGroup(ctx context.Context, g store.Group) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `INSERT INTO groups (group_name, creator_address, created_at) VALUES ($1, $2, $3)`,
		g.Name, g.CreatorAddress, g.CreatedAt)
	if isDup(err) {
		return store.ErrDuplicate
	}

	if err != nil {
		return err
	}

	for _, m := range g.Members {
		if _, err = tx.ExecContext(ctx, `INSERT INTO group_members (group_name, xion_address, role)
			VALUES ($1, $2, $3)`, g.Name, m.Address, string(m.Role)); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (p *Postgres) members(ctx context.Context, g *store.Group) error {
	rows, err := p.db.QueryContext(ctx, `SELECT xion_address, role FROM group_members WHERE group_name = $1
		ORDER BY id`, g.Name)
	if err != nil {
		return err
	}
	defer rows.Close()

	g.Members = []store.Member{}

	for rows.Next() {
		var m store.Member
		if err = rows.Scan(&m.Address, &m.Role); err != nil {
			return err
		}

		g.Members = append(g.Members, m)
	}

	return rows.Err()
}

// GetGroup returns the group called name with its members.
func (p *Postgres) GetGroup(ctx context.Context, name string) (g store.Group, err error) {
	row := p.db.QueryRowContext(ctx, `SELECT group_name, creator_address, created_at FROM groups
		WHERE group_name = $1`, name)
	if err = notFound(row.Scan(&g.Name, &g.CreatorAddress, &g.CreatedAt)); err != nil {
		return
	}

	err = p.members(ctx, &g)

	return
}

// AddMember inserts the member row; the primary key rejects duplicates.
func (p *Postgres) AddMember(ctx context.Context, group string, m store.Member) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO group_members (group_name, xion_address, role)
		SELECT group_name, $2, $3 FROM groups WHERE group_name = $1`, group, m.Address, string(m.Role))
	if isDup(err) {
		return store.ErrDuplicate
	}

	if err != nil {
		return err
	}

	// nothing inserted when the group does not exist
	_, err = p.GetGroup(ctx, group)

	return err
}

// SetRole updates the role of a member.
func (p *Postgres) SetRole(ctx context.Context, group, addr string, role store.Role) error {
	res, err := p.db.ExecContext(ctx, `UPDATE group_members SET role = $3 WHERE group_name = $1 AND xion_address = $2`,
		group, addr, string(role))
	if err != nil {
		return err
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}

	return nil
}

// DeleteGroup removes the group; members are removed by cascade.
func (p *Postgres) DeleteGroup(ctx context.Context, name string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM groups WHERE group_name = $1`, name)
	if err != nil {
		return err
	}

	if n, _ := res.RowsAffected(); n != 1 {
		return store.ErrNotFound
	}

	return nil
}

// GroupsByMember returns the groups addr belongs to.
func (p *Postgres) GroupsByMember(ctx context.Context, addr string) ([]store.Group, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT g.group_name, g.creator_address, g.created_at FROM groups g
		JOIN group_members m ON m.group_name = g.group_name WHERE m.xion_address = $1 ORDER BY g.created_at`, addr)
	if err != nil {
		return nil, err
	}

	gs := []store.Group{}

	for rows.Next() {
		var g store.Group
		if err = rows.Scan(&g.Name, &g.CreatorAddress, &g.CreatedAt); err != nil {
			rows.Close()

			return nil, err
		}

		gs = append(gs, g)
	}

	rows.Close()

	for i := range gs {
		if err = p.members(ctx, &gs[i]); err != nil {
			return nil, err
		}
	}

	return gs, nil
}

// AddMessage inserts msg.
func (p *Postgres) AddMessage(ctx context.Context, m store.ChatMessage) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO messages (id, sender, recipient, body, ts, tx_hash)
		VALUES ($1, $2, $3, $4, $5, $6)`, m.ID, m.From, m.To, m.Body, m.Timestamp, m.TxHash)

	return err
}

// Conversation returns the messages exchanged between a and b, oldest first.
func (p *Postgres) Conversation(ctx context.Context, a, b string) ([]store.ChatMessage, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, sender, recipient, body, ts, tx_hash FROM messages
		WHERE (sender = $1 AND recipient = $2) OR (sender = $2 AND recipient = $1) ORDER BY ts`, a, b)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := []store.ChatMessage{}

	for rows.Next() {
		var m store.ChatMessage
		if err = rows.Scan(&m.ID, &m.From, &m.To, &m.Body, &m.Timestamp, &m.TxHash); err != nil {
			return nil, err
		}

		msgs = append(msgs, m)
	}

	return msgs, rows.Err()
}

// SaveProvision upserts the journal record.
func (p *Postgres) SaveProvision(ctx context.Context, r store.ProvisionRecord) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO provisions (id, username, meta_account, address, stage, status,
		fund_tx, register_tx, error, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET address = $4, stage = $5, status = $6, fund_tx = $7, register_tx = $8,
		error = $9, updated_at = $11`,
		r.ID, r.Username, r.MetaAccount, r.Address, r.Stage, r.Status, r.FundTx, r.RegisterTx, r.Error, r.CreatedAt,
		r.UpdatedAt)

	return err
}

// AddAnalytics inserts e.
func (p *Postgres) AddAnalytics(ctx context.Context, e store.AnalyticsEvent) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO analytics (route, method, user_meta, ts) VALUES ($1, $2, $3, $4)`,
		e.Route, e.Method, e.UserMeta, e.Timestamp)

	return err
}
