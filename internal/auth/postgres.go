package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"warden.org/internal/ids"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL. The refresh-token swap maps to
// a conditional update, so the store's own atomicity carries the
// compare-and-set the rotation protocol relies on.
type PGStore struct {
	db *sql.DB
}

// Open connects to PostgreSQL with pool settings tuned for the API.
func Open(dsn string) (*PGStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &PGStore{db: db}, nil
}

// NewPGStore wraps an existing connection (tests use sqlmock here).
func NewPGStore(db *sql.DB) *PGStore { return &PGStore{db: db} }

func (s *PGStore) Close() error { return s.db.Close() }

func (s *PGStore) DB() *sql.DB { return s.db }

func (s *PGStore) Users() UserStore                 { return &pgUsers{db: s.db} }
func (s *PGStore) Roles() RoleStore                 { return &pgRoles{db: s.db} }
func (s *PGStore) RevokedTokens() RevokedTokenStore { return &pgRevoked{db: s.db} }

// Users ---------------------------------------------------------------

type pgUsers struct{ db *sql.DB }

const userColumns = `id, username, email, password_hash, role_id, status, verified,
	coalesce(refresh_token, ''), coalesce(reset_token_hash, ''),
	coalesce(reset_token_expires_at, 'epoch'::timestamptz), created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.RoleID, &u.Status,
		&u.Verified, &u.RefreshToken, &u.ResetHash, &u.ResetExpires, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (s *pgUsers) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into users(id, username, email, password_hash, role_id, status, verified)
		 values($1,$2,$3,$4,$5,$6,$7)`,
		u.ID, u.Username, u.Email, u.PasswordHash, u.RoleID, u.Status, u.Verified,
	)
	// A concurrent registration can slip past the pre-check and land on the
	// email unique constraint.
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrEmailTaken
	}
	return err
}

func (s *pgUsers) Find(ctx context.Context, id string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1`, id))
}

func (s *pgUsers) FindByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where email=$1`, email))
}

func (s *pgUsers) List(ctx context.Context) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+userColumns+` from users order by created_at asc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

func (s *pgUsers) SetRefreshToken(ctx context.Context, id, value string) error {
	return s.execOne(ctx,
		`update users set refresh_token=$2, updated_at=now() where id=$1`,
		ErrNotFound, id, value)
}

func (s *pgUsers) SwapRefreshToken(ctx context.Context, id, previous, value string) error {
	// Zero rows means the slot no longer holds the presented value: a
	// concurrent rotation won, or the slot was cleared.
	return s.execOne(ctx,
		`update users set refresh_token=$3, updated_at=now()
		 where id=$1 and refresh_token=$2`,
		ErrRefreshMismatch, id, previous, value)
}

func (s *pgUsers) ClearRefreshToken(ctx context.Context, id string) error {
	return s.execOne(ctx,
		`update users set refresh_token=null, updated_at=now() where id=$1`,
		ErrNotFound, id)
}

func (s *pgUsers) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	return s.execOne(ctx,
		`update users set password_hash=$2, updated_at=now() where id=$1`,
		ErrNotFound, id, passwordHash)
}

func (s *pgUsers) SetResetToken(ctx context.Context, id, hash string, expires time.Time) error {
	return s.execOne(ctx,
		`update users set reset_token_hash=$2, reset_token_expires_at=$3, updated_at=now() where id=$1`,
		ErrNotFound, id, hash, expires)
}

func (s *pgUsers) ConsumeResetToken(ctx context.Context, hash string, now time.Time) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`update users set reset_token_hash=null, reset_token_expires_at=null, updated_at=now()
		 where reset_token_hash=$1 and reset_token_expires_at > $2
		 returning `+userColumns, hash, now))
}

func (s *pgUsers) MarkVerified(ctx context.Context, id string) error {
	return s.execOne(ctx,
		`update users set verified=true, updated_at=now() where id=$1`,
		ErrNotFound, id)
}

func (s *pgUsers) execOne(ctx context.Context, query string, zeroRows error, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return zeroRows
	}
	return nil
}

// Roles ---------------------------------------------------------------

type pgRoles struct{ db *sql.DB }

func scanRole(row interface{ Scan(...any) error }) (*Role, error) {
	var (
		r     Role
		perms []byte
	)
	if err := row.Scan(&r.ID, &r.Name, &perms, &r.CreatedAt, &r.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	_ = json.Unmarshal(perms, &r.Permissions)
	return &r, nil
}

func (s *pgRoles) Find(ctx context.Context, id string) (*Role, error) {
	return scanRole(s.db.QueryRowContext(ctx,
		`select id, name, permissions, created_at, updated_at from roles where id=$1`, id))
}

func (s *pgRoles) FindByName(ctx context.Context, name string) (*Role, error) {
	return scanRole(s.db.QueryRowContext(ctx,
		`select id, name, permissions, created_at, updated_at from roles where name=$1`, name))
}

func (s *pgRoles) Ensure(ctx context.Context, roles []Role) error {
	for _, role := range roles {
		perms, err := json.Marshal(role.Permissions)
		if err != nil {
			return err
		}
		id := role.ID
		if id == "" {
			id = ids.New()
		}
		if _, err := s.db.ExecContext(ctx,
			`insert into roles(id, name, permissions) values($1,$2,$3)
			 on conflict (name) do nothing`,
			id, role.Name, perms,
		); err != nil {
			return err
		}
	}
	return nil
}

// Revocation ledger ---------------------------------------------------

type pgRevoked struct{ db *sql.DB }

func (s *pgRevoked) Revoke(ctx context.Context, token, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`insert into revoked_tokens(token, user_id, created_at) values($1,$2,now())
		 on conflict (token) do nothing`,
		token, userID,
	)
	return err
}

func (s *pgRevoked) IsRevoked(ctx context.Context, token string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`select exists(select 1 from revoked_tokens where token=$1)`, token,
	).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (s *pgRevoked) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from revoked_tokens where created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
