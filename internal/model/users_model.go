package model

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/zeromicro/go-zero/core/stores/sqlc"
	"github.com/zeromicro/go-zero/core/stores/sqlx"
)

// User is the users table row.
type User struct {
	ID       int64   `db:"id"`
	Username string  `db:"username"`
	Points   float64 `db:"points"`
}

var userFields = "id, username, points"

// UsersModel is the persistence surface for the users table.
type UsersModel interface {
	FindOne(ctx context.Context, id int64) (*User, error)
	FindOneByUsername(ctx context.Context, username string) (*User, error)
	// FindOneByUsernameSession reads via an already-open session so it can
	// participate in a locked transaction (see FindOneForUpdate).
	FindOneByUsernameSession(ctx context.Context, session sqlx.Session, username string) (*User, error)
	// FindOneForUpdate locks the row (SELECT ... FOR UPDATE) within session.
	FindOneForUpdate(ctx context.Context, session sqlx.Session, id int64) (*User, error)
	// FindOneByUsernameForUpdate is the username-keyed equivalent, used to
	// acquire the first lock in the engine's fixed lock order.
	FindOneByUsernameForUpdate(ctx context.Context, session sqlx.Session, username string) (*User, error)
	Insert(ctx context.Context, username string, initialPoints float64) (int64, error)
	// GetOrCreate is idempotent: returns the existing row if present,
	// otherwise inserts one with initialPoints, tolerating a race against a
	// concurrent creator via unique-violation fallback.
	GetOrCreate(ctx context.Context, username string, initialPoints float64) (*User, error)
	UpdatePointsSession(ctx context.Context, session sqlx.Session, id int64, points float64) error
	ListVisible(ctx context.Context, usernamePrefixExclude string) ([]*User, error)
}

type usersModel struct {
	conn sqlx.SqlConn
}

// NewUsersModel constructs a UsersModel over conn.
func NewUsersModel(conn sqlx.SqlConn) UsersModel {
	return &usersModel{conn: conn}
}

func (m *usersModel) FindOne(ctx context.Context, id int64) (*User, error) {
	var u User
	query := fmt.Sprintf("select %s from users where id = $1", userFields)
	err := m.conn.QueryRowCtx(ctx, &u, query, id)
	return scanUserResult(&u, err)
}

func (m *usersModel) FindOneByUsername(ctx context.Context, username string) (*User, error) {
	var u User
	query := fmt.Sprintf("select %s from users where username = $1", userFields)
	err := m.conn.QueryRowCtx(ctx, &u, query, username)
	return scanUserResult(&u, err)
}

func (m *usersModel) FindOneByUsernameSession(ctx context.Context, session sqlx.Session, username string) (*User, error) {
	var u User
	query := fmt.Sprintf("select %s from users where username = $1", userFields)
	err := session.QueryRowCtx(ctx, &u, query, username)
	return scanUserResult(&u, err)
}

func (m *usersModel) FindOneForUpdate(ctx context.Context, session sqlx.Session, id int64) (*User, error) {
	var u User
	query := fmt.Sprintf("select %s from users where id = $1 for update", userFields)
	err := session.QueryRowCtx(ctx, &u, query, id)
	return scanUserResult(&u, err)
}

func (m *usersModel) FindOneByUsernameForUpdate(ctx context.Context, session sqlx.Session, username string) (*User, error) {
	var u User
	query := fmt.Sprintf("select %s from users where username = $1 for update", userFields)
	err := session.QueryRowCtx(ctx, &u, query, username)
	return scanUserResult(&u, err)
}

func (m *usersModel) Insert(ctx context.Context, username string, initialPoints float64) (int64, error) {
	query := "insert into users (username, points) values ($1, $2) returning id"
	var id int64
	err := m.conn.QueryRowCtx(ctx, &id, query, username, initialPoints)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrDuplicate
		}
		return 0, err
	}
	return id, nil
}

func (m *usersModel) GetOrCreate(ctx context.Context, username string, initialPoints float64) (*User, error) {
	existing, err := m.FindOneByUsername(ctx, username)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	id, err := m.Insert(ctx, username, initialPoints)
	if err != nil {
		if errors.Is(err, ErrDuplicate) {
			return m.FindOneByUsername(ctx, username)
		}
		return nil, err
	}
	return &User{ID: id, Username: username, Points: initialPoints}, nil
}

func (m *usersModel) UpdatePointsSession(ctx context.Context, session sqlx.Session, id int64, points float64) error {
	_, err := session.ExecCtx(ctx, "update users set points = $1 where id = $2", points, id)
	return err
}

func (m *usersModel) ListVisible(ctx context.Context, usernamePrefixExclude string) ([]*User, error) {
	query := fmt.Sprintf("select %s from users where username not like $1 order by id", userFields)
	var rows []*User
	err := m.conn.QueryRowsCtx(ctx, &rows, query, usernamePrefixExclude+"%")
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func scanUserResult(u *User, err error) (*User, error) {
	if err != nil {
		if errors.Is(err, sqlc.ErrNotFound) || errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return u, nil
}
