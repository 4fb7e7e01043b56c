package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pkosilov/accounts/internal/apperrors"
	"github.com/pkosilov/accounts/internal/models"
	"github.com/pkosilov/accounts/internal/repository"
)

type UserRepo struct {
	DB DBTX
}

const createUser = `-- name: CreateUser
INSERT INTO users (email, username, password_hash, roles)
VALUES ($1, $2, $3, $4)
RETURNING id, created_at, email, username, password_hash, email_confirmed, roles
`

func (r *UserRepo) CreateUser(ctx context.Context, arg repository.CreateUserParams) (models.User, error) {
	roles := arg.Roles
	if len(roles) == 0 {
		roles = []string{"user"}
	}

	rows, _ := r.DB.Query(ctx, createUser, arg.Email, arg.Username, arg.PasswordHash, roles)
	user, err := pgx.CollectOneRow(rows, rowToUser)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgerrcode.IsIntegrityConstraintViolation(pgErr.Code) {
			return user, apperrors.ErrEmailAlreadyExists
		}
	}

	return user, err
}

const getUserByID = `-- name: GetUserByID
SELECT id, created_at, email, username, password_hash, email_confirmed, roles
FROM users
WHERE id = $1
`

func (r *UserRepo) GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error) {
	rows, _ := r.DB.Query(ctx, getUserByID, userID)
	user, err := pgx.CollectOneRow(rows, rowToUser)

	if err != nil && errors.Is(err, pgx.ErrNoRows) {
		return user, apperrors.ErrUserNotFound
	}

	return user, err
}

const getUserByEmail = `-- name: GetUserByEmail
SELECT id, created_at, email, username, password_hash, email_confirmed, roles
FROM users
WHERE email = $1
`

func (r *UserRepo) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	rows, _ := r.DB.Query(ctx, getUserByEmail, email)
	user, err := pgx.CollectOneRow(rows, rowToUser)

	if err != nil && errors.Is(err, pgx.ErrNoRows) {
		return user, apperrors.ErrUserNotFound
	}

	return user, err
}

const setEmailConfirmed = `-- name: SetEmailConfirmed
UPDATE users
SET email_confirmed = true
WHERE id = $1
RETURNING id, created_at, email, username, password_hash, email_confirmed, roles
`

func (r *UserRepo) SetEmailConfirmed(ctx context.Context, userID uuid.UUID) (models.User, error) {
	rows, _ := r.DB.Query(ctx, setEmailConfirmed, userID)
	user, err := pgx.CollectOneRow(rows, rowToUser)

	if err != nil && errors.Is(err, pgx.ErrNoRows) {
		return user, apperrors.ErrUserNotFound
	}

	return user, err
}

const updatePasswordHash = `-- name: UpdatePasswordHash
UPDATE users
SET password_hash = $2
WHERE id = $1
RETURNING id, created_at, email, username, password_hash, email_confirmed, roles
`

func (r *UserRepo) UpdatePasswordHash(ctx context.Context, userID uuid.UUID, passwordHash string) (models.User, error) {
	rows, _ := r.DB.Query(ctx, updatePasswordHash, userID, passwordHash)
	user, err := pgx.CollectOneRow(rows, rowToUser)

	if err != nil && errors.Is(err, pgx.ErrNoRows) {
		return user, apperrors.ErrUserNotFound
	}

	return user, err
}

func rowToUser(row pgx.CollectableRow) (models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.CreatedAt, &u.Email, &u.Username, &u.PasswordHash, &u.EmailConfirmed, &u.Roles)
	return u, err
}
