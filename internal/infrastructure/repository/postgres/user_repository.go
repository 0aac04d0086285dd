package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/EvertonViniciusav/Invoice-signature-system/internal/core/domain"
)

type UserRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (r *UserRepository) Create(ctx context.Context, user *domain.User) error {
	createdAt := r.now()
	err := r.db.QueryRowContext(ctx, `
INSERT INTO users (name, cpf, password_hash, role, created_at)
VALUES ($1,$2,$3,$4,$5)
RETURNING id
`, user.Name, user.CPF, user.PasswordHash, string(user.Role), createdAt).Scan(&user.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.WrapError(domain.ErrConflict, "create user", errors.New("cpf already registered"))
		}
		return fmt.Errorf("insert user: %w", err)
	}
	user.CreatedAt = createdAt
	return nil
}

func (r *UserRepository) List(ctx context.Context) ([]domain.User, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, name, cpf, password_hash, role, created_at
FROM users
ORDER BY id ASC
`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	out := make([]domain.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return out, nil
}

func (r *UserRepository) GetByCPF(ctx context.Context, cpf string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, name, cpf, password_hash, role, created_at
FROM users
WHERE cpf = $1
`, cpf)

	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrUserNotFound, "get user", errors.New("no user with this cpf"))
		}
		return nil, err
	}
	return user, nil
}

func scanUser(row rowScanner) (*domain.User, error) {
	var (
		user domain.User
		role string
	)
	if err := row.Scan(&user.ID, &user.Name, &user.CPF, &user.PasswordHash, &role, &user.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	user.Role = domain.Role(role)
	return &user, nil
}
