package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/EvertonViniciusav/Invoice-signature-system/internal/core/domain"
	"github.com/EvertonViniciusav/Invoice-signature-system/internal/core/ports"
)

var errInvalidCredentials = errors.New("invalid cpf or password")

type UserUseCase struct {
	repo   ports.UserRepository
	hasher ports.PasswordHasher
	tokens ports.TokenIssuer
}

func NewUserUseCase(repo ports.UserRepository, hasher ports.PasswordHasher, tokens ports.TokenIssuer) *UserUseCase {
	return &UserUseCase{
		repo:   repo,
		hasher: hasher,
		tokens: tokens,
	}
}

func (uc *UserUseCase) Register(ctx context.Context, name, cpf, password string, role domain.Role) (*domain.User, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.TrimSpace(cpf) == "" || password == "" || role == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "register user", errors.New("name, cpf, password and role are required"))
	}
	normalized, err := normalizeCPF(cpf)
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "register user", err)
	}
	if !role.Valid() {
		return nil, domain.WrapError(domain.ErrInvalidInput, "register user", fmt.Errorf("unknown role %q", role))
	}

	hash, err := uc.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &domain.User{
		Name:         name,
		CPF:          normalized,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    time.Now().UTC(),
	}
	if err := uc.repo.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

func (uc *UserUseCase) List(ctx context.Context) ([]domain.User, error) {
	users, err := uc.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

func (uc *UserUseCase) Login(ctx context.Context, cpf, password string) (*domain.Session, error) {
	normalized, err := normalizeCPF(cpf)
	if err != nil || password == "" {
		return nil, domain.WrapError(domain.ErrUnauthorized, "login", errInvalidCredentials)
	}

	user, err := uc.repo.GetByCPF(ctx, normalized)
	if err != nil {
		if domain.IsKind(err, domain.ErrUserNotFound) {
			return nil, domain.WrapError(domain.ErrUnauthorized, "login", errInvalidCredentials)
		}
		return nil, fmt.Errorf("fetch user by cpf: %w", err)
	}
	if err := uc.hasher.Compare(user.PasswordHash, password); err != nil {
		return nil, domain.WrapError(domain.ErrUnauthorized, "login", errInvalidCredentials)
	}

	token, expiresAt, err := uc.tokens.Issue(*user)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &domain.Session{
		Token:     token,
		ExpiresAt: expiresAt,
		User:      *user,
	}, nil
}

// normalizeCPF strips punctuation and requires exactly 11 digits.
func normalizeCPF(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '-', r == ' ':
		default:
			return "", fmt.Errorf("cpf contains invalid character %q", r)
		}
	}
	if b.Len() != 11 {
		return "", fmt.Errorf("cpf must have 11 digits, got %d", b.Len())
	}
	return b.String(), nil
}
