package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/kinbay/kinbay/internal/domain"
	"github.com/kinbay/kinbay/internal/shared"
)

// Service wraps authentication business rules.
type Service struct {
	repo   Repository
	tokens *TokenIssuer
	logger *slog.Logger
	cost   int
	now    func() time.Time
}

// NewService constructs a new Service.
func NewService(repo Repository, tokens *TokenIssuer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, tokens: tokens, logger: logger, cost: bcrypt.DefaultCost, now: time.Now}
}

// Register creates an account with a bcrypt hashed password.
func (s *Service) Register(ctx context.Context, in RegisterInput) (domain.User, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" || strings.TrimSpace(in.Firstname) == "" {
		return domain.User{}, fmt.Errorf("email and firstname are required: %w", shared.ErrInvalidInput)
	}
	if len(in.Password) < 8 {
		return domain.User{}, fmt.Errorf("password must be at least 8 characters: %w", shared.ErrInvalidInput)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}
	account := Account{
		Email:        email,
		Firstname:    strings.TrimSpace(in.Firstname),
		Lastname:     strings.TrimSpace(in.Lastname),
		Address:      strings.TrimSpace(in.Address),
		Phone:        strings.TrimSpace(in.Phone),
		PasswordHash: string(hash),
	}
	id, err := s.repo.Create(ctx, account)
	if err != nil {
		return domain.User{}, err
	}
	s.logger.Info("user registered", slog.Int64("user_id", id))
	return s.Me(ctx, id)
}

// Authenticate validates email/password credentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*Account, error) {
	account, err := s.repo.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, shared.ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	return account, nil
}

// Login authenticates and issues an access and refresh token pair.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	account, err := s.Authenticate(ctx, email, password)
	if err != nil {
		return Session{}, err
	}
	var session Session
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		session, _, err = s.openSession(ctx, tx, account.Public())
		return err
	})
	if err != nil {
		return Session{}, err
	}
	return session, nil
}

// Refresh rotates a refresh token: the presented token is revoked and a new
// pair issued in the same database transaction. Presenting a revoked token
// revokes every session of its owner.
func (s *Service) Refresh(ctx context.Context, raw string) (Session, error) {
	claims, err := s.tokens.ParseRefresh(raw)
	if err != nil {
		return Session{}, err
	}
	user, err := s.Me(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return Session{}, fmt.Errorf("user %d no longer exists: %w", claims.UserID, shared.ErrUnauthorized)
		}
		return Session{}, err
	}

	var (
		session Session
		reused  bool
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		stored, err := s.storedToken(ctx, tx, claims, raw)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		if stored.Revoked() {
			reused = true
			_, err := tx.RevokeAllRefreshTokens(ctx, stored.UserID, now)
			return err
		}
		if !stored.ExpiresAt.After(now) {
			return fmt.Errorf("refresh token expired: %w", shared.ErrUnauthorized)
		}
		var nextID string
		session, nextID, err = s.openSession(ctx, tx, user)
		if err != nil {
			return err
		}
		return tx.RevokeRefreshToken(ctx, stored.ID, nextID, now)
	})
	if err != nil {
		return Session{}, err
	}
	if reused {
		s.logger.Warn("refresh token reuse, all sessions revoked", slog.Int64("user_id", claims.UserID))
		return Session{}, fmt.Errorf("refresh token already used: %w", shared.ErrUnauthorized)
	}
	return session, nil
}

// Logout revokes a single refresh token. Unknown or already revoked tokens
// are treated as logged out.
func (s *Service) Logout(ctx context.Context, raw string) error {
	claims, err := s.tokens.ParseRefresh(raw)
	if err != nil {
		return err
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		stored, err := s.storedToken(ctx, tx, claims, raw)
		if errors.Is(err, errUnknownRefreshToken) {
			return nil
		}
		if err != nil {
			return err
		}
		if stored.Revoked() {
			return nil
		}
		return tx.RevokeRefreshToken(ctx, stored.ID, "", s.now().UTC())
	})
}

// LogoutAll revokes every active refresh token of userID.
func (s *Service) LogoutAll(ctx context.Context, userID int64) (int64, error) {
	var revoked int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		revoked, err = tx.RevokeAllRefreshTokens(ctx, userID, s.now().UTC())
		return err
	})
	if err != nil {
		return 0, err
	}
	s.logger.Info("user logged out everywhere", slog.Int64("user_id", userID), slog.Int64("revoked", revoked))
	return revoked, nil
}

// UpdateProfile applies a partial update to userID. Changing the password
// revokes all refresh tokens.
func (s *Service) UpdateProfile(ctx context.Context, userID int64, in UpdateInput) (domain.User, error) {
	account, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	if in.Email != nil {
		account.Email = strings.ToLower(strings.TrimSpace(*in.Email))
		if account.Email == "" {
			return domain.User{}, fmt.Errorf("email must not be empty: %w", shared.ErrInvalidInput)
		}
	}
	if in.Firstname != nil {
		account.Firstname = strings.TrimSpace(*in.Firstname)
		if account.Firstname == "" {
			return domain.User{}, fmt.Errorf("firstname must not be empty: %w", shared.ErrInvalidInput)
		}
	}
	if in.Lastname != nil {
		account.Lastname = strings.TrimSpace(*in.Lastname)
	}
	if in.Address != nil {
		account.Address = strings.TrimSpace(*in.Address)
	}
	if in.Phone != nil {
		account.Phone = strings.TrimSpace(*in.Phone)
	}
	if in.Password != nil {
		if len(*in.Password) < 8 {
			return domain.User{}, fmt.Errorf("password must be at least 8 characters: %w", shared.ErrInvalidInput)
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(*in.Password), s.cost)
		if err != nil {
			return domain.User{}, fmt.Errorf("hash password: %w", err)
		}
		account.PasswordHash = string(hash)
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdateAccount(ctx, *account); err != nil {
			return err
		}
		if in.Password != nil {
			_, err := tx.RevokeAllRefreshTokens(ctx, userID, s.now().UTC())
			return err
		}
		return nil
	})
	if err != nil {
		return domain.User{}, err
	}
	s.logger.Info("user updated", slog.Int64("user_id", userID), slog.Bool("password_changed", in.Password != nil))
	return s.Me(ctx, userID)
}

var errUnknownRefreshToken = fmt.Errorf("refresh token unknown: %w", shared.ErrUnauthorized)

// storedToken loads and locks the row behind claims and checks it belongs to
// raw.
func (s *Service) storedToken(ctx context.Context, tx TxRepository, claims RefreshClaims, raw string) (*RefreshToken, error) {
	stored, err := tx.GetRefreshTokenForUpdate(ctx, claims.TokenID)
	if errors.Is(err, shared.ErrNotFound) {
		return nil, errUnknownRefreshToken
	}
	if err != nil {
		return nil, err
	}
	if stored.UserID != claims.UserID || stored.TokenHash != hashToken(raw) {
		return nil, fmt.Errorf("refresh token mismatch: %w", shared.ErrUnauthorized)
	}
	return stored, nil
}

func (s *Service) openSession(ctx context.Context, tx TxRepository, user domain.User) (Session, string, error) {
	access, expiresAt, err := s.tokens.Issue(user.ID)
	if err != nil {
		return Session{}, "", fmt.Errorf("issue access token: %w", err)
	}
	tokenID := uuid.NewString()
	refresh, refreshExpiresAt, err := s.tokens.IssueRefresh(user.ID, tokenID)
	if err != nil {
		return Session{}, "", fmt.Errorf("issue refresh token: %w", err)
	}
	err = tx.InsertRefreshToken(ctx, RefreshToken{
		ID:        tokenID,
		UserID:    user.ID,
		TokenHash: hashToken(refresh),
		ExpiresAt: refreshExpiresAt,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return Session{}, "", err
	}
	return Session{
		AccessToken:      access,
		ExpiresAt:        expiresAt,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExpiresAt,
		User:             user,
	}, tokenID, nil
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Me returns the public profile of a live user.
func (s *Service) Me(ctx context.Context, userID int64) (domain.User, error) {
	account, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	return account.Public(), nil
}

// Resolve verifies a bearer token and returns the id of a live user.
func (s *Service) Resolve(ctx context.Context, token string) (int64, error) {
	userID, err := s.tokens.Parse(token)
	if err != nil {
		return 0, err
	}
	if _, err := s.repo.FindByID(ctx, userID); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return 0, fmt.Errorf("user %d no longer exists: %w", userID, shared.ErrUnauthorized)
		}
		return 0, err
	}
	return userID, nil
}
