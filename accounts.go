package broker

import (
	"context"
	"fmt"

	"github.com/coregx/broker/internal/crypto"
	"github.com/coregx/broker/model"
)

// AccountService creates and authenticates broker accounts. Passwords are
// stored as Argon2id hashes; the plaintext never reaches a repository.
type AccountService struct {
	userRepo UserRepository
	logger   Logger
}

// NewAccountService creates an AccountService.
func NewAccountService(userRepo UserRepository, logger Logger) (*AccountService, error) {
	if userRepo == nil {
		return nil, NewError(ErrCodeConfiguration, "UserRepository is required")
	}
	if logger == nil {
		return nil, NewError(ErrCodeConfiguration, "Logger is required")
	}
	return &AccountService{userRepo: userRepo, logger: logger}, nil
}

// Register creates a new account from a REGISTER command.
func (a *AccountService) Register(ctx context.Context, req RegisterRequest) (*model.User, error) {
	if err := req.Validate(); err != nil {
		return nil, NewErrorWithCause(ErrCodeValidation, "invalid registration request", err)
	}

	role, ok := model.ParseRole(req.Role)
	if !ok {
		return nil, NewError(ErrCodeValidation, fmt.Sprintf("unknown role: %s", req.Role))
	}

	hash, err := crypto.HashPassword(req.Password)
	if err != nil {
		return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to hash password", err)
	}

	user, err := a.userRepo.Save(ctx, model.NewUser(req.Username, hash, role))
	if err != nil {
		return nil, NewErrorWithCause(ErrCodeDatabase, "failed to save user", err)
	}

	a.logger.Infof("Registered user %q (id=%d, role=%s)", user.Username, user.ID, user.Role)
	return &user, nil
}

// Authenticate verifies a username/password pair and returns the account.
// Returns ErrNoData for both unknown usernames and wrong passwords so callers
// cannot distinguish the two.
func (a *AccountService) Authenticate(ctx context.Context, username, password string) (*model.User, error) {
	user, err := a.userRepo.FindByUsername(ctx, username)
	if err != nil {
		if IsNoData(err) {
			return nil, ErrNoData
		}
		return nil, NewErrorWithCause(ErrCodeDatabase, "failed to load user", err)
	}

	if !crypto.VerifyPassword(password, user.PasswordHash) {
		return nil, ErrNoData
	}
	return &user, nil
}
