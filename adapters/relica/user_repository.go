package relica

import (
	"context"
	"database/sql"
	"errors"

	broker "github.com/coregx/broker"
	"github.com/coregx/broker/model"
	"github.com/coregx/relica"
)

// UserRepository implements broker.UserRepository using Relica.
type UserRepository struct {
	db          *relica.DB
	tablePrefix string
}

// NewUserRepository creates a new UserRepository with default table prefix.
func NewUserRepository(sqlDB *sql.DB, driverName string) *UserRepository {
	return &UserRepository{db: relica.WrapDB(sqlDB, driverName), tablePrefix: defaultPrefix}
}

// NewUserRepositoryWithPrefix creates a new UserRepository with custom table prefix.
func NewUserRepositoryWithPrefix(sqlDB *sql.DB, driverName, prefix string) *UserRepository {
	return &UserRepository{db: relica.WrapDB(sqlDB, driverName), tablePrefix: prefix}
}

func (r *UserRepository) tableName() string {
	return r.tablePrefix + "user"
}

// Save creates a new account. The username column carries a unique index; a
// duplicate insert surfaces as a database error.
func (r *UserRepository) Save(ctx context.Context, u model.User) (model.User, error) {
	err := r.db.WithContext(ctx).Model(&u).Table(r.tableName()).Insert()
	if err != nil {
		return u, broker.NewErrorWithCause(broker.ErrCodeDatabase, "failed to insert user", err)
	}
	return u, nil
}

// FindByUsername retrieves an account by username.
func (r *UserRepository) FindByUsername(ctx context.Context, username string) (model.User, error) {
	var u model.User
	err := r.db.WithContext(ctx).Select("*").From(r.tableName()).Where("username = ?", username).One(&u)
	if errors.Is(err, sql.ErrNoRows) {
		return u, broker.ErrNoData
	}
	if err != nil {
		return u, broker.NewErrorWithCause(broker.ErrCodeDatabase, "failed to find user by username", err)
	}
	return u, nil
}
