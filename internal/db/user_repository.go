package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

var ErrUserNotFound = errors.New("user not found")
var ErrEmailExists = errors.New("email already exists")

// User is a row of users joined with its credential.
type User struct {
	ID               uuid.UUID
	Email            string
	EmailNormalized  string
	Name             string
	Role             string
	IsActive         bool
	IsPremium        bool
	SubscriptionPlan string
	Phone            string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	Credential       Credential

	// SessionVersion is bumped whenever the password is replaced. Tokens
	// minted under an older version can no longer be refreshed.
	SessionVersion int64
}

// Credential is the stored password verifier. Salt is empty for bcrypt,
// which embeds its own.
type Credential struct {
	Algorithm string
	Salt      []byte
	Hash      []byte
}

type UserRepository struct {
	db *DB
}

func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

const selectUser = `
	SELECT u.id, u.email, u.email_normalized, u.name, u.role, u.is_active, u.is_premium,
	       u.subscription_plan, u.phone, u.created_at, u.updated_at, u.session_version,
	       c.algorithm, c.salt, c.hash
	FROM users u
	JOIN credentials c ON c.user_id = u.id
`

// Create inserts the user and its credential in one transaction.
func (r *UserRepository) Create(ctx context.Context, user *User) error {
	return r.db.WithTx(ctx, func(ctx context.Context, tx DBTX) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO users (id, email, email_normalized, name, role, is_active, is_premium,
			                   subscription_plan, phone, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`,
			user.ID, user.Email, user.EmailNormalized, user.Name, user.Role, user.IsActive, user.IsPremium,
			nullString(user.SubscriptionPlan), nullString(user.Phone), user.CreatedAt, user.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrEmailExists
			}
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO credentials (user_id, algorithm, salt, hash, updated_at)
			VALUES ($1, $2, $3, $4, $5)
		`, user.ID, user.Credential.Algorithm, user.Credential.Salt, user.Credential.Hash, user.UpdatedAt)
		return err
	})
}

// GetByEmail looks a user up by the case-folded email.
func (r *UserRepository) GetByEmail(ctx context.Context, emailNormalized string) (*User, error) {
	return r.scanOne(r.db.QueryRowContext(ctx, selectUser+`WHERE u.email_normalized = $1`, emailNormalized))
}

func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return r.scanOne(r.db.QueryRowContext(ctx, selectUser+`WHERE u.id = $1`, id))
}

func (r *UserRepository) UpdateProfile(ctx context.Context, id uuid.UUID, name, phone string) error {
	query := `
		UPDATE users
		SET name = $2, phone = $3, updated_at = NOW()
		WHERE id = $1
	`
	return r.execOne(ctx, query, id, name, nullString(phone))
}

const updateCredential = `
	UPDATE credentials
	SET algorithm = $2, salt = $3, hash = $4, updated_at = NOW()
	WHERE user_id = $1
`

// UpdateCredential swaps the verifier in place, leaving sessions untouched.
// Used when rehashing the same password.
func (r *UserRepository) UpdateCredential(ctx context.Context, id uuid.UUID, cred Credential) error {
	return r.execOne(ctx, updateCredential, id, cred.Algorithm, cred.Salt, cred.Hash)
}

// ReplaceCredential stores a new password verifier and bumps the user's
// session version in one transaction.
func (r *UserRepository) ReplaceCredential(ctx context.Context, id uuid.UUID, cred Credential) error {
	return r.db.WithTx(ctx, func(ctx context.Context, tx DBTX) error {
		if err := execOne(ctx, tx, updateCredential, id, cred.Algorithm, cred.Salt, cred.Hash); err != nil {
			return err
		}
		return execOne(ctx, tx, `
			UPDATE users
			SET session_version = session_version + 1, updated_at = NOW()
			WHERE id = $1
		`, id)
	})
}

func (r *UserRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	query := `
		UPDATE users
		SET is_active = $2, updated_at = NOW()
		WHERE id = $1
	`
	return r.execOne(ctx, query, id, active)
}

func (r *UserRepository) execOne(ctx context.Context, query string, args ...any) error {
	return execOne(ctx, r.db, query, args...)
}

// execOne runs query and maps zero affected rows to ErrUserNotFound.
func execOne(ctx context.Context, q DBTX, query string, args ...any) error {
	result, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *UserRepository) scanOne(row *sql.Row) (*User, error) {
	user := &User{}
	var plan, phone sql.NullString
	err := row.Scan(
		&user.ID, &user.Email, &user.EmailNormalized, &user.Name, &user.Role, &user.IsActive, &user.IsPremium,
		&plan, &phone, &user.CreatedAt, &user.UpdatedAt, &user.SessionVersion,
		&user.Credential.Algorithm, &user.Credential.Salt, &user.Credential.Hash,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	user.SubscriptionPlan = plan.String
	user.Phone = phone.String
	return user, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
