package adapter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/deliberation-platform/identity/internal/domain"
	"github.com/deliberation-platform/identity/internal/identity/app"
	"github.com/deliberation-platform/identity/internal/postgres"
)

// pgxDB is the subset of *pgxpool.Pool used by PostgresStore.
type pgxDB interface {
	Exec(ctx context.Context, sql string, args ...any) (postgres.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) postgres.Row
	Query(ctx context.Context, sql string, args ...any) (postgres.Rows, error)
	BeginTx(ctx context.Context, opts postgres.TxOptions) (postgres.Tx, error)
}

// PostgresStore implements every identity storage interface on PostgreSQL.
// Session transitions run in a single transaction; unique violations abort
// it and surface as domain.ErrConflict.
type PostgresStore struct {
	db pgxDB
}

// NewPostgresStore creates a PostgresStore on the given pool.
func NewPostgresStore(db pgxDB) *PostgresStore {
	return &PostgresStore{db: db}
}

var (
	_ app.DeviceStore     = (*PostgresStore)(nil)
	_ app.CredentialStore = (*PostgresStore)(nil)
	_ app.AttemptStore    = (*PostgresStore)(nil)
	_ app.AuthTransactor  = (*PostgresStore)(nil)
)

const attemptColumns = `did_write, auth_type, user_id, code_mac, code_expiry, last_otp_sent_at,
	guess_attempts, pepper_version, phone_hash, last_two_digits, country_calling_code,
	phone_country_code, user_agent, created_at, updated_at`

func startPGSpan(ctx context.Context, name, operation string) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, name)
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", operation),
	)
	return ctx, span
}

// pgError maps driver errors to domain sentinels and records them on the span.
func pgError(span trace.Span, op string, err error) error {
	if constraint, ok := postgres.IsUniqueViolation(err); ok {
		return fmt.Errorf("postgres store: %s: %s violated: %w", op, constraint, domain.ErrConflict)
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return fmt.Errorf("postgres store: %s: %w", op, err)
}

// --- DeviceStore ---

func (s *PostgresStore) GetDevice(ctx context.Context, didWrite string) (*app.DeviceRecord, error) {
	ctx, span := startPGSpan(ctx, "postgres.devices.get", "SELECT")
	defer span.End()

	var d app.DeviceRecord
	err := s.db.QueryRow(ctx, `SELECT did_write, user_id, user_agent, session_expiry, created_at, updated_at
		FROM devices WHERE did_write = $1`, didWrite).
		Scan(&d.DIDWrite, &d.AccountID, &d.UserAgent, &d.SessionExpiry, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, postgres.ErrNoRows) {
		return nil, fmt.Errorf("postgres store: get device: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, pgError(span, "get device", err)
	}
	d.SessionExpiry = d.SessionExpiry.UTC()
	d.CreatedAt = d.CreatedAt.UTC()
	d.UpdatedAt = d.UpdatedAt.UTC()
	return &d, nil
}

func (s *PostgresStore) EndSession(ctx context.Context, didWrite string, at time.Time) error {
	ctx, span := startPGSpan(ctx, "postgres.devices.end_session", "UPDATE")
	defer span.End()

	tag, err := s.db.Exec(ctx, `UPDATE devices SET session_expiry = $2, updated_at = $2 WHERE did_write = $1`,
		didWrite, at.UTC())
	if err != nil {
		return pgError(span, "end session", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres store: end session: %w", domain.ErrNotFound)
	}
	return nil
}

// --- CredentialStore ---

func (s *PostgresStore) GetPhoneCredential(ctx context.Context, phoneHash string) (*app.PhoneCredentialRecord, error) {
	ctx, span := startPGSpan(ctx, "postgres.phone_credentials.get", "SELECT")
	defer span.End()

	var c app.PhoneCredentialRecord
	err := s.db.QueryRow(ctx, `SELECT phone_hash, user_id, pepper_version, country_calling_code,
		phone_country_code, last_two_digits, created_at
		FROM phone_credentials WHERE phone_hash = $1`, phoneHash).
		Scan(&c.PhoneHash, &c.AccountID, &c.PepperVersion, &c.CountryCallingCode,
			&c.PhoneCountryCode, &c.LastTwoDigits, &c.CreatedAt)
	if errors.Is(err, postgres.ErrNoRows) {
		return nil, fmt.Errorf("postgres store: get phone credential: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, pgError(span, "get phone credential", err)
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

func (s *PostgresStore) GetZKPCredential(ctx context.Context, nullifier string) (*app.ZKPCredentialRecord, error) {
	ctx, span := startPGSpan(ctx, "postgres.zkp_credentials.get", "SELECT")
	defer span.End()

	var c app.ZKPCredentialRecord
	err := s.db.QueryRow(ctx, `SELECT nullifier, user_id, citizenship, sex, created_at
		FROM zkp_credentials WHERE nullifier = $1`, nullifier).
		Scan(&c.Nullifier, &c.AccountID, &c.Citizenship, &c.Sex, &c.CreatedAt)
	if errors.Is(err, postgres.ErrNoRows) {
		return nil, fmt.Errorf("postgres store: get zkp credential: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, pgError(span, "get zkp credential", err)
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

// --- AttemptStore ---

// rowScanner is satisfied by both postgres.Row and postgres.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttempt(row rowScanner) (*app.AttemptRecord, error) {
	var (
		a        app.AttemptRecord
		authType string
	)
	err := row.Scan(&a.DIDWrite, &authType, &a.AccountID, &a.CodeMAC, &a.CodeExpiry, &a.LastOTPSentAt,
		&a.GuessAttempts, &a.PepperVersion, &a.PhoneHash, &a.LastTwoDigits, &a.CountryCallingCode,
		&a.PhoneCountryCode, &a.UserAgent, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Type = domain.AuthType(authType)
	a.CodeExpiry = a.CodeExpiry.UTC()
	a.LastOTPSentAt = a.LastOTPSentAt.UTC()
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return &a, nil
}

func (s *PostgresStore) GetAttempt(ctx context.Context, didWrite string) (*app.AttemptRecord, error) {
	ctx, span := startPGSpan(ctx, "postgres.attempts.get", "SELECT")
	defer span.End()

	a, err := scanAttempt(s.db.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM auth_attempts_phone WHERE did_write = $1`, didWrite))
	if errors.Is(err, postgres.ErrNoRows) {
		return nil, fmt.Errorf("postgres store: get attempt: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, pgError(span, "get attempt", err)
	}
	return a, nil
}

func (s *PostgresStore) CreateAttempt(ctx context.Context, r app.AttemptRecord) error {
	ctx, span := startPGSpan(ctx, "postgres.attempts.create", "INSERT")
	defer span.End()

	_, err := s.db.Exec(ctx, `INSERT INTO auth_attempts_phone (`+attemptColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		r.DIDWrite, string(r.Type), r.AccountID, r.CodeMAC, r.CodeExpiry.UTC(), r.LastOTPSentAt.UTC(),
		r.GuessAttempts, r.PepperVersion, r.PhoneHash, r.LastTwoDigits, r.CountryCallingCode,
		r.PhoneCountryCode, r.UserAgent, r.CreatedAt.UTC(), r.UpdatedAt.UTC())
	if err != nil {
		return pgError(span, "create attempt", err)
	}
	return nil
}

func (s *PostgresStore) ReissueCode(ctx context.Context, r app.AttemptRecord) error {
	ctx, span := startPGSpan(ctx, "postgres.attempts.reissue_code", "UPDATE")
	defer span.End()

	tag, err := s.db.Exec(ctx, `UPDATE auth_attempts_phone SET
		auth_type = $2, user_id = $3, code_mac = $4, code_expiry = $5, last_otp_sent_at = $6,
		guess_attempts = $7, pepper_version = $8, phone_hash = $9, last_two_digits = $10,
		country_calling_code = $11, phone_country_code = $12, user_agent = $13, updated_at = $14
		WHERE did_write = $1`,
		r.DIDWrite, string(r.Type), r.AccountID, r.CodeMAC, r.CodeExpiry.UTC(), r.LastOTPSentAt.UTC(),
		r.GuessAttempts, r.PepperVersion, r.PhoneHash, r.LastTwoDigits, r.CountryCallingCode,
		r.PhoneCountryCode, r.UserAgent, r.UpdatedAt.UTC())
	if err != nil {
		return pgError(span, "reissue code", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres store: reissue code: %w", domain.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) RecordWrongGuess(ctx context.Context, didWrite string, at time.Time) (int, error) {
	ctx, span := startPGSpan(ctx, "postgres.attempts.record_wrong_guess", "UPDATE")
	defer span.End()

	var count int
	err := s.db.QueryRow(ctx, `UPDATE auth_attempts_phone
		SET guess_attempts = guess_attempts + 1, updated_at = $2
		WHERE did_write = $1 RETURNING guess_attempts`, didWrite, at.UTC()).Scan(&count)
	if errors.Is(err, postgres.ErrNoRows) {
		return 0, fmt.Errorf("postgres store: record wrong guess: %w", domain.ErrNotFound)
	}
	if err != nil {
		return 0, pgError(span, "record wrong guess", err)
	}
	return count, nil
}

func (s *PostgresStore) ExpireCode(ctx context.Context, didWrite string, at time.Time) error {
	ctx, span := startPGSpan(ctx, "postgres.attempts.expire_code", "UPDATE")
	defer span.End()

	tag, err := s.db.Exec(ctx, `UPDATE auth_attempts_phone SET code_expiry = $2, updated_at = $2 WHERE did_write = $1`,
		didWrite, at.UTC())
	if err != nil {
		return pgError(span, "expire code", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres store: expire code: %w", domain.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) ListAttemptsByPhoneHash(ctx context.Context, phoneHash string) ([]app.AttemptRecord, error) {
	ctx, span := startPGSpan(ctx, "postgres.attempts.list_by_phone_hash", "SELECT")
	defer span.End()

	rows, err := s.db.Query(ctx,
		`SELECT `+attemptColumns+` FROM auth_attempts_phone WHERE phone_hash = $1 ORDER BY created_at`, phoneHash)
	if err != nil {
		return nil, pgError(span, "list attempts", err)
	}
	defer rows.Close()

	var out []app.AttemptRecord
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, pgError(span, "scan attempt", err)
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, pgError(span, "list attempts", err)
	}
	return out, nil
}

// --- username.Checker ---

func (s *PostgresStore) UsernameTaken(ctx context.Context, username string) (bool, error) {
	ctx, span := startPGSpan(ctx, "postgres.users.username_taken", "SELECT")
	defer span.End()

	var taken bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE username = $1)`, username).Scan(&taken)
	if err != nil {
		return false, pgError(span, "username taken", err)
	}
	return taken, nil
}

// --- AuthTransactor ---

// execer is satisfied by the pool and by a transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (postgres.CommandTag, error)
}

func (s *PostgresStore) RegisterWithPhone(ctx context.Context, p app.PhoneRegistration) error {
	return s.inTx(ctx, "register with phone", func(tx postgres.Tx) error {
		if err := insertAccount(ctx, tx, p.Account, p.Device); err != nil {
			return err
		}
		c := p.Credential
		if _, err := tx.Exec(ctx, `INSERT INTO phone_credentials
			(phone_hash, user_id, pepper_version, country_calling_code, phone_country_code, last_two_digits, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			c.PhoneHash, c.AccountID, c.PepperVersion, c.CountryCallingCode, c.PhoneCountryCode,
			c.LastTwoDigits, c.CreatedAt.UTC()); err != nil {
			return fmt.Errorf("insert phone credential: %w", err)
		}
		return retireCode(ctx, tx, p.Device.DIDWrite, p.Code, p.Now)
	})
}

func (s *PostgresStore) RegisterWithZKP(ctx context.Context, p app.ZKPRegistration) error {
	return s.inTx(ctx, "register with zkp", func(tx postgres.Tx) error {
		if err := insertAccount(ctx, tx, p.Account, p.Device); err != nil {
			return err
		}
		c := p.Credential
		if _, err := tx.Exec(ctx, `INSERT INTO zkp_credentials (nullifier, user_id, citizenship, sex, created_at)
			VALUES ($1, $2, $3, $4, $5)`,
			c.Nullifier, c.AccountID, c.Citizenship, c.Sex, c.CreatedAt.UTC()); err != nil {
			return fmt.Errorf("insert zkp credential: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) LoginKnownDevice(ctx context.Context, p app.KnownDeviceLogin) error {
	return s.inTx(ctx, "login known device", func(tx postgres.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE devices SET session_expiry = $2, updated_at = $3 WHERE did_write = $1`,
			p.DIDWrite, p.SessionExpiry.UTC(), p.Now.UTC())
		if err != nil {
			return fmt.Errorf("update device: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("device missing: %w", domain.ErrConflict)
		}
		if p.RetireCode != nil {
			return retireCode(ctx, tx, p.DIDWrite, *p.RetireCode, p.Now)
		}
		return nil
	})
}

func (s *PostgresStore) LoginNewDevice(ctx context.Context, p app.NewDeviceLogin) error {
	return s.inTx(ctx, "login new device", func(tx postgres.Tx) error {
		if err := insertDevice(ctx, tx, p.Device); err != nil {
			return err
		}
		if p.RetireCode != nil {
			return retireCode(ctx, tx, p.Device.DIDWrite, *p.RetireCode, p.Now)
		}
		return nil
	})
}

// inTx runs fn in a transaction. Any error rolls the transaction back.
func (s *PostgresStore) inTx(ctx context.Context, op string, fn func(tx postgres.Tx) error) error {
	ctx, span := startPGSpan(ctx, "postgres.tx."+strings.ReplaceAll(op, " ", "_"), "TRANSACTION")
	defer span.End()

	tx, err := s.db.BeginTx(ctx, postgres.TxOptions{})
	if err != nil {
		return pgError(span, op+": begin", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(tx); err != nil {
		if errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrCodeNotLive) {
			return fmt.Errorf("postgres store: %s: %w", op, err)
		}
		return pgError(span, op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return pgError(span, op+": commit", err)
	}
	return nil
}

func insertAccount(ctx context.Context, tx execer, account app.AccountRecord, device app.DeviceRecord) error {
	if _, err := tx.Exec(ctx, `INSERT INTO users (user_id, username, created_at) VALUES ($1, $2, $3)`,
		account.AccountID, account.Username, account.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return insertDevice(ctx, tx, device)
}

func insertDevice(ctx context.Context, tx execer, d app.DeviceRecord) error {
	if _, err := tx.Exec(ctx, `INSERT INTO devices (did_write, user_id, user_agent, session_expiry, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		d.DIDWrite, d.AccountID, d.UserAgent, d.SessionExpiry.UTC(), d.CreatedAt.UTC(), d.UpdatedAt.UTC()); err != nil {
		return fmt.Errorf("insert device: %w", err)
	}
	return nil
}

// retireCode collapses the code expiry of a device's attempt to at inside a
// transition, provided the attempt still holds the claimed live code. The
// row lock taken by the UPDATE orders it against concurrent guesses.
func retireCode(ctx context.Context, db execer, didWrite string, claim app.CodeClaim, at time.Time) error {
	tag, err := db.Exec(ctx, `UPDATE auth_attempts_phone SET code_expiry = $2, updated_at = $2
		WHERE did_write = $1 AND code_mac = $3 AND code_expiry > $2 AND guess_attempts < $4`,
		didWrite, at.UTC(), claim.CodeMAC, claim.MaxGuessAttempts)
	if err != nil {
		return fmt.Errorf("retire code: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("attempt of %s: %w", didWrite, domain.ErrCodeNotLive)
	}
	return nil
}
