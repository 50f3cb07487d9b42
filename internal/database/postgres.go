package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"blockpulse/internal/logger"
	"blockpulse/internal/models"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS alerts (
	id                   TEXT PRIMARY KEY,
	user_id              TEXT NOT NULL,
	symbol_id            TEXT NOT NULL,
	name                 TEXT NOT NULL DEFAULT '',
	symbol               TEXT NOT NULL DEFAULT '',
	logo                 TEXT NOT NULL DEFAULT '',
	target_price         DOUBLE PRECISION NOT NULL,
	price_when_alert_set DOUBLE PRECISION NOT NULL,
	alert_mode           TEXT NOT NULL CHECK (alert_mode IN ('once', 'recurring')),
	email                TEXT NOT NULL,
	created_at           TIMESTAMPTZ NOT NULL,
	updated_at           TIMESTAMPTZ,
	UNIQUE (user_id, symbol_id)
);
CREATE INDEX IF NOT EXISTS idx_alerts_symbol_id ON alerts (symbol_id);
CREATE TABLE IF NOT EXISTS email_failures (
	id         TEXT PRIMARY KEY,
	alert_id   TEXT NOT NULL,
	email      TEXT NOT NULL,
	error      TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
`

const alertColumns = `id, user_id, symbol_id, name, symbol, logo, target_price, price_when_alert_set, alert_mode, email, created_at, updated_at`

// PostgresStore keeps alerts in Postgres through lib/pq.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens the connection pool and pings the server.
func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	// Set connection pool parameters
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Log.Info("Database connection established", zap.String("driver", "postgres"))
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an existing pool.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// CreateAlert inserts a new alert into the database
func (s *PostgresStore) CreateAlert(ctx context.Context, alert *models.Alert) error {
	query := `INSERT INTO alerts (` + alertColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := s.db.ExecContext(
		ctx,
		query,
		alert.ID,
		alert.UserID,
		alert.SymbolID,
		alert.Name,
		alert.Symbol,
		alert.Logo,
		alert.TargetPrice,
		alert.PriceWhenAlertSet,
		string(alert.AlertMode),
		alert.Email,
		alert.CreatedAt,
		nullTime(alert.UpdatedAt),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrAlertExists
		}
		logger.Log.Error("Failed to create alert in database",
			zap.String("alert_id", alert.ID),
			zap.Error(err),
		)
		return err
	}

	return nil
}

// GetAlertByID retrieves an alert by its ID
func (s *PostgresStore) GetAlertByID(ctx context.Context, id string) (*models.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE id = $1`

	alert, err := scanAlert(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAlertNotFound
		}
		logger.Log.Error("Failed to retrieve alert",
			zap.String("alert_id", id),
			zap.Error(err),
		)
		return nil, err
	}
	return alert, nil
}

// GetAlertByUserAndSymbol looks an alert up by its (user, coin) key.
func (s *PostgresStore) GetAlertByUserAndSymbol(ctx context.Context, userID, symbolID string) (*models.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE user_id = $1 AND symbol_id = $2`

	alert, err := scanAlert(s.db.QueryRowContext(ctx, query, userID, symbolID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAlertNotFound
		}
		return nil, err
	}
	return alert, nil
}

// GetAlertsByUserID retrieves all alerts for a specific user
func (s *PostgresStore) GetAlertsByUserID(ctx context.Context, userID string) ([]*models.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE user_id = $1 ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		logger.Log.Error("Failed to query alerts by user ID",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return nil, err
	}
	defer rows.Close()

	return scanAlerts(rows)
}

// GetAllAlerts retrieves all alerts
func (s *PostgresStore) GetAllAlerts(ctx context.Context) ([]*models.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		logger.Log.Error("Failed to query all alerts", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	return scanAlerts(rows)
}

// UpdateAlert updates the given columns of an existing alert
func (s *PostgresStore) UpdateAlert(ctx context.Context, id string, update AlertUpdate) error {
	cols, vals := update.fields()
	if len(cols) == 0 {
		return nil
	}

	sets := make([]string, len(cols))
	for i, col := range cols {
		sets[i] = fmt.Sprintf("%s = $%d", col, i+1)
	}
	vals = append(vals, id)
	query := fmt.Sprintf("UPDATE alerts SET %s WHERE id = $%d", strings.Join(sets, ", "), len(vals))

	return s.execAffectingOne(ctx, query, id, vals...)
}

// TouchAlert records the time of the latest recurring notification.
func (s *PostgresStore) TouchAlert(ctx context.Context, id string, at time.Time) error {
	return s.execAffectingOne(ctx, `UPDATE alerts SET updated_at = $1 WHERE id = $2`, id, at, id)
}

// DeleteAlert deletes an alert by ID
func (s *PostgresStore) DeleteAlert(ctx context.Context, id string) error {
	return s.execAffectingOne(ctx, `DELETE FROM alerts WHERE id = $1`, id, id)
}

func (s *PostgresStore) InsertEmailFailure(ctx context.Context, failure *models.EmailFailure) error {
	query := `INSERT INTO email_failures (id, alert_id, email, error, created_at) VALUES ($1, $2, $3, $4, $5)`

	if _, err := s.db.ExecContext(ctx, query, failure.ID, failure.AlertID, failure.Email, failure.Error, failure.CreatedAt); err != nil {
		logger.Log.Error("Failed to record email failure",
			zap.String("alert_id", failure.AlertID),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (s *PostgresStore) execAffectingOne(ctx context.Context, query, id string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		logger.Log.Error("Failed to write alert",
			zap.String("alert_id", id),
			zap.Error(err),
		)
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrAlertNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (*models.Alert, error) {
	var alert models.Alert
	var mode string
	var updatedAt sql.NullTime

	err := row.Scan(
		&alert.ID,
		&alert.UserID,
		&alert.SymbolID,
		&alert.Name,
		&alert.Symbol,
		&alert.Logo,
		&alert.TargetPrice,
		&alert.PriceWhenAlertSet,
		&mode,
		&alert.Email,
		&alert.CreatedAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	alert.AlertMode = models.AlertMode(mode)
	if updatedAt.Valid {
		at := updatedAt.Time
		alert.UpdatedAt = &at
	}
	return &alert, nil
}

func scanAlerts(rows *sql.Rows) ([]*models.Alert, error) {
	var alerts []*models.Alert

	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return alerts, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
