package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"medicared/internal/medicine"
	logx "medicared/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- users ----

func (s *sqliteStore) CreateUser(ctx context.Context, u User) (User, error) {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users(email, full_name, password_hash, telegram_chat, created_at)
		 VALUES(?,?,?,?,?)`,
		u.Email, u.FullName, u.PasswordHash, u.TelegramChatID, u.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, ErrEmailTaken
		}
		return User{}, err
	}
	u.ID, err = res.LastInsertId()
	return u, err
}

func (s *sqliteStore) UserByEmail(ctx context.Context, email string) (User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	row := s.db.QueryRowContext(ctx,
		`SELECT id, email, full_name, password_hash, telegram_chat, created_at
		 FROM users WHERE email = ?`, email)
	return scanUser(row)
}

func (s *sqliteStore) UserByID(ctx context.Context, id int64) (User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, email, full_name, password_hash, telegram_chat, created_at
		 FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func (s *sqliteStore) SetTelegramChat(ctx context.Context, userID, chatID int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET telegram_chat = ? WHERE id = ?`, chatID, userID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanUser(row *sql.Row) (User, error) {
	var u User
	var created string
	err := row.Scan(&u.ID, &u.Email, &u.FullName, &u.PasswordHash, &u.TelegramChatID, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	u.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return u, nil
}

// ---- medicines ----

func (s *sqliteStore) CreateMedicine(ctx context.Context, m medicine.Medicine) (medicine.Medicine, error) {
	now := time.Now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	times, err := json.Marshal(m.Times)
	if err != nil {
		return medicine.Medicine{}, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO medicines(user_id, name, dosage, frequency, times, medicine_type, notes, start_date, end_date, is_active, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		m.UserID, m.Name, m.Dosage, string(m.Frequency), string(times), string(m.Type), m.Notes,
		nullTime(m.StartDate), nullTime(m.EndDate), boolInt(m.Active),
		m.CreatedAt.Format(time.RFC3339Nano), m.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return medicine.Medicine{}, err
	}
	m.ID, err = res.LastInsertId()
	return m, err
}

func (s *sqliteStore) UpdateMedicine(ctx context.Context, m medicine.Medicine) error {
	m.UpdatedAt = time.Now()
	times, err := json.Marshal(m.Times)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE medicines SET name=?, dosage=?, frequency=?, times=?, medicine_type=?, notes=?,
		        start_date=?, end_date=?, is_active=?, updated_at=?
		 WHERE id = ? AND user_id = ?`,
		m.Name, m.Dosage, string(m.Frequency), string(times), string(m.Type), m.Notes,
		nullTime(m.StartDate), nullTime(m.EndDate), boolInt(m.Active),
		m.UpdatedAt.Format(time.RFC3339Nano), m.ID, m.UserID,
	)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) DeleteMedicine(ctx context.Context, id, userID int64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM medicines WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

const medicineCols = `id, user_id, name, dosage, frequency, times, medicine_type, notes, start_date, end_date, is_active, created_at, updated_at`

func (s *sqliteStore) MedicineByID(ctx context.Context, id int64) (medicine.Medicine, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+medicineCols+` FROM medicines WHERE id = ?`, id)
	if err != nil {
		return medicine.Medicine{}, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return medicine.Medicine{}, err
		}
		return medicine.Medicine{}, ErrNotFound
	}
	return scanMedicine(rows)
}

func (s *sqliteStore) Medicines(ctx context.Context, userID int64) ([]medicine.Medicine, error) {
	return s.queryMedicines(ctx,
		`SELECT `+medicineCols+` FROM medicines WHERE user_id = ? ORDER BY id`, userID)
}

func (s *sqliteStore) ActiveMedicines(ctx context.Context, userID int64) ([]medicine.Medicine, error) {
	return s.queryMedicines(ctx,
		`SELECT `+medicineCols+` FROM medicines WHERE user_id = ? AND is_active = 1 ORDER BY id`, userID)
}

func (s *sqliteStore) ActiveUserIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT user_id FROM medicines WHERE is_active = 1 ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *sqliteStore) queryMedicines(ctx context.Context, query string, args ...any) ([]medicine.Medicine, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []medicine.Medicine
	for rows.Next() {
		m, err := scanMedicine(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMedicine(rows *sql.Rows) (medicine.Medicine, error) {
	var m medicine.Medicine
	var freq, typ, times, created, updated string
	var start, end sql.NullString
	var active int
	err := rows.Scan(&m.ID, &m.UserID, &m.Name, &m.Dosage, &freq, &times, &typ, &m.Notes,
		&start, &end, &active, &created, &updated)
	if err != nil {
		return medicine.Medicine{}, err
	}
	m.Frequency = medicine.Frequency(freq)
	m.Type = medicine.Type(typ)
	m.Active = active != 0
	if err := json.Unmarshal([]byte(times), &m.Times); err != nil {
		return medicine.Medicine{}, fmt.Errorf("medicine %d: bad times column: %w", m.ID, err)
	}
	m.StartDate = parseNullTime(start)
	m.EndDate = parseNullTime(end)
	m.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	m.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return m, nil
}

func nullTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

func parseNullTime(v sql.NullString) *time.Time {
	if !v.Valid || strings.TrimSpace(v.String) == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return nil
	}
	return &t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
