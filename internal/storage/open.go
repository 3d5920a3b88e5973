package storage

import (
	"context"
	"errors"
	"strings"

	"medicared/internal/medicine"
	logx "medicared/pkg/logx"
)

// Store is the persistence API used by the rest of the daemon.
type Store interface {
	CreateUser(ctx context.Context, u User) (User, error)
	UserByEmail(ctx context.Context, email string) (User, error)
	UserByID(ctx context.Context, id int64) (User, error)
	SetTelegramChat(ctx context.Context, userID, chatID int64) error

	CreateMedicine(ctx context.Context, m medicine.Medicine) (medicine.Medicine, error)
	UpdateMedicine(ctx context.Context, m medicine.Medicine) error
	DeleteMedicine(ctx context.Context, id, userID int64) error
	MedicineByID(ctx context.Context, id int64) (medicine.Medicine, error)
	Medicines(ctx context.Context, userID int64) ([]medicine.Medicine, error)
	ActiveMedicines(ctx context.Context, userID int64) ([]medicine.Medicine, error)
	ActiveUserIDs(ctx context.Context) ([]int64, error)

	Close() error
}

// Open initializes the configured store. An empty driver defaults to sqlite.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "file":
		return openFile(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
