package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"medicared/internal/medicine"
	logx "medicared/pkg/logx"
)

// fileStore is a dependency-free persistence backend: one JSON snapshot file
// holding all users and medicines, rewritten atomically on every mutation.
// Fine for a single household, not for a fleet.
type fileStore struct {
	log  logx.Logger
	path string

	mu    sync.Mutex
	state fileState
}

type fileState struct {
	NextUserID     int64               `json:"next_user_id"`
	NextMedicineID int64               `json:"next_medicine_id"`
	Users          []User              `json:"users"`
	Medicines      []medicine.Medicine `json:"medicines"`
}

// fileUser exists because User hides PasswordHash from JSON; the snapshot
// must keep it.
type fileUser struct {
	User
	PasswordHash string `json:"password_hash"`
}

type fileSnapshot struct {
	NextUserID     int64               `json:"next_user_id"`
	NextMedicineID int64               `json:"next_medicine_id"`
	Users          []fileUser          `json:"users"`
	Medicines      []medicine.Medicine `json:"medicines"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	st := &fileStore{log: log, path: path}
	st.state = fileState{NextUserID: 1, NextMedicineID: 1}

	f, err := os.Open(path)
	switch {
	case err == nil:
		var snap fileSnapshot
		derr := json.NewDecoder(f).Decode(&snap)
		_ = f.Close()
		if derr != nil {
			return nil, derr
		}
		st.state.NextUserID = max64(snap.NextUserID, 1)
		st.state.NextMedicineID = max64(snap.NextMedicineID, 1)
		for _, u := range snap.Users {
			uu := u.User
			uu.PasswordHash = u.PasswordHash
			st.state.Users = append(st.state.Users, uu)
		}
		st.state.Medicines = snap.Medicines
	case os.IsNotExist(err):
		// fresh store
	default:
		return nil, err
	}
	return st, nil
}

func (s *fileStore) Close() error { return nil }

// saveLocked rewrites the snapshot via tmp+rename. Call with mu held.
func (s *fileStore) saveLocked() error {
	snap := fileSnapshot{
		NextUserID:     s.state.NextUserID,
		NextMedicineID: s.state.NextMedicineID,
		Medicines:      s.state.Medicines,
	}
	for _, u := range s.state.Users {
		snap.Users = append(snap.Users, fileUser{User: u, PasswordHash: u.PasswordHash})
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// ---- users ----

func (s *fileStore) CreateUser(ctx context.Context, u User) (User, error) {
	_ = ctx
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ex := range s.state.Users {
		if ex.Email == u.Email {
			return User{}, ErrEmailTaken
		}
	}
	u.ID = s.state.NextUserID
	s.state.NextUserID++
	s.state.Users = append(s.state.Users, u)
	if err := s.saveLocked(); err != nil {
		return User{}, err
	}
	return u, nil
}

func (s *fileStore) UserByEmail(ctx context.Context, email string) (User, error) {
	_ = ctx
	email = strings.ToLower(strings.TrimSpace(email))
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.state.Users {
		if u.Email == email {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

func (s *fileStore) UserByID(ctx context.Context, id int64) (User, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.state.Users {
		if u.ID == id {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

func (s *fileStore) SetTelegramChat(ctx context.Context, userID, chatID int64) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.state.Users {
		if s.state.Users[i].ID == userID {
			s.state.Users[i].TelegramChatID = chatID
			return s.saveLocked()
		}
	}
	return ErrNotFound
}

// ---- medicines ----

func (s *fileStore) CreateMedicine(ctx context.Context, m medicine.Medicine) (medicine.Medicine, error) {
	_ = ctx
	now := time.Now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	m.ID = s.state.NextMedicineID
	s.state.NextMedicineID++
	s.state.Medicines = append(s.state.Medicines, m)
	if err := s.saveLocked(); err != nil {
		return medicine.Medicine{}, err
	}
	return m, nil
}

func (s *fileStore) UpdateMedicine(ctx context.Context, m medicine.Medicine) error {
	_ = ctx
	m.UpdatedAt = time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.state.Medicines {
		ex := s.state.Medicines[i]
		if ex.ID == m.ID && ex.UserID == m.UserID {
			m.CreatedAt = ex.CreatedAt
			s.state.Medicines[i] = m
			return s.saveLocked()
		}
	}
	return ErrNotFound
}

func (s *fileStore) DeleteMedicine(ctx context.Context, id, userID int64) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.state.Medicines {
		ex := s.state.Medicines[i]
		if ex.ID == id && ex.UserID == userID {
			s.state.Medicines = append(s.state.Medicines[:i], s.state.Medicines[i+1:]...)
			return s.saveLocked()
		}
	}
	return ErrNotFound
}

func (s *fileStore) MedicineByID(ctx context.Context, id int64) (medicine.Medicine, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.state.Medicines {
		if m.ID == id {
			return m, nil
		}
	}
	return medicine.Medicine{}, ErrNotFound
}

func (s *fileStore) Medicines(ctx context.Context, userID int64) ([]medicine.Medicine, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []medicine.Medicine
	for _, m := range s.state.Medicines {
		if m.UserID == userID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *fileStore) ActiveMedicines(ctx context.Context, userID int64) ([]medicine.Medicine, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []medicine.Medicine
	for _, m := range s.state.Medicines {
		if m.UserID == userID && m.Active {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *fileStore) ActiveUserIDs(ctx context.Context) ([]int64, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[int64]bool{}
	var out []int64
	for _, m := range s.state.Medicines {
		if m.Active && !seen[m.UserID] {
			seen[m.UserID] = true
			out = append(out, m.UserID)
		}
	}
	return out, nil
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
