package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"medicared/internal/storage"
	"medicared/internal/transport"
	logx "medicared/pkg/logx"
)

// ---- sessions ----

type session struct {
	userID  int64
	expires time.Time
}

type sessionStore struct {
	mu   sync.Mutex
	ttl  time.Duration
	byID map[string]session
}

func newSessionStore(ttl time.Duration) *sessionStore {
	return &sessionStore{ttl: ttl, byID: map[string]session{}}
}

func (s *sessionStore) create(userID int64) string {
	token := randomToken()
	s.mu.Lock()
	s.byID[token] = session{userID: userID, expires: time.Now().Add(s.ttl)}
	// Opportunistic prune.
	now := time.Now()
	for t, sess := range s.byID {
		if now.After(sess.expires) {
			delete(s.byID, t)
		}
	}
	s.mu.Unlock()
	return token
}

func (s *sessionStore) lookup(token string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byID[token]
	if !ok || time.Now().After(sess.expires) {
		delete(s.byID, token)
		return 0, false
	}
	return sess.userID, true
}

func randomToken() string {
	b := make([]byte, 24)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// auth wraps a handler with bearer-token session authentication.
func (s *Server) auth(next func(w http.ResponseWriter, r *http.Request, userID int64)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(h, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		userID, ok := s.sessions.lookup(token)
		if !ok {
			writeError(w, http.StatusUnauthorized, "invalid or expired session")
			return
		}
		next(w, r, userID)
	}
}

// ---- signup / login ----

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name,omitempty"`
}

type authResponse struct {
	Token string       `json:"token"`
	User  storage.User `json:"user"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if !strings.Contains(req.Email, "@") {
		writeError(w, http.StatusBadRequest, "invalid email")
		return
	}
	if len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "hashing failed")
		return
	}
	u, err := s.store.CreateUser(r.Context(), storage.User{
		Email:        req.Email,
		FullName:     strings.TrimSpace(req.FullName),
		PasswordHash: string(hash),
	})
	if errors.Is(err, storage.ErrEmailTaken) {
		writeError(w, http.StatusConflict, "email already registered")
		return
	}
	if err != nil {
		s.log.Error("signup failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "signup failed")
		return
	}
	s.log.Info("user registered", logx.Int64("user_id", u.ID))
	writeJSON(w, http.StatusCreated, authResponse{Token: s.sessions.create(u.ID), User: u})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	u, err := s.store.UserByEmail(r.Context(), req.Email)
	if err == nil {
		err = bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password))
	}
	if err != nil {
		// Same answer for unknown email and wrong password.
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	writeJSON(w, http.StatusOK, authResponse{Token: s.sessions.create(u.ID), User: u})
}

// ---- telegram chat linking ----

type linkCodes struct {
	mu   sync.Mutex
	ttl  time.Duration
	byID map[string]linkCode
}

type linkCode struct {
	userID  int64
	expires time.Time
}

func newLinkCodes(ttl time.Duration) *linkCodes {
	return &linkCodes{ttl: ttl, byID: map[string]linkCode{}}
}

func (l *linkCodes) create(userID int64) string {
	code := randomToken()[:12]
	l.mu.Lock()
	l.byID[code] = linkCode{userID: userID, expires: time.Now().Add(l.ttl)}
	l.mu.Unlock()
	return code
}

func (l *linkCodes) consume(code string) (int64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.byID[code]
	if !ok || time.Now().After(c.expires) {
		delete(l.byID, code)
		return 0, false
	}
	delete(l.byID, code)
	return c.userID, true
}

func (s *Server) handleLinkCode(w http.ResponseWriter, r *http.Request, userID int64) {
	code := s.links.create(userID)
	writeJSON(w, http.StatusOK, map[string]string{
		"code": code,
		"hint": "send /start " + code + " to the bot",
	})
}

// ResolveLinkCode is wired into the Telegram adapter as its transport.LinkFunc.
// A valid code binds the chat to the account that requested it.
func (s *Server) ResolveLinkCode(ctx context.Context, code string, chat transport.ChatTarget) error {
	userID, ok := s.links.consume(strings.TrimSpace(code))
	if !ok {
		return errors.New("unknown or expired link code")
	}
	return s.store.SetTelegramChat(ctx, userID, chat.ChatID)
}
