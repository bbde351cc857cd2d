package identity

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/agentia/replyflow/config"
	"github.com/agentia/replyflow/internal/domain/model"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUserNotFound   = errors.New("用户不存在")
	ErrUserExists     = errors.New("用户名已存在")
	ErrBadCredentials = errors.New("用户名或密码错误")
	// ErrUsernameRetired rejects registration or rename onto a username that
	// appears as a key of the mapping chain; reviving it would capture logins
	// meant for the renamed user.
	ErrUsernameRetired = errors.New("该用户名已停用")
)

// RenamedError tells a caller logging in with a stale username where to go.
type RenamedError struct {
	NewUsername string
}

func (e *RenamedError) Error() string {
	return fmt.Sprintf("用户名已更改，请使用新用户名 '%s' 登录", e.NewUsername)
}

// Service owns the user records and the username mapping. All mutation goes
// through its lock; persistence failures on user data surface to the caller.
type Service struct {
	logger   *slog.Logger
	usersDir string

	mu      sync.RWMutex
	users   map[string]*model.User // live username -> record
	mapping map[string]string      // retired username -> successor

	resolveCache *lru.Cache[string, string]
}

func NewService(cfg *config.Config, logger *slog.Logger) (*Service, error) {
	cache, err := lru.New[string, string](256)
	if err != nil {
		return nil, err
	}
	s := &Service{
		logger:       logger,
		usersDir:     cfg.Data.UsersDir,
		users:        make(map[string]*model.User),
		mapping:      make(map[string]string),
		resolveCache: cache,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// load reads user_data.json and username_mapping.json. A missing or malformed
// user file yields a seeded default admin; malformed individual records are
// repaired in place and persisted.
func (s *Service) load() error {
	userPath := filepath.Join(s.usersDir, userDataFile)
	users := make(map[string]*model.User)
	if err := readJSON(userPath, &users); err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("user data unreadable, seeding defaults", "error", err)
		}
		users = nil
	}

	repaired := false
	if len(users) == 0 {
		users = map[string]*model.User{"admin": seedUser()}
		repaired = true
	}
	for name, u := range users {
		if u == nil {
			users[name] = seedUser()
			repaired = true
			continue
		}
		if u.UserID == "" {
			u.UserID = uuid.NewString()
			repaired = true
		}
		if u.PasswordHash == "" {
			u.PasswordHash = mustHash("admin123")
			repaired = true
		} else if _, err := bcrypt.Cost([]byte(u.PasswordHash)); err != nil {
			// Not a bcrypt hash: a legacy plaintext password is re-hashed.
			if h, err := bcrypt.GenerateFromPassword([]byte(u.PasswordHash), bcrypt.DefaultCost); err == nil {
				u.PasswordHash = string(h)
				repaired = true
			}
		}
		if fixed := repairSettings(&u.Settings); fixed {
			repaired = true
		}
	}
	s.users = users

	mapping := make(map[string]string)
	if err := readJSON(filepath.Join(s.usersDir, mappingFile), &mapping); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("username mapping unreadable, starting empty", "error", err)
	}
	s.mapping = mapping

	if repaired {
		return s.saveUsersLocked()
	}
	return nil
}

func seedUser() *model.User {
	return &model.User{
		UserID:       uuid.NewString(),
		PasswordHash: mustHash("admin123"),
		Settings: model.Settings{
			CheckInterval:     5,
			BatchSize:         10,
			SingleConcurrency: 5,
		},
		RegisterTime: model.Now(),
	}
}

func repairSettings(st *model.Settings) bool {
	fixed := false
	if st.CheckInterval < 1 {
		st.CheckInterval = 5
		fixed = true
	}
	if got := model.ClampBatchSize(st.BatchSize); got != st.BatchSize {
		st.BatchSize = got
		fixed = true
	}
	if got := model.ClampSingleConcurrency(st.SingleConcurrency); got != st.SingleConcurrency {
		st.SingleConcurrency = got
		fixed = true
	}
	return fixed
}

func mustHash(pw string) string {
	h, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}
	return string(h)
}

func (s *Service) saveUsersLocked() error {
	return writeJSONAtomic(filepath.Join(s.usersDir, userDataFile), s.users)
}

func (s *Service) saveMappingLocked() error {
	return writeJSONAtomic(filepath.Join(s.usersDir, mappingFile), s.mapping)
}

// Resolve follows the rename chain from the given username to the current
// one. Cycles terminate via the visited set; an unmapped name resolves to
// itself.
func (s *Service) Resolve(username string) string {
	if v, ok := s.resolveCache.Get(username); ok {
		return v
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	resolved := s.resolveLocked(username)
	s.resolveCache.Add(username, resolved)
	return resolved
}

func (s *Service) resolveLocked(username string) string {
	current := username
	visited := map[string]bool{current: true}
	for {
		next, ok := s.mapping[current]
		if !ok || visited[next] {
			return current
		}
		visited[next] = true
		current = next
	}
}

// Get returns the live user record for a username, following renames.
func (s *Service) Get(username string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	resolved := s.resolveLocked(username)
	u, ok := s.users[resolved]
	if !ok {
		return nil, ErrUserNotFound
	}
	return u, nil
}

// Authenticate verifies credentials. Logging in with a retired username
// fails with a RenamedError naming the successor.
func (s *Service) Authenticate(username, password string) (*model.User, error) {
	s.mu.RLock()
	u, live := s.users[username]
	var renamed *RenamedError
	if !live {
		if resolved := s.resolveLocked(username); resolved != username {
			if _, ok := s.users[resolved]; ok {
				renamed = &RenamedError{NewUsername: resolved}
			}
		}
	}
	s.mu.RUnlock()

	if !live {
		if renamed != nil {
			return nil, renamed
		}
		return nil, ErrBadCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, ErrBadCredentials
	}
	return u, nil
}

// Register creates a user with a fresh stable user_id.
func (s *Service) Register(username, password string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[username]; ok {
		return nil, ErrUserExists
	}
	if _, retired := s.mapping[username]; retired {
		return nil, ErrUsernameRetired
	}
	u := seedUser()
	u.PasswordHash = mustHash(password)
	s.users[username] = u
	if err := s.saveUsersLocked(); err != nil {
		delete(s.users, username)
		return nil, err
	}
	return u, nil
}

// Rename moves a user to a new username. The data file is keyed by user_id,
// so no file moves; only the map key changes and a forward mapping is
// appended.
func (s *Service) Rename(oldName, newName string) error {
	if oldName == newName {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[oldName]
	if !ok {
		return ErrUserNotFound
	}
	if _, taken := s.users[newName]; taken {
		return ErrUserExists
	}
	if _, retired := s.mapping[newName]; retired {
		return ErrUsernameRetired
	}

	s.mapping[oldName] = newName
	// Inserting must not create a cycle: resolution from the old name has to
	// terminate at the new one.
	if s.resolveLocked(oldName) != newName {
		delete(s.mapping, oldName)
		return fmt.Errorf("identity: rename %s -> %s would form a cycle", oldName, newName)
	}

	delete(s.users, oldName)
	s.users[newName] = u
	s.resolveCache.Purge()

	if err := s.saveUsersLocked(); err != nil {
		return err
	}
	return s.saveMappingLocked()
}

// UpdatePassword rehashes and persists.
func (s *Service) UpdatePassword(username, oldPassword, newPassword string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok {
		return ErrUserNotFound
	}
	if oldPassword != "" {
		if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(oldPassword)) != nil {
			return ErrBadCredentials
		}
	}
	u.PasswordHash = mustHash(newPassword)
	return s.saveUsersLocked()
}

// Update applies fn to the user record under the lock and persists the full
// map atomically.
func (s *Service) Update(username string, fn func(*model.User) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok {
		return ErrUserNotFound
	}
	if err := fn(u); err != nil {
		return err
	}
	return s.saveUsersLocked()
}

// RecordLogin stamps last-login and pushes a device session, keeping the 5
// most recent with exactly the newest marked current.
func (s *Service) RecordLogin(username, userAgent, ip string) error {
	return s.Update(username, func(u *model.User) error {
		u.LastLogin = model.Now()
		for i := range u.Devices {
			u.Devices[i].Current = false
		}
		u.Devices = append([]model.Device{{
			ID:        uuid.NewString(),
			UserAgent: userAgent,
			IP:        ip,
			LoginTime: u.LastLogin,
			Current:   true,
		}}, u.Devices...)
		if len(u.Devices) > model.MaxDevices {
			u.Devices = u.Devices[:model.MaxDevices]
		}
		return nil
	})
}

// AppendChat stores one chat exchange, bounded to the 50 most recent.
func (s *Service) AppendChat(username string, msg model.ChatMessage) error {
	return s.Update(username, func(u *model.User) error {
		u.ChatHistory = append(u.ChatHistory, msg)
		if len(u.ChatHistory) > model.MaxChatHistory {
			u.ChatHistory = u.ChatHistory[len(u.ChatHistory)-model.MaxChatHistory:]
		}
		return nil
	})
}

// Usernames returns the live usernames.
func (s *Service) Usernames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.users))
	for name := range s.users {
		names = append(names, name)
	}
	return names
}
