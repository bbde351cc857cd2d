package identity

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/agentia/replyflow/internal/domain/model"
)

// EmailData is the persisted per-user message state. One file per user,
// named by the stable user_id so a rename never touches it.
type EmailData struct {
	EmailsCache   []model.Email         `json:"emails_cache"`
	History       []model.HistoryRecord `json:"history"`
	Activities    []model.Activity      `json:"activities"`
	Stats         model.Stats           `json:"stats"`
	LastCheckTime string                `json:"last_check_time,omitempty"`
	AutoProcess   bool                  `json:"auto_process"`
	CheckInterval int                   `json:"check_interval,omitempty"`
}

func (s *Service) emailDataPath(userID string) string {
	return filepath.Join(s.usersDir, fmt.Sprintf("%s%s.json", emailDataPrefix, userID))
}

// LoadEmailData reads the user's message state. When only a legacy
// username-keyed file exists it is migrated to the user_id path and the old
// file removed. A missing file yields empty state.
func (s *Service) LoadEmailData(userID string, legacyNames ...string) (*EmailData, error) {
	path := s.emailDataPath(userID)

	var data EmailData
	err := readJSON(path, &data)
	if err == nil {
		return &data, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("identity: email data for %s: %w", userID, err)
	}

	for _, name := range legacyNames {
		legacy := filepath.Join(s.usersDir, fmt.Sprintf("%s%s.json", emailDataPrefix, name))
		if legacy == path {
			continue
		}
		var legacyData EmailData
		if err := readJSON(legacy, &legacyData); err != nil {
			continue
		}
		s.logger.Info("migrating legacy email data", "from", filepath.Base(legacy), "user_id", userID)
		if err := writeJSONAtomic(path, &legacyData); err != nil {
			return nil, err
		}
		if err := os.Remove(legacy); err != nil {
			s.logger.Warn("legacy email data not removed", "path", legacy, "error", err)
		}
		return &legacyData, nil
	}

	return &EmailData{}, nil
}

// SaveEmailData rewrites the user's file in full. Callers hold the user lock;
// a failure leaves in-memory state authoritative until the next save.
func (s *Service) SaveEmailData(userID string, data *EmailData) error {
	return writeJSONAtomic(s.emailDataPath(userID), data)
}
