// internal/services/save_service.go
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/Corphon/AIDungeonMaster/internal/errors"
	"github.com/Corphon/AIDungeonMaster/internal/models"
	"github.com/Corphon/AIDungeonMaster/internal/storage"
	"github.com/Corphon/AIDungeonMaster/internal/utils"
)

const (
	savePrefix          = "saves/"
	manualSavePrefix    = "save_"
	autosavePrefix      = "autosave_"
	DefaultAutosaveKeep = 3
)

// SaveService is the session store. It is the only component that talks to
// the blob store.
type SaveService struct {
	store        storage.BlobStore
	logger       *utils.Logger
	autosaveKeep int
	now          func() time.Time

	// serializes autosave write+prune per process
	autosaveMu sync.Mutex
}

func NewSaveService(store storage.BlobStore, logger *utils.Logger, autosaveKeep int) *SaveService {
	if logger == nil {
		logger = utils.GetLogger()
	}
	if autosaveKeep <= 0 {
		autosaveKeep = DefaultAutosaveKeep
	}
	return &SaveService{
		store:        store,
		logger:       logger,
		autosaveKeep: autosaveKeep,
		now:          func() time.Time { return time.Now().UTC().Round(0) },
	}
}

func saveKey(saveID string) string {
	return savePrefix + saveID + ".json"
}

func validSaveID(saveID string) bool {
	return saveID != "" && !strings.ContainsAny(saveID, "/\\") && storage.ValidKey(saveKey(saveID))
}

// Save writes a manual snapshot and returns its id.
func (s *SaveService) Save(ctx context.Context, sessionID string, snap *models.SaveSnapshot) (string, error) {
	if snap == nil || strings.TrimSpace(sessionID) == "" || strings.ContainsAny(sessionID, "/\\") {
		return "", apperrors.NewInvalidInputError("valid session id and snapshot are required", nil)
	}
	ts := s.now()
	saveID := fmt.Sprintf("%s%s_%d_%s", manualSavePrefix, sessionID, ts.Unix(), uuid.NewString()[:8])
	if err := s.write(ctx, saveID, models.SaveKindManual, sessionID, ts, snap); err != nil {
		return "", err
	}
	s.logger.Info("game saved", map[string]interface{}{
		"session_id": sessionID,
		"save_id":    saveID,
	})
	return saveID, nil
}

// Autosave writes an automatic snapshot and keeps only the newest few per
// session.
func (s *SaveService) Autosave(ctx context.Context, sessionID string, snap *models.SaveSnapshot) (string, error) {
	if snap == nil || strings.TrimSpace(sessionID) == "" || strings.ContainsAny(sessionID, "/\\") {
		return "", apperrors.NewInvalidInputError("valid session id and snapshot are required", nil)
	}
	s.autosaveMu.Lock()
	defer s.autosaveMu.Unlock()

	ts := s.now()
	saveID := fmt.Sprintf("%s%s_%d", autosavePrefix, sessionID, ts.UnixNano())
	if err := s.write(ctx, saveID, models.SaveKindAuto, sessionID, ts, snap); err != nil {
		return "", err
	}

	existing, err := s.List(ctx, models.SaveFilter{Kind: models.SaveKindAuto, SessionID: sessionID})
	if err != nil {
		s.logger.Warn("autosave prune skipped", map[string]interface{}{"session_id": sessionID, "error": err.Error()})
		return saveID, nil
	}
	for i := s.autosaveKeep; i < len(existing); i++ {
		if err := s.store.Delete(ctx, saveKey(existing[i].SaveID)); err != nil && !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("autosave prune failed", map[string]interface{}{
				"save_id": existing[i].SaveID,
				"error":   err.Error(),
			})
		}
	}
	return saveID, nil
}

func (s *SaveService) write(ctx context.Context, saveID string, kind models.SaveKind, sessionID string, ts time.Time, snap *models.SaveSnapshot) error {
	snap.Version = models.SnapshotVersion
	snap.SaveID = saveID
	snap.Kind = kind
	snap.SessionID = sessionID
	snap.Timestamp = ts

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return apperrors.NewPersistenceError("encode snapshot", err)
	}
	if err := s.store.Put(ctx, saveKey(saveID), data); err != nil {
		return apperrors.NewPersistenceError(fmt.Sprintf("write snapshot %s", saveID), err)
	}
	return nil
}

// Load reads a snapshot by id.
func (s *SaveService) Load(ctx context.Context, saveID string) (*models.SaveSnapshot, error) {
	if !validSaveID(saveID) {
		return nil, apperrors.NewInvalidInputError(fmt.Sprintf("invalid save id %q", saveID), nil)
	}
	data, err := s.store.Get(ctx, saveKey(saveID))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("save %q not found", saveID), err)
		}
		return nil, apperrors.NewPersistenceError(fmt.Sprintf("read snapshot %s", saveID), err)
	}
	var snap models.SaveSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, apperrors.NewPersistenceError(fmt.Sprintf("decode snapshot %s", saveID), err)
	}
	if snap.Version != models.SnapshotVersion {
		return nil, apperrors.NewPersistenceError(fmt.Sprintf("snapshot %s has unsupported version %q", saveID, snap.Version), nil)
	}
	return &snap, nil
}

// List returns descriptors matching filter, newest first.
func (s *SaveService) List(ctx context.Context, filter models.SaveFilter) ([]models.SaveDescriptor, error) {
	keys, err := s.store.List(ctx, savePrefix)
	if err != nil {
		return nil, apperrors.NewPersistenceError("list saves", err)
	}

	out := []models.SaveDescriptor{}
	for _, key := range keys {
		saveID := strings.TrimSuffix(strings.TrimPrefix(key, savePrefix), ".json")
		if filter.Kind == models.SaveKindAuto && !strings.HasPrefix(saveID, autosavePrefix) {
			continue
		}
		if filter.Kind == models.SaveKindManual && !strings.HasPrefix(saveID, manualSavePrefix) {
			continue
		}
		snap, err := s.Load(ctx, saveID)
		if err != nil {
			s.logger.Warn("skipping unreadable save", map[string]interface{}{
				"save_id": saveID,
				"error":   err.Error(),
			})
			continue
		}
		if d := snap.Descriptor(); filter.Match(d) {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].SaveID > out[j].SaveID
	})
	return out, nil
}

// Delete removes a snapshot; NotFound when it does not exist.
func (s *SaveService) Delete(ctx context.Context, saveID string) error {
	if !validSaveID(saveID) {
		return apperrors.NewInvalidInputError(fmt.Sprintf("invalid save id %q", saveID), nil)
	}
	if err := s.store.Delete(ctx, saveKey(saveID)); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperrors.NewNotFoundError(fmt.Sprintf("save %q not found", saveID), err)
		}
		return apperrors.NewPersistenceError(fmt.Sprintf("delete snapshot %s", saveID), err)
	}
	s.logger.Info("save deleted", map[string]interface{}{"save_id": saveID})
	return nil
}
