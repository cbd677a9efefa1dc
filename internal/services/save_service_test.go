package services

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/Corphon/AIDungeonMaster/internal/dice"
	apperrors "github.com/Corphon/AIDungeonMaster/internal/errors"
	"github.com/Corphon/AIDungeonMaster/internal/models"
	"github.com/Corphon/AIDungeonMaster/internal/storage"
)

func newTestSaveService(t *testing.T) *SaveService {
	t.Helper()
	store, err := storage.NewFileStorage(t.TempDir())
	if err != nil {
		t.Fatalf("file storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	svc := NewSaveService(store, quietLogger(), 0)
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return svc
}

func sampleSnapshot(t *testing.T) *models.SaveSnapshot {
	t.Helper()
	_, hero := newWarrior(t)
	hero.Inventory = append(hero.Inventory, models.Item{Name: "Health Potion", Kind: models.ItemKindPotion, HealAmount: 30})
	rng := dice.NewStream(42)
	rng.IntN(20)
	state, err := rng.State()
	if err != nil {
		t.Fatalf("rng state: %v", err)
	}
	return &models.SaveSnapshot{
		Characters: []*models.Character{hero},
		GameState:  models.GameStateSummary{ScenarioID: "crypt", CurrentNode: "start", Commands: 3},
		Moral:      models.NewPlayerMoralState(),
		Inventory:  hero.Inventory,
		RNG:        state,
		Metadata:   map[string]string{"note": "before the crypt"},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	svc := newTestSaveService(t)
	ctx := context.Background()
	snap := sampleSnapshot(t)

	saveID, err := svc.Save(ctx, "sess1", snap)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := svc.Load(ctx, saveID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Version != models.SnapshotVersion || loaded.Kind != models.SaveKindManual || loaded.SessionID != "sess1" {
		t.Fatalf("header %+v", loaded)
	}
	if !loaded.Timestamp.Equal(snap.Timestamp) {
		t.Fatalf("timestamp %v != %v", loaded.Timestamp, snap.Timestamp)
	}
	if !reflect.DeepEqual(loaded.Characters, snap.Characters) {
		t.Fatalf("characters differ:\n%+v\n%+v", loaded.Characters[0], snap.Characters[0])
	}
	if !reflect.DeepEqual(loaded.RNG, snap.RNG) || loaded.GameState != snap.GameState {
		t.Fatalf("rng or game state differ")
	}

	resumed, err := dice.RestoreStream(loaded.RNG)
	if err != nil {
		t.Fatalf("restore rng: %v", err)
	}
	original, _ := dice.RestoreStream(snap.RNG)
	for i := 0; i < 5; i++ {
		if a, b := resumed.IntN(100), original.IntN(100); a != b {
			t.Fatalf("roll %d diverged: %d vs %d", i, a, b)
		}
	}
}

func TestLoadUnknownAndInvalidIDs(t *testing.T) {
	svc := newTestSaveService(t)
	ctx := context.Background()
	if _, err := svc.Load(ctx, "save_missing"); !apperrors.IsNotFoundError(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := svc.Load(ctx, "../etc/passwd"); !apperrors.IsInvalidInputError(err) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if err := svc.Delete(ctx, "save_missing"); !apperrors.IsNotFoundError(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListNewestFirstWithFilters(t *testing.T) {
	svc := newTestSaveService(t)
	ctx := context.Background()

	first, _ := svc.Save(ctx, "sess1", sampleSnapshot(t))
	second, _ := svc.Save(ctx, "sess2", sampleSnapshot(t))
	auto, err := svc.Autosave(ctx, "sess1", sampleSnapshot(t))
	if err != nil {
		t.Fatalf("autosave: %v", err)
	}

	all, err := svc.List(ctx, models.SaveFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var ids []string
	for _, d := range all {
		ids = append(ids, d.SaveID)
	}
	if !reflect.DeepEqual(ids, []string{auto, second, first}) {
		t.Fatalf("order = %v", ids)
	}
	if all[0].CharacterName != "Arin" || all[0].CharacterLevel != 1 || all[0].ScenarioID != "crypt" {
		t.Fatalf("descriptor %+v", all[0])
	}

	manual, _ := svc.List(ctx, models.SaveFilter{Kind: models.SaveKindManual, SessionID: "sess1"})
	if len(manual) != 1 || manual[0].SaveID != first {
		t.Fatalf("filtered %+v", manual)
	}
}

func TestAutosaveKeepsNewestThree(t *testing.T) {
	svc := newTestSaveService(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		id, err := svc.Autosave(ctx, "sess1", sampleSnapshot(t))
		if err != nil {
			t.Fatalf("autosave %d: %v", i, err)
		}
		ids = append(ids, id)
	}
	if _, err := svc.Autosave(ctx, "sess2", sampleSnapshot(t)); err != nil {
		t.Fatalf("autosave other session: %v", err)
	}

	kept, err := svc.List(ctx, models.SaveFilter{Kind: models.SaveKindAuto, SessionID: "sess1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(kept) != DefaultAutosaveKeep {
		t.Fatalf("kept %d autosaves", len(kept))
	}
	for i, d := range kept {
		if want := ids[len(ids)-1-i]; d.SaveID != want {
			t.Fatalf("kept[%d] = %s, want %s", i, d.SaveID, want)
		}
	}
	if _, err := svc.Load(ctx, ids[0]); !apperrors.IsNotFoundError(err) {
		t.Fatalf("oldest autosave should be pruned, got %v", err)
	}
	other, _ := svc.List(ctx, models.SaveFilter{SessionID: "sess2"})
	if len(other) != 1 {
		t.Fatalf("other session autosaves %d", len(other))
	}
}

func TestDeleteSave(t *testing.T) {
	svc := newTestSaveService(t)
	ctx := context.Background()
	id, _ := svc.Save(ctx, "sess1", sampleSnapshot(t))
	if err := svc.Delete(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.Load(ctx, id); !apperrors.IsNotFoundError(err) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestSaveRejectsBadSessionID(t *testing.T) {
	svc := newTestSaveService(t)
	if _, err := svc.Save(context.Background(), "a/b", sampleSnapshot(t)); !apperrors.IsInvalidInputError(err) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if _, err := svc.Autosave(context.Background(), "", sampleSnapshot(t)); !apperrors.IsInvalidInputError(err) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
