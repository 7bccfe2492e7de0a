package services

import (
	"strings"
	"testing"
	"time"

	"microbiz/models"
)

func TestCreateAndGetSession(t *testing.T) {
	db := testDB(t)

	created, err := CreateSession(db, models.CHANNEL_WEB, models.STEP_FORM,
		models.JSONMap{"name": "Tendai"}, nil)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if !strings.HasPrefix(created.SessionID, "web_") {
		t.Errorf("session id %q should carry the channel prefix", created.SessionID)
	}

	got, err := GetSession(db, created.SessionID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.CurrentStep != models.STEP_FORM {
		t.Errorf("current step = %q, want %q", got.CurrentStep, models.STEP_FORM)
	}
	if got.FormData.GetString("name") != "Tendai" {
		t.Errorf("form data lost on roundtrip: %v", got.FormData)
	}
	if got.Channel != models.CHANNEL_WEB {
		t.Errorf("channel = %q", got.Channel)
	}
}

func TestCreateSessionDefaults(t *testing.T) {
	db := testDB(t)

	s, err := CreateSession(db, "carrier-pigeon", "not-a-step", nil, nil)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if s.Channel != models.CHANNEL_WEB {
		t.Errorf("unknown channel should fall back to web, got %q", s.Channel)
	}
	if s.CurrentStep != models.STEP_PRODUCT {
		t.Errorf("unknown step should fall back to product, got %q", s.CurrentStep)
	}
}

func TestUpdateSessionPartialPatch(t *testing.T) {
	db := testDB(t)

	s, _ := CreateSession(db, models.CHANNEL_WEB, models.STEP_PRODUCT,
		models.JSONMap{"category": "retail"}, nil)

	step := models.STEP_FORM
	updated, err := UpdateSession(db, s.SessionID, StatePatch{CurrentStep: &step})
	if err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}
	if updated.CurrentStep != models.STEP_FORM {
		t.Errorf("step = %q, want form", updated.CurrentStep)
	}
	if updated.FormData.GetString("category") != "retail" {
		t.Errorf("step-only patch must not touch form_data: %v", updated.FormData)
	}
}

func TestUpdateSessionTerminalIsAppendOnly(t *testing.T) {
	db := testDB(t)

	s, _ := CreateSession(db, models.CHANNEL_WEB, models.STEP_SUMMARY,
		models.JSONMap{"name": "original"}, nil)
	step := models.STEP_COMPLETED
	if _, err := UpdateSession(db, s.SessionID, StatePatch{CurrentStep: &step}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	back := models.STEP_FORM
	updated, err := UpdateSession(db, s.SessionID, StatePatch{
		CurrentStep: &back,
		FormData: models.JSONMap{
			"name":     "tampered",
			"pdf_path": "/storage/app.pdf",
		},
	})
	if err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}
	if updated.CurrentStep != models.STEP_COMPLETED {
		t.Errorf("terminal step must not regress, got %q", updated.CurrentStep)
	}
	if updated.FormData.GetString("name") != "original" {
		t.Errorf("terminal form_data was overwritten: %v", updated.FormData["name"])
	}
	if updated.FormData.GetString("pdf_path") != "/storage/app.pdf" {
		t.Errorf("new keys should still append after completion: %v", updated.FormData)
	}
}

func TestExpiredSessionNotFound(t *testing.T) {
	db := testDB(t)

	s, _ := CreateSession(db, models.CHANNEL_WEB, models.STEP_PRODUCT, nil, nil)

	past := time.Now().Add(-time.Hour)
	if err := db.Model(&models.ApplicationSession{}).
		Where("session_id = ?", s.SessionID).
		Update("expires_at", past).Error; err != nil {
		t.Fatalf("expire: %v", err)
	}

	if _, err := GetSession(db, s.SessionID); err != ErrSessionNotFound {
		t.Errorf("GetSession on expired = %v, want ErrSessionNotFound", err)
	}
	if _, err := UpdateSession(db, s.SessionID, StatePatch{}); err != ErrSessionNotFound {
		t.Errorf("UpdateSession on expired = %v, want ErrSessionNotFound", err)
	}
}

func TestSoftDeletedSessionNotFound(t *testing.T) {
	db := testDB(t)

	s, _ := CreateSession(db, models.CHANNEL_WEB, models.STEP_PRODUCT, nil, nil)
	if err := SoftDeleteSession(db, s.SessionID); err != nil {
		t.Fatalf("SoftDeleteSession: %v", err)
	}

	if _, err := GetSession(db, s.SessionID); err != ErrSessionNotFound {
		t.Errorf("GetSession after soft delete = %v, want ErrSessionNotFound", err)
	}

	// A linha ainda existe fisicamente até a purga.
	var count int
	db.Unscoped().Model(&models.ApplicationSession{}).
		Where("session_id = ?", s.SessionID).Count(&count)
	if count != 1 {
		t.Errorf("soft delete should keep the row, count = %d", count)
	}
}

func TestLinkAndRetrieveByAddress(t *testing.T) {
	db := testDB(t)

	s1, _ := CreateSession(db, models.CHANNEL_WHATSAPP, models.STEP_PRODUCT, nil, nil)
	s2, _ := CreateSession(db, models.CHANNEL_WHATSAPP, models.STEP_FORM, nil, nil)

	if err := LinkAddress(db, models.CHANNEL_WHATSAPP, "263771234567", s1.SessionID); err != nil {
		t.Fatalf("LinkAddress: %v", err)
	}
	got, err := RetrieveByAddress(db, models.CHANNEL_WHATSAPP, "263771234567")
	if err != nil {
		t.Fatalf("RetrieveByAddress: %v", err)
	}
	if got.SessionID != s1.SessionID {
		t.Errorf("resolved %q, want %q", got.SessionID, s1.SessionID)
	}

	// Relink aponta o endereço para a sessão nova (retomada de outra aplicação).
	if err := LinkAddress(db, models.CHANNEL_WHATSAPP, "263771234567", s2.SessionID); err != nil {
		t.Fatalf("relink: %v", err)
	}
	got, _ = RetrieveByAddress(db, models.CHANNEL_WHATSAPP, "263771234567")
	if got.SessionID != s2.SessionID {
		t.Errorf("after relink resolved %q, want %q", got.SessionID, s2.SessionID)
	}

	if _, err := RetrieveByAddress(db, models.CHANNEL_USSD, "263771234567"); err != ErrSessionNotFound {
		t.Errorf("address on another channel = %v, want ErrSessionNotFound", err)
	}
}

func TestRetrieveByIdentifier(t *testing.T) {
	db := testDB(t)

	s, _ := CreateSession(db, models.CHANNEL_WEB, models.STEP_PRODUCT, nil, nil)
	id := "63123456A12"
	if _, err := UpdateSession(db, s.SessionID, StatePatch{UserIdentifier: &id}); err != nil {
		t.Fatalf("set identifier: %v", err)
	}

	got, err := RetrieveByIdentifier(db, id)
	if err != nil {
		t.Fatalf("RetrieveByIdentifier: %v", err)
	}
	if got.SessionID != s.SessionID {
		t.Errorf("resolved %q, want %q", got.SessionID, s.SessionID)
	}

	if _, err := RetrieveByIdentifier(db, "00000000X00"); err != ErrSessionNotFound {
		t.Errorf("unknown identifier = %v, want ErrSessionNotFound", err)
	}
}

func TestFormFieldStamps(t *testing.T) {
	db := testDB(t)

	s, _ := CreateSession(db, models.CHANNEL_WEB, models.STEP_FORM,
		models.JSONMap{"name": "a"}, nil)

	stamps := FieldStamps(s.Metadata)
	if _, ok := stamps["name"]; !ok {
		t.Fatalf("create should stamp initial form keys, got %v", stamps)
	}

	updated, err := UpdateSession(db, s.SessionID, StatePatch{
		FormData: models.JSONMap{"name": "a", "surname": "b"},
	})
	if err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}
	stamps = FieldStamps(updated.Metadata)
	if _, ok := stamps["surname"]; !ok {
		t.Errorf("changed key should be stamped, got %v", stamps)
	}

	// Patch de metadata não pode sobrescrever o bookkeeping de carimbos.
	updated, err = UpdateSession(db, s.SessionID, StatePatch{
		Metadata: models.JSONMap{models.META_FIELD_UPDATED_AT: "bogus", "status": "review"},
	})
	if err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}
	if _, ok := updated.Metadata[models.META_FIELD_UPDATED_AT].(string); ok {
		t.Errorf("field_updated_at was clobbered by a metadata patch")
	}
	if updated.Metadata.GetString("status") != "review" {
		t.Errorf("regular metadata keys should merge, got %v", updated.Metadata)
	}
}
