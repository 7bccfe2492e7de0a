package services

import (
	"testing"
	"time"

	"microbiz/models"
)

func TestNormalizeDataForPlatformFlattens(t *testing.T) {
	data := models.JSONMap{
		"selectedCategory": map[string]interface{}{"id": "retail", "label": "Retail & Trade"},
		"name":             "Tendai",
	}

	web := NormalizeDataForPlatform(data, models.CHANNEL_WEB)
	if web["category"] != "retail" {
		t.Errorf("web shape should flatten the selection id, got %v", web["category"])
	}
	if _, ok := web["selectedCategory"]; !ok {
		t.Errorf("normalization must not drop the detailed object")
	}
	if web["name"] != "Tendai" {
		t.Errorf("unknown keys must pass through untouched")
	}

	// Idempotente: normalizar de novo não muda nada.
	again := NormalizeDataForPlatform(web, models.CHANNEL_WEB)
	if !jsonEqual(web, again) {
		t.Errorf("normalization is not idempotent:\n%v\n%v", web, again)
	}
}

func TestNormalizeDataForPlatformRebuildsSelection(t *testing.T) {
	data := models.JSONMap{"business": "tuckshop"}

	wa := NormalizeDataForPlatform(data, models.CHANNEL_WHATSAPP)
	sel, ok := wa["selectedBusiness"].(map[string]interface{})
	if !ok {
		t.Fatalf("whatsapp shape should rebuild the selection object, got %v", wa["selectedBusiness"])
	}
	if sel["id"] != "tuckshop" {
		t.Errorf("rebuilt selection id = %v", sel["id"])
	}
}

func TestNormalizeDataHoistsNestedResponses(t *testing.T) {
	data := models.JSONMap{
		"data": map[string]interface{}{
			"formResponses": map[string]interface{}{"product": "loan"},
		},
	}
	out := NormalizeDataForPlatform(data, models.CHANNEL_WEB)
	fr, ok := out["formResponses"].(map[string]interface{})
	if !ok || fr["product"] != "loan" {
		t.Errorf("nested formResponses should be hoisted, got %v", out)
	}
}

func TestSynchronizeDisjointKeys(t *testing.T) {
	db := testDB(t)

	s1, _ := CreateSession(db, models.CHANNEL_WEB, models.STEP_FORM,
		models.JSONMap{"name": "Tendai"}, nil)
	s2, _ := CreateSession(db, models.CHANNEL_WHATSAPP, models.STEP_FORM,
		models.JSONMap{"surname": "Moyo"}, nil)

	report, err := Synchronize(db, s1.SessionID, s2.SessionID)
	if err != nil {
		t.Fatalf("Synchronize: %v", err)
	}
	if report.Warning != "" {
		t.Errorf("disjoint merge should not warn: %q", report.Warning)
	}

	for _, id := range []string{s1.SessionID, s2.SessionID} {
		got, _ := GetSession(db, id)
		if got.FormData.GetString("name") != "Tendai" || got.FormData.GetString("surname") != "Moyo" {
			t.Errorf("session %s missing merged keys: %v", id, got.FormData)
		}
		if got.Metadata.GetString(models.META_LAST_SYNC) == "" {
			t.Errorf("session %s missing last_sync metadata", id)
		}
	}
}

func TestSynchronizeNewerFieldWins(t *testing.T) {
	db := testDB(t)

	s1, _ := CreateSession(db, models.CHANNEL_WEB, models.STEP_FORM,
		models.JSONMap{"name": "old-value"}, nil)
	s2, _ := CreateSession(db, models.CHANNEL_WHATSAPP, models.STEP_FORM,
		models.JSONMap{"name": "new-value"}, nil)

	older := time.Now().Add(-2 * time.Hour).UTC().Format(time.RFC3339)
	newer := time.Now().Add(-1 * time.Minute).UTC().Format(time.RFC3339)
	stamp := func(id, ts string) {
		err := db.Model(&models.ApplicationSession{}).
			Where("session_id = ?", id).
			Update("metadata", models.JSONMap{
				models.META_FIELD_UPDATED_AT: map[string]interface{}{"name": ts},
			}).Error
		if err != nil {
			t.Fatalf("stamp %s: %v", id, err)
		}
	}
	stamp(s1.SessionID, older)
	stamp(s2.SessionID, newer)

	if _, err := Synchronize(db, s1.SessionID, s2.SessionID); err != nil {
		t.Fatalf("Synchronize: %v", err)
	}

	got, _ := GetSession(db, s1.SessionID)
	if got.FormData.GetString("name") != "new-value" {
		t.Errorf("most recent write should win, got %q", got.FormData.GetString("name"))
	}
}

func TestSynchronizeCompletedIsAuthoritative(t *testing.T) {
	db := testDB(t)

	done, _ := CreateSession(db, models.CHANNEL_WEB, models.STEP_SUMMARY,
		models.JSONMap{"product": "approved-loan"}, nil)
	step := models.STEP_COMPLETED
	if _, err := UpdateSession(db, done.SessionID, StatePatch{CurrentStep: &step}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	open, _ := CreateSession(db, models.CHANNEL_WHATSAPP, models.STEP_FORM,
		models.JSONMap{"product": "stale-edit", "extra": "kept"}, nil)

	report, err := Synchronize(db, done.SessionID, open.SessionID)
	if err != nil {
		t.Fatalf("Synchronize: %v", err)
	}
	if report.Warning == "" {
		t.Errorf("completed vs in-progress merge should carry a warning")
	}

	gotDone, _ := GetSession(db, done.SessionID)
	if gotDone.FormData.GetString("product") != "approved-loan" {
		t.Errorf("authoritative data was overwritten: %v", gotDone.FormData)
	}
	if gotDone.CurrentStep != models.STEP_COMPLETED {
		t.Errorf("completed session regressed to %q", gotDone.CurrentStep)
	}

	gotOpen, _ := GetSession(db, open.SessionID)
	if gotOpen.FormData.GetString("extra") != "kept" {
		t.Errorf("keys absent on the authoritative side should survive: %v", gotOpen.FormData)
	}
	if gotOpen.CurrentStep != models.STEP_COMPLETED {
		t.Errorf("merged step should converge to completed, got %q", gotOpen.CurrentStep)
	}
}

func TestSynchronizeCompletedAliasPairNotFlattenedOver(t *testing.T) {
	db := testDB(t)

	done, _ := CreateSession(db, models.CHANNEL_WEB, models.STEP_SUMMARY,
		models.JSONMap{"category": "retail-final"}, nil)
	step := models.STEP_COMPLETED
	if _, err := UpdateSession(db, done.SessionID, StatePatch{CurrentStep: &step}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	// O lado em andamento contribui o alias detalhado da mesma seleção:
	// chave disjunta no merge, mas o flatten não pode reescrever "category".
	open, _ := CreateSession(db, models.CHANNEL_WHATSAPP, models.STEP_FORM,
		models.JSONMap{"selectedCategory": map[string]interface{}{"id": "agriculture"}}, nil)

	report, err := Synchronize(db, done.SessionID, open.SessionID)
	if err != nil {
		t.Fatalf("Synchronize: %v", err)
	}
	if report.Warning == "" {
		t.Errorf("completed vs in-progress merge should carry a warning")
	}

	got, _ := GetSession(db, done.SessionID)
	if got.FormData.GetString("category") != "retail-final" {
		t.Errorf("completed session field overwritten: category = %v",
			got.FormData["category"])
	}
}

func TestNormalizeKeepsExistingFlatKey(t *testing.T) {
	data := models.JSONMap{
		"category":         "retail-final",
		"selectedCategory": map[string]interface{}{"id": "agriculture"},
	}
	out := NormalizeDataForPlatform(data, models.CHANNEL_WEB)
	if out["category"] != "retail-final" {
		t.Errorf("flatten must not overwrite an answered key, got %v", out["category"])
	}
}

func TestSynchronizeMissingSessionFailsWhole(t *testing.T) {
	db := testDB(t)

	s, _ := CreateSession(db, models.CHANNEL_WEB, models.STEP_FORM,
		models.JSONMap{"name": "before"}, nil)

	if _, err := Synchronize(db, s.SessionID, "whatsapp_missing"); err != ErrSessionNotFound {
		t.Fatalf("Synchronize with missing pair = %v, want ErrSessionNotFound", err)
	}

	got, _ := GetSession(db, s.SessionID)
	if got.Metadata.GetString(models.META_LAST_SYNC) != "" {
		t.Errorf("failed sync must not leave partial metadata: %v", got.Metadata)
	}
}

func TestSwitchToWhatsApp(t *testing.T) {
	db := testDB(t)

	s, _ := CreateSession(db, models.CHANNEL_WEB, models.STEP_DOCUMENTS,
		models.JSONMap{"name": "Tendai"}, nil)

	code, err := SwitchToWhatsApp(db, s.SessionID, "077 123 4567")
	if err != nil {
		t.Fatalf("SwitchToWhatsApp: %v", err)
	}
	if len(code) != CODE_LENGTH {
		t.Errorf("code %q length = %d", code, len(code))
	}

	got, _ := GetSession(db, s.SessionID)
	if got.Channel != models.CHANNEL_WEB {
		t.Errorf("switch must not mutate the source channel, got %q", got.Channel)
	}
	if got.Metadata.GetString(models.META_PHONE_NUMBER) != "263771234567" {
		t.Errorf("phone should be stored normalized, got %q",
			got.Metadata.GetString(models.META_PHONE_NUMBER))
	}

	// Segunda chamada reaproveita o mesmo código em vez de girar um novo.
	again, err := SwitchToWhatsApp(db, s.SessionID, "0771234567")
	if err != nil {
		t.Fatalf("second SwitchToWhatsApp: %v", err)
	}
	if again != code {
		t.Errorf("live code should be reused, got %q then %q", code, again)
	}
}

func TestSwitchToWebCreatesAndReuses(t *testing.T) {
	db := testDB(t)

	wa, _ := CreateSession(db, models.CHANNEL_WHATSAPP, models.STEP_FORM,
		models.JSONMap{"selectedCategory": map[string]interface{}{"id": "retail"}}, nil)
	if _, err := GenerateCode(db, wa.SessionID, ""); err != nil {
		t.Fatalf("seed code: %v", err)
	}

	web, err := SwitchToWeb(db, wa.SessionID)
	if err != nil {
		t.Fatalf("SwitchToWeb: %v", err)
	}
	if web.Channel != models.CHANNEL_WEB {
		t.Errorf("channel = %q", web.Channel)
	}
	if web.ReferenceCode != nil {
		t.Errorf("the code stays on the origin session, web session got %q", *web.ReferenceCode)
	}
	if web.FormData["category"] != "retail" {
		t.Errorf("form data should arrive web-normalized: %v", web.FormData)
	}
	if web.Metadata.GetString("created_from_whatsapp") != wa.SessionID {
		t.Errorf("missing origin metadata: %v", web.Metadata)
	}

	again, err := SwitchToWeb(db, wa.SessionID)
	if err != nil {
		t.Fatalf("second SwitchToWeb: %v", err)
	}
	if again.SessionID != web.SessionID {
		t.Errorf("second switch should reuse the paired session, got %q and %q",
			web.SessionID, again.SessionID)
	}
}

func TestSyncStatusDiff(t *testing.T) {
	db := testDB(t)

	s1, _ := CreateSession(db, models.CHANNEL_WEB, models.STEP_FORM,
		models.JSONMap{"name": "a", "shared": "x"}, nil)
	s2, _ := CreateSession(db, models.CHANNEL_WHATSAPP, models.STEP_FORM,
		models.JSONMap{"surname": "b", "shared": "x"}, nil)

	report, err := SyncStatus(db, s1.SessionID, s2.SessionID)
	if err != nil {
		t.Fatalf("SyncStatus: %v", err)
	}
	if report.InSync {
		t.Errorf("sessions with different keys reported in sync")
	}
	want := []string{"name", "surname"}
	if len(report.DiffKeys) != len(want) {
		t.Fatalf("diff keys = %v, want %v", report.DiffKeys, want)
	}
	for i, k := range want {
		if report.DiffKeys[i] != k {
			t.Errorf("diff keys = %v, want %v", report.DiffKeys, want)
		}
	}

	if _, err := Synchronize(db, s1.SessionID, s2.SessionID); err != nil {
		t.Fatalf("Synchronize: %v", err)
	}
	report, _ = SyncStatus(db, s1.SessionID, s2.SessionID)
	if !report.InSync {
		t.Errorf("sessions should be in sync after merge, diff = %v", report.DiffKeys)
	}
}
