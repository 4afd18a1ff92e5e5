package database

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func TestAccountRoundTrip(t *testing.T) {
	db := newTestDB(t)

	loaded, err := db.LoadAccount()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded != nil {
		t.Fatalf("expected no account, got %+v", loaded)
	}

	expiry := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	rec := &AccountRecord{
		AccessToken:      "access",
		TokenType:        "Bearer",
		RefreshToken:     "refresh",
		ExpiresAt:        expiry,
		AccountID:        "acct-1",
		AudioLocale:      "ja-JP",
		SubtitleLocale:   "en-US",
		SubtitleFallback: "en-US",
		CMSBucket:        "/bucket",
		CMSPolicy:        "pol",
		CMSSignature:     "sig",
		CMSKeyPairID:     "kp",
		AgentClass:       "device",
	}
	if err := db.SaveAccount(rec); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err = db.LoadAccount()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.AccessToken != "access" || loaded.AgentClass != "device" || loaded.CMSPolicy != "pol" {
		t.Fatalf("round trip mismatch: %+v", loaded)
	}
	if !loaded.ExpiresAt.Equal(expiry) {
		t.Fatalf("expiry mismatch: got %v, want %v", loaded.ExpiresAt, expiry)
	}

	// Upsert replaces the single record
	rec.AccessToken = "rotated"
	if err := db.SaveAccount(rec); err != nil {
		t.Fatalf("second save failed: %v", err)
	}
	loaded, _ = db.LoadAccount()
	if loaded.AccessToken != "rotated" {
		t.Fatalf("expected rotated token, got %q", loaded.AccessToken)
	}

	if err := db.DeleteAccount(); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	loaded, err = db.LoadAccount()
	if err != nil || loaded != nil {
		t.Fatalf("expected empty store after delete, got %+v, %v", loaded, err)
	}
}

func TestProfileRoundTrip(t *testing.T) {
	db := newTestDB(t)

	rec := &ProfileRecord{
		ProfileID:      "p1",
		Name:           "Main",
		Avatar:         "avatar.png",
		AudioLocale:    "ja-JP",
		SubtitleLocale: "en-US",
	}
	if err := db.SaveProfile(rec); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := db.LoadProfile()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.ProfileID != "p1" || loaded.Name != "Main" {
		t.Fatalf("round trip mismatch: %+v", loaded)
	}

	rec.ProfileID = "p2"
	rec.Name = "Kids"
	if err := db.SaveProfile(rec); err != nil {
		t.Fatalf("switch save failed: %v", err)
	}
	loaded, _ = db.LoadProfile()
	if loaded.ProfileID != "p2" {
		t.Fatalf("expected switched profile, got %+v", loaded)
	}

	if err := db.DeleteProfile(); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if loaded, _ := db.LoadProfile(); loaded != nil {
		t.Fatalf("expected no profile after delete, got %+v", loaded)
	}
}

func TestSubtitleIndex(t *testing.T) {
	db := newTestDB(t)

	if err := db.RecordSubtitle("EP1", "English.en.ass"); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if err := db.RecordSubtitle("EP1", "German.de.ass"); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if err := db.RecordSubtitle("EP2", "English.en.ass"); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	stale, err := db.StaleSubtitleStreams(time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("stale query failed: %v", err)
	}
	if len(stale) != 0 {
		t.Fatalf("fresh entries reported stale: %v", stale)
	}

	stale, err = db.StaleSubtitleStreams(time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("stale query failed: %v", err)
	}
	if len(stale) != 2 {
		t.Fatalf("expected both streams stale, got %v", stale)
	}

	if err := db.DeleteSubtitleStream("EP1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	stale, _ = db.StaleSubtitleStreams(time.Now().Add(time.Minute))
	if len(stale) != 1 || stale[0] != "EP2" {
		t.Fatalf("expected only EP2 left, got %v", stale)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	db := newTestDB(t)

	val, err := db.GetSetting("missing")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if val != "" {
		t.Fatalf("expected empty value, got %q", val)
	}

	if err := db.SetSetting("upnext.mode", "preview"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := db.SetSetting("upnext.mode", "credits"); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}

	val, err = db.GetSetting("upnext.mode")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if val != "credits" {
		t.Fatalf("expected overwritten value, got %q", val)
	}
}
