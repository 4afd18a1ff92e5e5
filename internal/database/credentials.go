package database

import (
	"database/sql"
	"fmt"
	"time"
)

// AccountRecord holds the in-memory and persisted account credentials.
// The auth session is the only component that mutates it; everything else
// treats it as read-only, except for forcing a past expiry to trigger a
// refresh on the next authenticated request.
type AccountRecord struct {
	AccessToken      string
	TokenType        string
	RefreshToken     string
	ExpiresAt        time.Time
	AccountID        string
	AudioLocale      string
	SubtitleLocale   string
	SubtitleFallback string
	CMSBucket        string
	CMSPolicy        string
	CMSSignature     string
	CMSKeyPairID     string
	// AgentClass selects which user-agent the session presents:
	// "mobile" or "device". Persisted so it survives restarts.
	AgentClass string
}

// ProfileRecord holds the active profile selection. Switching profiles
// rewrites this record without invalidating the account refresh token.
type ProfileRecord struct {
	ProfileID      string
	Name           string
	Avatar         string
	AudioLocale    string
	SubtitleLocale string
}

// LoadAccount returns the persisted account credentials, or nil when absent
func (db *DB) LoadAccount() (*AccountRecord, error) {
	rec := &AccountRecord{}
	err := db.QueryRow(`
		SELECT access_token, token_type, refresh_token, expires_at, account_id,
		       audio_locale, subtitle_locale, subtitle_fallback,
		       cms_bucket, cms_policy, cms_signature, cms_key_pair_id, agent_class
		FROM account WHERE id = 1
	`).Scan(
		&rec.AccessToken, &rec.TokenType, &rec.RefreshToken, &rec.ExpiresAt, &rec.AccountID,
		&rec.AudioLocale, &rec.SubtitleLocale, &rec.SubtitleFallback,
		&rec.CMSBucket, &rec.CMSPolicy, &rec.CMSSignature, &rec.CMSKeyPairID, &rec.AgentClass,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	return rec, nil
}

// SaveAccount persists the account credentials, replacing any existing record
func (db *DB) SaveAccount(rec *AccountRecord) error {
	_, err := db.Exec(`
		INSERT INTO account (
			id, access_token, token_type, refresh_token, expires_at, account_id,
			audio_locale, subtitle_locale, subtitle_fallback,
			cms_bucket, cms_policy, cms_signature, cms_key_pair_id, agent_class, updated_at
		) VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			access_token = excluded.access_token,
			token_type = excluded.token_type,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			account_id = excluded.account_id,
			audio_locale = excluded.audio_locale,
			subtitle_locale = excluded.subtitle_locale,
			subtitle_fallback = excluded.subtitle_fallback,
			cms_bucket = excluded.cms_bucket,
			cms_policy = excluded.cms_policy,
			cms_signature = excluded.cms_signature,
			cms_key_pair_id = excluded.cms_key_pair_id,
			agent_class = excluded.agent_class,
			updated_at = excluded.updated_at
	`, rec.AccessToken, rec.TokenType, rec.RefreshToken, rec.ExpiresAt, rec.AccountID,
		rec.AudioLocale, rec.SubtitleLocale, rec.SubtitleFallback,
		rec.CMSBucket, rec.CMSPolicy, rec.CMSSignature, rec.CMSKeyPairID, rec.AgentClass, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

// DeleteAccount removes the persisted account credentials
func (db *DB) DeleteAccount() error {
	if _, err := db.Exec("DELETE FROM account WHERE id = 1"); err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	return nil
}

// LoadProfile returns the persisted profile selection, or nil when absent
func (db *DB) LoadProfile() (*ProfileRecord, error) {
	rec := &ProfileRecord{}
	err := db.QueryRow(`
		SELECT profile_id, name, avatar, audio_locale, subtitle_locale
		FROM profile WHERE id = 1
	`).Scan(&rec.ProfileID, &rec.Name, &rec.Avatar, &rec.AudioLocale, &rec.SubtitleLocale)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	return rec, nil
}

// SaveProfile persists the active profile selection
func (db *DB) SaveProfile(rec *ProfileRecord) error {
	_, err := db.Exec(`
		INSERT INTO profile (id, profile_id, name, avatar, audio_locale, subtitle_locale, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			profile_id = excluded.profile_id,
			name = excluded.name,
			avatar = excluded.avatar,
			audio_locale = excluded.audio_locale,
			subtitle_locale = excluded.subtitle_locale,
			updated_at = excluded.updated_at
	`, rec.ProfileID, rec.Name, rec.Avatar, rec.AudioLocale, rec.SubtitleLocale, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}

// DeleteProfile removes the persisted profile selection
func (db *DB) DeleteProfile() error {
	if _, err := db.Exec("DELETE FROM profile WHERE id = 1"); err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	return nil
}

// RecordSubtitle registers a cached subtitle file for a stream
func (db *DB) RecordSubtitle(streamID, fileName string) error {
	_, err := db.Exec(`
		INSERT INTO subtitle_cache (stream_id, file_name, fetched_at) VALUES (?, ?, ?)
		ON CONFLICT(stream_id, file_name) DO UPDATE SET fetched_at = excluded.fetched_at
	`, streamID, fileName, time.Now())
	if err != nil {
		return fmt.Errorf("failed to record subtitle: %w", err)
	}
	return nil
}

// StaleSubtitleStreams returns stream ids whose newest cached subtitle is
// older than the cutoff
func (db *DB) StaleSubtitleStreams(cutoff time.Time) ([]string, error) {
	rows, err := db.Query(`
		SELECT stream_id FROM subtitle_cache
		GROUP BY stream_id HAVING MAX(fetched_at) < ?
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale subtitles: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan stream id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteSubtitleStream removes all cache index rows for a stream
func (db *DB) DeleteSubtitleStream(streamID string) error {
	if _, err := db.Exec("DELETE FROM subtitle_cache WHERE stream_id = ?", streamID); err != nil {
		return fmt.Errorf("failed to delete subtitle index for %s: %w", streamID, err)
	}
	return nil
}
