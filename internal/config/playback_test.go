package config

import "testing"

type fakeSettings map[string]string

func (f fakeSettings) GetSetting(key string) (string, error) {
	return f[key], nil
}

func TestLoaderTypes(t *testing.T) {
	l := NewLoader(fakeSettings{
		"int":       "42",
		"bad_int":   "forty-two",
		"bool_on":   "true",
		"bool_off":  "false",
		"float":     "2.5",
		"seconds":   "90",
	})

	if got := l.Int("int", 1); got != 42 {
		t.Errorf("Int = %d, want 42", got)
	}
	if got := l.Int("bad_int", 7); got != 7 {
		t.Errorf("Int with invalid value = %d, want default 7", got)
	}
	if got := l.Int("missing", 7); got != 7 {
		t.Errorf("Int missing = %d, want default 7", got)
	}
	if !l.Bool("bool_on", false) {
		t.Error("Bool(\"true\") should be true")
	}
	if l.Bool("bool_off", true) {
		t.Error("Bool(\"false\") should be false")
	}
	if !l.BoolDefaultTrue("missing") {
		t.Error("BoolDefaultTrue missing should be true")
	}
	if l.BoolDefaultTrue("bool_off") {
		t.Error("BoolDefaultTrue(\"false\") should be false")
	}
	if got := l.Float64("float", 1); got != 2.5 {
		t.Errorf("Float64 = %v, want 2.5", got)
	}
	if got := l.DurationSeconds("seconds", 10); got.Seconds() != 90 {
		t.Errorf("DurationSeconds = %v, want 90s", got)
	}
}

func TestLoadPlayback_Defaults(t *testing.T) {
	pb := LoadPlayback(NewLoader(fakeSettings{}))

	// Locales stay empty here; the resolver fills them from the account's
	// persisted profile preferences.
	if pb.AudioLocale != "" || pb.SubtitleLocale != "" || pb.SubtitleFallback != "" {
		t.Fatalf("locales should defer to the account record: %+v", pb)
	}
	if !pb.SoftSubtitles {
		t.Fatal("soft subtitles should default on")
	}
	if pb.UpNextMode != UpNextCredits {
		t.Fatalf("up-next mode default = %q, want credits", pb.UpNextMode)
	}
	if pb.UpNextLeadSeconds != 15 {
		t.Fatalf("lead default = %v, want 15", pb.UpNextLeadSeconds)
	}
	for _, category := range []string{"intro", "credits", "preview"} {
		if !pb.EnabledSkips[category] {
			t.Fatalf("skip category %s should default enabled", category)
		}
	}
	if !pb.SyncPlaytime {
		t.Fatal("playtime sync should default on")
	}
}

func TestLoadPlayback_Overrides(t *testing.T) {
	pb := LoadPlayback(NewLoader(fakeSettings{
		"playback.soft_subtitles": "false",
		"playback.skip_intro":     "false",
		"upnext.mode":             UpNextFixed,
		"upnext.lead_seconds":     "30",
	}))

	if pb.SoftSubtitles {
		t.Fatal("soft subtitles override ignored")
	}
	if pb.EnabledSkips["intro"] {
		t.Fatal("intro skip override ignored")
	}
	if !pb.EnabledSkips["credits"] {
		t.Fatal("credits skip should stay enabled")
	}
	if pb.UpNextMode != UpNextFixed || pb.UpNextLeadSeconds != 30 {
		t.Fatalf("up-next overrides ignored: %+v", pb)
	}
}
