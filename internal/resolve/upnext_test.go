package resolve

import "testing"

func TestComputeEndMarker(t *testing.T) {
	tests := []struct {
		name     string
		mode     string
		lead     float64
		duration float64
		skips    map[string]Interval
		hasNext  bool
		wantMode MarkerMode
		wantAt   float64
	}{
		{
			name:     "disabled mode",
			mode:     "disabled",
			duration: 1440,
			hasNext:  true,
			wantMode: MarkerOff,
		},
		{
			name:     "no next episode",
			mode:     "credits",
			duration: 1440,
			skips:    map[string]Interval{"credits": {1400, 1422}},
			hasNext:  false,
			wantMode: MarkerOff,
		},
		{
			name:     "fixed mode",
			mode:     "fixed",
			lead:     15,
			duration: 1440,
			skips:    map[string]Interval{"credits": {1400, 1422}},
			hasNext:  true,
			wantMode: MarkerFixed,
			wantAt:   1425,
		},
		{
			name:     "no skip data falls back to fixed",
			mode:     "credits",
			lead:     15,
			duration: 1440,
			hasNext:  true,
			wantMode: MarkerFixed,
			wantAt:   1425,
		},
		{
			name:     "only intro falls back to fixed",
			mode:     "credits",
			lead:     15,
			duration: 1440,
			skips:    map[string]Interval{"intro": {30, 120}},
			hasNext:  true,
			wantMode: MarkerFixed,
			wantAt:   1425,
		},
		{
			name:     "preview mode",
			mode:     "preview",
			duration: 1440,
			skips:    map[string]Interval{"preview": {1420, 1440}},
			hasNext:  true,
			wantMode: MarkerPreview,
			wantAt:   1420,
		},
		{
			name:     "credits run into preview at tolerance boundary",
			mode:     "credits",
			duration: 1440,
			skips:    map[string]Interval{"credits": {1400, 1422}, "preview": {1425, 1440}},
			hasNext:  true,
			wantMode: MarkerCredits,
			wantAt:   1400,
		},
		{
			name:     "gap beyond tolerance keeps post-credits scene unprompted",
			mode:     "credits",
			duration: 1440,
			skips:    map[string]Interval{"credits": {1400, 1415}, "preview": {1425, 1440}},
			hasNext:  true,
			wantMode: MarkerPreview,
			wantAt:   1425,
		},
		{
			name:     "implied preview after late credits",
			mode:     "credits",
			duration: 1440,
			skips:    map[string]Interval{"credits": {1400, 1430}},
			hasNext:  true,
			wantMode: MarkerCredits,
			wantAt:   1400,
		},
		{
			name:     "early credits imply no preview",
			mode:     "credits",
			lead:     15,
			duration: 1440,
			skips:    map[string]Interval{"credits": {100, 200}},
			hasNext:  true,
			wantMode: MarkerFixed,
			wantAt:   1425,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := computeEndMarker(tt.mode, tt.lead, tt.duration, tt.skips, tt.hasNext)
			if got.Mode != tt.wantMode {
				t.Fatalf("mode: got %s, want %s", got.Mode, tt.wantMode)
			}
			if got.Mode != MarkerOff && got.At != tt.wantAt {
				t.Fatalf("timecode: got %v, want %v", got.At, tt.wantAt)
			}
		})
	}
}

func TestComputeEndMarkerIdempotent(t *testing.T) {
	skips := map[string]Interval{"credits": {1400, 1422}, "preview": {1425, 1440}}
	first := computeEndMarker("credits", 15, 1440, skips, true)
	second := computeEndMarker("credits", 15, 1440, skips, true)
	if first != second {
		t.Fatalf("marker computation not deterministic: %+v vs %+v", first, second)
	}
}
