package export

import (
	"strings"
	"testing"
)

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in     string
		maxLen int
		want   string
	}{
		{"plain title", 0, "plain title"},
		{"Q&A: edge cases?", 0, "Q_A_ edge cases_"},
		{"slash/back\\slash", 0, "slash_back_slash"},
		{"  trimmed  ", 0, "trimmed"},
		{"ctrl\x00char", 0, "ctrlchar"},
		{"truncate me here", 8, "truncate"},
		{"Ünïcode (ok)", 0, "Ünïcode (ok)"},
		{"", 0, ""},
	}
	for _, tt := range tests {
		if got := SanitizeName(tt.in, tt.maxLen); got != tt.want {
			t.Errorf("SanitizeName(%q, %d) = %q, want %q", tt.in, tt.maxLen, got, tt.want)
		}
	}
}

func TestGenerateEDL(t *testing.T) {
	clips := []Clip{
		{Name: "Opening", MediaPath: "/clips/01_Opening.mp4", StartMs: 0, EndMs: 30000},
		{Name: "Reveal", MediaPath: "/clips/02_Reveal.mp4", StartMs: 60000, EndMs: 75000},
	}

	edl := GenerateEDL(clips, "keynote highlights", 25)

	if !strings.HasPrefix(edl, "TITLE: keynote highlights") {
		t.Errorf("missing title header:\n%s", edl)
	}
	if !strings.Contains(edl, "FCM: NON-DROP FRAME") {
		t.Errorf("25fps should be non-drop frame:\n%s", edl)
	}
	if !strings.Contains(edl, "001  AX") || !strings.Contains(edl, "002  AX") {
		t.Errorf("missing event lines:\n%s", edl)
	}
	// First clip: source 0-30s, record 0-30s.
	if !strings.Contains(edl, "00:00:00:00 00:00:30:00 00:00:00:00 00:00:30:00") {
		t.Errorf("first event timecodes wrong:\n%s", edl)
	}
	// Second clip starts on the record timeline where the first ended.
	if !strings.Contains(edl, "00:01:00:00 00:01:15:00 00:00:30:00 00:00:45:00") {
		t.Errorf("second event timecodes wrong:\n%s", edl)
	}
	if !strings.Contains(edl, "* FROM CLIP NAME:  Reveal") {
		t.Errorf("missing clip name comment:\n%s", edl)
	}
}

func TestGenerateEDLDropFrame(t *testing.T) {
	edl := GenerateEDL(nil, "t", 29.97)
	if !strings.Contains(edl, "FCM: DROP FRAME") {
		t.Errorf("29.97fps should be drop frame:\n%s", edl)
	}
}

func TestMsToTimecode(t *testing.T) {
	tests := []struct {
		ms   int
		fps  int
		want string
	}{
		{0, 25, "00:00:00:00"},
		{1000, 25, "00:00:01:00"},
		{1040, 25, "00:00:01:01"},
		{3_600_000, 25, "01:00:00:00"},
		{90_500, 30, "00:01:30:15"},
	}
	for _, tt := range tests {
		if got := msToTimecode(tt.ms, tt.fps); got != tt.want {
			t.Errorf("msToTimecode(%d, %d) = %q, want %q", tt.ms, tt.fps, got, tt.want)
		}
	}
}
