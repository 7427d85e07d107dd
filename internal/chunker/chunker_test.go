package chunker

import "testing"

func TestChunkEmptyInput(t *testing.T) {
	got := Chunk("", 120, 480)
	if len(got) != 1 || got[0] != "" {
		t.Fatalf("expected [\"\"], got %v", got)
	}
}

func TestChunkMaxCharsZeroReturnsUnchanged(t *testing.T) {
	text := "some text that would normally be split"
	got := Chunk(text, 10, 0)
	if len(got) != 1 || got[0] != text {
		t.Fatalf("expected unchanged text, got %v", got)
	}
}

func TestChunkRoundtrip(t *testing.T) {
	text := "First sentence。Second sentence。Third one here without a stop\nFourth line"
	for _, bounds := range [][2]int{{120, 480}, {5, 20}, {1, 10}, {0, 1000000}} {
		got := Chunk(text, bounds[0], bounds[1])
		joined := ""
		for _, c := range got {
			joined += c
		}
		if joined != text {
			t.Fatalf("roundtrip failed for bounds %v: got %q want %q", bounds, joined, text)
		}
	}
}

func TestChunkForceSplitsOversized(t *testing.T) {
	text := ""
	for i := 0; i < 1000; i++ {
		text += "a"
	}
	got := Chunk(text, 1, 100)
	for _, c := range got {
		if len([]rune(c)) > 100 {
			t.Fatalf("chunk exceeds max_chars: len=%d", len([]rune(c)))
		}
	}
}

func TestChunkMergesUndersized(t *testing.T) {
	text := "a。b。c。d。e。f。g。h。i。j。"
	got := Chunk(text, 5, 480)
	want := []string{"a。b。c。", "d。e。f。", "g。h。i。j。"}
	if len(got) != len(want) {
		t.Fatalf("expected undersized chunks merged into %d chunks of at least 5 runes, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("chunk %d: got %q want %q", i, got[i], want[i])
		}
	}
}

func TestChunkMinGreaterThanMaxClamped(t *testing.T) {
	text := "abcdefghijklmnopqrstuvwxyz"
	got := Chunk(text, 1000, 10)
	joined := ""
	for _, c := range got {
		joined += c
	}
	if joined != text {
		t.Fatalf("roundtrip failed: got %q want %q", joined, text)
	}
}
