package tts

import "testing"

func TestLookupHomograph(t *testing.T) {
	tests := []struct {
		word string
		want bool
	}{
		{word: "read", want: true},
		{word: "Read", want: true},
		{word: "read?", want: true},
		{word: "  wind,  ", want: true},
		{word: "banana", want: false},
		{word: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.word, func(t *testing.T) {
			h, ok := LookupHomograph(tt.word)
			if ok != tt.want {
				t.Fatalf("LookupHomograph(%q): got %v, want %v", tt.word, ok, tt.want)
			}
			if ok && len(h.Pronunciations) != 2 {
				t.Errorf("Homograph %q should carry two pronunciations, got %d", tt.word, len(h.Pronunciations))
			}
		})
	}
}

func TestDefaultPronunciation(t *testing.T) {
	p := DefaultPronunciation("read")
	if !p.IsHomograph || p.PronunciationIndex != 0 || p.Phonemes == "" {
		t.Errorf("Default homograph pronunciation: got %+v", p)
	}

	p = DefaultPronunciation("banana")
	if p.IsHomograph || p.Phonemes != "" {
		t.Errorf("Non-homograph default: got %+v", p)
	}
}
