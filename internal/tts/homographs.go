package tts

import "strings"

// Homograph is a word with multiple pronunciations whose choice depends on
// meaning in context. Pronunciations holds the IPA renderings; index 0 is
// the default used when disambiguation is unavailable.
type Homograph struct {
	Word           string
	Pronunciations []string
	Meanings       []string
}

// homographs is the local table of words worth a disambiguation call.
// Words absent from this table always use their single pronunciation.
var homographs = map[string]Homograph{
	"read": {
		Word:           "read",
		Pronunciations: []string{"ɹiːd", "ɹɛd"},
		Meanings:       []string{"present tense", "past tense"},
	},
	"lead": {
		Word:           "lead",
		Pronunciations: []string{"liːd", "lɛd"},
		Meanings:       []string{"to guide", "the metal"},
	},
	"tear": {
		Word:           "tear",
		Pronunciations: []string{"tɪɹ", "tɛɹ"},
		Meanings:       []string{"from crying", "to rip"},
	},
	"wind": {
		Word:           "wind",
		Pronunciations: []string{"wɪnd", "waɪnd"},
		Meanings:       []string{"moving air", "to turn"},
	},
	"bow": {
		Word:           "bow",
		Pronunciations: []string{"boʊ", "baʊ"},
		Meanings:       []string{"ribbon or weapon", "to bend forward"},
	},
	"live": {
		Word:           "live",
		Pronunciations: []string{"lɪv", "laɪv"},
		Meanings:       []string{"to be alive", "happening now"},
	},
	"bass": {
		Word:           "bass",
		Pronunciations: []string{"beɪs", "bæs"},
		Meanings:       []string{"low sound", "the fish"},
	},
	"close": {
		Word:           "close",
		Pronunciations: []string{"kloʊs", "kloʊz"},
		Meanings:       []string{"nearby", "to shut"},
	},
	"desert": {
		Word:           "desert",
		Pronunciations: []string{"ˈdɛzɚt", "dɪˈzɝt"},
		Meanings:       []string{"dry land", "to abandon"},
	},
	"object": {
		Word:           "object",
		Pronunciations: []string{"ˈɑbdʒɛkt", "əbˈdʒɛkt"},
		Meanings:       []string{"a thing", "to protest"},
	},
	"present": {
		Word:           "present",
		Pronunciations: []string{"ˈpɹɛzənt", "pɹɪˈzɛnt"},
		Meanings:       []string{"a gift or here", "to show"},
	},
	"record": {
		Word:           "record",
		Pronunciations: []string{"ˈɹɛkɚd", "ɹɪˈkɔɹd"},
		Meanings:       []string{"a saved account", "to capture"},
	},
	"wound": {
		Word:           "wound",
		Pronunciations: []string{"wuːnd", "waʊnd"},
		Meanings:       []string{"an injury", "past tense of wind"},
	},
	"dove": {
		Word:           "dove",
		Pronunciations: []string{"dʌv", "doʊv"},
		Meanings:       []string{"the bird", "past tense of dive"},
	},
	"minute": {
		Word:           "minute",
		Pronunciations: []string{"ˈmɪnɪt", "maɪˈnuːt"},
		Meanings:       []string{"sixty seconds", "tiny"},
	},
	"produce": {
		Word:           "produce",
		Pronunciations: []string{"ˈpɹoʊdus", "pɹəˈdus"},
		Meanings:       []string{"fruits and vegetables", "to make"},
	},
}

// LookupHomograph returns the table entry for word, matching
// case-insensitively with surrounding punctuation stripped.
func LookupHomograph(word string) (Homograph, bool) {
	normalized := strings.ToLower(strings.Trim(strings.TrimSpace(word), ".,;:!?\"'"))
	h, ok := homographs[normalized]
	return h, ok
}
