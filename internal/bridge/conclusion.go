package bridge

import "strings"

// conclusionLexicon is the fixed set of closing phrases scanned for in every
// transcribed line from either party. Matching is literal substring matching
// on lowercased text, faithful to the source behavior; it is deliberately
// not a classifier.
var conclusionLexicon = []string{
	"goodbye",
	"bye bye",
	"good bye",
	"have a great day",
	"have a good day",
	"have a nice day",
	"take care",
	"talk to you later",
	"talk to you then",
	"speak with you soon",
	"see you then",
	"see you soon",
	"have to go",
	"i need to go",
	"gotta go",
	"thank you for your time",
	"thanks for your time",
	"interview is confirmed",
	"we're all set",
	"we are all set",
	"looking forward to speaking with you",
	"looking forward to the interview",
}

// DetectConclusion reports whether a transcribed line contains a closing
// phrase.
func DetectConclusion(text string) bool {
	lowered := strings.ToLower(text)
	for _, phrase := range conclusionLexicon {
		if strings.Contains(lowered, phrase) {
			return true
		}
	}
	return false
}
