package memory

import (
	"strings"

	"golang.org/x/text/cases"
)

// triggerPhrases mark a conversation worth an extraction call.
// Missing one only costs a skipped extraction.
var triggerPhrases = []string{
	"remember",
	"don't forget",
	"do not forget",
	"i prefer",
	"i like",
	"i love",
	"i don't like",
	"i do not like",
	"i hate",
	"i dislike",
	"i'm interested in",
	"i am interested in",
	"i live in",
	"i'm from",
	"i am from",
	"i work",
	"my name is",
	"call me",
	"always show",
	"never show",
	"from now on",
}

// HasTrigger reports whether transcript contains any trigger phrase, ignoring case.
func HasTrigger(transcript string) bool {
	if transcript == "" {
		return false
	}
	fold := cases.Fold()
	text := fold.String(strings.ReplaceAll(transcript, "’", "'"))
	for _, p := range triggerPhrases {
		if strings.Contains(text, fold.String(p)) {
			return true
		}
	}
	return false
}
