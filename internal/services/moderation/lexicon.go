package moderation

import "strings"

// blockedTerms is the lexical policy list checked against submission text.
// Matching is whole-word and case-insensitive.
var blockedTerms = map[string]struct{}{
	"fuck":    {},
	"shit":    {},
	"bitch":   {},
	"asshole": {},
	"bastard": {},
	"cunt":    {},
	"dick":    {},
	"nigger":  {},
	"faggot":  {},
	"whore":   {},
	"slut":    {},
}

func containsProfanity(text string) bool {
	lowered := strings.ToLower(text)
	for _, word := range strings.FieldsFunc(lowered, isWordBoundary) {
		if _, ok := blockedTerms[word]; ok {
			return true
		}
	}
	return false
}

func isWordBoundary(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return false
	case r >= '0' && r <= '9':
		return false
	}
	return true
}
