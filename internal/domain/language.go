package domain

import (
	"fmt"
	"strings"
)

// Language selects the remote execution runtime.
type Language string

const (
	LanguageDart   Language = "DART"
	LanguagePython Language = "PYTHON"
	LanguageC      Language = "C"
)

// ParseLanguage is case-insensitive on input but the wire value sent to
// the execution service is always the upper-case enum name.
func ParseLanguage(s string) (Language, error) {
	switch Language(strings.ToUpper(s)) {
	case LanguageDart:
		return LanguageDart, nil
	case LanguagePython:
		return LanguagePython, nil
	case LanguageC:
		return LanguageC, nil
	}
	return "", fmt.Errorf("unknown language %q", s)
}
