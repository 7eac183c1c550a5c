package sqlrun

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	DelimiterSemicolon = ';'
	DelimiterPipe      = '|'

	DefaultDelimiter = DelimiterSemicolon
)

// SplitStatements splits a SQL script into individual statements on the given
// delimiter. Delimiters inside single-quoted literals do not split, "--" line
// comments are dropped, and blank statements are skipped. A trailing statement
// without a delimiter is kept.
func SplitStatements(script string, delimiter rune) []string {
	var statements []string
	var currentStatement strings.Builder
	var inQuotes, inComment bool

	flush := func() {
		statement := strings.TrimSpace(currentStatement.String())
		if statement != "" {
			statements = append(statements, statement)
		}
		currentStatement.Reset()
	}

	runes := []rune(script)
	for i := 0; i < len(runes); i++ {
		char := runes[i]

		switch {
		case inComment:
			// The newline ends the comment and is scanned again, so it can still be the delimiter.
			if char == '\n' {
				inComment = false
				i--
			}
		case inQuotes:
			// A doubled quote closes and reopens the literal, so it needs no special case.
			if char == '\'' {
				inQuotes = false
			}
			currentStatement.WriteRune(char)
		case char == '-' && i+1 < len(runes) && runes[i+1] == '-':
			inComment = true
			i++
		case char == '\'':
			inQuotes = true
			currentStatement.WriteRune(char)
		case char == delimiter:
			flush()
		default:
			currentStatement.WriteRune(char)
		}
	}

	flush()
	return statements
}

// ParseDelimiter converts a configured delimiter value into a rune. An empty
// value selects DefaultDelimiter.
func ParseDelimiter(value string) (rune, error) {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		value = trimmed
	}
	if value == "" {
		return DefaultDelimiter, nil
	}
	if utf8.RuneCountInString(value) != 1 {
		return 0, fmt.Errorf("%w: %q must be a single character", ErrInvalidDelimiter, value)
	}
	r, _ := utf8.DecodeRuneInString(value)
	switch r {
	case '\'', '-', utf8.RuneError:
		return 0, fmt.Errorf("%w: %q cannot be used", ErrInvalidDelimiter, value)
	}
	return r, nil
}
