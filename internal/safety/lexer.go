package safety

import (
	"errors"
	"strings"
)

var errExecutableComment = errors.New("executable comments (/*! ... */ or /*M! ... */) are not allowed")

// StripCommentsAndLiterals replaces comments with a single space and string
// literals and quoted identifiers with empty placeholders, so that keyword
// detection only sees statement text. MySQL rules apply: "#" line comments,
// "-- " only when followed by whitespace, backslash escapes in strings.
// Executable comments are an error since MySQL runs their contents.
func StripCommentsAndLiterals(sql string) (string, error) {
	var out strings.Builder
	out.Grow(len(sql))
	n := len(sql)

	for i := 0; i < n; {
		c := sql[i]

		switch {
		case c == '-' && i+1 < n && sql[i+1] == '-' && (i+2 == n || isSpaceOrControl(sql[i+2])):
			i = skipLine(sql, i)
			out.WriteByte(' ')

		case c == '#':
			i = skipLine(sql, i)
			out.WriteByte(' ')

		case c == '/' && i+1 < n && sql[i+1] == '*':
			if i+2 < n && (sql[i+2] == '!' || (sql[i+2] == 'M' && i+3 < n && sql[i+3] == '!')) {
				return "", errExecutableComment
			}
			i += 2
			for i < n && !(sql[i] == '*' && i+1 < n && sql[i+1] == '/') {
				i++
			}
			i += 2
			out.WriteByte(' ')

		case c == '\'' || c == '"':
			i = skipQuoted(sql, i, c, true)
			out.WriteByte(c)
			out.WriteByte(c)

		case c == '`':
			i = skipQuoted(sql, i, c, false)
			out.WriteString("``")

		default:
			out.WriteByte(c)
			i++
		}
	}

	return out.String(), nil
}

func isSpaceOrControl(b byte) bool {
	return b <= ' '
}

func skipLine(s string, i int) int {
	for i < len(s) && s[i] != '\n' {
		i++
	}
	return i
}

// skipQuoted returns the index just past the literal opened at s[i].
// A doubled quote is an escaped quote; backslash escapes apply when escapes is set.
// An unterminated literal runs to the end of input.
func skipQuoted(s string, i int, quote byte, escapes bool) int {
	i++
	for i < len(s) {
		switch {
		case escapes && s[i] == '\\' && i+1 < len(s):
			i += 2
		case s[i] == quote && i+1 < len(s) && s[i+1] == quote:
			i += 2
		case s[i] == quote:
			return i + 1
		default:
			i++
		}
	}
	return i
}
