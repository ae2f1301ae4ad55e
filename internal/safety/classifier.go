// Package safety decides whether client-supplied SQL may be executed.
//
// The classifier is lexical: it strips comments and literals, then looks at
// statement shape and keyword tokens. It does not parse SQL and fails closed
// on anything it cannot account for.
package safety

import (
	"errors"
	"fmt"
	"strings"
)

// ErrQueryRejected is wrapped by Classification.Err for rejected statements.
var ErrQueryRejected = errors.New("query rejected")

// Classifier is the gate in front of query execution.
type Classifier interface {
	Classify(sql string) Classification
}

// Verdict of a classification
type Verdict int

const (
	Allowed Verdict = iota
	Rejected
)

func (v Verdict) String() string {
	if v == Allowed {
		return "allowed"
	}
	return "rejected"
}

type Classification struct {
	Verdict Verdict
	Reason  string
}

func (c Classification) Allowed() bool { return c.Verdict == Allowed }

// Err returns nil for allowed statements, otherwise an error wrapping ErrQueryRejected.
func (c Classification) Err() error {
	if c.Allowed() {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrQueryRejected, c.Reason)
}

func allow() Classification { return Classification{Verdict: Allowed} }

func reject(format string, args ...any) Classification {
	return Classification{Verdict: Rejected, Reason: fmt.Sprintf(format, args...)}
}

// ReadOnlyPrefixes are the statement keywords the classifier lets through.
var ReadOnlyPrefixes = []string{"SELECT", "SHOW", "DESCRIBE", "DESC", "EXPLAIN"}

// ForbiddenKeywords may not appear as a token anywhere in the statement.
// OUTFILE and DUMPFILE cover SELECT ... INTO, which writes on the server host.
var ForbiddenKeywords = []string{
	"INSERT", "UPDATE", "DELETE", "DROP", "ALTER", "CREATE",
	"TRUNCATE", "REPLACE", "GRANT", "REVOKE", "OUTFILE", "DUMPFILE",
}

// LexicalClassifier is the default Classifier.
type LexicalClassifier struct {
	allowed   map[string]bool
	forbidden map[string]bool
}

func NewLexicalClassifier() *LexicalClassifier {
	c := &LexicalClassifier{
		allowed:   make(map[string]bool, len(ReadOnlyPrefixes)),
		forbidden: make(map[string]bool, len(ForbiddenKeywords)),
	}
	for _, k := range ReadOnlyPrefixes {
		c.allowed[k] = true
	}
	for _, k := range ForbiddenKeywords {
		c.forbidden[k] = true
	}
	return c
}

func (c *LexicalClassifier) Classify(sql string) Classification {
	if strings.TrimSpace(sql) == "" {
		return reject("empty query")
	}

	stripped, err := StripCommentsAndLiterals(sql)
	if err != nil {
		return reject("%v", err)
	}

	body := strings.TrimSpace(stripped)
	body = strings.TrimSpace(strings.TrimSuffix(body, ";"))
	if body == "" {
		return reject("query contains no statement")
	}

	if idx := strings.IndexByte(body, ';'); idx >= 0 && strings.TrimSpace(body[idx+1:]) != "" {
		return reject("multiple statements are not allowed")
	}

	tokens := tokenize(body)
	if len(tokens) == 0 || tokens[0].offset != 0 {
		return reject("statement must start with one of %s", strings.Join(ReadOnlyPrefixes, ", "))
	}
	if lead := strings.ToUpper(tokens[0].text); !c.allowed[lead] {
		return reject("%s statements are not allowed; only %s queries may run", lead, strings.Join(ReadOnlyPrefixes, ", "))
	}

	for _, tok := range tokens[1:] {
		if kw := strings.ToUpper(tok.text); c.forbidden[kw] {
			return reject("query contains forbidden keyword: %s", kw)
		}
	}

	return allow()
}

type token struct {
	text   string
	offset int
}

func isWordByte(b byte) bool {
	return b == '_' || b == '$' ||
		(b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9') ||
		b >= 0x80
}

// tokenize returns the maximal runs of identifier characters in s.
func tokenize(s string) []token {
	var tokens []token
	for i := 0; i < len(s); {
		if !isWordByte(s[i]) {
			i++
			continue
		}
		start := i
		for i < len(s) && isWordByte(s[i]) {
			i++
		}
		tokens = append(tokens, token{text: s[start:i], offset: start})
	}
	return tokens
}
