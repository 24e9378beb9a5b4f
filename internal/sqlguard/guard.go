// Package sqlguard checks resolver SQL before it reaches a database. It only
// inspects text and never opens a connection.
package sqlguard

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrInvalidSQL matches every rejection returned by this package.
var ErrInvalidSQL = errors.New("invalid SQL")

// InvalidSQLError reports why a statement was rejected.
type InvalidSQLError struct {
	Reason string
}

func (e *InvalidSQLError) Error() string {
	return "invalid SQL: " + e.Reason
}

func (e *InvalidSQLError) Is(target error) bool {
	return target == ErrInvalidSQL
}

// Class is the statement class a resolver is allowed to run.
type Class int

const (
	Read Class = iota
	Write
)

func (c Class) String() string {
	if c == Write {
		return "write"
	}
	return "read"
}

var allowedVerbs = map[Class]map[string]bool{
	Read:  {"SELECT": true},
	Write: {"INSERT": true, "UPDATE": true, "DELETE": true},
}

// Validate returns nil when sqlText is a single statement whose verb belongs
// to class. The returned error is an *InvalidSQLError otherwise.
func Validate(class Class, sqlText string) error {
	body, err := normalize(sqlText)
	if err != nil {
		return err
	}
	verb := leadingVerb(body)
	if !allowedVerbs[class][verb] {
		if verb == "" {
			return &InvalidSQLError{Reason: "missing statement verb"}
		}
		return &InvalidSQLError{Reason: fmt.Sprintf("%s statement not allowed for %s resolver", verb, class)}
	}
	return nil
}

// Valid reports whether Validate accepts sqlText.
func Valid(class Class, sqlText string) bool {
	return Validate(class, sqlText) == nil
}

// Classify infers the class of sqlText from its verb.
func Classify(sqlText string) (Class, error) {
	body, err := normalize(sqlText)
	if err != nil {
		return Read, err
	}
	verb := leadingVerb(body)
	for _, class := range []Class{Read, Write} {
		if allowedVerbs[class][verb] {
			return class, nil
		}
	}
	return Read, &InvalidSQLError{Reason: fmt.Sprintf("unsupported statement verb %q", verb)}
}

// normalize trims whitespace and one trailing semicolon, then rejects empty
// text and multi-statement or comment markers.
func normalize(sqlText string) (string, error) {
	body := strings.TrimSpace(sqlText)
	body = strings.TrimSpace(strings.TrimSuffix(body, ";"))
	if body == "" {
		return "", &InvalidSQLError{Reason: "statement is empty"}
	}
	switch {
	case strings.Contains(body, ";"):
		return "", &InvalidSQLError{Reason: "multiple statements are not allowed"}
	case strings.Contains(body, "--"):
		return "", &InvalidSQLError{Reason: "line comments are not allowed"}
	case strings.Contains(body, "/*"):
		return "", &InvalidSQLError{Reason: "block comments are not allowed"}
	}
	return body, nil
}

func leadingVerb(body string) string {
	end := strings.IndexFunc(body, func(r rune) bool { return !unicode.IsLetter(r) })
	if end == -1 {
		end = len(body)
	}
	return strings.ToUpper(body[:end])
}
