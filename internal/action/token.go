// Package action encodes typed action descriptors into the opaque tokens
// carried by UI controls, and decodes them back.
//
// A token is "<namespace>/<data>". The namespace ("<app>::<workflow>")
// names the owning workflow so several workflows can share one dispatch
// surface; data is workflow specific. Tokens round-trip byte for byte:
// Encode(Decode(x)) == x for every well-formed x.
package action

import (
	"errors"
	"fmt"
	"strings"
)

// Namespace identifies the workflow that owns a token.
type Namespace string

// Separator splits the namespace from the encoded data.
const Separator = "/"

// MaxTokenLength is the longest token a control can carry.
const MaxTokenLength = 255

// NewNamespace joins an application prefix and a workflow identifier.
func NewNamespace(app, workflow string) Namespace {
	return Namespace(app + "::" + workflow)
}

// Token is a parsed, still-encoded action token.
type Token struct {
	Namespace Namespace
	Data      string
}

func (t Token) String() string {
	return string(t.Namespace) + Separator + t.Data
}

// Parse splits a raw control id into its namespace and data. It reports
// false when raw is not shaped like a token at all.
func Parse(raw string) (Token, bool) {
	ns, data, ok := strings.Cut(raw, Separator)
	if !ok || ns == "" || !strings.Contains(ns, "::") {
		return Token{}, false
	}
	return Token{Namespace: Namespace(ns), Data: data}, true
}

// ErrForeignNamespace means the token belongs to another workflow. It is
// not a failure: dispatch tries the next owner.
var ErrForeignNamespace = errors.New("action: token belongs to another namespace")

// MalformedTokenError reports a token whose namespace matched but whose
// data could not be decoded.
type MalformedTokenError struct {
	Token string
	Err   error
}

func (e *MalformedTokenError) Error() string {
	return fmt.Sprintf("action: malformed token %q: %v", e.Token, e.Err)
}

func (e *MalformedTokenError) Unwrap() error { return e.Err }

// UserMessage is shown to the actor who pressed the control.
func (e *MalformedTokenError) UserMessage() string { return "Ação inválida." }

// split checks ownership of raw and returns its data part.
func split(ns Namespace, raw string) (string, error) {
	tok, ok := Parse(raw)
	if !ok || tok.Namespace != ns {
		return "", ErrForeignNamespace
	}
	return tok.Data, nil
}

func checkLength(tok string) error {
	if len(tok) > MaxTokenLength {
		return fmt.Errorf("action: token is %d bytes, limit %d", len(tok), MaxTokenLength)
	}
	return nil
}
