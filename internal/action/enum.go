package action

import (
	"fmt"
	"slices"
)

// EnumCodec encodes an action that is a bare name with no payload.
// The token data is the name itself.
type EnumCodec[T ~string] struct {
	ns      Namespace
	actions []T
}

// NewEnumCodec returns a codec accepting exactly the given action names.
func NewEnumCodec[T ~string](ns Namespace, actions ...T) *EnumCodec[T] {
	return &EnumCodec[T]{ns: ns, actions: actions}
}

func (c *EnumCodec[T]) Namespace() Namespace { return c.ns }

// Encode returns the token for a.
func (c *EnumCodec[T]) Encode(a T) (string, error) {
	if !slices.Contains(c.actions, a) {
		return "", fmt.Errorf("action: %s: unknown action %q", c.ns, a)
	}
	tok := Token{Namespace: c.ns, Data: string(a)}.String()
	if err := checkLength(tok); err != nil {
		return "", err
	}
	return tok, nil
}

// MustEncode is Encode for actions known at compile time.
func (c *EnumCodec[T]) MustEncode(a T) string {
	tok, err := c.Encode(a)
	if err != nil {
		panic(err)
	}
	return tok
}

// Decode returns the action carried by raw. It returns ErrForeignNamespace
// for tokens of other workflows and *MalformedTokenError for unknown names.
func (c *EnumCodec[T]) Decode(raw string) (T, error) {
	var zero T
	data, err := split(c.ns, raw)
	if err != nil {
		return zero, err
	}
	a := T(data)
	if !slices.Contains(c.actions, a) {
		return zero, &MalformedTokenError{Token: raw, Err: fmt.Errorf("unknown action %q", data)}
	}
	return a, nil
}
