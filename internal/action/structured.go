package action

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// StructuredCodec encodes a small JSON object as the token data. The JSON
// field order follows T's struct fields, so tokens are stable across
// encodes. Decoded data is checked against a JSON Schema and then by an
// optional validate hook.
type StructuredCodec[T any] struct {
	ns       Namespace
	schema   *jsonschema.Schema
	validate func(T) error
}

// NewStructuredCodec compiles schema and returns a codec for ns. validate
// may be nil.
func NewStructuredCodec[T any](ns Namespace, schema string, validate func(T) error) (*StructuredCodec[T], error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	schemaURL := fmt.Sprintf("https://lcst.schemas.local/action/%s.schema.json", schemaName(ns))
	if err := c.AddResource(schemaURL, strings.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("action: %s: load schema: %w", ns, err)
	}
	compiled, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("action: %s: compile schema: %w", ns, err)
	}
	return &StructuredCodec[T]{ns: ns, schema: compiled, validate: validate}, nil
}

func (c *StructuredCodec[T]) Namespace() Namespace { return c.ns }

// Encode returns the token for v. v must pass the same checks Decode
// applies, so every encoded token decodes.
func (c *StructuredCodec[T]) Encode(v T) (string, error) {
	data, err := marshal(v)
	if err != nil {
		return "", fmt.Errorf("action: %s: encode: %w", c.ns, err)
	}
	if err := c.check(data, v); err != nil {
		return "", fmt.Errorf("action: %s: encode: %w", c.ns, err)
	}
	tok := Token{Namespace: c.ns, Data: string(data)}.String()
	if err := checkLength(tok); err != nil {
		return "", err
	}
	return tok, nil
}

// Decode returns the descriptor carried by raw. It returns
// ErrForeignNamespace for tokens of other workflows and
// *MalformedTokenError when the data is not valid JSON, fails
// validation, or is not byte for byte what Encode would produce.
func (c *StructuredCodec[T]) Decode(raw string) (T, error) {
	var zero T
	data, err := split(c.ns, raw)
	if err != nil {
		return zero, err
	}
	var v T
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return zero, &MalformedTokenError{Token: raw, Err: err}
	}
	if err := c.check([]byte(data), v); err != nil {
		return zero, &MalformedTokenError{Token: raw, Err: err}
	}
	if canon, err := marshal(v); err != nil || string(canon) != data {
		return zero, &MalformedTokenError{Token: raw, Err: ErrNonCanonical}
	}
	return v, nil
}

// ErrNonCanonical marks structured data that decodes but differs from its
// encoding, such as reordered keys or extra whitespace.
var ErrNonCanonical = errors.New("action: data is not in canonical form")

func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func (c *StructuredCodec[T]) check(data []byte, v T) error {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	if err := c.schema.Validate(doc); err != nil {
		return err
	}
	if c.validate != nil {
		return c.validate(v)
	}
	return nil
}

// schemaName turns "APP::Workflow" into "app-workflow".
func schemaName(ns Namespace) string {
	return strings.ToLower(strings.ReplaceAll(string(ns), "::", "-"))
}
