// Package persist provides codec-based serialization for store values and plan files.
package persist

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Codec names.
const (
	CodecJSON = "json"
	CodecGob  = "gob"
	CodecYAML = "yaml"
)

// Default indentation for pretty-printed JSON.
const defaultIndent = "  "

// ErrUnknownCodec is returned by CodecByName for unsupported names.
var ErrUnknownCodec = errors.New("unknown codec")

// Codec defines how a value is serialized and deserialized.
type Codec interface {
	// Encode writes the value to the writer.
	Encode(w io.Writer, value any) error
	// Decode reads the value from the reader.
	Decode(r io.Reader, value any) error
	// Name returns the codec name ("json", "gob", "yaml").
	Name() string
}

// JSONCodec implements Codec using JSON encoding with optional indentation.
type JSONCodec struct {
	// Indent specifies the indentation string. Empty string means compact JSON.
	Indent string
}

// NewJSONCodec creates a JSON codec with pretty-printing (2-space indent).
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{Indent: defaultIndent}
}

// NewCompactJSONCodec creates a JSON codec without indentation.
func NewCompactJSONCodec() *JSONCodec {
	return &JSONCodec{}
}

// Encode implements Codec.Encode using JSON encoding.
func (c *JSONCodec) Encode(w io.Writer, value any) error {
	encoder := json.NewEncoder(w)
	if c.Indent != "" {
		encoder.SetIndent("", c.Indent)
	}

	err := encoder.Encode(value)
	if err != nil {
		return fmt.Errorf("json encode: %w", err)
	}

	return nil
}

// Decode implements Codec.Decode using JSON decoding.
func (c *JSONCodec) Decode(r io.Reader, value any) error {
	decoder := json.NewDecoder(r)

	err := decoder.Decode(value)
	if err != nil {
		return fmt.Errorf("json decode: %w", err)
	}

	return nil
}

// Name implements Codec.Name.
func (c *JSONCodec) Name() string {
	return CodecJSON
}

// GobCodec implements Codec using gob encoding.
type GobCodec struct{}

// NewGobCodec creates a gob codec.
func NewGobCodec() *GobCodec {
	return &GobCodec{}
}

// Encode implements Codec.Encode using gob encoding.
func (c *GobCodec) Encode(w io.Writer, value any) error {
	err := gob.NewEncoder(w).Encode(value)
	if err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}

	return nil
}

// Decode implements Codec.Decode using gob decoding.
func (c *GobCodec) Decode(r io.Reader, value any) error {
	err := gob.NewDecoder(r).Decode(value)
	if err != nil {
		return fmt.Errorf("gob decode: %w", err)
	}

	return nil
}

// Name implements Codec.Name.
func (c *GobCodec) Name() string {
	return CodecGob
}

// YAMLCodec implements Codec using gopkg.in/yaml.v3.
type YAMLCodec struct{}

// NewYAMLCodec creates a YAML codec.
func NewYAMLCodec() *YAMLCodec {
	return &YAMLCodec{}
}

// Encode implements Codec.Encode using YAML encoding.
func (c *YAMLCodec) Encode(w io.Writer, value any) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(len(defaultIndent))

	err := encoder.Encode(value)
	if err != nil {
		return fmt.Errorf("yaml encode: %w", err)
	}

	err = encoder.Close()
	if err != nil {
		return fmt.Errorf("yaml encode: %w", err)
	}

	return nil
}

// Decode implements Codec.Decode using YAML decoding.
func (c *YAMLCodec) Decode(r io.Reader, value any) error {
	err := yaml.NewDecoder(r).Decode(value)
	if err != nil {
		return fmt.Errorf("yaml decode: %w", err)
	}

	return nil
}

// Name implements Codec.Name.
func (c *YAMLCodec) Name() string {
	return CodecYAML
}

// CodecByName returns the codec registered under name.
func CodecByName(name string) (Codec, error) {
	switch name {
	case CodecJSON:
		return NewJSONCodec(), nil
	case CodecGob:
		return NewGobCodec(), nil
	case CodecYAML:
		return NewYAMLCodec(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
}

// Marshal encodes value into a byte slice.
func Marshal(codec Codec, value any) ([]byte, error) {
	var buf bytes.Buffer

	err := codec.Encode(&buf, value)
	if err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Unmarshal decodes data into value, which must be a pointer.
func Unmarshal(codec Codec, data []byte, value any) error {
	return codec.Decode(bytes.NewReader(data), value)
}

// WriteFile encodes value to path. The file is written to a temporary sibling
// and renamed into place so readers never observe a partial file.
func WriteFile(path string, codec Codec, value any) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	tmpPath := tmp.Name()

	err = codec.Encode(tmp, value)
	if err != nil {
		tmp.Close()
		os.Remove(tmpPath)

		return fmt.Errorf("encode %s: %w", path, err)
	}

	err = tmp.Close()
	if err != nil {
		os.Remove(tmpPath)

		return fmt.Errorf("close temp file: %w", err)
	}

	err = os.Rename(tmpPath, path)
	if err != nil {
		os.Remove(tmpPath)

		return fmt.Errorf("rename %s: %w", path, err)
	}

	return nil
}
