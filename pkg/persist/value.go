package persist

// Value encodes and decodes a specific type with a Codec.
type Value[T any] struct {
	codec Codec
}

// NewValue creates a typed value codec.
func NewValue[T any](codec Codec) *Value[T] {
	return &Value[T]{codec: codec}
}

// Encode serializes value.
func (v *Value[T]) Encode(value *T) ([]byte, error) {
	return Marshal(v.codec, value)
}

// Decode deserializes data into a new T.
func (v *Value[T]) Decode(data []byte) (*T, error) {
	var value T

	err := Unmarshal(v.codec, data, &value)
	if err != nil {
		return nil, err
	}

	return &value, nil
}

// Codec returns the underlying codec.
func (v *Value[T]) Codec() Codec {
	return v.codec
}
