package consumer

import "fmt"

// Message is one telemetry message as delivered by the broker.
type Message struct {
	Body Body
	// Annotations is the broker metadata accompanying the body.
	Annotations map[string]any
}

// Body is the encoded payload of a Message. The supported shapes are
// StringBody, BytesBody and DataSection; anything else is unsupported.
type Body interface {
	isBody()
}

// StringBody is a payload delivered as a string value.
type StringBody string

// BytesBody is a payload delivered as a raw byte value.
type BytesBody []byte

// DataSection is a payload delivered as an opaque data section.
type DataSection []byte

func (StringBody) isBody()  {}
func (BytesBody) isBody()   {}
func (DataSection) isBody() {}

// DecodeBody returns the body as a UTF-8 string.
func DecodeBody(b Body) (string, error) {
	switch v := b.(type) {
	case StringBody:
		return string(v), nil
	case BytesBody:
		return string(v), nil
	case DataSection:
		return string(v), nil
	case nil:
		return "", fmt.Errorf("%w: missing body", ErrUnsupportedBody)
	default:
		return "", fmt.Errorf("%w: %T", ErrUnsupportedBody, b)
	}
}
