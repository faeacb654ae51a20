package cbffi

// DefaultMaxPayload bounds a single payload when the configuration does not.
const DefaultMaxPayload = 1 << 30

// Marshaler converts call results into payload bytes and call inputs back into
// Go values. Raw bytes and strings pass through untouched; everything else goes
// through the configured codec.
type Marshaler struct {
	codec      Codec
	maxPayload int
}

// NewMarshaler returns a Marshaler. A nil codec selects JSON and a
// non-positive maxPayload selects DefaultMaxPayload.
func NewMarshaler(codec Codec, maxPayload int) *Marshaler {
	if codec == nil {
		codec = JSONCodec{}
	}
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}
	return &Marshaler{codec: codec, maxPayload: maxPayload}
}

// Codec returns the codec used for structured values.
func (m *Marshaler) Codec() Codec { return m.codec }

// MaxPayload returns the largest payload Encode will produce.
func (m *Marshaler) MaxPayload() int { return m.maxPayload }

// Encode renders v as payload bytes.
func (m *Marshaler) Encode(v any) ([]byte, error) {
	var out []byte
	switch val := v.(type) {
	case nil:
		return []byte{}, nil
	case []byte:
		out = val
	case string:
		out = []byte(val)
	default:
		data, err := m.codec.Marshal(v)
		if err != nil {
			return nil, Errorf(Internal, "cannot encode %T with %s codec", v, m.codec.Name(), err)
		}
		out = data
	}
	if len(out) > m.maxPayload {
		return nil, Errorf(ResourceExhausted, "payload of %d bytes exceeds limit of %d", len(out), m.maxPayload)
	}
	if out == nil {
		out = []byte{}
	}
	return out, nil
}

// Decode parses a structured input produced by the foreign caller.
func (m *Marshaler) Decode(data []byte, v any) error {
	if len(data) == 0 {
		return Errorf(InvalidArgument, "empty input for %T", v)
	}
	if err := m.codec.Unmarshal(data, v); err != nil {
		return Errorf(InvalidArgument, "cannot decode input with %s codec", m.codec.Name(), err)
	}
	return nil
}

// Envelope is the single conversion from a Go call outcome to an Envelope.
// When err is set the value and handle are ignored; the caller is responsible
// for releasing any handle it created.
func (m *Marshaler) Envelope(v any, h Handle, err error) Envelope {
	if err != nil {
		return Failure(err)
	}
	payload, err := m.Encode(v)
	if err != nil {
		return Failure(err)
	}
	return Success(payload, h)
}
