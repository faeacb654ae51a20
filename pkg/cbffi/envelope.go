package cbffi

import "encoding/json"

// Status tags an Envelope. The tag is explicit so that "no payload and no
// error" can never be mistaken for either outcome.
type Status uint8

const (
	// StatusOK marks a successful call.
	StatusOK Status = iota + 1
	// StatusError marks a failed call.
	StatusError
)

// String returns "ok", "error" or "invalid".
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusError:
		return "error"
	default:
		return "invalid"
	}
}

// FallbackMessage is the error text used when the real error cannot be
// rendered. It is a constant so producing it can never fail.
const FallbackMessage = `{"code":"Internal","msg":"error message unavailable"}`

// Envelope is the outcome of one boundary call: a payload and optional handle
// on success, or an error and nothing else on failure.
type Envelope struct {
	status  Status
	payload []byte
	handle  Handle
	err     *Error
}

// Success builds an OK envelope. A nil payload is normalised to an empty one;
// handles <= 0 are normalised to NoHandle.
func Success(payload []byte, h Handle) Envelope {
	if payload == nil {
		payload = []byte{}
	}
	if !h.Valid() {
		h = NoHandle
	}
	return Envelope{status: StatusOK, payload: payload, handle: h}
}

// Failure builds an error envelope. The payload is empty and the handle is
// always NoHandle. A nil err degrades to an Internal error.
func Failure(err error) Envelope {
	return Envelope{status: StatusError, err: AsError("", err)}
}

func failureOp(op string, err error) Envelope {
	return Envelope{status: StatusError, err: AsError(op, err)}
}

// Status returns the envelope tag. The zero Envelope has neither status.
func (e Envelope) Status() Status { return e.status }

// OK reports whether the call succeeded.
func (e Envelope) OK() bool { return e.status == StatusOK }

// Payload returns the output bytes. It is empty for failures.
func (e Envelope) Payload() []byte {
	if e.status != StatusOK {
		return nil
	}
	return e.payload
}

// Handle returns the handle returned by a successful call, or NoHandle.
func (e Envelope) Handle() Handle {
	if e.status != StatusOK {
		return NoHandle
	}
	return e.handle
}

// Err returns the failure, or nil for OK envelopes.
func (e Envelope) Err() error {
	if e.status != StatusError || e.err == nil {
		return nil
	}
	return e.err
}

// Code returns the failure code, or 0 for OK envelopes.
func (e Envelope) Code() Code {
	if e.status != StatusError || e.err == nil {
		return 0
	}
	return e.err.Code
}

// Message renders the error as the JSON text placed in Result.err. OK
// envelopes return "". The result is never empty for failures.
func (e Envelope) Message() string {
	if e.status != StatusError {
		return ""
	}
	if e.err == nil {
		return FallbackMessage
	}
	data, err := json.Marshal(e.err)
	if err != nil || len(data) == 0 {
		return FallbackMessage
	}
	return string(data)
}

// Valid checks the envelope invariants: exactly one of payload-or-error holds,
// and failures carry neither payload bytes nor a handle.
func (e Envelope) Valid() bool {
	switch e.status {
	case StatusOK:
		return e.err == nil && e.payload != nil
	case StatusError:
		return e.err != nil && len(e.payload) == 0 && e.handle == NoHandle
	default:
		return false
	}
}
