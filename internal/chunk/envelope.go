package chunk

import (
	"fmt"
	"time"

	"vitalsync/internal/vital"
)

// Envelope is the self-describing form of a chunk written to the archive
// vault. It carries everything needed to decode the payload without the
// central database.
type Envelope struct {
	Version int       `cbor:"1,keyasint"`
	UserID  int64     `cbor:"2,keyasint"`
	Day     time.Time `cbor:"3,keyasint"`
	Count   int       `cbor:"4,keyasint"`
	Codec   Codec     `cbor:"5,keyasint"`
	RawSize int       `cbor:"6,keyasint"`
	Payload []byte    `cbor:"7,keyasint"`
}

// EnvelopeVersion is the current archive envelope format.
const EnvelopeVersion = 1

// MarshalEnvelope encodes e deterministically, so equal chunks produce
// equal bytes.
func MarshalEnvelope(e *Envelope) ([]byte, error) {
	if e.Version == 0 {
		e.Version = EnvelopeVersion
	}
	b, err := encMode.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshaling envelope: %w", err)
	}
	return b, nil
}

// UnmarshalEnvelope decodes an archive envelope.
func UnmarshalEnvelope(b []byte) (*Envelope, error) {
	var e Envelope
	if err := decMode.Unmarshal(b, &e); err != nil {
		return nil, fmt.Errorf("unmarshaling envelope: %w", err)
	}
	if e.Version != EnvelopeVersion {
		return nil, fmt.Errorf("unsupported envelope version %d", e.Version)
	}
	return &e, nil
}

// Samples decodes the envelope payload.
func (e *Envelope) Samples() ([]vital.Sample, error) {
	return Decode(e.Payload, e.Codec, e.RawSize)
}
