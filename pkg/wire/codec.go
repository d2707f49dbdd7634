package wire

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/roach88/savegraph/pkg/record"
)

// DomainDocument separates document tags from any other SHA-256 use.
const DomainDocument = "savegraph/document/v1"

// Encoding is the reversible transform applied to stored text.
type Encoding string

const (
	EncodingNone   Encoding = "none"
	EncodingBase64 Encoding = "base64"
)

// ParseEncoding validates an encoding name. The empty string selects
// EncodingNone.
func ParseEncoding(s string) (Encoding, error) {
	switch Encoding(s) {
	case "", EncodingNone:
		return EncodingNone, nil
	case EncodingBase64:
		return EncodingBase64, nil
	}
	return "", fmt.Errorf("unknown encoding %q (want none or base64)", s)
}

func (e Encoding) encode(data []byte) []byte {
	if e != EncodingBase64 {
		return data
	}
	out := make([]byte, base64.StdEncoding.EncodedLen(len(data)))
	base64.StdEncoding.Encode(out, data)
	return out
}

func (e Encoding) decode(data []byte) ([]byte, error) {
	if e != EncodingBase64 {
		return data, nil
	}
	out := make([]byte, base64.StdEncoding.DecodedLen(len(data)))
	n, err := base64.StdEncoding.Decode(out, data)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}

// Codec turns SaveData into documents and back.
type Codec struct {
	Encoding Encoding
}

// Encode renders d as a document.
func (c Codec) Encode(d SaveData) ([]byte, error) {
	text, err := d.Text()
	if err != nil {
		return nil, err
	}
	envelope, err := marshalCanonical(map[string]any{
		"integrity": string(c.tag(text)),
		"payload":   string(c.Encoding.encode(text)),
	})
	if err != nil {
		return nil, fmt.Errorf("envelope: %w", err)
	}
	return c.Encoding.encode(envelope), nil
}

// Decode reads a document. Any failure is reported as ErrCorrupt.
func (c Codec) Decode(doc []byte) (SaveData, error) {
	raw, err := c.Encoding.decode(doc)
	if err != nil {
		return SaveData{}, fmt.Errorf("%w: document: %v", ErrCorrupt, err)
	}

	var envelope struct {
		Integrity *string `json:"integrity"`
		Payload   *string `json:"payload"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return SaveData{}, fmt.Errorf("%w: envelope: %v", ErrCorrupt, err)
	}
	if envelope.Integrity == nil || envelope.Payload == nil {
		return SaveData{}, fmt.Errorf("%w: envelope missing integrity or payload", ErrCorrupt)
	}

	text, err := c.Encoding.decode([]byte(*envelope.Payload))
	if err != nil {
		return SaveData{}, fmt.Errorf("%w: payload: %v", ErrCorrupt, err)
	}
	if subtle.ConstantTimeCompare(c.tag(text), []byte(*envelope.Integrity)) != 1 {
		return SaveData{}, fmt.Errorf("%w: integrity tag mismatch", ErrCorrupt)
	}
	return ParseText(text)
}

// EncodeSet is FromSet followed by Encode. Multi-reference IDs must be
// non-empty and free of commas.
func (c Codec) EncodeSet(capsuleID string, set record.Set) ([]byte, error) {
	if err := checkRefs(set); err != nil {
		return nil, err
	}
	return c.Encode(FromSet(capsuleID, set))
}

// DecodeSet is Decode followed by ToSet. The stored capsule ID must match
// capsuleID.
func (c Codec) DecodeSet(capsuleID string, doc []byte) (record.Set, error) {
	d, err := c.Decode(doc)
	if err != nil {
		return nil, err
	}
	if d.CapsuleID != capsuleID {
		return nil, fmt.Errorf("%w: document belongs to capsule %q, not %q", ErrCorrupt, d.CapsuleID, capsuleID)
	}
	return d.ToSet()
}

// tag computes the integrity tag over the encoded and plain text.
func (c Codec) tag(text []byte) []byte {
	h := sha256.New()
	h.Write([]byte(DomainDocument))
	h.Write([]byte{0x00})
	h.Write(c.Encoding.encode(text))
	h.Write(text)
	return c.Encoding.encode([]byte(hex.EncodeToString(h.Sum(nil))))
}
