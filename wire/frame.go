package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/lightningnetwork/lnd/tlv"
)

// MaxFramePayload bounds a single wire frame, mirroring
// lnwire.MaxMessagePayload's role of keeping a malicious peer from forcing
// an unbounded read.
const MaxFramePayload = 1 << 20

// FrameType tags the two payloads that travel over an encrypted
// Channeler session: MoveToken messages and out-of-band inconsistency
// notifications (§6 "Wire (friend <-> friend, inside encrypted session)").
type FrameType uint16

const (
	FrameMoveToken FrameType = iota
	FrameInconsistencyError
)

// ErrFrameTooLarge is returned by ReadFrame when the declared payload
// length exceeds MaxFramePayload.
var ErrFrameTooLarge = fmt.Errorf("wire: frame payload exceeds %d bytes", MaxFramePayload)

// WriteFrame writes a length-prefixed, typed frame: 2-byte type, 4-byte
// payload length, payload. There is no wire checksum; the encrypted
// session's AEAD tag already authenticates the bytes (GLOSSARY
// "Channeler").
func WriteFrame(w io.Writer, typ FrameType, payload []byte) error {
	var hdr [6]byte
	binary.BigEndian.PutUint16(hdr[0:2], uint16(typ))
	binary.BigEndian.PutUint32(hdr[2:6], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame reads one frame written by WriteFrame.
func ReadFrame(r io.Reader) (FrameType, []byte, error) {
	var hdr [6]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	typ := FrameType(binary.BigEndian.Uint16(hdr[0:2]))
	length := binary.BigEndian.Uint32(hdr[2:6])
	if length > MaxFramePayload {
		return 0, nil, ErrFrameTooLarge
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return typ, payload, nil
}

// TLV types for the extensible fields carried alongside a MoveToken's
// fixed, canonically-hashed core. relays_diff is extensible (new relay
// fields may be added later) while balances_hash/signature buffers stay a
// fixed layout (SPEC_FULL §2).
const (
	tlvTypeRelaysDiff tlv.Type = 1
)

// EncodeRelaysDiff serializes relays_diff as a single TLV record so future
// fields can be added to RelayAddress without breaking older peers.
func EncodeRelaysDiff(relays []RelayAddress) ([]byte, error) {
	var body bytes.Buffer
	if err := binary.Write(&body, binary.BigEndian, uint32(len(relays))); err != nil {
		return nil, err
	}
	for _, r := range relays {
		body.Write(r.PublicKey[:])
		addr := []byte(r.Address)
		if err := binary.Write(&body, binary.BigEndian, uint16(len(addr))); err != nil {
			return nil, err
		}
		body.Write(addr)
	}
	raw := body.Bytes()

	record := tlv.MakeDynamicRecord(
		tlvTypeRelaysDiff, &raw, func() uint64 { return uint64(len(raw)) },
		tlv.EVarBytes, tlv.DVarBytes,
	)
	stream, err := tlv.NewStream(record)
	if err != nil {
		return nil, err
	}
	var out bytes.Buffer
	if err := stream.Encode(&out); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// DecodeRelaysDiff parses the TLV stream produced by EncodeRelaysDiff.
func DecodeRelaysDiff(b []byte) ([]RelayAddress, error) {
	var raw []byte
	record := tlv.MakeDynamicRecord(
		tlvTypeRelaysDiff, &raw, func() uint64 { return uint64(len(raw)) },
		tlv.EVarBytes, tlv.DVarBytes,
	)
	stream, err := tlv.NewStream(record)
	if err != nil {
		return nil, err
	}
	if err := stream.Decode(bytes.NewReader(b)); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}

	body := bytes.NewReader(raw)
	var count uint32
	if err := binary.Read(body, binary.BigEndian, &count); err != nil {
		return nil, err
	}
	relays := make([]RelayAddress, 0, count)
	for i := uint32(0); i < count; i++ {
		var r RelayAddress
		if _, err := io.ReadFull(body, r.PublicKey[:]); err != nil {
			return nil, err
		}
		var addrLen uint16
		if err := binary.Read(body, binary.BigEndian, &addrLen); err != nil {
			return nil, err
		}
		addr := make([]byte, addrLen)
		if _, err := io.ReadFull(body, addr); err != nil {
			return nil, err
		}
		r.Address = string(addr)
		relays = append(relays, r)
	}
	return relays, nil
}
