// Package invoiceformat encodes the three pieces of data that cross a
// node's boundary outside the friend-to-friend wire protocol - an Invoice
// request a seller hands a buyer, the Commit a buyer hands back to claim
// it, and the Receipt a seller returns as proof of payment (§3 "Invoice",
// "Commit", "Receipt") - as bech32 strings a user can paste, scan as a QR
// code, or read over the phone. Grounded on zpay32/invoice.go's bech32
// payment-request encoding, using the same github.com/btcsuite/btcutil/
// bech32 package rather than a from-scratch base32 codec.
package invoiceformat

import (
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcutil/bech32"

	"github.com/offstlabs/offst/identity"
	"github.com/offstlabs/offst/wire"
)

const (
	hrpInvoice = "offstinvoice"
	hrpCommit  = "offstcommit"
	hrpReceipt = "offstreceipt"
)

// InvoiceRequest is everything a buyer needs to CreatePayment and
// CreateTransaction toward a seller's invoice.
type InvoiceRequest struct {
	InvoiceId        wire.InvoiceId
	Currency         wire.Currency
	TotalDestPayment wire.Amount
	DestPk           identity.PublicKey
}

// CommitData is the buyer-signed unlock the seller submits to
// Funder.CommitInvoice to claim an invoice's funds.
type CommitData struct {
	InvoiceId        wire.InvoiceId
	Currency         wire.Currency
	TotalDestPayment wire.Amount
	SrcPlainLock     [32]byte
	DestPlainLock    [32]byte
	SerialNum        uint64
	Signature        []byte
}

// ReceiptData is the seller-signed proof of payment returned to the
// buyer once CommitInvoice succeeds.
type ReceiptData struct {
	InvoiceId        wire.InvoiceId
	Currency         wire.Currency
	DestPayment      wire.Amount
	TotalDestPayment wire.Amount
	Signature        []byte
}

func putAmount(buf []byte, a wire.Amount) {
	var scratch [16]byte
	wire.PutAmount128(scratch[:], a)
	copy(buf, scratch[:])
}

func getAmount(buf []byte) wire.Amount {
	return wire.Amount128(buf)
}

func encode(hrp string, data []byte) (string, error) {
	converted, err := bech32.ConvertBits(data, 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("invoiceformat: convert bits: %w", err)
	}
	return bech32.Encode(hrp, converted)
}

func decode(wantHrp, s string) ([]byte, error) {
	hrp, data, err := bech32.DecodeNoLimit(s)
	if err != nil {
		return nil, fmt.Errorf("invoiceformat: decode: %w", err)
	}
	if hrp != wantHrp {
		return nil, fmt.Errorf("invoiceformat: unexpected prefix %q, want %q", hrp, wantHrp)
	}
	return bech32.ConvertBits(data, 5, 8, false)
}

// EncodeInvoice renders req as a shareable "offstinvoice1..." string.
func EncodeInvoice(req InvoiceRequest) (string, error) {
	buf := make([]byte, 0, len(req.InvoiceId)+2+len(req.Currency)+16+identity.PublicKeySize)
	buf = append(buf, req.InvoiceId[:]...)
	var curLen [2]byte
	binary.BigEndian.PutUint16(curLen[:], uint16(len(req.Currency)))
	buf = append(buf, curLen[:]...)
	buf = append(buf, []byte(req.Currency)...)
	var amt [16]byte
	putAmount(amt[:], req.TotalDestPayment)
	buf = append(buf, amt[:]...)
	buf = append(buf, req.DestPk[:]...)
	return encode(hrpInvoice, buf)
}

// DecodeInvoice parses a string produced by EncodeInvoice.
func DecodeInvoice(s string) (InvoiceRequest, error) {
	data, err := decode(hrpInvoice, s)
	if err != nil {
		return InvoiceRequest{}, err
	}
	var req InvoiceRequest
	off := copy(req.InvoiceId[:], data)
	if len(data) < off+2 {
		return InvoiceRequest{}, fmt.Errorf("invoiceformat: truncated invoice")
	}
	curLen := int(binary.BigEndian.Uint16(data[off : off+2]))
	off += 2
	if len(data) < off+curLen+16+identity.PublicKeySize {
		return InvoiceRequest{}, fmt.Errorf("invoiceformat: truncated invoice")
	}
	req.Currency = wire.Currency(data[off : off+curLen])
	off += curLen
	req.TotalDestPayment = getAmount(data[off : off+16])
	off += 16
	copy(req.DestPk[:], data[off:off+identity.PublicKeySize])
	return req, nil
}

// EncodeCommit renders c as a shareable "offstcommit1..." string.
func EncodeCommit(c CommitData) (string, error) {
	buf := make([]byte, 0, 32+2+len(c.Currency)+16+32+32+8+2+len(c.Signature))
	buf = append(buf, c.InvoiceId[:]...)
	var curLen [2]byte
	binary.BigEndian.PutUint16(curLen[:], uint16(len(c.Currency)))
	buf = append(buf, curLen[:]...)
	buf = append(buf, []byte(c.Currency)...)
	var amt [16]byte
	putAmount(amt[:], c.TotalDestPayment)
	buf = append(buf, amt[:]...)
	buf = append(buf, c.SrcPlainLock[:]...)
	buf = append(buf, c.DestPlainLock[:]...)
	var serial [8]byte
	binary.BigEndian.PutUint64(serial[:], c.SerialNum)
	buf = append(buf, serial[:]...)
	var sigLen [2]byte
	binary.BigEndian.PutUint16(sigLen[:], uint16(len(c.Signature)))
	buf = append(buf, sigLen[:]...)
	buf = append(buf, c.Signature...)
	return encode(hrpCommit, buf)
}

// DecodeCommit parses a string produced by EncodeCommit.
func DecodeCommit(s string) (CommitData, error) {
	data, err := decode(hrpCommit, s)
	if err != nil {
		return CommitData{}, err
	}
	var c CommitData
	off := copy(c.InvoiceId[:], data)
	if len(data) < off+2 {
		return CommitData{}, fmt.Errorf("invoiceformat: truncated commit")
	}
	curLen := int(binary.BigEndian.Uint16(data[off : off+2]))
	off += 2
	need := curLen + 16 + 32 + 32 + 8 + 2
	if len(data) < off+need {
		return CommitData{}, fmt.Errorf("invoiceformat: truncated commit")
	}
	c.Currency = wire.Currency(data[off : off+curLen])
	off += curLen
	c.TotalDestPayment = getAmount(data[off : off+16])
	off += 16
	off += copy(c.SrcPlainLock[:], data[off:off+32])
	off += copy(c.DestPlainLock[:], data[off:off+32])
	c.SerialNum = binary.BigEndian.Uint64(data[off : off+8])
	off += 8
	sigLen := int(binary.BigEndian.Uint16(data[off : off+2]))
	off += 2
	if len(data) < off+sigLen {
		return CommitData{}, fmt.Errorf("invoiceformat: truncated commit signature")
	}
	c.Signature = append([]byte(nil), data[off:off+sigLen]...)
	return c, nil
}

// EncodeReceipt renders r as a shareable "offstreceipt1..." string.
func EncodeReceipt(r ReceiptData) (string, error) {
	buf := make([]byte, 0, 32+2+len(r.Currency)+16+16+2+len(r.Signature))
	buf = append(buf, r.InvoiceId[:]...)
	var curLen [2]byte
	binary.BigEndian.PutUint16(curLen[:], uint16(len(r.Currency)))
	buf = append(buf, curLen[:]...)
	buf = append(buf, []byte(r.Currency)...)
	var amt [16]byte
	putAmount(amt[:], r.DestPayment)
	buf = append(buf, amt[:]...)
	putAmount(amt[:], r.TotalDestPayment)
	buf = append(buf, amt[:]...)
	var sigLen [2]byte
	binary.BigEndian.PutUint16(sigLen[:], uint16(len(r.Signature)))
	buf = append(buf, sigLen[:]...)
	buf = append(buf, r.Signature...)
	return encode(hrpReceipt, buf)
}

// DecodeReceipt parses a string produced by EncodeReceipt.
func DecodeReceipt(s string) (ReceiptData, error) {
	data, err := decode(hrpReceipt, s)
	if err != nil {
		return ReceiptData{}, err
	}
	var r ReceiptData
	off := copy(r.InvoiceId[:], data)
	if len(data) < off+2 {
		return ReceiptData{}, fmt.Errorf("invoiceformat: truncated receipt")
	}
	curLen := int(binary.BigEndian.Uint16(data[off : off+2]))
	off += 2
	if len(data) < off+curLen+16+16+2 {
		return ReceiptData{}, fmt.Errorf("invoiceformat: truncated receipt")
	}
	r.Currency = wire.Currency(data[off : off+curLen])
	off += curLen
	r.DestPayment = getAmount(data[off : off+16])
	off += 16
	r.TotalDestPayment = getAmount(data[off : off+16])
	off += 16
	sigLen := int(binary.BigEndian.Uint16(data[off : off+2]))
	off += 2
	if len(data) < off+sigLen {
		return ReceiptData{}, fmt.Errorf("invoiceformat: truncated receipt signature")
	}
	r.Signature = append([]byte(nil), data[off:off+sigLen]...)
	return r, nil
}
