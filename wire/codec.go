package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// EncodeMoveToken serializes a MoveToken to the byte layout Channeler
// sessions exchange inside FrameMoveToken (§6 "Wire (friend <-> friend,
// inside encrypted session)"). Hand-rolled, length-prefixed, and
// append-only by field, the same discipline WriteFrame/EncodeRelaysDiff
// already use: these bytes flow straight off the signed new_token, so
// they need one exact, stable layout rather than a general-purpose
// encoder's.
func EncodeMoveToken(msg MoveToken) []byte {
	var buf bytes.Buffer
	putBytes(&buf, msg.OldToken)

	binary.Write(&buf, binary.BigEndian, uint32(len(msg.Operations)))
	for _, op := range msg.Operations {
		encodeOperation(&buf, op)
	}

	binary.Write(&buf, binary.BigEndian, uint32(len(msg.CurrenciesDiff)))
	for _, d := range msg.CurrenciesDiff {
		putString(&buf, string(d.Currency))
	}

	relaysDiff, _ := EncodeRelaysDiff(msg.RelaysDiff)
	putBytes(&buf, relaysDiff)

	putBytes(&buf, msg.NewToken)
	buf.Write(msg.Info.BalancesHash[:])
	binary.Write(&buf, binary.BigEndian, msg.Info.MoveTokenCounter)

	return buf.Bytes()
}

// DecodeMoveToken parses the layout EncodeMoveToken produces.
func DecodeMoveToken(b []byte) (MoveToken, error) {
	r := bytes.NewReader(b)
	var msg MoveToken

	oldToken, err := getBytes(r)
	if err != nil {
		return MoveToken{}, err
	}
	msg.OldToken = oldToken

	var opCount uint32
	if err := binary.Read(r, binary.BigEndian, &opCount); err != nil {
		return MoveToken{}, err
	}
	msg.Operations = make([]Operation, opCount)
	for i := range msg.Operations {
		op, err := decodeOperation(r)
		if err != nil {
			return MoveToken{}, err
		}
		msg.Operations[i] = op
	}

	var curCount uint32
	if err := binary.Read(r, binary.BigEndian, &curCount); err != nil {
		return MoveToken{}, err
	}
	msg.CurrenciesDiff = make([]CurrencyDiff, curCount)
	for i := range msg.CurrenciesDiff {
		s, err := getString(r)
		if err != nil {
			return MoveToken{}, err
		}
		msg.CurrenciesDiff[i] = CurrencyDiff{Currency: Currency(s)}
	}

	relaysDiffBytes, err := getBytes(r)
	if err != nil {
		return MoveToken{}, err
	}
	if len(relaysDiffBytes) > 0 {
		relays, err := DecodeRelaysDiff(relaysDiffBytes)
		if err != nil {
			return MoveToken{}, err
		}
		msg.RelaysDiff = relays
	}

	newToken, err := getBytes(r)
	if err != nil {
		return MoveToken{}, err
	}
	msg.NewToken = newToken

	if _, err := io.ReadFull(r, msg.Info.BalancesHash[:]); err != nil {
		return MoveToken{}, err
	}
	if err := binary.Read(r, binary.BigEndian, &msg.Info.MoveTokenCounter); err != nil {
		return MoveToken{}, err
	}

	return msg, nil
}

func encodeOperation(buf *bytes.Buffer, op Operation) {
	buf.WriteByte(byte(op.Kind))
	switch op.Kind {
	case OpRequestSendFunds:
		r := op.Request
		buf.Write(r.RequestId[:])
		putString(buf, string(r.Currency))
		buf.Write(r.SrcHashedLock[:])
		writeAmount128(buf, r.DestPayment)
		writeAmount128(buf, r.TotalDestPayment)
		buf.Write(r.InvoiceHash[:])
		binary.Write(buf, binary.BigEndian, uint32(len(r.Route)))
		for _, pk := range r.Route {
			buf.Write(pk[:])
		}
		writeAmount128(buf, r.LeftFees)
		binary.Write(buf, binary.BigEndian, uint32(len(r.FreezeLinks)))
		for _, l := range r.FreezeLinks {
			writeAmount128(buf, l.SharedCredits)
			binary.Write(buf, binary.BigEndian, l.UsableRatioNum)
			binary.Write(buf, binary.BigEndian, l.UsableRatioDenom)
		}
	case OpResponseSendFunds:
		resp := op.Response
		buf.Write(resp.RequestId[:])
		buf.Write(resp.SrcPlainLock[:])
		binary.Write(buf, binary.BigEndian, resp.SerialNum)
		putBytes(buf, resp.Signature)
	case OpCancelSendFunds:
		c := op.Cancel
		buf.Write(c.RequestId[:])
		buf.Write(c.Canceller[:])
	}
}

func decodeOperation(r *bytes.Reader) (Operation, error) {
	kindByte, err := r.ReadByte()
	if err != nil {
		return Operation{}, err
	}
	switch OpKind(kindByte) {
	case OpRequestSendFunds:
		var req RequestSendFunds
		if _, err := io.ReadFull(r, req.RequestId[:]); err != nil {
			return Operation{}, err
		}
		cur, err := getString(r)
		if err != nil {
			return Operation{}, err
		}
		req.Currency = Currency(cur)
		if _, err := io.ReadFull(r, req.SrcHashedLock[:]); err != nil {
			return Operation{}, err
		}
		if req.DestPayment, err = readAmount128(r); err != nil {
			return Operation{}, err
		}
		if req.TotalDestPayment, err = readAmount128(r); err != nil {
			return Operation{}, err
		}
		if _, err := io.ReadFull(r, req.InvoiceHash[:]); err != nil {
			return Operation{}, err
		}
		var routeLen uint32
		if err := binary.Read(r, binary.BigEndian, &routeLen); err != nil {
			return Operation{}, err
		}
		req.Route = make([]PublicKey, routeLen)
		for i := range req.Route {
			if _, err := io.ReadFull(r, req.Route[i][:]); err != nil {
				return Operation{}, err
			}
		}
		if req.LeftFees, err = readAmount128(r); err != nil {
			return Operation{}, err
		}
		var linkCount uint32
		if err := binary.Read(r, binary.BigEndian, &linkCount); err != nil {
			return Operation{}, err
		}
		req.FreezeLinks = make([]FreezeLink, linkCount)
		for i := range req.FreezeLinks {
			sc, err := readAmount128(r)
			if err != nil {
				return Operation{}, err
			}
			req.FreezeLinks[i].SharedCredits = sc
			if err := binary.Read(r, binary.BigEndian, &req.FreezeLinks[i].UsableRatioNum); err != nil {
				return Operation{}, err
			}
			if err := binary.Read(r, binary.BigEndian, &req.FreezeLinks[i].UsableRatioDenom); err != nil {
				return Operation{}, err
			}
		}
		return RequestOp(req), nil

	case OpResponseSendFunds:
		var resp ResponseSendFunds
		if _, err := io.ReadFull(r, resp.RequestId[:]); err != nil {
			return Operation{}, err
		}
		if _, err := io.ReadFull(r, resp.SrcPlainLock[:]); err != nil {
			return Operation{}, err
		}
		if err := binary.Read(r, binary.BigEndian, &resp.SerialNum); err != nil {
			return Operation{}, err
		}
		sig, err := getBytes(r)
		if err != nil {
			return Operation{}, err
		}
		resp.Signature = sig
		return ResponseOp(resp), nil

	case OpCancelSendFunds:
		var c CancelSendFunds
		if _, err := io.ReadFull(r, c.RequestId[:]); err != nil {
			return Operation{}, err
		}
		if _, err := io.ReadFull(r, c.Canceller[:]); err != nil {
			return Operation{}, err
		}
		return CancelOp(c), nil
	}
	return Operation{}, fmt.Errorf("wire: unknown operation kind %d", kindByte)
}

// EncodeResetTerms serializes a proposed reset (counter, balances, and
// signature token) for FrameInconsistencyError (§4.2 "Inconsistency &
// reset"). Callers pass tokenchannel.ResetTerms's fields directly to
// avoid an import cycle (tokenchannel already depends on wire).
func EncodeResetTerms(token []byte, counter uint64, balances []CurrencyBalanceView) []byte {
	var buf bytes.Buffer
	putBytes(&buf, token)
	binary.Write(&buf, binary.BigEndian, counter)
	binary.Write(&buf, binary.BigEndian, uint32(len(balances)))
	for _, v := range balances {
		putString(&buf, string(v.Currency))
		buf.WriteByte(boolByte(v.Balance.Neg))
		writeAmount128(&buf, v.Balance.Mag)
		writeAmount128(&buf, v.LocalPendingDebt)
		writeAmount128(&buf, v.RemotePendingDebt)
		writeAmount128(&buf, v.InFees)
		writeAmount128(&buf, v.OutFees)
	}
	return buf.Bytes()
}

// DecodeResetTerms parses the layout EncodeResetTerms produces.
func DecodeResetTerms(b []byte) (token []byte, counter uint64, balances []CurrencyBalanceView, err error) {
	r := bytes.NewReader(b)
	if token, err = getBytes(r); err != nil {
		return nil, 0, nil, err
	}
	if err = binary.Read(r, binary.BigEndian, &counter); err != nil {
		return nil, 0, nil, err
	}
	var count uint32
	if err = binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, 0, nil, err
	}
	balances = make([]CurrencyBalanceView, count)
	for i := range balances {
		cur, err := getString(r)
		if err != nil {
			return nil, 0, nil, err
		}
		balances[i].Currency = Currency(cur)
		var neg byte
		if neg, err = r.ReadByte(); err != nil {
			return nil, 0, nil, err
		}
		balances[i].Balance.Neg = neg != 0
		if balances[i].Balance.Mag, err = readAmount128(r); err != nil {
			return nil, 0, nil, err
		}
		if balances[i].LocalPendingDebt, err = readAmount128(r); err != nil {
			return nil, 0, nil, err
		}
		if balances[i].RemotePendingDebt, err = readAmount128(r); err != nil {
			return nil, 0, nil, err
		}
		if balances[i].InFees, err = readAmount128(r); err != nil {
			return nil, 0, nil, err
		}
		if balances[i].OutFees, err = readAmount128(r); err != nil {
			return nil, 0, nil, err
		}
	}
	return token, counter, balances, nil
}

func putBytes(buf *bytes.Buffer, b []byte) {
	binary.Write(buf, binary.BigEndian, uint32(len(b)))
	buf.Write(b)
}

func getBytes(r *bytes.Reader) ([]byte, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, err
	}
	if length == 0 {
		return nil, nil
	}
	out := make([]byte, length)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}

func putString(buf *bytes.Buffer, s string) {
	putBytes(buf, []byte(s))
}

func getString(r *bytes.Reader) (string, error) {
	b, err := getBytes(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func writeAmount128(buf *bytes.Buffer, v Amount) {
	var tmp [16]byte
	PutAmount128(tmp[:], v)
	buf.Write(tmp[:])
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func readAmount128(r *bytes.Reader) (Amount, error) {
	var tmp [16]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return Amount{}, err
	}
	return Amount128(tmp[:]), nil
}
