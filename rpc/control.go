// This file exposes the Funder's control-operation table (§4.3) as
// JSON-over-HTTP handlers under /control/, the same app-facing surface
// rpcServer.SendMany and friends exposed as generated gRPC methods -
// restated here as a hand-written dispatch table since this tree has no
// protoc step to regenerate lnrpc-style stubs from.
package rpc

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"

	"lukechampine.com/uint128"

	"github.com/offstlabs/offst/funder"
	"github.com/offstlabs/offst/identity"
	"github.com/offstlabs/offst/wire"
)

func (s *Server) registerControlHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/control/add_relay", s.handle(s.addRelay))
	mux.HandleFunc("/control/remove_relay", s.handle(s.removeRelay))
	mux.HandleFunc("/control/add_friend", s.handle(s.addFriend))
	mux.HandleFunc("/control/remove_friend", s.handle(s.removeFriend))
	mux.HandleFunc("/control/set_friend_status", s.handle(s.setFriendStatus))
	mux.HandleFunc("/control/set_friend_currency_rate", s.handle(s.setFriendCurrencyRate))
	mux.HandleFunc("/control/set_friend_currency_max_debt", s.handle(s.setFriendCurrencyMaxDebt))
	mux.HandleFunc("/control/add_invoice", s.handle(s.addInvoice))
	mux.HandleFunc("/control/cancel_invoice", s.handle(s.cancelInvoice))
	mux.HandleFunc("/control/commit_invoice", s.handle(s.commitInvoice))
	mux.HandleFunc("/control/create_payment", s.handle(s.createPayment))
	mux.HandleFunc("/control/create_transaction", s.handle(s.createTransaction))
	mux.HandleFunc("/control/request_close_payment", s.handle(s.requestClosePayment))
	mux.HandleFunc("/control/ack_close_payment", s.handle(s.ackClosePayment))
	mux.HandleFunc("/control/record_receipt", s.handle(s.recordReceipt))
}

// handle wraps a JSON request/response operation with decode/encode
// boilerplate and uniform error translation, the HTTP analogue of
// rpcServer's per-method (ctx, *XRequest) (*XResponse, error) signature.
func (s *Server) handle(op func(*http.Request) (interface{}, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		resp, err := op(r)
		if err != nil {
			log.Debugf("rpc: %s failed: %v", r.URL.Path, err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if resp == nil {
			resp = struct{}{}
		}
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			log.Errorf("rpc: encoding response for %s: %v", r.URL.Path, err)
		}
	}
}

func decodeBody(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func parsePubKey(s string) (identity.PublicKey, error) {
	var pk identity.PublicKey
	b, err := hex.DecodeString(s)
	if err != nil {
		return pk, err
	}
	if len(b) != identity.PublicKeySize {
		return pk, fmt.Errorf("rpc: public key must be %d bytes", identity.PublicKeySize)
	}
	copy(pk[:], b)
	return pk, nil
}

func parseFixed(s string, out []byte) error {
	b, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	if len(b) != len(out) {
		return fmt.Errorf("rpc: expected %d bytes, got %d", len(out), len(b))
	}
	copy(out, b)
	return nil
}

func parseAmount(s string) (wire.Amount, error) {
	if s == "" {
		return wire.ZeroAmount, nil
	}
	return uint128.FromString(s)
}

func parseAppRequestId(s string) ([16]byte, error) {
	var id [16]byte
	if s == "" {
		return id, nil
	}
	err := parseFixed(s, id[:])
	return id, err
}

type relayAddressJSON struct {
	PublicKey string `json:"public_key"`
	Address   string `json:"address"`
}

func (a relayAddressJSON) toWire() (wire.RelayAddress, error) {
	pk, err := parsePubKey(a.PublicKey)
	if err != nil {
		return wire.RelayAddress{}, err
	}
	return wire.RelayAddress{PublicKey: pk, Address: a.Address}, nil
}

func (s *Server) addRelay(r *http.Request) (interface{}, error) {
	var req struct {
		Relay        relayAddressJSON `json:"relay"`
		AppRequestId string           `json:"app_request_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	relay, err := req.Relay.toWire()
	if err != nil {
		return nil, err
	}
	appReq, err := parseAppRequestId(req.AppRequestId)
	if err != nil {
		return nil, err
	}
	return nil, s.cfg.Funder.AddRelay(relay, appReq)
}

func (s *Server) removeRelay(r *http.Request) (interface{}, error) {
	var req struct {
		PublicKey    string `json:"public_key"`
		AppRequestId string `json:"app_request_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	pk, err := parsePubKey(req.PublicKey)
	if err != nil {
		return nil, err
	}
	appReq, err := parseAppRequestId(req.AppRequestId)
	if err != nil {
		return nil, err
	}
	return nil, s.cfg.Funder.RemoveRelay(pk, appReq)
}

func (s *Server) addFriend(r *http.Request) (interface{}, error) {
	var req struct {
		PublicKey    string             `json:"public_key"`
		Name         string             `json:"name"`
		Relays       []relayAddressJSON `json:"relays"`
		AppRequestId string             `json:"app_request_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	pk, err := parsePubKey(req.PublicKey)
	if err != nil {
		return nil, err
	}
	relays := make([]wire.RelayAddress, len(req.Relays))
	for i, ra := range req.Relays {
		relays[i], err = ra.toWire()
		if err != nil {
			return nil, err
		}
	}
	appReq, err := parseAppRequestId(req.AppRequestId)
	if err != nil {
		return nil, err
	}
	return nil, s.cfg.Funder.AddFriend(pk, req.Name, relays, appReq)
}

func (s *Server) removeFriend(r *http.Request) (interface{}, error) {
	var req struct {
		PublicKey    string `json:"public_key"`
		AppRequestId string `json:"app_request_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	pk, err := parsePubKey(req.PublicKey)
	if err != nil {
		return nil, err
	}
	appReq, err := parseAppRequestId(req.AppRequestId)
	if err != nil {
		return nil, err
	}
	return nil, s.cfg.Funder.RemoveFriend(pk, appReq)
}

func (s *Server) setFriendStatus(r *http.Request) (interface{}, error) {
	var req struct {
		PublicKey    string `json:"public_key"`
		Enabled      bool   `json:"enabled"`
		AppRequestId string `json:"app_request_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	pk, err := parsePubKey(req.PublicKey)
	if err != nil {
		return nil, err
	}
	appReq, err := parseAppRequestId(req.AppRequestId)
	if err != nil {
		return nil, err
	}
	return nil, s.cfg.Funder.SetFriendStatus(pk, req.Enabled, appReq)
}

func (s *Server) setFriendCurrencyRate(r *http.Request) (interface{}, error) {
	var req struct {
		PublicKey    string `json:"public_key"`
		Currency     string `json:"currency"`
		Mul          uint32 `json:"mul"`
		Add          uint64 `json:"add"`
		AppRequestId string `json:"app_request_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	pk, err := parsePubKey(req.PublicKey)
	if err != nil {
		return nil, err
	}
	appReq, err := parseAppRequestId(req.AppRequestId)
	if err != nil {
		return nil, err
	}
	rate := wire.Rate{Mul: req.Mul, Add: req.Add}
	return nil, s.cfg.Funder.SetFriendCurrencyRate(pk, wire.Currency(req.Currency), rate, appReq)
}

func (s *Server) setFriendCurrencyMaxDebt(r *http.Request) (interface{}, error) {
	var req struct {
		PublicKey    string `json:"public_key"`
		Currency     string `json:"currency"`
		MaxDebt      string `json:"max_debt"`
		AppRequestId string `json:"app_request_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	pk, err := parsePubKey(req.PublicKey)
	if err != nil {
		return nil, err
	}
	maxDebt, err := parseAmount(req.MaxDebt)
	if err != nil {
		return nil, err
	}
	appReq, err := parseAppRequestId(req.AppRequestId)
	if err != nil {
		return nil, err
	}
	return nil, s.cfg.Funder.SetFriendCurrencyMaxDebt(pk, wire.Currency(req.Currency), maxDebt, appReq)
}

func (s *Server) addInvoice(r *http.Request) (interface{}, error) {
	var req struct {
		InvoiceId        string `json:"invoice_id"`
		Currency         string `json:"currency"`
		TotalDestPayment string `json:"total_dest_payment"`
		AppRequestId     string `json:"app_request_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	var invoiceId wire.InvoiceId
	if err := parseFixed(req.InvoiceId, invoiceId[:]); err != nil {
		return nil, err
	}
	amt, err := parseAmount(req.TotalDestPayment)
	if err != nil {
		return nil, err
	}
	appReq, err := parseAppRequestId(req.AppRequestId)
	if err != nil {
		return nil, err
	}
	return nil, s.cfg.Funder.AddInvoice(invoiceId, wire.Currency(req.Currency), amt, appReq)
}

func (s *Server) cancelInvoice(r *http.Request) (interface{}, error) {
	var req struct {
		InvoiceId    string `json:"invoice_id"`
		AppRequestId string `json:"app_request_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	var invoiceId wire.InvoiceId
	if err := parseFixed(req.InvoiceId, invoiceId[:]); err != nil {
		return nil, err
	}
	appReq, err := parseAppRequestId(req.AppRequestId)
	if err != nil {
		return nil, err
	}
	return nil, s.cfg.Funder.CancelInvoice(invoiceId, appReq)
}

func (s *Server) commitInvoice(r *http.Request) (interface{}, error) {
	var req struct {
		InvoiceId        string `json:"invoice_id"`
		Currency         string `json:"currency"`
		TotalDestPayment string `json:"total_dest_payment"`
		SrcPlainLock     string `json:"src_plain_lock"`
		DestPlainLock    string `json:"dest_plain_lock"`
		SerialNum        uint64 `json:"serial_num"`
		Signature        string `json:"signature"`
		AppRequestId     string `json:"app_request_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	var commit funder.Commit
	if err := parseFixed(req.InvoiceId, commit.InvoiceId[:]); err != nil {
		return nil, err
	}
	commit.Currency = wire.Currency(req.Currency)
	amt, err := parseAmount(req.TotalDestPayment)
	if err != nil {
		return nil, err
	}
	commit.TotalDestPayment = amt
	if err := parseFixed(req.SrcPlainLock, commit.SrcPlainLock[:]); err != nil {
		return nil, err
	}
	if err := parseFixed(req.DestPlainLock, commit.DestPlainLock[:]); err != nil {
		return nil, err
	}
	commit.SerialNum = req.SerialNum
	sig, err := hex.DecodeString(req.Signature)
	if err != nil {
		return nil, err
	}
	commit.Signature = sig
	appReq, err := parseAppRequestId(req.AppRequestId)
	if err != nil {
		return nil, err
	}
	receipt, err := s.cfg.Funder.CommitInvoice(commit, appReq)
	if err != nil {
		return nil, err
	}
	return struct {
		Receipt string `json:"receipt"`
	}{Receipt: receipt}, nil
}

func (s *Server) createPayment(r *http.Request) (interface{}, error) {
	var req struct {
		PaymentId        string `json:"payment_id"`
		InvoiceId        string `json:"invoice_id"`
		Currency         string `json:"currency"`
		TotalDestPayment string `json:"total_dest_payment"`
		DestPublicKey    string `json:"dest_public_key"`
		AppRequestId     string `json:"app_request_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	var paymentId wire.PaymentId
	if err := parseFixed(req.PaymentId, paymentId[:]); err != nil {
		return nil, err
	}
	var invoiceId wire.InvoiceId
	if err := parseFixed(req.InvoiceId, invoiceId[:]); err != nil {
		return nil, err
	}
	amt, err := parseAmount(req.TotalDestPayment)
	if err != nil {
		return nil, err
	}
	destPk, err := parsePubKey(req.DestPublicKey)
	if err != nil {
		return nil, err
	}
	appReq, err := parseAppRequestId(req.AppRequestId)
	if err != nil {
		return nil, err
	}
	return nil, s.cfg.Funder.CreatePayment(paymentId, invoiceId, wire.Currency(req.Currency), amt, destPk, appReq)
}

func (s *Server) createTransaction(r *http.Request) (interface{}, error) {
	var req struct {
		PaymentId    string   `json:"payment_id"`
		RequestId    string   `json:"request_id"`
		Route        []string `json:"route"`
		DestPayment  string   `json:"dest_payment"`
		LeftFees     string   `json:"left_fees"`
		AppRequestId string   `json:"app_request_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	var paymentId wire.PaymentId
	if err := parseFixed(req.PaymentId, paymentId[:]); err != nil {
		return nil, err
	}
	var requestId wire.RequestId
	if err := parseFixed(req.RequestId, requestId[:]); err != nil {
		return nil, err
	}
	route := make([]identity.PublicKey, len(req.Route))
	for i, s := range req.Route {
		pk, err := parsePubKey(s)
		if err != nil {
			return nil, err
		}
		route[i] = pk
	}
	destPayment, err := parseAmount(req.DestPayment)
	if err != nil {
		return nil, err
	}
	leftFees, err := parseAmount(req.LeftFees)
	if err != nil {
		return nil, err
	}
	appReq, err := parseAppRequestId(req.AppRequestId)
	if err != nil {
		return nil, err
	}
	return nil, s.cfg.Funder.CreateTransaction(paymentId, requestId, route, destPayment, leftFees, appReq)
}

func (s *Server) requestClosePayment(r *http.Request) (interface{}, error) {
	var req struct {
		PaymentId    string `json:"payment_id"`
		AppRequestId string `json:"app_request_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	var paymentId wire.PaymentId
	if err := parseFixed(req.PaymentId, paymentId[:]); err != nil {
		return nil, err
	}
	appReq, err := parseAppRequestId(req.AppRequestId)
	if err != nil {
		return nil, err
	}
	status, err := s.cfg.Funder.RequestClosePayment(paymentId, appReq)
	if err != nil {
		return nil, err
	}
	return struct {
		NotFound bool   `json:"not_found"`
		Success  bool   `json:"success"`
		Canceled bool   `json:"canceled"`
		Receipt  string `json:"receipt,omitempty"`
		AckUid   string `json:"ack_uid,omitempty"`
	}{
		NotFound: status.NotFound,
		Success:  status.Success,
		Canceled: status.Canceled,
		Receipt:  string(status.Receipt),
		AckUid:   hex.EncodeToString(status.AckUid[:]),
	}, nil
}

func (s *Server) ackClosePayment(r *http.Request) (interface{}, error) {
	var req struct {
		PaymentId    string `json:"payment_id"`
		AckUid       string `json:"ack_uid"`
		AppRequestId string `json:"app_request_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	var paymentId wire.PaymentId
	if err := parseFixed(req.PaymentId, paymentId[:]); err != nil {
		return nil, err
	}
	var ackUid wire.AckUid
	if err := parseFixed(req.AckUid, ackUid[:]); err != nil {
		return nil, err
	}
	appReq, err := parseAppRequestId(req.AppRequestId)
	if err != nil {
		return nil, err
	}
	return nil, s.cfg.Funder.AckClosePayment(paymentId, ackUid, appReq)
}

func (s *Server) recordReceipt(r *http.Request) (interface{}, error) {
	var req struct {
		PaymentId    string `json:"payment_id"`
		Receipt      string `json:"receipt"`
		AppRequestId string `json:"app_request_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	var paymentId wire.PaymentId
	if err := parseFixed(req.PaymentId, paymentId[:]); err != nil {
		return nil, err
	}
	appReq, err := parseAppRequestId(req.AppRequestId)
	if err != nil {
		return nil, err
	}
	return nil, s.cfg.Funder.RecordReceipt(paymentId, req.Receipt, appReq)
}
