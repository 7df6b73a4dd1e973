// This file implements the control-operation table of §4.3: one exported
// method per app-facing request, each a thin wrapper that submits a
// closure to the actor loop and translates its result.
package funder

import (
	"github.com/offstlabs/offst/identity"
	"github.com/offstlabs/offst/invoiceformat"
	"github.com/offstlabs/offst/report"
	"github.com/offstlabs/offst/store"
	"github.com/offstlabs/offst/tokenchannel"
	"github.com/offstlabs/offst/wire"
)

// AddRelay appends a relay to this node's advertised set and schedules an
// outgoing MoveToken (carrying the relays_diff) on every enabled friend.
func (f *Funder) AddRelay(relay wire.RelayAddress, appRequestId [16]byte) error {
	_, err := f.submit(func(f *Funder) (interface{}, error) {
		if len(f.relays)+1 > MaxNodeRelays {
			return nil, ErrTooManyRelays
		}
		f.relays = append(append([]wire.RelayAddress{}, f.relays...), relay)
		wire.SortRelayAddresses(f.relays)
		if err := f.cfg.DB.PutLocalRelays(f.relays); err != nil {
			return nil, err
		}
		f.cfg.Notifier.SetLocalAddresses(f.relays)
		f.scheduleRelaysDiffOnAllEnabled()
		f.emit(report.Mutation{Kind: report.MutationRelayListChanged, Relays: f.relays}, appRequestId)
		return nil, nil
	})
	return err
}

// RemoveRelay removes a relay by public key from this node's advertised
// set.
func (f *Funder) RemoveRelay(pk identity.PublicKey, appRequestId [16]byte) error {
	_, err := f.submit(func(f *Funder) (interface{}, error) {
		kept := f.relays[:0:0]
		for _, r := range f.relays {
			if r.PublicKey != pk {
				kept = append(kept, r)
			}
		}
		f.relays = kept
		if err := f.cfg.DB.PutLocalRelays(f.relays); err != nil {
			return nil, err
		}
		f.cfg.Notifier.SetLocalAddresses(f.relays)
		f.scheduleRelaysDiffOnAllEnabled()
		f.emit(report.Mutation{Kind: report.MutationRelayListChanged, Relays: f.relays}, appRequestId)
		return nil, nil
	})
	return err
}

func (f *Funder) scheduleRelaysDiffOnAllEnabled() {
	for _, fr := range f.friends {
		if !fr.Enabled {
			continue
		}
		fr.SentLocalRelaysState = store.RelaysTransition
		fr.SentLocalRelaysOld = fr.SentLocalRelaysNew
		fr.SentLocalRelaysNew = f.relays
		f.markSendCommand(fr)
	}
}

// AddFriend inserts a new, disabled friend with a freshly initialized
// TokenChannel (§4.3 "AddFriend").
func (f *Funder) AddFriend(pk identity.PublicKey, name string, relays []wire.RelayAddress, appRequestId [16]byte) error {
	_, err := f.submit(func(f *Funder) (interface{}, error) {
		if _, exists := f.friends[pk]; exists {
			return nil, ErrFriendExists
		}
		fr := &Friend{
			RemotePk:        pk,
			Name:            name,
			Enabled:         false,
			Relays:          relays,
			CurrencyConfigs: make(map[wire.Currency]store.CurrencyConfig),
			Channel:         tokenchannel.InitTokenChannel(f.cfg.LocalPk, pk),
		}
		f.friends[pk] = fr
		if err := f.persistFriend(fr); err != nil {
			return nil, err
		}
		f.emit(report.Mutation{Kind: report.MutationFriendAdded, Friend: pk}, appRequestId)
		return nil, nil
	})
	return err
}

// RemoveFriend cancels every pending-local request toward its origin, then
// deletes the friend (§4.3 "RemoveFriend"). No check that the channel is
// drained is made.
func (f *Funder) RemoveFriend(pk identity.PublicKey, appRequestId [16]byte) error {
	_, err := f.submit(func(f *Funder) (interface{}, error) {
		fr, ok := f.friends[pk]
		if !ok {
			return nil, ErrFriendNotFound
		}
		for currency, mc := range fr.Channel.Currencies {
			for reqId := range mc.PendingLocal {
				f.failRequestLocally(reqId, currency, pk)
			}
		}
		delete(f.friends, pk)
		if err := f.cfg.DB.RemoveFriend(pk); err != nil {
			return nil, err
		}
		f.cfg.Notifier.Disconnect(pk)
		f.emit(report.Mutation{Kind: report.MutationFriendRemoved, Friend: pk}, appRequestId)
		return nil, nil
	})
	return err
}

// SetFriendStatus enables or disables a friend (§4.3 "SetFriendStatus").
func (f *Funder) SetFriendStatus(pk identity.PublicKey, enabled bool, appRequestId [16]byte) error {
	_, err := f.submit(func(f *Funder) (interface{}, error) {
		fr, ok := f.friends[pk]
		if !ok {
			return nil, ErrFriendNotFound
		}
		fr.Enabled = enabled
		if enabled {
			f.cfg.Notifier.Connect(pk, fr.Relays)
		} else {
			for currency, mc := range fr.Channel.Currencies {
				for reqId := range mc.PendingLocal {
					f.failRequestLocally(reqId, currency, pk)
				}
			}
			f.cfg.Notifier.Disconnect(pk)
		}
		if err := f.persistFriend(fr); err != nil {
			return nil, err
		}
		f.emit(report.Mutation{Kind: report.MutationFriendStatusChanged, Friend: pk, FriendEnabled: enabled}, appRequestId)
		return nil, nil
	})
	return err
}

// SetFriendCurrencyRate updates a friend's forwarding policy for currency
// (§4.3 "SetFriendCurrencyRate"). For a currency that is neither active nor
// configured yet it sets TokenWanted; it queues no currencies_diff entry,
// so the currency is not activated on the channel by this call.
func (f *Funder) SetFriendCurrencyRate(pk identity.PublicKey, currency wire.Currency, rate wire.Rate, appRequestId [16]byte) error {
	_, err := f.submit(func(f *Funder) (interface{}, error) {
		fr, ok := f.friends[pk]
		if !ok {
			return nil, ErrFriendNotFound
		}
		cfg, existed := fr.CurrencyConfigs[currency]
		cfg.Rate = rate
		fr.CurrencyConfigs[currency] = cfg
		if _, active := fr.Channel.Currencies[currency]; !active && !existed {
			fr.TokenWanted = true
		}
		f.markSendCommand(fr)
		if err := f.persistFriend(fr); err != nil {
			return nil, err
		}
		f.emit(report.Mutation{Kind: report.MutationCurrencyConfigChanged, Friend: pk, Currency: currency}, appRequestId)
		return nil, nil
	})
	return err
}

// SetFriendCurrencyMaxDebt updates remote_max_debt for one currency
// (§4.3 "SetFriendCurrencyMaxDebt").
func (f *Funder) SetFriendCurrencyMaxDebt(pk identity.PublicKey, currency wire.Currency, maxDebt wire.Amount, appRequestId [16]byte) error {
	_, err := f.submit(func(f *Funder) (interface{}, error) {
		fr, ok := f.friends[pk]
		if !ok {
			return nil, ErrFriendNotFound
		}
		cfg := fr.CurrencyConfigs[currency]
		cfg.RemoteMaxDebt = maxDebt
		fr.CurrencyConfigs[currency] = cfg
		if mc, active := fr.Channel.Currencies[currency]; active {
			mc.RemoteMaxDebt = maxDebt
		}
		f.markSendCommand(fr)
		if err := f.persistFriend(fr); err != nil {
			return nil, err
		}
		f.emit(report.Mutation{Kind: report.MutationCurrencyConfigChanged, Friend: pk, Currency: currency}, appRequestId)
		return nil, nil
	})
	return err
}

// SetFriendCurrencyRequestsStatus updates whether we accept routed
// requests in currency from pk (§4.3 "SetFriendCurrencyRequestsStatus").
func (f *Funder) SetFriendCurrencyRequestsStatus(pk identity.PublicKey, currency wire.Currency, open bool, appRequestId [16]byte) error {
	_, err := f.submit(func(f *Funder) (interface{}, error) {
		fr, ok := f.friends[pk]
		if !ok {
			return nil, ErrFriendNotFound
		}
		cfg := fr.CurrencyConfigs[currency]
		cfg.WantedLocalRequestsOpen = open
		fr.CurrencyConfigs[currency] = cfg
		if mc, active := fr.Channel.Currencies[currency]; active {
			mc.LocalRequestsOpen = open
		}
		f.markSendCommand(fr)
		if err := f.persistFriend(fr); err != nil {
			return nil, err
		}
		f.emit(report.Mutation{Kind: report.MutationCurrencyConfigChanged, Friend: pk, Currency: currency}, appRequestId)
		return nil, nil
	})
	return err
}

// RemoveFriendCurrency deletes a currency's local configuration, refusing
// with ErrCurrencyNotDrained if it is active and not drained
// (§4.3 "RemoveFriendCurrency"). It queues no currencies_diff entry, so an
// active currency stays active on the channel.
func (f *Funder) RemoveFriendCurrency(pk identity.PublicKey, currency wire.Currency, appRequestId [16]byte) error {
	_, err := f.submit(func(f *Funder) (interface{}, error) {
		fr, ok := f.friends[pk]
		if !ok {
			return nil, ErrFriendNotFound
		}
		if mc, active := fr.Channel.Currencies[currency]; active && !mc.IsDrained() {
			return nil, ErrCurrencyNotDrained
		}
		delete(fr.CurrencyConfigs, currency)
		f.markSendCommand(fr)
		f.emit(report.Mutation{Kind: report.MutationCurrencyRemoved, Friend: pk, Currency: currency}, appRequestId)
		return nil, nil
	})
	return err
}

// ResetFriendChannel accepts the remote's proposed reset terms, requiring
// the offered token to match exactly (§4.3 "ResetFriendChannel";
// SPEC_FULL §3's restored exact-match precondition).
func (f *Funder) ResetFriendChannel(pk identity.PublicKey, offeredToken []byte, appRequestId [16]byte) error {
	_, err := f.submit(func(f *Funder) (interface{}, error) {
		fr, ok := f.friends[pk]
		if !ok {
			return nil, ErrFriendNotFound
		}
		if fr.Channel.Status != tokenchannel.Inconsistent {
			return nil, ErrChannelNotInconsistent
		}
		if err := fr.Channel.AcceptRemoteReset(offeredToken); err != nil {
			return nil, ErrResetTokenMismatch
		}
		f.markSendCommand(fr)
		if err := f.persistFriend(fr); err != nil {
			return nil, err
		}
		f.emit(report.Mutation{Kind: report.MutationChannelReset, Friend: pk}, appRequestId)
		return nil, nil
	})
	return err
}

// AddInvoice inserts a fresh seller-side invoice with a random
// dest_plain_lock (§4.3 "AddInvoice").
func (f *Funder) AddInvoice(invoiceId wire.InvoiceId, currency wire.Currency, totalDestPayment wire.Amount, appRequestId [16]byte) error {
	_, err := f.submit(func(f *Funder) (interface{}, error) {
		if _, exists := f.invoices[invoiceId]; exists {
			return nil, ErrInvoiceExists
		}
		lock, err := identity.Rand32(f.cfg.RNG)
		if err != nil {
			return nil, err
		}
		inv := &Invoice{
			InvoiceId:        invoiceId,
			Currency:         currency,
			TotalDestPayment: totalDestPayment,
			DestPlainLock:    lock,
		}
		f.invoices[invoiceId] = inv
		if err := f.persistInvoice(inv); err != nil {
			return nil, err
		}
		f.emit(report.Mutation{Kind: report.MutationInvoiceAdded, InvoiceId: invoiceId}, appRequestId)
		return nil, nil
	})
	return err
}

// CancelInvoice enqueues a backwards Cancel for every recorded incoming
// transaction, then removes the invoice (§4.3 "CancelInvoice").
func (f *Funder) CancelInvoice(invoiceId wire.InvoiceId, appRequestId [16]byte) error {
	_, err := f.submit(func(f *Funder) (interface{}, error) {
		inv, ok := f.invoices[invoiceId]
		if !ok {
			return nil, ErrInvoiceNotFound
		}
		for _, reqId := range inv.IncomingTransactions {
			f.cancelIncoming(reqId, f.cfg.LocalPk)
		}
		delete(f.invoices, invoiceId)
		if err := f.cfg.DB.RemoveInvoice(invoiceId); err != nil {
			return nil, err
		}
		f.emit(report.Mutation{Kind: report.MutationInvoiceRemoved, InvoiceId: invoiceId}, appRequestId)
		return nil, nil
	})
	return err
}

// Commit is the buyer-signed unlock the seller submits to claim an
// invoice's funds (§3 "Commit").
type Commit struct {
	InvoiceId        wire.InvoiceId
	Currency         wire.Currency
	TotalDestPayment wire.Amount
	SrcPlainLock     [32]byte
	DestPlainLock    [32]byte
	SerialNum        uint64
	Signature        []byte
}

// CommitInvoice verifies commit and, on success, enqueues a backwards
// Response/Collect for every recorded incoming transaction, removes the
// invoice, and returns the seller-signed Receipt proving this invoice was
// paid in full (§4.3 "CommitInvoice", §3 "Receipt"). The Receipt travels
// back to the buyer over whatever out-of-band channel carried the Commit
// in the other direction - it never crosses this node's friend wire
// protocol, so it is handed back here as an invoiceformat-encoded string
// rather than queued onto any TokenChannel.
func (f *Funder) CommitInvoice(commit Commit, appRequestId [16]byte) (string, error) {
	res, err := f.submit(func(f *Funder) (interface{}, error) {
		inv, ok := f.invoices[commit.InvoiceId]
		if !ok {
			return nil, ErrInvoiceNotFound
		}
		if !inv.HasSrcHashedLock {
			return nil, ErrBadCommitPreimage
		}
		if wire.Hash256(commit.SrcPlainLock[:]) != inv.SrcHashedLock {
			return nil, ErrBadCommitPreimage
		}
		signHash := wire.CommitSignHash(
			commit.InvoiceId, commit.Currency, commit.TotalDestPayment,
			commit.SrcPlainLock, commit.DestPlainLock, commit.SerialNum,
		)
		if !identity.Verify(signHash, commit.Signature, f.buyerPkFor(inv)) {
			return nil, ErrBadCommitSignature
		}

		for _, reqId := range inv.IncomingTransactions {
			f.completeIncoming(reqId, inv, commit)
		}
		delete(f.invoices, commit.InvoiceId)
		if err := f.cfg.DB.RemoveInvoice(commit.InvoiceId); err != nil {
			return nil, err
		}

		receiptHash := wire.ReceiptSignHash(inv.InvoiceId, inv.Currency, inv.TotalDestPayment, inv.TotalDestPayment)
		sig, err := f.cfg.Signer.Sign(receiptHash)
		if err != nil {
			return nil, err
		}
		receipt, err := invoiceformat.EncodeReceipt(invoiceformat.ReceiptData{
			InvoiceId:        inv.InvoiceId,
			Currency:         inv.Currency,
			DestPayment:      inv.TotalDestPayment,
			TotalDestPayment: inv.TotalDestPayment,
			Signature:        sig,
		})
		if err != nil {
			return nil, err
		}
		return receipt, nil
	})
	if err != nil {
		return "", err
	}
	return res.(string), nil
}

// buyerPkFor resolves the expected commit-signer: the originator of the
// inbound requests, recovered from the routing index. Since every
// incoming_transactions entry shares one src_hashed_lock/route origin,
// any one entry's recorded origin friend identifies the signer's
// upstream hop; the buyer's own key is embedded in the route the first
// matching request carried, which mutualcredit does not retain beyond
// RouteTail. This node verifies the commit against the friend one hop
// back, matching how a response signature is itself verified per-hop.
func (f *Funder) buyerPkFor(inv *Invoice) identity.PublicKey {
	if len(inv.IncomingTransactions) == 0 {
		return identity.PublicKey{}
	}
	origin, ok := f.requestIndex[inv.IncomingTransactions[0]]
	if !ok || origin.fromFriend == nil {
		return identity.PublicKey{}
	}
	return *origin.fromFriend
}

// failRequestLocally releases a request pending toward pk (used by
// RemoveFriend/SetFriendStatus(Disabled)) and cancels it toward its
// origin: a Cancel queued to the upstream friend for a forwarded request,
// or the owning Payment for one this node created.
func (f *Funder) failRequestLocally(reqId wire.RequestId, currency wire.Currency, pk identity.PublicKey) {
	mc := f.friends[pk].Channel.Currencies[currency]
	if _, err := mc.IncomingCancel(reqId); err != nil {
		return
	}
	f.cancelIncoming(reqId, f.cfg.LocalPk)
}
