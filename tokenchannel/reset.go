package tokenchannel

import (
	"github.com/offstlabs/offst/identity"
	"github.com/offstlabs/offst/mutualcredit"
	"github.com/offstlabs/offst/wire"
)

// setInconsistent transitions the channel to Inconsistent and computes
// this side's proposed ResetTerms (§4.2 "Inconsistency & reset"). sign is
// supplied by the caller (funder) since signing is an async capability.
// To keep TokenChannel's public surface synchronous for tests, the actual
// token bytes are filled in by CreateResetToken once a signature is
// available; here we only record the terms' shape (counter, balances) and
// leave Token nil until CreateResetToken runs.
func (tc *TokenChannel) setInconsistent() *ResetTerms {
	terms := &ResetTerms{
		Counter:  tc.MoveTokenCounter + resetCounterGap,
		Balances: resetBalances(tc),
	}
	tc.Status = Inconsistent
	tc.LocalResetTerms = terms
	return terms
}

func resetBalances(tc *TokenChannel) []wire.CurrencyBalanceView {
	out := make([]wire.CurrencyBalanceView, 0, len(tc.Currencies))
	for _, mc := range tc.Currencies {
		out = append(out, mc.ResetBalances())
	}
	return out
}

// CreateResetToken signs this side's pending ResetTerms and fills in its
// Token field, meant to be called once after setInconsistent/
// SetInconsistent transitions the channel, with the identity signer.
func (tc *TokenChannel) CreateResetToken(sign func(wire.Hash) ([]byte, error)) error {
	if tc.LocalResetTerms == nil {
		return ErrChannelInconsistent
	}
	signHash := wire.ResetTokenSignHash(tc.LocalPk, tc.RemotePk, tc.LocalResetTerms.Counter)
	sig, err := sign(signHash)
	if err != nil {
		return err
	}
	tc.LocalResetTerms.Token = sig
	return nil
}

// LoadRemoteResetTerms records the remote's proposed reset terms, as
// delivered out-of-band through the Funder layer after an
// InconsistencyError notification. If we are not already Inconsistent
// locally, this alone transitions us there too (SPEC_FULL §3).
func (tc *TokenChannel) LoadRemoteResetTerms(terms ResetTerms) {
	tc.RemoteResetTerms = &terms
	if tc.Status != Inconsistent {
		tc.setInconsistent()
	}
}

// AcceptRemoteReset implements "Accepting the remote's reset" (§4.2): it
// verifies the remote's reset signature, synthesizes the phantom incoming
// MoveToken anchored on the remote's terms, and leaves the channel
// ConsistentIn. It returns no Builder and sends nothing: the next
// MoveToken built with NewOutgoing/Finalize re-anchors the chain.
// offeredToken must exactly match RemoteResetTerms.Token (SPEC_FULL §3's
// restored precondition).
func (tc *TokenChannel) AcceptRemoteReset(offeredToken []byte) error {
	if tc.RemoteResetTerms == nil {
		return ErrChannelInconsistent
	}
	if string(offeredToken) != string(tc.RemoteResetTerms.Token) {
		return ErrResetTokenMismatch
	}

	terms := tc.RemoteResetTerms
	signHash := wire.ResetTokenSignHash(tc.RemotePk, tc.LocalPk, terms.Counter)
	if !identity.Verify(signHash, terms.Token, tc.RemotePk) {
		return ErrResetTokenMismatch
	}

	currencies := make(map[wire.Currency]struct{}, len(terms.Balances))
	for _, v := range terms.Balances {
		currencies[v.Currency] = struct{}{}
	}
	for cur := range tc.Currencies {
		if _, ok := currencies[cur]; !ok {
			delete(tc.Currencies, cur)
		}
	}
	for _, v := range terms.Balances {
		mc, ok := tc.Currencies[v.Currency]
		if !ok {
			mc = newResetCurrency(v)
			tc.Currencies[v.Currency] = mc
		} else {
			mc.Balance = v.Balance
			mc.LocalPendingDebt = wire.ZeroAmount
			mc.RemotePendingDebt = wire.ZeroAmount
		}
	}

	phantom := wire.MoveToken{
		OldToken: nil,
		NewToken: terms.Token,
		Info:     wire.TokenInfo{BalancesHash: wire.BalancesHash(terms.Balances), MoveTokenCounter: terms.Counter - 1},
	}
	tc.Status = ConsistentIn
	tc.LastReceivedMoveToken = &phantom
	tc.MoveTokenCounter = terms.Counter - 1
	tc.LocalResetTerms = nil
	tc.RemoteResetTerms = nil
	return nil
}

func newResetCurrency(v wire.CurrencyBalanceView) *mutualcredit.MutualCredit {
	mc := mutualcredit.New(v.Currency, wire.ZeroAmount, wire.ZeroAmount)
	mc.Balance = v.Balance
	return mc
}

// applyResetAcceptance handles the Inconsistent-state branch of
// HandleIncoming: the remote has signed a MoveToken whose old_token is
// our local reset token, accepting our terms. It is processed exactly as
// a normal forward step, anchored on the (counter-1, reset balances)
// phantom "out" message instead of a real LastSentMoveToken.
func (tc *TokenChannel) applyResetAcceptance(
	msg wire.MoveToken, localMaxDebtFor func(wire.Currency) wire.Amount,
) ([]Event, error) {
	terms := tc.LocalResetTerms

	working := make(map[wire.Currency]*mutualcredit.MutualCredit, len(terms.Balances))
	for _, v := range terms.Balances {
		working[v.Currency] = newResetCurrency(v)
	}

	localMaxDebts := make(map[wire.Currency]wire.Amount, len(msg.CurrenciesDiff))
	for _, d := range msg.CurrenciesDiff {
		localMaxDebts[d.Currency] = localMaxDebtFor(d.Currency)
	}
	if err := applyCurrenciesDiffTo(working, msg.CurrenciesDiff, localMaxDebts); err != nil {
		return nil, err
	}

	events, err := applyOperations(working, msg.Operations)
	if err != nil {
		return nil, err
	}

	info := wire.TokenInfo{BalancesHash: wire.BalancesHash(viewsOf(working)), MoveTokenCounter: terms.Counter}
	infoHash := wire.InfoHash(info)
	signHash := wire.MoveTokenSignHash(msg.OldToken, msg.Operations, infoHash, tc.LocalPk)
	if !identity.Verify(signHash, msg.NewToken, tc.RemotePk) {
		return nil, ErrBadMoveTokenSignature
	}

	tc.Currencies = working
	tc.MoveTokenCounter = terms.Counter
	return events, nil
}
