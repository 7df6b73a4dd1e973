package tokenchannel

import (
	"bytes"

	"github.com/offstlabs/offst/identity"
	"github.com/offstlabs/offst/mutualcredit"
	"github.com/offstlabs/offst/wire"
)

// EventKind tags the closed variant of Event.
type EventKind int

const (
	EventRequest EventKind = iota
	EventResponse
	EventCancel
)

// Event is one operation's effect, collected during HandleIncoming and
// delivered upward to the Funder for routing/settlement bookkeeping.
type Event struct {
	Kind     EventKind
	Currency wire.Currency

	// Request fields.
	Request        *wire.RequestSendFunds
	RequestDecision mutualcredit.Decision

	// Response fields.
	Response   *wire.ResponseSendFunds
	ResponsePT *mutualcredit.PendingTransaction

	// Cancel fields.
	Cancel   *wire.CancelSendFunds
	CancelPT *mutualcredit.PendingTransaction
}

// OutcomeKind tags the closed variant of Outcome.
type OutcomeKind int

const (
	OutcomeDuplicate OutcomeKind = iota
	OutcomeRetransmit
	OutcomeReceived
	OutcomeInconsistent
)

// Outcome is the classification of one HandleIncoming call (mirrors
// original_source's ReceiveMoveTokenOutput).
type Outcome struct {
	Kind            OutcomeKind
	Retransmit      *wire.MoveToken
	Events          []Event
	LocalResetTerms *ResetTerms
}

func identicalMoveToken(a, b wire.MoveToken) bool {
	return bytes.Equal(a.NewToken, b.NewToken) && bytes.Equal(a.OldToken, b.OldToken)
}

func cloneCurrencies(in map[wire.Currency]*mutualcredit.MutualCredit) map[wire.Currency]*mutualcredit.MutualCredit {
	out := make(map[wire.Currency]*mutualcredit.MutualCredit, len(in))
	for k, mc := range in {
		clone := *mc
		clone.PendingLocal = make(map[wire.RequestId]mutualcredit.PendingTransaction, len(mc.PendingLocal))
		for id, pt := range mc.PendingLocal {
			clone.PendingLocal[id] = pt
		}
		clone.PendingRemote = make(map[wire.RequestId]mutualcredit.PendingTransaction, len(mc.PendingRemote))
		for id, pt := range mc.PendingRemote {
			clone.PendingRemote[id] = pt
		}
		out[k] = &clone
	}
	return out
}

func viewsOf(currencies map[wire.Currency]*mutualcredit.MutualCredit) []wire.CurrencyBalanceView {
	out := make([]wire.CurrencyBalanceView, 0, len(currencies))
	for _, mc := range currencies {
		out = append(out, mc.View())
	}
	return out
}

// applyOperations runs every operation in order against working,
// collecting events; the first failing operation fails the whole message
// (§4.2 "a bad operation fails the whole message").
func applyOperations(working map[wire.Currency]*mutualcredit.MutualCredit, ops []wire.Operation) ([]Event, error) {
	events := make([]Event, 0, len(ops))
	for _, op := range ops {
		switch op.Kind {
		case wire.OpRequestSendFunds:
			mc, ok := working[op.Request.Currency]
			if !ok {
				return nil, ErrUnknownCurrency
			}
			decision, err := mc.IncomingRequest(*op.Request)
			if err != nil {
				return nil, err
			}
			events = append(events, Event{
				Kind: EventRequest, Currency: op.Request.Currency,
				Request: op.Request, RequestDecision: decision,
			})

		case wire.OpResponseSendFunds:
			// The response's currency is recovered from whichever cell
			// holds the matching pending_local entry.
			var applied bool
			for currency, mc := range working {
				pt, err := mc.IncomingResponse(*op.Response)
				if err == mutualcredit.ErrNotFound {
					continue
				}
				if err != nil {
					return nil, err
				}
				ptCopy := pt
				events = append(events, Event{
					Kind: EventResponse, Currency: currency,
					Response: op.Response, ResponsePT: &ptCopy,
				})
				applied = true
				break
			}
			if !applied {
				return nil, mutualcredit.ErrNotFound
			}

		case wire.OpCancelSendFunds:
			var applied bool
			for currency, mc := range working {
				pt, err := mc.IncomingCancel(op.Cancel.RequestId)
				if err == mutualcredit.ErrNotFound {
					continue
				}
				if err != nil {
					return nil, err
				}
				ptCopy := pt
				events = append(events, Event{
					Kind: EventCancel, Currency: currency,
					Cancel: op.Cancel, CancelPT: &ptCopy,
				})
				applied = true
				break
			}
			if !applied {
				return nil, mutualcredit.ErrNotFound
			}
		}
	}
	return events, nil
}

// applyForwardStep handles the ConsistentOut "normal forward step" branch
// of §4.2: apply currencies_diff, apply every operation, bump the
// counter, and verify the resulting info_hash signature — all against a
// scratch copy so a mid-way failure leaves tc untouched.
func (tc *TokenChannel) applyForwardStep(
	msg wire.MoveToken, localMaxDebtFor func(wire.Currency) wire.Amount,
) ([]Event, error) {
	working := cloneCurrencies(tc.Currencies)

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

	newCounter := tc.MoveTokenCounter + 1
	info := wire.TokenInfo{BalancesHash: wire.BalancesHash(viewsOf(working)), MoveTokenCounter: newCounter}
	infoHash := wire.InfoHash(info)
	signHash := wire.MoveTokenSignHash(msg.OldToken, msg.Operations, infoHash, tc.LocalPk)
	if !identity.Verify(signHash, msg.NewToken, tc.RemotePk) {
		return nil, ErrBadMoveTokenSignature
	}

	tc.Currencies = working
	tc.MoveTokenCounter = newCounter
	return events, nil
}

func applyCurrenciesDiffTo(
	working map[wire.Currency]*mutualcredit.MutualCredit, diff []wire.CurrencyDiff,
	localMaxDebts map[wire.Currency]wire.Amount,
) error {
	for _, d := range diff {
		mc, active := working[d.Currency]
		if !active {
			working[d.Currency] = mutualcredit.New(d.Currency, localMaxDebts[d.Currency], wire.ZeroAmount)
			continue
		}
		if !mc.IsDrained() {
			return mutualcredit.ErrCurrencyNotDrained
		}
		delete(working, d.Currency)
	}
	return nil
}

// HandleIncoming classifies and applies one inbound MoveToken per §4.2.
// localMaxDebtFor supplies the configured local_max_debt for a currency
// that currencies_diff is about to activate for the first time (the
// Funder's per-friend CurrencyConfig, not known to TokenChannel itself).
func (tc *TokenChannel) HandleIncoming(
	msg wire.MoveToken, localMaxDebtFor func(wire.Currency) wire.Amount,
) (Outcome, error) {
	switch tc.Status {
	case ConsistentIn:
		if tc.LastReceivedMoveToken != nil && identicalMoveToken(msg, *tc.LastReceivedMoveToken) {
			return Outcome{Kind: OutcomeDuplicate}, nil
		}
		terms := tc.setInconsistent()
		return Outcome{Kind: OutcomeInconsistent, LocalResetTerms: terms}, nil

	case ConsistentOut:
		out := tc.LastSentMoveToken
		switch {
		case bytes.Equal(msg.OldToken, out.NewToken):
			events, err := tc.applyForwardStep(msg, localMaxDebtFor)
			if err != nil {
				terms := tc.setInconsistent()
				return Outcome{Kind: OutcomeInconsistent, LocalResetTerms: terms}, nil
			}
			msgCopy := msg
			tc.Status = ConsistentIn
			tc.LastReceivedMoveToken = &msgCopy
			tc.LastSentMoveToken = nil
			return Outcome{Kind: OutcomeReceived, Events: events}, nil

		case bytes.Equal(msg.NewToken, out.OldToken):
			return Outcome{Kind: OutcomeRetransmit, Retransmit: out}, nil

		default:
			terms := tc.setInconsistent()
			return Outcome{Kind: OutcomeInconsistent, LocalResetTerms: terms}, nil
		}

	case Inconsistent:
		if tc.LocalResetTerms != nil && bytes.Equal(msg.OldToken, tc.LocalResetTerms.Token) {
			events, err := tc.applyResetAcceptance(msg, localMaxDebtFor)
			if err != nil {
				return Outcome{Kind: OutcomeInconsistent, LocalResetTerms: tc.LocalResetTerms}, err
			}
			msgCopy := msg
			tc.Status = ConsistentIn
			tc.LastReceivedMoveToken = &msgCopy
			tc.LocalResetTerms = nil
			tc.RemoteResetTerms = nil
			return Outcome{Kind: OutcomeReceived, Events: events}, nil
		}
		return Outcome{Kind: OutcomeInconsistent, LocalResetTerms: tc.LocalResetTerms}, ErrChannelInconsistent
	}
	return Outcome{}, ErrChannelInconsistent
}

// ErrBadMoveTokenSignature is returned (and always converts the channel to
// Inconsistent) when a MoveToken's new_token fails to verify.
var ErrBadMoveTokenSignature = errBadSig{}

type errBadSig struct{}

func (errBadSig) Error() string { return "tokenchannel: move token signature invalid" }
