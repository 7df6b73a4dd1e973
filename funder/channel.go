// This file is the Channeler-facing boundary: turning a friend's liveness
// and incoming frame bytes into tokenchannel/routing calls, and draining a
// friend's pending outgoing state into a signed MoveToken frame handed to
// ChannelNotifier.Send. It is the glue markSendCommand's doc comment
// anticipates ("Scheduling outgoing MoveTokens") and that routing.go/
// payment.go's PendingUserRequests/PendingBackwardsOps queues are drained
// by (§4.4 "the Channeler owns transport; the Funder owns what gets sent").
package funder

import (
	"bytes"

	"github.com/offstlabs/offst/identity"
	"github.com/offstlabs/offst/store"
	"github.com/offstlabs/offst/tokenchannel"
	"github.com/offstlabs/offst/wire"
)

// SetOnline is called by the Channeler when a friend's session comes up or
// drops. Going online resends the last MoveToken if it is still
// unanswered (ConsistentOut), then retries whatever the friend wants sent;
// PendingUserRequests/PendingBackwardsOps queued while offline are kept
// (§6 "pending-user queues MAY be dropped" - never required to be).
func (f *Funder) SetOnline(pk identity.PublicKey, online bool) {
	f.submit(func(f *Funder) (interface{}, error) {
		fr, ok := f.friends[pk]
		if !ok {
			return nil, nil
		}
		fr.Online = online
		if online {
			if fr.Channel.Status == tokenchannel.ConsistentOut && fr.Channel.LastSentMoveToken != nil {
				f.sendFrame(fr, wire.FrameMoveToken, wire.EncodeMoveToken(*fr.Channel.LastSentMoveToken))
			}
			f.trySend(fr)
		}
		return nil, nil
	})
}

// HandleFrame applies one inbound Channeler frame from pk: a MoveToken
// advances the token-channel state machine and routes whatever events it
// surfaces; an inconsistency-error frame records the peer's proposed reset
// terms (§4.2 "Inconsistent & reset").
func (f *Funder) HandleFrame(pk identity.PublicKey, typ wire.FrameType, payload []byte) {
	f.submit(func(f *Funder) (interface{}, error) {
		fr, ok := f.friends[pk]
		if !ok {
			return nil, nil
		}
		switch typ {
		case wire.FrameMoveToken:
			f.handleIncomingMoveToken(fr, payload)
		case wire.FrameInconsistencyError:
			f.handleIncomingResetTerms(fr, payload)
		}
		return nil, nil
	})
}

func (f *Funder) handleIncomingMoveToken(fr *Friend, payload []byte) {
	msg, err := wire.DecodeMoveToken(payload)
	if err != nil {
		log.Errorf("funder: decode move token from %v: %v", fr.RemotePk, err)
		return
	}

	outcome, err := fr.Channel.HandleIncoming(msg, fr.localMaxDebtFor)
	if err != nil && outcome.Kind != tokenchannel.OutcomeInconsistent {
		log.Errorf("funder: apply move token from %v: %v", fr.RemotePk, err)
		return
	}

	switch outcome.Kind {
	case tokenchannel.OutcomeDuplicate:
		// Already applied; nothing to do.

	case tokenchannel.OutcomeRetransmit:
		f.sendFrame(fr, wire.FrameMoveToken, wire.EncodeMoveToken(*outcome.Retransmit))

	case tokenchannel.OutcomeReceived:
		f.reconcileLocalRelays(fr)
		if err := f.persistFriend(fr); err != nil {
			f.fatal(err)
		}
		f.processFriendEvents(fr.RemotePk, outcome.Events)
		f.markSendCommand(fr)

	case tokenchannel.OutcomeInconsistent:
		if outcome.LocalResetTerms != nil {
			frame := wire.EncodeResetTerms(
				outcome.LocalResetTerms.Token, outcome.LocalResetTerms.Counter, outcome.LocalResetTerms.Balances,
			)
			f.sendFrame(fr, wire.FrameInconsistencyError, frame)
		}
		if err := f.persistFriend(fr); err != nil {
			f.fatal(err)
		}
	}
}

// reconcileLocalRelays advances Friend.sent_local_relays once the peer's
// MoveToken proves receipt of our outstanding relays_diff (§3 "sent_local_
// relays three-state transition"): any MoveToken they send while we are
// mid-Transition means they have already applied it.
func (f *Funder) reconcileLocalRelays(fr *Friend) {
	if fr.SentLocalRelaysState == store.RelaysTransition {
		fr.SentLocalRelaysState = store.RelaysLastSent
		fr.SentLocalRelaysOld = nil
	}
}

func (f *Funder) handleIncomingResetTerms(fr *Friend, payload []byte) {
	token, counter, balances, err := wire.DecodeResetTerms(payload)
	if err != nil {
		log.Errorf("funder: decode reset terms from %v: %v", fr.RemotePk, err)
		return
	}
	fr.Channel.LoadRemoteResetTerms(tokenchannel.ResetTerms{Token: token, Counter: counter, Balances: balances})
	if err := f.persistFriend(fr); err != nil {
		f.fatal(err)
	}
}

// trySend builds and transmits the next outgoing MoveToken for fr if one
// is owed and the token channel currently holds the reply obligation
// (ConsistentIn). Called with exclusive actor-loop access, so it may touch
// fr and its TokenChannel directly.
func (f *Funder) trySend(fr *Friend) {
	if !fr.TokenWanted || !fr.Online {
		return
	}
	if fr.Channel.Status == tokenchannel.Inconsistent {
		if fr.Channel.LocalResetTerms != nil {
			frame := wire.EncodeResetTerms(fr.Channel.LocalResetTerms.Token, fr.Channel.LocalResetTerms.Counter, fr.Channel.LocalResetTerms.Balances)
			f.sendFrame(fr, wire.FrameInconsistencyError, frame)
		}
		return
	}
	if fr.Channel.Status != tokenchannel.ConsistentIn {
		return
	}

	b, err := fr.Channel.NewOutgoing()
	if err != nil {
		return
	}

	if fr.SentLocalRelaysState == store.RelaysTransition {
		b.QueueRelaysDiff(fr.SentLocalRelaysNew)
	}

	for _, op := range fr.PendingBackwardsOps {
		switch op.Kind {
		case BackwardsResponse:
			queueFinalizedResponse(b, *op.Response)
		case BackwardsCancel:
			queueFinalizedCancel(b, *op.Cancel)
		}
	}
	fr.PendingBackwardsOps = nil

	pending := fr.PendingUserRequests
	fr.PendingUserRequests = nil
	for _, req := range pending {
		ok, err := b.QueueRequest(req.Currency, req)
		if err != nil {
			log.Errorf("funder: queue request %x to %v: %v", req.RequestId, fr.RemotePk, err)
			f.cancelIncoming(req.RequestId, f.cfg.LocalPk)
			continue
		}
		if !ok {
			f.cancelIncoming(req.RequestId, f.cfg.LocalPk)
		}
	}

	msg, err := b.Finalize(f.cfg.Signer.Sign)
	if err != nil {
		log.Errorf("funder: finalize move token to %v: %v", fr.RemotePk, err)
		return
	}

	fr.TokenWanted = false
	if err := f.persistFriend(fr); err != nil {
		f.fatal(err)
	}
	f.sendFrame(fr, wire.FrameMoveToken, wire.EncodeMoveToken(*msg))
}

// queueFinalizedResponse/queueFinalizedCancel append an already-resolved
// backwards op straight onto the MoveToken being built: unlike
// Builder.QueueResponse/QueueCancel, the upstream mc bookkeeping for these
// already ran at queue time (completeIncoming's QueueResponse call, or
// cancelIncoming/routeIncomingResponse's QueueCancel/QueueResponse call);
// all that is left is putting the bytes on the wire.
func queueFinalizedResponse(b *tokenchannel.Builder, resp wire.ResponseSendFunds) {
	b.AppendFinalizedOp(wire.ResponseOp(resp))
}

func queueFinalizedCancel(b *tokenchannel.Builder, cancel wire.CancelSendFunds) {
	b.AppendFinalizedOp(wire.CancelOp(cancel))
}

func (f *Funder) sendFrame(fr *Friend, typ wire.FrameType, payload []byte) {
	var buf bytes.Buffer
	if err := wire.WriteFrame(&buf, typ, payload); err != nil {
		log.Errorf("funder: encode frame to %v: %v", fr.RemotePk, err)
		return
	}
	f.cfg.Notifier.Send(fr.RemotePk, buf.Bytes())
}
