package negotiation

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kalaikatha/commissions/internal/config"
	"github.com/kalaikatha/commissions/internal/db"
	"github.com/kalaikatha/commissions/internal/events"
	"github.com/kalaikatha/commissions/internal/metrics"
)

// Decline reasons recorded on slots.
const (
	declineReasonSeller    = "declined by seller"
	declineReasonBuyer     = "declined by buyer"
	declineReasonNoDeal    = "seller floor exceeds buyer budget"
	declineReasonCancelled = "order cancelled by buyer"
)

// Slot statuses an offer or acceptance may act on.
var liveSlotStatuses = []db.SlotStatus{
	db.SlotStatusPending,
	db.SlotStatusOffered,
	db.SlotStatusCounterOffered,
}

type sessionCmd struct {
	run  func(ctx context.Context) error
	done chan error
}

// session is the per-order coordination task. All mutations to one order's
// slots flow through its goroutine, giving arrival-order application of
// offers without locks.
type session struct {
	mgr     *Manager
	orderID uuid.UUID
	buyerID string

	cmds   chan sessionCmd
	closed chan struct{}

	// terminal is only touched from the session goroutine.
	terminal bool

	log zerolog.Logger
}

func newSession(m *Manager, orderID uuid.UUID, buyerID string) *session {
	return &session{
		mgr:     m,
		orderID: orderID,
		buyerID: buyerID,
		cmds:    make(chan sessionCmd, m.opts.OfferBuffer),
		closed:  make(chan struct{}),
		log:     config.NewSessionLogger(orderID.String()),
	}
}

// run executes commands until the order reaches a terminal state or the
// manager shuts down.
func (s *session) run(ctx context.Context) {
	defer s.mgr.removeSession(s.orderID)
	defer s.drain()
	defer close(s.closed)

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-s.cmds:
			opCtx, cancel := context.WithTimeout(ctx, s.mgr.opts.StoreTimeout)
			err := cmd.run(opCtx)
			cancel()
			cmd.done <- err
			if s.terminal {
				return
			}
		}
	}
}

// drain answers commands that were queued while the session was exiting.
func (s *session) drain() {
	for {
		select {
		case cmd := <-s.cmds:
			cmd.done <- errSessionClosed
		default:
			return
		}
	}
}

// do runs fn inside the session goroutine and waits for its result.
func (s *session) do(ctx context.Context, fn func(context.Context, *session) error) error {
	cmd := sessionCmd{
		run:  func(opCtx context.Context) error { return fn(opCtx, s) },
		done: make(chan error, 1),
	}

	select {
	case s.cmds <- cmd:
	case <-s.closed:
		return errSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-cmd.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// loadLive returns the order if it is still negotiating. A terminal order
// ends the session.
func (s *session) loadLive(ctx context.Context) (*db.Order, error) {
	order, err := s.mgr.store.GetOrder(ctx, s.orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != db.OrderStatusNegotiating {
		// Another process finished this order; drop the session.
		s.terminal = true
		return nil, &StaleStateError{OrderID: s.orderID, OrderStatus: order.Status}
	}
	return order, nil
}

// finish marks the order terminal for this session and records the outcome.
func (s *session) finish(status db.OrderStatus) {
	s.terminal = true
	metrics.RecordOrderTerminal(string(status))
	s.log.Info().Str("status", string(status)).Msg("Negotiation finished")
}

func (s *session) snapshot(order *db.Order, slot *db.CandidateSlot) *SlotSnapshot {
	return &SlotSnapshot{
		OrderID:       slot.OrderID,
		SellerID:      slot.SellerID,
		OrderStatus:   order.Status,
		SlotStatus:    slot.Status,
		CurrentPrice:  slot.CurrentPrice,
		FinalOffer:    slot.FinalOffer,
		DeclineReason: slot.DeclineReason,
		DeadlineAt:    slot.DeadlineAt,
	}
}

// refreshSnapshot rereads the slot after a transition.
func (s *session) refreshSnapshot(ctx context.Context, orderStatus db.OrderStatus, sellerID string) (*SlotSnapshot, error) {
	slot, err := s.mgr.store.GetSlot(ctx, s.orderID, sellerID)
	if err != nil {
		return nil, err
	}
	return s.snapshot(&db.Order{Status: orderStatus}, slot), nil
}

// handleSellerResponse applies a seller's offer, acceptance, or decline.
func (s *session) handleSellerResponse(ctx context.Context, sellerID string, price db.Money, kind OfferKind) (*SlotSnapshot, error) {
	order, err := s.loadLive(ctx)
	if err != nil {
		return nil, err
	}

	slot, err := s.mgr.store.GetSlot(ctx, s.orderID, sellerID)
	if err != nil {
		return nil, err
	}
	if slot.Status.IsTerminal() {
		metrics.RecordOfferRejected(metrics.RejectionStaleState)
		return nil, &StaleStateError{OrderID: s.orderID, SellerID: sellerID, OrderStatus: order.Status, SlotStatus: slot.Status}
	}

	seller, err := s.mgr.registry.Seller(ctx, sellerID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve seller: %w", err)
	}

	switch kind {
	case OfferKindAccept:
		// Accepting a pending slot with no price on the table agrees to the
		// buyer's full budget.
		acceptPrice := order.Budget
		if slot.CurrentPrice != nil {
			acceptPrice = *slot.CurrentPrice
		}
		if acceptPrice > order.Budget {
			metrics.RecordOfferRejected(metrics.RejectionOutOfBounds)
			return nil, &OutOfBoundsOfferError{Price: acceptPrice, Min: 0, Max: order.Budget}
		}
		return s.accept(ctx, order, sellerID, acceptPrice)

	case OfferKindDecline:
		return s.decline(ctx, order, sellerID, declineReasonSeller)

	case OfferKindOffer:
		return s.applySellerOffer(ctx, order, seller, slot, price)

	default:
		return nil, fmt.Errorf("unknown offer kind: %s", kind)
	}
}

func (s *session) applySellerOffer(ctx context.Context, order *db.Order, seller *db.Seller, slot *db.CandidateSlot, price db.Money) (*SlotSnapshot, error) {
	if price <= 0 {
		metrics.RecordOfferRejected(metrics.RejectionOutOfBounds)
		return nil, &OutOfBoundsOfferError{Price: price, Min: 1}
	}
	if seller.AcceptablePriceFloor != nil && price < *seller.AcceptablePriceFloor {
		metrics.RecordOfferRejected(metrics.RejectionOutOfBounds)
		return nil, &OutOfBoundsOfferError{Price: price, Min: *seller.AcceptablePriceFloor}
	}
	if slot.FinalOffer {
		// The standing counter is final: the seller must accept or decline.
		metrics.RecordOfferRejected(metrics.RejectionStaleState)
		return nil, &StaleStateError{OrderID: s.orderID, SellerID: seller.ID, OrderStatus: order.Status, SlotStatus: slot.Status}
	}

	// A seller asking exactly the buyer's budget is agreement, not a round.
	if price == order.Budget {
		s.appendOffer(ctx, seller.ID, db.OfferOriginSeller, price, false)
		return s.accept(ctx, order, seller.ID, price)
	}

	ok, err := s.mgr.store.UpdateSlotIf(ctx, s.orderID, seller.ID, liveSlotStatuses, db.SlotStatusOffered, &price, false, nil)
	if err != nil {
		return nil, err
	}
	if !ok {
		metrics.RecordOfferRejected(metrics.RejectionStaleState)
		return nil, s.mgr.staleFor(ctx, s.orderID, seller.ID)
	}

	s.appendOffer(ctx, seller.ID, db.OfferOriginSeller, price, false)
	metrics.RecordOffer(string(db.OfferOriginSeller))
	s.mgr.publish(ctx, events.OfferReceived{
		OrderID:  s.orderID,
		BuyerID:  order.BuyerID,
		SellerID: seller.ID,
		Price:    price,
		Origin:   db.OfferOriginSeller,
	})

	return s.runAgent(ctx, order, seller, price)
}

// runAgent computes and applies the automated counter to a fresh seller
// offer.
func (s *session) runAgent(ctx context.Context, order *db.Order, seller *db.Seller, sellerPrice db.Money) (*SlotSnapshot, error) {
	var floor db.Money
	if seller.AcceptablePriceFloor != nil {
		floor = *seller.AcceptablePriceFloor
	}

	lastBuyer, err := s.lastBuyerSidePrice(ctx, seller.ID)
	if err != nil {
		return nil, err
	}

	style := seller.NegotiationStyle
	if style == "" {
		style = s.mgr.opts.DefaultStyle
	}

	proposal, ok := s.mgr.strategy.Propose(ProposeInput{
		BuyerBudget:     order.Budget,
		SellerFloor:     floor,
		LastSellerOffer: &sellerPrice,
		LastBuyerOffer:  lastBuyer,
		Style:           style,
	})
	if !ok {
		// Empty bracket: the seller cannot meet the budget.
		metrics.RecordAgentProposal(metrics.AgentOutcomeNoDeal)
		return s.decline(ctx, order, seller.ID, declineReasonNoDeal)
	}

	// A delegating seller accepts any counter at or above their floor.
	if seller.AutoAcceptAtFloor && seller.AcceptablePriceFloor != nil && proposal.Price >= floor {
		s.appendOffer(ctx, seller.ID, db.OfferOriginAutoAgent, proposal.Price, proposal.Final)
		metrics.RecordAgentProposal(metrics.AgentOutcomeCounter)
		return s.accept(ctx, order, seller.ID, proposal.Price)
	}

	updated, err := s.mgr.store.UpdateSlotIf(ctx, s.orderID, seller.ID,
		[]db.SlotStatus{db.SlotStatusOffered}, db.SlotStatusCounterOffered,
		&proposal.Price, proposal.Final, nil)
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, s.mgr.staleFor(ctx, s.orderID, seller.ID)
	}

	s.appendOffer(ctx, seller.ID, db.OfferOriginAutoAgent, proposal.Price, proposal.Final)
	metrics.RecordOffer(string(db.OfferOriginAutoAgent))
	if proposal.Final {
		metrics.RecordAgentProposal(metrics.AgentOutcomeFinal)
	} else {
		metrics.RecordAgentProposal(metrics.AgentOutcomeCounter)
	}

	s.mgr.publish(ctx, events.CounterOffered{
		OrderID:  s.orderID,
		SellerID: seller.ID,
		Price:    proposal.Price,
		Origin:   db.OfferOriginAutoAgent,
		Final:    proposal.Final,
	})

	return s.refreshSnapshot(ctx, order.Status, seller.ID)
}

// handleBuyerResponse applies a buyer's counter, acceptance, or decline on
// one slot.
func (s *session) handleBuyerResponse(ctx context.Context, sellerID string, price db.Money, kind OfferKind) (*SlotSnapshot, error) {
	order, err := s.loadLive(ctx)
	if err != nil {
		return nil, err
	}

	slot, err := s.mgr.store.GetSlot(ctx, s.orderID, sellerID)
	if err != nil {
		return nil, err
	}
	if slot.Status.IsTerminal() {
		metrics.RecordOfferRejected(metrics.RejectionStaleState)
		return nil, &StaleStateError{OrderID: s.orderID, SellerID: sellerID, OrderStatus: order.Status, SlotStatus: slot.Status}
	}

	switch kind {
	case OfferKindAccept:
		if slot.CurrentPrice == nil {
			return nil, &StaleStateError{OrderID: s.orderID, SellerID: sellerID, OrderStatus: order.Status, SlotStatus: slot.Status}
		}
		if *slot.CurrentPrice > order.Budget {
			metrics.RecordOfferRejected(metrics.RejectionOutOfBounds)
			return nil, &OutOfBoundsOfferError{Price: *slot.CurrentPrice, Min: 0, Max: order.Budget}
		}
		return s.accept(ctx, order, sellerID, *slot.CurrentPrice)

	case OfferKindDecline:
		return s.decline(ctx, order, sellerID, declineReasonBuyer)

	case OfferKindOffer:
		return s.applyBuyerCounter(ctx, order, slot, price)

	default:
		return nil, fmt.Errorf("unknown offer kind: %s", kind)
	}
}

func (s *session) applyBuyerCounter(ctx context.Context, order *db.Order, slot *db.CandidateSlot, price db.Money) (*SlotSnapshot, error) {
	if price < 0 || price > order.Budget {
		metrics.RecordOfferRejected(metrics.RejectionOutOfBounds)
		return nil, &OutOfBoundsOfferError{Price: price, Min: 0, Max: order.Budget}
	}
	if slot.FinalOffer {
		metrics.RecordOfferRejected(metrics.RejectionStaleState)
		return nil, &StaleStateError{OrderID: s.orderID, SellerID: slot.SellerID, OrderStatus: order.Status, SlotStatus: slot.Status}
	}

	// There is nothing to counter until the seller has moved.
	ok, err := s.mgr.store.UpdateSlotIf(ctx, s.orderID, slot.SellerID,
		[]db.SlotStatus{db.SlotStatusOffered, db.SlotStatusCounterOffered},
		db.SlotStatusCounterOffered, &price, false, nil)
	if err != nil {
		return nil, err
	}
	if !ok {
		metrics.RecordOfferRejected(metrics.RejectionStaleState)
		return nil, s.mgr.staleFor(ctx, s.orderID, slot.SellerID)
	}

	s.appendOffer(ctx, slot.SellerID, db.OfferOriginBuyer, price, false)
	metrics.RecordOffer(string(db.OfferOriginBuyer))
	s.mgr.publish(ctx, events.CounterOffered{
		OrderID:  s.orderID,
		SellerID: slot.SellerID,
		Price:    price,
		Origin:   db.OfferOriginBuyer,
	})

	// Auto-accept kicks in when the buyer's counter reaches the floor of a
	// delegating seller.
	seller, err := s.mgr.registry.Seller(ctx, slot.SellerID)
	if err == nil && seller.AutoAcceptAtFloor && seller.AcceptablePriceFloor != nil && price >= *seller.AcceptablePriceFloor {
		return s.accept(ctx, order, slot.SellerID, price)
	}

	return s.refreshSnapshot(ctx, order.Status, slot.SellerID)
}

// accept performs the at-most-one acceptance step. Losing the race is
// reported as staleness, not a fault.
func (s *session) accept(ctx context.Context, order *db.Order, sellerID string, price db.Money) (*SlotSnapshot, error) {
	won, err := s.mgr.store.AcceptSlot(ctx, s.orderID, sellerID, price)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, s.mgr.staleFor(ctx, s.orderID, sellerID)
	}

	s.observeRounds(ctx, sellerID)
	s.finish(db.OrderStatusFulfilled)

	s.mgr.publish(ctx, events.OrderFulfilled{
		OrderID:  s.orderID,
		BuyerID:  order.BuyerID,
		SellerID: sellerID,
		Price:    price,
	})

	// Tell the losing sellers their slots were closed.
	if slots, err := s.mgr.store.ListSlotsByOrder(ctx, s.orderID); err == nil {
		for i := range slots {
			slot := &slots[i]
			if slot.SellerID == sellerID {
				continue
			}
			if slot.Status == db.SlotStatusDeclined && slot.DeclineReason != nil && *slot.DeclineReason == db.DeclineReasonFulfilledElsewhere {
				s.mgr.publish(ctx, events.SlotDeclinedElsewhere{OrderID: s.orderID, SellerID: slot.SellerID})
			}
		}
	}

	return s.refreshSnapshot(ctx, db.OrderStatusFulfilled, sellerID)
}

// decline moves one slot to Declined and finalizes the order if it was the
// last live slot.
func (s *session) decline(ctx context.Context, order *db.Order, sellerID, reason string) (*SlotSnapshot, error) {
	ok, err := s.mgr.store.UpdateSlotIf(ctx, s.orderID, sellerID, liveSlotStatuses, db.SlotStatusDeclined, nil, false, &reason)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.mgr.staleFor(ctx, s.orderID, sellerID)
	}

	s.observeRounds(ctx, sellerID)
	if err := s.finalizeIfDone(ctx, order); err != nil {
		return nil, err
	}

	status := order.Status
	if s.terminal {
		if cur, err := s.mgr.store.GetOrder(ctx, s.orderID); err == nil {
			status = cur.Status
		}
	}
	return s.refreshSnapshot(ctx, status, sellerID)
}

// handleExpireSlot fires one slot's deadline. Idempotent: a terminal slot is
// untouched.
func (s *session) handleExpireSlot(ctx context.Context, sellerID string) error {
	order, err := s.loadLive(ctx)
	if err != nil {
		return err
	}

	expired, err := s.mgr.store.ExpireSlotIf(ctx, s.orderID, sellerID)
	if err != nil {
		return err
	}
	if !expired {
		return nil
	}

	metrics.SlotsExpired.Inc()
	s.log.Debug().Str("seller_id", sellerID).Msg("Candidate slot expired")

	return s.finalizeIfDone(ctx, order)
}

// handleSweep finalizes an order whose slots have all reached a terminal
// state without an acceptance.
func (s *session) handleSweep(ctx context.Context) error {
	order, err := s.loadLive(ctx)
	if err != nil {
		return err
	}
	return s.finalizeIfDone(ctx, order)
}

// finalizeIfDone moves the order to Expired once every slot is terminal and
// none was accepted.
func (s *session) finalizeIfDone(ctx context.Context, order *db.Order) error {
	slots, err := s.mgr.store.ListSlotsByOrder(ctx, s.orderID)
	if err != nil {
		return err
	}

	for i := range slots {
		if !slots[i].Status.IsTerminal() {
			return nil
		}
		if slots[i].Status == db.SlotStatusAccepted {
			return nil
		}
	}

	ok, err := s.mgr.store.UpdateOrderStatusIf(ctx, s.orderID, db.OrderStatusNegotiating, db.OrderStatusExpired)
	if err != nil {
		return err
	}
	if !ok {
		// Another path already finished the order.
		s.terminal = true
		return nil
	}

	s.finish(db.OrderStatusExpired)
	s.mgr.publish(ctx, events.OrderExpired{OrderID: s.orderID, BuyerID: order.BuyerID})
	return nil
}

// handleCancel withdraws the order and closes all live slots.
func (s *session) handleCancel(ctx context.Context) error {
	if _, err := s.loadLive(ctx); err != nil {
		return err
	}

	ok, err := s.mgr.store.UpdateOrderStatusIf(ctx, s.orderID, db.OrderStatusNegotiating, db.OrderStatusCancelled)
	if err != nil {
		return err
	}
	if !ok {
		return s.mgr.staleFor(ctx, s.orderID, "")
	}

	slots, err := s.mgr.store.ListSlotsByOrder(ctx, s.orderID)
	if err == nil {
		reason := declineReasonCancelled
		for i := range slots {
			slot := &slots[i]
			if slot.Status.IsTerminal() {
				continue
			}
			if _, err := s.mgr.store.UpdateSlotIf(ctx, s.orderID, slot.SellerID, liveSlotStatuses, db.SlotStatusDeclined, nil, false, &reason); err != nil {
				s.log.Error().Err(err).Str("seller_id", slot.SellerID).Msg("Failed to close slot on cancellation")
				continue
			}
			s.mgr.publish(ctx, events.OrderCancelled{OrderID: s.orderID, SellerID: slot.SellerID})
		}
	}

	s.finish(db.OrderStatusCancelled)
	return nil
}

// appendOffer writes the history record for an applied offer. History loss
// is logged, not fatal: the slot state is authoritative.
func (s *session) appendOffer(ctx context.Context, sellerID string, origin db.OfferOrigin, price db.Money, final bool) {
	offer := &db.Offer{
		OrderID:   s.orderID,
		SellerID:  sellerID,
		Origin:    origin,
		Price:     price,
		Final:     final,
		CreatedAt: db.Now(),
	}
	if err := s.mgr.store.AppendOffer(ctx, offer); err != nil {
		s.log.Error().Err(err).Str("seller_id", sellerID).Msg("Failed to append offer history")
	}
}

// lastBuyerSidePrice returns the most recent buyer- or agent-origin price on
// a slot.
func (s *session) lastBuyerSidePrice(ctx context.Context, sellerID string) (*db.Money, error) {
	offers, err := s.mgr.store.ListOffersForSlot(ctx, s.orderID, sellerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load offer history: %w", err)
	}

	var last *db.Money
	for i := range offers {
		if offers[i].Origin == db.OfferOriginBuyer || offers[i].Origin == db.OfferOriginAutoAgent {
			last = &offers[i].Price
		}
	}
	return last, nil
}

// observeRounds records how many offers a slot saw before going terminal.
func (s *session) observeRounds(ctx context.Context, sellerID string) {
	offers, err := s.mgr.store.ListOffersForSlot(ctx, s.orderID, sellerID)
	if err != nil {
		return
	}
	if len(offers) > 0 {
		metrics.NegotiationRounds.Observe(float64(len(offers)))
	}
}
