package negotiation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/kalaikatha/commissions/internal/db"
	"github.com/kalaikatha/commissions/internal/events"
	"github.com/kalaikatha/commissions/internal/metrics"
	"github.com/kalaikatha/commissions/internal/registry"
	"github.com/kalaikatha/commissions/internal/selector"
)

// Store is the persistence surface the session manager needs. *db.DB
// satisfies it; tests use an in-memory fake.
type Store interface {
	InsertOrderWithSlots(ctx context.Context, order *db.Order, slots []db.CandidateSlot) error
	GetOrder(ctx context.Context, orderID uuid.UUID) (*db.Order, error)
	GetOrderAggregate(ctx context.Context, orderID uuid.UUID) (*db.OrderAggregate, error)
	GetSlot(ctx context.Context, orderID uuid.UUID, sellerID string) (*db.CandidateSlot, error)
	ListSlotsByOrder(ctx context.Context, orderID uuid.UUID) ([]db.CandidateSlot, error)
	UpdateOrderStatusIf(ctx context.Context, orderID uuid.UUID, expected, next db.OrderStatus) (bool, error)
	AcceptSlot(ctx context.Context, orderID uuid.UUID, sellerID string, price db.Money) (bool, error)
	UpdateSlotIf(ctx context.Context, orderID uuid.UUID, sellerID string, expected []db.SlotStatus, next db.SlotStatus, price *db.Money, final bool, reason *string) (bool, error)
	ExpireSlotIf(ctx context.Context, orderID uuid.UUID, sellerID string) (bool, error)
	AppendOffer(ctx context.Context, offer *db.Offer) error
	ListOffersForSlot(ctx context.Context, orderID uuid.UUID, sellerID string) ([]db.Offer, error)
	ListOrdersByStatus(ctx context.Context, status db.OrderStatus) ([]*db.Order, error)
	FlagOrderForReconciliation(ctx context.Context, orderID uuid.UUID) error
}

// OfferKind distinguishes a price proposal from an acceptance or decline of
// the slot's current price.
type OfferKind string

const (
	OfferKindOffer   OfferKind = "OFFER"
	OfferKindAccept  OfferKind = "ACCEPT"
	OfferKindDecline OfferKind = "DECLINE"
)

// Valid response time limits in days.
var validResponseDays = map[int]bool{3: true, 7: true, 14: true, 30: true}

// DefaultResponseTimeLimitDays applies when intake leaves the limit unset.
const DefaultResponseTimeLimitDays = 7

// CreateOrderRequest is the intake payload for a new commission order.
type CreateOrderRequest struct {
	BuyerID               string
	ProductName           string
	Description           string
	Specifications        string
	Quantity              int
	Budget                db.Money
	DateRequired          *time.Time
	ResponseTimeLimitDays int // 0 means the default
	SelectionMode         db.SelectionMode
	SellerIDs             []string // for Specific and Single modes
}

// Validate checks the intake invariants.
func (r *CreateOrderRequest) Validate() error {
	if r.BuyerID == "" {
		return fmt.Errorf("buyer id is required")
	}
	if r.ProductName == "" {
		return fmt.Errorf("product name is required")
	}
	if r.Budget <= 0 {
		return fmt.Errorf("budget must be positive")
	}
	if r.Quantity <= 0 {
		return fmt.Errorf("quantity must be positive")
	}
	if r.ResponseTimeLimitDays != 0 && !validResponseDays[r.ResponseTimeLimitDays] {
		return fmt.Errorf("response time limit must be one of 3, 7, 14, 30 days")
	}
	switch r.SelectionMode {
	case db.SelectionModeOpen, db.SelectionModeSaved, db.SelectionModeSpecific, db.SelectionModeSingle:
	default:
		return fmt.Errorf("unknown selection mode: %s", r.SelectionMode)
	}
	return nil
}

// SlotSnapshot is the state returned to a caller after an offer operation.
type SlotSnapshot struct {
	OrderID       uuid.UUID      `json:"order_id"`
	SellerID      string         `json:"seller_id"`
	OrderStatus   db.OrderStatus `json:"order_status"`
	SlotStatus    db.SlotStatus  `json:"slot_status"`
	CurrentPrice  *db.Money      `json:"current_price,omitempty"`
	FinalOffer    bool           `json:"final_offer"`
	DeclineReason *string        `json:"decline_reason,omitempty"`
	DeadlineAt    time.Time      `json:"deadline_at"`
}

// Options tunes the manager. Zero values fall back to defaults.
type Options struct {
	MinIncrementBps int64
	DefaultStyle    string
	StoreTimeout    time.Duration
	OfferBuffer     int
}

func (o Options) withDefaults() Options {
	if o.MinIncrementBps <= 0 {
		o.MinIncrementBps = 100
	}
	if o.DefaultStyle == "" {
		o.DefaultStyle = StyleFriendly
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = 5 * time.Second
	}
	if o.OfferBuffer <= 0 {
		o.OfferBuffer = 32
	}
	return o
}

// errSessionClosed signals that a command raced a session reaching its
// terminal state; the manager resolves it into a StaleStateError.
var errSessionClosed = errors.New("negotiation session closed")

// Manager coordinates all live negotiation sessions. Each negotiating order
// owns one goroutine that serializes mutations to its slots; the manager is
// safe for concurrent use.
type Manager struct {
	store      Store
	registry   registry.Registry
	dispatcher events.Dispatcher
	strategy   Strategy
	opts       Options

	mu       sync.RWMutex
	sessions map[uuid.UUID]*session

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a session manager. strategy may be nil, in which case
// the bounded-midpoint default is used.
func NewManager(store Store, reg registry.Registry, dispatcher events.Dispatcher, strategy Strategy, opts Options) *Manager {
	opts = opts.withDefaults()
	if strategy == nil {
		strategy = NewMidpointStrategy(opts.MinIncrementBps)
	}
	if dispatcher == nil {
		dispatcher = events.NoopDispatcher{}
	}
	return &Manager{
		store:      store,
		registry:   reg,
		dispatcher: dispatcher,
		strategy:   strategy,
		opts:       opts,
		sessions:   make(map[uuid.UUID]*session),
	}
}

// Start rebuilds sessions for every order still negotiating. Timers are not
// trusted across restarts; deadlines are recomputed by the scheduler from
// persisted state, so rebuilding here only restores the serialization point
// per order.
func (m *Manager) Start(ctx context.Context) error {
	m.runCtx, m.cancel = context.WithCancel(ctx)

	orders, err := m.store.ListOrdersByStatus(ctx, db.OrderStatusNegotiating)
	if err != nil {
		return fmt.Errorf("failed to rebuild negotiation sessions: %w", err)
	}

	for _, order := range orders {
		m.startSession(order.ID, order.BuyerID)
	}

	log.Info().Int("sessions", len(orders)).Msg("Negotiation manager started")
	return nil
}

// Shutdown stops accepting work and waits for session goroutines.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m.cancel != nil {
		m.cancel()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("Negotiation manager stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("negotiation manager shutdown timed out: %w", ctx.Err())
	}
}

// CreateOrder runs intake: candidate selection, fan-out, persistence, and
// session start. An empty eligible pool rejects the order before anything is
// persisted.
func (m *Manager) CreateOrder(ctx context.Context, req CreateOrderRequest) (*db.OrderAggregate, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.ResponseTimeLimitDays == 0 {
		req.ResponseTimeLimitDays = DefaultResponseTimeLimitDays
	}

	pool, err := selector.Select(ctx, m.registry, req.SelectionMode, req.BuyerID, req.SellerIDs, req.Budget)
	if err != nil {
		return nil, err
	}
	if pool.Empty() {
		metrics.OrdersRejected.Inc()
		return nil, &IneligiblePoolError{Exclusions: pool.Excluded}
	}

	now := db.Now()
	deadline := now.Add(time.Duration(req.ResponseTimeLimitDays) * 24 * time.Hour)

	order := &db.Order{
		ID:                    db.NewOrderID(),
		BuyerID:               req.BuyerID,
		ProductName:           req.ProductName,
		Description:           req.Description,
		Specifications:        req.Specifications,
		Quantity:              req.Quantity,
		Budget:                req.Budget,
		DateRequired:          req.DateRequired,
		ResponseTimeLimitDays: req.ResponseTimeLimitDays,
		SelectionMode:         req.SelectionMode,
		Status:                db.OrderStatusNegotiating,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	slots := make([]db.CandidateSlot, 0, len(pool.Selected))
	for _, seller := range pool.Selected {
		slots = append(slots, db.CandidateSlot{
			OrderID:    order.ID,
			SellerID:   seller.ID,
			Status:     db.SlotStatusPending,
			DeadlineAt: deadline,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}

	if err := m.store.InsertOrderWithSlots(ctx, order, slots); err != nil {
		return nil, fmt.Errorf("failed to persist order: %w", err)
	}

	m.startSession(order.ID, order.BuyerID)
	metrics.RecordOrderCreated(string(req.SelectionMode))

	for _, slot := range slots {
		m.publish(ctx, events.OrderOpenedForSeller{
			OrderID:    order.ID,
			SellerID:   slot.SellerID,
			DeadlineAt: slot.DeadlineAt,
		})
	}

	log.Info().
		Str("order_id", order.ID.String()).
		Str("buyer_id", order.BuyerID).
		Int64("budget", int64(order.Budget)).
		Int("candidates", len(slots)).
		Time("deadline", deadline).
		Msg("Order created")

	return &db.OrderAggregate{Order: *order, Slots: slots}, nil
}

// SubmitOffer applies a seller-side response to their slot: a new price, an
// acceptance of the current price, or a decline.
func (m *Manager) SubmitOffer(ctx context.Context, orderID uuid.UUID, sellerID string, price db.Money, kind OfferKind) (*SlotSnapshot, error) {
	var snapshot *SlotSnapshot
	err := m.dispatch(ctx, orderID, func(ctx context.Context, s *session) error {
		var err error
		snapshot, err = s.handleSellerResponse(ctx, sellerID, price, kind)
		return err
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// SubmitBuyerDecision applies a buyer-side response to one slot: a counter
// price, an acceptance of the current price, or a decline.
func (m *Manager) SubmitBuyerDecision(ctx context.Context, orderID uuid.UUID, buyerID, sellerID string, price db.Money, kind OfferKind) (*SlotSnapshot, error) {
	var snapshot *SlotSnapshot
	err := m.dispatch(ctx, orderID, func(ctx context.Context, s *session) error {
		if buyerID != s.buyerID {
			return fmt.Errorf("order %s, buyer %s: %w", orderID, buyerID, ErrNotOrderBuyer)
		}
		var err error
		snapshot, err = s.handleBuyerResponse(ctx, sellerID, price, kind)
		return err
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// CancelOrder withdraws a non-terminal order on the buyer's behalf.
func (m *Manager) CancelOrder(ctx context.Context, orderID uuid.UUID, buyerID string) (*db.OrderAggregate, error) {
	err := m.dispatch(ctx, orderID, func(ctx context.Context, s *session) error {
		if buyerID != s.buyerID {
			return fmt.Errorf("order %s, buyer %s: %w", orderID, buyerID, ErrNotOrderBuyer)
		}
		return s.handleCancel(ctx)
	})
	if err != nil {
		return nil, err
	}
	return m.store.GetOrderAggregate(ctx, orderID)
}

// GetOrder returns the full read model: order, slots, offer history.
func (m *Manager) GetOrder(ctx context.Context, orderID uuid.UUID) (*db.OrderAggregate, error) {
	return m.store.GetOrderAggregate(ctx, orderID)
}

// ExpireSlot is invoked by the deadline scheduler when a slot's deadline
// passes. Firing is idempotent.
func (m *Manager) ExpireSlot(ctx context.Context, orderID uuid.UUID, sellerID string) error {
	err := m.dispatch(ctx, orderID, func(ctx context.Context, s *session) error {
		return s.handleExpireSlot(ctx, sellerID)
	})
	// The order may already be terminal while the slot is not: a crash
	// between the cancel CAS and the slot close-out leaves the slot live.
	// Expire it directly so the deadline poll stops returning it.
	var stale *StaleStateError
	if errors.As(err, &stale) {
		expired, expErr := m.store.ExpireSlotIf(ctx, orderID, sellerID)
		if expErr != nil {
			return expErr
		}
		if expired {
			metrics.SlotsExpired.Inc()
			log.Info().
				Str("order_id", orderID.String()).
				Str("seller_id", sellerID).
				Str("order_status", string(stale.OrderStatus)).
				Msg("Expired stranded slot on terminal order")
		}
		return nil
	}
	return err
}

// SweepOrder finalizes an order whose slots are all terminal without an
// acceptance, moving it to Expired.
func (m *Manager) SweepOrder(ctx context.Context, orderID uuid.UUID) error {
	err := m.dispatch(ctx, orderID, func(ctx context.Context, s *session) error {
		return s.handleSweep(ctx)
	})
	var stale *StaleStateError
	if errors.As(err, &stale) {
		return nil
	}
	return err
}

// dispatch routes an operation through the order's session goroutine,
// starting one lazily when the order is still negotiating but has no live
// session (for example right after a restart).
func (m *Manager) dispatch(ctx context.Context, orderID uuid.UUID, fn func(context.Context, *session) error) error {
	for attempt := 0; attempt < 2; attempt++ {
		s, err := m.sessionFor(ctx, orderID)
		if err != nil {
			return err
		}

		err = s.do(ctx, fn)
		if errors.Is(err, errSessionClosed) {
			// The session reached a terminal state while the command was in
			// flight. Re-resolve so the caller gets the current status.
			continue
		}
		return err
	}

	return m.staleFor(ctx, orderID, "")
}

func (m *Manager) sessionFor(ctx context.Context, orderID uuid.UUID) (*session, error) {
	m.mu.RLock()
	s, ok := m.sessions[orderID]
	m.mu.RUnlock()
	if ok {
		return s, nil
	}

	order, err := m.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != db.OrderStatusNegotiating {
		return nil, &StaleStateError{OrderID: orderID, OrderStatus: order.Status}
	}

	return m.startSession(orderID, order.BuyerID), nil
}

func (m *Manager) startSession(orderID uuid.UUID, buyerID string) *session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[orderID]; ok {
		return s
	}

	s := newSession(m, orderID, buyerID)
	m.sessions[orderID] = s
	metrics.ActiveSessions.Set(float64(len(m.sessions)))

	runCtx := m.runCtx
	if runCtx == nil {
		runCtx = context.Background()
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		s.run(runCtx)
	}()

	return s
}

func (m *Manager) removeSession(orderID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, orderID)
	metrics.ActiveSessions.Set(float64(len(m.sessions)))
}

// staleFor builds a StaleStateError carrying the order's current status.
func (m *Manager) staleFor(ctx context.Context, orderID uuid.UUID, sellerID string) error {
	stale := &StaleStateError{OrderID: orderID, SellerID: sellerID}
	if order, err := m.store.GetOrder(ctx, orderID); err == nil {
		stale.OrderStatus = order.Status
	}
	if sellerID != "" {
		if slot, err := m.store.GetSlot(ctx, orderID, sellerID); err == nil {
			stale.SlotStatus = slot.Status
		}
	}
	return stale
}

// publish delivers an event best-effort. Notification loss never fails a
// negotiation step.
func (m *Manager) publish(ctx context.Context, event events.Event) {
	if err := m.dispatcher.Publish(ctx, event); err != nil {
		metrics.DispatcherFailures.Inc()
		log.Warn().
			Err(err).
			Str("type", string(event.EventType())).
			Msg("Failed to publish negotiation event")
	}
}
