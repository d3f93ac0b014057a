package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/TGOO-Worldwide/siliviat-app/internal/geo"
	"github.com/TGOO-Worldwide/siliviat-app/internal/models"
	"github.com/TGOO-Worldwide/siliviat-app/internal/notify"
	"github.com/TGOO-Worldwide/siliviat-app/internal/queue"

	"go.uber.org/zap"
)

// TempVisitPrefix marks a visit id minted on the device before the server
// has confirmed the check-in.
const TempVisitPrefix = "temp-"

const stateKey = "controller.state"

var (
	ErrVisitAlreadyActive = errors.New("a visit is already active on this device")
	ErrNoActiveVisit      = errors.New("no active visit on this device")
	ErrInvalidPayload     = errors.New("payload is not valid JSON")
)

// API is the subset of the remote client the controller calls directly.
type API interface {
	CheckIn(ctx context.Context, req models.CheckinRequest) (*models.CheckinVisit, error)
	CheckOut(ctx context.Context, req models.CheckoutRequest) (*models.CheckoutVisit, error)
	ActiveVisit(ctx context.Context) (*models.ActiveVisit, error)
	CreateCompany(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)
	CreateSale(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)
}

type OnlineChecker interface {
	IsOnline() bool
}

type StateStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
}

type Bus interface {
	Publish(ev notify.Event)
	Subscribe(fn func(notify.Event)) func()
}

// LocalVisit is the device's view of the active visit. A provisional visit
// carries the id of the queued check-in event that created it.
type LocalVisit struct {
	ID            string    `json:"id"`
	CheckInAt     time.Time `json:"checkInAt"`
	CompanyID     *string   `json:"companyId"`
	CompanyName   *string   `json:"companyName,omitempty"`
	Provisional   bool      `json:"provisional"`
	CorrelationID string    `json:"correlationId,omitempty"`
}

type state struct {
	Active          *LocalVisit `json:"active"`
	PendingCheckout string      `json:"pendingCheckout,omitempty"`
}

// VisitUpdate is the Data of a notify.KindVisitUpdated event.
type VisitUpdate struct {
	Visit  *LocalVisit `json:"visit"`
	Reason string      `json:"reason"`
}

type CheckinInput struct {
	CompanyID *string
	Locator   geo.Locator
	Justifier geo.Justifier
}

type CheckoutInput struct {
	Locator   geo.Locator
	Justifier geo.Justifier
}

type CheckinResult struct {
	Visit   LocalVisit `json:"visit"`
	Queued  bool       `json:"queued"`
	EventID string     `json:"eventId,omitempty"`
}

type CheckoutResult struct {
	Visit   *models.CheckoutVisit `json:"visit,omitempty"`
	Queued  bool                  `json:"queued"`
	EventID string                `json:"eventId,omitempty"`
}

type MutationResult struct {
	Queued   bool            `json:"queued"`
	EventID  string          `json:"eventId,omitempty"`
	Response json.RawMessage `json:"response,omitempty"`
}

type Option func(*Controller)

// WithLocator sets the position source used when a request brings none.
func WithLocator(l geo.Locator) Option {
	return func(c *Controller) { c.locator = l }
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithRefreshInterval sets how often the active visit is re-fetched while
// online. Zero disables the periodic refresh.
func WithRefreshInterval(d time.Duration) Option {
	return func(c *Controller) { c.refreshInterval = d }
}

// Controller decides per user action whether to call the API now or queue
// the mutation, and keeps the optimistic active visit in step with the
// server.
type Controller struct {
	api             API
	queue           queue.Store
	online          OnlineChecker
	acquirer        *geo.Acquirer
	store           StateStore
	bus             Bus
	locator         geo.Locator
	now             func() time.Time
	refreshInterval time.Duration
	logger          *zap.Logger

	opMu sync.Mutex // serializes user actions
	mu   sync.Mutex // guards st
	st   state

	refreshCh   chan struct{}
	unsubscribe func()
	stopChan    chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

func New(api API, q queue.Store, online OnlineChecker, acquirer *geo.Acquirer, store StateStore, bus Bus, logger *zap.Logger, opts ...Option) *Controller {
	c := &Controller{
		api:       api,
		queue:     q,
		online:    online,
		acquirer:  acquirer,
		store:     store,
		bus:       bus,
		locator:   geo.Unavailable,
		now:       time.Now,
		logger:    logger,
		refreshCh: make(chan struct{}, 1),
		stopChan:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load restores the persisted optimistic state and forgets any provisional
// visit or pending check-out whose queued event no longer exists.
func (c *Controller) Load(ctx context.Context) error {
	raw, ok, err := c.store.Get(ctx, stateKey)
	if err != nil {
		return fmt.Errorf("failed to load controller state: %w", err)
	}
	if !ok {
		return nil
	}

	var st state
	if err := json.Unmarshal(raw, &st); err != nil {
		c.logger.Warn("Discarding unreadable controller state", zap.Error(err))
		return nil
	}

	c.mu.Lock()
	c.st = st
	c.mu.Unlock()

	if err := c.reconcile(ctx); err != nil {
		c.logger.Warn("Failed to reconcile controller state with queue", zap.Error(err))
	}
	return nil
}

// reconcile clears optimistic state that points at events which left the
// queue without a sync outcome, e.g. removed by cleanup while stopped.
func (c *Controller) reconcile(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	events, err := c.queue.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to list queued events: %w", err)
	}
	queued := make(map[string]struct{}, len(events))
	for _, ev := range events {
		queued[ev.ID] = struct{}{}
	}

	c.mu.Lock()
	var orphans []string
	cleared := false
	if a := c.st.Active; a != nil && a.Provisional {
		if _, ok := queued[a.CorrelationID]; !ok {
			orphans = append(orphans, a.CorrelationID)
			c.st.Active = nil
			cleared = true
		}
	}
	if id := c.st.PendingCheckout; id != "" {
		if _, ok := queued[id]; !ok {
			orphans = append(orphans, id)
			c.st.PendingCheckout = ""
		}
	}
	if len(orphans) > 0 {
		c.persistLocked(ctx)
	}
	c.mu.Unlock()

	if len(orphans) > 0 {
		c.logger.Warn("Queued events vanished, dropping optimistic state", zap.Strings("event_ids", orphans))
	}
	if cleared {
		c.publishVisit(nil, "checkin_discarded")
	}
	return nil
}

// Start subscribes to sync outcomes and runs the active-visit refresher.
func (c *Controller) Start() {
	c.unsubscribe = c.bus.Subscribe(c.handleEvent)

	c.wg.Add(1)
	go c.refresher()
}

func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		if c.unsubscribe != nil {
			c.unsubscribe()
		}
		close(c.stopChan)
	})
	c.wg.Wait()
}

// ActiveVisit returns a copy of the device's active visit, or nil.
func (c *Controller) ActiveVisit() *LocalVisit {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.st.Active == nil {
		return nil
	}
	v := *c.st.Active
	return &v
}

func (c *Controller) HandleCheckin(ctx context.Context, in CheckinInput) (*CheckinResult, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.ActiveVisit() != nil && !c.online.IsOnline() {
		return nil, ErrVisitAlreadyActive
	}

	pos, err := c.acquirer.Acquire(ctx, c.locatorFor(in.Locator), in.Justifier)
	if err != nil {
		return nil, err
	}

	req := models.CheckinRequest{
		CompanyID:   in.CompanyID,
		CheckInLat:  pos.Lat,
		CheckInLng:  pos.Lng,
		NoGpsReason: pos.NoGpsReason,
	}

	if !c.online.IsOnline() {
		return c.queueCheckin(ctx, req)
	}

	sv, err := c.api.CheckIn(ctx, req)
	if err != nil {
		return nil, err
	}

	v := &LocalVisit{ID: sv.ID, CheckInAt: sv.CheckInAt, CompanyID: sv.CompanyID}
	c.update(ctx, func(st *state) { st.Active = v })
	c.publishVisit(v, "checked_in")

	return &CheckinResult{Visit: *v}, nil
}

func (c *Controller) queueCheckin(ctx context.Context, req models.CheckinRequest) (*CheckinResult, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal check-in: %w", err)
	}

	id, err := c.queue.Enqueue(ctx, models.EventCheckin, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to queue check-in: %w", err)
	}

	now := c.now()
	v := &LocalVisit{
		ID:            fmt.Sprintf("%s%d", TempVisitPrefix, now.UnixMilli()),
		CheckInAt:     now,
		CompanyID:     req.CompanyID,
		Provisional:   true,
		CorrelationID: id,
	}
	c.update(ctx, func(st *state) { st.Active = v })
	c.publishVisit(v, "checkin_queued")

	c.logger.Info("Check-in queued while offline",
		zap.String("event_id", id),
		zap.String("temp_visit_id", v.ID),
	)

	return &CheckinResult{Visit: *v, Queued: true, EventID: id}, nil
}

func (c *Controller) HandleCheckout(ctx context.Context, in CheckoutInput) (*CheckoutResult, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.ActiveVisit() == nil && !c.online.IsOnline() {
		return nil, ErrNoActiveVisit
	}

	pos, err := c.acquirer.Acquire(ctx, c.locatorFor(in.Locator), in.Justifier)
	if err != nil {
		return nil, err
	}

	req := models.CheckoutRequest{
		CheckOutLat: pos.Lat,
		CheckOutLng: pos.Lng,
		NoGpsReason: pos.NoGpsReason,
	}

	if !c.online.IsOnline() {
		payload, err := json.Marshal(req)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal check-out: %w", err)
		}
		id, err := c.queue.Enqueue(ctx, models.EventCheckout, payload)
		if err != nil {
			return nil, fmt.Errorf("failed to queue check-out: %w", err)
		}

		c.update(ctx, func(st *state) {
			st.Active = nil
			st.PendingCheckout = id
		})
		c.publishVisit(nil, "checkout_queued")
		c.logger.Info("Check-out queued while offline", zap.String("event_id", id))

		return &CheckoutResult{Queued: true, EventID: id}, nil
	}

	sv, err := c.api.CheckOut(ctx, req)
	if err != nil {
		return nil, err
	}

	c.update(ctx, func(st *state) { st.Active = nil })
	c.publishVisit(nil, "checked_out")

	return &CheckoutResult{Visit: sv}, nil
}

func (c *Controller) CreateCompany(ctx context.Context, payload json.RawMessage) (*MutationResult, error) {
	if !json.Valid(payload) {
		return nil, ErrInvalidPayload
	}
	return c.mutate(ctx, models.EventCompany, payload, c.api.CreateCompany)
}

// CreateSale records a sale. A sale pointing at a provisional visit is sent
// without the visit link, since the server cannot resolve a temp- id.
func (c *Controller) CreateSale(ctx context.Context, req models.CreateSaleRequest) (*MutationResult, error) {
	if req.VisitID != nil && strings.HasPrefix(*req.VisitID, TempVisitPrefix) {
		c.logger.Warn("Sale references a provisional visit, sending without visit link",
			zap.String("visit_id", *req.VisitID),
		)
		req.VisitID = nil
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sale: %w", err)
	}
	return c.mutate(ctx, models.EventSale, payload, c.api.CreateSale)
}

func (c *Controller) mutate(ctx context.Context, typ models.EventType, payload json.RawMessage, direct func(context.Context, json.RawMessage) (json.RawMessage, error)) (*MutationResult, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.online.IsOnline() {
		resp, err := direct(ctx, payload)
		if err != nil {
			return nil, err
		}
		return &MutationResult{Response: resp}, nil
	}

	id, err := c.queue.Enqueue(ctx, typ, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to queue %s: %w", typ, err)
	}
	c.logger.Info("Mutation queued while offline",
		zap.String("event_id", id),
		zap.String("type", string(typ)),
	)
	return &MutationResult{Queued: true, EventID: id}, nil
}

// Refresh adopts the server's active visit unless a queued check-in or
// check-out is still waiting to be replayed.
func (c *Controller) Refresh(ctx context.Context) error {
	if !c.online.IsOnline() {
		return nil
	}

	if err := c.reconcile(ctx); err != nil {
		return err
	}

	av, err := c.api.ActiveVisit(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch active visit: %w", err)
	}

	var next *LocalVisit
	if av != nil {
		next = &LocalVisit{ID: av.ID, CheckInAt: av.CheckInAt, CompanyID: av.CompanyID, CompanyName: av.CompanyName}
	}

	c.mu.Lock()
	if (c.st.Active != nil && c.st.Active.Provisional) || c.st.PendingCheckout != "" {
		c.mu.Unlock()
		return nil
	}
	changed := !sameVisit(c.st.Active, next)
	c.st.Active = next
	c.persistLocked(ctx)
	c.mu.Unlock()

	if changed {
		c.publishVisit(next, "refreshed")
	}
	return nil
}

func (c *Controller) handleEvent(ev notify.Event) {
	switch ev.Kind {
	case notify.KindEventSynced:
		c.onSynced(ev)
	case notify.KindEventDropped:
		c.onDropped(ev)
	case notify.KindSyncCompleted:
		c.requestRefresh()
	}
}

func (c *Controller) onSynced(ev notify.Event) {
	ctx := context.Background()

	c.mu.Lock()
	var confirmed *LocalVisit
	if a := c.st.Active; a != nil && a.Provisional && a.CorrelationID == ev.EventID {
		raw, _ := ev.Data.(json.RawMessage)
		var resp models.CheckinResponse
		if err := json.Unmarshal(raw, &resp); err != nil || resp.Visit.ID == "" {
			c.logger.Warn("Could not read synced check-in response, will refresh", zap.String("event_id", ev.EventID))
			// server truth arrives with the next refresh
			a.Provisional = false
			a.CorrelationID = ""
		} else {
			confirmed = &LocalVisit{
				ID:          resp.Visit.ID,
				CheckInAt:   resp.Visit.CheckInAt,
				CompanyID:   resp.Visit.CompanyID,
				CompanyName: a.CompanyName,
			}
			c.st.Active = confirmed
		}
		c.persistLocked(ctx)
	}
	if c.st.PendingCheckout == ev.EventID {
		c.st.PendingCheckout = ""
		c.persistLocked(ctx)
	}
	c.mu.Unlock()

	if confirmed != nil {
		c.logger.Info("Provisional visit confirmed",
			zap.String("event_id", ev.EventID),
			zap.String("visit_id", confirmed.ID),
		)
		c.publishVisit(confirmed, "checkin_synced")
	}
}

func (c *Controller) onDropped(ev notify.Event) {
	ctx := context.Background()

	c.mu.Lock()
	cleared := false
	if a := c.st.Active; a != nil && a.Provisional && a.CorrelationID == ev.EventID {
		c.st.Active = nil
		cleared = true
		c.persistLocked(ctx)
	}
	if c.st.PendingCheckout == ev.EventID {
		c.st.PendingCheckout = ""
		c.persistLocked(ctx)
	}
	c.mu.Unlock()

	if cleared {
		c.logger.Warn("Queued check-in was rejected, clearing provisional visit", zap.String("event_id", ev.EventID))
		c.publishVisit(nil, "checkin_rejected")
	}
}

func (c *Controller) requestRefresh() {
	select {
	case c.refreshCh <- struct{}{}:
	default:
	}
}

func (c *Controller) refresher() {
	defer c.wg.Done()

	var tick <-chan time.Time
	if c.refreshInterval > 0 {
		ticker := time.NewTicker(c.refreshInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-c.stopChan:
			return
		case <-tick:
		case <-c.refreshCh:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := c.Refresh(ctx); err != nil {
			c.logger.Debug("Active visit refresh failed", zap.Error(err))
		}
		cancel()
	}
}

func (c *Controller) locatorFor(l geo.Locator) geo.Locator {
	if l != nil {
		return l
	}
	return c.locator
}

func (c *Controller) update(ctx context.Context, fn func(st *state)) {
	c.mu.Lock()
	fn(&c.st)
	c.persistLocked(ctx)
	c.mu.Unlock()
}

func (c *Controller) persistLocked(ctx context.Context) {
	raw, err := json.Marshal(c.st)
	if err != nil {
		c.logger.Error("Failed to marshal controller state", zap.Error(err))
		return
	}
	if err := c.store.Put(ctx, stateKey, raw); err != nil {
		c.logger.Error("Failed to persist controller state", zap.Error(err))
	}
}

func (c *Controller) publishVisit(v *LocalVisit, reason string) {
	var cp *LocalVisit
	if v != nil {
		tmp := *v
		cp = &tmp
	}
	c.bus.Publish(notify.Event{
		Kind: notify.KindVisitUpdated,
		Data: VisitUpdate{Visit: cp, Reason: reason},
	})
}

func sameVisit(a, b *LocalVisit) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ID == b.ID && a.Provisional == b.Provisional
}
