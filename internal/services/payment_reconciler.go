package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/payments"
	"github.com/hanko-field/orders/internal/platform/storage"
	"github.com/hanko-field/orders/internal/repositories"
)

const defaultReplayTTL = 24 * time.Hour

// WebhookVerifier checks the gateway signature over a raw webhook body.
type WebhookVerifier interface {
	Verify(body []byte, signature string) error
}

// ReplayCache remembers webhook deliveries that were already handled.
type ReplayCache interface {
	Seen(ctx context.Context, key string) (bool, error)
	Remember(ctx context.Context, key string, ttl time.Duration) error
}

// WebhookArchiver stores rejected webhook bodies.
type WebhookArchiver interface {
	Archive(ctx context.Context, entry storage.RejectedWebhook) (string, error)
}

// PaymentLookup resolves the gateway's view of a payment.
type PaymentLookup interface {
	LookupPayment(ctx context.Context, gatewayOrderRef string) (payments.PaymentDetails, error)
}

// ReconcileMetrics records reconciliation outcomes.
type ReconcileMetrics interface {
	ObserveReconciliation(channel, outcome string)
	SignatureFailure()
}

// PaymentReconcilerDeps bundles collaborators required by the reconciler.
type PaymentReconcilerDeps struct {
	Orders       repositories.OrderRepository
	StateMachine OrderStateMachine
	Verifier     WebhookVerifier
	Replay       ReplayCache
	ReplayTTL    time.Duration
	Archive      WebhookArchiver
	// Lookup is consulted by ClientConfirm when VerifyClientConfirm is set.
	Lookup              PaymentLookup
	VerifyClientConfirm bool
	Dispatcher          NotificationDispatcher
	Metrics             ReconcileMetrics
	Clock               func() time.Time
	EventID             func() string
	Logger              func(ctx context.Context, event string, fields map[string]any)
}

type paymentReconciler struct {
	orders       repositories.OrderRepository
	machine      OrderStateMachine
	verifier     WebhookVerifier
	replay       ReplayCache
	replayTTL    time.Duration
	archive      WebhookArchiver
	lookup       PaymentLookup
	strictClient bool
	dispatcher   NotificationDispatcher
	metrics      ReconcileMetrics
	clock        func() time.Time
	eventID      func() string
	logger       func(context.Context, string, map[string]any)
}

var _ PaymentReconciler = (*paymentReconciler)(nil)

// NewPaymentReconciler constructs a reconciler. A missing verifier rejects every webhook.
func NewPaymentReconciler(deps PaymentReconcilerDeps) (PaymentReconciler, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment reconciler: order repository is required")
	}
	if deps.StateMachine == nil {
		return nil, errors.New("payment reconciler: order state machine is required")
	}
	if deps.VerifyClientConfirm && deps.Lookup == nil {
		return nil, errors.New("payment reconciler: payment lookup is required for verified client confirmation")
	}
	ttl := deps.ReplayTTL
	if ttl <= 0 {
		ttl = defaultReplayTTL
	}
	dispatcher := deps.Dispatcher
	if dispatcher == nil {
		dispatcher = noopDispatcher{}
	}
	eventID := deps.EventID
	if eventID == nil {
		eventID = defaultEventID
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &paymentReconciler{
		orders:       deps.Orders,
		machine:      deps.StateMachine,
		verifier:     deps.Verifier,
		replay:       deps.Replay,
		replayTTL:    ttl,
		archive:      deps.Archive,
		lookup:       deps.Lookup,
		strictClient: deps.VerifyClientConfirm,
		dispatcher:   dispatcher,
		metrics:      deps.Metrics,
		clock:        utcClock(deps.Clock),
		eventID:      eventID,
		logger:       logger,
	}, nil
}

type reconcileRequest struct {
	channel    domain.ConfirmationChannel
	orderID    string
	ownerID    string
	paymentRef string
	amount     *int64

	// currency and gatewayOrderRef are checked against the order when set.
	currency        string
	gatewayOrderRef string

	// verify runs after the already-paid and payable checks and before the write.
	verify func(ctx context.Context, order Order) error
}

func (r *paymentReconciler) ClientConfirm(ctx context.Context, cmd ClientConfirmCommand) (ReconcileResult, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	userID := strings.TrimSpace(cmd.UserID)
	ref := strings.TrimSpace(cmd.GatewayPaymentRef)
	if orderID == "" || userID == "" || ref == "" {
		return ReconcileResult{}, fmt.Errorf("%w: order id, user id and gateway payment ref are required", ErrOrderInvalidInput)
	}
	req := reconcileRequest{
		channel:    domain.ConfirmedViaClient,
		orderID:    orderID,
		ownerID:    userID,
		paymentRef: ref,
	}
	if r.strictClient {
		req.verify = r.verifyCaptured
	}
	return r.observe(ctx, req.channel)(r.reconcile(ctx, req))
}

func (r *paymentReconciler) WebhookConfirm(ctx context.Context, cmd WebhookConfirmCommand) (ReconcileResult, error) {
	channel := domain.ConfirmedViaWebhook
	if err := r.verifySignature(cmd); err != nil {
		r.logger(ctx, "payments.webhook.signature_invalid", map[string]any{
			"remoteAddr": cmd.RemoteAddr,
			"bodyBytes":  len(cmd.Payload),
			"error":      err,
		})
		if r.metrics != nil {
			r.metrics.SignatureFailure()
		}
		r.archiveRejected(ctx, storage.ReasonInvalidSignature, cmd, err)
		return r.observe(ctx, channel)(ReconcileResult{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err))
	}

	event, err := payments.ParseWebhook(cmd.Payload)
	if err != nil {
		r.logger(ctx, "payments.webhook.malformed", map[string]any{
			"remoteAddr": cmd.RemoteAddr,
			"error":      err,
		})
		r.archiveRejected(ctx, storage.ReasonMalformed, cmd, err)
		return r.observe(ctx, channel)(ReconcileResult{}, fmt.Errorf("%w: %w", ErrWebhookMalformed, err))
	}
	if !event.Settles() {
		r.logger(ctx, "payments.webhook.ignored", map[string]any{"event": event.Name})
		return r.observe(ctx, channel)(ReconcileResult{Outcome: ReconcileIgnored, Channel: channel}, nil)
	}

	key := event.ReplayKey()
	if r.replay != nil {
		seen, err := r.replay.Seen(ctx, key)
		switch {
		case err != nil:
			r.logger(ctx, "payments.webhook.replay_lookup_failed", map[string]any{"key": key, "error": err})
		case seen:
			r.logger(ctx, "payments.webhook.replayed", map[string]any{"key": key, "orderId": event.OrderID})
			return r.observe(ctx, channel)(ReconcileResult{Outcome: ReconcileReplayed, Channel: channel}, nil)
		}
	}

	amount := event.Amount
	result, err := r.reconcile(ctx, reconcileRequest{
		channel:         channel,
		orderID:         event.OrderID,
		paymentRef:      event.PaymentRef,
		amount:          &amount,
		currency:        event.Currency,
		gatewayOrderRef: event.GatewayOrderRef,
	})
	if errors.Is(err, ErrPaymentAmountMismatch) {
		r.archiveRejected(ctx, storage.ReasonAmountMismatch, cmd, err)
	}
	if err == nil && r.replay != nil {
		if rememberErr := r.replay.Remember(ctx, key, r.replayTTL); rememberErr != nil {
			r.logger(ctx, "payments.webhook.replay_store_failed", map[string]any{"key": key, "error": rememberErr})
		}
	}
	return r.observe(ctx, channel)(result, err)
}

func (r *paymentReconciler) SweepConfirm(ctx context.Context, orderID string, details payments.PaymentDetails) (ReconcileResult, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return ReconcileResult{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	channel := domain.ConfirmedViaSweeper
	if !details.Captured() {
		return r.observe(ctx, channel)(ReconcileResult{}, fmt.Errorf("%w: gateway status %q", ErrPaymentNotCaptured, details.Status))
	}
	if details.OrderID != "" && details.OrderID != orderID {
		return r.observe(ctx, channel)(ReconcileResult{}, fmt.Errorf("%w: payment belongs to order %q", ErrPaymentNotCaptured, details.OrderID))
	}
	amount := details.Amount
	return r.observe(ctx, channel)(r.reconcile(ctx, reconcileRequest{
		channel:    channel,
		orderID:    orderID,
		paymentRef: details.PaymentRef,
		amount:     &amount,
	}))
}

func (r *paymentReconciler) reconcile(ctx context.Context, req reconcileRequest) (ReconcileResult, error) {
	for attempt := 1; ; attempt++ {
		result, retry, err := r.reconcileOnce(ctx, req, attempt < maxWriteAttempts)
		if !retry {
			return result, err
		}
	}
}

// reconcileOnce reports retry when the write lost only to an update that left the order payable.
func (r *paymentReconciler) reconcileOnce(ctx context.Context, req reconcileRequest, canRetry bool) (ReconcileResult, bool, error) {
	current, err := r.orders.FindByID(ctx, req.orderID)
	if err != nil {
		return ReconcileResult{}, false, mapRepositoryError(err, ErrOrderNotFound, ErrReconcileUnavailable)
	}
	if req.ownerID != "" && current.UserID != req.ownerID {
		return ReconcileResult{}, false, fmt.Errorf("%w: order %s", ErrOrderNotFound, req.orderID)
	}
	if current.Payment.Status == domain.PaymentStatusPaid {
		return ReconcileResult{Outcome: ReconcileAlreadyPaid, Channel: req.channel, Order: current}, false, nil
	}
	if err := r.payable(current); err != nil {
		return ReconcileResult{}, false, err
	}
	if err := r.matches(ctx, current, req); err != nil {
		return ReconcileResult{}, false, err
	}
	if req.verify != nil {
		if err := req.verify(ctx, current); err != nil {
			return ReconcileResult{}, false, err
		}
	}

	now := r.clock()
	next := current
	next.Status = domain.OrderStatusProcessing
	next.UpdatedAt = now
	next.Payment.Status = domain.PaymentStatusPaid
	next.Payment.GatewayPaymentRef = req.paymentRef
	next.Payment.ConfirmedVia = req.channel
	next.Payment.PaidAt = valuePtr(now)

	saved, err := r.orders.CompareAndSwap(ctx, next, repositories.PreconditionOf(current))
	if err != nil {
		if isConflict(err) {
			return r.afterLostRace(ctx, req, current, canRetry)
		}
		return ReconcileResult{}, false, mapRepositoryError(err, ErrOrderNotFound, ErrReconcileUnavailable)
	}

	r.logger(ctx, "payments.confirmed", map[string]any{
		"orderId":    saved.ID,
		"channel":    string(req.channel),
		"paymentRef": req.paymentRef,
		"amount":     saved.Total,
	})
	r.machine.Notify(ctx, TransitionResult{Order: saved, Previous: current.Status, ActorID: string(req.channel), At: now})
	r.dispatcher.Emit(ctx, newNotification(r.eventID(), domain.NotificationPaymentConfirmed, saved.UserID,
		"Payment received", "We received your payment.",
		map[string]any{
			"orderId":      saved.ID,
			"amount":       saved.Total,
			"currency":     saved.Currency,
			"confirmedVia": string(req.channel),
		}, now))

	return ReconcileResult{Outcome: ReconcileApplied, Channel: req.channel, Order: saved}, false, nil
}

// matches rejects a report that disagrees with the order it names.
func (r *paymentReconciler) matches(ctx context.Context, order Order, req reconcileRequest) error {
	var reason string
	switch {
	case req.amount != nil && *req.amount != order.Total:
		reason = fmt.Sprintf("expected %d, got %d", order.Total, *req.amount)
	case req.currency != "" && !strings.EqualFold(req.currency, order.Currency):
		reason = fmt.Sprintf("expected currency %s, got %s", order.Currency, req.currency)
	case req.gatewayOrderRef != "" && order.Payment.GatewayOrderRef != "" && req.gatewayOrderRef != order.Payment.GatewayOrderRef:
		reason = fmt.Sprintf("expected gateway order %s, got %s", order.Payment.GatewayOrderRef, req.gatewayOrderRef)
	default:
		return nil
	}
	fields := map[string]any{
		"orderId":    order.ID,
		"channel":    string(req.channel),
		"paymentRef": req.paymentRef,
		"reason":     reason,
	}
	if req.amount != nil {
		fields["expected"] = order.Total
		fields["reported"] = *req.amount
	}
	r.logger(ctx, "payments.amount_mismatch", fields)
	return fmt.Errorf("%w: %s", ErrPaymentAmountMismatch, reason)
}

func (r *paymentReconciler) afterLostRace(ctx context.Context, req reconcileRequest, read Order, canRetry bool) (ReconcileResult, bool, error) {
	latest, err := r.orders.FindByID(ctx, req.orderID)
	if err != nil {
		return ReconcileResult{}, false, mapRepositoryError(err, ErrOrderNotFound, ErrReconcileUnavailable)
	}
	if latest.Payment.Status == domain.PaymentStatusPaid {
		return ReconcileResult{Outcome: ReconcileLostRace, Channel: req.channel, Order: latest}, false, nil
	}
	if canRetry && sameState(latest, read) {
		return ReconcileResult{}, true, nil
	}
	return ReconcileResult{}, false, fmt.Errorf("%w: order %s changed to %s/%s", ErrOrderConflict, latest.ID, latest.Status, latest.Payment.Status)
}

func (r *paymentReconciler) payable(order Order) error {
	switch {
	case order.Payment.Method != domain.PaymentMethodGateway:
		return fmt.Errorf("%w: payment method %q", ErrOrderNotPayable, order.Payment.Method)
	case order.Payment.Status != domain.PaymentStatusPending:
		return fmt.Errorf("%w: payment status %q", ErrOrderNotPayable, order.Payment.Status)
	case order.Status != domain.OrderStatusPending || !r.machine.CanTransition(order.Status, domain.OrderStatusProcessing):
		return fmt.Errorf("%w: order status %q", ErrOrderNotPayable, order.Status)
	}
	return nil
}

func (r *paymentReconciler) verifyCaptured(ctx context.Context, order Order) error {
	ref := strings.TrimSpace(order.Payment.GatewayOrderRef)
	if ref == "" {
		return fmt.Errorf("%w: no gateway session opened", ErrPaymentNotCaptured)
	}
	details, err := r.lookup.LookupPayment(ctx, ref)
	switch {
	case errors.Is(err, payments.ErrGatewayUnavailable):
		return fmt.Errorf("%w: %v", ErrReconcileUnavailable, err)
	case errors.Is(err, payments.ErrPaymentNotFound):
		return fmt.Errorf("%w: %v", ErrPaymentNotCaptured, err)
	case err != nil:
		return fmt.Errorf("%w: %v", ErrReconcileUnavailable, err)
	}
	if !details.Captured() || details.Amount != order.Total || (details.OrderID != "" && details.OrderID != order.ID) {
		return fmt.Errorf("%w: gateway reports %s for %d", ErrPaymentNotCaptured, details.Status, details.Amount)
	}
	return nil
}

func (r *paymentReconciler) verifySignature(cmd WebhookConfirmCommand) error {
	if r.verifier == nil {
		return errors.New("no webhook secret configured")
	}
	if strings.TrimSpace(cmd.Signature) == "" {
		return errors.New("signature header missing")
	}
	return r.verifier.Verify(cmd.Payload, cmd.Signature)
}

func (r *paymentReconciler) archiveRejected(ctx context.Context, reason storage.ArchiveReason, cmd WebhookConfirmCommand, cause error) {
	if r.archive == nil {
		return
	}
	name, err := r.archive.Archive(ctx, storage.RejectedWebhook{
		Reason:     reason,
		Body:       cmd.Payload,
		Signature:  cmd.Signature,
		RemoteAddr: cmd.RemoteAddr,
		Detail:     cause.Error(),
		ReceivedAt: r.clock(),
	})
	if err != nil {
		r.logger(ctx, "payments.webhook.archive_failed", map[string]any{"reason": string(reason), "error": err})
		return
	}
	r.logger(ctx, "payments.webhook.archived", map[string]any{"reason": string(reason), "object": name})
}

// observe returns a pass-through that records the outcome of a reconciliation call.
func (r *paymentReconciler) observe(ctx context.Context, channel domain.ConfirmationChannel) func(ReconcileResult, error) (ReconcileResult, error) {
	return func(result ReconcileResult, err error) (ReconcileResult, error) {
		outcome := string(result.Outcome)
		if err != nil {
			outcome = failureOutcome(err)
			r.logger(ctx, "payments.reconcile.failed", map[string]any{
				"channel": string(channel),
				"outcome": outcome,
				"error":   err,
			})
		}
		if r.metrics != nil {
			r.metrics.ObserveReconciliation(string(channel), outcome)
		}
		return result, err
	}
}

func failureOutcome(err error) string {
	switch {
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, ErrWebhookMalformed):
		return "malformed"
	case errors.Is(err, ErrPaymentAmountMismatch):
		return "amount_mismatch"
	case errors.Is(err, ErrPaymentNotCaptured):
		return "not_captured"
	case errors.Is(err, ErrOrderNotPayable):
		return "not_payable"
	case errors.Is(err, ErrOrderNotFound):
		return "not_found"
	case errors.Is(err, ErrOrderConflict):
		return "conflict"
	case errors.Is(err, ErrReconcileUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
