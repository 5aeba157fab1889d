package notification

import (
	"context"
	"fmt"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"

	"table-allocation-backend/internal/parse"
	"table-allocation-backend/internal/store"
)

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// WorkerPool tells host devices about bookings that were placed in the
// background, filtered by the section of the table they landed on.
type WorkerPool struct {
	size    int
	jobs    chan string
	store   store.Store
	webpush *webpush.Options
	sender  NotificationSender
	log     *zap.Logger
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, s store.Store, webpushOptions *webpush.Options, log *zap.Logger) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	return &WorkerPool{
		size:    size,
		jobs:    make(chan string, size*8),
		store:   s,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
		log:     log,
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	wp.log.Debug("notification worker started", zap.Int("worker", id))
	for {
		select {
		case bookingID := <-wp.jobs:
			wp.sendNotificationsForBooking(ctx, bookingID)
		case <-ctx.Done():
			wp.log.Debug("notification worker shutting down", zap.Int("worker", id))
			return
		}
	}
}

// Dispatch queues a notification for bookingID. It never blocks: when the
// queue is full the notification is dropped and false is returned.
func (wp *WorkerPool) Dispatch(bookingID string) bool {
	select {
	case wp.jobs <- bookingID:
		return true
	default:
		wp.log.Warn("notification queue full, dropping", zap.String("booking_id", bookingID))
		return false
	}
}

func (wp *WorkerPool) sendNotificationsForBooking(ctx context.Context, bookingID string) {
	b, err := wp.store.GetBooking(ctx, bookingID, false)
	if err != nil {
		wp.log.Error("failed to load booking for notification", zap.String("booking_id", bookingID), zap.Error(err))
		return
	}
	if b.TableID == nil {
		return
	}

	tableLabel := *b.TableID
	sectionID := ""
	if t, err := wp.store.GetTable(ctx, *b.TableID); err != nil {
		wp.log.Warn("failed to load table for notification", zap.String("table_id", *b.TableID), zap.Error(err))
	} else {
		tableLabel = t.Label
		if t.SectionID != nil {
			sectionID = *t.SectionID
		}
	}

	subscriptions, err := wp.store.ListSubscriptionsForSection(ctx, sectionID)
	if err != nil {
		wp.log.Error("failed to list subscriptions", zap.String("section_id", sectionID), zap.Error(err))
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	wp.log.Info("sending booking notifications",
		zap.String("booking_id", bookingID),
		zap.Int("subscriptions", len(subscriptions)),
	)
	message := fmt.Sprintf("Party of %d at %s is now on table %s", b.PartySize, parse.FormatTimeOfDay(b.StartMinute), tableLabel)
	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub.Endpoint, sub.P256DH, sub.Auth, []byte(message))
	}
}

func (wp *WorkerPool) sendNotification(ctx context.Context, endpoint, p256dh, auth string, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: endpoint,
		Keys: webpush.Keys{
			P256dh: p256dh,
			Auth:   auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		wp.log.Warn("failed to send notification", zap.String("endpoint", endpoint), zap.Error(err))
		return
	}
	defer resp.Body.Close()

	// The push service forgot this device.
	if resp.StatusCode == http.StatusGone {
		wp.log.Info("subscription expired, deleting", zap.String("endpoint", endpoint))
		if err := wp.store.DeleteSubscription(ctx, endpoint); err != nil {
			wp.log.Error("failed to delete expired subscription", zap.String("endpoint", endpoint), zap.Error(err))
		}
	}
}
