package notify

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/goccy/go-json"
)

// ErrTokenExpired reports a push subscription the endpoint no longer accepts.
// Callers should drop the stored token.
var ErrTokenExpired = errors.New("push subscription expired")

// Sender is the raw web-push send call, split out so tests can stub it.
type Sender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

type webPushSender struct{}

func (webPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// WebPush delivers messages over the Web Push protocol. The message token is
// a JSON-serialized webpush.Subscription as handed out by the browser.
type WebPush struct {
	opts   *webpush.Options
	sender Sender
	logger *slog.Logger
}

func NewWebPush(vapidPublicKey, vapidPrivateKey, subject string, logger *slog.Logger) *WebPush {
	return &WebPush{
		opts: &webpush.Options{
			Subscriber:      subject,
			VAPIDPublicKey:  vapidPublicKey,
			VAPIDPrivateKey: vapidPrivateKey,
			TTL:             60,
		},
		sender: webPushSender{},
		logger: logger,
	}
}

func (w *WebPush) Send(ctx context.Context, msg Message) error {
	if msg.Token == "" {
		// Rider never registered for push; nothing to deliver to.
		return nil
	}

	var sub webpush.Subscription
	if err := json.Unmarshal([]byte(msg.Token), &sub); err != nil {
		return err
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	resp, err := w.sender.Send(payload, &sub, w.opts)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		w.logger.WarnContext(ctx, "push subscription expired", "endpoint", sub.Endpoint)
		return ErrTokenExpired
	}
	if resp.StatusCode >= 400 {
		return errors.New("push delivery failed with status " + resp.Status)
	}
	return nil
}
