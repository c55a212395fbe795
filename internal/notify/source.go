package notify

import "errors"

// ErrConnectionLost marks a source failure that ends the job: the source
// gave up and will deliver nothing further.
var ErrConnectionLost = errors.New("connection lost")

// Sink receives the output of a Source. Either callback may be nil.
type Sink struct {
	OnNotification func(Notification)
	OnError        func(error)
}

// Deliver forwards n to OnNotification.
func (s Sink) Deliver(n Notification) {
	if s.OnNotification != nil {
		s.OnNotification(n)
	}
}

// Fail forwards err to OnError.
func (s Sink) Fail(err error) {
	if s.OnError != nil {
		s.OnError(err)
	}
}

// Subscription is the handle returned by a Source. Unsubscribe is
// idempotent and no Sink callback fires after it returns.
type Subscription interface {
	Unsubscribe()
}

// Source produces Notifications for one subject.
type Source interface {
	Subscribe(subject string, sink Sink) Subscription
}
