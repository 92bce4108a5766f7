package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Bytemaster121/Prepsales-Notification-Service/internal/db"
)

func TestValidateContact(t *testing.T) {
	tests := []struct {
		name      string
		notifType string
		contact   string
		wantError bool
	}{
		{"valid email", "email", "user@example.com", false},
		{"email with subdomain", "email", "user@mail.example.co.uk", false},
		{"email with dots and dashes", "email", "first.last-x@my-host.io", false},
		{"email missing at sign", "email", "userexample.com", true},
		{"email missing domain", "email", "user@", true},
		{"email missing tld", "email", "user@example", true},
		{"email with spaces", "email", "user name@example.com", true},
		{"empty email", "email", "", true},

		{"valid phone", "sms", "+12345678901", false},
		{"valid long phone", "sms", "+123456789012345", false},
		{"phone minimum digits", "sms", "+1234567890", false},
		{"phone missing plus", "sms", "12345678901", true},
		{"phone too short", "sms", "+123456789", true},
		{"phone too long", "sms", "+1234567890123456", true},
		{"phone with letters", "sms", "+1234abc8901", true},
		{"empty phone", "sms", "", true},

		{"in_app ignores contact", "in_app", "", false},
		{"in_app with junk contact", "in_app", "whatever", false},

		{"unknown type", "webhook", "user@example.com", true},
		{"empty type", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateContact(tt.notifType, tt.contact)
			if tt.wantError && err == nil {
				t.Errorf("expected error for %s/%q, got nil", tt.notifType, tt.contact)
			}
			if !tt.wantError && err != nil {
				t.Errorf("unexpected error for %s/%q: %v", tt.notifType, tt.contact, err)
			}
			if err != nil && !IsPermanent(err) {
				t.Errorf("validation failure must be permanent, got %T", err)
			}
		})
	}
}

// fakeSender records calls for one notification type
type fakeSender struct {
	notifType string
	sendErr   error
	calls     int
}

func (f *fakeSender) Send(ctx context.Context, notif *db.Notification) error {
	f.calls++
	return f.sendErr
}

func (f *fakeSender) SupportsType(notifType string) bool {
	return notifType == f.notifType
}

func TestDispatcherRouting(t *testing.T) {
	email := &fakeSender{notifType: db.TypeEmail}
	sms := &fakeSender{notifType: db.TypeSMS}
	inApp := &fakeSender{notifType: db.TypeInApp}
	d := NewDispatcher(zap.NewNop(), email, sms, inApp)

	notif := &db.Notification{
		ID:      uuid.New(),
		UserID:  "user-1",
		Type:    db.TypeSMS,
		Message: "hi",
		Contact: "+12345678901",
	}

	if err := d.Send(context.Background(), notif); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if sms.calls != 1 {
		t.Errorf("sms sender calls = %d, want 1", sms.calls)
	}
	if email.calls != 0 || inApp.calls != 0 {
		t.Error("notification routed to wrong sender")
	}
}

func TestDispatcherRejectsBadContactBeforeSending(t *testing.T) {
	email := &fakeSender{notifType: db.TypeEmail}
	d := NewDispatcher(zap.NewNop(), email)

	notif := &db.Notification{
		ID:      uuid.New(),
		Type:    db.TypeEmail,
		Contact: "not-an-email",
	}

	err := d.Send(context.Background(), notif)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !IsPermanent(err) {
		t.Errorf("expected permanent error, got %v", err)
	}
	if email.calls != 0 {
		t.Error("provider called for undeliverable record")
	}
}

func TestDispatcherNoSenderForType(t *testing.T) {
	d := NewDispatcher(zap.NewNop(), &fakeSender{notifType: db.TypeEmail})

	notif := &db.Notification{
		ID:   uuid.New(),
		Type: db.TypeInApp,
	}

	err := d.Send(context.Background(), notif)
	if err == nil {
		t.Fatal("expected routing error")
	}
	if IsPermanent(err) {
		t.Error("missing sender is a deployment problem, not a permanent delivery failure")
	}
}

func TestDispatcherPropagatesProviderError(t *testing.T) {
	providerErr := errors.New("SES throttled")
	email := &fakeSender{notifType: db.TypeEmail, sendErr: providerErr}
	d := NewDispatcher(zap.NewNop(), email)

	notif := &db.Notification{
		ID:      uuid.New(),
		Type:    db.TypeEmail,
		Contact: "user@example.com",
	}

	err := d.Send(context.Background(), notif)
	if !errors.Is(err, providerErr) {
		t.Fatalf("expected provider error, got %v", err)
	}
	if IsPermanent(err) {
		t.Error("provider error must stay transient")
	}
}

// fakeInbox implements InboxWriter
type fakeInbox struct {
	pushErr error
	userID  string
	message string
	pushes  int
}

func (f *fakeInbox) Push(ctx context.Context, userID, notificationID, message string, deliveredAt time.Time) error {
	f.pushes++
	f.userID = userID
	f.message = message
	return f.pushErr
}

func TestInAppSender(t *testing.T) {
	t.Run("delivers to inbox", func(t *testing.T) {
		inbox := &fakeInbox{}
		s := NewInAppSender(inbox, zap.NewNop())

		notif := &db.Notification{
			ID:      uuid.New(),
			UserID:  "user-7",
			Type:    db.TypeInApp,
			Message: "welcome",
		}

		if err := s.Send(context.Background(), notif); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if inbox.pushes != 1 {
			t.Fatalf("pushes = %d, want 1", inbox.pushes)
		}
		if inbox.userID != "user-7" || inbox.message != "welcome" {
			t.Errorf("pushed wrong entry: %s/%s", inbox.userID, inbox.message)
		}
	})

	t.Run("inbox failure is transient", func(t *testing.T) {
		inbox := &fakeInbox{pushErr: errors.New("redis down")}
		s := NewInAppSender(inbox, zap.NewNop())

		err := s.Send(context.Background(), &db.Notification{
			ID:     uuid.New(),
			UserID: "user-7",
			Type:   db.TypeInApp,
		})
		if err == nil {
			t.Fatal("expected error")
		}
		if IsPermanent(err) {
			t.Error("store outage must stay transient")
		}
	})

	t.Run("rejects other types", func(t *testing.T) {
		s := NewInAppSender(&fakeInbox{}, zap.NewNop())
		if s.SupportsType(db.TypeEmail) {
			t.Error("should not support email")
		}
		if !s.SupportsType(db.TypeInApp) {
			t.Error("should support in_app")
		}
	})
}
