package bus

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(NamespaceConnection, 10)
	defer unsub()

	b.Publish(Event{Kind: KindStatusChanged, Payload: "test"})

	select {
	case evt := <-ch:
		if evt.Kind != KindStatusChanged {
			t.Errorf("got kind %q, want %s", evt.Kind, KindStatusChanged)
		}
		if evt.Timestamp.IsZero() {
			t.Error("timestamp not stamped on publish")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(NamespaceChat, 10)
	defer unsub()

	b.Publish(Event{Kind: KindStatusChanged})
	b.Publish(Event{Kind: KindDirectoryChanged})

	select {
	case evt := <-ch:
		if evt.Kind != KindDirectoryChanged {
			t.Errorf("got kind %q, want %s", evt.Kind, KindDirectoryChanged)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNotifyCarriesNotice(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(NamespaceNotice, 10)
	defer unsub()

	cause := errors.New("boom")
	b.Notify(KindNoticeSendFailed, "message not sent", cause)

	evt := <-ch
	n, ok := evt.Payload.(Notice)
	if !ok {
		t.Fatalf("payload type = %T, want Notice", evt.Payload)
	}
	if n.Text != "message not sent" || !errors.Is(n.Err, cause) {
		t.Errorf("notice = %+v", n)
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(NamespaceAuth, 10)
	unsub()

	b.Publish(Event{Kind: KindAuthChanged})

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("test.", 1)
	defer unsub()

	b.Publish(Event{Kind: "test.one"})
	// Dropped: the buffer is full and Publish never blocks.
	b.Publish(Event{Kind: "test.two"})

	evt := <-ch
	if evt.Kind != "test.one" {
		t.Errorf("got %q, want test.one", evt.Kind)
	}
	if got := b.Dropped(); got != 1 {
		t.Errorf("Dropped() = %d, want 1", got)
	}
}

func TestDroppedNoticeIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	b := New()
	b.SetLogger(zap.New(core))
	_, unsub := b.SubscribeMany(1, NamespaceNotice, NamespaceChat)
	defer unsub()

	b.Publish(Event{Kind: KindMessagesChanged})
	b.Publish(Event{Kind: KindMessagesChanged})
	if logs.Len() != 0 {
		t.Fatalf("chat drop logged: %v", logs.All())
	}

	b.Notify(KindNoticeSendFailed, "message not sent", nil)
	entries := logs.FilterField(zap.String("kind", KindNoticeSendFailed)).All()
	if len(entries) != 1 {
		t.Fatalf("got %d warnings for the dropped notice, want 1", len(entries))
	}
	if got := b.Dropped(); got != 2 {
		t.Errorf("Dropped() = %d, want 2", got)
	}
}

func TestSubscribeManyKeepsPublishOrder(t *testing.T) {
	b := New()
	ch, unsub := b.SubscribeMany(10, NamespaceNotice, NamespaceConnection)
	defer unsub()

	b.Publish(Event{Kind: KindStatusChanged})
	b.Publish(Event{Kind: KindMessagesChanged})
	b.Notify(KindNoticeConnection, "connection lost", nil)

	for _, want := range []string{KindStatusChanged, KindNoticeConnection} {
		select {
		case evt := <-ch:
			if evt.Kind != want {
				t.Errorf("got %q, want %q", evt.Kind, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for %s", want)
		}
	}
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}
