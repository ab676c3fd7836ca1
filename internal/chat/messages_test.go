package chat

import (
	"slices"
	"testing"
	"time"
)

const self = "rider-1"

func keys(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Key()
	}
	return out
}

func assertKeys(t *testing.T, s *MessageStore, want ...string) {
	t.Helper()
	if got := keys(s.Snapshot()); !slices.Equal(got, want) {
		t.Fatalf("messages = %v, want %v", got, want)
	}
}

func msg(id, conv, sender string, sec int) Message {
	return Message{ID: id, ConversationID: conv, SenderID: sender, Content: id, CreatedAt: *at(sec), Status: StatusSent}
}

func openStore(conv string) *MessageStore {
	s := NewMessageStore()
	s.Open(conv)
	return s
}

func TestLoadHistoryOrdersAscending(t *testing.T) {
	s := openStore("c1")
	ok := s.LoadHistory("c1", []Message{
		msg("m3", "c1", "driver-42", 30),
		msg("m1", "c1", self, 10),
		msg("m2a", "c1", self, 20),
		msg("m2b", "c1", "driver-42", 20),
		msg("m1", "c1", self, 10),
	})
	if !ok {
		t.Fatal("LoadHistory for the viewed conversation was discarded")
	}
	assertKeys(t, s, "m1", "m2a", "m2b", "m3")
	if !s.Loaded() {
		t.Error("Loaded() = false after history")
	}
}

func TestLoadHistoryDiscardsStaleResponse(t *testing.T) {
	s := openStore("c1")
	// The user moved on to c2 before c1's history arrived.
	s.Open("c2")
	if s.LoadHistory("c1", []Message{msg("m1", "c1", self, 1)}) {
		t.Error("stale history applied")
	}
	if s.Len() != 0 || s.ConversationID() != "c2" {
		t.Errorf("store = %v viewing %q", keys(s.Snapshot()), s.ConversationID())
	}
}

func TestLoadHistoryTwiceIsIdempotent(t *testing.T) {
	s := openStore("c1")
	history := []Message{msg("m1", "c1", self, 1), msg("m2", "c1", "driver-42", 2)}
	s.LoadHistory("c1", history)
	s.LoadHistory("c1", history)
	assertKeys(t, s, "m1", "m2")
}

func TestLoadHistoryKeepsPendingSends(t *testing.T) {
	s := openStore("c1")
	s.AppendOptimistic("tmp-1", "c1", self, "sent before history", *at(100))
	s.LoadHistory("c1", []Message{msg("m1", "c1", "driver-42", 1)})
	assertKeys(t, s, "m1", "tmp-1")
}

// optimistic send then the server echo: exactly one entry throughout.
func TestOptimisticThenReconcile(t *testing.T) {
	s := openStore("c1")
	s.LoadHistory("c1", []Message{msg("m0", "c1", "driver-42", 1)})

	if !s.AppendOptimistic("tmp-1", "c1", self, "hello", *at(50)) {
		t.Fatal("optimistic append refused for the viewed conversation")
	}
	snap := s.Snapshot()
	if len(snap) != 2 || !snap[1].Pending() || snap[1].Status != StatusSent || snap[1].Content != "hello" {
		t.Fatalf("after append = %+v", snap)
	}

	echo := Message{ID: "m1", TempID: "tmp-1", ConversationID: "c1", SenderID: self, Content: "hello", CreatedAt: *at(51), Status: StatusSent}
	if !s.Reconcile("tmp-1", echo) {
		t.Fatal("reconcile did not apply")
	}
	assertKeys(t, s, "m0", "m1")
	if got := s.Snapshot()[1]; got.Pending() || got.TempID != "tmp-1" {
		t.Errorf("reconciled entry = %+v", got)
	}

	// A duplicate echo must not add a second entry.
	s.Reconcile("tmp-1", echo)
	assertKeys(t, s, "m0", "m1")
}

func TestReconcilePreservesPosition(t *testing.T) {
	s := openStore("c1")
	s.AppendOptimistic("tmp-1", "c1", self, "first", *at(10))
	s.AppendOptimistic("tmp-2", "c1", self, "second", *at(11))

	// The server stamped the first message after the second one.
	s.Reconcile("tmp-1", Message{ID: "m1", ConversationID: "c1", SenderID: self, Content: "first", CreatedAt: *at(99)})
	assertKeys(t, s, "m1", "tmp-2")
}

// Identical text sent twice quickly is told apart by temp id, not content.
func TestReconcileIdenticalContentByTempID(t *testing.T) {
	s := openStore("c1")
	s.AppendOptimistic("tmp-a", "c1", self, "ok", *at(1))
	s.AppendOptimistic("tmp-b", "c1", self, "ok", *at(2))

	s.Reconcile("tmp-b", Message{ID: "mb", ConversationID: "c1", SenderID: self, Content: "ok", CreatedAt: *at(2)})
	assertKeys(t, s, "tmp-a", "mb")
	s.Reconcile("tmp-a", Message{ID: "ma", ConversationID: "c1", SenderID: self, Content: "ok", CreatedAt: *at(1)})
	assertKeys(t, s, "ma", "mb")
}

func TestReconcileWhenHistoryAlreadyHasConfirmed(t *testing.T) {
	s := openStore("c1")
	s.AppendOptimistic("tmp-1", "c1", self, "hi", *at(5))
	// History raced ahead of the echo and already lists the message.
	s.LoadHistory("c1", []Message{msg("m1", "c1", self, 5)})
	assertKeys(t, s, "m1", "tmp-1")

	s.Reconcile("tmp-1", Message{ID: "m1", ConversationID: "c1", SenderID: self, CreatedAt: *at(5)})
	assertKeys(t, s, "m1")
}

func TestReconcileWithoutPendingAppends(t *testing.T) {
	s := openStore("c1")
	s.Reconcile("tmp-unknown", msg("m1", "c1", self, 1))
	assertKeys(t, s, "m1")

	if s.Reconcile("tmp-x", msg("m2", "c2", self, 2)) {
		t.Error("reconcile applied a message of another conversation")
	}
}

func TestApplyIncoming(t *testing.T) {
	s := openStore("c1")
	s.ApplyIncoming(msg("m2", "c1", "driver-42", 20))
	s.ApplyIncoming(msg("m1", "c1", "driver-42", 10))
	s.ApplyIncoming(msg("m3", "c1", "driver-42", 20))
	assertKeys(t, s, "m1", "m2", "m3")

	if s.ApplyIncoming(msg("x", "c2", "driver-42", 1)) {
		t.Error("message for an unviewed conversation applied")
	}
	updated := msg("m2", "c1", "driver-42", 20)
	updated.Status = StatusDelivered
	s.ApplyIncoming(updated)
	assertKeys(t, s, "m1", "m2", "m3")
	if s.Snapshot()[1].Status != StatusDelivered {
		t.Errorf("redelivery did not update in place: %+v", s.Snapshot()[1])
	}
}

func TestMarkSentByOthersAsRead(t *testing.T) {
	s := openStore("c1")
	s.LoadHistory("c1", []Message{
		msg("m1", "c1", self, 1),
		msg("m2", "c1", "driver-42", 2),
		msg("m3", "c1", self, 3),
		msg("m4", "c1", "dispatcher", 4),
	})

	if n := s.MarkSentByOthersAsRead("c1", self, self); n != 0 {
		t.Errorf("own receipt flipped %d messages", n)
	}
	if n := s.MarkSentByOthersAsRead("c2", "driver-42", self); n != 0 {
		t.Errorf("receipt for another conversation flipped %d messages", n)
	}
	if n := s.MarkSentByOthersAsRead("c1", "driver-42", self); n != 2 {
		t.Errorf("flipped %d, want 2", n)
	}
	want := map[string]MessageStatus{"m1": StatusRead, "m2": StatusSent, "m3": StatusRead, "m4": StatusSent}
	for _, m := range s.Snapshot() {
		if m.Status != want[m.ID] {
			t.Errorf("%s status = %s, want %s", m.ID, m.Status, want[m.ID])
		}
	}
	if n := s.MarkSentByOthersAsRead("c1", "dispatcher", self); n != 0 {
		t.Errorf("already read messages flipped again: %d", n)
	}
}

func TestRollback(t *testing.T) {
	s := openStore("c1")
	s.ApplyIncoming(msg("m1", "c1", "driver-42", 1))
	s.AppendOptimistic("tmp-1", "c1", self, "lost", *at(2))

	if !s.Rollback("tmp-1") {
		t.Fatal("rollback found nothing")
	}
	assertKeys(t, s, "m1")
	if s.Rollback("tmp-1") {
		t.Error("second rollback returned true")
	}
}

func TestAppendOptimisticOnlyForViewedConversation(t *testing.T) {
	s := openStore("c1")
	if s.AppendOptimistic("tmp-1", "c2", self, "x", time.Now()) {
		t.Error("optimistic entry appended to an unviewed conversation")
	}
}

func TestOpenCachesConfirmedHistory(t *testing.T) {
	s := openStore("c1")
	if s.Open("c1") {
		t.Error("reopening before history arrived reported cached")
	}
	s.LoadHistory("c1", []Message{msg("m1", "c1", self, 1)})
	s.AppendOptimistic("tmp-1", "c1", self, "pending", *at(2))

	if s.Open("c2") {
		t.Error("c2 reported cached without history")
	}
	if !s.Open("c1") {
		t.Fatal("c1 history not restored from cache")
	}
	assertKeys(t, s, "m1", "tmp-1")

	s.Open("c2")
	s.Invalidate("c1")
	if s.Open("c1") {
		t.Error("invalidated history restored")
	}
}

func TestMessageStoreReset(t *testing.T) {
	s := openStore("c1")
	s.LoadHistory("c1", []Message{msg("m1", "c1", self, 1)})
	s.Open("c2")
	s.Reset()
	if s.ConversationID() != "" || s.Len() != 0 {
		t.Errorf("after reset: viewing %q with %d messages", s.ConversationID(), s.Len())
	}
	if s.Open("c1") {
		t.Error("cache survived reset")
	}
}

func TestParticipantKeyIgnoresOrder(t *testing.T) {
	a := ParticipantKey([]string{"driver-42", "rider-1", "rider-1", " "})
	b := ParticipantKey([]string{"rider-1", "driver-42"})
	if a != b {
		t.Errorf("keys differ: %q vs %q", a, b)
	}
	if !IsTempID(TempIDPrefix+"x") || IsTempID("m1") {
		t.Error("IsTempID misclassified ids")
	}
}

func TestPendingSendFollowsConversationSwitch(t *testing.T) {
	s := openStore("c1")
	s.LoadHistory("c1", []Message{msg("m1", "c1", "driver-42", 1)})
	s.AppendOptimistic("tmp-1", "c1", self, "hello", *at(5))

	s.Open("c2")
	if parked := s.Parked("c1"); len(parked) != 1 || parked[0].TempID != "tmp-1" {
		t.Fatalf("parked = %+v, want tmp-1", parked)
	}
	if !s.Open("c1") {
		t.Fatal("c1 history not restored from cache")
	}
	assertKeys(t, s, "m1", "tmp-1")

	// back again without a cache: the send shows before history arrives
	s.Open("c2")
	s.Invalidate("c1")
	if s.Open("c1") {
		t.Fatal("invalidated history restored")
	}
	assertKeys(t, s, "tmp-1")
	s.LoadHistory("c1", []Message{msg("m1", "c1", "driver-42", 1)})
	assertKeys(t, s, "m1", "tmp-1")

	echo := Message{ID: "m2", TempID: "tmp-1", ConversationID: "c1", SenderID: self, Content: "hello", CreatedAt: *at(6)}
	if !s.Reconcile("tmp-1", echo) {
		t.Fatal("reconcile did not apply")
	}
	assertKeys(t, s, "m1", "m2")
	if len(s.Parked("c1")) != 0 {
		t.Error("parked entry left behind")
	}
}

func TestEchoWhileAwaySettlesParkedSend(t *testing.T) {
	s := openStore("c1")
	s.AppendOptimistic("tmp-1", "c1", self, "hello", *at(5))
	s.Open("c2")

	echo := Message{ID: "m1", TempID: "tmp-1", ConversationID: "c1", SenderID: self, Content: "hello", CreatedAt: *at(6)}
	if s.Reconcile("tmp-1", echo) {
		t.Error("reconcile for an unviewed conversation reported a viewed change")
	}
	if len(s.Parked("c1")) != 0 {
		t.Fatal("echoed send still parked")
	}

	// the refetched history carries the message once
	s.Open("c1")
	s.LoadHistory("c1", []Message{msg("m1", "c1", self, 6)})
	assertKeys(t, s, "m1")
}

func TestRollbackParkedSend(t *testing.T) {
	s := openStore("c1")
	s.AppendOptimistic("tmp-1", "c1", self, "lost", *at(5))
	s.Open("c2")

	if s.Rollback("tmp-1") {
		t.Error("rollback of a parked send reported a viewed change")
	}
	s.Open("c1")
	if s.Len() != 0 {
		t.Errorf("rolled back send came back: %v", keys(s.Snapshot()))
	}
}

func TestParkedSendsClearedOnReset(t *testing.T) {
	s := openStore("c1")
	s.AppendOptimistic("tmp-1", "c1", self, "hello", *at(5))
	s.Open("c2")
	s.Reset()
	s.Open("c1")
	if s.Len() != 0 {
		t.Errorf("parked send survived reset: %v", keys(s.Snapshot()))
	}
}

func TestReconcileReordersPastConfirmedNeighbour(t *testing.T) {
	s := openStore("c1")
	s.LoadHistory("c1", []Message{msg("a", "c1", "driver-42", 100)})
	// the client clock is behind the server
	s.AppendOptimistic("tmp-1", "c1", self, "mine", *at(50))
	assertKeys(t, s, "tmp-1", "a")

	s.Reconcile("tmp-1", Message{ID: "m1", ConversationID: "c1", SenderID: self, Content: "mine", CreatedAt: *at(200)})
	assertKeys(t, s, "a", "m1")
}
