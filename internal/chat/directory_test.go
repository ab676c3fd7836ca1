package chat

import (
	"math/rand"
	"slices"
	"testing"
	"time"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func at(sec int) *time.Time {
	t := base.Add(time.Duration(sec) * time.Second)
	return &t
}

func ids(convs []Conversation) []string {
	out := make([]string, len(convs))
	for i, c := range convs {
		out[i] = c.ID
	}
	return out
}

func assertOrder(t *testing.T, d *Directory, want ...string) {
	t.Helper()
	if got := ids(d.Snapshot()); !slices.Equal(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
}

func assertSorted(t *testing.T, convs []Conversation) {
	t.Helper()
	seenNil := false
	for i, c := range convs {
		if c.LastMessageAt == nil {
			seenNil = true
			continue
		}
		if seenNil {
			t.Fatalf("conversation %s with activity sorted after one without", c.ID)
		}
		if i > 0 && convs[i-1].LastMessageAt != nil && convs[i-1].LastMessageAt.Before(*c.LastMessageAt) {
			t.Fatalf("order broken at %d: %v before %v", i, convs[i-1].LastMessageAt, c.LastMessageAt)
		}
	}
}

func TestReplaceAllSortsByActivity(t *testing.T) {
	d := NewDirectory()
	d.ReplaceAll([]Conversation{
		{ID: "empty1"},
		{ID: "old", LastMessageAt: at(10)},
		{ID: "empty2"},
		{ID: "new", LastMessageAt: at(30)},
		{ID: "mid", LastMessageAt: at(20)},
		{ID: "tieA", LastMessageAt: at(20)},
	})
	// Ties keep their snapshot order; empty conversations keep arrival order.
	assertOrder(t, d, "new", "mid", "tieA", "old", "empty1", "empty2")
}

func TestReplaceAllNormalizesTimestamps(t *testing.T) {
	d := NewDirectory()
	zero := time.Time{}
	local := time.Date(2026, 3, 1, 14, 0, 0, 0, time.FixedZone("CET", 3600))
	d.ReplaceAll([]Conversation{
		{ID: "zero", LastMessageAt: &zero},
		{ID: "local", LastMessageAt: &local},
		{ID: "dup", UnreadCount: -3},
		{ID: "dup", UnreadCount: 5},
	})

	c, _ := d.Get("zero")
	if c.LastMessageAt != nil {
		t.Errorf("zero timestamp = %v, want nil", c.LastMessageAt)
	}
	c, _ = d.Get("local")
	if c.LastMessageAt.Location() != time.UTC {
		t.Errorf("location = %v, want UTC", c.LastMessageAt.Location())
	}
	if d.Len() != 3 {
		t.Errorf("len = %d, want 3 (duplicates dropped)", d.Len())
	}
	c, _ = d.Get("dup")
	if c.UnreadCount != 0 {
		t.Errorf("unread = %d, want 0 (negative clamped, first occurrence kept)", c.UnreadCount)
	}
}

func TestReplaceAllKeepsSelectionInvariant(t *testing.T) {
	d := NewDirectory()
	d.ReplaceAll([]Conversation{{ID: "c1"}, {ID: "c2"}})
	d.Select("c1")

	d.ReplaceAll([]Conversation{{ID: "c1", UnreadCount: 4}, {ID: "c2", UnreadCount: 2}})
	c, _ := d.Get("c1")
	if c.UnreadCount != 0 {
		t.Errorf("selected unread = %d, want 0", c.UnreadCount)
	}

	d.ReplaceAll([]Conversation{{ID: "c2"}})
	if d.Selected() != "" {
		t.Errorf("selected = %q, want cleared when absent from snapshot", d.Selected())
	}
}

// an unselected conversation receives a message from someone else.
func TestUpsertFromOtherParticipantCountsUnread(t *testing.T) {
	d := NewDirectory()
	d.ReplaceAll([]Conversation{
		{ID: "c1", LastMessageAt: at(50)},
		{ID: "c2", LastMessageAt: at(10)},
	})

	if !d.UpsertFromActivity("c2", "on my way", *at(60), true) {
		t.Fatal("upsert returned false for a known conversation")
	}
	assertOrder(t, d, "c2", "c1")
	c, _ := d.Get("c2")
	if c.UnreadCount != 1 {
		t.Errorf("unread = %d, want 1", c.UnreadCount)
	}
	if c.LastMessageText != "on my way" || !c.LastMessageAt.Equal(*at(60)) {
		t.Errorf("preview = %q at %v", c.LastMessageText, c.LastMessageAt)
	}
}

func TestUpsertOwnOrSelectedDoesNotCountUnread(t *testing.T) {
	d := NewDirectory()
	d.ReplaceAll([]Conversation{{ID: "c1"}, {ID: "c2"}})
	d.Select("c1")

	d.UpsertFromActivity("c1", "from other", *at(1), true)
	d.UpsertFromActivity("c2", "from me", *at(2), false)

	for _, id := range []string{"c1", "c2"} {
		c, _ := d.Get(id)
		if c.UnreadCount != 0 {
			t.Errorf("%s unread = %d, want 0", id, c.UnreadCount)
		}
	}
}

func TestUpsertUnknownConversationIgnored(t *testing.T) {
	d := NewDirectory()
	if d.UpsertFromActivity("ghost", "hi", *at(1), true) {
		t.Error("upsert created a conversation locally")
	}
	if d.Len() != 0 {
		t.Errorf("len = %d, want 0", d.Len())
	}
}

// equal timestamps, A touched before B: the last touched comes first.
func TestUpsertEqualTimestampLastTouchedFirst(t *testing.T) {
	d := NewDirectory()
	d.ReplaceAll([]Conversation{{ID: "A"}, {ID: "B"}, {ID: "C", LastMessageAt: at(5)}})

	d.UpsertFromActivity("A", "x", *at(100), true)
	d.UpsertFromActivity("B", "y", *at(100), true)
	assertOrder(t, d, "B", "A", "C")

	d.UpsertFromActivity("A", "z", *at(100), true)
	assertOrder(t, d, "A", "B", "C")
}

func TestUpsertOutOfOrderTimestampKeepsSorted(t *testing.T) {
	d := NewDirectory()
	d.ReplaceAll([]Conversation{
		{ID: "c1", LastMessageAt: at(30)},
		{ID: "c2", LastMessageAt: at(20)},
		{ID: "c3", LastMessageAt: at(10)},
	})
	d.UpsertFromActivity("c3", "late delivery", *at(25), true)
	assertOrder(t, d, "c1", "c3", "c2")
}

func TestUpsertSequencesStaySorted(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	d := NewDirectory()
	var list []Conversation
	for i := range 12 {
		c := Conversation{ID: string(rune('a' + i))}
		if i%3 == 0 {
			c.LastMessageAt = at(rng.Intn(50))
		}
		list = append(list, c)
	}
	d.ReplaceAll(list)
	assertSorted(t, d.Snapshot())

	for range 500 {
		id := string(rune('a' + rng.Intn(12)))
		before := ids(d.Snapshot())
		ts := *at(rng.Intn(80))
		d.UpsertFromActivity(id, "m", ts, rng.Intn(2) == 0)
		after := d.Snapshot()
		assertSorted(t, after)

		// Stable tie-break: every other conversation keeps its relative order.
		var rest []string
		for _, o := range before {
			if o != id {
				rest = append(rest, o)
			}
		}
		var restAfter []string
		for _, c := range after {
			if c.ID != id {
				restAfter = append(restAfter, c.ID)
			}
		}
		if !slices.Equal(rest, restAfter) {
			t.Fatalf("untouched order changed: %v -> %v", rest, restAfter)
		}
		// The touched conversation precedes every conversation with an equal timestamp.
		for _, c := range after {
			if c.ID == id {
				break
			}
			if c.LastMessageAt != nil && c.LastMessageAt.Equal(ts) {
				t.Fatalf("%s with equal timestamp sorted before last touched %s", c.ID, id)
			}
		}
	}
}

func TestInsertNewIsIdempotent(t *testing.T) {
	d := NewDirectory()
	d.ReplaceAll([]Conversation{{ID: "c1", LastMessageAt: at(10)}, {ID: "c2"}})

	if !d.InsertNew(Conversation{ID: "c3", ParticipantIDs: []string{"rider-1", "driver-42"}}) {
		t.Fatal("InsertNew returned false for a new conversation")
	}
	if d.InsertNew(Conversation{ID: "c3", Title: "dup"}) {
		t.Error("duplicate InsertNew returned true")
	}
	assertOrder(t, d, "c1", "c2", "c3")
	c, _ := d.Get("c3")
	if c.Title != "" {
		t.Errorf("duplicate delivery overwrote conversation: title = %q", c.Title)
	}

	d.InsertNew(Conversation{ID: "c4", LastMessageAt: at(20)})
	assertOrder(t, d, "c4", "c1", "c2", "c3")
}

func TestSelectClearsUnread(t *testing.T) {
	d := NewDirectory()
	d.ReplaceAll([]Conversation{{ID: "c1", UnreadCount: 3}})

	if d.Select("missing") {
		t.Error("Select(missing) = true")
	}
	if !d.Select("c1") {
		t.Fatal("Select(c1) = false")
	}
	c, _ := d.Get("c1")
	if c.UnreadCount != 0 {
		t.Errorf("unread = %d, want 0", c.UnreadCount)
	}
	if d.Selected() != "c1" {
		t.Errorf("selected = %q", d.Selected())
	}
	d.Select("")
	if d.Selected() != "" {
		t.Errorf("selected = %q after clearing", d.Selected())
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	d := NewDirectory()
	d.ReplaceAll([]Conversation{{ID: "c1", ParticipantIDs: []string{"a"}, LastMessageAt: at(1)}})

	snap := d.Snapshot()
	snap[0].ParticipantIDs[0] = "mutated"
	*snap[0].LastMessageAt = base

	c, _ := d.Get("c1")
	if c.ParticipantIDs[0] != "a" || !c.LastMessageAt.Equal(*at(1)) {
		t.Errorf("snapshot aliases directory state: %+v", c)
	}
}

func TestDirectoryReset(t *testing.T) {
	d := NewDirectory()
	d.ReplaceAll([]Conversation{{ID: "c1"}})
	d.Select("c1")
	d.Reset()
	if d.Len() != 0 || d.Selected() != "" {
		t.Errorf("after reset: len=%d selected=%q", d.Len(), d.Selected())
	}
}
