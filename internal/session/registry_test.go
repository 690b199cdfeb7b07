package session

import (
	"errors"
	"math/rand"
	"regexp"
	"testing"
	"time"
)

func fixedAlias(name string) AliasFunc {
	return func() string { return name }
}

func TestRegister(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := NewRegistry(fixedAlias("Stranger#1234"), func() time.Time { return now })

	p, err := r.Register("c1", "10.0.0.1")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if p.ID != "c1" || p.Address != "10.0.0.1" || p.Alias != "Stranger#1234" {
		t.Errorf("participant = %+v", p)
	}
	if !p.ConnectedAt.Equal(now) {
		t.Errorf("ConnectedAt = %v, want %v", p.ConnectedAt, now)
	}
	if r.Count() != 1 {
		t.Errorf("Count = %d, want 1", r.Count())
	}
}

func TestRegister_Duplicate(t *testing.T) {
	r := NewRegistry(nil, nil)

	if _, err := r.Register("c1", "a"); err != nil {
		t.Fatal(err)
	}
	_, err := r.Register("c1", "b")
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}

	p, _ := r.Lookup("c1")
	if p.Address != "a" {
		t.Errorf("duplicate must not overwrite: address = %q", p.Address)
	}
	if r.Count() != 1 {
		t.Errorf("Count = %d, want 1", r.Count())
	}
}

func TestRemove_Idempotent(t *testing.T) {
	r := NewRegistry(nil, nil)
	r.Register("c1", "a")

	if !r.Remove("c1") {
		t.Error("first Remove should report presence")
	}
	if r.Remove("c1") {
		t.Error("second Remove should be a no-op")
	}
	if _, ok := r.Lookup("c1"); ok {
		t.Error("Lookup after Remove should fail")
	}
	if r.Count() != 0 {
		t.Errorf("Count = %d, want 0", r.Count())
	}
}

func TestLive(t *testing.T) {
	r := NewRegistry(nil, nil)
	p, _ := r.Register("c1", "a")

	if !r.Live("c1") {
		t.Error("registered participant should be live")
	}
	p.Closing = true
	if r.Live("c1") {
		t.Error("closing participant should not be live")
	}
	if r.Live("missing") {
		t.Error("unknown id should not be live")
	}
}

func TestList_OrderedSnapshot(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := NewRegistry(nil, func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	})
	r.Register("b", "x")
	r.Register("a", "y")
	r.Register("c", "z")

	list := r.List()
	if len(list) != 3 {
		t.Fatalf("len = %d, want 3", len(list))
	}
	for i, want := range []string{"b", "a", "c"} {
		if list[i].ID != want {
			t.Errorf("list[%d] = %s, want %s", i, list[i].ID, want)
		}
	}

	list[0].Strikes = 99
	p, _ := r.Lookup("b")
	if p.Strikes != 0 {
		t.Error("List must return copies")
	}
}

func TestByAddress(t *testing.T) {
	r := NewRegistry(nil, nil)
	r.Register("c2", "1.1.1.1")
	r.Register("c1", "1.1.1.1")
	r.Register("c3", "2.2.2.2")

	got := r.ByAddress("1.1.1.1")
	if len(got) != 2 || got[0] != "c1" || got[1] != "c2" {
		t.Errorf("ByAddress = %v", got)
	}
	if got := r.ByAddress("9.9.9.9"); len(got) != 0 {
		t.Errorf("ByAddress(unknown) = %v", got)
	}
}

func TestStrangerAlias(t *testing.T) {
	gen := StrangerAlias(rand.New(rand.NewSource(1)))
	pattern := regexp.MustCompile(`^Stranger#[1-9][0-9]{3}$`)

	for i := 0; i < 1000; i++ {
		alias := gen()
		if !pattern.MatchString(alias) {
			t.Fatalf("alias %q does not match %s", alias, pattern)
		}
	}
}

func TestEach(t *testing.T) {
	r := NewRegistry(nil, nil)
	r.Register("a", "x")
	r.Register("b", "y")

	seen := map[string]bool{}
	r.Each(func(p *Participant) { seen[p.ID] = true })
	if len(seen) != 2 || !seen["a"] || !seen["b"] {
		t.Errorf("Each visited %v", seen)
	}
}
