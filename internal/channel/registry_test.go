package channel

import (
	"fmt"
	"slices"
	"sync"
	"testing"
)

func TestRegistry_JoinLeave(t *testing.T) {
	r := NewRegistry()
	r.Add("c1", "u1")

	if u, ok := r.UserOf("c1"); !ok || u != "u1" {
		t.Fatalf("UserOf(c1) = %q, %v", u, ok)
	}
	if _, ok := r.UserOf("nope"); ok {
		t.Error("unknown connection should not resolve")
	}

	r.Join("u1", "r1")
	r.Join("u1", "r2")
	if !r.IsMember("u1", "r1") || r.IsMember("u1", "r3") {
		t.Error("membership mismatch")
	}
	if got := r.Rooms("u1"); !slices.Equal(got, []string{"r1", "r2"}) {
		t.Errorf("Rooms = %v", got)
	}

	if !r.Leave("u1", "r1") {
		t.Error("Leave(r1) should report membership")
	}
	if r.Leave("u1", "r1") {
		t.Error("second Leave(r1) should report false")
	}
	if r.IsMember("u1", "r1") {
		t.Error("still a member after leave")
	}
}

func TestRegistry_RemoveLastConnection(t *testing.T) {
	r := NewRegistry()
	r.Add("c1", "u1")
	r.Add("c2", "u1")
	r.Join("u1", "r1")

	user, rooms, last := r.Remove("c1")
	if user != "u1" || last || rooms != nil {
		t.Fatalf("Remove(c1) = %q %v %v", user, rooms, last)
	}
	if !r.IsMember("u1", "r1") {
		t.Fatal("membership must survive while another connection is open")
	}

	user, rooms, last = r.Remove("c2")
	if user != "u1" || !last || !slices.Equal(rooms, []string{"r1"}) {
		t.Fatalf("Remove(c2) = %q %v %v", user, rooms, last)
	}
	if r.IsMember("u1", "r1") {
		t.Error("membership should be dropped with the last connection")
	}
	if c, u := r.Stats(); c != 0 || u != 0 {
		t.Errorf("Stats = %d, %d", c, u)
	}

	if u, _, _ := r.Remove("c2"); u != "" {
		t.Errorf("removing twice returned %q", u)
	}
}

func TestRegistry_RoomConnections(t *testing.T) {
	r := NewRegistry()
	r.Add("a1", "alice")
	r.Add("a2", "alice")
	r.Add("b1", "bob")
	r.Add("c1", "carol")
	r.Join("alice", "r1")
	r.Join("bob", "r1")
	r.Join("carol", "r2")

	if got := r.RoomConnections("r1"); !slices.Equal(got, []string{"a1", "a2", "b1"}) {
		t.Errorf("RoomConnections(r1) = %v", got)
	}
	if got := r.RoomConnections("empty"); len(got) != 0 {
		t.Errorf("RoomConnections(empty) = %v", got)
	}
}

func TestRegistry_Rebind(t *testing.T) {
	r := NewRegistry()
	r.Add("c1", "u1")
	r.Add("c1", "u2")
	if u, _ := r.UserOf("c1"); u != "u2" {
		t.Errorf("UserOf = %q", u)
	}
	if c, u := r.Stats(); c != 1 || u != 1 {
		t.Errorf("Stats = %d conns, %d users", c, u)
	}
}

func TestRegistry_Concurrent(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := fmt.Sprintf("c%d", i)
			user := fmt.Sprintf("u%d", i%5)
			r.Add(conn, user)
			r.Join(user, "room")
			_ = r.RoomConnections("room")
			r.Remove(conn)
		}(i)
	}
	wg.Wait()
	if c, _ := r.Stats(); c != 0 {
		t.Errorf("expected no connections, got %d", c)
	}
}
