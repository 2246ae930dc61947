package agent

import (
	"context"
	"testing"

	"docchat/internal/domain"
)

func TestConnect(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.orch.Connect(ctx, domain.ConnectRequest{ConnID: "c0"}); err == nil {
		t.Fatal("expected error without temp identity")
	}

	a, err := h.orch.Connect(ctx, domain.ConnectRequest{ConnID: "c1", TempID: "tmp-1"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := h.orch.Connect(ctx, domain.ConnectRequest{ConnID: "c2", TempID: "tmp-1"})
	if err != nil {
		t.Fatal(err)
	}
	if a.LogicalUserID == "" || a.LogicalUserID != b.LogicalUserID {
		t.Errorf("temp identity not reused: %q vs %q", a.LogicalUserID, b.LogicalUserID)
	}
	if a.ConnectionID != "c1" || a.TempIdentity != "tmp-1" {
		t.Errorf("connected = %+v", a)
	}

	k, err := h.orch.Connect(ctx, domain.ConnectRequest{ConnID: "c3", TempID: "tmp-9", UserID: "kratos-1", UserName: "Ada"})
	if err != nil {
		t.Fatal(err)
	}
	if k.LogicalUserID != "kratos-1" {
		t.Errorf("identified user = %q", k.LogicalUserID)
	}
	u, _ := h.store.GetUser(ctx, "kratos-1")
	if u == nil || u.IsTemp || u.Name != "Ada" {
		t.Errorf("stored user = %+v", u)
	}
}

func TestJoinAndLeaveRoom(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := h.join(t, "c1", "tmp-1", "r1")

	room, _ := h.store.GetRoom(ctx, "r1")
	if room == nil || room.OwnerID != userID || room.Name != "r1" {
		t.Fatalf("room = %+v", room)
	}

	res := h.orch.JoinRoom(ctx, "c1", domain.JoinRoomRequest{RoomID: "r2", RoomName: "Planning"})
	if !res.Success || res.RoomID != "r2" || res.UserID != userID || res.Message != "Joined room Planning" {
		t.Errorf("join = %+v", res)
	}

	if res := h.orch.JoinRoom(ctx, "ghost", domain.JoinRoomRequest{RoomID: "r1"}); res.Success || res.Error != "Unknown connection" {
		t.Errorf("ghost join = %+v", res)
	}
	if res := h.orch.JoinRoom(ctx, "c1", domain.JoinRoomRequest{}); res.Success {
		t.Errorf("empty room id accepted: %+v", res)
	}

	if res := h.orch.LeaveRoom(ctx, "c1", domain.LeaveRoomRequest{RoomID: "r1"}); !res.Success || res.RoomID != "r1" {
		t.Errorf("leave = %+v", res)
	}
	if res := h.orch.LeaveRoom(ctx, "c1", domain.LeaveRoomRequest{RoomID: "r1"}); res.Success {
		t.Errorf("second leave should fail: %+v", res)
	}
	res2 := h.orch.SendMessage(ctx, "c1", domain.SendMessageRequest{RoomID: "r1", Message: "hi"})
	if res2.Error != "You must join the room first" {
		t.Errorf("send after leave = %+v", res2)
	}
}

func TestJoinRoom_Private(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.join(t, "c1", "tmp-owner", "lobby")
	if res := h.orch.JoinRoom(ctx, "c1", domain.JoinRoomRequest{RoomID: "secret", RoomName: "Secret", IsPrivate: true}); !res.Success {
		t.Fatalf("create private room = %+v", res)
	}

	if _, err := h.orch.Connect(ctx, domain.ConnectRequest{ConnID: "c2", TempID: "tmp-other"}); err != nil {
		t.Fatal(err)
	}
	if res := h.orch.JoinRoom(ctx, "c2", domain.JoinRoomRequest{RoomID: "secret"}); res.Success || res.Error != "This room is private" {
		t.Errorf("stranger join = %+v", res)
	}
	if res := h.orch.JoinRoom(ctx, "c1", domain.JoinRoomRequest{RoomID: "secret"}); !res.Success {
		t.Errorf("owner join = %+v", res)
	}
	// A later isPrivate=false join does not reopen the room.
	if res := h.orch.JoinRoom(ctx, "c2", domain.JoinRoomRequest{RoomID: "secret", IsPrivate: false}); res.Success {
		t.Errorf("room reopened by a stranger: %+v", res)
	}
	if room, _ := h.store.GetRoom(ctx, "secret"); room == nil || !room.IsPrivate {
		t.Errorf("stored room = %+v", room)
	}
}

func TestDisconnect_NotifiesRoomsOnLastConnection(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.join(t, "c1", "tmp-leaver", "r1")
	if _, err := h.orch.Connect(ctx, domain.ConnectRequest{ConnID: "c2", TempID: "tmp-leaver"}); err != nil {
		t.Fatal(err)
	}

	h.orch.Disconnect(ctx, "c1")
	if got := h.bc.messages("r1"); len(got) != 0 {
		t.Fatalf("no notice while a connection remains, got %+v", got)
	}

	h.orch.Disconnect(ctx, "c2")
	got := h.bc.messages("r1")
	if len(got) != 1 || got[0].Message.Type != domain.MessageSystem || got[0].Message.Text != "Guest tmp-le left the chat" {
		t.Fatalf("notices = %+v", got)
	}
	if log := h.roomLog(t, "r1"); len(log) != 0 {
		t.Errorf("disconnect notices are not stored, got %+v", log)
	}

	h.orch.Disconnect(ctx, "c2")
	if len(h.bc.messages("r1")) != 1 {
		t.Error("unknown connection should be ignored")
	}
}
