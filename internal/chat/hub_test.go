package chat_test

import (
	"context"
	"reflect"
	"slices"
	"testing"
	"time"

	"github.com/omochice/room-socket-chat/internal/chat"
	"github.com/omochice/room-socket-chat/pkg/protocol"
)

func newTestHub(t *testing.T, codec protocol.Codec, opts ...chat.Option) *chat.Hub {
	t.Helper()
	reg := chat.NewRegistry()
	reg.Open(testRoom, time.Time{})
	return chat.NewHub(reg, codec, nil, opts...)
}

// join runs HandleClient for a mock connection that sends name first.
// The returned channel is closed when HandleClient returns.
func join(t *testing.T, hub *chat.Hub, name string) (*mockConn, <-chan struct{}) {
	t.Helper()
	conn := newMockConn("127.0.0.1:" + name)
	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.HandleClient(context.Background(), testRoom, conn)
	}()
	data, err := hub.Codec().EncodeRequest(protocol.Message{Type: protocol.MessageTypeJoin, Sender: name})
	if err != nil {
		t.Fatalf("EncodeRequest() error = %v", err)
	}
	conn.readCh <- data
	return conn, done
}

func say(t *testing.T, hub *chat.Hub, conn *mockConn, msg protocol.Message) {
	t.Helper()
	data, err := hub.Codec().EncodeRequest(msg)
	if err != nil {
		t.Fatalf("EncodeRequest() error = %v", err)
	}
	conn.readCh <- data
}

func text(body string) protocol.Message {
	return protocol.Message{Type: protocol.MessageTypeText, Content: body}
}

func frames(conn *mockConn) []string {
	var out []string
	for _, f := range conn.GetWritten() {
		out = append(out, string(f))
	}
	return out
}

func decoded(t *testing.T, codec protocol.Codec, conn *mockConn) []protocol.Message {
	t.Helper()
	var out []protocol.Message
	for _, f := range conn.GetWritten() {
		msg, err := codec.Decode(f)
		if err != nil {
			t.Fatalf("Decode(%q) error = %v", f, err)
		}
		out = append(out, msg)
	}
	return out
}

func hasFrame(conn *mockConn, want string) func() bool {
	return func() bool { return slices.Contains(frames(conn), want) }
}

func countFrame(conn *mockConn, want string) int {
	n := 0
	for _, f := range frames(conn) {
		if f == want {
			n++
		}
	}
	return n
}

func TestHub_AliceBobScenario(t *testing.T) {
	hub := newTestHub(t, protocol.Legacy{})
	reg := hub.Registry()

	alice, _ := join(t, hub, "alice")
	waitFor(t, "alice join notice", hasFrame(alice, "SERVER~alice joined the room"))
	if got, want := reg.Usernames(testRoom), []string{"alice"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Usernames() = %v, want %v", got, want)
	}

	bob, bobDone := join(t, hub, "bob")
	waitFor(t, "bob join notice at alice", hasFrame(alice, "SERVER~bob joined the room"))
	waitFor(t, "bob join notice at bob", hasFrame(bob, "SERVER~bob joined the room"))
	if got, want := reg.Usernames(testRoom), []string{"alice", "bob"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Usernames() = %v, want %v", got, want)
	}

	say(t, hub, alice, text("hi"))
	waitFor(t, "alice echo", hasFrame(alice, "alice~hi"))
	waitFor(t, "bob receives hi", hasFrame(bob, "alice~hi"))

	bob.Close()
	select {
	case <-bobDone:
	case <-time.After(2 * time.Second):
		t.Fatal("bob's handler did not return after disconnect")
	}
	if got, want := reg.Usernames(testRoom), []string{"alice"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Usernames() after disconnect = %v, want %v", got, want)
	}

	bobFrames := len(bob.GetWritten())
	say(t, hub, alice, text("still here"))
	waitFor(t, "alice second echo", hasFrame(alice, "alice~still here"))
	if got := len(bob.GetWritten()); got != bobFrames {
		t.Errorf("bob received %d frames after disconnect, want %d", got, bobFrames)
	}
}

func TestHub_EchoToSender_Tagged(t *testing.T) {
	codec := protocol.Tagged{}
	hub := newTestHub(t, codec)

	alice, _ := join(t, hub, "alice")
	bob, _ := join(t, hub, "bob")
	waitFor(t, "two members", func() bool { return hub.Registry().Members(testRoom) == 2 })

	say(t, hub, alice, text("hello"))

	want := protocol.Chat("alice", "hello")
	for name, conn := range map[string]*mockConn{"alice": alice, "bob": bob} {
		waitFor(t, name+" receives chat", func() bool {
			return slices.Contains(decoded(t, codec, conn), want)
		})
	}
}

func TestHub_ChatSenderIsRegistryName(t *testing.T) {
	codec := protocol.Tagged{}
	hub := newTestHub(t, codec)

	alice, _ := join(t, hub, "alice")
	waitFor(t, "alice joined", func() bool { return hub.Registry().Members(testRoom) == 1 })

	say(t, hub, alice, protocol.Message{Type: protocol.MessageTypeText, Sender: "mallory", Content: "hi"})

	waitFor(t, "chat relayed as alice", func() bool {
		return slices.Contains(decoded(t, codec, alice), protocol.Chat("alice", "hi"))
	})
}

func TestHub_Handshake_Rejected(t *testing.T) {
	tests := []struct {
		name  string
		codec protocol.Codec
		first []byte
	}{
		{"empty frame", protocol.Legacy{}, []byte{}},
		{"blank username", protocol.Legacy{}, []byte("   ")},
		{"delimiter in legacy username", protocol.Legacy{}, []byte("a~b")},
		{"reserved legacy username", protocol.Legacy{}, []byte("SERVER")},
		{"tagged frame that is not a join", protocol.Tagged{}, func() []byte {
			data, _ := protocol.Tagged{}.EncodeRequest(text("hi"))
			return data
		}()},
		{"garbage tagged frame", protocol.Tagged{}, []byte{0x12, 0x40}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := newTestHub(t, tt.codec)
			conn := newMockConn("127.0.0.1:1")
			conn.readCh <- tt.first

			done := make(chan struct{})
			go func() {
				defer close(done)
				hub.HandleClient(context.Background(), testRoom, conn)
			}()

			select {
			case <-done:
			case <-time.After(2 * time.Second):
				t.Fatal("HandleClient did not return")
			}
			if !conn.IsClosed() {
				t.Error("connection was not closed")
			}
			if got := hub.Registry().Members(testRoom); got != 0 {
				t.Errorf("Members() = %d, want 0", got)
			}
			if got := len(conn.GetWritten()); got != 0 {
				t.Errorf("rejected connection received %d frames", got)
			}
		})
	}
}

func TestHub_Handshake_ExpiredRoom(t *testing.T) {
	reg := chat.NewRegistry()
	reg.Open(testRoom, time.Now().Add(-time.Second))
	hub := chat.NewHub(reg, protocol.Legacy{}, nil)

	conn, done := join(t, hub, "late")
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("HandleClient did not return")
	}

	if got, want := frames(conn), []string{"SERVER~room has expired"}; !reflect.DeepEqual(got, want) {
		t.Errorf("frames = %v, want %v", got, want)
	}
	if !conn.IsClosed() {
		t.Error("connection was not closed")
	}
	if got := reg.Members(testRoom); got != 0 {
		t.Errorf("Members() = %d, want 0", got)
	}
}

func TestHub_Rename(t *testing.T) {
	hub := newTestHub(t, protocol.Legacy{})

	alice, _ := join(t, hub, "alice")
	bob, _ := join(t, hub, "bob")
	waitFor(t, "bob join notice at alice", hasFrame(alice, "SERVER~bob joined the room"))

	before := hub.Registry().Snapshot(testRoom)

	say(t, hub, bob, protocol.Message{Type: protocol.MessageTypeRename, Content: "robert"})
	waitFor(t, "rename at alice", hasFrame(alice, "USERNAME_UPDATE~bob~robert"))
	waitFor(t, "rename at bob", hasFrame(bob, "USERNAME_UPDATE~bob~robert"))

	say(t, hub, bob, text("hey"))
	waitFor(t, "chat under new name", hasFrame(alice, "robert~hey"))

	for name, conn := range map[string]*mockConn{"alice": alice, "bob": bob} {
		if n := countFrame(conn, "USERNAME_UPDATE~bob~robert"); n != 1 {
			t.Errorf("%s received %d rename notices, want 1", name, n)
		}
	}

	after := hub.Registry().Snapshot(testRoom)
	if len(after) != len(before) {
		t.Fatalf("member count changed from %d to %d", len(before), len(after))
	}
	for _, c := range after {
		if !slices.Contains(before, c) {
			t.Errorf("client %s is a new registry entry", c.Username())
		}
	}
	if got, want := hub.Registry().Usernames(testRoom), []string{"alice", "robert"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Usernames() = %v, want %v", got, want)
	}
}

func TestHub_Rename_Rejected(t *testing.T) {
	hub := newTestHub(t, protocol.Legacy{})

	alice, _ := join(t, hub, "alice")
	bob, _ := join(t, hub, "bob")
	waitFor(t, "bob join notice at alice", hasFrame(alice, "SERVER~bob joined the room"))

	say(t, hub, bob, protocol.Message{Type: protocol.MessageTypeRename, Content: "b~b"})
	say(t, hub, bob, text("marker"))
	waitFor(t, "marker at alice", hasFrame(alice, "bob~marker"))

	for _, f := range frames(alice) {
		if f != "SERVER~alice joined the room" && f != "SERVER~bob joined the room" && f != "bob~marker" {
			t.Errorf("alice received unexpected frame %q", f)
		}
	}
	waitFor(t, "private notice at bob", func() bool {
		for _, f := range frames(bob) {
			if len(f) > len("SERVER~invalid username") && f[:len("SERVER~invalid username")] == "SERVER~invalid username" {
				return true
			}
		}
		return false
	})
	if got, want := hub.Registry().Usernames(testRoom), []string{"alice", "bob"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Usernames() = %v, want %v", got, want)
	}
}

func TestHub_ChatBodyWithDelimiter(t *testing.T) {
	codec := protocol.Legacy{}
	hub := newTestHub(t, codec)

	alice, _ := join(t, hub, "alice")
	waitFor(t, "alice joined", func() bool { return hub.Registry().Members(testRoom) == 1 })

	say(t, hub, alice, text("a~b~c"))
	waitFor(t, "verbatim relay", hasFrame(alice, "alice~a~b~c"))

	msgs := decoded(t, codec, alice)
	if !slices.Contains(msgs, protocol.Chat("alice", "a~b~c")) {
		t.Errorf("decoded frames %v do not contain the sent body", msgs)
	}
}

func TestHub_WriteFailureIsolation(t *testing.T) {
	hub := newTestHub(t, protocol.Legacy{})

	alice, _ := join(t, hub, "alice")
	bob, _ := join(t, hub, "bob")
	waitFor(t, "two members", func() bool { return hub.Registry().Members(testRoom) == 2 })

	carol := newMockConn("127.0.0.1:carol")
	carol.FailWrites()
	carolDone := make(chan struct{})
	go func() {
		defer close(carolDone)
		hub.HandleClient(context.Background(), testRoom, carol)
	}()
	carol.readCh <- []byte("carol")

	select {
	case <-carolDone:
	case <-time.After(2 * time.Second):
		t.Fatal("carol's handler did not return after write failure")
	}
	waitFor(t, "carol join notice at bob", hasFrame(bob, "SERVER~carol joined the room"))

	say(t, hub, alice, text("hi"))
	waitFor(t, "alice echo", hasFrame(alice, "alice~hi"))
	waitFor(t, "bob receives hi", hasFrame(bob, "alice~hi"))

	if !carol.IsClosed() {
		t.Error("carol's connection was not closed")
	}
	if got, want := hub.Registry().Usernames(testRoom), []string{"alice", "bob"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Usernames() = %v, want %v", got, want)
	}
}

func TestHub_Broadcast_FailedRecipientIsolated(t *testing.T) {
	hub := newTestHub(t, protocol.Legacy{})
	reg := hub.Registry()

	healthy := chat.NewClient(newMockConn("127.0.0.1:1"), "healthy", 10)
	tiny := chat.NewClient(newMockConn("127.0.0.1:2"), "tiny", 1)
	closed := chat.NewClient(newMockConn("127.0.0.1:3"), "closed", 10)
	for _, c := range []*chat.Client{healthy, tiny, closed} {
		if err := reg.Add(testRoom, c); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
	}
	closed.Close()

	if got := hub.Broadcast(testRoom, protocol.Notice("one")); got != 2 {
		t.Errorf("first Broadcast() = %d, want 2", got)
	}
	if got := hub.Broadcast(testRoom, protocol.Notice("two")); got != 1 {
		t.Errorf("second Broadcast() = %d, want 1", got)
	}

	if got, want := reg.Usernames(testRoom), []string{"healthy"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Usernames() = %v, want %v", got, want)
	}
	if !tiny.Closed() {
		t.Error("client with a full queue was not closed")
	}
}

func TestHub_RateLimit(t *testing.T) {
	hub := newTestHub(t, protocol.Legacy{}, chat.WithRateLimit(1, time.Hour))

	alice, _ := join(t, hub, "alice")
	waitFor(t, "alice joined", func() bool { return hub.Registry().Members(testRoom) == 1 })

	say(t, hub, alice, text("one"))
	say(t, hub, alice, text("two"))
	waitFor(t, "first message", hasFrame(alice, "alice~one"))
	time.Sleep(100 * time.Millisecond)

	if countFrame(alice, "alice~two") != 0 {
		t.Error("message over the rate limit was relayed")
	}
	if got := hub.Registry().Members(testRoom); got != 1 {
		t.Errorf("Members() = %d, want 1", got)
	}
}

func TestHub_CloseRoom(t *testing.T) {
	hub := newTestHub(t, protocol.Legacy{})

	alice, aliceDone := join(t, hub, "alice")
	bob, bobDone := join(t, hub, "bob")
	waitFor(t, "two members", func() bool { return hub.Registry().Members(testRoom) == 2 })

	if got := hub.CloseRoom(testRoom); got != 2 {
		t.Errorf("CloseRoom() = %d, want 2", got)
	}
	for _, done := range []<-chan struct{}{aliceDone, bobDone} {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("handler did not return after CloseRoom")
		}
	}
	if !alice.IsClosed() || !bob.IsClosed() {
		t.Error("member connections were not closed")
	}
}
