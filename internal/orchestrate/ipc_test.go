package orchestrate

import (
	"net"
	"testing"
	"time"
)

func TestConnRoundTripsMessage(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	sc := NewConn(server)
	cc := NewConn(client)

	done := make(chan error, 1)
	go func() {
		done <- sc.WriteMessage(Message{Type: MsgPing, ID: "1", Payload: []byte(`{"x":1}`)})
	}()

	msg, err := cc.ReadMessage(2 * time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("write error: %v", err)
	}
	if msg.Type != MsgPing || msg.ID != "1" {
		t.Errorf("unexpected message: %+v", msg)
	}
}

func TestConnReadTimesOutWithNoData(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	cc := NewConn(client)
	_, err := cc.ReadMessage(50 * time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestReadTimeoutForPermissionResponseIsUnbounded(t *testing.T) {
	if readTimeoutFor(MsgPermissionResponse) != 0 {
		t.Error("expected zero (unbounded) timeout for PermissionResponse")
	}
	if readTimeoutFor(MsgStatus) != DefaultReadTimeout {
		t.Error("expected default timeout for other message types")
	}
}
