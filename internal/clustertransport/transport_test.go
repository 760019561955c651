package clustertransport

import (
	"context"
	"net/http/httptest"
	"testing"
)

type fakeHandoffReceiver struct {
	key   string
	value []byte
}

func (f *fakeHandoffReceiver) PutLocal(key string, value []byte) {
	f.key, f.value = key, append([]byte(nil), value...)
}

type fakeSessionLookup struct {
	snapshots map[string][]byte
}

func (f *fakeSessionLookup) LocalSnapshot(id string) ([]byte, bool) {
	v, ok := f.snapshots[id]
	return v, ok
}

type fakeMembershipNotifier struct {
	nodeID string
	up     bool
	called bool
}

func (f *fakeMembershipNotifier) NotifyMembershipChange(nodeID string, up bool) {
	f.nodeID, f.up, f.called = nodeID, up, true
}

func TestServerClient_HandoffPush(t *testing.T) {
	recv := &fakeHandoffReceiver{}
	srv := &Server{NodeID: "n1", Handoff: recv, Sessions: &fakeSessionLookup{}, Members: &fakeMembershipNotifier{}}
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	client := NewClient("n1", ts.URL, 0)
	if err := client.Push(context.Background(), "session_a", []byte("payload")); err != nil {
		t.Fatalf("push: %v", err)
	}
	if recv.key != "session_a" || string(recv.value) != "payload" {
		t.Fatalf("server did not receive pushed value: %+v", recv)
	}
}

func TestServerClient_GetSession(t *testing.T) {
	lookup := &fakeSessionLookup{snapshots: map[string][]byte{"sess-1": []byte(`{"ok":true}`)}}
	srv := &Server{NodeID: "n1", Handoff: &fakeHandoffReceiver{}, Sessions: lookup, Members: &fakeMembershipNotifier{}}
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	client := NewClient("n1", ts.URL, 0)

	data, err := client.GetSession(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if string(data) != `{"ok":true}` {
		t.Fatalf("unexpected snapshot body: %s", data)
	}

	if _, err := client.GetSession(context.Background(), "missing"); err == nil {
		t.Fatalf("expected NotFound error for missing session")
	}
}

func TestServerClient_MembershipNotify(t *testing.T) {
	notifier := &fakeMembershipNotifier{}
	srv := &Server{NodeID: "n1", Handoff: &fakeHandoffReceiver{}, Sessions: &fakeSessionLookup{}, Members: notifier}
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	client := NewClient("n1", ts.URL, 0)
	if err := client.NotifyMembershipChange(context.Background(), "n2", true); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if !notifier.called || notifier.nodeID != "n2" || !notifier.up {
		t.Fatalf("server did not record membership notify: %+v", notifier)
	}
}

func TestTrimHTTPScheme(t *testing.T) {
	cases := map[string]string{
		"http://node-a:8080":  "://node-a:8080",
		"https://node-a:8080": "s://node-a:8080",
		"node-a:8080":         "://node-a:8080",
	}
	for in, want := range cases {
		if got := trimHTTPScheme(in); got != want {
			t.Fatalf("trimHTTPScheme(%q) = %q, want %q", in, got, want)
		}
	}
}
