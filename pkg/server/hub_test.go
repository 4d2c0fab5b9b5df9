package server

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"qr-shutter-pi/pkg/camera"
)

func TestHubBroadcast(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	checkErr(t, err)
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.clientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.OnExposureRangeLoaded([]int{30, 60, 125}, 2)
	hub.OnFound("shelf 12")
	hub.OnNotice(camera.Notice{Severity: camera.SeverityFatal, Message: "camera open timed out"})

	var got []Message
	checkErr(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for len(got) < 3 {
		_, data, err := conn.ReadMessage()
		checkErr(t, err)
		var msg Message
		checkErr(t, json.Unmarshal(data, &msg))
		got = append(got, msg)
	}

	if got[0].Type != MessageExposureRange || len(got[0].Values) != 3 || got[0].DefaultIndex == nil || *got[0].DefaultIndex != 2 {
		t.Fatalf("range message %+v", got[0])
	}
	if got[1].Type != MessageFound || got[1].Text != "shelf 12" {
		t.Fatalf("found message %+v", got[1])
	}
	if got[2].Type != MessageNotice || got[2].Severity != camera.SeverityFatal.String() {
		t.Fatalf("notice message %+v", got[2])
	}

	conn.Close()
	deadline = time.Now().Add(2 * time.Second)
	for hub.clientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never unregistered")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubWithoutClients(t *testing.T) {
	hub := NewHub()
	hub.OnFound("a")
	hub.OnFound("b")

	text, at := hub.Found()
	if text != "b" || at.IsZero() {
		t.Fatalf("found %q at %s", text, at)
	}
	iso, exposure := hub.Ranges()
	if iso.DefaultIndex != -1 || exposure.Values != nil {
		t.Fatalf("ranges before load %+v %+v", iso, exposure)
	}

	for i := 0; i < 25; i++ {
		hub.OnNotice(camera.Notice{Severity: camera.SeverityDegraded, Message: "n"})
	}
	if n := len(hub.Notices()); n != 20 {
		t.Fatalf("kept %d notices", n)
	}
}
