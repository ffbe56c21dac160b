package web

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rock-drivers/drivers-mb500/internal/gnss"
	"github.com/rock-drivers/drivers-mb500/internal/mb500"
)

func testFix() gnss.Fix {
	ts := time.Date(2021, 3, 14, 10, 10, 10, 0, time.UTC)
	return gnss.Fix{
		Position: gnss.Position{Time: ts, Latitude: 48.1173, Longitude: 11.5167, Solution: gnss.RTKFixed, Satellites: 8},
		Errors:   gnss.Errors{Time: ts, DevLatitude: 0.01},
		Quality:  gnss.SolutionQuality{UsedSatellites: []int{4, 5, 66}},
		Satellites: gnss.SatelliteInfo{Satellites: []gnss.Satellite{
			{PRN: 4, SNR: 40}, {PRN: 66, SNR: 38},
		}},
	}
}

func TestAPIStatus(t *testing.T) {
	st := NewStatus()
	st.SetStatic("rover", "/dev/ttyUSB0", "MB,,S044")
	st.SetStats(mb500.Stats{Fixes: 7, Rejected: 1})
	st.AddCorrectionBytes(512)
	st.MarkFix(time.Time{}, testFix())

	ts := httptest.NewServer(Handler(st, nil, nil))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code=%d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type=%q", ct)
	}

	var snap StatusSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if snap.Service != "mb500d" || snap.Mode != "rover" || snap.Device != "/dev/ttyUSB0" {
		t.Fatalf("snap=%+v", snap)
	}
	if snap.Driver.Fixes != 7 || snap.Driver.Rejected != 1 || snap.CorrectionBytes != 512 {
		t.Fatalf("driver=%+v correction=%d", snap.Driver, snap.CorrectionBytes)
	}
	if snap.LastFixUTC == "" || snap.Solution != gnss.RTKFixed.String() {
		t.Fatalf("last_fix_utc=%q solution=%q", snap.LastFixUTC, snap.Solution)
	}
	if snap.Used.GPS != 2 || snap.Used.GLONASS != 1 || snap.Tracked.GLONASS != 1 {
		t.Fatalf("used=%+v tracked=%+v", snap.Used, snap.Tracked)
	}
}

func TestAPIFix(t *testing.T) {
	st := NewStatus()
	ts := httptest.NewServer(Handler(st, nil, nil))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/fix")
	if err != nil {
		t.Fatalf("get fix: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status code before fix=%d", resp.StatusCode)
	}

	st.MarkFix(time.Now().UTC(), testFix())
	resp, err = http.Get(ts.URL + "/api/fix")
	if err != nil {
		t.Fatalf("get fix: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code=%d", resp.StatusCode)
	}
	var fix gnss.Fix
	if err := json.NewDecoder(resp.Body).Decode(&fix); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if fix.Position.Latitude != 48.1173 || len(fix.Satellites.Satellites) != 2 {
		t.Fatalf("fix=%+v", fix)
	}
}

func TestAPIMethodNotAllowed(t *testing.T) {
	ts := httptest.NewServer(Handler(NewStatus(), nil, NewLogBuffer(10)))
	defer ts.Close()

	for _, p := range []string{"/api/status", "/api/fix", "/api/logs"} {
		resp, err := http.Post(ts.URL+p, "text/plain", strings.NewReader("x"))
		if err != nil {
			t.Fatalf("post %s: %v", p, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Fatalf("%s status code=%d", p, resp.StatusCode)
		}
		if allow := resp.Header.Get("Allow"); allow != http.MethodGet {
			t.Fatalf("%s allow=%q", p, allow)
		}
	}
}

func TestRootPage(t *testing.T) {
	ts := httptest.NewServer(Handler(NewStatus(), nil, nil))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("get root: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code=%d", resp.StatusCode)
	}

	resp2, err := http.Get(ts.URL + "/nope")
	if err != nil {
		t.Fatalf("get unknown: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown path status code=%d", resp2.StatusCode)
	}
}

func TestAPILogs(t *testing.T) {
	logs := NewLogBuffer(3)
	_, _ = logs.Write([]byte("one\ntwo\nthree\nfour\n"))

	ts := httptest.NewServer(Handler(NewStatus(), nil, logs))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/logs?tail=2")
	if err != nil {
		t.Fatalf("get logs: %v", err)
	}
	defer resp.Body.Close()
	var out LogsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if out.Dropped != 1 || len(out.Lines) != 2 || out.Lines[0] != "three" || out.Lines[1] != "four" {
		t.Fatalf("logs=%+v", out)
	}

	resp, err = http.Get(ts.URL + "/api/logs?format=text")
	if err != nil {
		t.Fatalf("get logs text: %v", err)
	}
	b, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if got, want := string(b), "[dropped=1]\ntwo\nthree\nfour\n"; got != want {
		t.Fatalf("text=%q want %q", got, want)
	}

	resp, err = http.Get(ts.URL + "/api/logs?tail=0")
	if err != nil {
		t.Fatalf("get logs: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("tail=0 status code=%d", resp.StatusCode)
	}
}

func TestLogBuffer_PartialLines(t *testing.T) {
	b := NewLogBuffer(10)
	_, _ = b.Write([]byte("mb500 command "))
	if lines, _ := b.Snapshot(0); len(lines) != 0 {
		t.Fatalf("partial line published: %v", lines)
	}
	_, _ = b.Write([]byte("rejected label=DYN\r\nnext"))
	lines, _ := b.Snapshot(0)
	if len(lines) != 1 || lines[0] != "mb500 command rejected label=DYN" {
		t.Fatalf("lines=%q", lines)
	}
}

func TestFixHub_SubscribeGetsLast(t *testing.T) {
	h := NewFixHub()
	h.Publish(testFix())

	id, ch := h.Subscribe(1)
	select {
	case fix := <-ch:
		if fix.Position.Latitude != 48.1173 {
			t.Fatalf("fix=%+v", fix)
		}
	default:
		t.Fatalf("no immediate sample")
	}
	if h.Subscribers() != 1 {
		t.Fatalf("subscribers=%d", h.Subscribers())
	}
	h.Unsubscribe(id)
	if _, ok := <-ch; ok {
		t.Fatalf("channel not closed")
	}
	if h.Subscribers() != 0 {
		t.Fatalf("subscribers=%d", h.Subscribers())
	}
}

func TestFixHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewFixHub()
	id, ch := h.Subscribe(1)
	defer h.Unsubscribe(id)

	for i := 0; i < 5; i++ {
		h.Publish(testFix())
	}
	if len(ch) != 1 {
		t.Fatalf("queued=%d want 1", len(ch))
	}
}

func TestFixHub_PublishCopies(t *testing.T) {
	h := NewFixHub()
	id, ch := h.Subscribe(1)
	defer h.Unsubscribe(id)

	fix := testFix()
	h.Publish(fix)
	fix.Satellites.Satellites[0].PRN = 99
	if got := <-ch; got.Satellites.Satellites[0].PRN != 4 {
		t.Fatalf("subscriber shares satellite storage")
	}
}

func TestWebsocketStreamsFixes(t *testing.T) {
	hub := NewFixHub()
	ts := httptest.NewServer(Handler(NewStatus(), hub, nil))
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("handler never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	hub.Publish(testFix())

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var fix gnss.Fix
	if err := conn.ReadJSON(&fix); err != nil {
		t.Fatalf("read: %v", err)
	}
	if fix.Position.Solution != gnss.RTKFixed {
		t.Fatalf("fix=%+v", fix)
	}

	_ = conn.Close()
	deadline = time.Now().Add(2 * time.Second)
	for hub.Subscribers() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("handler never unsubscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAPIAbout(t *testing.T) {
	st := NewStatus()
	st.SetStatic("base", "serial:///dev/ttyUSB0?baud=115200", "MB,,S044,,E0C0,,A")

	ts := httptest.NewServer(Handler(st, nil, nil))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/about")
	if err != nil {
		t.Fatalf("get about: %v", err)
	}
	defer resp.Body.Close()

	var a About
	if err := json.NewDecoder(resp.Body).Decode(&a); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if a.Service != "mb500d" || a.Mode != "base" || a.BoardID != "MB,,S044,,E0C0,,A" {
		t.Fatalf("about=%+v", a)
	}
	if a.GoVersion == "" || a.NowUTC == "" {
		t.Fatalf("about=%+v", a)
	}
}
