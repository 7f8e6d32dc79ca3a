package api_test

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/micro-nova/audioroute/internal/api"
	"github.com/micro-nova/audioroute/internal/auth"
	"github.com/micro-nova/audioroute/internal/catalog"
	"github.com/micro-nova/audioroute/internal/events"
	"github.com/micro-nova/audioroute/internal/hardware"
	"github.com/micro-nova/audioroute/internal/metrics"
	"github.com/micro-nova/audioroute/internal/models"
	"github.com/micro-nova/audioroute/internal/router"
)

type testServer struct {
	*httptest.Server
	gw *hardware.Mock
}

// newTestServer spins up a full router over the reference catalog and a mock
// gateway.
func newTestServer(t *testing.T, guards ...func(http.Handler) http.Handler) *testServer {
	t.Helper()

	gw := hardware.NewMock()
	bus := events.NewBus()
	m := metrics.New()
	eng := router.New(catalog.MustBuiltin("reference"), gw, router.WithBus(bus), router.WithMetrics(m))

	srv := httptest.NewServer(api.NewRouter(eng, bus, m.Handler(), guards...))
	t.Cleanup(func() {
		srv.Close()
		_ = eng.Shutdown(context.Background())
	})
	return &testServer{Server: srv, gw: gw}
}

// do is a convenience helper for making requests to the test server.
func do(t *testing.T, srv *testServer, method, path, body string) *http.Response {
	t.Helper()
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, srv.URL+path, bodyReader)
	if err != nil {
		t.Fatalf("NewRequest %s %s: %v", method, path, err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("Do %s %s: %v", method, path, err)
	}
	return resp
}

// decodeJSON reads and decodes a JSON response body into v.
func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
}

// requireStatus fails the test if the response status doesn't match.
func requireStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d; body: %s", resp.StatusCode, expected, body)
	}
}

// requireError checks the status and error code of a failed request.
func requireError(t *testing.T, resp *http.Response, status int, code string) {
	t.Helper()
	requireStatus(t, resp, status)
	var body models.AppError
	decodeJSON(t, resp, &body)
	if body.Code != code {
		t.Errorf("error code = %q, want %q (%s)", body.Code, code, body.Message)
	}
}

// startSession posts a descriptor and returns the created session.
func startSession(t *testing.T, srv *testServer, body string) models.SessionInfo {
	t.Helper()
	resp := do(t, srv, "POST", "/api/sessions", body)
	requireStatus(t, resp, http.StatusCreated)
	var info models.SessionInfo
	decodeJSON(t, resp, &info)
	return info
}

func sessionPath(id uint64, suffix string) string {
	return fmt.Sprintf("/api/sessions/%d%s", id, suffix)
}

func refCount(snap models.Snapshot, route models.RouteID) int {
	for _, d := range snap.Devices {
		if d.Route == route {
			return d.Count
		}
	}
	return 0
}

// --- Tests ---

func TestGetSnapshot(t *testing.T) {
	srv := newTestServer(t)

	resp := do(t, srv, "GET", "/api", "")
	requireStatus(t, resp, http.StatusOK)

	var snap models.Snapshot
	decodeJSON(t, resp, &snap)
	if snap.Variant != "reference" {
		t.Errorf("variant = %q, want reference", snap.Variant)
	}
	if snap.Mode != models.ModeIdle {
		t.Errorf("mode = %s, want idle", snap.Mode)
	}
	if len(snap.Sessions) != 0 {
		t.Errorf("sessions = %d, want 0", len(snap.Sessions))
	}
}

func TestGetSnapshotTrailingSlash(t *testing.T) {
	srv := newTestServer(t)

	resp := do(t, srv, "GET", "/api/", "")
	requireStatus(t, resp, http.StatusOK)
	resp.Body.Close()
}

func TestStartAndStopSession(t *testing.T) {
	srv := newTestServer(t)

	info := startSession(t, srv, `{"usecase":"music","kind":"playback","out_devices":"speaker"}`)
	if info.Routes.Out != catalog.Speaker {
		t.Errorf("route = %q, want %q", info.Routes.Out, catalog.Speaker)
	}
	if info.State != models.SessionRouted {
		t.Errorf("state = %q, want routed", info.State)
	}
	if !srv.gw.IsEnabled(catalog.Speaker) {
		t.Error("speaker route not enabled on the gateway")
	}

	resp := do(t, srv, "GET", sessionPath(info.ID, ""), "")
	requireStatus(t, resp, http.StatusOK)
	var got models.SessionInfo
	decodeJSON(t, resp, &got)
	if got.Usecase != "music" {
		t.Errorf("usecase = %q, want music", got.Usecase)
	}

	resp = do(t, srv, "GET", "/api/sessions", "")
	requireStatus(t, resp, http.StatusOK)
	var list struct {
		Sessions []models.SessionInfo `json:"sessions"`
	}
	decodeJSON(t, resp, &list)
	if len(list.Sessions) != 1 {
		t.Fatalf("sessions = %d, want 1", len(list.Sessions))
	}

	resp = do(t, srv, "DELETE", sessionPath(info.ID, ""), "")
	requireStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()
	if srv.gw.IsEnabled(catalog.Speaker) {
		t.Error("speaker route still enabled after stop")
	}

	resp = do(t, srv, "DELETE", sessionPath(info.ID, ""), "")
	requireError(t, resp, http.StatusNotFound, models.CodeNotFound)
}

func TestStartSession_Invalid(t *testing.T) {
	srv := newTestServer(t)

	cases := []string{
		`{not valid json`,
		`{"kind":"playback","out_devices":"speaker"}`,
		`{"usecase":"music","kind":"karaoke","out_devices":"speaker"}`,
		`{"usecase":"music","kind":"playback","out_devices":"in:builtin-mic"}`,
		`{"usecase":"music","kind":"playback","out_devices":"theremin"}`,
	}
	for _, body := range cases {
		resp := do(t, srv, "POST", "/api/sessions", body)
		requireError(t, resp, http.StatusBadRequest, models.CodeInvalidArgument)
	}

	resp := do(t, srv, "GET", "/api", "")
	var snap models.Snapshot
	decodeJSON(t, resp, &snap)
	if len(snap.Sessions) != 0 || len(snap.Devices) != 0 {
		t.Errorf("rejected requests mutated state: %+v", snap)
	}
}

func TestStartSession_RouteFailureKeepsSession(t *testing.T) {
	srv := newTestServer(t)
	srv.gw.SetFailEnable(catalog.Speaker, true)

	resp := do(t, srv, "POST", "/api/sessions", `{"usecase":"music","kind":"playback","out_devices":"speaker"}`)
	loc := resp.Header.Get("Location")
	requireError(t, resp, http.StatusBadGateway, models.CodeIO)
	if !strings.HasPrefix(loc, "/api/sessions/") {
		t.Fatalf("Location = %q, want the registered session", loc)
	}

	resp = do(t, srv, "GET", loc, "")
	requireStatus(t, resp, http.StatusOK)
	var info models.SessionInfo
	decodeJSON(t, resp, &info)
	if info.State != models.SessionNoRoute {
		t.Errorf("state = %q, want no-route", info.State)
	}

	resp = do(t, srv, "DELETE", loc, "")
	requireStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()
}

func TestGetSession_Invalid(t *testing.T) {
	srv := newTestServer(t)

	resp := do(t, srv, "GET", "/api/sessions/abc", "")
	requireError(t, resp, http.StatusBadRequest, models.CodeInvalidArgument)

	resp = do(t, srv, "GET", "/api/sessions/12345", "")
	requireError(t, resp, http.StatusNotFound, models.CodeNotFound)
}

func TestRerouteSharesBackend(t *testing.T) {
	srv := newTestServer(t)

	music := startSession(t, srv, `{"usecase":"music","kind":"playback","out_devices":"speaker"}`)
	ring := startSession(t, srv, `{"usecase":"ring","kind":"playback","out_devices":"speaker"}`)

	resp := do(t, srv, "PATCH", sessionPath(ring.ID, "/route"), `{"devices":"earpiece"}`)
	requireStatus(t, resp, http.StatusOK)
	var info models.SessionInfo
	decodeJSON(t, resp, &info)
	if info.Routes.Out != catalog.Handset {
		t.Errorf("ring route = %q, want %q", info.Routes.Out, catalog.Handset)
	}

	resp = do(t, srv, "GET", sessionPath(music.ID, ""), "")
	decodeJSON(t, resp, &info)
	if info.Routes.Out != catalog.Handset {
		t.Errorf("music route = %q, want it to follow onto %q", info.Routes.Out, catalog.Handset)
	}

	resp = do(t, srv, "GET", "/api/invariants", "")
	requireStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = do(t, srv, "PATCH", sessionPath(ring.ID, "/route"), `{"devices":"in:builtin-mic"}`)
	requireError(t, resp, http.StatusBadRequest, models.CodeInvalidArgument)
}

func TestStreamConfigVolumeStandby(t *testing.T) {
	srv := newTestServer(t)
	info := startSession(t, srv, `{"usecase":"music","kind":"playback","out_devices":"speaker"}`)

	resp := do(t, srv, "PATCH", sessionPath(info.ID, "/config"), `{"format":"s24le","sample_rate":96000,"bit_width":24}`)
	requireStatus(t, resp, http.StatusOK)
	decodeJSON(t, resp, &info)
	if info.Config.SampleRate != 96000 {
		t.Errorf("sample rate = %d, want 96000", info.Config.SampleRate)
	}

	resp = do(t, srv, "PATCH", sessionPath(info.ID, "/volume"), `{"volume":0.5}`)
	requireStatus(t, resp, http.StatusOK)
	decodeJSON(t, resp, &info)
	if info.Volume != 0.5 {
		t.Errorf("volume = %v, want 0.5", info.Volume)
	}

	resp = do(t, srv, "PATCH", sessionPath(info.ID, "/volume"), `{"volume":1.5}`)
	requireError(t, resp, http.StatusBadRequest, models.CodeInvalidArgument)
	resp = do(t, srv, "PATCH", sessionPath(info.ID, "/volume"), `{}`)
	requireError(t, resp, http.StatusBadRequest, models.CodeInvalidArgument)

	resp = do(t, srv, "PATCH", sessionPath(info.ID, "/standby"), `{"standby":true}`)
	requireStatus(t, resp, http.StatusOK)
	decodeJSON(t, resp, &info)
	if !info.Standby {
		t.Error("standby not set")
	}
}

func TestOffloadCommands(t *testing.T) {
	srv := newTestServer(t)
	info := startSession(t, srv, `{"usecase":"offload-music","kind":"playback","out_devices":"speaker","offload":true}`)
	if !info.Offload {
		t.Fatal("session not offloaded")
	}

	for _, cmd := range []string{"pause", "resume", "drain"} {
		resp := do(t, srv, "POST", sessionPath(info.ID, "/offload/"+cmd), "")
		requireStatus(t, resp, http.StatusOK)
		resp.Body.Close()
	}

	resp := do(t, srv, "POST", sessionPath(info.ID, "/offload/rewind"), "")
	requireError(t, resp, http.StatusBadRequest, models.CodeInvalidArgument)

	plain := startSession(t, srv, `{"usecase":"music","kind":"playback","out_devices":"speaker"}`)
	resp = do(t, srv, "POST", sessionPath(plain.ID, "/offload/pause"), "")
	requireError(t, resp, http.StatusBadRequest, models.CodeInvalidArgument)
}

func TestSetMode(t *testing.T) {
	srv := newTestServer(t)
	startSession(t, srv, `{"usecase":"music","kind":"playback","out_devices":"speaker"}`)
	rec := startSession(t, srv, `{"usecase":"rec","kind":"capture","in_devices":"in:builtin-mic"}`)

	resp := do(t, srv, "PUT", "/api/mode", `{"mode":"communication"}`)
	requireStatus(t, resp, http.StatusOK)
	var snap models.Snapshot
	decodeJSON(t, resp, &snap)
	if snap.Mode != models.ModeCommunication {
		t.Errorf("mode = %s, want communication", snap.Mode)
	}
	for _, s := range snap.Sessions {
		if s.ID == rec.ID && s.Routes.In != catalog.SpeakerMicAEC {
			t.Errorf("capture route = %q, want %q", s.Routes.In, catalog.SpeakerMicAEC)
		}
	}

	resp = do(t, srv, "PUT", "/api/mode", `{"mode":"karaoke"}`)
	requireError(t, resp, http.StatusBadRequest, models.CodeInvalidArgument)
	resp = do(t, srv, "PUT", "/api/mode", `{}`)
	requireError(t, resp, http.StatusBadRequest, models.CodeInvalidArgument)
}

func TestCardHotplug(t *testing.T) {
	srv := newTestServer(t)

	resp := do(t, srv, "PUT", fmt.Sprintf("/api/cards/%d", catalog.USBCard), `{"online":true}`)
	requireStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	info := startSession(t, srv, `{"usecase":"music","kind":"playback","out_devices":"usb-headset"}`)
	if info.Routes.Out != catalog.USBHeadset {
		t.Fatalf("route = %q, want %q", info.Routes.Out, catalog.USBHeadset)
	}

	resp = do(t, srv, "PUT", fmt.Sprintf("/api/cards/%d", catalog.USBCard), `{"online":false}`)
	requireStatus(t, resp, http.StatusOK)
	var snap models.Snapshot
	decodeJSON(t, resp, &snap)
	if n := refCount(snap, catalog.Speaker); n != 1 {
		t.Errorf("speaker count = %d, want 1 after fallback", n)
	}
	if n := refCount(snap, catalog.USBHeadset); n != 0 {
		t.Errorf("usb count = %d, want 0", n)
	}

	resp = do(t, srv, "PUT", "/api/cards/x", `{"online":true}`)
	requireError(t, resp, http.StatusBadRequest, models.CodeInvalidArgument)
	resp = do(t, srv, "PUT", "/api/cards/-1", `{"online":true}`)
	requireError(t, resp, http.StatusBadRequest, models.CodeInvalidArgument)
}

func TestWirelessAndJack(t *testing.T) {
	srv := newTestServer(t)

	resp := do(t, srv, "PUT", "/api/wireless", `{"ready":true}`)
	requireStatus(t, resp, http.StatusOK)
	var snap models.Snapshot
	decodeJSON(t, resp, &snap)
	if !snap.Connectivity.WirelessReady {
		t.Error("wireless not ready in snapshot")
	}

	resp = do(t, srv, "PUT", "/api/jack", `{"present":true}`)
	requireStatus(t, resp, http.StatusOK)
	decodeJSON(t, resp, &snap)
	if !snap.Connectivity.JackPresent {
		t.Error("jack not present in snapshot")
	}

	resp = do(t, srv, "PUT", "/api/jack", `{"present":`)
	requireError(t, resp, http.StatusBadRequest, models.CodeInvalidArgument)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	startSession(t, srv, `{"usecase":"music","kind":"playback","out_devices":"speaker"}`)

	resp := do(t, srv, "GET", "/metrics", "")
	requireStatus(t, resp, http.StatusOK)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "audioroute_") {
		t.Errorf("metrics output lacks audioroute series:\n%s", body)
	}
}

func TestNotFound(t *testing.T) {
	srv := newTestServer(t)

	resp := do(t, srv, "GET", "/api/nonexistent", "")
	if resp.StatusCode != http.StatusNotFound {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want 404; body: %s", resp.StatusCode, body)
	}
	resp.Body.Close()
}

func TestCORSOptions(t *testing.T) {
	srv := newTestServer(t)

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("OPTIONS status = %d, want 204", resp.StatusCode)
	}
}

type sseFrame struct {
	event string
	id    string
	snap  models.Snapshot
}

// openSSE subscribes to the event stream and returns its parsed frames.
func openSSE(t *testing.T, srv *testServer, lastEventID string) <-chan sseFrame {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/subscribe", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}
	client := &http.Client{Transport: &http.Transport{DisableCompression: true}}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	frames := make(chan sseFrame, 4)
	go func() {
		defer close(frames)
		var f sseFrame
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				f.event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "id: "):
				f.id = strings.TrimPrefix(line, "id: ")
			case strings.HasPrefix(line, "data: "):
				if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &f.snap); err != nil {
					t.Errorf("SSE data is not a snapshot: %v", err)
					return
				}
			case line == "" && f.event != "":
				frames <- f
				f = sseFrame{}
			}
		}
	}()
	return frames
}

func nextFrame(t *testing.T, frames <-chan sseFrame) sseFrame {
	t.Helper()
	select {
	case f, ok := <-frames:
		if !ok {
			t.Fatal("SSE stream closed")
		}
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("no SSE frame")
	}
	return sseFrame{}
}

func TestSSESubscribe(t *testing.T) {
	srv := newTestServer(t)
	frames := openSSE(t, srv, "")

	first := nextFrame(t, frames)
	if first.event != "snapshot" {
		t.Errorf("first event = %q, want snapshot", first.event)
	}
	if first.id != strconv.FormatUint(first.snap.Passes, 10) {
		t.Errorf("first id = %q, want pass %d", first.id, first.snap.Passes)
	}
	if len(first.snap.Sessions) != 0 {
		t.Errorf("initial snapshot has %d sessions, want 0", len(first.snap.Sessions))
	}
	if first.snap.RealHardware {
		t.Error("mock gateway reported as real hardware")
	}

	startSession(t, srv, `{"usecase":"music","kind":"playback","out_devices":"speaker"}`)
	next := nextFrame(t, frames)
	if next.event != "pass" {
		t.Errorf("routing event = %q, want pass", next.event)
	}
	if len(next.snap.Sessions) != 1 {
		t.Errorf("published snapshot has %d sessions, want 1", len(next.snap.Sessions))
	}
	if next.snap.Passes <= first.snap.Passes || next.id != strconv.FormatUint(next.snap.Passes, 10) {
		t.Errorf("pass event id %q (passes %d) does not follow %d", next.id, next.snap.Passes, first.snap.Passes)
	}
}

func TestSSEResumeSkipsCurrentSnapshot(t *testing.T) {
	srv := newTestServer(t)
	frames := openSSE(t, srv, "0")

	startSession(t, srv, `{"usecase":"music","kind":"playback","out_devices":"speaker"}`)
	f := nextFrame(t, frames)
	if f.event != "pass" {
		t.Fatalf("first event after resume = %q, want pass", f.event)
	}
	if len(f.snap.Sessions) != 1 {
		t.Errorf("pass snapshot has %d sessions, want 1", len(f.snap.Sessions))
	}
}

func TestAccessControl(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.json")
	keys := `{"ui":{"role":"control","access_key":"ctl"},"dash":{"role":"observe","access_key":"obs"}}`
	if err := os.WriteFile(path, []byte(keys), 0o644); err != nil {
		t.Fatal(err)
	}
	authSvc, err := auth.NewService(path)
	if err != nil {
		t.Fatalf("auth.NewService: %v", err)
	}
	t.Cleanup(authSvc.Close)
	srv := newTestServer(t, authSvc.Middleware)

	body := `{"usecase":"music","kind":"playback","out_devices":"speaker"}`
	resp := do(t, srv, "GET", "/api", "")
	requireError(t, resp, http.StatusUnauthorized, models.CodeUnauthorized)
	resp = do(t, srv, "GET", "/api?api-key=obs", "")
	requireStatus(t, resp, http.StatusOK)
	resp.Body.Close()
	resp = do(t, srv, "POST", "/api/sessions?api-key=obs", body)
	requireError(t, resp, http.StatusForbidden, models.CodeForbidden)
	resp = do(t, srv, "POST", "/api/sessions?api-key=ctl", body)
	requireStatus(t, resp, http.StatusCreated)
	resp.Body.Close()

	// Metrics stay outside access control.
	resp = do(t, srv, "GET", "/metrics", "")
	requireStatus(t, resp, http.StatusOK)
	resp.Body.Close()
}
