package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"huddle/internal/config"
	"huddle/internal/db"
	"huddle/internal/domain"
	"huddle/internal/draw"
	"huddle/internal/events"
	"huddle/internal/grouping"
	"huddle/internal/metrics"
	"huddle/internal/migrate"
	"huddle/internal/naming"
	"huddle/internal/repo"
	"huddle/internal/session"
)

type testServer struct {
	URL    string
	Repo   repo.Repo
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	m := metrics.New()
	g := grouping.New(naming.Offline{}, grouping.NewLabels("en"))
	g.Logger = quietLogger()
	g.OnFallback = m.ObserveFallback
	mgr := session.NewManager(session.Options{
		Grouping:  g,
		Events:    events.Writer{DB: conn},
		Metrics:   m,
		Scheduler: draw.InstantScheduler{},
		Ticks:     4,
		Logger:    quietLogger(),
	})
	r := repo.Repo{DB: conn}
	handler, err := New(Config{Sessions: mgr, Repo: r, Metrics: m, BasePath: "/v0", Logger: quietLogger()})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Repo:   r,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func createSession(t *testing.T, srv *testServer, names []string, allowRepeat bool) domain.SessionInfo {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/sessions", map[string]any{
		"names":        names,
		"allow_repeat": allowRepeat,
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create session status %d: %s", res.StatusCode, string(data))
	}
	var info domain.SessionInfo
	if err := json.Unmarshal(data, &info); err != nil {
		t.Fatalf("unmarshal session: %v", err)
	}
	return info
}

func decodeError(t *testing.T, data []byte) apiErrorBody {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return env.Error
}

func TestDrawUntilEmptyPool(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	info := createSession(t, srv, []string{"Ann", "Bo", "Ann"}, false)
	if info.PoolSize != 3 || len(info.Duplicates) != 1 {
		t.Fatalf("unexpected session: %+v", info)
	}

	winners := map[string]bool{}
	for i := 0; i < 3; i++ {
		res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/sessions/"+info.ID+"/draw", nil)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("draw status %d: %s", res.StatusCode, string(data))
		}
		var resp DrawResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			t.Fatalf("unmarshal draw: %v", err)
		}
		if winners[resp.Winner.ID] {
			t.Fatalf("participant %s drawn twice", resp.Winner.ID)
		}
		winners[resp.Winner.ID] = true
		if resp.PoolSize != 2-i || len(resp.History) != i+1 || resp.History[0] != resp.Winner {
			t.Fatalf("unexpected draw state: %+v", resp)
		}
	}

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/sessions/"+info.ID+"/draw", nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", res.StatusCode, string(data))
	}
	if apiErr := decodeError(t, data); apiErr.Code != "empty_pool" {
		t.Fatalf("unexpected error code %q", apiErr.Code)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/sessions/"+info.ID+"/reset", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("reset status %d: %s", res.StatusCode, string(data))
	}
	var reset domain.SessionInfo
	if err := json.Unmarshal(data, &reset); err != nil {
		t.Fatalf("unmarshal reset: %v", err)
	}
	if reset.PoolSize != 3 || len(reset.History) != 0 || reset.LastWinner != nil {
		t.Fatalf("reset did not restore pool: %+v", reset)
	}
}

func TestSettingsAndRoster(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	info := createSession(t, srv, []string{"Ann"}, false)

	res, data := doJSON(t, srv.Client(), http.MethodPatch, srv.URL+"/v0/sessions/"+info.ID+"/settings", map[string]any{})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty settings, got %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodPatch, srv.URL+"/v0/sessions/"+info.ID+"/settings", map[string]any{"allow_repeat": true})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("settings status %d: %s", res.StatusCode, string(data))
	}
	for i := 0; i < 3; i++ {
		res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/sessions/"+info.ID+"/draw", nil)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("repeat draw %d status %d: %s", i, res.StatusCode, string(data))
		}
	}

	res, data = doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v0/sessions/"+info.ID+"/roster", map[string]any{"names": []string{"Cy", "Di"}})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("roster status %d: %s", res.StatusCode, string(data))
	}
	var replaced domain.SessionInfo
	if err := json.Unmarshal(data, &replaced); err != nil {
		t.Fatalf("unmarshal roster: %v", err)
	}
	if replaced.PoolSize != 2 || len(replaced.History) != 0 || !replaced.AllowRepeat {
		t.Fatalf("unexpected roster state: %+v", replaced)
	}

	res, _ = doJSON(t, srv.Client(), http.MethodDelete, srv.URL+"/v0/sessions/"+info.ID, nil)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status %d", res.StatusCode)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/sessions/"+info.ID, nil)
	if res.StatusCode != http.StatusNotFound || decodeError(t, data).Code != "not_found" {
		t.Fatalf("expected not_found, got %d: %s", res.StatusCode, string(data))
	}
}

type sseMessage struct {
	Event string
	Data  string
}

func readSSE(t *testing.T, body io.Reader) []sseMessage {
	t.Helper()
	var out []sseMessage
	var cur sseMessage
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if cur.Data != "" {
				out = append(out, cur)
			}
			cur = sseMessage{}
		case strings.HasPrefix(line, "event:"):
			cur.Event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			cur.Data += strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
	if cur.Data != "" {
		out = append(out, cur)
	}
	return out
}

func TestSpinStream(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	info := createSession(t, srv, []string{"Ann", "Bo", "Cy"}, false)

	res, err := srv.Client().Post(srv.URL+"/v0/sessions/"+info.ID+"/draw/spin", "application/json", nil)
	if err != nil {
		t.Fatalf("spin: %v", err)
	}
	defer res.Body.Close()
	if ct := res.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("unexpected content type %q", ct)
	}
	msgs := readSSE(t, res.Body)
	if len(msgs) != 6 {
		t.Fatalf("expected 4 spinning frames, 1 settled frame and a winner, got %d: %+v", len(msgs), msgs)
	}
	for i, msg := range msgs[:4] {
		var f FrameEvent
		if err := json.Unmarshal([]byte(msg.Data), &f); err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if msg.Event != "frame" || f.Phase != "spinning" || f.Tick != i+1 {
			t.Fatalf("unexpected frame %d: %s %+v", i, msg.Event, f)
		}
	}
	var settled FrameEvent
	if err := json.Unmarshal([]byte(msgs[4].Data), &settled); err != nil || settled.Phase != "settled" {
		t.Fatalf("unexpected settled frame: %v %s", err, msgs[4].Data)
	}
	var winner WinnerEvent
	if err := json.Unmarshal([]byte(msgs[5].Data), &winner); err != nil {
		t.Fatalf("winner: %v", err)
	}
	if msgs[5].Event != "winner" || winner.Winner != settled.Candidate || winner.PoolSize != 2 {
		t.Fatalf("unexpected winner event: %+v", winner)
	}

	// draining the pool makes the next spin report empty_pool
	for i := 0; i < 2; i++ {
		doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/sessions/"+info.ID+"/draw", nil)
	}
	res2, err := srv.Client().Post(srv.URL+"/v0/sessions/"+info.ID+"/draw/spin", "application/json", nil)
	if err != nil {
		t.Fatalf("spin: %v", err)
	}
	defer res2.Body.Close()
	msgs = readSSE(t, res2.Body)
	if len(msgs) != 1 || msgs[0].Event != "error" || !strings.Contains(msgs[0].Data, "empty_pool") {
		t.Fatalf("expected empty_pool error event, got %+v", msgs)
	}
}

func TestGroupsIceBreakerAndCSV(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	info := createSession(t, srv, []string{"A", "B", "C", "D", "E"}, false)

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/sessions/"+info.ID+"/groups.csv", nil)
	if res.StatusCode != http.StatusNotFound || decodeError(t, data).Code != "no_groups" {
		t.Fatalf("expected no_groups, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/sessions/"+info.ID+"/groups", map[string]any{"size": 0})
	if res.StatusCode != http.StatusBadRequest || decodeError(t, data).Code != "invalid_group_size" {
		t.Fatalf("expected invalid_group_size, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/sessions/"+info.ID+"/groups", map[string]any{"size": 2})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("groups status %d: %s", res.StatusCode, string(data))
	}
	var groups GroupsResponse
	if err := json.Unmarshal(data, &groups); err != nil {
		t.Fatalf("unmarshal groups: %v", err)
	}
	if len(groups.Items) != 3 || len(groups.Items[2].Members) != 1 || groups.Items[0].Name != "Group 1" {
		t.Fatalf("unexpected groups: %+v", groups.Items)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/sessions/"+info.ID+"/groups/2/icebreaker", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("icebreaker status %d: %s", res.StatusCode, string(data))
	}
	var ice IceBreakerResponse
	if err := json.Unmarshal(data, &ice); err != nil {
		t.Fatalf("unmarshal icebreaker: %v", err)
	}
	if ice.GroupID != 2 || ice.Text != "Share a fun fact about yourself!" {
		t.Fatalf("unexpected icebreaker: %+v", ice)
	}
	res, _ = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/sessions/"+info.ID+"/groups/7/icebreaker", nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown group, got %d", res.StatusCode)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/sessions/"+info.ID+"/groups.csv", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("csv status %d: %s", res.StatusCode, string(data))
	}
	if !strings.Contains(res.Header.Get("Content-Disposition"), "HR_Grouping_Results.csv") {
		t.Fatalf("unexpected disposition %q", res.Header.Get("Content-Disposition"))
	}
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(rows) != 6 || rows[0][0] != "GroupName" || rows[0][1] != "MemberName" {
		t.Fatalf("unexpected csv rows: %v", rows)
	}
}

func TestEventsAndMetrics(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	info := createSession(t, srv, []string{"Ann", "Bo"}, false)
	doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/sessions/"+info.ID+"/draw", nil)
	doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/sessions/"+info.ID+"/groups", map[string]any{"size": 1})
	createSession(t, srv, []string{"Zed"}, false)

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/events?session_id="+info.ID+"&limit=2", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	var page paginatedEvents
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(page.Items) != 2 || page.Items[0].Type != events.GroupingCompleted || page.Items[1].Type != events.DrawCompleted {
		t.Fatalf("unexpected events page: %+v", page.Items)
	}
	if page.Items[1].Payload["name"] == nil || page.NextCursor == "" {
		t.Fatalf("expected payload and cursor: %+v", page)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/events?session_id="+info.ID+"&cursor="+page.NextCursor, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events page 2 status %d: %s", res.StatusCode, string(data))
	}
	page = paginatedEvents{}
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].Type != events.SessionCreated || page.NextCursor != "" {
		t.Fatalf("unexpected second page: %+v", page)
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/events?cursor=abc", nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad cursor, got %d", res.StatusCode)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/metrics", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("metrics status %d", res.StatusCode)
	}
	body := string(data)
	for _, want := range []string{`huddle_draws_total{mode="instant"} 1`, "huddle_groupings_total 1", `huddle_naming_fallbacks_total{op="team_names"} 1`} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q", want)
		}
	}
}

func TestOpenAPIAndHealth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), "ok") {
		t.Fatalf("health: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/openapi.json", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("openapi status %d", res.StatusCode)
	}
	var oas map[string]any
	if err := json.Unmarshal(data, &oas); err != nil {
		t.Fatalf("openapi json: %v", err)
	}
	paths, _ := oas["paths"].(map[string]any)
	for _, p := range []string{"/v0/sessions", "/v0/sessions/{id}/draw/spin", "/v0/sessions/{id}/groups.csv"} {
		if _, ok := paths[p]; !ok {
			t.Fatalf("openapi missing %s", p)
		}
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/docs", nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), "/v0/openapi.json") {
		t.Fatalf("docs: %d", res.StatusCode)
	}
}

func TestWebhookDelivery(t *testing.T) {
	var mu sync.Mutex
	var got []webhookEvent
	var headers []http.Header
	var bodies [][]byte
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var evt webhookEvent
		json.Unmarshal(body, &evt)
		mu.Lock()
		got = append(got, evt)
		bodies = append(bodies, body)
		headers = append(headers, r.Header.Clone())
		mu.Unlock()
	}))
	defer hook.Close()

	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	if err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	w := events.Writer{DB: conn}
	ctx := context.Background()
	// recorded before startup, never delivered
	if err := w.Record(ctx, events.SessionCreated, "s1", "session", "s1", "tester", nil); err != nil {
		t.Fatalf("record: %v", err)
	}

	old := webhookInterval
	webhookInterval = 10 * time.Millisecond
	defer func() { webhookInterval = old }()
	runCtx, cancel := context.WithCancel(ctx)
	done := StartWebhooks(runCtx, repo.Repo{DB: conn}, []config.WebhookConfig{
		{URL: hook.URL, Events: []string{events.DrawCompleted}, Secret: "s3cret"},
	}, quietLogger())

	if err := w.Record(ctx, events.DrawReset, "s1", "session", "s1", "tester", nil); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := w.Record(ctx, events.DrawCompleted, "s1", "participant", "p1", "tester", events.EventPayload{"name": "Ann"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("expected one delivery, got %+v", got)
	}
	if got[0].Type != events.DrawCompleted || got[0].SessionID != "s1" || !strings.Contains(string(got[0].Payload), "Ann") {
		t.Fatalf("unexpected delivery: %+v", got[0])
	}
	if headers[0].Get("X-Huddle-Event") != events.DrawCompleted {
		t.Fatalf("unexpected headers: %v", headers[0])
	}
	if sig := headers[0].Get("X-Huddle-Signature"); sig != "sha256="+signBody("s3cret", bodies[0]) {
		t.Fatalf("unexpected signature %q", sig)
	}
}

func TestEventMatcher(t *testing.T) {
	cases := []struct {
		patterns []string
		typ      string
		want     bool
	}{
		{nil, events.DrawReset, true},
		{[]string{"*"}, events.GroupingCompleted, true},
		{[]string{events.DrawCompleted}, events.DrawCompleted, true},
		{[]string{events.DrawCompleted}, events.DrawReset, false},
		{[]string{"draw.*"}, events.DrawReset, true},
		{[]string{"draw.*"}, events.SessionCreated, false},
		{[]string{" ", "grouping.completed"}, events.IceBreakerGenerated, false},
	}
	for _, tc := range cases {
		if got := newEventMatcher(tc.patterns).match(tc.typ); got != tc.want {
			t.Errorf("match(%v, %s) = %v, want %v", tc.patterns, tc.typ, got, tc.want)
		}
	}
}
