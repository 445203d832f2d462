package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/arenalive/arena/internal/core"
	"github.com/arenalive/arena/internal/gateway"
	"github.com/arenalive/arena/internal/orchestrator"
	"github.com/arenalive/arena/internal/storage"
)

type stubStream struct {
	ch   chan string
	err  error
	once sync.Once
}

func (s *stubStream) Fragments() <-chan string { return s.ch }
func (s *stubStream) Err() error               { return s.err }
func (s *stubStream) Close()                   { s.once.Do(func() { close(s.ch) }) }

// stubStreamer replies to every request with the same fragments.
type stubStreamer struct {
	fragments []string
	openErr   error
}

func (s *stubStreamer) Stream(context.Context, string, []core.Message) (gateway.TokenStream, error) {
	if s.openErr != nil {
		return nil, s.openErr
	}
	stream := &stubStream{ch: make(chan string, len(s.fragments))}
	for _, f := range s.fragments {
		stream.ch <- f
	}
	stream.once.Do(func() { close(stream.ch) })
	return stream, nil
}

func newTestHandler(t *testing.T, token string, streamer gateway.Streamer) (*Handler, storage.Storage, *httptest.Server) {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	if err := store.Initialize(); err != nil {
		t.Fatalf("failed to initialize storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if streamer == nil {
		streamer = &stubStreamer{openErr: errors.New("no gateway in this test")}
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	orch := orchestrator.New(store, streamer, nil, orchestrator.Config{
		Roster:            []string{"alpha", "beta"},
		MaxTurns:          4,
		FirstTokenTimeout: 100 * time.Millisecond,
		MaxSkippedTurns:   1,
	}, logger)

	h := New(store, orch, nil, streamer, Config{Token: token}, logger)
	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)
	t.Cleanup(orch.Wait)
	return h, store, srv
}

func seedDebate(t *testing.T, store storage.Storage, status core.DebateStatus) *core.Debate {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Millisecond)
	debate := &core.Debate{
		ID:             uuid.New().String(),
		Topic:          "Should weekends be three days?",
		Category:       "society",
		Roster:         []string{"alpha", "beta"},
		Status:         status,
		StartedAt:      now,
		LastActivityAt: now,
	}
	if status.Terminal() {
		debate.EndedAt = &now
		debate.Winner = "alpha"
		debate.WinningVotes = 2
		debate.TotalVotes = 2
	}
	if err := store.CreateDebate(debate); err != nil {
		t.Fatal(err)
	}
	return debate
}

func doJSON(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestCreateDebateRequiresToken(t *testing.T) {
	_, _, srv := newTestHandler(t, "secret", nil)
	body := map[string]string{"topic": "a topic", "category": "tech"}

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/debates", "", body)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status without token = %d, want 401", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/debates", "wrong", body)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status with bad token = %d, want 401", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/debates", "secret", body)
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("status with token = %d, want 201", resp.StatusCode)
	}

	var debate core.Debate
	if err := json.NewDecoder(resp.Body).Decode(&debate); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if debate.Topic != "a topic" || debate.Status != core.StatusRunning {
		t.Errorf("debate = %+v", debate)
	}
}

func TestCreateDebateValidation(t *testing.T) {
	_, _, srv := newTestHandler(t, "", nil)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/debates", "", map[string]string{"topic": "  "})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("blank topic status = %d, want 400", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/debates", "", map[string]any{
		"topic":  "a topic",
		"models": []string{"only-one"},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad roster status = %d, want 400", resp.StatusCode)
	}
}

func TestCreateDebateBlockedByFlags(t *testing.T) {
	_, store, srv := newTestHandler(t, "", nil)
	flags, _ := store.GetFlags()
	flags.EnableNewDebates = false
	if err := store.SetFlags(flags); err != nil {
		t.Fatal(err)
	}

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/debates", "", map[string]string{"topic": "a topic"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 with a blocked payload", resp.StatusCode)
	}
	var out struct {
		Blocked bool   `json:"blocked"`
		Reason  string `json:"reason"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if !out.Blocked || out.Reason == "" {
		t.Errorf("body = %+v, want blocked with a reason", out)
	}
}

func TestListAndGetDebate(t *testing.T) {
	_, store, srv := newTestHandler(t, "", nil)
	debate := seedDebate(t, store, core.StatusRunning)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/debates", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	var list struct {
		Debates []*core.Debate `json:"debates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list.Debates) != 1 || list.Debates[0].ID != debate.ID {
		t.Errorf("list = %+v", list.Debates)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/debates/"+debate.ID, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}
	var detail struct {
		Debate *core.Debate `json:"debate"`
		Turns  []*core.Turn `json:"turns"`
		Votes  []*core.Vote `json:"votes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&detail); err != nil {
		t.Fatal(err)
	}
	if detail.Debate.Topic != debate.Topic {
		t.Errorf("topic = %q", detail.Debate.Topic)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/debates/missing", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing debate status = %d, want 404", resp.StatusCode)
	}
}

func TestFlagsPatch(t *testing.T) {
	_, _, srv := newTestHandler(t, "secret", nil)

	resp := doJSON(t, http.MethodPatch, srv.URL+"/api/flags", "secret", map[string]bool{"paused": true})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch status = %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/flags", "", nil)
	var flags core.FlagSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&flags); err != nil {
		t.Fatal(err)
	}
	if !flags.Paused {
		t.Error("paused flag did not stick")
	}
	if !flags.EnableVoting {
		t.Error("untouched flags should keep their values")
	}

	resp = doJSON(t, http.MethodPatch, srv.URL+"/api/flags", "secret", map[string]bool{"bogus": true})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown flag status = %d, want 400", resp.StatusCode)
	}
}

func TestExportFormats(t *testing.T) {
	_, store, srv := newTestHandler(t, "", nil)
	debate := seedDebate(t, store, core.StatusEnded)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/debates/"+debate.ID+"/export?format=md", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("markdown export status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/markdown") {
		t.Errorf("content type = %q", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), debate.Topic) {
		t.Error("markdown export missing topic")
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/debates/"+debate.ID+"/export?format=pdf", "", nil)
	pdfBody, _ := io.ReadAll(resp.Body)
	if !bytes.HasPrefix(pdfBody, []byte("%PDF")) {
		t.Error("pdf export does not look like a PDF")
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/debates/"+debate.ID+"/export?format=docx", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad format status = %d, want 400", resp.StatusCode)
	}
}

func TestStreamEventsForEndedDebate(t *testing.T) {
	_, store, srv := newTestHandler(t, "", nil)
	debate := seedDebate(t, store, core.StatusEnded)

	now := time.Now().UTC()
	if err := store.CreateTurn(&core.Turn{
		ID:         uuid.New().String(),
		DebateID:   debate.ID,
		Speaker:    "alpha",
		TurnIndex:  1,
		Content:    "a finished point",
		StartedAt:  now,
		FinishedAt: &now,
	}); err != nil {
		t.Fatal(err)
	}

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/debates/"+debate.ID+"/events", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("events status = %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	out := string(body)
	if !strings.Contains(out, "event: turn") || !strings.Contains(out, "a finished point") {
		t.Errorf("events missing turn: %s", out)
	}
	if !strings.Contains(out, "event: done") {
		t.Errorf("events missing done: %s", out)
	}
}

func TestStreamEventsEmitsFinalizedTurn(t *testing.T) {
	_, store, srv := newTestHandler(t, "", nil)
	debate := seedDebate(t, store, core.StatusRunning)

	started := time.Now().UTC()
	turn := &core.Turn{
		ID:        uuid.New().String(),
		DebateID:  debate.ID,
		Speaker:   "alpha",
		TurnIndex: 1,
		Content:   "a complete point",
		StartedAt: started,
	}
	if err := store.CreateTurn(turn); err != nil {
		t.Fatal(err)
	}

	// Headers arrive after the first poll, which sees the in-flight turn.
	resp := doJSON(t, http.MethodGet, srv.URL+"/api/debates/"+debate.ID+"/events", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("events status = %d", resp.StatusCode)
	}

	// Finalize without growing the content, then end the debate. The
	// next poll must still deliver the finished event.
	now := time.Now().UTC()
	if err := store.FinishTurn(turn.ID, turn.Content, 3, now); err != nil {
		t.Fatal(err)
	}
	if err := store.SetDebateStatus(debate.ID, core.StatusEnded, "", &now); err != nil {
		t.Fatal(err)
	}

	body, _ := io.ReadAll(resp.Body)
	out := string(body)
	if !strings.Contains(out, `"finished":false`) {
		t.Errorf("events missing in-flight emit: %s", out)
	}
	if !strings.Contains(out, `"finished":true`) {
		t.Errorf("events missing finalized emit: %s", out)
	}
	if !strings.Contains(out, "event: done") {
		t.Errorf("events missing done: %s", out)
	}
}

func TestRelayStream(t *testing.T) {
	streamer := &stubStreamer{fragments: []string{"hello ", "world"}}
	_, _, srv := newTestHandler(t, "secret", streamer)

	body := map[string]any{
		"model":    "test/model",
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	}
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/stream", "secret", body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("relay status = %d", resp.StatusCode)
	}

	out, _ := io.ReadAll(resp.Body)
	s := string(out)
	if !strings.Contains(s, `{"content":"hello "}`) || !strings.Contains(s, `{"content":"world"}`) {
		t.Errorf("relay body missing fragments: %s", s)
	}
	if !strings.Contains(s, "data: [DONE]") {
		t.Errorf("relay body missing DONE: %s", s)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := newRateLimiter(2, time.Minute)
	if !rl.allow("1.2.3.4:1000") || !rl.allow("1.2.3.4:1001") {
		t.Fatal("first two requests should pass")
	}
	if rl.allow("1.2.3.4:1002") {
		t.Error("third request in the window should be limited")
	}
	if !rl.allow("5.6.7.8:1000") {
		t.Error("other clients have their own budget")
	}

	unlimited := newRateLimiter(0, time.Minute)
	for i := 0; i < 100; i++ {
		if !unlimited.allow("1.2.3.4:1") {
			t.Fatal("zero limit must disable limiting")
		}
	}
}
