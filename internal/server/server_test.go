package server

import (
	"bytes"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/xtxerr/pick9/internal/errors"
	"github.com/xtxerr/pick9/internal/storage"
	"github.com/xtxerr/pick9/internal/storage/parquet"
	"github.com/xtxerr/pick9/internal/storage/snapshot"
	"github.com/xtxerr/pick9/internal/storage/types"
	testutil "github.com/xtxerr/pick9/internal/testing"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T, mutate func(*Config)) (*Server, *storage.Store) {
	t.Helper()

	store, err := storage.Open(storage.DefaultOptions(testutil.SnapshotPath(t)))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := &Config{Store: store, DrainTimeout: time.Second}
	if mutate != nil {
		mutate(cfg)
	}
	return New(cfg), store
}

func encodeBatch(t *testing.T, trials uint64) []byte {
	t.Helper()
	data, err := snapshot.Encode(testutil.TrialBatch(t, trials))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return data
}

// nativeBatch builds a batch document with JSON integers, the way the
// simulators emit it.
func nativeBatch(t *testing.T, trialCells map[int]uint64) []byte {
	t.Helper()
	doc := make(map[string][]uint64)
	for _, spec := range types.DefaultSchema().Tables {
		doc[spec.Name] = make([]uint64, spec.Size)
	}
	for i, v := range trialCells {
		doc[types.TableDividedBy9Count][i] = v
	}
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	return data
}

func do(h http.Handler, method, path string, body []byte) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) APIError {
	t.Helper()
	var env ErrorEnvelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode error envelope %q: %v", w.Body.String(), err)
	}
	return env.Error
}

func TestIngest_Accepts(t *testing.T) {
	s, store := newTestServer(t, nil)

	w := do(s.Handler(), http.MethodPost, "/", nativeBatch(t, map[int]uint64{0: 3, 1: 1}))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp TotalResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != "4" {
		t.Errorf("expected total 4, got %q", resp.Total)
	}

	w = do(s.Handler(), http.MethodPost, "/api/v1/batches", encodeBatch(t, 6))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if store.Total().Int64() != 10 {
		t.Errorf("expected 10 trials, got %s", store.Total())
	}
}

func TestIngest_RequestID(t *testing.T) {
	s, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(encodeBatch(t, 1)))
	req.Header.Set(RequestIDHeader, "worker-7-batch-42")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if got := w.Header().Get(RequestIDHeader); got != "worker-7-batch-42" {
		t.Errorf("request id not echoed, got %q", got)
	}

	w = do(s.Handler(), http.MethodGet, "/healthz", nil)
	if w.Header().Get(RequestIDHeader) == "" {
		t.Error("expected a generated request id")
	}
}

func TestIngest_Rejects(t *testing.T) {
	schema := types.DefaultSchema()
	short := make(map[string][]int)
	for _, spec := range schema.Tables {
		short[spec.Name] = make([]int, spec.Size)
	}
	short[types.TableModBy9] = make([]int, 8)
	shortBody, _ := json.Marshal(short)

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"not json", `{"three_digit_number":`, http.StatusBadRequest, errors.CodeInvalidBatch},
		{"empty body", ``, http.StatusBadRequest, errors.CodeInvalidBatch},
		{"wrong length", string(shortBody), http.StatusBadRequest, errors.CodeShapeMismatch},
		{"missing tables", `{"mod_by_9":[0,0,0,0,0,0,0,0,0]}`, http.StatusBadRequest, errors.CodeShapeMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, store := newTestServer(t, nil)

			w := do(s.Handler(), http.MethodPost, "/", []byte(tt.body))
			if w.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
			if got := decodeError(t, w).Code; got != tt.code {
				t.Errorf("expected code %q, got %q", tt.code, got)
			}
			if store.Total().Sign() != 0 {
				t.Error("rejected batch must not change the total")
			}
			if store.Stats().Ingest.BatchesRejected != 1 {
				t.Errorf("expected one rejection, got %d", store.Stats().Ingest.BatchesRejected)
			}
		})
	}
}

func TestIngest_TooLarge(t *testing.T) {
	s, store := newTestServer(t, func(c *Config) { c.MaxBodyBytes = 64 })

	w := do(s.Handler(), http.MethodPost, "/", encodeBatch(t, 1))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d: %s", w.Code, w.Body.String())
	}
	if store.Total().Sign() != 0 {
		t.Error("oversized batch must not be merged")
	}
}

func TestIngest_Busy(t *testing.T) {
	s, _ := newTestServer(t, func(c *Config) { c.MaxInFlight = 1 })

	if !s.inFlight.TryAcquire(1) {
		t.Fatal("could not take the only slot")
	}
	w := do(s.Handler(), http.MethodPost, "/", encodeBatch(t, 1))
	s.inFlight.Release(1)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	if decodeError(t, w).Code != errors.CodeBusy {
		t.Errorf("unexpected body %s", w.Body.String())
	}

	w = do(s.Handler(), http.MethodPost, "/", encodeBatch(t, 1))
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 once the slot is free, got %d", w.Code)
	}
}

func TestIngest_PersistenceFailureIs500(t *testing.T) {
	s, store := newTestServer(t, nil)

	if err := os.RemoveAll(filepath.Dir(store.Path())); err != nil {
		t.Fatalf("RemoveAll: %v", err)
	}

	w := do(s.Handler(), http.MethodPost, "/", encodeBatch(t, 5))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d: %s", w.Code, w.Body.String())
	}
	if decodeError(t, w).Code != errors.CodePersistence {
		t.Errorf("unexpected body %s", w.Body.String())
	}
	if store.Total().Int64() != 5 {
		t.Errorf("merge must be kept, total is %s", store.Total())
	}
}

func TestIngest_ClosedStore(t *testing.T) {
	s, store := newTestServer(t, nil)
	store.Close()

	w := do(s.Handler(), http.MethodPost, "/", encodeBatch(t, 1))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}

	w = do(s.Handler(), http.MethodGet, "/healthz", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected unhealthy after close, got %d", w.Code)
	}
}

func TestReadEndpoints(t *testing.T) {
	s, _ := newTestServer(t, nil)
	h := s.Handler()

	for i := 0; i < 3; i++ {
		if w := do(h, http.MethodPost, "/", encodeBatch(t, 2)); w.Code != http.StatusOK {
			t.Fatalf("ingest: %d", w.Code)
		}
	}

	t.Run("total", func(t *testing.T) {
		w := do(h, http.MethodGet, "/api/v1/total", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		var resp TotalResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.Total != "6" || resp.Seq != 3 {
			t.Errorf("unexpected response %+v", resp)
		}
	})

	t.Run("snapshot", func(t *testing.T) {
		w := do(h, http.MethodGet, "/api/v1/snapshot", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		if w.Header().Get(SeqHeader) != "3" {
			t.Errorf("expected seq header 3, got %q", w.Header().Get(SeqHeader))
		}
		c, err := snapshot.Decode(types.DefaultSchema(), w.Body.Bytes())
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if c.GrandTotal().Int64() != 6 {
			t.Errorf("expected 6 trials, got %s", c.GrandTotal())
		}
	})

	t.Run("stats", func(t *testing.T) {
		w := do(h, http.MethodGet, "/api/v1/stats", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		var stats storage.Stats
		if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if stats.Seq != 3 || stats.Total != "6" || stats.Ingest.BatchesAccepted != 3 {
			t.Errorf("unexpected stats %+v", stats)
		}
	})

	t.Run("export", func(t *testing.T) {
		w := do(h, http.MethodGet, "/api/v1/export?compression=snappy", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}
		if !strings.Contains(w.Header().Get("Content-Disposition"), "pick9-3.parquet") {
			t.Errorf("unexpected disposition %q", w.Header().Get("Content-Disposition"))
		}

		r := parquet.NewReaderAt(bytes.NewReader(w.Body.Bytes()))
		defer r.Close()
		rows, err := r.ReadAll()
		if err != nil {
			t.Fatalf("ReadAll: %v", err)
		}
		c, err := parquet.ToCounterSet(types.DefaultSchema(), rows)
		if err != nil {
			t.Fatalf("ToCounterSet: %v", err)
		}
		if c.GrandTotal().Int64() != 6 {
			t.Errorf("expected 6 trials, got %s", c.GrandTotal())
		}
	})

	t.Run("export bad compression", func(t *testing.T) {
		w := do(h, http.MethodGet, "/api/v1/export?compression=rar", nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", w.Code)
		}
	})

	t.Run("health", func(t *testing.T) {
		w := do(h, http.MethodGet, "/healthz", nil)
		if w.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", w.Code)
		}
	})
}

func TestFeed(t *testing.T) {
	s, store := newTestServer(t, nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	if _, err := store.Add(t.Context(), testutil.TrialBatch(t, 2)); err != nil {
		t.Fatalf("Add: %v", err)
	}

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	read := func() FeedMessage {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var msg FeedMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("ReadJSON: %v", err)
		}
		return msg
	}

	if msg := read(); msg.Seq != 1 || msg.Total != "2" {
		t.Errorf("unexpected initial message %+v", msg)
	}

	if _, err := store.Add(t.Context(), testutil.TrialBatch(t, 5)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if msg := read(); msg.Seq != 2 || msg.Total != "7" {
		t.Errorf("unexpected update %+v", msg)
	}

	store.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("expected going-away close, got %v", err)
	}
}

func TestServeAndShutdown(t *testing.T) {
	s, _ := newTestServer(t, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	served := make(chan error, 1)
	go func() { served <- s.Serve(ln) }()

	if err := testutil.Eventually(time.Second, 5*time.Millisecond, func() bool {
		return s.Addr() != nil
	}); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Post(fmt.Sprintf("http://%s/", s.Addr()), "application/json",
		bytes.NewReader(encodeBatch(t, 3)))
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}

	if err := s.Shutdown(); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
	select {
	case err := <-served:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after Shutdown")
	}

	w := do(s.Handler(), http.MethodGet, "/healthz", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 while draining, got %d", w.Code)
	}
}
