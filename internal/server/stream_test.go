package server

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Luciana501/koli-admin-sub001/internal/auth"
	"github.com/Luciana501/koli-admin-sub001/internal/realtime"
)

func TestStreamEmitsLedgerEvents(t *testing.T) {
	server := newTestServer(t)
	admin := server.token(t, "ops", auth.RoleAdmin)
	member := server.token(t, "user-1", auth.RoleMember)

	expectStatus(t, server.do(t, http.MethodPost, "/admin/members", admin, map[string]string{"id": "user-1"}), http.StatusCreated)
	expectStatus(t, server.do(t, http.MethodPost, "/admin/rewards", admin, map[string]interface{}{
		"code": "LAUNCH", "pool": 100, "expires_at": "2026-10-19T09:00:00Z",
	}), http.StatusCreated)

	httpServer := httptest.NewServer(server.handler)
	t.Cleanup(httpServer.Close)

	streamResp, err := http.Get(httpServer.URL + "/admin/stream?access_token=" + admin)
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	t.Cleanup(func() {
		_ = streamResp.Body.Close()
	})
	if streamResp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected stream status: %d", streamResp.StatusCode)
	}
	if contentType := streamResp.Header.Get("Content-Type"); !strings.HasPrefix(contentType, "text/event-stream") {
		t.Fatalf("unexpected content type %q", contentType)
	}

	expectStatus(t, server.do(t, http.MethodPost, "/rewards/claim", member, map[string]interface{}{
		"reward_code": "LAUNCH", "amount": 5,
	}), http.StatusCreated)

	type readResult struct {
		line string
		err  error
	}
	reader := bufio.NewReader(streamResp.Body)
	currentEventType := ""
	deadline := time.After(5 * time.Second)
	for {
		resultCh := make(chan readResult, 1)
		go func() {
			line, err := reader.ReadString('\n')
			resultCh <- readResult{line: line, err: err}
		}()
		select {
		case <-deadline:
			t.Fatal("timed out waiting for reward-claimed event")
		case res := <-resultCh:
			if res.err != nil {
				t.Fatalf("failed to read stream: %v", res.err)
			}
			line := strings.TrimSpace(res.line)
			if strings.HasPrefix(line, "event:") {
				currentEventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
				continue
			}
			if !strings.HasPrefix(line, "data:") || currentEventType != realtime.EventRewardClaimed {
				continue
			}
			var payload streamEventPayload
			if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &payload); err != nil {
				t.Fatalf("failed to decode event payload: %v", err)
			}
			if len(payload.Subjects) != 2 || payload.Subjects[0] != "LAUNCH" || payload.Subjects[1] != "user-1" {
				t.Fatalf("unexpected subjects %v", payload.Subjects)
			}
			return
		}
	}
}

func TestStreamRequiresAdmin(t *testing.T) {
	server := newTestServer(t)
	member := server.token(t, "user-1", auth.RoleMember)
	expectStatus(t, server.do(t, http.MethodGet, "/admin/stream?access_token="+member, "", nil), http.StatusForbidden)
}
