package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/leadflow/leadflow/internal/models"
	"github.com/leadflow/leadflow/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.InMemoryStore) {
	t.Helper()
	st := store.NewInMemoryStore()
	return NewServer(st, st), st
}

func doRequest(t *testing.T, srv *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response envelope: %v (body: %s)", err, rr.Body.String())
	}
	return resp
}

func TestWebhookMessageHandlerEnqueuesJob(t *testing.T) {
	srv, st := newTestServer(t)

	body := []byte(`{"chat_id":"5511999990000","phone_number":"5511999990000","text":"Oi, quero saber mais","external_message_id":"wamid-1"}`)
	rr := doRequest(t, srv, http.MethodPost, "/webhook/message", body)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d (body: %s)", rr.Code, rr.Body.String())
	}
	resp := decodeEnvelope(t, rr)
	if resp.Status != string(models.APIStatusQueued) {
		t.Errorf("expected queued status, got %q", resp.Status)
	}

	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("expected result object, got %T", resp.Result)
	}
	jobID, _ := result["job_id"].(string)
	if jobID == "" {
		t.Fatal("expected job_id in response")
	}

	job, err := st.GetJob(jobID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if job == nil {
		t.Fatal("enqueued job not found in store")
	}
	if job.Kind != store.JobKindInboundMessage {
		t.Errorf("expected job kind %q, got %q", store.JobKindInboundMessage, job.Kind)
	}

	var msg models.InboundMessage
	if err := json.Unmarshal([]byte(job.PayloadJSON), &msg); err != nil {
		t.Fatalf("failed to decode job payload: %v", err)
	}
	if msg.ChatID != "5511999990000" || msg.Text != "Oi, quero saber mais" {
		t.Errorf("unexpected payload: %+v", msg)
	}
}

func TestWebhookMessageHandlerDeduplicatesRedelivery(t *testing.T) {
	srv, _ := newTestServer(t)

	body := []byte(`{"chat_id":"5511999990000","phone_number":"5511999990000","text":"oi","external_message_id":"wamid-dup"}`)
	first := doRequest(t, srv, http.MethodPost, "/webhook/message", body)
	second := doRequest(t, srv, http.MethodPost, "/webhook/message", body)
	if first.Code != http.StatusAccepted || second.Code != http.StatusAccepted {
		t.Fatalf("expected 202 on both deliveries, got %d and %d", first.Code, second.Code)
	}

	firstResult := decodeEnvelope(t, first).Result.(map[string]interface{})
	secondResult := decodeEnvelope(t, second).Result.(map[string]interface{})
	if firstResult["job_id"] != secondResult["job_id"] {
		t.Errorf("redelivery created a second job: %v vs %v", firstResult["job_id"], secondResult["job_id"])
	}
}

func TestWebhookMessageHandlerRejectsInvalidInput(t *testing.T) {
	srv, _ := newTestServer(t)

	cases := []struct {
		name string
		body string
	}{
		{"malformed JSON", `{not json`},
		{"missing chat id", `{"phone_number":"5511999990000","text":"oi"}`},
		{"empty body", `{"chat_id":"c1","phone_number":"5511999990000","text":""}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := doRequest(t, srv, http.MethodPost, "/webhook/message", []byte(tc.body))
			if rr.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", rr.Code)
			}
			if resp := decodeEnvelope(t, rr); resp.Status != string(models.APIStatusError) {
				t.Errorf("expected error status, got %q", resp.Status)
			}
		})
	}
}

func TestWebhookMessageHandlerMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := doRequest(t, srv, http.MethodGet, "/webhook/message", nil)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rr.Code)
	}
}

func TestConversationEndpoints(t *testing.T) {
	srv, st := newTestServer(t)

	conv, _, created, err := st.ResolveConversation("5511999990000", "5511999990000", "whatsapp")
	if err != nil {
		t.Fatalf("ResolveConversation failed: %v", err)
	}
	if !created {
		t.Fatal("expected conversation to be created")
	}
	for i, content := range []string{"oi", "quero emagrecer", "quanto custa?"} {
		turn := models.Turn{
			ID:             uuid.NewString(),
			ConversationID: conv.ID,
			Direction:      models.TurnDirectionInbound,
			Content:        content,
			CreatedAt:      time.Now().Add(time.Duration(i) * time.Second),
		}
		if err := st.AddTurn(turn); err != nil {
			t.Fatalf("AddTurn failed: %v", err)
		}
	}

	rr := doRequest(t, srv, http.MethodGet, "/conversations", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list conversations: expected 200, got %d", rr.Code)
	}
	listResult := decodeEnvelope(t, rr).Result.(map[string]interface{})
	if count := listResult["count"].(float64); count != 1 {
		t.Errorf("expected 1 conversation, got %v", count)
	}

	rr = doRequest(t, srv, http.MethodGet, "/conversations/"+conv.ID, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get conversation: expected 200, got %d", rr.Code)
	}

	rr = doRequest(t, srv, http.MethodGet, "/conversations/"+conv.ID+"/turns", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get turns: expected 200, got %d", rr.Code)
	}
	turnsResult := decodeEnvelope(t, rr).Result.(map[string]interface{})
	if count := turnsResult["count"].(float64); count != 3 {
		t.Errorf("expected 3 turns, got %v", count)
	}

	rr = doRequest(t, srv, http.MethodGet, "/conversations/"+conv.ID+"/turns?limit=2", nil)
	turnsResult = decodeEnvelope(t, rr).Result.(map[string]interface{})
	if count := turnsResult["count"].(float64); count != 2 {
		t.Errorf("expected 2 turns with limit=2, got %v", count)
	}

	rr = doRequest(t, srv, http.MethodGet, "/conversations/"+conv.ID+"/turns?limit=abc", nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad limit, got %d", rr.Code)
	}

	rr = doRequest(t, srv, http.MethodGet, "/conversations/does-not-exist", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown conversation, got %d", rr.Code)
	}
}

func TestLeadEndpoints(t *testing.T) {
	srv, st := newTestServer(t)

	_, lead, _, err := st.ResolveConversation("5511999990000", "5511999990000", "whatsapp")
	if err != nil {
		t.Fatalf("ResolveConversation failed: %v", err)
	}

	rr := doRequest(t, srv, http.MethodGet, "/leads", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list leads: expected 200, got %d", rr.Code)
	}
	listResult := decodeEnvelope(t, rr).Result.(map[string]interface{})
	if count := listResult["count"].(float64); count != 1 {
		t.Errorf("expected 1 lead, got %v", count)
	}

	rr = doRequest(t, srv, http.MethodGet, "/leads/"+lead.ID, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get lead: expected 200, got %d", rr.Code)
	}

	rr = doRequest(t, srv, http.MethodGet, "/leads/missing", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown lead, got %d", rr.Code)
	}
}

func TestHealthHandler(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := doRequest(t, srv, http.MethodGet, "/health", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var health map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &health); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	if health["status"] != "healthy" {
		t.Errorf("expected healthy status, got %v", health["status"])
	}
}

func TestExtraRouteMounted(t *testing.T) {
	st := store.NewInMemoryStore()
	called := false
	srv := NewServer(st, st, WithRoute("/webhook/twilio", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})))

	rr := doRequest(t, srv, http.MethodPost, "/webhook/twilio", []byte("From=whatsapp%3A%2B5511999990000"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 from mounted route, got %d", rr.Code)
	}
	if !called {
		t.Error("extra route handler was not invoked")
	}
}
