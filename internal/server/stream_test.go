package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/gymroutes/internal/gym"
	"github.com/gorilla/websocket"
)

func TestClimbLogStreamDeliversChangesInOrder(t *testing.T) {
	env := newTestEnvironment(t, nil)
	_, adminToken := env.signUp(t, testAdminEmail)
	climberID, climberToken := env.signUp(t, "climber@example.com")

	reset := createReset(t, env, adminToken, "wall1", map[string]string{"reset_date": "2024-01-10"})
	route, err := env.gym.CreateRoute(t.Context(), gym.Route{
		WallID: "wall1", WallResetID: reset.ID, Grade: "V5", TapeColor: "Blue",
		HoldColors: []string{"Yellow"}, DateSet: reset.ResetDate, IsActive: true,
	})
	if err != nil {
		t.Fatalf("failed to create route: %v", err)
	}

	server := httptest.NewServer(env.handler)
	t.Cleanup(server.Close)

	streamURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/users/" + climberID + "/climb-logs/stream?access_token=" + climberToken
	conn, response, err := websocket.DefaultDialer.Dial(streamURL, nil)
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	if response.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("unexpected handshake status: %d", response.StatusCode)
	}

	post := func(method, path string, body interface{}) *http.Response {
		encoded, _ := json.Marshal(body)
		request, err := http.NewRequest(method, server.URL+path, bytes.NewReader(encoded))
		if err != nil {
			t.Fatalf("failed to build request: %v", err)
		}
		request.Header.Set("Content-Type", "application/json")
		request.Header.Set("Authorization", "Bearer "+climberToken)
		resp, err := http.DefaultClient.Do(request)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		return resp
	}

	resp := post(http.MethodPost, "/users/"+climberID+"/climb-logs", map[string]interface{}{"route_id": route.ID, "is_complete": true})
	var log gym.ClimbLog
	if err := json.NewDecoder(resp.Body).Decode(&log); err != nil {
		t.Fatalf("failed to decode climb log: %v", err)
	}
	_ = resp.Body.Close()
	resp = post(http.MethodPatch, "/users/"+climberID+"/climb-logs/"+log.ID, map[string]interface{}{"is_complete": false})
	_ = resp.Body.Close()

	for index, expected := range []bool{true, false} {
		if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
			t.Fatalf("failed to set deadline: %v", err)
		}
		var change gym.ClimbLogChange
		if err := conn.ReadJSON(&change); err != nil {
			t.Fatalf("change %d: failed to read: %v", index, err)
		}
		if change.RouteID != route.ID || change.UserID != climberID || change.IsComplete != expected {
			t.Fatalf("change %d: unexpected payload %#v", index, change)
		}
	}
}

func TestClimbLogStreamRejectsOtherUsers(t *testing.T) {
	env := newTestEnvironment(t, nil)
	_, token := env.signUp(t, "climber@example.com")
	otherID, _ := env.signUp(t, "other@example.com")

	server := httptest.NewServer(env.handler)
	t.Cleanup(server.Close)

	streamURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/users/" + otherID + "/climb-logs/stream?access_token=" + token
	_, response, err := websocket.DefaultDialer.Dial(streamURL, nil)
	if err == nil {
		t.Fatalf("expected handshake to fail for another user's stream")
	}
	if response == nil || response.StatusCode != http.StatusForbidden {
		t.Fatalf("expected forbidden response, got %#v", response)
	}
}
