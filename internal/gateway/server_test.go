package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/terminuslabs/terminus/internal/bus"
	"github.com/terminuslabs/terminus/internal/config"
	"github.com/terminuslabs/terminus/internal/providers"
	"github.com/terminuslabs/terminus/internal/sandbox"
	"github.com/terminuslabs/terminus/internal/session"
	"github.com/terminuslabs/terminus/internal/workflow"
	"github.com/terminuslabs/terminus/pkg/protocol"
)

// wireEvent mirrors the outbound envelope as seen by a client.
type wireEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func testServer(t *testing.T, mutate func(*config.Config)) (*Server, string) {
	t.Helper()

	cfg := config.Default()
	cfg.Gateway.MinIntervalSec = 0
	cfg.Planner.Fake = true
	cfg.Sandbox.ForceLocal = true
	cfg.Sandbox.SkipUserCheck = true
	if mutate != nil {
		mutate(cfg)
	}

	snap := cfg.Snapshot()
	executor := sandbox.NewExecutor(sandbox.SanitizePolicy{
		MaxCommandLen: snap.Sandbox.MaxCommandLen,
		Strict:        snap.Sandbox.StrictSanitize,
	}, snap.Sandbox.User, true)
	engine := workflow.NewEngine(providers.OfflinePlanner{}, providers.OfflineTranslator{}, executor, workflow.Options{
		MaxGoalLen: snap.Gateway.MaxGoalLen,
	})

	srv := NewServer(cfg, bus.New(), engine, session.NewRegistry())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	addr, start := StartTestServer(srv, ctx)
	go start()

	return srv, addr
}

func dialWS(t *testing.T, addr string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) wireEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	var ev wireEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return ev
}

func sendGoal(t *testing.T, conn *websocket.Conn, goal string) {
	t.Helper()
	frame := map[string]interface{}{
		"type":    protocol.EventExecuteGoal,
		"payload": map[string]string{"goal": goal},
	}
	if err := conn.WriteJSON(frame); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func expectConnected(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	ev := readEvent(t, conn)
	if ev.Type != protocol.EventStatus {
		t.Fatalf("first event = %q, want status", ev.Type)
	}
	var status protocol.StatusPayload
	if err := json.Unmarshal(ev.Payload, &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.Message != "connected" {
		t.Fatalf("status message = %q", status.Message)
	}
}

func TestWorkflowOverWebSocket(t *testing.T) {
	_, addr := testServer(t, nil)
	conn := dialWS(t, addr)
	expectConnected(t, conn)

	sendGoal(t, conn, "print hello")

	ev := readEvent(t, conn)
	if ev.Type != protocol.EventPlanGenerated {
		t.Fatalf("event = %q, want plan_generated", ev.Type)
	}
	var plan protocol.PlanGeneratedPayload
	json.Unmarshal(ev.Payload, &plan)
	if len(plan.Plan) != 1 || plan.Plan[0] != "print hello" {
		t.Fatalf("plan = %v", plan.Plan)
	}

	ev = readEvent(t, conn)
	if ev.Type != protocol.EventStepExecuting {
		t.Fatalf("event = %q, want step_executing", ev.Type)
	}
	var exec protocol.StepExecutingPayload
	json.Unmarshal(ev.Payload, &exec)
	if exec.Step != "print hello" || exec.Command != "echo hello" {
		t.Fatalf("step_executing = %+v", exec)
	}

	ev = readEvent(t, conn)
	if ev.Type != protocol.EventStepResult {
		t.Fatalf("event = %q, want step_result", ev.Type)
	}
	var res protocol.StepResultPayload
	json.Unmarshal(ev.Payload, &res)
	if res.Stdout != "hello\n" || res.ExitCode != 0 {
		t.Fatalf("step_result = %+v", res)
	}

	ev = readEvent(t, conn)
	if ev.Type != protocol.EventWorkflowComplete {
		t.Fatalf("event = %q, want workflow_complete", ev.Type)
	}
	var done protocol.WorkflowCompletePayload
	json.Unmarshal(ev.Payload, &done)
	if done.Status != "success" {
		t.Fatalf("status = %q", done.Status)
	}
}

func TestMultiStepGoal(t *testing.T) {
	_, addr := testServer(t, nil)
	conn := dialWS(t, addr)
	expectConnected(t, conn)

	sendGoal(t, conn, "print hello -> print done")

	var types []string
	for {
		ev := readEvent(t, conn)
		types = append(types, ev.Type)
		if ev.Type == protocol.EventWorkflowComplete || ev.Type == protocol.EventErrorDetected {
			break
		}
	}
	want := []string{
		protocol.EventPlanGenerated,
		protocol.EventStepExecuting,
		protocol.EventStepResult,
		protocol.EventStepExecuting,
		protocol.EventStepResult,
		protocol.EventWorkflowComplete,
	}
	if len(types) != len(want) {
		t.Fatalf("sequence = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event %d = %q, want %q", i, types[i], want[i])
		}
	}
}

func TestFailureRemediationOverWebSocket(t *testing.T) {
	_, addr := testServer(t, nil)
	conn := dialWS(t, addr)
	expectConnected(t, conn)

	sendGoal(t, conn, "print hello -> cause failure -> remediate -> print done")

	var types []string
	for {
		ev := readEvent(t, conn)
		types = append(types, ev.Type)
		if ev.Type == protocol.EventWorkflowComplete {
			break
		}
		if len(types) > 30 {
			t.Fatalf("workflow did not complete: %v", types)
		}
	}

	want := []string{
		protocol.EventPlanGenerated, // 4 steps
		protocol.EventStepExecuting, // print hello
		protocol.EventStepResult,
		protocol.EventStepExecuting, // cause failure
		protocol.EventStepResult,    // exit 1
		protocol.EventErrorDetected, // [sandbox]
		protocol.EventRePlanning,
		protocol.EventPlanGenerated, // remediate, print done
		protocol.EventStepExecuting,
		protocol.EventStepResult,
		protocol.EventStepExecuting,
		protocol.EventStepResult,
		protocol.EventWorkflowComplete,
	}
	if len(types) != len(want) {
		t.Fatalf("sequence = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event %d = %q, want %q (full %v)", i, types[i], want[i], types)
		}
	}
}

func TestRateLimitRejectsBurst(t *testing.T) {
	_, addr := testServer(t, func(cfg *config.Config) {
		cfg.Gateway.MinIntervalSec = 10
	})
	conn := dialWS(t, addr)
	expectConnected(t, conn)

	sendGoal(t, conn, "print hello")
	sendGoal(t, conn, "print done")

	found := false
	for i := 0; i < 10 && !found; i++ {
		ev := readEvent(t, conn)
		if ev.Type != protocol.EventErrorDetected {
			continue
		}
		var p protocol.ErrorDetectedPayload
		json.Unmarshal(ev.Payload, &p)
		if strings.HasPrefix(p.Error, "[rate_limit] Rate limit: wait ") {
			if p.FailedStep != "rate_limit" {
				t.Errorf("failed_step = %q, want rate_limit", p.FailedStep)
			}
			found = true
		}
	}
	if !found {
		t.Fatal("no rate_limit error received for the second goal")
	}
}

func TestInvalidPayload(t *testing.T) {
	_, addr := testServer(t, nil)
	conn := dialWS(t, addr)
	expectConnected(t, conn)

	frame := map[string]interface{}{
		"type":    protocol.EventExecuteGoal,
		"payload": map[string]interface{}{"goal": 123},
	}
	if err := conn.WriteJSON(frame); err != nil {
		t.Fatal(err)
	}

	ev := readEvent(t, conn)
	if ev.Type != protocol.EventErrorDetected {
		t.Fatalf("event = %q, want error_detected", ev.Type)
	}
	var p protocol.ErrorDetectedPayload
	json.Unmarshal(ev.Payload, &p)
	if !strings.HasPrefix(p.Error, "[validation] Invalid execute_goal payload: ") {
		t.Errorf("error = %q", p.Error)
	}
	if p.FailedStep != "validate" {
		t.Errorf("failed_step = %q", p.FailedStep)
	}
}

func TestMissingPayload(t *testing.T) {
	_, addr := testServer(t, nil)
	conn := dialWS(t, addr)
	expectConnected(t, conn)

	if err := conn.WriteJSON(map[string]string{"type": protocol.EventExecuteGoal}); err != nil {
		t.Fatal(err)
	}

	ev := readEvent(t, conn)
	var p protocol.ErrorDetectedPayload
	json.Unmarshal(ev.Payload, &p)
	if p.Error != "[validation] Invalid execute_goal payload: missing payload" {
		t.Errorf("error = %q", p.Error)
	}
}

func TestMalformedFrame(t *testing.T) {
	_, addr := testServer(t, nil)
	conn := dialWS(t, addr)
	expectConnected(t, conn)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatal(err)
	}

	ev := readEvent(t, conn)
	var p protocol.ErrorDetectedPayload
	json.Unmarshal(ev.Payload, &p)
	if !strings.HasPrefix(p.Error, "[validation] Invalid execute_goal payload: malformed frame: ") {
		t.Errorf("error = %q", p.Error)
	}
}

func TestEmptyGoalRejectedByEngine(t *testing.T) {
	_, addr := testServer(t, nil)
	conn := dialWS(t, addr)
	expectConnected(t, conn)

	sendGoal(t, conn, "   ")

	ev := readEvent(t, conn)
	var p protocol.ErrorDetectedPayload
	json.Unmarshal(ev.Payload, &p)
	if p.Error != "[validation] Goal must be a non-empty string" {
		t.Errorf("error = %q", p.Error)
	}
}

func TestUnknownFrameTypeIgnored(t *testing.T) {
	_, addr := testServer(t, nil)
	conn := dialWS(t, addr)
	expectConnected(t, conn)

	if err := conn.WriteJSON(map[string]string{"type": "ping"}); err != nil {
		t.Fatal(err)
	}
	sendGoal(t, conn, "print hello")

	// The unknown frame produces no event; the next one is the plan.
	ev := readEvent(t, conn)
	if ev.Type != protocol.EventPlanGenerated {
		t.Errorf("event after unknown frame = %q, want plan_generated", ev.Type)
	}
}

func TestHealthz(t *testing.T) {
	_, addr := testServer(t, nil)

	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		Status   string `json:"status"`
		Protocol int    `json:"protocol"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "ok" || body.Protocol != protocol.ProtocolVersion {
		t.Errorf("body = %+v", body)
	}
}

func TestReadyzDegraded(t *testing.T) {
	srv, addr := testServer(t, nil)
	srv.SetReadiness(false, []string{"sandbox user missing"})

	resp, err := http.Get("http://" + addr + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz: %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		Status string   `json:"status"`
		Issues []string `json:"issues"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "degraded" || len(body.Issues) != 1 {
		t.Errorf("body = %+v", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, addr := testServer(t, nil)

	resp, err := http.Get("http://" + addr + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestRateLimiter(t *testing.T) {
	disabled := NewRateLimiter(0, 5)
	if disabled.Enabled() {
		t.Error("rpm 0 must disable limiting")
	}
	for i := 0; i < 100; i++ {
		if !disabled.Allow() {
			t.Fatal("disabled limiter rejected a request")
		}
	}

	limited := NewRateLimiter(60, 2)
	if !limited.Enabled() {
		t.Error("rpm 60 must enable limiting")
	}
	if !limited.Allow() || !limited.Allow() {
		t.Error("burst requests rejected")
	}
	if limited.Allow() {
		t.Error("request over burst allowed")
	}
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"no config allows all", nil, "https://evil.example", true},
		{"empty origin allows non-browser clients", []string{"https://app.example"}, "", true},
		{"exact match", []string{"https://app.example"}, "https://app.example", true},
		{"wildcard", []string{"*"}, "https://anything.example", true},
		{"mismatch rejected", []string{"https://app.example"}, "https://evil.example", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Gateway.AllowedOrigins = tt.allowed
			srv := NewServer(cfg, bus.New(), nil, session.NewRegistry())

			req := httptest.NewRequest("GET", "/ws", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if got := srv.checkOrigin(req); got != tt.want {
				t.Errorf("checkOrigin = %v, want %v", got, tt.want)
			}
		})
	}
}
