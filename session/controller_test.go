package session

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"
)

type mockOrchestrator struct {
	mu          sync.Mutex
	params      ProcessParams
	readyErr    error
	activateErr error
	acceptErr   error

	activated bool
	accepted  []string
	removed   []string
	denied    bool
	ended     bool
}

func (m *mockOrchestrator) Ready(ctx context.Context, params ProcessParams) error {
	if m.readyErr != nil {
		return m.readyErr
	}
	m.mu.Lock()
	m.params = params
	m.mu.Unlock()
	return nil
}

func (m *mockOrchestrator) Activate(ctx context.Context) error {
	if m.activateErr != nil {
		return m.activateErr
	}
	m.mu.Lock()
	m.activated = true
	m.mu.Unlock()
	return nil
}

func (m *mockOrchestrator) AcceptPlayerSession(ctx context.Context, id string) error {
	if m.acceptErr != nil {
		return m.acceptErr
	}
	m.mu.Lock()
	m.accepted = append(m.accepted, id)
	m.mu.Unlock()
	return nil
}

func (m *mockOrchestrator) RemovePlayerSession(ctx context.Context, id string) error {
	m.mu.Lock()
	m.removed = append(m.removed, id)
	m.mu.Unlock()
	return nil
}

func (m *mockOrchestrator) DenyAllPlayerSessions(ctx context.Context) error {
	m.mu.Lock()
	m.denied = true
	m.mu.Unlock()
	return nil
}

func (m *mockOrchestrator) End(ctx context.Context) error {
	m.mu.Lock()
	m.ended = true
	m.mu.Unlock()
	return nil
}

type stubListener struct{ closed bool }

func (s *stubListener) Accept() (net.Conn, error) { return nil, net.ErrClosed }
func (s *stubListener) Close() error              { s.closed = true; return nil }
func (s *stubListener) Addr() net.Addr            { return &net.TCPAddr{Port: 7777} }

type fakeReservation struct {
	mu       sync.Mutex
	port     int
	ln       net.Listener
	released bool
	detached bool
}

func (f *fakeReservation) Port() int { return f.port }
func (f *fakeReservation) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.detached || f.released {
		return
	}
	f.released = true
}

func (f *fakeReservation) Detach() net.Listener {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.detached || f.released {
		return nil
	}
	f.detached = true
	return f.ln
}

func (f *fakeReservation) Released() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.released
}

func testConfig() Config {
	return Config{
		PortMin:        7000,
		PortMax:        60000,
		SessionTimeout: time.Hour,
		TickInterval:   time.Hour,
		HealthInterval: time.Hour,
	}
}

func newTestController(orch *mockOrchestrator) (*Controller, *fakeReservation, *int) {
	c := NewController(orch, testConfig())
	res := &fakeReservation{port: 7777, ln: &stubListener{}}
	c.AllocatePort = func(min, max int) (Reservation, error) { return res, nil }
	exitCode := -1
	c.Exit = func(code int) { exitCode = code }
	return c, res, &exitCode
}

func startSession(t *testing.T, c *Controller, orch *mockOrchestrator, gs GameSession) {
	t.Helper()
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %#v", err)
	}
	orch.params.OnStartSession(gs)
}

func skirmishSession() GameSession {
	return GameSession{
		SessionID:  "gs-1",
		IPAddress:  "10.0.0.7",
		Port:       7777,
		Properties: map[string]string{"mode": "skirmish"},
		MatchmakerData: `{"matchId":"m1","teams":[
			{"name":"red","players":[{"playerId":"p1","attributes":{"userName":"Ayu"}}]},
			{"name":"blue","players":[{"playerId":"p2","attributes":{"userName":"Bo"}}]}]}`,
	}
}

func TestController_Start(t *testing.T) {
	orch := &mockOrchestrator{}
	c, res, _ := newTestController(orch)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %#v", err)
	}
	if c.State() != StateAwaitingSession {
		t.Errorf("State() = %#v, want %#v", c.State(), StateAwaitingSession)
	}
	if orch.params.Port != 7777 || c.Port() != 7777 {
		t.Errorf("registered port mismatch\ngot: %#v and %#v\nwant: 7777", orch.params.Port, c.Port())
	}
	if res.Released() {
		t.Error("reservation released before session start")
	}

	// A second start is a state error.
	if err := c.Start(context.Background()); err == nil {
		t.Error("second Start() succeeded, want error")
	}
}

func TestController_StartReadyFailure(t *testing.T) {
	orch := &mockOrchestrator{readyErr: errors.New("sidecar down")}
	c, res, _ := newTestController(orch)

	if err := c.Start(context.Background()); err == nil {
		t.Fatal("Start() succeeded, want error")
	}
	if !res.Released() {
		t.Error("reservation leaked after Ready failure")
	}
}

func TestController_SessionStart(t *testing.T) {
	orch := &mockOrchestrator{}
	c, res, _ := newTestController(orch)

	var hookPlayers []PlayerRecord
	var hookLn net.Listener
	c.OnSessionActive = func(gs GameSession, players []PlayerRecord) error {
		hookPlayers = players
		hookLn = c.TakeListener()
		return nil
	}

	startSession(t, c, orch, skirmishSession())

	if c.State() != StateActive {
		t.Fatalf("State() = %#v, want %#v", c.State(), StateActive)
	}
	if !orch.activated {
		t.Error("orchestrator never activated")
	}
	if len(hookPlayers) != 2 || hookPlayers[0].UserID != "p1" || hookPlayers[1].Team != "blue" {
		t.Errorf("hook players mismatch\ngot: %#v", hookPlayers)
	}
	// The gameplay listener takes over the bound socket; the reservation
	// must never close it, so the port is never free in between.
	if hookLn == nil {
		t.Fatal("TakeListener() returned nil inside activation hook")
	}
	if res.Released() {
		t.Error("reservation closed the socket after handoff")
	}
	if hookLn.(*stubListener).closed {
		t.Error("handed-off socket was closed")
	}
	if got := c.Players(); len(got) != 2 || got[0].Result != ResultLeftEarly {
		t.Errorf("Players() mismatch\ngot: %#v", got)
	}
}

func TestController_TutorialSession(t *testing.T) {
	orch := &mockOrchestrator{}
	c, _, _ := newTestController(orch)

	startSession(t, c, orch, GameSession{
		SessionID:  "gs-2",
		Properties: map[string]string{"mode": "tutorial", "userId": "u9", "userName": "Solo"},
	})

	players := c.Players()
	if len(players) != 1 || players[0].UserID != "u9" || players[0].DisplayName != "Solo" {
		t.Errorf("tutorial players mismatch\ngot: %#v", players)
	}
	if c.State() != StateActive {
		t.Errorf("State() = %#v, want %#v", c.State(), StateActive)
	}
}

func TestController_BadSessionAborts(t *testing.T) {
	tests := []struct {
		name string
		gs   GameSession
	}{
		{
			name: "unknown mode",
			gs:   GameSession{Properties: map[string]string{"mode": "ranked"}},
		},
		{
			name: "undecodable matchmaker data",
			gs:   GameSession{Properties: map[string]string{"mode": "skirmish"}, MatchmakerData: `{broken`},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orch := &mockOrchestrator{}
			c, _, exitCode := newTestController(orch)

			startSession(t, c, orch, tt.gs)

			if *exitCode != 1 {
				t.Errorf("exit code mismatch\ngot: %#v\nwant: 1", *exitCode)
			}
			if !orch.ended {
				t.Error("process ending never reported")
			}
			if c.State() != StateTerminated {
				t.Errorf("State() = %#v, want %#v", c.State(), StateTerminated)
			}
		})
	}
}

func TestController_EmptySessionShutsDownCleanly(t *testing.T) {
	orch := &mockOrchestrator{}
	c, _, exitCode := newTestController(orch)

	gs := skirmishSession()
	gs.MatchmakerData = `{"matchId":"m1","teams":[]}`
	startSession(t, c, orch, gs)

	if *exitCode != 0 {
		t.Errorf("exit code mismatch\ngot: %#v\nwant: 0", *exitCode)
	}
	if !orch.ended {
		t.Error("process ending never reported")
	}
}

func TestController_AcceptPlayerSession(t *testing.T) {
	orch := &mockOrchestrator{}
	c, _, _ := newTestController(orch)
	startSession(t, c, orch, skirmishSession())

	if err := c.AcceptPlayerSession(context.Background(), "psess-1"); err != nil {
		t.Fatalf("AcceptPlayerSession() error: %#v", err)
	}
	if len(orch.accepted) != 1 || orch.accepted[0] != "psess-1" {
		t.Errorf("accepted sessions mismatch\ngot: %#v", orch.accepted)
	}
}

func TestController_AcceptBeforeActive(t *testing.T) {
	orch := &mockOrchestrator{}
	c, _, _ := newTestController(orch)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %#v", err)
	}

	err := c.AcceptPlayerSession(context.Background(), "psess-1")
	if !errors.Is(err, ErrNotActive) {
		t.Errorf("AcceptPlayerSession() error mismatch\ngot: %#v\nwant: %#v", err, ErrNotActive)
	}
}

// Once gameplay has started the rejection happens locally; the
// orchestration layer must never see the claim.
func TestController_LateJoinRejected(t *testing.T) {
	orch := &mockOrchestrator{}
	c, _, _ := newTestController(orch)
	startSession(t, c, orch, skirmishSession())

	if err := c.AcceptPlayerSession(context.Background(), "psess-1"); err != nil {
		t.Fatalf("AcceptPlayerSession() error: %#v", err)
	}
	c.MarkGameplayStarted()

	err := c.AcceptPlayerSession(context.Background(), "psess-2")
	if !errors.Is(err, ErrSessionStarted) {
		t.Fatalf("AcceptPlayerSession() error mismatch\ngot: %#v\nwant: %#v", err, ErrSessionStarted)
	}
	if len(orch.accepted) != 1 {
		t.Errorf("orchestrator saw late claim: %#v", orch.accepted)
	}
}

func TestController_AdmissionResetsClock(t *testing.T) {
	orch := &mockOrchestrator{}
	c, _, _ := newTestController(orch)
	startSession(t, c, orch, skirmishSession())

	c.mu.Lock()
	c.supervisor.elapsed = 30 * time.Minute
	c.mu.Unlock()

	if err := c.AcceptPlayerSession(context.Background(), "psess-1"); err != nil {
		t.Fatalf("AcceptPlayerSession() error: %#v", err)
	}
	c.mu.Lock()
	elapsed := c.supervisor.Elapsed()
	c.mu.Unlock()
	if elapsed != 0 {
		t.Errorf("idle clock not reset\ngot: %#v\nwant: 0", elapsed)
	}
}

// The activation hook runs as soon as the session turns active, so an
// admission from inside it is the earliest one possible. The supervisor is
// installed together with the state transition and must see the reset.
func TestController_EarliestAdmissionResetsClock(t *testing.T) {
	orch := &mockOrchestrator{}
	c, _, _ := newTestController(orch)

	var hookErr error
	var elapsed time.Duration
	c.OnSessionActive = func(GameSession, []PlayerRecord) error {
		c.mu.Lock()
		c.supervisor.elapsed = 30 * time.Minute
		c.mu.Unlock()
		hookErr = c.AcceptPlayerSession(context.Background(), "psess-1")
		c.mu.Lock()
		elapsed = c.supervisor.Elapsed()
		c.mu.Unlock()
		return nil
	}
	startSession(t, c, orch, skirmishSession())

	if hookErr != nil {
		t.Fatalf("AcceptPlayerSession() error: %#v", hookErr)
	}
	if elapsed != 0 {
		t.Errorf("idle clock not reset\ngot: %#v\nwant: 0", elapsed)
	}
}

func TestController_ReleasePlayerSession(t *testing.T) {
	orch := &mockOrchestrator{}
	c, _, _ := newTestController(orch)
	startSession(t, c, orch, skirmishSession())

	if err := c.ReleasePlayerSession(context.Background(), "psess-1"); !errors.Is(err, ErrUnknownPlayerSession) {
		t.Errorf("ReleasePlayerSession() error mismatch\ngot: %#v\nwant: %#v", err, ErrUnknownPlayerSession)
	}

	if err := c.AcceptPlayerSession(context.Background(), "psess-1"); err != nil {
		t.Fatalf("AcceptPlayerSession() error: %#v", err)
	}
	if err := c.ReleasePlayerSession(context.Background(), "psess-1"); err != nil {
		t.Fatalf("ReleasePlayerSession() error: %#v", err)
	}
	if len(orch.removed) != 1 || orch.removed[0] != "psess-1" {
		t.Errorf("removed sessions mismatch\ngot: %#v", orch.removed)
	}
}

func TestController_SetPlayerResult(t *testing.T) {
	orch := &mockOrchestrator{}
	c, _, _ := newTestController(orch)
	startSession(t, c, orch, skirmishSession())

	c.SetPlayerResult("p1", ResultCompleted)
	players := c.Players()
	if players[0].Result != ResultCompleted || players[1].Result != ResultLeftEarly {
		t.Errorf("results mismatch\ngot: %#v", players)
	}

	// Mutating the copy must not touch controller state.
	players[1].Result = ResultCompleted
	if c.Players()[1].Result != ResultLeftEarly {
		t.Error("Players() returned shared backing storage")
	}
}

func TestController_ShutdownOnce(t *testing.T) {
	orch := &mockOrchestrator{}
	c, res, exitCode := newTestController(orch)
	startSession(t, c, orch, skirmishSession())

	c.Shutdown(context.Background())
	c.Shutdown(context.Background())

	if *exitCode != 0 {
		t.Errorf("exit code mismatch\ngot: %#v\nwant: 0", *exitCode)
	}
	if !res.Released() {
		t.Error("reservation leaked at shutdown")
	}
	if c.State() != StateTerminated {
		t.Errorf("State() = %#v, want %#v", c.State(), StateTerminated)
	}
}
