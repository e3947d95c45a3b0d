package main

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"impulse-server/game"
)

// ---------- helpers ----------

var uuidRegex = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

func testConfig() Config {
	return Config{
		Game: GameConfig{
			StepRate:       500,
			BroadcastEvery: 2,
			FieldSize:      500,
			Friction:       game.DefaultFriction,
			Radius:         game.DefaultRadius,
			Thrust:         game.DefaultThrust,
		},
		Auth:   AuthConfig{TokenTTL: time.Hour, BcryptCost: 4},
		Limits: LimitsConfig{MaxMatches: 10, MaxConnsPerIP: 5, MaxConns: 100, MessagesPerSec: 50},
		Match:  MatchConfig{IdleTimeout: time.Minute},
	}
}

// startTestServer spins up an httptest.Server with a Hub backed by a temp
// database and returns the server, its WebSocket URL and the hub.
func startTestServer(t *testing.T) (*httptest.Server, string, *Hub) {
	t.Helper()

	// Create a temp client dir with a minimal index.html
	tmpDir := t.TempDir()
	jsDir := filepath.Join(tmpDir, "js")
	os.MkdirAll(jsDir, 0o755)
	os.WriteFile(filepath.Join(tmpDir, "index.html"), []byte("<html>test</html>"), 0o644)
	os.WriteFile(filepath.Join(jsDir, "main.js"), []byte("// test"), 0o644)

	hub, err := buildHub(testConfig(), openTestDB(t), zerolog.Nop())
	if err != nil {
		t.Fatalf("buildHub: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(SetupRoutes(hub, tmpDir))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		hub.matches.StopAll()
	})

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	return srv, wsURL, hub
}

// dialWS opens a WebSocket connection to the test server.
func dialWS(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial WS: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readEnvelope reads the next JSON message, skipping binary state frames.
func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	for {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		msgType, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read WS: %v", err)
		}
		if msgType == websocket.BinaryMessage {
			continue
		}
		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return env
	}
}

// waitFor reads until a message of the given type arrives.
func waitFor(t *testing.T, conn *websocket.Conn, msgType string) Envelope {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		env := readEnvelope(t, conn)
		if env.T == msgType {
			return env
		}
	}
	t.Fatalf("no %s message before deadline", msgType)
	return Envelope{}
}

// readFrame reads until the next binary state frame.
func readFrame(t *testing.T, conn *websocket.Conn) StateFrame {
	t.Helper()
	for {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		msgType, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read WS: %v", err)
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		var frame StateFrame
		if err := msgpack.Unmarshal(raw, &frame); err != nil {
			t.Fatalf("msgpack unmarshal: %v", err)
		}
		return frame
	}
}

// sendMsg sends a typed message over the WebSocket.
func sendMsg(t *testing.T, conn *websocket.Conn, msgType string, data interface{}) {
	t.Helper()
	env := Envelope{T: msgType, Data: data}
	raw, _ := json.Marshal(env)
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("write WS: %v", err)
	}
}

// dataMap extracts the Data field as map[string]interface{}.
func dataMap(t *testing.T, env Envelope) map[string]interface{} {
	t.Helper()
	raw, _ := json.Marshal(env.Data)
	var m map[string]interface{}
	json.Unmarshal(raw, &m)
	return m
}

// createMatch creates a match and returns its ID.
func createMatch(t *testing.T, conn *websocket.Conn, mname string) string {
	t.Helper()
	sendMsg(t, conn, MsgCreate, map[string]string{"mname": mname})
	created := readEnvelope(t, conn)
	if created.T != MsgCreated {
		t.Fatalf("expected created, got %s", created.T)
	}
	return dataMap(t, created)["mid"].(string)
}

// joinMatch takes a seat and returns the engine player id from the welcome.
func joinMatch(t *testing.T, conn *websocket.Conn, name, mid string) string {
	t.Helper()
	sendMsg(t, conn, MsgJoin, map[string]string{"name": name, "mid": mid})
	joined := readEnvelope(t, conn)
	if joined.T != MsgJoined {
		t.Fatalf("expected joined, got %s (%v)", joined.T, joined.Data)
	}
	welcome := readEnvelope(t, conn)
	if welcome.T != MsgWelcome {
		t.Fatalf("expected welcome, got %s", welcome.T)
	}
	return dataMap(t, welcome)["pid"].(string)
}

// seatTwo creates a match and seats two clients in it.
func seatTwo(t *testing.T, wsURL string) (string, *websocket.Conn, *websocket.Conn) {
	t.Helper()
	c1 := dialWS(t, wsURL)
	c2 := dialWS(t, wsURL)
	mid := createMatch(t, c1, "Arena")
	if pid := joinMatch(t, c1, "Alice", mid); pid != "player1" {
		t.Fatalf("first seat got %s, want player1", pid)
	}
	if pid := joinMatch(t, c2, "Bob", mid); pid != "player2" {
		t.Fatalf("second seat got %s, want player2", pid)
	}
	if arrived := dataMap(t, waitFor(t, c1, MsgArrived)); arrived["pid"] != "player2" || arrived["name"] != "Bob" {
		t.Fatalf("first seat was told %v, want player2/Bob", arrived)
	}
	return mid, c1, c2
}

// ---------- UUID generation ----------

func TestGenerateUUIDFormat(t *testing.T) {
	for i := 0; i < 20; i++ {
		id := GenerateUUID()
		if !uuidRegex.MatchString(id) {
			t.Errorf("GenerateUUID() = %q, does not match UUID v4 format", id)
		}
	}
}

func TestGenerateUUIDUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := GenerateUUID()
		if seen[id] {
			t.Fatalf("duplicate UUID generated: %s", id)
		}
		seen[id] = true
	}
}

func TestGenerateIDLength(t *testing.T) {
	if got := len(GenerateID(4)); got != 8 {
		t.Errorf("GenerateID(4) length = %d, want 8", got)
	}
}

// ---------- SPA routing ----------

func TestSPARouting(t *testing.T) {
	srv, _, _ := startTestServer(t)

	cases := []struct {
		path string
		want int
	}{
		{"/", 200},
		{"/" + GenerateUUID(), 200},
		{"/js/main.js", 200},
		{"/not-a-uuid", 404},
	}
	for _, tc := range cases {
		resp, err := http.Get(srv.URL + tc.path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != tc.want {
			t.Errorf("GET %s status = %d, want %d", tc.path, resp.StatusCode, tc.want)
		}
		if tc.want != 200 {
			continue
		}
		if cc := resp.Header.Get("Cache-Control"); cc != "no-cache" {
			t.Errorf("GET %s Cache-Control = %q, want no-cache", tc.path, cc)
		}
	}
}

func TestSPARoutingServesIndexForMatchPath(t *testing.T) {
	srv, _, _ := startTestServer(t)

	resp, err := http.Get(srv.URL + "/" + GenerateUUID())
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "<html>") {
		t.Errorf("match path should serve index.html, got %q", body)
	}
}

// ---------- match protocol ----------

func TestCheckMatch(t *testing.T) {
	_, wsURL, _ := startTestServer(t)
	mid, _, _ := seatTwo(t, wsURL)

	c := dialWS(t, wsURL)
	sendMsg(t, c, MsgCheck, map[string]string{"mid": mid})
	d := dataMap(t, waitFor(t, c, MsgChecked))
	if d["exists"] != true || d["name"] != "Arena" || d["players"].(float64) != 2 {
		t.Errorf("unexpected check result %v", d)
	}

	sendMsg(t, c, MsgCheck, map[string]string{"mid": GenerateUUID()})
	d = dataMap(t, waitFor(t, c, MsgChecked))
	if d["exists"] != false {
		t.Errorf("expected exists=false, got %v", d)
	}
}

func TestListMatches(t *testing.T) {
	_, wsURL, _ := startTestServer(t)
	mid, c1, _ := seatTwo(t, wsURL)

	sendMsg(t, c1, MsgList, nil)
	env := waitFor(t, c1, MsgMatches)
	raw, _ := json.Marshal(env.Data)
	var list []MatchInfo
	if err := json.Unmarshal(raw, &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 1 || list[0].ID != mid || list[0].Players != 2 {
		t.Fatalf("unexpected list %+v", list)
	}
	if list[0].Process != game.ProcessIdle {
		t.Errorf("process = %v, want idle", list[0].Process)
	}
}

func TestJoinUnknownAndFullMatch(t *testing.T) {
	_, wsURL, _ := startTestServer(t)
	mid, _, _ := seatTwo(t, wsURL)

	c := dialWS(t, wsURL)
	sendMsg(t, c, MsgJoin, map[string]string{"name": "Carol", "mid": GenerateUUID()})
	if msg := dataMap(t, waitFor(t, c, MsgError))["msg"]; msg != "match not found" {
		t.Errorf("unknown match error = %v", msg)
	}

	sendMsg(t, c, MsgJoin, map[string]string{"name": "Carol", "mid": mid})
	if msg := dataMap(t, waitFor(t, c, MsgError))["msg"]; msg != ErrMatchFull.Error() {
		t.Errorf("full match error = %v", msg)
	}
}

func TestTurnPlayedOverWebSocket(t *testing.T) {
	_, wsURL, _ := startTestServer(t)
	_, c1, c2 := seatTwo(t, wsURL)

	sendMsg(t, c1, MsgAct, game.Command{EntityID: 0, TargetY: 100, TargetX: 250})

	acc := dataMap(t, waitFor(t, c2, string(game.EventEntityAccelerated)))
	ent := acc["entity"].(map[string]interface{})
	if ent["vx"].(float64) != 15 || ent["vy"].(float64) != 0 {
		t.Errorf("velocity = (%v, %v), want (15, 0)", ent["vx"], ent["vy"])
	}

	turn := dataMap(t, waitFor(t, c1, string(game.EventTurnChanged)))
	if turn["turn"].(float64) != 1 {
		t.Errorf("turn = %v, want 1", turn["turn"])
	}

	// now it is player2's turn
	sendMsg(t, c1, MsgAct, game.Command{EntityID: 1, TargetY: 0, TargetX: 250})
	inv := dataMap(t, waitFor(t, c1, string(game.EventInvalidAction)))
	if inv["message"] != game.ReasonNotTurn {
		t.Errorf("invalid-action message = %v, want %q", inv["message"], game.ReasonNotTurn)
	}
}

func TestActOnOpponentEntity(t *testing.T) {
	_, wsURL, _ := startTestServer(t)
	_, _, c2 := seatTwo(t, wsURL)

	sendMsg(t, c2, MsgAct, game.Command{EntityID: 0, TargetY: 0, TargetX: 0})
	if msg := dataMap(t, waitFor(t, c2, MsgError))["msg"]; msg != reasonNotYourEntity {
		t.Errorf("error = %v, want %q", msg, reasonNotYourEntity)
	}
}

func TestActBeforeJoin(t *testing.T) {
	_, wsURL, _ := startTestServer(t)
	c := dialWS(t, wsURL)

	sendMsg(t, c, MsgAct, game.Command{EntityID: 0})
	if msg := dataMap(t, waitFor(t, c, MsgError))["msg"]; msg != ErrNotSeated.Error() {
		t.Errorf("error = %v, want %q", msg, ErrNotSeated.Error())
	}
}

func TestBinaryActAndStateFrames(t *testing.T) {
	_, wsURL, _ := startTestServer(t)
	_, c1, _ := seatTwo(t, wsURL)

	frame := readFrame(t, c1)
	if len(frame.State.Entities) != 6 || frame.State.Turn != 0 {
		t.Fatalf("unexpected first frame %+v", frame.State)
	}

	payload, err := msgpack.Marshal(&game.Command{EntityID: 2, TargetY: 0, TargetX: 300})
	if err != nil {
		t.Fatal(err)
	}
	if err := c1.WriteMessage(websocket.BinaryMessage, append([]byte{binaryAct}, payload...)); err != nil {
		t.Fatalf("write WS: %v", err)
	}
	acc := dataMap(t, waitFor(t, c1, string(game.EventEntityAccelerated)))
	if id := acc["entity"].(map[string]interface{})["id"].(float64); id != 2 {
		t.Errorf("accelerated entity = %v, want 2", id)
	}
}

func TestBinaryActNonFiniteTarget(t *testing.T) {
	_, wsURL, _ := startTestServer(t)
	_, c1, _ := seatTwo(t, wsURL)

	payload, err := msgpack.Marshal(&game.Command{EntityID: 0, TargetY: math.NaN(), TargetX: 100})
	if err != nil {
		t.Fatal(err)
	}
	if err := c1.WriteMessage(websocket.BinaryMessage, append([]byte{binaryAct}, payload...)); err != nil {
		t.Fatalf("write WS: %v", err)
	}
	if msg := dataMap(t, waitFor(t, c1, MsgError))["msg"]; msg != "malformed command" {
		t.Errorf("error = %v, want malformed command", msg)
	}

	// the game is untouched and still takes commands
	sendMsg(t, c1, MsgAct, game.Command{EntityID: 0, TargetY: 100, TargetX: 250})
	waitFor(t, c1, string(game.EventEntityAccelerated))
}

func TestDisconnectFreesSeat(t *testing.T) {
	_, wsURL, hub := startTestServer(t)
	mid, c1, c2 := seatTwo(t, wsURL)

	c2.Close()
	left := dataMap(t, waitFor(t, c1, MsgLeft))
	if left["pid"] != "player2" {
		t.Errorf("left pid = %v, want player2", left["pid"])
	}
	if m := hub.matches.GetMatch(mid); m == nil || m.Info().Players != 1 {
		t.Errorf("match should stay with one player")
	}

	sendMsg(t, c1, MsgLeave, nil)
	deadline := time.Now().Add(2 * time.Second)
	for hub.matches.GetMatch(mid) != nil {
		if time.Now().After(deadline) {
			t.Fatal("empty match was not removed")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// ---------- accounts ----------

func TestAccountFlow(t *testing.T) {
	_, wsURL, _ := startTestServer(t)
	c := dialWS(t, wsURL)

	sendMsg(t, c, MsgRegister, map[string]string{"username": "alice", "password": "secret"})
	ok := dataMap(t, waitFor(t, c, MsgAuthOK))
	token, _ := ok["token"].(string)
	if token == "" || ok["username"] != "alice" {
		t.Fatalf("unexpected auth_ok %v", ok)
	}

	sendMsg(t, c, MsgProfile, nil)
	profile := dataMap(t, waitFor(t, c, MsgProfileData))
	if profile["username"] != "alice" || profile["matches"].(float64) != 0 {
		t.Errorf("unexpected profile %v", profile)
	}

	c2 := dialWS(t, wsURL)
	sendMsg(t, c2, MsgAuth, map[string]string{"token": token})
	if resumed := dataMap(t, waitFor(t, c2, MsgAuthOK)); resumed["username"] != "alice" {
		t.Errorf("token resume gave %v", resumed)
	}

	sendMsg(t, c2, MsgLogin, map[string]string{"username": "alice", "password": "nope"})
	if msg := dataMap(t, waitFor(t, c2, MsgError))["msg"]; msg != ErrInvalidCredentials.Error() {
		t.Errorf("login error = %v", msg)
	}
}

func TestProfileRequiresAuth(t *testing.T) {
	_, wsURL, _ := startTestServer(t)
	c := dialWS(t, wsURL)
	sendMsg(t, c, MsgProfile, nil)
	if msg := dataMap(t, waitFor(t, c, MsgError))["msg"]; msg != "not authenticated" {
		t.Errorf("error = %v", msg)
	}
}

// ---------- HTTP API ----------

func TestMatchesAPIAndInviteQR(t *testing.T) {
	srv, wsURL, _ := startTestServer(t)
	mid, _, _ := seatTwo(t, wsURL)

	resp, err := http.Get(srv.URL + "/api/matches")
	if err != nil {
		t.Fatal(err)
	}
	var list []MatchInfo
	json.NewDecoder(resp.Body).Decode(&list)
	resp.Body.Close()
	if len(list) != 1 || list[0].ID != mid {
		t.Fatalf("unexpected /api/matches %+v", list)
	}

	resp, err = http.Get(srv.URL + "/api/matches/" + mid + "/qr")
	if err != nil {
		t.Fatal(err)
	}
	png, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != 200 || resp.Header.Get("Content-Type") != "image/png" {
		t.Fatalf("qr status=%d type=%q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	if !strings.HasPrefix(string(png), "\x89PNG") {
		t.Error("qr body is not a PNG")
	}

	resp, err = http.Get(srv.URL + "/api/matches/" + GenerateUUID() + "/qr")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != 404 {
		t.Errorf("unknown match qr status = %d, want 404", resp.StatusCode)
	}
}

func TestLeaderboardAPI(t *testing.T) {
	srv, _, hub := startTestServer(t)
	id, err := hub.db.CreatePlayer("alice", "hash")
	if err != nil {
		t.Fatal(err)
	}
	if err := hub.db.RecordResult(id, true, 2, 0); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(srv.URL + "/api/leaderboard?limit=5")
	if err != nil {
		t.Fatal(err)
	}
	var board []LeaderboardEntry
	json.NewDecoder(resp.Body).Decode(&board)
	resp.Body.Close()
	if len(board) != 1 || board[0].Username != "alice" || board[0].Wins != 1 {
		t.Fatalf("unexpected leaderboard %+v", board)
	}

	resp, err = http.Get(srv.URL + "/api/leaderboard?limit=abc")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != 400 {
		t.Errorf("bad limit status = %d, want 400", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	srv, wsURL, _ := startTestServer(t)
	seatTwo(t, wsURL)

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&body)
	if body["status"] != "ok" || body["matches"].(float64) != 1 {
		t.Errorf("unexpected healthz %v", body)
	}
}

func TestServerWithoutDatabase(t *testing.T) {
	hub, err := buildHub(testConfig(), nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("buildHub: %v", err)
	}
	if hub.auth != nil {
		t.Fatal("accounts should be disabled without a database")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(SetupRoutes(hub, t.TempDir()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/leaderboard")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("leaderboard status = %d, want 503", resp.StatusCode)
	}

	c := dialWS(t, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws")
	sendMsg(t, c, MsgRegister, map[string]string{"username": "alice", "password": "secret"})
	if msg := dataMap(t, waitFor(t, c, MsgError))["msg"]; msg != "accounts disabled" {
		t.Errorf("register error = %v", msg)
	}
}
