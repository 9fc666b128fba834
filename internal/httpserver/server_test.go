package httpserver

import (
	"bytes"
	"encoding/json"
	"io"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/robalobadob/timeline/internal/game"
	"github.com/robalobadob/timeline/internal/identity"
	"github.com/robalobadob/timeline/internal/play"
	"github.com/robalobadob/timeline/internal/store"
)

const definitionJSON = `{
  "title": "Friday quiz",
  "rounds": [
    {"mainQuestion": "Capital of France", "mainAnswer": "Paris",
     "letterQuestions": [
       {"letter": "P", "question": "q1", "answer": "a1"},
       {"letter": "A", "question": "q2", "answer": "a2"},
       {"letter": "R", "question": "q3", "answer": "a3"},
       {"letter": "I", "question": "q4", "answer": "a4"},
       {"letter": "S", "question": "q5", "answer": "a5"}
     ]}
  ]
}`

type harness struct {
	t   *testing.T
	srv *httptest.Server
	svc *play.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	svc := play.New(store.NewMemoryStore(store.WithMaxAttempts(20)), play.WithRand(rand.New(rand.NewPCG(1, 1))))
	s := New(svc, identity.NewIssuer("test-secret", time.Hour), Options{
		ClientOrigin: "http://client.test",
		PublicURL:    "http://client.test",
		RateLimit:    1000,
		RateBurst:    1000,
	})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &harness{t: t, srv: srv, svc: svc}
}

func (h *harness) do(method, path, token string, body any, out any) int {
	h.t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		data, _ := json.Marshal(b)
		rd = bytes.NewReader(data)
	}
	req, _ := http.NewRequest(method, h.srv.URL+path, rd)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer res.Body.Close()
	if out != nil {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			h.t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return res.StatusCode
}

func (h *harness) signIn() (uid, token string) {
	h.t.Helper()
	var res signInRes
	if code := h.do("POST", "/auth/anonymous", "", nil, &res); code != http.StatusOK {
		h.t.Fatalf("sign in: %d", code)
	}
	return res.UID, res.Token
}

func (h *harness) create(token string) string {
	h.t.Helper()
	var res createRes
	if code := h.do("POST", "/games", token, definitionJSON, &res); code != http.StatusCreated {
		h.t.Fatalf("create: %d", code)
	}
	return res.Code
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	if code := h.do("GET", "/health", "", nil, nil); code != http.StatusOK {
		t.Fatalf("health = %d", code)
	}
	var body errorBody
	if code := h.do("GET", "/nope", "", nil, &body); code != http.StatusNotFound || body.Error != "not_found" {
		t.Fatalf("404 = %d %+v", code, body)
	}
}

func TestCreateRequiresAuth(t *testing.T) {
	h := newHarness(t)
	if code := h.do("POST", "/games", "", definitionJSON, nil); code != http.StatusUnauthorized {
		t.Fatalf("code = %d", code)
	}
	_, tok := h.signIn()
	var body errorBody
	if code := h.do("POST", "/games", tok, `{"title":"x","rounds":[]}`, &body); code != http.StatusBadRequest || body.Error != "invalid_definition" {
		t.Fatalf("empty definition = %d %+v", code, body)
	}
}

func TestGameFlow(t *testing.T) {
	h := newHarness(t)
	adminUID, admin := h.signIn()
	_, red := h.signIn()
	_, blue := h.signIn()
	code := h.create(admin)

	var adminView game.Game
	h.do("GET", "/games/"+code, admin, nil, &adminView)
	if adminView.CreatorID != adminUID || adminView.Rounds[0].MainAnswer != "PARIS" {
		t.Fatalf("admin view = %+v", adminView.Rounds[0])
	}
	var public game.Game
	h.do("GET", "/games/"+strings.ToLower(code), red, nil, &public)
	if public.Rounds[0].MainAnswer != "" {
		t.Fatal("public view leaks the main answer")
	}
	for _, q := range public.Rounds[0].LetterQuestions {
		if q.Answer != "" {
			t.Fatal("public view leaks letter answers")
		}
	}

	var j joinRes
	if code := h.do("POST", "/games/"+code+"/join", red, joinReq{Name: "<i>Red</i>"}, &j); code != http.StatusOK || j.Team != game.Team1 {
		t.Fatalf("join red = %d %+v", code, j)
	}
	h.do("POST", "/games/"+code+"/join", blue, joinReq{Name: "Blue"}, &j)
	if j.Team != game.Team2 {
		t.Fatalf("join blue = %+v", j)
	}
	var body errorBody
	if code := h.do("POST", "/games/"+code+"/join", "", joinReq{Name: "Green"}, &body); code != http.StatusConflict {
		t.Fatalf("third join = %d %+v", code, body)
	}

	key := game.SlotKeys("PARIS")[0]
	answer := adminView.Rounds[0].LetterQuestions[key].Answer
	if code := h.do("POST", "/games/"+code+"/reveal", blue, revealReq{Team: game.Team1, Slot: key, Answer: answer}, nil); code != http.StatusForbidden {
		t.Fatalf("blue playing for red = %d", code)
	}
	var rev game.RevealResult
	if code := h.do("POST", "/games/"+code+"/reveal", red, revealReq{Team: game.Team1, Slot: key, Answer: answer}, &rev); code != http.StatusOK || !rev.Correct {
		t.Fatalf("reveal = %d %+v", code, rev)
	}

	var sub game.SubmitResult
	if code := h.do("POST", "/games/"+code+"/answer", red, game.Submission{Team: game.Team1, Answer: "paris"}, &sub); code != http.StatusOK || !sub.Correct {
		t.Fatalf("answer = %d %+v", code, sub)
	}
	if code := h.do("POST", "/games/"+code+"/answer", red, game.Submission{Team: game.Team1, Answer: "paris"}, &body); code != http.StatusConflict {
		t.Fatalf("answer twice = %d", code)
	}

	var g game.Game
	h.do("GET", "/games/"+code, red, nil, &g)
	if g.Team1.Name != "Red" || g.Team1.Score != game.LetterRevealReward+game.InitialRoundPoints {
		t.Fatalf("team1 = %+v", g.Team1)
	}

	h.do("POST", "/games/"+code+"/forfeit", blue, teamReq{Team: game.Team2}, &g)
	if g.Status != game.StatusFinished || g.Winner != game.Team1 {
		t.Fatalf("after forfeit = %s %s", g.Status, g.Winner)
	}
}

func TestAdminRoutes(t *testing.T) {
	h := newHarness(t)
	_, admin := h.signIn()
	_, other := h.signIn()
	code := h.create(admin)

	if c := h.do("POST", "/games/"+code+"/start", other, nil, nil); c != http.StatusForbidden {
		t.Fatalf("non-admin start = %d", c)
	}
	if c := h.do("GET", "/games/"+code+"/export", other, nil, nil); c != http.StatusForbidden {
		t.Fatalf("non-admin export = %d", c)
	}

	var def game.Definition
	if c := h.do("GET", "/games/"+code+"/export", admin, nil, &def); c != http.StatusOK || def.Title != "Friday quiz" || len(def.Rounds[0].LetterQuestions) != 5 {
		t.Fatalf("export = %d %+v", c, def)
	}

	var g game.Game
	if c := h.do("PUT", "/games/"+code+"/rounds", admin, definitionJSON, &g); c != http.StatusOK {
		t.Fatalf("replace rounds = %d", c)
	}
	if c := h.do("POST", "/games/"+code+"/pause", admin, nil, nil); c != http.StatusConflict {
		t.Fatalf("pause in lobby = %d", c)
	}
	h.do("POST", "/games/"+code+"/start", admin, nil, &g)
	if g.Status != game.StatusInProgress {
		t.Fatalf("start: %s", g.Status)
	}
	h.do("POST", "/games/"+code+"/pause", admin, nil, &g)
	if g.Status != game.StatusPaused {
		t.Fatalf("pause: %s", g.Status)
	}
	h.do("POST", "/games/"+code+"/resume", admin, nil, &g)
	h.do("POST", "/games/"+code+"/skip", admin, nil, &g)
	if g.Status != game.StatusFinished {
		t.Fatalf("skip on last round: %s", g.Status)
	}
	if c := h.do("POST", "/games/"+code+"/disqualify", admin, teamReq{Team: game.Team1}, nil); c != http.StatusConflict {
		t.Fatalf("disqualify finished = %d", c)
	}
}

func TestUnknownGame(t *testing.T) {
	h := newHarness(t)
	var body errorBody
	if c := h.do("GET", "/games/ZZZZ", "", nil, &body); c != http.StatusNotFound || body.Error != "not_found" {
		t.Fatalf("get = %d %+v", c, body)
	}
	if c := h.do("GET", "/games/ZZZZ/qr.png", "", nil, nil); c != http.StatusNotFound {
		t.Fatalf("qr = %d", c)
	}
}

func TestQR(t *testing.T) {
	h := newHarness(t)
	_, admin := h.signIn()
	code := h.create(admin)
	res, err := http.Get(h.srv.URL + "/games/" + code + "/qr.png")
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	data, _ := io.ReadAll(res.Body)
	if res.StatusCode != http.StatusOK || res.Header.Get("Content-Type") != "image/png" || !bytes.HasPrefix(data, []byte("\x89PNG")) {
		t.Fatalf("qr = %d %s", res.StatusCode, res.Header.Get("Content-Type"))
	}
}

func TestRateLimit(t *testing.T) {
	svc := play.New(store.NewMemoryStore())
	s := New(svc, identity.NewIssuer("k", time.Hour), Options{RateLimit: 0.001, RateBurst: 1})
	code := func() int {
		req := httptest.NewRequest("POST", "/games/ABCD/join", strings.NewReader(`{"name":"x"}`))
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		return rec.Code
	}
	if c := code(); c != http.StatusNotFound {
		t.Fatalf("first = %d", c)
	}
	if c := code(); c != http.StatusTooManyRequests {
		t.Fatalf("second = %d", c)
	}
}

func TestWebsocketPush(t *testing.T) {
	h := newHarness(t)
	_, admin := h.signIn()
	code := h.create(admin)

	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/games/" + code + "/ws"
	hdr := http.Header{"Origin": {"http://client.test"}}
	conn, _, err := websocket.DefaultDialer.Dial(url, hdr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	read := func() pushMsg {
		t.Helper()
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg pushMsg
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		return msg
	}
	first := read()
	if first.Type != "game" || first.Game.ID != code || first.Game.Rounds[0].MainAnswer != "" {
		t.Fatalf("first push = %+v", first)
	}

	h.do("POST", "/games/"+code+"/join", "", joinReq{Name: "Red"}, nil)
	for {
		msg := read()
		if msg.Game.Team1 != nil {
			if msg.Game.Team1.Name != "Red" {
				t.Fatalf("team1 = %+v", msg.Game.Team1)
			}
			break
		}
	}

	if _, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://evil.test"}}); err == nil {
		t.Fatal("foreign origin accepted")
	}
}
