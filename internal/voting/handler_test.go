package voting

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bananalabs-oss/pms/internal/auth"
	"github.com/bananalabs-oss/pms/internal/compos"
	"github.com/bananalabs-oss/pms/internal/models"
	"github.com/bananalabs-oss/pms/internal/testutil"
	"github.com/bananalabs-oss/pms/internal/votekeys"
	"github.com/bananalabs-oss/pms/internal/votes"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

type testEnv struct {
	db      *bun.DB
	engine  *gin.Engine
	signer  *auth.CookieSigner
	party   *models.Party
	compo   *models.Compo
	entries []models.Entry
}

func newTestEnv(t *testing.T, status models.VotingStatus, pos int) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.NewDB(t)
	party := testutil.CreateParty(t, db, "Assembly", true)
	compo := testutil.CreateCompo(t, db, party.ID, "Demo", status, pos)
	entries := testutil.AddEntries(t, db, compo.ID, "E1", "E2", "E3")

	log := zap.NewNop()
	compoService := compos.NewService(db, log)
	signer := auth.NewCookieSigner("test-secret")
	h := NewHandler(
		votekeys.NewStore(db, log),
		compoService,
		votes.NewLedger(db, compoService, log),
		signer,
		Options{LoginRatePerMinute: 60, LoginBurst: 3},
		log,
	)

	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.POST("/parties/:partyId/vote/login", h.Login)
	r.POST("/vote/logout", h.Logout)
	r.GET("/compos/:compoId/results", h.Results)

	voter := r.Group("")
	voter.Use(h.RequireVoteKey())
	voter.GET("/compos/:compoId/vote", h.Ballot)
	voter.POST("/vote", h.CastVote)

	internal := r.Group("/internal")
	internal.Use(auth.GrantService())
	internal.POST("/advance-entry", h.AdvanceEntry)
	internal.POST("/compos/:compoId/status", h.SetStatus)
	internal.GET("/compos/:compoId/ranking", h.Ranking)
	internal.POST("/parties/:partyId/votekeys/import", h.ImportKeys)

	member := r.Group("/staff")
	member.Use(func(c *gin.Context) {
		c.Set("account_id", "someone")
		c.Next()
	}, auth.ResolveStaff([]string{"staff-account"}))
	member.POST("/advance-entry", h.AdvanceEntry)
	member.GET("/compos/:compoId/ranking", h.Ranking)

	return &testEnv{db: db, engine: r, signer: signer, party: party, compo: compo, entries: entries}
}

func (e *testEnv) do(method, path string, body interface{}, cookie *http.Cookie) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, _ := json.Marshal(b)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if _, isText := body.(string); !isText && body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	return w
}

func (e *testEnv) postForm(path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	return w
}

func (e *testEnv) voteCookie(key string) *http.Cookie {
	return &http.Cookie{Name: auth.VoteKeyCookie, Value: e.signer.Sign(e.party.ID, key)}
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t, models.VotingOpen, 0)
	testutil.CreateVoteKey(t, env.db, env.party.ID, "abc123")
	path := "/parties/" + env.party.ID.String() + "/vote/login"

	w := env.do("POST", path, map[string]string{"key": "abc123"}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var issued *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == auth.VoteKeyCookie {
			issued = c
		}
	}
	require.NotNil(t, issued)
	assert.True(t, issued.HttpOnly)
	assert.NotContains(t, issued.Value, "abc123")

	w = env.do("GET", "/compos/"+env.compo.ID.String()+"/vote", nil, issued)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do("POST", path, map[string]string{"key": "wrong"}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "invalid_key", resp.Error)

	w = env.do("POST", path, map[string]string{}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLogin_Throttled(t *testing.T) {
	env := newTestEnv(t, models.VotingOpen, 0)
	path := "/parties/" + env.party.ID.String() + "/vote/login"

	codes := []int{}
	for i := 0; i < 4; i++ {
		w := env.do("POST", path, map[string]string{"key": "guess"}, nil)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{401, 401, 401, 429}, codes)
}

func TestVoterRoutesRequireKey(t *testing.T) {
	env := newTestEnv(t, models.VotingOpen, 0)
	testutil.CreateVoteKey(t, env.db, env.party.ID, "abc123")
	ballot := "/compos/" + env.compo.ID.String() + "/vote"

	tests := []struct {
		name   string
		cookie *http.Cookie
	}{
		{name: "no cookie"},
		{name: "unsigned raw key", cookie: &http.Cookie{Name: auth.VoteKeyCookie, Value: "abc123"}},
		{name: "signed unknown key", cookie: env.voteCookie("abc124")},
		{name: "signed by another secret", cookie: &http.Cookie{
			Name:  auth.VoteKeyCookie,
			Value: auth.NewCookieSigner("other").Sign(env.party.ID, "abc123"),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do("GET", ballot, nil, tt.cookie)
			assert.Equal(t, http.StatusUnauthorized, w.Code)

			w = env.do("POST", "/vote", map[string]interface{}{"entry_id": env.entries[0].ID, "points": 3}, tt.cookie)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestBallotAndCastVote(t *testing.T) {
	env := newTestEnv(t, models.VotingLive, 2)
	testutil.CreateVoteKey(t, env.db, env.party.ID, "abc123")
	cookie := env.voteCookie("abc123")
	ballot := "/compos/" + env.compo.ID.String() + "/vote"

	w := env.do("POST", "/vote", map[string]interface{}{"entry_id": env.entries[0].ID, "points": 4}, cookie)
	require.Equal(t, http.StatusOK, w.Code)
	var vote models.Vote
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &vote))
	assert.Equal(t, 4, vote.Points)

	w = env.do("POST", "/vote", map[string]interface{}{"entry_id": env.entries[0].ID, "points": 0}, cookie)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do("GET", ballot, nil, cookie)
	require.Equal(t, http.StatusOK, w.Code)
	var resp BallotResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Entries, 2)
	assert.Equal(t, "E1", resp.Entries[0].Entry.Title)
	require.NotNil(t, resp.Entries[0].Vote)
	assert.Equal(t, 0, resp.Entries[0].Vote.Points)
	assert.Nil(t, resp.Entries[1].Vote)

	tests := []struct {
		name string
		body interface{}
		want int
	}{
		{name: "not yet shown", body: map[string]interface{}{"entry_id": env.entries[2].ID, "points": 3}, want: http.StatusConflict},
		{name: "points too high", body: map[string]interface{}{"entry_id": env.entries[0].ID, "points": 6}, want: http.StatusBadRequest},
		{name: "points negative", body: map[string]interface{}{"entry_id": env.entries[0].ID, "points": -1}, want: http.StatusBadRequest},
		{name: "missing points", body: map[string]interface{}{"entry_id": env.entries[0].ID}, want: http.StatusBadRequest},
		{name: "malformed entry", body: map[string]interface{}{"entry_id": "x", "points": 1}, want: http.StatusBadRequest},
		{name: "unknown entry", body: map[string]interface{}{"entry_id": uuid.New(), "points": 1}, want: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do("POST", "/vote", tt.body, cookie)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestBallot_ClosedShowsNothing(t *testing.T) {
	env := newTestEnv(t, models.VotingClosed, 3)
	testutil.CreateVoteKey(t, env.db, env.party.ID, "abc123")

	w := env.do("GET", "/compos/"+env.compo.ID.String()+"/vote", nil, env.voteCookie("abc123"))
	require.Equal(t, http.StatusOK, w.Code)

	var resp BallotResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Empty(t, resp.Entries)
}

func TestAdvanceEntry(t *testing.T) {
	env := newTestEnv(t, models.VotingLive, 0)
	compoID := env.compo.ID.String()

	w := env.do("POST", "/internal/advance-entry", map[string]interface{}{"compo_id": compoID, "current_entry": 2}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp AdvanceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	require.NotNil(t, resp.CurrentEntry)
	assert.Equal(t, 2, *resp.CurrentEntry)

	w = env.do("POST", "/internal/advance-entry", map[string]interface{}{"compo_id": compoID}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, *resp.CurrentEntry)

	w = env.postForm("/internal/advance-entry", "compo_id="+compoID+"&current_entry=2")
	require.Equal(t, http.StatusOK, w.Code)

	w = env.postForm("/internal/advance-entry", "compo_id="+compoID+"&current_entry=")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.CurrentEntry)
	assert.Equal(t, 2, *resp.CurrentEntry)

	w = env.postForm("/internal/advance-entry", "compo_id="+compoID+"&current_entry=two")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		want   int
	}{
		{name: "missing compo", method: "POST", path: "/internal/advance-entry", body: map[string]interface{}{"current_entry": 1}, want: http.StatusBadRequest},
		{name: "unknown compo", method: "POST", path: "/internal/advance-entry", body: map[string]interface{}{"compo_id": uuid.NewString(), "current_entry": 1}, want: http.StatusBadRequest},
		{name: "not staff", method: "POST", path: "/staff/advance-entry", body: map[string]interface{}{"compo_id": compoID, "current_entry": 1}, want: http.StatusForbidden},
		{name: "wrong method", method: "GET", path: "/internal/advance-entry", want: http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(tt.method, tt.path, tt.body, nil)
			assert.Equal(t, tt.want, w.Code)
			if tt.want != http.StatusMethodNotAllowed {
				var resp AdvanceResponse
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
				assert.False(t, resp.Success)
			}
		})
	}

	compo, err := compos.NewService(env.db, zap.NewNop()).Get(t.Context(), env.compo.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, compo.CurrentEntryPos)
}

func TestSetStatus(t *testing.T) {
	env := newTestEnv(t, models.VotingUpcoming, 0)
	path := "/internal/compos/" + env.compo.ID.String() + "/status"

	w := env.do("POST", path, map[string]interface{}{"status": "live"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var compo models.Compo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &compo))
	assert.Equal(t, models.VotingLive, compo.VotingStatus)

	w = env.do("POST", path, map[string]interface{}{"status": "upcoming"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do("POST", path, map[string]interface{}{"status": "U", "force": true}, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do("POST", path, map[string]interface{}{"status": "sideways"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestResultsSealedUntilClosed(t *testing.T) {
	env := newTestEnv(t, models.VotingOpen, 0)
	key := testutil.CreateVoteKey(t, env.db, env.party.ID, "abc123")
	results := "/compos/" + env.compo.ID.String() + "/results"

	w := env.do("POST", "/vote", map[string]interface{}{"entry_id": env.entries[1].ID, "points": 5}, env.voteCookie(key.Key))
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do("GET", results, nil, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do("GET", "/internal/compos/"+env.compo.ID.String()+"/ranking", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do("GET", "/staff/compos/"+env.compo.ID.String()+"/ranking", nil, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	testutil.SetStatus(t, env.db, env.compo.ID, models.VotingClosed, 0)
	w = env.do("GET", results, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp StandingsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Placements, 3)
	assert.Equal(t, "E2", resp.Placements[0].Entry.Title)
	assert.Equal(t, 5, resp.Placements[0].TotalPoints)
	assert.Equal(t, []int{1, 2, 2}, []int{resp.Placements[0].Rank, resp.Placements[1].Rank, resp.Placements[2].Rank})
}

func TestImportKeys(t *testing.T) {
	env := newTestEnv(t, models.VotingUpcoming, 0)
	path := "/internal/parties/" + env.party.ID.String() + "/votekeys/import"

	w := env.do("POST", path, "A\nB\nA\n", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var result votekeys.ImportResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, 2, result.SuccessCount)
	assert.Equal(t, 1, result.FailureCount)

	w = env.do("POST", path, map[string]interface{}{"keys": []string{"B", "C"}}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, 1, result.SuccessCount)
	assert.Equal(t, []string{"B"}, result.Failed)

	w = env.do("POST", "/internal/parties/"+uuid.NewString()+"/votekeys/import", "A", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do("POST", "/internal/parties/nope/votekeys/import", strings.Repeat("k\n", 3), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestImportKeys_OversizedBodyImportsNothing(t *testing.T) {
	env := newTestEnv(t, models.VotingUpcoming, 0)
	path := "/internal/parties/" + env.party.ID.String() + "/votekeys/import"

	body := strings.Repeat("k", maxImportSize-2) + "\nSECRETKEY12345\n"
	w := env.do("POST", path, body, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	w = env.do("POST", path, map[string]interface{}{"keys": []string{strings.Repeat("k", maxImportSize)}}, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	n, err := votekeys.NewStore(env.db, zap.NewNop()).Count(t.Context(), env.party.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}
