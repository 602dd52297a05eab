package web

import (
	"context"
	"encoding/json"
	"html"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signupboard/internal/activities"
	"signupboard/internal/activities/activitiestest"
	"signupboard/internal/config"
	"signupboard/internal/ui"
)

type fixture struct {
	svc   *activitiestest.Service
	board *ui.Controller
	clk   *clock.Mock
	h     http.Handler
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()
	svc := activitiestest.New(t, activitiestest.Seed()...)
	client := activities.NewClient(svc.URL())
	clk := clock.NewMock()
	board := ui.New(client, ui.WithClock(clk), ui.WithLocation(time.UTC))

	cfg := config.DefaultConfig()
	cfg.Timezone = "UTC"
	cfg.RateLimit.RPS = 0
	if mutate != nil {
		mutate(cfg)
	}
	return &fixture{
		svc:   svc,
		board: board,
		clk:   clk,
		h:     NewServer(cfg, board, client).Handler(),
	}
}

func (f *fixture) get(t *testing.T, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func (f *fixture) post(t *testing.T, target string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	return rec
}

func TestIndexBeforeFirstLoadShowsLoading(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.get(t, "/")

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `data-ready="false"`)
	assert.Contains(t, body, "<p>Loading activities...</p>")
	assert.Contains(t, body, `<div id="message" class="hidden">`)
}

func TestIndexRendersCards(t *testing.T) {
	f := newFixture(t, nil)
	f.board.Initialize(context.Background())

	rec := f.get(t, "/")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, `data-ready="true"`)
	assert.NotContains(t, body, "Loading activities...")

	chess := strings.Index(body, "<h4>Chess Club</h4>")
	prog := strings.Index(body, "<h4>Programming Class</h4>")
	art := strings.Index(body, "<h4>Art Workshop</h4>")
	require.True(t, chess >= 0 && prog >= 0 && art >= 0)
	assert.Less(t, chess, prog)
	assert.Less(t, prog, art)

	assert.Contains(t, body, "<strong>Availability:</strong> 10 spots left")
	assert.Contains(t, body, `<span class="participant-email">michael@mergington.edu</span>`)
	assert.Contains(t, html.UnescapeString(body), `href="/unregister?activity=Chess+Club&email=michael%40mergington.edu"`)
	assert.Contains(t, body, `<option value="Art Workshop">Art Workshop</option>`)

	// Art Workshop has nobody: placeholder, no list.
	artCard := body[art:]
	assert.Contains(t, artCard, `<p class="no-participants">No participants yet</p>`)
	assert.NotContains(t, artCard[:strings.Index(artCard, "no-participants")], "participants-list")
}

func TestIndexAfterLoadFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.svc.Respond(http.MethodGet, "/activities", http.StatusInternalServerError, `{"detail":"boom"}`)
	f.board.Initialize(context.Background())

	body := f.get(t, "/").Body.String()

	assert.Contains(t, body, `data-ready="true"`)
	assert.Contains(t, body, "<p>Failed to load activities. Please try again later.</p>")
	assert.NotContains(t, body, "activity-card")
}

func TestSignupRedirectsAndShowsMessage(t *testing.T) {
	f := newFixture(t, nil)
	f.board.Initialize(context.Background())

	rec := f.post(t, "/signup", url.Values{"email": {"new@mergington.edu"}, "activity": {"Art Workshop"}})

	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))

	a, ok := f.svc.Activity("Art Workshop")
	require.True(t, ok)
	assert.Equal(t, []string{"new@mergington.edu"}, a.Participants)

	body := f.get(t, "/").Body.String()
	assert.Contains(t, body, `<div id="message" class="success">Signed up new@mergington.edu for Art Workshop</div>`)
	assert.Contains(t, body, `<meta http-equiv="refresh"`)
	assert.Contains(t, body, `<span class="participant-email">new@mergington.edu</span>`)
	assert.NotContains(t, body, `value="new@mergington.edu"`, "form is reset after success")
	assert.NotContains(t, body, " selected>")
}

func TestSignupErrorTextIsEscaped(t *testing.T) {
	f := newFixture(t, nil)
	f.board.Initialize(context.Background())
	f.svc.Respond(http.MethodPost, "/activities/Chess%20Club/signup", http.StatusBadRequest, `{"detail":"<b>nope</b>"}`)

	f.post(t, "/signup", url.Values{"email": {"x@mergington.edu"}, "activity": {"Chess Club"}})

	body := f.get(t, "/").Body.String()
	assert.Contains(t, body, `class="error">&lt;b&gt;nope&lt;/b&gt;</div>`)
	assert.NotContains(t, body, "<b>nope</b>")
	// The chosen activity stays selected; the address is not echoed.
	assert.Contains(t, body, `<option value="Chess Club" selected>`)
	assert.NotContains(t, body, `value="x@mergington.edu"`)
}

func TestFailedSignupDoesNotExposeEmail(t *testing.T) {
	f := newFixture(t, nil)
	f.board.Initialize(context.Background())
	f.svc.Respond(http.MethodPost, "/activities/Chess%20Club/signup", http.StatusBadRequest, `{"detail":"Student already signed up for this activity"}`)

	f.post(t, "/signup", url.Values{"email": {"private@mergington.edu"}, "activity": {"Chess Club"}})

	// Any other visitor loading the shared board.
	assert.NotContains(t, f.get(t, "/").Body.String(), "private@mergington.edu")
	assert.NotContains(t, f.get(t, "/api/board").Body.String(), "private@mergington.edu")
}

func TestZeroRateFromConfigDisablesLimiting(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.RateLimit.RPS = 0
		c.RateLimit.Burst = 1
		c.Normalize()
	})
	f.board.Initialize(context.Background())

	for i := range 20 {
		rec := f.post(t, "/signup", url.Values{"email": {"bulk@mergington.edu"}, "activity": {"Art Workshop"}})
		require.Equal(t, http.StatusSeeOther, rec.Code, "request %d", i)
	}
}

func TestSignupValidationNeverReachesService(t *testing.T) {
	f := newFixture(t, nil)
	f.board.Initialize(context.Background())

	f.post(t, "/signup", url.Values{"email": {"not-an-email"}, "activity": {"Chess Club"}})

	assert.Equal(t, 0, f.svc.Count(http.MethodPost, "/activities/Chess%20Club/signup"))
	body := f.get(t, "/").Body.String()
	assert.Contains(t, body, ui.EmailInvalidText)
}

func TestConfirmPageDoesNotCallService(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.get(t, "/unregister?activity=Chess+Club&email=michael%40mergington.edu")

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Are you sure you want to remove michael@mergington.edu from Chess Club?")
	assert.Contains(t, body, `name="activity" value="Chess Club"`)
	assert.Contains(t, body, `name="confirm" value="yes"`)
	assert.Contains(t, body, `name="confirm" value="no"`)
	assert.Empty(t, f.svc.Requests())
}

func TestConfirmPageRequiresParams(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.get(t, "/unregister?activity=Chess+Club")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.post(t, "/unregister", url.Values{"email": {"a@b.co"}, "confirm": {"yes"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnregisterDeclined(t *testing.T) {
	f := newFixture(t, nil)
	f.board.Initialize(context.Background())

	rec := f.post(t, "/unregister", url.Values{
		"activity": {"Chess Club"},
		"email":    {"michael@mergington.edu"},
		"confirm":  {"no"},
	})

	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, 0, f.svc.Count(http.MethodDelete, "/activities/Chess%20Club/unregister"))
	assert.False(t, f.board.View().Message.Visible())
}

func TestUnregisterConfirmed(t *testing.T) {
	f := newFixture(t, nil)
	f.board.Initialize(context.Background())

	rec := f.post(t, "/unregister", url.Values{
		"activity": {"Chess Club"},
		"email":    {"michael@mergington.edu"},
		"confirm":  {"yes"},
	})

	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, 1, f.svc.Count(http.MethodDelete, "/activities/Chess%20Club/unregister"))

	body := f.get(t, "/").Body.String()
	assert.Contains(t, body, `class="success">Unregistered michael@mergington.edu from Chess Club</div>`)
	assert.NotContains(t, body, `<span class="participant-email">michael@mergington.edu</span>`)

	f.clk.Add(3 * time.Second)
	body = f.get(t, "/").Body.String()
	assert.Contains(t, body, `<div id="message" class="hidden"></div>`)
	assert.NotContains(t, body, `http-equiv="refresh"`)
}

func TestBoardJSON(t *testing.T) {
	f := newFixture(t, nil)
	f.board.Initialize(context.Background())

	rec := f.get(t, "/api/board")

	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		List    string   `json:"list"`
		Options []string `json:"options"`
		Cards   []struct {
			Name      string `json:"name"`
			SpotsLeft int    `json:"spots_left"`
		} `json:"cards"`
		Message struct {
			Kind string `json:"kind"`
		} `json:"message"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "ready", got.List)
	assert.Equal(t, []string{"Chess Club", "Programming Class", "Art Workshop"}, got.Options)
	require.Len(t, got.Cards, 3)
	assert.Equal(t, 16, got.Cards[2].SpotsLeft)
	assert.Equal(t, "hidden", got.Message.Kind)
}

func TestRefreshEndpoint(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.post(t, "/api/refresh", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, f.svc.Count(http.MethodGet, "/activities"))
	assert.True(t, f.board.View().Ready())

	f.svc.Respond(http.MethodGet, "/activities", http.StatusServiceUnavailable, "")
	rec = f.post(t, "/api/refresh", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), ui.LoadFailedText)
}

func TestCalendarExport(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.get(t, "/calendar.ics")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/calendar; charset=utf-8", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "BEGIN:VCALENDAR")
	assert.Contains(t, body, "SUMMARY:Chess Club")
	assert.Contains(t, body, "RRULE:")
}

func TestCalendarExportServiceDown(t *testing.T) {
	f := newFixture(t, nil)
	f.svc.Close()

	rec := f.get(t, "/calendar.ics")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestPreviewServesCapturedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preview.png")
	f := newFixture(t, func(c *config.Config) { c.Capture.OutputPath = path })

	rec := f.get(t, "/preview.png")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.NoError(t, os.WriteFile(path, []byte("\x89PNG\r\n\x1a\n"), 0o644))
	rec = f.get(t, "/preview.png")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
}

func TestStaticAssets(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.get(t, "/static/styles.css")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "#message.hidden")
}

func TestBasicAuth(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "secret"}
	})

	rec := f.get(t, "/")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	rec = f.get(t, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.SetBasicAuth("admin", "secret")
	rec = httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.SetBasicAuth("admin", "wrong")
	rec = httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMutatingRoutesAreRateLimited(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.RateLimit.RPS = 0.001
		c.RateLimit.Burst = 1
	})
	f.board.Initialize(context.Background())
	form := url.Values{"email": {"a@mergington.edu"}, "activity": {"Art Workshop"}}

	assert.Equal(t, http.StatusSeeOther, f.post(t, "/signup", form).Code)
	rec := f.post(t, "/signup", form)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	// Reads stay unlimited.
	assert.Equal(t, http.StatusOK, f.get(t, "/").Code)
}

func TestRateLimiterPrunesIdleClients(t *testing.T) {
	rl := newRateLimiter(1, 1)
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	rl.get("10.0.0.1")
	now = now.Add(limiterIdleTTL + limiterPruneEvery + time.Second)
	rl.get("10.0.0.2")

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.NotContains(t, rl.clients, "10.0.0.1")
	assert.Contains(t, rl.clients, "10.0.0.2")
}

func TestUnknownRoute(t *testing.T) {
	f := newFixture(t, nil)
	assert.Equal(t, http.StatusNotFound, f.get(t, "/nope").Code)
}
