package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"regexp"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"addrbook/internal/auth"
	"addrbook/internal/config"
	"addrbook/internal/mail"
	"addrbook/internal/middleware"
	"addrbook/internal/platform/entry"
	"addrbook/internal/platform/storage"
	puser "addrbook/internal/platform/user"
)

var confirmPath = regexp.MustCompile(`http://addrbook\.test(/api/auth/confirm/\S+)`)

type recordingMailer struct {
	mu   sync.Mutex
	sent []*mail.Email
}

func (m *recordingMailer) SendMail(_ context.Context, e *mail.Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, e)
	return nil
}

func (m *recordingMailer) lastBody() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return ""
	}
	return m.sent[len(m.sent)-1].Body
}

type testEnv struct {
	app    *fiber.App
	mailer *recordingMailer
	blobs  *storage.MemoryBlobs
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := &config.Config{BaseURL: "http://addrbook.test", TokenTimeoutDays: 3}
	mailer := &recordingMailer{}
	blobs := storage.NewMemoryBlobs()

	users := puser.NewService(puser.NewMemoryRepository(), mailer, auth.NewTokenGenerator("secret", 3), "no-reply@addrbook.test")
	entries := entry.NewService(entry.NewMemoryRepository(), blobs)

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	app.Use(middleware.Inject(middleware.Services{
		Config:  cfg,
		Entries: entries,
		Users:   users,
		Store:   session.New(),
	}))
	SetupRoutes(app)

	return &testEnv{app: app, mailer: mailer, blobs: blobs}
}

func (env *testEnv) do(t *testing.T, req *http.Request, cookie string) (*http.Response, map[string]any) {
	t.Helper()

	if cookie != "" {
		req.Header.Set("Cookie", cookie)
	}

	resp, err := env.app.Test(req, -1)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()

	var body map[string]any
	if len(raw) > 0 && json.Valid(raw) {
		require.NoError(t, json.Unmarshal(raw, &body))
	}
	return resp, body
}

func jsonRequest(t *testing.T, method, path string, payload any) *http.Request {
	t.Helper()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, body)
	if payload != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	return req
}

// signIn registers, confirms and logs in username, returning the session cookie.
func (env *testEnv) signIn(t *testing.T, username string) string {
	t.Helper()

	resp, _ := env.do(t, jsonRequest(t, http.MethodPost, "/api/auth/register", map[string]string{
		"username":         username,
		"password":         "correct horse",
		"confirm_password": "correct horse",
		"email":            username + "@x.com",
	}), "")
	require.Equal(t, fiber.StatusAccepted, resp.StatusCode)

	match := confirmPath.FindStringSubmatch(env.mailer.lastBody())
	require.Len(t, match, 2)

	resp, _ = env.do(t, httptest.NewRequest(http.MethodGet, match[1], nil), "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, _ = env.do(t, jsonRequest(t, http.MethodPost, "/api/auth/login", map[string]string{
		"username": username,
		"password": "correct horse",
	}), "")
	require.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	for _, c := range resp.Cookies() {
		if c.Name == "session_id" {
			return c.Name + "=" + c.Value
		}
	}
	t.Fatal("login did not set a session cookie")
	return ""
}

func (env *testEnv) createEntry(t *testing.T, cookie string, fields map[string]string) map[string]any {
	t.Helper()
	resp, body := env.do(t, jsonRequest(t, http.MethodPost, "/api/entries", fields), cookie)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode, "body: %v", body)
	return body
}

func entryPath(e map[string]any) string {
	return fmt.Sprintf("/api/entries/%v", e["id"])
}

func TestEntriesRequireSession(t *testing.T) {
	env := newTestEnv(t)

	testCases := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/entries?last=s"},
		{http.MethodPost, "/api/entries"},
		{http.MethodGet, "/api/entries/1"},
		{http.MethodPut, "/api/entries/1"},
		{http.MethodDelete, "/api/entries/1?confirm=true"},
		{http.MethodGet, "/api/user/me"},
	}

	for _, tc := range testCases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			resp, body := env.do(t, httptest.NewRequest(tc.method, tc.path, nil), "")
			assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
			assert.Equal(t, "Unauthorized", body["message"])
		})
	}
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, jsonRequest(t, http.MethodPost, "/api/auth/register", map[string]string{
		"username":         "alice",
		"password":         "correct horse",
		"confirm_password": "wrong horse",
		"email":            "not-an-email",
	}), "")

	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	require.Contains(t, body, "errors")
	errs := body["errors"].(map[string]any)
	assert.Contains(t, errs, "email")
	assert.Contains(t, errs, "confirm_password")
}

func TestConfirmBadLink(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, httptest.NewRequest(http.MethodGet, "/api/auth/confirm/nobody/1-abc", nil), "")

	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestLoginWrongPassword(t *testing.T) {
	env := newTestEnv(t)
	env.signIn(t, "alice")

	resp, _ := env.do(t, jsonRequest(t, http.MethodPost, "/api/auth/login", map[string]string{
		"username": "alice",
		"password": "wrong horse",
	}), "")

	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestCurrentUser(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.signIn(t, "alice")

	resp, body := env.do(t, httptest.NewRequest(http.MethodGet, "/api/user/me", nil), cookie)

	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "alice", body["username"])
	assert.NotContains(t, body, "password_hash")
}

func TestSearchOutcomes(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.signIn(t, "alice")

	env.createEntry(t, cookie, map[string]string{"first_name": "Ann", "last_name": "Smith"})
	env.createEntry(t, cookie, map[string]string{"first_name": "Bob", "last_name": "Smithers"})

	testCases := []struct {
		last    string
		outcome string
	}{
		{"smith", "multiple"},
		{"smithe", "single"},
		{"jones", "no_match"},
	}

	for _, tc := range testCases {
		t.Run(tc.last, func(t *testing.T) {
			resp, body := env.do(t, httptest.NewRequest(http.MethodGet, "/api/entries?last="+tc.last, nil), cookie)
			require.Equal(t, fiber.StatusOK, resp.StatusCode)
			assert.Equal(t, tc.outcome, body["outcome"])

			switch tc.outcome {
			case "single":
				assert.Contains(t, body, "entry")
			case "no_match":
				assert.Equal(t, "No entries with last name = jones", body["message"])
			}
		})
	}
}

func TestEditConflictFlow(t *testing.T) {
	env := newTestEnv(t)
	alice := env.signIn(t, "alice")
	bob := env.signIn(t, "bob")

	created := env.createEntry(t, alice, map[string]string{"last_name": "Smith"})
	path := entryPath(created)

	// Both editors load the same snapshot.
	_, aliceView := env.do(t, httptest.NewRequest(http.MethodGet, path, nil), alice)
	_, bobView := env.do(t, httptest.NewRequest(http.MethodGet, path, nil), bob)
	require.Equal(t, aliceView["update_time"], bobView["update_time"])

	resp, updated := env.do(t, jsonRequest(t, http.MethodPut, path, map[string]any{
		"update_time": aliceView["update_time"],
		"last_name":   "Smith",
		"city":        "Delft",
	}), alice)
	require.Equal(t, fiber.StatusOK, resp.StatusCode, "body: %v", updated)
	assert.Equal(t, "alice", updated["updated_by"])

	resp, conflict := env.do(t, jsonRequest(t, http.MethodPut, path, map[string]any{
		"update_time": bobView["update_time"],
		"last_name":   "Smith",
		"city":        "Gouda",
	}), bob)
	require.Equal(t, fiber.StatusConflict, resp.StatusCode)
	assert.Equal(t, "Another user has modified this record. Re-enter your changes.", conflict["message"])

	current := conflict["entry"].(map[string]any)
	assert.Equal(t, "Delft", current["city"])
	assert.Equal(t, updated["update_time"], current["update_time"])

	resp, _ = env.do(t, jsonRequest(t, http.MethodPut, path, map[string]any{
		"update_time": current["update_time"],
		"last_name":   "Smith",
		"city":        "Gouda",
	}), bob)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestUpdateRequiresBase(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.signIn(t, "alice")
	created := env.createEntry(t, cookie, map[string]string{"last_name": "Smith"})

	testCases := []struct {
		name       string
		updateTime any
		wantField  string
	}{
		{"missing", nil, "update_time"},
		{"malformed", "yesterday", "update_time"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			payload := map[string]any{"last_name": "Smith"}
			if tc.updateTime != nil {
				payload["update_time"] = tc.updateTime
			}

			resp, body := env.do(t, jsonRequest(t, http.MethodPut, entryPath(created), payload), cookie)

			assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
			assert.Contains(t, body["errors"], tc.wantField)
		})
	}
}

func TestUpdateUnknownEntry(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.signIn(t, "alice")

	resp, body := env.do(t, jsonRequest(t, http.MethodPut, "/api/entries/99", map[string]any{
		"update_time": "2026-10-18T09:00:00Z",
		"last_name":   "Smith",
	}), cookie)

	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Record with id=99 does not exist", body["message"])
}

func TestDeleteFlow(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.signIn(t, "alice")
	created := env.createEntry(t, cookie, map[string]string{"first_name": "Ann", "last_name": "Smith"})
	path := entryPath(created)

	resp, _ := env.do(t, httptest.NewRequest(http.MethodDelete, path, nil), cookie)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode, "unconfirmed delete")

	resp, body := env.do(t, httptest.NewRequest(http.MethodDelete, path+"?confirm=true", nil), cookie)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "Entry for Smith, Ann has been deleted", body["message"])
	assert.NotContains(t, body, "warning")

	resp, _ = env.do(t, httptest.NewRequest(http.MethodGet, path, nil), cookie)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestCreateWithPicture(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.signIn(t, "alice")

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("first_name", "Ann"))
	require.NoError(t, w.WriteField("last_name", "Smith"))
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="picture"; filename="ann.png"`)
	header.Set(fiber.HeaderContentType, "image/png")
	part, err := w.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write([]byte("\x89PNG\r\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/entries", &buf)
	req.Header.Set(fiber.HeaderContentType, w.FormDataContentType())

	resp, created := env.do(t, req, cookie)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode, "body: %v", created)
	assert.Equal(t, "Smith", created["last_name"])
	assert.NotNil(t, created["picture_url"])
	assert.Equal(t, 1, env.blobs.Len())

	resp, _ = env.do(t, httptest.NewRequest(http.MethodGet, entryPath(created)+"/picture", nil), cookie)
	assert.Equal(t, fiber.StatusFound, resp.StatusCode)
	assert.Contains(t, resp.Header.Get(fiber.HeaderLocation), "pictures/entry-")
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.signIn(t, "alice")

	resp, _ := env.do(t, httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil), cookie)
	require.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	resp, _ = env.do(t, httptest.NewRequest(http.MethodGet, "/api/entries?last=", nil), cookie)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}
