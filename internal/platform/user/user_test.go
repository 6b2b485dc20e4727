package user

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"addrbook/internal/apperr"
	"addrbook/internal/auth"
	"addrbook/internal/mail"
)

const linkBase = "http://addrbook.test"

var linkRegex = regexp.MustCompile(`http://addrbook\.test/api/auth/confirm/([^/\s]+)/([a-z0-9]+-[a-f0-9]+)`)

type recordingMailer struct {
	mu   sync.Mutex
	sent []*mail.Email
	err  error
}

func (m *recordingMailer) SendMail(_ context.Context, e *mail.Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, e)
	return nil
}

func (m *recordingMailer) last(t *testing.T) *mail.Email {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent)
	return m.sent[len(m.sent)-1]
}

// tokenFrom extracts the token from the confirmation link in a mail body.
func tokenFrom(t *testing.T, e *mail.Email) (string, string) {
	t.Helper()
	match := linkRegex.FindStringSubmatch(e.Body)
	require.Len(t, match, 3, "no confirmation link in %q", e.Body)
	return match[1], match[2]
}

func newTestService(t *testing.T) (*UserService, *recordingMailer) {
	t.Helper()
	mailer := &recordingMailer{}
	tokens := auth.NewTokenGenerator("test-secret", 3)
	return NewService(NewMemoryRepository(), mailer, tokens, "Address Book <no-reply@addrbook.test>"), mailer
}

func registerInput(username, email string) RegisterInput {
	return RegisterInput{
		Username:        username,
		Password:        "correct horse",
		ConfirmPassword: "correct horse",
		Email:           email,
		FirstName:       "Alice",
	}
}

func TestRegister_SendsOneConfirmationMail(t *testing.T) {
	svc, mailer := newTestService(t)

	u, err := svc.Register(context.Background(), registerInput("alice", "a@x.com"), linkBase)
	require.NoError(t, err)

	assert.False(t, u.IsActive)
	assert.NotEqual(t, "correct horse", u.PasswordHash)
	require.Len(t, mailer.sent, 1)

	sent := mailer.last(t)
	assert.Equal(t, "Verify your email address", sent.Subject)
	assert.Equal(t, []string{"a@x.com"}, sent.To)
	assert.Equal(t, "Address Book <no-reply@addrbook.test>", sent.From)

	username, _ := tokenFrom(t, sent)
	assert.Equal(t, "alice", username)
}

func TestRegister_Validation(t *testing.T) {
	svc, mailer := newTestService(t)

	testCases := []struct {
		name   string
		mutate func(in *RegisterInput)
		want   []string
	}{
		{"missing username", func(in *RegisterInput) { in.Username = "" }, []string{"username"}},
		{"bad username", func(in *RegisterInput) { in.Username = "al ice" }, []string{"username"}},
		{"bad email", func(in *RegisterInput) { in.Email = "nope" }, []string{"email"}},
		{"short password", func(in *RegisterInput) { in.Password = "short"; in.ConfirmPassword = "short" }, []string{"password"}},
		{"mismatch", func(in *RegisterInput) { in.ConfirmPassword = "other horse" }, []string{"confirm_password"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			in := registerInput("alice", "a@x.com")
			tc.mutate(&in)

			_, err := svc.Register(context.Background(), in, linkBase)

			require.ErrorIs(t, err, apperr.ErrValidation)
			assert.Equal(t, tc.want, apperr.FieldNames(err))
		})
	}

	assert.Empty(t, mailer.sent)
}

func TestConfirm_ActivatesOnce(t *testing.T) {
	svc, mailer := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, registerInput("alice", "a@x.com"), linkBase)
	require.NoError(t, err)
	username, token := tokenFrom(t, mailer.last(t))

	require.NoError(t, svc.Confirm(ctx, username, token))

	u, err := svc.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, u.IsActive)

	// Activation changed the account state, so the link is spent.
	err = svc.Confirm(ctx, username, token)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestConfirm_UnknownUserAndBadTokenLookAlike(t *testing.T) {
	svc, mailer := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, registerInput("alice", "a@x.com"), linkBase)
	require.NoError(t, err)
	_, token := tokenFrom(t, mailer.last(t))

	unknownErr := svc.Confirm(ctx, "mallory", token)
	badTokenErr := svc.Confirm(ctx, "alice", "zz-00000000000000000000")

	require.ErrorIs(t, unknownErr, apperr.ErrNotFound)
	require.ErrorIs(t, badTokenErr, apperr.ErrNotFound)
	assert.Equal(t, unknownErr.Error(), badTokenErr.Error())

	u, err := svc.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, u.IsActive)
}

func TestRegister_OverwritesInactiveAccount(t *testing.T) {
	svc, mailer := newTestService(t)
	ctx := context.Background()

	first, err := svc.Register(ctx, registerInput("alice", "a@x.com"), linkBase)
	require.NoError(t, err)
	_, firstToken := tokenFrom(t, mailer.last(t))

	second, err := svc.Register(ctx, registerInput("alice", "b@x.com"), linkBase)
	require.NoError(t, err)
	_, secondToken := tokenFrom(t, mailer.last(t))

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, []string{"b@x.com"}, mailer.last(t).To)

	// The first link was bound to the overwritten state.
	assert.ErrorIs(t, svc.Confirm(ctx, "alice", firstToken), apperr.ErrNotFound)
	require.NoError(t, svc.Confirm(ctx, "alice", secondToken))

	u, err := svc.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "b@x.com", u.Email)
	assert.True(t, u.IsActive)
}

func TestRegister_ActiveUsernameTaken(t *testing.T) {
	svc, mailer := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, registerInput("alice", "a@x.com"), linkBase)
	require.NoError(t, err)
	_, token := tokenFrom(t, mailer.last(t))
	require.NoError(t, svc.Confirm(ctx, "alice", token))

	_, err = svc.Register(ctx, registerInput("alice", "evil@x.com"), linkBase)

	require.ErrorIs(t, err, apperr.ErrValidation)
	assert.Equal(t, []string{"username"}, apperr.FieldNames(err))
	assert.Len(t, mailer.sent, 1)
}

func TestRegister_MailFailureRollsBack(t *testing.T) {
	svc, mailer := newTestService(t)
	mailer.err = errors.New("smtp down")
	ctx := context.Background()

	_, err := svc.Register(ctx, registerInput("alice", "a@x.com"), linkBase)
	require.Error(t, err)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))

	_, err = svc.GetUserByUsername(ctx, "alice")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestConfirm_ExpiredToken(t *testing.T) {
	mailer := &recordingMailer{}
	now := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	tokens := auth.NewTokenGenerator("test-secret", 3).WithClock(func() time.Time { return now })
	svc := NewService(NewMemoryRepository(), mailer, tokens, "no-reply@addrbook.test")
	ctx := context.Background()

	_, err := svc.Register(ctx, registerInput("alice", "a@x.com"), linkBase)
	require.NoError(t, err)
	_, token := tokenFrom(t, mailer.last(t))

	now = now.AddDate(0, 0, 4)

	assert.ErrorIs(t, svc.Confirm(ctx, "alice", token), apperr.ErrNotFound)
}

func TestAuthenticate(t *testing.T) {
	svc, mailer := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, registerInput("alice", "a@x.com"), linkBase)
	require.NoError(t, err)

	_, err = svc.Authenticate(ctx, "alice", "correct horse")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized, "inactive accounts cannot log in")

	_, token := tokenFrom(t, mailer.last(t))
	require.NoError(t, svc.Confirm(ctx, "alice", token))

	u, err := svc.Authenticate(ctx, "alice", "correct horse")
	require.NoError(t, err)
	require.NotNil(t, u.LastLogin)

	_, err = svc.Authenticate(ctx, "alice", "wrong horse")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	_, err = svc.Authenticate(ctx, "nobody", "correct horse")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestConfirmationLink(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, registerInput("alice", "a@x.com"), linkBase)
	require.NoError(t, err)

	link, err := svc.ConfirmationLink(ctx, "alice", linkBase+"/")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(link, linkBase+"/api/auth/confirm/alice/"))

	token := link[strings.LastIndex(link, "/")+1:]
	require.NoError(t, svc.Confirm(ctx, "alice", token))

	_, err = svc.ConfirmationLink(ctx, "alice", linkBase)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}
