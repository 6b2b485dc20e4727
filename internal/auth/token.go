package auth

import (
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"addrbook/internal/database"
)

const keySalt = "addrbook.auth.ConfirmationTokenGenerator"

var epoch = time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)

// TokenGenerator derives single-use confirmation tokens from the state of a
// user account. Nothing is stored: any change to the fields covered by the
// snapshot (activation, password, email, last login) invalidates the token.
type TokenGenerator struct {
	key         [32]byte
	timeoutDays int64
	now         func() time.Time
}

// NewTokenGenerator returns a generator keyed with secret. Tokens older than
// timeoutDays are rejected; zero disables the age check.
func NewTokenGenerator(secret string, timeoutDays int) *TokenGenerator {
	return &TokenGenerator{
		key:         blake2b.Sum256([]byte(keySalt + secret)),
		timeoutDays: int64(timeoutDays),
		now:         time.Now,
	}
}

// WithClock replaces the time source.
func (g *TokenGenerator) WithClock(now func() time.Time) *TokenGenerator {
	g.now = now
	return g
}

func (g *TokenGenerator) Make(u *database.User) string {
	return g.makeForDay(u, g.today())
}

func (g *TokenGenerator) Check(u *database.User, token string) bool {
	if u == nil || token == "" {
		return false
	}

	dayPart, _, ok := strings.Cut(token, "-")
	if !ok {
		return false
	}

	day, err := strconv.ParseInt(dayPart, 36, 64)
	if err != nil || day < 0 {
		return false
	}

	expected := g.makeForDay(u, day)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(token)) != 1 {
		return false
	}

	today := g.today()
	if day > today {
		return false
	}
	if g.timeoutDays > 0 && today-day > g.timeoutDays {
		return false
	}

	return true
}

func (g *TokenGenerator) today() int64 {
	return int64(g.now().UTC().Sub(epoch) / (24 * time.Hour))
}

func (g *TokenGenerator) makeForDay(u *database.User, day int64) string {
	mac, err := blake2b.New256(g.key[:])
	if err != nil {
		// Only possible with a key longer than 64 bytes.
		panic(err)
	}

	mac.Write(snapshot(u))
	fmt.Fprintf(mac, "%d", day)

	sum := mac.Sum(nil)

	return strconv.FormatInt(day, 36) + "-" + hex.EncodeToString(sum[:10])
}

// snapshot is the canonical serialization of the account state a token is
// bound to. Times are reduced to microseconds to survive a database round trip.
func snapshot(u *database.User) []byte {
	var lastLogin string
	if u.LastLogin != nil {
		lastLogin = strconv.FormatInt(u.LastLogin.UnixMicro(), 10)
	}

	fields := []string{
		u.ID.String(),
		u.Username,
		u.PasswordHash,
		strings.ToLower(u.Email),
		strconv.FormatBool(u.IsActive),
		lastLogin,
		strconv.FormatInt(u.DateJoined.UnixMicro(), 10),
	}

	return []byte(strings.Join(fields, "\x00") + "\x00")
}
