package user

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"addrbook/internal/apperr"
	"addrbook/internal/auth"
	"addrbook/internal/config"
	"addrbook/internal/database"
	"addrbook/internal/mail"
	"addrbook/internal/metrics"
	"addrbook/pkg/utils"
)

const confirmSubject = "Verify your email address"

const confirmBody = `
Welcome to the Address Book. Please click the link below to
verify your email address and complete the registration of your account:

  %s
`

type RegisterInput struct {
	Username        string `json:"username" form:"username" validate:"required,max=150,username"`
	Password        string `json:"password" form:"password" validate:"required,min=8,max=200"`
	ConfirmPassword string `json:"confirm_password" form:"confirm_password" validate:"required"`
	Email           string `json:"email" form:"email" validate:"required,email,max=254"`
	FirstName       string `json:"first_name" form:"first_name" validate:"max=30"`
	LastName        string `json:"last_name" form:"last_name" validate:"max=30"`
}

func (in RegisterInput) validate() error {
	var fields map[string]string

	if err := config.Validate.Struct(in); err != nil {
		verr := apperr.FromValidator(err)
		if verr.Kind != apperr.KindValidation {
			return verr
		}
		fields = verr.Fields
	}

	if in.ConfirmPassword != "" && in.Password != in.ConfirmPassword {
		if fields == nil {
			fields = make(map[string]string)
		}
		fields["confirm_password"] = "passwords did not match"
	}

	if len(fields) == 0 {
		return nil
	}
	return &apperr.Error{Kind: apperr.KindValidation, Message: "Validation failed", Fields: fields}
}

type UserService struct {
	repo   Repository
	mailer mail.Mailer
	tokens *auth.TokenGenerator
	sender string
	now    func() time.Time
}

func NewService(repo Repository, mailer mail.Mailer, tokens *auth.TokenGenerator, sender string) *UserService {
	return &UserService{
		repo:   repo,
		mailer: mailer,
		tokens: tokens,
		sender: sender,
		now:    time.Now,
	}
}

// WithClock replaces the time source used for join and login stamps.
func (s *UserService) WithClock(now func() time.Time) *UserService {
	s.now = now
	return s
}

func (s *UserService) stamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func confirmationLink(linkBase string, u *database.User, token string) string {
	return fmt.Sprintf("%s/api/auth/confirm/%s/%s",
		strings.TrimRight(linkBase, "/"), url.PathEscape(u.Username), token)
}

// Register creates an inactive account and mails the confirmation link.
// The account is not kept when the mail cannot be sent.
func (s *UserService) Register(ctx context.Context, in RegisterInput, linkBase string) (*database.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	in.FirstName = utils.CollapseSpace(in.FirstName)
	in.LastName = utils.CollapseSpace(in.LastName)

	if err := in.validate(); err != nil {
		metrics.RegistrationsTotal.WithLabelValues(metrics.ResultInvalid).Inc()
		return nil, err
	}

	hash, err := utils.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	u := &database.User{
		Username:     in.Username,
		PasswordHash: hash,
		Email:        in.Email,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		IsActive:     false,
		DateJoined:   s.stamp(),
	}

	mailFailed := false
	err = s.repo.SavePending(ctx, u, func(saved *database.User) error {
		link := confirmationLink(linkBase, saved, s.tokens.Make(saved))

		if err := s.mailer.SendMail(ctx, &mail.Email{
			Subject: confirmSubject,
			Body:    fmt.Sprintf(confirmBody, link),
			From:    s.sender,
			To:      []string{saved.Email},
		}); err != nil {
			mailFailed = true
			return apperr.Wrap(apperr.KindInternal, "Failed to send confirmation email", err)
		}
		return nil
	})
	if err != nil {
		switch {
		case mailFailed:
			metrics.RegistrationsTotal.WithLabelValues(metrics.ResultMailFailure).Inc()
			log.Errorw("registration rolled back, confirmation email not sent", "username", u.Username, "error", err)
		case apperr.KindOf(err) == apperr.KindValidation:
			metrics.RegistrationsTotal.WithLabelValues(metrics.ResultInvalid).Inc()
		default:
			metrics.RegistrationsTotal.WithLabelValues(metrics.ResultError).Inc()
		}
		return nil, err
	}

	metrics.RegistrationsTotal.WithLabelValues(metrics.ResultSuccess).Inc()
	log.Infow("user registered, awaiting confirmation", "username", u.Username)

	return u, nil
}

// Confirm activates the account if token matches its current state. An
// unknown username and a bad token are reported the same way.
func (s *UserService) Confirm(ctx context.Context, username, token string) error {
	_, err := s.repo.Update(ctx, username, func(u *database.User) error {
		if !s.tokens.Check(u, token) {
			return apperr.NotFound("Invalid confirmation link")
		}
		u.IsActive = true
		return nil
	})

	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			metrics.ConfirmationsTotal.WithLabelValues(metrics.ResultNotFound).Inc()
			return apperr.NotFound("Invalid confirmation link")
		}
		metrics.ConfirmationsTotal.WithLabelValues(metrics.ResultError).Inc()
		return err
	}

	metrics.ConfirmationsTotal.WithLabelValues(metrics.ResultSuccess).Inc()
	log.Infow("user confirmed", "username", username)

	return nil
}

// Authenticate checks credentials of an active account and records the login.
func (s *UserService) Authenticate(ctx context.Context, username, password string) (*database.User, error) {
	u, err := s.repo.Update(ctx, username, func(u *database.User) error {
		if !u.IsActive || !utils.VerifyPassword(password, u.PasswordHash) {
			return apperr.Unauthorized("Invalid username or password")
		}
		at := s.stamp()
		u.LastLogin = &at
		return nil
	})
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, apperr.Unauthorized("Invalid username or password")
		}
		return nil, err
	}
	return u, nil
}

func (s *UserService) GetUserByUsername(ctx context.Context, username string) (*database.User, error) {
	return s.repo.GetByUsername(ctx, username)
}

// ConfirmationLink returns a fresh link for a pending account.
func (s *UserService) ConfirmationLink(ctx context.Context, username, linkBase string) (string, error) {
	u, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		return "", err
	}
	if u.IsActive {
		return "", apperr.Invalid("username", "account is already active")
	}
	return confirmationLink(linkBase, u, s.tokens.Make(u)), nil
}
