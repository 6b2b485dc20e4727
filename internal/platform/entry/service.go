package entry

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"addrbook/internal/apperr"
	"addrbook/internal/config"
	"addrbook/internal/database"
	"addrbook/internal/metrics"
	"addrbook/internal/platform/storage"
	"addrbook/pkg/utils"
)

// Fields are the user editable parts of an entry.
type Fields struct {
	FirstName string `json:"first_name" form:"first_name" validate:"max=40"`
	LastName  string `json:"last_name" form:"last_name" validate:"required,max=40"`
	Birthday  string `json:"birthday" form:"birthday" validate:"omitempty,date"`
	Address   string `json:"address" form:"address" validate:"max=200"`
	City      string `json:"city" form:"city" validate:"max=30"`
	State     string `json:"state" form:"state" validate:"max=20"`
	ZipCode   string `json:"zip_code" form:"zip_code" validate:"max=10"`
	Country   string `json:"country" form:"country" validate:"max=30"`
	Email     string `json:"email" form:"email" validate:"omitempty,email,max=254"`
	HomePhone string `json:"home_phone" form:"home_phone" validate:"max=20"`
	CellPhone string `json:"cell_phone" form:"cell_phone" validate:"max=20"`
}

func (f Fields) normalized() Fields {
	f.FirstName = utils.CollapseSpace(f.FirstName)
	f.LastName = utils.CollapseSpace(f.LastName)
	f.Birthday = strings.TrimSpace(f.Birthday)
	f.Address = strings.TrimSpace(f.Address)
	f.City = utils.CollapseSpace(f.City)
	f.State = utils.CollapseSpace(f.State)
	f.ZipCode = strings.TrimSpace(f.ZipCode)
	f.Country = utils.CollapseSpace(f.Country)
	f.Email = strings.ToLower(strings.TrimSpace(f.Email))
	f.HomePhone = utils.NormalizePhone(f.HomePhone)
	f.CellPhone = utils.NormalizePhone(f.CellPhone)
	return f
}

func (f Fields) validate() error {
	if err := config.Validate.Struct(f); err != nil {
		return apperr.FromValidator(err)
	}
	return nil
}

func (f Fields) apply(e *database.Entry) {
	e.FirstName = f.FirstName
	e.LastName = f.LastName
	e.Birthday = f.Birthday
	e.Address = f.Address
	e.City = f.City
	e.State = f.State
	e.ZipCode = f.ZipCode
	e.Country = f.Country
	e.Email = f.Email
	e.HomePhone = f.HomePhone
	e.CellPhone = f.CellPhone
}

// EditInput is an edit proposed against the snapshot taken at BaseUpdateTime.
type EditInput struct {
	BaseUpdateTime time.Time
	Fields         Fields
	Picture        *storage.Picture
}

// ConflictError reports that the entry changed after the editor's snapshot.
// Current is the entry as it is now; its UpdateTime is the new base.
type ConflictError struct {
	Current *database.Entry
	err     *apperr.Error
}

func newConflict(current database.Entry) *ConflictError {
	return &ConflictError{
		Current: &current,
		err:     apperr.New(apperr.KindConflict, "Another user has modified this record. Re-enter your changes."),
	}
}

func (e *ConflictError) Error() string {
	return e.err.Error()
}

func (e *ConflictError) Unwrap() error {
	return e.err
}

type Outcome string

const (
	NoMatch         Outcome = "no_match"
	SingleMatch     Outcome = "single"
	MultipleMatches Outcome = "multiple"
)

type SearchResult struct {
	Outcome Outcome
	Prefix  string
	Entries []database.Entry
}

// Entry returns the match of a SingleMatch result.
func (r *SearchResult) Entry() *database.Entry {
	if r.Outcome != SingleMatch {
		return nil
	}
	return &r.Entries[0]
}

type DeleteResult struct {
	Entry *database.Entry
	// PictureErr is set when the record was deleted but its picture was not.
	PictureErr error
}

type Service struct {
	repo  Repository
	blobs storage.Blobs
	now   func() time.Time
}

// NewService creates a new entry service.
func NewService(repo Repository, blobs storage.Blobs) *Service {
	return &Service{
		repo:  repo,
		blobs: blobs,
		now:   time.Now,
	}
}

// WithClock replaces the time source used for creation and update stamps.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// nextUpdateTime returns the commit stamp following prev. Stamps have
// microsecond resolution to match the database and never repeat.
func nextUpdateTime(prev, now time.Time) time.Time {
	t := now.UTC().Truncate(time.Microsecond)
	if !t.After(prev) {
		t = prev.UTC().Truncate(time.Microsecond).Add(time.Microsecond)
	}
	return t
}

func validatePicture(pic *storage.Picture) error {
	if pic == nil {
		return nil
	}
	if !storage.IsPictureAllowed(pic.Filename, pic.ContentType) {
		return apperr.Invalid("picture", "must be a jpg, png, gif or webp image")
	}
	if len(pic.Data) == 0 {
		return apperr.Invalid("picture", "is empty")
	}
	if len(pic.Data) > storage.MaxPictureSize {
		return apperr.Invalid("picture", "is too large")
	}
	return nil
}

func (s *Service) uploadPicture(ctx context.Context, e *database.Entry, pic *storage.Picture) error {
	ref, err := s.blobs.Upload(ctx, storage.PictureKey(e.ID), pic)
	if err != nil {
		metrics.BlobFailuresTotal.WithLabelValues("upload").Inc()
		log.Errorw("failed to upload picture", "entry_id", e.ID, "error", err)
		return apperr.StorageFailure("Failed to store picture", err)
	}
	e.PictureURL = &ref
	return nil
}

// Search finds entries whose last name starts with prefix, ignoring case.
func (s *Service) Search(ctx context.Context, prefix string) (*SearchResult, error) {
	prefix = strings.TrimSpace(prefix)

	entries, err := s.repo.FindByLastNamePrefix(ctx, prefix)
	if err != nil {
		return nil, err
	}

	result := &SearchResult{Prefix: prefix, Entries: entries}
	switch len(entries) {
	case 0:
		result.Outcome = NoMatch
	case 1:
		result.Outcome = SingleMatch
	default:
		result.Outcome = MultipleMatches
	}
	return result, nil
}

// BeginEdit returns the entry together with its update time, which the
// caller presents back as EditInput.BaseUpdateTime.
func (s *Service) BeginEdit(ctx context.Context, id uint) (*database.Entry, error) {
	return s.repo.Get(ctx, id)
}

// Create validates fields and stores a new entry owned by actor.
func (s *Service) Create(ctx context.Context, actor string, in Fields, pic *storage.Picture) (*database.Entry, error) {
	fields := in.normalized()
	if err := fields.validate(); err != nil {
		return nil, err
	}
	if err := validatePicture(pic); err != nil {
		return nil, err
	}

	now := s.now().UTC().Truncate(time.Microsecond)
	e := &database.Entry{
		CreatedBy:    actor,
		CreationTime: now,
		UpdatedBy:    actor,
		UpdateTime:   now,
	}
	fields.apply(e)

	var afterInsert func(*database.Entry) error
	if pic != nil {
		afterInsert = func(created *database.Entry) error {
			return s.uploadPicture(ctx, created, pic)
		}
	}

	if err := s.repo.Create(ctx, e, afterInsert); err != nil {
		return nil, err
	}

	log.Infow("entry created", "entry_id", e.ID, "actor", actor)

	return e, nil
}

// SubmitEdit applies in to the entry if nobody changed it since
// in.BaseUpdateTime. The whole edit is rejected with a *ConflictError
// otherwise; there is no field level merge.
func (s *Service) SubmitEdit(ctx context.Context, id uint, actor string, in EditInput) (*database.Entry, error) {
	fields := in.Fields.normalized()

	updated, err := s.repo.Update(ctx, id, func(current *database.Entry) error {
		if !current.UpdateTime.Equal(in.BaseUpdateTime) {
			return newConflict(*current)
		}

		if err := fields.validate(); err != nil {
			return err
		}
		if err := validatePicture(in.Picture); err != nil {
			return err
		}

		// Upload before the row is written; a failed upload leaves it untouched.
		if in.Picture != nil {
			if err := s.uploadPicture(ctx, current, in.Picture); err != nil {
				return err
			}
		}

		fields.apply(current)
		current.UpdateTime = nextUpdateTime(current.UpdateTime, s.now())
		current.UpdatedBy = actor
		return nil
	})

	metrics.EntryEditsTotal.WithLabelValues(editResult(err)).Inc()

	if err != nil {
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			log.Infow("edit rejected, entry changed since snapshot", "entry_id", id, "actor", actor,
				"base", in.BaseUpdateTime, "current", conflict.Current.UpdateTime)
		}
		return nil, err
	}

	log.Infow("entry updated", "entry_id", id, "actor", actor)

	return updated, nil
}

func editResult(err error) string {
	if err == nil {
		return metrics.ResultSuccess
	}
	switch apperr.KindOf(err) {
	case apperr.KindConflict:
		return metrics.ResultConflict
	case apperr.KindValidation:
		return metrics.ResultInvalid
	case apperr.KindNotFound:
		return metrics.ResultNotFound
	case apperr.KindStorageFailure:
		return metrics.ResultStorageFailure
	default:
		return metrics.ResultError
	}
}

// Delete removes the entry and then its picture. The caller must pass
// confirmed; an unconfirmed delete is rejected without side effects. A
// failure to remove the picture does not fail the delete.
func (s *Service) Delete(ctx context.Context, id uint, actor string, confirmed bool) (*DeleteResult, error) {
	if !confirmed {
		return nil, apperr.Invalid("confirm", "deletion must be confirmed")
	}

	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		return nil, err
	}

	metrics.EntriesDeletedTotal.Inc()
	log.Infow("entry deleted", "entry_id", id, "actor", actor)

	result := &DeleteResult{Entry: deleted}

	if deleted.PictureURL != nil {
		// The record is gone; finish the cleanup even if the request is cancelled.
		if err := s.blobs.Delete(context.WithoutCancel(ctx), storage.PictureKey(deleted.ID)); err != nil {
			metrics.BlobFailuresTotal.WithLabelValues("delete").Inc()
			log.Warnw("entry deleted but its picture was not", "entry_id", id, "error", err)
			result.PictureErr = err
		}
	}

	return result, nil
}

// PictureURL returns a short lived download URL for the entry's picture.
func (s *Service) PictureURL(ctx context.Context, id uint) (string, error) {
	e, err := s.repo.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if e.PictureURL == nil {
		return "", apperr.NotFound("Entry %d has no picture", id)
	}

	url, err := s.blobs.PresignGet(ctx, storage.PictureKey(id))
	if err != nil {
		metrics.BlobFailuresTotal.WithLabelValues("presign").Inc()
		return "", apperr.StorageFailure("Failed to locate picture", err)
	}
	return url, nil
}
