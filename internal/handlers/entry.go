package handlers

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"addrbook/internal/apperr"
	"addrbook/internal/database"
	"addrbook/internal/platform/entry"
	"addrbook/internal/platform/storage"
)

type editBase struct {
	UpdateTime string `json:"update_time" form:"update_time"`
}

func entryID(c *fiber.Ctx) (uint, error) {
	raw := c.Params("id")
	id, err := strconv.ParseUint(raw, 10, 0)
	if err != nil || id == 0 {
		return 0, apperr.NotFound("Record with id=%s does not exist", raw)
	}
	return uint(id), nil
}

func actor(c *fiber.Ctx) string {
	return c.Locals("user").(database.User).Username
}

func isMultipart(c *fiber.Ctx) bool {
	return strings.HasPrefix(string(c.Request().Header.ContentType()), fiber.MIMEMultipartForm)
}

// picture reads the optional "picture" file of a multipart request.
func picture(c *fiber.Ctx) (*storage.Picture, error) {
	if !isMultipart(c) {
		return nil, nil
	}

	fh, err := c.FormFile("picture")
	if err != nil {
		return nil, nil
	}
	if fh.Size > storage.MaxPictureSize {
		return nil, apperr.Invalid("picture", "is too large")
	}

	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open upload: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, storage.MaxPictureSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}

	return &storage.Picture{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get(fiber.HeaderContentType),
		Data:        data,
	}, nil
}

func parseFields(c *fiber.Ctx) (entry.Fields, error) {
	var fields entry.Fields
	if err := c.BodyParser(&fields); err != nil {
		return fields, fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	return fields, nil
}

func SearchEntries(c *fiber.Ctx) error {
	entries := c.Locals("entries").(*entry.Service)

	result, err := entries.Search(c.Context(), c.Query("last"))
	if err != nil {
		return err
	}

	switch result.Outcome {
	case entry.NoMatch:
		return c.JSON(fiber.Map{
			"outcome": result.Outcome,
			"message": fmt.Sprintf("No entries with last name = %s", result.Prefix),
		})
	case entry.SingleMatch:
		return c.JSON(fiber.Map{
			"outcome": result.Outcome,
			"entry":   result.Entry(),
			"entries": result.Entries,
		})
	default:
		return c.JSON(fiber.Map{
			"outcome": result.Outcome,
			"entries": result.Entries,
		})
	}
}

func CreateEntry(c *fiber.Ctx) error {
	entries := c.Locals("entries").(*entry.Service)

	fields, err := parseFields(c)
	if err != nil {
		return err
	}

	pic, err := picture(c)
	if err != nil {
		return err
	}

	created, err := entries.Create(c.Context(), actor(c), fields, pic)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

// GetEntry starts an edit: the returned update_time is the base to submit.
func GetEntry(c *fiber.Ctx) error {
	entries := c.Locals("entries").(*entry.Service)

	id, err := entryID(c)
	if err != nil {
		return err
	}

	e, err := entries.BeginEdit(c.Context(), id)
	if err != nil {
		return err
	}

	return c.JSON(e)
}

func UpdateEntry(c *fiber.Ctx) error {
	entries := c.Locals("entries").(*entry.Service)

	id, err := entryID(c)
	if err != nil {
		return err
	}

	var base editBase
	if err := c.BodyParser(&base); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if base.UpdateTime == "" {
		return apperr.Invalid("update_time", "is required")
	}
	baseTime, err := time.Parse(time.RFC3339Nano, base.UpdateTime)
	if err != nil {
		return apperr.Invalid("update_time", "must be an RFC 3339 timestamp")
	}

	fields, err := parseFields(c)
	if err != nil {
		return err
	}

	pic, err := picture(c)
	if err != nil {
		return err
	}

	updated, err := entries.SubmitEdit(c.Context(), id, actor(c), entry.EditInput{
		BaseUpdateTime: baseTime,
		Fields:         fields,
		Picture:        pic,
	})
	if err != nil {
		return err
	}

	return c.JSON(updated)
}

func DeleteEntry(c *fiber.Ctx) error {
	entries := c.Locals("entries").(*entry.Service)

	id, err := entryID(c)
	if err != nil {
		return err
	}

	result, err := entries.Delete(c.Context(), id, actor(c), c.QueryBool("confirm"))
	if err != nil {
		return err
	}

	response := fiber.Map{
		"message": fmt.Sprintf("Entry for %s, %s has been deleted", result.Entry.LastName, result.Entry.FirstName),
	}
	if result.PictureErr != nil {
		response["warning"] = "The entry picture could not be removed"
	}

	return c.JSON(response)
}

func GetEntryPicture(c *fiber.Ctx) error {
	entries := c.Locals("entries").(*entry.Service)

	id, err := entryID(c)
	if err != nil {
		return err
	}

	url, err := entries.PictureURL(c.Context(), id)
	if err != nil {
		return err
	}

	return c.Redirect(url, fiber.StatusFound)
}
