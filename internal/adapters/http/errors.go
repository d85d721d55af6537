package http

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/samirrijal/etxea/internal/core/domain"
)

// APIError is a structured error response.
type APIError struct {
	Status    int    `json:"status"`
	Code      string `json:"code"`            // Error code: bad_request, not_found, internal_error, etc.
	Message   string `json:"message"`         // Human-readable message
	Field     string `json:"field,omitempty"` // Offending predicate field, for invalid filters
	RequestID string `json:"request_id,omitempty"`
}

// newError builds a JSON error response with a request ID.
func newError(c *fiber.Ctx, status int, code string, message string) error {
	reqID, _ := c.Locals("requestid").(string)
	return c.Status(status).JSON(APIError{
		Status:    status,
		Code:      code,
		Message:   message,
		RequestID: reqID,
	})
}

// errBadRequest returns a 400 error.
func errBadRequest(c *fiber.Ctx, msg string) error {
	return newError(c, 400, "bad_request", msg)
}

// errNotFound returns a 404 error.
func errNotFound(c *fiber.Ctx, msg string) error {
	return newError(c, 404, "not_found", msg)
}

// errInternal returns a 500 error.
func errInternal(c *fiber.Ctx, msg string) error {
	return newError(c, 500, "internal_error", msg)
}

// errConflict returns a 409 error.
func errConflict(c *fiber.Ctx, msg string) error {
	return newError(c, 409, "conflict", msg)
}

// errFromDomain maps core errors onto HTTP statuses. Anything unrecognised
// is logged and reported as a 500 without leaking details.
func errFromDomain(c *fiber.Ctx, err error) error {
	var perr *domain.InvalidPredicateError
	switch {
	case errors.As(err, &perr):
		reqID, _ := c.Locals("requestid").(string)
		return c.Status(400).JSON(APIError{
			Status:    400,
			Code:      "invalid_predicate",
			Message:   err.Error(),
			Field:     perr.Field,
			RequestID: reqID,
		})
	case errors.Is(err, domain.ErrInvalidCoordinate),
		errors.Is(err, domain.ErrInvalidViewport),
		errors.Is(err, domain.ErrInvalidListing):
		return errBadRequest(c, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return errNotFound(c, err.Error())
	case errors.Is(err, domain.ErrDuplicateID):
		return errConflict(c, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return newError(c, 503, "timeout", "request timed out")
	default:
		LoggerFromCtx(c.UserContext()).Error("request failed", "path", c.Path(), "error", err)
		return errInternal(c, "internal error")
	}
}
