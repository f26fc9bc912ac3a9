package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Sanaa-Creator-Market/service-escrow/pkg/domain"
)

// Envelope is the JSON body shape every handler returns.
type Envelope struct {
	OK    bool        `json:"ok"`
	Data  any         `json:"data,omitempty"`
	Error *ErrorBody  `json:"error,omitempty"`
	Meta  *Pagination `json:"meta,omitempty"`
}

// ErrorBody carries a stable error kind plus a human message.
type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Pagination is the list-response metadata block.
type Pagination struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
}

// Success writes a 200 with data.
func Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Envelope{OK: true, Data: data})
}

// Created writes a 201 with data.
func Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, Envelope{OK: true, Data: data})
}

// Paginated writes a 200 list response with pagination metadata.
func Paginated(c *gin.Context, data any, page, limit int, total int64) {
	c.JSON(http.StatusOK, Envelope{OK: true, Data: data, Meta: &Pagination{Page: page, Limit: limit, Total: total}})
}

// BadRequest writes a 400 validation error.
func BadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, Envelope{OK: false, Error: &ErrorBody{Kind: string(domain.KindValidation), Message: message}})
}

// Error maps a DomainError kind to its HTTP status. Unknown errors become an
// opaque 500; internals are never leaked.
func Error(c *gin.Context, err error) {
	var de *domain.DomainError
	if !errors.As(err, &de) {
		c.JSON(http.StatusInternalServerError, Envelope{OK: false, Error: &ErrorBody{Kind: "internal", Message: "internal server error"}})
		return
	}

	status := http.StatusInternalServerError
	switch de.Kind {
	case domain.KindValidation:
		status = http.StatusBadRequest
	case domain.KindAuthorization:
		status = http.StatusForbidden
	case domain.KindNotFound:
		status = http.StatusNotFound
	case domain.KindInvalidState, domain.KindConflict:
		status = http.StatusConflict
	case domain.KindProvider:
		status = http.StatusBadGateway
	}

	c.JSON(status, Envelope{OK: false, Error: &ErrorBody{Kind: string(de.Kind), Message: de.Message}})
}
