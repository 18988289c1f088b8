package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/orquestrix/internal/apperr"
)

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
	Field string `json:"field,omitempty"`
}

// fail writes err with the status its kind maps to: validation 400,
// not found 404, remote failure 502, anything else 500.
func (h *handlers) fail(c *gin.Context, err error) {
	var (
		verr *apperr.ValidationError
		nerr *apperr.NotFoundError
		serr *apperr.SyncError
	)
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, errorBody{Error: err.Error(), Kind: "validation", Field: verr.Field})
	case errors.As(err, &nerr):
		c.JSON(http.StatusNotFound, errorBody{Error: err.Error(), Kind: "not_found"})
	case errors.As(err, &serr):
		h.Log.Warn("remote call failed", "request_id", c.GetString("request_id"), "error", err.Error())
		c.JSON(http.StatusBadGateway, errorBody{Error: err.Error(), Kind: "sync"})
	default:
		h.Log.Error("request failed", "request_id", c.GetString("request_id"), "error", err.Error())
		c.JSON(http.StatusInternalServerError, errorBody{Error: "internal error", Kind: "internal"})
	}
}

// idParam parses a positive numeric path parameter.
func idParam(c *gin.Context, name string) (uint, error) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || v == 0 {
		return 0, apperr.Invalid(name, "must be a positive integer")
	}
	return uint(v), nil
}

// bind decodes the JSON body into dst.
func bind(c *gin.Context, dst interface{}) error {
	if err := c.ShouldBindJSON(dst); err != nil {
		return apperr.Invalid("body", "%v", err)
	}
	return nil
}

// optionalUint parses an optional numeric query parameter.
func optionalUint(c *gin.Context, name string) (*uint, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return nil, apperr.Invalid(name, "must be a positive integer")
	}
	u := uint(v)
	return &u, nil
}

// optionalBool parses an optional boolean query parameter.
func optionalBool(c *gin.Context, name string) (*bool, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, apperr.Invalid(name, "must be true or false")
	}
	return &v, nil
}
