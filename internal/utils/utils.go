package utils

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"collab-revisions/internal/errors"
)

func GetPaginationParams(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("per_page", "10"))

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 10
	}

	return page, pageSize
}

// ParseIDParam reads a numeric path parameter.
func ParseIDParam(c *gin.Context, name string) (uint64, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil {
		return 0, errors.BadRequest("Invalid "+name, err)
	}
	return id, nil
}

// OptionalUintQuery returns nil when the query parameter is absent.
func OptionalUintQuery(c *gin.Context, name string) (*uint64, error) {
	raw, ok := c.GetQuery(name)
	if !ok || raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return nil, errors.Validation(name+" must be a non-negative integer", err)
	}
	return &v, nil
}

// UserID is set by the auth middleware.
func UserID(c *gin.Context) uint64 {
	id, _ := c.Get("user_id")
	userID, _ := id.(uint64)
	return userID
}
