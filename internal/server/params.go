package server

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	ierr "github.com/smallbiznis/meterbill/internal/errors"
)

// pathID parses a snowflake id path parameter. Unknown ids are reported as
// not found.
func pathID(c *gin.Context, name string, notFound error) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param(name)))
	if err != nil || id <= 0 {
		return 0, notFound
	}
	return id, nil
}

// bindJSON decodes an optional JSON body. An empty body leaves req unchanged.
func bindJSON(c *gin.Context, req any) error {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return nil
	}
	if err := c.ShouldBindJSON(req); err != nil {
		return ierr.WithError(ErrInvalidRequest).
			WithHint("Request body must be a valid JSON object.").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// numericString accepts a JSON string or number and keeps its exact text.
type numericString string

func (n *numericString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*n = numericString(s)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return err
	}
	*n = numericString(num.String())
	return nil
}

func (n *numericString) ptr() *string {
	if n == nil {
		return nil
	}
	s := string(*n)
	return &s
}
