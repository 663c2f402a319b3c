package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/callmedenchick/kofirelay/internal/models"
)

var (
	errNotAnObject  = errors.New("body is not a JSON object")
	errTrailingData = errors.New("unexpected data after JSON body")
)

// bindRawBody decodes a JSON object or a form-encoded body. Unknown content
// types yield an empty body, which later fails token or amount checks.
func bindRawBody(c echo.Context) (models.RawBody, error) {
	req := c.Request()
	ctype := req.Header.Get(echo.HeaderContentType)
	switch {
	case strings.HasPrefix(ctype, echo.MIMEApplicationJSON):
		return decodeJSONBody(req.Body)
	case strings.HasPrefix(ctype, echo.MIMEApplicationForm):
		params, err := c.FormParams()
		if err != nil {
			return nil, fmt.Errorf("failed to parse form: %w", err)
		}
		raw := make(models.RawBody, len(params))
		for key, values := range params {
			if len(values) == 1 {
				raw[key] = values[0]
				continue
			}
			list := make([]any, len(values))
			for i, v := range values {
				list[i] = v
			}
			raw[key] = list
		}
		return raw, nil
	default:
		return models.RawBody{}, nil
	}
}

// decodeJSONBody accepts a single JSON object or array. An array carries no
// fields, so it decodes to an empty body and is judged by the token and
// amount checks like any other body without them.
func decodeJSONBody(r io.Reader) (models.RawBody, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		if errors.Is(err, io.EOF) {
			return models.RawBody{}, nil
		}
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errTrailingData
	}
	switch obj := v.(type) {
	case map[string]any:
		return models.RawBody(obj), nil
	case []any:
		return models.RawBody{}, nil
	default:
		return nil, errNotAnObject
	}
}
