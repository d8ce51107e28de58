package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/nfrund/filterbridge/internal/jsoncodec"
)

// jsonSerializer is echo's JSON serializer backed by jsoncodec, so request
// and reply bodies go through the same codec as every other payload.
type jsonSerializer struct{}

func (jsonSerializer) Serialize(c echo.Context, i interface{}, indent string) error {
	if indent == "" {
		return jsoncodec.Encode(c.Response(), i)
	}
	b, err := jsoncodec.MarshalIndent(i, "", indent)
	if err != nil {
		return err
	}
	_, err = c.Response().Write(b)
	return err
}

func (jsonSerializer) Deserialize(c echo.Context, i interface{}) error {
	if err := jsoncodec.Decode(c.Request().Body, i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed JSON body").SetInternal(err)
	}
	return nil
}
