package api

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/keshon/behavior-sim/internal/behavior"
	"github.com/keshon/behavior-sim/internal/engine"
)

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error      string   `json:"error"`
	Code       int      `json:"code"`
	Reasons    []string `json:"reasons,omitempty"`
	ConsentKey string   `json:"consent_key,omitempty"`
}

var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

type rateLimitedError struct {
	retryAfter time.Duration
}

func (e *rateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry in %s", e.retryAfter.Round(time.Millisecond))
}

func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	resp := ErrorResponse{Error: err.Error()}

	var (
		he     *echo.HTTPError
		policy *behavior.PolicyError
		rl     *rateLimitedError
	)
	switch {
	case errors.As(err, &he):
		resp.Code = he.Code
		resp.Error = fmt.Sprint(he.Message)
	case errors.As(err, &policy):
		resp.Code = http.StatusConflict
		resp.Reasons = policy.Reasons
		resp.ConsentKey = policy.ConsentKey
	case errors.As(err, &rl):
		resp.Code = http.StatusTooManyRequests
		secs := int(math.Ceil(rl.retryAfter.Seconds()))
		c.Response().Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
	case errors.Is(err, errBadRequest),
		errors.Is(err, engine.ErrInvalidInput),
		errors.Is(err, behavior.ErrUnknownCategory):
		resp.Code = http.StatusBadRequest
	case errors.Is(err, behavior.ErrProfileNotFound):
		resp.Code = http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		resp.Code = http.StatusGatewayTimeout
	default:
		resp.Code = http.StatusInternalServerError
		resp.Error = "internal error"
		s.logger.Error().Err(err).Str("uri", c.Request().RequestURI).Msg("request failed")
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(resp.Code)
	} else {
		err = c.JSON(resp.Code, resp)
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("write error response")
	}
}
