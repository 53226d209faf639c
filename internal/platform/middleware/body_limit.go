package middleware

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

// BodyLimit rejects request bodies larger than the given limit, e.g.
// "1M" or "512K". Payment provider payloads are small; anything large
// is either abuse or a misconfigured sender.
func BodyLimit(limit string) echo.MiddlewareFunc {
	max, err := parseLimit(limit)
	if err != nil {
		panic(fmt.Sprintf("middleware: invalid body limit %q: %v", limit, err))
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.ContentLength > max {
				return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "request body too large")
			}
			req.Body = &limitedReadCloser{r: req.Body, remaining: max}
			return next(c)
		}
	}
}

func parseLimit(limit string) (int64, error) {
	limit = strings.TrimSpace(strings.ToUpper(limit))
	if limit == "" {
		return 0, fmt.Errorf("empty limit")
	}

	mult := int64(1)
	switch limit[len(limit)-1] {
	case 'K':
		mult = 1 << 10
		limit = limit[:len(limit)-1]
	case 'M':
		mult = 1 << 20
		limit = limit[:len(limit)-1]
	case 'G':
		mult = 1 << 30
		limit = limit[:len(limit)-1]
	}

	n, err := strconv.ParseInt(limit, 10, 64)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("limit must be positive")
	}
	return n * mult, nil
}

// limitedReadCloser guards against lying Content-Length headers and
// chunked uploads by enforcing the limit during the read itself.
type limitedReadCloser struct {
	r         io.ReadCloser
	remaining int64
}

func (l *limitedReadCloser) Read(p []byte) (int, error) {
	if l.remaining <= 0 {
		return 0, echo.NewHTTPError(http.StatusRequestEntityTooLarge, "request body too large")
	}
	if int64(len(p)) > l.remaining+1 {
		p = p[:l.remaining+1]
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		return n, echo.NewHTTPError(http.StatusRequestEntityTooLarge, "request body too large")
	}
	return n, err
}

func (l *limitedReadCloser) Close() error {
	return l.r.Close()
}
