package rewrite

import (
	"bytes"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

// bufferWriter captures the response body so the rewriter can process
// complete HTML documents instead of individual chunks.
type bufferWriter struct {
	http.ResponseWriter
	buf    bytes.Buffer
	status int
}

func (w *bufferWriter) WriteHeader(status int) {
	w.status = status
}

func (w *bufferWriter) Write(b []byte) (int, error) {
	return w.buf.Write(b)
}

// PageMiddleware buffers HTML responses and rewrites every image tag in
// the finished document. Non-HTML responses pass through untouched.
func PageMiddleware(rewriter *Rewriter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if rewriter == nil || !rewriter.enabled {
				return next(c)
			}

			res := c.Response()
			bw := &bufferWriter{ResponseWriter: res.Writer, status: http.StatusOK}
			res.Writer = bw

			err := next(c)
			res.Writer = bw.ResponseWriter
			if err != nil {
				return err
			}

			body := bw.buf.Bytes()
			contentType := res.Header().Get(echo.HeaderContentType)
			if strings.HasPrefix(contentType, echo.MIMETextHTML) {
				accept := ParseAccept(c.Request().Header.Get("Accept"))
				rewritten := rewriter.RewriteContent(c.Request().Context(), string(body), accept)
				body = []byte(rewritten)
				res.Header().Add("Vary", "Accept")
			}

			res.Header().Set(echo.HeaderContentLength, strconv.Itoa(len(body)))
			bw.ResponseWriter.WriteHeader(bw.status)
			_, writeErr := bw.ResponseWriter.Write(body)
			return writeErr
		}
	}
}
