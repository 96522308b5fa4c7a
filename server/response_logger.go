package server

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"
)

// ResponseLogger is a wrapper of http.ResponseWriter that keeps track of the
// response status code and body size for access logging.
type ResponseLogger struct {
	w      http.ResponseWriter
	status int
	size   int
}

// Header returns the header map of the wrapped ResponseWriter.
func (l *ResponseLogger) Header() http.Header {
	return l.w.Header()
}

// Flush flushes the wrapped ResponseWriter if it supports it.
func (l *ResponseLogger) Flush() {
	if f, ok := l.w.(http.Flusher); ok {
		f.Flush()
	}
}

func (l *ResponseLogger) Write(b []byte) (int, error) {
	if l.status == 0 {
		l.status = http.StatusOK
	}

	size, err := l.w.Write(b)
	l.size += size
	return size, err
}

func (l *ResponseLogger) WriteHeader(s int) {
	if l.status == 0 {
		l.status = s
	}
	l.w.WriteHeader(s)
}

// Status returns the response status code, defaulting to 200 when nothing has
// been written yet.
func (l *ResponseLogger) Status() int {
	if l.status == 0 {
		return http.StatusOK
	}
	return l.status
}

// Size returns the number of response body bytes written so far.
func (l *ResponseLogger) Size() int {
	return l.size
}

// buildLogLine creates an access log line in Common Log Format, extended with
// the user agent, the request ID and the elapsed time in microseconds.
func buildLogLine(l *ResponseLogger, r *http.Request, start time.Time) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}

	uri := r.URL.RequestURI()

	return fmt.Sprintf(`%s - - [%s] "%s %s %s" %s %s %q %q %s %d`,
		host,
		start.Format("02/Jan/2006:15:04:05 -0700"),
		r.Method,
		uri,
		r.Proto,
		detect(strconv.Itoa(l.Status()), "-"),
		strconv.Itoa(l.Size()),
		detect(r.Referer(), "-"),
		detect(r.UserAgent(), "-"),
		r.Header.Get(headerRequestID),
		time.Since(start)/time.Microsecond)
}

// detect returns the first non-empty string from its arguments.
func detect(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
