package server

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"os"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/lapdb/lapdb/pkg/logger"
	"github.com/lapdb/lapdb/tsdb"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	headerContentType = "Content-Type"
	contentTypeJSON   = "application/json"

	headerRequestID = "X-Request-Id"
	headerErrorMsg  = "X-Lapdb-Error"
	headerVersion   = "X-Lapdb-Version"
)

// PanicCrashEnv names the environment variable that, when true, lets request
// panics crash the process instead of being recovered.
const PanicCrashEnv = "LAPDB_PANIC_CRASH"

var willCrash bool

func init() {
	var err error
	if willCrash, err = strconv.ParseBool(os.Getenv(PanicCrashEnv)); err != nil {
		willCrash = false
	}
}

// route specifies how an HTTP verb and path are handled.
type route struct {
	Name           string
	Method         string
	Path           string
	Gzipped        bool
	LoggingEnabled bool
	HandlerFunc    interface{}
}

// Handler represents the HTTP API of the store.
type Handler struct {
	Version string

	config *HTTPConfig

	router *mux.Router

	Store interface {
		Insert(measurement string, tags map[string]string, fields map[string]float64, ts time.Time) error
		Query(measurement string, tags map[string]string, rng time.Duration, limit int) []tsdb.Point
		Aggregate(measurement string, tags map[string]string, field string, fn tsdb.AggregateFunc, rng time.Duration) (float64, bool)
		AggregateBy(measurement string, tags map[string]string, field string, fn tsdb.AggregateFunc, groupBy string, rng time.Duration) map[string]float64
		Compact() tsdb.CompactStats
		CompactMeasurement(measurement string) tsdb.CompactStats
		SetCompactionEnabled(v bool)
		CompactionEnabled() bool
		Snapshot() error
		SnapshotPath() string
		Stats() tsdb.Stats
	}

	stats *Statistics

	writeThrottler *Throttler

	accessLog    *os.File
	accessLogger *log.Logger

	logger *zap.Logger
}

// NewHandler returns a new Handler with its routes registered.
func NewHandler(conf *HTTPConfig) *Handler {
	h := &Handler{
		config:       conf,
		router:       mux.NewRouter(),
		stats:        &Statistics{},
		logger:       zap.NewNop(),
		accessLogger: log.New(os.Stderr, "[httpd] ", 0),
	}

	h.writeThrottler = NewThrottler(conf.MaxConcurrentWriteLimit, conf.MaxEnqueuedWriteLimit)
	h.writeThrottler.EnqueueTimeout = time.Duration(conf.EnqueuedWriteTimeout)

	writeLogEnabled := conf.LogEnabled
	if conf.SuppressWriteLog {
		writeLogEnabled = false
	}

	h.AddRoutes([]route{
		{
			"write-options", http.MethodOptions, "/write", false, true,
			h.serveOptions,
		},
		{
			"write", http.MethodPost, "/write", true, writeLogEnabled,
			h.serveWrite,
		},
		{
			"query-options", http.MethodOptions, "/query", false, true,
			h.serveOptions,
		},
		{
			"query", http.MethodGet, "/query", true, true,
			h.serveQuery,
		},
		{
			"aggregate", http.MethodGet, "/aggregate", true, true,
			h.serveAggregate,
		},
		{
			"compact", http.MethodPost, "/compact", false, true,
			h.serveCompact,
		},
		{
			"snapshot", http.MethodPost, "/snapshot", false, true,
			h.serveSnapshot,
		},
		{
			"stats", http.MethodGet, "/stats", true, true,
			h.serveStats,
		},
		{
			"ping", http.MethodGet, "/ping", false, true,
			h.servePing,
		},
		{
			"ping-head", http.MethodHead, "/ping", false, true,
			h.servePing,
		},
	}...)

	return h
}

// Open opens the access log configured in AccessLogPath. Failures fall back
// to stderr so a bad path never disables the API.
func (h *Handler) Open() {
	if !h.config.LogEnabled {
		return
	}

	path := "stderr"
	if h.config.AccessLogPath != "" {
		f, err := os.OpenFile(h.config.AccessLogPath, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0666)
		if err != nil {
			h.logger.Error("unable to open access log, falling back to stderr",
				zap.Error(err), logger.Path(h.config.AccessLogPath))
			return
		}
		h.accessLog = f
		h.accessLogger = log.New(f, "", 0)
		path = h.config.AccessLogPath
	}
	h.logger.Info("opened HTTP access log", logger.Path(path))
}

// Close releases the access log file if one was opened.
func (h *Handler) Close() {
	if h.accessLog != nil {
		_ = h.accessLog.Close()
		h.accessLog = nil
		h.accessLogger = log.New(os.Stderr, "[httpd] ", 0)
	}
}

// WithLogger sets the zap logger on the handler.
func (h *Handler) WithLogger(log *zap.Logger) {
	h.logger = log.With(zap.String("service", "httpd"))
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt64(&h.stats.Requests, 1)
	atomic.AddInt64(&h.stats.ActiveRequests, 1)
	defer func(start time.Time) {
		atomic.AddInt64(&h.stats.ActiveRequests, -1)
		atomic.AddInt64(&h.stats.RequestDuration, time.Since(start).Nanoseconds())
	}(time.Now())

	w.Header().Add(headerVersion, h.Version)
	h.router.ServeHTTP(w, r)
}

// serveOptions returns an empty response to comply with OPTIONS pre-flight requests.
func (h *Handler) serveOptions(w http.ResponseWriter, r *http.Request) {
	h.writeHeader(w, http.StatusNoContent)
}

// servePing returns a simple response to let the client know the server is running.
func (h *Handler) servePing(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt64(&h.stats.PingRequests, 1)

	if v, _ := strconv.ParseBool(r.URL.Query().Get("verbose")); v {
		w.Header().Set(headerContentType, contentTypeJSON)
		h.writeHeader(w, http.StatusOK)
		b, _ := json.Marshal(map[string]string{"version": h.Version})
		_, _ = w.Write(b)
		return
	}
	h.writeHeader(w, http.StatusNoContent)
}

// writePoint is the JSON form of a single measurement sample accepted by the
// write endpoint.
type writePoint struct {
	Measurement string             `json:"measurement"`
	Tags        map[string]string  `json:"tags"`
	Fields      map[string]float64 `json:"fields"`
	Timestamp   int64              `json:"timestamp"`
}

// parseWritePoints decodes a request body holding either a single point
// object or an array of them.
func parseWritePoints(data []byte) ([]writePoint, error) {
	data = bytes.TrimLeftFunc(data, unicode.IsSpace)
	if len(data) == 0 {
		return nil, nil
	}

	if data[0] == '[' {
		var points []writePoint
		if err := json.Unmarshal(data, &points); err != nil {
			return nil, err
		}
		return points, nil
	}

	var p writePoint
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return []writePoint{p}, nil
}

// serveWrite decodes incoming points and inserts them into the store.
func (h *Handler) serveWrite(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt64(&h.stats.WriteRequests, 1)
	atomic.AddInt64(&h.stats.ActiveWriteRequests, 1)
	defer func(start time.Time) {
		atomic.AddInt64(&h.stats.ActiveWriteRequests, -1)
		atomic.AddInt64(&h.stats.WriteRequestDuration, time.Since(start).Nanoseconds())
	}(time.Now())

	body := r.Body
	if h.config.MaxBodySize > 0 {
		body = truncateReader(body, int64(h.config.MaxBodySize))
	}

	// Handle gzip decoding of the body, capping the decompressed size the
	// same way as the raw one.
	if r.Header.Get("Content-Encoding") == "gzip" {
		b, err := gzip.NewReader(body)
		if err != nil {
			h.httpError(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer b.Close()
		body = b
		if h.config.MaxBodySize > 0 {
			body = truncateReader(body, int64(h.config.MaxBodySize))
		}
	}

	var bs []byte
	if r.ContentLength > 0 {
		if h.config.MaxBodySize > 0 && r.ContentLength > int64(h.config.MaxBodySize) {
			h.httpError(w, http.StatusText(http.StatusRequestEntityTooLarge), http.StatusRequestEntityTooLarge)
			return
		}

		// This is just an initial hint, the buffer grows as needed.
		bs = make([]byte, 0, r.ContentLength)
	}
	buf := bytes.NewBuffer(bs)

	if _, err := buf.ReadFrom(body); err != nil {
		if errors.Is(err, errTruncated) {
			h.httpError(w, http.StatusText(http.StatusRequestEntityTooLarge), http.StatusRequestEntityTooLarge)
			return
		}

		if h.config.WriteTracing {
			h.logger.Info("Write handler unable to read bytes from request body")
		}
		h.httpError(w, err.Error(), http.StatusBadRequest)
		return
	}
	atomic.AddInt64(&h.stats.WriteRequestBytesReceived, int64(buf.Len()))

	if h.config.WriteTracing {
		h.logger.Info("Write body received by handler", zap.ByteString("body", buf.Bytes()))
	}

	points, err := parseWritePoints(buf.Bytes())
	if err != nil {
		h.httpError(w, err.Error(), http.StatusBadRequest)
		return
	}

	for i, p := range points {
		var ts time.Time
		if p.Timestamp != 0 {
			ts = time.UnixMilli(p.Timestamp)
		}
		if err := h.Store.Insert(p.Measurement, p.Tags, p.Fields, ts); err != nil {
			atomic.AddInt64(&h.stats.PointsWrittenOK, int64(i))
			atomic.AddInt64(&h.stats.PointsWrittenFail, int64(len(points)-i))
			h.httpError(w, fmt.Sprintf("point %d: %s", i, err), http.StatusBadRequest)
			return
		}
	}

	atomic.AddInt64(&h.stats.PointsWrittenOK, int64(len(points)))
	h.writeHeader(w, http.StatusNoContent)
}

// serveQuery returns the matching points of one measurement, newest first.
func (h *Handler) serveQuery(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt64(&h.stats.QueryRequests, 1)
	defer func(start time.Time) {
		atomic.AddInt64(&h.stats.QueryRequestDuration, time.Since(start).Nanoseconds())
	}(time.Now())

	// Retrieve the underlying ResponseWriter or initialize our own.
	rw, ok := w.(ResponseWriter)
	if !ok {
		rw = NewResponseWriter(w, r)
	}

	q := r.URL.Query()

	measurement := q.Get("measurement")
	if measurement == "" {
		h.httpError(rw, `missing required parameter "measurement"`, http.StatusBadRequest)
		return
	}

	tags, err := parseTagFilters(q["tag"])
	if err != nil {
		h.httpError(rw, err.Error(), http.StatusBadRequest)
		return
	}

	rng, err := parseRange(q.Get("range"))
	if err != nil {
		h.httpError(rw, err.Error(), http.StatusBadRequest)
		return
	}

	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		h.httpError(rw, err.Error(), http.StatusBadRequest)
		return
	}

	points := h.Store.Query(measurement, tags, rng, limit)

	n, err := rw.WriteResponse(Response{Points: points})
	atomic.AddInt64(&h.stats.QueryRequestBytesTransmitted, int64(n))
	if err != nil {
		h.logger.Info("Error writing response to client", zap.Error(err))
	}
}

type aggregateResponse struct {
	Measurement string   `json:"measurement"`
	Field       string   `json:"field"`
	Fn          string   `json:"fn"`
	Value       *float64 `json:"value"`
}

type aggregateGroupsResponse struct {
	Measurement string             `json:"measurement"`
	Field       string             `json:"field"`
	Fn          string             `json:"fn"`
	GroupBy     string             `json:"groupBy"`
	Groups      map[string]float64 `json:"groups"`
}

// serveAggregate reduces one field of a measurement, optionally grouped by a
// tag. The value is null when no point carries the field.
func (h *Handler) serveAggregate(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt64(&h.stats.AggregateRequests, 1)

	q := r.URL.Query()

	measurement := q.Get("measurement")
	if measurement == "" {
		h.httpError(w, `missing required parameter "measurement"`, http.StatusBadRequest)
		return
	}

	field := q.Get("field")
	if field == "" {
		h.httpError(w, `missing required parameter "field"`, http.StatusBadRequest)
		return
	}

	tags, err := parseTagFilters(q["tag"])
	if err != nil {
		h.httpError(w, err.Error(), http.StatusBadRequest)
		return
	}

	rng, err := parseRange(q.Get("range"))
	if err != nil {
		h.httpError(w, err.Error(), http.StatusBadRequest)
		return
	}

	fn := tsdb.ParseAggregateFunc(q.Get("fn"))

	if groupBy := q.Get("groupBy"); groupBy != "" {
		writeJson(w, aggregateGroupsResponse{
			Measurement: measurement,
			Field:       field,
			Fn:          fn.String(),
			GroupBy:     groupBy,
			Groups:      h.Store.AggregateBy(measurement, tags, field, fn, groupBy, rng),
		})
		return
	}

	resp := aggregateResponse{Measurement: measurement, Field: field, Fn: fn.String()}
	if v, ok := h.Store.Aggregate(measurement, tags, field, fn, rng); ok {
		resp.Value = &v
	}
	writeJson(w, resp)
}

// serveCompact runs a compaction pass, or toggles inline compaction when the
// enabled parameter is present.
func (h *Handler) serveCompact(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if v := q.Get("enabled"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			h.httpError(w, fmt.Sprintf("invalid enabled value %q", v), http.StatusBadRequest)
			return
		}
		h.Store.SetCompactionEnabled(enabled)
		writeJson(w, struct {
			Enabled bool `json:"enabled"`
		}{h.Store.CompactionEnabled()})
		return
	}

	var st tsdb.CompactStats
	if m := q.Get("measurement"); m != "" {
		st = h.Store.CompactMeasurement(m)
	} else {
		st = h.Store.Compact()
	}

	writeJson(w, struct {
		Series  int `json:"series"`
		Dropped int `json:"dropped"`
	}{st.Series, st.Dropped})
}

// serveSnapshot writes a snapshot to disk and reports where it landed.
func (h *Handler) serveSnapshot(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Snapshot(); err != nil {
		h.httpError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJson(w, struct {
		Path string `json:"path"`
	}{h.Store.SnapshotPath()})
}

func (h *Handler) serveStats(w http.ResponseWriter, r *http.Request) {
	writeJson(w, h.Store.Stats())
}

// Statistics maintains statistics for the httpd service.
type Statistics struct {
	Requests                     int64
	QueryRequests                int64
	WriteRequests                int64
	AggregateRequests            int64
	PingRequests                 int64
	WriteRequestBytesReceived    int64
	QueryRequestBytesTransmitted int64
	PointsWrittenOK              int64
	PointsWrittenFail            int64
	RequestDuration              int64
	QueryRequestDuration         int64
	WriteRequestDuration         int64
	ActiveRequests               int64
	ActiveWriteRequests          int64
	ClientErrors                 int64
	ServerErrors                 int64
	RecoveredPanics              int64
}

// PrometheusCollectors exposes the handler statistics to a prometheus
// registry.
func (h *Handler) PrometheusCollectors() []prometheus.Collector {
	counter := func(name, help string, v *int64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "lapdb",
			Subsystem: "httpd",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(atomic.LoadInt64(v)) })
	}
	gauge := func(name, help string, v *int64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "lapdb",
			Subsystem: "httpd",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(atomic.LoadInt64(v)) })
	}

	return []prometheus.Collector{
		counter("requests_total", "Number of HTTP requests served.", &h.stats.Requests),
		counter("query_requests_total", "Number of query requests.", &h.stats.QueryRequests),
		counter("write_requests_total", "Number of write requests.", &h.stats.WriteRequests),
		counter("aggregate_requests_total", "Number of aggregate requests.", &h.stats.AggregateRequests),
		counter("ping_requests_total", "Number of ping requests.", &h.stats.PingRequests),
		counter("write_request_bytes_total", "Number of body bytes received on the write endpoint.", &h.stats.WriteRequestBytesReceived),
		counter("query_request_bytes_transmitted_total", "Number of body bytes returned by the query endpoint.", &h.stats.QueryRequestBytesTransmitted),
		counter("points_written_ok_total", "Number of points inserted.", &h.stats.PointsWrittenOK),
		counter("points_written_fail_total", "Number of points rejected.", &h.stats.PointsWrittenFail),
		counter("client_errors_total", "Number of 4xx responses.", &h.stats.ClientErrors),
		counter("server_errors_total", "Number of 5xx responses.", &h.stats.ServerErrors),
		counter("recovered_panics_total", "Number of panics recovered while serving requests.", &h.stats.RecoveredPanics),
		gauge("active_requests", "Number of requests currently being served.", &h.stats.ActiveRequests),
		gauge("active_write_requests", "Number of write requests currently being served.", &h.stats.ActiveWriteRequests),
	}
}

// AddRoutes sets the provided routes on the Handler.
func (h *Handler) AddRoutes(routes ...route) {
	for _, r := range routes {
		var handler http.Handler
		if hf, ok := r.HandlerFunc.(func(http.ResponseWriter, *http.Request)); ok {
			handler = http.HandlerFunc(hf)
		}
		if handler == nil {
			panic(fmt.Sprintf("route is not an 'http.HandlerFunc': %+v", r))
		}

		if r.Method == http.MethodPost && r.Path == "/write" {
			handler = h.writeThrottler.WrapWithThrottler(handler)
		}

		handler = WrapWithResponseWriter(handler)
		if r.Gzipped {
			handler = WrapWithGzipResponseWriter(handler)
		}

		handler = WrapWithCors(handler)
		handler = WrapWithRequestID(handler)

		if h.config.LogEnabled && r.LoggingEnabled {
			handler = h.WrapWithLogger(handler, h.config.AccessLogStatusFilters)
		}
		handler = h.WrapWithRecovery(handler)

		h.router.Handle(r.Path, handler).Methods(r.Method).Name(r.Name)
	}
}

// WrapWithResponseWriter replaces the http.ResponseWriter with the formatting
// one picked from the Accept header.
func WrapWithResponseWriter(inner http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w = NewResponseWriter(w, r)
		inner.ServeHTTP(w, r)
	})
}

// WrapWithCors responds to incoming requests and adds the appropriate cors headers.
func WrapWithCors(inner http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" {
			w.Header().Set(`Access-Control-Allow-Origin`, origin)
			w.Header().Set(`Access-Control-Allow-Methods`, strings.Join([]string{
				`GET`,
				`OPTIONS`,
				`POST`,
			}, ", "))

			w.Header().Set(`Access-Control-Allow-Headers`, strings.Join([]string{
				`Accept`,
				`Accept-Encoding`,
				`Content-Length`,
				`Content-Type`,
				headerRequestID,
			}, ", "))

			w.Header().Set(`Access-Control-Expose-Headers`, strings.Join([]string{
				`Date`,
				headerVersion,
				headerRequestID,
			}, ", "))
		}

		if r.Method == http.MethodOptions {
			return
		}

		inner.ServeHTTP(w, r)
	})
}

// WrapWithRequestID makes sure every request carries an ID, so the access log
// can be correlated with responses.
func WrapWithRequestID(inner http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := r.Header.Get(headerRequestID)

		// If X-Request-Id is empty then generate one.
		if rid == "" {
			rid = uuid.New().String()
		}

		// Set the request ID on both the request and the response headers.
		r.Header.Set(headerRequestID, rid)
		w.Header().Set(headerRequestID, rid)

		inner.ServeHTTP(w, r)
	})
}

// WrapWithLogger writes an access log line once the request completes.
func (h *Handler) WrapWithLogger(inner http.Handler, filters []StatusFilter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		l := &ResponseLogger{w: w}
		inner.ServeHTTP(l, r)

		if StatusFilters(filters).Match(l.Status()) {
			h.accessLogger.Println(buildLogLine(l, r, start))
		}

		// Log server errors.
		if l.Status()/100 == 5 {
			errStr := l.Header().Get(headerErrorMsg)
			if errStr != "" {
				h.logger.Error(fmt.Sprintf("[%d] - %q", l.Status(), errStr))
			}
		}
	})
}

// WrapWithRecovery recovers a panicking request handler and turns the panic
// into a 500 response.
func (h *Handler) WrapWithRecovery(inner http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		l := &ResponseLogger{w: w}

		defer func() {
			if err := recover(); err != nil {
				atomic.AddInt64(&h.stats.RecoveredPanics, 1)
				logLine := buildLogLine(l, r, start)
				logLine = fmt.Sprintf("%s [panic:%s] %s", logLine, err, debug.Stack())
				h.logger.Error(logLine)
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)

				if willCrash {
					h.logger.Error("\n\n=====\nAll goroutines now follow:")
					buf := make([]byte, 1024*1024)
					buf = buf[:runtime.Stack(buf, true)]
					h.logger.Error(string(buf))
					os.Exit(1)
				}
			}
		}()

		inner.ServeHTTP(l, r)
	})
}

// writeHeader writes the response status code and tracks errors in the
// handler statistics.
func (h *Handler) writeHeader(w http.ResponseWriter, code int) {
	switch code / 100 {
	case 4:
		atomic.AddInt64(&h.stats.ClientErrors, 1)
	case 5:
		atomic.AddInt64(&h.stats.ServerErrors, 1)
	}
	w.WriteHeader(code)
}

// httpError writes an error to the client in a standard format.
func (h *Handler) httpError(w http.ResponseWriter, errmsg string, code int) {
	if code/100 != 2 {
		sz := math.Min(float64(len(errmsg)), 1024.0)
		w.Header().Set(headerErrorMsg, errmsg[:int(sz)])
	}

	response := Response{Err: errors.New(errmsg)}
	if rw, ok := w.(ResponseWriter); ok {
		h.writeHeader(w, code)
		_, _ = rw.WriteResponse(response)
		return
	}

	// Default implementation if the response writer hasn't been replaced
	// with our special response writer type.
	w.Header().Set(headerContentType, contentTypeJSON)
	h.writeHeader(w, code)
	b, _ := json.Marshal(response)
	_, _ = w.Write(b)
}

func writeJson(w http.ResponseWriter, data interface{}) {
	js, err := json.MarshalIndent(data, "", " ")
	if err != nil {
		w.Header().Set(headerContentType, contentTypeJSON)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set(headerContentType, contentTypeJSON)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(js)
}

// parseTagFilters parses repeated tag parameters of the form key=value.
func parseTagFilters(params []string) (map[string]string, error) {
	if len(params) == 0 {
		return nil, nil
	}
	tags := make(map[string]string, len(params))
	for _, p := range params {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 || kv[0] == "" {
			return nil, fmt.Errorf("invalid tag filter %q (use key=value)", p)
		}
		tags[kv[0]] = kv[1]
	}
	return tags, nil
}

// parseRange parses a time range given either as an integer number of
// milliseconds or as a duration string such as "90s" or "24h".
func parseRange(v string) (time.Duration, error) {
	if v == "" {
		return 0, nil
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		if ms < 0 {
			return 0, fmt.Errorf("range must not be negative")
		}
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid range %q (use milliseconds or a duration such as %q)", v, "90s")
	}
	if d < 0 {
		return 0, fmt.Errorf("range must not be negative")
	}
	return d, nil
}

func parseLimit(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid limit %q", v)
	}
	return n, nil
}

var errTruncated = errors.New("read: truncated")

// truncateReader returns a Reader that reads from r but fails with
// errTruncated once more than n bytes have been read.
func truncateReader(r io.Reader, n int64) io.ReadCloser {
	tr := &truncatedReader{r: &io.LimitedReader{R: r, N: n + 1}}
	if rc, ok := r.(io.Closer); ok {
		tr.Closer = rc
	}
	return tr
}

type truncatedReader struct {
	r *io.LimitedReader
	io.Closer
}

func (r *truncatedReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if r.r.N <= 0 {
		return n, errTruncated
	}
	return n, err
}

func (r *truncatedReader) Close() error {
	if r.Closer != nil {
		return r.Closer.Close()
	}
	return nil
}

// Throttler represents an HTTP throttler that limits the number of concurrent
// requests being processed as well as the number of enqueued requests.
type Throttler struct {
	current  chan struct{}
	enqueued chan struct{}

	// Maximum amount of time requests can wait in queue.
	// Must be set before adding middleware.
	EnqueueTimeout time.Duration

	Logger *zap.Logger
}

// NewThrottler returns a new instance of Throttler that limits to concurrentN
// requests processed at a time and maxEnqueueN requests waiting to be processed.
func NewThrottler(concurrentN, maxEnqueueN int) *Throttler {
	return &Throttler{
		current:  make(chan struct{}, concurrentN),
		enqueued: make(chan struct{}, concurrentN+maxEnqueueN),
		Logger:   zap.NewNop(),
	}
}

// WrapWithThrottler wraps h in a middleware Handler that throttles requests.
func (t *Throttler) WrapWithThrottler(h http.Handler) http.Handler {
	timeout := t.EnqueueTimeout

	// Return original Handler if concurrent requests is zero.
	if cap(t.current) == 0 {
		return h
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Start a timer to limit enqueued request times.
		var timerCh <-chan time.Time
		if timeout > 0 {
			timer := time.NewTimer(timeout)
			defer timer.Stop()
			timerCh = timer.C
		}

		// Wait for a spot in the queue.
		if cap(t.enqueued) > cap(t.current) {
			select {
			case t.enqueued <- struct{}{}:
				defer func() { <-t.enqueued }()
			default:
				t.Logger.Warn("request throttled, queue full", zap.Duration("d", timeout))
				http.Error(w, "request throttled, queue full", http.StatusServiceUnavailable)
				return
			}
		}

		// First check if we can immediately send in to current because there is
		// available capacity. This helps reduce racyness in tests.
		select {
		case t.current <- struct{}{}:
		default:
			// Wait for a spot in the list of concurrent requests, but allow checking the timeout.
			select {
			case t.current <- struct{}{}:
			case <-timerCh:
				t.Logger.Warn("request throttled, exceeds timeout", zap.Duration("d", timeout))
				http.Error(w, "request throttled, exceeds timeout", http.StatusServiceUnavailable)
				return
			}
		}
		defer func() { <-t.current }()

		// Execute request.
		h.ServeHTTP(w, r)
	})
}
