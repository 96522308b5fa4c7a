package server

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strconv"

	"github.com/lapdb/lapdb/tsdb"
)

// ResponseWriter is an interface for writing a query response.
type ResponseWriter interface {
	// WriteResponse writes a response.
	WriteResponse(resp Response) (int, error)

	http.ResponseWriter
}

// NewResponseWriter creates a new ResponseWriter based on the Accept header
// in the request that wraps the ResponseWriter.
func NewResponseWriter(w http.ResponseWriter, r *http.Request) ResponseWriter {
	pretty := r.URL.Query().Get("pretty") == "true"
	rw := &responseWriter{ResponseWriter: w}
	switch r.Header.Get("Accept") {
	case "application/csv", "text/csv":
		w.Header().Add("Content-Type", "text/csv")
		rw.formatter = &csvFormatter{}
	case "application/json":
		fallthrough
	default:
		w.Header().Add("Content-Type", "application/json")
		rw.formatter = &jsonFormatter{Pretty: pretty}
	}
	return rw
}

type bytesCountWriter struct {
	w io.Writer
	n int
}

func (w *bytesCountWriter) Write(data []byte) (int, error) {
	n, err := w.w.Write(data)
	w.n += n
	return n, err
}

// responseWriter is an implementation of ResponseWriter.
type responseWriter struct {
	formatter interface {
		WriteResponse(w io.Writer, resp Response) error
	}
	http.ResponseWriter
}

// WriteResponse writes the response using the formatter.
func (w *responseWriter) WriteResponse(resp Response) (int, error) {
	writer := bytesCountWriter{w: w.ResponseWriter}
	err := w.formatter.WriteResponse(&writer, resp)
	return writer.n, err
}

// Flush flushes the ResponseWriter if it has a Flush() method.
func (w *responseWriter) Flush() {
	if w, ok := w.ResponseWriter.(http.Flusher); ok {
		w.Flush()
	}
}

// Response is the result set returned by the query endpoint.
type Response struct {
	Points []tsdb.Point
	Err    error
}

// MarshalJSON encodes a Response struct into JSON.
func (r Response) MarshalJSON() ([]byte, error) {
	// Define a struct that outputs "error" as a string.
	var o struct {
		Points []tsdb.Point `json:"points"`
		Count  int          `json:"count"`
		Err    string       `json:"error,omitempty"`
	}

	o.Points = r.Points
	if o.Points == nil {
		o.Points = []tsdb.Point{}
	}
	o.Count = len(o.Points)
	if r.Err != nil {
		o.Err = r.Err.Error()
	}

	return json.Marshal(&o)
}

// UnmarshalJSON decodes the data into the Response struct.
func (r *Response) UnmarshalJSON(b []byte) error {
	var o struct {
		Points []tsdb.Point `json:"points"`
		Count  int          `json:"count"`
		Err    string       `json:"error,omitempty"`
	}

	if err := json.Unmarshal(b, &o); err != nil {
		return err
	}
	r.Points = o.Points
	if o.Err != "" {
		r.Err = errors.New(o.Err)
	}
	return nil
}

type jsonFormatter struct {
	Pretty bool
}

func (f *jsonFormatter) WriteResponse(w io.Writer, resp Response) (err error) {
	var b []byte
	if f.Pretty {
		b, err = json.MarshalIndent(resp, "", "    ")
	} else {
		b, err = json.Marshal(resp)
	}

	if err != nil {
		_, err = io.WriteString(w, err.Error())
	} else {
		_, err = w.Write(b)
	}

	_, _ = w.Write([]byte("\n"))
	return err
}

// csvFormatter writes one row per point and field, in long format.
type csvFormatter struct{}

func (f *csvFormatter) WriteResponse(w io.Writer, resp Response) error {
	cw := csv.NewWriter(w)
	if resp.Err != nil {
		_ = cw.Write([]string{"error"})
		_ = cw.Write([]string{resp.Err.Error()})
		cw.Flush()
		return cw.Error()
	}

	_ = cw.Write([]string{"timestamp", "field", "value", "tags"})
	for _, p := range resp.Points {
		tags := tsdb.NewTags(p.Tags).String()

		names := make([]string, 0, len(p.Fields))
		for name := range p.Fields {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			_ = cw.Write([]string{
				strconv.FormatInt(p.Timestamp, 10),
				name,
				strconv.FormatFloat(p.Fields[name], 'f', -1, 64),
				tags,
			})
		}
	}
	cw.Flush()
	return cw.Error()
}
