// Package stream encodes annotated frames and writes them as an MJPEG
// multipart body.
package stream

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"gocv.io/x/gocv"
)

// Boundary separates parts of the multipart body.
const Boundary = "frame"

// ContentType is the response content type of an MJPEG stream.
const ContentType = "multipart/x-mixed-replace; boundary=" + Boundary

// DefaultQuality is the JPEG quality used when none is configured.
const DefaultQuality = 90

// ErrEncode is returned when a frame cannot be encoded.
var ErrEncode = errors.New("encode frame")

// Writer writes JPEG frames as parts of a never-ending multipart body.
type Writer struct {
	w       io.Writer
	flusher http.Flusher
	parts   int
}

// NewWriter wraps w. When w is an http.Flusher every part is flushed.
func NewWriter(w io.Writer) *Writer {
	sw := &Writer{w: w}
	if f, ok := w.(http.Flusher); ok {
		sw.flusher = f
	}
	return sw
}

// SetHeaders prepares an HTTP response for streaming.
func SetHeaders(h http.Header) {
	h.Set("Content-Type", ContentType)
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Connection", "keep-alive")
}

// WriteFrame writes one part carrying jpeg and flushes it.
func (sw *Writer) WriteFrame(jpeg []byte) error {
	if _, err := fmt.Fprintf(sw.w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", Boundary, len(jpeg)); err != nil {
		return fmt.Errorf("write part header: %w", err)
	}
	if _, err := sw.w.Write(jpeg); err != nil {
		return fmt.Errorf("write part body: %w", err)
	}
	if _, err := io.WriteString(sw.w, "\r\n"); err != nil {
		return fmt.Errorf("write part trailer: %w", err)
	}

	if sw.flusher != nil {
		sw.flusher.Flush()
	}
	sw.parts++
	return nil
}

// Parts returns how many frames were written.
func (sw *Writer) Parts() int {
	return sw.parts
}

// Encoder turns frames into JPEG bytes at a fixed quality.
type Encoder struct {
	Quality int
}

// NewEncoder returns an Encoder; a non-positive quality uses DefaultQuality.
func NewEncoder(quality int) *Encoder {
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	return &Encoder{Quality: quality}
}

// Encode returns a copy of the JPEG encoding of frame.
func (e *Encoder) Encode(frame gocv.Mat) ([]byte, error) {
	if frame.Empty() {
		return nil, fmt.Errorf("%w: empty frame", ErrEncode)
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, frame, []int{gocv.IMWriteJpegQuality, e.Quality})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	defer buf.Close()

	// The native buffer is freed on Close.
	data := buf.GetBytes()
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}
