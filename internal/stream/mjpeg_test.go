package stream

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"gocv.io/x/gocv"
)

func TestWriter_Framing(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	payload := []byte{0xFF, 0xD8, 0x01, 0x02, 0xFF, 0xD9}
	if err := w.WriteFrame(payload); err != nil {
		t.Fatalf("WriteFrame() error = %v", err)
	}

	want := "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: 6\r\n\r\n" + string(payload) + "\r\n"
	if buf.String() != want {
		t.Errorf("part = %q, want %q", buf.String(), want)
	}
	if w.Parts() != 1 {
		t.Errorf("Parts() = %d, want 1", w.Parts())
	}
}

func TestWriter_MultipartReadable(t *testing.T) {
	rec := httptest.NewRecorder()
	SetHeaders(rec.Header())
	w := NewWriter(rec)

	frames := [][]byte{[]byte("first"), []byte("second frame"), {}}
	// The stream never closes; a trailing part terminates the last checked one.
	for _, f := range append(frames, []byte("tail")) {
		if err := w.WriteFrame(f); err != nil {
			t.Fatalf("WriteFrame() error = %v", err)
		}
	}

	if !rec.Flushed {
		t.Error("recorder was not flushed")
	}

	mediaType, params, err := mime.ParseMediaType(rec.Header().Get("Content-Type"))
	if err != nil {
		t.Fatalf("ParseMediaType() error = %v", err)
	}
	if mediaType != "multipart/x-mixed-replace" || params["boundary"] != Boundary {
		t.Fatalf("content type = %q %v", mediaType, params)
	}

	reader := multipart.NewReader(rec.Body, params["boundary"])
	for i, want := range frames {
		part, err := reader.NextPart()
		if err != nil {
			t.Fatalf("part %d: NextPart() error = %v", i, err)
		}
		if ct := part.Header.Get("Content-Type"); ct != "image/jpeg" {
			t.Errorf("part %d Content-Type = %q", i, ct)
		}
		got, _ := io.ReadAll(part)
		if !bytes.Equal(got, want) {
			t.Errorf("part %d body = %q, want %q", i, got, want)
		}
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestWriter_PropagatesErrors(t *testing.T) {
	w := NewWriter(failingWriter{})
	if err := w.WriteFrame([]byte("x")); err == nil || !strings.Contains(err.Error(), "broken pipe") {
		t.Errorf("WriteFrame() error = %v, want broken pipe", err)
	}
	if w.Parts() != 0 {
		t.Errorf("Parts() = %d after failure", w.Parts())
	}
}

func TestSetHeaders(t *testing.T) {
	h := http.Header{}
	SetHeaders(h)
	if h.Get("Content-Type") != "multipart/x-mixed-replace; boundary=frame" {
		t.Errorf("Content-Type = %q", h.Get("Content-Type"))
	}
	if !strings.Contains(h.Get("Cache-Control"), "no-cache") {
		t.Errorf("Cache-Control = %q", h.Get("Cache-Control"))
	}
}

func TestEncoder(t *testing.T) {
	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(10, 200, 30, 0), 48, 64, gocv.MatTypeCV8UC3)
	defer frame.Close()

	data, err := NewEncoder(0).Encode(frame)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if len(data) < 4 || data[0] != 0xFF || data[1] != 0xD8 {
		t.Fatalf("Encode() did not produce a JPEG (% x)", data[:min(4, len(data))])
	}

	decoded, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		t.Fatalf("IMDecode() error = %v", err)
	}
	defer decoded.Close()
	if decoded.Cols() != 64 || decoded.Rows() != 48 {
		t.Errorf("decoded size = %dx%d, want 64x48", decoded.Cols(), decoded.Rows())
	}

	empty := gocv.NewMat()
	defer empty.Close()
	if _, err := NewEncoder(80).Encode(empty); !errors.Is(err, ErrEncode) {
		t.Errorf("Encode(empty) error = %v, want ErrEncode", err)
	}
}
