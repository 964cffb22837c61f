package genflow

import (
	"context"
	"errors"
	"io"
	"net/http"
)

// PipeEvents writes the full event stream to w as line-delimited JSON, one
// event per line, flushing after each line when w is an http.Flusher. It
// returns nil on a clean finish and the terminal error otherwise; the
// error event itself is encoded to w before the error is returned, so HTTP
// clients can tell a failed stream from a truncated one.
func (r *Result) PipeEvents(ctx context.Context, w io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	es := r.Events()
	defer es.Close()
	flusher, _ := w.(http.Flusher)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ev, err := es.Next()
		if err != nil {
			if errors.Is(err, ErrDone) {
				return nil
			}
			return err
		}
		if err := EncodeEvent(w, ev); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// PipeText writes the text fragments to w as raw chunks, flushing after
// each chunk when w is an http.Flusher. It returns nil on a clean finish
// and the terminal error otherwise.
func (r *Result) PipeText(ctx context.Context, w io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ts := r.TextStream()
	defer ts.Close()
	flusher, _ := w.(http.Flusher)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		text, err := ts.Next()
		if err != nil {
			if errors.Is(err, ErrDone) {
				return nil
			}
			return err
		}
		if _, err := io.WriteString(w, text); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}
