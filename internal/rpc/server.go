package rpc

import (
	"context"
	"io"
	"log"
)

// Serve runs the JSON-RPC core over r/w until the reader hits EOF, the
// underlying stream errors, or ctx is cancelled. ctx is checked before each
// read; a read that is already blocked is not interrupted, so a
// cancellation ends the loop once that read returns. It never returns an
// error for a clean EOF; any other read failure is returned to the caller.
//
// One reader task drains r; the dispatcher runs handlers inline on that
// same task (so responses to a given id are always emitted after that
// request's handler returns); each watch.subscribe call spawns its own
// worker goroutine writing through the shared, mutex-guarded writer.
func Serve(ctx context.Context, r io.Reader, w io.Writer, deps Deps) error {
	reader := newFrameReader(r)
	writer := newFrameWriter(w)
	d := newDispatcher(deps, writer)
	defer d.subs.stopAll()

	for {
		if ctx.Err() != nil {
			return nil
		}

		frame, err := reader.next()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		resp := d.dispatch(ctx, frame)
		if resp == nil {
			continue
		}
		if err := writer.write(resp); err != nil {
			log.Printf("rpc: write response: %v", err)
			return err
		}
	}
}
