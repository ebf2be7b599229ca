/*
Copyright © 2026 Benny Powers <web@bennypowers.com>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Emit sends an event to the parent.
type Emit func(event string, data any)

// Handler serves worker requests. Handle may be called concurrently for
// different requests.
type Handler interface {
	Handle(ctx context.Context, method string, params json.RawMessage, emit Emit) (any, error)
}

// HandlerFunc adapts a function to a Handler.
type HandlerFunc func(ctx context.Context, method string, params json.RawMessage, emit Emit) (any, error)

func (f HandlerFunc) Handle(ctx context.Context, method string, params json.RawMessage, emit Emit) (any, error) {
	return f(ctx, method, params, emit)
}

// Serve reads requests from r and writes responses and events to w until r
// is exhausted or ctx is cancelled. Requests are handled concurrently; a
// panicking handler produces an error response.
func Serve(ctx context.Context, r io.Reader, w io.Writer, h Handler) error {
	var mu sync.Mutex
	enc := json.NewEncoder(w)
	write := func(msg Message) {
		mu.Lock()
		defer mu.Unlock()
		_ = enc.Encode(msg)
	}
	emit := func(event string, data any) {
		raw, err := json.Marshal(data)
		if err != nil {
			return
		}
		write(Message{Type: typeEvent, Event: event, Data: raw})
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	dec := json.NewDecoder(r)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		var req Message
		if err := dec.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			return fmt.Errorf("reading request: %w", err)
		}
		if req.Type != typeRequest {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			write(handle(ctx, h, req, emit))
		}()
	}
}

func handle(ctx context.Context, h Handler, req Message, emit Emit) (resp Message) {
	resp = Message{ID: req.ID, Type: typeResponse}
	defer func() {
		if r := recover(); r != nil {
			resp.Result = nil
			resp.Error = &WireError{Message: fmt.Sprintf("%s panicked: %v", req.Method, r)}
		}
	}()
	out, err := h.Handle(ctx, req.Method, req.Params, emit)
	if err != nil {
		resp.Error = toWireError(err)
		return resp
	}
	if out != nil {
		data, err := json.Marshal(out)
		if err != nil {
			resp.Error = &WireError{Message: fmt.Sprintf("encoding %s result: %v", req.Method, err)}
			return resp
		}
		resp.Result = data
	}
	return resp
}

// decode unmarshals params into v, treating empty params as zero values.
func decode(params json.RawMessage, v any) error {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return fmt.Errorf("decoding params: %w", err)
	}
	return nil
}
