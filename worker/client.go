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
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

// stopTimeout bounds how long Close waits for a worker to exit on its own.
const stopTimeout = 5 * time.Second

// Client is the parent side of a worker connection.
type Client struct {
	w     io.Writer
	encMu sync.Mutex

	mu      sync.Mutex
	pending map[uint64]chan *Message
	nextID  atomic.Uint64

	events chan Event
	done   chan struct{}
	err    error
	close  func() error
}

// NewClient starts reading responses from r. closeFn, if set, is called by
// Close to tear down the transport.
func NewClient(r io.Reader, w io.Writer, closeFn func() error) *Client {
	c := &Client{
		w:       w,
		pending: make(map[uint64]chan *Message),
		events:  make(chan Event, 64),
		done:    make(chan struct{}),
		close:   closeFn,
	}
	go c.readLoop(r)
	return c
}

func (c *Client) readLoop(r io.Reader) {
	dec := json.NewDecoder(r)
	var cause error
	for {
		var msg Message
		if err := dec.Decode(&msg); err != nil {
			if !errors.Is(err, io.EOF) {
				cause = err
			}
			break
		}
		switch msg.Type {
		case typeResponse:
			c.mu.Lock()
			ch, ok := c.pending[msg.ID]
			delete(c.pending, msg.ID)
			c.mu.Unlock()
			if ok {
				ch <- &msg
			}
		case typeEvent:
			select {
			case c.events <- Event{Name: msg.Event, Data: msg.Data}:
			default:
				// events are best effort; a slow consumer drops them
			}
		}
	}

	c.mu.Lock()
	c.err = &CrashError{Cause: cause}
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, ch := range pending {
		close(ch)
	}
	close(c.done)
	close(c.events)
}

// Call sends a request and waits for its response. result may be nil.
func (c *Client) Call(ctx context.Context, method string, params, result any) error {
	req := Message{ID: c.nextID.Add(1), Type: typeRequest, Method: method}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("encoding %s params: %w", method, err)
		}
		req.Params = data
	}

	ch := make(chan *Message, 1)
	c.mu.Lock()
	if c.pending == nil {
		err := c.err
		c.mu.Unlock()
		return err
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()

	if err := c.send(req); err != nil {
		c.mu.Lock()
		if c.pending != nil {
			delete(c.pending, req.ID)
		}
		c.mu.Unlock()
		return &CrashError{Cause: err}
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		if c.pending != nil {
			delete(c.pending, req.ID)
		}
		c.mu.Unlock()
		return ctx.Err()
	case resp, ok := <-ch:
		if !ok {
			return c.Err()
		}
		if resp.Error != nil {
			return resp.Error
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("decoding %s result: %w", method, err)
			}
		}
		return nil
	}
}

func (c *Client) send(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	c.encMu.Lock()
	defer c.encMu.Unlock()
	_, err = c.w.Write(data)
	return err
}

// Events delivers worker notifications until the worker exits.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Done is closed when the worker connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the reason the connection ended, or nil while it is alive.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close tears down the transport and waits for the read loop to finish.
func (c *Client) Close() error {
	var err error
	if c.close != nil {
		err = c.close()
	}
	<-c.done
	return err
}

// NewPipe connects a client to h over in-memory pipes.
func NewPipe(ctx context.Context, h Handler) *Client {
	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		_ = Serve(ctx, reqR, respW, h)
		respW.Close()
	}()
	return NewClient(respR, reqW, func() error {
		cancel()
		reqW.Close()
		return respR.Close()
	})
}

// Spawn re-executes exe as a worker of the given kind. env entries are
// added to the current environment.
func Spawn(ctx context.Context, exe string, kind Kind, env []string) (*Client, error) {
	cmd := exec.CommandContext(ctx, exe, "worker", string(kind))
	cmd.Env = append(os.Environ(), env...)
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s worker: %w", kind, err)
	}
	var client *Client
	client = NewClient(stdout, stdin, func() error {
		stdin.Close()
		select {
		case <-client.Done():
		case <-time.After(stopTimeout):
			_ = cmd.Process.Kill()
		}
		return nil
	})
	go func() {
		// Wait closes stdout, so it runs only after the read loop drained it
		<-client.Done()
		_ = cmd.Wait()
	}()
	return client, nil
}
