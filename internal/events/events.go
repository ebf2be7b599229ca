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

// Package events publishes batch reports to external subscribers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// Publisher sends a JSON document to subscribers.
type Publisher interface {
	Publish(ctx context.Context, v any) error
	Close()
}

// NATS publishes to one subject on a NATS server.
type NATS struct {
	conn    *nats.Conn
	subject string
}

var _ Publisher = (*NATS)(nil)

// Connect dials url and publishes on subject.
func Connect(url, subject string) (*NATS, error) {
	conn, err := nats.Connect(url,
		nats.Name("monobuild"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	slog.Debug("connected to NATS", "url", url, "subject", subject)
	return &NATS{conn: conn, subject: subject}, nil
}

// Publish marshals v and publishes it, flushing before ctx expires.
func (n *NATS) Publish(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	if err := n.conn.Publish(n.subject, data); err != nil {
		return fmt.Errorf("publishing to %s: %w", n.subject, err)
	}
	if err := n.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flushing %s: %w", n.subject, err)
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (n *NATS) Close() {
	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
	}
}

// Memory keeps published documents in memory.
type Memory struct {
	mu   sync.Mutex
	docs []json.RawMessage
}

var _ Publisher = (*Memory)(nil)

func (m *Memory) Publish(_ context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs = append(m.docs, data)
	return nil
}

func (m *Memory) Close() {}

// Published returns the documents published so far.
func (m *Memory) Published() []json.RawMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]json.RawMessage(nil), m.docs...)
}
