// Copyright 2026 The Orchestrator Authors
// SPDX-License-Identifier: Apache-2.0

// Package stream provides the protocol emitter and the wire framing
// for the long-lived text push stream delivered to subscribers.
package stream

import (
	"fmt"
	"io"

	"github.com/go-json-experiment/json"

	"github.com/GolferGeek/orchestrator-ai-v2-sub005/internal/pool"
)

// Comment frames sent on the wire. ConnectedComment opens every
// stream; KeepaliveComment is repeated on the heartbeat interval to
// keep intermediaries from timing out the connection.
const (
	ConnectedComment = "connected"
	KeepaliveComment = "keepalive"
)

// WriteFrame writes one wire frame: "event: <name>" followed by a
// "data:" line holding the JSON document, terminated by a blank line.
func WriteFrame(w io.Writer, name string, data any) error {
	buf := pool.Bytes.Get()
	defer pool.Bytes.Put(buf)

	fmt.Fprintf(buf, "event: %s\n", name)
	doc, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s frame: %w", name, err)
	}
	fmt.Fprintf(buf, "data: %s\n\n", doc)

	if _, err := w.Write(buf.Bytes()); err != nil {
		return err
	}
	return nil
}

// WriteComment writes a comment frame (": <comment>"). Comment frames
// carry no payload and are ignored by conforming clients.
func WriteComment(w io.Writer, comment string) error {
	_, err := fmt.Fprintf(w, ": %s\n\n", comment)
	return err
}
