// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package wire implements the harness line protocol: one JSON command object
// per inbound line, and outbound frames made of a JSON line optionally
// followed by a raw binary payload whose length the line announces.
package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// CommandKey is the inbound field naming the command.
const CommandKey = "cmdName"

// Command is one parsed inbound frame. Params holds every field except the
// command name; numbers are kept as json.Number so 64-bit values survive.
type Command struct {
	Name   string
	Params map[string]any
}

// ParseCommand decodes one line into a Command.
func ParseCommand(line []byte) (Command, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return Command{}, ErrEmptyFrame
	}

	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if dec.More() {
		return Command{}, fmt.Errorf("%w: trailing data after object", ErrMalformedFrame)
	}
	if obj == nil {
		return Command{}, fmt.Errorf("%w: not an object", ErrMalformedFrame)
	}

	name, ok := obj[CommandKey].(string)
	if !ok || strings.TrimSpace(name) == "" {
		return Command{}, ErrMissingCommand
	}
	delete(obj, CommandKey)

	return Command{Name: name, Params: obj}, nil
}

// Response is one outbound frame.
type Response struct {
	Tag      string
	StrValue string
	ObjValue any
	Buf      []byte
}

type header struct {
	Tag          string `json:"tag"`
	StrValue     string `json:"strValue,omitempty"`
	ObjValue     any    `json:"objValue,omitempty"`
	BufValueSize *int   `json:"bufValueSize,omitempty"`
}

// HasPayload reports whether a binary payload follows the header line.
func (r Response) HasPayload() bool { return r.Buf != nil }

// HeaderLine returns the newline-terminated JSON header. When a payload is
// present its exact length is always announced.
func (r Response) HeaderLine() ([]byte, error) {
	if r.Tag == "" {
		return nil, ErrMissingTag
	}
	h := header{Tag: r.Tag, StrValue: r.StrValue, ObjValue: r.ObjValue}
	if r.Buf != nil {
		n := len(r.Buf)
		h.BufValueSize = &n
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(h); err != nil {
		return nil, fmt.Errorf("encode %s header: %w", r.Tag, err)
	}
	return buf.Bytes(), nil
}

// Sentinel errors returned by ParseCommand and HeaderLine.
var (
	ErrEmptyFrame     = errors.New("empty frame")
	ErrMalformedFrame = errors.New("malformed frame")
	ErrMissingCommand = errors.New("frame has no " + CommandKey)
	ErrMissingTag     = errors.New("response has no tag")
)
