// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package archive keeps a copy of every payload frame sent to a client on
// local disk for offline inspection.
package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"github.com/ManuGH/itsd/internal/fsutil"
	xglog "github.com/ManuGH/itsd/internal/log"
	"github.com/ManuGH/itsd/internal/metrics"
)

// DefaultQueueSize is the number of payloads buffered for writing.
const DefaultQueueSize = 16

type entry struct {
	connID  string
	seq     uint64
	tag     string
	payload []byte
}

// Archive writes payloads asynchronously. When the queue is full new
// payloads are dropped so that the wire path never waits on disk.
type Archive struct {
	dir    string
	queue  chan entry
	logger zerolog.Logger
}

// New returns an archive rooted at dir. The directory is created if needed.
func New(dir string, queueSize int) (*Archive, error) {
	if dir == "" {
		return nil, fmt.Errorf("archive directory is empty")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Archive{
		dir:    dir,
		queue:  make(chan entry, queueSize),
		logger: xglog.WithComponent("archive"),
	}, nil
}

// Store queues a payload. The payload must not be modified afterwards.
func (a *Archive) Store(connID string, seq uint64, tag string, payload []byte) {
	select {
	case a.queue <- entry{connID: connID, seq: seq, tag: tag, payload: payload}:
	default:
		metrics.ArchiveWritesTotal.WithLabelValues("dropped").Inc()
	}
}

// Path returns the file a payload is written to.
func (a *Archive) Path(connID string, seq uint64, tag string) string {
	return filepath.Join(a.dir, relPath(connID, seq, tag))
}

func relPath(connID string, seq uint64, tag string) string {
	return filepath.Join(sanitize(connID), fmt.Sprintf("%06d-%s.bin", seq, sanitize(tag)))
}

// Run writes queued payloads until ctx is done, then drains the queue.
func (a *Archive) Run(ctx context.Context) error {
	for {
		select {
		case e := <-a.queue:
			a.write(e)
		case <-ctx.Done():
			for {
				select {
				case e := <-a.queue:
					a.write(e)
				default:
					return nil
				}
			}
		}
	}
}

func (a *Archive) write(e entry) {
	path, err := fsutil.Confine(a.dir, relPath(e.connID, e.seq, e.tag))
	if err == nil {
		err = writeFile(path, e.payload)
	} else {
		path = a.Path(e.connID, e.seq, e.tag)
	}
	if err != nil {
		metrics.ArchiveWritesTotal.WithLabelValues("error").Inc()
		a.logger.Warn().
			Err(err).
			Str(xglog.FieldEvent, "archive.write_failed").
			Str(xglog.FieldPath, path).
			Msg("failed to archive payload")
		return
	}
	metrics.ArchiveWritesTotal.WithLabelValues("ok").Inc()
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create connection directory: %w", err)
	}
	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o640))
	if err != nil {
		return fmt.Errorf("create pending file: %w", err)
	}
	defer func() { _ = pending.Cleanup() }()

	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace payload file: %w", err)
	}
	return nil
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
