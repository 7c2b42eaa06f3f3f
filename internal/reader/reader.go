package reader

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"

	"github.com/lcnomoto/cctailpipe/internal/logging"
	"github.com/lcnomoto/cctailpipe/internal/tracker"
	"github.com/lcnomoto/cctailpipe/pkg/types"
)

// ErrReadInProgress is returned when a Read arrives while another is in
// flight on the same Reader. Callers drop the call and rely on the next
// change event; the offset table guarantees no data loss, only delay.
var ErrReadInProgress = errors.New("read already in progress")

// ParseError describes one malformed line. It never aborts the file read.
type ParseError struct {
	Path string
	Line int
	Raw  string
	Err  error
}

func (e ParseError) Error() string {
	return fmt.Sprintf("%s:%d: %v", e.Path, e.Line, e.Err)
}

// Result is the outcome of one incremental read.
type Result struct {
	Records     []*types.Record
	ParseErrors []ParseError
	Offset      int64 // stored offset after the read
	Truncated   bool  // a shrunk file forced a full re-read from zero
}

// Reader reads only the bytes appended to a file since its recorded offset
// and decodes each complete line as JSON.
//
// Only complete lines are consumed: content after the final newline is left
// unread and the offset advances to the boundary of the last complete line,
// so a torn trailing line is re-read whole on a later invocation. \r\n and
// \n are treated uniformly.
type Reader struct {
	tracker  *tracker.Tracker
	logger   *logging.Logger
	inFlight atomic.Bool
}

// New creates a reader over the given offset table.
func New(tr *tracker.Tracker, logger *logging.Logger) *Reader {
	return &Reader{
		tracker: tr,
		logger:  logger.WithComponent("reader"),
	}
}

// Read performs one incremental read of path and advances the stored
// offset past the last complete line consumed. A stat or open failure
// leaves the offset untouched. At most one Read runs at a time per Reader;
// concurrent calls get ErrReadInProgress.
func (r *Reader) Read(ctx context.Context, path string) (*Result, error) {
	if !r.inFlight.CompareAndSwap(false, true) {
		return nil, ErrReadInProgress
	}
	defer r.inFlight.Store(false)

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	size := info.Size()

	pos, _ := r.tracker.Get(path)
	offset, lineNum := pos.Offset, pos.Line

	res := &Result{}
	if size < offset {
		// Truncation: reset before the read so nothing after a
		// truncation is double-applied on retry.
		r.logger.Info().Str("path", path).Int64("size", size).Int64("offset", offset).
			Msg("File shrank, re-reading from start")
		offset, lineNum = 0, 0
		r.tracker.Set(path, 0, 0)
		res.Truncated = true
	}

	if size == offset {
		res.Offset = offset
		return res, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek to offset %d: %w", offset, err)
	}

	br := bufio.NewReader(f)
	consumed := offset

	for {
		select {
		case <-ctx.Done():
			// Abandon without committing; the next invocation
			// restarts from the stored offset.
			return nil, ctx.Err()
		default:
		}

		line, err := br.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				// Partial trailing line: not consumed, re-read
				// next time once the writer flushes a newline.
				break
			}
			r.tracker.Set(path, consumed, lineNum)
			return nil, fmt.Errorf("failed to read file: %w", err)
		}

		consumed += int64(len(line))
		lineNum++

		text := strings.TrimRight(line, "\r\n")
		if strings.TrimSpace(text) == "" {
			continue
		}

		var data any
		if err := json.Unmarshal([]byte(text), &data); err != nil {
			res.ParseErrors = append(res.ParseErrors, ParseError{
				Path: path,
				Line: lineNum,
				Raw:  text,
				Err:  err,
			})
			continue
		}

		res.Records = append(res.Records, &types.Record{
			Data: data,
			Path: path,
			Line: lineNum,
			Raw:  text,
		})
	}

	r.tracker.Set(path, consumed, lineNum)
	res.Offset = consumed
	return res, nil
}
