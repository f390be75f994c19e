package store

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	internal "github.com/ZanzyTHEbar/sirecov/sirecov"
	"github.com/ZanzyTHEbar/sirecov/sirecov/records"
)

const ctxCheckEvery = 1024

var errHeaderLine = fmt.Errorf("%w: header line", ErrMalformedLine)

// Batch is the result of reading the data file from some offset.
type Batch struct {
	Records []records.Record
	// Offset is where the next read should start: just past the last
	// complete line consumed.
	Offset  int64
	Skipped int
}

// FlatFileStore is the append-only text file backing the engine. Each line
// is country,date,type,cases under a single header line.
type FlatFileStore struct {
	path   string
	mu     sync.Mutex
	logger zerolog.Logger
}

// NewFlatFileStore returns a store for path. The file is created lazily.
func NewFlatFileStore(path string, logger zerolog.Logger) (*FlatFileStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, ErrPathEmpty
	}
	return &FlatFileStore{
		path:   filepath.Clean(path),
		logger: logger.With().Str("component", "store").Str("path", path).Logger(),
	}, nil
}

// Path returns the data file location.
func (s *FlatFileStore) Path() string { return s.path }

// FormatLine renders r as one data line without the trailing newline.
func FormatLine(r records.Record) string {
	return r.String()
}

// ParseLine decodes and validates one data line. Blank lines and the header
// fail with ErrMalformedLine.
func ParseLine(line string) (records.Record, error) {
	raw := strings.TrimSpace(line)
	if raw == "" {
		return records.Record{}, fmt.Errorf("%w: empty line", ErrMalformedLine)
	}
	if strings.EqualFold(raw, internal.DefaultDataHeader) {
		return records.Record{}, errHeaderLine
	}

	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return records.Record{}, fmt.Errorf("%w: want 4 fields, got %d", ErrMalformedLine, len(parts))
	}
	cases, err := strconv.ParseInt(strings.TrimSpace(parts[3]), 10, 64)
	if err != nil {
		return records.Record{}, fmt.Errorf("%w: cases %q: %v", ErrMalformedLine, parts[3], err)
	}

	r := records.Record{
		Country: parts[0],
		Date:    parts[1],
		Type:    records.CaseType(parts[2]),
		Cases:   cases,
	}.Normalize()
	if err := records.Validate(r); err != nil {
		return records.Record{}, fmt.Errorf("%w: %v", ErrMalformedLine, err)
	}
	return r, nil
}

// EnsureFile creates the data file with its header, or prepends the header
// to an existing file that lacks one.
func (s *FlatFileStore) EnsureFile() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureFileLocked()
}

func (s *FlatFileStore) ensureFileLocked() error {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
		if err := os.WriteFile(s.path, []byte(internal.DefaultDataHeader+"\n"), 0o644); err != nil {
			return fmt.Errorf("failed to create data file: %w", err)
		}
		s.logger.Info().Msg("created data file")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open data file: %w", err)
	}

	prefix := make([]byte, len(internal.DefaultDataHeader))
	n, err := io.ReadFull(f, prefix)
	f.Close()
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to read data file: %w", err)
	}
	if bytes.Equal(prefix[:n], []byte(internal.DefaultDataHeader)) {
		return nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to read data file: %w", err)
	}
	fixed := append([]byte(internal.DefaultDataHeader+"\n"), data...)
	if err := os.WriteFile(s.path, fixed, 0o644); err != nil {
		return fmt.Errorf("failed to prepend header: %w", err)
	}
	s.logger.Warn().Msg("data file had no header, prepended one")
	return nil
}

// ReadAll returns every valid record in file order, including a final line
// that lacks its newline.
func (s *FlatFileStore) ReadAll(ctx context.Context) ([]records.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch, err := s.readLocked(ctx, 0, true)
	if err != nil {
		return nil, err
	}
	return batch.Records, nil
}

// ReadFrom decodes the complete lines starting at byte offset. A trailing
// line without a newline may still be mid-write, so it is left for the next
// call. Malformed lines are skipped and counted.
func (s *FlatFileStore) ReadFrom(ctx context.Context, offset int64) (Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked(ctx, offset, false)
}

// ReadSnapshot decodes the whole file, an unterminated last line included.
// Offset stops after the last newline, so a following ReadFrom sees that line
// again once a writer completes it.
func (s *FlatFileStore) ReadSnapshot(ctx context.Context) (Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked(ctx, 0, true)
}

func (s *FlatFileStore) readLocked(ctx context.Context, offset int64, final bool) (Batch, error) {
	if err := s.ensureFileLocked(); err != nil {
		return Batch{}, err
	}

	f, err := os.Open(s.path)
	if err != nil {
		return Batch{}, fmt.Errorf("failed to open data file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Batch{}, fmt.Errorf("failed to stat data file: %w", err)
	}
	if info.Size() < offset {
		return Batch{}, fmt.Errorf("%w: size %d, offset %d", ErrStoreTruncated, info.Size(), offset)
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return Batch{}, fmt.Errorf("failed to seek data file: %w", err)
	}

	batch := Batch{Records: []records.Record{}, Offset: offset}
	reader := bufio.NewReader(f)
	lineNo := 0
	for {
		line, err := reader.ReadString('\n')
		if err == io.EOF && (!final || line == "") {
			break
		}
		if err != nil && err != io.EOF {
			return Batch{}, fmt.Errorf("failed to read data file: %w", err)
		}
		start := batch.Offset
		if strings.HasSuffix(line, "\n") {
			batch.Offset += int64(len(line))
		}
		lineNo++

		if lineNo%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return Batch{}, err
			}
		}

		if strings.TrimSpace(line) == "" {
			continue
		}
		r, perr := ParseLine(line)
		if errors.Is(perr, errHeaderLine) {
			continue
		}
		if perr != nil {
			batch.Skipped++
			s.logger.Debug().Err(perr).Int64("offset", start).Msg("skipping line")
			continue
		}
		batch.Records = append(batch.Records, r)
	}

	if batch.Skipped > 0 {
		s.logger.Warn().Int("skipped", batch.Skipped).Msg("ignored malformed lines")
	}
	return batch, nil
}

// Append normalizes, validates and writes r as a new line. Countries
// containing a comma or line break cannot be represented and are rejected.
func (s *FlatFileStore) Append(ctx context.Context, r records.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r = r.Normalize()
	if err := records.Validate(r); err != nil {
		return err
	}
	if strings.ContainsAny(r.Country, ",\r\n") {
		return fmt.Errorf("%w: country contains a field separator", records.ErrInvalidRecord)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureFileLocked(); err != nil {
		return err
	}
	f, err := os.OpenFile(s.path, os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open data file: %w", err)
	}
	defer f.Close()

	line := FormatLine(r) + "\n"
	if !endsWithNewline(f) {
		line = "\n" + line
	}
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("failed to append record: %w", err)
	}
	s.logger.Debug().Str("record", r.NaturalKey()).Msg("appended record")
	return nil
}

func endsWithNewline(f *os.File) bool {
	info, err := f.Stat()
	if err != nil || info.Size() == 0 {
		return true
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil {
		return true
	}
	return last[0] == '\n'
}

// FindByKey scans the file for the first record with the given natural key.
func (s *FlatFileStore) FindByKey(ctx context.Context, key string) (records.Record, bool, error) {
	if key == "" {
		return records.Record{}, false, nil
	}
	all, err := s.ReadAll(ctx)
	if err != nil {
		return records.Record{}, false, err
	}
	for _, r := range all {
		if r.NaturalKey() == key {
			return r, true, nil
		}
	}
	return records.Record{}, false, nil
}

// Exists reports whether a record with the natural key is stored.
func (s *FlatFileStore) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := s.FindByKey(ctx, key)
	return ok, err
}
