// Package dailyfile appends reading records to one delimited file per calendar day.
package dailyfile

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/NotCoffee418/p1_logger/pkg/reading"
)

const (
	DefaultExtension = "csv"
	DefaultDelimiter = ','

	fileNameLayout = "20060102"
)

var ErrAppendFailed = errors.New("append to daily file failed")

type Options struct {
	Dir       string
	Extension string
	Delimiter rune

	// Written as the first row when a day's file is created. Nil means no header.
	Header []string

	// End rows with \r\n instead of \n.
	CRLF bool
}

// Sink owns the directory of daily files. No file handle is kept between
// appends; the target file is resolved again on every call.
type Sink struct {
	dir       string
	extension string
	delimiter rune
	header    []string
	crlf      bool

	locksMu sync.Mutex
	locks   map[string]*pathLock
}

// pathLock serializes appends to one file. It is removed from the map once
// no appender holds or waits for it.
type pathLock struct {
	mu   sync.Mutex
	refs int
}

func New(opts Options) (*Sink, error) {
	if opts.Dir == "" {
		opts.Dir = "."
	}
	if opts.Extension == "" {
		opts.Extension = DefaultExtension
	}
	if opts.Delimiter == 0 {
		opts.Delimiter = DefaultDelimiter
	}
	if opts.Delimiter == '\r' || opts.Delimiter == '\n' || opts.Delimiter == '"' {
		return nil, fmt.Errorf("invalid delimiter %q", opts.Delimiter)
	}

	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	return &Sink{
		dir:       opts.Dir,
		extension: strings.TrimPrefix(opts.Extension, "."),
		delimiter: opts.Delimiter,
		header:    opts.Header,
		crlf:      opts.CRLF,
		locks:     make(map[string]*pathLock),
	}, nil
}

// PathFor returns the file holding rows for the calendar day of t.
// t is expected to already be in the logging time zone.
func (s *Sink) PathFor(t time.Time) string {
	return filepath.Join(s.dir, t.Format(fileNameLayout)+"."+s.extension)
}

// Append writes rec as a single row to the file for its date and syncs it
// to disk before returning.
func (s *Sink) Append(rec reading.Record) error {
	path := s.PathFor(rec.Timestamp)

	lock := s.acquire(path)
	defer s.release(path, lock)

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", ErrAppendFailed, path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("%w: stat %s: %w", ErrAppendFailed, path, err)
	}

	var rows [][]string
	if info.Size() == 0 && s.header != nil {
		rows = append(rows, s.header)
	}
	rows = append(rows, rec.Row())

	data, err := s.render(rows)
	if err != nil {
		file.Close()
		return fmt.Errorf("%w: %w", ErrAppendFailed, err)
	}

	// One write per append so concurrent appenders never interleave partial rows.
	if _, err := file.Write(data); err != nil {
		file.Close()
		return fmt.Errorf("%w: write %s: %w", ErrAppendFailed, path, err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("%w: sync %s: %w", ErrAppendFailed, path, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %w", ErrAppendFailed, path, err)
	}
	return nil
}

func (s *Sink) render(rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = s.delimiter
	w.UseCRLF = s.crlf
	if err := w.WriteAll(rows); err != nil {
		return nil, fmt.Errorf("render row: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *Sink) acquire(path string) *pathLock {
	s.locksMu.Lock()
	lock, ok := s.locks[path]
	if !ok {
		lock = &pathLock{}
		s.locks[path] = lock
	}
	lock.refs++
	s.locksMu.Unlock()

	lock.mu.Lock()
	return lock
}

func (s *Sink) release(path string, lock *pathLock) {
	lock.mu.Unlock()

	s.locksMu.Lock()
	lock.refs--
	if lock.refs == 0 {
		delete(s.locks, path)
	}
	s.locksMu.Unlock()
}
