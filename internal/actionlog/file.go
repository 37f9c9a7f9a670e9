package actionlog

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/pwannenmacher/MetaRate/internal/models"
)

const (
	fileSuffix    = "_action_log.jsonl"
	schemaName    = "metarate.action_log"
	schemaVersion = 1
)

// header is the first line of every log file
type header struct {
	Schema  string   `json:"schema"`
	Version int      `json:"version"`
	Columns []string `json:"columns"`
}

var currentHeader = header{
	Schema:  schemaName,
	Version: schemaVersion,
	Columns: []string{"timestamp", "username", "action", "report_id", "rating", "comment"},
}

func (h header) matches() bool {
	return h.Schema == currentHeader.Schema &&
		h.Version == currentHeader.Version &&
		slices.Equal(h.Columns, currentHeader.Columns)
}

// FileLog stores one line-delimited JSON file per user.
//
// A file whose header does not match the current schema is moved aside to
// <name>.incompatible-<unix> and a fresh log is started in its place.
type FileLog struct {
	dir    string
	locker *Locker
	now    func() time.Time
}

// NewFileLog creates a file-backed log under dir
func NewFileLog(dir string) (*FileLog, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create logs directory: %w", err)
	}
	return &FileLog{dir: dir, locker: NewLocker(), now: time.Now}, nil
}

func (f *FileLog) path(username string) string {
	return filepath.Join(f.dir, url.PathEscape(username)+fileSuffix)
}

// Append writes one entry and syncs the file
func (f *FileLog) Append(_ context.Context, entry models.ActionEntry) error {
	if err := Validate(entry); err != nil {
		return err
	}
	entry = Stamp(entry, f.now)

	unlock := f.locker.Lock(entry.Username)
	defer unlock()

	path := f.path(entry.Username)
	fresh, err := f.prepare(path)
	if err != nil {
		return WriteFailure(err)
	}
	torn := false
	if !fresh {
		if torn, err = hasTornTail(path); err != nil {
			return WriteFailure(err)
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return WriteFailure(err)
	}

	var buf bytes.Buffer
	if torn {
		// terminate the partial line so the new entry starts on its own line
		buf.WriteByte('\n')
	}
	enc := json.NewEncoder(&buf)
	if fresh {
		if err := enc.Encode(currentHeader); err != nil {
			file.Close()
			return WriteFailure(err)
		}
	}
	if err := enc.Encode(entry); err != nil {
		file.Close()
		return WriteFailure(err)
	}

	if _, err := file.Write(buf.Bytes()); err != nil {
		file.Close()
		return WriteFailure(err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return WriteFailure(err)
	}
	if err := file.Close(); err != nil {
		return WriteFailure(err)
	}
	return nil
}

// prepare reports whether the file must be started fresh, moving an
// incompatible file out of the way first
func (f *FileLog) prepare(path string) (bool, error) {
	h, err := readHeader(path)
	if errors.Is(err, os.ErrNotExist) {
		return true, nil
	}
	if err == nil && h.matches() {
		return false, nil
	}

	aside := fmt.Sprintf("%s.incompatible-%d", path, f.now().Unix())
	if renameErr := os.Rename(path, aside); renameErr != nil {
		return false, fmt.Errorf("failed to move incompatible log aside: %w", renameErr)
	}
	slog.Warn("Action log has an incompatible schema, starting a fresh log",
		"path", path, "moved_to", aside, "reason", err)
	return true, nil
}

// hasTornTail reports whether the file ends without a newline, as left by an
// interrupted write
func hasTornTail(path string) (bool, error) {
	file, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return false, err
	}
	if info.Size() == 0 {
		return false, nil
	}
	last := make([]byte, 1)
	if _, err := file.ReadAt(last, info.Size()-1); err != nil {
		return false, fmt.Errorf("failed to inspect log tail: %w", err)
	}
	if last[0] != '\n' {
		slog.Warn("Action log ends with a partial line", "path", path)
		return true, nil
	}
	return false, nil
}

func readHeader(path string) (header, error) {
	file, err := os.Open(path)
	if err != nil {
		return header{}, err
	}
	defer file.Close()

	line, err := bufio.NewReader(file).ReadBytes('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return header{}, err
	}
	var h header
	if err := json.Unmarshal(bytes.TrimSpace(line), &h); err != nil {
		return header{}, fmt.Errorf("unreadable header: %w", err)
	}
	return h, nil
}

// Read returns the user's entries; an incompatible file reads as empty
func (f *FileLog) Read(_ context.Context, username string) ([]models.ActionEntry, error) {
	file, err := os.Open(f.path(username))
	if errors.Is(err, os.ErrNotExist) {
		return []models.ActionEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open action log: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)

	entries := []models.ActionEntry{}
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if lineNo == 1 {
			var h header
			if err := json.Unmarshal(line, &h); err != nil || !h.matches() {
				return []models.ActionEntry{}, nil
			}
			continue
		}
		var e models.ActionEntry
		if err := json.Unmarshal(line, &e); err != nil {
			slog.Warn("Skipping unreadable action log line", "username", username, "line", lineNo, "error", err)
			continue
		}
		e.ID = uint(len(entries) + 1)
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read action log: %w", err)
	}
	return entries, nil
}

// Users lists the users that have a log file
func (f *FileLog) Users(_ context.Context) ([]string, error) {
	files, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list action logs: %w", err)
	}
	var users []string
	for _, file := range files {
		name := file.Name()
		if file.IsDir() || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		username, err := url.PathUnescape(strings.TrimSuffix(name, fileSuffix))
		if err != nil {
			continue
		}
		users = append(users, username)
	}
	sort.Strings(users)
	return users, nil
}
