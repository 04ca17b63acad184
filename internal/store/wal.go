package store

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"distributed-objectstore/internal/objectmodel"
)

// The WAL is the append-only record of every mutation applied to the
// Engine's in-memory index, written before the index itself is touched.
// Entries are NDJSON so replay can stream the file line by line instead
// of holding it all in memory, and a torn write from a crash mid-append
// only ever corrupts the last line rather than the whole log.

const (
	walOpPut    = "PUT"
	walOpDelete = "DELETE"
)

// walEntry is one durable record: either a full Object write (meta plus
// body) or a tombstone (meta only, Data nil).
type walEntry struct {
	Op   string               `json:"op"`
	Key  string               `json:"key"`
	Meta objectmodel.Metadata `json:"meta"`
	Data []byte               `json:"data,omitempty"`
}

// WAL is the append-only log backing one Engine, one file per node data
// directory.
type WAL struct {
	mu   sync.Mutex
	file *os.File
	path string
	seq  uint64
	log  zerolog.Logger
}

// newWAL opens (or creates) the log file at path. log receives a warning
// per entry that fails replay rather than silently dropping it, so a
// torn write surfaces instead of quietly losing a mutation.
func newWAL(path string, log zerolog.Logger) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &WAL{file: f, path: path, log: log}, nil
}

// append advances the log's in-memory sequence counter, serializes entry
// as JSON (the counter is not written into it), and fsyncs the write
// before returning — the durability guarantee every Engine mutation
// depends on.
func (w *WAL) append(entry walEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.seq++
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	if _, err := w.file.Write(data); err != nil {
		return err
	}
	return w.file.Sync()
}

// readAll replays the log from the beginning, returning every entry in
// write order. Lines that fail to parse are logged and skipped rather
// than aborting the whole replay: a torn tail from a crash mid-append
// should cost the last mutation, not every mutation before it.
func (w *WAL) readAll() ([]walEntry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.file.Seek(0, 0); err != nil {
		return nil, err
	}

	var entries []walEntry
	lineNo := 0
	scanner := bufio.NewScanner(w.file)
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e walEntry
		if err := json.Unmarshal(line, &e); err != nil {
			w.log.Warn().Str("path", w.path).Int("line", lineNo).Err(err).
				Msg("skipping unreadable wal entry")
			continue
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}

// truncate empties the log after its entries have been folded into a
// snapshot. O_TRUNC in place rather than unlink-and-recreate, since the
// Engine already holds the open *os.File and a rename would invalidate it.
func (w *WAL) truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.file.Truncate(0); err != nil {
		return err
	}
	w.seq = 0
	_, err := w.file.Seek(0, 0)
	return err
}

func (w *WAL) close() error {
	return w.file.Close()
}
