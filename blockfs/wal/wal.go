// Package wal journals inode attribute mutations before they reach the
// attribute database. Every dirtied record becomes one entry; on mount
// the current file is replayed into the attribute cache, and when the
// cache overflows the file is dumped into the database in batches and
// replaced.
package wal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"golang.org/x/sync/errgroup"
)

const (
	// BatchMaxSize is the max size of one database write batch
	BatchMaxSize = 500
)

type Entry struct {
	Key        []byte
	Value      []byte
	Tombstoned bool
}

type WAL struct {
	// path is path to WAL directory
	path string
	// file is current WAL file
	file *os.File
	// fileCounter numbers WAL files
	fileCounter int
	// db is the attribute database the WAL drains into
	db *leveldb.DB
	sync.RWMutex
	encoder *Encoder
	g       *errgroup.Group
}

// New creates or opens a WAL in the given directory
func New(path string, db *leveldb.DB) (*WAL, error) {
	w := &WAL{
		path: path,
		db:   db,
		g:    &errgroup.Group{},
	}
	w.Lock()
	defer w.Unlock()
	return w, w.OpenLastFile()
}

// OpenLastFile finds the newest WAL file and opens it for appending
func (w *WAL) OpenLastFile() error {
	err := filepath.Walk(w.path, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || info.Size() == 0 || !strings.HasSuffix(path, ".wal") {
			return nil
		}
		fc, err := strconv.Atoi(strings.TrimSuffix(filepath.Base(path), ".wal"))
		if err != nil {
			return err
		}
		if fc > w.fileCounter {
			w.fileCounter = fc
		}
		return nil
	})
	if err != nil {
		return err
	}
	f, err := os.OpenFile(w.Filename(), os.O_RDWR|os.O_CREATE, 0640)
	if err != nil {
		return fmt.Errorf("wal open: %w", err)
	}
	w.file = f
	w.encoder = NewEncoder(f)
	return nil
}

// rotate closes the current WAL file and starts the next one
func (w *WAL) rotate() error {
	if w.file != nil {
		w.file.Close()
		w.file = nil
		w.fileCounter++
	}
	f, err := os.Create(w.Filename())
	if err != nil {
		return err
	}
	w.file = f
	w.encoder = NewEncoder(f)
	return nil
}

// Size returns size of the current WAL file
func (w *WAL) Size() (int64, error) {
	if w.file == nil {
		return 0, fmt.Errorf("WAL file is not opened")
	}
	fileInfo, err := w.file.Stat()
	if err != nil {
		return 0, err
	}
	return fileInfo.Size(), nil
}

// AddEntry appends one entry to the WAL
func (w *WAL) AddEntry(entry *Entry) error {
	w.Lock()
	defer w.Unlock()
	return w.encoder.Encode(entry)
}

// Dump rotates the WAL and drains the previous file into the database
// in the background. Keys that reached the database are reported on
// output so the cache can mark them journaled.
func (w *WAL) Dump(output chan string) error {
	w.Lock()
	defer w.Unlock()
	size, err := w.Size()
	if err != nil {
		return err
	}
	if size == 0 {
		close(output)
		return nil
	}
	previous := w.Filename()
	if err := w.rotate(); err != nil {
		return err
	}
	w.g.Go(func() error {
		defer close(output)
		if err := w.drain(previous, output); err != nil {
			return err
		}
		return os.Remove(previous)
	})
	return nil
}

// Wait waits for background dumps to finish
func (w *WAL) Wait() error {
	return w.g.Wait()
}

// drain writes the content of one WAL file into the database
func (w *WAL) drain(fileName string, output chan string) error {
	f, err := os.Open(fileName)
	if err != nil {
		return err
	}
	defer f.Close()
	decoder := NewDecoder(f)

	wb := new(leveldb.Batch)
	keys := []string{}
	flush := func() error {
		if wb.Len() == 0 {
			return nil
		}
		if err := w.db.Write(wb, nil); err != nil {
			return err
		}
		wb.Reset()
		for _, key := range keys {
			output <- key
		}
		keys = keys[:0]
		return nil
	}
	for {
		var entry Entry
		if err := decoder.Decode(&entry); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}
		if entry.Tombstoned {
			wb.Delete(entry.Key)
		} else {
			wb.Put(entry.Key, entry.Value)
		}
		keys = append(keys, string(entry.Key))
		if wb.Len() >= BatchMaxSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

// Replay reads the current WAL file and returns its entries
func (w *WAL) Replay() ([]Entry, error) {
	w.Lock()
	defer w.Unlock()
	if _, err := w.file.Seek(0, 0); err != nil {
		return nil, err
	}
	decoder := NewDecoder(w.file)
	var entries []Entry
	counter := 0
	for {
		counter++
		var entry Entry
		if err := decoder.Decode(&entry); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("error while decoding WAL entry %d: %w", counter, err)
		}
		entries = append(entries, entry)
	}
	if _, err := w.file.Seek(0, 2); err != nil {
		return nil, err
	}
	return entries, nil
}

// Filename returns the current WAL file name
func (w *WAL) Filename() string {
	return fmt.Sprintf("%s/%d.wal", w.path, w.fileCounter)
}

// Close syncs and closes the current WAL file
func (w *WAL) Close() error {
	w.Lock()
	defer w.Unlock()
	if w.file == nil {
		return nil
	}
	w.file.Sync()
	return w.file.Close()
}
