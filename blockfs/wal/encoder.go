package wal

import (
	"encoding/base64"
	"os"
	"strings"
)

// Line format shared by Encoder and Decoder: three base64 free fields
// joined by fieldSep, one entry per line.
const (
	fieldSep       = "#"
	fieldsPerEntry = 3
	tombstoneSet   = "1"
	tombstoneClear = "0"
)

// Encoder appends entries to the WAL file, one base64 encoded line per
// entry.
type Encoder struct {
	file *os.File
}

// NewEncoder creates new encoder for WAL
func NewEncoder(file *os.File) *Encoder {
	return &Encoder{
		file: file,
	}
}

// Encode encodes entry to WAL
func (e *Encoder) Encode(entry *Entry) error {
	tombstone := tombstoneClear
	if entry.Tombstoned {
		tombstone = tombstoneSet
	}
	line := strings.Join([]string{
		base64.StdEncoding.EncodeToString(entry.Key),
		base64.StdEncoding.EncodeToString(entry.Value),
		tombstone,
	}, fieldSep)
	_, err := e.file.WriteString(line + "\n")
	return err
}
