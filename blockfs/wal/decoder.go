package wal

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
)

// Decoder reads WAL lines back into entries.
type Decoder struct {
	reader   *bufio.Reader
	position int64
}

// NewDecoder creates new decoder for WAL
func NewDecoder(file *os.File) *Decoder {
	return &Decoder{
		reader:   bufio.NewReader(file),
		position: 0,
	}
}

// Decode decodes one entry from WAL
func (d *Decoder) Decode(e *Entry) error {
	l, err := d.reader.ReadString('\n')
	if err != nil {
		return err
	}
	d.position += 1
	rline := strings.Split(strings.TrimRight(l, "\n"), fieldSep)
	if len(rline) != fieldsPerEntry {
		return fmt.Errorf("malformed WAL entry in line %d", d.position)
	}
	decKey, err := base64.StdEncoding.DecodeString(rline[0])
	if err != nil {
		return fmt.Errorf("unable to decode entry key in line %d: %w", d.position, err)
	}
	decValue, err := base64.StdEncoding.DecodeString(rline[1])
	if err != nil {
		return fmt.Errorf("unable to decode entry value in line %d: %w", d.position, err)
	}
	e.Key = decKey
	e.Value = decValue
	e.Tombstoned = rline[2] == tombstoneSet
	return nil
}
