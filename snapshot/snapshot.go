// Package snapshot copies the metadata stores into named, point in
// time leveldb copies. The data device is not part of a snapshot.
package snapshot

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path"

	"github.com/syndtr/goleveldb/leveldb"
)

const (
	// CurrentSnapshotName keys the most recent snapshot hash.
	CurrentSnapshotName = "current"
	// SnapshotsDataPath holds the per snapshot store copies.
	SnapshotsDataPath = "data"
)

type Snapshot struct {
	SnapshotPath string
	Name         string
	db           *leveldb.DB
	inodeDB      *leveldb.DB
	attrDB       *leveldb.DB
	walFile      string
}

// New opens the snapshot catalog. inodeDB and attrDB are the live
// stores; walFile, when set, is copied verbatim into every snapshot so
// attributes still sitting in the log are not lost.
func New(spath string, inodeDB, attrDB *leveldb.DB, walFile string) (*Snapshot, error) {
	if spath == "" {
		return nil, errors.New("path cannot be empty")
	}
	db, err := leveldb.OpenFile(path.Join(spath, "db"), nil)
	if err != nil {
		return nil, err
	}
	if err = os.MkdirAll(path.Join(spath, SnapshotsDataPath), 0755); err != nil {
		db.Close()
		return nil, err
	}
	return &Snapshot{
		SnapshotPath: spath,
		db:           db,
		inodeDB:      inodeDB,
		attrDB:       attrDB,
		walFile:      walFile,
	}, nil
}

// Create makes a named snapshot and returns its hash.
func (s *Snapshot) Create(name string) (string, error) {
	if name == "" {
		return "", errors.New("name cannot be empty")
	}
	h := sha256.New()
	h.Write([]byte(name))
	hash := fmt.Sprintf("%x", h.Sum(nil))

	if _, err := s.db.Get([]byte(name), nil); err == nil {
		return "", fmt.Errorf("snapshot %q already exists", name)
	} else if err != leveldb.ErrNotFound {
		return "", err
	}

	dataPath := path.Join(s.SnapshotPath, SnapshotsDataPath, hash)
	if err := s.copyStore(s.inodeDB, path.Join(dataPath, "inodes")); err != nil {
		return "", err
	}
	if err := s.copyStore(s.attrDB, path.Join(dataPath, "attrs")); err != nil {
		return "", err
	}
	if s.walFile != "" {
		if err := s.copyWal(dataPath); err != nil {
			return "", err
		}
	}
	if err := s.db.Put([]byte(CurrentSnapshotName), []byte(hash), nil); err != nil {
		return "", err
	}
	if err := s.db.Put([]byte(name), []byte(hash), nil); err != nil {
		return "", err
	}
	s.Name = name
	return hash, nil
}

// copyStore writes a consistent copy of a live store at dst.
func (s *Snapshot) copyStore(src *leveldb.DB, dst string) error {
	snap, err := src.GetSnapshot()
	if err != nil {
		return err
	}
	defer snap.Release()
	out, err := leveldb.OpenFile(dst, nil)
	if err != nil {
		return err
	}
	defer out.Close()
	iter := snap.NewIterator(nil, nil)
	batch := new(leveldb.Batch)
	for iter.Next() {
		batch.Put(iter.Key(), iter.Value())
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return err
	}
	return out.Write(batch, nil)
}

func (s *Snapshot) copyWal(dataPath string) error {
	buf, err := os.ReadFile(s.walFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return os.WriteFile(path.Join(dataPath, "wal"), buf, 0644)
}

// GetCurrentSnapshot returns the hash of the latest snapshot, empty
// when none was taken yet.
func (s *Snapshot) GetCurrentSnapshot() (string, error) {
	n, err := s.db.Get([]byte(CurrentSnapshotName), nil)
	if err != nil {
		if err == leveldb.ErrNotFound {
			return "", nil
		}
		return "", err
	}
	return string(n), nil
}

// ListSnapshots lists all snapshot names.
func (s *Snapshot) ListSnapshots() ([]string, error) {
	l := []string{}
	iter := s.db.NewIterator(nil, nil)
	for iter.Next() {
		if string(iter.Key()) == CurrentSnapshotName {
			continue
		}
		l = append(l, string(iter.Key()))
	}
	iter.Release()
	return l, iter.Error()
}

func (s *Snapshot) Close() error {
	return s.db.Close()
}
