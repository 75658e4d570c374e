package blockfs

import (
	"fmt"
	"os/user"
	"path"
	"strconv"
	"sync"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/jacobsa/timeutil"
	"github.com/nutsdb/nutsdb"
	"github.com/rarydzu/blockfs/blockfs/alloc"
	"github.com/rarydzu/blockfs/blockfs/config"
	"github.com/rarydzu/blockfs/blockfs/device"
	blockdir "github.com/rarydzu/blockfs/blockfs/dir"
	"github.com/rarydzu/blockfs/blockfs/engine"
	blockfile "github.com/rarydzu/blockfs/blockfs/file"
	"github.com/rarydzu/blockfs/blockfs/fsdb"
	"github.com/rarydzu/blockfs/blockfs/lastinode"
	"github.com/rarydzu/blockfs/hash"
	"github.com/rarydzu/blockfs/snapshot"
	"go.uber.org/zap"
)

type Blockfs struct {
	fuseutil.NotImplementedFileSystem
	Name            string
	log             *zap.SugaredLogger
	metadb          *fsdb.Fsdb
	dev             device.Store
	allocator       *alloc.Engine
	engine          *engine.Engine
	statedb         *nutsdb.DB
	nextInode       fuseops.InodeID
	fileHandles     map[fuseops.HandleID]*blockfile.FsFile
	dirHandles      map[fuseops.HandleID]*blockdir.FsDir
	nextHandle      fuseops.HandleID
	lockInode       sync.RWMutex
	lockHandle      sync.Mutex
	Clock           timeutil.Clock
	uid             uint32
	gid             uint32
	lastInodeEngine *lastinode.LastInodeEngine
	locker          *hash.Hash
	readOnly        bool
	metaPath        string
	snap            *snapshot.Snapshot
	lockSnap        sync.Mutex
}

// NewBlockFS opens the metadata stores, the data device and the
// allocator state and wires the block I/O engine on top of them.
func NewBlockFS(cfg *config.Config, log *zap.SugaredLogger) (*Blockfs, error) {
	metadb, err := fsdb.New(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("metadb: %v", err)
	}
	user, err := user.Current()
	if err != nil {
		return nil, err
	}
	uid, err := strconv.ParseUint(user.Uid, 10, 32)
	if err != nil {
		return nil, err
	}
	gid, err := strconv.ParseUint(user.Gid, 10, 32)
	if err != nil {
		return nil, err
	}
	statedb, err := nutsdb.Open(nutsdb.DefaultOptions,
		nutsdb.WithDir(path.Join(cfg.Path, "state")))
	if err != nil {
		metadb.Close()
		return nil, fmt.Errorf("statedb: %v", err)
	}
	devicePath := cfg.DevicePath
	if devicePath == "" {
		devicePath = path.Join(cfg.Path, "data.blk")
	}
	dev, err := device.OpenFileStore(devicePath, cfg.BlockSizeOrDefault(), cfg.TotalBlocksOrDefault())
	if err != nil {
		metadb.Close()
		statedb.Close()
		return nil, fmt.Errorf("device: %v", err)
	}
	allocator, err := alloc.New(statedb, cfg.TotalBlocksOrDefault())
	if err != nil {
		metadb.Close()
		statedb.Close()
		dev.Close()
		return nil, fmt.Errorf("allocator: %v", err)
	}
	clock := timeutil.RealClock()
	fs := &Blockfs{
		Name:            cfg.FilesystemName,
		metadb:          metadb,
		log:             log,
		dev:             dev,
		allocator:       allocator,
		statedb:         statedb,
		Clock:           clock,
		fileHandles:     make(map[fuseops.HandleID]*blockfile.FsFile),
		dirHandles:      make(map[fuseops.HandleID]*blockdir.FsDir),
		uid:             uint32(uid),
		gid:             uint32(gid),
		lastInodeEngine: lastinode.New(cfg.Path, statedb),
		locker:          hash.New(1024),
		readOnly:        cfg.ReadOnly,
		metaPath:        cfg.Path,
	}
	fs.engine = engine.New(dev, allocator, metadb, clock,
		cfg.BlockSizeOrDefault(), cfg.MaxExtentsOrDefault(), log)
	return fs, nil
}

// Engine exposes the block I/O engine.
func (fs *Blockfs) Engine() *engine.Engine {
	return fs.engine
}

// Snapshot copies the metadata stores into a named snapshot and
// returns its hash. The snapshot catalog is opened lazily on the
// first call.
func (fs *Blockfs) Snapshot(name string) (string, error) {
	fs.lockSnap.Lock()
	defer fs.lockSnap.Unlock()
	if fs.snap == nil {
		s, err := snapshot.New(path.Join(fs.metaPath, "snapshots"),
			fs.metadb.IStore(), fs.metadb.AStore(), fs.metadb.Wal.Filename())
		if err != nil {
			return "", err
		}
		fs.snap = s
	}
	return fs.snap.Create(name)
}

// Destroy stops the filesystem.
func (fs *Blockfs) Destroy() {
	fs.lockSnap.Lock()
	if fs.snap != nil {
		if err := fs.snap.Close(); err != nil {
			fs.log.Errorf("Error closing snapshot catalog: %v", err)
		}
		fs.snap = nil
	}
	fs.lockSnap.Unlock()
	if err := fs.metadb.Close(); err != nil {
		fs.log.Errorf("Error closing metadb: %v", err)
	}
	if err := fs.lastInodeEngine.Close(); err != nil {
		fs.log.Errorf("Error closing lastInodeEngine: %v", err)
	}
	if err := fs.dev.Close(); err != nil {
		fs.log.Errorf("Error closing device: %v", err)
	}
	if err := fs.statedb.Close(); err != nil {
		fs.log.Errorf("Error closing statedb: %v", err)
	}
}
