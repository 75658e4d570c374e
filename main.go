package main

import (
	"flag"
	"log"
	"time"

	"github.com/jacobsa/fuse"
	"github.com/rarydzu/blockfs/blockfs/config"
	"github.com/rarydzu/blockfs/worker"
	"go.uber.org/zap"
)

var fMountPoint = flag.String("mount_point", "", "Path to mount point.")
var fMetaPath = flag.String("meta_path", "/tmp/blockfs", "Path to metadata store.")
var fDevicePath = flag.String("device_path", "", "Path to block device file (defaults to meta_path/data.blk).")
var fBlockSize = flag.Uint("block_size", config.DefaultBlockSize, "Block size in bytes.")
var fMaxExtents = flag.Uint("max_extents", config.DefaultMaxExtents, "Maximum blocks per file.")
var fTotalBlocks = flag.Uint("total_blocks", config.DefaultTotalBlocks, "Total blocks on the device.")
var fReadOnly = flag.Bool("read_only", false, "Mount in read-only mode.")
var fDev = flag.Bool("dev", false, "Run in development mode")
var fFuseDebug = flag.Bool("fuse_debug", false, "Run in fuse debug mode")

func main() {
	flag.Parse()
	logger, err := zap.NewProduction()
	if *fDev {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatalf("Failed to initialize zap logger: %v", err)
	}
	sugarlog := logger.Sugar()

	if *fMountPoint == "" {
		log.Fatalf("You must set --mount_point.")
	}
	fuseCfg := &fuse.MountConfig{
		ReadOnly:    *fReadOnly,
		ErrorLogger: zap.NewStdLog(sugarlog.Desugar()),
		FSName:      "blockfs",
	}
	if *fFuseDebug {
		fuseCfg.DebugLogger = zap.NewStdLog(sugarlog.Desugar())
	}

	worker, err := worker.New(&config.Config{
		Path:            *fMetaPath,
		FilesystemName:  "blockfs",
		DevicePath:      *fDevicePath,
		BlockSize:       uint32(*fBlockSize),
		MaxExtents:      uint32(*fMaxExtents),
		TotalBlocks:     uint32(*fTotalBlocks),
		FuseCfg:         fuseCfg,
		Mountpoint:      *fMountPoint,
		DebugMode:       *fDev,
		ReadOnly:        *fReadOnly,
		ShutdownTimeout: 60 * time.Second,
		CacheSize:       10000,
	}, sugarlog)
	if err != nil {
		log.Fatalf("makeFS: %v", err)
	}
	if err := worker.Start(); err != nil {
		log.Fatalf("Start: %v", err)
	}
	worker.Wait()
}
