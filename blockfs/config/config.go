package config

import (
	"time"

	"github.com/jacobsa/fuse"
)

const (
	// DefaultBlockSize is the fixed size of one data block in bytes.
	DefaultBlockSize = 4096
	// DefaultMaxExtents is the number of block map slots per inode,
	// which bounds the maximum file size at MaxExtents * BlockSize.
	DefaultMaxExtents = 10
	// DefaultTotalBlocks is the default data device size in blocks.
	DefaultTotalBlocks = 1024 * 1024
	// DefaultCacheSize is the attribute cache eviction threshold.
	DefaultCacheSize = 10000
)

type Config struct {
	// Path to the directory containing the metadata stores.
	Path string
	//FilesystemName name of the filesystem
	FilesystemName string
	//DevicePath path to the data device file
	DevicePath string
	//BlockSize size of one data block in bytes
	BlockSize uint32
	//MaxExtents block map slots per inode
	MaxExtents uint32
	//TotalBlocks size of the data device in blocks
	TotalBlocks uint32
	// fuse config
	FuseCfg *fuse.MountConfig
	//Mountpoint filesystem mountpoint
	Mountpoint string
	//DebugMode run in debug mode
	DebugMode bool
	//ReadOnly run in read only mode
	ReadOnly bool
	//ShutdownTimeout timeout for shutdown
	ShutdownTimeout time.Duration
	//CacheSize cache size
	CacheSize int
}

// BlockSizeOrDefault returns the configured block size or the default one.
func (c *Config) BlockSizeOrDefault() uint32 {
	if c.BlockSize == 0 {
		return DefaultBlockSize
	}
	return c.BlockSize
}

// MaxExtentsOrDefault returns the configured block map capacity or the default one.
func (c *Config) MaxExtentsOrDefault() uint32 {
	if c.MaxExtents == 0 {
		return DefaultMaxExtents
	}
	return c.MaxExtents
}

// TotalBlocksOrDefault returns the configured device size or the default one.
func (c *Config) TotalBlocksOrDefault() uint32 {
	if c.TotalBlocks == 0 {
		return DefaultTotalBlocks
	}
	return c.TotalBlocks
}

// CacheSizeOrDefault returns the configured cache threshold or the default one.
func (c *Config) CacheSizeOrDefault() int {
	if c.CacheSize == 0 {
		return DefaultCacheSize
	}
	return c.CacheSize
}
