// Command mkfs builds a filesystem image offline: it formats a fresh
// image and copies a flat list of host files into its root directory,
// then writes the finished image out to disk for cmd/kernel's -disk
// flag to mount.
//
// Adapted from the teacher's mkfs.go: that one walks a host skeleton
// directory tree and replays it through ufs's MkDir/MkFile/Append.
// This filesystem has no directory-creation operation of its own (its
// layout is a single flat root directory, matching spec.md's FS
// module), so there is no tree to walk — just a list of files to copy
// in by basename.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"rvkernel/internal/blockdev"
	"rvkernel/internal/fs"
	"rvkernel/internal/kconfig"
)

func main() {
	out := flag.String("out", "disk.img", "path to write the finished image to")
	blocks := flag.Int("blocks", 4096, "total block count for the image")
	flag.Parse()

	dev := blockdev.NewMemory(*blocks)
	fsys := fs.Create(dev, *blocks, 1)
	root := fsys.Root()

	for _, src := range flag.Args() {
		if err := copyIn(root, src); err != nil {
			fmt.Fprintf(os.Stderr, "mkfs: %v\n", err)
			os.Exit(1)
		}
	}

	if err := writeImage(*out, dev); err != nil {
		fmt.Fprintf(os.Stderr, "mkfs: %v\n", err)
		os.Exit(1)
	}
}

// copyIn creates name (its host basename) in root and streams src's
// contents into it BlockSize bytes at a time, mirroring the teacher's
// copydata/Append loop.
func copyIn(root *fs.Inode, src string) error {
	name := filepath.Base(src)
	in, err := root.Create(name)
	if err != nil {
		return fmt.Errorf("creating %q: %w", name, err)
	}

	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %q: %w", src, err)
	}
	defer f.Close()

	buf := make([]byte, kconfig.BlockSize)
	offset := 0
	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			in.WriteAt(offset, buf[:n])
			offset += n
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return fmt.Errorf("reading %q: %w", src, readErr)
		}
	}
	fmt.Printf("mkfs: copied %s -> %s (%d bytes)\n", src, name, offset)
	return nil
}

// writeImage flushes every block of dev out to path in order, turning
// the in-memory device mkfs built into a file cmd/kernel's -disk flag
// can load back with os.ReadFile.
func writeImage(path string, dev *blockdev.Memory) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	for id := 0; id < dev.NumBlocks(); id++ {
		if _, err := f.Write(dev.Raw(id)); err != nil {
			return err
		}
	}
	fmt.Printf("mkfs: wrote %s (%d blocks)\n", path, dev.NumBlocks())
	return nil
}
