// Command fsck mounts a minifile disk image and checks bitmap
// consistency, an enrichment of the original minifile_fsck (which is an
// empty stub in the original source) using minifile's free-counter and
// bitmap-recount accessors.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joeycumines/minikernel/disk"
	"github.com/joeycumines/minikernel/minifile"
	"github.com/joeycumines/minikernel/minithread"
)

func main() {
	flag.Parse()
	args := flag.Args()
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: fsck <disk-file>")
		os.Exit(1)
	}
	path := args[0]

	var exitCode int
	minithread.Initialize(func(any) {
		defer minithread.Shutdown()

		st, err := os.Stat(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "fsck: %v\n", err)
			exitCode = 1
			return
		}
		size := int(st.Size()/disk.BlockSize) - 1
		backend, err := disk.OpenFileBackend(path, size)
		if err != nil {
			fmt.Fprintf(os.Stderr, "fsck: %v\n", err)
			exitCode = 1
			return
		}
		dev := disk.New(backend, size, 1)
		defer dev.Shutdown()

		fs, err := minifile.Open(dev)
		if err != nil {
			fmt.Fprintf(os.Stderr, "fsck: %v\n", err)
			exitCode = 1
			return
		}

		ok := true
		freeBlocks, err := fs.CountZeroBlockBits()
		if err != nil {
			fmt.Fprintf(os.Stderr, "fsck: %v\n", err)
			exitCode = 1
			return
		}
		if uint64(freeBlocks) != fs.FreeBlocks() {
			fmt.Printf("block bitmap inconsistent: superblock says %d free, bitmap has %d\n", fs.FreeBlocks(), freeBlocks)
			ok = false
		}

		freeInodes, err := fs.CountZeroInodeBits()
		if err != nil {
			fmt.Fprintf(os.Stderr, "fsck: %v\n", err)
			exitCode = 1
			return
		}
		if uint64(freeInodes) != fs.FreeInodes() {
			fmt.Printf("inode bitmap inconsistent: superblock says %d free, bitmap has %d\n", fs.FreeInodes(), freeInodes)
			ok = false
		}

		if ok {
			fmt.Println("filesystem clean")
		} else {
			exitCode = 1
		}
	}, nil)

	os.Exit(exitCode)
}
