// Command mkfs formats a disk file with a bitmap-based minifile
// filesystem, matching the original's "mkfs n" tool (spec §6).
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/joeycumines/minikernel/disk"
	"github.com/joeycumines/minikernel/minifile"
	"github.com/joeycumines/minikernel/minithread"
)

func main() {
	flag.Parse()
	args := flag.Args()
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: mkfs <disk-file> <num-blocks>")
		os.Exit(1)
	}
	path := args[0]
	n, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mkfs: bad block count %q: %v\n", args[1], err)
		os.Exit(1)
	}

	var exitCode int
	minithread.Initialize(func(any) {
		defer minithread.Shutdown()

		backend, err := disk.OpenFileBackend(path, int(n))
		if err != nil {
			fmt.Fprintf(os.Stderr, "mkfs: %v\n", err)
			exitCode = 1
			return
		}
		dev := disk.New(backend, int(n), 1)
		defer dev.Shutdown()

		if _, err := minifile.Mkfs(dev, n); err != nil {
			fmt.Fprintf(os.Stderr, "mkfs: %v\n", err)
			exitCode = 1
			return
		}
		fmt.Printf("formatted %s: %d blocks\n", path, n)
	}, nil)

	os.Exit(exitCode)
}
