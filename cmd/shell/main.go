// Command shell is a minimal interactive front-end over minifile,
// matching the original's shell.c command set (cd, ls, pwd, mkdir, rmdir,
// rm, type, cp, mv, help, exit) without reproducing its Windows-specific
// import/export/exec commands.
package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/joeycumines/minikernel/disk"
	"github.com/joeycumines/minikernel/keyboard"
	"github.com/joeycumines/minikernel/minifile"
	"github.com/joeycumines/minikernel/minithread"
)

const helpText = `Supported commands:
 cd path          - switch to a new path
 ls [path]        - list contents of current directory, or path if given
 pwd              - tell current directory
 mkdir path       - create a new directory
 rmdir path       - remove a directory
 rm path          - remove a file
 cp src dest      - copy src file to dest file
 mv src dest      - move src file to dest file
 type path        - print given file on the screen
 help             - show this screen
 exit             - exit shell
`

func main() {
	if len(os.Args) != 3 {
		fmt.Fprintln(os.Stderr, "usage: shell <disk-file> <num-blocks>")
		os.Exit(1)
	}
	path := os.Args[1]
	n, err := strconv.ParseUint(os.Args[2], 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "shell: bad block count %q: %v\n", os.Args[2], err)
		os.Exit(1)
	}

	minithread.Initialize(func(any) {
		defer minithread.Shutdown()
		runShell(path, n)
	}, nil)
}

func runShell(path string, n uint64) {
	_, statErr := os.Stat(path)
	existing := statErr == nil

	backend, err := disk.OpenFileBackend(path, int(n))
	if err != nil {
		fmt.Fprintf(os.Stderr, "shell: %v\n", err)
		return
	}
	dev := disk.New(backend, int(n), 1)
	defer dev.Shutdown()

	var fs *minifile.FS
	if existing {
		fs, err = minifile.Open(dev)
	} else {
		fs, err = minifile.Mkfs(dev, n)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "shell: %v\n", err)
		return
	}

	kb := keyboard.New(os.Stdin)
	fmt.Println("minikernel filesystem shell v1.0")

	for {
		pwd, err := fs.Pwd()
		if err != nil {
			pwd = "?"
		}
		fmt.Printf("thread%d@localhost: %s %% ", minithread.ID(), pwd)

		line, err := kb.ReadLine()
		if err != nil {
			fmt.Println()
			return
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		cmd, args := fields[0], fields[1:]

		switch cmd {
		case "help":
			fmt.Print(helpText)
		case "exit":
			return
		case "cd":
			if len(args) != 1 {
				fmt.Println("usage: cd path")
				continue
			}
			if err := fs.Cd(args[0]); err != nil {
				fmt.Println("cd:", err)
			}
		case "pwd":
			fmt.Println(pwd)
		case "ls", "dir":
			target := ""
			if len(args) > 0 {
				target = args[0]
			}
			entries, err := fs.Ls(target, minifile.CurrentDir())
			if err != nil {
				fmt.Println("ls:", err)
				continue
			}
			for _, e := range entries {
				fmt.Println("\t" + e)
			}
		case "mkdir":
			if len(args) != 1 {
				fmt.Println("usage: mkdir path")
				continue
			}
			if err := fs.Mkdir(args[0], minifile.CurrentDir()); err != nil {
				fmt.Println("mkdir:", err)
			}
		case "rmdir":
			if len(args) != 1 {
				fmt.Println("usage: rmdir path")
				continue
			}
			if err := fs.Rmdir(args[0], minifile.CurrentDir()); err != nil {
				fmt.Println("rmdir:", err)
			}
		case "rm", "del":
			if len(args) != 1 {
				fmt.Println("usage: rm path")
				continue
			}
			if err := fs.Unlink(args[0], minifile.CurrentDir()); err != nil {
				fmt.Println("rm:", err)
			}
		case "type", "cat":
			if len(args) != 1 {
				fmt.Println("usage: type path")
				continue
			}
			typeFile(fs, args[0])
		case "cp", "copy":
			if len(args) != 2 {
				fmt.Println("usage: cp src dest")
				continue
			}
			if err := copyFile(fs, args[0], args[1]); err != nil {
				fmt.Println("cp:", err)
			}
		case "mv", "move":
			if len(args) != 2 {
				fmt.Println("usage: mv src dest")
				continue
			}
			if err := copyFile(fs, args[0], args[1]); err != nil {
				fmt.Println("mv:", err)
				continue
			}
			if err := fs.Unlink(args[0], minifile.CurrentDir()); err != nil {
				fmt.Println("mv:", err)
			}
		case "whoami":
			fmt.Printf("you are minithread %d, running the filesystem shell\n", minithread.ID())
		default:
			fmt.Printf("%s: command not found\n", cmd)
		}
	}
}

func typeFile(fs *minifile.FS, path string) {
	f, err := fs.Open(path, "r", minifile.CurrentDir())
	if err != nil {
		fmt.Println("type:", err)
		return
	}
	defer f.Close()

	buf := make([]byte, 1024)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			os.Stdout.Write(buf[:n])
		}
		if err != nil {
			break
		}
	}
	fmt.Println()
}

func copyFile(fs *minifile.FS, src, dest string) error {
	in, err := fs.Open(src, "r", minifile.CurrentDir())
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := fs.Creat(dest, minifile.CurrentDir())
	if err != nil {
		return err
	}
	defer out.Close()

	buf := make([]byte, 1024)
	for {
		n, err := in.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}
