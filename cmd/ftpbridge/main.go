// Command ftpbridge relays files from an FTP server to HTTP clients.
//
// Usage:
//
//	ftpbridge serve -config ftpbridge.yaml
//	ftpbridge ls -config ftpbridge.yaml [dir]
//	ftpbridge hash-password [-cost n]
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/fatih/color"
)

const usage = `usage: ftpbridge <command> [flags]

commands:
  serve          run the HTTP relay and the optional FTP and WebDAV servers
  ls [dir]       list a directory on the configured upstream FTP server
  hash-password  print a bcrypt hash for ftp_server.password_hash
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "serve":
		err = runServe(args)
	case "ls":
		err = runList(args)
	case "hash-password":
		err = runHashPassword(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}

	if errors.Is(err, flag.ErrHelp) {
		os.Exit(2)
	}
	if err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "ftpbridge: %v\n", err)
		os.Exit(1)
	}
}
