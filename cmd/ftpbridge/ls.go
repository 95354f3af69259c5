package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/gonzalop/ftpbridge/ftp"
	"github.com/gonzalop/ftpbridge/internal/config"
)

func runList(args []string) error {
	fs := flag.NewFlagSet("ls", flag.ContinueOnError)
	path := fs.String("config", "ftpbridge.yaml", "configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := config.Load(*path)
	if err != nil {
		return err
	}
	dir := cfg.Proxy.ListDir
	if fs.NArg() > 0 {
		dir = fs.Arg(0)
	}

	target := cfg.Proxy.FTP
	if target.Password == "" {
		if target.Password, err = promptPassword(fmt.Sprintf("Password for %s@%s: ", target.Username, target.Host)); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	sess, err := ftp.Connect(ctx, target.Addr(), target.Username, target.Password,
		ftp.WithTimeout(target.ControlTimeout),
		ftp.WithStallTimeout(target.StallTimeout),
	)
	if err != nil {
		return err
	}
	defer sess.Close()

	entries, err := sess.List(ctx, dir)
	if err != nil {
		return err
	}
	return printEntries(os.Stdout, entries)
}

func printEntries(w io.Writer, entries []*ftp.Entry) error {
	sort.Slice(entries, func(i, j int) bool {
		if (entries[i].Type == ftp.EntryDir) != (entries[j].Type == ftp.EntryDir) {
			return entries[i].Type == ftp.EntryDir
		}
		return entries[i].Name < entries[j].Name
	})

	table := tablewriter.NewWriter(w)
	table.Header("Name", "Type", "Size")

	var total uint64
	for _, e := range entries {
		size := "-"
		if e.IsFile() {
			size = humanize.Bytes(uint64(e.Size))
			total += uint64(e.Size)
		}
		name := e.Name
		if e.Target != "" {
			name += " -> " + e.Target
		}
		if err := table.Append([]string{name, e.Type, size}); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}
	color.New(color.FgCyan).Fprintf(w, "%d entries, %s in files\n", len(entries), humanize.Bytes(total))
	return nil
}
