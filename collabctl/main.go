package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/golang/glog"

	"collabtext/revlog"
	"collabtext/store"
)

const CollabctlVersion = "0.1.0"

const usage = `CollabText revision log tool.

Usage:
    collabctl id <index>
    collabctl index <id>
    collabctl dump --bolt=<path> --doc=<doc>
    collabctl history --bolt=<path> --doc=<doc> [--from=<id>]

Options:
    -h --help          Show this screen.
    --version          Show version.
    --bolt=<path>      Bolt file written by an agent. The agent must not be running.
    --doc=<doc>        Document id.
    --from=<id>        First revision to list [default: A0].`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], CollabctlVersion)
	if err != nil {
		panic(err)
	}
	// glog reads its own flags; keep them at their defaults.
	flag.CommandLine.Parse(nil)
	defer glog.Flush()

	if err := run(opts, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "collabctl: %v\n", err)
		os.Exit(1)
	}
}

func run(opts docopt.Opts, out io.Writer) error {
	if id_, _ := opts.Bool("id"); id_ {
		return id(opts, out)
	} else if index_, _ := opts.Bool("index"); index_ {
		return index(opts, out)
	} else if dump_, _ := opts.Bool("dump"); dump_ {
		return dump(opts, out)
	} else if history_, _ := opts.Bool("history"); history_ {
		return history(opts, out)
	}
	return nil
}

func id(opts docopt.Opts, out io.Writer) error {
	s, _ := opts.String("<index>")
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return fmt.Errorf("index must be a non-negative integer, got %q", s)
	}
	fmt.Fprintln(out, revlog.RevisionToID(n))
	return nil
}

func index(opts docopt.Opts, out io.Writer) error {
	s, _ := opts.String("<id>")
	n, err := revlog.RevisionFromID(s)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, n)
	return nil
}

func openDoc(opts docopt.Opts) (*store.BoltStore, func(), error) {
	path, _ := opts.String("--bolt")
	doc, _ := opts.String("--doc")
	db, err := store.OpenBolt(path)
	if err != nil {
		return nil, nil, err
	}
	s, err := store.NewBoltStore(db, doc)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return s, func() {
		s.Close()
		db.Close()
	}, nil
}

// dump replays the document the way an editor would and prints its text.
func dump(opts docopt.Opts, out io.Writer) error {
	s, release, err := openDoc(opts)
	if err != nil {
		return err
	}
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var text string
	var revision int
	var session *revlog.Session
	session = revlog.NewSession(s, "collabctl", revlog.HandlerFuncs{
		OnReady: func() {
			text = session.Text()
			revision = session.Revision()
			cancel()
		},
	}, nil)
	if err := session.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	glog.V(1).Infof("[collabctl] replayed %d revisions", revision)
	fmt.Fprint(out, text)
	return nil
}

// history lists the stored revisions, one per line.
func history(opts docopt.Opts, out io.Writer) error {
	s, release, err := openDoc(opts)
	if err != nil {
		return err
	}
	defer release()

	from, _ := opts.String("--from")
	if _, err := revlog.RevisionFromID(from); err != nil {
		return err
	}
	entries, err := s.Entries(from)
	if err != nil {
		return err
	}
	for _, e := range entries {
		pos := "?"
		if n, err := revlog.RevisionFromID(e.ID); err == nil {
			pos = strconv.Itoa(n)
		}
		when := "-"
		if e.Record.Timestamp > 0 {
			when = time.UnixMilli(e.Record.Timestamp).UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(out, "%s\t%s\t%s\t%s\t%s\n", e.ID, pos, when, e.Record.Author, e.Record.Operation)
	}
	return nil
}
