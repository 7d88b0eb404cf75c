package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	log "github.com/sirupsen/logrus"
)

type shell struct {
	session *session
	in      *bufio.Scanner
	out     io.Writer
}

func newShell(s *session, in io.Reader, out io.Writer) *shell {
	return &shell{
		session: s,
		in:      bufio.NewScanner(in),
		out:     out,
	}
}

func (sh *shell) printMenu() {
	fmt.Fprintln(sh.out, "Available commands:")
	fmt.Fprintln(sh.out, "1. menu - show the menu")
	fmt.Fprintln(sh.out, "2. exit - stop the client")
	fmt.Fprintln(sh.out, "3. mode - show current mode")
	fmt.Fprintln(sh.out, "4. switch - switch print mode (verbose or quiet)")
	fmt.Fprintln(sh.out, "5. read <filename> - send RRQ (e.g. read text.txt)")
	fmt.Fprintln(sh.out, "6. write <filename> - send WRQ (e.g. write text.txt)")
	fmt.Fprintln(sh.out)
}

func (sh *shell) modeName() string {
	if sh.session.logs.Verbose() {
		return "verbose"
	}
	return "quiet"
}

// run reads commands until exit or end of input.
func (sh *shell) run() error {
	sh.printMenu()

	for {
		fmt.Fprint(sh.out, "> ")
		if !sh.in.Scan() {
			fmt.Fprintln(sh.out)
			return sh.in.Err()
		}

		fields := strings.Fields(sh.in.Text())
		if len(fields) == 0 {
			continue
		}

		switch strings.ToLower(fields[0]) {
		case "menu":
			sh.printMenu()
		case "exit":
			fmt.Fprintln(sh.out, "Terminating client.")
			return nil
		case "mode":
			fmt.Fprintf(sh.out, "Current mode is: %s\n", sh.modeName())
		case "switch":
			sh.session.logs.Toggle()
			fmt.Fprintf(sh.out, "The mode has been switched to %s\n", sh.modeName())
		case "read":
			if len(fields) != 2 {
				fmt.Fprintln(sh.out, "Invalid request! Please enter a filename (e.g. read text.txt)")
				continue
			}
			sh.read(fields[1])
		case "write":
			if len(fields) != 2 {
				fmt.Fprintln(sh.out, "Invalid request! Please enter a filename (e.g. write text.txt)")
				continue
			}
			sh.write(fields[1])
		default:
			fmt.Fprintln(sh.out, "Invalid command, please try again!")
		}
	}
}

func (sh *shell) read(filename string) {
	exists, err := sh.session.store.Exists(filename)
	if err != nil {
		fmt.Fprintf(sh.out, "Cannot use %s: %v\n", filename, err)
		return
	}
	if exists && !sh.session.store.CanWrite(filename) {
		fmt.Fprintf(sh.out, "No permission to write %s. Please try again.\n", filename)
		return
	}

	res, err := sh.session.client.ReadFile(filename)
	if err != nil {
		log.WithError(err).Debug("Read failed")
		fmt.Fprintf(sh.out, "Read of %s failed: %v\n", filename, err)
		return
	}
	fmt.Fprintf(sh.out, "Received %s (%d bytes).\n", filename, res.Bytes)
}

func (sh *shell) write(filename string) {
	if !sh.session.store.CanRead(filename) {
		fmt.Fprintf(sh.out, "No permission to read %s. Please try again.\n", filename)
		return
	}

	res, err := sh.session.client.WriteFile(filename)
	if err != nil {
		log.WithError(err).Debug("Write failed")
		fmt.Fprintf(sh.out, "Write of %s failed: %v\n", filename, err)
		return
	}
	fmt.Fprintf(sh.out, "Sent %s (%d bytes).\n", filename, res.Bytes)
}
