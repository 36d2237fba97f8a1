package worldserver

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/udisondev/lockout/internal/admin"
)

// ServeConsole reads admin commands line by line from in until EOF, "quit"
// or ctx cancellation. Every command runs as the console actor.
func (s *Server) ServeConsole(ctx context.Context, in io.Reader, out io.Writer) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		fmt.Fprint(out, "> ")
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					if err != nil {
						return fmt.Errorf("console: %w", err)
					}
				default:
				}
				return nil
			}
			if s.consoleLine(strings.TrimSpace(line), out) {
				return nil
			}
		}
	}
}

// consoleLine handles one line and reports whether the console should close.
func (s *Server) consoleLine(line string, out io.Writer) bool {
	switch line {
	case "":
		return false
	case "quit", "exit":
		return true
	case "help", "?":
		s.Help(out)
		return false
	}

	if err := s.Exec(admin.Console, line, out); err != nil {
		fmt.Fprintf(out, "error: %v (status %d)\n", err, admin.StatusOf(err))
	}
	return false
}
