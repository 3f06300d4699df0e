package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"

	statesync "github.com/goliatone/go-statesync"
	"github.com/goliatone/go-statesync/internal/hydrate"
)

// ErrUnknownCommand is returned for shell input naming no command.
var ErrUnknownCommand = errors.New("unknown command")

const shellHelp = `get <id>                       print a variable
set <id> <value>               replace a variable
add <id> <value>               append to a sequence variable
patch <id> <elementId> <value> replace one element of a sequence
remove <id> [elementId]        remove one element, or clear the variable
undo | redo | rewind <n>       move through the change history
history                        list change records, newest first
vars                           print every variable
describe                       print variable descriptors
nav <url>                      navigate the url location
quit                           leave the shell
Values are JSON; anything that does not parse is taken as a string.`

// Shell executes line commands against a Runtime.
type Shell struct {
	rt  *Runtime
	out *OutputFormatter
}

// NewShell returns a shell writing through out.
func NewShell(rt *Runtime, out *OutputFormatter) *Shell {
	return &Shell{rt: rt, out: out}
}

// Run reads commands from in until EOF, quit or ctx is done. Command
// failures are printed and do not stop the shell.
func (s *Shell) Run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		quit, err := s.Exec(line)
		if err != nil {
			if werr := s.out.Error(err, map[string]string{"command": line}); werr != nil {
				return werr
			}
		}
		if quit {
			return nil
		}
	}
	return scanner.Err()
}

// Exec runs one command line. quit reports a request to leave the shell.
func (s *Shell) Exec(line string) (quit bool, err error) {
	head := splitArgs(line, 2)
	if len(head) == 0 {
		return false, nil
	}
	var rest string
	if len(head) == 2 {
		rest = head[1]
	}
	store := s.rt.Store

	switch strings.ToLower(head[0]) {
	case "quit", "exit":
		return true, nil
	case "help":
		return false, s.out.Success(shellHelp, strings.Split(shellHelp, "\n"))
	case "get":
		args, err := need(rest, 1, "get <id>")
		if err != nil {
			return false, err
		}
		return false, s.printValue(args[0])
	case "set":
		args, err := need(rest, 2, "set <id> <value>")
		if err != nil {
			return false, err
		}
		return false, s.mutate(args[0], store.Update(args[0]), parseValue(args[1]))
	case "add":
		args, err := need(rest, 2, "add <id> <value>")
		if err != nil {
			return false, err
		}
		return false, s.mutate(args[0], store.Add(args[0]), parseValue(args[1]))
	case "patch":
		args, err := need(rest, 3, "patch <id> <elementId> <value>")
		if err != nil {
			return false, err
		}
		return false, s.mutate(args[0], store.Update(args[0], args[1]), parseValue(args[2]))
	case "remove":
		args := splitArgs(rest, 2)
		if len(args) == 0 {
			return false, fmt.Errorf("usage: remove <id> [elementId]")
		}
		return false, s.mutate(args[0], store.Remove(args[0], args[1:]...), nil)
	case "undo":
		return false, s.move(store.StepBack())
	case "redo":
		return false, s.move(store.StepForward())
	case "rewind":
		args, err := need(rest, 1, "rewind <n>")
		if err != nil {
			return false, err
		}
		target, err := strconv.Atoi(args[0])
		if err != nil {
			return false, fmt.Errorf("rewind: %w", err)
		}
		return false, s.move(store.Rewind(target))
	case "history":
		return false, s.printHistory()
	case "vars":
		snapshot := store.Snapshot()
		var b strings.Builder
		for _, id := range store.IDs() {
			fmt.Fprintf(&b, "%s = %s\n", id, render(snapshot[id]))
		}
		return false, s.out.Success(strings.TrimRight(b.String(), "\n"), snapshot)
	case "describe":
		descriptors := store.Describe()
		var b strings.Builder
		writeDescriptors(&b, descriptors)
		return false, s.out.Success(strings.TrimRight(b.String(), "\n"), descriptors)
	case "nav":
		args, err := need(rest, 1, "nav <url>")
		if err != nil {
			return false, err
		}
		if err := s.rt.Location.Navigate(args[0]); err != nil {
			return false, err
		}
		store.Wait()
		location := s.rt.Location.String()
		return false, s.out.Success(location, map[string]string{"location": location})
	default:
		return false, fmt.Errorf("%w %q, try help", ErrUnknownCommand, head[0])
	}
}

func (s *Shell) mutate(id string, handler func(any) error, value any) error {
	if err := handler(value); err != nil {
		return err
	}
	s.rt.Store.Wait()
	return s.printValue(id)
}

func (s *Shell) move(err error) error {
	if err != nil {
		return err
	}
	store := s.rt.Store
	store.Wait()
	position, length := store.Position(), len(store.History())
	return s.out.Success(
		fmt.Sprintf("position %d of %d", position, length),
		map[string]int{"position": position, "records": length},
	)
}

func (s *Shell) printValue(id string) error {
	value, ok := s.rt.Store.Lookup(id)
	if !ok {
		return &statesync.ConfigurationError{VariableID: id, Err: statesync.ErrUnknownVariable}
	}
	return s.out.Success(fmt.Sprintf("%s = %s", id, render(value)), map[string]any{"id": id, "value": value})
}

func (s *Shell) printHistory() error {
	store := s.rt.Store
	records := store.History()
	position := store.Position()
	var b strings.Builder
	for i, rec := range records {
		marker := " "
		if i == position {
			marker = ">"
		}
		fmt.Fprintf(&b, "%s %2d %-12s %-11s %-14s %s\n", marker, i, rec.VariableID, rec.Action, rec.Context, render(rec.NewValue))
	}
	if len(records) == 0 {
		b.WriteString("no changes recorded")
	}
	return s.out.Success(strings.TrimRight(b.String(), "\n"), map[string]any{"position": position, "records": records})
}

func need(rest string, n int, usage string) ([]string, error) {
	args := splitArgs(rest, n)
	if len(args) < n {
		return nil, fmt.Errorf("usage: %s", usage)
	}
	return args, nil
}

// splitArgs splits line on whitespace into at most n fields; the last field
// keeps the remainder verbatim so JSON values may contain spaces.
func splitArgs(line string, n int) []string {
	var out []string
	rest := strings.TrimSpace(line)
	for rest != "" && len(out) < n-1 {
		i := strings.IndexFunc(rest, unicode.IsSpace)
		if i < 0 {
			break
		}
		out = append(out, rest[:i])
		rest = strings.TrimSpace(rest[i:])
	}
	if rest != "" {
		out = append(out, rest)
	}
	return out
}

// parseValue decodes raw as JSON, falling back to the raw string.
func parseValue(raw string) any {
	value, err := hydrate.Default.Decode(hydrate.Context{Key: "shell"}, []byte(raw))
	if err != nil {
		return raw
	}
	return value
}

func render(value any) string {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprint(value)
	}
	return string(data)
}
