package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	flag "github.com/spf13/pflag"
)

// IO bundles the command output streams.
type IO struct {
	out    io.Writer
	errOut io.Writer
}

// Println writes to stdout.
func (o *IO) Println(a ...any) {
	_, _ = fmt.Fprintln(o.out, a...)
}

// Printf writes to stdout.
func (o *IO) Printf(format string, a ...any) {
	_, _ = fmt.Fprintf(o.out, format, a...)
}

// ErrPrintln writes to stderr.
func (o *IO) ErrPrintln(a ...any) {
	_, _ = fmt.Fprintln(o.errOut, a...)
}

// Command defines a CLI command with unified help generation.
type Command struct {
	// Flags defines command-specific flags.
	Flags *flag.FlagSet

	// Usage is the freeform usage string shown after "pagechain" in help.
	Usage string

	// Short is a one-line description for the global help listing.
	Short string

	// Args is the number of positional arguments; -1 allows any.
	Args int

	// Exec runs the command after flags are parsed and config is loaded.
	Exec func(ctx context.Context, e *env, args []string) error
}

// Name returns the command name (first word of Usage).
func (c *Command) Name() string {
	name, _, _ := strings.Cut(c.Usage, " ")
	return name
}

// HelpLine returns the short help line for the main usage display.
func (c *Command) HelpLine() string {
	return fmt.Sprintf("  %-28s %s", c.Usage, c.Short)
}

// PrintHelp prints the full help output for "pagechain <cmd> --help".
func (c *Command) PrintHelp(o *IO) {
	o.Println("Usage: pagechain", c.Usage)
	o.Println()
	o.Println(c.Short)

	if c.Flags != nil && c.Flags.HasFlags() {
		o.Println()
		o.Println("Flags:")

		var buf strings.Builder
		c.Flags.SetOutput(&buf)
		c.Flags.PrintDefaults()
		o.Printf("%s", buf.String())
	}
}

// parse parses the command flags. It returns flag.ErrHelp for --help.
func (c *Command) parse(args []string) ([]string, error) {
	c.Flags.SetOutput(&strings.Builder{}) // discard pflag output

	if err := c.Flags.Parse(args); err != nil {
		return nil, err
	}
	rest := c.Flags.Args()
	if c.Args >= 0 && len(rest) != c.Args {
		return nil, fmt.Errorf("%s expects %d argument(s), got %d", c.Name(), c.Args, len(rest))
	}
	return rest, nil
}

func isHelp(err error) bool {
	return errors.Is(err, flag.ErrHelp)
}
