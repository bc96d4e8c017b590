package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/aanfarhan/sso-sync/sync"
)

// terminalResolver answers engine questions by prompting on the
// terminal. Entering nothing picks the default; a number picks the
// corresponding choice; a key is matched literally.
type terminalResolver struct {
	in  *bufio.Reader
	out io.Writer
}

func newTerminalResolver(in io.Reader, out io.Writer) *terminalResolver {
	return &terminalResolver{in: bufio.NewReader(in), out: out}
}

func (r *terminalResolver) Resolve(ctx context.Context, prompt string, choices []sync.Choice, def string) (string, error) {
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, prompt)
	for i, c := range choices {
		marker := " "
		if c.Key == def {
			marker = "*"
		}
		fmt.Fprintf(r.out, " %s %d) %s [%s]\n", marker, i+1, c.Label, c.Key)
	}

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		fmt.Fprintf(r.out, "Choice [%s]: ", def)
		line, err := r.in.ReadString('\n')
		if err != nil && line == "" {
			return def, nil
		}
		answer := strings.TrimSpace(line)
		if answer == "" {
			return def, nil
		}
		if n, convErr := strconv.Atoi(answer); convErr == nil && n >= 1 && n <= len(choices) {
			return choices[n-1].Key, nil
		}
		for _, c := range choices {
			if strings.EqualFold(answer, c.Key) {
				return c.Key, nil
			}
		}
		fmt.Fprintf(r.out, "Unrecognized answer %q, try again.\n", answer)
	}
}
