package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"

	"github.com/google/shlex"
)

const prompt = "> "

// shell reads commands from In one line at a time until EOF, "exit" or ctx
// is cancelled. Failures are reported and the shell carries on.
func (r *Runner) shell(ctx context.Context, _ []string) error {
	scanner := bufio.NewScanner(r.In)
	fmt.Fprint(r.Out, prompt)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		args, err := shlex.Split(scanner.Text())
		if err != nil {
			fmt.Fprintf(r.Out, "error: %v\n", err)
			fmt.Fprint(r.Out, prompt)
			continue
		}

		switch {
		case len(args) == 0:
		case args[0] == "exit" || args[0] == "quit":
			return nil
		case args[0] == "help":
			Usage(r.Out)
		case args[0] == "shell" || args[0] == "serve":
			fmt.Fprintf(r.Out, "error: %s is not available in the shell\n", args[0])
		default:
			if err := r.Run(ctx, args); err != nil {
				if errors.Is(err, ErrUsage) {
					fmt.Fprintf(r.Out, "error: %v (try help)\n", err)
				} else {
					fmt.Fprintf(r.Out, "error: %v\n", err)
				}
			}
		}
		fmt.Fprint(r.Out, prompt)
	}
	return scanner.Err()
}
