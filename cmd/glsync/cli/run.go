package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"
)

const usage = `usage: glsyncctl <command> [flags]

commands:
  trigger   enqueue ledger:reconcile or gl:integrity (-task, -tenant, -module)
  sync      enqueue ledger:sync for one record (-module, -tenant, -id)
  queues    show ledger and default queue sizes
  scheduled list scheduled tasks (-size)
`

// Run executes one glsyncctl command and returns the process exit code.
func Run(ctx context.Context, c *JobsCLI, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}
	fs := flag.NewFlagSet(args[0], flag.ContinueOnError)
	fs.SetOutput(stderr)

	switch args[0] {
	case "trigger":
		task := fs.String("task", "ledger:reconcile", "task type")
		tenant := fs.String("tenant", "", "tenant id or empty for all")
		module := fs.String("module", "", "module for reconcile")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		info, err := c.Trigger(ctx, *task, *tenant, *module)
		if err != nil {
			fmt.Fprintf(stderr, "trigger: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
	case "sync":
		module := fs.String("module", "", "source module")
		tenant := fs.String("tenant", "", "tenant id")
		id := fs.String("id", "", "source record id")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		if err := c.Sync(ctx, *module, *tenant, *id); err != nil {
			fmt.Fprintf(stderr, "sync: %v\n", err)
			return 1
		}
		fmt.Fprintln(stdout, "enqueued ledger:sync")
	case "queues":
		stats, err := c.InspectQueues(ctx)
		if err != nil {
			fmt.Fprintf(stderr, "queues: %v\n", err)
			return 1
		}
		tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "QUEUE\tPENDING\tACTIVE\tSCHEDULED\tRETRY\tARCHIVED")
		for _, s := range stats {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\n", s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry, s.Archived)
		}
		_ = tw.Flush()
	case "scheduled":
		size := fs.Int("size", 10, "page size")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		tasks, err := c.ListScheduled(ctx, *size)
		if err != nil {
			fmt.Fprintf(stderr, "scheduled: %v\n", err)
			return 1
		}
		for _, t := range tasks {
			fmt.Fprintf(stdout, "%s\t%s\t%s\n", t.ID, t.Type, t.NextProcessAt.Format("2006-01-02T15:04:05Z07:00"))
		}
	default:
		fmt.Fprintf(stderr, "unknown command %q\n%s", args[0], usage)
		return 2
	}
	return 0
}
