package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/diasync/diasync/internal/lease"
)

// LeaseOptions holds flags shared by the lease subcommands.
type LeaseOptions struct {
	*RootOptions
	Scope      string
	Key        string
	Owner      string
	TTLSeconds int
	DryRun     bool
}

// NewLeaseCommand creates the lease command group.
func NewLeaseCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LeaseOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "lease",
		Short: "Coordinate exclusive work via leases",
		Long: `Acquire, release and list leases on (scope, key) pairs.

Acquire never blocks: when another live owner holds the key the command
fails fast with a contention-denied error and the caller retries later
or proceeds without the lease. Expired leases are reacquirable.`,
	}

	cmd.PersistentFlags().StringVar(&opts.Scope, "scope", "", "lease scope")
	cmd.PersistentFlags().StringVar(&opts.Key, "key", "", "lease key")
	cmd.PersistentFlags().StringVar(&opts.Owner, "owner", "", "owning instance id")
	cmd.PersistentFlags().BoolVar(&opts.DryRun, "dry-run", false, "simulate without writing")

	acquire := &cobra.Command{
		Use:           "acquire",
		Short:         "Acquire a lease",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLeaseAcquire(opts, cmd)
		},
	}
	acquire.Flags().IntVar(&opts.TTLSeconds, "ttl", 0, "lease ttl in seconds (default from policy)")

	release := &cobra.Command{
		Use:           "release",
		Short:         "Release a held lease",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLeaseRelease(opts, cmd)
		},
	}

	list := &cobra.Command{
		Use:           "list",
		Short:         "List live leases",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLeaseList(opts, cmd)
		},
	}

	cmd.AddCommand(acquire, release, list)
	return cmd
}

func runLeaseAcquire(opts *LeaseOptions, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	st, pol, err := openStore(opts.RootOptions)
	if err != nil {
		return f.Failure(err)
	}

	ttl := time.Duration(opts.TTLSeconds) * time.Second
	if opts.TTLSeconds <= 0 {
		ttl = time.Duration(pol.LeaseTTLSeconds) * time.Second
	}
	res, err := lease.Acquire(st, lease.AcquireOptions{
		Scope:  opts.Scope,
		Key:    opts.Key,
		Owner:  opts.Owner,
		TTL:    ttl,
		DryRun: opts.DryRun,
	})
	if err != nil {
		return f.Failure(err)
	}

	verb := "acquired"
	if res.Renewed {
		verb = "renewed"
	}
	text := fmt.Sprintf("%s %s on %s/%s, expires %s", verb, res.Lease.LeaseID, res.Lease.Scope, res.Lease.Key, res.Lease.ExpiresAt)
	if res.DryRun {
		text += " [dry-run]"
	}
	return f.Success(res, text)
}

func runLeaseRelease(opts *LeaseOptions, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	st, _, err := openStore(opts.RootOptions)
	if err != nil {
		return f.Failure(err)
	}

	res, err := lease.Release(st, lease.ReleaseOptions{
		Scope:  opts.Scope,
		Key:    opts.Key,
		Owner:  opts.Owner,
		DryRun: opts.DryRun,
	})
	if err != nil {
		return f.Failure(err)
	}

	text := fmt.Sprintf("released %s/%s", res.Lease.Scope, res.Lease.Key)
	if res.DryRun {
		text += " [dry-run]"
	}
	return f.Success(res, text)
}

func runLeaseList(opts *LeaseOptions, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	st, _, err := openStore(opts.RootOptions)
	if err != nil {
		return f.Failure(err)
	}

	active, err := lease.Active(st, time.Now().UTC())
	if err != nil {
		return f.Failure(err)
	}
	if opts.Scope != "" {
		filtered := active[:0]
		for _, l := range active {
			if l.Scope == opts.Scope {
				filtered = append(filtered, l)
			}
		}
		active = filtered
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d live lease(s)", len(active))
	for _, l := range active {
		fmt.Fprintf(&b, "\n  %s/%s held by %s until %s", l.Scope, l.Key, l.Owner, l.ExpiresAt)
	}
	return f.Success(active, b.String())
}
