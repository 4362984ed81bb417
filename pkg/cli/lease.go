package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/telekom/k8s-conductor/pkg/lease"
)

// leaseView is the JSON shape of a lease record for --output json.
type leaseView struct {
	Name        string `json:"name"`
	Namespace   string `json:"namespace"`
	Holder      string `json:"holder,omitempty"`
	Expiry      string `json:"expiry,omitempty"`
	Transitions int32  `json:"transitions"`
}

func newLeaseCommand() *cobra.Command {
	var (
		store       storeFlags
		callTimeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "lease",
		Short: "Inspect and manipulate lease records directly",
	}
	store.register(cmd.PersistentFlags())
	cmd.PersistentFlags().DurationVar(&callTimeout, "call-timeout", lease.DefaultCallTimeout, "Upper bound for a single store call")

	cmd.AddCommand(
		newLeaseGetCommand(&store, &callTimeout),
		newLeaseCreateCommand(&store, &callTimeout),
		newLeaseClaimCommand(&store, &callTimeout),
		newLeaseReleaseCommand(&store, &callTimeout),
	)

	return cmd
}

func newLeaseGetCommand(store *storeFlags, callTimeout *time.Duration) *cobra.Command {
	var outputFormat string

	cmd := &cobra.Command{
		Use:   "get NAME",
		Short: "Show the current claim of a lease",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRoot(cmd)
			if err != nil {
				return err
			}
			st, closer, err := store.open(cmd.Context(), rt, args[0], rt.Namespace(), *callTimeout)
			if err != nil {
				return err
			}
			defer closer()

			rec, err := st.Fetch(cmd.Context())
			if errors.Is(err, lease.ErrNotFound) {
				return fmt.Errorf("lease %s/%s not found", rt.Namespace(), args[0])
			}
			if err != nil {
				return err
			}

			if outputFormat == "json" {
				return printLeaseJSON(rt, rec)
			}
			printClaim(rt, rec)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputFormat, "output", "o", "", "Output format: json")

	return cmd
}

func newLeaseCreateCommand(store *storeFlags, callTimeout *time.Duration) *cobra.Command {
	return &cobra.Command{
		Use:   "create NAME",
		Short: "Create an unclaimed lease",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRoot(cmd)
			if err != nil {
				return err
			}
			st, closer, err := store.open(cmd.Context(), rt, args[0], rt.Namespace(), *callTimeout)
			if err != nil {
				return err
			}
			defer closer()

			rec := &lease.Record{Name: args[0], Namespace: rt.Namespace()}
			if _, err := st.Create(cmd.Context(), rec); err != nil {
				if errors.Is(err, lease.ErrAlreadyExists) {
					return fmt.Errorf("lease %s/%s already exists", rt.Namespace(), args[0])
				}
				return err
			}
			fmt.Fprintf(rt.Writer(), "Created lease %s/%s\n", rt.Namespace(), args[0])
			return nil
		},
	}
}

func newLeaseClaimCommand(store *storeFlags, callTimeout *time.Duration) *cobra.Command {
	var (
		identity string
		duration time.Duration
	)

	cmd := &cobra.Command{
		Use:   "claim NAME",
		Short: "Claim a lease when it is free or already ours",
		Long: "Claim writes this identity as the holder when the lease is missing,\n" +
			"unclaimed, expired, or already held by the same identity. A live claim\n" +
			"by another holder is left untouched and reported instead.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRoot(cmd)
			if err != nil {
				return err
			}
			if identity == "" {
				if identity, err = os.Hostname(); err != nil {
					return fmt.Errorf("resolving default identity: %w", err)
				}
			}
			st, closer, err := store.open(cmd.Context(), rt, args[0], rt.Namespace(), *callTimeout)
			if err != nil {
				return err
			}
			defer closer()

			stored, err := claimLease(cmd.Context(), st, args[0], rt.Namespace(), identity, duration)
			if err != nil {
				return err
			}
			printClaim(rt, stored)
			return nil
		},
	}

	cmd.Flags().StringVar(&identity, "identity", "", "Holder identity to claim with (default: hostname)")
	cmd.Flags().DurationVar(&duration, "duration", 30*time.Second, "Validity window of the claim")

	return cmd
}

func newLeaseReleaseCommand(store *storeFlags, callTimeout *time.Duration) *cobra.Command {
	var identity string

	cmd := &cobra.Command{
		Use:   "release NAME",
		Short: "Release a lease held by the given identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRoot(cmd)
			if err != nil {
				return err
			}
			if identity == "" {
				if identity, err = os.Hostname(); err != nil {
					return fmt.Errorf("resolving default identity: %w", err)
				}
			}
			st, closer, err := store.open(cmd.Context(), rt, args[0], rt.Namespace(), *callTimeout)
			if err != nil {
				return err
			}
			defer closer()

			released, observed, err := releaseLease(cmd.Context(), st, identity)
			if errors.Is(err, lease.ErrConflict) {
				return fmt.Errorf("lease %s/%s changed concurrently, retry", rt.Namespace(), args[0])
			}
			if err != nil {
				return err
			}
			switch {
			case released:
				fmt.Fprintln(rt.Writer(), "Released")
			case observed == nil:
				fmt.Fprintln(rt.Writer(), "Not released (no such lease)")
			case observed.HasHolder():
				fmt.Fprintf(rt.Writer(), "Not released (held by %s)\n", observed.Holder)
			default:
				fmt.Fprintln(rt.Writer(), "Not released (unclaimed)")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&identity, "identity", "", "Holder identity to release (default: hostname)")

	return cmd
}

// claimLease writes identity as the holder unless a different holder's claim
// is still live, in which case the observed record is returned unchanged. A
// holder change bumps the transition counter and resets AcquireTime.
func claimLease(ctx context.Context, st lease.Store, name, namespace, identity string, duration time.Duration) (*lease.Record, error) {
	now := time.Now()

	rec, err := st.Fetch(ctx)
	if errors.Is(err, lease.ErrNotFound) {
		fresh := &lease.Record{
			Name:        name,
			Namespace:   namespace,
			Holder:      identity,
			Duration:    duration,
			AcquireTime: now,
			RenewTime:   now,
		}
		stored, err := st.Create(ctx, fresh)
		if errors.Is(err, lease.ErrAlreadyExists) {
			return nil, fmt.Errorf("lease %s/%s was claimed concurrently, retry", namespace, name)
		}
		return stored, err
	}
	if err != nil {
		return nil, err
	}

	if rec.HasHolder() && !rec.HeldBy(identity) && !rec.Expired(now) {
		return rec, nil
	}

	claim := rec.Clone()
	claim.Holder = identity
	claim.Duration = duration
	claim.RenewTime = now
	if !rec.HeldBy(identity) {
		claim.AcquireTime = now
		claim.Transitions = rec.Transitions + 1
	} else if claim.AcquireTime.IsZero() {
		claim.AcquireTime = now
	}

	stored, err := st.Update(ctx, claim)
	if errors.Is(err, lease.ErrConflict) {
		return nil, fmt.Errorf("lease %s/%s changed concurrently, retry", namespace, name)
	}
	return stored, err
}

// releaseLease clears the holder when identity holds the lease, preserving
// the transition counter the way an elector does when it steps down. When the
// lease was not released, the observed record (nil if absent) says why.
func releaseLease(ctx context.Context, st lease.Store, identity string) (bool, *lease.Record, error) {
	rec, err := st.Fetch(ctx)
	if errors.Is(err, lease.ErrNotFound) {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, err
	}
	if !rec.HeldBy(identity) {
		return false, rec, nil
	}

	cleared := &lease.Record{
		Name:        rec.Name,
		Namespace:   rec.Namespace,
		Transitions: rec.Transitions,
		Version:     rec.Version,
	}
	if _, err := st.Update(ctx, cleared); err != nil {
		return false, rec, err
	}
	return true, rec, nil
}

// printClaim reports a record's live claim or "Unclaimed" in the style used
// by the rest of the lease subcommands.
func printClaim(rt *rootState, rec *lease.Record) {
	if rec.HasHolder() && !rec.Expired(time.Now()) {
		fmt.Fprintf(rt.Writer(), "Claimed by %s until %s (transitions %d)\n",
			rec.Holder, rec.ExpiresAt().Format(time.RFC3339), rec.Transitions)
		return
	}
	fmt.Fprintln(rt.Writer(), "Unclaimed")
}

// printLeaseJSON renders the record for --output json. Holder and expiry are
// omitted when no live claim exists.
func printLeaseJSON(rt *rootState, rec *lease.Record) error {
	view := leaseView{
		Name:        rec.Name,
		Namespace:   rec.Namespace,
		Transitions: rec.Transitions,
	}
	if rec.HasHolder() && !rec.Expired(time.Now()) {
		view.Holder = rec.Holder
		view.Expiry = rec.ExpiresAt().Format(time.RFC3339)
	}
	encoder := json.NewEncoder(rt.Writer())
	encoder.SetIndent("", "  ")
	return encoder.Encode(view)
}
