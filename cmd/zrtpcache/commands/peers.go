package commands

import (
	"errors"
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/opd-ai/zrtp/cache"
)

const timeLayout = "2006-01-02 15:04"

func (a *app) zidCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "zid",
		Short: "Print the local ZID",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), a.cache.LocalZID())
			return nil
		},
	}
}

func (a *app) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List cached peers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := a.cache.Records()
			if err != nil {
				return err
			}
			sort.Slice(records, func(i, j int) bool {
				return records[i].LastUse.After(records[j].LastUse)
			})

			now := time.Now()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ZID\tNAME\tVERIFIED\tRS1\tRS2\tSECURE SINCE\tLAST USE")
			for _, rec := range records {
				fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\t%s\t%s\n",
					rec.ZID, rec.Name, rec.SASVerified(),
					validity(rec.RS1Valid(now)), validity(rec.RS2Valid(now)),
					stamp(rec.SecureSince), stamp(rec.LastUse))
			}
			return w.Flush()
		},
	}
}

func validity(ok bool) string {
	if ok {
		return "valid"
	}
	return "-"
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(timeLayout)
}

func (a *app) nameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "name <zid> <name>",
		Short: "Set the display name of a peer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := a.existing(args[0])
			if err != nil {
				return err
			}
			return a.cache.PutPeerName(rec.ZID, args[1])
		},
	}
}

func (a *app) verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <zid>",
		Short: "Mark a peer's SAS as verified",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.setVerified(args[0], true)
		},
	}
}

func (a *app) unverifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unverify <zid>",
		Short: "Clear a peer's SAS verified flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.setVerified(args[0], false)
		},
	}
}

func (a *app) setVerified(arg string, verified bool) error {
	rec, err := a.existing(arg)
	if err != nil {
		return err
	}
	_, err = a.cache.Update(rec.ZID, func(r *cache.Record) error {
		if verified {
			r.SetSASVerified()
		} else {
			r.ResetSASVerified()
		}
		return nil
	})
	return err
}

func (a *app) wipeCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "wipe",
		Short: "Delete all peers and generate a new local ZID",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				return errors.New("wipe discards every retained secret; rerun with --force")
			}
			if err := a.cache.Cleanup(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "new local ZID %s\n", a.cache.LocalZID())
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "confirm the wipe")
	return cmd
}
