package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opd-ai/zrtp/cache"
	"github.com/opd-ai/zrtp/packet"
)

// app holds the flags and the cache opened for one invocation.
type app struct {
	cachePath  string
	passphrase string
	verbose    bool

	cache *cache.FileCache
}

// Execute runs the command line with os.Args.
func Execute() error {
	return NewRootCommand().Execute()
}

// NewRootCommand builds the zrtpcache command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:                "zrtpcache",
		Short:              "Inspect and edit a ZRTP peer cache",
		SilenceUsage:       true,
		PersistentPreRunE:  a.open,
		PersistentPostRunE: a.close,
	}

	root.PersistentFlags().StringVar(&a.cachePath, "cache", "", "cache file (default ~/.zrtp/cache.json)")
	root.PersistentFlags().StringVarP(&a.passphrase, "passphrase", "p", "", "passphrase sealing the cache")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log cache operations")

	root.AddCommand(a.zidCmd(), a.listCmd(), a.nameCmd(), a.verifyCmd(), a.unverifyCmd(), a.wipeCmd())
	return root
}

func (a *app) open(cmd *cobra.Command, args []string) error {
	if a.verbose {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.WarnLevel)
	}

	if a.cachePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		a.cachePath = filepath.Join(home, ".zrtp", "cache.json")
	}
	if err := os.MkdirAll(filepath.Dir(a.cachePath), 0o700); err != nil {
		return err
	}

	opts := cache.NewOptions()
	if a.passphrase != "" {
		opts.Passphrase = []byte(a.passphrase)
	}
	c := cache.NewFileCache(opts)
	if _, err := c.Open(a.cachePath); err != nil {
		return err
	}
	a.cache = c
	return nil
}

func (a *app) close(cmd *cobra.Command, args []string) error {
	if a.cache == nil {
		return nil
	}
	err := a.cache.Close()
	a.cache = nil
	return err
}

// existing returns the record of a peer already in the cache. GetRecord
// would create it.
func (a *app) existing(arg string) (*cache.Record, error) {
	zid, err := packet.ParseZID(arg)
	if err != nil {
		return nil, err
	}
	records, err := a.cache.Records()
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if rec.ZID == zid {
			return rec, nil
		}
	}
	return nil, fmt.Errorf("no peer %s in %s", zid, a.cachePath)
}
