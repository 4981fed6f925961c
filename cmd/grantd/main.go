// Command grantd runs the authorization server.
//
//	grantd --config /etc/grantd.yaml
//	GD__STORAGE__DRIVER=postgres GD__STORAGE__DSN=postgres://... grantd
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"

	"github.com/lumenweb/grantd"
	"github.com/lumenweb/grantd/errors"
	"github.com/lumenweb/grantd/logging"
	"github.com/lumenweb/grantd/plugins/auth"
	"github.com/lumenweb/grantd/plugins/oauth"
	"github.com/lumenweb/grantd/plugins/storage"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "grantd:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("grantd", pflag.ContinueOnError)
	configFile := flags.StringP("config", "c", "", "path to a YAML config file")
	printKeys := flags.Bool("print-config-keys", false, "list the recognised config keys and exit")
	if err := flags.Parse(args); err != nil {
		return err
	}

	if *printKeys {
		printConfigKeys()
		return nil
	}
	if *configFile != "" {
		grantd.LoadConfigFile(*configFile)
	}
	if errs := grantd.ValidateConfig(); len(errs) > 0 {
		return errors.New(grantd.FormatValidationErrors(errs))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	oauthPlugin := oauth.Plugin()
	srv := grantd.New(
		grantd.WithPlugin(storage.Plugin()),
		grantd.WithPlugin(auth.Plugin()),
		grantd.WithPlugin(oauthPlugin),
	)
	ctx = logging.With(ctx, logging.FromContext(srv.BaseContext()))
	if err := srv.Init(ctx); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(ctx)
	})
	g.Go(func() error {
		return oauthPlugin.RunPurger(ctx)
	})
	return g.Wait()
}

func printConfigKeys() {
	keys := grantd.ConfigKeys()
	sort.Slice(keys, func(i, j int) bool { return keys[i].Key < keys[j].Key })

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tTYPE\tDEFAULT\tDESCRIPTION")
	for _, k := range keys {
		def := ""
		if k.Default != nil {
			def = fmt.Sprint(k.Default)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", k.Key, k.Type, def, k.Description)
	}
	_ = w.Flush()
}
