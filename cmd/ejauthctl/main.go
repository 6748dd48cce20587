// Package main is the command-line client for the ejauth admin API.
//
//	ejauthctl [flags] register <user> <server>
//	ejauthctl [flags] enable|disable|show <user> <server>
//	ejauthctl [flags] events [--user u] [--server s] [--limit n]
//
// register reads the password from the terminal, or from the first line of
// stdin when stdin is not a terminal.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/atinyakov/ejauth/internal/client"
	"github.com/spf13/pflag"
)

var (
	version   string
	buildDate string
)

const usage = `usage: ejauthctl [flags] <command> [args]

commands:
  register <user> <server>   create an active account
  enable <user> <server>     allow the account to authenticate
  disable <user> <server>    refuse the account without deleting it
  show <user> <server>       report whether the account exists
  events                     list recent audit events
`

func main() {
	if err := run(os.Args[1:], os.Stdout, client.ReadPassword); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "ejauthctl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer, readPassword func() (string, error)) error {
	var (
		baseURL  string
		certFile string
		keyFile  string
		caFile   string
		timeout  time.Duration
		showVer  bool
	)
	fs := pflag.NewFlagSet("ejauthctl", pflag.ContinueOnError)
	fs.SetInterspersed(false)
	fs.StringVarP(&baseURL, "url", "u", "https://localhost:8443", "admin API base URL")
	fs.StringVar(&certFile, "cert", "certs/client.crt", "client certificate")
	fs.StringVar(&keyFile, "key", "certs/client.key", "client private key")
	fs.StringVar(&caFile, "ca", "certs/ca.crt", "CA that signed the server certificate (empty for plain HTTP)")
	fs.DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")
	fs.BoolVar(&showVer, "version", false, "print version and exit")
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usage, "\nflags:\n", fs.FlagUsages())
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if showVer {
		fmt.Fprintf(out, "ejauthctl %s (%s)\n", orNA(version), orNA(buildDate))
		return nil
	}

	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return errors.New("missing command")
	}

	hc := http.DefaultClient
	if caFile != "" {
		var err error
		hc, err = client.LoadClientCertificate(certFile, keyFile, caFile)
		if err != nil {
			return err
		}
	}
	c := client.New(baseURL, hc)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cmd, cmdArgs := rest[0], rest[1:]
	if cmd == "events" {
		return listEvents(ctx, c, cmdArgs, out)
	}

	if len(cmdArgs) != 2 {
		return fmt.Errorf("usage: ejauthctl %s <user> <server>", cmd)
	}
	user, server := cmdArgs[0], cmdArgs[1]

	switch cmd {
	case "register":
		password, err := readPassword()
		if err != nil {
			return err
		}
		if err := c.Register(ctx, user, server, password); err != nil {
			return err
		}
		fmt.Fprintf(out, "registered %s@%s\n", user, server)
	case "enable", "disable":
		if err := c.SetActive(ctx, user, server, cmd == "enable"); err != nil {
			return err
		}
		fmt.Fprintf(out, "%sd %s@%s\n", cmd, user, server)
	case "show":
		exists, err := c.Exists(ctx, user, server)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s@%s exists: %t\n", user, server, exists)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

func listEvents(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	var (
		user, server string
		limit        int
	)
	fs := pflag.NewFlagSet("events", pflag.ContinueOnError)
	fs.StringVar(&user, "user", "", "only events for this user")
	fs.StringVar(&server, "server", "", "only events for this virtual host")
	fs.IntVar(&limit, "limit", 0, "maximum number of events (0 for the server default)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	events, err := c.Events(ctx, user, server, limit)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tCOMMAND\tACCOUNT\tRESULT")
	for _, ev := range events {
		result := "false"
		if ev.Success {
			result = "true"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s@%s\t%s\n",
			ev.CreatedAt.Format(time.RFC3339), ev.Command, ev.Username, ev.Server, result)
	}
	return tw.Flush()
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
