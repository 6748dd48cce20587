// Package main generates the admin API certificates: a CA, a server
// certificate and an operator client certificate, written under --dir.
//
// With --reuse-ca an existing <dir>/ca.crt and <dir>/ca.key sign new
// certificates instead of a fresh CA.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/atinyakov/ejauth/internal/certgen"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if err == pflag.ErrHelp {
			return
		}
		fmt.Fprintf(os.Stderr, "certgen: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	var (
		dir      string
		hosts    []string
		operator string
		caName   string
		reuseCA  bool
	)
	fs := pflag.NewFlagSet("certgen", pflag.ContinueOnError)
	fs.StringVar(&dir, "dir", "certs", "output directory")
	fs.StringSliceVar(&hosts, "hosts", []string{"localhost", "127.0.0.1"}, "server certificate host names and IPs")
	fs.StringVar(&operator, "operator", "admin", "operator client certificate Common Name")
	fs.StringVar(&caName, "ca-name", "ejauth admin CA", "CA Common Name")
	fs.BoolVar(&reuseCA, "reuse-ca", false, "sign with the existing CA in --dir")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var ca *certgen.Authority
	if reuseCA {
		var err error
		ca, err = certgen.LoadAuthority(filepath.Join(dir, "ca.crt"), filepath.Join(dir, "ca.key"))
		if err != nil {
			return err
		}
	} else {
		var (
			pair certgen.Pair
			err  error
		)
		ca, pair, err = certgen.NewAuthority(caName)
		if err != nil {
			return err
		}
		if err := certgen.WritePair(dir, "ca", pair); err != nil {
			return err
		}
	}

	server, err := ca.IssueServer(hosts...)
	if err != nil {
		return fmt.Errorf("server certificate: %w", err)
	}
	if err := certgen.WritePair(dir, "server", server); err != nil {
		return err
	}

	client, err := ca.IssueOperator(operator)
	if err != nil {
		return fmt.Errorf("operator certificate: %w", err)
	}
	if err := certgen.WritePair(dir, "client", client); err != nil {
		return err
	}

	fmt.Fprintf(out, "Certificates generated into %s\n", dir)
	return nil
}
