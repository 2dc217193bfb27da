package main

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/jveski/hostsections/internal/errs"
	"github.com/jveski/hostsections/internal/hostconfig"
	"github.com/jveski/hostsections/internal/rpc"
)

func main() {
	app := &cli.App{
		Name:  "sectionctl",
		Usage: "Fetch and inspect host sections",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "host configuration file",
				Value:   "hosts.toml",
				EnvVars: []string{"HOSTSECTIONS_CONFIG"},
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "log what every source does",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "fetch",
				Usage:     "Fetch the data of hosts once and print the results",
				ArgsUsage: "[host...]",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "no-cache", Usage: "neither read nor write raw data cache files"},
					&cli.BoolFlag{Name: "use-cache", Usage: "use cache files younger than the configured maximum age"},
					&cli.BoolFlag{Name: "use-outdated", Usage: "use cache files regardless of their age"},
					&cli.BoolFlag{Name: "simulation", Usage: "never contact hosts, only replay cache files"},
					&cli.BoolFlag{Name: "use-outdated-persisted", Usage: "keep expired persisted sections"},
					&cli.BoolFlag{Name: "debug", Usage: "abort on the first failing source"},
					&cli.BoolFlag{Name: "sections", Usage: "print the raw sections of every host"},
					&cli.StringSliceFlag{Name: "parsed", Usage: "print the check arguments of these parsed sections"},
					&cli.IntFlag{Name: "parallelism", Usage: "number of hosts fetched at the same time", Value: 4},
				},
				Action: fetchCmd,
			},
			{
				Name:      "sources",
				Usage:     "Describe where the data of hosts comes from",
				ArgsUsage: "[host...]",
				Action:    sourcesCmd,
			},
			{
				Name:      "cache",
				Usage:     "Print the cached raw data of a source",
				ArgsUsage: "<host> <source>",
				Action:    cacheCmd,
			},
			{
				Name:      "persisted",
				Usage:     "List the persisted sections of a source",
				ArgsUsage: "<host> <source>",
				Action:    persistedCmd,
			},
			{
				Name:   "status",
				Usage:  "Get the results of the last collection from a collector",
				Flags:  remoteFlags(),
				Action: statusCmd,
			},
			{
				Name:      "sections",
				Usage:     "Get the sections of a host from a collector",
				ArgsUsage: "<host>",
				Flags: append(remoteFlags(),
					&cli.StringSliceFlag{Name: "parsed", Usage: "parsed sections to resolve"},
					&cli.BoolFlag{Name: "management", Usage: "return the data of the management board"},
				),
				Action: sectionsCmd,
			},
			{
				Name:   "collect",
				Usage:  "Ask a collector to start a collection now",
				Flags:  remoteFlags(),
				Action: collectCmd,
			},
		},
	}

	err := app.Run(os.Args)
	if err == nil {
		return
	}

	fmt.Fprint(os.Stderr, getErrorString(err))
	os.Exit(1)
}

func remoteFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "collector",
			Usage:    "address of the collector i.e. `collector.mydomain` or `collector.mydomain:8124`",
			Required: true,
			EnvVars:  []string{"HOSTSECTIONS_COLLECTOR"},
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "timeout when sending requests to the collector",
			Value: time.Second * 15,
		},
	}
}

func newLogger(c *cli.Context) (*zap.SugaredLogger, error) {
	if !c.Bool("verbose") {
		return zap.NewNop().Sugar(), nil
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return logger.Sugar(), nil
}

func loadConfig(c *cli.Context) (*hostconfig.Config, error) {
	cfg, err := hostconfig.Load(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("loading host configuration: %w", err)
	}
	return cfg, nil
}

type appContext struct {
	Client  *rpc.Client
	BaseURL string
}

func setup(c *cli.Context) (*appContext, error) {
	homedir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting homedir: %w", err)
	}
	dir := filepath.Join(homedir, ".sectionctl")

	cert, _, err := rpc.GenCertificate(dir)
	if err != nil {
		return nil, fmt.Errorf("generating cert: %w", err)
	}

	trusted, err := loadTrustedCerts(dir)
	if err != nil {
		return nil, fmt.Errorf("reading trusted certs file: %w", err)
	}

	return &appContext{
		Client:  rpc.NewClient(cert, c.Duration("timeout"), rpc.NewStaticAuthorizer(trusted...)),
		BaseURL: rpc.UrlPrefix(c.String("collector")),
	}, nil
}

func loadTrustedCerts(dir string) ([]string, error) {
	list := []string{}

	buf, err := os.ReadFile(filepath.Join(dir, "trustedcerts"))
	if os.IsNotExist(err) {
		return list, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading trusted certs file: %w", err)
	}

	scanner := bufio.NewScanner(bytes.NewBuffer(buf))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			list = append(list, line)
		}
	}
	return list, scanner.Err()
}

func getErrorString(err error) string {
	es := &rpc.ErrUntrustedServer{}
	if errors.As(err, &es) {
		return fmt.Sprintf("The certificate presented by the collector is not trusted. Use this command to trust it:\n\n  echo \"%s\" >> %s\n\n", es.Fingerprint, "~/.sectionctl/trustedcerts")
	}

	ec := &rpc.ErrUntrustedClient{}
	if errors.As(err, &ec) {
		return fmt.Sprintf("The collector does not trust your client certificate.\nAdd its fingerprint to the collector's trustedcerts file:\n\n  echo \"%s\" >> trustedcerts\n\n", ec.Fingerprint)
	}

	if errs.IsConfiguration(err) {
		return fmt.Sprintf("%s\n", err)
	}

	return fmt.Sprintf("error: %s\n", err)
}
