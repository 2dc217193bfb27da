package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/jveski/hostsections/internal/api"
)

func statusCmd(c *cli.Context) error {
	cc, err := setup(c)
	if err != nil {
		return err
	}

	status := &api.RunStatus{}
	if err := getJSON(c, cc, "/hosts", status); err != nil {
		return err
	}

	printRunStatus(status, time.Now(), os.Stdout)
	return nil
}

func printRunStatus(status *api.RunStatus, now time.Time, w io.Writer) {
	fmt.Fprintf(w, "collection %s finished %s ago\n\n", status.ID, durationToString(now.Sub(status.Finished)))

	tr := tabwriter.NewWriter(w, 6, 6, 4, ' ', 0)
	fmt.Fprintf(tr, "HOST\tSOURCE\tSTATE\tOUTPUT\n")
	for _, host := range status.Hosts {
		if len(host.Summaries) == 0 {
			fmt.Fprintf(tr, "%s\t\t\t%s\n", host.Name, host.Sources)
			continue
		}
		for _, s := range host.Summaries {
			fmt.Fprintf(tr, "%s\t%s\t%s\t%s\n", host.Name, s.Source, s.State, s.Output)
		}
	}
	tr.Flush()
}

func sectionsCmd(c *cli.Context) error {
	host := c.Args().First()
	if host == "" {
		return errors.New("a host name is required")
	}

	cc, err := setup(c)
	if err != nil {
		return err
	}

	q := url.Values{}
	for _, name := range c.StringSlice("parsed") {
		q.Add("parsed", name)
	}
	if c.Bool("management") {
		q.Set("management", "true")
	}

	resp := &api.Sections{}
	if err := getJSON(c, cc, "/hosts/"+url.PathEscape(host)+"/sections?"+q.Encode(), resp); err != nil {
		return err
	}

	if resp.Kwargs == nil && resp.Raw != nil {
		printSections(resp.Raw, os.Stdout)
		return nil
	}
	return printJSON(resp, os.Stdout)
}

func collectCmd(c *cli.Context) error {
	cc, err := setup(c)
	if err != nil {
		return err
	}

	resp, err := cc.Client.POST(c.Context, cc.BaseURL+"/collect", nil)
	if err != nil {
		return err
	}
	resp.Body.Close()

	fmt.Fprintln(os.Stderr, "collection requested")
	return nil
}

func getJSON(c *cli.Context, cc *appContext, path string, v any) error {
	resp, err := cc.Client.GET(c.Context, cc.BaseURL+path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func durationToString(d time.Duration) string {
	hr := d.Hours()
	if hr > 24 {
		return fmt.Sprintf("%dd", int(hr/24))
	}
	if hr > 1 {
		return fmt.Sprintf("%dh", int(hr))
	}

	min := d.Minutes()
	if min > 1 {
		return fmt.Sprintf("%dm", int(min))
	}

	return fmt.Sprintf("%ds", int(d.Seconds()))
}
