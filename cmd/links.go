package cmd

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/shiroyk/courier/fetch"
	"github.com/shiroyk/courier/markup"
	"github.com/spf13/cobra"
)

type linksOptions struct {
	requestOptions
	limit int
	xml   bool
}

func newLinksCmd() *cobra.Command {
	opt := new(linksOptions)
	cmd := &cobra.Command{
		Use:   "links URL",
		Short: "list the links of a page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opt.run(cmd, args[0])
		},
	}
	opt.flags(cmd.Flags())
	cmd.Flags().IntVarP(&opt.limit, "limit", "n", 0, "stop after n links, 0 lists all")
	cmd.Flags().BoolVar(&opt.xml, "xml", false, "parse the page as XML")
	return cmd
}

func (o *linksOptions) run(cmd *cobra.Command, rawURL string) (err error) {
	e, err := openEnv(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, e.Close()) }()

	req, err := o.request(cmd, e.cfg, http.MethodGet, rawURL)
	if err != nil {
		return err
	}
	res, err := e.session.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = res.Teardown() }()

	if res.Body() == nil {
		return fetch.ErrNoBody
	}
	parse := markup.ParseHTML
	if o.xml {
		parse = markup.ParseXML
	}
	links := &markup.Links{Base: res.URL, Limit: o.limit}
	if err = parse(res.Body(), res.Charset, links); err != nil {
		return err
	}
	for _, link := range links.URLs {
		fmt.Fprintln(cmd.OutOrStdout(), link)
	}
	return nil
}
