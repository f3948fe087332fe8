package cmd

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/shiroyk/courier"
	"github.com/shiroyk/courier/auth"
	"github.com/shiroyk/courier/cookie"
	"github.com/shiroyk/courier/fetch"
	"github.com/shiroyk/courier/lib/config"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

type requestOptions struct {
	headers        []string
	cookies        []string
	data           string
	form           []string
	charset        string
	digest         string
	keyring        bool
	follow         bool
	ignoreErrors   bool
	noCookies      bool
	proxy          string
	connectTimeout string
	readTimeout    string
	include        bool
	output         string
}

func newRequestCmds() []*cobra.Command {
	methods := []string{http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut}
	cmds := make([]*cobra.Command, 0, len(methods))
	for _, method := range methods {
		cmds = append(cmds, newRequestCmd(method))
	}
	return cmds
}

func newRequestCmd(method string) *cobra.Command {
	opt := new(requestOptions)
	cmd := &cobra.Command{
		Use:   strings.ToLower(method) + " URL",
		Short: fmt.Sprintf("send a %s request and write the response", method),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opt.run(cmd, method, args[0])
		},
	}
	opt.flags(cmd.Flags())
	if method == http.MethodPost || method == http.MethodPut {
		cmd.Flags().StringVar(&opt.data, "data", "", "request body, @file reads a file and - reads stdin")
		cmd.Flags().StringArrayVarP(&opt.form, "form", "F", nil, "url encoded form field name=value")
		cmd.Flags().StringVar(&opt.charset, "charset", "UTF-8", "charset the form is encoded in")
	}
	cmd.Flags().BoolVarP(&opt.include, "include", "i", method == http.MethodHead, "write the status line and headers")
	cmd.Flags().StringVarP(&opt.output, "output", "o", "", "write the body to file instead of stdout")
	return cmd
}

// flags registers the flags shared by every command sending a request.
func (o *requestOptions) flags(f *pflag.FlagSet) {
	f.StringArrayVarP(&o.headers, "header", "H", nil, `request header "Name: value"`)
	f.StringArrayVarP(&o.cookies, "cookie", "b", nil, "cookie name=value sent with the request")
	f.StringVar(&o.digest, "digest", "", "digest credentials user[:password]")
	f.BoolVar(&o.keyring, "keyring", false, "read the digest password from the OS keyring")
	f.BoolVarP(&o.follow, "follow", "L", false, "follow redirects")
	f.BoolVar(&o.ignoreErrors, "ignore-errors", false, "fail on error statuses instead of writing the error body")
	f.BoolVar(&o.noCookies, "no-cookies", false, "do not send or store jar cookies")
	f.StringVar(&o.proxy, "proxy", "", "proxy URL for this request")
	f.StringVar(&o.connectTimeout, "connect-timeout", "", `connect timeout, "10s" or milliseconds`)
	f.StringVar(&o.readTimeout, "read-timeout", "", `read timeout, "1m" or milliseconds`)
}

func (o *requestOptions) run(cmd *cobra.Command, method, rawURL string) (err error) {
	e, err := openEnv(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, e.Close()) }()

	req, err := o.request(cmd, e.cfg, method, rawURL)
	if err != nil {
		return err
	}
	res, err := e.session.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = res.Teardown() }()

	return o.write(cmd.OutOrStdout(), res)
}

// request builds the fetch.Request described by the flags.
func (o *requestOptions) request(cmd *cobra.Command, cfg config.Config, method, rawURL string) (*fetch.Request, error) {
	req, err := fetch.NewRequest(method, rawURL)
	if err != nil {
		return nil, err
	}
	req.WithContext(cmd.Context()).
		FollowRedirects(o.follow || cfg.Session.FollowRedirects).
		IgnoreErrorChecks(o.ignoreErrors).
		UseCookies(!o.noCookies)

	for _, h := range o.headers {
		key, value, err := parseHeader(h)
		if err != nil {
			return nil, err
		}
		req.Header(key, value)
	}
	for _, c := range o.cookies {
		name, value, ok := strings.Cut(c, "=")
		if !ok {
			return nil, courier.Invalid("cookie", fmt.Sprintf("%q is not name=value", c))
		}
		ck, err := cookie.New(strings.TrimSpace(name), value, req.URL().Hostname())
		if err != nil {
			return nil, err
		}
		req.AddCookie(ck)
	}

	if o.data != "" {
		payload, err := readData(o.data, cmd.InOrStdin())
		if err != nil {
			return nil, err
		}
		req.Payload(payload)
	}
	if len(o.form) > 0 {
		values := make(url.Values, len(o.form))
		for _, field := range o.form {
			name, value, ok := strings.Cut(field, "=")
			if !ok {
				return nil, courier.Invalid("form", fmt.Sprintf("%q is not name=value", field))
			}
			values.Add(name, value)
		}
		req.Form(values, o.charset)
	}

	if o.proxy != "" {
		proxy, err := fetch.FixedProxy(o.proxy)
		if err != nil {
			return nil, err
		}
		req.Proxy(proxy)
	}
	if o.connectTimeout != "" {
		d, err := parseDuration("connect-timeout", o.connectTimeout)
		if err != nil {
			return nil, err
		}
		req.ConnectTimeout(d)
	}
	if o.readTimeout != "" {
		d, err := parseDuration("read-timeout", o.readTimeout)
		if err != nil {
			return nil, err
		}
		req.ReadTimeout(d)
	}

	if o.digest != "" {
		digest, err := o.authorization()
		if err != nil {
			return nil, err
		}
		req.SetAuthorization(digest)
	}
	return req, nil
}

func (o *requestOptions) authorization() (auth.Authorization, error) {
	user, password, _ := strings.Cut(o.digest, ":")
	if user == "" {
		return nil, courier.Missing("digest user")
	}
	if o.keyring {
		return auth.NewDigestFromKeyring(auth.DefaultKeyringService, user)
	}
	return auth.NewDigest(user, password), nil
}

func (o *requestOptions) write(w io.Writer, res *fetch.Response) error {
	if o.include {
		writeHead(w, res)
	}
	body := res.Body()
	if body == nil {
		return nil
	}
	if o.output != "" {
		f, err := os.Create(o.output)
		if err != nil {
			return err
		}
		_, err = io.Copy(f, body)
		return errors.Join(err, f.Close())
	}
	r, err := res.Reader()
	if err != nil {
		return err
	}
	_, err = io.Copy(w, r)
	return err
}

// writeHead writes the status line and the headers sorted by name.
func writeHead(w io.Writer, res *fetch.Response) {
	fmt.Fprintln(w, res.Status)
	keys := maps.Keys(res.Header)
	slices.Sort(keys)
	for _, key := range keys {
		for _, value := range res.Header[key] {
			fmt.Fprintf(w, "%s: %s\n", key, value)
		}
	}
	fmt.Fprintln(w)
}

// parseHeader splits "Name: value".
func parseHeader(h string) (string, string, error) {
	key, value, ok := strings.Cut(h, ":")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", "", courier.Invalid("header", fmt.Sprintf("%q is not Name: value", h))
	}
	return key, strings.TrimSpace(value), nil
}

// parseDuration reads a duration string, or a bare integer as milliseconds.
func parseDuration(field, s string) (time.Duration, error) {
	if ms, err := cast.ToInt64E(s); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := cast.ToDurationE(s)
	if err != nil {
		return 0, courier.Invalid(field, err.Error())
	}
	return d, nil
}

// readData returns the payload named by the --data flag.
func readData(data string, stdin io.Reader) ([]byte, error) {
	switch {
	case data == "-":
		return io.ReadAll(stdin)
	case strings.HasPrefix(data, "@"):
		return os.ReadFile(data[1:])
	default:
		return []byte(data), nil
	}
}
