package cookie

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shiroyk/courier/lib/logger"
)

// ParseNetscape reads cookies from a Netscape-format cookie file.
// Lines starting with # are skipped, except #HttpOnly_ which sets the HttpOnly flag.
// Malformed lines and expired cookies are skipped.
func ParseNetscape(r io.Reader) ([]Cookie, error) {
	now := time.Now()
	var cookies []Cookie

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}

		httpOnly := false
		if strings.HasPrefix(line, "#HttpOnly_") {
			httpOnly = true
			line = line[len("#HttpOnly_"):]
		} else if strings.HasPrefix(line, "#") {
			continue
		}

		// domain, include subdomains, path, secure, expiry, name, value
		fields := strings.Split(line, "\t")
		if len(fields) != 7 {
			logger.Warnf("skipping malformed Netscape cookie line %d fields", len(fields))
			continue
		}

		expiry, err := strconv.ParseInt(fields[4], 10, 64)
		if err != nil {
			logger.Warnf("skipping cookie %s with invalid expiry %q", fields[5], fields[4])
			continue
		}

		var expires string
		if expiry > 0 {
			t := time.Unix(expiry, 0)
			if t.Before(now) {
				continue
			}
			expires = t.UTC().Format(http.TimeFormat)
		}

		cookies = append(cookies, Cookie{
			Name:     fields[5],
			Value:    fields[6],
			Domain:   fields[0],
			Path:     fields[2],
			Expires:  expires,
			Secure:   strings.EqualFold(fields[3], "TRUE"),
			HttpOnly: httpOnly,
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read Netscape cookie file: %w", err)
	}
	return cookies, nil
}
