package auth

import (
	"fmt"
	"strings"
)

// ParseChallenge finds the Digest challenge among WWW-Authenticate values and
// parses its parameters. Missing charset and algorithm take their defaults,
// a qop option list is narrowed to "auth".
func ParseChallenge(values []string) (*Challenge, error) {
	for _, value := range values {
		scheme, rest, _ := strings.Cut(strings.TrimSpace(value), " ")
		if !strings.EqualFold(scheme, "Digest") {
			continue
		}
		params := parseParams(rest)
		ch := &Challenge{
			Realm:     params["realm"],
			Nonce:     params["nonce"],
			Algorithm: params["algorithm"],
			Charset:   params["charset"],
			Opaque:    params["opaque"],
		}
		if ch.Nonce == "" {
			return nil, ErrNoChallenge
		}
		if ch.Charset == "" {
			ch.Charset = DefaultElementCharset
		}
		switch {
		case ch.Algorithm == "":
			ch.Algorithm = DefaultAlgorithm
		case !strings.EqualFold(ch.Algorithm, "MD5") && !strings.EqualFold(ch.Algorithm, "MD5-sess"):
			return nil, fmt.Errorf("%w %s", ErrUnsupportedAlgorithm, ch.Algorithm)
		}
		if qop, ok := params["qop"]; ok {
			if !hasToken(qop, "auth") {
				return nil, fmt.Errorf("%w %s", ErrUnsupportedQop, qop)
			}
			ch.Qop = "auth"
		}
		return ch, nil
	}
	return nil, ErrNoChallenge
}

func hasToken(list, token string) bool {
	for _, t := range strings.Split(list, ",") {
		if strings.EqualFold(strings.TrimSpace(t), token) {
			return true
		}
	}
	return false
}

// parseParams parses comma separated key=value pairs, values may be quoted
// strings containing commas and backslash escapes. Keys are lowercased.
func parseParams(s string) map[string]string {
	params := make(map[string]string)
	for len(s) > 0 {
		s = strings.TrimLeft(s, " \t,")
		eq := strings.IndexByte(s, '=')
		if eq < 0 {
			break
		}
		key := strings.ToLower(strings.TrimSpace(s[:eq]))
		s = strings.TrimLeft(s[eq+1:], " \t")

		var value string
		if strings.HasPrefix(s, `"`) {
			var b strings.Builder
			i := 1
			for ; i < len(s); i++ {
				if s[i] == '\\' && i+1 < len(s) {
					i++
					b.WriteByte(s[i])
					continue
				}
				if s[i] == '"' {
					break
				}
				b.WriteByte(s[i])
			}
			value = b.String()
			if i < len(s) {
				i++
			}
			s = s[i:]
		} else {
			end := strings.IndexByte(s, ',')
			if end < 0 {
				end = len(s)
			}
			value = strings.TrimSpace(s[:end])
			s = s[end:]
		}
		params[key] = value
	}
	return params
}
