package cookie

import (
	"bufio"
	"bytes"
	"strings"
)

// Store persists named jar snapshots.
// Implementations of Store must be safe for concurrent use by multiple
// goroutines.
type Store interface {
	// Load returns the cookies saved under name, or nil if there are none.
	Load(name string) ([]Cookie, error)
	// Save replaces the cookies saved under name.
	Save(name string, cookies []Cookie) error
	// Delete removes the cookies saved under name.
	Delete(name string) error
}

// Marshal encodes the cookies one Set-Cookie line each.
func Marshal(cookies []Cookie) []byte {
	var b strings.Builder
	for _, c := range cookies {
		b.WriteString(c.String())
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// Unmarshal decodes cookies encoded by Marshal.
func Unmarshal(data []byte) ([]Cookie, error) {
	var cookies []Cookie
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		c, err := Parse(line, "")
		if err != nil {
			return nil, err
		}
		cookies = append(cookies, c)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return cookies, nil
}
