package cookie

import (
	"errors"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/exp/slices"
)

// Jar stores cookies keyed by domain. Domains are kept in registration order
// because matching is by substring, the first registered domain is checked first.
// A Jar is safe for concurrent use by multiple goroutines.
type Jar struct {
	mu      sync.RWMutex
	domains []string
	entries map[string][]Cookie
}

// NewJar returns an empty Jar.
func NewJar() *Jar {
	return &Jar{entries: make(map[string][]Cookie)}
}

// Put stores the cookie. A stored cookie with the same identity is removed
// first, so the new value lands at the end of its domain bucket.
func (j *Jar) Put(c Cookie) error {
	if err := c.Validate(); err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.put(c)
	return nil
}

func (j *Jar) put(c Cookie) {
	bucket, ok := j.entries[c.Domain]
	if !ok {
		j.domains = append(j.domains, c.Domain)
		j.entries[c.Domain] = []Cookie{c}
		return
	}
	if i := slices.IndexFunc(bucket, c.Same); i >= 0 {
		bucket = slices.Delete(bucket, i, i+1)
	}
	j.entries[c.Domain] = append(bucket, c)
}

// PutAll stores the cookies in order. Invalid cookies are skipped and
// reported in the joined error.
func (j *Jar) PutAll(cookies []Cookie) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	var errs []error
	for _, c := range cookies {
		if err := c.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		j.put(c)
	}
	return errors.Join(errs...)
}

// Cookies returns the cookies to send to host: the buckets of every domain
// that is a substring of host, in domain registration order.
func (j *Jar) Cookies(host string) []Cookie {
	j.mu.RLock()
	defer j.mu.RUnlock()
	var cookies []Cookie
	for _, domain := range j.domains {
		if strings.Contains(host, domain) {
			cookies = append(cookies, j.entries[domain]...)
		}
	}
	return cookies
}

// AttachTo adds the cookies matching host to the Cookie header of h.
func (j *Jar) AttachTo(h http.Header, host string) {
	AddToHeader(h, j.Cookies(host))
}

// Get returns the first cookie named name, compared case-insensitively.
func (j *Jar) Get(name string) (Cookie, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	for _, domain := range j.domains {
		for _, c := range j.entries[domain] {
			if strings.EqualFold(c.Name, name) {
				return c, true
			}
		}
	}
	return Cookie{}, false
}

// Remove deletes every cookie named name, compared case-insensitively,
// and returns how many were removed.
func (j *Jar) Remove(name string) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	removed := 0
	domains := j.domains[:0]
	for _, domain := range j.domains {
		bucket := j.entries[domain]
		n := len(bucket)
		bucket = slices.DeleteFunc(bucket, func(c Cookie) bool {
			return strings.EqualFold(c.Name, name)
		})
		removed += n - len(bucket)
		if len(bucket) == 0 {
			delete(j.entries, domain)
			continue
		}
		j.entries[domain] = bucket
		domains = append(domains, domain)
	}
	j.domains = domains
	return removed
}

// All returns every stored cookie grouped by domain in registration order.
func (j *Jar) All() []Cookie {
	j.mu.RLock()
	defer j.mu.RUnlock()
	var cookies []Cookie
	for _, domain := range j.domains {
		cookies = append(cookies, j.entries[domain]...)
	}
	return cookies
}

// Domains returns the known domains in registration order.
func (j *Jar) Domains() []string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return slices.Clone(j.domains)
}

// Len returns the number of stored cookies.
func (j *Jar) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	n := 0
	for _, bucket := range j.entries {
		n += len(bucket)
	}
	return n
}

// Clear removes every cookie.
func (j *Jar) Clear() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.domains = nil
	j.entries = make(map[string][]Cookie)
}

// Save writes the jar contents to the store under name.
func (j *Jar) Save(s Store, name string) error {
	return s.Save(name, j.All())
}

// Load merges the cookies saved under name into the jar.
func (j *Jar) Load(s Store, name string) error {
	cookies, err := s.Load(name)
	if err != nil {
		return err
	}
	return j.PutAll(cookies)
}
