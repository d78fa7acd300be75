package probe

import (
	"fmt"
	"math"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const redacted = "****"

// Target describes the server a single connection attempt is made against.
type Target struct {
	Host           string
	Port           int
	User           string
	Password       string
	Database       string
	SSLMode        string
	ConnectTimeout time.Duration
}

// Address returns host:port, bracketing IPv6 literals.
func (t Target) Address() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// URL returns a postgres:// connection URL understood by both pgx and lib/pq.
func (t Target) URL() string {
	q := url.Values{}
	if t.SSLMode != "" {
		q.Set("sslmode", t.SSLMode)
	}
	if t.ConnectTimeout > 0 {
		q.Set("connect_timeout", strconv.Itoa(connectTimeoutSeconds(t.ConnectTimeout)))
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(t.User, t.Password),
		Host:     t.Address(),
		Path:     "/" + t.Database,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// String is safe to print: the password is never included.
func (t Target) String() string {
	return fmt.Sprintf("%s/%s (user: %s)", t.Address(), t.Database, t.User)
}

// Redact replaces every occurrence of the password in msg, including its
// URL-escaped form.
func (t Target) Redact(msg string) string {
	if t.Password == "" {
		return msg
	}
	forms := []string{
		t.Password,
		strings.TrimPrefix(url.UserPassword("", t.Password).String(), ":"),
		url.QueryEscape(t.Password),
		url.PathEscape(t.Password),
	}
	for _, form := range forms {
		msg = strings.ReplaceAll(msg, form, redacted)
	}
	return msg
}

// connect_timeout is expressed in whole seconds and 0 means "wait forever",
// so round up and never go below one second.
func connectTimeoutSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
