package resources

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	mcpdb "github.com/AbdelilahOu/mysqlmcp/pkg"
)

var ErrInvalidURI = errors.New("invalid resource uri")

const (
	Scheme       = "mysql"
	schemaSuffix = "schema"
)

// Namespace maps tables of the configured server to resource URIs of the form
// mysql://host:port/<table>/schema and back.
type Namespace struct {
	host string
	port int
}

func NewNamespace(host string, port int) Namespace {
	return Namespace{host: host, port: port}
}

func (n Namespace) Authority() string {
	return net.JoinHostPort(n.host, strconv.Itoa(n.port))
}

func (n Namespace) URI(table string) string {
	return fmt.Sprintf("%s://%s/%s/%s", Scheme, n.Authority(), url.PathEscape(table), schemaSuffix)
}

// Template is the RFC 6570 template matching every URI of the namespace.
func (n Namespace) Template() string {
	return fmt.Sprintf("%s://%s/{table}/%s", Scheme, n.Authority(), schemaSuffix)
}

func (n Namespace) Descriptor(table string) mcpdb.ResourceDescriptor {
	return mcpdb.ResourceDescriptor{
		URI:      n.URI(table),
		MimeType: mcpdb.MimeTypeJSON,
		Name:     `"` + table + `" database schema`,
	}
}

// Parse returns the table addressed by uri.
func (n Namespace) Parse(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURI, err)
	}
	if u.Scheme != Scheme {
		return "", fmt.Errorf("%w: scheme must be %s://, got %q", ErrInvalidURI, Scheme, u.Scheme)
	}
	if u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return "", fmt.Errorf("%w: credentials, query and fragment are not supported", ErrInvalidURI)
	}
	if !strings.EqualFold(u.Host, n.Authority()) {
		return "", fmt.Errorf("%w: host %q is not the configured server %s", ErrInvalidURI, u.Host, n.Authority())
	}

	parts := strings.Split(strings.TrimPrefix(u.EscapedPath(), "/"), "/")
	if len(parts) != 2 || parts[1] != schemaSuffix || parts[0] == "" {
		return "", fmt.Errorf("%w: expected %s", ErrInvalidURI, n.Template())
	}

	table, err := url.PathUnescape(parts[0])
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURI, err)
	}
	return table, nil
}
