package model

import (
	"fmt"
	"net/url"
	"strconv"
)

// ReplicaURI is the parsed form of a replica's file path.
type ReplicaURI struct {
	Scheme string
	User   string
	Host   string
	Port   int
	Path   string
}

// String encodes the URI as scheme://user@host:port/path.
func (u ReplicaURI) String() string {
	v := url.URL{
		Scheme: u.Scheme,
		Host:   u.Host,
		Path:   u.Path,
	}
	if u.Port > 0 {
		v.Host = fmt.Sprintf("%s:%d", u.Host, u.Port)
	}
	if u.User != "" {
		v.User = url.User(u.User)
	}
	return v.String()
}

// ParseReplicaURI decodes a replica file path.
func ParseReplicaURI(s string) (ReplicaURI, error) {
	v, err := url.Parse(s)
	if err != nil {
		return ReplicaURI{}, fmt.Errorf("parse replica uri: %w", err)
	}
	if v.Scheme == "" || v.Path == "" {
		return ReplicaURI{}, fmt.Errorf("parse replica uri %q: scheme and path are required", s)
	}

	u := ReplicaURI{
		Scheme: v.Scheme,
		Host:   v.Hostname(),
		Path:   v.Path,
	}
	if v.User != nil {
		u.User = v.User.Username()
	}
	if p := v.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return ReplicaURI{}, fmt.Errorf("parse replica uri %q: invalid port: %w", s, err)
		}
		u.Port = port
	}
	return u, nil
}
