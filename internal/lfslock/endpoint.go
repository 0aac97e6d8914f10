package lfslock

import (
	"fmt"
	"net/url"
	"strings"
)

// Endpoint returns the LFS API base URL. An explicit lfs.url wins; otherwise
// it is derived from the remote the way git-lfs does, mapping ssh remotes to
// https.
func Endpoint(lfsURL, remoteURL string) (string, error) {
	if lfsURL = strings.TrimSpace(lfsURL); lfsURL != "" {
		return strings.TrimRight(lfsURL, "/"), nil
	}
	raw := strings.TrimSpace(remoteURL)
	if raw == "" {
		return "", fmt.Errorf("no lfs.url and no remote url")
	}
	scheme := "https"
	var host, path string
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", fmt.Errorf("parse remote url: %w", err)
		}
		switch u.Scheme {
		case "http", "https":
			scheme = u.Scheme
			host = u.Host
		case "ssh", "git+ssh":
			host = u.Hostname()
		default:
			return "", fmt.Errorf("unsupported remote scheme %q", u.Scheme)
		}
		path = u.Path
	} else {
		userHost, p, ok := strings.Cut(raw, ":")
		if !ok {
			return "", fmt.Errorf("unsupported remote url %q", remoteURL)
		}
		host = userHost
		if _, h, found := strings.Cut(userHost, "@"); found {
			host = h
		}
		path = p
	}
	path = strings.Trim(path, "/")
	if host == "" || path == "" {
		return "", fmt.Errorf("unsupported remote url %q", remoteURL)
	}
	if !strings.HasSuffix(path, ".git") {
		path += ".git"
	}
	return fmt.Sprintf("%s://%s/%s/info/lfs", scheme, host, path), nil
}
