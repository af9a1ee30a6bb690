package notify

import (
	"context"
	"net"
	"net/url"

	"github.com/agentlensai/agentlens/pkg/models"
)

// CheckURL vets an outbound webhook destination before any HTTP is sent.
// Destinations that resolve to loopback, link-local, private (RFC 1918), or
// unspecified addresses are rejected unless allowInternal is set.
func CheckURL(ctx context.Context, rawURL string, allowInternal bool) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return models.ValidationError("invalid webhook URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return models.ValidationError("webhook URL must use http or https")
	}
	host := u.Hostname()
	if host == "" {
		return models.ValidationError("webhook URL has no host")
	}
	if allowInternal {
		return nil
	}

	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return models.NewError(models.KindDependency, "webhook host did not resolve")
	}
	for _, addr := range addrs {
		if isInternalIP(addr.IP) {
			return models.ValidationError("webhook URL resolves to an internal address")
		}
	}
	return nil
}

func isInternalIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsPrivate() ||
		ip.IsUnspecified()
}
