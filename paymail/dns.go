package paymail

import (
	"fmt"
	"net"
	"sort"
	"strings"
)

// DNSResolver looks up SRV records. The default uses the net package;
// DNSSECResolver validates responses through an authenticating upstream.
type DNSResolver interface {
	LookupSRV(service, proto, name string) (string, []*net.SRV, error)
}

type defaultDNSResolver struct{}

func (defaultDNSResolver) LookupSRV(service, proto, name string) (string, []*net.SRV, error) {
	return net.LookupSRV(service, proto, name)
}

// DefaultDNSResolver is the production DNS resolver.
var DefaultDNSResolver DNSResolver = defaultDNSResolver{}

// srvService is the paymail SRV service label: _bsvalias._tcp.{domain}.
const srvService = "bsvalias"

// discoverHost finds the capability host for a paymail domain. SRV
// records are preferred, ordered by priority ascending then weight
// descending; with no usable record the domain itself on port 443 is
// assumed.
func discoverHost(domain string, resolver DNSResolver) string {
	_, addrs, err := resolver.LookupSRV(srvService, "tcp", domain)
	if err != nil || len(addrs) == 0 {
		return domain + ":443"
	}

	sort.Slice(addrs, func(i, j int) bool {
		if addrs[i].Priority != addrs[j].Priority {
			return addrs[i].Priority < addrs[j].Priority
		}
		return addrs[i].Weight > addrs[j].Weight
	})

	best := addrs[0]
	host := strings.TrimSuffix(best.Target, ".")
	if host == "" {
		return domain + ":443"
	}
	return fmt.Sprintf("%s:%d", host, best.Port)
}
