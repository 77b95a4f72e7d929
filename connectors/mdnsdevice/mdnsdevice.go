// Package mdnsdevice is an illustrative device connector for peripherals
// discovered over the local network via mDNS/DNS-SD rather than addressed
// by static configuration. It advertises itself on init and, on each poll
// tick, browses for peer services, emitting a data event per discovery
// round. Grounded on the teacher's client/discovery.go.
package mdnsdevice

import (
	"context"
	"time"

	"github.com/hashicorp/mdns"

	"github.com/mbocsi/edgegateway/internal/connector"
)

// Connector is a polling device connector: spec.md §4.1's polling variant
// drives Process() on a fixed period to re-browse for peers.
type Connector struct {
	*connector.Polling

	service       string
	mdnsServer    *mdns.Server
	lookupTimeout time.Duration
}

// New builds an inactive mDNS discovery device connector with id.
func New(id string) connector.Connector {
	c := &Connector{lookupTimeout: 2 * time.Second}
	c.Polling = connector.NewPolling(id, connector.Device, c)
	return c
}

func (c *Connector) OnInit(ctx context.Context, config map[string]any, requestID string) (any, error) {
	service, _ := config["service"].(string)
	if service == "" {
		return nil, &connector.Error{Kind: connector.KindInvalidConfig, Message: "service is required"}
	}
	c.service = service

	name, _ := config["name"].(string)
	if name == "" {
		name = c.ID()
	}
	port := 0
	if p, ok := config["port"].(float64); ok {
		port = int(p)
	}

	info := []string{"edgegateway-device"}
	svc, err := mdns.NewMDNSService(name, service, "", "", port, nil, info)
	if err != nil {
		return nil, err
	}
	srv, err := mdns.NewServer(&mdns.Config{Zone: svc})
	if err != nil {
		return nil, err
	}
	c.mdnsServer = srv

	return map[string]any{"service": service, "name": name}, nil
}

// Process browses for peers advertising the same service and emits a data
// event carrying the discovered set. Invoked by Polling on pollFrequency.
func (c *Connector) Process(ctx context.Context) {
	entriesCh := make(chan *mdns.ServiceEntry, 8)
	go func() {
		_ = mdns.Lookup(c.service, entriesCh)
		close(entriesCh)
	}()

	peers := make([]map[string]any, 0)
	timeout := time.After(c.lookupTimeout)
collect:
	for {
		select {
		case entry, ok := <-entriesCh:
			if !ok {
				break collect
			}
			addr := ""
			switch {
			case entry.AddrV4 != nil:
				addr = entry.AddrV4.String()
			case entry.AddrV6 != nil:
				addr = entry.AddrV6.String()
			}
			peers = append(peers, map[string]any{
				"name": entry.Name,
				"addr": addr,
				"port": entry.Port,
			})
		case <-timeout:
			break collect
		}
	}

	c.Emit(map[string]any{"peers": peers}, "")
}

func (c *Connector) OnStop(ctx context.Context, requestID string) (any, error) {
	if c.mdnsServer != nil {
		err := c.mdnsServer.Shutdown()
		c.mdnsServer = nil
		return nil, err
	}
	return nil, nil
}
