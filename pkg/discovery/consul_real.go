//go:build consul

package discovery

import (
	"fmt"

	consulapi "github.com/hashicorp/consul/api"
)

const serviceName = "pigeonhub"

// Register advertises this hub as a Consul service so peers and other hubs
// can find it (requires build tag consul).
func Register(consulAddr, hubID, advertise string, port int) error {
	cfg := consulapi.DefaultConfig()
	if consulAddr != "" {
		cfg.Address = consulAddr
	}
	cli, err := consulapi.NewClient(cfg)
	if err != nil {
		return err
	}
	reg := &consulapi.AgentServiceRegistration{
		ID:      serviceName + "-" + hubID[:8],
		Name:    serviceName,
		Address: advertise,
		Port:    port,
		Tags:    []string{"signaling", "relay"},
		Check: &consulapi.AgentServiceCheck{
			TCP:                            fmt.Sprintf("%s:%d", advertise, port),
			Interval:                       "30s",
			DeregisterCriticalServiceAfter: "5m",
		},
	}
	return cli.Agent().ServiceRegister(reg)
}

// LookupBootstrap returns the ws URL of a healthy hub registered in Consul,
// for use as the bootstrap link when none is configured explicitly.
func LookupBootstrap(consulAddr string) (string, error) {
	cfg := consulapi.DefaultConfig()
	if consulAddr != "" {
		cfg.Address = consulAddr
	}
	cli, err := consulapi.NewClient(cfg)
	if err != nil {
		return "", err
	}
	entries, _, err := cli.Health().Service(serviceName, "", true, nil)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", fmt.Errorf("no healthy %s service in consul", serviceName)
	}
	svc := entries[0].Service
	addr := svc.Address
	if addr == "" {
		addr = entries[0].Node.Address
	}
	return fmt.Sprintf("ws://%s:%d/", addr, svc.Port), nil
}
