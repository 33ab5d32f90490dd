package network

import (
	"fmt"
	"net"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const fallbackHost = "127.0.0.1"

type Configuration struct {
	id                string
	name              string
	advertisedAddress string
	advertisedPort    int
	bindAddress       string
	bindPort          int
}

func (c *Configuration) Name() string {
	return c.name
}
func (c *Configuration) ID() string {
	return c.id
}
func (c *Configuration) AdvertisedAddress() string {
	return c.advertisedAddress
}
func (c *Configuration) AdvertisedPort() int {
	return c.advertisedPort
}
func (c *Configuration) BindPort() int {
	return c.bindPort
}
func (c *Configuration) BindAddress() string {
	return c.bindAddress
}

func randomFreePort(host string) (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", fmt.Sprintf("%s:0", host))
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// localPrivateHost returns the first IPv4 address of an interface that is up
// and not a loopback, or the loopback address when there is none.
func localPrivateHost() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return fallbackHost
	}
	for _, v := range ifaces {
		if v.Flags&net.FlagLoopback == net.FlagLoopback || v.Flags&net.FlagUp != net.FlagUp {
			continue
		}
		if len(v.HardwareAddr.String()) == 0 {
			continue
		}
		addresses, _ := v.Addrs()
		if len(addresses) == 0 {
			continue
		}
		if ipnet, ok := addresses[0].(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
			if ipnet.IP.To4() != nil {
				return ipnet.IP.String()
			}
		}
	}
	return fallbackHost
}

func serviceIDFlagName(name string) string {
	return fmt.Sprintf("%s-id", name)
}
func advertisedAddressFlagName(name string) string {
	return fmt.Sprintf("%s-advertised-address", name)
}
func advertisedPortFlagName(name string) string {
	return fmt.Sprintf("%s-advertised-port", name)
}
func bindAddressFlagName(name string) string {
	return fmt.Sprintf("%s-bind-address", name)
}
func bindPortFlagName(name string) string {
	return fmt.Sprintf("%s-bind-port", name)
}

func (c Configuration) Describe() string {
	return fmt.Sprintf("%s %s is running on %s:%d and exposed on %s:%d",
		c.name, c.id,
		c.bindAddress, c.bindPort,
		c.advertisedAddress, c.advertisedPort,
	)
}

// ConfigurationFromFlags reads the configuration of service name from v.
// Missing advertised values default to the bind values, a missing bind port
// is replaced by a free one.
func ConfigurationFromFlags(v *viper.Viper, name string) (Configuration, error) {
	config := Configuration{
		id:                v.GetString(serviceIDFlagName(name)),
		name:              name,
		advertisedAddress: v.GetString(advertisedAddressFlagName(name)),
		advertisedPort:    v.GetInt(advertisedPortFlagName(name)),
		bindAddress:       v.GetString(bindAddressFlagName(name)),
		bindPort:          v.GetInt(bindPortFlagName(name)),
	}

	if len(config.id) == 0 {
		config.id = uuid.New().String()
	}
	if len(config.bindAddress) == 0 {
		config.bindAddress = fallbackHost
	}
	if len(config.advertisedAddress) == 0 {
		config.advertisedAddress = config.bindAddress
	}
	if config.bindPort == 0 {
		randomPort, err := randomFreePort(config.bindAddress)
		if err != nil {
			return config, errors.Wrapf(err, "failed to find a free port for %s", name)
		}
		config.bindPort = randomPort
	}
	if config.advertisedPort == 0 {
		config.advertisedPort = config.bindPort
	}
	if net.ParseIP(config.bindAddress) == nil {
		return config, fmt.Errorf("invalid bind address specified for %s: %q", name, config.bindAddress)
	}
	if net.ParseIP(config.advertisedAddress) == nil {
		return config, fmt.Errorf("invalid advertised address specified for %s: %q", name, config.advertisedAddress)
	}
	if config.advertisedPort < 1024 || config.advertisedPort > 65535 {
		return config, fmt.Errorf("invalid advertised port specified for %s: %d", name, config.advertisedPort)
	}
	if config.bindPort < 1024 || config.bindPort > 65535 {
		return config, fmt.Errorf("invalid bind port specified for %s: %d", name, config.bindPort)
	}
	return config, nil
}

func RegisterFlagsForService(cmd *cobra.Command, config *viper.Viper, name string, defaultPort int) {
	id := serviceIDFlagName(name)
	long := bindPortFlagName(name)
	longAddr := bindAddressFlagName(name)
	advLong := advertisedPortFlagName(name)
	advLongAddr := advertisedAddressFlagName(name)

	defaultAddr := localPrivateHost()
	cmd.Flags().StringP(id, "", "", fmt.Sprintf("%s unique id, generated when empty", name))
	config.BindPFlag(id, cmd.Flags().Lookup(id))

	cmd.Flags().IntP(long, "", defaultPort, fmt.Sprintf("Start %s listener on this port", name))
	config.BindPFlag(long, cmd.Flags().Lookup(long))

	cmd.Flags().StringP(longAddr, "", defaultAddr, fmt.Sprintf("Start %s listener on this address", name))
	config.BindPFlag(longAddr, cmd.Flags().Lookup(longAddr))

	cmd.Flags().StringP(advLongAddr, "", "", fmt.Sprintf("Advertise %s listener on this address", name))
	config.BindPFlag(advLongAddr, cmd.Flags().Lookup(advLongAddr))

	cmd.Flags().IntP(advLong, "", 0, fmt.Sprintf("Advertise %s listener on this port", name))
	config.BindPFlag(advLong, cmd.Flags().Lookup(advLong))
}
