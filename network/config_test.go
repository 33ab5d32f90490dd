package network

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigurationFromFlags(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		v := viper.New()
		v.Set(bindAddressFlagName("gossip"), "127.0.0.1")
		config, err := ConfigurationFromFlags(v, "gossip")
		require.NoError(t, err)
		assert.NotEmpty(t, config.ID())
		assert.Equal(t, "gossip", config.Name())
		assert.Equal(t, "127.0.0.1", config.AdvertisedAddress())
		assert.NotZero(t, config.BindPort())
		assert.Equal(t, config.BindPort(), config.AdvertisedPort())
	})
	t.Run("explicit", func(t *testing.T) {
		v := viper.New()
		v.Set(serviceIDFlagName("gossip"), "node-1")
		v.Set(bindAddressFlagName("gossip"), "0.0.0.0")
		v.Set(bindPortFlagName("gossip"), 3500)
		v.Set(advertisedAddressFlagName("gossip"), "10.0.0.1")
		v.Set(advertisedPortFlagName("gossip"), 4500)
		config, err := ConfigurationFromFlags(v, "gossip")
		require.NoError(t, err)
		assert.Equal(t, "node-1", config.ID())
		assert.Equal(t, "0.0.0.0", config.BindAddress())
		assert.Equal(t, 3500, config.BindPort())
		assert.Equal(t, "10.0.0.1", config.AdvertisedAddress())
		assert.Equal(t, 4500, config.AdvertisedPort())
		assert.Equal(t, "gossip node-1 is running on 0.0.0.0:3500 and exposed on 10.0.0.1:4500", config.Describe())
	})
	t.Run("invalid address", func(t *testing.T) {
		v := viper.New()
		v.Set(bindAddressFlagName("gossip"), "127.0.0.1")
		v.Set(bindPortFlagName("gossip"), 3500)
		v.Set(advertisedAddressFlagName("gossip"), "not-an-ip")
		_, err := ConfigurationFromFlags(v, "gossip")
		assert.Error(t, err)
	})
	t.Run("privileged port", func(t *testing.T) {
		v := viper.New()
		v.Set(bindAddressFlagName("gossip"), "127.0.0.1")
		v.Set(bindPortFlagName("gossip"), 80)
		_, err := ConfigurationFromFlags(v, "gossip")
		assert.Error(t, err)
	})
}

func TestRegisterFlagsForService(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	v := viper.New()
	RegisterFlagsForService(cmd, v, "gossip", 3500)
	require.NoError(t, cmd.Flags().Parse([]string{"--gossip-bind-address", "127.0.0.1", "--gossip-id", "abc"}))

	config, err := ConfigurationFromFlags(v, "gossip")
	require.NoError(t, err)
	assert.Equal(t, "abc", config.ID())
	assert.Equal(t, 3500, config.BindPort())
	assert.Equal(t, "127.0.0.1", config.AdvertisedAddress())
}
