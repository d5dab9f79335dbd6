// Package config loads the speaker's neighbor and timer configuration from
// a YAML file (or an etcd-backed equivalent, see etcd.go), the way the
// pack's mitake-gobgp config package loads a BGP config document with
// viper. It performs no FSM or protocol logic of its own.
package config

import (
	"bytes"
	"fmt"
	"net"

	"github.com/spf13/viper"
)

// Default FSM timers (seconds), used whenever a peer entry omits one.
const (
	DefaultConnectRetryTime uint16 = 30
	DefaultHoldTime         uint16 = 45
	DefaultKeepaliveTime    uint16 = 15
)

// Peer is one configured BGP neighbor.
type Peer struct {
	LocalID      string `mapstructure:"local_id"`
	LocalAS      uint32 `mapstructure:"local_asn"`
	LocalPort    int    `mapstructure:"local_port"`
	RemoteID     string `mapstructure:"remote_id"`
	RemoteAS     uint32 `mapstructure:"remote_asn"`
	RemotePort   int    `mapstructure:"remote_port"`
	Passive      bool   `mapstructure:"passive"`
	Speaker      string `mapstructure:"speaker"`
	ConnRetryS   uint16 `mapstructure:"conn_retry_s"`
	HoldTimeS    uint16 `mapstructure:"hold_time_s"`
	KeepaliveS   uint16 `mapstructure:"keepalive_s"`
}

// Speaker is a named configuration group (a "speaker profile") selecting
// default timers and posture for a set of peers that reference it by name.
type Speaker struct {
	Name       string `mapstructure:"name"`
	ConnRetryS uint16 `mapstructure:"conn_retry_s"`
	HoldTimeS  uint16 `mapstructure:"hold_time_s"`
	KeepaliveS uint16 `mapstructure:"keepalive_s"`
	Passive    bool   `mapstructure:"passive"`
}

// Config is the full loaded document: one local router ID, a set of named
// speaker profiles, and the peers that reference them.
type Config struct {
	LocalID  string    `mapstructure:"local_id"`
	Speakers []Speaker `mapstructure:"speakers"`
	Peers    []Peer    `mapstructure:"peers"`
}

// Load reads and parses the YAML configuration file at path, then applies
// speaker-profile and built-in defaults to every peer that omits a value.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyDefaults(&c)
	return &c, c.validate()
}

// LoadBytes parses an in-memory YAML document the same way Load does. The
// etcd watcher (etcd.go) uses this to avoid round-tripping through a
// temporary file for every watch event.
func LoadBytes(b []byte) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyDefaults(&c)
	return &c, c.validate()
}

func applyDefaults(c *Config) {
	speakers := map[string]Speaker{}
	for _, s := range c.Speakers {
		speakers[s.Name] = s
	}

	for i := range c.Peers {
		p := &c.Peers[i]
		sp, hasSpeaker := speakers[p.Speaker]

		if p.ConnRetryS == 0 {
			if hasSpeaker && sp.ConnRetryS != 0 {
				p.ConnRetryS = sp.ConnRetryS
			} else {
				p.ConnRetryS = DefaultConnectRetryTime
			}
		}
		if p.HoldTimeS == 0 {
			if hasSpeaker && sp.HoldTimeS != 0 {
				p.HoldTimeS = sp.HoldTimeS
			} else {
				p.HoldTimeS = DefaultHoldTime
			}
		}
		if p.KeepaliveS == 0 {
			if hasSpeaker && sp.KeepaliveS != 0 {
				p.KeepaliveS = sp.KeepaliveS
			} else {
				p.KeepaliveS = DefaultKeepaliveTime
			}
		}
		if hasSpeaker && sp.Passive {
			p.Passive = true
		}
		if p.RemotePort == 0 {
			p.RemotePort = 179
		}
		if p.LocalPort == 0 {
			p.LocalPort = 179
		}
	}
}

func (c *Config) validate() error {
	if c.LocalID == "" {
		return fmt.Errorf("local_id is required")
	}
	if net.ParseIP(c.LocalID) == nil {
		return fmt.Errorf("local_id %q is not a valid IPv4 address", c.LocalID)
	}
	for _, p := range c.Peers {
		if net.ParseIP(p.RemoteID) == nil {
			return fmt.Errorf("peer remote_id %q is not a valid IPv4 address", p.RemoteID)
		}
	}
	return nil
}
