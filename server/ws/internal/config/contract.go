// SPDX-License-Identifier: MIT

package config

import stdlibtime "time"

type (
	Config struct {
		CertPath          string              `yaml:"certPath"`
		KeyPath           string              `yaml:"keyPath"`
		Port              uint16              `yaml:"port"`
		WriteTimeout      stdlibtime.Duration `yaml:"writeTimeout"`
		ReadTimeout       stdlibtime.Duration `yaml:"readTimeout"`
		HeartbeatInterval stdlibtime.Duration `yaml:"heartbeatInterval"`
	}
)

// TLS reports whether the server should terminate TLS itself. Without cert
// material only the tcp listener starts, in plain http; the http3 listener
// requires TLS and is skipped.
func (c *Config) TLS() bool {
	return c.CertPath != "" && c.KeyPath != ""
}
