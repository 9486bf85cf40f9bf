package api

import "time"

// ServerConfig configures the control API.
type ServerConfig struct {
	Addr              string        `help:"Control API listen address; empty disables the API" default:":3242" env:"EASYCON_API_ADDR"`
	Password          string        `help:"Control API password; defaults to the key file in the config directory" env:"EASYCON_API_PASSWORD"`
	NoAuth            bool          `help:"Serve the control API without a password" env:"EASYCON_API_NO_AUTH"`
	ConnectionTimeout time.Duration `kong:"-"`
}
