// Command swapkv-server runs the reactor-driven RESP server: one thread
// multiplexing every client connection over internal/reactor, dispatching
// commands through internal/dispatch, per spec.md §4.1/§5.
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/swapkv/internal/logging"
	"github.com/joeycumines/swapkv/internal/server"
	"github.com/pelletier/go-toml/v2"
)

// cli mirrors spec.md §6's flag list: bind address/port, database count,
// swap-memory slowdown/stop thresholds, ACL file, slow/fat log gates, and
// the active-expire cycle's effort knob.
type cli struct {
	Config string `kong:"help='Path to a TOML config file; its non-zero, non-empty settings override the flags below.'"`

	Bind      string `kong:"default='127.0.0.1',help='Address to bind.'"`
	Port      int    `kong:"default='6380',help='TCP port to listen on.'"`
	Databases int    `kong:"default='16',help='Number of selectable databases.'"`

	SwapMemorySlowdown int64  `kong:"default='67108864',help='In-flight swap I/O byte count at which swap.Budget.Hint starts returning a 1-10ms rate-limit hint (spec.md swap.Budget slowdown). The server does not apply the hint to clients.'"`
	SwapMemoryStop     int64  `kong:"default='134217728',help='In-flight swap I/O byte count at or above which swap.Budget.Hint returns its 10ms maximum (spec.md swap.Budget stop). The server does not apply the hint to clients.'"`
	ACLFilename        string `kong:"help='ACL rules file to load at startup, in ACL SAVE format.'"`

	SlowLogLogSlowerThan int64 `kong:"default='10000',help='Microsecond threshold for slowlog sampling.'"`
	FatLogLogBiggerThan  int64 `kong:"default='8192',help='Byte threshold for fatlog sampling.'"`

	ActiveExpireEffort int `kong:"default='1',help='Active-expire cycle aggressiveness, 1-10.'"`

	LogLevel string `kong:"default='info',enum='debug,info,warning,error,disabled',help='Structured log level.'"`
}

// fileConfig is the TOML shape --config accepts; zero-valued fields leave
// the corresponding CLI default untouched.
type fileConfig struct {
	Bind               string `toml:"bind"`
	Port               int    `toml:"port"`
	Databases          int    `toml:"databases"`
	SwapMemorySlowdown int64  `toml:"swap_memory_slowdown"`
	SwapMemoryStop     int64  `toml:"swap_memory_stop"`
	ACLFilename        string `toml:"acl_filename"`
}

func (c *cli) applyFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var fc fileConfig
	if err := toml.Unmarshal(b, &fc); err != nil {
		return err
	}
	if fc.Bind != "" {
		c.Bind = fc.Bind
	}
	if fc.Port != 0 {
		c.Port = fc.Port
	}
	if fc.Databases != 0 {
		c.Databases = fc.Databases
	}
	if fc.SwapMemorySlowdown != 0 {
		c.SwapMemorySlowdown = fc.SwapMemorySlowdown
	}
	if fc.SwapMemoryStop != 0 {
		c.SwapMemoryStop = fc.SwapMemoryStop
	}
	if fc.ACLFilename != "" {
		c.ACLFilename = fc.ACLFilename
	}
	return nil
}

func logLevel(s string) logiface.Level {
	switch s {
	case "debug":
		return logiface.LevelDebug
	case "warning":
		return logiface.LevelWarning
	case "error":
		return logiface.LevelError
	case "disabled":
		return logiface.LevelDisabled
	default:
		return logiface.LevelInformational
	}
}

func main() {
	var c cli
	kong.Parse(&c, kong.Description("swapkv-server: a Redis-protocol-compatible server with a demand-paged keyspace."))

	if c.Config != "" {
		if err := c.applyFile(c.Config); err != nil {
			fmt.Fprintf(os.Stderr, "swapkv-server: loading config %s: %v\n", c.Config, err)
			os.Exit(1)
		}
	}

	log := logging.New(os.Stderr, logLevel(c.LogLevel))

	cfg := server.Config{
		Bind:                    c.Bind,
		Port:                    c.Port,
		Databases:               c.Databases,
		SwapSlowdownBytes:       c.SwapMemorySlowdown,
		SwapStopBytes:           c.SwapMemoryStop,
		ACLFilename:             c.ACLFilename,
		SlowLogSlowerThanMicros: c.SlowLogLogSlowerThan,
		FatLogBiggerThanBytes:   c.FatLogLogBiggerThan,
		ActiveExpireEffort:      c.ActiveExpireEffort,
	}

	srv, err := server.New(cfg, log)
	if err != nil {
		log.Err().Field("error", err.Error()).Log("failed to construct server")
		os.Exit(1)
	}

	if err := srv.Run(); err != nil {
		log.Err().Field("error", err.Error()).Log("server exited with error")
		os.Exit(1)
	}
}
