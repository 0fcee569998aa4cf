// Command instrument is the toolkit's CLI: it discovers VXI-11 devices
// on the network and sends commands to them.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli"

	"github.com/calmetro/instrument/internal/logger"
	"github.com/calmetro/instrument/pkg/config"
	"github.com/calmetro/instrument/pkg/connection"
	"github.com/calmetro/instrument/pkg/discovery"
	"github.com/calmetro/instrument/pkg/equipment"
)

func main() {
	app := cli.NewApp()
	app.Name = "instrument"
	app.Usage = "communicate with VXI-11 laboratory instruments"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "path to the configuration file",
		},
		cli.StringFlag{
			Name:  "log-level",
			Usage: "override the configured log level",
		},
		cli.StringFlag{
			Name:  "log-format",
			Usage: "override the configured log format (text, json)",
		},
	}
	app.Commands = []cli.Command{
		findCommand(),
		queryCommand(),
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// setup loads the configuration and builds the logger, honoring CLI
// overrides.
func setup(c *cli.Context) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(c.GlobalString("config"))
	if err != nil {
		return nil, nil, err
	}

	level := cfg.Logging.Level
	if v := c.GlobalString("log-level"); v != "" {
		level = v
	}
	format := cfg.Logging.Format
	if v := c.GlobalString("log-format"); v != "" {
		format = v
	}

	return cfg, logger.New(os.Stderr, level, format), nil
}

func findCommand() cli.Command {
	return cli.Command{
		Name:  "find",
		Usage: "discover VXI-11 devices on the local network",
		Flags: []cli.Flag{
			cli.DurationFlag{
				Name:  "timeout",
				Usage: "how long each interface waits for replies",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, log, err := setup(c)
			if err != nil {
				return err
			}

			timeout := c.Duration("timeout")
			if timeout <= 0 {
				timeout = time.Duration(cfg.Discovery.TimeoutSeconds * float64(time.Second))
			}

			devices, err := discovery.Find(discovery.Options{
				Hosts:   cfg.Discovery.Interfaces,
				Timeout: timeout,
				Port:    cfg.Portmap.Port,
				Logger:  log,
			})
			if err != nil {
				return err
			}

			if len(devices) == 0 {
				fmt.Println("no VXI-11 devices found")
				return nil
			}
			for _, d := range devices {
				fmt.Printf("%-15s core_port=%-5d %s\n", d.IP, d.CorePort, d.Address)
			}
			return nil
		},
	}
}

func queryCommand() cli.Command {
	return cli.Command{
		Name:      "query",
		Usage:     "send a command to a device and print the response",
		ArgsUsage: "<command>",
		Flags: []cli.Flag{
			cli.StringFlag{
				Name:  "address, a",
				Usage: "resource address, e.g. TCPIP::10.0.0.5::inst0::INSTR",
			},
			cli.Float64Flag{
				Name:  "timeout",
				Usage: "I/O timeout in seconds",
			},
			cli.BoolFlag{
				Name:  "write-only, w",
				Usage: "send the command without reading a response",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, log, err := setup(c)
			if err != nil {
				return err
			}

			address := c.String("address")
			if address == "" {
				return fmt.Errorf("--address is required")
			}
			command := strings.Join(c.Args(), " ")
			if command == "" {
				return fmt.Errorf("a command argument is required, e.g. \"*IDN?\"")
			}

			timeout := cfg.Connection.TimeoutSeconds
			if c.IsSet("timeout") {
				timeout = c.Float64("timeout")
			}

			record := equipment.Record{
				Connection: equipment.ConnectionRecord{
					Address: address,
					Properties: map[string]any{
						"timeout":       timeout,
						"buffer_size":   cfg.Connection.BufferSize,
						"max_read_size": cfg.Connection.MaxReadSize,
						"lock_timeout":  cfg.Connection.LockTimeoutSeconds,
					},
				},
			}

			conn, err := connection.Dial(record, log)
			if err != nil {
				return err
			}
			defer conn.Disconnect()

			if c.Bool("write-only") {
				_, err := conn.Write([]byte(command))
				return err
			}

			if _, err := conn.Write([]byte(command)); err != nil {
				return err
			}
			response, err := conn.Read()
			if err != nil {
				return err
			}
			fmt.Println(strings.TrimRight(string(response), "\r\n"))
			return nil
		},
	}
}
