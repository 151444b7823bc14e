// Command gwctl is the operator CLI for a running gatewayd: it talks
// to gatewayd's admin endpoints over HTTP rather than linking the
// engine package directly, the same separation the teacher draws
// between its cluster CLI and the daemon it manages.
/*
 * Copyright (c) 2024, Syndicate Storage Project. All rights reserved.
 */
package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/urfave/cli"
)

func main() {
	app := cli.NewApp()
	app.Name = "gwctl"
	app.Usage = "operate a running gatewayd replication/GC engine"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "host",
			Value: "http://127.0.0.1:9100",
			Usage: "gatewayd admin address",
		},
	}
	app.Commands = []cli.Command{
		statusCommand,
		drainCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var statusCommand = cli.Command{
	Name:  "status",
	Usage: "report whether the gateway's engines are draining",
	Action: func(c *cli.Context) error {
		resp, err := http.Get(c.GlobalString("host") + "/status")
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		var status struct {
			Draining bool `json:"draining"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
			return err
		}
		fmt.Printf("draining: %v\n", status.Draining)
		return nil
	},
}

var drainCommand = cli.Command{
	Name:  "drain",
	Usage: "ask the gateway to cancel in-flight transfers and stop its engines",
	Action: func(c *cli.Context) error {
		resp, err := http.Post(c.GlobalString("host")+"/drain", "", nil)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusAccepted {
			return fmt.Errorf("gwctl: drain request rejected: %s", resp.Status)
		}
		fmt.Println("drain requested")
		return nil
	},
}
