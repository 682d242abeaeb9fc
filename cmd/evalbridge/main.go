// Command evalbridge runs an evaluation listener bridge between a terminal
// process and a worker.
//
//	evalbridge run                 spawn a worker child over stdio
//	evalbridge child --stdio       worker side of "run"
//	evalbridge listen              serve terminals over websocket or gRPC
//	evalbridge child --connect URL worker attaching to a listening terminal
//	evalbridge child --discover    same, finding the terminal in etcd
package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "evalbridge",
		Usage: "bridge an evaluation listener between a terminal and a worker",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML config file",
				EnvVars: []string{"EVALBRIDGE_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Override log.level. One of [debug,info,warn,error].",
			},
			&cli.StringFlag{
				Name:  "codec",
				Usage: "Override the stdio frame codec. One of [json,binary].",
			},
		},
		Commands: []*cli.Command{
			runCommand,
			childCommand,
			listenCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
