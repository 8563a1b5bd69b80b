package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/xtaci/gokernel/kernel"
)

// VERSION is injected by build flags.
var VERSION = "SELFBUILD"

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	myApp := cli.NewApp()
	myApp.Name = "kerneldemo"
	myApp.Usage = "exercise the process/thread/pipe/socket core of a small kernel"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.IntFlag{
			Name:  "timeoutms",
			Value: 200,
			Usage: "Connect timeout in milliseconds, where applicable",
		},
		cli.IntFlag{
			Name:  "port",
			Value: 7,
			Usage: "port the scenario binds/connects to",
		},
		cli.IntFlag{
			Name:  "messagesize",
			Value: 64,
			Usage: "bytes written per message in pipe/socket scenarios",
		},
		cli.StringFlag{
			Name:  "log",
			Value: "",
			Usage: "specify a log file to output, default goes to stderr",
		},
		cli.BoolFlag{
			Name:  "quiet",
			Usage: "suppress per-step status lines",
		},
		cli.StringFlag{
			Name:  "c",
			Value: "",
			Usage: "config from json file, which will override the command from shell",
		},
	}
	myApp.Commands = []cli.Command{
		{Name: "pipe-echo", Usage: "write through a pipe and read the echo back", Action: runScenario(scenarioPipeEcho)},
		{Name: "socket-ping", Usage: "listen, connect, accept, and exchange one message each way", Action: runScenario(scenarioSocketPing)},
		{Name: "connect-timeout", Usage: "Connect against a port whose listener never accepts", Action: runScenario(scenarioConnectTimeout)},
		{Name: "shutdown-write", Usage: "half-close a connected socket and observe EOF on the peer", Action: runScenario(scenarioShutdownWrite)},
		{Name: "fork-wait", Usage: "Exec a child and WaitChild on it", Action: runScenario(scenarioForkWait)},
		{Name: "thread-join", Usage: "CreateThread, then ThreadJoin its exit value", Action: runScenario(scenarioThreadJoin)},
	}

	if err := myApp.Run(os.Args); err != nil {
		checkError(err)
	}
}

// scenario is one self-contained demonstration against a fresh Kernel.
type scenario func(k *kernel.Kernel, config Config) error

// runScenario adapts a scenario into a cli.Command's Action: it builds
// the shared Config from flags (optionally overridden by -c), redirects
// logging, and runs the scenario against a fresh kernel.New().
func runScenario(s scenario) cli.ActionFunc {
	return func(c *cli.Context) error {
		config := Config{
			TimeoutMs:   c.GlobalInt("timeoutms"),
			Port:        c.GlobalInt("port"),
			MessageSize: c.GlobalInt("messagesize"),
			Log:         c.GlobalString("log"),
			Quiet:       c.GlobalBool("quiet"),
		}
		if c.GlobalString("c") != "" {
			if err := parseJSONConfig(&config, c.GlobalString("c")); err != nil {
				return errors.Wrap(err, "parseJSONConfig")
			}
		}

		if config.Log != "" {
			f, err := os.OpenFile(config.Log, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
			if err != nil {
				return errors.Wrap(err, "open log file")
			}
			defer f.Close()
			log.SetOutput(f)
			kernel.SetLogger(log.New(f, "", log.LstdFlags|log.Lshortfile))
		}

		status(config, "running %s", c.Command.Name)
		k := kernel.New()
		start := time.Now()
		if err := s(k, config); err != nil {
			color.Red("FAILED: %+v", err)
			return err
		}
		status(config, "%s ok (%s)", c.Command.Name, time.Since(start))
		return nil
	}
}

func status(config Config, format string, args ...interface{}) {
	if config.Quiet {
		return
	}
	fmt.Println(color.GreenString(format, args...))
}

func checkError(err error) {
	if err != nil {
		log.Printf("%+v\n", err)
		os.Exit(-1)
	}
}
