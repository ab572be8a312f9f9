package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/takehaya/svpcap/pkg/logger"
	"github.com/takehaya/svpcap/pkg/svgen"
	"github.com/takehaya/svpcap/pkg/svpcap"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
	builtBy = "unknown"
)

func main() {
	app := newApp(version)
	if err := app.Run(os.Args); err != nil {
		log.Fatalf("%+v", err)
	}
}

func newApp(version string) *cli.App {
	app := cli.NewApp()
	app.Name = "svpcap"
	app.Version = fmt.Sprintf("%s, %s, %s, %s", version, commit, date, builtBy)

	app.Usage = "IEC 61850-9-2 sampled values pcap generator"

	app.EnableBashCompletion = true
	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "debug",
			Usage: "enable debug logging",
		},
		cli.BoolFlag{
			Name:  "quiet, q",
			Usage: "log warnings and errors only",
		},
		cli.BoolFlag{
			Name:  "log-json",
			Usage: "log in JSON format",
		},
		cli.BoolFlag{
			Name:  "no-color",
			Usage: "disable colored console logs",
		},
		cli.StringFlag{
			Name:  "log-file",
			Usage: "also write JSON logs to this file (rotated)",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:      "generate",
			Aliases:   []string{"gen"},
			Usage:     "generate a sampled values capture",
			ArgsUsage: "OUTPUT",
			Flags:     generateFlags(),
			Action:    runGenerate,
		},
		{
			Name:      "verify",
			Usage:     "read a capture back and check its records",
			ArgsUsage: "FILE",
			Action:    runVerify,
		},
	}
	return app
}

func generateFlags() []cli.Flag {
	d := svgen.DefaultParams()
	return []cli.Flag{
		cli.StringFlag{
			Name:   "config, c",
			Usage:  "YAML parameter file, flags override its values",
			EnvVar: "SVPCAP_CONFIG",
		},
		cli.StringFlag{
			Name:   "app-id, a",
			Value:  fmt.Sprintf("0x%04X", d.AppID),
			Usage:  "SV APPID, 0x4000-0x4FFF",
			EnvVar: "SVPCAP_APP_ID",
		},
		cli.Int64Flag{
			Name:   "start-id, s",
			Value:  d.StartID,
			Usage:  "first stream number",
			EnvVar: "SVPCAP_START_ID",
		},
		cli.Int64Flag{
			Name:   "streams, n",
			Value:  d.StreamCount,
			Usage:  "number of streams",
			EnvVar: "SVPCAP_STREAMS",
		},
		cli.StringFlag{
			Name:   "prefix, p",
			Value:  d.Prefix,
			Usage:  "svID prefix (ASCII)",
			EnvVar: "SVPCAP_PREFIX",
		},
		cli.IntFlag{
			Name:   "digits, d",
			Value:  d.Digits,
			Usage:  "zero padded width of the stream number",
			EnvVar: "SVPCAP_DIGITS",
		},
		cli.Int64Flag{
			Name:   "loop, l",
			Value:  d.Iterations,
			Usage:  "number of iterations (samples per stream)",
			EnvVar: "SVPCAP_LOOP",
		},
		cli.Float64Flag{
			Name:   "frequency, f",
			Value:  d.FrequencyHz,
			Usage:  "signal frequency in Hz",
			EnvVar: "SVPCAP_FREQUENCY",
		},
		cli.Float64Flag{
			Name:   "i-rms, i",
			Value:  d.CurrentRMS,
			Usage:  "current RMS in A",
			EnvVar: "SVPCAP_I_RMS",
		},
		cli.Float64Flag{
			Name:   "v-rms, v",
			Value:  d.VoltageRMS,
			Usage:  "voltage RMS in V",
			EnvVar: "SVPCAP_V_RMS",
		},
		cli.StringFlag{
			Name:   "dst-mac",
			Value:  d.DstMAC,
			Usage:  "destination MAC, must be in the SV multicast range",
			EnvVar: "SVPCAP_DST_MAC",
		},
		cli.StringFlag{
			Name:   "src-mac",
			Value:  d.SrcMAC,
			Usage:  "source MAC",
			EnvVar: "SVPCAP_SRC_MAC",
		},
		cli.IntFlag{
			Name:   "workers, w",
			Value:  d.Workers,
			Usage:  "generation workers, 0 means GOMAXPROCS",
			EnvVar: "SVPCAP_WORKERS",
		},
		cli.Int64Flag{
			Name:   "max-output-bytes",
			Value:  d.MaxOutputBytes,
			Usage:  "refuse to build captures larger than this, 0 disables the limit",
			EnvVar: "SVPCAP_MAX_OUTPUT_BYTES",
		},
	}
}

// loggerConfig reads SVPCAP_LOG_* first and lets the global flags win.
func loggerConfig(c *cli.Context) (logger.Config, error) {
	var lc logger.Config
	if err := envconfig.Process("svpcap_log", &lc); err != nil {
		return lc, errors.Wrap(err, "failed to read logger env")
	}
	if c.GlobalBool("debug") {
		lc.Verbose = 1
	}
	if c.GlobalBool("quiet") {
		lc.Quiet = true
	}
	if c.GlobalBool("log-json") {
		lc.JSON = true
	}
	if c.GlobalBool("no-color") {
		lc.NoColor = true
	}
	if f := c.GlobalString("log-file"); f != "" {
		lc.File = f
	}
	return lc, nil
}

// generateParams layers defaults, the optional YAML file and explicitly set flags.
func generateParams(c *cli.Context) (svgen.Params, error) {
	p := svgen.DefaultParams()
	if path := c.String("config"); path != "" {
		var err error
		if p, err = svgen.LoadParams(path); err != nil {
			return p, err
		}
	}

	if c.IsSet("app-id") {
		// 0x4000 も 16384 も受け付ける
		v, err := strconv.ParseInt(c.String("app-id"), 0, 64)
		if err != nil {
			return p, &svgen.ConfigError{
				Constraint: svgen.ConstraintAppID,
				Field:      "app id",
				Value:      c.String("app-id"),
				Reason:     "must be an integer",
			}
		}
		p.AppID = v
	}
	if c.IsSet("start-id") {
		p.StartID = c.Int64("start-id")
	}
	if c.IsSet("streams") {
		p.StreamCount = c.Int64("streams")
	}
	if c.IsSet("prefix") {
		p.Prefix = c.String("prefix")
	}
	if c.IsSet("digits") {
		p.Digits = c.Int("digits")
	}
	if c.IsSet("loop") {
		p.Iterations = c.Int64("loop")
	}
	if c.IsSet("frequency") {
		p.FrequencyHz = c.Float64("frequency")
	}
	if c.IsSet("i-rms") {
		p.CurrentRMS = c.Float64("i-rms")
	}
	if c.IsSet("v-rms") {
		p.VoltageRMS = c.Float64("v-rms")
	}
	if c.IsSet("dst-mac") {
		p.DstMAC = c.String("dst-mac")
	}
	if c.IsSet("src-mac") {
		p.SrcMAC = c.String("src-mac")
	}
	if c.IsSet("workers") {
		p.Workers = c.Int("workers")
	}
	if c.IsSet("max-output-bytes") {
		p.MaxOutputBytes = c.Int64("max-output-bytes")
	}
	return p, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runGenerate(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("generate requires exactly one OUTPUT argument")
	}
	lc, err := loggerConfig(c)
	if err != nil {
		return err
	}
	params, err := generateParams(c)
	if err != nil {
		return err
	}

	x, err := svpcap.NewSvPcap(svpcap.Config{
		LoggerConfig: lc,
		Params:       params,
		Output:       c.Args().First(),
	})
	if err != nil {
		return err
	}
	defer x.Close()

	ctx, stop := signalContext()
	defer stop()

	sum, err := x.Generate(ctx)
	if err != nil {
		return err
	}
	svpcap.PrintSummary(c.App.Writer, sum)
	return nil
}

func runVerify(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("verify requires exactly one FILE argument")
	}
	lc, err := loggerConfig(c)
	if err != nil {
		return err
	}

	x, err := svpcap.NewSvPcap(svpcap.Config{LoggerConfig: lc})
	if err != nil {
		return err
	}
	defer x.Close()

	ctx, stop := signalContext()
	defer stop()

	path := c.Args().First()
	rep, err := x.Verify(ctx, path)
	if err != nil {
		return err
	}
	svpcap.PrintReport(c.App.Writer, path, rep)
	return nil
}
