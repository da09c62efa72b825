// Package hostcmd is the imu-host command line: run the firmware loop
// against simulated hardware, drive a real hub from a Linux I2C bus, and
// manage the tool's configuration.
package hostcmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"imuglasses/drivers/bno08x"
	"imuglasses/internal/embdi2c"
	"imuglasses/internal/metrics"
	"imuglasses/internal/probe"
	"imuglasses/internal/sim"
	"imuglasses/services/config"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	"tinygo.org/x/drivers"
)

var RootCmd = &cobra.Command{
	Use:   AppName,
	Short: "host tools for the IMU glasses firmware",
	Long:  "host tools for the IMU glasses firmware",
}

func commonFlags(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "configuration file path")
	cmd.Flags().Bool("debug", false, "toggle debug logging")
	cmd.Flags().String("device", DefaultDevice, "embedded board configuration")
}

func SimCmdFlags(cmd *cobra.Command) {
	commonFlags(cmd)
	cmd.Flags().String("listen", DefaultListen, "metrics listen address, empty disables")
	cmd.Flags().Bool("samples", false, "log every notification (with --debug)")
	cmd.Flags().Int("duration-ms", 0, "stop after this long, 0 runs until interrupted")
	cmd.Flags().Int("connect-after-ms", 1000, "connect the simulated central after this long, 0 never")
	cmd.Flags().Int("rate-ms", 0, "sample period the central writes after subscribing")
}

var SimCmd = &cobra.Command{
	Use:        "sim",
	SuggestFor: []string{"simu", "run"},
	Short:      "run the firmware loop against a simulated hub and central",
	Long: `sim runs the firmware main loop with a simulated BNO085 spinning about Z
and a scripted BLE central that connects, subscribes to every notifying
characteristic and optionally writes a sample period.
Loop counters and the latest sample are served as Prometheus metrics.`,
	Example: `  imu-host sim --duration-ms 5000
  imu-host sim --rate-ms 20 --debug --samples`,
	RunE: runSim,
}

func ProbeCmdFlags(cmd *cobra.Command) {
	commonFlags(cmd)
	cmd.Flags().String("bus", "sim", "hub location: sim or i2c")
	cmd.Flags().Int("i2c-bus", 1, "Linux I2C bus number for --bus i2c")
}

var ProbeCmd = &cobra.Command{
	Use:        "probe",
	SuggestFor: []string{"pro", "prob"},
	Short:      "interactive BNO08x console",
	Long: `probe reads console commands from stdin and runs them against a BNO08x,
either simulated or on a Linux I2C bus. Type "help" for the command list.`,
	Example: `  imu-host probe
  echo -e "init\nenable 5 10\npoll 20" | imu-host probe --bus i2c --i2c-bus 1`,
	RunE: runProbe,
}

var BoardCmd = &cobra.Command{
	Use:   "board <device>",
	Short: "print an embedded board configuration as YAML",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fw, err := config.Load(args[0])
		if err != nil {
			return err
		}
		b, err := yaml.Marshal(fw)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(b)
		return err
	},
}

func InitCmdFlags(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "configuration file path")
	cmd.Flags().Bool("print", false, "print config to stdout")
	cmd.Flags().BoolP("yes", "y", false, "overwrite")
	cmd.Flags().StringP("output", "o", DefaultConfigPath, "output path")
}

var InitCmd = &cobra.Command{
	Use:   "init",
	Short: "create a configuration template",
	Long: `init writes the effective configuration as YAML.
With --print it goes to stdout, otherwise to --output (default
$HOME/.config/imu-host/config.yaml). An existing file is kept unless -y.`,
	RunE: runInit,
}

func getRootCmd() *cobra.Command {
	SimCmdFlags(SimCmd)
	RootCmd.AddCommand(SimCmd)

	ProbeCmdFlags(ProbeCmd)
	RootCmd.AddCommand(ProbeCmd)

	RootCmd.AddCommand(BoardCmd)

	InitCmdFlags(InitCmd)
	RootCmd.AddCommand(InitCmd)
	return RootCmd
}

func Execute() {
	if err := getRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func parse(cmd *cobra.Command) (Desc, config.Firmware, error) {
	var d Desc
	if err := d.Parse(cmd); err != nil {
		return d, config.Firmware{}, err
	}
	d.PostParse()
	fw, err := config.Load(d.Opt.Device)
	return d, fw, err
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runSim(cmd *cobra.Command, _ []string) error {
	d, fw, err := parse(cmd)
	if err != nil {
		return err
	}
	m := metrics.New(prometheus.NewRegistry())
	if d.Opt.Listen != "" {
		srv := &http.Server{Addr: d.Opt.Listen, Handler: metricsMux(m), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Errorln("metrics server")
			}
		}()
		defer srv.Close()
		log.WithField("addr", d.Opt.Listen).Infoln("serving /metrics")
	}

	s, err := NewSimulator(fw, d.Opt, m, nil)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{"device": fw.Device, "name": fw.BLE.Name}).Infoln("starting simulated firmware")
	if err := s.Init(); err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()
	if err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func metricsMux(m *metrics.Metrics) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return mux
}

func runProbe(cmd *cobra.Command, _ []string) error {
	d, fw, err := parse(cmd)
	if err != nil {
		return err
	}
	var bus drivers.I2C
	switch d.Opt.Bus.Kind {
	case "sim":
		bus = sim.NewBNO085(sim.Options{Address: fw.IMU.Address, Motion: sim.Spin(d.Opt.Sim.SpinRate)})
	case "i2c":
		i2c, err := embdi2c.Open(byte(d.Opt.Bus.Number))
		if err != nil {
			return err
		}
		defer i2c.Close()
		bus = i2c
	default:
		return fmt.Errorf("unknown bus %q", d.Opt.Bus.Kind)
	}
	log.WithFields(log.Fields{"bus": d.Opt.Bus.Kind, "address": fmt.Sprintf("%#x", fw.IMU.Address)}).Infoln("probe console")

	dev := bno08x.New(bus, bno08x.Config{Address: fw.IMU.Address})
	con := probe.New(dev, cmd.OutOrStdout())
	ctx, cancel := signalContext()
	defer cancel()
	err = con.Run(ctx, probe.NewLines(cmd.InOrStdin()))
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func runInit(cmd *cobra.Command, _ []string) error {
	printFlag, _ := cmd.Flags().GetBool("print")
	output, _ := cmd.Flags().GetString("output")
	overwrite, _ := cmd.Flags().GetBool("yes")

	var d Desc
	if err := d.Parse(cmd); err != nil {
		log.Errorln(err)
		return err
	}
	if printFlag {
		b, err := yaml.Marshal(d.Opt)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(b)
		return err
	}
	if err := Dump(d.Opt, output, overwrite); err != nil {
		return err
	}
	log.WithField("path", output).Infoln("configuration written")
	return nil
}
