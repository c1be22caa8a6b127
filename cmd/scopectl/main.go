// Command scopectl drives a USB oscilloscope from the command line
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nasa-jpl/scopehost/calib"
	"github.com/nasa-jpl/scopehost/scope"
)

var (
	portName    string
	calibration string
	mock        bool
	lowPass     bool
	timeout     time.Duration

	ok   = color.New(color.FgGreen).SprintFunc()
	warn = color.New(color.FgYellow).SprintFunc()
	bad  = color.New(color.FgRed).SprintFunc()
)

var rootCmd = &cobra.Command{
	Use:   "scopectl",
	Short: "Drive a two channel USB oscilloscope",
	Long: `scopectl captures waveforms, programs the waveform generator, runs Bode
sweeps, and works the digital IO of a two channel USB oscilloscope.

The instrument is found by its USB IDs unless --port names a serial device
or a host:port TCP bridge.  --mock talks to a simulated instrument.`,
	SilenceUsage: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&portName, "port", "p", "", "serial device or host:port bridge, auto-detect if empty")
	pf.StringVar(&calibration, "calibration", "", "calibration YAML file")
	pf.BoolVar(&mock, "mock", false, "use a simulated instrument")
	pf.BoolVar(&lowPass, "lowpass", false, "low-pass filter every frame")
	pf.DurationVar(&timeout, "timeout", 10*time.Second, "give up on a command after this long")

	rootCmd.AddCommand(listCmd, captureCmd, ddsCmd, sweepCmd, digitalCmd, signatureCmd)
}

// connect opens the instrument named by the persistent flags
func connect() (*scope.Controller, error) {
	opts := scope.DefaultOptions()
	if calibration != "" {
		k, err := calib.LoadYaml(calibration)
		if err != nil {
			return nil, fmt.Errorf("calibration %s: %w", calibration, err)
		}
		opts.Pipeline.Constants = k
	}
	opts.Pipeline.LowPass = lowPass
	ctl := scope.New(opts)
	var err error
	if mock {
		err = ctl.ConnectPort(scope.NewSimulator())
	} else {
		err = ctl.Connect(portName)
	}
	if err != nil {
		ctl.Close()
		return nil, err
	}
	return ctl, nil
}

// withTimeout bounds a command by the --timeout flag
func withTimeout(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), timeout)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, bad("error:"), err)
		os.Exit(1)
	}
}
