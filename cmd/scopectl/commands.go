package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/theckman/yacspin"

	"github.com/nasa-jpl/scopehost/comm"
	"github.com/nasa-jpl/scopehost/dds"
	"github.com/nasa-jpl/scopehost/oscilloscope"
	"github.com/nasa-jpl/scopehost/scope"
	"github.com/nasa-jpl/scopehost/sweep"
	"github.com/nasa-jpl/scopehost/util"
)

var listUSB bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List serial ports, marking the instrument",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := comm.List()
		if err != nil {
			return err
		}
		printPorts(cmd.OutOrStdout(), ports)
		if listUSB {
			info, err := comm.ProbeUSB()
			if err != nil {
				fmt.Fprintln(cmd.OutOrStdout(), warn("usb:"), err)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s serial %s\n", ok("usb:"), info.Manufacturer, info.Product, info.Serial)
		}
		return nil
	},
}

func init() {
	listCmd.Flags().BoolVar(&listUSB, "usb", false, "also probe the USB bus for the instrument")
}

func printPorts(w io.Writer, ports []comm.PortInfo) {
	if len(ports) == 0 {
		fmt.Fprintln(w, warn("no serial ports"))
		return
	}
	for _, p := range ports {
		line := p.Name
		if p.USB {
			line += fmt.Sprintf("  %s:%s %s", p.VID, p.PID, p.Product)
		}
		if p.Instrument() {
			line = ok(line + "  <- oscilloscope")
		}
		fmt.Fprintln(w, line)
	}
}

var (
	capCount int
	capGain1 int
	capGain2 int
	capRate  int
	capMode  string
	capTrig  string
	capCSV   string
	capFFT   bool
	capFITS  string
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture frames and print their measurements",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := oscilloscope.DefaultConfig()
		cfg.SampleRate = capRate
		cfg.CH1Gain, cfg.CH2Gain = capGain1, capGain2
		var err error
		if cfg.Mode, err = oscilloscope.ParseMode(capMode); err != nil {
			return err
		}
		if cfg.TrigSource, err = oscilloscope.ParseTriggerSource(capTrig); err != nil {
			return err
		}
		ctl, err := connect()
		if err != nil {
			return err
		}
		defer ctl.Close()
		if err := ctl.Configure(cfg); err != nil {
			return err
		}
		events, cancel := ctl.Subscribe(8)
		defer cancel()
		out := cmd.OutOrStdout()
		for i := 0; i < capCount; i++ {
			if err := ctl.Single(); err != nil {
				return err
			}
			ev, err := awaitFrame(events)
			if err != nil {
				return err
			}
			printFrame(out, ev)
		}
		if capCSV != "" {
			if err := export(capCSV, func(w io.Writer) error {
				return ctl.ExportCSV(w, oscilloscope.CSVOptions{Spectrum: capFFT})
			}); err != nil {
				return err
			}
		}
		if capFITS != "" {
			return export(capFITS, ctl.ExportFITS)
		}
		return nil
	},
}

func init() {
	f := captureCmd.Flags()
	f.IntVarP(&capCount, "count", "n", 1, "number of frames")
	gains := util.IntSliceToCSV(oscilloscope.Gains[:])
	f.IntVar(&capGain1, "gain1", 1, "CH1 gain: "+gains)
	f.IntVar(&capGain2, "gain2", 1, "CH2 gain: "+gains)
	f.IntVarP(&capRate, "rate", "r", 4, "sample rate index, 1 (2 MS/s) to 14 (100 S/s)")
	f.StringVarP(&capMode, "mode", "m", "both", "channels: both, ch1, ch2")
	f.StringVarP(&capTrig, "trigger", "t", "auto", "trigger source: auto, ch1, ch2, external")
	f.StringVar(&capCSV, "csv", "", "write the last frame to this CSV file")
	f.BoolVar(&capFFT, "fft", false, "append the spectrum to the CSV file")
	f.StringVar(&capFITS, "fits", "", "write the last frame to this FITS file")
}

// awaitFrame waits out the frame, reporting warnings on the way
func awaitFrame(events <-chan scope.Event) (scope.Event, error) {
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-events:
			switch ev.Kind {
			case scope.EventFrame:
				return ev, nil
			case scope.EventTriggerWarning:
				fmt.Fprintln(os.Stderr, warn("warning:"), ev.Message)
			case scope.EventTimeout, scope.EventPortError:
				return ev, ev.Err
			}
		case <-deadline:
			return scope.Event{}, errors.New("no frame before --timeout")
		}
	}
}

func printFrame(w io.Writer, ev scope.Event) {
	fmt.Fprintf(w, "frame %d, %d samples at %.0f S/s\n", ev.Waveform.Seq, ev.Waveform.Len(), ev.Waveform.Config.Rate().PerSecond)
	for i, m := range ev.Measurements {
		if len(ev.Waveform.Channel(i)) == 0 {
			continue
		}
		fmt.Fprintf(w, "  CH%d  max %7.3f V  min %7.3f V  pk-pk %7.3f V  mean %7.3f V  f %9.2f Hz\n",
			i+1, m.Max, m.Min, m.PkPk, m.Mean, m.Frequency)
	}
}

func export(path string, enc func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := enc(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

var ddsArbitrary string

var ddsCmd = &cobra.Command{
	Use:   "dds <waveform> <frequency>",
	Short: "Program the waveform generator",
	Long: `dds programs the waveform generator.  waveform is one of sine, square,
triangle, rampup, rampdown, or arbitrary; arbitrary needs --file.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		wf, err := dds.ParseWaveform(args[0])
		if err != nil {
			return err
		}
		f, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return err
		}
		ctl, err := connect()
		if err != nil {
			return err
		}
		defer ctl.Close()
		if ddsArbitrary != "" {
			fh, err := os.Open(ddsArbitrary)
			if err != nil {
				return err
			}
			tbl, err := dds.LoadCSV(fh)
			fh.Close()
			if err != nil {
				return err
			}
			if err := ctl.SetArbitrary(tbl); err != nil {
				return err
			}
		}
		plan, err := ctl.DDS(wf, f)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s: period %d, %d samples, realized %.3f Hz (%.3f%%)\n",
			ok("programmed"), wf, plan.TimerPeriod, plan.SampleCount, plan.Realized(), 100*plan.RelativeError())
		return nil
	},
}

func init() {
	ddsCmd.Flags().StringVarP(&ddsArbitrary, "file", "f", "", "CSV file holding the arbitrary waveform")
}

var (
	swStart  float64
	swEnd    float64
	swPoints int
	swDelay  time.Duration
	swOut    string
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run a Bode sweep, generator on CH1 and the network output on CH2",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p := sweep.Params{Start: swStart, End: swEnd, Points: swPoints, Delay: swDelay}
		if err := p.Validate(); err != nil {
			return err
		}
		ctl, err := connect()
		if err != nil {
			return err
		}
		defer ctl.Close()

		spinner, err := yacspin.New(yacspin.Config{
			Frequency:         100 * time.Millisecond,
			CharSet:           yacspin.CharSets[11],
			Suffix:            " sweeping",
			SuffixAutoColon:   true,
			StopCharacter:     "✓",
			StopColors:        []string{"fgGreen"},
			StopFailCharacter: "✗",
			StopFailColors:    []string{"fgRed"},
		})
		if err != nil {
			return err
		}
		events, cancel := ctl.Subscribe(32)
		defer cancel()
		go func() {
			for ev := range events {
				if ev.Kind == scope.EventSweepProgress {
					spinner.Message(fmt.Sprintf("%d/%d at %.1f Hz", ev.Progress.Index, ev.Progress.Total, ev.Progress.Frequency))
				}
			}
		}()
		spinner.Start()
		res, err := ctl.Sweep(cmd.Context(), p)
		if err != nil && !errors.Is(err, sweep.ErrAborted) {
			spinner.StopFail()
			return err
		}
		spinner.Stop()
		if err != nil {
			fmt.Fprintln(os.Stderr, warn("sweep aborted,"), res.Len(), "points")
		}
		if swOut != "" {
			return export(swOut, func(w io.Writer) error { return res.EncodeCSV(w, time.Now()) })
		}
		return res.EncodeCSV(cmd.OutOrStdout(), time.Now())
	},
}

func init() {
	f := sweepCmd.Flags()
	f.Float64Var(&swStart, "start", 100, "start frequency, Hz")
	f.Float64Var(&swEnd, "end", 10000, "end frequency, Hz")
	f.IntVar(&swPoints, "points", 50, "number of log-spaced points")
	f.DurationVar(&swDelay, "delay", 100*time.Millisecond, "pause between points")
	f.StringVarP(&swOut, "out", "o", "", "write the Bode CSV here instead of stdout")
}

var digitalCmd = &cobra.Command{
	Use:   "digital",
	Short: "Digital inputs, outputs, and frequency generator",
}

var digitalInCmd = &cobra.Command{
	Use:   "in",
	Short: "Read the four digital inputs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctl, err := connect()
		if err != nil {
			return err
		}
		defer ctl.Close()
		ctx, cancel := withTimeout(cmd)
		defer cancel()
		in, err := ctl.ReadDigital(ctx)
		if err != nil {
			return err
		}
		for i, level := range in {
			s := bad("low")
			if level {
				s = ok("high")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "D%d %s\n", i, s)
		}
		return nil
	},
}

var digitalOutCmd = &cobra.Command{
	Use:   "out <mask>",
	Short: "Set the four digital outputs from a mask, e.g. 0x5",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mask, err := strconv.ParseUint(args[0], 0, 4)
		if err != nil {
			return err
		}
		ctl, err := connect()
		if err != nil {
			return err
		}
		defer ctl.Close()
		return ctl.DigitalOut(byte(mask))
	},
}

var digitalPulseCmd = &cobra.Command{
	Use:   "pulse <bit>",
	Short: "Raise one digital output for 200 ms",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bit, err := strconv.Atoi(args[0])
		if err != nil {
			return err
		}
		ctl, err := connect()
		if err != nil {
			return err
		}
		defer ctl.Close()
		if err := ctl.PulseDigital(bit); err != nil {
			return err
		}
		// hold the port open until the pulse ends
		time.Sleep(300 * time.Millisecond)
		return nil
	},
}

var digitalFreqCmd = &cobra.Command{
	Use:   "freq <hz>",
	Short: "Start the digital frequency generator",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fd, err := strconv.Atoi(args[0])
		if err != nil {
			return err
		}
		ctl, err := connect()
		if err != nil {
			return err
		}
		defer ctl.Close()
		plan, err := ctl.DigitalFrequency(fd)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s count %d divider %d, realized %.3f Hz\n",
			ok("programmed"), plan.Count, plan.Divider(), plan.Realized())
		return nil
	},
}

func init() {
	digitalCmd.AddCommand(digitalInCmd, digitalOutCmd, digitalPulseCmd, digitalFreqCmd)
}

var signatureCmd = &cobra.Command{
	Use:   "signature",
	Short: "Print the instrument's identification string",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctl, err := connect()
		if err != nil {
			return err
		}
		defer ctl.Close()
		ctx, cancel := withTimeout(cmd)
		defer cancel()
		sig, err := ctl.Signature(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), sig)
		return nil
	},
}
