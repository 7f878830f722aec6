package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/flaneur2020/vesper-bin/vesperbin/audio"
	"github.com/flaneur2020/vesper-bin/vesperbin/container"
	"github.com/flaneur2020/vesper-bin/vesperbin/format"
	"github.com/flaneur2020/vesper-bin/vesperbin/imu"
)

func newInspectCmd() *cobra.Command {
	var (
		hexLen  int
		offset  int64
		packets int
		block   int
	)
	cmd := &cobra.Command{
		Use:   "inspect <FILE>",
		Short: "Show the header of a container and dump raw bytes around the payload start",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if hexLen < 0 || packets < 0 {
				return fmt.Errorf("--hex and --data must not be negative")
			}
			return runInspect(args[0], hexLen, offset, packets, block)
		},
	}
	cmd.Flags().IntVar(&hexLen, "hex", 256, "Bytes to hex dump")
	cmd.Flags().Int64Var(&offset, "offset", 0, "Offset of the hex dump")
	cmd.Flags().IntVar(&packets, "data", 0, "Decode the first N IMU packets after the header")
	cmd.Flags().IntVar(&block, "block", -1, "Locate block N and decode its footer")
	return cmd
}

func openContainer(path string) (*os.File, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, st.Size(), nil
}

func runInspect(path string, hexLen int, offset int64, packets int, block int) error {
	opts, err := cfg.DecodeOptions()
	if err != nil {
		return err
	}
	f, size, err := openContainer(path)
	if err != nil {
		return err
	}
	defer f.Close()

	ins, err := container.Inspect(f, size, opts.Registry, offset, hexLen)
	if err != nil {
		return err
	}

	fmt.Println(titleStyle.Render("CONTAINER " + path))
	printField("Size", fmt.Sprintf("%d bytes", ins.Size))
	if ins.HeaderErr != nil {
		fmt.Println(errorStyle.Render("header rejected: ") + ins.HeaderErr.Error())
	}
	if h := ins.Header; h != nil {
		printHeader(h)
	}

	fmt.Println()
	fmt.Println(titleStyle.Render("RAW BYTES"))
	if err := container.HexDump(os.Stdout, ins.Window, ins.WindowOffset, int64(format.HeaderV1.Size)); err != nil {
		return err
	}

	h := ins.Header
	if packets > 0 {
		if h == nil || h.Stream != format.StreamIMU {
			return fmt.Errorf("--data needs a valid IMU container")
		}
		start := int64(h.Profile.Header.Size)
		payload, err := container.Window(f, size, start, packets*h.Profile.Packet.Size)
		if err != nil {
			return err
		}
		fmt.Println()
		fmt.Println(titleStyle.Render("FIRST PACKETS"))
		printPackets(imu.PeekPackets(payload, start, h.Profile, packets))
	}

	if block >= 0 {
		if h == nil {
			return fmt.Errorf("--block needs a valid header")
		}
		info, err := container.InspectBlock(f, size, h, block)
		if err != nil {
			return err
		}
		fmt.Println()
		fmt.Println(titleStyle.Render(fmt.Sprintf("BLOCK %d", info.Index)))
		printBlock(info)
	}
	return nil
}

func printHeader(h *container.Header) {
	printField("Device ID", h.DeviceIDHex())
	printField("Sensor", fmt.Sprintf("%s (%s stream)", h.Sensor, h.Stream))
	printField("Firmware", fmt.Sprintf("%d (%s)", h.Firmware, h.Profile))
	printField("Sample rate", fmt.Sprintf("%d Hz", h.SampleRate))
	printField("Bitmask", fmt.Sprintf("%X", h.Bitmask))
	for i, c := range h.Config {
		printField(fmt.Sprintf("Config%d", i), fmt.Sprintf("%X", c))
	}
	printField("Sync word", fmt.Sprintf("%08X", h.SyncWord))
	if h.StartErr != nil {
		printField("Start", warnStyle.Render("unreadable: "+h.StartErr.Error()))
	} else {
		printField("Start", h.Start.Format("2006-01-02 15:04:05"))
	}
	printField("Block size", fmt.Sprintf("%d bytes", h.Profile.BlockSize(h.Stream)))
	if h.Stream == format.StreamAudio {
		printField("Startup trim", fmt.Sprintf("%s (%d samples)", h.Profile.StartupTrim, h.Profile.TrimSamples(int(h.SampleRate))))
	}
}

func printPackets(peeked []imu.Peeked) {
	for _, p := range peeked {
		if p.Err != nil {
			fmt.Printf("%-8d %s\n", p.Offset, errorStyle.Render(p.Err.Error()))
			continue
		}
		s := p.Sample
		fmt.Printf("%-8d %s  acc=%.1f,%.1f,%.1f gyr=%.2f,%.2f,%.2f mag=%.1f,%.1f,%.1f temp=%.2f\n",
			p.Offset, s.Time.Format("2006-01-02 15:04:05.000"),
			s.Accel[0], s.Accel[1], s.Accel[2],
			s.Gyro[0], s.Gyro[1], s.Gyro[2],
			s.Mag[0], s.Mag[1], s.Mag[2],
			s.Temperature)
	}
}

func printBlock(info *container.BlockInfo) {
	printField("Offset", info.Offset)
	printField("Length", info.Length)
	if info.Truncated {
		printField("Truncated", warnStyle.Render("yes"))
	}
	if info.FooterRaw == nil {
		return
	}
	printField("Footer", fmt.Sprintf("% X", info.FooterRaw))
	if info.FooterErr != nil {
		printField("", errorStyle.Render(info.FooterErr.Error()))
		return
	}
	printField("Time", info.Footer.Time.Format("2006-01-02 15:04:05.000"))
	printField("Sequence", info.Footer.Sequence)
	printField("Ticks", fmt.Sprintf("%d ms", info.Footer.Ticks))
}

func newDiagnoseCmd() *cobra.Command {
	var (
		threshold  int
		debounce   int
		hexContext int
	)
	cmd := &cobra.Command{
		Use:   "diagnose <FILE>",
		Short: "Scan the raw audio payload for periodic clicks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if hexContext < 0 {
				return fmt.Errorf("--context must not be negative")
			}
			return runDiagnose(args[0], audio.ClickOptions{Threshold: threshold, Debounce: debounce}, hexContext)
		},
	}
	cmd.Flags().IntVar(&threshold, "threshold", audio.DefaultTolerance, "Amplitude jump counted as a click")
	cmd.Flags().IntVar(&debounce, "debounce", 100, "Jumps closer than this many samples are one click")
	cmd.Flags().IntVar(&hexContext, "context", 64, "Bytes of hex context shown around the first click")
	return cmd
}

func runDiagnose(path string, opts audio.ClickOptions, hexContext int) error {
	f, size, err := openContainer(path)
	if err != nil {
		return err
	}
	defer f.Close()

	headerSize := int64(format.HeaderV1.Size)
	if size <= headerSize {
		return fmt.Errorf("%s has no payload", path)
	}
	payload, err := container.Window(f, size, headerSize, int(size-headerSize))
	if err != nil {
		return err
	}
	opts.Base = headerSize
	rep := audio.DetectClicks(payload, opts)

	fmt.Println(titleStyle.Render("CLICK DIAGNOSIS " + path))
	printField("Samples", rep.Samples)
	printField("Raw jumps", rep.RawJumps)
	printField("Clicks", len(rep.Clicks))
	if len(rep.Clicks) == 0 {
		fmt.Println(okStyle.Render("no clicks above the threshold"))
		return nil
	}
	for i, c := range rep.Clicks {
		if i == 10 {
			fmt.Printf("  ... %d more\n", len(rep.Clicks)-i)
			break
		}
		fmt.Printf("  sample %-10d byte %-10d jump %d\n", c.Index, c.Offset, c.Jump)
	}
	if len(rep.Intervals) > 0 {
		printField("Mean interval", fmt.Sprintf("%.0f bytes", rep.Mean))
	}
	diagnosis := rep.Diagnosis.String()
	if rep.Diagnosis == audio.DiagnosisNone {
		fmt.Println(okStyle.Render(diagnosis))
	} else {
		fmt.Println(warnStyle.Render(diagnosis))
	}

	first := rep.Clicks[0].Offset
	start := first - int64(hexContext)
	if start < headerSize {
		start = headerSize
	}
	window, err := container.Window(f, size, start, 2*hexContext)
	if err != nil {
		return err
	}
	fmt.Println()
	fmt.Println(titleStyle.Render(fmt.Sprintf("CONTEXT AROUND BYTE %d", first)))
	return container.HexDump(os.Stdout, window, start, -1)
}
