package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/opencontainers/go-digest"
	"github.com/spf13/cobra"

	"github.com/flaneur2020/vesper-bin/vesperbin/catalog"
	"github.com/flaneur2020/vesper-bin/vesperbin/format"
	"github.com/flaneur2020/vesper-bin/vesperbin/synth"
)

func newCatalogCmd() *cobra.Command {
	var path string
	open := func() (*catalog.Store, error) {
		if path == "" {
			path = cfg.CatalogPath
		}
		if path == "" {
			return nil, fmt.Errorf("no catalog: set catalog_path or --catalog")
		}
		return catalog.Open(path)
	}

	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect the catalog of converted containers",
	}
	cmd.PersistentFlags().StringVar(&path, "catalog", "", "Catalog database (overrides catalog_path)")

	lsCmd := &cobra.Command{
		Use:   "ls",
		Short: "List converted containers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := open()
			if err != nil {
				return err
			}
			defer store.Close()
			entries, err := store.List(context.Background())
			if err != nil {
				return err
			}
			fmt.Println(titleStyle.Render(fmt.Sprintf("%-19s  %-5s  %-10s  %8s  %-20s  %s", "CONVERTED", "KIND", "SESSION", "SAMPLES", "DIGEST", "PATH")))
			for _, e := range entries {
				warn := ""
				if e.Warnings > 0 {
					warn = warnStyle.Render(fmt.Sprintf("  (%d warnings)", e.Warnings))
				}
				fmt.Printf("%-19s  %-5s  %-10s  %8d  %-20s  %s%s\n",
					e.ConvertedAt.Format("2006-01-02 15:04:05"), e.Kind, e.Session, e.Samples,
					shortDigest(e.Digest), e.Path, warn)
			}
			return nil
		},
	}

	showCmd := &cobra.Command{
		Use:   "show <DIGEST>",
		Short: "Print the stored report of a container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dgst, err := digest.Parse(args[0])
			if err != nil {
				return fmt.Errorf("parse digest: %w", err)
			}
			store, err := open()
			if err != nil {
				return err
			}
			defer store.Close()
			rep, err := store.Report(context.Background(), dgst)
			if err != nil {
				return err
			}
			if rep == nil {
				return fmt.Errorf("%s is not in the catalog", dgst)
			}
			fmt.Println(rep.Format())
			return nil
		},
	}

	forgetCmd := &cobra.Command{
		Use:   "forget <DIGEST>",
		Short: "Remove a container so the next decode converts it again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dgst, err := digest.Parse(args[0])
			if err != nil {
				return fmt.Errorf("parse digest: %w", err)
			}
			store, err := open()
			if err != nil {
				return err
			}
			defer store.Close()
			return store.Forget(context.Background(), dgst)
		},
	}

	cmd.AddCommand(lsCmd, showCmd, forgetCmd)
	return cmd
}

func shortDigest(d digest.Digest) string {
	if err := d.Validate(); err != nil {
		return d.String()
	}
	enc := d.Encoded()
	if len(enc) > 12 {
		enc = enc[:12]
	}
	return d.Algorithm().String() + ":" + enc
}

func newSynthCmd() *cobra.Command {
	var (
		kind     string
		firmware uint16
		count    int
		start    string
		device   uint32
		gz       bool
	)
	cmd := &cobra.Command{
		Use:   "synth <OUTPUT>",
		Short: "Write a synthetic container for testing downstream tools",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := cfg.DecodeOptions()
			if err != nil {
				return err
			}
			prof, err := opts.Registry.Lookup(firmware)
			if err != nil {
				return err
			}
			t0, err := time.Parse(time.RFC3339, start)
			if err != nil {
				return fmt.Errorf("parse --start: %w", err)
			}

			spec := synth.Spec{Profile: *prof, DeviceID: device, Start: t0.UTC()}
			var raw []byte
			switch strings.ToLower(kind) {
			case "imu":
				spec.Sensor, spec.SampleRate = "IMU10", 50
				packets := make([]synth.Packet, count)
				for i := range packets {
					phase := float32(i%50) / 50
					packets[i] = synth.Packet{
						Accel:       [3]float32{10 * phase, -5, 1000},
						Gyro:        [3]float32{0.5, phase, 0},
						Mag:         [3]float32{220, -40, 410},
						Temperature: 18.5,
						Time:        spec.Start.Add(time.Duration(i) * 20 * time.Millisecond),
					}
				}
				raw = synth.IMUContainer(spec, packets)
			case "audio", "aud":
				spec.Sensor, spec.SampleRate = "AUD", 48000
				raw = synth.AudioContainer(spec, synth.Tone(count, 48000, 440, 8000))
			default:
				return fmt.Errorf("unknown kind %q, want imu or audio", kind)
			}

			if gz {
				var buf bytes.Buffer
				zw := gzip.NewWriter(&buf)
				if _, err := zw.Write(raw); err != nil {
					return err
				}
				if err := zw.Close(); err != nil {
					return err
				}
				raw = buf.Bytes()
			}
			if err := os.WriteFile(args[0], raw, 0644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s (%d bytes, %s)\n", args[0], len(raw), digest.FromBytes(raw))
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "imu", "Stream kind: imu or audio")
	cmd.Flags().Uint16Var(&firmware, "firmware", format.FW112.Firmware, "Firmware profile")
	cmd.Flags().IntVar(&count, "count", 1000, "IMU packets or audio samples to write")
	cmd.Flags().StringVar(&start, "start", "2025-09-29T07:34:51Z", "Start time (RFC 3339)")
	cmd.Flags().Uint32Var(&device, "device", 0x4764505D, "Device id")
	cmd.Flags().BoolVar(&gz, "gzip", false, "Gzip the container")
	return cmd
}
