package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"camshare/internal/camera"
	"camshare/internal/device"
	"camshare/internal/logging"
)

var devicesJSON bool

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "接続されているV4L2デバイスを一覧表示する",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		m := device.NewManager(camera.NewDefaultRegistry(), camera.NewLinuxDiscovery(), logging.Nop())

		devices, err := m.Discover(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if devicesJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(devices)
		}

		if len(devices) == 0 {
			fmt.Fprintln(out, "デバイスが見つかりません")
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "DEVICE\tNAME\tDRIVER\tFORMATS\tMAX RESOLUTION")
		for _, d := range devices {
			maxRes := "-"
			if n := len(d.Resolutions); n > 0 {
				maxRes = fmt.Sprintf("%dx%d", d.Resolutions[n-1].Width, d.Resolutions[n-1].Height)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", d.Device, d.Name, d.Driver, strings.Join(d.Formats, ","), maxRes)
		}
		return w.Flush()
	},
}

func init() {
	devicesCmd.Flags().BoolVar(&devicesJSON, "json", false, "JSON形式で出力する")
}
