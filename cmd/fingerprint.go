package cmd

import (
	"fmt"
	"os"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/tapwise/api/schemas"
	"github.com/xkilldash9x/tapwise/internal/fingerprint"
)

func newFingerprintCmd() *cobra.Command {
	var asJSON bool
	fpCmd := &cobra.Command{
		Use:   "fingerprint <capture.png>...",
		Short: "Print the screen fingerprint of saved captures",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			type row struct {
				File        string             `json:"file"`
				Fingerprint string             `json:"fingerprint"`
				Size        schemas.ScreenSize `json:"size"`
			}
			rows := make([]row, 0, len(args))
			for _, path := range args {
				expanded, err := homedir.Expand(path)
				if err != nil {
					return err
				}
				f, err := os.Open(expanded)
				if err != nil {
					return fmt.Errorf("failed to open capture: %w", err)
				}
				img, err := fingerprint.Decode(f)
				f.Close()
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				rows = append(rows, row{File: path, Fingerprint: fingerprint.Fingerprint(img, nil), Size: schemas.ScreenSizeOf(img)})
			}

			if asJSON {
				return printJSON(cmd.OutOrStdout(), rows)
			}
			for _, r := range rows {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s\n", r.Fingerprint, r.Size, r.File)
			}
			return nil
		},
	}
	fpCmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of text")
	return fpCmd
}
