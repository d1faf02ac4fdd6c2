package cli

import (
	"encoding/json"
	"fmt"
	"net/url"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/beeunity/beeunity/client/internal/api"
	"github.com/beeunity/beeunity/client/internal/models"
)

func newHivesCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "hives [hive_id]",
		Short: "List hives, or show the health of one hive",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			path := "/api/v1/hives"
			if len(args) == 1 {
				path += "/" + url.PathEscape(args[0]) + "/health"
			}
			var raw json.RawMessage
			if err := o.client.Get(cmd.Context(), path, &raw); err != nil {
				return err
			}
			if o.json {
				return printJSON(out, raw)
			}

			if len(args) == 1 {
				var hh api.HiveHealth
				if err := json.Unmarshal(raw, &hh); err != nil {
					return fmt.Errorf("parse hive health: %w", err)
				}
				printHiveHealth(cmd, &hh)
				return nil
			}

			var hives []models.Hive
			if err := json.Unmarshal(raw, &hives); err != nil {
				return fmt.Errorf("parse hives: %w", err)
			}
			if len(hives) == 0 {
				fmt.Fprintln(out, "No hives yet.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tWARD\tSENSOR")
			for _, h := range hives {
				ward := h.WardName
				if ward == "" {
					ward = h.WardID
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n", h.ID, h.Name, ward, h.HasSensor)
			}
			return tw.Flush()
		},
	}
}

func printHiveHealth(cmd *cobra.Command, hh *api.HiveHealth) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Hive: %s\n", hh.HiveID)
	if in := hh.LastInspection; in != nil {
		queen := "unknown"
		if in.QueenPresent != nil {
			queen = fmt.Sprintf("%t", *in.QueenPresent)
		}
		fmt.Fprintf(out, "  Last inspection: %s (queen present: %s)\n", nameOr(in.InspectedAt, "-"), queen)
	} else {
		fmt.Fprintln(out, "  Last inspection: none")
	}
	if y := hh.LatestYield; y != nil && y.YieldKG != nil {
		fmt.Fprintf(out, "  Latest yield:    %.1f kg (%s)\n", *y.YieldKG, nameOr(y.Source, "manual"))
	} else {
		fmt.Fprintln(out, "  Latest yield:    none")
	}
	fmt.Fprintf(out, "  Active alerts:   %d\n", len(hh.Alerts))
	for _, a := range hh.Alerts {
		fmt.Fprintf(out, "    - [%s] %s\n", a.AlertType, a.Message)
	}
}

func newWardsCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "wards",
		Short: "List wards",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			var raw json.RawMessage
			if err := o.client.Get(cmd.Context(), "/api/v1/wards", &raw); err != nil {
				return err
			}
			if o.json {
				return printJSON(out, raw)
			}
			var wards []models.Ward
			if err := json.Unmarshal(raw, &wards); err != nil {
				return fmt.Errorf("parse wards: %w", err)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tCOUNTY")
			for _, w := range wards {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", w.ID, w.Name, w.County)
			}
			return tw.Flush()
		},
	}
}

func newOverviewCmd(o *options) *cobra.Command {
	var ward string

	cmd := &cobra.Command{
		Use:   "overview",
		Short: "Show the ward dashboard",
		Long:  "Shows latest climate, boundary availability and hives for a ward. Defaults to the ward in your profile.",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			path := "/api/v1/overview"
			if ward != "" {
				path += "?" + url.Values{"ward_id": {ward}}.Encode()
			}
			var raw json.RawMessage
			if err := o.client.Get(cmd.Context(), path, &raw); err != nil {
				return err
			}
			if o.json {
				return printJSON(out, raw)
			}
			var ov api.WardOverview
			if err := json.Unmarshal(raw, &ov); err != nil {
				return fmt.Errorf("parse overview: %w", err)
			}

			fmt.Fprintf(out, "Ward: %s\n", ov.WardID)
			switch {
			case ov.Climate != nil:
				fmt.Fprintf(out, "  Climate (%s): temp %s, rain %s mm, humidity %s\n",
					ov.Climate.Date, num(ov.Climate.TempMean), num(ov.Climate.RainfallMM), num(ov.Climate.HumidityMean))
			default:
				fmt.Fprintf(out, "  Climate: %s\n", ov.ClimateStatus)
			}
			polygons := 0
			if ov.Boundary != nil {
				polygons = len(ov.Boundary.Polygons)
			}
			fmt.Fprintf(out, "  Boundary: %s (%d polygons)\n", ov.BoundaryStatus, polygons)
			fmt.Fprintf(out, "  Hives: %d (%s)\n", len(ov.Hives), ov.HivesStatus)
			for _, h := range ov.Hives {
				fmt.Fprintf(out, "    - %s %s\n", h.ID, h.Name)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&ward, "ward", "", "ward id (defaults to the profile ward)")
	return cmd
}

func num(f *float64) string {
	if f == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f", *f)
}
