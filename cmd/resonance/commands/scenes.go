package commands

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/spf13/cobra"

	"github.com/NatureBlueee/Towow-sub000/core"
)

var (
	sceneKStar    int
	sceneLens     string
	sceneMin      int
	sceneTimeout  time.Duration
	sceneAdaptive bool
)

// ScenesCmd groups scene management.
var ScenesCmd = &cobra.Command{
	Use:   "scenes",
	Short: "Manage scenes",
}

var scenesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scenes",
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Scenes  []core.Scene `json:"scenes"`
			Default core.Scene   `json:"default"`
		}
		if _, err := newClient().do(http.MethodGet, "/api/scenes", nil, &resp); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Default: k*=%d min_responders=%d collect_timeout=%s\n",
			resp.Default.KStar, resp.Default.MinResponders, resp.Default.CollectTimeout)
		for _, s := range resp.Scenes {
			fmt.Fprintf(out, "- %s: k*=%d min_responders=%d collect_timeout=%s adaptive=%t",
				s.ID, s.KStar, s.MinResponders, s.CollectTimeout, s.Adaptive)
			if s.LensTemplate != "" {
				fmt.Fprintf(out, " lens=%q", s.LensTemplate)
			}
			fmt.Fprintln(out)
		}
		return nil
	},
}

var scenesPutCmd = &cobra.Command{
	Use:   "put <scene-id>",
	Short: "Create or replace a scene",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := map[string]interface{}{
			"k_star":         sceneKStar,
			"lens_template":  sceneLens,
			"min_responders": sceneMin,
			"adaptive":       sceneAdaptive,
		}
		if sceneTimeout > 0 {
			req["collect_timeout"] = sceneTimeout.String()
		}
		if _, err := newClient().do(http.MethodPut, "/api/scenes/"+url.PathEscape(args[0]), req, nil); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Scene %s saved\n", args[0])
		return nil
	},
}

func init() {
	ScenesCmd.AddCommand(scenesListCmd, scenesPutCmd)

	scenesPutCmd.Flags().IntVar(&sceneKStar, "k-star", 0, "Responder target, 0 uses the node default")
	scenesPutCmd.Flags().StringVar(&sceneLens, "lens", "", "Lens template, {scope} expands to the signal scope")
	scenesPutCmd.Flags().IntVar(&sceneMin, "min-responders", 0, "Offers needed before aggregation")
	scenesPutCmd.Flags().DurationVar(&sceneTimeout, "collect-timeout", 0, "Offer collection deadline")
	scenesPutCmd.Flags().BoolVar(&sceneAdaptive, "adaptive", false, "Let the node tune k* for this scene")

	addAPIFlag(scenesListCmd)
	addAPIFlag(scenesPutCmd)
}
