package commands

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	submitScene  string
	submitScope  string
	submitOrigin string
	submitWait   time.Duration
	resultWait   time.Duration

	offerAgent      string
	offerContent    string
	offerConfidence float64
	offerDecline    bool
)

// SubmitCmd broadcasts a demand and prints the negotiation id.
var SubmitCmd = &cobra.Command{
	Use:   "submit <payload>",
	Short: "Submit a signal",
	Long:  `Submit a demand to the node. With --wait the command blocks until the negotiation closes and prints its outcome.`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := map[string]interface{}{
			"payload":         strings.Join(args, " "),
			"scene_id":        submitScene,
			"origin_agent_id": submitOrigin,
			"scope":           splitList(submitScope),
		}
		var resp struct {
			NegotiationID string `json:"negotiation_id"`
		}
		c := newClient()
		if _, err := c.do(http.MethodPost, "/api/signals", req, &resp); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Negotiation ID: %s\n", resp.NegotiationID)
		if submitWait <= 0 {
			return nil
		}
		return showResult(cmd, c, resp.NegotiationID, submitWait)
	},
}

// ResultCmd prints the outcome of a negotiation.
var ResultCmd = &cobra.Command{
	Use:   "result <negotiation-id>",
	Short: "Show a negotiation outcome",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return showResult(cmd, newClient(), args[0], resultWait)
	},
}

func showResult(cmd *cobra.Command, c *client, id string, wait time.Duration) error {
	path := "/api/signals/" + url.PathEscape(id)
	if wait > 0 {
		path += "?wait=" + url.QueryEscape(wait.String())
	}
	var out map[string]interface{}
	status, err := c.do(http.MethodGet, path, nil, &out)
	if err != nil {
		return err
	}
	if status == http.StatusAccepted {
		fmt.Fprintf(cmd.OutOrStdout(), "Negotiation %s is still %v\n", id, out["state"])
		return nil
	}
	return printJSON(cmd, out)
}

// CancelCmd cancels an open negotiation.
var CancelCmd = &cobra.Command{
	Use:   "cancel <negotiation-id>",
	Short: "Cancel a negotiation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := newClient().do(http.MethodDelete, "/api/signals/"+url.PathEscape(args[0]), nil, nil); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Negotiation %s cancelled\n", args[0])
		return nil
	},
}

// RetryCmd re-enters a failed negotiation.
var RetryCmd = &cobra.Command{
	Use:   "retry <negotiation-id>",
	Short: "Retry a failed negotiation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var out map[string]interface{}
		if _, err := newClient().do(http.MethodPost, "/api/signals/"+url.PathEscape(args[0])+"/retry", nil, &out); err != nil {
			return err
		}
		return printJSON(cmd, out)
	},
}

// OfferCmd answers a broadcast on behalf of an external agent.
var OfferCmd = &cobra.Command{
	Use:   "offer <negotiation-id>",
	Short: "Send an offer or decline for an agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := map[string]interface{}{
			"agent_id":   offerAgent,
			"content":    offerContent,
			"confidence": offerConfidence,
			"decline":    offerDecline,
		}
		if _, err := newClient().do(http.MethodPost, "/api/signals/"+url.PathEscape(args[0])+"/offers", req, nil); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Offer delivered")
		return nil
	},
}

func init() {
	SubmitCmd.Flags().StringVar(&submitScene, "scene", "", "Scene ID")
	SubmitCmd.Flags().StringVar(&submitScope, "scope", "", "Comma-separated scope tags")
	SubmitCmd.Flags().StringVar(&submitOrigin, "origin", "", "Origin agent ID")
	SubmitCmd.Flags().DurationVar(&submitWait, "wait", 0, "Wait this long for the outcome")
	ResultCmd.Flags().DurationVar(&resultWait, "wait", 0, "Wait this long for the negotiation to close")

	OfferCmd.Flags().StringVar(&offerAgent, "agent", "", "Responding agent ID")
	OfferCmd.Flags().StringVar(&offerContent, "content", "", "Offer text")
	OfferCmd.Flags().Float64Var(&offerConfidence, "confidence", 0.5, "Offer confidence in [0,1]")
	OfferCmd.Flags().BoolVar(&offerDecline, "decline", false, "Decline instead of offering")
	OfferCmd.MarkFlagRequired("agent")

	for _, c := range []*cobra.Command{SubmitCmd, ResultCmd, CancelCmd, RetryCmd, OfferCmd} {
		addAPIFlag(c)
	}
}
