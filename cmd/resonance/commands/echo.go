package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/NatureBlueee/Towow-sub000/core"
)

var (
	echoAgent         string
	echoNegotiation   string
	echoScene         string
	echoKind          string
	echoSource        string
	echoConfirmations int
	echoSummary       string
)

// EchoCmd reports an externally observed outcome for an agent.
var EchoCmd = &cobra.Command{
	Use:   "echo",
	Short: "Report an outcome for an agent",
	Long:  `Report an externally verifiable outcome (delivered, confirmed, settled, completed or failed) so it is appended to the agent's profile.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ev := core.EchoEvent{
			AgentID:       echoAgent,
			NegotiationID: echoNegotiation,
			SceneID:       echoScene,
			Kind:          core.OutcomeKind(echoKind),
			Source:        core.EchoSource(echoSource),
			Confirmations: echoConfirmations,
			ObservedAt:    time.Now().UTC(),
		}
		if !ev.Kind.Valid() {
			return fmt.Errorf("unknown outcome kind %q", echoKind)
		}
		if echoSummary != "" {
			payload, err := json.Marshal(map[string]string{"summary": echoSummary})
			if err != nil {
				return err
			}
			ev.Payload = payload
		}
		if _, err := newClient().do(http.MethodPost, "/api/echo", ev, nil); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Echo recorded for %s\n", echoAgent)
		return nil
	},
}

func init() {
	EchoCmd.Flags().StringVar(&echoAgent, "agent", "", "Agent ID")
	EchoCmd.Flags().StringVar(&echoNegotiation, "negotiation", "", "Negotiation ID")
	EchoCmd.Flags().StringVar(&echoScene, "scene", "", "Scene ID")
	EchoCmd.Flags().StringVar(&echoKind, "kind", string(core.OutcomeCompleted), "Outcome kind")
	EchoCmd.Flags().StringVar(&echoSource, "source", string(core.SourceOperator), "Where the outcome was observed (workflow, messaging, counterpart, operator)")
	EchoCmd.Flags().IntVar(&echoConfirmations, "confirmations", 0, "Independent confirmations of the outcome")
	EchoCmd.Flags().StringVar(&echoSummary, "summary", "", "One-line description appended to the profile")
	EchoCmd.MarkFlagRequired("agent")
	addAPIFlag(EchoCmd)
}
