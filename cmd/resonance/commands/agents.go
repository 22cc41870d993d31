package commands

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/NatureBlueee/Towow-sub000/core"
	"github.com/NatureBlueee/Towow-sub000/profile"
)

var (
	registerID       string
	registerSource   string
	registerProfile  string
	registerPersona  string
	registerTemplate string
	registerLens     string
	registerScope    string
	listParent       string
	specializeLens   string
)

// AgentsCmd groups agent management.
var AgentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Manage agents",
	Long:  `Register, list and specialize agents on a node.`,
}

var agentsRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a general agent",
	Long: `Register a general agent. The data behind it depends on --source:
profile text for memory and store, a persona for chat, a local template for template.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		id := registerID
		seed := profile.Seed{Text: registerProfile, Persona: registerPersona}
		if registerTemplate != "" {
			src, err := profile.NewTemplateSource(templateDir)
			if err != nil {
				return err
			}
			t, err := src.GetTemplate(registerTemplate)
			if err != nil {
				return fmt.Errorf("load template %s: %w", registerTemplate, err)
			}
			seed.Template = t
			if id == "" {
				id = registerTemplate
			}
		}
		req := struct {
			ID         string   `json:"id,omitempty"`
			SourceType string   `json:"source_type"`
			Lens       string   `json:"lens,omitempty"`
			Scope      []string `json:"scope,omitempty"`
			profile.Seed
		}{id, registerSource, registerLens, splitList(registerScope), seed}

		var agent core.AgentIdentity
		if _, err := newClient().do(http.MethodPost, "/api/agents", req, &agent); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Agent registered successfully!\nAgent ID: %s\nSource: %s\n", agent.ID, agent.SourceType)
		return nil
	},
}

var agentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List agents",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/api/agents"
		if listParent != "" {
			path += "?parent=" + url.QueryEscape(listParent)
		}
		var resp struct {
			Agents []core.AgentIdentity `json:"agents"`
		}
		if _, err := newClient().do(http.MethodGet, path, nil, &resp); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(resp.Agents) == 0 {
			fmt.Fprintln(out, "No agents found.")
			return nil
		}
		fmt.Fprintln(out, "Agents:")
		for _, a := range resp.Agents {
			line := fmt.Sprintf("- %s (%s, %s)", a.ID, a.Type, a.SourceType)
			if a.Lens != "" {
				line += " lens: " + a.Lens
			}
			fmt.Fprintln(out, line)
		}
		return nil
	},
}

var agentsSpecializeCmd = &cobra.Command{
	Use:   "specialize <agent-id>",
	Short: "Create a specialized agent with a narrower lens",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var agent core.AgentIdentity
		req := map[string]string{"lens": specializeLens}
		if _, err := newClient().do(http.MethodPost, "/api/agents/"+url.PathEscape(args[0])+"/specialize", req, &agent); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Specialized agent %s (lens: %s)\n", agent.ID, agent.Lens)
		return nil
	},
}

func init() {
	AgentsCmd.AddCommand(agentsRegisterCmd, agentsListCmd, agentsSpecializeCmd)

	agentsRegisterCmd.Flags().StringVar(&registerID, "id", "", "Agent ID (generated when empty)")
	agentsRegisterCmd.Flags().StringVar(&registerSource, "source", profile.SourceMemory, "Data source type (memory, store, template, chat)")
	agentsRegisterCmd.Flags().StringVar(&registerProfile, "profile", "", "Profile text for memory and store agents")
	agentsRegisterCmd.Flags().StringVar(&registerPersona, "persona", "", "Persona for chat agents")
	agentsRegisterCmd.Flags().StringVar(&registerTemplate, "template", "", "Local template to send for template agents")
	agentsRegisterCmd.Flags().StringVar(&templateDir, "template-dir", profile.DefaultTemplateDir(), "Directory holding local templates")
	agentsRegisterCmd.Flags().StringVar(&registerLens, "lens", "", "Declared lens")
	agentsRegisterCmd.Flags().StringVar(&registerScope, "scope", "", "Comma-separated scope keys")

	agentsListCmd.Flags().StringVar(&listParent, "parent", "", "Only list specializations of this agent")

	agentsSpecializeCmd.Flags().StringVar(&specializeLens, "lens", "", "Lens of the specialized agent")
	agentsSpecializeCmd.MarkFlagRequired("lens")

	for _, c := range []*cobra.Command{agentsRegisterCmd, agentsListCmd, agentsSpecializeCmd} {
		addAPIFlag(c)
	}
}
