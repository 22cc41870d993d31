package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/NatureBlueee/Towow-sub000/profile"
)

var (
	templateDir         string
	templateName        string
	templateRole        string
	templateSkills      string
	templateTraits      string
	templateStyle       string
	templateDescription string
)

// TemplateCmd manages local agent templates.
var TemplateCmd = &cobra.Command{
	Use:   "template",
	Short: "Manage agent templates",
	Long:  `Create, list, and show the local JSON templates that back template agents.`,
}

var templateCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new agent template",
	RunE: func(cmd *cobra.Command, args []string) error {
		src, err := profile.NewTemplateSource(templateDir)
		if err != nil {
			return err
		}
		t := &profile.AgentTemplate{
			Name:        templateName,
			Role:        templateRole,
			Skills:      splitList(templateSkills),
			Traits:      splitList(templateTraits),
			Style:       templateStyle,
			Description: templateDescription,
		}
		if len(t.Skills) == 0 && t.Description == "" {
			return fmt.Errorf("template %s needs skills or a description", templateName)
		}
		if err := src.SaveTemplate(templateName, t); err != nil {
			return fmt.Errorf("save template: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Template '%s' created successfully!\n", templateName)
		return nil
	},
}

var templateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List agent templates",
	RunE: func(cmd *cobra.Command, args []string) error {
		src, err := profile.NewTemplateSource(templateDir)
		if err != nil {
			return err
		}
		if err := src.CreateDefaultTemplates(); err != nil {
			return err
		}
		names, err := src.ListTemplates()
		if err != nil {
			return fmt.Errorf("list templates: %w", err)
		}
		out := cmd.OutOrStdout()
		if len(names) == 0 {
			fmt.Fprintln(out, "No templates found.")
			return nil
		}
		fmt.Fprintln(out, "Available templates:")
		for _, name := range names {
			t, err := src.GetTemplate(name)
			if err != nil {
				continue
			}
			fmt.Fprintf(out, "- %s (%s): %s\n", name, t.Role, t.Description)
		}
		return nil
	},
}

var templateShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show template details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		src, err := profile.NewTemplateSource(templateDir)
		if err != nil {
			return err
		}
		t, err := src.GetTemplate(args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Template: %s\n", args[0])
		fmt.Fprintf(out, "Name: %s\n", t.Name)
		fmt.Fprintf(out, "Role: %s\n", t.Role)
		if len(t.Skills) > 0 {
			fmt.Fprintf(out, "Skills: %s\n", strings.Join(t.Skills, ", "))
		}
		if len(t.Traits) > 0 {
			fmt.Fprintf(out, "Traits: %s\n", strings.Join(t.Traits, ", "))
		}
		if t.Style != "" {
			fmt.Fprintf(out, "Style: %s\n", t.Style)
		}
		if t.Description != "" {
			fmt.Fprintf(out, "Description: %s\n", t.Description)
		}
		return nil
	},
}

func init() {
	TemplateCmd.AddCommand(templateCreateCmd, templateListCmd, templateShowCmd)
	TemplateCmd.PersistentFlags().StringVar(&templateDir, "dir", profile.DefaultTemplateDir(), "Template directory")

	templateCreateCmd.Flags().StringVar(&templateName, "name", "", "Name for the template")
	templateCreateCmd.Flags().StringVar(&templateRole, "role", "", "Agent role")
	templateCreateCmd.Flags().StringVar(&templateSkills, "skills", "", "Comma-separated list of skills")
	templateCreateCmd.Flags().StringVar(&templateTraits, "traits", "", "Comma-separated list of traits")
	templateCreateCmd.Flags().StringVar(&templateStyle, "style", "", "Agent style")
	templateCreateCmd.Flags().StringVar(&templateDescription, "description", "", "Template description")
	templateCreateCmd.MarkFlagRequired("name")
}
