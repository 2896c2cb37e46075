package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/rat/internal/config"
	"github.com/kalambet/rat/internal/domain"
	"github.com/kalambet/rat/internal/forms"
)

func parseID(name, raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", name, raw)
	}
	return id, nil
}

// confirmDelete asks before a destructive call unless --yes was given.
func confirmDelete(cmd *cobra.Command, what string) (bool, error) {
	if yes, _ := cmd.Flags().GetBool("yes"); yes {
		return true, nil
	}
	if !interactive() {
		return false, errors.New("refusing to delete without --yes in a non-interactive session")
	}
	var ok bool
	if err := forms.ConfirmForm(fmt.Sprintf("Delete %s?", what), &ok).Run(); err != nil {
		return false, err
	}
	return ok, nil
}

// --- projects ---

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "List, create and select projects",
}

var projectsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects; the selected one is starred",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			if err := a.projects.Init(cmd.Context()); err != nil {
				return err
			}
			projects := a.projects.Projects()
			out := cmd.OutOrStdout()
			if len(projects) == 0 {
				fmt.Fprintln(out, "No projects found.")
				return nil
			}
			sel, hasSel := a.projects.Selected()
			for _, p := range projects {
				marker := " "
				if hasSel && sel.ID == p.ID {
					marker = colorize(colorGreen, "*")
				}
				fmt.Fprintf(out, "%s %s  %s  %s\n",
					marker,
					colorize(colorCyan, strconv.FormatInt(p.ID, 10)),
					p.Name,
					colorize(colorDim, fmt.Sprintf("(%d apps)", len(p.Apps))),
				)
			}
			return nil
		})
	},
}

var projectsShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show a project and its apps",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			id, err := a.projectID()
			if len(args) == 1 {
				id, err = parseID("project id", args[0])
			}
			if err != nil {
				return err
			}
			p, err := a.client.GetProject(cmd.Context(), id)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s  %s\n", colorize(colorBold, p.Name), colorize(colorDim, p.Code))
			if p.Description != "" {
				fmt.Fprintf(out, "  %s\n", p.Description)
			}
			for _, app := range p.Apps {
				fmt.Fprintf(out, "  %s  %s  %s\n", colorize(colorCyan, strconv.FormatInt(app.ID, 10)), app.Name, colorize(colorDim, app.Type.Label()))
			}
			return nil
		})
	},
}

var projectsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a project",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		desc, _ := cmd.Flags().GetString("description")
		params := domain.CreateProjectParams{Name: name, Description: desc}

		if params.Validate() != nil && interactive() {
			if err := forms.RunProject(&params); err != nil {
				return err
			}
		}

		return withApp(cmd.Context(), func(a *app) error {
			p, err := a.client.CreateProject(cmd.Context(), params)
			if err != nil {
				return err
			}
			a.refreshProjects(cmd.Context())
			printSuccess("Created project %d (%s)", p.ID, p.Name)
			return nil
		})
	},
}

var projectsSelectCmd = &cobra.Command{
	Use:   "select <id>",
	Short: "Select the project later commands act on",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID("project id", args[0])
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), func(a *app) error {
			if err := a.projects.Init(cmd.Context()); err != nil {
				return err
			}
			p, err := a.projects.Select(id)
			if err != nil {
				return err
			}
			printSuccess("Selected project %d (%s)", p.ID, p.Name)
			return nil
		})
	},
}

var projectsCurrentCmd = &cobra.Command{
	Use:   "current",
	Short: "Show the selected project",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			if err := a.projects.Init(cmd.Context()); err != nil {
				return err
			}
			p, ok := a.projects.Selected()
			if !ok {
				return errNoProject
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d  %s\n", p.ID, p.Name)
			return nil
		})
	},
}

var projectsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the selected project",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			if err := a.projects.SetSelected(nil); err != nil {
				return err
			}
			printSuccess("Project selection cleared")
			return nil
		})
	},
}

func init() {
	projectsCreateCmd.Flags().String("name", "", "project name")
	projectsCreateCmd.Flags().String("description", "", "project description")
	projectsCmd.AddCommand(projectsListCmd, projectsShowCmd, projectsCreateCmd, projectsSelectCmd, projectsCurrentCmd, projectsClearCmd)
}

// --- apps ---

var appsCmd = &cobra.Command{
	Use:   "apps",
	Short: "Show and manage apps of the selected project",
}

var appsShowCmd = &cobra.Command{
	Use:   "show <app-id>",
	Short: "Show an app with its feature tree",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		appID, err := parseID("app id", args[0])
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), func(a *app) error {
			projectID, err := a.projectID()
			if err != nil {
				return err
			}
			detail, err := a.client.GetApp(cmd.Context(), projectID, appID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s  %s  %s\n", colorize(colorBold, detail.Name), detail.Type.Label(), colorize(colorDim, detail.Project.Name))
			if detail.Description != "" {
				fmt.Fprintf(out, "  %s\n", detail.Description)
			}
			writeFeatureTree(out, domain.BuildFeatureTree(detail.Features))
			return nil
		})
	},
}

// appParamsFromFlags overlays the flags that were set on base.
func appParamsFromFlags(cmd *cobra.Command, base domain.AppParams) (domain.AppParams, bool) {
	changed := false
	if cmd.Flags().Changed("name") {
		base.Name, _ = cmd.Flags().GetString("name")
		changed = true
	}
	if cmd.Flags().Changed("type") {
		t, _ := cmd.Flags().GetString("type")
		base.Type = domain.AppType(strings.ToUpper(t))
		changed = true
	}
	if cmd.Flags().Changed("description") {
		base.Description, _ = cmd.Flags().GetString("description")
		changed = true
	}
	return base, changed
}

var appsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Add an app to the selected project",
	RunE: func(cmd *cobra.Command, args []string) error {
		params, _ := appParamsFromFlags(cmd, domain.AppParams{})
		if params.ValidateForm() != nil && interactive() {
			if err := forms.RunApp(&params); err != nil {
				return err
			}
		}
		if err := params.ValidateForm(); err != nil {
			return err
		}

		return withApp(cmd.Context(), func(a *app) error {
			projectID, err := a.projectID()
			if err != nil {
				return err
			}
			created, err := a.client.CreateApp(cmd.Context(), projectID, params)
			if err != nil {
				return err
			}
			a.refreshProjects(cmd.Context())
			printSuccess("Created app %d (%s)", created.ID, created.Name)
			return nil
		})
	},
}

var appsUpdateCmd = &cobra.Command{
	Use:   "update <app-id>",
	Short: "Edit an app's name, type or description",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		appID, err := parseID("app id", args[0])
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), func(a *app) error {
			projectID, err := a.projectID()
			if err != nil {
				return err
			}
			current, err := a.client.GetApp(cmd.Context(), projectID, appID)
			if err != nil {
				return err
			}

			params, changed := appParamsFromFlags(cmd, domain.AppParams{
				Name:        current.Name,
				Type:        current.Type,
				Description: current.Description,
			})
			if !changed {
				if !interactive() {
					return errors.New("nothing to update; pass --name, --type or --description")
				}
				if err := forms.RunApp(&params); err != nil {
					return err
				}
			}

			updated, err := a.client.UpdateApp(cmd.Context(), appID, params)
			if err != nil {
				return err
			}
			a.refreshProjects(cmd.Context())
			printSuccess("Updated app %d (%s)", updated.ID, updated.Name)
			return nil
		})
	},
}

var appsDeleteCmd = &cobra.Command{
	Use:   "delete <app-id>",
	Short: "Delete an app and its features",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		appID, err := parseID("app id", args[0])
		if err != nil {
			return err
		}
		ok, err := confirmDelete(cmd, fmt.Sprintf("app %d", appID))
		if err != nil || !ok {
			return err
		}
		return withApp(cmd.Context(), func(a *app) error {
			if err := a.client.DeleteApp(cmd.Context(), appID); err != nil {
				return err
			}
			a.refreshProjects(cmd.Context())
			printSuccess("App deleted successfully")
			return nil
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{appsCreateCmd, appsUpdateCmd} {
		c.Flags().String("name", "", "app name")
		c.Flags().String("type", "", "app type: USER_WEB, USER_APP, STAFF_WEB, ADMIN_WEB, API or OTHER")
		c.Flags().String("description", "", "app description")
	}
	appsDeleteCmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")
	appsCmd.AddCommand(appsShowCmd, appsCreateCmd, appsUpdateCmd, appsDeleteCmd)
}

// --- features ---

var featuresCmd = &cobra.Command{
	Use:   "features",
	Short: "Manage the feature tree of an app",
}

var featuresListCmd = &cobra.Command{
	Use:   "list <app-id>",
	Short: "List an app's features as returned by the backend",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		appID, err := parseID("app id", args[0])
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), func(a *app) error {
			features, err := a.client.ListFeatures(cmd.Context(), appID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(features) == 0 {
				fmt.Fprintln(out, "No features found.")
				return nil
			}
			for _, f := range features {
				parent := "-"
				if f.ParentFeatureID != nil {
					parent = strconv.FormatInt(*f.ParentFeatureID, 10)
				}
				fmt.Fprintf(out, "%s  %-10s  parent=%-6s  order=%-3d  %s\n",
					colorize(colorCyan, strconv.FormatInt(f.ID, 10)), f.Code, parent, f.OrderIndex, f.Name)
			}
			if err := domain.ValidateFeatureParents(features); err != nil {
				printWarning("%v", err)
			}
			return nil
		})
	},
}

var featuresTreeCmd = &cobra.Command{
	Use:   "tree <app-id>",
	Short: "Show the feature tree and related features of other apps",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		appID, err := parseID("app id", args[0])
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), func(a *app) error {
			projectID, err := a.projectID()
			if err != nil {
				return err
			}

			var (
				detail  domain.AppDetail
				related []domain.RelatedAppFeatures
			)
			g, gCtx := errgroup.WithContext(cmd.Context())
			g.Go(func() error {
				var err error
				detail, err = a.client.GetApp(gCtx, projectID, appID)
				return err
			})
			g.Go(func() error {
				var err error
				related, err = a.client.RelatedTree(gCtx, appID)
				return err
			})
			if err := g.Wait(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, colorize(colorBold, detail.Name))
			writeFeatureTree(out, domain.BuildFeatureTree(detail.Features))
			if len(related) > 0 {
				fmt.Fprintln(out)
				fmt.Fprintln(out, colorize(colorBold, "Related"))
				writeRelated(out, related)
			}
			return nil
		})
	},
}

var featuresRelatedCmd = &cobra.Command{
	Use:   "related <app-id>",
	Short: "Show features of other apps related to this app",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		appID, err := parseID("app id", args[0])
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), func(a *app) error {
			related, err := a.client.RelatedTree(cmd.Context(), appID)
			if err != nil {
				return err
			}
			if len(related) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No related features.")
				return nil
			}
			writeRelated(cmd.OutOrStdout(), related)
			return nil
		})
	},
}

// parseSubFeature reads a --sub value of the form "name: description".
func parseSubFeature(raw string) (domain.SubFeature, error) {
	name, desc, ok := strings.Cut(raw, ":")
	if !ok || strings.TrimSpace(name) == "" {
		return domain.SubFeature{}, fmt.Errorf("invalid --sub %q, want \"name: description\"", raw)
	}
	return domain.SubFeature{Name: strings.TrimSpace(name), Description: strings.TrimSpace(desc)}, nil
}

var featuresCreateCmd = &cobra.Command{
	Use:   "create <app-id>",
	Short: "Add a feature with optional links and sub-features",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		appID, err := parseID("app id", args[0])
		if err != nil {
			return err
		}
		name, _ := cmd.Flags().GetString("name")
		desc, _ := cmd.Flags().GetString("description")
		links, _ := cmd.Flags().GetStringArray("link")
		subs, _ := cmd.Flags().GetStringArray("sub")

		var params domain.CreateFeatureParams
		if name == "" && interactive() {
			var draft forms.FeatureDraft
			if err := forms.RunFeature(&draft); err != nil {
				return err
			}
			params = draft.Params()
		} else {
			draft := forms.FeatureDraft{Name: name, Description: desc, Links: strings.Join(links, "\n")}
			params = draft.Params()
			for _, raw := range subs {
				sf, err := parseSubFeature(raw)
				if err != nil {
					return err
				}
				params.Features = append(params.Features, sf)
			}
		}

		return withApp(cmd.Context(), func(a *app) error {
			f, err := a.client.CreateFeature(cmd.Context(), appID, params)
			if err != nil {
				return err
			}
			a.refreshProjects(cmd.Context())
			printSuccess("Created feature %d (%s)", f.ID, f.Name)
			return nil
		})
	},
}

// featureWithChildren finds id in the flat list and attaches its children.
func featureWithChildren(features []domain.Feature, id int64) (domain.Feature, bool) {
	for _, node := range domain.BuildFeatureTree(features) {
		if node.Feature.ID == id {
			f := node.Feature
			f.Children = node.Children
			return f, true
		}
		for _, c := range node.Children {
			if c.ID == id {
				return c, true
			}
		}
	}
	return domain.Feature{}, false
}

var featuresUpdateCmd = &cobra.Command{
	Use:   "update <app-id> <feature-id>",
	Short: "Edit a feature",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		appID, err := parseID("app id", args[0])
		if err != nil {
			return err
		}
		featureID, err := parseID("feature id", args[1])
		if err != nil {
			return err
		}

		var patch domain.FeaturePatch
		if cmd.Flags().Changed("name") {
			v, _ := cmd.Flags().GetString("name")
			patch.Name = &v
		}
		if cmd.Flags().Changed("description") {
			v, _ := cmd.Flags().GetString("description")
			patch.Description = &v
		}
		if cmd.Flags().Changed("order") {
			v, _ := cmd.Flags().GetInt("order")
			patch.OrderIndex = &v
		}

		return withApp(cmd.Context(), func(a *app) error {
			if patch.Validate() != nil && interactive() {
				features, err := a.client.ListFeatures(cmd.Context(), appID)
				if err != nil {
					return err
				}
				orig, ok := featureWithChildren(features, featureID)
				if !ok {
					return fmt.Errorf("feature %d not found in app %d", featureID, appID)
				}
				draft := forms.DraftFromFeature(orig)
				if err := forms.RunFeature(&draft); err != nil {
					return err
				}
				patch = draft.Patch(orig)
			}

			f, err := a.client.UpdateFeature(cmd.Context(), appID, featureID, patch)
			if err != nil {
				return err
			}
			a.refreshProjects(cmd.Context())
			printSuccess("Updated feature %d (%s)", f.ID, f.Name)
			return nil
		})
	},
}

var featuresDeleteCmd = &cobra.Command{
	Use:   "delete <app-id> <feature-id>",
	Short: "Delete a feature",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		appID, err := parseID("app id", args[0])
		if err != nil {
			return err
		}
		featureID, err := parseID("feature id", args[1])
		if err != nil {
			return err
		}
		ok, err := confirmDelete(cmd, fmt.Sprintf("feature %d", featureID))
		if err != nil || !ok {
			return err
		}
		return withApp(cmd.Context(), func(a *app) error {
			if err := a.client.DeleteFeature(cmd.Context(), appID, featureID); err != nil {
				return err
			}
			a.refreshProjects(cmd.Context())
			printSuccess("Feature deleted successfully")
			return nil
		})
	},
}

func init() {
	featuresCreateCmd.Flags().String("name", "", "feature name")
	featuresCreateCmd.Flags().String("description", "", "feature description")
	featuresCreateCmd.Flags().StringArray("link", nil, "attachment link (repeatable)")
	featuresCreateCmd.Flags().StringArray("sub", nil, `sub-feature as "name: description" (repeatable)`)

	featuresUpdateCmd.Flags().String("name", "", "new name")
	featuresUpdateCmd.Flags().String("description", "", "new description")
	featuresUpdateCmd.Flags().Int("order", 0, "new order index")

	featuresDeleteCmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")

	featuresCmd.AddCommand(featuresListCmd, featuresTreeCmd, featuresRelatedCmd, featuresCreateCmd, featuresUpdateCmd, featuresDeleteCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorDim, k.EnvVar))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value (empty value restores the default)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
