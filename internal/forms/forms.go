// Package forms holds the interactive create and edit dialogs used by the CLI
// when required values are not given as flags.
package forms

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"

	"github.com/kalambet/rat/internal/domain"
)

// Interactive reports whether f is a terminal a form can be shown on.
func Interactive(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func theme() *huh.Theme {
	return huh.ThemeBase()
}

func newForm(groups ...*huh.Group) *huh.Form {
	return huh.NewForm(groups...).WithTheme(theme()).WithShowHelp(false)
}

// required returns a validator rejecting blank input with "<field> is required".
func required(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return &domain.ValidationError{Msg: field + " is required"}
		}
		return nil
	}
}

// ProjectForm collects a new project's name and description.
func ProjectForm(p *domain.CreateProjectParams) *huh.Form {
	return newForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Project Name").
				Placeholder("Enter project name...").
				Value(&p.Name).
				Validate(required("Name")),
			huh.NewText().
				Title("Description").
				Placeholder("Enter project description...").
				Value(&p.Description).
				Validate(required("Description")),
		),
	)
}

func appTypeOptions() []huh.Option[domain.AppType] {
	opts := make([]huh.Option[domain.AppType], len(domain.AppTypes))
	for i, t := range domain.AppTypes {
		opts[i] = huh.NewOption(t.Label(), t)
	}
	return opts
}

// AppForm collects an app's name, type and description. It serves both
// create and edit; p is pre-filled for edits.
func AppForm(p *domain.AppParams) *huh.Form {
	if p.Type == "" {
		p.Type = domain.AppTypeUserWeb
	}
	return newForm(
		huh.NewGroup(
			huh.NewInput().
				Title("App Name").
				Placeholder("Enter app name").
				Value(&p.Name).
				Validate(required("App name")),
			huh.NewSelect[domain.AppType]().
				Title("App Type").
				Options(appTypeOptions()...).
				Value(&p.Type),
			huh.NewText().
				Title("Description").
				Placeholder("Enter app description").
				Value(&p.Description).
				Validate(required("Description")),
		),
	)
}

// FeatureDraft is the editable state of the feature dialog. Links holds one
// URL per line.
type FeatureDraft struct {
	Name        string
	Description string
	Links       string
	SubFeatures []SubFeatureDraft
}

type SubFeatureDraft struct {
	Name        string
	Description string
	Links       string
}

// DraftFromFeature pre-fills a draft for editing f.
func DraftFromFeature(f domain.Feature) FeatureDraft {
	d := FeatureDraft{
		Name:        f.Name,
		Description: f.Description,
		Links:       joinLinks(decodeAttachments(f.Attachments)),
	}
	for _, c := range f.Children {
		d.SubFeatures = append(d.SubFeatures, SubFeatureDraft{
			Name:        c.Name,
			Description: c.Description,
			Links:       joinLinks(decodeAttachments(c.Attachments)),
		})
	}
	return d
}

// Params converts the draft into a create request, dropping empty rows.
func (d FeatureDraft) Params() domain.CreateFeatureParams {
	p := domain.CreateFeatureParams{
		Name:        d.Name,
		Description: d.Description,
		Attachments: splitLinks(d.Links),
	}
	for _, sf := range d.SubFeatures {
		p.Features = append(p.Features, domain.SubFeature{
			Name:        sf.Name,
			Description: sf.Description,
			Attachments: splitLinks(sf.Links),
		})
	}
	return p.Compact()
}

// Patch returns the fields of the draft that differ from orig.
func (d FeatureDraft) Patch(orig domain.Feature) domain.FeaturePatch {
	var patch domain.FeaturePatch
	params := d.Params()
	if params.Name != orig.Name {
		patch.Name = &params.Name
	}
	if params.Description != orig.Description {
		patch.Description = &params.Description
	}
	if joinLinks(params.Attachments) != joinLinks(decodeAttachments(orig.Attachments)) {
		patch.Attachments = params.Attachments
	}
	if subFeaturesChanged(d.SubFeatures, DraftFromFeature(orig).SubFeatures) {
		patch.Features = params.Features
	}
	return patch
}

func subFeaturesChanged(a, b []SubFeatureDraft) bool {
	if len(a) != len(b) {
		return true
	}
	for i := range a {
		if a[i] != b[i] {
			return true
		}
	}
	return false
}

func splitLinks(s string) []domain.Attachment {
	var out []domain.Attachment
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, domain.Attachment{Type: domain.AttachmentLink, Source: line})
	}
	return out
}

func joinLinks(atts []domain.Attachment) string {
	sources := make([]string, 0, len(atts))
	for _, a := range atts {
		sources = append(sources, a.Source)
	}
	return strings.Join(sources, "\n")
}

func decodeAttachments(raw json.RawMessage) []domain.Attachment {
	if len(raw) == 0 {
		return nil
	}
	var atts []domain.Attachment
	if err := json.Unmarshal(raw, &atts); err != nil {
		return nil
	}
	return atts
}

// FeatureForm collects the feature's own fields.
func FeatureForm(d *FeatureDraft) *huh.Form {
	return newForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Name").
				Placeholder("Feature name").
				Value(&d.Name).
				Validate(required("Name")),
			huh.NewText().
				Title("Description").
				Placeholder("Feature description").
				Value(&d.Description).
				Validate(required("Description")),
			huh.NewText().
				Title("Attachments").
				Description("One link per line").
				Placeholder("https://...").
				Value(&d.Links),
		),
	)
}

// SubFeatureForm collects one sub-feature. Blank rows are dropped by Params.
func SubFeatureForm(sf *SubFeatureDraft) *huh.Form {
	return newForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Sub-feature Name").
				Placeholder("Sub-feature name").
				Value(&sf.Name),
			huh.NewText().
				Title("Sub-feature Description").
				Placeholder("Sub-feature description").
				Value(&sf.Description),
			huh.NewText().
				Title("Sub-feature Attachments").
				Description("One link per line").
				Placeholder("https://...").
				Value(&sf.Links),
		),
	)
}

// ConfirmForm asks a yes/no question.
func ConfirmForm(title string, v *bool) *huh.Form {
	return newForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(title).
				Affirmative("Yes").
				Negative("No").
				Value(v),
		),
	)
}

// RunFeature shows the feature dialog followed by one sub-feature dialog per
// "add a sub-feature" confirmation. Existing sub-features in d are kept.
func RunFeature(d *FeatureDraft) error {
	if err := FeatureForm(d).Run(); err != nil {
		return err
	}
	for i := range d.SubFeatures {
		if err := SubFeatureForm(&d.SubFeatures[i]).Run(); err != nil {
			return err
		}
	}
	for {
		more := false
		if err := ConfirmForm("Add a sub-feature?", &more).Run(); err != nil {
			return err
		}
		if !more {
			return nil
		}
		var sf SubFeatureDraft
		if err := SubFeatureForm(&sf).Run(); err != nil {
			return err
		}
		d.SubFeatures = append(d.SubFeatures, sf)
	}
}

// RunProject shows the project dialog and validates the result.
func RunProject(p *domain.CreateProjectParams) error {
	if err := ProjectForm(p).Run(); err != nil {
		return err
	}
	return p.Validate()
}

// RunApp shows the app dialog and applies the dialog's validation rules.
func RunApp(p *domain.AppParams) error {
	if err := AppForm(p).Run(); err != nil {
		return err
	}
	return p.ValidateForm()
}
