package forms

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/rat/internal/domain"
)

func TestRequired(t *testing.T) {
	v := required("Name")
	assert.NoError(t, v("Shop"))

	err := v("   ")
	require.Error(t, err)
	assert.Equal(t, "Name is required", err.Error())
	assert.True(t, domain.IsValidation(err))
}

func TestFeatureDraft_Params(t *testing.T) {
	d := FeatureDraft{
		Name:        "  Login ",
		Description: "Email login",
		Links:       "https://a.example\n\n  https://b.example  \n",
		SubFeatures: []SubFeatureDraft{
			{Name: "Reset password", Description: "Via email", Links: "https://c.example"},
			{Name: " ", Description: ""},
		},
	}

	p := d.Params()
	require.NoError(t, p.Validate())
	assert.Equal(t, "Login", p.Name)
	assert.Equal(t, []domain.Attachment{
		{Type: domain.AttachmentLink, Source: "https://a.example"},
		{Type: domain.AttachmentLink, Source: "https://b.example"},
	}, p.Attachments)
	require.Len(t, p.Features, 1)
	assert.Equal(t, "Reset password", p.Features[0].Name)
	assert.Len(t, p.Features[0].Attachments, 1)
}

func TestFeatureDraft_ParamsEmptyCollections(t *testing.T) {
	p := FeatureDraft{Name: "Login", Description: "Email login"}.Params()

	b, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Login","description":"Email login","attachments":[],"features":[]}`, string(b))
}

func TestDraftFromFeature(t *testing.T) {
	f := domain.Feature{
		Name:        "Login",
		Description: "Email login",
		Attachments: json.RawMessage(`[{"type":"link","source":"https://a.example"},{"type":"file","source":"https://f.example/brief.pdf"}]`),
		Children:    []domain.Feature{{Name: "Reset", Description: "Via email"}},
	}

	d := DraftFromFeature(f)
	assert.Equal(t, "https://a.example\nhttps://f.example/brief.pdf", d.Links)
	require.Len(t, d.SubFeatures, 1)
	assert.Equal(t, "Reset", d.SubFeatures[0].Name)
}

func TestDraftFromFeature_BadAttachments(t *testing.T) {
	d := DraftFromFeature(domain.Feature{Name: "x", Attachments: json.RawMessage(`{"not":"a list"}`)})
	assert.Empty(t, d.Links)
}

func TestFeatureDraft_Patch(t *testing.T) {
	orig := domain.Feature{
		Name:        "Login",
		Description: "Email login",
		Attachments: json.RawMessage(`[{"type":"link","source":"https://a.example"}]`),
	}

	t.Run("unchanged", func(t *testing.T) {
		patch := DraftFromFeature(orig).Patch(orig)
		assert.Error(t, patch.Validate(), "nothing to send")
	})

	t.Run("description only", func(t *testing.T) {
		d := DraftFromFeature(orig)
		d.Description = "Email and SSO login"
		patch := d.Patch(orig)
		require.NoError(t, patch.Validate())
		assert.Nil(t, patch.Name)
		require.NotNil(t, patch.Description)
		assert.Equal(t, "Email and SSO login", *patch.Description)
		assert.Nil(t, patch.Attachments)
		assert.Nil(t, patch.Features)
	})

	t.Run("links and sub-features", func(t *testing.T) {
		d := DraftFromFeature(orig)
		d.Links += "\nhttps://b.example"
		d.SubFeatures = append(d.SubFeatures, SubFeatureDraft{Name: "Reset", Description: "Via email"})
		patch := d.Patch(orig)
		assert.Len(t, patch.Attachments, 2)
		assert.Len(t, patch.Features, 1)
	})

	t.Run("whitespace in links is not a change", func(t *testing.T) {
		d := DraftFromFeature(orig)
		d.Links = "  https://a.example  \n"
		assert.Nil(t, d.Patch(orig).Attachments)
	})
}

func TestAppForm_DefaultsType(t *testing.T) {
	p := domain.AppParams{Name: "Storefront"}
	require.NotNil(t, AppForm(&p))
	assert.Equal(t, domain.AppTypeUserWeb, p.Type)

	p = domain.AppParams{Name: "Admin", Type: domain.AppTypeAdminWeb}
	AppForm(&p)
	assert.Equal(t, domain.AppTypeAdminWeb, p.Type)
}

func TestAppTypeOptions(t *testing.T) {
	opts := appTypeOptions()
	require.Len(t, opts, len(domain.AppTypes))
	assert.Equal(t, "Admin Web", opts[3].Key)
	assert.Equal(t, domain.AppTypeAdminWeb, opts[3].Value)
}

func TestFormBuilders(t *testing.T) {
	var p domain.CreateProjectParams
	assert.NotNil(t, ProjectForm(&p))

	var d FeatureDraft
	assert.NotNil(t, FeatureForm(&d))

	var sf SubFeatureDraft
	assert.NotNil(t, SubFeatureForm(&sf))

	var ok bool
	assert.NotNil(t, ConfirmForm("Delete?", &ok))
}
