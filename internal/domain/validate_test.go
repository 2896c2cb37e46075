package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateProjectParams_Validate(t *testing.T) {
	assert.NoError(t, CreateProjectParams{Name: "Shop", Description: "online shop"}.Validate())

	for _, p := range []CreateProjectParams{
		{},
		{Name: "Shop"},
		{Description: "online shop"},
		{Name: "   ", Description: "x"},
	} {
		err := p.Validate()
		require.Error(t, err, "%+v", p)
		assert.True(t, IsValidation(err))
	}
}

func TestAppParams(t *testing.T) {
	assert.NoError(t, AppParams{Name: "Web", Type: "ANYTHING"}.Validate())
	assert.Error(t, AppParams{Name: "Web"}.Validate())

	assert.NoError(t, AppParams{Name: "Web", Type: AppTypeUserWeb, Description: "d"}.ValidateForm())
	err := AppParams{Name: "Web", Type: "DESKTOP", Description: "d"}.ValidateForm()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "USER_WEB")
	assert.Error(t, AppParams{Name: "Web", Type: AppTypeAPI}.ValidateForm())
}

func TestCreateFeatureParams_WithDefaults(t *testing.T) {
	p := CreateFeatureParams{Name: "Login", Description: "sign in"}.WithDefaults()
	b, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Login","description":"sign in","attachments":[],"features":[]}`, string(b))
}

func TestCreateFeatureParams_Compact(t *testing.T) {
	p := CreateFeatureParams{
		Name:        " Login ",
		Description: "sign in",
		Attachments: []Attachment{{Source: "https://x"}, {Type: AttachmentFile, Source: " "}},
		Features: []SubFeature{
			{Name: "Email", Description: "by email"},
			{},
		},
	}.Compact()

	assert.Equal(t, "Login", p.Name)
	require.Len(t, p.Attachments, 1)
	assert.Equal(t, AttachmentLink, p.Attachments[0].Type)
	require.Len(t, p.Features, 1)
	assert.Equal(t, "Email", p.Features[0].Name)
}

func TestFeaturePatch_Validate(t *testing.T) {
	assert.Error(t, FeaturePatch{}.Validate())
	empty := ""
	assert.Error(t, FeaturePatch{Name: &empty}.Validate())
	order := 3
	assert.NoError(t, FeaturePatch{OrderIndex: &order}.Validate())
}

func TestMessagePayload(t *testing.T) {
	p := TextPayload(TypeQuestion, "why?")
	assert.Equal(t, "why?", p.Text())

	raw := `{"type":"requirement_analysis","content":{"requirement":"login","main_flow":[{"id":1,"actor":"User","description":"opens page"}],"alternate_flows":[{"name":"SSO","steps":[{"id":"a","actor":"User","description":"uses SSO"}]}],"risks":["lockout"]}}`
	var ai MessagePayload
	require.NoError(t, json.Unmarshal([]byte(raw), &ai))
	ra, err := ai.Analysis()
	require.NoError(t, err)
	assert.Equal(t, "login", ra.Requirement)
	assert.Equal(t, StepID("1"), ra.MainFlow[0].ID)
	assert.Equal(t, StepID("a"), ra.AlternateFlows[0].Steps[0].ID)
	assert.Equal(t, []string{"lockout"}, ra.Risks)

	_, err = p.Analysis()
	assert.Error(t, err)
}
