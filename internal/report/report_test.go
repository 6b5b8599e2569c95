package report

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/adverant/nexus/configextract-worker/internal/extract"
	"github.com/goccy/go-yaml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample() *extract.Mapping {
	return extract.ExtractPairs("Hostname        router1\nIP Address      10.0.0.1\nHostname        router2\n")
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{
		"markdown": FormatMarkdown,
		".md":      FormatMarkdown,
		"HTML":     FormatHTML,
		"json":     FormatJSON,
		"yml":      FormatYAML,
	} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseFormat("docx")
	assert.Error(t, err)
}

func TestMarkdown(t *testing.T) {
	want := "# Configuration Settings\n\n" +
		"| Option | Value |\n" +
		"| --- | --- |\n" +
		"| Hostname | router2 |\n" +
		"| IP Address | 10.0.0.1 |\n"
	assert.Equal(t, want, Markdown(sample()))
}

func TestMarkdownEscapesCells(t *testing.T) {
	m := extract.NewMapping()
	m.Set("Filter", "a|b")
	m.Set("Password", "********")
	m.Set("Default", "<none>")

	out := Markdown(m)
	assert.Contains(t, out, `| Filter | a\|b |`)
	assert.Contains(t, out, `| Password | \*\*\*\*\*\*\*\* |`)
	assert.Contains(t, out, `| Default | \<none\> |`)
}

func TestMarkdownEmpty(t *testing.T) {
	out := Markdown(extract.NewMapping())
	assert.Equal(t, "# Configuration Settings\n\nNo key/value pairs found.\n", out)
}

func TestHTML(t *testing.T) {
	m := sample()
	m.Set("Default", "<none>")

	out, err := HTML(m)
	require.NoError(t, err)
	page := string(out)

	assert.Contains(t, page, "<title>Configuration Settings</title>")
	assert.Contains(t, page, "<table>")
	assert.Contains(t, page, "<th>Option</th>")
	assert.Contains(t, page, "<td>router2</td>")
	assert.Contains(t, page, "<td>&lt;none&gt;</td>")
	assert.Less(t, strings.Index(page, "Hostname"), strings.Index(page, "IP Address"))
}

func TestJSON(t *testing.T) {
	out, err := JSON(sample())
	require.NoError(t, err)

	var decoded jsonReport
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, 2, decoded.Count)
	assert.Equal(t, []extract.Pair{
		{Option: "Hostname", Value: "router2"},
		{Option: "IP Address", Value: "10.0.0.1"},
	}, decoded.Settings)

	out, err = JSON(extract.NewMapping())
	require.NoError(t, err)
	assert.Contains(t, string(out), `"settings": []`)
}

func TestYAMLKeepsOrder(t *testing.T) {
	m := extract.NewMapping()
	m.Set("Zeta", "1")
	m.Set("Alpha", "enabled")

	out, err := YAML(m)
	require.NoError(t, err)
	doc := string(out)
	assert.Less(t, strings.Index(doc, "Zeta"), strings.Index(doc, "Alpha"))

	var decoded struct {
		Title    string            `yaml:"title"`
		Count    int               `yaml:"count"`
		Settings map[string]string `yaml:"settings"`
	}
	require.NoError(t, yaml.Unmarshal(out, &decoded))
	assert.Equal(t, Title, decoded.Title)
	assert.Equal(t, 2, decoded.Count)
	assert.Equal(t, map[string]string{"Zeta": "1", "Alpha": "enabled"}, decoded.Settings)
}

func TestRenderString(t *testing.T) {
	out, err := RenderString(FormatMarkdown, sample())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "# Configuration Settings"))

	_, err = RenderString(Format("pdf"), sample())
	assert.Error(t, err)

	assert.Equal(t, "application/json", FormatJSON.ContentType())
}
