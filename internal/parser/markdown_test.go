package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Frontmatter(t *testing.T) {
	content := "---\ntitle: Release Notes\ntags:\n  - go\n  - 42\n  - batch\nowner: ops\n---\n# Ignored H1\n\nBody text.\n"

	doc, err := Parse(content)
	require.NoError(t, err)

	assert.Equal(t, "Release Notes", doc.Title)
	assert.Equal(t, "ops", doc.String("owner"))
	assert.Empty(t, doc.String("missing"))
	assert.Equal(t, []string{"go", "batch"}, doc.Strings("tags"))
	assert.Equal(t, []string{"ops"}, doc.Strings("owner"))
	assert.Equal(t, "# Ignored H1\n\nBody text.\n", doc.Body)
}

func TestParse_InvalidFrontmatter(t *testing.T) {
	_, err := Parse("---\ntitle: [unclosed\n---\nbody\n")
	assert.ErrorIs(t, err, ErrFrontmatter)
}

func TestParse_TitleFallbacks(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"name key", "---\nname: runbook\n---\ntext", "runbook"},
		{"first h1", "intro\n\n# Heading One\n\n# Heading Two", "Heading One"},
		{"none", "just text", ""},
		{"crlf", "# Windows Title\r\n\r\nbody", "Windows Title"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := Parse(tt.content)
			require.NoError(t, err)
			assert.Equal(t, tt.want, doc.Title)
		})
	}
}

func TestParse_Sections(t *testing.T) {
	content := "# Guide\n\nintro\n\n## Setup\n\nsteps\n\n### Install\n\nrun it\n\n```\n# not a heading\n```\n\n## Usage\n\nuse it\n"

	doc, err := Parse(content)
	require.NoError(t, err)
	require.Len(t, doc.Sections, 4)

	assert.Equal(t, "# Guide", doc.Sections[0].Path)
	assert.Equal(t, "intro", doc.Sections[0].Content)
	assert.Equal(t, 1, doc.Sections[0].Start)

	assert.Equal(t, "# Guide > ## Setup", doc.Sections[1].Path)
	assert.Equal(t, "# Guide > ## Setup > ### Install", doc.Sections[2].Path)
	assert.Equal(t, 3, doc.Sections[2].Level)
	assert.Contains(t, doc.Sections[2].Content, "# not a heading")

	assert.Equal(t, "# Guide > ## Usage", doc.Sections[3].Path)
	assert.Equal(t, "Usage", doc.Sections[3].Heading)
}

func TestExtractors(t *testing.T) {
	content := "See [[Batch Engine]] and [[queue|the queue]] again [[Batch Engine]].\n" +
		"Ping @Alice and @bob, mail bob@example.com. #Ops #ops/oncall\n"

	assert.Equal(t, []string{"Batch Engine", "queue"}, WikiLinks(content))
	assert.Equal(t, []string{"alice", "bob"}, Mentions(content))
	assert.Equal(t, []string{"ops", "ops/oncall"}, Tags(content))
	assert.Empty(t, WikiLinks("no links"))
}
