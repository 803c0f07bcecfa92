package activity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/KockaAdmiralac/kockalogger/internal/models"
	"github.com/KockaAdmiralac/kockalogger/internal/modules"
)

func testActivity(t *testing.T) *Activity {
	t.Helper()
	var node yaml.Node
	require.NoError(t, yaml.Unmarshal([]byte("wiki: test\nurl: https://example.invalid/hook\n"), &node))
	a := &Activity{}
	require.NoError(t, a.Setup(&modules.Env{Config: &node}))
	return a
}

func TestInterestedCoordinates(t *testing.T) {
	a := testActivity(t)

	match := &models.Message{Type: models.TypeEdit, Wiki: "test", Language: "en", Domain: "fandom.com"}
	ok, props := a.Interested(match)
	assert.True(t, ok)
	assert.Empty(t, props)

	otherLang := &models.Message{Type: models.TypeEdit, Wiki: "test", Language: "de", Domain: "fandom.com"}
	ok, _ = a.Interested(otherLang)
	assert.False(t, ok)

	errMsg := models.ErrorMessage("raw", models.CodeRCError, "x", nil)
	ok, _ = a.Interested(errMsg)
	assert.False(t, ok)
}

func TestInterestedThreadWantsTitle(t *testing.T) {
	a := testActivity(t)
	thread := &models.Message{
		Type: models.TypeLog, Log: "thread", Wiki: "test", Language: "en", Domain: "fandom.com",
		Page: "Board Thread:General/@comment-4400000000000000001",
	}
	ok, props := a.Interested(thread)
	assert.True(t, ok)
	assert.Equal(t, []string{modules.PropThreadTitle}, props)
}

func TestFormat(t *testing.T) {
	edit := &models.Message{
		Type: models.TypeEdit, User: "Someone", Page: "Sandbox", Diff: -42, Summary: "oops",
	}
	line := format(edit)
	assert.Contains(t, line, "Someone")
	assert.Contains(t, line, "Sandbox")
	assert.Contains(t, line, "-42")
	assert.Contains(t, line, "oops")

	log := &models.Message{
		Type: models.TypeLog, Log: "block", Action: "block",
		User: "Admin", Target: "Vandal", Reason: "spam",
	}
	line = format(log)
	assert.Contains(t, line, "block/block")
	assert.Contains(t, line, "Vandal")
	assert.Contains(t, line, "spam")

	thread := &models.Message{
		Type: models.TypeLog, Log: "thread", Action: "wall_archive",
		User: "Mod", Page: "Thread:1", ThreadTitle: "The actual title",
	}
	assert.Contains(t, format(thread), "The actual title")

	post := &models.Message{
		Type: models.TypeDiscussions, Platform: "discussion", DType: "post",
		Action: "created", User: "Someone", Title: "Hi", Snippet: "First",
	}
	line = format(post)
	assert.Contains(t, line, "discussion post")
	assert.Contains(t, line, "Hi")
	assert.Contains(t, line, "First")
}

func TestFormatEscapesMarkdown(t *testing.T) {
	edit := &models.Message{
		Type: models.TypeEdit, User: "evil_user", Page: "Some*Page", Diff: 1,
	}
	line := format(edit)
	assert.Contains(t, line, `evil\_user`)
	assert.Contains(t, line, `Some\*Page`)
}
