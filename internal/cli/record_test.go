package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddAndShow(t *testing.T) {
	dir := setupStash(t)
	photo := writeFile(t, dir, "beach.jpg", "not really a jpeg")

	id := addRecord(t, "--set", "title=Beach", "--file", "image="+photo)
	assert.Regexp(t, `^ph-[a-z0-9]+$`, id)

	v := showRecord(t, id)
	assert.Equal(t, "Beach", v.Fields["title"])
	assert.Equal(t, "tester", v.CreatedBy)
	require.Len(t, v.Attachments, 1)
	att := v.Attachments[0]
	assert.Equal(t, "image", att.Name)
	assert.Equal(t, "stored", att.State)
	require.NotNil(t, att.File)
	assert.Equal(t, "store", att.File.Storage)
	assert.Equal(t, "beach.jpg", att.File.Filename)
	assert.EqualValues(t, len("not really a jpeg"), att.File.Size)
	assert.FileExists(t, storeFile(dir, "store", att.File.ID))

	res := mustSucceed(t, "show", id)
	assert.Contains(t, res.Stdout, "title: Beach")
	assert.Contains(t, res.Stdout, "image: store:")
	assert.Contains(t, res.Stdout, "[stored]")
}

func TestAdd_Errors(t *testing.T) {
	dir := setupStash(t)

	tests := []struct {
		name string
		args []string
		code string
		exit int
	}{
		{"unknown column", []string{"add", "--set", "nope=1"}, ErrCodeValidation, ExitValidation},
		{"attachment column via set", []string{"add", "--set", "image_data=x"}, ErrCodeUsage, ExitValidation},
		{"bad assignment", []string{"add", "--set", "title"}, ErrCodeUsage, ExitValidation},
		{"unknown attachment", []string{"add", "--file", "document=" + writeFile(t, dir, "a.txt", "a")}, ErrCodeValidation, ExitValidation},
		{"missing file", []string{"add", "--file", "image=missing.jpg"}, ErrCodeFileNotFound, ExitNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := mustFail(t, tt.exit, append(tt.args, "--json")...)
			var out JSONError
			decodeJSON(t, res, &out)
			assert.True(t, out.Error)
			assert.Equal(t, tt.code, out.Code)
		})
	}
}

func TestSet(t *testing.T) {
	setupStash(t)
	id := addRecord(t, "--set", "title=Beach")

	mustSucceed(t, "set", id, "title=Dunes")
	assert.Equal(t, "Dunes", showRecord(t, id).Fields["title"])

	mustSucceed(t, "set", id, "title=")
	_, ok := showRecord(t, id).Fields["title"]
	assert.False(t, ok)

	mustFail(t, ExitValidation, "set", id, "image_data={}")
	mustFail(t, ExitNotFound, "set", "ph-zzzz", "title=x")
}

func TestRm(t *testing.T) {
	dir := setupStash(t)
	id := addRecord(t, "--file", "image="+writeFile(t, dir, "a.txt", "hello"))
	file := showRecord(t, id).Attachments[0].File

	res := mustSucceed(t, "rm", id)
	assert.Contains(t, res.Stdout, "Deleted "+id)
	assert.NoFileExists(t, storeFile(dir, "store", file.ID))

	res = mustFail(t, ExitNotFound, "show", id, "--json")
	var out JSONError
	decodeJSON(t, res, &out)
	assert.Equal(t, ErrCodeRecordNotFound, out.Code)

	var history []historyEntry
	decodeJSON(t, mustSucceed(t, "history", id, "--json"), &history)
	require.NotEmpty(t, history)
	assert.Equal(t, "delete", history[len(history)-1].Operation)
}

func TestHistory(t *testing.T) {
	dir := setupStash(t)
	id := addRecord(t, "--set", "title=Beach")
	mustSucceed(t, "attach", id, writeFile(t, dir, "a.txt", "hello"))

	var history []historyEntry
	decodeJSON(t, mustSucceed(t, "history", id, "--json"), &history)
	require.GreaterOrEqual(t, len(history), 3)
	assert.Equal(t, "create", history[0].Operation)
	assert.Nil(t, history[0].Attachments["image"])

	// The attach writes the cached file, the promotion the stored one.
	last := history[len(history)-1]
	require.NotNil(t, last.Attachments["image"])
	assert.Contains(t, *last.Attachments["image"], "store:")
	cached := history[len(history)-2]
	require.NotNil(t, cached.Attachments["image"])
	assert.Contains(t, *cached.Attachments["image"], "cache:")

	decodeJSON(t, mustSucceed(t, "history", id, "--json", "--limit", "1"), &history)
	assert.Len(t, history, 1)

	mustFail(t, ExitNotFound, "history", "ph-zzzz")
}

func TestList(t *testing.T) {
	dir := setupStash(t)
	a := addRecord(t, "--set", "title=Beach", "--file", "image="+writeFile(t, dir, "a.txt", "a"))
	b := addRecord(t, "--set", "title=Forest")

	var items []listItem
	decodeJSON(t, mustSucceed(t, "list", "--json"), &items)
	require.Len(t, items, 2)

	decodeJSON(t, mustSucceed(t, "list", "--json", "--where", "title=Forest"), &items)
	require.Len(t, items, 1)
	assert.Equal(t, b, items[0].ID)
	assert.Nil(t, items[0].Attachments["image"])

	decodeJSON(t, mustSucceed(t, "list", "--json", "--where", "title LIKE %each%"), &items)
	require.Len(t, items, 1)
	assert.Equal(t, a, items[0].ID)
	require.NotNil(t, items[0].Attachments["image"])
	assert.Equal(t, "store", items[0].Attachments["image"].Storage)

	decodeJSON(t, mustSucceed(t, "list", "--json", "--cached"), &items)
	assert.Empty(t, items)

	res := mustSucceed(t, "list")
	assert.Contains(t, res.Stdout, "title")
	assert.Contains(t, res.Stdout, "store:a.txt")

	mustFail(t, ExitValidation, "list", "--where", "title")
}

func TestDrop(t *testing.T) {
	dir := setupStash(t)
	id := addRecord(t, "--file", "image="+writeFile(t, dir, "a.txt", "a"))
	file := showRecord(t, id).Attachments[0].File

	res := mustSucceed(t, "drop", "photos")
	assert.Contains(t, res.Stdout, "Aborted.")

	mustSucceed(t, "drop", "photos", "--yes")
	assert.NoFileExists(t, storeFile(dir, "store", file.ID))
	mustFail(t, ExitFailure, "show", id)
}

func TestRunsDoNotShareArguments(t *testing.T) {
	setupStash(t)
	id := addRecord(t, "--set", "title=one")

	mustSucceed(t, "history", id)
	mustFail(t, ExitValidation, "history")

	mustSucceed(t, "validate", id)
	res := mustFail(t, ExitValidation, "validate")
	assert.NotContains(t, res.Stdout, id)
}
