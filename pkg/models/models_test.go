package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexName(t *testing.T) {
	cases := []struct {
		module Module
		typ    string
		want   string
		err    error
	}{
		{ModuleFIM, "", FIMIndex, nil},
		{ModuleSCA, "", SCAIndex, nil},
		{ModuleVulnerability, "", VulnerabilityIndex, nil},
		{ModuleCommand, "", CommandsIndex, nil},
		{ModuleInventory, InventoryPackagesType, InventoryPackagesIndex, nil},
		{ModuleInventory, InventoryProcessesType, InventoryProcessesIndex, nil},
		{ModuleInventory, InventoryNetworkType, InventoryNetworkIndex, nil},
		{ModuleInventory, InventorySystemType, InventorySystemIndex, nil},
		{ModuleInventory, "hotfix", "", ErrInvalidInventoryType},
		{Module("rootcheck"), "", "", ErrInvalidModule},
	}
	for _, c := range cases {
		got, err := IndexName(c.module, c.typ)
		if c.err != nil {
			assert.ErrorIs(t, err, c.err, "%s/%s", c.module, c.typ)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, c.want, got)
	}
}

func TestMergeContentEventWinsAndDropsNil(t *testing.T) {
	meta := AgentMetadata{Agent: Agent{ID: "001", Name: "web-1", Groups: []string{"default"}, Type: "endpoint", Version: "5.0.0"}}
	ev := &StatefulEvent{Data: map[string]any{
		"file":  map[string]any{"path": "/etc/passwd", "owner": nil},
		"extra": nil,
	}}

	content, err := MergeContent(meta, ev)
	require.NoError(t, err)

	agent, ok := content["agent"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "001", agent["id"])

	file := content["file"].(map[string]any)
	assert.Equal(t, "/etc/passwd", file["path"])
	assert.NotContains(t, file, "owner")
	assert.NotContains(t, content, "extra")
}

func TestMergeContentNilEvent(t *testing.T) {
	content, err := MergeContent(AgentMetadata{}, nil)
	require.NoError(t, err)
	assert.Nil(t, content)
}

func TestRecordSizeAndValidate(t *testing.T) {
	r := Record{ID: "1", Operation: OpCreate, Destination: FIMIndex, Content: map[string]any{"k": strings.Repeat("x", 10)}}
	// {"k":"xxxxxxxxxx"}
	assert.Equal(t, 18, r.Size())
	assert.NoError(t, r.Validate())

	del := Record{ID: "2", Operation: OpDelete, Destination: FIMIndex}
	assert.Equal(t, 0, del.Size())
	assert.NoError(t, del.Validate())

	assert.ErrorIs(t, Record{Operation: OpCreate, Destination: "x", Content: map[string]any{}}.Validate(), ErrInvalidRecord)
	assert.ErrorIs(t, Record{ID: "3", Operation: "upsert", Destination: "x"}.Validate(), ErrInvalidRecord)
	assert.ErrorIs(t, Record{ID: "4", Operation: OpUpdate, Destination: "x"}.Validate(), ErrInvalidRecord)
	assert.ErrorIs(t, Record{ID: "5", Operation: OpDelete}.Validate(), ErrInvalidRecord)
}

func TestResultToTaskResult(t *testing.T) {
	ok := Result{ID: "abc", Status: 201, Result: "created"}
	assert.Equal(t, TaskResult{ID: "abc", Result: "created", Status: 201}, ok.ToTaskResult())

	failed := Failure("abc", 409, "version conflict")
	assert.False(t, failed.OK())
	assert.Equal(t, TaskResult{ID: "", Result: "version conflict", Status: 409}, failed.ToTaskResult())
}
