package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	root := newRootCmd()
	root.SetOut(out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVariants(t *testing.T) {
	out, err := run(t, "variants")
	require.NoError(t, err)
	assert.Contains(t, out, "5RS011027")
	assert.Contains(t, out, "5YB011056")

	out, err = run(t, "variants", "5YB011056")
	require.NoError(t, err)
	assert.Contains(t, out, "master_pcb")
	assert.Contains(t, out, "3Q4")

	out, err = run(t, "variants", "5RS011027", "--json")
	require.NoError(t, err)
	var v map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.Equal(t, "5RS011027", v["id"])

	_, err = run(t, "variants", "nope")
	assert.Error(t, err)
}

func TestCheck(t *testing.T) {
	out, err := run(t, "check", "ABCD1200", "12")
	require.NoError(t, err)
	assert.Contains(t, out, "MATCH")

	out, err = run(t, "check", "ABCD1000", "12")
	assert.Error(t, err)
	assert.Contains(t, out, "MISMATCH")

	out, err = run(t, "check", "ABCD1000", "ABCD")
	assert.Error(t, err)
	assert.Contains(t, out, "INVALID CODE")

	out, err = run(t, "check", "--json", "ABCDA000", "A")
	require.NoError(t, err)
	var res checkResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Valid)
	assert.Equal(t, "A", res.Extracted)

	_, err = run(t, "check", "only-one-arg")
	assert.Error(t, err)
}
