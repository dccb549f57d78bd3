package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeCmd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "block.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"height": 7,
		"hash": "bb",
		"prev_hash": "aa",
		"time": "2024-03-01T12:00:00Z",
		"instructions": [
			{"kind": "simple_send", "txid": "t1", "index": 0, "sender": "alice", "receiver": "bob", "token": 3, "amount": 500}
		]
	}`), 0o600))

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"decode", path})
	require.NoError(t, root.Execute())

	var got decodedBlock
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	require.Equal(t, int64(7), got.Height)
	require.Equal(t, []decodedInstruction{{Index: 0, TxID: "t1", Kind: "simple_send", Sender: "alice", Receiver: "bob"}}, got.Instructions)
}

func TestDecodeCmd_RejectsMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"height": 1}`), 0o600))

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"decode", path})
	require.ErrorContains(t, root.Execute(), "malformed block")
}
