package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePeer(t *testing.T) {
	p, err := decodePeer(
		[]byte(nodePrefix+"node1"),
		[]byte(`{"http":"10.0.0.1:8080","mq":"10.0.0.1:8081"}`),
	)
	require.NoError(t, err)
	assert.Equal(t, "node1", p.ID, "ID falls back to the registry key")
	assert.Equal(t, "10.0.0.1:8080", p.HTTPAddr)
	assert.Equal(t, "10.0.0.1:8081", p.MQAddr)

	_, err = decodePeer([]byte(nodePrefix+"node2"), []byte(`{"http":"10.0.0.2:8080"}`))
	assert.Error(t, err, "entries without both probe addresses are rejected")

	_, err = decodePeer([]byte(nodePrefix+"node3"), []byte(`not json`))
	assert.Error(t, err)
}

func TestIDFromKey(t *testing.T) {
	assert.Equal(t, "abc", idFromKey([]byte(nodePrefix+"abc")))
}
