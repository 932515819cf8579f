package common

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewEndpoint(t *testing.T) {
	tests := []struct {
		in       string
		expected Endpoint
		url      string
	}{
		{in: "127.0.0.1:8551", expected: Endpoint{Scheme: "http", Addr: "127.0.0.1", Port: 8551}, url: "http://127.0.0.1:8551"},
		{in: "localhost:8545", expected: Endpoint{Scheme: "http", Addr: "localhost", Port: 8545}, url: "http://localhost:8545"},
		{in: "https://node.example:443", expected: Endpoint{Scheme: "https", Addr: "node.example", Port: 443}, url: "https://node.example:443"},
		{in: "[::1]:8551", expected: Endpoint{Scheme: "http", Addr: "::1", Port: 8551}, url: "http://[::1]:8551"},
	}

	for _, test := range tests {
		t.Run(test.in, func(t *testing.T) {
			e, err := NewEndpoint(test.in)
			require.NoError(t, err)
			require.Equal(t, test.expected, e)
			require.Equal(t, test.url, e.URL())
		})
	}

	_, err := NewEndpoint("localhost")
	require.Error(t, err)
	_, err = NewEndpoint("localhost:99999")
	require.Error(t, err)
}

func TestBackendID(t *testing.T) {
	require.Equal(t, "builder", BackendBuilding.String())
	require.Equal(t, "l2", BackendCanonical.String())
	require.Equal(t, BackendCanonical, BackendBuilding.Other())
	require.Equal(t, BackendBuilding, BackendCanonical.Other())
}

func TestExecutionPayloadEnvelopeBlockHash(t *testing.T) {
	var env *ExecutionPayloadEnvelopeV3
	require.Equal(t, "0x0000000000000000000000000000000000000000000000000000000000000000", env.BlockHash().String())

	env = &ExecutionPayloadEnvelopeV3{ExecutionPayload: TestExecutableData("0xaa")}
	require.Equal(t, TestExecutableData("0xaa").BlockHash, env.BlockHash())
}
