package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/debugengine/internal/debug"
	"github.com/dshills/debugengine/internal/debug/adapters"
)

func TestConfigurationFromAdapterCommand(t *testing.T) {
	so := &sessionOptions{
		adapter: `node "/opt/js debug/dapDebugServer.js" --stdio`,
		args:    `{"stopOnEntry":true}`,
		framing: "line",
	}

	cfg, err := so.configuration(debug.RequestLaunch, []string{"app.js", "--port", "80"}, adapters.NewRegistry())
	require.NoError(t, err)

	assert.Equal(t, "node", cfg.Type)
	assert.Equal(t, "node launch", cfg.Name)
	assert.Equal(t, debug.RequestLaunch, cfg.Request)
	assert.Equal(t, adapters.Descriptor{
		Kind:    adapters.KindExecutable,
		Command: "node",
		Args:    []string{"/opt/js debug/dapDebugServer.js", "--stdio"},
		Framing: "line",
	}, cfg.Adapter)
	assert.JSONEq(t, `{"stopOnEntry":true,"program":"app.js","args":["--port","80"]}`, string(cfg.Arguments))
}

func TestConfigurationFromRegistry(t *testing.T) {
	so := &sessionOptions{}

	cfg, err := so.configuration(debug.RequestLaunch, []string{"main.go"}, adapters.NewRegistry())
	require.NoError(t, err)
	assert.Equal(t, "go", cfg.Type)
	assert.Equal(t, "dlv", cfg.Adapter.Command)
	assert.Equal(t, []string{"dap"}, cfg.Adapter.Args)
}

func TestConfigurationConnect(t *testing.T) {
	so := &sessionOptions{debugType: "go", connect: "localhost:4711", name: "remote"}

	cfg, err := so.configuration(debug.RequestAttach, nil, adapters.NewRegistry())
	require.NoError(t, err)
	assert.Equal(t, "remote", cfg.Name)
	assert.Equal(t, adapters.Descriptor{Kind: adapters.KindServer, Host: "localhost", Port: 4711}, cfg.Adapter)
	assert.JSONEq(t, `{}`, string(cfg.Arguments))
}

func TestConfigurationWebSocket(t *testing.T) {
	so := &sessionOptions{debugType: "node", wsURL: "ws://127.0.0.1:9229/dap"}

	cfg, err := so.configuration(debug.RequestAttach, nil, adapters.NewRegistry())
	require.NoError(t, err)
	assert.Equal(t, adapters.KindWebSocket, cfg.Adapter.Kind)
	assert.Equal(t, "ws://127.0.0.1:9229/dap", cfg.Adapter.URL)
}

func TestConfigurationErrors(t *testing.T) {
	registry := adapters.NewRegistry()
	tests := []struct {
		name string
		so   sessionOptions
		args []string
	}{
		{"undetectable type", sessionOptions{}, []string{"program.bin"}},
		{"unregistered type", sessionOptions{debugType: "cobol"}, nil},
		{"two adapters", sessionOptions{debugType: "go", adapter: "dlv dap", connect: ":1"}, nil},
		{"bad quoting", sessionOptions{debugType: "go", adapter: `dlv "dap`}, nil},
		{"bad connect", sessionOptions{debugType: "go", connect: "nohost"}, nil},
		{"bad port", sessionOptions{debugType: "go", connect: "host:http"}, nil},
		{"bad framing", sessionOptions{debugType: "go", framing: "xml"}, nil},
		{"args not an object", sessionOptions{debugType: "go", args: `[1]`}, nil},
		{"args invalid", sessionOptions{debugType: "go", args: `{`}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.so.configuration(debug.RequestLaunch, tt.args, registry)
			assert.Error(t, err)
		})
	}
}

func TestParseLocation(t *testing.T) {
	file, line, err := parseLocation("src/app.js:12")
	require.NoError(t, err)
	assert.Equal(t, "src/app.js", file)
	assert.Equal(t, 12, line)

	file, line, err = parseLocation(`C:\src\main.go:7`)
	require.NoError(t, err)
	assert.Equal(t, `C:\src\main.go`, file)
	assert.Equal(t, 7, line)

	for _, bad := range []string{"app.js", "app.js:", ":3", "app.js:x", "app.js:0"} {
		_, _, err := parseLocation(bad)
		assert.Error(t, err, bad)
	}
}
