package log

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChildLoggers(t *testing.T) {
	prev := Logger
	t.Cleanup(func() { Logger = prev })

	tests := []struct {
		name string
		log  func()
		want string
	}{
		{
			name: "component",
			log: func() {
				logger := WithComponent("ansible.runner")
				logger.Info().Msg("running")
			},
			want: `"component":"ansible.runner"`,
		},
		{
			name: "environment",
			log: func() {
				logger := WithEnvironment("alpha")
				logger.Warn().Msg("running")
			},
			want: `"environment":"alpha"`,
		},
		{
			name: "vm",
			log: func() {
				logger := WithVM("alpha-node-3")
				logger.Error().Msg("running")
			},
			want: `"vm":"alpha-node-3"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			Init(Config{Level: InfoLevel, JSONOutput: true, Output: &buf})

			tt.log()
			assert.Contains(t, buf.String(), tt.want)
			assert.Contains(t, buf.String(), `"message":"running"`)
		})
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DebugLevel, ParseLevel("debug"))
	assert.Equal(t, InfoLevel, ParseLevel("verbose"))
}
