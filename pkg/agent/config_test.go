package agent

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corigine/flower-offload/pkg/flower"
)

func TestParseFlags(t *testing.T) {
	fs := pflag.NewFlagSet("agent", pflag.ContinueOnError)
	config, err := parseFlags(fs, []string{
		"--v=4",
		"--caps=geneve,geneve_opt",
		"--devs=pf0vf1,pf0vf2",
		"--interval=2",
		"--max-flows=1000",
	})
	require.NoError(t, err)

	require.NotNil(t, fs.Lookup("v"), "klog flags are registered")
	assert.Equal(t, "4", fs.Lookup("v").Value.String())
	assert.True(t, config.Capabilities.Has(flower.CapGeneve|flower.CapGeneveOpt))
	assert.Equal(t, []string{"pf0vf1", "pf0vf2"}, config.Devs)
	assert.Equal(t, 2*time.Second, config.SyncInterval)
	assert.Equal(t, 15*time.Second, config.ExportInterval)
	assert.Equal(t, 1000, config.TableCapacity)
	assert.Equal(t, "/metrics", config.MetricsPath)
}

func TestParseFlagsErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown capability", []string{"--caps=lag"}},
		{"zero interval", []string{"--interval=0"}},
		{"unknown flag", []string{"--no-such-flag"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := pflag.NewFlagSet("agent", pflag.ContinueOnError)
			_, err := parseFlags(fs, tt.args)
			assert.Error(t, err)
		})
	}
}
