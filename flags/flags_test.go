package flags

import (
	"testing"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func allFlagSets() map[string][]cli.Flag {
	return map[string][]cli.Flag{
		"run":        Flags,
		"serve":      ServeFlags,
		"run-remote": RemoteFlags,
	}
}

// TestOptionalFlagsDontSetRequired asserts that all flags deemed optional set
// the Required field to false.
func TestOptionalFlagsDontSetRequired(t *testing.T) {
	for _, flag := range optionalFlags {
		reqFlag, ok := flag.(cli.RequiredFlag)
		require.True(t, ok)
		require.False(t, reqFlag.IsRequired())
	}
}

// TestUniqueFlags asserts that all flag names are unique within a command.
func TestUniqueFlags(t *testing.T) {
	for cmd, set := range allFlagSets() {
		seenCLI := make(map[string]struct{})
		for _, flag := range set {
			name := flag.Names()[0]
			if _, ok := seenCLI[name]; ok {
				t.Errorf("duplicate flag %s in %s", name, cmd)
				continue
			}
			seenCLI[name] = struct{}{}
		}
	}
}

func TestEnvVarFormat(t *testing.T) {
	for cmd, set := range allFlagSets() {
		for _, flag := range set {
			flagName := flag.Names()[0]

			t.Run(cmd+"/"+flagName, func(t *testing.T) {
				envFlagGetter, ok := flag.(interface {
					GetEnvVars() []string
				})
				require.True(t, ok, "must be able to cast the flag to an EnvVar interface")
				envFlags := envFlagGetter.GetEnvVars()
				require.Equal(t, 1, len(envFlags), "flags should have exactly one env var")

				expectedEnvVar := opservice.FlagNameToEnvVarName(flagName, EnvVarPrefix)
				require.Equal(t, expectedEnvVar, envFlags[0])
			})
		}
	}
}

func TestCheckRequired(t *testing.T) {
	testCases := []struct {
		name        string
		args        []string
		shouldError bool
	}{
		{"testdir set", []string{"app", "--testdir", "./sanity"}, false},
		{"testdir missing", []string{"app"}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			app := &cli.App{
				Flags: []cli.Flag{TestDir},
				Action: func(ctx *cli.Context) error {
					return CheckRequired(ctx)
				},
			}

			err := app.Run(tc.args)
			if tc.shouldError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestVarsFlag(t *testing.T) {
	app := &cli.App{
		Flags: []cli.Flag{Vars},
		Action: func(ctx *cli.Context) error {
			assert.Equal(t, []string{"SLACK_ALERT=1", "BASE_URL=https://example.com"}, ctx.StringSlice(Vars.Name))
			return nil
		},
	}
	require.NoError(t, app.Run([]string{"app", "--var", "SLACK_ALERT=1", "--var", "BASE_URL=https://example.com"}))
}
