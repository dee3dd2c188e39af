package configuration

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"
)

type localConfiguration struct {
	Version Version `yaml:"version"`
	Log     struct {
		Formatter string `yaml:"formatter,omitempty"`
	} `yaml:"log"`
}

const localConfigYaml = `version: "0.1"
log:
  formatter: "text"
`

func localParser() *Parser {
	return NewParser("registry", []VersionedParseInfo{
		{
			Version: "0.1",
			ParseAs: reflect.TypeOf(localConfiguration{}),
			ConversionFunc: func(c interface{}) (interface{}, error) {
				return c, nil
			},
		},
	})
}

func TestParserSimple(t *testing.T) {
	var config localConfiguration

	err := localParser().Parse([]byte(localConfigYaml), &config)
	require.NoError(t, err)
	require.Equal(t, Version("0.1"), config.Version)
	require.Equal(t, "text", config.Log.Formatter)
}

func TestParserOverwriteField(t *testing.T) {
	var config localConfiguration

	t.Setenv("REGISTRY_LOG_FORMATTER", "json")

	err := localParser().Parse([]byte(localConfigYaml), &config)
	require.NoError(t, err)
	require.Equal(t, "json", config.Log.Formatter)
}

func TestParserUnsupportedVersion(t *testing.T) {
	var config localConfiguration

	err := localParser().Parse([]byte(`version: "42.0"`), &config)
	require.Error(t, err)
}
