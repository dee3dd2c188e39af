package registry

import (
	"bufio"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v2"

	"github.com/dockerust/dockerust/configuration"
)

// InitConfigCmd is the cobra command that writes a fresh configuration file,
// prompting for the few values that have no sensible default.
var InitConfigCmd = &cobra.Command{
	Use:   "init-config <config>",
	Short: "`init-config` interactively generates a configuration file",
	Long:  "`init-config` interactively generates a configuration file.",
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) != 1 {
			// nolint:errcheck
			cmd.Usage()
			os.Exit(1)
		}
		configurationPath := args[0]

		if _, err := os.Stat(configurationPath); err == nil {
			fmt.Fprintln(os.Stderr, "configuration file already exists")
			os.Exit(1)
		}

		in := bufio.NewReader(os.Stdin)

		rootdirectory, err := requestInput(in, "storage path")
		if err != nil {
			fmt.Fprintf(os.Stderr, "error reading input: %v\n", err)
			os.Exit(1)
		}
		addr, err := requestInput(in, "listen address (ex: 127.0.0.1:5000)")
		if err != nil {
			fmt.Fprintf(os.Stderr, "error reading input: %v\n", err)
			os.Exit(1)
		}
		host, err := requestInput(in, "externally-reachable url (may be empty)")
		if err != nil {
			fmt.Fprintf(os.Stderr, "error reading input: %v\n", err)
			os.Exit(1)
		}

		config := &configuration.Configuration{
			Version: configuration.MajorMinorVersion(0, 1),
			Storage: configuration.Storage{
				"filesystem": configuration.Parameters{
					"rootdirectory": rootdirectory,
				},
			},
		}
		config.Log.Level = "info"
		config.HTTP.Addr = addr
		config.HTTP.Host = host
		config.HTTP.Secret = randomSecret()

		out, err := yaml.Marshal(config)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error marshaling configuration: %v\n", err)
			os.Exit(1)
		}

		if err := os.WriteFile(configurationPath, out, 0o600); err != nil {
			fmt.Fprintf(os.Stderr, "error writing %s: %v\n", configurationPath, err)
			os.Exit(1)
		}

		fmt.Printf("wrote %s\n", configurationPath)
	},
}

// AddUserCmd is the cobra command that appends a bcrypt credential to the
// htpasswd file named by the configuration's auth section.
var AddUserCmd = &cobra.Command{
	Use:   "add-user <config>",
	Short: "`add-user` adds an htpasswd credential for the configured registry",
	Long:  "`add-user` adds an htpasswd credential for the configured registry.",
	Run: func(cmd *cobra.Command, args []string) {
		config, err := resolveConfiguration(args)
		if err != nil {
			fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
			// nolint:errcheck
			cmd.Usage()
			os.Exit(1)
		}

		if config.Auth.Type() != "htpasswd" {
			fmt.Fprintln(os.Stderr, "configuration has no htpasswd auth section")
			os.Exit(1)
		}

		path, ok := config.Auth.Parameters()["path"].(string)
		if !ok || path == "" {
			fmt.Fprintln(os.Stderr, `htpasswd auth requires a "path" parameter`)
			os.Exit(1)
		}

		in := bufio.NewReader(os.Stdin)

		username, err := requestInput(in, "user name")
		if err != nil {
			fmt.Fprintf(os.Stderr, "error reading input: %v\n", err)
			os.Exit(1)
		}
		if username == "" || strings.Contains(username, ":") {
			fmt.Fprintln(os.Stderr, "user name must be non-empty and contain no colon")
			os.Exit(1)
		}
		password, err := requestInput(in, "password")
		if err != nil {
			fmt.Fprintf(os.Stderr, "error reading input: %v\n", err)
			os.Exit(1)
		}

		hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error hashing password: %v\n", err)
			os.Exit(1)
		}

		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error opening %s: %v\n", path, err)
			os.Exit(1)
		}
		defer f.Close()

		if _, err := fmt.Fprintf(f, "%s:%s\n", username, hashed); err != nil {
			fmt.Fprintf(os.Stderr, "error writing %s: %v\n", path, err)
			os.Exit(1)
		}

		fmt.Println("user added")
	},
}

// requestInput prompts on stdout and reads one trimmed line.
func requestInput(in *bufio.Reader, prompt string) (string, error) {
	fmt.Printf("%s: ", prompt)
	line, err := in.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// randomSecret generates an http secret suitable for signing upload state.
func randomSecret() string {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return base64.StdEncoding.EncodeToString(b[:])
}
