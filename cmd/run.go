package cmd

import (
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/claudeswitch/claudeswitch/internal/process"
)

var runCmd = &cobra.Command{
	Use:   "run [args...]",
	Short: "Run the claude client through the proxy",
	Long:  `Start the proxy service if needed and run the claude client with the proxy as its backend.`,
	Args:  cobra.ArbitraryArgs,
	RunE:  runClient,
}

func runClient(cmd *cobra.Command, args []string) error {
	procMgr := process.NewManager(baseDir)
	cfg := cfgMgr.Get()

	serviceStartedByUs, err := procMgr.StartServiceIfNeeded()
	if err != nil {
		return err
	}

	// Strip any real credentials so the client talks only to the proxy.
	env := os.Environ()
	env = filterEnv(env, "ANTHROPIC_AUTH_TOKEN")
	env = filterEnv(env, "ANTHROPIC_API_KEY")

	if cfg.APIKey != "" {
		env = append(env, "ANTHROPIC_API_KEY="+cfg.APIKey)
	} else {
		env = append(env, "ANTHROPIC_AUTH_TOKEN=proxy")
	}

	env = append(env, "ANTHROPIC_BASE_URL=http://"+cfg.Host+":"+strconv.Itoa(cfg.Port))
	env = append(env, "API_TIMEOUT_MS=600000")

	procMgr.IncrementRef()
	defer func() {
		procMgr.DecrementRef()
		if serviceStartedByUs && procMgr.ReadRef() == 0 {
			color.Yellow("No more active sessions, stopping auto-started service...")
			procMgr.Stop()
		}
	}()

	clientCmd := exec.Command("claude", args...)
	clientCmd.Env = env
	clientCmd.Stdin = os.Stdin
	clientCmd.Stdout = os.Stdout
	clientCmd.Stderr = os.Stderr

	return clientCmd.Run()
}

func filterEnv(env []string, key string) []string {
	var filtered []string
	prefix := key + "="
	for _, e := range env {
		if !strings.HasPrefix(e, prefix) {
			filtered = append(filtered, e)
		}
	}
	return filtered
}
