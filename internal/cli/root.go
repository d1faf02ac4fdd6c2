package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/beeunity/beeunity/client/pkg/logger"
)

type options struct {
	agent    string
	token    string
	json     bool
	logLevel string
	client   *Client
}

// defaultAgent returns the agent URL, checking BEEUNITY_AGENT first.
func defaultAgent() string {
	if s := os.Getenv("BEEUNITY_AGENT"); s != "" {
		return s
	}
	return "http://127.0.0.1:8765"
}

// NewRootCmd creates the beeunity command tree.
func NewRootCmd() *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:   "beeunity",
		Short: "BeeUnity command line client",
		Long:  "beeunity signs in through the local BeeUnity agent and reads hive and ward data.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.Init(o.logLevel)
			o.client = NewClient(o.agent, o.token)
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&o.agent, "agent", defaultAgent(), "agent URL (or BEEUNITY_AGENT env)")
	root.PersistentFlags().StringVar(&o.token, "token", os.Getenv("AGENT_TOKEN"), "agent bearer token (or AGENT_TOKEN env)")
	root.PersistentFlags().BoolVar(&o.json, "json", false, "print raw JSON")
	root.PersistentFlags().StringVar(&o.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	root.AddCommand(
		newLoginCmd(o),
		newStatusCmd(o),
		newLogoutCmd(o),
		newRefreshCmd(o),
		newHivesCmd(o),
		newWardsCmd(o),
		newOverviewCmd(o),
	)
	return root
}

func printJSON(w io.Writer, raw json.RawMessage) error {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		_, err = fmt.Fprintln(w, string(raw))
		return err
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
