package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/micrictor/openport/internal/verify"
)

// testCmd represents the test command
var testCmd = &cobra.Command{
	Use:   "test <port>",
	Short: "Serve a throwaway page on a port to confirm it is reachable",
	Long: `Binds an HTTP (or HTTPS) listener to 0.0.0.0:<port> and serves a page
showing the host and requester details, so a newly opened rule can be
checked from another machine. Stop it with Ctrl+C.`,
	Args: cobra.ExactArgs(1),
	RunE: testMain,
}

func init() {
	rootCmd.AddCommand(testCmd)

	testCmd.Flags().Bool("ssl", false, "Serve HTTPS instead of HTTP")
	testCmd.Flags().String("cert", "cert.pem", "Certificate file for --ssl")
	testCmd.Flags().String("key", "key.pem", "Private key file for --ssl")
}

func testMain(cmd *cobra.Command, args []string) error {
	port, err := strconv.ParseUint(args[0], 10, 16)
	if err != nil || port == 0 {
		return fmt.Errorf("invalid port %q", args[0])
	}

	ssl, _ := cmd.Flags().GetBool("ssl")
	certFile, keyFile := "", ""
	if ssl {
		certFile, _ = cmd.Flags().GetString("cert")
		keyFile, _ = cmd.Flags().GetString("key")
	}
	return verify.Serve(uint16(port), certFile, keyFile)
}
