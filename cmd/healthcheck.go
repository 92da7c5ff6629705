package cmd

import (
	"bufio"
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"

	"sandboxexec/protocol"
)

var healthcheckSocket string

var healthcheckCmd = &cobra.Command{
	Use:   "healthcheck",
	Short: "Probe a running sandboxexec instance over its Unix socket",
	Long: `healthcheck connects to a sandboxexec server's Unix domain socket,
sends a HealthCheck message, and prints the response. It exits non-zero
when the server reports itself unhealthy or does not respond in time.`,
	Args: cobra.NoArgs,
	RunE: runHealthcheck,
}

func init() {
	healthcheckCmd.Flags().StringVar(&healthcheckSocket, "socket", "", "Unix domain socket path to probe")
	_ = healthcheckCmd.MarkFlagRequired("socket")
	rootCmd.AddCommand(healthcheckCmd)
}

func runHealthcheck(cmd *cobra.Command, args []string) error {
	conn, err := net.DialTimeout("unix", healthcheckSocket, 5*time.Second)
	if err != nil {
		return fmt.Errorf("healthcheck: dial: %w", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	msg, err := protocol.NewMessage(protocol.TypeHealthCheck, struct{}{})
	if err != nil {
		return err
	}
	line, err := protocol.EncodeLine(msg)
	if err != nil {
		return err
	}
	if _, err := conn.Write(line); err != nil {
		return fmt.Errorf("healthcheck: write: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), protocol.MaxMessageSize+1)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("healthcheck: read: %w", err)
		}
		return fmt.Errorf("healthcheck: no response")
	}

	reply, err := protocol.DecodeLine(scanner.Bytes())
	if err != nil {
		return fmt.Errorf("healthcheck: decode: %w", err)
	}
	var payload protocol.HealthCheckPayload
	if err := reply.Decode(&payload); err != nil {
		return fmt.Errorf("healthcheck: decode payload: %w", err)
	}

	fmt.Printf("status: %s\n", payload.Status)
	for _, check := range payload.Checks {
		fmt.Printf("  %s: %s %s\n", check.Name, check.Status, check.Message)
	}

	if payload.Status == protocol.HealthUnhealthy {
		return fmt.Errorf("healthcheck: server reports unhealthy")
	}
	return nil
}
