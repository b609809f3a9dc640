package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the status of the current generation job",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := newClient(cfg).Status(cmd.Context())
	if err != nil {
		return fmt.Errorf("fetch status: %w", err)
	}
	if jsonOut {
		printJSON(st)
		return nil
	}

	fmt.Printf("Status:   %s\n", st.Status)
	if st.StatusMessage != "" {
		fmt.Printf("Message:  %s\n", st.StatusMessage)
	}
	if st.Error != "" {
		fmt.Printf("Error:    %s\n", st.Error)
	}
	results := "none"
	if st.HasResults {
		results = "available"
		if st.Timestamp != "" {
			results += " (" + st.Timestamp + ")"
		}
	}
	fmt.Printf("Results:  %s\n", results)
	return nil
}
