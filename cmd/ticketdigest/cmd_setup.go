package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/user/ticketdigest/internal/config"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println("ticketdigest setup")
		fmt.Println("Press Enter to accept the default value shown in brackets.")
		fmt.Println()

		cfg.GLPI.URL = ask(scanner, "GLPI API URL (…/apirest.php)", cfg.GLPI.URL)
		cfg.GLPI.AppToken = ask(scanner, "GLPI app token", cfg.GLPI.AppToken)
		cfg.GLPI.UserToken = ask(scanner, "GLPI user token", cfg.GLPI.UserToken)

		cfg.LLM.BaseURL = ask(scanner, "LLM base URL", cfg.LLM.BaseURL)
		cfg.LLM.APIKey = ask(scanner, "LLM API key", cfg.LLM.APIKey)
		cfg.LLM.Model = ask(scanner, "Completion model", cfg.LLM.Model)
		cfg.LLM.EmbeddingModel = ask(scanner, "Embedding model", cfg.LLM.EmbeddingModel)

		cfg.Storage.Backend = ask(scanner, "Storage backend (fs, s3, wasabi, gcs)", cfg.Storage.Backend)
		switch strings.ToLower(cfg.Storage.Backend) {
		case "s3", "wasabi":
			cfg.Storage.Bucket = ask(scanner, "Bucket", cfg.Storage.Bucket)
			cfg.Storage.S3.Endpoint = ask(scanner, "S3 endpoint (empty for AWS)", cfg.Storage.S3.Endpoint)
			cfg.Storage.S3.Region = ask(scanner, "S3 region", cfg.Storage.S3.Region)
			cfg.Storage.S3.AccessKeyID = ask(scanner, "Access key", cfg.Storage.S3.AccessKeyID)
			cfg.Storage.S3.SecretAccessKey = ask(scanner, "Secret key", cfg.Storage.S3.SecretAccessKey)
		case "gcs":
			cfg.Storage.Bucket = ask(scanner, "Bucket", cfg.Storage.Bucket)
			cfg.Storage.GCS.CredentialsFile = ask(scanner, "Service account file (optional)", cfg.Storage.GCS.CredentialsFile)
		default:
			cfg.Storage.FS.Root = ask(scanner, "Report directory (empty for data dir)", cfg.Storage.FS.Root)
		}

		cfg.Alerts.TelegramToken = ask(scanner, "Telegram bot token for alerts (optional)", cfg.Alerts.TelegramToken)

		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Println()
		fmt.Println("Configuration saved to", cfgPath)
		if err := cfg.Validate(); err != nil {
			fmt.Println("Still missing:", err)
		}
		return nil
	},
}

// ask displays a labeled prompt with a default value and reads user input.
// If the user enters nothing, the default is returned.
func ask(scanner *bufio.Scanner, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("%s: ", label)
	}
	if scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input != "" {
			return input
		}
	}
	return defaultVal
}
