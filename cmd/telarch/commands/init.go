package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/telarch/telarch/internal/cli/prompt"
	"github.com/telarch/telarch/pkg/config"
)

var (
	initForce       bool
	initInteractive bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a configuration file",
	Long: `Initialize a telarch configuration file.

By default a commented sample is written to $XDG_CONFIG_HOME/telarch/config.yaml.
Use --config for a custom path, --interactive to be prompted for the
essential settings, and --force to overwrite an existing file.

Examples:
  telarch init
  telarch init --interactive
  telarch init --config /etc/telarch/config.yaml --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
	initCmd.Flags().BoolVarP(&initInteractive, "interactive", "i", false, "Prompt for the essential settings")
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := GetConfigFile()
	if configPath == "" {
		configPath = config.GetDefaultConfigPath()
	}

	var err error
	if initInteractive {
		err = initInteractively(configPath)
	} else {
		err = config.InitConfigToPath(configPath, initForce)
	}
	if err != nil {
		if prompt.IsAborted(err) {
			fmt.Println("Aborted.")
			return nil
		}
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file to complete your setup")
	fmt.Println("  2. Run the bot with: telarch bot")
	fmt.Println("  3. Run the large-file worker with: telarch worker")
	return nil
}

// initInteractively walks through the settings a first deployment always
// needs; everything else keeps its default.
func initInteractively(configPath string) error {
	cfg := config.GetDefaultConfig()

	token, err := prompt.Input("Bot token (from @BotFather)", "")
	if err != nil {
		return err
	}
	cfg.Bot.Token = token

	userID, err := prompt.InputInt("Your Telegram user id (whitelist)", 0)
	if err != nil {
		return err
	}
	if userID != 0 {
		cfg.Bot.Whitelist = []int64{int64(userID)}
	}

	endpoint, err := prompt.Input("S3 endpoint (empty for AWS)", "")
	if err != nil {
		return err
	}
	cfg.S3.Endpoint = endpoint
	cfg.S3.ForcePathStyle = endpoint != ""

	bucket, err := prompt.Input("S3 bucket", cfg.S3.Bucket)
	if err != nil {
		return err
	}
	cfg.S3.Bucket = bucket

	accessKey, err := prompt.Input("S3 access key id", "")
	if err != nil {
		return err
	}
	cfg.S3.AccessKeyID = accessKey

	secretKey, err := prompt.Password("S3 secret access key")
	if err != nil {
		return err
	}
	cfg.S3.SecretAccessKey = secretKey

	host, err := prompt.Input("AMQP host", cfg.Queue.Host)
	if err != nil {
		return err
	}
	cfg.Queue.Host = host

	if !initForce && configPathExists(configPath) {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", configPath)
	}
	return config.SaveConfig(cfg, configPath)
}

func configPathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
