package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fentz26/switchboard/internal/credentials"
)

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Manage worker secrets in the local secret store",
	Long: `Secrets are stored under "<kind>:<identity>", e.g. "jira:DEVOPS". The
identity defaults to "default".`,
}

var secretSetCmd = &cobra.Command{
	Use:   "set <kind> [identity]",
	Short: "Store a secret (read from --value or stdin)",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runSecretSet,
}

var secretDeleteCmd = &cobra.Command{
	Use:   "delete <kind> [identity]",
	Short: "Delete a secret",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runSecretDelete,
}

var secretCheckCmd = &cobra.Command{
	Use:   "check <kind> [identity]",
	Short: "Report whether a secret is stored",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runSecretCheck,
}

var secretValue string

func init() {
	secretCmd.AddCommand(secretSetCmd, secretDeleteCmd, secretCheckCmd)
	secretSetCmd.Flags().StringVar(&secretValue, "value", "", "Secret value (read from stdin when empty)")
}

func secretKey(args []string) string {
	identity := "default"
	if len(args) == 2 && args[1] != "" {
		identity = args[1]
	}
	return args[0] + ":" + identity
}

func openSecrets() (credentials.SecretStore, error) {
	cfg, _, err := loadConfig(false)
	if err != nil {
		return nil, err
	}
	return credentials.NewSecretStore(cfg.Secrets.Backend, cfg.Secrets.Service, cfg.Secrets.File)
}

func runSecretSet(cmd *cobra.Command, args []string) error {
	value := secretValue
	if value == "" {
		fmt.Fprint(os.Stderr, "Secret value: ")
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("reading secret: %w", err)
		}
		value = strings.TrimRight(line, "\r\n")
	}
	if value == "" {
		return errors.New("secret value is empty")
	}

	secrets, err := openSecrets()
	if err != nil {
		return err
	}
	key := secretKey(args)
	if err := secrets.Set(key, value); err != nil {
		return err
	}
	fmt.Printf("Stored %s\n", key)
	return nil
}

func runSecretDelete(cmd *cobra.Command, args []string) error {
	secrets, err := openSecrets()
	if err != nil {
		return err
	}
	key := secretKey(args)
	if err := secrets.Delete(key); err != nil {
		return err
	}
	fmt.Printf("Deleted %s\n", key)
	return nil
}

func runSecretCheck(cmd *cobra.Command, args []string) error {
	secrets, err := openSecrets()
	if err != nil {
		return err
	}
	key := secretKey(args)
	_, err = secrets.Get(key)
	switch {
	case err == nil:
		fmt.Printf("%s %s is stored\n", okStyle.Render("✓"), key)
		return nil
	case errors.Is(err, credentials.ErrSecretNotFound):
		fmt.Printf("%s %s is not stored\n", warnStyle.Render("✗"), key)
		return nil
	default:
		return err
	}
}
