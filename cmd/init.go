package cmd

import (
	"bufio"
	"fmt"
	"github.com/NELLExchange/Reifnir/nellebot"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"log"
	"os"
	"strings"
	"syscall"
)

// passwordReader is a function type for reading passwords. It's really only
// here to make testing easier.
type passwordReader func() ([]byte, error)

var customPasswordReader passwordReader

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the database and set admin API credentials",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		if cfg.DatabaseType == "" {
			log.Fatal("Environment variable NB_DATABASE_TYPE not set (must be one of: sqlite, postgres)")
		}
		if cfg.Database == "" {
			log.Fatal(
				"Environment variable NB_DATABASE not set (must be a valid " +
					"database connection string or sqlite file path)",
			)
		}

		bot, err := nellebot.New(cfg)
		if err != nil {
			log.Fatalf("Error creating bot: %v", err)
		}
		// Run database migrations
		if err = bot.InitDatabase(ctx); err != nil {
			log.Fatalf("Error creating database: %v", err)
		}
		defer bot.Close()

		credentialsSet, err := bot.AdminCredentialsSet(ctx)
		if err != nil {
			log.Fatalf("Error retrieving admin credentials: %v", err)
		}

		out := cmd.OutOrStdout()
		if credentialsSet {
			fmt.Fprintln(out, "Admin credentials are already set.")
		} else {
			fmt.Fprintln(out, "Admin credentials are not set. Let's set them up.")

			reader := bufio.NewReader(os.Stdin)

			fmt.Fprint(out, "Enter admin username: ")
			username, _ := reader.ReadString('\n')
			username = strings.TrimSpace(username)

			if customPasswordReader == nil {
				customPasswordReader = func() ([]byte, error) {
					return term.ReadPassword(int(syscall.Stdin))
				}
			}

			var password string
			for {
				fmt.Fprint(out, "Enter admin password: ")
				passwordBytes, e := customPasswordReader()
				if e != nil {
					log.Fatalf("Error reading password: %v", e)
				}
				password = string(passwordBytes)
				fmt.Fprintln(out)

				fmt.Fprint(out, "Confirm admin password: ")
				confirmPasswordBytes, e := customPasswordReader()
				if e != nil {
					log.Fatalf("Error reading password: %v", e)
				}
				confirmPassword := string(confirmPasswordBytes)
				fmt.Fprintln(out)

				if password != "" && password == confirmPassword {
					break
				}
				fmt.Fprintln(out, "Passwords are empty or do not match. Please try again.")
			}

			if err = bot.SetAdminCredentials(ctx, username, password); err != nil {
				log.Fatalf("Error updating admin credentials: %v", err)
			}
			fmt.Fprintln(out, "Admin credentials set successfully.")
		}

		fmt.Fprintln(
			out,
			"Initialization complete. You can now start the bot with the 'run' subcommand.",
		)
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
