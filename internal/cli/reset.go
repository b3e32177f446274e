package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vietddude/cloudlink/internal/control"
	"github.com/vietddude/cloudlink/internal/core/domain"
)

var resetCmd = &cobra.Command{
	Use:   "reset [provider] [user]",
	Short: "Clear the failure state of a connection after the user reconnected",
	Args:  cobra.ExactArgs(2),
	Run:   runReset,
}

var refreshCmd = &cobra.Command{
	Use:   "refresh [provider] [user]",
	Short: "Force a token refresh for a connection",
	Args:  cobra.ExactArgs(2),
	Run:   runRefresh,
}

func init() {
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(refreshCmd)
}

func runReset(cmd *cobra.Command, args []string) {
	p, user := domain.Provider(args[0]), args[1]
	withApp(func(ctx context.Context, app *control.App) error {
		if err := app.Engine().ResetConnection(ctx, user, p); err != nil {
			return err
		}
		fmt.Printf("Reset %s connection of %s\n", p, user)
		return nil
	})
}

func runRefresh(cmd *cobra.Command, args []string) {
	p, user := domain.Provider(args[0]), args[1]
	withApp(func(ctx context.Context, app *control.App) error {
		res := app.Engine().RefreshToken(ctx, user, p)
		fmt.Printf("Condition: %s\n", res.Condition)
		if res.Message != "" {
			fmt.Printf("Message:   %s\n", res.Message)
		}
		if !res.ExpiresAt.IsZero() {
			fmt.Printf("Expires:   %s\n", res.ExpiresAt)
		}
		for _, a := range res.RecommendedActions {
			fmt.Printf("  - %s\n", a)
		}
		if !res.Success {
			return fmt.Errorf("refresh %s: %s", res.Condition, res.ErrorType)
		}
		return nil
	})
}
