package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/cloudlink/internal/control"
	"github.com/vietddude/cloudlink/internal/core/domain"
)

var liveStatus bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the health of every stored connection",
	Run:   runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&liveStatus, "live", false, "recompute health instead of printing the stored record")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	withApp(func(ctx context.Context, app *control.App) error {
		creds, err := app.Store().ListCredentials(ctx)
		if err != nil {
			return fmt.Errorf("failed to list credentials: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
		_, _ = fmt.Fprintln(w, "PROVIDER\tUSER\tSTATUS\tTOKEN\tFAILURES\tRECONNECT\tCHECKED")

		for _, cred := range creds {
			rec, err := healthOf(ctx, app, cred)
			if err != nil {
				_, _ = fmt.Fprintf(w, "%s\t%s\terror: %v\t\t\t\t\n", cred.Provider, cred.UserID, err)
				continue
			}
			checked := "never"
			if !rec.LastCheckedAt.IsZero() {
				checked = rec.LastCheckedAt.Format(time.RFC3339)
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%t\t%s\n",
				cred.Provider, cred.UserID, rec.Status, rec.TokenStatus,
				rec.ConsecutiveFailures, rec.RequiresReconnection, checked)
		}
		return w.Flush()
	})
}

func healthOf(ctx context.Context, app *control.App, cred *domain.Credential) (*domain.ConnectionHealthRecord, error) {
	if liveStatus {
		return app.Engine().GetHealthStatus(ctx, cred.UserID, cred.Provider)
	}
	rec, err := app.Store().LoadHealth(ctx, cred.UserID, cred.Provider)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.NewHealthRecord(cred.UserID, cred.Provider), nil
	}
	return rec, err
}
