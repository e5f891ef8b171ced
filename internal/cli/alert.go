package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/satriahrh/cprlink/domain/entities"
)

var errWrongRole = errors.New("command is not available for this device's role")

// NewAlertCommand creates the alert command.
func NewAlertCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "alert",
		Short: "Start CPR: call emergency services and alert the family",
		Long: `Start CPR on the caregiver phone. The emergency number is dialed first;
the location fix and the shared document update follow in the background and
are waited for before the command exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			rt, err := newDeviceRuntime(ctx, opts.Config, "", out)
			if err != nil {
				return err
			}
			defer rt.Close()

			session, err := rt.resume(ctx)
			if err != nil {
				return err
			}
			if session.Role != entities.RoleCaregiver {
				return fmt.Errorf("%w: alert needs a caregiver device", errWrongRole)
			}

			err = rt.caregiver.RaiseAlert(ctx)
			rt.caregiver.Wait()
			if err != nil {
				return fmt.Errorf("emergency call failed: %w", err)
			}
			fmt.Fprintf(out, "Family alerted on %s\n", session.PairingCode)
			return nil
		},
	}
}

// NewDismissCommand creates the dismiss command.
func NewDismissCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "dismiss",
		Short: "Dismiss the alarm on the family phone and reset the pairing to NORMAL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			rt, err := newDeviceRuntime(ctx, opts.Config, "", out)
			if err != nil {
				return err
			}
			defer rt.Close()

			session, err := rt.resume(ctx)
			if err != nil {
				return err
			}
			if session.Role != entities.RoleFamily {
				return fmt.Errorf("%w: dismiss needs a family device", errWrongRole)
			}

			if err := rt.family.Sync(ctx); err != nil {
				return err
			}
			if err := rt.family.DismissAlert(ctx); err != nil {
				return err
			}
			rt.family.Wait()
			fmt.Fprintln(out, "Alert dismissed.")
			return nil
		},
	}
}
