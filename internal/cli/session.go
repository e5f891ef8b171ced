package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/satriahrh/cprlink/domain/entities"
)

// NewUnpairCommand creates the unpair command.
func NewUnpairCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "unpair",
		Short: "Forget the pairing on this device",
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
			if err := rt.pairing.Unpair(ctx); err != nil {
				return err
			}
			fmt.Fprintf(out, "Unpaired from %s\n", session.PairingCode)
			return nil
		},
	}
}

// NewStatusCommand creates the status command.
func NewStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show this device's pairing and the shared alert state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			rt, err := newDeviceRuntime(ctx, opts.Config, "", out)
			if errors.Is(err, entities.ErrNotPaired) {
				fmt.Fprintln(out, "Not paired.")
				return nil
			}
			if err != nil {
				return err
			}
			defer rt.Close()

			session, err := rt.resume(ctx)
			if errors.Is(err, entities.ErrNotPaired) {
				fmt.Fprintln(out, "Not paired.")
				return nil
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "Role:          %s\n", session.Role)
			fmt.Fprintf(out, "Pairing code:  %s\n", session.PairingCode)
			if session.CaregiverPhone != "" {
				fmt.Fprintf(out, "Phone:         %s\n", session.CaregiverPhone)
			}

			doc, err := rt.store.GetDocument(ctx, session.PairingCode)
			if errors.Is(err, entities.ErrDocumentNotFound) {
				fmt.Fprintln(out, "Alert status:  (no shared document yet)")
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to read shared document: %w", err)
			}

			fmt.Fprintf(out, "Alert status:  %s\n", doc.Status)
			if doc.IsEmergency() {
				fmt.Fprintf(out, "Location:      %s\n", doc.Location)
				fmt.Fprintf(out, "Call back:     %s\n", doc.CaregiverPhone)
			}
			return nil
		},
	}
}
