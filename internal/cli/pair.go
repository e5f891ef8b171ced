package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/satriahrh/cprlink/domain/entities"
)

// PairOptions holds flags for the pair commands.
type PairOptions struct {
	*RootOptions
	Phone string
}

// NewPairCommand creates the pair command and its role subcommands.
func NewPairCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PairOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "pair",
		Short: "Pair this device as caregiver or family",
	}

	caregiver := &cobra.Command{
		Use:   "caregiver",
		Short: "Pair as the caregiver and print a pairing code for the family",
		Long: `Pair as the caregiver. A fresh 6-digit pairing code is generated and
printed; enter it on the family phone with "cprlink pair family <code>".

Example:
  cprlink pair caregiver --phone 0912345678`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return pairCaregiver(opts, cmd)
		},
	}
	caregiver.Flags().StringVar(&opts.Phone, "phone", "", "caregiver phone number the family can call back")
	_ = caregiver.MarkFlagRequired("phone")

	family := &cobra.Command{
		Use:   "family <pairing-code>",
		Short: "Pair as family using the caregiver's pairing code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return pairFamily(opts, args[0], cmd)
		},
	}

	cmd.AddCommand(caregiver, family)
	return cmd
}

func pairCaregiver(opts *PairOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	rt, err := newDeviceRuntime(ctx, opts.Config, entities.RoleCaregiver, out)
	if err != nil {
		return err
	}
	defer rt.Close()

	if session, ok, err := rt.pairing.Resume(ctx); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("%w: already paired with %s", entities.ErrInvalidTransition, session.PairingCode)
	}

	if _, err := rt.pairing.ChooseRole(ctx, entities.RoleCaregiver); err != nil {
		return err
	}
	if err := rt.pairing.SetCaregiverPhone(opts.Phone); err != nil {
		return err
	}
	session, err := rt.pairing.Confirm(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Pairing code: %s\n", session.PairingCode)
	fmt.Fprintln(out, "Enter this code on the family phone.")
	return nil
}

func pairFamily(opts *PairOptions, code string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	rt, err := newDeviceRuntime(ctx, opts.Config, entities.RoleFamily, out)
	if err != nil {
		return err
	}
	defer rt.Close()

	if session, ok, err := rt.pairing.Resume(ctx); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("%w: already paired with %s", entities.ErrInvalidTransition, session.PairingCode)
	}

	if _, err := rt.pairing.ChooseRole(ctx, entities.RoleFamily); err != nil {
		return err
	}
	if err := rt.pairing.EnterCode(code); err != nil {
		return err
	}
	session, err := rt.pairing.Confirm(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Paired with caregiver %s\n", session.PairingCode)
	if rt.config.Push.AllowNotifications {
		fmt.Fprintln(out, "Notifications enabled.")
	} else {
		fmt.Fprintln(out, "Notifications denied; alerts arrive only while \"cprlink watch\" runs.")
	}
	return nil
}
