package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/satriahrh/cprlink/adapters/push"
	"github.com/satriahrh/cprlink/domain/entities"
	"github.com/satriahrh/cprlink/domain/repositories"
)

// NewWatchCommand creates the watch command.
func NewWatchCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Keep the family phone listening for alerts until interrupted",
		Long: `Keep the family phone subscribed to the shared document and print every
alert transition. When an MQTT broker is configured under push.mqtt, wake-up
notifications addressed to push.token are handled as well.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return watch(ctx, opts, cmd.OutOrStdout())
		},
	}
}

func watch(ctx context.Context, opts *RootOptions, out io.Writer) error {
	rt, err := newDeviceRuntime(ctx, opts.Config, "", out)
	if err != nil {
		return err
	}
	defer rt.Close()

	rt.family.OnChange(func(view entities.AlertViewState) {
		if view.IsAlertActive {
			return
		}
		fmt.Fprintln(out, "✅ All clear")
	})

	session, err := rt.resume(ctx)
	if err != nil {
		return err
	}
	if session.Role != entities.RoleFamily {
		return fmt.Errorf("%w: watch needs a family device", errWrongRole)
	}

	fmt.Fprintf(out, "Watching pairing %s, press Ctrl+C to stop\n", session.PairingCode)

	mqttCfg := rt.config.Push.MQTT
	if mqttCfg.Broker != "" && rt.config.Push.Token != "" {
		if mqttCfg.ClientID == "" {
			mqttCfg.ClientID = "cprlink-" + rt.config.Push.Token
		}
		client, err := push.NewMQTTClient(mqttCfg, rt.logger)
		if err != nil {
			rt.logger.Warn("Wake-up notifications unavailable", zap.Error(err))
		} else {
			defer client.Disconnect()
			listener := push.NewMQTTWakeListener(client, mqttCfg.TopicPrefix, rt.config.Push.Token, rt.logger)
			if err := listener.Start(ctx, func(ctx context.Context, n repositories.PushNotification) {
				if err := rt.family.HandlePushNotification(ctx, n); err != nil {
					rt.logger.Warn("Failed to handle wake-up notification", zap.Error(err))
				}
			}); err != nil {
				rt.logger.Warn("Failed to subscribe to wake-up notifications", zap.Error(err))
			} else {
				defer listener.Stop()
			}
		}
	}

	<-ctx.Done()
	fmt.Fprintln(out, "Stopped watching.")
	return nil
}
