package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/wolfman30/schedule-notify/cmd/mainconfig"
	"github.com/wolfman30/schedule-notify/internal/app/bootstrap"
	"github.com/wolfman30/schedule-notify/internal/calendar"
	appconfig "github.com/wolfman30/schedule-notify/internal/config"
	"github.com/wolfman30/schedule-notify/internal/extract"
	"github.com/wolfman30/schedule-notify/internal/settings"
	"github.com/wolfman30/schedule-notify/pkg/logging"
)

// opener connects the services a command needs.
type opener func(ctx context.Context) (*bootstrap.Runtime, error)

func main() {
	if err := rootCmd(openRuntime).Execute(); err != nil {
		os.Exit(1)
	}
}

func openRuntime(ctx context.Context) (*bootstrap.Runtime, error) {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return bootstrap.Open(ctx, cfg, logger, &awsCfg, prometheus.NewRegistry())
}

func rootCmd(open opener) *cobra.Command {
	root := &cobra.Command{
		Use:          "schedctl",
		Short:        "Operate the appointment notification scheduler",
		SilenceUsage: true,
	}
	root.AddCommand(calendarCmd())
	root.AddCommand(tickCmd(open))
	root.AddCommand(manualCmd(open))
	root.AddCommand(extractsCmd(open))
	root.AddCommand(resendCmd(open))
	root.AddCommand(cronCmd(open))
	root.AddCommand(messagesCmd(open))
	root.AddCommand(cancelReasonsCmd(open))
	root.AddCommand(archiveCmd(open))
	return root
}

func calendarCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calendar <YYYY-MM-DD>",
		Short: "Show weekend/holiday status and the next business-day range",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tz, _ := cmd.Flags().GetString("timezone")
			loc, err := time.LoadLocation(tz)
			if err != nil {
				return fmt.Errorf("invalid timezone: %w", err)
			}
			day, err := time.ParseInLocation("2006-01-02", args[0], loc)
			if err != nil {
				return fmt.Errorf("date must be YYYY-MM-DD: %w", err)
			}
			start, end := calendar.NextNonHolidayRange(day)
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"date":             day.Format("2006-01-02"),
				"weekday":          day.Weekday().String(),
				"weekendOrHoliday": calendar.IsWeekendOrHoliday(day),
				"holiday":          calendar.HolidayName(day),
				"nextRangeStart":   start,
				"nextRangeEnd":     end,
			})
		},
	}
	cmd.Flags().String("timezone", "America/Sao_Paulo", "IANA timezone of the date")
	return cmd
}

func tickCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Evaluate every active send setting once",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()
			return printJSON(cmd.OutOrStdout(), rt.Ticker.Tick(cmd.Context()))
		},
	}
}

func manualCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manual",
		Short: "Start a manual extraction over an explicit range",
		RunE: func(cmd *cobra.Command, args []string) error {
			settingID, err := uuidFlag(cmd, "setting")
			if err != nil {
				return err
			}
			sendType, _ := cmd.Flags().GetString("send-type")
			start, err := timeFlag(cmd, "start")
			if err != nil {
				return err
			}
			end, err := timeFlag(cmd, "end")
			if err != nil {
				return err
			}

			rt, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			setting, err := rt.Settings.Get(cmd.Context(), settingID)
			if err != nil {
				return err
			}
			ts, err := typeSettingFor(setting, settings.SendType(sendType))
			if err != nil {
				return err
			}
			outcome, err := rt.Engine.RunNextExtract(cmd.Context(), extract.Request{
				Setting:      *setting,
				TypeSetting:  ts,
				RuleOverride: settings.RuleManual,
				StartDate:    start,
				EndDate:      end,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), outcome)
		},
	}
	cmd.Flags().String("setting", "", "schedule setting id")
	cmd.Flags().String("send-type", "", "send type to extract")
	cmd.Flags().String("start", "", "range start (RFC3339)")
	cmd.Flags().String("end", "", "range end (RFC3339)")
	_ = cmd.MarkFlagRequired("setting")
	_ = cmd.MarkFlagRequired("send-type")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func extractsCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extracts",
		Short: "List recent extraction runs of a setting",
		RunE: func(cmd *cobra.Command, args []string) error {
			settingID, err := uuidFlag(cmd, "setting")
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt("limit")

			rt, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			list, err := rt.Ledger.ListBySetting(cmd.Context(), settingID, limit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), list)
		},
	}
	cmd.Flags().String("setting", "", "schedule setting id")
	cmd.Flags().Int("limit", 20, "maximum rows")
	_ = cmd.MarkFlagRequired("setting")
	return cmd
}

func resendCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "resend <message-uuid>",
		Short: "Re-send a schedule message whose conversation was closed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid message uuid: %w", err)
			}
			rt, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.Dispatcher.ResendOpenConversation(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "resend queued for %s\n", id)
			return nil
		},
	}
}

func cronCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Run a delivery cron once",
	}
	run := func(name string, job func(*bootstrap.Runtime) func(context.Context) (int, error)) *cobra.Command {
		return &cobra.Command{
			Use:   name,
			Short: "Run the " + name + " cron once",
			RunE: func(cmd *cobra.Command, args []string) error {
				rt, err := open(cmd.Context())
				if err != nil {
					return err
				}
				defer rt.Close()

				n, err := job(rt)(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d\n", name, n)
				return nil
			},
		}
	}
	cmd.AddCommand(run("not-answered", func(rt *bootstrap.Runtime) func(context.Context) (int, error) {
		return rt.Dispatcher.RunNotAnswered
	}))
	cmd.AddCommand(run("integration-retry", func(rt *bootstrap.Runtime) func(context.Context) (int, error) {
		return rt.Dispatcher.RunIntegrationRetry
	}))
	return cmd
}

func messagesCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "messages <schedule-id>",
		Short: "List the messages created for a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid schedule id: %w", err)
			}
			rt, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			list, err := rt.Messages.ListBySchedule(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), list)
		},
	}
}

func cancelReasonsCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel-reasons <workspace-id>",
		Short: "List the cancellation reasons of a workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			list, err := rt.Settings.ListCancelReasons(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), list)
		},
	}
}

func archiveCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "archive <s3-key>",
		Short: "Print an archived extraction payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			payload, err := rt.Archive.LoadExtract(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), payload)
		},
	}
}

func typeSettingFor(setting *settings.ScheduleSetting, sendType settings.SendType) (settings.TypeSetting, error) {
	for _, ts := range setting.TypeSettings {
		if ts.SendType == sendType {
			return ts, nil
		}
	}
	return settings.TypeSetting{}, fmt.Errorf("send type %q not configured for setting %s", sendType, setting.ID)
}

func uuidFlag(cmd *cobra.Command, name string) (uuid.UUID, error) {
	raw, _ := cmd.Flags().GetString(name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid --%s: %w", name, err)
	}
	return id, nil
}

func timeFlag(cmd *cobra.Command, name string) (time.Time, error) {
	raw, _ := cmd.Flags().GetString(name)
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s: %w", name, err)
	}
	return t, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
