package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/solatis/tracenotify/internal/condition"
	"github.com/solatis/tracenotify/internal/evaluation"
	"github.com/solatis/tracenotify/internal/fieldvalue"
	"github.com/solatis/tracenotify/internal/notification"
	"github.com/solatis/tracenotify/internal/types"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Subscribe to a condition and print notifications",
	RunE:  runListen,
}

func init() {
	rootCmd.AddCommand(listenCmd)
	conditionFlags(listenCmd)
	listenCmd.Flags().Int("count", 0, "exit after this many notifications (0 for no limit)")
}

func runListen(cmd *cobra.Command, args []string) error {
	cond, err := conditionFromFlags(cmd)
	if err != nil {
		return err
	}
	if err := condition.Validate(cond); err != nil {
		return err
	}
	limit, _ := cmd.Flags().GetInt("count")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ch, err := notification.Dial(ctx, notification.Endpoint{
		GlobalSocket: cfg.GlobalSocket,
		UserSocket:   cfg.UserSocket,
	})
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		ch.Close()
	}()
	defer ch.Close()

	if err := ch.Subscribe(cond); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	log.WithField("condition", cond.Type().String()).Debug("subscribed")

	for received := 0; limit == 0 || received < limit; {
		n, err := ch.NextNotification()
		switch {
		case errors.Is(err, notification.ErrNotificationsDropped):
			log.Warn("daemon dropped notifications for this client")
			continue
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, types.ErrClosed):
			return fmt.Errorf("daemon closed the notification channel")
		case err != nil:
			return err
		}
		received++
		fmt.Fprintln(os.Stdout, describe(n))
	}
	return nil
}

// describe renders a notification as a single line.
func describe(n *notification.Notification) string {
	var b strings.Builder
	b.WriteString(n.Condition.Type().String())

	switch e := n.Evaluation.(type) {
	case *evaluation.BufferUsage:
		fmt.Fprintf(&b, " use=%d capacity=%d ratio=%.3f", e.Use, e.Capacity, e.UsageRatio())
	case *evaluation.SessionConsumedSize:
		fmt.Fprintf(&b, " consumed=%d", e.Consumed)
	case *evaluation.SessionRotation:
		fmt.Fprintf(&b, " rotation=%d", e.ID)
		if e.Location != nil {
			fmt.Fprintf(&b, " location=%s", e.Location)
		}
	case *evaluation.EventRuleHit:
		fmt.Fprintf(&b, " trigger=%s", e.TriggerName)
		hit, ok := n.Condition.(*condition.EventRuleHit)
		if !ok {
			break
		}
		values, err := e.CapturedValues(hit.Captures())
		if err != nil {
			fmt.Fprintf(&b, " capture_error=%q", err)
			break
		}
		for i, d := range hit.Captures() {
			if values[i] == nil {
				fmt.Fprintf(&b, " %s=<unavailable>", d)
				continue
			}
			fmt.Fprintf(&b, " %s=%v", d, fieldvalue.Native(values[i]))
		}
	}
	return b.String()
}
