package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/solatis/tracenotify/internal/action"
	"github.com/solatis/tracenotify/internal/condition"
	"github.com/solatis/tracenotify/internal/eventexpr"
	"github.com/solatis/tracenotify/internal/eventrule"
	"github.com/solatis/tracenotify/internal/types"
)

// conditionFlags registers the flags describing a condition on cmd.
func conditionFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("condition", "", "condition type (buffer-usage-high, buffer-usage-low, session-consumed-size, "+
		"session-rotation-ongoing, session-rotation-completed, event-rule-hit)")
	f.String("session", "", "session name")
	f.String("channel", "", "channel name (buffer usage)")
	f.String("domain", "ust", "tracing domain (kernel, ust, jul, log4j, python)")
	f.Uint64("threshold-bytes", 0, "threshold in bytes (buffer usage, consumed size)")
	f.Float64("threshold-ratio", 0, "threshold as a ratio of the buffer capacity (buffer usage)")
	f.String("rule", "tracepoint", "event rule type (tracepoint, syscall)")
	f.String("pattern", "", "event name pattern (event rule hit)")
	f.String("filter", "", "filter expression (event rule hit)")
	f.StringSlice("capture", nil, "field to capture on hit, repeatable (event rule hit)")
}

func conditionFromFlags(cmd *cobra.Command) (condition.Condition, error) {
	f := cmd.Flags()
	kind, _ := f.GetString("condition")
	session, _ := f.GetString("session")

	switch kind {
	case "buffer-usage-high", "buffer-usage-low":
		c := condition.NewBufferUsageHigh()
		if kind == "buffer-usage-low" {
			c = condition.NewBufferUsageLow()
		}
		channel, _ := f.GetString("channel")
		domain, err := domainFromFlags(cmd)
		if err != nil {
			return nil, err
		}
		if err := c.SetSessionName(session); err != nil {
			return nil, err
		}
		if err := c.SetChannelName(channel); err != nil {
			return nil, err
		}
		if err := c.SetDomain(domain); err != nil {
			return nil, err
		}
		switch {
		case f.Changed("threshold-ratio"):
			ratio, _ := f.GetFloat64("threshold-ratio")
			err = c.SetThresholdRatio(ratio)
		default:
			bytes, _ := f.GetUint64("threshold-bytes")
			err = c.SetThresholdBytes(bytes)
		}
		return c, err

	case "session-consumed-size":
		c := condition.NewSessionConsumedSize()
		if err := c.SetSessionName(session); err != nil {
			return nil, err
		}
		bytes, _ := f.GetUint64("threshold-bytes")
		return c, c.SetThreshold(bytes)

	case "session-rotation-ongoing", "session-rotation-completed":
		c := condition.NewSessionRotationOngoing()
		if kind == "session-rotation-completed" {
			c = condition.NewSessionRotationCompleted()
		}
		return c, c.SetSessionName(session)

	case "event-rule-hit":
		rule, err := ruleFromFlags(cmd)
		if err != nil {
			return nil, err
		}
		c := condition.NewEventRuleHit(rule)
		captures, _ := f.GetStringSlice("capture")
		for _, s := range captures {
			e, err := eventexpr.Parse(s)
			if err != nil {
				return nil, fmt.Errorf("--capture %q: %w", s, err)
			}
			if err := c.AppendCapture(e); err != nil {
				return nil, err
			}
		}
		return c, nil

	case "":
		return nil, fmt.Errorf("--condition is required")
	default:
		return nil, fmt.Errorf("unknown condition %q", kind)
	}
}

func domainFromFlags(cmd *cobra.Command) (types.DomainType, error) {
	s, _ := cmd.Flags().GetString("domain")
	d, err := types.ParseDomain(s)
	if err != nil {
		return d, fmt.Errorf("--domain %q: %w", s, err)
	}
	return d, nil
}

func ruleFromFlags(cmd *cobra.Command) (eventrule.Rule, error) {
	f := cmd.Flags()
	kind, _ := f.GetString("rule")
	pattern, _ := f.GetString("pattern")
	var filter *string
	if f.Changed("filter") {
		s, _ := f.GetString("filter")
		filter = &s
	}

	switch kind {
	case "tracepoint":
		domain, err := domainFromFlags(cmd)
		if err != nil {
			return nil, err
		}
		return &eventrule.Tracepoint{DomainType: domain, Pattern: pattern, Filter: filter}, nil
	case "syscall":
		return &eventrule.Syscall{Pattern: pattern, Filter: filter}, nil
	default:
		return nil, fmt.Errorf("unknown --rule %q (tracepoint, syscall)", kind)
	}
}

// actionFromFlags builds the trigger action: a single action, or a group
// when --action is repeated.
func actionFromFlags(cmd *cobra.Command) (action.Action, error) {
	names, _ := cmd.Flags().GetStringSlice("action")
	target, _ := cmd.Flags().GetString("action-session")
	if target == "" {
		target, _ = cmd.Flags().GetString("session")
	}

	actions := make([]action.Action, 0, len(names))
	for _, name := range names {
		switch name {
		case "notify":
			actions = append(actions, &action.Notify{})
		case "start-session":
			actions = append(actions, &action.StartSession{SessionName: target})
		case "stop-session":
			actions = append(actions, &action.StopSession{SessionName: target})
		case "rotate-session":
			actions = append(actions, &action.RotateSession{SessionName: target})
		case "snapshot-session":
			actions = append(actions, &action.SnapshotSession{SessionName: target})
		default:
			return nil, fmt.Errorf("unknown action %q", name)
		}
	}

	switch len(actions) {
	case 0:
		return &action.Notify{}, nil
	case 1:
		return actions[0], nil
	default:
		g, err := action.NewGroup(actions...)
		if err != nil {
			return nil, err
		}
		return g, nil
	}
}
