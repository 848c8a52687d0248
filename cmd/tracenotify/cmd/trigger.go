package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/solatis/tracenotify/internal/control"
	"github.com/solatis/tracenotify/internal/trigger"
)

var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Manage registered triggers",
}

var triggerAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a trigger",
	RunE:  runTriggerAdd,
}

var triggerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the triggers visible to the caller",
	RunE:  runTriggerList,
}

var triggerRemoveCmd = &cobra.Command{
	Use:   "remove NAME",
	Short: "Unregister a trigger by name",
	Args:  cobra.ExactArgs(1),
	RunE:  runTriggerRemove,
}

func init() {
	rootCmd.AddCommand(triggerCmd)
	triggerCmd.AddCommand(triggerAddCmd, triggerListCmd, triggerRemoveCmd)
	triggerCmd.PersistentFlags().String("control-socket", "", "daemon control socket path")

	conditionFlags(triggerAddCmd)
	triggerAddCmd.Flags().String("name", "", "trigger name (generated when empty)")
	triggerAddCmd.Flags().StringSlice("action", []string{"notify"},
		"action to run, repeatable (notify, start-session, stop-session, rotate-session, snapshot-session)")
	triggerAddCmd.Flags().String("action-session", "", "session targeted by session actions (defaults to --session)")
	triggerAddCmd.Flags().String("policy", "every-n", "firing policy (every-n, once-after-n)")
	triggerAddCmd.Flags().Uint64("policy-threshold", 1, "firing policy threshold")
}

func dialControl(cmd *cobra.Command) (*control.Client, error) {
	path, _ := cmd.Flags().GetString("control-socket")
	if path == "" {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		path = cfg.ControlSocket
	}
	return control.Dial(context.Background(), path)
}

func runTriggerAdd(cmd *cobra.Command, args []string) error {
	cond, err := conditionFromFlags(cmd)
	if err != nil {
		return err
	}
	act, err := actionFromFlags(cmd)
	if err != nil {
		return err
	}

	t := trigger.New(cond, act)
	defer t.Put()
	if name, _ := cmd.Flags().GetString("name"); name != "" {
		if err := t.SetName(name); err != nil {
			return err
		}
	}
	policy, _ := cmd.Flags().GetString("policy")
	kind, err := trigger.ParsePolicyKind(policy)
	if err != nil {
		return err
	}
	threshold, _ := cmd.Flags().GetUint64("policy-threshold")
	if err := t.SetFiringPolicy(kind, threshold); err != nil {
		return err
	}

	client, err := dialControl(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	name, err := client.RegisterTrigger(t)
	if err != nil {
		return fmt.Errorf("failed to register trigger: %w", err)
	}
	fmt.Printf("trigger %s registered\n", name)
	return nil
}

func runTriggerList(cmd *cobra.Command, args []string) error {
	client, err := dialControl(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	triggers, err := client.ListTriggers()
	if err != nil {
		return fmt.Errorf("failed to list triggers: %w", err)
	}
	defer triggers.Release()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tCONDITION\tACTION\tPOLICY")
	for i := 0; i < triggers.Len(); i++ {
		t, _ := triggers.At(i)
		name, _ := t.Name()
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name, t.Condition().Type(), t.Action().Type(), t.FiringPolicy())
	}
	return w.Flush()
}

func runTriggerRemove(cmd *cobra.Command, args []string) error {
	client, err := dialControl(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	triggers, err := client.ListTriggers()
	if err != nil {
		return fmt.Errorf("failed to list triggers: %w", err)
	}
	defer triggers.Release()

	for i := 0; i < triggers.Len(); i++ {
		t, _ := triggers.At(i)
		if name, _ := t.Name(); name != args[0] {
			continue
		}
		if err := client.UnregisterTrigger(t); err != nil {
			return fmt.Errorf("failed to unregister trigger %s: %w", args[0], err)
		}
		fmt.Printf("trigger %s removed\n", args[0])
		return nil
	}
	return fmt.Errorf("trigger %s not found", args[0])
}
