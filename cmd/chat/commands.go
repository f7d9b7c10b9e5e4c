package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var personasCmd = &cobra.Command{
	Use:   "personas",
	Short: "List the experts",
	Args:  cobra.NoArgs,
	RunE:  runPersonas,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List saved conversations",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

var clearCmd = &cobra.Command{
	Use:   "clear <persona>",
	Short: "Forget the saved conversation with an expert",
	Args:  cobra.ExactArgs(1),
	RunE:  runClear,
}

func runPersonas(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tTITLE\tAVAILABLE")
	_, _ = fmt.Fprintln(w, "--\t----\t-----\t---------")
	for _, p := range e.personas(cmd.Context()) {
		available := "✓"
		if p.Backend == "" {
			available = ""
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.ID, p.DisplayName, p.Title, available)
	}
	return w.Flush()
}

func runHistory(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()

	if e.local == nil {
		return errors.New("history needs the sqlite store")
	}
	summaries, err := e.local.List(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list conversations: %w", err)
	}
	if len(summaries) == 0 {
		fmt.Println("No conversations found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PERSONA\tMESSAGES\tUPDATED")
	_, _ = fmt.Fprintln(w, "-------\t--------\t-------")
	for _, s := range summaries {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\n", s.PersonaID, s.MessageCount, s.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func runClear(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()

	if err := e.store.Clear(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("failed to clear conversation: %w", err)
	}
	fmt.Printf("Conversation with %s cleared.\n", args[0])
	return nil
}
