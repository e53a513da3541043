package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"

	"consilium/internal/config"
	"consilium/internal/scheduler"
	"consilium/internal/store"
)

func runCheck(args []string) error {
	if len(args) == 0 {
		printCheckUsage()
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	switch args[0] {
	case "add":
		return checkAdd(db, parseFlags(args[1:]))
	case "list":
		return checkList(db)
	case "delete":
		return checkDelete(db, parseFlags(args[1:]))
	default:
		printCheckUsage()
		return fmt.Errorf("unknown check command: %s", args[0])
	}
}

func printCheckUsage() {
	fmt.Fprintf(os.Stderr, `Usage: consilium check <command>

Commands:
  add --subject <id> --name <text> --schedule <expr> --types <t1,t2>
      [--params <json>] [--context <json>]
                Add a recurring consultation check. The schedule is a cron
                expression or a JSON schedule document.
  list          List checks
  delete --id <id>   Delete a check
`)
}

func checkAdd(db *store.Store, flags map[string]string) error {
	if flags["subject"] == "" || flags["name"] == "" || flags["schedule"] == "" || flags["types"] == "" {
		return fmt.Errorf("--subject, --name, --schedule, and --types are required")
	}

	normalized, err := scheduler.NormalizeSchedule(flags["schedule"])
	if err != nil {
		return err
	}

	check := &store.Check{
		ID:           uuid.NewString(),
		SubjectID:    flags["subject"],
		Name:         flags["name"],
		Schedule:     normalized,
		RequestTypes: strings.Split(flags["types"], ","),
		NextRun:      scheduler.CalculateNextRun(normalized),
	}
	if raw := flags["params"]; raw != "" {
		if !json.Valid([]byte(raw)) {
			return fmt.Errorf("--params is not valid JSON")
		}
		check.Parameters = json.RawMessage(raw)
	}
	if raw := flags["context"]; raw != "" {
		if !json.Valid([]byte(raw)) {
			return fmt.Errorf("--context is not valid JSON")
		}
		check.Context = json.RawMessage(raw)
	}

	if err := db.SaveCheck(check); err != nil {
		return err
	}
	fmt.Printf("Check created: %s\n", check.ID)
	return nil
}

func checkList(db *store.Store) error {
	checks, err := db.ListChecks()
	if err != nil {
		return err
	}
	if len(checks) == 0 {
		fmt.Println("No checks found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSUBJECT\tNAME\tSCHEDULE\tSTATUS\tNEXT RUN")
	for _, c := range checks {
		nextRun := "-"
		if c.NextRun != nil {
			nextRun = c.NextRun.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			c.ID, c.SubjectID, c.Name, scheduler.FormatSchedule(c.Schedule), c.Status, nextRun)
	}
	return w.Flush()
}

func checkDelete(db *store.Store, flags map[string]string) error {
	if flags["id"] == "" {
		return fmt.Errorf("--id is required")
	}
	if err := db.DeleteCheck(flags["id"]); err != nil {
		return err
	}
	fmt.Println("Check deleted.")
	return nil
}

func parseFlags(args []string) map[string]string {
	result := make(map[string]string)
	for i := 0; i < len(args); i++ {
		if strings.HasPrefix(args[i], "--") && i+1 < len(args) {
			result[args[i][2:]] = args[i+1]
			i++
		}
	}
	return result
}
